package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Speech providers
const (
	ProviderOpenAI  = "openai"
	ProviderService = "service"
	ProviderLocal   = "local"
)

// APIKeyEnv is read when no API key is configured
const APIKeyEnv = "OPENAI_API_KEY"

// Config represents the application configuration
type Config struct {
	// Audio devices
	Audio struct {
		Device       string `yaml:"device"`
		OutputDevice string `yaml:"output_device"`
		SampleRate   uint32 `yaml:"sample_rate"`
		BufferFrames uint32 `yaml:"buffer_frames"`
	} `yaml:"audio"`

	// Speech endpoint detection
	Detector struct {
		Strategy        string  `yaml:"strategy"`
		EnergyThreshold float64 `yaml:"energy_threshold"`
		SilenceFrames   int     `yaml:"silence_frames"`
		SpeechFrames    int     `yaml:"speech_frames"`
		PreRollFrames   int     `yaml:"pre_roll_frames"`
	} `yaml:"detector"`

	// Turn-taking policy
	Turn struct {
		SilenceThreshold  time.Duration `yaml:"silence_threshold"`
		DeafPeriod        time.Duration `yaml:"deaf_period"`
		MinFragmentChars  int           `yaml:"min_fragment_chars"`
		MinSpeechDuration time.Duration `yaml:"min_speech_duration"`
		ChatTimeout       time.Duration `yaml:"chat_timeout"`
		SynthesisTimeout  time.Duration `yaml:"synthesis_timeout"`
		FallbackPhrase    string        `yaml:"fallback_phrase"`
		BargeIn           bool          `yaml:"barge_in"`
		RestartAttempts   int           `yaml:"restart_attempts"`
	} `yaml:"turn"`

	Playback struct {
		FadeDuration   time.Duration `yaml:"fade_duration"`
		BufferDuration time.Duration `yaml:"buffer_duration"`
	} `yaml:"playback"`

	// Chat backend
	AI struct {
		APIKey       string        `yaml:"api_key"`
		BaseURL      string        `yaml:"base_url"`
		ChatModel    string        `yaml:"chat_model"`
		SystemPrompt string        `yaml:"system_prompt"`
		MaxHistory   int           `yaml:"max_history"`
		MaxTokens    int           `yaml:"max_tokens"`
		Temperature  float64       `yaml:"temperature"`
		MaxRetries   int           `yaml:"max_retries"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"ai"`

	// Remote speech synthesis
	Speech struct {
		Provider      string        `yaml:"provider"`
		Model         string        `yaml:"model"`
		FemaleVoice   string        `yaml:"female_voice"`
		MaleVoice     string        `yaml:"male_voice"`
		Speed         float64       `yaml:"speed"`
		ChunkDuration time.Duration `yaml:"chunk_duration"`
		ServiceURL    string        `yaml:"service_url"`
		SampleRate    int           `yaml:"sample_rate"`
	} `yaml:"speech"`

	// On-device synthesis used when the remote voice fails
	LocalTTS struct {
		Enabled     bool   `yaml:"enabled"`
		Binary      string `yaml:"binary"`
		FemaleVoice string `yaml:"female_voice"`
		MaleVoice   string `yaml:"male_voice"`
	} `yaml:"local_tts"`

	Profile struct {
		Name       string            `yaml:"name"`
		Voice      string            `yaml:"voice"`
		Prompt     string            `yaml:"prompt"`
		Attributes map[string]string `yaml:"attributes"`
	} `yaml:"profile"`

	// Model settings
	Models struct {
		Default      string `yaml:"default"`
		Dir          string `yaml:"dir"`
		AutoDownload bool   `yaml:"auto_download"`
	} `yaml:"models"`

	// Transcript output
	Output struct {
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"output"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		File   string `yaml:"file"`
	} `yaml:"log"`

	Server struct {
		Host     string `yaml:"host"`
		GRPCPort int    `yaml:"grpc_port"`
		WSPort   int    `yaml:"ws_port"`
	} `yaml:"server"`

	Hotkey struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"hotkey"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Audio.SampleRate = 16000
	cfg.Audio.BufferFrames = 480

	cfg.Detector.Strategy = "vad"
	cfg.Detector.EnergyThreshold = 0.01
	cfg.Detector.SilenceFrames = 15
	cfg.Detector.SpeechFrames = 3
	cfg.Detector.PreRollFrames = 10

	cfg.Turn.SilenceThreshold = 1200 * time.Millisecond
	cfg.Turn.DeafPeriod = 400 * time.Millisecond
	cfg.Turn.MinFragmentChars = 2
	cfg.Turn.MinSpeechDuration = 250 * time.Millisecond
	cfg.Turn.ChatTimeout = 20 * time.Second
	cfg.Turn.SynthesisTimeout = 15 * time.Second
	cfg.Turn.BargeIn = true
	cfg.Turn.RestartAttempts = 5

	cfg.Playback.FadeDuration = 200 * time.Millisecond
	cfg.Playback.BufferDuration = 2 * time.Second

	cfg.AI.ChatModel = "gpt-4o-mini"
	cfg.AI.MaxHistory = 8
	cfg.AI.MaxTokens = 200
	cfg.AI.Temperature = 0.7
	cfg.AI.MaxRetries = 1
	cfg.AI.Timeout = 15 * time.Second

	cfg.Speech.Provider = ProviderOpenAI
	cfg.Speech.Model = "tts-1"
	cfg.Speech.FemaleVoice = "nova"
	cfg.Speech.MaleVoice = "onyx"
	cfg.Speech.Speed = 1
	cfg.Speech.ChunkDuration = 250 * time.Millisecond
	cfg.Speech.SampleRate = 16000

	cfg.LocalTTS.Enabled = true
	cfg.LocalTTS.Binary = "piper"
	cfg.LocalTTS.FemaleVoice = "en_US-lessac-medium"
	cfg.LocalTTS.MaleVoice = "en_US-ryan-medium"

	cfg.Profile.Voice = "female"

	cfg.Models.Dir = "./models"
	cfg.Models.AutoDownload = true

	cfg.Output.Format = "text"

	cfg.Log.Level = "info"
	cfg.Log.Format = "console"

	cfg.Server.Host = "localhost"
	cfg.Server.GRPCPort = 50051
	cfg.Server.WSPort = 8080

	return cfg
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadWithFallback attempts to load configuration from multiple locations
// Priority: explicit path > ~/.companionrc > /etc/companion/config.yaml
func LoadWithFallback(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}

	for _, path := range searchPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if cfg, err := Load(path); err == nil {
			return cfg, nil
		}
	}

	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg, nil
}

var systemConfigPath = "/etc/companion/config.yaml"

func searchPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".companionrc"))
	}
	return append(paths, systemConfigPath)
}

func (c *Config) applyEnv() {
	if c.AI.APIKey == "" {
		c.AI.APIKey = os.Getenv(APIKeyEnv)
	}
}

// Save saves the configuration to a file. The API key is never written.
func (c *Config) Save(path string) error {
	out := *c
	out.AI.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Detector.Strategy {
	case "", "vad", "continuous":
	default:
		add("detector.strategy %q must be vad or continuous", c.Detector.Strategy)
	}
	if c.Turn.SilenceThreshold <= 0 {
		add("turn.silence_threshold must be positive")
	}
	if c.Turn.DeafPeriod < 0 {
		add("turn.deaf_period must not be negative")
	}
	if c.Turn.RestartAttempts < 1 {
		add("turn.restart_attempts must be at least 1")
	}

	switch strings.ToLower(c.Profile.Voice) {
	case "", "female", "male":
	default:
		add("profile.voice %q must be female or male", c.Profile.Voice)
	}

	switch c.Speech.Provider {
	case ProviderOpenAI:
		if c.AI.APIKey == "" {
			add("ai.api_key (or %s) is required for the %s speech provider", APIKeyEnv, ProviderOpenAI)
		}
	case ProviderService:
		if c.Speech.ServiceURL == "" {
			add("speech.service_url is required for the %s speech provider", ProviderService)
		}
	case ProviderLocal:
		if !c.LocalTTS.Enabled {
			add("local_tts must be enabled for the %s speech provider", ProviderLocal)
		}
	default:
		add("speech.provider %q must be openai, service or local", c.Speech.Provider)
	}

	switch c.Output.Format {
	case "", "text", "json":
	default:
		add("output.format %q must be text or json", c.Output.Format)
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		add("log.format %q must be console or json", c.Log.Format)
	}

	for name, port := range map[string]int{"grpc_port": c.Server.GRPCPort, "ws_port": c.Server.WSPort} {
		if port < 0 || port > 65535 {
			add("server.%s %d out of range", name, port)
		}
	}

	return errors.Join(errs...)
}
