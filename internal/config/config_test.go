package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AI.APIKey = "sk-test"
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
turn:
  silence_threshold: 1500ms
  barge_in: false
profile:
  name: Ada
  voice: male
  attributes:
    hobby: gardening
speech:
  provider: service
  service_url: http://localhost:9000/tts
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.Turn.SilenceThreshold)
	assert.False(t, cfg.Turn.BargeIn)
	assert.Equal(t, 400*time.Millisecond, cfg.Turn.DeafPeriod, "untouched keys keep defaults")
	assert.Equal(t, "Ada", cfg.Profile.Name)
	assert.Equal(t, "gardening", cfg.Profile.Attributes["hobby"])
	assert.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("turn: [oops"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv(APIKeyEnv, "sk-env")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.AI.APIKey)

	require.NoError(t, os.WriteFile(path, []byte("ai:\n  api_key: sk-file\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.AI.APIKey)
}

func TestLoadWithFallback(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv(APIKeyEnv, "")
	old := systemConfigPath
	systemConfigPath = filepath.Join(t.TempDir(), "none.yaml")
	t.Cleanup(func() { systemConfigPath = old })

	cfg, err := LoadWithFallback("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Turn.SilenceThreshold, cfg.Turn.SilenceThreshold)

	require.NoError(t, os.WriteFile(filepath.Join(home, ".companionrc"), []byte("profile:\n  name: Grace\n"), 0o644))
	cfg, err = LoadWithFallback("")
	require.NoError(t, err)
	assert.Equal(t, "Grace", cfg.Profile.Name)

	explicit := filepath.Join(t.TempDir(), "explicit.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("profile:\n  name: Lin\n"), 0o644))
	cfg, err = LoadWithFallback(explicit)
	require.NoError(t, err)
	assert.Equal(t, "Lin", cfg.Profile.Name)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	cfg := DefaultConfig()
	cfg.AI.APIKey = "sk-secret"
	cfg.Turn.SilenceThreshold = 900 * time.Millisecond
	cfg.Profile.Name = "Ada"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-secret")
	assert.Contains(t, string(data), "900ms")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 900*time.Millisecond, loaded.Turn.SilenceThreshold)
	assert.Equal(t, "Ada", loaded.Profile.Name)
	assert.Equal(t, "sk-secret", cfg.AI.APIKey, "caller's config untouched")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Detector.Strategy = "magic"
	cfg.Turn.SilenceThreshold = 0
	cfg.Profile.Voice = "robot"
	cfg.Output.Format = "xml"
	cfg.Server.WSPort = 70000

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"detector.strategy", "silence_threshold", "profile.voice", "output.format", "ws_port", "api_key"} {
		assert.Contains(t, err.Error(), want)
	}

	cfg = DefaultConfig()
	cfg.Speech.Provider = ProviderLocal
	assert.NoError(t, cfg.Validate())
	cfg.LocalTTS.Enabled = false
	assert.Error(t, cfg.Validate())
}
