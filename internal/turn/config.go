package turn

import (
	"errors"
	"time"
)

// MinChatTimeout is the shortest timeout applied to a chat request
const MinChatTimeout = 3 * time.Second

// DefaultFallbackPhrase is spoken when the chat backend cannot answer
const DefaultFallbackPhrase = "I'm right here with you. Let's keep talking whenever you're ready."

// Config holds the turn-taking policy
type Config struct {
	// SilenceThreshold is how long the user must be quiet after the last
	// final fragment before the turn is complete
	SilenceThreshold time.Duration

	// DeafPeriod is how long after companion audio starts that detected
	// speech is ignored
	DeafPeriod time.Duration

	// MinFragmentChars drops shorter final fragments
	MinFragmentChars int

	// MinSpeechDuration drops the fragments of shorter speech bursts
	MinSpeechDuration time.Duration

	ChatTimeout      time.Duration
	SynthesisTimeout time.Duration

	// FallbackPhrase replaces the reply when the chat backend fails
	FallbackPhrase string

	// BargeIn keeps the detector armed while the companion speaks so the
	// user can interrupt
	BargeIn bool

	// Detector restart policy
	RestartAttempts        int
	RestartInitialInterval time.Duration
	RestartMaxInterval     time.Duration
}

// DefaultConfig returns the default policy
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:       1200 * time.Millisecond,
		DeafPeriod:             400 * time.Millisecond,
		MinFragmentChars:       2,
		MinSpeechDuration:      250 * time.Millisecond,
		ChatTimeout:            20 * time.Second,
		SynthesisTimeout:       15 * time.Second,
		FallbackPhrase:         DefaultFallbackPhrase,
		BargeIn:                true,
		RestartAttempts:        5,
		RestartInitialInterval: 150 * time.Millisecond,
		RestartMaxInterval:     2 * time.Second,
	}
}

// Validate checks the policy for values the coordinator cannot work with
func (c Config) Validate() error {
	var errs []error
	if c.SilenceThreshold <= 0 {
		errs = append(errs, errors.New("silence threshold must be positive"))
	}
	if c.DeafPeriod < 0 {
		errs = append(errs, errors.New("deaf period must not be negative"))
	}
	if c.MinFragmentChars < 0 {
		errs = append(errs, errors.New("minimum fragment length must not be negative"))
	}
	if c.MinSpeechDuration < 0 {
		errs = append(errs, errors.New("minimum speech duration must not be negative"))
	}
	if c.SynthesisTimeout <= 0 {
		errs = append(errs, errors.New("synthesis timeout must be positive"))
	}
	if c.FallbackPhrase == "" {
		errs = append(errs, errors.New("fallback phrase must not be empty"))
	}
	if c.RestartAttempts < 1 {
		errs = append(errs, errors.New("restart attempts must be at least 1"))
	}
	if c.RestartInitialInterval <= 0 || c.RestartMaxInterval < c.RestartInitialInterval {
		errs = append(errs, errors.New("restart intervals must be positive and ordered"))
	}
	return errors.Join(errs...)
}

func (c Config) chatTimeout() time.Duration {
	if c.ChatTimeout < MinChatTimeout {
		return MinChatTimeout
	}
	return c.ChatTimeout
}
