package app

import (
	"time"

	"github.com/emmett/companion/internal/config"
	"github.com/emmett/companion/internal/detector"
	"github.com/emmett/companion/internal/turn"
)

// TurnConfig maps the turn section onto the coordinator policy
func TurnConfig(cfg *config.Config) turn.Config {
	tc := turn.DefaultConfig()
	tc.SilenceThreshold = cfg.Turn.SilenceThreshold
	tc.DeafPeriod = cfg.Turn.DeafPeriod
	tc.MinFragmentChars = cfg.Turn.MinFragmentChars
	tc.MinSpeechDuration = cfg.Turn.MinSpeechDuration
	tc.BargeIn = cfg.Turn.BargeIn
	if cfg.Turn.ChatTimeout > 0 {
		tc.ChatTimeout = cfg.Turn.ChatTimeout
	}
	if cfg.Turn.SynthesisTimeout > 0 {
		tc.SynthesisTimeout = cfg.Turn.SynthesisTimeout
	}
	if cfg.Turn.FallbackPhrase != "" {
		tc.FallbackPhrase = cfg.Turn.FallbackPhrase
	}
	if cfg.Turn.RestartAttempts > 0 {
		tc.RestartAttempts = cfg.Turn.RestartAttempts
	}
	return tc
}

// DetectorConfig maps the audio and detector sections
func DetectorConfig(cfg *config.Config) (detector.Config, error) {
	strategy, err := detector.ParseStrategy(cfg.Detector.Strategy)
	if err != nil {
		return detector.Config{}, err
	}

	dc := detector.DefaultConfig()
	dc.Strategy = strategy
	dc.Capture.DeviceID = cfg.Audio.Device
	if cfg.Audio.SampleRate > 0 {
		dc.Capture.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.Audio.BufferFrames > 0 {
		dc.Capture.BufferFrames = cfg.Audio.BufferFrames
	}
	if cfg.Detector.EnergyThreshold > 0 {
		dc.VAD.EnergyThreshold = cfg.Detector.EnergyThreshold
	}
	if cfg.Detector.SilenceFrames > 0 {
		dc.VAD.SilenceFrames = cfg.Detector.SilenceFrames
	}
	if cfg.Detector.SpeechFrames > 0 {
		dc.VAD.SpeechFrames = cfg.Detector.SpeechFrames
	}
	if cfg.Detector.PreRollFrames >= 0 {
		dc.PreRollFrames = cfg.Detector.PreRollFrames
	}
	return dc, nil
}

// DefaultProfile builds the profile from the profile section
func DefaultProfile(cfg *config.Config) (turn.Profile, error) {
	voice, err := turn.ParseVoice(cfg.Profile.Voice)
	if err != nil {
		return turn.Profile{}, err
	}
	attrs := make(map[string]string, len(cfg.Profile.Attributes))
	for k, v := range cfg.Profile.Attributes {
		attrs[k] = v
	}
	return turn.Profile{
		Name:       cfg.Profile.Name,
		Voice:      voice,
		Prompt:     cfg.Profile.Prompt,
		Attributes: attrs,
	}, nil
}

// VADSilenceWindow is how long the VAD waits before it reports the end of
// speech
func VADSilenceWindow(dc detector.Config) time.Duration {
	return time.Duration(dc.VAD.SilenceFrames) * dc.Capture.FrameDuration()
}
