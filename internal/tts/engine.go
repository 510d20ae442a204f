// Package tts provides the on-device voice used when remote synthesis is
// unavailable.
package tts

import (
	"context"
	"time"
)

// Engine defines the interface for text-to-speech engines
type Engine interface {
	// Initialize sets up the TTS engine with the given config
	Initialize(config Config) error

	// Synthesize converts text to audio, streaming chunks via callback
	Synthesize(ctx context.Context, req SynthesizeRequest, callback AudioCallback) error

	// ListVoices returns available voices
	ListVoices() []Voice

	// Close releases resources
	Close() error

	// IsInitialized returns true if engine is ready
	IsInitialized() bool
}

// Config holds TTS engine configuration
type Config struct {
	// Binary is the piper executable
	Binary string

	// Voices are the installed voice models
	Voices []Voice

	// SampleRate is the rate of the raw output, 22050 for medium piper voices
	SampleRate int

	// ChunkDuration is the size of each streamed chunk
	ChunkDuration time.Duration
}

// SynthesizeRequest contains text-to-speech parameters
type SynthesizeRequest struct {
	Text  string
	Voice string
	Speed float32 // 1.0 = normal, 0.5 = half speed, 2.0 = double
}

// AudioChunk is a piece of 16-bit PCM
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// AudioCallback is called for each audio chunk during synthesis
type AudioCallback func(chunk AudioChunk) error

// Voice is an installed voice
type Voice struct {
	ID        string
	Name      string
	Language  string
	Gender    string
	ModelPath string
}

// DefaultConfig returns piper on PATH with 200ms chunks
func DefaultConfig() Config {
	return Config{
		Binary:        "piper",
		SampleRate:    22050,
		ChunkDuration: 200 * time.Millisecond,
	}
}
