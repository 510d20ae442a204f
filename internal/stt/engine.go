// Package stt defines the speech recognizer used by the endpoint detectors.
package stt

import "context"

// Result represents a speech recognition result
type Result struct {
	// Text is the recognized text
	Text string

	// Partial indicates a hypothesis that may still change, as opposed to a
	// finalized phrase
	Partial bool

	// Confidence is the average word confidence (0.0 to 1.0), final results only
	Confidence float64
}

// Config holds configuration for the recognizer
type Config struct {
	// ModelPath is the path to the model directory
	ModelPath string

	// SampleRate is the audio sample rate in Hz
	SampleRate int

	// MaxAlternatives is the maximum number of alternative results to return
	MaxAlternatives int
}

// Engine is a streaming speech recognizer fed with 16-bit PCM
type Engine interface {
	// Initialize loads the model
	Initialize(config Config) error

	// ProcessAudio feeds audio and returns the current partial or final result
	ProcessAudio(ctx context.Context, audioData []byte) (*Result, error)

	// FinalResult flushes pending audio and resets the recognizer
	FinalResult() (*Result, error)

	// Reset discards any pending hypothesis
	Reset() error

	// Close releases resources
	Close() error

	// IsInitialized returns true if the engine is initialized
	IsInitialized() bool
}

// DefaultConfig returns a 16 kHz configuration for the given model
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath:  modelPath,
		SampleRate: 16000,
	}
}
