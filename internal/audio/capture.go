package audio

import (
	"context"
	"time"
)

// CaptureConfig holds configuration for microphone capture
type CaptureConfig struct {
	// SampleRate is the number of samples per second (Hz)
	// 16000 is what the recognizers expect
	SampleRate uint32 `yaml:"sample_rate"`

	// Channels is the number of audio channels, 1 = mono
	Channels uint32 `yaml:"channels"`

	// BufferFrames is the number of frames per device period
	// Smaller = lower latency, higher CPU usage
	BufferFrames uint32 `yaml:"buffer_frames"`

	// SampleBufferSize is how many periods may queue up before frames drop
	SampleBufferSize int `yaml:"sample_buffer_size"`

	// DeviceID selects the capture device, empty = system default
	DeviceID string `yaml:"device_id"`
}

// DefaultConfig returns 16 kHz mono capture in 30ms periods
func DefaultConfig() CaptureConfig {
	return CaptureConfig{
		SampleRate:       16000,
		Channels:         1,
		BufferFrames:     480, // 30ms at 16kHz
		SampleBufferSize: 64,  // ~2 seconds
		DeviceID:         "",
	}
}

// FrameDuration returns the length of one capture period
func (c CaptureConfig) FrameDuration() time.Duration {
	if c.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.BufferFrames) * time.Second / time.Duration(c.SampleRate)
}

// AudioSample is one period of captured 16-bit PCM
type AudioSample struct {
	Data      []byte
	Timestamp time.Time
	Frames    uint32
}

// Capturer produces microphone audio. A Capturer is single-use: once stopped
// it cannot be started again.
type Capturer interface {
	// Start begins capture. Capture stops when ctx is cancelled.
	Start(ctx context.Context) error

	// Stop ends capture and closes the Samples and Errors channels
	Stop() error

	// Samples returns a channel that receives audio periods
	Samples() <-chan AudioSample

	// Errors returns a channel that receives non-fatal capture errors
	Errors() <-chan error

	// IsRunning returns true if capture is currently active
	IsRunning() bool
}

// CapturerFactory creates a fresh Capturer for each capture run
type CapturerFactory func(config CaptureConfig) (Capturer, error)
