package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/emmett/companion/internal/audio"
)

var errOverflow = errors.New("sample buffer overflow, dropping frames")

// Capturer implements audio.Capturer on a miniaudio capture device
type Capturer struct {
	config  audio.CaptureConfig
	logger  zerolog.Logger
	samples chan audio.AudioSample
	errors  chan error

	mu       sync.Mutex
	device   *malgo.Device
	mctx     *malgo.AllocatedContext
	running  bool
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewCapturer creates a single-use capturer
func NewCapturer(config audio.CaptureConfig, logger zerolog.Logger) *Capturer {
	size := config.SampleBufferSize
	if size <= 0 {
		size = audio.DefaultConfig().SampleBufferSize
	}
	return &Capturer{
		config:   config,
		logger:   logger.With().Str("component", "capture").Logger(),
		samples:  make(chan audio.AudioSample, size),
		errors:   make(chan error, 10),
		stopChan: make(chan struct{}),
	}
}

// Factory returns an audio.CapturerFactory producing malgo capturers
func Factory(logger zerolog.Logger) audio.CapturerFactory {
	return func(config audio.CaptureConfig) (audio.Capturer, error) {
		return NewCapturer(config, logger), nil
	}
}

// Start opens the device and begins delivering samples
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running || c.stopped {
		return fmt.Errorf("capturer cannot be started twice")
	}

	mctx, err := initContext()
	if err != nil {
		return err
	}

	id, err := resolve(mctx, KindCapture, c.config.DeviceID)
	if err != nil {
		freeContext(mctx)
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = c.config.Channels
	cfg.SampleRate = c.config.SampleRate
	cfg.PeriodSizeInFrames = c.config.BufferFrames
	if id != nil {
		cfg.Capture.DeviceID = id.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frames uint32) {
			data := make([]byte, len(input))
			copy(data, input)
			select {
			case c.samples <- audio.AudioSample{Data: data, Timestamp: time.Now(), Frames: frames}:
			default:
				select {
				case c.errors <- errOverflow:
				default:
				}
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		freeContext(mctx)
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(mctx)
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	c.device = dev
	c.mctx = mctx
	c.running = true
	c.logger.Debug().Str("device", c.config.DeviceID).Uint32("rate", c.config.SampleRate).Msg("capture started")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-ctx.Done():
			c.shutdown()
		case <-c.stopChan:
		}
	}()

	return nil
}

// Stop closes the device and the sample channels
func (c *Capturer) Stop() error {
	err := c.shutdown()
	c.wg.Wait()
	return err
}

func (c *Capturer) shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil
	}
	c.stopped = true
	wasRunning := c.running
	c.running = false
	close(c.stopChan)

	var err error
	if c.device != nil {
		if stopErr := c.device.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop capture device: %w", stopErr)
		}
		c.device.Uninit()
		c.device = nil
	}
	if c.mctx != nil {
		freeContext(c.mctx)
		c.mctx = nil
	}

	// the data callback can no longer run once the device is uninitialized
	close(c.samples)
	close(c.errors)

	if wasRunning {
		c.logger.Debug().Msg("capture stopped")
	}
	return err
}

// Samples returns a channel that receives audio samples
func (c *Capturer) Samples() <-chan audio.AudioSample {
	return c.samples
}

// Errors returns a channel that receives capture errors
func (c *Capturer) Errors() <-chan error {
	return c.errors
}

// IsRunning returns true if capture is currently active
func (c *Capturer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
