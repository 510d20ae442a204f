package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/emmett/companion/internal/audio"
	"github.com/emmett/companion/internal/playback"
)

// SinkConfig holds playback device settings
type SinkConfig struct {
	// DeviceID selects the output device, empty = system default
	DeviceID string

	// BufferDuration is how much audio is handed to the device ahead of time
	BufferDuration time.Duration
}

// Sink implements playback.Sink on a miniaudio playback device. The device
// is opened lazily and reopened when the chunk format changes.
type Sink struct {
	config SinkConfig
	logger zerolog.Logger

	// guards the device lifecycle; held for the whole of Play
	playMu   sync.Mutex
	mctx     *malgo.AllocatedContext
	dev      *malgo.Device
	rate     int
	channels int
	ring     *audio.RingBuffer

	// guards the gain ramp shared with the device callback
	mu       sync.Mutex
	gain     float64
	step     float64
	silenced bool
	wake     chan struct{}
}

// NewSink creates a sink; no device is opened until the first chunk
func NewSink(config SinkConfig, logger zerolog.Logger) *Sink {
	if config.BufferDuration <= 0 {
		config.BufferDuration = 200 * time.Millisecond
	}
	return &Sink{
		config: config,
		logger: logger.With().Str("component", "sink").Logger(),
		gain:   1,
		wake:   make(chan struct{}, 1),
	}
}

// Play writes the chunk to the device and waits until it has been heard,
// faded to silence or cancelled
func (s *Sink) Play(ctx context.Context, chunk playback.Chunk) error {
	s.playMu.Lock()
	defer s.playMu.Unlock()

	channels := max(chunk.Channels, 1)
	if err := s.open(chunk.SampleRate, channels); err != nil {
		return err
	}

	data := chunk.Data
	for {
		n := s.ring.Write(data)
		data = data[n:]
		if len(data) == 0 && s.ring.Available() == 0 {
			return nil
		}
		if s.isSilenced() {
			s.ring.Reset()
			return nil
		}

		select {
		case <-ctx.Done():
			s.ring.Reset()
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// FadeOut ramps the output gain to zero over d
func (s *Sink) FadeOut(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := d.Seconds() * float64(max(s.rate, 1))
	if frames < 1 {
		s.gain, s.silenced = 0, true
		return
	}
	s.step = -s.gain / frames
}

// Stop silences the output at once
func (s *Sink) Stop() {
	s.mu.Lock()
	s.gain, s.step, s.silenced = 0, 0, true
	s.mu.Unlock()

	s.signal()
}

// Resume restores full gain for the next chunk. Play leaves the gain alone,
// so a fade or stop that lands before Play starts still applies.
func (s *Sink) Resume() {
	s.mu.Lock()
	s.gain, s.step, s.silenced = 1, 0, false
	s.mu.Unlock()
}

// Close releases the device
func (s *Sink) Close() error {
	s.Stop()
	s.playMu.Lock()
	defer s.playMu.Unlock()
	s.release()
	return nil
}

func (s *Sink) isSilenced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silenced
}

func (s *Sink) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// open must be called with playMu held
func (s *Sink) open(rate, channels int) error {
	if s.dev != nil && s.rate == rate && s.channels == channels {
		return nil
	}
	s.release()

	mctx, err := initContext()
	if err != nil {
		return err
	}
	id, err := resolve(mctx, KindPlayback, s.config.DeviceID)
	if err != nil {
		freeContext(mctx)
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(channels)
	cfg.SampleRate = uint32(rate)
	if id != nil {
		cfg.Playback.DeviceID = id.Pointer()
	}

	ring := audio.NewRingBuffer(audio.PCMBytes(s.config.BufferDuration, rate, channels))
	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			n := ring.Read(output)
			clear(output[n:])

			s.mu.Lock()
			if s.silenced {
				clear(output)
			} else if s.step != 0 {
				s.gain = audio.Gain(output[:n], channels, s.gain, s.step)
				if s.gain == 0 {
					s.silenced = true
				}
			}
			s.mu.Unlock()

			s.signal()
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		freeContext(mctx)
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		freeContext(mctx)
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	s.mctx, s.dev, s.ring = mctx, dev, ring
	s.mu.Lock()
	s.rate, s.channels = rate, channels
	s.mu.Unlock()
	s.logger.Debug().Int("rate", rate).Int("channels", channels).Msg("playback device opened")
	return nil
}

func (s *Sink) release() {
	if s.dev != nil {
		_ = s.dev.Stop()
		s.dev.Uninit()
		s.dev = nil
	}
	if s.mctx != nil {
		freeContext(s.mctx)
		s.mctx = nil
	}
}
