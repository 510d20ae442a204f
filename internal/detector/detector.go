// Package detector turns microphone audio into speech boundary and text
// events for the turn coordinator.
package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/emmett/companion/internal/audio"
	"github.com/emmett/companion/internal/stt"
	"github.com/emmett/companion/internal/turn"
)

// Strategy selects how speech boundaries are found
type Strategy string

const (
	// StrategyVAD gates the recognizer with an energy VAD
	StrategyVAD Strategy = "vad"

	// StrategyContinuous feeds every frame to the recognizer and takes
	// boundaries from its own endpointing
	StrategyContinuous Strategy = "continuous"
)

// ParseStrategy validates a strategy name
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyVAD, "":
		return StrategyVAD, nil
	case StrategyContinuous:
		return StrategyContinuous, nil
	default:
		return "", fmt.Errorf("unknown detector strategy %q (valid: vad, continuous)", s)
	}
}

// Config holds detector settings
type Config struct {
	Strategy Strategy
	Capture  audio.CaptureConfig
	VAD      audio.VADConfig

	// PreRollFrames is how many frames before VAD onset are fed to the
	// recognizer so the first syllable is not lost
	PreRollFrames int
}

// DefaultConfig returns the VAD strategy with default capture settings
func DefaultConfig() Config {
	return Config{
		Strategy:      StrategyVAD,
		Capture:       audio.DefaultConfig(),
		VAD:           audio.DefaultVADConfig(),
		PreRollFrames: 10,
	}
}

// Option configures a Detector
type Option func(*Detector)

// WithLogger sets the detector logger
func WithLogger(logger zerolog.Logger) Option {
	return func(d *Detector) {
		d.logger = logger.With().Str("component", "detector").Logger()
	}
}

// WithProbe sets a check run before every capture start. A failing probe
// makes Start return turn.ErrCaptureUnavailable.
func WithProbe(probe func() error) Option {
	return func(d *Detector) {
		d.probe = probe
	}
}

// Detector implements turn.Detector on top of a capturer and a recognizer
type Detector struct {
	config      Config
	engine      stt.Engine
	newCapturer audio.CapturerFactory
	probe       func() error
	logger      zerolog.Logger

	mu       sync.Mutex
	handle   func(turn.DetectorEvent)
	capturer audio.Capturer
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a detector. The engine must already be initialized.
func New(config Config, engine stt.Engine, newCapturer audio.CapturerFactory, opts ...Option) (*Detector, error) {
	strategy, err := ParseStrategy(string(config.Strategy))
	if err != nil {
		return nil, err
	}
	config.Strategy = strategy
	if engine == nil || newCapturer == nil {
		return nil, errors.New("detector needs a recognizer and a capturer factory")
	}

	d := &Detector{
		config:      config,
		engine:      engine,
		newCapturer: newCapturer,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start begins capture. While running, a repeated Start only swaps the
// handler.
func (d *Detector) Start(ctx context.Context, handle func(turn.DetectorEvent)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running() {
		d.handle = handle
		return nil
	}
	d.cleanupLocked()

	if d.probe != nil {
		if err := d.probe(); err != nil {
			if !errors.Is(err, turn.ErrCaptureUnavailable) {
				err = fmt.Errorf("%w: %w", turn.ErrCaptureUnavailable, err)
			}
			return err
		}
	}
	if !d.engine.IsInitialized() {
		return fmt.Errorf("%w: recognizer not initialized", turn.ErrCaptureUnavailable)
	}

	capturer, err := d.newCapturer(d.config.Capture)
	if err != nil {
		return fmt.Errorf("%w: failed to create capturer: %w", turn.ErrDetectorTransient, err)
	}
	if err := d.engine.Reset(); err != nil {
		d.logger.Debug().Err(err).Msg("recognizer reset")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := capturer.Start(runCtx); err != nil {
		cancel()
		if errors.Is(err, turn.ErrCaptureUnavailable) {
			return err
		}
		return fmt.Errorf("%w: failed to start capture: %w", turn.ErrDetectorTransient, err)
	}

	d.handle = handle
	d.capturer = capturer
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(runCtx, capturer, d.newStrategy(), d.done)

	d.logger.Debug().Str("strategy", string(d.config.Strategy)).Msg("detector started")
	return nil
}

// Stop ends capture and waits for the processing goroutine
func (d *Detector) Stop() error {
	d.mu.Lock()
	cancel, capturer, done := d.cancel, d.capturer, d.done
	d.cancel, d.capturer, d.done = nil, nil, nil
	d.handle = nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := capturer.Stop()
	<-done
	d.logger.Debug().Msg("detector stopped")
	return err
}

// running must be called with mu held
func (d *Detector) running() bool {
	if d.done == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// cleanupLocked releases a run that ended on its own
func (d *Detector) cleanupLocked() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	_ = d.capturer.Stop()
	d.cancel, d.capturer, d.done = nil, nil, nil
}

func (d *Detector) newStrategy() strategy {
	if d.config.Strategy == StrategyContinuous {
		return newContinuous(d.engine, d.emit)
	}
	return newGated(d.engine, d.emit, d.config.VAD, d.config.PreRollFrames)
}

func (d *Detector) emit(ev turn.DetectorEvent) {
	d.mu.Lock()
	handle := d.handle
	d.mu.Unlock()

	if handle != nil {
		handle(ev)
	}
}

func (d *Detector) run(ctx context.Context, capturer audio.Capturer, s strategy, done chan struct{}) {
	defer close(done)

	samples, errs := capturer.Samples(), capturer.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				if ctx.Err() == nil {
					d.emit(turn.DetectorEvent{
						Kind: turn.EventError,
						Err:  fmt.Errorf("%w: capture stream closed", turn.ErrDetectorTransient),
					})
				}
				return
			}
			if err := s.process(ctx, sample.Data); err != nil {
				if ctx.Err() != nil {
					return
				}
				d.emit(turn.DetectorEvent{
					Kind: turn.EventError,
					Err:  fmt.Errorf("%w: recognizer: %w", turn.ErrDetectorTransient, err),
				})
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Debug().Err(err).Msg("capture warning")
		}
	}
}
