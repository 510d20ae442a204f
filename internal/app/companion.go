package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/emmett/companion/internal/config"
	"github.com/emmett/companion/internal/events"
	"github.com/emmett/companion/internal/output"
	"github.com/emmett/companion/internal/playback"
	"github.com/emmett/companion/internal/turn"
)

// Parts are the collaborators a Companion drives
type Parts struct {
	Detector turn.Detector
	Chat     turn.ChatClient

	// Speech may be nil when only the local voice is used
	Speech      turn.Synthesizer
	LocalSpeech turn.Synthesizer

	Sink playback.Sink

	// Closers are released in reverse order by Close
	Closers []io.Closer
}

// Close releases the closers in reverse order
func (p Parts) Close() error {
	var errs []error
	for i := len(p.Closers) - 1; i >= 0; i-- {
		errs = append(errs, p.Closers[i].Close())
	}
	return errors.Join(errs...)
}

// Option configures a Companion
type Option func(*Companion)

// WithLogger sets the logger handed to every component
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Companion) { c.logger = logger }
}

// WithClock sets the clock for timers
func WithClock(clock clockwork.Clock) Option {
	return func(c *Companion) { c.clock = clock }
}

// WithConsole echoes the conversation to a terminal
func WithConsole(console *output.ConsoleOutput) Option {
	return func(c *Companion) { c.console = console }
}

// WithTranscript records final transcript lines
func WithTranscript(f output.Formatter) Option {
	return func(c *Companion) { c.transcript = f }
}

type forgetter interface {
	Forget(sessionID string)
}

// Companion runs hands-free conversations for one person
type Companion struct {
	parts      Parts
	profile    turn.Profile
	logger     zerolog.Logger
	clock      clockwork.Clock
	console    *output.ConsoleOutput
	transcript output.Formatter

	queue *playback.Queue
	coord *turn.Coordinator
	bus   *events.Bus

	mu      sync.Mutex
	session string

	closeOnce sync.Once
	closeErr  error
}

// New assembles the playback queue and coordinator around parts
func New(cfg *config.Config, parts Parts, opts ...Option) (*Companion, error) {
	profile, err := DefaultProfile(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	if parts.Sink == nil {
		return nil, errors.New("audio sink is required")
	}

	c := &Companion{
		parts:   parts,
		profile: profile,
		logger:  zerolog.Nop(),
		clock:   clockwork.NewRealClock(),
		bus:     events.NewBus(),
	}
	for _, opt := range opts {
		opt(c)
	}

	pc := playback.DefaultConfig()
	if cfg.Playback.FadeDuration > 0 {
		pc.FadeDuration = cfg.Playback.FadeDuration
	}
	c.queue = playback.NewQueue(parts.Sink, pc, playback.WithClock(c.clock), playback.WithLogger(c.logger))

	c.coord, err = turn.New(TurnConfig(cfg), turn.Dependencies{
		Detector:    parts.Detector,
		Chat:        parts.Chat,
		Speech:      parts.Speech,
		LocalSpeech: parts.LocalSpeech,
		Player:      c.queue,
	},
		turn.WithClock(c.clock),
		turn.WithLogger(c.logger),
		turn.WithHooks(c.hooks()),
	)
	if err != nil {
		c.queue.Close()
		return nil, err
	}
	return c, nil
}

func (c *Companion) hooks() turn.Hooks {
	all := []turn.Hooks{c.bus.Hooks(c.sessionID)}
	if c.console != nil {
		console := c.console
		all = append(all, turn.Hooks{
			OnStateChange: console.State,
			OnTranscript:  console.Transcript,
			OnError:       func(err error) { console.Error(err.Error()) },
		})
	}
	if c.transcript != nil {
		f, logger := c.transcript, c.logger
		all = append(all, turn.Hooks{
			OnStateChange: func(from, to turn.State) {
				if err := f.WriteEvent("state", from.String()+" -> "+to.String()); err != nil {
					logger.Warn().Err(err).Msg("failed to write transcript event")
				}
			},
			OnTranscript: func(e turn.Entry) {
				if err := f.WriteEntry(e); err != nil {
					logger.Warn().Err(err).Msg("failed to write transcript")
				}
			},
		})
	}
	return chain(all...)
}

// chain calls every set hook in order
func chain(hooks ...turn.Hooks) turn.Hooks {
	var out turn.Hooks
	for _, h := range hooks {
		if f, prev := h.OnStateChange, out.OnStateChange; f != nil {
			out.OnStateChange = func(from, to turn.State) {
				if prev != nil {
					prev(from, to)
				}
				f(from, to)
			}
		}
		if f, prev := h.OnSpeakingChanged, out.OnSpeakingChanged; f != nil {
			out.OnSpeakingChanged = func(speaking bool) {
				if prev != nil {
					prev(speaking)
				}
				f(speaking)
			}
		}
		if f, prev := h.OnTranscript, out.OnTranscript; f != nil {
			out.OnTranscript = func(e turn.Entry) {
				if prev != nil {
					prev(e)
				}
				f(e)
			}
		}
		if f, prev := h.OnError, out.OnError; f != nil {
			out.OnError = func(err error) {
				if prev != nil {
					prev(err)
				}
				f(err)
			}
		}
	}
	return out
}

// Profile returns the configured profile
func (c *Companion) Profile() turn.Profile {
	return c.profile
}

// StartSession begins a conversation. A nil profile uses the configured one.
func (c *Companion) StartSession(ctx context.Context, profile *turn.Profile) (string, error) {
	p := c.profile
	if profile != nil {
		p = *profile
	}

	id, err := c.coord.StartSession(ctx, p)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}

	c.mu.Lock()
	c.session = id
	c.mu.Unlock()
	c.logger.Info().Str("session", id).Str("profile", p.Name).Msg("session started")
	return id, nil
}

// EndSession stops the current conversation, if any
func (c *Companion) EndSession() {
	c.coord.EndSession()

	c.mu.Lock()
	id := c.session
	c.session = ""
	c.mu.Unlock()

	if id == "" {
		return
	}
	if f, ok := c.parts.Chat.(forgetter); ok {
		f.Forget(id)
	}
	c.logger.Info().Str("session", id).Msg("session ended")
}

// Toggle starts a session when idle and ends it otherwise. It reports
// whether a session is active afterwards.
func (c *Companion) Toggle(ctx context.Context) (bool, error) {
	if c.coord.State() == turn.Idle {
		if _, err := c.StartSession(ctx, nil); err != nil {
			return false, err
		}
		return true, nil
	}
	c.EndSession()
	return false, nil
}

// Status returns a snapshot of the conversation
func (c *Companion) Status() turn.Status {
	return c.coord.Status()
}

// Subscribe streams conversation events until the returned function is
// called or the companion closes
func (c *Companion) Subscribe(buffer int) (<-chan events.Event, func()) {
	return c.bus.Subscribe(buffer)
}

// PlaybackStats reports what happened to synthesized audio
func (c *Companion) PlaybackStats() playback.Stats {
	return c.queue.Stats()
}

// Close ends any session and releases every part
func (c *Companion) Close() error {
	c.closeOnce.Do(func() {
		c.EndSession()

		var errs []error
		errs = append(errs, c.coord.Close(), c.queue.Close())
		if c.transcript != nil {
			errs = append(errs, c.transcript.Close())
		}
		errs = append(errs, c.parts.Close())
		c.bus.Close()
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func (c *Companion) sessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}
