package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ErrPlaybackChunkFailed marks a chunk that could not be played. The queue
// skips it and continues with the next one.
var ErrPlaybackChunkFailed = errors.New("playback chunk failed")

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("playback queue closed")

// Chunk is one unit of synthesized audio (16-bit little-endian PCM)
type Chunk struct {
	Seq        int
	Data       []byte
	SampleRate int
	Channels   int
}

// Duration returns the playback length of the chunk
func (c Chunk) Duration() time.Duration {
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	if c.SampleRate <= 0 {
		return 0
	}
	frames := len(c.Data) / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Sink plays audio on an output device.
type Sink interface {
	// Play blocks until the chunk has been played, ctx is cancelled or
	// a fade started by FadeOut has completed.
	Play(ctx context.Context, chunk Chunk) error

	// FadeOut ramps the current output to silence over d.
	FadeOut(d time.Duration)

	// Stop silences the output immediately.
	Stop()

	// Resume restores full gain. The queue calls it before handing over
	// each chunk, so a FadeOut or Stop issued after that point applies to
	// the chunk even if Play has not begun yet.
	Resume()
}

// Callbacks receive burst notifications. They run on the queue worker and
// must not block.
type Callbacks struct {
	// OnPlaybackStarted fires when the first chunk of a burst begins
	OnPlaybackStarted func(burst uint64)

	// OnDrained fires exactly once per burst, after its last chunk has
	// finished or the burst has been interrupted
	OnDrained func(burst uint64)
}

// Config holds queue settings
type Config struct {
	// FadeDuration is the volume ramp applied by Interrupt
	FadeDuration time.Duration
}

// DefaultConfig returns the default queue configuration
func DefaultConfig() Config {
	return Config{
		FadeDuration: 200 * time.Millisecond,
	}
}

// Stats counts what happened to enqueued chunks
type Stats struct {
	Enqueued  int
	Played    int
	Failed    int
	Discarded int
}

// Option configures a Queue
type Option func(*Queue)

// WithClock sets the clock used for fade deadlines
func WithClock(clock clockwork.Clock) Option {
	return func(q *Queue) {
		q.clock = clock
	}
}

// WithLogger sets the queue logger
func WithLogger(logger zerolog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger.With().Str("component", "playback").Logger()
	}
}

type item struct {
	chunk Chunk
	burst uint64
}

// Queue is a strict FIFO player. One worker goroutine owns the sink, so at
// most one chunk plays at any time.
type Queue struct {
	sink   Sink
	config Config
	clock  clockwork.Clock
	logger zerolog.Logger

	mu          sync.Mutex
	cond        *sync.Cond
	pending     []item
	playing     *item
	cancel      context.CancelFunc
	burst       uint64
	active      bool
	started     uint64
	callbacks   Callbacks
	stats       Stats
	closed      bool
	fadeTimer   clockwork.Timer
	workerDone  chan struct{}
	ctx         context.Context
	cancelQueue context.CancelFunc
}

// NewQueue creates a queue and starts its worker
func NewQueue(sink Sink, config Config, opts ...Option) *Queue {
	if config.FadeDuration <= 0 {
		config.FadeDuration = DefaultConfig().FadeDuration
	}

	q := &Queue{
		sink:       sink,
		config:     config,
		clock:      clockwork.NewRealClock(),
		logger:     zerolog.Nop(),
		workerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.cond = sync.NewCond(&q.mu)
	q.ctx, q.cancelQueue = context.WithCancel(context.Background())

	go q.run()
	return q
}

// SetCallbacks replaces the burst callbacks
func (q *Queue) SetCallbacks(cb Callbacks) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.callbacks = cb
}

// Enqueue appends chunks in order and returns the burst they belong to. A
// new burst begins when nothing is queued or playing for the current one.
func (q *Queue) Enqueue(chunks ...Chunk) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}
	if len(chunks) == 0 {
		return q.burst, nil
	}

	if !q.active {
		q.burst++
		q.active = true
	}
	for _, c := range chunks {
		q.pending = append(q.pending, item{chunk: c, burst: q.burst})
	}
	q.stats.Enqueued += len(chunks)
	q.cond.Signal()

	return q.burst, nil
}

// Interrupt fades out the playing chunk and discards everything queued
// behind it. The burst still gets exactly one drained notification.
func (q *Queue) Interrupt() {
	q.stop(true)
}

// HardStop stops playback at once and discards everything queued.
func (q *Queue) HardStop() {
	q.stop(false)
}

func (q *Queue) stop(fade bool) {
	q.mu.Lock()
	if !q.active {
		// a chunk from an earlier interrupt may still be fading
		if !fade && q.playing != nil {
			q.cutLocked()
		}
		q.mu.Unlock()
		return
	}

	burst := q.burst
	q.active = false
	q.discardLocked()

	if fade && q.playing != nil && q.playing.burst == burst {
		q.logger.Debug().Uint64("burst", burst).Dur("fade", q.config.FadeDuration).Msg("interrupting playback")
		if q.fadeTimer != nil {
			q.fadeTimer.Stop()
		}
		q.fadeTimer = q.clock.AfterFunc(q.config.FadeDuration, q.cancel)
		q.sink.FadeOut(q.config.FadeDuration)
		q.mu.Unlock()
		return
	}

	// A hard stop cuts whatever is playing, including a chunk of an
	// interrupted burst that is still fading behind this one.
	if !fade && q.playing != nil {
		q.logger.Debug().Uint64("burst", burst).Uint64("playing", q.playing.burst).Msg("hard stop")
		q.cutLocked()
	}
	if q.playing != nil && q.playing.burst == burst {
		q.mu.Unlock()
		return
	}

	// Nothing of this burst reached the sink, so the worker will never
	// report it.
	onDrained := q.callbacks.OnDrained
	q.mu.Unlock()
	if onDrained != nil {
		onDrained(burst)
	}
}

// cutLocked silences the sink and cancels the playing chunk
func (q *Queue) cutLocked() {
	if q.fadeTimer != nil {
		q.fadeTimer.Stop()
		q.fadeTimer = nil
	}
	q.sink.Stop()
	q.cancel()
}

func (q *Queue) discardLocked() {
	q.stats.Discarded += len(q.pending)
	q.pending = nil
}

// Stats returns a copy of the chunk counters
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Busy reports whether a burst is queued or playing
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active || q.playing != nil
}

// Close stops playback and the worker
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.active = false
	q.discardLocked()
	if q.fadeTimer != nil {
		q.fadeTimer.Stop()
	}
	q.cond.Broadcast()
	q.mu.Unlock()

	q.cancelQueue()
	q.sink.Stop()
	<-q.workerDone
	return nil
}

func (q *Queue) run() {
	defer close(q.workerDone)

	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}

		it := q.pending[0]
		q.pending = q.pending[1:]
		ctx, cancel := context.WithCancel(q.ctx)
		q.playing = &it
		q.cancel = cancel
		q.sink.Resume()

		first := it.burst != q.started
		q.started = it.burst
		onStarted := q.callbacks.OnPlaybackStarted
		q.mu.Unlock()

		if first && onStarted != nil {
			onStarted(it.burst)
		}

		err := q.sink.Play(ctx, it.chunk)
		interrupted := ctx.Err() != nil
		cancel()

		q.mu.Lock()
		q.playing = nil
		q.cancel = nil
		switch {
		case err != nil && !interrupted:
			q.stats.Failed++
			q.logger.Warn().Err(fmt.Errorf("%w: %w", ErrPlaybackChunkFailed, err)).
				Uint64("burst", it.burst).Int("seq", it.chunk.Seq).Msg("skipping chunk")
		default:
			q.stats.Played++
		}

		drained := len(q.pending) == 0 || q.pending[0].burst != it.burst
		if drained && q.active && q.burst == it.burst {
			q.active = false
		}
		onDrained := q.callbacks.OnDrained
		closed := q.closed
		q.mu.Unlock()

		if drained && !closed && onDrained != nil {
			onDrained(it.burst)
		}
	}
}
