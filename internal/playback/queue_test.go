package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	played  []int
	fades   []time.Duration
	stops   int
	events  []string
	fail    map[int]error
	release chan struct{}
	started chan int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		fail:    map[int]error{},
		release: make(chan struct{}, 16),
		started: make(chan int, 16),
	}
}

func (s *fakeSink) Play(ctx context.Context, chunk Chunk) error {
	s.mu.Lock()
	s.played = append(s.played, chunk.Seq)
	s.events = append(s.events, fmt.Sprintf("play %d", chunk.Seq))
	err := s.fail[chunk.Seq]
	s.mu.Unlock()

	s.started <- chunk.Seq
	if err != nil {
		return err
	}

	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSink) FadeOut(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fades = append(s.fades, d)
	s.events = append(s.events, "fade")
}

func (s *fakeSink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.events = append(s.events, "stop")
}

func (s *fakeSink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "resume")
}

func (s *fakeSink) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

func (s *fakeSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *fakeSink) Played() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.played...)
}

func (s *fakeSink) Fades() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.fades...)
}

type recorder struct {
	mu      sync.Mutex
	started []uint64
	drained []uint64
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnPlaybackStarted: func(burst uint64) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.started = append(r.started, burst)
		},
		OnDrained: func(burst uint64) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.drained = append(r.drained, burst)
		},
	}
}

func (r *recorder) Started() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.started...)
}

func (r *recorder) Drained() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.drained...)
}

func chunks(seqs ...int) []Chunk {
	out := make([]Chunk, 0, len(seqs))
	for _, seq := range seqs {
		out = append(out, Chunk{Seq: seq, Data: make([]byte, 320), SampleRate: 16000, Channels: 1})
	}
	return out
}

func newTestQueue(t *testing.T, sink *fakeSink, clock clockwork.Clock) (*Queue, *recorder) {
	t.Helper()
	q := NewQueue(sink, DefaultConfig(), WithClock(clock))
	rec := &recorder{}
	q.SetCallbacks(rec.callbacks())
	t.Cleanup(func() { q.Close() })
	return q, rec
}

func waitStarted(t *testing.T, sink *fakeSink, want int) {
	t.Helper()
	select {
	case got := <-sink.started:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("chunk %d never started", want)
	}
}

func TestQueuePlaysInOrderOnce(t *testing.T) {
	sink := newFakeSink()
	q, rec := newTestQueue(t, sink, clockwork.NewFakeClock())

	burst, err := q.Enqueue(chunks(1, 2, 3)...)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), burst)

	for _, seq := range []int{1, 2, 3} {
		waitStarted(t, sink, seq)
		sink.release <- struct{}{}
	}

	require.Eventually(t, func() bool { return len(rec.Drained()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, sink.Played())
	assert.Equal(t, []uint64{1}, rec.Started())
	assert.Equal(t, []uint64{1}, rec.Drained())
	assert.False(t, q.Busy())

	stats := q.Stats()
	assert.Equal(t, 3, stats.Enqueued)
	assert.Equal(t, 3, stats.Played)
	assert.Zero(t, stats.Discarded)
}

func TestQueueSkipsFailingChunk(t *testing.T) {
	sink := newFakeSink()
	sink.fail[2] = errors.New("device lost")
	q, rec := newTestQueue(t, sink, clockwork.NewFakeClock())

	_, err := q.Enqueue(chunks(1, 2, 3)...)
	require.NoError(t, err)

	waitStarted(t, sink, 1)
	sink.release <- struct{}{}
	waitStarted(t, sink, 2)
	waitStarted(t, sink, 3)
	sink.release <- struct{}{}

	require.Eventually(t, func() bool { return len(rec.Drained()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1, 2, 3}, sink.Played())
	assert.Equal(t, 1, q.Stats().Failed)
}

func TestQueueInterruptFadesAndDiscards(t *testing.T) {
	sink := newFakeSink()
	clock := clockwork.NewFakeClock()
	q, rec := newTestQueue(t, sink, clock)

	_, err := q.Enqueue(chunks(1, 2, 3)...)
	require.NoError(t, err)
	waitStarted(t, sink, 1)

	q.Interrupt()
	assert.Equal(t, []time.Duration{200 * time.Millisecond}, sink.Fades())
	assert.Empty(t, rec.Drained(), "drained must wait for the fade")

	clock.Advance(200 * time.Millisecond)

	require.Eventually(t, func() bool { return len(rec.Drained()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{1}, sink.Played())
	assert.Equal(t, 2, q.Stats().Discarded)

	// a second interrupt has nothing to stop
	q.Interrupt()
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.Drained(), 1)
	assert.Len(t, sink.Fades(), 1)
}

func TestQueueInterruptWhenIdle(t *testing.T) {
	sink := newFakeSink()
	q, rec := newTestQueue(t, sink, clockwork.NewFakeClock())

	q.Interrupt()
	q.HardStop()

	assert.Empty(t, rec.Drained())
	assert.Empty(t, sink.Fades())
	assert.False(t, q.Busy())
}

func TestQueueHardStop(t *testing.T) {
	sink := newFakeSink()
	q, rec := newTestQueue(t, sink, clockwork.NewFakeClock())

	_, err := q.Enqueue(chunks(1, 2)...)
	require.NoError(t, err)
	waitStarted(t, sink, 1)

	q.HardStop()

	require.Eventually(t, func() bool { return len(rec.Drained()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.Fades())
	assert.Equal(t, []int{1}, sink.Played())
	assert.Equal(t, 1, q.Stats().Discarded)
}

func TestQueueHardStopCutsFadingChunk(t *testing.T) {
	sink := newFakeSink()
	q, rec := newTestQueue(t, sink, clockwork.NewFakeClock())

	_, err := q.Enqueue(chunks(1)...)
	require.NoError(t, err)
	waitStarted(t, sink, 1)

	q.Interrupt()
	q.HardStop()

	require.Eventually(t, func() bool { return len(rec.Drained()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, q.Busy())
}

func TestQueueHardStopCutsFadingChunkBehindNewBurst(t *testing.T) {
	sink := newFakeSink()
	q, rec := newTestQueue(t, sink, clockwork.NewFakeClock())

	first, err := q.Enqueue(chunks(1)...)
	require.NoError(t, err)
	waitStarted(t, sink, 1)
	q.Interrupt()

	second, err := q.Enqueue(chunks(2)...)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	q.HardStop()

	assert.Equal(t, 1, sink.Stops())
	require.Eventually(t, func() bool { return len(rec.Drained()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []uint64{first, second}, rec.Drained())
	assert.False(t, q.Busy())
	assert.Equal(t, []int{1}, sink.Played())
	assert.Equal(t, 1, q.Stats().Discarded)
}

func TestQueueResumesSinkBeforeEachChunk(t *testing.T) {
	sink := newFakeSink()
	q, rec := newTestQueue(t, sink, clockwork.NewFakeClock())

	_, err := q.Enqueue(chunks(1)...)
	require.NoError(t, err)
	waitStarted(t, sink, 1)
	q.Interrupt()
	require.Len(t, sink.Fades(), 1)
	q.HardStop()
	require.Eventually(t, func() bool { return len(rec.Drained()) == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = q.Enqueue(chunks(2)...)
	require.NoError(t, err)
	waitStarted(t, sink, 2)

	// a fade or stop is never followed by a resume for the same chunk
	assert.Equal(t, []string{"resume", "play 1", "fade", "stop", "resume", "play 2"}, sink.Events())
}

func TestQueueNewBurstAfterDrain(t *testing.T) {
	sink := newFakeSink()
	q, rec := newTestQueue(t, sink, clockwork.NewFakeClock())

	_, err := q.Enqueue(chunks(1)...)
	require.NoError(t, err)
	waitStarted(t, sink, 1)
	sink.release <- struct{}{}
	require.Eventually(t, func() bool { return len(rec.Drained()) == 1 }, 2*time.Second, 5*time.Millisecond)

	burst, err := q.Enqueue(chunks(2)...)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), burst)
	waitStarted(t, sink, 2)
	sink.release <- struct{}{}

	require.Eventually(t, func() bool { return len(rec.Drained()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []uint64{1, 2}, rec.Started())
	assert.Equal(t, []uint64{1, 2}, rec.Drained())
}

func TestQueueEnqueueAfterClose(t *testing.T) {
	sink := newFakeSink()
	q := NewQueue(sink, DefaultConfig())
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err := q.Enqueue(chunks(1)...)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestChunkDuration(t *testing.T) {
	c := Chunk{Data: make([]byte, 32000), SampleRate: 16000, Channels: 1}
	assert.Equal(t, time.Second, c.Duration())

	stereo := Chunk{Data: make([]byte, 9600), SampleRate: 24000, Channels: 2}
	assert.Equal(t, 100*time.Millisecond, stereo.Duration())

	assert.Zero(t, Chunk{Data: []byte{1, 2}}.Duration())
}
