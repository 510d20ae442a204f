package detector

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/companion/internal/audio"
	"github.com/emmett/companion/internal/stt"
	"github.com/emmett/companion/internal/turn"
)

type fakeEngine struct {
	mu      sync.Mutex
	results []stt.Result
	final   stt.Result
	fed     int
	finals  int
	err     error
	ready   bool
}

func (e *fakeEngine) Initialize(stt.Config) error { e.ready = true; return nil }

func (e *fakeEngine) ProcessAudio(ctx context.Context, data []byte) (*stt.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fed++
	if e.err != nil {
		return nil, e.err
	}
	if len(e.results) == 0 {
		return &stt.Result{Partial: true}, nil
	}
	r := e.results[0]
	e.results = e.results[1:]
	return &r, nil
}

func (e *fakeEngine) FinalResult() (*stt.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finals++
	r := e.final
	e.final = stt.Result{}
	return &r, nil
}

func (e *fakeEngine) Reset() error { return nil }
func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

func (e *fakeEngine) Fed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fed
}

type fakeCapturer struct {
	mu       sync.Mutex
	samples  chan audio.AudioSample
	errs     chan error
	running  bool
	stopped  bool
	startErr error
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{samples: make(chan audio.AudioSample, 64), errs: make(chan error, 4)}
}

func (c *fakeCapturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.running = true
	return nil
}

func (c *fakeCapturer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.stopped = true
		c.running = false
		close(c.samples)
		close(c.errs)
	}
	return nil
}

func (c *fakeCapturer) Samples() <-chan audio.AudioSample { return c.samples }
func (c *fakeCapturer) Errors() <-chan error              { return c.errs }

func (c *fakeCapturer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

type events struct {
	mu  sync.Mutex
	got []turn.DetectorEvent
}

func (e *events) add(ev turn.DetectorEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) kinds() []turn.EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]turn.EventKind, 0, len(e.got))
	for _, ev := range e.got {
		out = append(out, ev.Kind)
	}
	return out
}

func (e *events) all() []turn.DetectorEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]turn.DetectorEvent(nil), e.got...)
}

func frame(level int16) []byte {
	out := make([]byte, 960)
	for i := 0; i < len(out); i += 2 {
		binary.LittleEndian.PutUint16(out[i:], uint16(level))
	}
	return out
}

var (
	loud  = frame(8000)
	quiet = frame(0)
)

func testVAD() audio.VADConfig {
	return audio.VADConfig{EnergyThreshold: 0.05, SpeechFrames: 2, SilenceFrames: 2}
}

func TestGatedStrategy(t *testing.T) {
	engine := &fakeEngine{
		results: []stt.Result{
			{Text: "", Partial: true},
			{Text: "good", Partial: true},
			{Text: "good", Partial: true},
			{Text: "good morning", Partial: true},
		},
		final: stt.Result{Text: "good morning"},
	}
	rec := &events{}
	g := newGated(engine, rec.add, testVAD(), 4)
	ctx := context.Background()

	require.NoError(t, g.process(ctx, quiet))
	require.NoError(t, g.process(ctx, loud))
	assert.Zero(t, engine.Fed(), "recognizer idle before onset")

	// onset feeds the pre-roll (quiet, loud) and the onset frame
	require.NoError(t, g.process(ctx, loud))
	assert.Equal(t, 3, engine.Fed())

	require.NoError(t, g.process(ctx, quiet))
	require.NoError(t, g.process(ctx, quiet))

	assert.Equal(t, []turn.EventKind{
		turn.EventSpeechStarted,
		turn.EventPartialText,
		turn.EventPartialText,
		turn.EventFinalText,
		turn.EventSpeechEnded,
	}, rec.kinds())

	got := rec.all()
	assert.Equal(t, "good", got[1].Text)
	assert.Equal(t, "good morning", got[2].Text)
	assert.Equal(t, "good morning", got[3].Text)
	assert.Equal(t, 1, engine.finals)
}

func TestGatedPreRollIsBounded(t *testing.T) {
	g := newGated(&fakeEngine{}, func(turn.DetectorEvent) {}, testVAD(), 3)
	for i := 0; i < 10; i++ {
		g.remember(quiet)
	}
	assert.Len(t, g.recent, 3)

	none := newGated(&fakeEngine{}, func(turn.DetectorEvent) {}, testVAD(), 0)
	none.remember(quiet)
	assert.Empty(t, none.recent)
}

func TestGatedEmptyFinalStillEndsSpeech(t *testing.T) {
	rec := &events{}
	g := newGated(&fakeEngine{}, rec.add, testVAD(), 0)
	ctx := context.Background()

	for _, f := range [][]byte{loud, loud, quiet, quiet} {
		require.NoError(t, g.process(ctx, f))
	}
	assert.Equal(t, []turn.EventKind{turn.EventSpeechStarted, turn.EventSpeechEnded}, rec.kinds())
}

func TestContinuousStrategy(t *testing.T) {
	engine := &fakeEngine{
		results: []stt.Result{
			{Text: "", Partial: true},
			{Text: "", Partial: false},
			{Text: "how", Partial: true},
			{Text: "how are", Partial: true},
			{Text: "how are you", Partial: false},
			{Text: "fine", Partial: false},
		},
	}
	rec := &events{}
	c := newContinuous(engine, rec.add)
	for i := 0; i < 6; i++ {
		require.NoError(t, c.process(context.Background(), quiet))
	}

	assert.Equal(t, []turn.EventKind{
		turn.EventSpeechStarted,
		turn.EventPartialText,
		turn.EventPartialText,
		turn.EventFinalText,
		turn.EventSpeechEnded,
		turn.EventSpeechStarted,
		turn.EventFinalText,
		turn.EventSpeechEnded,
	}, rec.kinds())
	assert.Equal(t, "how are you", rec.all()[3].Text)
}

func newTestDetector(t *testing.T, strategy Strategy, engine *fakeEngine, capturers ...*fakeCapturer) *Detector {
	t.Helper()
	var mu sync.Mutex
	next := 0
	factory := func(audio.CaptureConfig) (audio.Capturer, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(capturers) {
			return nil, errors.New("no capturer left")
		}
		c := capturers[next]
		next++
		return c, nil
	}

	cfg := DefaultConfig()
	cfg.Strategy = strategy
	cfg.VAD = testVAD()
	d, err := New(cfg, engine, factory)
	require.NoError(t, err)
	t.Cleanup(func() { d.Stop() })
	return d
}

func TestDetectorStartStop(t *testing.T) {
	engine := &fakeEngine{ready: true, results: []stt.Result{{Text: "hi there", Partial: false}}}
	capt := newFakeCapturer()
	d := newTestDetector(t, StrategyContinuous, engine, capt)

	rec := &events{}
	require.NoError(t, d.Start(context.Background(), rec.add))
	assert.True(t, capt.IsRunning())

	capt.samples <- audio.AudioSample{Data: quiet}
	require.Eventually(t, func() bool { return len(rec.kinds()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, "hi there", rec.all()[1].Text)

	require.NoError(t, d.Stop())
	assert.False(t, capt.IsRunning())
	require.NoError(t, d.Stop(), "stop is idempotent")
}

func TestDetectorRepeatStartSwapsHandler(t *testing.T) {
	engine := &fakeEngine{ready: true, results: []stt.Result{{Text: "hello", Partial: false}}}
	capt := newFakeCapturer()
	d := newTestDetector(t, StrategyContinuous, engine, capt)

	first, second := &events{}, &events{}
	require.NoError(t, d.Start(context.Background(), first.add))
	require.NoError(t, d.Start(context.Background(), second.add))

	capt.samples <- audio.AudioSample{Data: quiet}
	require.Eventually(t, func() bool { return len(second.kinds()) == 3 }, time.Second, time.Millisecond)
	assert.Empty(t, first.kinds())
}

func TestDetectorReportsClosedStream(t *testing.T) {
	engine := &fakeEngine{ready: true}
	capt := newFakeCapturer()
	d := newTestDetector(t, StrategyVAD, engine, capt, newFakeCapturer())

	rec := &events{}
	require.NoError(t, d.Start(context.Background(), rec.add))

	// the device goes away underneath the detector
	capt.Stop()
	require.Eventually(t, func() bool { return len(rec.kinds()) == 1 }, time.Second, time.Millisecond)
	ev := rec.all()[0]
	assert.Equal(t, turn.EventError, ev.Kind)
	assert.ErrorIs(t, ev.Err, turn.ErrDetectorTransient)

	// a dead run does not block a fresh start
	require.NoError(t, d.Start(context.Background(), rec.add))
}

func TestDetectorRecognizerFailure(t *testing.T) {
	engine := &fakeEngine{ready: true, err: errors.New("decoder crashed")}
	capt := newFakeCapturer()
	d := newTestDetector(t, StrategyContinuous, engine, capt)

	rec := &events{}
	require.NoError(t, d.Start(context.Background(), rec.add))
	capt.samples <- audio.AudioSample{Data: quiet}

	require.Eventually(t, func() bool { return len(rec.kinds()) == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, rec.all()[0].Err, turn.ErrDetectorTransient)
}

func TestDetectorStartErrors(t *testing.T) {
	t.Run("probe failure is permanent", func(t *testing.T) {
		cfg := DefaultConfig()
		d, err := New(cfg, &fakeEngine{ready: true}, func(audio.CaptureConfig) (audio.Capturer, error) {
			return newFakeCapturer(), nil
		}, WithProbe(func() error { return errors.New("no microphone") }))
		require.NoError(t, err)

		err = d.Start(context.Background(), func(turn.DetectorEvent) {})
		assert.ErrorIs(t, err, turn.ErrCaptureUnavailable)
	})

	t.Run("capture start failure is transient", func(t *testing.T) {
		capt := newFakeCapturer()
		capt.startErr = errors.New("device busy")
		d := newTestDetector(t, StrategyVAD, &fakeEngine{ready: true}, capt)

		err := d.Start(context.Background(), func(turn.DetectorEvent) {})
		assert.ErrorIs(t, err, turn.ErrDetectorTransient)
	})

	t.Run("uninitialized recognizer", func(t *testing.T) {
		d := newTestDetector(t, StrategyVAD, &fakeEngine{}, newFakeCapturer())
		err := d.Start(context.Background(), func(turn.DetectorEvent) {})
		assert.ErrorIs(t, err, turn.ErrCaptureUnavailable)
	})
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyVAD, s)

	s, err = ParseStrategy("continuous")
	require.NoError(t, err)
	assert.Equal(t, StrategyContinuous, s)

	_, err = ParseStrategy("whisper")
	assert.Error(t, err)
}
