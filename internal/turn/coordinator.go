package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/emmett/companion/internal/playback"
)

// Dependencies are the collaborators driven by the coordinator
type Dependencies struct {
	Detector Detector
	Chat     ChatClient

	// Speech is the primary synthesizer. It may be nil, in which case
	// LocalSpeech is used for every reply.
	Speech Synthesizer

	// LocalSpeech is the on-device fallback synthesizer
	LocalSpeech Synthesizer

	Player Player
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithClock sets the clock used for the silence timer, the deaf window and
// request timeouts
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithLogger sets the coordinator logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger.With().Str("component", "turn").Logger()
	}
}

// WithHooks sets the notification hooks
func WithHooks(hooks Hooks) Option {
	return func(c *Coordinator) {
		c.hooks = hooks
	}
}

type session struct {
	id      string
	profile Profile
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
}

// Coordinator is the conversation state machine. A single goroutine owns
// all mutable state; every input arrives through the mailbox.
type Coordinator struct {
	cfg    Config
	deps   Dependencies
	clock  clockwork.Clock
	logger zerolog.Logger
	hooks  Hooks

	state     atomic.Int32
	box       *mailbox
	done      chan struct{}
	closeOnce sync.Once

	// owned by the loop goroutine
	sess         *session
	pendingStart chan startResult

	detGen    uint64
	armCtx    context.Context
	armCancel context.CancelFunc
	armWG     sync.WaitGroup
	armed     bool
	armLive   bool

	timerGen uint64
	silence  clockwork.Timer

	turnGen    uint64
	turnCtx    context.Context
	turnCancel context.CancelFunc

	burst     uint64
	deafUntil time.Time
	speaking  bool

	buf        utteranceBuffer
	inBurst    bool
	burstStart time.Time
	burstMark  int

	fallbackAudio map[Voice][]playback.Chunk

	turns     int
	bargeIns  int
	fallbacks int
	lastErr   error
}

type startResult struct {
	id  string
	err error
}

type (
	startReq struct {
		profile Profile
		reply   chan startResult
	}
	cancelStartReq struct{ reply chan startResult }
	endReq         struct{ reply chan struct{} }
	statusReq      struct{ reply chan Status }
	closeReq       struct{}

	detectorMsg struct {
		gen uint64
		ev  DetectorEvent
	}
	armedMsg struct {
		gen uint64
		err error
	}
	silenceMsg struct{ gen uint64 }
	chatMsg    struct {
		gen  uint64
		text string
		err  error
	}
	synthMsg struct {
		gen      uint64
		chunks   []playback.Chunk
		fallback bool
		err      error
	}
	startedMsg struct{ burst uint64 }
	drainedMsg struct{ burst uint64 }
)

// New creates a coordinator and starts its event loop
func New(cfg Config, deps Dependencies, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid turn config: %w", err)
	}
	if deps.Detector == nil || deps.Chat == nil || deps.LocalSpeech == nil || deps.Player == nil {
		return nil, errors.New("detector, chat client, local synthesizer and player are required")
	}

	c := &Coordinator{
		cfg:           cfg,
		deps:          deps,
		clock:         clockwork.NewRealClock(),
		logger:        zerolog.Nop(),
		box:           newMailbox(),
		done:          make(chan struct{}),
		fallbackAudio: make(map[Voice][]playback.Chunk),
	}
	for _, opt := range opts {
		opt(c)
	}

	deps.Player.SetCallbacks(playback.Callbacks{
		OnPlaybackStarted: func(burst uint64) { c.box.post(startedMsg{burst: burst}) },
		OnDrained:         func(burst uint64) { c.box.post(drainedMsg{burst: burst}) },
	})

	go c.run()
	return c, nil
}

// StartSession begins a hands-free conversation and returns its ID. It
// blocks until capture is armed. Calling it during an active session returns
// the existing session ID.
func (c *Coordinator) StartSession(ctx context.Context, profile Profile) (string, error) {
	reply := make(chan startResult, 1)
	if !c.box.post(startReq{profile: profile, reply: reply}) {
		return "", ErrClosed
	}

	select {
	case r := <-reply:
		return r.id, r.err
	case <-ctx.Done():
	case <-c.done:
		return "", ErrClosed
	}

	// Only the start this call is waiting on is abandoned. A session that
	// is already running, or that came up meanwhile, is left alone.
	if !c.box.post(cancelStartReq{reply: reply}) {
		return "", ErrClosed
	}
	select {
	case r := <-reply:
		if errors.Is(r.err, ErrNoSession) {
			return "", ctx.Err()
		}
		return r.id, r.err
	case <-c.done:
		return "", ErrClosed
	}
}

// EndSession stops everything and returns to Idle. It is safe to call from
// any state and any number of times.
func (c *Coordinator) EndSession() {
	reply := make(chan struct{}, 1)
	if !c.box.post(endReq{reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-c.done:
	}
}

// State returns the current state
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Status returns a snapshot taken on the coordinator goroutine
func (c *Coordinator) Status() Status {
	reply := make(chan Status, 1)
	if !c.box.post(statusReq{reply: reply}) {
		return Status{State: c.State()}
	}
	select {
	case s := <-reply:
		return s
	case <-c.done:
		return Status{State: c.State()}
	}
}

// Close ends any session and stops the event loop
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.box.post(closeReq{})
	})
	<-c.done
	return nil
}

func (c *Coordinator) run() {
	defer close(c.done)

	for range c.box.signal {
		msgs := c.box.drain()
		for i, msg := range msgs {
			if c.handle(msg) {
				continue
			}
			for _, rest := range append(msgs[i+1:], c.box.close()...) {
				c.reject(rest)
			}
			return
		}
	}
}

// handle dispatches one message. It returns false when the loop must stop.
func (c *Coordinator) handle(msg any) bool {
	switch m := msg.(type) {
	case startReq:
		c.handleStart(m)
	case cancelStartReq:
		c.handleCancelStart(m)
	case endReq:
		c.endSession(nil)
		m.reply <- struct{}{}
	case statusReq:
		m.reply <- c.snapshot()
	case closeReq:
		c.endSession(nil)
		return false
	case detectorMsg:
		c.handleDetector(m)
	case armedMsg:
		c.handleArmed(m)
	case silenceMsg:
		c.handleSilence(m)
	case chatMsg:
		c.handleChat(m)
	case synthMsg:
		c.handleSynth(m)
	case startedMsg:
		c.handlePlaybackStarted(m)
	case drainedMsg:
		c.handleDrained(m)
	default:
		c.logger.Error().Str("type", fmt.Sprintf("%T", msg)).Msg("unknown message")
	}
	return true
}

func (c *Coordinator) reject(msg any) {
	switch m := msg.(type) {
	case startReq:
		m.reply <- startResult{err: ErrClosed}
	case endReq:
		m.reply <- struct{}{}
	case statusReq:
		m.reply <- c.snapshot()
	}
}

func (c *Coordinator) handleStart(m startReq) {
	if c.sess != nil {
		c.sess.logger.Debug().Msg("session already active")
		m.reply <- startResult{id: c.sess.id}
		return
	}

	if m.profile.Voice == "" {
		m.profile.Voice = VoiceFemale
	}

	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c.sess = &session{
		id:      id,
		profile: m.profile,
		ctx:     ctx,
		cancel:  cancel,
		logger:  c.logger.With().Str("session", id).Logger(),
	}
	c.lastErr = nil
	c.pendingStart = m.reply

	c.sess.logger.Info().Str("profile", m.profile.Name).Str("voice", string(m.profile.Voice)).Msg("session started")

	c.buf.reset()
	c.setState(Listening)
	c.armDetector("session start")
}

// handleCancelStart ends the session only while it is still waiting for
// capture on behalf of the cancelled caller
func (c *Coordinator) handleCancelStart(m cancelStartReq) {
	if c.sess == nil || c.pendingStart == nil || c.pendingStart != m.reply {
		c.logger.Debug().Msg("cancelled start has nothing pending")
		return
	}
	c.sess.logger.Info().Msg("start cancelled before capture was armed")
	c.endSession(nil)
}

// endSession is the kill switch. cause is nil for a requested end.
func (c *Coordinator) endSession(cause error) {
	if c.sess == nil {
		return
	}
	sess := c.sess

	sess.cancel()
	c.stopDetector()
	c.deps.Player.HardStop()
	c.cancelSilence()
	c.endTurn()
	c.burst = 0
	c.buf.reset()
	c.inBurst = false
	c.setSpeaking(false)

	if c.pendingStart != nil {
		err := cause
		if err == nil {
			err = fmt.Errorf("session ended before capture was armed: %w", ErrNoSession)
		}
		c.pendingStart <- startResult{err: err}
		c.pendingStart = nil
	}

	if cause != nil {
		sess.logger.Error().Err(cause).Msg("session ended")
	} else {
		sess.logger.Info().Int("turns", c.turns).Msg("session ended")
	}

	c.sess = nil
	c.setState(Idle)
}

func (c *Coordinator) fail(err error) {
	c.lastErr = err
	reported := c.pendingStart == nil
	c.endSession(err)
	if reported && c.hooks.OnError != nil {
		c.hooks.OnError(err)
	}
}

func (c *Coordinator) handleDetector(m detectorMsg) {
	if c.sess == nil || m.gen != c.detGen {
		c.logger.Debug().Stringer("event", m.ev.Kind).Uint64("gen", m.gen).Msg("stale detector event ignored")
		return
	}

	switch m.ev.Kind {
	case EventSpeechStarted:
		c.onSpeechStarted()
	case EventSpeechEnded:
		c.onSpeechEnded()
	case EventPartialText:
		c.onPartial(m.ev.Text)
	case EventFinalText:
		c.onFinal(m.ev.Text)
	case EventError:
		c.onDetectorError(m.ev.Err)
	}
}

func (c *Coordinator) onSpeechStarted() {
	switch c.State() {
	case Listening:
		c.cancelSilence()
		c.buf.reset()
		c.beginBurst()
		c.setState(UserSpeaking)
	case UserSpeaking:
		c.cancelSilence()
		c.beginBurst()
	case AiSpeaking:
		c.bargeIn()
	default:
		c.sess.logger.Debug().Stringer("state", c.State()).Msg("speech start ignored")
	}
}

func (c *Coordinator) onSpeechEnded() {
	if c.State() != UserSpeaking {
		c.sess.logger.Debug().Stringer("state", c.State()).Msg("speech end ignored")
		return
	}

	if c.inBurst {
		c.inBurst = false
		if length := c.clock.Since(c.burstStart); length < c.cfg.MinSpeechDuration {
			dropped := c.buf.truncate(c.burstMark)
			c.sess.logger.Debug().Dur("length", length).Int("dropped", dropped).Msg("speech burst too short")
		}
	}

	if c.buf.empty() {
		c.cancelSilence()
		c.buf.reset()
		c.setState(Listening)
		return
	}

	if c.silence == nil {
		c.armSilence()
	}
}

func (c *Coordinator) onPartial(text string) {
	text = strings.TrimSpace(text)
	if c.State() != UserSpeaking || text == "" {
		c.sess.logger.Debug().Stringer("state", c.State()).Msg("partial text ignored")
		return
	}

	c.buf.interim = text
	c.cancelSilence()
	c.publish(Entry{Role: RoleUser, Text: c.buf.live(), Partial: true})
}

func (c *Coordinator) onFinal(text string) {
	text = strings.TrimSpace(text)
	state := c.State()
	if state != Listening && state != UserSpeaking {
		c.sess.logger.Debug().Stringer("state", state).Msg("final text ignored")
		return
	}
	if text == "" || utf8.RuneCountInString(text) < c.cfg.MinFragmentChars {
		c.sess.logger.Debug().Str("text", text).Msg("fragment below minimum length")
		return
	}

	// detectors without a separate speech start event
	if state == Listening {
		c.buf.reset()
		c.beginBurst()
		c.setState(UserSpeaking)
	}

	c.buf.append(text)
	c.publish(Entry{Role: RoleUser, Text: c.buf.text(), Partial: true})
	c.armSilence()
}

func (c *Coordinator) onDetectorError(err error) {
	if err == nil {
		err = ErrDetectorTransient
	}
	if errors.Is(err, ErrCaptureUnavailable) {
		c.fail(err)
		return
	}

	c.sess.logger.Warn().Err(err).Stringer("state", c.State()).Msg("detector error")
	switch c.State() {
	case Listening, UserSpeaking:
		c.armDetector("detector error")
	case AiSpeaking:
		if c.cfg.BargeIn {
			c.armDetector("detector error")
		}
	}
}

func (c *Coordinator) beginBurst() {
	c.inBurst = true
	c.burstStart = c.clock.Now()
	c.burstMark = c.buf.len()
}

func (c *Coordinator) armSilence() {
	c.cancelSilence()
	gen := c.timerGen
	c.silence = c.clock.AfterFunc(c.cfg.SilenceThreshold, func() {
		c.box.post(silenceMsg{gen: gen})
	})
}

func (c *Coordinator) cancelSilence() {
	if c.silence != nil {
		c.silence.Stop()
		c.silence = nil
	}
	// a firing that is already in the mailbox becomes stale
	c.timerGen++
}

func (c *Coordinator) handleSilence(m silenceMsg) {
	if c.sess == nil || m.gen != c.timerGen || c.State() != UserSpeaking {
		c.logger.Debug().Uint64("gen", m.gen).Msg("stale silence timer ignored")
		return
	}
	c.silence = nil
	c.inBurst = false

	utterance := c.buf.take()
	if utterance == "" {
		c.setState(Listening)
		return
	}

	c.stopDetector()
	gen := c.beginTurn()
	c.setState(Processing)
	c.publish(Entry{Role: RoleUser, Text: utterance})

	req := ChatRequest{SessionID: c.sess.id, Utterance: utterance, Profile: c.sess.profile}
	ctx := c.turnCtx
	timeout := c.cfg.chatTimeout()
	c.sess.logger.Info().Str("utterance", utterance).Uint64("turn", gen).Msg("user turn complete")

	go func() {
		cctx, cancel := clockwork.WithTimeout(ctx, c.clock, timeout)
		defer cancel()
		text, err := c.deps.Chat.Reply(cctx, req)
		c.box.post(chatMsg{gen: gen, text: text, err: err})
	}()
}

func (c *Coordinator) handleChat(m chatMsg) {
	if c.sess == nil || m.gen != c.turnGen || c.State() != Processing {
		c.logger.Debug().Uint64("turn", m.gen).Msg("stale chat response ignored")
		return
	}

	text := strings.TrimSpace(m.text)
	err := m.err
	if err == nil && text == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		c.fallbacks++
		c.sess.logger.Warn().Err(fmt.Errorf("%w: %w", ErrAICallFailed, err)).Msg("using fallback phrase")
		c.speakFallback(m.gen)
		return
	}

	c.publish(Entry{Role: RoleCompanion, Text: text})
	c.synthesize(m.gen, text)
}

func (c *Coordinator) synthesize(gen uint64, text string) {
	req := SpeechRequest{SessionID: c.sess.id, Text: text, Voice: c.sess.profile.Voice}
	ctx := c.turnCtx
	logger := c.sess.logger

	go func() {
		if c.deps.Speech != nil {
			sctx, cancel := clockwork.WithTimeout(ctx, c.clock, c.cfg.SynthesisTimeout)
			chunks, err := c.deps.Speech.Synthesize(sctx, req)
			cancel()
			if err == nil && len(chunks) > 0 {
				c.box.post(synthMsg{gen: gen, chunks: chunks})
				return
			}
			if err == nil {
				err = errors.New("no audio returned")
			}
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(fmt.Errorf("%w: %w", ErrSynthesisFailed, err)).Msg("falling back to local synthesis")
		}

		lctx, cancel := clockwork.WithTimeout(ctx, c.clock, c.cfg.SynthesisTimeout)
		defer cancel()
		chunks, err := c.deps.LocalSpeech.Synthesize(lctx, req)
		c.box.post(synthMsg{gen: gen, chunks: chunks, err: err})
	}()
}

func (c *Coordinator) speakFallback(gen uint64) {
	voice := c.sess.profile.Voice
	c.publish(Entry{Role: RoleCompanion, Text: c.cfg.FallbackPhrase, Fallback: true})

	if chunks, ok := c.fallbackAudio[voice]; ok {
		c.enterAiSpeaking(chunks)
		return
	}

	req := SpeechRequest{SessionID: c.sess.id, Text: c.cfg.FallbackPhrase, Voice: voice}
	ctx := c.turnCtx
	go func() {
		lctx, cancel := clockwork.WithTimeout(ctx, c.clock, c.cfg.SynthesisTimeout)
		defer cancel()
		chunks, err := c.deps.LocalSpeech.Synthesize(lctx, req)
		c.box.post(synthMsg{gen: gen, chunks: chunks, fallback: true, err: err})
	}()
}

func (c *Coordinator) handleSynth(m synthMsg) {
	if c.sess == nil || m.gen != c.turnGen || c.State() != Processing {
		c.logger.Debug().Uint64("turn", m.gen).Msg("stale synthesis result ignored")
		return
	}

	if m.err == nil && len(m.chunks) == 0 {
		m.err = errors.New("no audio returned")
	}
	if m.err != nil {
		c.sess.logger.Error().Err(m.err).Msg("local synthesis failed")
		c.returnToListening("synthesis failed")
		return
	}

	if m.fallback {
		c.fallbackAudio[c.sess.profile.Voice] = m.chunks
	}
	c.enterAiSpeaking(m.chunks)
}

func (c *Coordinator) enterAiSpeaking(chunks []playback.Chunk) {
	burst, err := c.deps.Player.Enqueue(chunks...)
	if err != nil {
		c.sess.logger.Error().Err(err).Msg("failed to enqueue audio")
		c.returnToListening("enqueue failed")
		return
	}

	c.burst = burst
	c.deafUntil = c.clock.Now().Add(c.cfg.DeafPeriod)
	c.setState(AiSpeaking)
	c.sess.logger.Debug().Uint64("burst", burst).Int("chunks", len(chunks)).Msg("companion speaking")

	if c.cfg.BargeIn {
		c.armDetector("barge-in watch")
	}
}

func (c *Coordinator) handlePlaybackStarted(m startedMsg) {
	if c.sess == nil || c.State() != AiSpeaking || m.burst != c.burst {
		c.logger.Debug().Uint64("burst", m.burst).Msg("stale playback start ignored")
		return
	}
	c.deafUntil = c.clock.Now().Add(c.cfg.DeafPeriod)
	c.setSpeaking(true)
}

func (c *Coordinator) handleDrained(m drainedMsg) {
	if c.sess == nil || c.State() != AiSpeaking || m.burst != c.burst {
		c.logger.Debug().Uint64("burst", m.burst).Msg("stale drain ignored")
		return
	}
	c.turns++
	c.returnToListening("playback drained")
}

func (c *Coordinator) bargeIn() {
	now := c.clock.Now()
	if now.Before(c.deafUntil) {
		c.sess.logger.Debug().Dur("remaining", c.deafUntil.Sub(now)).Msg("speech during deaf window ignored")
		return
	}
	if !c.cfg.BargeIn {
		return
	}

	c.bargeIns++
	c.sess.logger.Info().Uint64("burst", c.burst).Msg("barge-in")
	c.deps.Player.Interrupt()
	c.burst = 0
	c.endTurn()
	c.setSpeaking(false)
	c.buf.reset()
	c.beginBurst()
	c.setState(UserSpeaking)
}

func (c *Coordinator) returnToListening(reason string) {
	c.endTurn()
	c.burst = 0
	c.cancelSilence()
	c.buf.reset()
	c.inBurst = false
	c.setSpeaking(false)
	c.setState(Listening)
	c.retargetDetector(reason)
}

func (c *Coordinator) beginTurn() uint64 {
	c.endTurn()
	c.turnCtx, c.turnCancel = context.WithCancel(c.sess.ctx)
	return c.turnGen
}

// endTurn invalidates any outstanding chat or synthesis result
func (c *Coordinator) endTurn() {
	c.turnGen++
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	c.turnCtx = nil
}

func (c *Coordinator) setState(to State) {
	from := c.State()
	if from == to {
		return
	}
	c.state.Store(int32(to))
	c.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("state change")
	if c.hooks.OnStateChange != nil {
		c.hooks.OnStateChange(from, to)
	}
}

func (c *Coordinator) setSpeaking(speaking bool) {
	if c.speaking == speaking {
		return
	}
	c.speaking = speaking
	if c.hooks.OnSpeakingChanged != nil {
		c.hooks.OnSpeakingChanged(speaking)
	}
}

func (c *Coordinator) publish(entry Entry) {
	if c.hooks.OnTranscript == nil {
		return
	}
	if c.sess != nil {
		entry.SessionID = c.sess.id
	}
	c.hooks.OnTranscript(entry)
}

func (c *Coordinator) snapshot() Status {
	s := Status{
		State:     c.State(),
		Utterance: c.buf.text(),
		Interim:   c.buf.interim,
		Speaking:  c.speaking,
		Capturing: c.armLive,
		Turns:     c.turns,
		BargeIns:  c.bargeIns,
		Fallbacks: c.fallbacks,
		LastError: c.lastErr,
	}
	if c.sess != nil {
		s.SessionID = c.sess.id
		s.Profile = c.sess.profile.Name
	}
	return s
}
