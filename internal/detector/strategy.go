package detector

import (
	"context"
	"strings"

	"github.com/emmett/companion/internal/audio"
	"github.com/emmett/companion/internal/stt"
	"github.com/emmett/companion/internal/turn"
)

type strategy interface {
	process(ctx context.Context, frame []byte) error
}

// transcript deduplicates recognizer output into detector events
type transcript struct {
	emit    func(turn.DetectorEvent)
	partial string
}

func (t *transcript) onPartial(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || text == t.partial {
		return false
	}
	t.partial = text
	t.emit(turn.DetectorEvent{Kind: turn.EventPartialText, Text: text})
	return true
}

func (t *transcript) onFinal(text string) bool {
	t.partial = ""
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	t.emit(turn.DetectorEvent{Kind: turn.EventFinalText, Text: text})
	return true
}

func newGated(engine stt.Engine, emit func(turn.DetectorEvent), vad audio.VADConfig, preRoll int) *gated {
	return &gated{
		engine:  engine,
		emit:    emit,
		vad:     audio.NewVAD(vad),
		preRoll: max(preRoll, 0),
		text:    transcript{emit: emit},
	}
}

// gated runs the recognizer only while the VAD hears speech
type gated struct {
	engine  stt.Engine
	emit    func(turn.DetectorEvent)
	vad     *audio.VAD
	preRoll int

	text   transcript
	recent [][]byte
}

func (g *gated) process(ctx context.Context, frame []byte) error {
	res := g.vad.ProcessFrame(frame)

	if !res.Active && !res.Ended {
		g.remember(frame)
		return nil
	}

	if res.Started {
		g.emit(turn.DetectorEvent{Kind: turn.EventSpeechStarted})
		for _, f := range g.recent {
			if err := g.feed(ctx, f); err != nil {
				return err
			}
		}
		g.recent = g.recent[:0]
	}

	if err := g.feed(ctx, frame); err != nil {
		return err
	}

	if res.Ended {
		r, err := g.engine.FinalResult()
		if err != nil {
			return err
		}
		g.text.onFinal(r.Text)
		g.emit(turn.DetectorEvent{Kind: turn.EventSpeechEnded})
	}
	return nil
}

func (g *gated) feed(ctx context.Context, frame []byte) error {
	r, err := g.engine.ProcessAudio(ctx, frame)
	if err != nil {
		return err
	}
	if r.Partial {
		g.text.onPartial(r.Text)
	} else {
		g.text.onFinal(r.Text)
	}
	return nil
}

func (g *gated) remember(frame []byte) {
	if g.preRoll == 0 {
		return
	}
	if len(g.recent) == g.preRoll {
		copy(g.recent, g.recent[1:])
		g.recent = g.recent[:g.preRoll-1]
	}
	g.recent = append(g.recent, frame)
}

func newContinuous(engine stt.Engine, emit func(turn.DetectorEvent)) *continuous {
	return &continuous{engine: engine, emit: emit, text: transcript{emit: emit}}
}

// continuous feeds everything to the recognizer; its endpoints become the
// speech boundaries
type continuous struct {
	engine   stt.Engine
	emit     func(turn.DetectorEvent)
	text     transcript
	speaking bool
}

func (c *continuous) process(ctx context.Context, frame []byte) error {
	r, err := c.engine.ProcessAudio(ctx, frame)
	if err != nil {
		return err
	}

	if r.Partial {
		if strings.TrimSpace(r.Text) == "" {
			return nil
		}
		c.start()
		c.text.onPartial(r.Text)
		return nil
	}

	if strings.TrimSpace(r.Text) != "" {
		c.start()
	}
	c.text.onFinal(r.Text)
	if c.speaking {
		c.speaking = false
		c.emit(turn.DetectorEvent{Kind: turn.EventSpeechEnded})
	}
	return nil
}

func (c *continuous) start() {
	if c.speaking {
		return
	}
	c.speaking = true
	c.emit(turn.DetectorEvent{Kind: turn.EventSpeechStarted})
}
