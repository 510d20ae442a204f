package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/emmett/companion/internal/playback"
	"github.com/emmett/companion/internal/turn"
)

// Local adapts an Engine to the coordinator's synthesizer interface
type Local struct {
	engine Engine
}

// NewLocal wraps an initialized engine
func NewLocal(engine Engine) *Local {
	return &Local{engine: engine}
}

// Synthesize renders the whole text and returns it as ordered chunks
func (l *Local) Synthesize(ctx context.Context, req turn.SpeechRequest) ([]playback.Chunk, error) {
	if !l.engine.IsInitialized() {
		return nil, fmt.Errorf("%w: local voice not available", turn.ErrSynthesisFailed)
	}

	var chunks []playback.Chunk
	err := l.engine.Synthesize(ctx, SynthesizeRequest{
		Text:  req.Text,
		Voice: l.voiceFor(req.Voice),
		Speed: 1,
	}, func(c AudioChunk) error {
		chunks = append(chunks, playback.Chunk{
			Seq:        len(chunks) + 1,
			Data:       c.Data,
			SampleRate: c.SampleRate,
			Channels:   c.Channels,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: local voice: %w", turn.ErrSynthesisFailed, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %w", turn.ErrSynthesisFailed, errors.New("local voice produced no audio"))
	}
	return chunks, nil
}

// voiceFor picks the first installed voice matching the hint
func (l *Local) voiceFor(hint turn.Voice) string {
	voices := l.engine.ListVoices()
	for _, v := range voices {
		if v.Gender == string(hint) {
			return v.ID
		}
	}
	if len(voices) > 0 {
		return voices[0].ID
	}
	return ""
}
