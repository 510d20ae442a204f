package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go"
	"github.com/rs/zerolog"

	"github.com/emmett/companion/internal/audio"
	"github.com/emmett/companion/internal/playback"
	"github.com/emmett/companion/internal/turn"
)

// SpeechSampleRate is the rate of the pcm response format
const SpeechSampleRate = 24000

// SpeechConfig holds synthesis settings
type SpeechConfig struct {
	Model       string
	FemaleVoice string
	MaleVoice   string
	Speed       float64

	// ChunkDuration is the size of each playback chunk
	ChunkDuration time.Duration
}

// DefaultSpeechConfig returns the synthesis defaults
func DefaultSpeechConfig() SpeechConfig {
	return SpeechConfig{
		Model:         openai.SpeechModelTTS1,
		FemaleVoice:   string(openai.AudioSpeechNewParamsVoiceNova),
		MaleVoice:     string(openai.AudioSpeechNewParamsVoiceOnyx),
		Speed:         1,
		ChunkDuration: 250 * time.Millisecond,
	}
}

// Speech implements turn.Synthesizer with the speech endpoint
type Speech struct {
	client *openai.Client
	config SpeechConfig
	logger zerolog.Logger
}

// NewSpeech creates a synthesizer
func NewSpeech(client *openai.Client, config SpeechConfig, logger zerolog.Logger) *Speech {
	defaults := DefaultSpeechConfig()
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.FemaleVoice == "" {
		config.FemaleVoice = defaults.FemaleVoice
	}
	if config.MaleVoice == "" {
		config.MaleVoice = defaults.MaleVoice
	}
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = defaults.ChunkDuration
	}
	return &Speech{
		client: client,
		config: config,
		logger: logger.With().Str("component", "speech").Logger(),
	}
}

// Synthesize renders text as 24 kHz mono chunks
func (s *Speech) Synthesize(ctx context.Context, req turn.SpeechRequest) ([]playback.Chunk, error) {
	params := openai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          s.config.Model,
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice(req.Voice)),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if s.config.Speed > 0 && s.config.Speed != 1 {
		params.Speed = openai.Float(s.config.Speed)
	}

	resp, err := s.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: speech: %w", turn.ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read speech audio: %w", turn.ErrSynthesisFailed, err)
	}
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: %w", turn.ErrSynthesisFailed, errors.New("speech returned no audio"))
	}

	size := audio.PCMBytes(s.config.ChunkDuration, SpeechSampleRate, 1)
	parts := audio.SplitPCM(data[:len(data)-len(data)%2], size, 1)
	chunks := make([]playback.Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, playback.Chunk{Seq: i + 1, Data: p, SampleRate: SpeechSampleRate, Channels: 1})
	}

	s.logger.Debug().Str("session", req.SessionID).Int("bytes", len(data)).Int("chunks", len(chunks)).Msg("speech synthesized")
	return chunks, nil
}

func (s *Speech) voice(v turn.Voice) string {
	if v == turn.VoiceMale {
		return s.config.MaleVoice
	}
	return s.config.FemaleVoice
}
