// Package speechsvc is a client for an HTTP speech synthesis service that
// answers with base64 encoded opus frames.
package speechsvc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/emmett/companion/internal/audio"
	"github.com/emmett/companion/internal/playback"
	"github.com/emmett/companion/internal/turn"
)

// Decoder turns one compressed frame into 16-bit PCM
type Decoder interface {
	Decode(frame []byte) ([]byte, error)
}

// DecoderFactory creates a decoder for one response. Opus decoders carry
// state between frames so each response gets a fresh one.
type DecoderFactory func(sampleRate, channels int) (Decoder, error)

// Config holds the service settings
type Config struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	SampleRate int           `yaml:"sample_rate"`
	Channels   int           `yaml:"channels"`

	FemaleVoice string `yaml:"female_voice"`
	MaleVoice   string `yaml:"male_voice"`

	ChunkDuration time.Duration `yaml:"chunk_duration"`
}

// DefaultConfig returns the service defaults
func DefaultConfig() Config {
	return Config{
		URL:           "http://127.0.0.1:8000/tts",
		Timeout:       15 * time.Second,
		SampleRate:    16000,
		Channels:      1,
		FemaleVoice:   "female",
		MaleVoice:     "male",
		ChunkDuration: 240 * time.Millisecond,
	}
}

type request struct {
	Text   string         `json:"text"`
	Config map[string]any `json:"config"`
}

type response struct {
	Status        string   `json:"status"`
	AudioData     []string `json:"audio_data"`
	Duration      float64  `json:"duration"`
	Format        string   `json:"format"`
	FrameDuration int      `json:"frame_duration"`
	Message       string   `json:"message,omitempty"`
}

// Client implements turn.Synthesizer against the speech service
type Client struct {
	config     Config
	newDecoder DecoderFactory
	http       *http.Client
	logger     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l.With().Str("component", "speechsvc").Logger() }
}

// New creates a client
func New(config Config, newDecoder DecoderFactory, opts ...Option) *Client {
	defaults := DefaultConfig()
	if config.SampleRate <= 0 {
		config.SampleRate = defaults.SampleRate
	}
	if config.Channels <= 0 {
		config.Channels = defaults.Channels
	}
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = defaults.ChunkDuration
	}
	c := &Client{
		config:     config,
		newDecoder: newDecoder,
		http:       &http.Client{Timeout: config.Timeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Synthesize requests speech for req.Text and returns PCM chunks
func (c *Client) Synthesize(ctx context.Context, req turn.SpeechRequest) ([]playback.Chunk, error) {
	frames, err := c.fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", turn.ErrSynthesisFailed, err)
	}

	dec, err := c.newDecoder(c.config.SampleRate, c.config.Channels)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create decoder: %w", turn.ErrSynthesisFailed, err)
	}

	var pcm []byte
	for i, frame := range frames {
		data, err := dec.Decode(frame)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode frame %d: %w", turn.ErrSynthesisFailed, i, err)
		}
		pcm = append(pcm, data...)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: speech service returned no audio", turn.ErrSynthesisFailed)
	}

	size := audio.PCMBytes(c.config.ChunkDuration, c.config.SampleRate, c.config.Channels)
	parts := audio.SplitPCM(pcm, size, c.config.Channels)
	chunks := make([]playback.Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, playback.Chunk{
			Seq:        i + 1,
			Data:       p,
			SampleRate: c.config.SampleRate,
			Channels:   c.config.Channels,
		})
	}

	c.logger.Debug().
		Str("session", req.SessionID).
		Int("frames", len(frames)).
		Dur("duration", audio.PCMDuration(len(pcm), c.config.SampleRate, c.config.Channels)).
		Msg("speech synthesized")
	return chunks, nil
}

func (c *Client) fetch(ctx context.Context, req turn.SpeechRequest) ([][]byte, error) {
	voice := c.config.FemaleVoice
	if req.Voice == turn.VoiceMale {
		voice = c.config.MaleVoice
	}

	body, err := json.Marshal(request{
		Text: req.Text,
		Config: map[string]any{
			"voice":      voice,
			"session_id": req.SessionID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call speech service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("speech service status %q: %s", out.Status, out.Message)
	}
	if out.Format != "" && out.Format != "opus" {
		return nil, fmt.Errorf("unsupported audio format %q", out.Format)
	}

	frames := make([][]byte, len(out.AudioData))
	for i, s := range out.AudioData {
		frames[i], err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame %d: %w", i, err)
		}
	}
	return frames, nil
}
