package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/emmett/companion/internal/audio"
)

// PiperEngine implements the Engine interface by running the piper binary
// with raw PCM output
type PiperEngine struct {
	config      Config
	binary      string
	mu          sync.Mutex
	initialized bool
	voices      []Voice
}

// NewPiperEngine creates a new Piper TTS engine
func NewPiperEngine() *PiperEngine {
	return &PiperEngine{}
}

// Initialize resolves the binary and keeps the voices whose models exist
func (p *PiperEngine) Initialize(config Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return fmt.Errorf("engine already initialized")
	}
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultConfig().SampleRate
	}
	if config.ChunkDuration <= 0 {
		config.ChunkDuration = DefaultConfig().ChunkDuration
	}

	binary, err := exec.LookPath(config.Binary)
	if err != nil {
		return fmt.Errorf("piper not found: %w", err)
	}

	var voices []Voice
	for _, v := range config.Voices {
		if _, err := os.Stat(v.ModelPath); err != nil {
			continue
		}
		voices = append(voices, v)
	}
	if len(voices) == 0 {
		return fmt.Errorf("no piper voice models installed")
	}

	p.config = config
	p.binary = binary
	p.voices = voices
	p.initialized = true
	return nil
}

// Synthesize runs piper once and streams its output in chunks
func (p *PiperEngine) Synthesize(ctx context.Context, req SynthesizeRequest, callback AudioCallback) error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return fmt.Errorf("engine not initialized")
	}
	binary, config := p.binary, p.config
	voice := p.voiceLocked(req.Voice)
	p.mu.Unlock()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return errors.New("nothing to synthesize")
	}

	args := []string{"--model", voice.ModelPath, "--output-raw"}
	if req.Speed > 0 && req.Speed != 1 {
		args = append(args, "--length_scale", fmt.Sprintf("%.2f", 1/req.Speed))
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = strings.NewReader(text + "\n")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open piper output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start piper: %w", err)
	}

	size := audio.PCMBytes(config.ChunkDuration, config.SampleRate, 1)
	readErr := stream(stdout, size, func(data []byte) error {
		return callback(AudioChunk{Data: data, SampleRate: config.SampleRate, Channels: 1})
	})
	if readErr != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	switch {
	case readErr != nil:
		return readErr
	case ctx.Err() != nil:
		return ctx.Err()
	case waitErr != nil:
		return fmt.Errorf("piper failed: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func stream(r io.Reader, size int, emit func([]byte) error) error {
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		// keep whole samples
		if n -= n % 2; n > 0 {
			if emitErr := emit(buf[:n]); emitErr != nil {
				return emitErr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read piper output: %w", err)
		}
	}
}

func (p *PiperEngine) voiceLocked(id string) Voice {
	for _, v := range p.voices {
		if v.ID == id {
			return v
		}
	}
	return p.voices[0]
}

// ListVoices returns the installed voices
func (p *PiperEngine) ListVoices() []Voice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Voice(nil), p.voices...)
}

// Close releases resources
func (p *PiperEngine) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = false
	return nil
}

// IsInitialized returns true if engine is ready
func (p *PiperEngine) IsInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}
