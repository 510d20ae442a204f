// Package vosk implements stt.Engine with the offline Vosk recognizer.
package vosk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/emmett/companion/internal/stt"
)

// Engine implements stt.Engine using Vosk
type Engine struct {
	model       *vosk.VoskModel
	recognizer  *vosk.VoskRecognizer
	config      stt.Config
	mu          sync.Mutex
	initialized bool
}

type voskResult struct {
	Text   string `json:"text"`
	Result []struct {
		Conf float64 `json:"conf"`
		Word string  `json:"word"`
	} `json:"result,omitempty"`
	Partial string `json:"partial,omitempty"`
}

// New creates an uninitialized Vosk engine
func New() *Engine {
	return &Engine{}
}

// Initialize loads the model and creates the recognizer
func (e *Engine) Initialize(config stt.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return fmt.Errorf("engine already initialized")
	}

	vosk.SetLogLevel(-1)

	model, err := vosk.NewModel(config.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to load model from %s: %w", config.ModelPath, err)
	}
	if model == nil {
		return fmt.Errorf("failed to load model from %s: model returned nil", config.ModelPath)
	}

	recognizer, err := vosk.NewRecognizer(model, float64(config.SampleRate))
	if err != nil {
		model.Free()
		return fmt.Errorf("failed to create recognizer: %w", err)
	}
	if config.MaxAlternatives > 0 {
		recognizer.SetMaxAlternatives(config.MaxAlternatives)
	}
	// word results carry the confidence scores
	recognizer.SetWords(1)

	e.model = model
	e.recognizer = recognizer
	e.config = config
	e.initialized = true
	return nil
}

// ProcessAudio feeds one period of audio
func (e *Engine) ProcessAudio(ctx context.Context, audioData []byte) (*stt.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, fmt.Errorf("engine not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if e.recognizer.AcceptWaveform(audioData) > 0 {
		return parse(e.recognizer.Result(), false)
	}
	return parse(e.recognizer.PartialResult(), true)
}

// FinalResult flushes the recognizer
func (e *Engine) FinalResult() (*stt.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil, fmt.Errorf("engine not initialized")
	}
	return parse(e.recognizer.FinalResult(), false)
}

// Reset drops the pending hypothesis
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return fmt.Errorf("engine not initialized")
	}
	// flushing resets the recognizer
	_ = e.recognizer.FinalResult()
	return nil
}

// Close releases the recognizer and the model
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}
	if e.recognizer != nil {
		e.recognizer.Free()
		e.recognizer = nil
	}
	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	e.initialized = false
	return nil
}

// IsInitialized returns true if the engine is initialized
func (e *Engine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

func parse(raw string, partial bool) (*stt.Result, error) {
	var r voskResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}

	if partial {
		return &stt.Result{Text: r.Partial, Partial: true}, nil
	}

	res := &stt.Result{Text: r.Text}
	if len(r.Result) > 0 {
		var sum float64
		for _, w := range r.Result {
			sum += w.Conf
		}
		res.Confidence = sum / float64(len(r.Result))
	}
	return res, nil
}
