// Package system assembles the companion from real devices, engines and
// network clients.
package system

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/emmett/companion/internal/ai"
	"github.com/emmett/companion/internal/app"
	"github.com/emmett/companion/internal/audio/device"
	"github.com/emmett/companion/internal/config"
	"github.com/emmett/companion/internal/detector"
	"github.com/emmett/companion/internal/speechsvc"
	"github.com/emmett/companion/internal/speechsvc/opusdec"
	"github.com/emmett/companion/internal/stt"
	"github.com/emmett/companion/internal/stt/vosk"
	"github.com/emmett/companion/internal/tts"
	"github.com/emmett/companion/internal/turn"
)

// Build creates every part the companion needs. Models and voices are
// fetched through mm when missing.
func Build(ctx context.Context, cfg *config.Config, mm *app.ModelManager, logger zerolog.Logger) (parts app.Parts, err error) {
	defer func() {
		if err != nil {
			parts.Close()
			parts = app.Parts{}
		}
	}()

	dc, err := app.DetectorConfig(cfg)
	if err != nil {
		return parts, err
	}
	if window := app.VADSilenceWindow(dc); dc.Strategy == detector.StrategyVAD && window >= cfg.Turn.SilenceThreshold {
		logger.Warn().Dur("vad_window", window).Dur("silence_threshold", cfg.Turn.SilenceThreshold).
			Msg("VAD silence window is longer than the turn silence threshold")
	}

	// Recognizer
	modelName := mm.SelectModel(cfg.Models.Default)
	modelPath, err := mm.Ensure(ctx, modelName, cfg.Models.AutoDownload)
	if err != nil {
		return parts, err
	}
	engine := vosk.New()
	sc := stt.DefaultConfig(modelPath)
	sc.SampleRate = int(dc.Capture.SampleRate)
	if err := engine.Initialize(sc); err != nil {
		return parts, fmt.Errorf("failed to initialize speech recognition: %w", err)
	}
	parts.Closers = append(parts.Closers, engine)
	logger.Info().Str("model", modelName).Msg("speech recognition ready")

	parts.Detector, err = detector.New(dc, engine, device.Factory(logger),
		detector.WithLogger(logger),
		detector.WithProbe(func() error { return device.CheckCapture(cfg.Audio.Device) }),
	)
	if err != nil {
		return parts, err
	}

	// Chat
	client, err := ai.NewClient(ai.ClientConfig{
		APIKey:     cfg.AI.APIKey,
		BaseURL:    cfg.AI.BaseURL,
		MaxRetries: cfg.AI.MaxRetries,
		Timeout:    cfg.AI.Timeout,
	})
	if err != nil {
		return parts, fmt.Errorf("chat backend: %w (set ai.api_key or %s)", err, config.APIKeyEnv)
	}
	parts.Chat = ai.NewChat(client, ai.ChatConfig{
		Model:        cfg.AI.ChatModel,
		SystemPrompt: cfg.AI.SystemPrompt,
		MaxHistory:   cfg.AI.MaxHistory,
		MaxTokens:    cfg.AI.MaxTokens,
		Temperature:  cfg.AI.Temperature,
	}, logger)

	// Remote voice
	switch cfg.Speech.Provider {
	case config.ProviderOpenAI:
		parts.Speech = ai.NewSpeech(client, ai.SpeechConfig{
			Model:         cfg.Speech.Model,
			FemaleVoice:   cfg.Speech.FemaleVoice,
			MaleVoice:     cfg.Speech.MaleVoice,
			Speed:         cfg.Speech.Speed,
			ChunkDuration: cfg.Speech.ChunkDuration,
		}, logger)
	case config.ProviderService:
		sc := speechsvc.DefaultConfig()
		sc.URL = cfg.Speech.ServiceURL
		sc.FemaleVoice = cfg.Speech.FemaleVoice
		sc.MaleVoice = cfg.Speech.MaleVoice
		if cfg.Speech.SampleRate > 0 {
			sc.SampleRate = cfg.Speech.SampleRate
		}
		if cfg.Speech.ChunkDuration > 0 {
			sc.ChunkDuration = cfg.Speech.ChunkDuration
		}
		parts.Speech = speechsvc.New(sc, opusdec.New, speechsvc.WithLogger(logger))
	}

	// Local voice
	local, closer, err := localVoice(ctx, cfg, mm, logger)
	switch {
	case err == nil:
		parts.LocalSpeech = local
		parts.Closers = append(parts.Closers, closer)
	case parts.Speech == nil:
		return parts, fmt.Errorf("local voice: %w", err)
	default:
		logger.Warn().Err(err).Msg("local voice unavailable, fallback audio uses the remote voice")
		parts.LocalSpeech = parts.Speech
	}

	sink := device.NewSink(device.SinkConfig{
		DeviceID:       cfg.Audio.OutputDevice,
		BufferDuration: cfg.Playback.BufferDuration,
	}, logger)
	parts.Sink = sink
	parts.Closers = append(parts.Closers, sink)

	return parts, nil
}

func localVoice(ctx context.Context, cfg *config.Config, mm *app.ModelManager, logger zerolog.Logger) (turn.Synthesizer, io.Closer, error) {
	if !cfg.LocalTTS.Enabled {
		return nil, nil, errors.New("disabled")
	}

	var voices []tts.Voice
	wanted := []struct{ gender, name string }{
		{"female", cfg.LocalTTS.FemaleVoice},
		{"male", cfg.LocalTTS.MaleVoice},
	}
	for _, w := range wanted {
		gender, name := w.gender, w.name
		if name == "" {
			continue
		}
		if _, err := mm.Ensure(ctx, name, cfg.Models.AutoDownload); err != nil {
			logger.Warn().Err(err).Str("voice", name).Msg("local voice not installed")
			continue
		}
		path, err := mm.Store().VoicePath(name)
		if err != nil {
			continue
		}
		voices = append(voices, tts.Voice{ID: name, Name: name, Gender: gender, ModelPath: path})
	}

	tc := tts.DefaultConfig()
	tc.Binary = cfg.LocalTTS.Binary
	tc.Voices = voices

	engine := tts.NewPiperEngine()
	if err := engine.Initialize(tc); err != nil {
		return nil, nil, err
	}
	logger.Info().Int("voices", len(engine.ListVoices())).Msg("local voice ready")
	return tts.NewLocal(engine), engine, nil
}
