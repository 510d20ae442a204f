package tts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/companion/internal/turn"
)

type fakeEngine struct {
	voices []Voice
	ready  bool
	chunks [][]byte
	err    error
	got    []SynthesizeRequest
}

func (f *fakeEngine) Initialize(Config) error { return nil }

func (f *fakeEngine) Synthesize(ctx context.Context, req SynthesizeRequest, cb AudioCallback) error {
	f.got = append(f.got, req)
	for _, c := range f.chunks {
		if err := cb(AudioChunk{Data: c, SampleRate: 22050, Channels: 1}); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeEngine) ListVoices() []Voice { return f.voices }
func (f *fakeEngine) Close() error        { return nil }
func (f *fakeEngine) IsInitialized() bool { return f.ready }

var voices = []Voice{
	{ID: "en_US-lessac-medium", Gender: "female"},
	{ID: "en_US-ryan-medium", Gender: "male"},
}

func TestLocalSynthesize(t *testing.T) {
	engine := &fakeEngine{voices: voices, ready: true, chunks: [][]byte{{1, 2}, {3, 4}}}
	local := NewLocal(engine)

	chunks, err := local.Synthesize(context.Background(), turn.SpeechRequest{Text: "hello", Voice: turn.VoiceMale})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].Seq)
	assert.Equal(t, 2, chunks[1].Seq)
	assert.Equal(t, 22050, chunks[1].SampleRate)
	assert.Equal(t, "en_US-ryan-medium", engine.got[0].Voice)

	_, err = local.Synthesize(context.Background(), turn.SpeechRequest{Text: "hi", Voice: turn.VoiceFemale})
	require.NoError(t, err)
	assert.Equal(t, "en_US-lessac-medium", engine.got[1].Voice)
}

func TestLocalFallsBackToAnyVoice(t *testing.T) {
	engine := &fakeEngine{voices: voices[1:], ready: true, chunks: [][]byte{{1, 2}}}
	_, err := NewLocal(engine).Synthesize(context.Background(), turn.SpeechRequest{Text: "hi", Voice: turn.VoiceFemale})
	require.NoError(t, err)
	assert.Equal(t, "en_US-ryan-medium", engine.got[0].Voice)
}

func TestLocalErrors(t *testing.T) {
	_, err := NewLocal(&fakeEngine{}).Synthesize(context.Background(), turn.SpeechRequest{Text: "hi"})
	assert.ErrorIs(t, err, turn.ErrSynthesisFailed)

	_, err = NewLocal(&fakeEngine{ready: true, voices: voices}).Synthesize(context.Background(), turn.SpeechRequest{Text: "hi"})
	assert.ErrorIs(t, err, turn.ErrSynthesisFailed, "no audio")

	failing := &fakeEngine{ready: true, voices: voices, err: errors.New("crashed")}
	_, err = NewLocal(failing).Synthesize(context.Background(), turn.SpeechRequest{Text: "hi"})
	assert.ErrorIs(t, err, turn.ErrSynthesisFailed)
}

// fakePiper writes a script that swallows stdin and prints size bytes
func fakePiper(t *testing.T, size int) (binary, model string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dir := t.TempDir()
	binary = filepath.Join(dir, "piper")
	script := "#!/bin/sh\ncat >/dev/null\nhead -c " + strconv.Itoa(size) + " /dev/zero\n"
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))

	model = filepath.Join(dir, "voice.onnx")
	require.NoError(t, os.WriteFile(model, []byte("onnx"), 0o644))
	return binary, model
}

func TestPiperEngineStreamsChunks(t *testing.T) {
	binary, model := fakePiper(t, 22050) // 500ms of 22.05 kHz mono

	engine := NewPiperEngine()
	require.NoError(t, engine.Initialize(Config{
		Binary:        binary,
		SampleRate:    22050,
		ChunkDuration: 200 * time.Millisecond,
		Voices: []Voice{
			{ID: "lessac", Gender: "female", ModelPath: model},
			{ID: "missing", Gender: "male", ModelPath: filepath.Join(t.TempDir(), "nope.onnx")},
		},
	}))
	assert.Len(t, engine.ListVoices(), 1, "voices without a model file are dropped")

	var sizes []int
	err := engine.Synthesize(context.Background(), SynthesizeRequest{Text: "Hello there", Voice: "lessac"}, func(c AudioChunk) error {
		sizes = append(sizes, len(c.Data))
		assert.Equal(t, 22050, c.SampleRate)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{8820, 8820, 4410}, sizes)
}

func TestPiperEngineCallbackErrorStops(t *testing.T) {
	binary, model := fakePiper(t, 44100)
	engine := NewPiperEngine()
	require.NoError(t, engine.Initialize(Config{Binary: binary, Voices: []Voice{{ID: "v", ModelPath: model}}}))

	stop := errors.New("enough")
	calls := 0
	err := engine.Synthesize(context.Background(), SynthesizeRequest{Text: "Hello"}, func(AudioChunk) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestPiperEngineInitializeErrors(t *testing.T) {
	engine := NewPiperEngine()
	assert.Error(t, engine.Initialize(Config{Binary: filepath.Join(t.TempDir(), "no-piper")}))

	binary, _ := fakePiper(t, 10)
	assert.Error(t, engine.Initialize(Config{Binary: binary}), "no voices")
	assert.False(t, engine.IsInitialized())

	err := engine.Synthesize(context.Background(), SynthesizeRequest{Text: "hi"}, func(AudioChunk) error { return nil })
	assert.Error(t, err)
}
