package audio

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func constant(value int16, n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = value
	}
	return pcm(samples...)
}

func TestEnergy(t *testing.T) {
	assert.Zero(t, Energy(nil))
	assert.Zero(t, Energy(constant(0, 160)))
	assert.InDelta(t, 0.5, Energy(constant(16384, 160)), 1e-9)
	assert.InDelta(t, 0.5, Energy(constant(-16384, 160)), 1e-9)
}

func TestVADHysteresis(t *testing.T) {
	vad := NewVAD(VADConfig{EnergyThreshold: 0.1, SpeechFrames: 2, SilenceFrames: 3})
	loud := constant(10000, 480)
	quiet := constant(10, 480)

	res := vad.ProcessFrame(loud)
	assert.False(t, res.Active)
	assert.False(t, res.Started)

	res = vad.ProcessFrame(loud)
	assert.True(t, res.Started)
	assert.True(t, res.Active)

	// a single quiet frame does not end speech
	res = vad.ProcessFrame(quiet)
	assert.True(t, res.Active)
	res = vad.ProcessFrame(loud)
	assert.True(t, res.Active)
	assert.False(t, res.Started)

	vad.ProcessFrame(quiet)
	vad.ProcessFrame(quiet)
	res = vad.ProcessFrame(quiet)
	assert.True(t, res.Ended)
	assert.False(t, res.Active)
	assert.False(t, vad.IsSpeaking())

	vad.ProcessFrame(loud)
	vad.Reset()
	res = vad.ProcessFrame(loud)
	assert.False(t, res.Started, "reset clears the speech run")
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(8)
	assert.Equal(t, 8, rb.Free())

	assert.Equal(t, 6, rb.Write([]byte{1, 2, 3, 4, 5, 6}))
	assert.Equal(t, 2, rb.Write([]byte{7, 8, 9}), "write stops when full")
	assert.Zero(t, rb.Free())

	out := make([]byte, 5)
	require.Equal(t, 5, rb.Read(out))
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, out)

	// wraps around
	assert.Equal(t, 3, rb.Write([]byte{10, 11, 12}))
	out = make([]byte, 10)
	n := rb.Read(out)
	assert.Equal(t, []byte{6, 7, 8, 10, 11, 12}, out[:n])
	assert.Zero(t, rb.Available())

	rb.Write([]byte{1, 2})
	rb.Reset()
	assert.Zero(t, rb.Available())
	assert.Zero(t, rb.Read(out))
}

func TestPCMHelpers(t *testing.T) {
	assert.Equal(t, time.Second, PCMDuration(32000, 16000, 1))
	assert.Equal(t, 500*time.Millisecond, PCMDuration(48000, 24000, 2))
	assert.Zero(t, PCMDuration(100, 0, 1))

	assert.Equal(t, 9600, PCMBytes(200*time.Millisecond, 24000, 1))
	assert.Equal(t, 32000, PCMBytes(time.Second, 16000, 1))
}

func TestSplitPCM(t *testing.T) {
	data := make([]byte, 10)
	parts := SplitPCM(data, 4, 1)
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 4)
	assert.Len(t, parts[2], 2)

	// stereo frames are 4 bytes; a 6 byte limit rounds down to one frame
	parts = SplitPCM(make([]byte, 8), 6, 2)
	require.Len(t, parts, 2)
	assert.Len(t, parts[0], 4)

	assert.Nil(t, SplitPCM(nil, 4, 1))
	assert.Len(t, SplitPCM(data, 0, 1), 1)
}

func TestGainRamp(t *testing.T) {
	data := pcm(1000, 1000, 1000)
	end := Gain(data, 1, 1, -0.5)

	assert.Equal(t, pcm(1000, 500, 0), data)
	assert.Zero(t, end)

	data = pcm(-2000, 4000)
	Gain(data, 2, 0.5, 0)
	assert.Equal(t, pcm(-1000, 2000), data)
}

func TestCaptureFrameDuration(t *testing.T) {
	assert.Equal(t, 30*time.Millisecond, DefaultConfig().FrameDuration())
	assert.Zero(t, CaptureConfig{}.FrameDuration())
}
