package audio

import (
	"math"
)

// VADConfig holds configuration for energy-based voice activity detection
type VADConfig struct {
	// EnergyThreshold is the minimum RMS level to consider as speech
	// Typical values: 0.001 to 0.1 (lower = more sensitive)
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// SilenceFrames is the number of consecutive silent frames that end speech
	// At 30ms frames: 10 frames = 300ms
	SilenceFrames int `yaml:"silence_frames"`

	// SpeechFrames is the number of consecutive loud frames that start speech
	// At 30ms frames: 3 frames = 90ms
	SpeechFrames int `yaml:"speech_frames"`
}

// DefaultVADConfig returns a VAD tuned for 30ms frames. The silence window is
// short because the turn coordinator applies its own, longer endpointing.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 0.01,
		SilenceFrames:   15, // 450ms
		SpeechFrames:    3,  // 90ms
	}
}

// VADResult is the outcome of one frame
type VADResult struct {
	Active  bool
	Started bool
	Ended   bool
	Energy  float64
}

// VAD tracks speech and silence runs with hysteresis
type VAD struct {
	config       VADConfig
	silenceCount int
	speechCount  int
	speaking     bool
}

// NewVAD creates a new voice activity detector
func NewVAD(config VADConfig) *VAD {
	if config.SpeechFrames < 1 {
		config.SpeechFrames = 1
	}
	if config.SilenceFrames < 1 {
		config.SilenceFrames = 1
	}
	return &VAD{config: config}
}

// ProcessFrame classifies one frame of 16-bit little-endian PCM
func (v *VAD) ProcessFrame(frame []byte) VADResult {
	energy := Energy(frame)
	res := VADResult{Energy: energy}

	if energy > v.config.EnergyThreshold {
		v.speechCount++
		v.silenceCount = 0
		if !v.speaking && v.speechCount >= v.config.SpeechFrames {
			v.speaking = true
			res.Started = true
		}
	} else {
		v.silenceCount++
		v.speechCount = 0
		if v.speaking && v.silenceCount >= v.config.SilenceFrames {
			v.speaking = false
			res.Ended = true
		}
	}

	res.Active = v.speaking
	return res
}

// IsSpeaking returns whether speech is currently active
func (v *VAD) IsSpeaking() bool {
	return v.speaking
}

// Reset clears the VAD state
func (v *VAD) Reset() {
	v.silenceCount = 0
	v.speechCount = 0
	v.speaking = false
}

// Energy returns the RMS level of 16-bit little-endian PCM, in [0, 1]
func Energy(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < n; i++ {
		sample := int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(n))
}
