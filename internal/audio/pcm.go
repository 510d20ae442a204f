package audio

import "time"

// PCMDuration returns the play time of n bytes of 16-bit PCM
func PCMDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	if channels <= 0 {
		channels = 1
	}
	frames := n / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// PCMBytes returns how many bytes of 16-bit PCM last d
func PCMBytes(d time.Duration, sampleRate, channels int) int {
	if channels <= 0 {
		channels = 1
	}
	frames := int(d * time.Duration(sampleRate) / time.Second)
	return frames * 2 * channels
}

// SplitPCM cuts 16-bit PCM into pieces of at most size bytes, keeping frame
// boundaries intact
func SplitPCM(data []byte, size, channels int) [][]byte {
	if channels <= 0 {
		channels = 1
	}
	frame := 2 * channels
	size -= size % frame
	if size <= 0 || len(data) <= size {
		if len(data) == 0 {
			return nil
		}
		return [][]byte{data}
	}

	parts := make([][]byte, 0, len(data)/size+1)
	for len(data) > 0 {
		n := min(size, len(data))
		parts = append(parts, data[:n])
		data = data[n:]
	}
	return parts
}

// Gain scales 16-bit samples in place. The gain moves linearly from start by
// step per frame and is clamped to [0, 1]; the final gain is returned.
func Gain(data []byte, channels int, start, step float64) float64 {
	if channels <= 0 {
		channels = 1
	}
	g := start
	frames := len(data) / (2 * channels)
	for f := 0; f < frames; f++ {
		g = min(max(g, 0), 1)
		for c := 0; c < channels; c++ {
			i := (f*channels + c) * 2
			s := int16(uint16(data[i]) | uint16(data[i+1])<<8)
			v := int16(float64(s) * g)
			data[i] = byte(v)
			data[i+1] = byte(uint16(v) >> 8)
		}
		g += step
	}
	return min(max(g, 0), 1)
}
