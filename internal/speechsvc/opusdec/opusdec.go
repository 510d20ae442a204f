// Package opusdec decodes opus frames with libopus.
package opusdec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/emmett/companion/internal/speechsvc"
)

// maxFrame is 120ms at 48 kHz, the longest opus frame
const maxFrame = 5760

type decoder struct {
	dec      *opus.Decoder
	channels int
	pcm      []int16
}

// New creates a decoder producing 16-bit little-endian PCM
func New(sampleRate, channels int) (speechsvc.Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &decoder{dec: dec, channels: channels, pcm: make([]int16, maxFrame*channels)}, nil
}

func (d *decoder) Decode(frame []byte) ([]byte, error) {
	n, err := d.dec.Decode(frame, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}

	samples := d.pcm[:n*d.channels]
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out, nil
}

var _ speechsvc.DecoderFactory = New
