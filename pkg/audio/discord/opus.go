package discord

import (
	"fmt"

	"layeh.com/gopus"
)

// opusDecoder wraps a gopus Opus decoder for a single SSRC stream. Each SSRC
// gets its own decoder so codec state stays coherent across consecutive frames.
type opusDecoder struct {
	dec *gopus.Decoder
}

// newOpusDecoder creates a decoder configured for Discord voice audio.
func newOpusDecoder() (*opusDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord source: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec}, nil
}

// decode decodes one Opus packet into interleaved stereo float32 samples.
func (d *opusDecoder) decode(opus []byte) ([]float32, error) {
	pcm, err := d.dec.Decode(opus, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord source: opus decode: %w", err)
	}
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out, nil
}
