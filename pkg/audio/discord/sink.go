package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"layeh.com/gopus"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/tts"
)

// Sink plays synthesised responses into a Discord voice channel. Samples are
// resampled to 48 kHz, duplicated to stereo, Opus-encoded in 20 ms frames,
// and written to the voice connection's send channel.
//
// Sink is safe for sequential use by the pipeline; it holds one encoder whose
// state assumes frames are sent in order.
type Sink struct {
	vc  *discordgo.VoiceConnection
	enc *gopus.Encoder
}

// NewSink creates a Sink for an already-joined voice connection.
func NewSink(vc *discordgo.VoiceConnection) (*Sink, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("discord sink: create opus encoder: %w", err)
	}
	return &Sink{vc: vc, enc: enc}, nil
}

// Play encodes and sends one synthesised clip. It blocks until every frame
// has been handed to the voice connection or ctx is cancelled. A trailing
// partial frame is zero-padded.
func (s *Sink) Play(ctx context.Context, out tts.Audio) error {
	if len(out.Samples) == 0 {
		return nil
	}

	samples := audio.Resample(out.Samples, out.SampleRate, opusSampleRate)

	if err := s.vc.Speaking(true); err != nil {
		return fmt.Errorf("discord sink: set speaking: %w", err)
	}
	defer func() { _ = s.vc.Speaking(false) }()

	frame := make([]int16, opusFrameSize*opusChannels)
	for off := 0; off < len(samples); off += opusFrameSize {
		end := off + opusFrameSize
		if end > len(samples) {
			end = len(samples)
		}

		for i := range frame {
			frame[i] = 0
		}
		for i, f := range samples[off:end] {
			v := f * 32767.0
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			// Duplicate mono into both channels.
			frame[i*2] = int16(v)
			frame[i*2+1] = int16(v)
		}

		pkt, err := s.enc.Encode(frame, opusFrameSize, opusFrameSize*opusChannels*2)
		if err != nil {
			return fmt.Errorf("discord sink: opus encode: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case s.vc.OpusSend <- pkt:
		}
	}
	return nil
}
