// Package discord adapts a Discord voice connection to the [audio.Source]
// contract. Incoming Opus packets are decoded per SSRC, downmixed to mono,
// resampled from Discord's 48 kHz to the pipeline's 16 kHz, and published to
// all subscribers as [types.AudioChunk] values.
//
// This package is an audio adapter only — it does not manage the Discord
// session, slash commands, or channel membership. The caller joins the voice
// channel with discordgo and hands the live VoiceConnection to [NewSource].
package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/types"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

// pipelineRate is the sample rate of published chunks.
const pipelineRate = 16000

// Compile-time interface assertion.
var _ audio.Source = (*Source)(nil)

// Source publishes decoded microphone audio from a Discord voice connection.
// All speakers are merged into one chunk stream; the wake-word pipeline does
// not diarize.
//
// Source is safe for concurrent use.
type Source struct {
	*audio.Broadcaster

	vc *discordgo.VoiceConnection

	done      chan struct{}
	closeOnce sync.Once
}

// NewSource starts consuming Opus packets from an already-joined voice
// connection. Call [Source.Close] to stop the receive loop and detach all
// subscribers; the voice connection itself is left to the caller.
func NewSource(vc *discordgo.VoiceConnection) *Source {
	s := &Source{
		Broadcaster: audio.NewBroadcaster(),
		vc:          vc,
		done:        make(chan struct{}),
	}
	go s.recvLoop()
	return s
}

// Close stops the receive loop and closes every subscription. Safe to call
// more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.Broadcaster.Close()
	})
	return nil
}

// recvLoop reads Opus packets from the voice connection, decodes them with a
// per-SSRC decoder to keep codec state coherent, converts to 16 kHz mono
// float32, and publishes the result.
func (s *Source) recvLoop() {
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-s.done:
			return
		case pkt, ok := <-s.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord source: create opus decoder", "ssrc", pkt.SSRC, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			stereo, err := dec.decode(pkt.Opus)
			if err != nil {
				// Malformed packet: drop and keep the stream alive.
				slog.Warn("discord source: opus decode error, dropping packet", "ssrc", pkt.SSRC, "error", err)
				continue
			}

			mono := audio.StereoToMono(stereo)
			samples := audio.Resample(mono, opusSampleRate, pipelineRate)

			s.Publish(types.AudioChunk{
				Samples:    samples,
				SampleRate: pipelineRate,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
			})
		}
	}
}
