// Package piper provides a [tts.Synthesizer] backed by a local Piper HTTP
// server (the piper-http wrapper around the Piper neural TTS engine).
//
// Synthesis is a single POST / with a JSON body; the server answers with a
// RIFF WAV payload which is parsed into mono float32 PCM. Piper models are
// mono 16-bit at a model-specific rate (commonly 22 050 Hz); the returned
// [tts.Audio] carries the actual rate from the WAV header.
package piper

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/earshot-ai/earshot/pkg/provider/tts"
)

const defaultTimeout = 30 * time.Second

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Synthesizer) { s.httpClient = c }
}

// Synthesizer implements tts.Synthesizer against a Piper HTTP server.
// Safe for concurrent use.
type Synthesizer struct {
	serverURL  string
	httpClient *http.Client
}

// New creates a Synthesizer targeting the Piper server at serverURL
// (e.g., "http://localhost:5000").
func New(serverURL string, opts ...Option) (*Synthesizer, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("piper: serverURL must not be empty")
	}
	s := &Synthesizer{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

type synthesizeRequest struct {
	Text string `json:"text"`

	// Voice selects the loaded model/speaker; empty uses the server default.
	Voice string `json:"voice,omitempty"`
}

// Synthesize implements tts.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	if text == "" {
		return tts.Audio{}, fmt.Errorf("piper: text must not be empty")
	}

	payload, err := json.Marshal(synthesizeRequest{Text: text, Voice: voice})
	if err != nil {
		return tts.Audio{}, fmt.Errorf("piper: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/", bytes.NewReader(payload))
	if err != nil {
		return tts.Audio{}, fmt.Errorf("piper: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("piper: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tts.Audio{}, fmt.Errorf("piper: server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("piper: read response: %w", err)
	}

	samples, rate, err := parseWAV(wav)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("piper: parse wav: %w", err)
	}
	return tts.Audio{Samples: samples, SampleRate: rate}, nil
}

// parseWAV extracts mono float32 PCM and the sample rate from a RIFF WAV
// payload containing 16-bit PCM. Multi-channel audio is downmixed by
// averaging.
func parseWAV(wav []byte) ([]float32, int, error) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE payload")
	}

	var (
		sampleRate int
		channels   int
		bits       int
		data       []byte
	)

	// Walk the chunk list; fmt and data may appear in any order with
	// optional metadata chunks between them.
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if body+size > len(wav) {
			size = len(wav) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("fmt chunk too short (%d bytes)", size)
			}
			channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(wav[body+14 : body+16]))
		case "data":
			data = wav[body : body+size]
		}
		// Chunks are word-aligned.
		off = body + size + size%2
	}

	if sampleRate == 0 || data == nil {
		return nil, 0, fmt.Errorf("missing fmt or data chunk")
	}
	if bits != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d", bits)
	}
	if channels <= 0 {
		channels = 1
	}

	frames := len(data) / (2 * channels)
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			p := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(data[p:]))) / 32768.0
		}
		samples[i] = sum / float32(channels)
	}
	return samples, sampleRate, nil
}
