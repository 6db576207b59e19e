// Package sidecar provides a [vad.Scorer] backed by an HTTP inference sidecar.
//
// The sidecar (typically a small Python process wrapping Silero VAD) exposes
// POST /score. The request carries one analysis window of base64-encoded
// little-endian float32 PCM plus the opaque recurrent state returned by the
// previous call; the response carries the speech probability and the updated
// state. The provider itself is stateless — the caller threads the state
// chain — so one Provider can serve many independent streams.
package sidecar

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/earshot-ai/earshot/pkg/provider/vad"
)

const (
	scoreEndpoint  = "/score"
	defaultTimeout = 10 * time.Second
)

// Compile-time interface assertion.
var _ vad.Scorer = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client entirely. Useful for
// tests and for callers that need custom transport settings.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements vad.Scorer against a VAD inference sidecar.
// Safe for concurrent use across independent streams.
type Provider struct {
	serverURL  string
	httpClient *http.Client
}

// New creates a Provider targeting the sidecar at serverURL
// (e.g., "http://localhost:9090").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("vad sidecar: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type scoreRequest struct {
	// Audio is base64-encoded little-endian float32 PCM.
	Audio string `json:"audio"`

	// State is the base64-encoded opaque recurrent state, empty on the
	// first window of a stream.
	State string `json:"state,omitempty"`
}

type scoreResponse struct {
	Probability float64 `json:"probability"`
	State       string  `json:"state"`
}

// Score implements vad.Scorer.
func (p *Provider) Score(ctx context.Context, window []float32, state vad.State) (float64, vad.State, error) {
	reqBody := scoreRequest{Audio: base64.StdEncoding.EncodeToString(floatsToBytes(window))}
	if len(state) > 0 {
		reqBody.State = base64.StdEncoding.EncodeToString(state)
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("vad sidecar: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+scoreEndpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("vad sidecar: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("vad sidecar: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, nil, fmt.Errorf("vad sidecar: server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return 0, nil, fmt.Errorf("vad sidecar: decode response: %w", err)
	}

	var next vad.State
	if sr.State != "" {
		next, err = base64.StdEncoding.DecodeString(sr.State)
		if err != nil {
			return 0, nil, fmt.Errorf("vad sidecar: decode state: %w", err)
		}
	}
	return sr.Probability, next, nil
}

// floatsToBytes serialises float32 samples as little-endian bytes.
func floatsToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, f := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}
