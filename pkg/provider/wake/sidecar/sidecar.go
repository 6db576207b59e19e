// Package sidecar provides a [wake.Chain] backed by a WebSocket inference
// sidecar hosting an openWakeWord-style model set (mel spectrogram extractor,
// speech embedder, and per-phrase classifier head).
//
// The sidecar speaks a small JSON request/response protocol over a single
// persistent connection:
//
//	→ {"id":1,"op":"spectrogram","audio":"<base64 f32le>"}
//	← {"id":1,"features":"<base64 f32le>"}
//	→ {"id":2,"op":"embed","features":"<base64 f32le>"}
//	← {"id":2,"embedding":"<base64 f32le>"}
//	→ {"id":3,"op":"classify","model":"hey_earshot","embeddings":"<base64 f32le>"}
//	← {"id":3,"probability":0.93}
//
// Calls are serialised on the connection; the pipeline issues them
// sequentially anyway, and the internal mutex keeps stray concurrent callers
// safe. On connection loss the next call redials transparently.
package sidecar

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/earshot-ai/earshot/pkg/provider/wake"
)

// Compile-time interface assertion.
var _ wake.Chain = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithWakeModel selects the classifier head evaluated by classify calls
// (e.g., "hey_earshot", "alexa"). Defaults to "hey_earshot".
func WithWakeModel(name string) Option {
	return func(c *Client) { c.model = name }
}

// Client implements wake.Chain over a persistent WebSocket connection to the
// inference sidecar. Safe for concurrent use; requests are serialised.
type Client struct {
	url   string
	model string

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
	closed bool
}

// defaultWakeModel is the classifier head used when none is configured.
const defaultWakeModel = "hey_earshot"

// New creates a Client for the sidecar at url (e.g., "ws://localhost:9091/infer").
// The connection is established lazily on the first call.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("wake sidecar: url must not be empty")
	}
	c := &Client{url: url, model: defaultWakeModel}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type inferRequest struct {
	ID    uint64 `json:"id"`
	Op    string `json:"op"`
	Model string `json:"model,omitempty"`

	// Audio, Features, Embeddings are base64-encoded little-endian float32,
	// one of which is set depending on Op.
	Audio      string `json:"audio,omitempty"`
	Features   string `json:"features,omitempty"`
	Embeddings string `json:"embeddings,omitempty"`
}

type inferResponse struct {
	ID          uint64  `json:"id"`
	Features    string  `json:"features,omitempty"`
	Embedding   string  `json:"embedding,omitempty"`
	Probability float64 `json:"probability,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Spectrogram implements wake.FeatureExtractor.
func (c *Client) Spectrogram(ctx context.Context, window []float32) (wake.Features, error) {
	resp, err := c.roundTrip(ctx, inferRequest{Op: "spectrogram", Audio: encodeFloats(window)})
	if err != nil {
		return nil, err
	}
	feats, err := decodeFloats(resp.Features)
	if err != nil {
		return nil, fmt.Errorf("wake sidecar: decode features: %w", err)
	}
	return feats, nil
}

// Embed implements wake.Embedder.
func (c *Client) Embed(ctx context.Context, features wake.Features) ([]float32, error) {
	resp, err := c.roundTrip(ctx, inferRequest{Op: "embed", Features: encodeFloats(features)})
	if err != nil {
		return nil, err
	}
	emb, err := decodeFloats(resp.Embedding)
	if err != nil {
		return nil, fmt.Errorf("wake sidecar: decode embedding: %w", err)
	}
	return emb, nil
}

// Classify implements wake.Classifier.
func (c *Client) Classify(ctx context.Context, embeddings []float32) (float64, error) {
	resp, err := c.roundTrip(ctx, inferRequest{
		Op:         "classify",
		Model:      c.model,
		Embeddings: encodeFloats(embeddings),
	})
	if err != nil {
		return 0, err
	}
	return resp.Probability, nil
}

// Close tears down the connection. Subsequent calls fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close(websocket.StatusNormalClosure, "client closed")
		c.conn = nil
		return err
	}
	return nil
}

// roundTrip sends one request and waits for its response, holding the
// connection lock for the full exchange.
func (c *Client) roundTrip(ctx context.Context, req inferRequest) (*inferResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("wake sidecar: client is closed")
	}

	if c.conn == nil {
		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			return nil, fmt.Errorf("wake sidecar: dial %s: %w", c.url, err)
		}
		c.conn = conn
	}

	c.nextID++
	req.ID = c.nextID

	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		c.dropConnLocked()
		return nil, fmt.Errorf("wake sidecar: write %s request: %w", req.Op, err)
	}

	var resp inferResponse
	if err := wsjson.Read(ctx, c.conn, &resp); err != nil {
		c.dropConnLocked()
		return nil, fmt.Errorf("wake sidecar: read %s response: %w", req.Op, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("wake sidecar: %s failed: %s", req.Op, resp.Error)
	}
	if resp.ID != req.ID {
		c.dropConnLocked()
		return nil, fmt.Errorf("wake sidecar: response id %d does not match request id %d", resp.ID, req.ID)
	}
	return &resp, nil
}

// dropConnLocked discards a broken connection so the next call redials.
// Caller must hold c.mu.
func (c *Client) dropConnLocked() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusInternalError, "protocol error")
		c.conn = nil
	}
}

func encodeFloats(samples []float32) string {
	b := make([]byte, len(samples)*4)
	for i, f := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeFloats(s string) ([]float32, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
