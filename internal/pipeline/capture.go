package pipeline

import (
	"log/slog"
	"time"

	"github.com/earshot-ai/earshot/pkg/types"
)

// Capturer records the command utterance: from the wake-word detection
// (seeded with the triggering analysis window so that audio is not lost) to
// the voice-activity end edge. At most one session is open at a time.
//
// Not safe for concurrent use.
type Capturer struct {
	logger     *slog.Logger
	sampleRate int

	open     bool
	buf      []float32
	start    time.Duration
	wakeWord string
}

// NewCapturer constructs a capturer recording at the given sample rate.
func NewCapturer(sampleRate int, logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{logger: logger, sampleRate: sampleRate}
}

// Open starts a session seeded with the triggering analysis window. If a
// session is already open the call is a logged no-op.
func (c *Capturer) Open(seed []float32, start time.Duration, wakeWord string) {
	if c.open {
		c.logger.Warn("capture session already open, ignoring", "wake_word", wakeWord)
		return
	}
	c.open = true
	c.buf = append(c.buf[:0], seed...)
	c.start = start
	c.wakeWord = wakeWord
}

// IsOpen reports whether a session is currently recording.
func (c *Capturer) IsOpen() bool {
	return c.open
}

// Append adds a chunk to the open session. Chunks are appended regardless of
// voice-activity state so the trailing silence up to the debounce is part of
// the utterance. No-op when no session is open.
func (c *Capturer) Append(chunk types.AudioChunk) {
	if !c.open {
		return
	}
	c.buf = append(c.buf, chunk.Samples...)
}

// Close ends the open session and returns the finished utterance. Returns
// ok=false when no session is open.
func (c *Capturer) Close() (utt types.Utterance, ok bool) {
	if !c.open {
		return types.Utterance{}, false
	}
	samples := make([]float32, len(c.buf))
	copy(samples, c.buf)

	utt = types.Utterance{
		Samples:    samples,
		SampleRate: c.sampleRate,
		Start:      c.start,
		WakeWord:   c.wakeWord,
	}
	c.reset()
	return utt, true
}

// Abort discards the open session without emitting, if any.
func (c *Capturer) Abort() {
	if !c.open {
		return
	}
	c.logger.Debug("capture session aborted", "buffered_samples", len(c.buf))
	c.reset()
}

func (c *Capturer) reset() {
	c.open = false
	c.buf = c.buf[:0]
	c.start = 0
	c.wakeWord = ""
}
