// Package types defines the shared types used across all Earshot packages.
//
// These types form the lingua franca between the audio plumbing, the inference
// providers, the command-history store, and the pipeline orchestrator. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// AudioChunk is an arbitrary-sized piece of raw PCM audio as delivered by an
// audio source. Chunks are immutable once produced; the pipeline slices and
// copies them but never mutates them in place.
type AudioChunk struct {
	// Samples is mono float32 PCM in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz. The detection pipeline operates at 16000.
	SampleRate int

	// Timestamp marks when this chunk was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the chunk.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

// Utterance is the complete captured command audio, spanning from the wake-word
// detection (including the triggering analysis window) to the voice-activity
// end edge.
type Utterance struct {
	// Samples is the full mono float32 PCM recording.
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Start marks when capture opened, relative to stream start.
	Start time.Duration

	// WakeWord identifies which wake phrase triggered the capture.
	WakeWord string
}

// Intent is the structured result of intent inference over a transcript.
type Intent struct {
	// Function is the name of the tool the model chose to invoke, or empty
	// if the model answered directly.
	Function string

	// Parameters holds the parsed tool arguments. Nil when Function is empty.
	Parameters map[string]any

	// Response is the model's proposed spoken reply. A tool result may
	// override it before synthesis.
	Response string
}

// ToolDefinition describes a tool offered to the intent engine.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in model prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// ToolResult is the outcome of a single tool handler invocation.
type ToolResult struct {
	// Response, when non-empty, replaces the intent engine's proposed reply
	// as the spoken response.
	Response string

	// Extra carries handler-specific payload for adapters (URLs, entity IDs).
	Extra map[string]any
}

// VADResult is the per-window output of the voice-activity state machine.
type VADResult struct {
	// Probability is the raw speech probability reported by the scorer.
	Probability float64

	// IsSpeaking is the debounced speaking state after hysteresis.
	IsSpeaking bool

	// JustStarted is true on the exact window where IsSpeaking flipped to true.
	JustStarted bool

	// JustEnded is true on the exact window where IsSpeaking flipped to false.
	JustEnded bool
}

// PipelineState enumerates the orchestrator's top-level states. Exactly one
// value holds at any instant; every transition is published as an event.
type PipelineState int

const (
	// StateIdle means no audio source is attached.
	StateIdle PipelineState = iota

	// StateListening means the detection chain is consuming audio, waiting
	// for a wake word.
	StateListening

	// StateRecording means a capture session is open and accumulating the
	// command utterance.
	StateRecording

	// StateTranscribing means the captured utterance is being transcribed.
	StateTranscribing

	// StateProcessing means intent inference and tool dispatch are running.
	StateProcessing

	// StateSpeaking means the response is being synthesised and played.
	StateSpeaking
)

// String returns the lowercase state name used in logs and metrics.
func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// CommandRecord is a completed command cycle as persisted to the history store.
type CommandRecord struct {
	// Transcript is the recognised command text.
	Transcript string

	// Function is the dispatched tool name, empty for direct answers.
	Function string

	// Response is the final spoken reply.
	Response string

	// WakeWord identifies the triggering phrase.
	WakeWord string

	// Timestamp is when the command completed.
	Timestamp time.Time

	// Duration is the wall time from detection to response.
	Duration time.Duration
}
