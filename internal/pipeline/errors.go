package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for configuration and lifecycle failures. Per-utterance
// engine and tool failures are contained within one command cycle and never
// surface through the public API; these are the errors that do.
var (
	// ErrEngineNotInitialized is returned when an operation requires an engine
	// that was not supplied at construction. The caller may retry after
	// initialising the missing engine.
	ErrEngineNotInitialized = errors.New("pipeline: engine not initialized")

	// ErrUnknownWakeWord is returned at construction for a wake word outside
	// the supported set.
	ErrUnknownWakeWord = errors.New("pipeline: unknown wake word")

	// ErrUnknownVoice is returned at construction for an unsupported
	// synthesis voice.
	ErrUnknownVoice = errors.New("pipeline: unknown voice")

	// ErrAlreadyRunning is returned by Start while the pipeline is running.
	ErrAlreadyRunning = errors.New("pipeline: already running")

	// ErrNotRunning is returned by operations that require a running pipeline.
	ErrNotRunning = errors.New("pipeline: not running")
)

// ToolError wraps a tool handler failure with the tool's name. The
// orchestrator converts it into a spoken apology; it is exposed on error
// events for logging and metrics only.
type ToolError struct {
	Tool string
	Err  error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("pipeline: tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }
