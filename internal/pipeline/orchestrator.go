// Package pipeline implements the streaming wake-word command pipeline: audio
// framing, voice-activity hysteresis, wake-word detection, utterance capture,
// and the top-level state machine that sequences listening → recording →
// transcribing → processing → speaking.
//
// All audio buffering happens on a single consumer goroutine, so the frame
// batcher, voice-activity machine, wake detector, and capturer need no
// internal locking. Every call into an inference engine blocks that
// goroutine; while a command is in flight no further audio is consumed, which
// is what guarantees at most one command in flight at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/internal/tools"
	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/memory"
	"github.com/earshot-ai/earshot/pkg/provider/intent"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	"github.com/earshot-ai/earshot/pkg/provider/tts"
	"github.com/earshot-ai/earshot/pkg/provider/vad"
	"github.com/earshot-ai/earshot/pkg/provider/wake"
	"github.com/earshot-ai/earshot/pkg/types"
)

// DefaultWakeWord is the wake phrase used when none is configured.
const DefaultWakeWord = "hey_earshot"

// DefaultVoice is the synthesis voice used when none is configured.
const DefaultVoice = "amy"

// supportedWakeWords is the set of wake phrases the bundled models are
// trained on.
var supportedWakeWords = map[string]struct{}{
	"hey_earshot": {},
	"earshot":     {},
	"ok_earshot":  {},
}

// supportedVoices is the set of bundled synthesis voices.
var supportedVoices = map[string]struct{}{
	"amy":      {},
	"ryan":     {},
	"lessac":   {},
	"kathleen": {},
}

// Spoken fallbacks for contained per-command failures.
const (
	apologyResponse  = "Sorry, I couldn't do that right now."
	fallbackResponse = "Sorry, I didn't understand that."
)

// Engines bundles the inference backends the orchestrator drives. VAD and
// Wake are required at construction; the downstream engines are checked at
// the stage that needs them.
type Engines struct {
	VAD         vad.Scorer
	Wake        wake.Chain
	Transcriber stt.Transcriber
	Intent      intent.Engine
	Synthesizer tts.Synthesizer
}

// Sink plays synthesised audio back to the user. Playback blocks until the
// audio has been handed off (or fully played, for synchronous sinks).
type Sink interface {
	Play(ctx context.Context, audio tts.Audio) error
}

// EventKind discriminates pipeline events.
type EventKind int

const (
	// EventStateChange is emitted on every state transition.
	EventStateChange EventKind = iota

	// EventDetection is emitted on every accepted wake-word detection.
	EventDetection

	// EventUtterance is emitted when a capture session closes.
	EventUtterance

	// EventError is emitted for contained per-command failures.
	EventError
)

// Event is an externally observable pipeline occurrence. Fields beyond Kind
// are populated depending on the kind.
type Event struct {
	Kind        EventKind
	State       types.PipelineState
	WakeWord    string
	Probability float64
	Transcript  string
	Err         error
}

// Orchestrator is the top-level pipeline state machine. Construct with [New],
// drive with [Orchestrator.Start] / [Orchestrator.Stop]. A single Orchestrator
// serves a single audio stream; multiple instances can run side by side.
type Orchestrator struct {
	logger  *slog.Logger
	metrics *observe.Metrics

	engines  Engines
	registry *tools.Registry
	store    memory.CommandStore
	sink     Sink

	wakeWord     string
	voice        string
	language     string
	stageTimeout time.Duration
	filter       func(string) string

	windowSize int
	hopSize    int
	vadOpts    []VoiceActivityOption
	wakeOpts   []WakeDetectorOption

	batcher  *FrameBatcher
	va       *VoiceActivity
	detector *WakeDetector
	capturer *Capturer

	events chan Event

	// cmdMu serializes command cycles between the audio loop and ProcessText.
	cmdMu sync.Mutex

	paused atomic.Bool

	mu      sync.Mutex
	state   types.PipelineState
	running bool
	sub     audio.Subscription
	cancel  context.CancelFunc
	done    chan struct{}

	commandStart time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics enables metric recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTools sets the tool registry. Defaults to a fresh empty registry.
func WithTools(r *tools.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithStore enables best-effort persistence of completed commands.
func WithStore(s memory.CommandStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithSink sets the playback sink. Without a sink, synthesised audio is
// discarded after the Speaking stage.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithWakeWord selects the wake phrase. Must be one of the supported phrases.
func WithWakeWord(w string) Option {
	return func(o *Orchestrator) { o.wakeWord = w }
}

// WithVoice selects the synthesis voice. Must be one of the bundled voices.
func WithVoice(v string) Option {
	return func(o *Orchestrator) { o.voice = v }
}

// WithLanguage sets the transcription language hint.
func WithLanguage(lang string) Option {
	return func(o *Orchestrator) { o.language = lang }
}

// WithStageTimeout bounds every engine call. Zero (the default) means no
// timeout: a hung engine call blocks the pipeline until Stop.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.stageTimeout = d }
}

// WithTranscriptFilter installs a transform applied to transcripts before
// intent inference, typically wake-phrase stripping. Returning an empty
// string discards the command.
func WithTranscriptFilter(f func(string) string) Option {
	return func(o *Orchestrator) { o.filter = f }
}

// WithFraming overrides the analysis window and hop lengths in samples.
func WithFraming(windowSize, hopSize int) Option {
	return func(o *Orchestrator) {
		o.windowSize = windowSize
		o.hopSize = hopSize
	}
}

// WithVADOptions forwards options to the voice-activity machine.
func WithVADOptions(opts ...VoiceActivityOption) Option {
	return func(o *Orchestrator) { o.vadOpts = append(o.vadOpts, opts...) }
}

// WithWakeOptions forwards options to the wake detector.
func WithWakeOptions(opts ...WakeDetectorOption) Option {
	return func(o *Orchestrator) { o.wakeOpts = append(o.wakeOpts, opts...) }
}

// New constructs an idle Orchestrator. Returns ErrUnknownWakeWord or
// ErrUnknownVoice for configuration outside the supported sets and
// ErrEngineNotInitialized when the detection-chain engines are missing.
func New(engines Engines, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		engines:    engines,
		wakeWord:   DefaultWakeWord,
		voice:      DefaultVoice,
		windowSize: DefaultWindowSize,
		hopSize:    DefaultHopSize,
		state:      types.StateIdle,
		events:     make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.registry == nil {
		o.registry = tools.NewRegistry()
	}

	if _, ok := supportedWakeWords[o.wakeWord]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWakeWord, o.wakeWord)
	}
	if _, ok := supportedVoices[o.voice]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVoice, o.voice)
	}

	var err error
	if o.batcher, err = NewFrameBatcher(o.windowSize, o.hopSize); err != nil {
		return nil, err
	}
	if o.va, err = NewVoiceActivity(engines.VAD, o.vadOpts...); err != nil {
		return nil, err
	}
	if o.detector, err = NewWakeDetector(engines.Wake, o.wakeOpts...); err != nil {
		return nil, err
	}
	o.capturer = NewCapturer(SampleRate, o.logger)

	return o, nil
}

// Tools returns the orchestrator's tool registry.
func (o *Orchestrator) Tools() *tools.Registry {
	return o.registry
}

// State returns the current pipeline state.
func (o *Orchestrator) State() types.PipelineState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Events returns the event stream. Events are dropped when the buffer is
// full; consumers that care must keep up.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Start subscribes to the audio source and begins listening. The pipeline
// runs until Stop is called or ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context, source audio.Source) error {
	if source == nil {
		return fmt.Errorf("pipeline: audio source must not be nil")
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	sub := source.Subscribe()
	o.sub = sub
	o.cancel = cancel
	o.running = true
	o.done = make(chan struct{})
	o.setStateLocked(types.StateListening)
	o.mu.Unlock()

	o.registry.Lock()
	if o.metrics != nil {
		o.metrics.ActivePipelines.Add(ctx, 1)
	}
	o.logger.Info("pipeline started", "wake_word", o.wakeWord, "voice", o.voice)

	go o.loop(loopCtx, sub)
	return nil
}

// Stop tears the pipeline down from any state: cancels any in-flight engine
// call, unsubscribes from the audio source, discards open capture sessions
// and all buffered audio, and returns the state machine to Idle. Safe to call
// repeatedly.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel, sub, done := o.cancel, o.sub, o.done
	o.running = false
	o.sub = nil
	o.cancel = nil
	o.mu.Unlock()

	cancel()
	sub.Unsubscribe()
	<-done

	// The loop goroutine has exited; buffer state is safe to touch.
	o.capturer.Abort()
	o.detector.Clear()
	o.va.Reset()
	o.batcher.Reset()
	o.paused.Store(false)

	o.registry.Unlock()
	if o.metrics != nil {
		o.metrics.ActivePipelines.Add(context.Background(), -1)
	}
	o.setState(types.StateIdle)
	o.logger.Info("pipeline stopped")
}

// Pause suppresses audio intake: incoming chunks are dropped until Resume.
// The pipeline state is unchanged.
func (o *Orchestrator) Pause() {
	o.paused.Store(true)
}

// Resume re-enables audio intake after Pause.
func (o *Orchestrator) Resume() {
	o.paused.Store(false)
}

// Paused reports whether intake is currently suppressed.
func (o *Orchestrator) Paused() bool {
	return o.paused.Load()
}

// ProcessText runs the text half of the pipeline — intent inference, tool
// dispatch, synthesis — on an already-transcribed command, bypassing the
// audio stages. The state machine ends in Listening.
func (o *Orchestrator) ProcessText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("pipeline: text must not be empty")
	}

	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	started := time.Now()
	o.setState(types.StateProcessing)

	response, function, err := o.inferAndDispatch(ctx, text)
	if err != nil {
		o.setState(types.StateListening)
		return err
	}
	if response != "" {
		o.setState(types.StateSpeaking)
		o.speak(ctx, response)
	}
	o.setState(types.StateListening)

	o.saveRecord(ctx, types.CommandRecord{
		Transcript: text,
		Function:   function,
		Response:   response,
		Timestamp:  time.Now(),
		Duration:   time.Since(started),
	})
	return nil
}

// ─── Audio loop ──────────────────────────────────────────────────────────────

func (o *Orchestrator) loop(ctx context.Context, sub audio.Subscription) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-sub.Chunks():
			if !ok {
				return
			}
			o.handleChunk(ctx, chunk)
		}
	}
}

func (o *Orchestrator) handleChunk(ctx context.Context, chunk types.AudioChunk) {
	if o.paused.Load() {
		if o.metrics != nil {
			o.metrics.DroppedChunks.Add(ctx, 1)
		}
		return
	}

	o.capturer.Append(chunk)
	o.batcher.Push(chunk.Samples)

	for {
		window, ok := o.batcher.Next()
		if !ok {
			return
		}
		o.processWindow(ctx, chunk.Timestamp, window)
	}
}

func (o *Orchestrator) processWindow(ctx context.Context, ts time.Duration, window []float32) {
	sctx, cancel := o.stageCtx(ctx)
	started := time.Now()
	res, err := o.va.Process(sctx, window)
	cancel()
	if o.metrics != nil {
		o.metrics.VADScoreDuration.Record(ctx, time.Since(started).Seconds())
	}
	if err != nil {
		// A failed score drops this window but keeps the session alive.
		o.engineError(ctx, "vad", err)
		return
	}

	if res.IsSpeaking {
		o.detectWake(ctx, ts, window)
	}

	if res.JustEnded {
		o.detector.Clear()
		if utt, ok := o.capturer.Close(); ok {
			if o.metrics != nil {
				o.metrics.Utterances.Add(ctx, 1)
				o.metrics.OpenSessions.Add(ctx, -1)
			}
			o.emit(Event{Kind: EventUtterance, WakeWord: utt.WakeWord})
			o.runCommand(ctx, utt)
		}
	}
}

func (o *Orchestrator) detectWake(ctx context.Context, ts time.Duration, window []float32) {
	sctx, cancel := o.stageCtx(ctx)
	started := time.Now()
	detected, prob, err := o.detector.Process(sctx, window)
	cancel()
	if o.metrics != nil {
		o.metrics.WakeClassifyDuration.Record(ctx, time.Since(started).Seconds())
	}
	if err != nil {
		o.engineError(ctx, "wake", err)
		return
	}
	if !detected {
		return
	}

	o.emit(Event{Kind: EventDetection, WakeWord: o.wakeWord, Probability: prob})
	if o.metrics != nil {
		o.metrics.RecordWakeDetection(ctx, o.wakeWord)
	}
	o.logger.Info("wake word detected", "wake_word", o.wakeWord, "probability", prob)

	if o.State() != types.StateListening {
		return
	}
	o.capturer.Open(window, ts, o.wakeWord)
	o.commandStart = time.Now()
	if o.metrics != nil {
		o.metrics.OpenSessions.Add(ctx, 1)
	}
	o.setState(types.StateRecording)
}

// ─── Command cycle ───────────────────────────────────────────────────────────

// runCommand drives one captured utterance through transcription, intent
// inference, tool dispatch, and synthesis. Every failure is contained: the
// state machine always ends in Listening.
func (o *Orchestrator) runCommand(ctx context.Context, utt types.Utterance) {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	defer o.setState(types.StateListening)

	o.setState(types.StateTranscribing)
	transcript, err := o.transcribe(ctx, utt)
	if err != nil {
		if errors.Is(err, stt.ErrNoAudio) {
			o.logger.Debug("utterance contained no speech")
		} else {
			o.engineError(ctx, "stt", err)
		}
		return
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		o.logger.Debug("empty transcript, discarding utterance")
		return
	}
	if o.filter != nil {
		transcript = strings.TrimSpace(o.filter(transcript))
		if transcript == "" {
			o.logger.Debug("transcript empty after filtering, discarding")
			return
		}
	}
	o.emit(Event{Kind: EventUtterance, Transcript: transcript, WakeWord: utt.WakeWord})

	o.setState(types.StateProcessing)
	response, function, err := o.inferAndDispatch(ctx, transcript)
	if err != nil {
		o.engineError(ctx, "intent", err)
		return
	}
	if response == "" {
		return
	}

	o.setState(types.StateSpeaking)
	o.speak(ctx, response)

	elapsed := time.Since(o.commandStart)
	if o.metrics != nil {
		o.metrics.CommandDuration.Record(ctx, elapsed.Seconds())
	}
	o.saveRecord(ctx, types.CommandRecord{
		Transcript: transcript,
		Function:   function,
		Response:   response,
		WakeWord:   utt.WakeWord,
		Timestamp:  time.Now(),
		Duration:   elapsed,
	})
}

func (o *Orchestrator) transcribe(ctx context.Context, utt types.Utterance) (string, error) {
	if o.engines.Transcriber == nil {
		return "", fmt.Errorf("%w: transcriber", ErrEngineNotInitialized)
	}
	sctx, cancel := o.stageCtx(ctx)
	defer cancel()

	started := time.Now()
	transcript, err := o.engines.Transcriber.Transcribe(sctx, utt.Samples, o.language)
	if o.metrics != nil {
		o.metrics.STTDuration.Record(ctx, time.Since(started).Seconds())
	}
	return transcript, err
}

// inferAndDispatch runs intent inference and, when the model picked a
// registered tool, the tool handler. A tool failure is converted into a
// spoken apology and never propagates; a malformed model response falls back
// to a plain-text reply with no function call.
func (o *Orchestrator) inferAndDispatch(ctx context.Context, transcript string) (response, function string, err error) {
	if o.engines.Intent == nil {
		return "", "", fmt.Errorf("%w: intent engine", ErrEngineNotInitialized)
	}

	sctx, cancel := o.stageCtx(ctx)
	started := time.Now()
	result, err := o.engines.Intent.Infer(sctx, transcript, o.registry.Definitions())
	cancel()
	if o.metrics != nil {
		o.metrics.IntentDuration.Record(ctx, time.Since(started).Seconds())
	}
	if err != nil {
		if !errors.Is(err, intent.ErrParse) {
			return "", "", fmt.Errorf("infer intent: %w", err)
		}
		o.logger.Warn("malformed intent output, falling back to plain response", "err", err)
		result = types.Intent{Response: fallbackResponse}
	}

	response = result.Response
	function = result.Function

	if function != "" && o.registry.Has(function) {
		toolStart := time.Now()
		toolRes, terr := o.registry.Dispatch(ctx, function, result.Parameters)
		if o.metrics != nil {
			o.metrics.ToolExecutionDuration.Record(ctx, time.Since(toolStart).Seconds(),
				metric.WithAttributes(observe.Attr("tool", function)))
		}
		if terr != nil {
			werr := &ToolError{Tool: function, Err: terr}
			o.logger.Error("tool execution failed", "tool", function, "err", terr)
			o.emit(Event{Kind: EventError, Err: werr})
			if o.metrics != nil {
				o.metrics.RecordToolCall(ctx, function, "error")
			}
			return apologyResponse, function, nil
		}
		if o.metrics != nil {
			o.metrics.RecordToolCall(ctx, function, "ok")
		}
		// A tool-provided response overrides the model's proposed reply.
		if toolRes.Response != "" {
			response = toolRes.Response
		}
	}
	return response, function, nil
}

// speak synthesises and plays the response. Failures are contained.
func (o *Orchestrator) speak(ctx context.Context, text string) {
	if o.engines.Synthesizer == nil {
		o.engineError(ctx, "tts", fmt.Errorf("%w: synthesizer", ErrEngineNotInitialized))
		return
	}
	sctx, cancel := o.stageCtx(ctx)
	defer cancel()

	started := time.Now()
	out, err := o.engines.Synthesizer.Synthesize(sctx, text, o.voice)
	if o.metrics != nil {
		o.metrics.TTSDuration.Record(ctx, time.Since(started).Seconds())
	}
	if err != nil {
		o.engineError(ctx, "tts", err)
		return
	}
	if o.sink == nil {
		return
	}
	if err := o.sink.Play(ctx, out); err != nil {
		o.engineError(ctx, "sink", err)
	}
}

// saveRecord persists one completed command, best effort.
func (o *Orchestrator) saveRecord(ctx context.Context, rec types.CommandRecord) {
	if o.store == nil {
		return
	}
	if err := o.store.Save(ctx, rec); err != nil {
		o.logger.Warn("failed to persist command record", "err", err)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// stageCtx bounds an engine call when a stage timeout is configured.
func (o *Orchestrator) stageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.stageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.stageTimeout)
}

func (o *Orchestrator) engineError(ctx context.Context, engine string, err error) {
	o.logger.Error("engine call failed", "engine", engine, "err", err)
	if o.metrics != nil {
		o.metrics.RecordEngineError(ctx, engine)
	}
	o.emit(Event{Kind: EventError, Err: err})
}

func (o *Orchestrator) setState(s types.PipelineState) {
	o.mu.Lock()
	o.setStateLocked(s)
	o.mu.Unlock()
}

func (o *Orchestrator) setStateLocked(s types.PipelineState) {
	if o.state == s {
		return
	}
	o.logger.Debug("state transition", "from", o.state.String(), "to", s.String())
	o.state = s
	o.emit(Event{Kind: EventStateChange, State: s})
}

// emit publishes an event without blocking; events are dropped when the
// buffer is full.
func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
	}
}
