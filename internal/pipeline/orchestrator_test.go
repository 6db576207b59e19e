package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/internal/tools"
	audiomock "github.com/earshot-ai/earshot/pkg/audio/mock"
	memorymock "github.com/earshot-ai/earshot/pkg/memory/mock"
	"github.com/earshot-ai/earshot/pkg/provider/intent"
	intentmock "github.com/earshot-ai/earshot/pkg/provider/intent/mock"
	sttmock "github.com/earshot-ai/earshot/pkg/provider/stt/mock"
	"github.com/earshot-ai/earshot/pkg/provider/tts"
	ttsmock "github.com/earshot-ai/earshot/pkg/provider/tts/mock"
	vadmock "github.com/earshot-ai/earshot/pkg/provider/vad/mock"
	wakemock "github.com/earshot-ai/earshot/pkg/provider/wake/mock"
	"github.com/earshot-ai/earshot/pkg/types"
)

// recordingSink captures played audio for assertions.
type recordingSink struct {
	mu     sync.Mutex
	played []tts.Audio
	err    error
}

func (s *recordingSink) Play(_ context.Context, a tts.Audio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.played = append(s.played, a)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.played)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// registerPlayYoutube adds the canonical test tool returning "Playing X".
func registerPlayYoutube(t *testing.T, reg *tools.Registry) {
	t.Helper()
	err := reg.Register(types.ToolDefinition{Name: "play_youtube", Description: "Play a video"},
		func(_ context.Context, _ map[string]any) (types.ToolResult, error) {
			return types.ToolResult{Response: "Playing X"}, nil
		})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func newTestEngines(scorer *vadmock.Scorer, chain *wakemock.Chain, transcript string) (Engines, *sttmock.Transcriber, *intentmock.Engine, *ttsmock.Synthesizer) {
	sttm := sttmock.NewTranscriber(transcript)
	intm := intentmock.NewEngine(types.Intent{
		Function:   "play_youtube",
		Parameters: map[string]any{"query": "some music"},
		Response:   "On it",
	})
	ttsm := ttsmock.NewSynthesizer()
	return Engines{
		VAD:         scorer,
		Wake:        chain,
		Transcriber: sttm,
		Intent:      intm,
		Synthesizer: ttsm,
	}, sttm, intm, ttsm
}

func TestNew_Validation(t *testing.T) {
	engines, _, _, _ := newTestEngines(vadmock.NewScorer(), wakemock.NewChain(), "")

	if _, err := New(engines, WithWakeWord("hey_siri")); !errors.Is(err, ErrUnknownWakeWord) {
		t.Errorf("unknown wake word: err = %v, want ErrUnknownWakeWord", err)
	}
	if _, err := New(engines, WithVoice("gollum")); !errors.Is(err, ErrUnknownVoice) {
		t.Errorf("unknown voice: err = %v, want ErrUnknownVoice", err)
	}

	missing := engines
	missing.VAD = nil
	if _, err := New(missing); !errors.Is(err, ErrEngineNotInitialized) {
		t.Errorf("nil scorer: err = %v, want ErrEngineNotInitialized", err)
	}
	missing = engines
	missing.Wake = nil
	if _, err := New(missing); !errors.Is(err, ErrEngineNotInitialized) {
		t.Errorf("nil wake chain: err = %v, want ErrEngineNotInitialized", err)
	}
}

func TestProcessText_ToolResponseDrivesSpeaking(t *testing.T) {
	engines, _, intm, ttsm := newTestEngines(vadmock.NewScorer(), wakemock.NewChain(), "")
	store := &memorymock.CommandStore{}
	sink := &recordingSink{}

	o, err := New(engines, WithStore(store), WithSink(sink))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	registerPlayYoutube(t, o.Tools())

	if err := o.ProcessText(context.Background(), "play some music"); err != nil {
		t.Fatalf("ProcessText: %v", err)
	}

	if got := o.State(); got != types.StateListening {
		t.Errorf("final state = %v, want listening", got)
	}
	// The tool's response overrides the model's proposed reply.
	spoken := ttsm.SpokenTexts()
	if len(spoken) != 1 || spoken[0] != "Playing X" {
		t.Errorf("spoken = %v, want [Playing X]", spoken)
	}
	if sink.count() != 1 {
		t.Errorf("sink played %d clips, want 1", sink.count())
	}
	if got := intm.ReceivedTexts(); len(got) != 1 || got[0] != "play some music" {
		t.Errorf("intent received %v, want [play some music]", got)
	}
	if gotTools := intm.ReceivedTools()[0]; len(gotTools) != 1 || gotTools[0].Name != "play_youtube" {
		t.Errorf("intent received tool schemas %v, want play_youtube", gotTools)
	}

	saved := store.Saved()
	if len(saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(saved))
	}
	if saved[0].Function != "play_youtube" || saved[0].Response != "Playing X" {
		t.Errorf("saved record = %+v", saved[0])
	}
}

func TestProcessText_ToolFailureBecomesApology(t *testing.T) {
	engines, _, _, ttsm := newTestEngines(vadmock.NewScorer(), wakemock.NewChain(), "")
	o, err := New(engines)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = o.Tools().Register(types.ToolDefinition{Name: "play_youtube"},
		func(_ context.Context, _ map[string]any) (types.ToolResult, error) {
			return types.ToolResult{}, errors.New("youtube is down")
		})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := o.ProcessText(context.Background(), "play some music"); err != nil {
		t.Fatalf("ProcessText returned %v, tool failures must be contained", err)
	}
	if got := o.State(); got != types.StateListening {
		t.Errorf("final state = %v, want listening", got)
	}
	spoken := ttsm.SpokenTexts()
	if len(spoken) != 1 || spoken[0] != apologyResponse {
		t.Errorf("spoken = %v, want the apology response", spoken)
	}
}

func TestProcessText_MalformedIntentFallsBack(t *testing.T) {
	engines, _, intm, ttsm := newTestEngines(vadmock.NewScorer(), wakemock.NewChain(), "")
	intm.Err = fmt.Errorf("tool call arguments: %w", intent.ErrParse)

	o, err := New(engines)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.ProcessText(context.Background(), "play some music"); err != nil {
		t.Fatalf("ProcessText returned %v, parse errors must be contained", err)
	}
	spoken := ttsm.SpokenTexts()
	if len(spoken) != 1 || spoken[0] != fallbackResponse {
		t.Errorf("spoken = %v, want the fallback response", spoken)
	}
	if got := o.State(); got != types.StateListening {
		t.Errorf("final state = %v, want listening", got)
	}
}

func TestProcessText_EngineErrorPropagatesButRecovers(t *testing.T) {
	engines, _, intm, _ := newTestEngines(vadmock.NewScorer(), wakemock.NewChain(), "")
	intm.Err = errors.New("backend unreachable")

	o, err := New(engines)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.ProcessText(context.Background(), "play some music"); err == nil {
		t.Fatal("ProcessText succeeded, want engine error")
	}
	if got := o.State(); got != types.StateListening {
		t.Errorf("state after failure = %v, want listening", got)
	}
}

func TestProcessText_MissingIntentEngine(t *testing.T) {
	engines, _, _, _ := newTestEngines(vadmock.NewScorer(), wakemock.NewChain(), "")
	engines.Intent = nil
	o, err := New(engines)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := o.ProcessText(context.Background(), "hello"); !errors.Is(err, ErrEngineNotInitialized) {
		t.Errorf("err = %v, want ErrEngineNotInitialized", err)
	}
}

func TestStartStop_Lifecycle(t *testing.T) {
	engines, _, _, _ := newTestEngines(vadmock.NewScorer(0.1), wakemock.NewChain(), "")
	o, err := New(engines)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := audiomock.NewSource(SampleRate)

	if err := o.Start(context.Background(), src); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := o.State(); got != types.StateListening {
		t.Errorf("state after Start = %v, want listening", got)
	}
	if err := o.Start(context.Background(), src); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: err = %v, want ErrAlreadyRunning", err)
	}

	// Registration is rejected while running.
	err = o.Tools().Register(types.ToolDefinition{Name: "late"},
		func(_ context.Context, _ map[string]any) (types.ToolResult, error) {
			return types.ToolResult{}, nil
		})
	if !errors.Is(err, tools.ErrRegistryLocked) {
		t.Errorf("Register while running: err = %v, want ErrRegistryLocked", err)
	}

	o.Stop()
	if got := o.State(); got != types.StateIdle {
		t.Errorf("state after Stop = %v, want idle", got)
	}
	if got := src.SubscriberCount(); got != 0 {
		t.Errorf("subscribers after Stop = %d, want 0", got)
	}

	// Registration works again, Stop is idempotent, and the pipeline restarts.
	err = o.Tools().Register(types.ToolDefinition{Name: "late"},
		func(_ context.Context, _ map[string]any) (types.ToolResult, error) {
			return types.ToolResult{}, nil
		})
	if err != nil {
		t.Errorf("Register after Stop: %v", err)
	}
	o.Stop()
	if err := o.Start(context.Background(), src); err != nil {
		t.Errorf("restart: %v", err)
	}
	o.Stop()
}

func TestPause_SuppressesIntake(t *testing.T) {
	scorer := vadmock.NewScorer(0.1)
	engines, _, _, _ := newTestEngines(scorer, wakemock.NewChain(), "")
	o, err := New(engines, WithFraming(160, 80))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := audiomock.NewSource(SampleRate)
	if err := o.Start(context.Background(), src); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	o.Pause()
	for i := 0; i < 5; i++ {
		src.PushSilence(160)
	}
	time.Sleep(50 * time.Millisecond)
	if got := scorer.Calls(); got != 0 {
		t.Errorf("scorer called %d times while paused, want 0", got)
	}

	o.Resume()
	for i := 0; i < 5; i++ {
		src.PushSilence(160)
	}
	waitFor(t, func() bool { return scorer.Calls() > 0 }, "scoring to resume")
}

func TestEndToEnd_SingleDetectionSingleUtterance(t *testing.T) {
	// Silence, then speech long enough to fill the embedding window and fire
	// one detection, then silence to close the capture session. The second
	// qualifying classification lands inside the cooldown, so exactly one
	// detection fires.
	scorer := vadmock.NewScorer(0.1, 0.9, 0.9, 0.9, 0.9, 0.9, 0.1, 0.1)
	chain := wakemock.NewChain(0.9)
	engines, sttm, _, ttsm := newTestEngines(scorer, chain, "play some music")
	store := &memorymock.CommandStore{}
	sink := &recordingSink{}

	o, err := New(engines,
		WithFraming(160, 80),
		WithVADOptions(WithNegativeCount(2)),
		WithWakeOptions(WithEmbeddingWindow(4)),
		WithStore(store),
		WithSink(sink),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	registerPlayYoutube(t, o.Tools())

	src := audiomock.NewSource(SampleRate)
	if err := o.Start(context.Background(), src); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	// One priming chunk, then one hop-sized chunk per analysis window.
	src.PushSilence(160)
	for i := 0; i < 7; i++ {
		src.PushSilence(80)
	}

	waitFor(t, func() bool {
		return sttm.Calls() == 1 && o.State() == types.StateListening
	}, "command cycle to complete")

	// Exactly one detection event.
	detections := 0
	for {
		var done bool
		select {
		case ev := <-o.Events():
			if ev.Kind == EventDetection {
				detections++
			}
		default:
			done = true
		}
		if done {
			break
		}
	}
	if detections != 1 {
		t.Errorf("detections = %d, want 1", detections)
	}

	// Exactly one utterance: the 160-sample seed window plus the three
	// chunks that arrived between detection and the speech-end edge.
	lengths := sttm.ReceivedLengths()
	if len(lengths) != 1 {
		t.Fatalf("transcriber received %d utterances, want 1", len(lengths))
	}
	if lengths[0] != 400 {
		t.Errorf("utterance length = %d samples, want 400", lengths[0])
	}

	spoken := ttsm.SpokenTexts()
	if len(spoken) != 1 || spoken[0] != "Playing X" {
		t.Errorf("spoken = %v, want [Playing X]", spoken)
	}
	if sink.count() != 1 {
		t.Errorf("sink played %d clips, want 1", sink.count())
	}

	saved := store.Saved()
	if len(saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(saved))
	}
	rec := saved[0]
	if rec.Transcript != "play some music" || rec.Function != "play_youtube" || rec.WakeWord != DefaultWakeWord {
		t.Errorf("saved record = %+v", rec)
	}
}

func TestDetectionLatencyMetricsRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Constant speech keeps the wake chain consulted on every window; a zero
	// classification probability keeps the detector from firing.
	scorer := vadmock.NewScorer(0.9)
	chain := wakemock.NewChain(0.0)
	engines, _, _, _ := newTestEngines(scorer, chain, "")

	o, err := New(engines, WithFraming(160, 80), WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := audiomock.NewSource(SampleRate)
	if err := o.Start(context.Background(), src); err != nil {
		t.Fatalf("Start: %v", err)
	}

	src.PushSilence(160)
	for i := 0; i < 3; i++ {
		src.PushSilence(80)
	}
	waitFor(t, func() bool { return scorer.Calls() >= 4 }, "windows to be scored")
	o.Stop()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, name := range []string{"earshot.vad.score.duration", "earshot.wake.classify.duration"} {
		hist, ok := findHistogram(rm, name)
		if !ok {
			t.Errorf("histogram %q was never recorded", name)
			continue
		}
		if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count == 0 {
			t.Errorf("histogram %q has no samples", name)
		}
	}
}

func findHistogram(rm metricdata.ResourceMetrics, name string) (metricdata.Histogram[float64], bool) {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				hist, ok := sm.Metrics[i].Data.(metricdata.Histogram[float64])
				return hist, ok
			}
		}
	}
	return metricdata.Histogram[float64]{}, false
}

func TestStop_FromRecordingClearsSession(t *testing.T) {
	// Speech that fires a detection but never ends: Stop must tear down the
	// open session and leave no subscriber behind.
	scorer := vadmock.NewScorer(0.9)
	chain := wakemock.NewChain(0.9)
	engines, sttm, _, _ := newTestEngines(scorer, chain, "never used")

	o, err := New(engines,
		WithFraming(160, 80),
		WithWakeOptions(WithEmbeddingWindow(2)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := audiomock.NewSource(SampleRate)
	if err := o.Start(context.Background(), src); err != nil {
		t.Fatalf("Start: %v", err)
	}

	src.PushSilence(160)
	src.PushSilence(80)
	waitFor(t, func() bool { return o.State() == types.StateRecording }, "detection to open a session")

	o.Stop()
	if got := o.State(); got != types.StateIdle {
		t.Errorf("state after Stop = %v, want idle", got)
	}
	if got := src.SubscriberCount(); got != 0 {
		t.Errorf("subscribers after Stop = %d, want 0", got)
	}
	if got := sttm.Calls(); got != 0 {
		t.Errorf("transcriber called %d times, the aborted session must not emit", got)
	}
}

func TestRunCommand_EmptyTranscriptReturnsToListening(t *testing.T) {
	scorer := vadmock.NewScorer(0.1, 0.9, 0.9, 0.9, 0.1, 0.1)
	chain := wakemock.NewChain(0.9)
	engines, sttm, intm, _ := newTestEngines(scorer, chain, "")

	o, err := New(engines,
		WithFraming(160, 80),
		WithVADOptions(WithNegativeCount(2)),
		WithWakeOptions(WithEmbeddingWindow(2)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := audiomock.NewSource(SampleRate)
	if err := o.Start(context.Background(), src); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop()

	src.PushSilence(160)
	for i := 0; i < 5; i++ {
		src.PushSilence(80)
	}

	waitFor(t, func() bool {
		return sttm.Calls() == 1 && o.State() == types.StateListening
	}, "empty transcript to be discarded")

	if got := intm.Calls(); got != 0 {
		t.Errorf("intent engine called %d times on empty transcript, want 0", got)
	}
}

func TestTranscriptFilter_CanDiscardCommand(t *testing.T) {
	engines, _, intm, _ := newTestEngines(vadmock.NewScorer(), wakemock.NewChain(), "")
	o, err := New(engines, WithTranscriptFilter(func(string) string { return "" }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// The filter applies on the audio path only; ProcessText takes text as-is.
	if err := o.ProcessText(context.Background(), "hey earshot"); err != nil {
		t.Fatalf("ProcessText: %v", err)
	}
	if got := intm.Calls(); got != 1 {
		t.Errorf("intent calls = %d, want 1", got)
	}
}
