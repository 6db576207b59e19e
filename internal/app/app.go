// Package app wires all Earshot subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems (command store, MCP tool bridge, pipeline orchestrator, ops
// server), Run executes them until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithCommandStore,
// WithToolRegistry, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/earshot-ai/earshot/internal/config"
	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/internal/ops"
	"github.com/earshot-ai/earshot/internal/pipeline"
	"github.com/earshot-ai/earshot/internal/tools"
	"github.com/earshot-ai/earshot/internal/tools/mcpbridge"
	"github.com/earshot-ai/earshot/internal/verify"
	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/memory"
	"github.com/earshot-ai/earshot/pkg/memory/postgres"
	"github.com/earshot-ai/earshot/pkg/provider/embeddings"
	"github.com/earshot-ai/earshot/pkg/provider/intent"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	"github.com/earshot-ai/earshot/pkg/provider/tts"
	"github.com/earshot-ai/earshot/pkg/provider/vad"
	"github.com/earshot-ai/earshot/pkg/provider/wake"
	"github.com/earshot-ai/earshot/pkg/types"
)

// Providers holds one interface value per engine slot. Nil means the engine
// is not configured. Populated by main.go via the config registry.
type Providers struct {
	VAD        vad.Scorer
	Wake       wake.Chain
	STT        stt.Transcriber
	Intent     intent.Engine
	TTS        tts.Synthesizer
	Embeddings embeddings.Provider
	Audio      audio.Source
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger

	// Subsystems — initialised in New, torn down in Shutdown.
	store    memory.CommandStore
	registry *tools.Registry
	bridge   *mcpbridge.Bridge
	orch     *pipeline.Orchestrator
	opsSrv   *ops.Server
	sink     pipeline.Sink

	// logLevel, when set, is adjusted live on config reload.
	logLevel *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCommandStore injects a command store instead of connecting to Postgres.
func WithCommandStore(s memory.CommandStore) Option {
	return func(a *App) { a.store = s }
}

// WithToolRegistry injects a pre-populated tool registry. MCP server tools
// are registered on top of it.
func WithToolRegistry(r *tools.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithLogLevelVar wires the level variable backing the process logger so
// config reloads can adjust verbosity live.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithSink injects the playback sink handed to the pipeline. Playback is
// adapter-specific; without a sink, responses are synthesised and discarded.
func WithSink(s pipeline.Sink) Option {
	return func(a *App) { a.sink = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: command store connection,
// MCP server registration, and orchestrator assembly. The pipeline does not
// consume audio until Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}
	if err := a.initTools(ctx); err != nil {
		return nil, fmt.Errorf("app: init tools: %w", err)
	}
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.initOps()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory connects the PostgreSQL command store unless one was injected.
// An empty DSN leaves the store nil; the pipeline then skips persistence.
func (a *App) initMemory(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		return nil
	}
	if a.providers.Embeddings == nil {
		return errors.New("memory.postgres_dsn is set but no embeddings provider is configured")
	}

	store, err := postgres.NewStore(ctx, dsn, a.providers.Embeddings)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// initTools sets up the tool registry and connects MCP servers.
func (a *App) initTools(ctx context.Context) error {
	if a.registry == nil {
		a.registry = tools.NewRegistry()
	}

	if len(a.cfg.MCP.Servers) == 0 {
		return nil
	}

	a.bridge = mcpbridge.New(a.registry, mcpbridge.WithLogger(a.logger))
	a.closers = append(a.closers, a.bridge.Close)

	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := mcpbridge.ServerConfig{
			Name:      srv.Name,
			Transport: mcpbridge.Transport(srv.Transport),
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := a.bridge.Connect(ctx, serverCfg); err != nil {
			return fmt.Errorf("connect mcp server %q: %w", srv.Name, err)
		}
	}
	return nil
}

// initPipeline assembles the orchestrator from config and providers.
func (a *App) initPipeline() error {
	p := &a.cfg.Pipeline

	wakeWord := p.WakeWord
	if wakeWord == "" {
		wakeWord = pipeline.DefaultWakeWord
	}

	popts := []pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithMetrics(observe.DefaultMetrics()),
		pipeline.WithTools(a.registry),
		pipeline.WithWakeWord(wakeWord),
		pipeline.WithTranscriptFilter(verify.New(wakeWord).Strip),
	}
	if a.store != nil {
		popts = append(popts, pipeline.WithStore(a.store))
	}
	if a.sink != nil {
		popts = append(popts, pipeline.WithSink(a.sink))
	}
	if p.Voice != "" {
		popts = append(popts, pipeline.WithVoice(p.Voice))
	}
	if p.Language != "" {
		popts = append(popts, pipeline.WithLanguage(p.Language))
	}
	if p.StageTimeout > 0 {
		popts = append(popts, pipeline.WithStageTimeout(p.StageTimeout.Std()))
	}

	var vadOpts []pipeline.VoiceActivityOption
	if p.VADPositive != 0 || p.VADNegative != 0 {
		vadOpts = append(vadOpts, pipeline.WithThresholds(p.VADPositive, p.VADNegative))
	}
	if p.VADNegativeCount != 0 {
		vadOpts = append(vadOpts, pipeline.WithNegativeCount(p.VADNegativeCount))
	}
	if len(vadOpts) > 0 {
		popts = append(popts, pipeline.WithVADOptions(vadOpts...))
	}

	var wakeOpts []pipeline.WakeDetectorOption
	if p.EmbeddingWindow != 0 {
		wakeOpts = append(wakeOpts, pipeline.WithEmbeddingWindow(p.EmbeddingWindow))
	}
	if p.WakeThreshold != 0 {
		wakeOpts = append(wakeOpts, pipeline.WithWakeThreshold(p.WakeThreshold))
	}
	if p.Cooldown != 0 {
		wakeOpts = append(wakeOpts, pipeline.WithCooldown(p.Cooldown.Std()))
	}
	if len(wakeOpts) > 0 {
		popts = append(popts, pipeline.WithWakeOptions(wakeOpts...))
	}

	orch, err := pipeline.New(pipeline.Engines{
		VAD:         a.providers.VAD,
		Wake:        a.providers.Wake,
		Transcriber: a.providers.STT,
		Intent:      a.providers.Intent,
		Synthesizer: a.providers.TTS,
	}, popts...)
	if err != nil {
		return err
	}
	a.orch = orch
	return nil
}

// initOps builds the ops HTTP server when an address is configured.
func (a *App) initOps() {
	if a.cfg.Ops.ListenAddr == "" {
		return
	}

	checkers := []ops.Checker{
		{Name: "pipeline", Check: func(context.Context) error {
			if a.orch.State() == types.StateIdle {
				return errors.New("pipeline is idle")
			}
			return nil
		}},
	}
	if a.store != nil {
		checkers = append(checkers, ops.Checker{Name: "memory", Check: func(ctx context.Context) error {
			_, err := a.store.Recent(ctx, time.Now().Add(-time.Minute), 1)
			return err
		}})
	}

	a.opsSrv = ops.NewServer(a.cfg.Ops.ListenAddr,
		ops.WithLogger(a.logger),
		ops.WithCheckers(checkers...),
		ops.WithStatus(a.status),
	)
}

// status snapshots the running pipeline for /statusz.
func (a *App) status() ops.Status {
	st := ops.Status{
		State:    a.orch.State().String(),
		WakeWord: a.wakeWord(),
	}
	if a.bridge != nil {
		st.MCPServers = a.bridge.Servers()
	}
	return st
}

func (a *App) wakeWord() string {
	if a.cfg.Pipeline.WakeWord != "" {
		return a.cfg.Pipeline.WakeWord
	}
	return pipeline.DefaultWakeWord
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the pipeline on the configured audio source and blocks until ctx
// is cancelled. The ops server (when configured) and the pipeline event log
// run in the same group; the first hard failure tears everything down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.providers.Audio != nil {
		if err := a.orch.Start(ctx, a.providers.Audio); err != nil {
			return fmt.Errorf("app: start pipeline: %w", err)
		}
	} else {
		a.logger.Warn("no audio source configured; pipeline stays idle")
	}

	if a.opsSrv != nil {
		g.Go(func() error {
			return a.opsSrv.Run(ctx)
		})
	}

	g.Go(func() error {
		a.logEvents(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.orch.Stop()
		return ctx.Err()
	})

	a.logger.Info("earshot running",
		"wake_word", a.wakeWord(),
		"state", a.orch.State().String())

	return g.Wait()
}

// logEvents drains the pipeline event stream until ctx is done.
func (a *App) logEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.orch.Events():
			switch ev.Kind {
			case pipeline.EventStateChange:
				a.logger.Debug("pipeline state", "state", ev.State.String())
			case pipeline.EventDetection:
				a.logger.Info("wake word detected",
					"wake_word", ev.WakeWord,
					"probability", ev.Probability)
			case pipeline.EventUtterance:
				a.logger.Info("utterance transcribed", "transcript", ev.Transcript)
			case pipeline.EventError:
				a.logger.Warn("pipeline error", "err", ev.Err)
			}
		}
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// HandleConfigChange reacts to a config file reload. Log level changes apply
// immediately; pipeline tuning changes are logged as pending until the next
// restart.
func (a *App) HandleConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		a.logger.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if d.PipelineChanged {
		a.logger.Warn("pipeline configuration changed; restart to apply",
			"fields", strings.Join(d.PipelineFields, ","))
	}
	if d.MCPServersChanged {
		a.logger.Warn("mcp server list changed; restart to apply")
	}
}

// slogLevel maps a config log level to its slog equivalent.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		a.orch.Stop()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// Pipeline exposes the orchestrator for adapters that inject text commands
// or pause intake (push-to-talk surfaces).
func (a *App) Pipeline() *pipeline.Orchestrator {
	return a.orch
}
