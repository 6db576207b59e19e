// Command earshot is the main entry point for the Earshot wake-word daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/earshot-ai/earshot/internal/app"
	"github.com/earshot-ai/earshot/internal/config"
	"github.com/earshot-ai/earshot/internal/observe"
	"github.com/earshot-ai/earshot/internal/pipeline"
	"github.com/earshot-ai/earshot/internal/resilience"
	"github.com/earshot-ai/earshot/pkg/audio"
	discordaudio "github.com/earshot-ai/earshot/pkg/audio/discord"
	"github.com/earshot-ai/earshot/pkg/provider/embeddings"
	oaembed "github.com/earshot-ai/earshot/pkg/provider/embeddings/openai"
	"github.com/earshot-ai/earshot/pkg/provider/intent"
	"github.com/earshot-ai/earshot/pkg/provider/intent/anyllm"
	oaintent "github.com/earshot-ai/earshot/pkg/provider/intent/openai"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	"github.com/earshot-ai/earshot/pkg/provider/stt/whisper"
	"github.com/earshot-ai/earshot/pkg/provider/tts"
	"github.com/earshot-ai/earshot/pkg/provider/tts/piper"
	"github.com/earshot-ai/earshot/pkg/provider/vad"
	vadsidecar "github.com/earshot-ai/earshot/pkg/provider/vad/sidecar"
	"github.com/earshot-ai/earshot/pkg/provider/wake"
	wakesidecar "github.com/earshot-ai/earshot/pkg/provider/wake/sidecar"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "earshot.yaml", "path to the YAML configuration file")
	watchConfig := flag.Bool("watch-config", false, "reload the config file on change (log level applies live)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "earshot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "earshot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := &slog.LevelVar{}
	levelVar.Set(slogLevel(cfg.Ops.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("earshot starting",
		"config", *configPath,
		"wake_word", cfg.Pipeline.WakeWord,
		"log_level", cfg.Ops.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "earshot",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	appOpts := []app.Option{
		app.WithLogger(logger),
		app.WithLogLevelVar(levelVar),
	}

	// ── Discord voice (optional) ──────────────────────────────────────────────
	if cfg.Providers.Audio.Name == "discord" {
		source, sink, closeFn, err := connectDiscord(cfg.Providers.Audio)
		if err != nil {
			slog.Error("failed to connect Discord voice", "err", err)
			return 1
		}
		providers.Audio = source
		appOpts = append(appOpts, app.WithSink(sink))
		defer closeFn()
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config watcher (optional) ─────────────────────────────────────────────
	if *watchConfig {
		watcher, err := config.NewWatcher(*configPath, application.HandleConfigChange)
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	slog.Info("daemon ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// engine from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── VAD ───────────────────────────────────────────────────────────────────
	// "silero" is an alias: the sidecar serves a Silero model.
	for _, name := range []string{"sidecar", "silero"} {
		reg.RegisterVAD(name, func(entry config.ProviderEntry) (vad.Scorer, error) {
			return vadsidecar.New(entry.BaseURL)
		})
	}

	// ── Wake ──────────────────────────────────────────────────────────────────
	for _, name := range []string{"sidecar", "openwakeword"} {
		reg.RegisterWake(name, func(entry config.ProviderEntry) (wake.Chain, error) {
			model := entry.Model
			if model == "" {
				model = cfg.Pipeline.WakeWord
			}
			var opts []wakesidecar.Option
			if model != "" {
				opts = append(opts, wakesidecar.WithWakeModel(model))
			}
			return wakesidecar.New(entry.BaseURL, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			dir := optString(entry.Options, "model_dir")
			if dir == "" {
				return nil, errors.New("whisper requires model (a model path) or options.model_dir")
			}
			modelPath = filepath.Join(dir, "ggml-"+cfg.Pipeline.Preset.STTModel()+".bin")
		}
		var opts []whisper.Option
		if cfg.Pipeline.Language != "" {
			opts = append(opts, whisper.WithLanguage(cfg.Pipeline.Language))
		}
		return whisper.New(modelPath, opts...)
	})

	// ── Intent ────────────────────────────────────────────────────────────────
	reg.RegisterIntent("openai", func(entry config.ProviderEntry) (intent.Engine, error) {
		var opts []oaintent.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaintent.WithBaseURL(entry.BaseURL))
		}
		return oaintent.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic and gemini go through the any-llm backend; they share the
	// APIKey + optional BaseURL pattern.
	for _, name := range []string{"anyllm", "anthropic", "gemini"} {
		backend := name
		if backend == "anyllm" {
			backend = "openai"
		}
		reg.RegisterIntent(name, func(entry config.ProviderEntry) (intent.Engine, error) {
			var backendOpts []anyllmlib.Option
			if entry.APIKey != "" {
				backendOpts = append(backendOpts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				backendOpts = append(backendOpts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, backendOpts)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterIntent("ollama", func(entry config.ProviderEntry) (intent.Engine, error) {
		var backendOpts []anyllmlib.Option
		if entry.BaseURL != "" {
			backendOpts = append(backendOpts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, backendOpts)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		return piper.New(entry.BaseURL)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────
	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildProviders instantiates all engines named in cfg using the registry.
// Entries with fallbacks get wrapped in a circuit-breaking failover group.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if err != nil {
			return nil, fmt.Errorf("create vad provider %q: %w", name, err)
		}
		ps.VAD = p
		slog.Info("provider created", "kind", "vad", "name", name)
	}

	if name := cfg.Providers.Wake.Name; name != "" {
		p, err := reg.CreateWake(cfg.Providers.Wake)
		if err != nil {
			return nil, fmt.Errorf("create wake provider %q: %w", name, err)
		}
		ps.Wake = p
		slog.Info("provider created", "kind", "wake", "name", name)
	}

	if entry := cfg.Providers.STT; entry.Name != "" {
		primary, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		ps.STT = primary
		if len(entry.Fallbacks) > 0 {
			f := resilience.NewTranscriberFallback(primary, entry.Name, resilience.FallbackConfig{})
			for _, fb := range entry.Fallbacks {
				t, err := reg.CreateSTT(fb)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
				}
				f.AddFallback(fb.Name, t)
			}
			ps.STT = f
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.Intent; entry.Name != "" {
		primary, err := reg.CreateIntent(entry)
		if err != nil {
			return nil, fmt.Errorf("create intent provider %q: %w", entry.Name, err)
		}
		ps.Intent = primary
		if len(entry.Fallbacks) > 0 {
			f := resilience.NewIntentFallback(primary, entry.Name, resilience.FallbackConfig{})
			for _, fb := range entry.Fallbacks {
				e, err := reg.CreateIntent(fb)
				if err != nil {
					return nil, fmt.Errorf("create intent fallback %q: %w", fb.Name, err)
				}
				f.AddFallback(fb.Name, e)
			}
			ps.Intent = f
		}
		slog.Info("provider created", "kind", "intent", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		primary, err := reg.CreateTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		ps.TTS = primary
		if len(entry.Fallbacks) > 0 {
			f := resilience.NewSynthesizerFallback(primary, entry.Name, resilience.FallbackConfig{})
			for _, fb := range entry.Fallbacks {
				s, err := reg.CreateTTS(fb)
				if err != nil {
					return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
				}
				f.AddFallback(fb.Name, s)
			}
			ps.TTS = f
		}
		slog.Info("provider created", "kind", "tts", "name", entry.Name, "fallbacks", len(entry.Fallbacks))
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return ps, nil
}

// connectDiscord opens a Discord session, joins the configured voice channel,
// and returns the pipeline's audio source and playback sink.
func connectDiscord(entry config.ProviderEntry) (audio.Source, pipeline.Sink, func(), error) {
	token := entry.APIKey
	guildID := optString(entry.Options, "guild_id")
	channelID := optString(entry.Options, "channel_id")
	if token == "" || guildID == "" || channelID == "" {
		return nil, nil, nil, errors.New("discord audio requires api_key, options.guild_id, and options.channel_id")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildVoiceStates
	if err := session.Open(); err != nil {
		return nil, nil, nil, fmt.Errorf("open discord session: %w", err)
	}

	vc, err := session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		_ = session.Close()
		return nil, nil, nil, fmt.Errorf("join voice channel %q: %w", channelID, err)
	}

	source := discordaudio.NewSource(vc)
	sink, err := discordaudio.NewSink(vc)
	if err != nil {
		_ = vc.Disconnect()
		_ = session.Close()
		return nil, nil, nil, err
	}

	closeFn := func() {
		_ = source.Close()
		_ = vc.Disconnect()
		_ = session.Close()
	}

	slog.Info("discord voice connected", "guild_id", guildID, "channel_id", channelID)
	return source, sink, closeFn, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Earshot — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Wake", cfg.Providers.Wake.Name, cfg.Providers.Wake.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Intent", cfg.Providers.Intent.Name, cfg.Providers.Intent.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, "")
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	if cfg.Ops.ListenAddr != "" {
		fmt.Printf("║  Ops addr        : %-19s ║\n", cfg.Ops.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

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

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
