package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad":        {"sidecar", "silero"},
	"wake":       {"sidecar", "openwakeword"},
	"stt":        {"whisper"},
	"intent":     {"openai", "anyllm", "ollama", "anthropic", "gemini"},
	"tts":        {"piper"},
	"embeddings": {"openai"},
	"audio":      {"discord"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Ops.LogLevel != "" && !cfg.Ops.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("ops.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Ops.LogLevel))
	}

	errs = append(errs, validatePipeline(&cfg.Pipeline)...)

	validateProviderName("vad", cfg.Providers.VAD)
	validateProviderName("wake", cfg.Providers.Wake)
	validateProviderName("stt", cfg.Providers.STT)
	validateProviderName("intent", cfg.Providers.Intent)
	validateProviderName("tts", cfg.Providers.TTS)
	validateProviderName("embeddings", cfg.Providers.Embeddings)
	validateProviderName("audio", cfg.Providers.Audio)

	if cfg.Providers.VAD.Name == "" || cfg.Providers.Wake.Name == "" {
		errs = append(errs, errors.New("providers.vad and providers.wake are required; the pipeline cannot detect speech without them"))
	}
	if cfg.Providers.Intent.Name == "" {
		slog.Warn("no intent provider configured; commands will not be understood")
	}

	if cfg.Providers.Embeddings.Name != "" && cfg.Memory.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but memory.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; command history will not be persisted")
	}

	// MCP servers
	serverNames := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := serverNames[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			serverNames[srv.Name] = i
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
			}
		case "streamable-http":
			if srv.URL == "" {
				errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
			}
		case "":
		default:
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
	}

	return errors.Join(errs...)
}

// validatePipeline checks the detection tuning knobs. Zero values are valid
// and select the built-in defaults.
func validatePipeline(p *PipelineConfig) []error {
	var errs []error

	if p.Preset != "" && !p.Preset.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.preset %q is invalid; valid values: potato, balanced, quality", p.Preset))
	}
	if p.VADPositive != 0 && (p.VADPositive <= 0 || p.VADPositive >= 1) {
		errs = append(errs, fmt.Errorf("pipeline.vad_positive %.2f is out of range (0, 1)", p.VADPositive))
	}
	if p.VADNegative != 0 && (p.VADNegative <= 0 || p.VADNegative >= 1) {
		errs = append(errs, fmt.Errorf("pipeline.vad_negative %.2f is out of range (0, 1)", p.VADNegative))
	}
	if p.VADPositive != 0 && p.VADNegative != 0 && p.VADNegative >= p.VADPositive {
		errs = append(errs, fmt.Errorf("pipeline.vad_negative %.2f must be below pipeline.vad_positive %.2f", p.VADNegative, p.VADPositive))
	}
	if p.VADNegativeCount < 0 {
		errs = append(errs, fmt.Errorf("pipeline.vad_negative_count %d must not be negative", p.VADNegativeCount))
	}
	if p.EmbeddingWindow < 0 {
		errs = append(errs, fmt.Errorf("pipeline.embedding_window %d must not be negative", p.EmbeddingWindow))
	}
	if p.WakeThreshold != 0 && (p.WakeThreshold <= 0 || p.WakeThreshold >= 1) {
		errs = append(errs, fmt.Errorf("pipeline.wake_threshold %.2f is out of range (0, 1)", p.WakeThreshold))
	}
	if p.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("pipeline.cooldown %s must not be negative", p.Cooldown))
	}
	if p.StageTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.stage_timeout %s must not be negative", p.StageTimeout))
	}
	return errs
}

// validateProviderName logs a warning if the entry's name (or any fallback's)
// is non-empty and not found in [ValidProviderNames] for the given kind.
func validateProviderName(kind string, entry ProviderEntry) {
	names := append([]ProviderEntry{entry}, entry.Fallbacks...)
	for _, e := range names {
		if e.Name == "" {
			continue
		}
		known, ok := ValidProviderNames[kind]
		if !ok {
			continue
		}
		if slices.Contains(known, e.Name) {
			continue
		}
		slog.Warn("unknown provider name — may be a typo or third-party provider",
			"kind", kind,
			"name", e.Name,
			"known", known,
		)
	}
}
