package config

import (
	"strings"
	"testing"
	"time"
)

// validYAML is a complete, valid configuration used as a baseline in tests.
const validYAML = `
ops:
  listen_addr: ":9090"
  log_level: info
pipeline:
  wake_word: hey_earshot
  voice: amy
  language: en
  preset: balanced
  vad_positive: 0.65
  vad_negative: 0.40
  vad_negative_count: 8
  embedding_window: 16
  wake_threshold: 0.5
  cooldown: 2s
providers:
  vad:
    name: sidecar
    base_url: http://localhost:8001
  wake:
    name: sidecar
    base_url: http://localhost:8002
  stt:
    name: whisper
    model: base.en
  intent:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
    fallbacks:
      - name: ollama
        base_url: http://localhost:11434
        model: llama3
  tts:
    name: piper
    base_url: http://localhost:8003
  embeddings:
    name: openai
    api_key: sk-test
memory:
  postgres_dsn: postgres://earshot@localhost:5432/earshot
  embedding_dimensions: 1536
mcp:
  servers:
    - name: home
      transport: stdio
      command: /usr/local/bin/mcp-home
      env:
        HOME_TOKEN: secret
    - name: search
      transport: streamable-http
      url: https://mcp.example.com/mcp
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Pipeline.WakeWord != "hey_earshot" {
		t.Errorf("wake_word = %q", cfg.Pipeline.WakeWord)
	}
	if cfg.Pipeline.Cooldown.Std() != 2*time.Second {
		t.Errorf("cooldown = %s, want 2s", cfg.Pipeline.Cooldown)
	}
	if cfg.Pipeline.VADNegativeCount != 8 {
		t.Errorf("vad_negative_count = %d", cfg.Pipeline.VADNegativeCount)
	}
	if got := len(cfg.Providers.Intent.Fallbacks); got != 1 {
		t.Fatalf("intent fallbacks = %d, want 1", got)
	}
	if cfg.Providers.Intent.Fallbacks[0].Name != "ollama" {
		t.Errorf("fallback name = %q", cfg.Providers.Intent.Fallbacks[0].Name)
	}
	if len(cfg.MCP.Servers) != 2 || cfg.MCP.Servers[0].Env["HOME_TOKEN"] != "secret" {
		t.Errorf("mcp servers = %+v", cfg.MCP.Servers)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("pipelien:\n  wake_word: hey_earshot\n"))
	if err == nil {
		t.Error("expected error for misspelled top-level key, got nil")
	}
}

func TestLoadFromReaderBadDuration(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("pipeline:\n  cooldown: fast\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("err = %v, want invalid duration", err)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			"bad log level",
			func(c *Config) { c.Ops.LogLevel = "loud" },
			"ops.log_level",
		},
		{
			"bad preset",
			func(c *Config) { c.Pipeline.Preset = "ludicrous" },
			"pipeline.preset",
		},
		{
			"positive threshold out of range",
			func(c *Config) { c.Pipeline.VADPositive = 1.5 },
			"vad_positive",
		},
		{
			"negative at or above positive",
			func(c *Config) { c.Pipeline.VADPositive = 0.4; c.Pipeline.VADNegative = 0.6 },
			"must be below",
		},
		{
			"negative cooldown",
			func(c *Config) { c.Pipeline.Cooldown = Duration(-time.Second) },
			"cooldown",
		},
		{
			"missing vad provider",
			func(c *Config) { c.Providers.VAD.Name = "" },
			"providers.vad",
		},
		{
			"mcp server without name",
			func(c *Config) { c.MCP.Servers = []MCPServerConfig{{Transport: "stdio", Command: "x"}} },
			"name is required",
		},
		{
			"duplicate mcp server name",
			func(c *Config) {
				c.MCP.Servers = []MCPServerConfig{
					{Name: "a", Transport: "stdio", Command: "x"},
					{Name: "a", Transport: "stdio", Command: "y"},
				}
			},
			"duplicate",
		},
		{
			"stdio without command",
			func(c *Config) { c.MCP.Servers = []MCPServerConfig{{Name: "a", Transport: "stdio"}} },
			"command is required",
		},
		{
			"http without url",
			func(c *Config) { c.MCP.Servers = []MCPServerConfig{{Name: "a", Transport: "streamable-http"}} },
			"url is required",
		},
		{
			"unknown transport",
			func(c *Config) { c.MCP.Servers = []MCPServerConfig{{Name: "a", Transport: "smoke-signals"}} },
			"transport",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadFromReader(strings.NewReader(validYAML))
			if err != nil {
				t.Fatalf("baseline config invalid: %v", err)
			}
			tc.mutate(cfg)
			err = Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("baseline config invalid: %v", err)
	}
	cfg.Ops.LogLevel = "loud"
	cfg.Pipeline.Preset = "ludicrous"

	err = Validate(cfg)
	if err == nil {
		t.Fatal("expected joined errors, got nil")
	}
	for _, want := range []string{"ops.log_level", "pipeline.preset"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestPresetSTTModel(t *testing.T) {
	if got := PresetPotato.STTModel(); got != "tiny.en" {
		t.Errorf("potato model = %q", got)
	}
	if got := PresetQuality.STTModel(); got != "small.en" {
		t.Errorf("quality model = %q", got)
	}
	// Unset preset falls back to the balanced variant.
	if got := Preset("").STTModel(); got != "base.en" {
		t.Errorf("default model = %q", got)
	}
}
