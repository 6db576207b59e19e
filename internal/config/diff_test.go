package config

import (
	"slices"
	"testing"
	"time"
)

func baseConfig() *Config {
	return &Config{
		Ops: OpsConfig{LogLevel: LogInfo},
		Pipeline: PipelineConfig{
			WakeWord:    "hey_earshot",
			VADPositive: 0.65,
			Cooldown:    Duration(2 * time.Second),
		},
		MCP: MCPConfig{Servers: []MCPServerConfig{
			{Name: "home", Transport: "stdio", Command: "/usr/bin/mcp-home"},
		}},
	}
}

func TestDiffNoChanges(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	d := Diff(old, new)
	if d.LogLevelChanged || d.PipelineChanged || d.MCPServersChanged {
		t.Errorf("Diff of identical configs = %+v", d)
	}
}

func TestDiffLogLevel(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Ops.LogLevel = LogDebug

	d := Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
		t.Errorf("Diff = %+v, want log level change to debug", d)
	}
}

func TestDiffPipelineFields(t *testing.T) {
	old, new := baseConfig(), baseConfig()
	new.Pipeline.VADPositive = 0.7
	new.Pipeline.Cooldown = Duration(5 * time.Second)

	d := Diff(old, new)
	if !d.PipelineChanged {
		t.Fatal("PipelineChanged = false")
	}
	for _, want := range []string{"vad_positive", "cooldown"} {
		if !slices.Contains(d.PipelineFields, want) {
			t.Errorf("PipelineFields = %v, missing %q", d.PipelineFields, want)
		}
	}
	if slices.Contains(d.PipelineFields, "wake_word") {
		t.Errorf("PipelineFields = %v, wake_word did not change", d.PipelineFields)
	}
}

func TestDiffMCPServers(t *testing.T) {
	t.Run("reconfigured", func(t *testing.T) {
		old, new := baseConfig(), baseConfig()
		new.MCP.Servers[0].Command = "/usr/bin/mcp-home --verbose"
		if d := Diff(old, new); !d.MCPServersChanged {
			t.Error("MCPServersChanged = false after command change")
		}
	})

	t.Run("added", func(t *testing.T) {
		old, new := baseConfig(), baseConfig()
		new.MCP.Servers = append(new.MCP.Servers, MCPServerConfig{Name: "search", Transport: "streamable-http", URL: "https://x"})
		if d := Diff(old, new); !d.MCPServersChanged {
			t.Error("MCPServersChanged = false after add")
		}
	})

	t.Run("env changed", func(t *testing.T) {
		old, new := baseConfig(), baseConfig()
		new.MCP.Servers[0].Env = map[string]string{"TOKEN": "x"}
		if d := Diff(old, new); !d.MCPServersChanged {
			t.Error("MCPServersChanged = false after env change")
		}
	})
}
