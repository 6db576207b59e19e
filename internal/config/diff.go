package config

// ConfigDiff describes what changed between two configs.
//
// Log level changes are applied live. Pipeline tuning changes take effect on
// the next pipeline restart; the diff lets the app log exactly which knobs
// moved so operators know a restart is pending.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true if any detection or capture knob changed.
	PipelineChanged bool

	// PipelineFields lists the YAML keys of the changed pipeline knobs.
	PipelineFields []string

	// MCPServersChanged is true if the MCP server list changed (added,
	// removed, or reconfigured servers).
	MCPServersChanged bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes the running app reacts to.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Ops.LogLevel != new.Ops.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Ops.LogLevel
	}

	d.PipelineFields = diffPipeline(&old.Pipeline, &new.Pipeline)
	d.PipelineChanged = len(d.PipelineFields) > 0

	d.MCPServersChanged = diffMCP(old.MCP.Servers, new.MCP.Servers)

	return d
}

// diffPipeline returns the YAML keys of pipeline knobs that differ.
func diffPipeline(old, new *PipelineConfig) []string {
	var fields []string
	add := func(changed bool, key string) {
		if changed {
			fields = append(fields, key)
		}
	}

	add(old.WakeWord != new.WakeWord, "wake_word")
	add(old.Voice != new.Voice, "voice")
	add(old.Language != new.Language, "language")
	add(old.Preset != new.Preset, "preset")
	add(old.VADPositive != new.VADPositive, "vad_positive")
	add(old.VADNegative != new.VADNegative, "vad_negative")
	add(old.VADNegativeCount != new.VADNegativeCount, "vad_negative_count")
	add(old.EmbeddingWindow != new.EmbeddingWindow, "embedding_window")
	add(old.WakeThreshold != new.WakeThreshold, "wake_threshold")
	add(old.Cooldown != new.Cooldown, "cooldown")
	add(old.StageTimeout != new.StageTimeout, "stage_timeout")

	return fields
}

// diffMCP reports whether the two server lists differ, keyed by server name.
func diffMCP(old, new []MCPServerConfig) bool {
	if len(old) != len(new) {
		return true
	}

	oldByName := make(map[string]MCPServerConfig, len(old))
	for _, s := range old {
		oldByName[s.Name] = s
	}
	for _, s := range new {
		prev, ok := oldByName[s.Name]
		if !ok {
			return true
		}
		if prev.Transport != s.Transport || prev.Command != s.Command || prev.URL != s.URL {
			return true
		}
		if len(prev.Env) != len(s.Env) {
			return true
		}
		for k, v := range s.Env {
			if prev.Env[k] != v {
				return true
			}
		}
	}
	return false
}
