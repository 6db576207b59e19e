// Package mcpbridge imports tools from MCP servers into the pipeline's tool
// registry.
//
// A [Bridge] connects to external MCP servers via stdio or streamable-HTTP
// transports using the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk), lists each server's tool
// catalogue, and registers every discovered tool as a [tools.Handler]. Tool
// calls dispatched by the pipeline are routed back to the owning server's
// session.
//
// Typical usage:
//
//	reg := tools.NewRegistry()
//	b := mcpbridge.New(reg)
//	defer b.Close()
//
//	err := b.Connect(ctx, mcpbridge.ServerConfig{
//	    Name:      "home",
//	    Transport: mcpbridge.TransportStdio,
//	    Command:   "/usr/local/bin/mcp-home-server",
//	})
//
// Servers must be connected before the pipeline starts: the registry is
// locked for registration while a pipeline is running.
package mcpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/earshot-ai/earshot/internal/tools"
	"github.com/earshot-ai/earshot/pkg/types"
)

// Transport identifies how a Bridge reaches an MCP server.
type Transport string

const (
	// TransportStdio launches the server as a child process and speaks MCP
	// over its stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP connects to a server's streamable-HTTP endpoint.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a known transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes one MCP server to connect to.
type ServerConfig struct {
	// Name uniquely identifies the server within the bridge. Connecting a
	// second server with the same name replaces the first.
	Name string

	// Transport selects stdio or streamable-HTTP.
	Transport Transport

	// Command is the executable plus space-separated arguments for stdio
	// servers.
	Command string

	// URL is the endpoint address for streamable-HTTP servers.
	URL string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string
}

// defaultToolTimeout bounds each tool execution when the bridge's handler is
// dispatched without a tighter deadline.
const defaultToolTimeout = 30 * time.Second

// Option is a functional option for configuring a [Bridge].
type Option func(*Bridge)

// WithToolTimeout sets the deadline applied to each individual tool
// execution. The default is 30 seconds.
func WithToolTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.toolTimeout = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// Bridge connects to MCP servers and registers their tools in a
// [tools.Registry]. It is safe for concurrent use.
type Bridge struct {
	registry    *tools.Registry
	client      *mcpsdk.Client
	toolTimeout time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*mcpsdk.ClientSession // key: server name
}

// New creates a Bridge that registers discovered tools into registry.
func New(registry *tools.Registry, opts ...Option) *Bridge {
	b := &Bridge{
		registry: registry,
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "earshot", Version: "1.0.0"},
			nil,
		),
		toolTimeout: defaultToolTimeout,
		logger:      slog.Default(),
		sessions:    make(map[string]*mcpsdk.ClientSession),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect establishes a session with the server described by cfg, lists its
// tools, and registers each one in the bridge's registry. If a server with
// the same Name is already connected, the old session is closed and replaced.
//
// For [TransportStdio]: cfg.Command is split on spaces into executable plus
// args; cfg.Env is passed as additional environment variables.
//
// For [TransportStreamableHTTP]: cfg.URL is the endpoint address.
func (b *Bridge) Connect(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("mcpbridge: server config must have a non-empty name")
	}
	if !cfg.Transport.IsValid() {
		return fmt.Errorf("mcpbridge: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	var transport mcpsdk.Transport

	switch cfg.Transport {
	case TransportStdio:
		executable, args := splitCommand(cfg.Command)
		if executable == "" {
			return fmt.Errorf("mcpbridge: stdio server %q requires a non-empty Command", cfg.Name)
		}
		cmd := exec.CommandContext(ctx, executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = mergedEnv(cfg.Env)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return fmt.Errorf("mcpbridge: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	}

	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcpbridge: failed to connect to server %q: %w", cfg.Name, err)
	}

	var discovered []mcpsdk.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcpbridge: failed to list tools for server %q: %w", cfg.Name, err)
		}
		discovered = append(discovered, *tool)
	}

	b.mu.Lock()
	if old, ok := b.sessions[cfg.Name]; ok {
		_ = old.Close()
	}
	b.sessions[cfg.Name] = session
	b.mu.Unlock()

	for _, tool := range discovered {
		def := types.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  schemaToMap(tool.InputSchema),
		}
		if err := b.registry.Register(def, b.handler(cfg.Name, tool.Name)); err != nil {
			return fmt.Errorf("mcpbridge: failed to register tool %q from server %q: %w", tool.Name, cfg.Name, err)
		}
		b.logger.Debug("registered mcp tool",
			"server", cfg.Name,
			"tool", tool.Name)
	}

	b.logger.Info("connected to mcp server",
		"server", cfg.Name,
		"transport", string(cfg.Transport),
		"tools", len(discovered))
	return nil
}

// handler returns a [tools.Handler] that routes calls to the named tool on
// the named server's session.
func (b *Bridge) handler(serverName, toolName string) tools.Handler {
	return func(ctx context.Context, params map[string]any) (types.ToolResult, error) {
		b.mu.Lock()
		session, ok := b.sessions[serverName]
		b.mu.Unlock()
		if !ok {
			return types.ToolResult{}, fmt.Errorf("mcpbridge: server %q not connected for tool %q", serverName, toolName)
		}

		ctx, cancel := context.WithTimeout(ctx, b.toolTimeout)
		defer cancel()

		res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
			Name:      toolName,
			Arguments: params,
		})
		if err != nil {
			return types.ToolResult{}, fmt.Errorf("mcpbridge: call to tool %q failed: %w", toolName, err)
		}
		return resultFromCall(toolName, res)
	}
}

// resultFromCall converts an MCP call result into a [types.ToolResult].
// Application-level tool errors (IsError) are surfaced as Go errors so the
// pipeline turns them into a spoken apology.
func resultFromCall(toolName string, res *mcpsdk.CallToolResult) (types.ToolResult, error) {
	text := textContent(res)
	if res.IsError {
		return types.ToolResult{}, fmt.Errorf("mcpbridge: tool %q reported an error: %s", toolName, text)
	}
	return types.ToolResult{Response: text}, nil
}

// textContent concatenates all text blocks of an MCP call result.
func textContent(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// Servers returns the names of all connected servers, sorted.
func (b *Bridge) Servers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.sessions))
	for name := range b.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close shuts down all server sessions. The registry keeps the stale tool
// definitions; dispatching them after Close returns an error.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for name, session := range b.sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcpbridge: closing server %q: %w", name, err))
		}
		delete(b.sessions, name)
	}
	return errors.Join(errs...)
}

// mergedEnv returns the parent process environment with extra variables
// appended, so a configured server keeps PATH, HOME, and friends.
func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// splitCommand separates an executable from its space-separated arguments.
func splitCommand(command string) (executable string, args []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}
