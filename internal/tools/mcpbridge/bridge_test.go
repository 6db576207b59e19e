package mcpbridge

import (
	"context"
	"slices"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/earshot-ai/earshot/internal/tools"
)

func TestConnectRejectsBadConfig(t *testing.T) {
	t.Parallel()
	b := New(tools.NewRegistry())
	defer b.Close()

	cases := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"empty name", ServerConfig{Transport: TransportStdio, Command: "srv"}, "non-empty name"},
		{"unknown transport", ServerConfig{Name: "x", Transport: "carrier-pigeon"}, "unknown transport"},
		{"stdio without command", ServerConfig{Name: "x", Transport: TransportStdio}, "non-empty Command"},
		{"http without url", ServerConfig{Name: "x", Transport: TransportStreamableHTTP}, "non-empty URL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := b.Connect(context.Background(), tc.cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Connect() err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestTransportIsValid(t *testing.T) {
	t.Parallel()
	if !TransportStdio.IsValid() || !TransportStreamableHTTP.IsValid() {
		t.Error("known transports reported invalid")
	}
	if Transport("websocket").IsValid() {
		t.Error("unknown transport reported valid")
	}
}

func TestResultFromCall(t *testing.T) {
	t.Parallel()

	ok, err := resultFromCall("dim_lights", &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: "lights dimmed "},
			&mcpsdk.TextContent{Text: "to 40%"},
		},
	})
	if err != nil {
		t.Fatalf("resultFromCall: %v", err)
	}
	if ok.Response != "lights dimmed to 40%" {
		t.Errorf("Response = %q, want concatenated text blocks", ok.Response)
	}

	_, err = resultFromCall("dim_lights", &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "no such room"}},
		IsError: true,
	})
	if err == nil || !strings.Contains(err.Error(), "no such room") {
		t.Errorf("err = %v, want the tool's error text surfaced", err)
	}
}

func TestHandlerWithoutSession(t *testing.T) {
	t.Parallel()
	b := New(tools.NewRegistry())
	defer b.Close()

	h := b.handler("ghost", "dim_lights")
	_, err := h(context.Background(), nil)
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Errorf("err = %v, want not-connected error", err)
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	exe, args := splitCommand("/usr/bin/mcp-home --port 9000")
	if exe != "/usr/bin/mcp-home" || len(args) != 2 || args[1] != "9000" {
		t.Errorf("splitCommand = %q %v", exe, args)
	}
	if exe, _ := splitCommand("   "); exe != "" {
		t.Errorf("blank command produced executable %q", exe)
	}
}

func TestMergedEnvKeepsParentEnvironment(t *testing.T) {
	t.Setenv("MCPBRIDGE_PARENT_VAR", "inherited")

	env := mergedEnv(map[string]string{"HASS_TOKEN": "secret"})

	if !slices.Contains(env, "MCPBRIDGE_PARENT_VAR=inherited") {
		t.Error("parent environment lost when extra vars are configured")
	}
	if !slices.Contains(env, "HASS_TOKEN=secret") {
		t.Error("configured variable missing from merged environment")
	}
}

func TestSchemaToMap(t *testing.T) {
	t.Parallel()

	if m := schemaToMap(nil); m["type"] != "object" {
		t.Errorf("nil schema = %v, want empty object schema", m)
	}

	type schema struct {
		Type string `json:"type"`
	}
	m := schemaToMap(schema{Type: "object"})
	if m["type"] != "object" {
		t.Errorf("struct schema = %v", m)
	}
}
