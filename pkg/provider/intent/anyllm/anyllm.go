// Package anyllm provides an intent engine backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more. It lets the voice pipeline run against a local Ollama model with the
// same code path as a hosted API.
//
// Usage:
//
//	e, err := anyllm.New("ollama", "llama3.1", nil)
//	e, err := anyllm.New("anthropic", "claude-3-5-haiku-latest",
//		[]anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-...")})
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/earshot-ai/earshot/pkg/provider/intent"
	"github.com/earshot-ai/earshot/pkg/types"
)

// defaultSystemPrompt matches the framing used by the openai intent engine.
const defaultSystemPrompt = "You are a voice assistant. The user's message is a spoken command. " +
	"Reply with a single short sentence suitable for text-to-speech — no markdown, no lists. " +
	"When one of the available tools matches the command, call it."

// Compile-time interface assertion.
var _ intent.Engine = (*Engine)(nil)

// Option is a functional option for Engine.
type Option func(*Engine)

// WithSystemPrompt replaces the default voice-assistant system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) { e.systemPrompt = prompt }
}

// Engine implements intent.Engine by wrapping github.com/mozilla-ai/any-llm-go.
type Engine struct {
	backend      anyllmlib.Provider
	model        string
	systemPrompt string
}

// New creates an Engine backed by the named LLM provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama",
// "deepseek", "mistral", "groq", "llamacpp", "llamafile". model is the
// specific model (e.g., "gpt-4o-mini", "llama3.1"). backendOpts are any-llm-go
// options (e.g., anyllmlib.WithAPIKey); without an API key option the backend
// falls back to its environment variable.
func New(providerName, model string, backendOpts []anyllmlib.Option, opts ...Option) (*Engine, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm intent: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm intent: model must not be empty")
	}

	backend, err := createBackend(providerName, backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm intent: create %q backend: %w", providerName, err)
	}

	e := &Engine{backend: backend, model: model, systemPrompt: defaultSystemPrompt}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Infer implements intent.Engine.
func (e *Engine) Infer(ctx context.Context, text string, tools []types.ToolDefinition) (types.Intent, error) {
	params := anyllmlib.CompletionParams{
		Model: e.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: e.systemPrompt},
			{Role: anyllmlib.RoleUser, Content: text},
		},
	}
	for _, td := range tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}

	resp, err := e.backend.Completion(ctx, params)
	if err != nil {
		return types.Intent{}, fmt.Errorf("anyllm intent: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.Intent{}, fmt.Errorf("anyllm intent: empty choices in response: %w", intent.ErrParse)
	}

	msg := resp.Choices[0].Message
	result := types.Intent{Response: msg.ContentString()}

	if len(msg.ToolCalls) == 0 {
		return result, nil
	}

	tc := msg.ToolCalls[0]
	args := map[string]any{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return types.Intent{}, fmt.Errorf("anyllm intent: tool call %q arguments: %v: %w",
				tc.Function.Name, err, intent.ErrParse)
		}
	}
	result.Function = tc.Function.Name
	result.Parameters = args
	return result, nil
}

// createBackend creates the underlying any-llm-go provider for the given name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}
}
