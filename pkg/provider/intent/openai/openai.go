// Package openai provides an intent engine backed by the OpenAI chat
// completions API with native tool calling.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/earshot-ai/earshot/pkg/provider/intent"
	"github.com/earshot-ai/earshot/pkg/types"
)

// defaultSystemPrompt frames the model as a voice assistant whose replies are
// spoken aloud, keeping responses short and markup-free.
const defaultSystemPrompt = "You are a voice assistant. The user's message is a spoken command. " +
	"Reply with a single short sentence suitable for text-to-speech — no markdown, no lists. " +
	"When one of the available tools matches the command, call it."

// Compile-time interface assertion.
var _ intent.Engine = (*Engine)(nil)

// config holds optional configuration for the engine.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	systemPrompt string
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithSystemPrompt replaces the default voice-assistant system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *config) { c.systemPrompt = prompt }
}

// Engine implements intent.Engine using the OpenAI API.
type Engine struct {
	client       oai.Client
	model        string
	systemPrompt string
}

// New constructs a new OpenAI intent Engine.
func New(apiKey string, model string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai intent: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai intent: model must not be empty")
	}

	cfg := &config{systemPrompt: defaultSystemPrompt}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Engine{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		systemPrompt: cfg.systemPrompt,
	}, nil
}

// Infer implements intent.Engine.
func (e *Engine) Infer(ctx context.Context, text string, tools []types.ToolDefinition) (types.Intent, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(e.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(e.systemPrompt),
			oai.UserMessage(text),
		},
	}
	for _, td := range tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}

	resp, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return types.Intent{}, fmt.Errorf("openai intent: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return types.Intent{}, fmt.Errorf("openai intent: empty choices in response: %w", intent.ErrParse)
	}

	msg := resp.Choices[0].Message
	result := types.Intent{Response: msg.Content}

	if len(msg.ToolCalls) == 0 {
		return result, nil
	}

	// Only the first tool call is dispatched; one spoken command maps to one
	// action.
	tc := msg.ToolCalls[0]
	params2 := map[string]any{}
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &params2); err != nil {
			return types.Intent{}, fmt.Errorf("openai intent: tool call %q arguments: %v: %w",
				tc.Function.Name, err, intent.ErrParse)
		}
	}
	result.Function = tc.Function.Name
	result.Parameters = params2
	return result, nil
}
