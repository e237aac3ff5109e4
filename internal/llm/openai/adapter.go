// Package openai adapts github.com/openai/openai-go/v2 to the
// llm.Generator contract. Grounded on the teacher's
// internal/llm/openai/client.go (sdk.Client construction, Chat.Completions.New
// single-turn call, Chat.Completions.NewStreaming chunk delivery),
// scoped down to spec.md §6's single-shot `generate(prompt, options)
// -> string` contract — no tool calling or multi-turn history.
package openai

import (
	"context"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"

	"cortex/internal/config"
	"cortex/internal/coreerr"
	"cortex/internal/llm"
)

// Adapter implements llm.Generator over the OpenAI chat-completions API.
type Adapter struct {
	sdk   sdk.Client
	model string
}

// New constructs an Adapter from a GeneratorConfig.
func New(cfg config.GeneratorConfig) *Adapter {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")))
	}
	model := cfg.Model
	if model == "" {
		model = string(sdk.ChatModelGPT4o)
	}
	return &Adapter{sdk: sdk.NewClient(opts...), model: model}
}

func (a *Adapter) params(prompt string, opts llm.Options) sdk.ChatCompletionNewParams {
	return sdk.ChatCompletionNewParams{
		Model:       sdk.ChatModel(a.model),
		Temperature: param.NewOpt(opts.Temperature),
		TopP:        param.NewOpt(opts.TopP),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.UserMessage(prompt),
		},
	}
}

// Generate sends prompt as a single user turn and returns the first
// choice's message content.
func (a *Adapter) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	comp, err := a.sdk.Chat.Completions.New(ctx, a.params(prompt, opts))
	if err != nil {
		return "", coreerr.New(coreerr.Connection, "openai generate", err)
	}
	if len(comp.Choices) == 0 {
		return "", coreerr.New(coreerr.Model, "openai generate: no choices returned", nil)
	}
	return comp.Choices[0].Message.Content, nil
}

// GenerateStream streams the response, invoking onChunk for every
// content delta, and returns the fully assembled text.
func (a *Adapter) GenerateStream(ctx context.Context, prompt string, opts llm.Options, onChunk llm.StreamFunc) (string, error) {
	stream := a.sdk.Chat.Completions.NewStreaming(ctx, a.params(prompt, opts))
	defer func() { _ = stream.Close() }()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			sb.WriteString(choice.Delta.Content)
			if onChunk != nil {
				onChunk(choice.Delta.Content)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", coreerr.New(coreerr.Connection, "openai generate_stream", err)
	}
	return sb.String(), nil
}
