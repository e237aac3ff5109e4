// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to
// the llm.Generator contract. Grounded on the teacher's
// internal/llm/anthropic/client.go (client construction, single
// Messages.New call, content-block text extraction, streaming via
// Messages.NewStreaming and ContentBlockDeltaEvent/TextDelta), scoped
// down from the teacher's multi-turn tool-calling chat surface to
// spec.md §6's single-shot `generate(prompt, options) -> string`
// contract: the core never needs chat history or tool calls from its
// generator collaborator.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"cortex/internal/config"
	"cortex/internal/coreerr"
	"cortex/internal/llm"
)

const defaultMaxTokens int64 = 4096

// Adapter implements llm.Generator over the Anthropic Messages API.
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
		model = string(sdk.ModelClaude3_7SonnetLatest)
	}
	return &Adapter{sdk: sdk.NewClient(opts...), model: model}
}

func (a *Adapter) params(prompt string, opts llm.Options) sdk.MessageNewParams {
	return sdk.MessageNewParams{
		Model:       sdk.Model(a.model),
		MaxTokens:   defaultMaxTokens,
		Temperature: sdk.Float(opts.Temperature),
		TopP:        sdk.Float(opts.TopP),
		TopK:        sdk.Int(int64(opts.TopK)),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
}

// Generate sends prompt as a single user turn and returns the
// assembled text content of the response.
func (a *Adapter) Generate(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	resp, err := a.sdk.Messages.New(ctx, a.params(prompt, opts))
	if err != nil {
		return "", coreerr.New(coreerr.Connection, "anthropic generate", err)
	}
	return textFromResponse(resp), nil
}

// GenerateStream streams the response, invoking onChunk for every
// text delta, and returns the fully assembled text.
func (a *Adapter) GenerateStream(ctx context.Context, prompt string, opts llm.Options, onChunk llm.StreamFunc) (string, error) {
	stream := a.sdk.Messages.NewStreaming(ctx, a.params(prompt, opts))
	defer func() { _ = stream.Close() }()

	var sb strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
				sb.WriteString(delta.Text)
				if onChunk != nil {
					onChunk(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", coreerr.New(coreerr.Connection, "anthropic generate_stream", err)
	}
	return sb.String(), nil
}

func textFromResponse(resp *sdk.Message) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(sdk.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}
