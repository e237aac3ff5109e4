// Package llm defines the two black-box callables spec.md §6 assumes:
// an external text generator (`generate(prompt, options) -> string`,
// optionally `generate_stream`) and an external embedding service
// (`embed(text) -> vector`). The core depends only on these
// interfaces; concrete adapters in the anthropic and openai
// subpackages exercise the pack's two first-party model SDKs the way
// the teacher does, but scoped down to this single-shot contract —
// the core never needs multi-turn chat history or tool calling.
package llm

import "context"

// Options are the generation knobs spec.md §6 names, with the spec's
// pinned defaults.
type Options struct {
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
}

// DefaultOptions returns spec.md §6's default generation parameters.
func DefaultOptions() Options {
	return Options{Temperature: 0.8, TopP: 0.92, TopK: 45, RepeatPenalty: 1.15}
}

// StreamFunc receives one incremental chunk of generated text.
type StreamFunc func(chunk string)

// Generator is the external text generator collaborator. Connection
// and Model-kind errors (coreerr) are the caller's responsibility to
// surface; Generator implementations should wrap transport failures
// with coreerr.Connection and model-refusal failures with
// coreerr.Model.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	// GenerateStream invokes onChunk for every incremental piece of
	// text and returns the fully assembled response.
	GenerateStream(ctx context.Context, prompt string, opts Options, onChunk StreamFunc) (string, error)
}
