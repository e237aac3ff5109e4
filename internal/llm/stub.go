package llm

import "context"

// Stub is a deterministic Generator usable without a live endpoint, for
// tests and for the orchestrator's degraded-generator mode. Grounded on
// the embedding package's deterministic stub: same idea (no network
// dependency, fully reproducible), applied to the generator side.
type Stub struct {
	Response string
	Err      error
}

func (s *Stub) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	if s.Response != "" {
		return s.Response, nil
	}
	return "stub response to: " + prompt, nil
}

func (s *Stub) GenerateStream(ctx context.Context, prompt string, opts Options, onChunk StreamFunc) (string, error) {
	out, err := s.Generate(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	if onChunk != nil {
		onChunk(out)
	}
	return out, nil
}
