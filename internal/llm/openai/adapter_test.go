package openai

import (
	"testing"

	"cortex/internal/config"
	"cortex/internal/llm"
)

func TestNewDefaultsModel(t *testing.T) {
	a := New(config.GeneratorConfig{APIKey: "test-key"})
	if a.model == "" {
		t.Fatal("expected a default model when none is configured")
	}
}

func TestParamsCarriesOptions(t *testing.T) {
	a := New(config.GeneratorConfig{APIKey: "test-key", Model: "gpt-x"})
	p := a.params("hello", llm.Options{Temperature: 0.3, TopP: 0.5})
	if string(p.Model) != "gpt-x" {
		t.Fatalf("model = %q, want gpt-x", p.Model)
	}
	if len(p.Messages) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(p.Messages))
	}
}
