package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cortex/internal/attention"
	"cortex/internal/conversation"
	"cortex/internal/episodic"
	"cortex/internal/graph"
	"cortex/internal/hybrid"
	"cortex/internal/lexical"
	"cortex/internal/llm"
	"cortex/internal/persona"
	"cortex/internal/promptcache"
	"cortex/internal/rerank"
	"cortex/internal/retention"
	"cortex/internal/summary"
	"cortex/internal/vectorstore"
)

type stubEmbedder struct{ vec []float32 }

func (s stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = s.vec
	}
	return out, nil
}

func newTestOrchestrator(t *testing.T, gen llm.Generator) (*Orchestrator, string) {
	t.Helper()
	ctx := context.Background()

	personaStore := persona.NewMemory()
	summaries := summary.NewMemory()
	cache := promptcache.New(promptcache.DefaultConfig())
	idx := lexical.New()
	vecs := vectorstore.NewMemory(2)
	embedder := stubEmbedder{vec: []float32{1, 0}}
	retriever := hybrid.New(idx, vecs, embedder, rerank.Identity(), hybrid.DefaultConfig())
	compressor := attention.New(attention.DefaultConfig())
	conversations := conversation.NewMemory()
	episodes := episodic.NewMemory()
	retentionCtl := retention.New(episodes, vecs, embedder, retention.DefaultConfig())

	conv, err := conversations.CreateConversation(ctx, conversation.ModeUserLed)
	require.NoError(t, err)

	o := New(personaStore, summaries, cache, retriever, compressor, gen, conversations, episodes, vecs, embedder, retentionCtl, nil, DefaultConfig())
	return o, conv.ID
}

func TestRunTurnPersistsConversationAndEpisode(t *testing.T) {
	o, convID := newTestOrchestrator(t, &llm.Stub{Response: "hello there"})

	result, err := o.RunTurn(context.Background(), convID, "hi")
	require.NoError(t, err)
	require.Equal(t, "hello there", result.AssistantMessage)
	require.Equal(t, 2, result.Conversation.MessageCount)
	require.NotEmpty(t, result.EpisodeID)
	require.False(t, result.UsedCachedPrompt)

	msgs, err := o.conversations.Messages(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestRunTurnSecondIdenticalPromptHitsCache(t *testing.T) {
	o, convID := newTestOrchestrator(t, &llm.Stub{Response: "hello there"})

	_, err := o.RunTurn(context.Background(), convID, "hi")
	require.NoError(t, err)

	// A second conversation turn with a different user message won't
	// hit cache (different prompt), so verify on a fresh conversation
	// with the identical opening message instead.
	conv2, err := o.conversations.CreateConversation(context.Background(), conversation.ModeUserLed)
	require.NoError(t, err)
	result, err := o.RunTurn(context.Background(), conv2.ID, "hi")
	require.NoError(t, err)
	require.True(t, result.UsedCachedPrompt)
}

func TestRunTurnGeneratorErrorLeavesNoEpisode(t *testing.T) {
	o, convID := newTestOrchestrator(t, &llm.Stub{Err: context.DeadlineExceeded})

	_, err := o.RunTurn(context.Background(), convID, "hi")
	require.Error(t, err)

	msgs, _ := o.conversations.Messages(context.Background(), convID)
	require.Empty(t, msgs)
}

func TestRunTurnUnknownConversationFails(t *testing.T) {
	o, _ := newTestOrchestrator(t, &llm.Stub{Response: "hi"})
	_, err := o.RunTurn(context.Background(), "missing", "hi")
	require.Error(t, err)
}

func TestRetrieveContextBlockFoldsInGraphExpansion(t *testing.T) {
	ctx := context.Background()

	personaStore := persona.NewMemory()
	summaries := summary.NewMemory()
	cache := promptcache.New(promptcache.DefaultConfig())
	idx := lexical.New()
	vecs := vectorstore.NewMemory(2)
	embedder := stubEmbedder{vec: []float32{1, 0}}
	retriever := hybrid.New(idx, vecs, embedder, rerank.Identity(), hybrid.DefaultConfig())
	compressor := attention.New(attention.DefaultConfig())
	conversations := conversation.NewMemory()
	episodes := episodic.NewMemory()
	retentionCtl := retention.New(episodes, vecs, embedder, retention.DefaultConfig())

	graphStore := graph.NewMemory()
	_, err := graphStore.UpsertEntity(ctx, "project", "rust", map[string]string{})
	require.NoError(t, err)
	graphEngine := graph.NewEngine(graphStore, graph.DefaultRetrievalConfig())

	// Seed a record so retrieveContextBlock has a non-empty relevant-past
	// result, which is what gates the graph block.
	idx.Add("seed", "rust ownership rules")
	vec, err := embedder.EmbedBatch(ctx, []string{"rust ownership rules"})
	require.NoError(t, err)
	require.NoError(t, vecs.Insert(ctx, []vectorstore.Record{{ID: "seed", Text: "rust ownership rules", Vector: vec[0]}}))

	gen := &llm.Stub{Response: "ok"}
	o := New(personaStore, summaries, cache, retriever, compressor, gen, conversations, episodes, vecs, embedder, retentionCtl, graphEngine, DefaultConfig())

	block, count := o.retrieveContextBlock(ctx, "rust")
	require.Positive(t, count)
	require.Contains(t, block, "Related Entities")
	require.Contains(t, block, "rust")
}

func TestRunTurnSerializesSameConversation(t *testing.T) {
	o, convID := newTestOrchestrator(t, &llm.Stub{Response: "ok"})

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := o.RunTurn(context.Background(), convID, "concurrent")
			done <- err
		}()
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, <-done)
	}

	conv, err := o.conversations.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	require.Equal(t, 4, conv.MessageCount)
}
