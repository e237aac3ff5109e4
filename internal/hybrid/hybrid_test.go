package hybrid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"cortex/internal/lexical"
	"cortex/internal/rerank"
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

func buildFixture(t *testing.T) (*lexical.Index, vectorstore.VectorStore) {
	t.Helper()
	idx := lexical.New()
	idx.Add("a", "rust ownership and borrowing explained")
	idx.Add("b", "python list comprehensions guide")
	idx.Add("c", "rust async runtime internals")

	vecs := vectorstore.NewMemory(2)
	require.NoError(t, vecs.Insert(context.Background(), []vectorstore.Record{
		{ID: "a", Text: "rust ownership and borrowing explained", Vector: []float32{1, 0}},
		{ID: "b", Text: "python list comprehensions guide", Vector: []float32{0, 1}},
		{ID: "c", Text: "rust async runtime internals", Vector: []float32{0.9, 0.1}},
	}))
	return idx, vecs
}

func TestSearchOnEmptyQueryReturnsEmpty(t *testing.T) {
	idx, vecs := buildFixture(t)
	r := New(idx, vecs, stubEmbedder{vec: []float32{1, 0}}, rerank.Identity(), DefaultConfig())
	out, err := r.Search(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestSearchFusesBothChannelsAndPrefersDoubleHit(t *testing.T) {
	idx, vecs := buildFixture(t)
	cfg := DefaultConfig()
	cfg.EnableReranking = false
	r := New(idx, vecs, stubEmbedder{vec: []float32{1, 0}}, rerank.Identity(), cfg)

	// "rust" is in two of the three documents, so its IDF is negative;
	// "ownership" occurs only in "a" and gives it a positive BM25 score.
	out, err := r.Search(context.Background(), "ownership")
	require.NoError(t, err)
	require.NotEmpty(t, out)
	// "a" matches both lexically (exact term) and semantically
	// (identical embedding direction), so it must rank first.
	require.Equal(t, "a", out[0].ID)
	require.Greater(t, out[0].BM25Rank, 0)
	require.Greater(t, out[0].SemanticRank, 0)
}

func TestSearchMissingChannelContributesZero(t *testing.T) {
	idx, vecs := buildFixture(t)
	cfg := DefaultConfig()
	cfg.EnableReranking = false
	r := New(idx, vecs, stubEmbedder{vec: []float32{0, 1}}, rerank.Identity(), cfg)

	out, err := r.Search(context.Background(), "comprehensions")
	require.NoError(t, err)

	var foundB, foundSemanticOnly bool
	for _, res := range out {
		if res.ID == "b" {
			foundB = true
			require.Greater(t, res.BM25Rank, 0)
			require.Greater(t, res.SemanticRank, 0)
		}
		// "c" does not contain "comprehensions", so only the semantic
		// channel contributes to its fused score.
		if res.ID == "c" {
			foundSemanticOnly = true
			require.Equal(t, 0, res.BM25Rank)
			require.Greater(t, res.SemanticRank, 0)
			require.InDelta(t, cfg.SemanticWeight/(cfg.RRFConstant+float64(res.SemanticRank)), res.Fused, 1e-12)
		}
	}
	require.True(t, foundB)
	require.True(t, foundSemanticOnly)
}

func TestSearchTruncatesToTopK(t *testing.T) {
	idx, vecs := buildFixture(t)
	cfg := DefaultConfig()
	cfg.EnableReranking = false
	cfg.TopK = 1
	r := New(idx, vecs, stubEmbedder{vec: []float32{1, 0}}, rerank.Identity(), cfg)

	out, err := r.Search(context.Background(), "rust")
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestSearchAppliesRerankerToTopCandidates(t *testing.T) {
	idx, vecs := buildFixture(t)
	cfg := DefaultConfig()
	cfg.EnableReranking = true
	cfg.TopK = 2
	r := New(idx, vecs, stubEmbedder{vec: []float32{1, 0}}, rerank.Heuristic(), cfg)

	out, err := r.Search(context.Background(), "rust async")
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.True(t, out[0].Reranked)
	require.GreaterOrEqual(t, out[0].Score, out[1].Score)
}

func TestDropBuffersClearsMemoButNotCorrectness(t *testing.T) {
	idx, vecs := buildFixture(t)
	cfg := DefaultConfig()
	cfg.EnableReranking = false
	r := New(idx, vecs, stubEmbedder{vec: []float32{1, 0}}, rerank.Identity(), cfg)

	first, err := r.Search(context.Background(), "rust")
	require.NoError(t, err)

	r.DropBuffers()

	second, err := r.Search(context.Background(), "rust")
	require.NoError(t, err)
	require.Equal(t, first, second)
}
