package retention

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cortex/internal/episodic"
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

func newFixture(t *testing.T) (*Controller, episodic.Store, vectorstore.VectorStore) {
	t.Helper()
	eps := episodic.NewMemory()
	vecs := vectorstore.NewMemory(2)
	ctrl := New(eps, vecs, stubEmbedder{vec: []float32{1, 0}}, DefaultConfig())
	return ctrl, eps, vecs
}

func TestBoostContextualAppliesProportionalBoost(t *testing.T) {
	ctrl, eps, vecs := newFixture(t)
	ctx := context.Background()

	ep, err := eps.Create(ctx, episodic.Episode{UserMessage: "a", AIResponse: "b", Retention: 0.5})
	require.NoError(t, err)
	require.NoError(t, vecs.Insert(ctx, []vectorstore.Record{{ID: ep.ID, Vector: []float32{1, 0}}}))

	boosts, err := ctrl.BoostContextual(ctx, "anything")
	require.NoError(t, err)
	require.Len(t, boosts, 1)
	require.InDelta(t, 1.0, boosts[0].SimilarityScore, 1e-6)
	require.InDelta(t, 0.2, boosts[0].BoostAmount, 1e-6)

	got, err := eps.Get(ctx, ep.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.7, got.Retention, 1e-6)
	require.False(t, got.LastBoostAt.IsZero())
}

func TestBoostContextualSkipsBelowThreshold(t *testing.T) {
	eps := episodic.NewMemory()
	vecs := vectorstore.NewMemory(2)
	ctx := context.Background()
	ep, _ := eps.Create(ctx, episodic.Episode{UserMessage: "a", AIResponse: "b", Retention: 0.5})
	require.NoError(t, vecs.Insert(ctx, []vectorstore.Record{{ID: ep.ID, Vector: []float32{0, 1}}}))

	ctrl := New(eps, vecs, stubEmbedder{vec: []float32{1, 0}}, DefaultConfig())
	boosts, err := ctrl.BoostContextual(ctx, "anything")
	require.NoError(t, err)
	require.Empty(t, boosts)
}

func TestBoostContextualNeverExceedsOne(t *testing.T) {
	ctrl, eps, vecs := newFixture(t)
	ctx := context.Background()
	ep, _ := eps.Create(ctx, episodic.Episode{UserMessage: "a", AIResponse: "b", Retention: 0.95})
	require.NoError(t, vecs.Insert(ctx, []vectorstore.Record{{ID: ep.ID, Vector: []float32{1, 0}}}))

	_, err := ctrl.BoostContextual(ctx, "anything")
	require.NoError(t, err)
	got, err := eps.Get(ctx, ep.ID)
	require.NoError(t, err)
	require.LessOrEqual(t, got.Retention, 1.0)
}

func TestDecayBoostsAfterHalfLifeMatchesExpectedFactor(t *testing.T) {
	eps := episodic.NewMemory()
	vecs := vectorstore.NewMemory(0)
	ctx := context.Background()

	ep, _ := eps.Create(ctx, episodic.Episode{
		UserMessage: "a", AIResponse: "b",
		Retention:        0.9,
		LastBoostAt:      time.Now().Add(-7 * 24 * time.Hour),
		TotalBoostAmount: 0.4,
	})

	ctrl := New(eps, vecs, stubEmbedder{}, DefaultConfig())
	n, err := ctrl.DecayBoosts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := eps.Get(ctx, ep.ID)
	require.NoError(t, err)

	decayFactor := math.Exp(-7.0 / 7.0)
	require.InDelta(t, 0.368, decayFactor, 0.01)
	remaining := 0.4 * decayFactor
	expectedRetention := 0.9 - (0.4 - remaining)
	require.InDelta(t, expectedRetention, got.Retention, 1e-6)
}

func TestDecayBoostsSkipsRecentBoosts(t *testing.T) {
	eps := episodic.NewMemory()
	vecs := vectorstore.NewMemory(0)
	ctx := context.Background()
	ep, _ := eps.Create(ctx, episodic.Episode{
		UserMessage: "a", AIResponse: "b",
		Retention:        0.8,
		LastBoostAt:      time.Now().Add(-1 * time.Hour),
		TotalBoostAmount: 0.3,
	})

	ctrl := New(eps, vecs, stubEmbedder{}, DefaultConfig())
	n, err := ctrl.DecayBoosts(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	got, err := eps.Get(ctx, ep.ID)
	require.NoError(t, err)
	require.Equal(t, 0.8, got.Retention)
}

func TestDecayBoostsFloorsAtMinimum(t *testing.T) {
	eps := episodic.NewMemory()
	vecs := vectorstore.NewMemory(0)
	ctx := context.Background()
	eps.Create(ctx, episodic.Episode{
		UserMessage: "a", AIResponse: "b",
		Retention:        0.15,
		LastBoostAt:      time.Now().Add(-365 * 24 * time.Hour),
		TotalBoostAmount: 0.9,
	})

	ctrl := New(eps, vecs, stubEmbedder{}, DefaultConfig())
	_, err := ctrl.DecayBoosts(ctx)
	require.NoError(t, err)

	all, err := eps.List(ctx, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, all[0].Retention, retentionFloor)
}
