package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityPreservesOrderAndTruncates(t *testing.T) {
	hits := []Hit{{ID: "a", FusedScore: 0.9}, {ID: "b", FusedScore: 0.5}, {ID: "c", FusedScore: 0.1}}
	out, err := Identity().Rerank(context.Background(), "q", hits, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0].ID)
	require.Equal(t, "b", out[1].ID)
}

func TestHeuristicFavorsLexicalOverlap(t *testing.T) {
	hits := []Hit{
		{ID: "no-overlap", Text: "completely unrelated filler text here", FusedScore: 0.6},
		{ID: "overlap", Text: "rust ownership and borrowing explained", FusedScore: 0.6},
	}
	out, err := Heuristic().Rerank(context.Background(), "rust ownership", hits, 0)
	require.NoError(t, err)
	require.Equal(t, "overlap", out[0].ID)
}

func TestHeuristicNeverDropsHits(t *testing.T) {
	hits := []Hit{{ID: "a", Text: "x"}, {ID: "b", Text: "y"}, {ID: "c", Text: "z"}}
	out, err := Heuristic().Rerank(context.Background(), "q", hits, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestHTTPRerankerMapsScoresByIndex(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := httpResponse{Model: "m", Results: []httpResult{
			{Index: 0, RelevanceScore: 0.2},
			{Index: 1, RelevanceScore: 0.9},
		}}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
	defer ts.Close()

	r := NewHTTP(ts.URL, "test-model")
	hits := []Hit{{ID: "first", Text: "a"}, {ID: "second", Text: "b"}}
	out, err := r.Rerank(context.Background(), "q", hits, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "second", out[0].ID)
	require.InDelta(t, 0.9, out[0].CrossScore, 1e-6)
}

func TestHTTPRerankerSurfacesNonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	r := NewHTTP(ts.URL, "test-model")
	_, err := r.Rerank(context.Background(), "q", []Hit{{ID: "a", Text: "x"}}, 0)
	require.Error(t, err)
}
