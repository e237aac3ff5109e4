package lexical

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenizeLowercasesAndSplitsOnPunctuation(t *testing.T) {
	toks := tokenize("Hello, World! This is a test.")
	require.Equal(t, []string{"hello", "world", "this", "is", "a", "test"}, toks)
}

func TestSearchRanksMatchingDocumentsHigher(t *testing.T) {
	idx := New()
	idx.Add("doc1", "the quick brown fox jumps over the lazy dog")
	idx.Add("doc2", "the quick brown cat jumps over the lazy cat")
	idx.Add("doc3", "a completely different document")
	// Two more unrelated documents keep "quick" and "brown" (df 2) in
	// fewer than half the corpus, so their IDF is positive.
	idx.Add("doc4", "notes on gardening and soil")
	idx.Add("doc5", "recipes for winter soups")

	results := idx.Search("quick brown", 3)
	require.GreaterOrEqual(t, len(results), 2)
	require.Greater(t, results[0].Score, 0.0)
	require.Contains(t, []string{"doc1", "doc2"}, results[0].ID)
	require.Equal(t, 0, results[0].Rank)
}

func TestSearchFiltersNonPositiveScores(t *testing.T) {
	idx := New()
	idx.Add("doc1", "alpha beta gamma")
	idx.Add("doc2", "delta epsilon zeta")

	results := idx.Search("nonexistentterm", 10)
	require.Empty(t, results)
}

func TestSearchEmptyQueryReturnsEmpty(t *testing.T) {
	idx := New()
	idx.Add("doc1", "alpha beta")
	require.Empty(t, idx.Search("", 10))
	require.Empty(t, idx.Search("   ", 10))
}

func TestStatsReflectIndexedCorpus(t *testing.T) {
	idx := New()
	idx.Add("doc1", "hello world")
	idx.Add("doc2", "goodbye world")

	stats := idx.Stats()
	require.Equal(t, 2, stats.TotalDocuments)
	require.Equal(t, defaultK1, stats.K1)
	require.Equal(t, defaultB, stats.B)
}

func TestAddReplacesExistingDocument(t *testing.T) {
	idx := New()
	idx.Add("doc1", "alpha beta")
	idx.Add("doc1", "gamma delta")
	stats := idx.Stats()
	require.Equal(t, 1, stats.TotalDocuments)
	// In a one-document corpus every term's IDF is negative; two unrelated
	// documents give "gamma" and "delta" a positive IDF.
	idx.Add("doc2", "notes on gardening and soil")
	idx.Add("doc3", "recipes for winter soups")
	require.Empty(t, idx.Search("alpha", 10))
	require.NotEmpty(t, idx.Search("gamma delta", 10))
}

func TestRemoveDropsDocumentFromResults(t *testing.T) {
	idx := New()
	idx.Add("doc1", "unique token here")
	idx.Add("doc2", "other text entirely")
	idx.Remove("doc1")
	require.Empty(t, idx.Search("unique token", 10))
}

// TestBM25ScoreNeverDecreasesWhenAddingQueryTermOccurrence checks BM25
// monotonicity: holding the target document's length constant (by
// substituting a non-query filler term), replacing a filler occurrence
// with the query term must never lower the document's score against
// that query.
func TestBM25ScoreNeverDecreasesWhenAddingQueryTermOccurrence(t *testing.T) {
	const targetLen = 6

	buildIndex := func(rustCount int) *Index {
		idx := New()
		// Keeps "rust" rare enough in the background corpus that its IDF
		// stays positive whether or not the target document mentions it.
		for i := 0; i < 8; i++ {
			idx.Add(fmt.Sprintf("bg%d", i), "filler content about everyday topics")
		}
		idx.Add("bgrust", "a short note mentioning rust once")

		terms := make([]string, 0, targetLen)
		for i := 0; i < rustCount; i++ {
			terms = append(terms, "rust")
		}
		for i := rustCount; i < targetLen; i++ {
			terms = append(terms, "filler")
		}
		idx.Add("target", strings.Join(terms, " "))
		return idx
	}

	prev := -1.0
	for n := 0; n <= targetLen; n++ {
		idx := buildIndex(n)

		idx.mu.Lock()
		if idx.idfStale {
			idx.recomputeLocked()
		}
		doc := idx.docs["target"]
		score := idx.scoreLocked(doc, []string{"rust"})
		idx.mu.Unlock()

		require.GreaterOrEqualf(t, score, prev, "score decreased going from %d to %d occurrences of the query term", n-1, n)
		prev = score
	}
}

func TestClearEmptiesIndex(t *testing.T) {
	idx := New()
	idx.Add("doc1", "some text")
	idx.Clear()
	stats := idx.Stats()
	require.Equal(t, 0, stats.TotalDocuments)
	require.Empty(t, idx.Search("some text", 10))
}
