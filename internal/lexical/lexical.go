// Package lexical implements C3, the Lexical Document Index: a BM25 Okapi
// scorer over plain-text documents. Grounded on the original bm25.rs
// service (term-frequency/IDF bookkeeping, k1=1.5/b=0.75 defaults, the
// exact scoring formula and positive-score filter) and restyled after the
// teacher's internal/rag in-memory index for the mutex-guarded-map shape.
package lexical

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// defaultK1 and defaultB are Okapi BM25's tuning constants.
const (
	defaultK1 = 1.5
	defaultB  = 0.75
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// tokenize lowercases and splits text into word tokens, mirroring
// unicode_segmentation::unicode_words semantics closely enough for a
// local single-language assistant corpus.
func tokenize(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

type document struct {
	id    string
	text  string
	terms map[string]int
	length int
}

// ScoredDocument is a single BM25 search hit.
type ScoredDocument struct {
	ID    string
	Score float64
	Text  string
	Rank  int // 0-based rank within this search call's result set
}

// Index is a BM25 index over a corpus of short documents (episodes,
// summaries, or any retrievable text unit).
type Index struct {
	mu         sync.RWMutex
	docs       map[string]*document
	df         map[string]int // document frequency per term
	idf        map[string]float64
	avgDocLen  float64
	totalDocs  int
	k1, b      float64
	idfStale   bool
}

// New returns an empty BM25 index using the spec's default k1/b.
func New() *Index {
	return NewWithParams(defaultK1, defaultB)
}

// NewWithParams returns an empty BM25 index with custom tuning constants.
func NewWithParams(k1, b float64) *Index {
	return &Index{
		docs: make(map[string]*document),
		df:   make(map[string]int),
		idf:  make(map[string]float64),
		k1:   k1,
		b:    b,
	}
}

// Add inserts or replaces a document in the index. Document frequency is
// updated immediately; IDF and average length are recomputed lazily on
// the next Search or Stats call.
func (idx *Index) Add(id, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if old, ok := idx.docs[id]; ok {
		for term := range old.terms {
			idx.df[term]--
			if idx.df[term] <= 0 {
				delete(idx.df, term)
			}
		}
	}
	tokens := tokenize(text)
	terms := make(map[string]int, len(tokens))
	for _, t := range tokens {
		terms[t]++
	}
	for term := range terms {
		idx.df[term]++
	}
	idx.docs[id] = &document{id: id, text: text, terms: terms, length: len(tokens)}
	idx.totalDocs = len(idx.docs)
	idx.idfStale = true
}

// Remove deletes a document from the index, if present.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	old, ok := idx.docs[id]
	if !ok {
		return
	}
	for term := range old.terms {
		idx.df[term]--
		if idx.df[term] <= 0 {
			delete(idx.df, term)
		}
	}
	delete(idx.docs, id)
	idx.totalDocs = len(idx.docs)
	idx.idfStale = true
}

// Clear empties the index.
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs = make(map[string]*document)
	idx.df = make(map[string]int)
	idx.idf = make(map[string]float64)
	idx.totalDocs = 0
	idx.avgDocLen = 0
	idx.idfStale = false
}

// recomputeLocked recalculates IDF scores and average document length.
// Caller must hold idx.mu for writing.
func (idx *Index) recomputeLocked() {
	n := float64(idx.totalDocs)
	idx.idf = make(map[string]float64, len(idx.df))
	for term, df := range idx.df {
		idx.idf[term] = math.Log((n - float64(df) + 0.5) / (float64(df) + 0.5))
	}
	var totalLen int
	for _, d := range idx.docs {
		totalLen += d.length
	}
	if idx.totalDocs > 0 {
		idx.avgDocLen = float64(totalLen) / float64(idx.totalDocs)
	} else {
		idx.avgDocLen = 0
	}
	idx.idfStale = false
}

func (idx *Index) scoreLocked(doc *document, queryTerms []string) float64 {
	var score float64
	for _, term := range queryTerms {
		idf := idx.idf[term]
		tf := float64(doc.terms[term])
		if tf == 0 {
			continue
		}
		numerator := tf * (idx.k1 + 1)
		denom := tf + idx.k1*(1-idx.b+idx.b*(float64(doc.length)/idx.avgDocLen))
		score += idf * (numerator / denom)
	}
	return score
}

// Search scores every indexed document against query and returns the
// topK highest-scoring documents, descending, with zero-or-negative
// scores filtered out per the BM25 spec. Ties break by id for determinism.
func (idx *Index) Search(query string, topK int) []ScoredDocument {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	idx.mu.Lock()
	if idx.idfStale {
		idx.recomputeLocked()
	}
	if idx.avgDocLen == 0 {
		idx.mu.Unlock()
		return nil
	}
	out := make([]ScoredDocument, 0, len(idx.docs))
	for _, doc := range idx.docs {
		score := idx.scoreLocked(doc, queryTerms)
		if score > 0 {
			out = append(out, ScoredDocument{ID: doc.id, Score: score, Text: doc.text})
		}
	}
	idx.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	for i := range out {
		out[i].Rank = i
	}
	return out
}

// Stats describes the current index state.
type Stats struct {
	TotalDocuments int
	UniqueTerms    int
	AvgDocLength   float64
	K1, B          float64
}

// Stats returns index statistics, recomputing IDF first if stale.
func (idx *Index) Stats() Stats {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.idfStale {
		idx.recomputeLocked()
	}
	return Stats{
		TotalDocuments: idx.totalDocs,
		UniqueTerms:    len(idx.idf),
		AvgDocLength:   idx.avgDocLen,
		K1:             idx.k1,
		B:              idx.b,
	}
}

