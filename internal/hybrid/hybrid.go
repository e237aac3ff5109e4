// Package hybrid implements C8, the Hybrid Retriever: Reciprocal Rank
// Fusion (RRF) over C3 (lexical BM25) and C2 (vector search), with an
// optional pass through C6 (re-ranking). Grounded directly on the
// original hybrid_search.rs (RRF formula, rrf_k=60 default, 0.5/0.5
// fusion weights, top-20 candidate window fed to re-ranking,
// per-channel rank/score bookkeeping for diagnostics).
package hybrid

import (
	"context"
	"sort"
	"sync"

	"cortex/internal/coreerr"
	"cortex/internal/lexical"
	"cortex/internal/rerank"
	"cortex/internal/vectorstore"
)

// Config tunes fusion and re-ranking behavior.
type Config struct {
	TopK             int
	CandidateLimit   int // per-channel and fused candidate window, default 20
	BM25Weight       float64
	SemanticWeight   float64
	RRFConstant      float64 // the "k" in 1/(k+rank), default 60
	EnableReranking  bool
}

// DefaultConfig matches the original hybrid search engine's defaults.
func DefaultConfig() Config {
	return Config{
		TopK: 10, CandidateLimit: 20,
		BM25Weight: 0.5, SemanticWeight: 0.5,
		RRFConstant: 60.0, EnableReranking: true,
	}
}

// Result is one fused (and possibly re-ranked) retrieval hit, carrying
// its per-channel scores and ranks for diagnostics.
type Result struct {
	ID       string
	Text     string
	Score    float64 // final ordering score: rerank cross-score if reranked, else FusedScore
	Fused    float64
	BM25Score     float64
	BM25Rank      int // 0 if the id did not appear in the BM25 channel
	SemanticScore float64
	SemanticRank  int // 0 if the id did not appear in the semantic channel
	Reranked bool
}

// Embedder is the subset of C1 the retriever needs to turn a query
// into a vector for the semantic search channel.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever fuses lexical and semantic search over a shared id space.
type Retriever struct {
	lexicalIndex *lexical.Index
	vectors      vectorstore.VectorStore
	embedder     Embedder
	reranker     rerank.Reranker
	cfg          Config

	// memo is a non-essential buffer: it memoizes fused results per
	// query string until DropBuffers is called. Entries persist across
	// turns and are not invalidated when documents are added to either
	// channel, so a repeated query returns the results of its first run.
	// It holds no information the channels couldn't recompute, so C13
	// clears it first under memory pressure.
	memoMu sync.Mutex
	memo   map[string][]Result
}

// New returns a Retriever wired to its channels. reranker may be
// rerank.Identity() to disable re-ranking regardless of
// cfg.EnableReranking.
func New(lexicalIndex *lexical.Index, vectors vectorstore.VectorStore, embedder Embedder, reranker rerank.Reranker, cfg Config) *Retriever {
	return &Retriever{lexicalIndex: lexicalIndex, vectors: vectors, embedder: embedder, reranker: reranker, cfg: cfg, memo: make(map[string][]Result)}
}

// DropBuffers clears the non-essential query memo. Called by C13 under
// memory pressure; never touches the lexical index or vector store.
func (r *Retriever) DropBuffers() {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	r.memo = make(map[string][]Result)
}

// Search runs BM25 and semantic search, fuses them with RRF, and
// optionally re-ranks the fused top candidates before truncating to
// TopK.
func (r *Retriever) Search(ctx context.Context, query string) ([]Result, error) {
	if query == "" {
		return nil, nil
	}

	r.memoMu.Lock()
	if cached, ok := r.memo[query]; ok {
		r.memoMu.Unlock()
		out := make([]Result, len(cached))
		copy(out, cached)
		return out, nil
	}
	r.memoMu.Unlock()

	result, err := r.search(ctx, query)
	if err != nil {
		return nil, err
	}

	r.memoMu.Lock()
	cached := make([]Result, len(result))
	copy(cached, result)
	r.memo[query] = cached
	r.memoMu.Unlock()
	return result, nil
}

func (r *Retriever) search(ctx context.Context, query string) ([]Result, error) {
	bm25Hits := r.lexicalIndex.Search(query, r.cfg.CandidateLimit)

	vecs, err := r.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, coreerr.New(coreerr.Embedding, "embed query for hybrid search", err)
	}
	semanticHits, err := r.vectors.Search(ctx, vecs[0], r.cfg.CandidateLimit, nil)
	if err != nil {
		return nil, coreerr.New(coreerr.Retrieval, "vector search for hybrid search", err)
	}

	fused := r.fuse(bm25Hits, semanticHits)

	if r.cfg.EnableReranking && len(fused) > 0 {
		candidates := fused
		if len(candidates) > r.cfg.CandidateLimit {
			candidates = candidates[:r.cfg.CandidateLimit]
		}
		hits := make([]rerank.Hit, len(candidates))
		byID := make(map[string]*Result, len(candidates))
		for i, c := range candidates {
			hits[i] = rerank.Hit{ID: c.ID, Text: c.Text, FusedScore: c.Fused}
			cc := c
			byID[c.ID] = &cc
		}
		scored, err := r.reranker.Rerank(ctx, query, hits, r.cfg.TopK)
		if err != nil {
			return nil, coreerr.New(coreerr.Retrieval, "rerank hybrid search candidates", err)
		}
		out := make([]Result, len(scored))
		for i, s := range scored {
			res := *byID[s.ID]
			res.Score = s.CrossScore
			res.Reranked = true
			out[i] = res
		}
		return out, nil
	}

	if len(fused) > r.cfg.TopK {
		fused = fused[:r.cfg.TopK]
	}
	return fused, nil
}

func (r *Retriever) fuse(bm25Hits []lexical.ScoredDocument, semanticHits []vectorstore.Result) []Result {
	type channelInfo struct {
		score float64
		rank  int
	}
	bm25ByID := make(map[string]channelInfo, len(bm25Hits))
	text := make(map[string]string, len(bm25Hits)+len(semanticHits))
	for i, d := range bm25Hits {
		bm25ByID[d.ID] = channelInfo{score: d.Score, rank: i + 1}
		text[d.ID] = d.Text
	}
	semByID := make(map[string]channelInfo, len(semanticHits))
	for i, h := range semanticHits {
		semByID[h.ID] = channelInfo{score: h.Score, rank: i + 1}
		if _, ok := text[h.ID]; !ok {
			text[h.ID] = h.Text
		}
	}

	seen := make(map[string]struct{}, len(bm25ByID)+len(semByID))
	ids := make([]string, 0, len(bm25ByID)+len(semByID))
	for _, d := range bm25Hits {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		ids = append(ids, d.ID)
	}
	for _, h := range semanticHits {
		if _, ok := seen[h.ID]; ok {
			continue
		}
		seen[h.ID] = struct{}{}
		ids = append(ids, h.ID)
	}

	results := make([]Result, len(ids))
	for i, id := range ids {
		bm := bm25ByID[id]
		sem := semByID[id]
		bm25RRF := 0.0
		if bm.rank > 0 {
			bm25RRF = 1.0 / (r.cfg.RRFConstant + float64(bm.rank))
		}
		semRRF := 0.0
		if sem.rank > 0 {
			semRRF = 1.0 / (r.cfg.RRFConstant + float64(sem.rank))
		}
		fusedScore := r.cfg.BM25Weight*bm25RRF + r.cfg.SemanticWeight*semRRF
		results[i] = Result{
			ID: id, Text: text[id], Score: fusedScore, Fused: fusedScore,
			BM25Score: bm.score, BM25Rank: bm.rank,
			SemanticScore: sem.score, SemanticRank: sem.rank,
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Fused != results[j].Fused {
			return results[i].Fused > results[j].Fused
		}
		return results[i].ID < results[j].ID
	})
	return results
}
