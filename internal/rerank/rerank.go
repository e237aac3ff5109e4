// Package rerank implements C6, the Re-ranker: a pure function from a
// query and a list of fused-score hits to a re-ordered top-k. The
// interface is grounded on the teacher's internal/rag/retrieve.Reranker
// (kept-ordering default, query/items/error shape); the HTTP
// cross-encoder implementation is grounded on the teacher's root-level
// reRankChunks (llama.cpp reranker server call, request/response shape).
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"cortex/internal/coreerr"
)

// Hit is a single fused-retrieval candidate to be re-ranked.
type Hit struct {
	ID         string
	Text       string
	FusedScore float64
}

// Scored is a re-ranked hit carrying the re-ranker's own score.
type Scored struct {
	ID         string
	Text       string
	CrossScore float64
}

// Reranker reorders fused hits for a query. Implementations must not
// drop hits; only the top_k cap may shrink the result, and ordering
// must be monotone in CrossScore within a single call.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []Hit, topK int) ([]Scored, error)
}

// --- identity reranker ------------------------------------------------------

type identity struct{}

// Identity returns a Reranker that preserves fused-score ordering,
// truncated to topK. Used when cross-encoder re-ranking is disabled.
func Identity() Reranker { return identity{} }

func (identity) Rerank(_ context.Context, _ string, hits []Hit, topK int) ([]Scored, error) {
	out := make([]Scored, len(hits))
	for i, h := range hits {
		out[i] = Scored{ID: h.ID, Text: h.Text, CrossScore: h.FusedScore}
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// --- heuristic local reranker ------------------------------------------------

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

type heuristic struct{}

// Heuristic returns a Reranker usable without any external service: it
// blends the fused score with query/document lexical overlap and a
// length-normalization penalty, matching the spec's "blend fused score
// with lexical-overlap/length features" allowance.
func Heuristic() Reranker { return heuristic{} }

func (heuristic) Rerank(_ context.Context, query string, hits []Hit, topK int) ([]Scored, error) {
	queryTerms := toTermSet(query)
	out := make([]Scored, len(hits))
	for i, h := range hits {
		overlap := overlapRatio(queryTerms, toTermSet(h.Text))
		lengthPenalty := lengthNormalization(h.Text)
		out[i] = Scored{
			ID:   h.ID,
			Text: h.Text,
			CrossScore: 0.6*h.FusedScore + 0.3*overlap + 0.1*lengthPenalty,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CrossScore != out[j].CrossScore {
			return out[i].CrossScore > out[j].CrossScore
		}
		return out[i].ID < out[j].ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func toTermSet(text string) map[string]struct{} {
	terms := wordPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

func overlapRatio(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	var matched int
	for t := range query {
		if _, ok := doc[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

// lengthNormalization rewards documents of moderate length, mildly
// penalizing very short or very long ones.
func lengthNormalization(text string) float64 {
	n := len(wordPattern.FindAllString(text, -1))
	switch {
	case n == 0:
		return 0
	case n < 20:
		return float64(n) / 20.0
	case n > 400:
		return 400.0 / float64(n)
	default:
		return 1.0
	}
}

// --- HTTP cross-encoder reranker --------------------------------------------

type httpRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	TopN      int      `json:"top_n"`
	Documents []string `json:"documents"`
}

type httpResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type httpResponse struct {
	Model   string       `json:"model"`
	Results []httpResult `json:"results"`
}

type httpReranker struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewHTTP returns a Reranker backed by an external cross-encoder reranker
// service (e.g. a local llama.cpp reranker server), following the
// teacher's request/response shape.
func NewHTTP(endpoint, model string) Reranker {
	return &httpReranker{endpoint: endpoint, model: model, client: http.DefaultClient}
}

func (r *httpReranker) Rerank(ctx context.Context, query string, hits []Hit, topK int) ([]Scored, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	docs := make([]string, len(hits))
	for i, h := range hits {
		docs[i] = h.Text
	}
	reqBody, err := json.Marshal(httpRequest{Model: r.model, Query: query, TopN: len(hits), Documents: docs})
	if err != nil {
		return nil, coreerr.New(coreerr.Internal, "marshal rerank request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, coreerr.New(coreerr.Internal, "build rerank request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, coreerr.New(coreerr.Connection, "rerank request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, coreerr.New(coreerr.Connection, "read rerank response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, coreerr.New(coreerr.Retrieval, "rerank request rejected", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var rr httpResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return nil, coreerr.New(coreerr.Retrieval, "parse rerank response", err)
	}

	scores := make(map[int]float64, len(rr.Results))
	for _, res := range rr.Results {
		scores[res.Index] = res.RelevanceScore
	}
	out := make([]Scored, len(hits))
	for i, h := range hits {
		out[i] = Scored{ID: h.ID, Text: h.Text, CrossScore: scores[i]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CrossScore != out[j].CrossScore {
			return out[i].CrossScore > out[j].CrossScore
		}
		return out[i].ID < out[j].ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
