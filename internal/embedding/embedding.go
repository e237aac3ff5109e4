// Package embedding implements C1, the Embedder: a pluggable converter from
// text to a fixed-dimension unit-norm vector. It is grounded on the
// teacher's internal/embedding/client.go (HTTP transport to an external
// embedding service) and internal/rag/embedder/embedder.go (the Embedder
// interface plus a deterministic stub usable without a live endpoint).
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"cortex/internal/config"
	"cortex/internal/coreerr"
)

// Embedder converts text to vectors. Implementations must be deterministic
// for identical input under a fixed model identity and must never return a
// degenerate (all-zero) vector on success.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
	Dimension() int
	Ping(ctx context.Context) error
}

// --- HTTP client embedder -------------------------------------------------

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type httpEmbedder struct {
	cfg config.EmbeddingConfig
	mu  sync.Mutex
}

// NewHTTPClient returns an Embedder backed by an external HTTP embedding
// service, following the request/response shape the teacher's client uses.
func NewHTTPClient(cfg config.EmbeddingConfig) Embedder {
	return &httpEmbedder{cfg: cfg}
}

func (c *httpEmbedder) Name() string   { return c.cfg.Model }
func (c *httpEmbedder) Dimension() int { return c.cfg.Dimensions }

func (c *httpEmbedder) Ping(ctx context.Context) error {
	_, err := c.EmbedBatch(ctx, []string{"ping"})
	if err != nil {
		return coreerr.New(coreerr.Connection, "embedding endpoint unreachable", err)
	}
	return nil
}

func (c *httpEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, coreerr.New(coreerr.Input, "no inputs", fmt.Errorf("empty batch"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	reqBody, err := json.Marshal(embedReq{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, coreerr.New(coreerr.Internal, "marshal embed request", err)
	}
	timeout := time.Duration(c.cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.cfg.BaseURL+c.cfg.Path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, coreerr.New(coreerr.Internal, "build embed request", err)
	}
	if c.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else if c.cfg.APIHeader != "" {
		req.Header.Set(c.cfg.APIHeader, c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, coreerr.New(coreerr.Connection, "embed request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, coreerr.New(coreerr.Connection, "read embed response", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, coreerr.New(coreerr.Embedding, resp.Status, fmt.Errorf("%s", string(body)))
	}

	var er embedResp
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, coreerr.New(coreerr.Embedding, "parse embed response", err)
	}
	if len(er.Data) != len(texts) {
		return nil, coreerr.New(coreerr.Embedding, "unexpected embedding count", fmt.Errorf("got %d want %d", len(er.Data), len(texts)))
	}
	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		out[i] = normalize(er.Data[i].Embedding)
	}
	return out, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

// --- deterministic stub embedder ------------------------------------------

type deterministicEmbedder struct {
	dim  int
	seed uint64
}

// NewDeterministic returns a hash-based embedder useful for tests and for
// operating without a live embedding endpoint. It hashes byte 3-grams into a
// fixed-size vector and L2-normalizes the result, so it always satisfies the
// Embedder contract's unit-norm requirement.
func NewDeterministic(dim int, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, seed: seed}
}

func (d *deterministicEmbedder) Name() string   { return "deterministic" }
func (d *deterministicEmbedder) Dimension() int { return d.dim }
func (d *deterministicEmbedder) Ping(context.Context) error { return nil }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, coreerr.New(coreerr.Input, "no inputs", fmt.Errorf("empty batch"))
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = normalize(d.embedOne(t))
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	if len(b) == 0 {
		v[0] = 1 // never return an all-zero vector
		return v
	}
	if len(b) < 3 {
		d.addGram(b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			d.addGram(b[i:i+3], v)
		}
	}
	return v
}

func (d *deterministicEmbedder) addGram(gram []byte, v []float32) {
	h := fnv.New64a()
	if d.seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(d.seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
