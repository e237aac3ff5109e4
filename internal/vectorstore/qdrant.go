package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"cortex/internal/coreerr"
)

// payloadIDField and payloadTextField hold the original record id and text
// in the Qdrant point payload, since Qdrant only accepts UUID or integer
// point ids and has no native text column.
const (
	payloadIDField   = "_original_id"
	payloadTextField = "_text"
)

type qdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// NewQdrant returns a VectorStore backed by a Qdrant collection, connecting
// over gRPC (default port 6334). An API key may be passed via the DSN query
// string: "http://host:6334?api_key=...".
func NewQdrant(dsn, collection string, dimensions int, metric string) (VectorStore, error) {
	if collection == "" {
		return nil, coreerr.New(coreerr.Input, "qdrant collection name is required", nil)
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, coreerr.New(coreerr.Input, "parse qdrant dsn", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, coreerr.New(coreerr.Input, "invalid qdrant port", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, coreerr.New(coreerr.Connection, "create qdrant client", err)
	}
	qs := &qdrantStore{
		client:     client,
		collection: collection,
		dimension:  dimensions,
		metric:     strings.ToLower(strings.TrimSpace(metric)),
	}
	if err := qs.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return qs, nil
}

func (q *qdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return coreerr.New(coreerr.Storage, "check qdrant collection", err)
	}
	if exists {
		return nil
	}
	if q.dimension <= 0 {
		return coreerr.New(coreerr.Input, "qdrant requires dimensions > 0", nil)
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	case "manhattan":
		distance = qdrant.Distance_Manhattan
	default:
		distance = qdrant.Distance_Cosine
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: distance,
		}),
	})
	if err != nil {
		return coreerr.New(coreerr.Storage, "create qdrant collection", err)
	}
	return nil
}

func (q *qdrantStore) pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *qdrantStore) Insert(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(batch))
	for _, r := range batch {
		uuidStr := q.pointID(r.ID)
		payload := make(map[string]any, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = v
		}
		payload[payloadTextField] = r.Text
		if uuidStr != r.ID {
			payload[payloadIDField] = r.ID
		}
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points})
	if err != nil {
		return coreerr.New(coreerr.Storage, "qdrant upsert", err)
	}
	return nil
}

func (q *qdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(q.pointID(id)))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return coreerr.New(coreerr.Storage, "qdrant delete", err)
	}
	return nil
}

func (q *qdrantStore) Search(ctx context.Context, query []float32, k int, filter map[string]string) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	var queryFilter *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		queryFilter = &qdrant.Filter{Must: must}
	}
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         queryFilter,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, coreerr.New(coreerr.Retrieval, "qdrant query", err)
	}
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		uuidStr := hit.Id.GetUuid()
		if uuidStr == "" {
			uuidStr = hit.Id.String()
		}
		metadata := make(map[string]string)
		var originalID, text string
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				switch k {
				case payloadIDField:
					originalID = v.GetStringValue()
				case payloadTextField:
					text = v.GetStringValue()
				default:
					metadata[k] = v.GetStringValue()
				}
			}
		}
		id := originalID
		if id == "" {
			id = uuidStr
		}
		out = append(out, Result{ID: id, Text: text, Score: q.normalizeScore(float64(hit.Score)), Metadata: metadata})
	}
	return out, nil
}

// normalizeScore converts Qdrant's native similarity score to cosine
// similarity in [0, 1], matching the Result.Score contract regardless
// of the collection's configured distance metric. Under Euclidean
// distance on unit-norm vectors, cos = 1 - L^2/2; every other metric
// (including native cosine, which Qdrant already returns in [-1, 1])
// is clamped straight to [0, 1].
func (q *qdrantStore) normalizeScore(raw float64) float64 {
	score := raw
	switch q.metric {
	case "l2", "euclidean":
		score = 1 - (raw*raw)/2
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func (q *qdrantStore) Count(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{CollectionName: q.collection})
	if err != nil {
		return 0, coreerr.New(coreerr.Storage, "qdrant count", err)
	}
	return int(n), nil
}

// Compact asks Qdrant to rebuild its segments, reclaiming space from
// tombstoned points left behind by Delete.
func (q *qdrantStore) Compact(ctx context.Context) error {
	_, err := q.client.UpdateCollection(ctx, &qdrant.UpdateCollection{CollectionName: q.collection})
	if err != nil {
		return coreerr.New(coreerr.Storage, "qdrant compact", err)
	}
	return nil
}

func (q *qdrantStore) Close() error { return q.client.Close() }
