package patterns

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/accordo-ai/accordo/internal/model"
)

// QdrantConfig holds configuration for connecting to Qdrant.
type QdrantConfig struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
}

// QdrantIndex implements Searcher backed by Qdrant.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error (pointer-to-error, never nil pointer; inner error may be nil)
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseQdrantURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseQdrantURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("patterns: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("patterns: invalid port in qdrant URL: %q", portStr)
		}
		// If the user specified the REST port (6333), use the gRPC port (6334).
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// NewQdrantIndex creates a new QdrantIndex and connects to the Qdrant server via gRPC.
func NewQdrantIndex(cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("patterns: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the pattern collection if it doesn't already exist
// and ensures payload indexes are present. CreateFieldIndex is idempotent on
// Qdrant, so index creation is always attempted to backfill indexes added
// after the collection was first created.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("patterns: check collection exists: %w", err)
	}

	if !exists {
		m := uint64(16)
		efConstruct := uint64(128)

		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     FeatureDims,
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           &m,
					EfConstruct: &efConstruct,
				},
			}),
		}); err != nil {
			return fmt.Errorf("patterns: create collection %q: %w", q.collection, err)
		}
		q.logger.Info("qdrant: created collection", "collection", q.collection, "dims", FeatureDims)
	} else {
		q.logger.Info("qdrant: collection already exists", "collection", q.collection)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"vendor_id", "outcome"} {
		if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("patterns: ensure index on %q: %w", field, err)
		}
	}

	floatType := qdrant.FieldType_FieldTypeFloat
	if _, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "final_utility",
		FieldType:      &floatType,
	}); err != nil {
		return fmt.Errorf("patterns: ensure index on %q: %w", "final_utility", err)
	}

	return nil
}

// FindSimilar returns deal IDs whose recorded patterns are closest to the
// given feature vector.
func (q *QdrantIndex) FindSimilar(ctx context.Context, features []float32, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 5
	}

	fetchLimit := uint64(limit) //nolint:gosec // limit is bounded by caller
	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(features),
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("patterns: qdrant find similar: %w", err)
	}

	results := make([]Result, 0, len(scored))
	for _, sp := range scored {
		idStr := sp.Id.GetUuid()
		if idStr == "" {
			continue
		}
		dealID, err := uuid.Parse(idStr)
		if err != nil {
			q.logger.Warn("qdrant: invalid UUID in point ID", "id", idStr)
			continue
		}
		results = append(results, Result{DealID: dealID, Score: sp.Score})
	}

	return results, nil
}

// Upsert inserts or updates one pattern point. The point ID is the deal ID so
// re-closing a resumed deal overwrites its previous fingerprint.
func (q *QdrantIndex) Upsert(ctx context.Context, p model.NegotiationPattern) error {
	payload := map[string]any{
		"vendor_id":     p.VendorID.String(),
		"outcome":       string(p.Outcome),
		"rounds":        float64(p.Rounds),
		"final_utility": p.FinalUtility,
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(p.DealID.String()),
			Vectors: qdrant.NewVectorsDense(p.Features),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("patterns: qdrant upsert deal %s: %w", p.DealID, err)
	}
	return nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5 seconds
// to avoid hammering the health endpoint on every turn. Concurrent calls after
// cache expiry are deduplicated via singleflight so only one gRPC call is
// made; all waiters share its result.
func (q *QdrantIndex) Healthy(ctx context.Context) error {
	// Fast path: return the cached result if fresh.
	if time.Since(time.Unix(0, q.healthAt.Load())) < 5*time.Second {
		return q.loadHealthErr()
	}

	// Deduplicate concurrent checks. Use context.Background() instead of the
	// caller's ctx because singleflight reuses the first caller's context —
	// if that caller cancels, all waiters would get a stale error.
	result, _, _ := q.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := q.client.HealthCheck(checkCtx)
		if err != nil {
			wrapped := fmt.Errorf("patterns: qdrant unhealthy: %w", err)
			q.storeHealthErr(wrapped)
		} else {
			q.storeHealthErr(nil)
		}
		q.healthAt.Store(time.Now().UnixNano())
		return q.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

// storeHealthErr stores an error (or nil) in the atomic.Value.
// atomic.Value cannot store nil directly, so we wrap it in a pointer.
func (q *QdrantIndex) storeHealthErr(err error) {
	q.healthErr.Store(&err)
}

// loadHealthErr loads the cached health error.
func (q *QdrantIndex) loadHealthErr() error {
	v := q.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the Qdrant gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
