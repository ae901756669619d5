// Package storage provides the Qdrant-backed vector store. Each ingested
// document content owns one collection, named by its fingerprint.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore wraps the Qdrant client with connection management and the
// collection-per-fingerprint access pattern.
type QdrantStore struct {
	client    *qdrant.Client
	dimension uint64
	logger    *slog.Logger

	// Serializes the check-then-create sequence per collection name so two
	// simultaneous ingestions of the same content don't race on creation.
	createMu sync.Mutex
	creating map[string]*sync.Mutex
}

// NewQdrantStore creates a Qdrant client and validates connectivity.
// It performs a health check with retry on startup and fails fast if Qdrant
// is unreachable. The store is safe for concurrent use; callers own its
// lifecycle and must Close it on shutdown.
func NewQdrantStore(host string, port int, dimension uint64, logger *slog.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	store := &QdrantStore{
		client:    client,
		dimension: dimension,
		logger:    logger,
		creating:  map[string]*sync.Mutex{},
	}

	if err := store.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnreachable, err)
	}

	return store, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(exponentialBackoff, ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStore) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection returns the point count of the named collection, creating
// it first if it does not exist. The outcome is three-way:
//   - count > 0: the collection exists and is populated
//   - count == 0: the collection was just created (or exists but is empty)
//   - FailedPointCount: the collection could not be read or created
//
// A missing collection is the expected first-ingestion case, not an error;
// every other failure is downgraded to the sentinel rather than propagated.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dimension uint64) int64 {
	lock := s.collectionLock(name)
	lock.Lock()
	defer lock.Unlock()

	info, err := s.client.GetCollectionInfo(ctx, name)
	if err == nil {
		count := int64(info.GetPointsCount())
		s.logger.Debug("collection exists", "collection", name, "points", count)
		return count
	}

	createErr := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if createErr != nil {
		// A concurrent creator may have won the race in another process;
		// re-check before giving up.
		if info, err := s.client.GetCollectionInfo(ctx, name); err == nil {
			return int64(info.GetPointsCount())
		}
		s.logger.Error("failed to create collection", "collection", name, "error", createErr)
		return FailedPointCount
	}

	s.logger.Info("created collection", "collection", name, "dimension", dimension)
	return 0
}

func (s *QdrantStore) collectionLock(name string) *sync.Mutex {
	s.createMu.Lock()
	defer s.createMu.Unlock()
	lock, ok := s.creating[name]
	if !ok {
		lock = &sync.Mutex{}
		s.creating[name] = lock
	}
	return lock
}

// Upsert stores vectors with their payloads in the named collection. Ids are
// assigned sequentially starting at 1 in input order, and the call waits for
// durability acknowledgment before returning. Length and dimension mismatches
// are contract violations reported before any network call.
func (s *QdrantStore) Upsert(ctx context.Context, name string, vectors [][]float32, payloads []map[string]any) error {
	if len(vectors) != len(payloads) {
		return fmt.Errorf("%w: %d vectors, %d payloads", ErrLengthMismatch, len(vectors), len(payloads))
	}
	for i, vector := range vectors {
		if uint64(len(vector)) != s.dimension {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(vector), s.dimension)
		}
	}

	points := make([]*qdrant.PointStruct, len(vectors))
	for i, vector := range vectors {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(i + 1)),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(payloads[i]),
		}
	}

	return s.upsertWithRetry(ctx, name, points)
}

// upsertWithRetry performs the upsert with exponential backoff retry.
func (s *QdrantStore) upsertWithRetry(ctx context.Context, name string, points []*qdrant.PointStruct) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(exponentialBackoff, ctx))
}

// Search returns up to limit matches from the named collection ordered by
// descending similarity, payload included.
func (s *QdrantStore) Search(ctx context.Context, name string, queryVector []float32, limit int) ([]ScoredMatch, error) {
	if uint64(len(queryVector)) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(queryVector), s.dimension)
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search collection %s: %w", name, err)
	}

	matches := make([]ScoredMatch, 0, len(results))
	for _, result := range results {
		matches = append(matches, scoredMatchFromPoint(name, result))
	}
	return matches, nil
}

// DumpContent fetches up to limit points from the named collection in
// ascending id order and concatenates their payload text. Diagnostic bulk
// read, not a hot path: a zero-vector query serves as the scan proxy.
func (s *QdrantStore) DumpContent(ctx context.Context, name string, limit int) (string, error) {
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(make([]float32, s.dimension)...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to dump collection %s: %w", name, err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Id.GetNum() < results[j].Id.GetNum()
	})

	var builder strings.Builder
	for _, result := range results {
		builder.WriteString(result.Payload[PayloadTextKey].GetStringValue())
	}
	s.logger.Debug("dumped collection content",
		"collection", name, "points", len(results), "chars", builder.Len())
	return builder.String(), nil
}

// DeleteCollection removes the named collection and all its points.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	return nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func scoredMatchFromPoint(collection string, point *qdrant.ScoredPoint) ScoredMatch {
	match := ScoredMatch{
		ID:         point.Id.GetNum(),
		Score:      float64(point.Score),
		Text:       point.Payload[PayloadTextKey].GetStringValue(),
		Collection: collection,
	}
	if metadata := point.Payload[PayloadMetadataKey].GetStructValue(); metadata != nil {
		match.Metadata = make(map[string]any, len(metadata.Fields))
		for key, value := range metadata.Fields {
			match.Metadata[key] = valueToAny(value)
		}
	}
	return match
}

// valueToAny converts the scalar payload values this store writes back to
// plain Go values. Nested structures beyond one metadata level never occur.
func valueToAny(value *qdrant.Value) any {
	switch kind := value.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}
