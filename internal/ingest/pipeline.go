// Package ingest orchestrates the document write path: fingerprint, dedup
// check against the vector store, extraction, chunking, embedding, upsert.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bull/docchat/internal/chunker"
	"github.com/bull/docchat/internal/embedding"
	"github.com/bull/docchat/internal/extract"
	"github.com/bull/docchat/internal/fingerprint"
	"github.com/bull/docchat/internal/storage"
)

// VectorStore is the slice of the store the pipeline writes through.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) int64
	Upsert(ctx context.Context, name string, vectors [][]float32, payloads []map[string]any) error
}

// Embedder turns chunk texts into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Extractor converts a file into text segments.
type Extractor interface {
	Extract(path string, kind extract.Kind) ([]extract.Segment, error)
}

// Pipeline ingests files into the vector store. It holds no state of its
// own; everything it touches is input or store-returned.
type Pipeline struct {
	store         VectorStore
	embedder      Embedder
	extractor     Extractor
	counter       chunker.TokenCounter
	maxTokens     int
	overlapTokens int
	logger        *slog.Logger
}

// NewPipeline wires the ingestion pipeline from its injected components.
func NewPipeline(store VectorStore, embedder Embedder, extractor Extractor, counter chunker.TokenCounter, maxTokens, overlapTokens int, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:         store,
		embedder:      embedder,
		extractor:     extractor,
		counter:       counter,
		maxTokens:     maxTokens,
		overlapTokens: overlapTokens,
		logger:        logger,
	}
}

// Ingest stores the file's content in the collection named by its
// fingerprint and returns the original path on success. Re-ingesting
// byte-identical content is a no-op: content already durably stored is never
// embedded again, and content that failed to store is never silently
// skipped.
func (p *Pipeline) Ingest(ctx context.Context, filePath string) (string, error) {
	kind, err := extract.KindForPath(filePath)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	collection := fingerprint.Sum(data)

	count := p.store.EnsureCollection(ctx, collection, embedding.Dimension)
	switch {
	case count == storage.FailedPointCount:
		p.logger.Error("vector store failed collection check", "file", filePath, "collection", collection)
		return "", storage.ErrStoreUnavailable
	case count > 0:
		p.logger.Info("content already ingested, skipping",
			"file", filePath, "collection", collection, "points", count)
		return filePath, nil
	}

	segments, err := p.extractor.Extract(filePath, kind)
	if err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}

	chunks := chunker.Split(segments, p.maxTokens, p.overlapTokens, p.counter)
	if len(chunks) == 0 {
		// The collection stays empty, so a later ingest of richer content
		// with the same bytes is impossible and a retry re-lands here.
		p.logger.Warn("no extractable text", "file", filePath, "collection", collection)
		return filePath, nil
	}

	texts := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
		metadatas[i] = chunk.Metadata
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return "", fmt.Errorf("embed chunks: %w", err)
	}

	if err := p.store.Upsert(ctx, collection, vectors, buildPayloads(texts, metadatas)); err != nil {
		return "", fmt.Errorf("store chunks: %w", err)
	}

	p.logger.Info("ingested file", "file", filePath, "collection", collection, "chunks", len(chunks))
	return filePath, nil
}

// buildPayloads pairs each chunk text with its metadata under the store's
// payload keys.
func buildPayloads(texts []string, metadatas []map[string]any) []map[string]any {
	payloads := make([]map[string]any, len(texts))
	for i := range texts {
		payloads[i] = map[string]any{
			storage.PayloadTextKey:     texts[i],
			storage.PayloadMetadataKey: metadatas[i],
		}
	}
	return payloads
}
