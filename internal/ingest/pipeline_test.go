package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docchat/internal/extract"
	"github.com/bull/docchat/internal/fingerprint"
	"github.com/bull/docchat/internal/storage"
)

// fakeStore keeps collections in memory and records every upsert.
type fakeStore struct {
	counts      map[string]int64
	failEnsure  bool
	upsertErr   error
	upserts     []upsertCall
	ensureCalls int
}

type upsertCall struct {
	collection string
	vectors    [][]float32
	payloads   []map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: map[string]int64{}}
}

func (f *fakeStore) EnsureCollection(_ context.Context, name string, _ uint64) int64 {
	f.ensureCalls++
	if f.failEnsure {
		return storage.FailedPointCount
	}
	count, ok := f.counts[name]
	if !ok {
		f.counts[name] = 0
		return 0
	}
	return count
}

func (f *fakeStore) Upsert(_ context.Context, name string, vectors [][]float32, payloads []map[string]any) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, upsertCall{collection: name, vectors: vectors, payloads: payloads})
	f.counts[name] = int64(len(vectors))
	return nil
}

// fakeEmbedder returns distinct unit vectors and counts invocations.
type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(i), 1}
	}
	return vectors, nil
}

// pagesExtractor fakes a paginated document without needing a PDF fixture.
type pagesExtractor struct {
	pages []string
}

func (p pagesExtractor) Extract(path string, _ extract.Kind) ([]extract.Segment, error) {
	var segments []extract.Segment
	for i, text := range p.pages {
		segments = append(segments, extract.Segment{
			Text: text,
			Metadata: map[string]any{
				"file_name":   filepath.Base(path),
				"page":        i + 1,
				"total_pages": len(p.pages),
			},
		})
	}
	return segments, nil
}

func wordCount(text string) int { return len(strings.Fields(text)) }

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngest_TwoPageDocument(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	extractor := pagesExtractor{pages: []string{"Intro text", "Body text"}}
	pipeline := NewPipeline(store, embedder, extractor, wordCount, 100, 10, nil)

	path := writeFile(t, "doc.pdf", "raw pdf bytes")
	got, err := pipeline.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	assert.Equal(t, 1, embedder.calls)
	require.Len(t, store.upserts, 1)

	call := store.upserts[0]
	assert.Equal(t, fingerprint.Sum([]byte("raw pdf bytes")), call.collection)
	require.Len(t, call.vectors, 2)
	require.Len(t, call.payloads, 2)
	assert.Equal(t, "Intro text", call.payloads[0][storage.PayloadTextKey])
	assert.Equal(t, "Body text", call.payloads[1][storage.PayloadTextKey])

	meta := call.payloads[1][storage.PayloadMetadataKey].(map[string]any)
	assert.Equal(t, 2, meta["page"])
	assert.Equal(t, 2, meta["total_pages"])
}

func TestIngest_SecondRunIsIdempotent(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	extractor := pagesExtractor{pages: []string{"Intro text", "Body text"}}
	pipeline := NewPipeline(store, embedder, extractor, wordCount, 100, 10, nil)

	path := writeFile(t, "doc.pdf", "raw pdf bytes")
	_, err := pipeline.Ingest(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 1, embedder.calls)

	got, err := pipeline.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, 1, embedder.calls, "second run must not embed")
	assert.Len(t, store.upserts, 1, "second run must not upsert")
}

func TestIngest_IdenticalContentDifferentPath(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	pipeline := NewPipeline(store, embedder, extract.FileExtractor{}, wordCount, 100, 10, nil)

	a := writeFile(t, "a.txt", "same bytes here")
	b := writeFile(t, "b.txt", "same bytes here")

	_, err := pipeline.Ingest(context.Background(), a)
	require.NoError(t, err)
	_, err = pipeline.Ingest(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, 1, embedder.calls)
	assert.Len(t, store.counts, 1, "one collection per distinct content")
}

func TestIngest_UnsupportedExtensionFailsFast(t *testing.T) {
	store := newFakeStore()
	pipeline := NewPipeline(store, &fakeEmbedder{}, extract.FileExtractor{}, wordCount, 100, 10, nil)

	_, err := pipeline.Ingest(context.Background(), "slides.pptx")
	assert.ErrorIs(t, err, extract.ErrUnsupportedFileType)
	assert.Zero(t, store.ensureCalls, "must not touch the store")
}

func TestIngest_StoreUnavailable(t *testing.T) {
	store := newFakeStore()
	store.failEnsure = true
	embedder := &fakeEmbedder{}
	pipeline := NewPipeline(store, embedder, extract.FileExtractor{}, wordCount, 100, 10, nil)

	path := writeFile(t, "doc.txt", "content")
	got, err := pipeline.Ingest(context.Background(), path)
	assert.ErrorIs(t, err, storage.ErrStoreUnavailable)
	assert.Empty(t, got)
	assert.Zero(t, embedder.calls, "must not embed when the store failed")
}

func TestIngest_EmbedFailurePropagates(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{err: errors.New("rate limited")}
	pipeline := NewPipeline(store, embedder, extract.FileExtractor{}, wordCount, 100, 10, nil)

	path := writeFile(t, "doc.txt", "content words")
	_, err := pipeline.Ingest(context.Background(), path)
	assert.Error(t, err)
	assert.Empty(t, store.upserts)
}

func TestIngest_UpsertFailurePropagates(t *testing.T) {
	store := newFakeStore()
	store.upsertErr = errors.New("write timeout")
	pipeline := NewPipeline(store, &fakeEmbedder{}, extract.FileExtractor{}, wordCount, 100, 10, nil)

	path := writeFile(t, "doc.txt", "content words")
	got, err := pipeline.Ingest(context.Background(), path)
	assert.Error(t, err)
	assert.Empty(t, got)
}

func TestIngest_EmptyFileLeavesCollectionEmpty(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{}
	pipeline := NewPipeline(store, embedder, extract.FileExtractor{}, wordCount, 100, 10, nil)

	path := writeFile(t, "empty.txt", "")
	got, err := pipeline.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Zero(t, embedder.calls)
	assert.Empty(t, store.upserts)
}
