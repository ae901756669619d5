package storage

// FailedPointCount is the sentinel EnsureCollection returns when the
// collection neither exists nor could be created. Callers must treat it as
// "store unavailable", never as an empty collection.
const FailedPointCount = -1

// Payload keys under which chunk text and metadata are persisted. Search
// results return the payload verbatim, so readers use the same keys.
const (
	PayloadTextKey     = "page_content"
	PayloadMetadataKey = "metadata"
)

// ScoredMatch is one similarity search result: a stored point's payload plus
// its score and the collection it came from. Ephemeral, never persisted.
type ScoredMatch struct {
	ID         uint64
	Score      float64
	Text       string
	Metadata   map[string]any
	Collection string
}
