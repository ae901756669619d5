package storage

import "errors"

var (
	ErrStoreUnreachable  = errors.New("qdrant server unreachable")
	ErrStoreUnavailable  = errors.New("vector store unavailable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrLengthMismatch    = errors.New("vectors and payloads length mismatch")
)
