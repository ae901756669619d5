// Package fingerprint computes content fingerprints used as vector store
// collection identifiers. Byte-identical files always map to the same
// collection, which is what makes ingestion deduplication work.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
)

// Sum returns the hex-encoded 128-bit digest of data.
// An empty (or nil) input fingerprints the empty byte sequence.
func Sum(data []byte) string {
	digest := md5.Sum(data)
	return hex.EncodeToString(digest[:])
}

// SumFile reads the file at path and fingerprints its contents.
func SumFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file for fingerprint: %w", err)
	}
	return Sum(data), nil
}
