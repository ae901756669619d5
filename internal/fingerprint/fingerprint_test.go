package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_KnownDigests(t *testing.T) {
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", Sum([]byte("hello")))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", Sum([]byte{}))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", Sum(nil))
}

func TestSum_Deterministic(t *testing.T) {
	data := []byte("the same bytes, twice")
	assert.Equal(t, Sum(data), Sum(data))
	assert.NotEqual(t, Sum(data), Sum([]byte("different bytes")))
}

func TestSumFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	got, err := SumFile(path)
	require.NoError(t, err)
	assert.Equal(t, Sum([]byte("hello")), got)

	_, err = SumFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
