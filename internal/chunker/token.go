package chunker

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the tokenizer shared by the gpt-3.5/gpt-4 model family and
// text-embedding-3-small.
const encodingName = "cl100k_base"

// NewTokenCounter returns a TokenCounter backed by the cl100k_base encoding.
// Special-token text ("<|endoftext|>" and friends) is counted as ordinary
// text, so no document content can make the counter reject input.
func NewTokenCounter() (TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encodingName, err)
	}
	return func(text string) int {
		return len(encoding.Encode(text, nil, nil))
	}, nil
}
