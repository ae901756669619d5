// Package chunker splits extracted text segments into token-bounded chunks.
// Bounds are measured by a pluggable token counter so chunk sizes line up with
// the target model's tokenization rather than byte or rune counts.
package chunker

import (
	"strings"

	"github.com/bull/docchat/internal/extract"
)

// TokenCounter reports the number of model tokens in text.
type TokenCounter func(text string) int

// Chunk is a bounded span of text cut from one segment. Metadata is copied
// from the originating segment, so a chunk always knows which page it came
// from.
type Chunk struct {
	Text     string
	Metadata map[string]any
}

// Split cuts each segment into chunks of at most maxTokens tokens, with
// adjacent chunks from the same segment overlapping by up to overlapTokens
// trailing tokens. Segments are never merged: a page boundary is always a
// chunk boundary.
func Split(segments []extract.Segment, maxTokens, overlapTokens int, count TokenCounter) []Chunk {
	var chunks []Chunk
	for _, segment := range segments {
		chunks = append(chunks, splitSegment(segment, maxTokens, overlapTokens, count)...)
	}
	return chunks
}

func splitSegment(segment extract.Segment, maxTokens, overlapTokens int, count TokenCounter) []Chunk {
	if maxTokens <= 0 || count == nil {
		if strings.TrimSpace(segment.Text) == "" {
			return nil
		}
		return []Chunk{{Text: segment.Text, Metadata: cloneMetadata(segment.Metadata)}}
	}

	words := boundedWords(segment.Text, maxTokens, count)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(words) {
		// Grow the chunk until the next word would exceed the budget.
		end := start + 1
		for end < len(words) {
			if count(strings.Join(words[start:end+1], " ")) > maxTokens {
				break
			}
			end++
		}

		chunks = append(chunks, Chunk{
			Text:     strings.Join(words[start:end], " "),
			Metadata: cloneMetadata(segment.Metadata),
		})
		if end == len(words) {
			break
		}
		start = overlapStart(words, start, end, overlapTokens, count)
	}
	return chunks
}

// boundedWords splits text at whitespace, then cuts any word that alone
// exceeds maxTokens at rune granularity. Unspaced text (a CJK page arrives
// as one giant "word") must still honor the chunk budget.
func boundedWords(text string, maxTokens int, count TokenCounter) []string {
	fields := strings.Fields(text)
	words := make([]string, 0, len(fields))
	for _, word := range fields {
		if count(word) <= maxTokens {
			words = append(words, word)
			continue
		}
		words = append(words, splitWord(word, maxTokens, count)...)
	}
	return words
}

// splitWord cuts one over-budget word into rune-boundary pieces of at most
// maxTokens tokens each. A single rune over the budget is emitted alone so
// splitting always makes progress.
func splitWord(word string, maxTokens int, count TokenCounter) []string {
	runes := []rune(word)
	var pieces []string
	start := 0
	for start < len(runes) {
		end := start + 1
		for end < len(runes) {
			if count(string(runes[start:end+1])) > maxTokens {
				break
			}
			end++
		}
		pieces = append(pieces, string(runes[start:end]))
		start = end
	}
	return pieces
}

// overlapStart walks back from the split point until the trailing window
// exceeds overlapTokens. The next chunk restarts there, guaranteeing forward
// progress even when the overlap would cover the whole chunk.
func overlapStart(words []string, start, end, overlapTokens int, count TokenCounter) int {
	next := end
	for next > start+1 {
		if count(strings.Join(words[next-1:end], " ")) > overlapTokens {
			break
		}
		next--
	}
	if overlapTokens <= 0 {
		return end
	}
	return next
}

func cloneMetadata(metadata map[string]any) map[string]any {
	clone := make(map[string]any, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}
