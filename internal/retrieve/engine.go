// Package retrieve answers questions over ingested documents: per-collection
// similarity search, global re-ranking under a result budget, and grounded
// prompt assembly.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bull/docchat/internal/fingerprint"
	"github.com/bull/docchat/internal/retryutil"
	"github.com/bull/docchat/internal/storage"
)

// contextSeparator joins retrieved passages in the rendered context.
const contextSeparator = "\n---\n"

// promptTemplate interpolates context, rendered history and the question.
// The instruction tells the model to ground its answer in the document
// content when relevant and not to force one from it otherwise.
const promptTemplate = "You are a document question answering assistant. You answer the user's " +
	"question based on the `document content` and the `conversation history`. If the question is " +
	"unrelated to the `document content`, do not force an answer from it.\n\n" +
	"Document content: ```\n%s```\n\n" +
	"Conversation history: ```\n%s```\n\n" +
	"user: ```%s```\n" +
	"assistant: "

// Defaults for the engine's tunables.
const (
	DefaultSearchWorkers = 4
	DefaultEmbedAttempts = 3
	DefaultEmbedDelay    = time.Second
)

// ErrEmbeddingUnavailable is returned when the question could not be
// embedded after all retry attempts. Callers must treat the resulting empty
// prompt as "cannot answer", not retry blindly.
var ErrEmbeddingUnavailable = errors.New("embedding capability unavailable")

// Searcher is the slice of the store the engine reads through.
type Searcher interface {
	Search(ctx context.Context, name string, queryVector []float32, limit int) ([]storage.ScoredMatch, error)
}

// Embedder turns the question into a query vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Turn is one user/assistant exchange. The assistant side of the most recent
// turn is typically still empty when a prompt is built.
type Turn struct {
	User      string
	Assistant string
}

// Engine builds grounded prompts. It holds no persistent state; all state is
// input parameters or store-returned values.
type Engine struct {
	store         Searcher
	embedder      Embedder
	logger        *slog.Logger
	searchWorkers int
	embedAttempts uint64
	embedDelay    time.Duration
}

// NewEngine wires the retrieval engine from its injected components.
func NewEngine(store Searcher, embedder Embedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:         store,
		embedder:      embedder,
		logger:        logger,
		searchWorkers: DefaultSearchWorkers,
		embedAttempts: DefaultEmbedAttempts,
		embedDelay:    DefaultEmbedDelay,
	}
}

// BuildContext searches every collection for the question vector, re-ranks
// the combined matches globally by score, truncates to topN and joins the
// passage texts. Per-collection searches run concurrently with a bounded
// worker count; a failed collection contributes zero matches rather than
// aborting the rest.
func (e *Engine) BuildContext(ctx context.Context, collectionNames []string, questionVector []float32, topN int) string {
	var (
		mu      sync.Mutex
		matches []storage.ScoredMatch
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.searchWorkers)
	for _, name := range collectionNames {
		group.Go(func() error {
			found, err := e.store.Search(groupCtx, name, questionVector, topN)
			if err != nil {
				e.logger.Warn("collection search failed", "collection", name, "error", err)
				return nil
			}
			mu.Lock()
			matches = append(matches, found...)
			mu.Unlock()
			return nil
		})
	}
	// Workers swallow their own errors, so Wait only synchronizes.
	_ = group.Wait()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topN {
		matches = matches[:topN]
	}

	texts := make([]string, len(matches))
	for i, match := range matches {
		texts[i] = match.Text
	}
	e.logger.Debug("built retrieval context",
		"collections", len(collectionNames), "matches", len(matches), "top_n", topN)
	return strings.Join(texts, contextSeparator)
}

// BuildPrompt assembles the grounded prompt for a question over the given
// files. Collection names are recomputed from file bytes, keeping the
// identifier scheme consistent with ingestion instead of trusting a caller
// mapping. An empty prompt with a non-nil error means the answer cannot be
// grounded.
func (e *Engine) BuildPrompt(ctx context.Context, filePaths []string, question string, history []Turn, topN int) (string, error) {
	collectionNames := make([]string, 0, len(filePaths))
	for _, path := range filePaths {
		name, err := fingerprint.SumFile(path)
		if err != nil {
			e.logger.Error("failed to fingerprint file", "file", path, "error", err)
			return "", fmt.Errorf("fingerprint %s: %w", path, err)
		}
		collectionNames = append(collectionNames, name)
	}

	vectors, ok := retryutil.Invoke(ctx, e.logger, func() ([][]float32, error) {
		return e.embedder.Embed(ctx, []string{question})
	}, e.embedAttempts, e.embedDelay)
	if !ok || len(vectors) == 0 {
		e.logger.Error("failed to embed question", "question_len", len(question))
		return "", ErrEmbeddingUnavailable
	}

	contextText := e.BuildContext(ctx, collectionNames, vectors[0], topN)
	historyText := renderHistory(history)

	prompt := fmt.Sprintf(promptTemplate, contextText, historyText, question)
	e.logger.Debug("built prompt", "context_chars", len(contextText), "history_turns", len(history))
	return prompt, nil
}

// renderHistory renders prior turns as alternating user/assistant lines,
// excluding the most recent, still-unanswered turn.
func renderHistory(history []Turn) string {
	if len(history) <= 1 {
		return ""
	}

	var builder strings.Builder
	for _, turn := range history[:len(history)-1] {
		if turn.User != "" {
			builder.WriteString("user:" + turn.User + "\n")
		}
		if turn.Assistant != "" {
			builder.WriteString("assistant:" + turn.Assistant + "\n")
		}
	}
	return strings.TrimSuffix(builder.String(), "\n")
}
