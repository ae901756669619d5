// Package main provides the docchat CLI: ingest documents into the vector
// store, ask grounded questions over them, and dump stored content.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/openai/openai-go"
	"github.com/spf13/cobra"

	"github.com/bull/docchat/internal/chunker"
	"github.com/bull/docchat/internal/completion"
	"github.com/bull/docchat/internal/embedding"
	"github.com/bull/docchat/internal/extract"
	"github.com/bull/docchat/internal/fingerprint"
	"github.com/bull/docchat/internal/ingest"
	"github.com/bull/docchat/internal/retrieve"
	"github.com/bull/docchat/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Document question answering over a Qdrant vector store",
	Long: `docchat ingests .txt and .pdf files into content-addressed Qdrant
collections and answers questions grounded in the most relevant passages.

Environment variables:
  QDRANT_HOST      Qdrant hostname (default: localhost)
  QDRANT_PORT      Qdrant gRPC port (default: 6334)
  OPENAI_API_KEY   OpenAI API key (required)
  CHUNK_SIZE       Max tokens per chunk (default: 300)
  CHUNK_OVERLAP    Overlap tokens between chunks (default: 50)
  COMPLETION_MODEL Chat model for answers (default: gpt-4o)`,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Ingest files into the vector store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question grounded in previously ingested files",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

var dumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Print the stored content for a file's collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

var (
	askFiles    []string
	askTopN     int
	askStream   bool
	askMaxToks  int64
	askTemp     float64
	dumpLimit   int
	flagVerbose bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	askCmd.Flags().StringSliceVarP(&askFiles, "file", "f", nil, "ingested file to ground the answer in (repeatable)")
	askCmd.Flags().IntVar(&askTopN, "top-n", 3, "max retrieved passages in the context")
	askCmd.Flags().BoolVar(&askStream, "stream", true, "stream the answer incrementally")
	askCmd.Flags().Int64Var(&askMaxToks, "max-tokens", 1000, "max tokens to generate")
	askCmd.Flags().Float64Var(&askTemp, "temperature", 0.7, "sampling temperature")
	_ = askCmd.MarkFlagRequired("file")

	dumpCmd.Flags().IntVar(&dumpLimit, "limit", 1000, "max points to dump")

	rootCmd.AddCommand(ingestCmd, askCmd, dumpCmd)
}

func main() {
	// Load .env if present (local development); missing is fine.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// deps holds the explicitly constructed clients shared by all commands.
// Opened once per invocation, closed on return. The OpenAI client and
// tokenizer are built lazily so dump works without an API key.
type deps struct {
	logger *slog.Logger
	store  *storage.QdrantStore
}

func buildDeps() (*deps, error) {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	host := getEnv("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	store, err := storage.NewQdrantStore(host, port, embedding.Dimension, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &deps{logger: logger, store: store}, nil
}

func openAIDeps() (*embedding.Client, chunker.TokenCounter, error) {
	client, err := embedding.NewClient()
	if err != nil {
		return nil, nil, err
	}
	counter, err := chunker.NewTokenCounter()
	if err != nil {
		return nil, nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return client, counter, nil
}

func (d *deps) close() {
	if err := d.store.Close(); err != nil {
		d.logger.Warn("failed to close store", "error", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.close()

	client, counter, err := openAIDeps()
	if err != nil {
		return err
	}

	pipeline := ingest.NewPipeline(
		d.store,
		embedding.NewEmbedder(client, 0),
		extract.FileExtractor{},
		counter,
		getEnvInt("CHUNK_SIZE", 300),
		getEnvInt("CHUNK_OVERLAP", 50),
		d.logger,
	)

	var failed int
	for _, path := range args {
		if _, err := pipeline.Ingest(ctx, path); err != nil {
			d.logger.Error("ingest failed", "file", path, "error", err)
			failed++
			continue
		}
		fmt.Printf("ingested %s\n", path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(args))
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.close()

	client, counter, err := openAIDeps()
	if err != nil {
		return err
	}

	question := args[0]
	engine := retrieve.NewEngine(d.store, embedding.NewEmbedder(client, 0), d.logger)

	history := []retrieve.Turn{{User: question}}
	prompt, err := engine.BuildPrompt(ctx, askFiles, question, history, askTopN)
	if err != nil {
		return fmt.Errorf("cannot ground an answer: %w", err)
	}

	chat := completion.NewClient(client, counter, d.logger)
	messages := []completion.Message{{Role: completion.RoleUser, Content: prompt}}
	params := completion.Params{
		Model:       getEnv("COMPLETION_MODEL", openai.ChatModelGPT4o),
		MaxTokens:   askMaxToks,
		Temperature: askTemp,
	}

	if askStream {
		_, err := chat.CompleteStream(ctx, messages, params, func(fragment string) {
			fmt.Print(fragment)
		})
		fmt.Println()
		return err
	}

	answer, err := chat.Complete(ctx, messages, params)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func runDump(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.close()

	collection, err := fingerprint.SumFile(args[0])
	if err != nil {
		return err
	}

	content, err := d.store.DumpContent(ctx, collection, dumpLimit)
	if err != nil {
		return err
	}
	fmt.Println(content)
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}
