// Package completion implements the completion capability on top of the
// OpenAI API: Complete(messages, params) -> response, either buffered or as
// an incremental token stream.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/bull/docchat/internal/chunker"
	"github.com/bull/docchat/internal/embedding"
)

// fragmentBuffer bounds the producer/consumer channel between the stream
// reader and the accumulating consumer.
const fragmentBuffer = 64

// Message roles understood by the completion capability.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyResponse indicates the API returned no choices.
var ErrEmptyResponse = errors.New("completion returned no choices")

// Message is one chat turn sent to the model.
type Message struct {
	Role    string
	Content string
}

// Params configures a single completion call.
type Params struct {
	Model       string
	MaxTokens   int64
	Temperature float64
}

// Client generates chat completions. The token counter is used only for the
// observability event emitted after a streamed response; it never limits
// anything.
type Client struct {
	api     *openai.Client
	counter chunker.TokenCounter
	logger  *slog.Logger
}

// NewClient builds a completion client on the shared OpenAI client.
func NewClient(shared *embedding.Client, counter chunker.TokenCounter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:     shared.API(),
		counter: counter,
		logger:  logger,
	}
}

// Complete returns the full response text in one buffered call.
func (c *Client) Complete(ctx context.Context, messages []Message, p Params) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, buildParams(messages, p))
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteStream streams the response incrementally, invoking onFragment for
// each text fragment as it arrives, and returns the assembled response. A
// producer goroutine feeds fragments into a bounded channel; the consumer
// owns accumulation and emits a single token-usage observability event when
// the stream terminates, including on cancellation. Canceling ctx stops the
// producer and releases the upstream connection.
func (c *Client) CompleteStream(ctx context.Context, messages []Message, p Params, onFragment func(string)) (string, error) {
	stream := c.api.Chat.Completions.NewStreaming(ctx, buildParams(messages, p))
	defer stream.Close()

	fragments := make(chan string, fragmentBuffer)
	go func() {
		defer close(fragments)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			fragment := chunk.Choices[0].Delta.Content
			if fragment == "" {
				continue
			}
			select {
			case fragments <- fragment:
			case <-ctx.Done():
				return
			}
		}
	}()

	response := c.consume(fragments, onFragment)
	c.logUsage(messages, response)

	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return response, fmt.Errorf("completion stream failed: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return response, err
	}
	return response, nil
}

// consume drains the fragment channel, appending each fragment to the
// growing response and forwarding it to onFragment.
func (c *Client) consume(fragments <-chan string, onFragment func(string)) string {
	var response strings.Builder
	for fragment := range fragments {
		response.WriteString(fragment)
		if onFragment != nil {
			onFragment(fragment)
		}
	}
	return response.String()
}

// logUsage estimates prompt and completion token counts for the finished
// stream. Observability only, no enforcement.
func (c *Client) logUsage(messages []Message, response string) {
	if c.counter == nil {
		return
	}
	var prompt strings.Builder
	for _, message := range messages {
		prompt.WriteString(message.Content)
		prompt.WriteString("\n")
	}
	promptTokens := c.counter(prompt.String())
	completionTokens := c.counter(response)
	c.logger.Info("stream complete",
		"prompt_tokens", promptTokens,
		"completion_tokens", completionTokens,
		"total_tokens", promptTokens+completionTokens,
	)
}

func buildParams(messages []Message, p Params) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: toOpenAI(messages),
		Model:    p.Model,
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(p.MaxTokens)
	}
	params.Temperature = openai.Float(p.Temperature)
	return params
}

func toOpenAI(messages []Message) []openai.ChatCompletionMessageParamUnion {
	converted := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, message := range messages {
		switch message.Role {
		case RoleSystem:
			converted[i] = openai.SystemMessage(message.Content)
		case RoleAssistant:
			converted[i] = openai.AssistantMessage(message.Content)
		default:
			converted[i] = openai.UserMessage(message.Content)
		}
	}
	return converted
}
