// Package embedding implements the embedding capability on top of the OpenAI
// API: Embed(texts) -> fixed-dimension vectors.
package embedding

import (
	"errors"
	"os"

	"github.com/openai/openai-go"
)

// ErrNoAPIKey is returned when the OPENAI_API_KEY environment variable is
// not set at client construction time.
var ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")

// Client wraps the OpenAI API client shared by the embedding and completion
// capabilities. Constructed once in main and injected everywhere it is used.
type Client struct {
	client *openai.Client
}

// NewClient creates the OpenAI client, failing fast if no API key is
// configured.
func NewClient() (*Client, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, ErrNoAPIKey
	}

	// openai-go reads OPENAI_API_KEY from the environment itself.
	client := openai.NewClient()
	return &Client{client: &client}, nil
}

// API exposes the underlying OpenAI client for the completion capability.
func (c *Client) API() *openai.Client {
	return c.client
}
