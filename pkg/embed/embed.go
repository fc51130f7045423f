// Package embed turns text into dense vectors for semantic recall.
//
// The production implementation is [DashScope], which calls the
// OpenAI-compatible embedding endpoint at Aliyun. Output defaults to
// 1536 dimensions, the size the semantic memory collection is created
// with.
package embed

import (
	"context"
	"errors"
	"net/http"
)

// Embedder converts text into float32 vectors of a fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts at once. Inputs larger than the
	// upstream batch limit are split across calls.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the length of every returned vector.
	Dimension() int
}

// ErrEmptyInput is returned when there is no text to embed.
var ErrEmptyInput = errors.New("embed: empty input")

// clientConfig holds the embedder configuration.
type clientConfig struct {
	model      string
	dim        int
	baseURL    string
	httpClient *http.Client
}

// Option configures an embedder.
type Option func(*clientConfig)

// WithModel sets the embedding model.
func WithModel(model string) Option {
	return func(c *clientConfig) { c.model = model }
}

// WithDimension sets the output vector length. Only the v3/v4 models
// accept a requested dimension; v1/v2 are fixed at 1536.
func WithDimension(dim int) Option {
	return func(c *clientConfig) { c.dim = dim }
}

// WithBaseURL overrides the upstream endpoint.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithHTTPClient sets the HTTP client used for upstream calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = client }
}
