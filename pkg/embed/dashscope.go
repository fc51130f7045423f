package embed

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultModel is the embedding model used when none is configured.
	DefaultModel = "text-embedding-v4"

	// DefaultDimension matches the size the semantic memory collection
	// is created with.
	DefaultDimension = 1536

	// DefaultBaseURL is DashScope's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

	// maxBatch is the upstream per-request input limit for v3/v4.
	maxBatch = 10
)

// DashScope embeds text through Aliyun's OpenAI-compatible embedding
// API. Safe for parallel use.
type DashScope struct {
	client *openai.Client
	model  string
	dim    int
}

var _ Embedder = (*DashScope)(nil)

// NewDashScope creates a DashScope embedder with the given API key.
func NewDashScope(apiKey string, opts ...Option) *DashScope {
	cfg := clientConfig{
		model:      DefaultModel,
		dim:        DefaultDimension,
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(&cfg)
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
		option.WithHTTPClient(cfg.httpClient),
	)
	return &DashScope{
		client: &client,
		model:  cfg.model,
		dim:    cfg.dim,
	}
}

func (d *DashScope) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := d.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in upstream-sized chunks and preserves the
// input order.
func (d *DashScope) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))
		vecs, err := d.request(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed: texts %d-%d: %w", start, end-1, err)
		}
		copy(out[start:], vecs)
	}
	return out, nil
}

func (d *DashScope) Dimension() int { return d.dim }

// Model reports the configured model name.
func (d *DashScope) Model() string { return d.model }

// request performs one upstream call. Responses are ordered by the
// per-item index field, not by position.
func (d *DashScope) request(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := d.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model:          d.model,
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Dimensions:     openai.Int(int64(d.dim)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= int64(len(texts)) {
			return nil, fmt.Errorf("embed: index %d out of range for %d inputs", item.Index, len(texts))
		}
		vecs[item.Index] = toFloat32(item.Embedding)
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("embed: no vector returned for input %d", i)
		}
	}
	return vecs, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
