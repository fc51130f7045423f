// Package qwen provides a client for the DashScope Qwen text-generation
// API.
//
// The client exposes two operations: [Client.Generate] for a complete
// response in one call, and [Client.Stream] for incremental SSE chunks.
// Both accept a message history and per-call parameter overrides.
//
// # Quick Start
//
//	c := qwen.NewClient("sk-xxx")
//	text, err := c.Generate(ctx, []qwen.Message{
//		{Role: qwen.RoleUser, Content: "你好"},
//	}, nil)
//
//	for chunk := range c.Stream(ctx, msgs, nil) {
//		fmt.Print(chunk)
//	}
package qwen

import (
	"net/http"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the chat history sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are per-call generation parameters. Zero fields fall back to
// the defaults below.
type Params struct {
	Temperature       float64
	MaxTokens         int
	TopP              float64
	RepetitionPenalty float64
}

// Default generation parameters.
const (
	DefaultTemperature       = 0.7
	DefaultMaxTokens         = 3000
	DefaultTopP              = 0.8
	DefaultRepetitionPenalty = 1.1
)

// withDefaults fills zero fields with the package defaults.
func (p *Params) withDefaults() Params {
	out := Params{
		Temperature:       DefaultTemperature,
		MaxTokens:         DefaultMaxTokens,
		TopP:              DefaultTopP,
		RepetitionPenalty: DefaultRepetitionPenalty,
	}
	if p == nil {
		return out
	}
	if p.Temperature != 0 {
		out.Temperature = p.Temperature
	}
	if p.MaxTokens != 0 {
		out.MaxTokens = p.MaxTokens
	}
	if p.TopP != 0 {
		out.TopP = p.TopP
	}
	if p.RepetitionPenalty != 0 {
		out.RepetitionPenalty = p.RepetitionPenalty
	}
	return out
}

const (
	// DefaultBaseURL is the DashScope native HTTP endpoint.
	DefaultBaseURL = "https://dashscope.aliyuncs.com"

	// DefaultModel is the generation model used when none is configured.
	DefaultModel = "qwen-plus"

	generationPath = "/api/v1/services/aigc/text-generation/generation"
)

// Client is the Qwen text-generation client. It is safe for parallel
// use; each call opens its own upstream connection.
type Client struct {
	config *clientConfig
}

// clientConfig holds the client configuration.
type clientConfig struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures the Client.
type Option func(*clientConfig)

// NewClient creates a new Qwen client.
//
// The apiKey is required and can be obtained from:
// https://bailian.console.aliyun.com/?apiKey=1
func NewClient(apiKey string, opts ...Option) *Client {
	if apiKey == "" {
		panic("qwen: API key is required")
	}

	cfg := &clientConfig{
		apiKey:     apiKey,
		model:      DefaultModel,
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		timeout:    60 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Client{config: cfg}
}

// WithModel sets the generation model.
func WithModel(model string) Option {
	return func(c *clientConfig) { c.model = model }
}

// WithBaseURL sets the HTTP base URL.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = client }
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.timeout = d }
}
