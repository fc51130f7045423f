// Package websearch implements web search for the search intent via the
// Tavily HTTP API.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the Tavily search endpoint.
const DefaultBaseURL = "https://api.tavily.com/search"

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxResults  = 5
	defaultSearchDepth = "basic"
	maxQueryRunes      = 500
)

// Errors returned by the search client.
var (
	ErrNotConfigured = errors.New("websearch: api key not configured")
	ErrInvalidQuery  = errors.New("websearch: invalid query")
	ErrUnavailable   = errors.New("websearch: search service unavailable")
)

type clientConfig struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	maxResults  int
	searchDepth string
}

// Option configures a Client.
type Option func(*clientConfig)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(cfg *clientConfig) {
		if u != "" {
			cfg.baseURL = u
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) { cfg.httpClient = c }
}

// WithTimeout sets the per-search deadline. Default is 10s.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithMaxResults bounds the result count. Default is 5.
func WithMaxResults(n int) Option {
	return func(cfg *clientConfig) {
		if n > 0 {
			cfg.maxResults = n
		}
	}
}

// WithSearchDepth sets the Tavily search depth ("basic" or "advanced").
func WithSearchDepth(depth string) Option {
	return func(cfg *clientConfig) {
		if depth != "" {
			cfg.searchDepth = depth
		}
	}
}

// Result is one search hit.
type Result struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// Results is a complete search response.
type Results struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer,omitempty"`
	Results []Result `json:"results"`
}

// Client is a Tavily search client.
type Client struct {
	config clientConfig
}

// New creates a search client. An empty apiKey is allowed; Search then
// fails with ErrNotConfigured so callers can degrade gracefully.
func New(apiKey string, opts ...Option) *Client {
	cfg := clientConfig{
		apiKey:      strings.TrimSpace(apiKey),
		baseURL:     DefaultBaseURL,
		httpClient:  http.DefaultClient,
		timeout:     defaultTimeout,
		maxResults:  defaultMaxResults,
		searchDepth: defaultSearchDepth,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{config: cfg}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.config.apiKey != ""
}

type searchRequest struct {
	APIKey            string   `json:"api_key"`
	Query             string   `json:"query"`
	SearchDepth       string   `json:"search_depth"`
	IncludeAnswer     bool     `json:"include_answer"`
	IncludeRawContent bool     `json:"include_raw_content"`
	MaxResults        int      `json:"max_results"`
	IncludeDomains    []string `json:"include_domains"`
	ExcludeDomains    []string `json:"exclude_domains"`
}

// Search runs a web search for the query.
func (c *Client) Search(ctx context.Context, query string) (*Results, error) {
	query = strings.TrimSpace(query)
	if n := len([]rune(query)); n < 2 || n > maxQueryRunes {
		return nil, fmt.Errorf("%w: %d characters", ErrInvalidQuery, n)
	}
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.timeout)
	defer cancel()

	body, err := json.Marshal(searchRequest{
		APIKey:            c.config.apiKey,
		Query:             query,
		SearchDepth:       c.config.searchDepth,
		IncludeAnswer:     true,
		IncludeRawContent: false,
		MaxResults:        c.config.maxResults,
		IncludeDomains:    []string{},
		ExcludeDomains:    []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("websearch: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.config.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: %w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("websearch: %w: status %d: %s", ErrUnavailable, resp.StatusCode, data)
	}

	var out Results
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("websearch: decode response: %w", err)
	}
	if len(out.Results) > c.config.maxResults {
		out.Results = out.Results[:c.config.maxResults]
	}
	return &out, nil
}

// Format renders results as the plain-text block embedded into the
// model prompt.
func (r *Results) Format() string {
	if r == nil || (r.Answer == "" && len(r.Results) == 0) {
		return ""
	}
	var b strings.Builder
	if r.Answer != "" {
		fmt.Fprintf(&b, "摘要：%s\n\n", r.Answer)
	}
	for i, res := range r.Results {
		fmt.Fprintf(&b, "%d. %s\n%s\n来源：%s\n\n", i+1, res.Title, res.Content, res.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Sources returns the result URLs, for persistence alongside the turn.
func (r *Results) Sources() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.URL != "" {
			out = append(out, res.URL)
		}
	}
	return out
}
