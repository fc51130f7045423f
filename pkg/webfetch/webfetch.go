// Package webfetch retrieves and extracts readable page content for the
// URL-analysis intent.
//
// Pages are fetched with browser-like headers, run through readability
// extraction, and converted to markdown. Sites that answer with a
// captcha or bot interstitial are reported as [ErrAntiScrape] so the
// caller can explain the failure instead of feeding garbage to the
// model.
package webfetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
)

// Errors returned by the fetcher.
var (
	// ErrAntiScrape indicates the page served a bot-protection
	// interstitial instead of content.
	ErrAntiScrape = errors.New("webfetch: anti-scrape protection detected")

	// ErrEmptyContent indicates extraction produced no usable text.
	ErrEmptyContent = errors.New("webfetch: no extractable content")
)

// antiScrapeMarkers flag a bot-protection page when they appear in the
// title or the first 200 characters of the body.
var antiScrapeMarkers = []string{
	"安全验证", "验证", "人机验证", "captcha", "robot", "bot",
	"请稍后再试", "访问过于频繁",
}

// userAgents rotate per attempt to look less like a single bot.
var userAgents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
}

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	maxContentRunes   = 8000
	minContentRunes   = 100
)

type clientConfig struct {
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
}

// Option configures a Client.
type Option func(*clientConfig)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) { cfg.httpClient = c }
}

// WithTimeout sets the per-fetch deadline. Default is 15s.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithMaxRetries sets how many attempts are made per URL. Default is 3.
func WithMaxRetries(n int) Option {
	return func(cfg *clientConfig) {
		if n > 0 {
			cfg.maxRetries = n
		}
	}
}

// Page is the extracted content of a fetched URL.
type Page struct {
	URL     string
	Title   string
	Content string // markdown, bounded length
}

// Client fetches and extracts web pages.
type Client struct {
	config clientConfig
}

// New creates a page fetcher.
func New(opts ...Option) *Client {
	cfg := clientConfig{
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{config: cfg}
}

// Fetch downloads a page and returns its readable content. Transient
// HTTP failures are retried with jittered backoff; anti-scrape pages
// fail immediately with ErrAntiScrape.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webfetch: invalid url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < c.config.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			backoff += time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("webfetch: get %s: %w", rawURL, ctx.Err())
			}
		}

		page, err := c.fetchOnce(ctx, u, attempt)
		if err == nil {
			return page, nil
		}
		if errors.Is(err, ErrAntiScrape) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, u *url.URL, attempt int) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("webfetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgents[attempt%len(userAgents)])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	resp, err := c.config.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webfetch: get %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("webfetch: get %s: status %d", u, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return nil, fmt.Errorf("webfetch: extract %s: %w", u, err)
	}

	content := strings.TrimSpace(article.TextContent)
	if md, err := htmltomarkdown.ConvertString(article.Content); err == nil && strings.TrimSpace(md) != "" {
		content = strings.TrimSpace(md)
	}

	if blocked(article.Title, content) {
		return nil, fmt.Errorf("webfetch: %s: %w", u, ErrAntiScrape)
	}
	if content == "" {
		return nil, fmt.Errorf("webfetch: %s: %w", u, ErrEmptyContent)
	}
	if runes := []rune(content); len(runes) > maxContentRunes {
		content = string(runes[:maxContentRunes])
	}

	return &Page{URL: u.String(), Title: article.Title, Content: content}, nil
}

// blocked applies the anti-scrape heuristic: a suspiciously short body,
// or a protection marker in the title or the top of the content.
func blocked(title, content string) bool {
	runes := []rune(content)
	if len(runes) < minContentRunes {
		return true
	}
	head := strings.ToLower(string(runes[:min(len(runes), 200)]))
	lowTitle := strings.ToLower(title)
	for _, marker := range antiScrapeMarkers {
		if strings.Contains(lowTitle, marker) || strings.Contains(head, marker) {
			return true
		}
	}
	return false
}
