package webfetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const articleHTML = `<!DOCTYPE html>
<html><head><title>Go 并发模型详解</title></head>
<body><article>
<h1>Go 并发模型详解</h1>
<p>%s</p>
</article></body></html>`

func longParagraph() string {
	return strings.Repeat("Goroutines are lightweight threads managed by the Go runtime. ", 20)
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "Mozilla") {
			t.Errorf("User-Agent = %q, want a browser UA", ua)
		}
		fmt.Fprintf(w, articleHTML, longParagraph())
	}))
	defer srv.Close()

	c := New(WithHTTPClient(srv.Client()))
	page, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if page.Title != "Go 并发模型详解" {
		t.Fatalf("title = %q", page.Title)
	}
	if !strings.Contains(page.Content, "Goroutines") {
		t.Fatalf("content missing article body: %q", page.Content)
	}
	if strings.Contains(page.Content, "<p>") {
		t.Fatalf("content still contains HTML: %q", page.Content)
	}
}

func TestFetchAntiScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>安全验证</title></head><body><p>请完成人机验证后继续访问。</p></body></html>`)
	}))
	defer srv.Close()

	c := New(WithHTTPClient(srv.Client()))
	_, err := c.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrAntiScrape) {
		t.Fatalf("got %v, want ErrAntiScrape", err)
	}
}

func TestFetchShortBodyIsAntiScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>ok</title></head><body><p>tiny</p></body></html>`)
	}))
	defer srv.Close()

	c := New(WithHTTPClient(srv.Client()))
	if _, err := c.Fetch(context.Background(), srv.URL); !errors.Is(err, ErrAntiScrape) {
		t.Fatalf("got %v, want ErrAntiScrape for a near-empty body", err)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprintf(w, articleHTML, longParagraph())
	}))
	defer srv.Close()

	c := New(WithHTTPClient(srv.Client()))
	page, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("server saw %d requests, want 3", got)
	}
	if page.Title == "" {
		t.Fatal("empty title after successful retry")
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(WithHTTPClient(srv.Client()), WithMaxRetries(2))
	if _, err := c.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("server saw %d requests, want 2", got)
	}
}

func TestFetchInvalidURL(t *testing.T) {
	c := New()
	for _, bad := range []string{"", "ftp://example.com/x", "not a url", "http://"} {
		if _, err := c.Fetch(context.Background(), bad); err == nil {
			t.Fatalf("Fetch(%q) succeeded, want error", bad)
		}
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	c := New(WithHTTPClient(srv.Client()), WithTimeout(50*time.Millisecond))
	start := time.Now()
	if _, err := c.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("fetch did not respect the timeout")
	}
}
