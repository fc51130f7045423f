package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req["api_key"] != "tvly-test" || req["query"] != "北京天气" {
			t.Errorf("unexpected request: %v", req)
		}
		if req["include_answer"] != true || req["search_depth"] != "basic" {
			t.Errorf("unexpected search params: %v", req)
		}
		fmt.Fprint(w, `{
			"query": "北京天气",
			"answer": "今天北京晴，气温20度。",
			"results": [
				{"title": "北京天气预报", "url": "https://weather.example.com/bj", "content": "晴，20度", "score": 0.95}
			]
		}`)
	}))
	defer srv.Close()

	c := New("tvly-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	res, err := c.Search(context.Background(), "北京天气")
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer == "" || len(res.Results) != 1 {
		t.Fatalf("unexpected results: %+v", res)
	}
	if got := res.Sources(); len(got) != 1 || got[0] != "https://weather.example.com/bj" {
		t.Fatalf("sources = %v", got)
	}

	formatted := res.Format()
	for _, want := range []string{"摘要：今天北京晴", "1. 北京天气预报", "来源：https://weather.example.com/bj"} {
		if !strings.Contains(formatted, want) {
			t.Fatalf("formatted output missing %q:\n%s", want, formatted)
		}
	}
}

func TestSearchNotConfigured(t *testing.T) {
	c := New("  ")
	if c.Configured() {
		t.Fatal("blank key reported as configured")
	}
	if _, err := c.Search(context.Background(), "任何查询"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("got %v, want ErrNotConfigured", err)
	}
}

func TestSearchInvalidQuery(t *testing.T) {
	c := New("tvly-test")
	for _, q := range []string{"", " ", "a", strings.Repeat("长", 501)} {
		if _, err := c.Search(context.Background(), q); !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("Search(%q): got %v, want ErrInvalidQuery", q, err)
		}
	}
}

func TestSearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New("tvly-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if _, err := c.Search(context.Background(), "任何查询"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestSearchCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"query":"q","results":[
			{"title":"a","url":"u1"},{"title":"b","url":"u2"},{"title":"c","url":"u3"}
		]}`)
	}))
	defer srv.Close()

	c := New("tvly-test", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithMaxResults(2))
	res, err := c.Search(context.Background(), "任何查询")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("got %d results, want capped at 2", len(res.Results))
	}
}
