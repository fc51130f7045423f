package embed_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/LiuHarry1/general-chatbot/pkg/embed"
)

// embedServer fakes the OpenAI-compatible embedding endpoint. It echoes
// one vector per input, sized by the requested dimensions field, and
// counts upstream calls.
type embedServer struct {
	srv   *httptest.Server
	calls atomic.Int64
}

func newEmbedServer(t *testing.T) *embedServer {
	t.Helper()
	es := &embedServer{}
	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		es.calls.Add(1)

		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			vec := make([]float64, req.Dimensions)
			for j := range vec {
				vec[j] = float64(i + 1)
			}
			// Reverse order, so clients that ignore the index field
			// misattribute vectors.
			data[len(req.Input)-1-i] = item{Object: "embedding", Index: i, Embedding: vec}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test-model",
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(es.srv.Close)
	return es
}

func TestEmbedSingle(t *testing.T) {
	es := newEmbedServer(t)
	e := embed.NewDashScope("test-key", embed.WithBaseURL(es.srv.URL), embed.WithDimension(8))

	vec, err := e.Embed(context.Background(), "你好")
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 8 {
		t.Fatalf("vector length %d, want 8", len(vec))
	}
}

func TestEmbedBatchOrderAndSplit(t *testing.T) {
	es := newEmbedServer(t)
	e := embed.NewDashScope("test-key", embed.WithBaseURL(es.srv.URL), embed.WithDimension(2))

	texts := make([]string, 25)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 25 {
		t.Fatalf("got %d vectors, want 25", len(vecs))
	}
	// 25 inputs at 10 per upstream call.
	if got := es.calls.Load(); got != 3 {
		t.Fatalf("upstream calls = %d, want 3", got)
	}
	// The fake returns items out of order; position i carries value i+1
	// only when the index field is honored. Batch 2 starts over at 1.
	if vecs[0][0] != 1 || vecs[9][0] != 10 || vecs[10][0] != 1 {
		t.Fatalf("batch order lost: %v %v %v", vecs[0][0], vecs[9][0], vecs[10][0])
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	es := newEmbedServer(t)
	e := embed.NewDashScope("test-key", embed.WithBaseURL(es.srv.URL))

	if _, err := e.Embed(context.Background(), ""); !errors.Is(err, embed.ErrEmptyInput) {
		t.Fatalf("Embed(\"\") err = %v, want ErrEmptyInput", err)
	}
	if _, err := e.EmbedBatch(context.Background(), nil); !errors.Is(err, embed.ErrEmptyInput) {
		t.Fatalf("EmbedBatch(nil) err = %v, want ErrEmptyInput", err)
	}
	if got := es.calls.Load(); got != 0 {
		t.Fatalf("empty input reached upstream %d times", got)
	}
}

func TestDefaults(t *testing.T) {
	e := embed.NewDashScope("test-key")
	if e.Dimension() != 1536 {
		t.Fatalf("default dimension = %d, want 1536", e.Dimension())
	}
	if e.Model() != embed.DefaultModel {
		t.Fatalf("default model = %q", e.Model())
	}
}
