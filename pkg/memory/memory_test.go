package memory

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/LiuHarry1/general-chatbot/pkg/kv"
	"github.com/LiuHarry1/general-chatbot/pkg/qwen"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLLM records prompts and replies via a configurable function.
type fakeLLM struct {
	mu      sync.Mutex
	reply   func(prompt string) (string, error)
	prompts []string
	delay   time.Duration
}

func (f *fakeLLM) Generate(ctx context.Context, messages []qwen.Message, _ *qwen.Params) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	prompt := messages[len(messages)-1].Content
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(prompt)
	}
	return "好的", nil
}

func (f *fakeLLM) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// fakeEmbedder returns the same unit vector for every text, so all
// stored vectors have cosine similarity 1 with every query.
type fakeEmbedder struct {
	dim   int
	delay time.Duration
}

func (f *fakeEmbedder) vector() []float32 {
	dim := f.dim
	if dim <= 0 {
		dim = 4
	}
	v := make([]float32, dim)
	v[0] = 1
	return v
}

func (f *fakeEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.vector(), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int {
	if f.dim <= 0 {
		return 4
	}
	return f.dim
}

// fakeHistory serves canned turns keyed by user and conversation.
type fakeHistory struct {
	turns map[string][]Turn
}

func (f *fakeHistory) RecentTurns(_ context.Context, userID, conversationID string, limit int) ([]Turn, error) {
	turns := f.turns[userID+"/"+conversationID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// fakeEnqueuer records compression scheduling calls.
type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []Priority
}

func (f *fakeEnqueuer) Enqueue(_, _ string, priority Priority) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, priority)
	return true
}

func (f *fakeEnqueuer) recorded() []Priority {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Priority(nil), f.jobs...)
}

// slowStore injects latency into reads to observe fan-out parallelism.
type slowStore struct {
	kv.Store
	delay time.Duration
}

func (s *slowStore) Get(ctx context.Context, key string) (string, error) {
	time.Sleep(s.delay)
	return s.Store.Get(ctx, key)
}

func (s *slowStore) LRange(ctx context.Context, key string, n int64) ([]string, error) {
	time.Sleep(s.delay)
	return s.Store.LRange(ctx, key, n)
}
