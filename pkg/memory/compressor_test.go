package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/LiuHarry1/general-chatbot/pkg/kv"
)

func newPool(store kv.Store, llm LLM, cfg PoolConfig) *Pool {
	return NewPool(store, nil, NewSummarizer(llm), cfg, discardLogger())
}

func TestEnqueuePriorityOrdering(t *testing.T) {
	p := newPool(kv.NewMemory(), &fakeLLM{}, PoolConfig{QueueSize: 10})

	p.Enqueue("u1", "c1", PriorityNormal)
	p.Enqueue("u1", "c2", PriorityNormal)
	p.Enqueue("u1", "c3", PriorityHigh)

	if p.QueueLen() != 3 {
		t.Fatalf("queue length %d, want 3", p.QueueLen())
	}
	if p.queue[0].ConversationID != "c3" {
		t.Fatalf("head is %q, want the high-priority job", p.queue[0].ConversationID)
	}
}

func TestEnqueueFullHighEvictsNormal(t *testing.T) {
	p := newPool(kv.NewMemory(), &fakeLLM{}, PoolConfig{QueueSize: 2})

	p.Enqueue("u1", "c1", PriorityNormal)
	p.Enqueue("u1", "c2", PriorityNormal)
	if !p.Enqueue("u1", "c3", PriorityHigh) {
		t.Fatal("high-priority job rejected with evictable normal jobs queued")
	}

	if p.QueueLen() != 2 {
		t.Fatalf("queue length %d, want unchanged 2", p.QueueLen())
	}
	if p.queue[0].ConversationID != "c3" {
		t.Fatal("high-priority job should be at the head")
	}
	for _, j := range p.queue {
		if j.ConversationID == "c1" {
			t.Fatal("oldest normal job should have been evicted")
		}
	}
}

func TestEnqueueFullOfHighRejectsHigh(t *testing.T) {
	p := newPool(kv.NewMemory(), &fakeLLM{}, PoolConfig{QueueSize: 2})

	p.Enqueue("u1", "c1", PriorityHigh)
	p.Enqueue("u1", "c2", PriorityHigh)
	if p.Enqueue("u1", "c3", PriorityHigh) {
		t.Fatal("high-priority job accepted into a full all-high queue")
	}
	if p.QueueLen() != 2 {
		t.Fatalf("queue length %d, want 2", p.QueueLen())
	}
}

func TestEnqueueFullNormalEvictsOldest(t *testing.T) {
	p := newPool(kv.NewMemory(), &fakeLLM{}, PoolConfig{QueueSize: 2})

	p.Enqueue("u1", "c1", PriorityNormal)
	p.Enqueue("u1", "c2", PriorityNormal)
	if !p.Enqueue("u1", "c3", PriorityNormal) {
		t.Fatal("normal job should displace the oldest, not be rejected")
	}

	if p.queue[0].ConversationID != "c2" || p.queue[1].ConversationID != "c3" {
		t.Fatalf("unexpected queue order: %q, %q", p.queue[0].ConversationID, p.queue[1].ConversationID)
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	p := newPool(kv.NewMemory(), &fakeLLM{}, PoolConfig{})
	p.Start()
	p.Close(time.Second)

	if p.Enqueue("u1", "c1", PriorityHigh) {
		t.Fatal("closed pool accepted a job")
	}
}

func TestProcessTooFewTurns(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	llm := &fakeLLM{}
	p := newPool(store, llm, PoolConfig{})

	seedTurns(t, store, "u1", "c1", 5)
	p.process(&Job{ID: "j1", UserID: "u1", ConversationID: "c1"})

	if got := llm.recorded(); len(got) != 0 {
		t.Fatal("summarized a conversation below the minimum turn count")
	}
	if entries, _ := store.LRange(ctx, conversationKey("u1", "c1"), 100); len(entries) != 5 {
		t.Fatal("turn list modified by a no-op job")
	}
}

func TestProcessMidSizeConversation(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	llm := &fakeLLM{reply: func(prompt string) (string, error) {
		if strings.Contains(prompt, "（L2层）") {
			return "L2摘要内容", nil
		}
		return "L1摘要内容", nil
	}}
	p := newPool(store, llm, PoolConfig{})

	// 13 turns: keep the last 10, summarize the oldest 3. Three turns
	// are too few for a topic-level summary, so only L2 and L1 appear.
	seedTurns(t, store, "u1", "c1", 13)
	p.process(&Job{ID: "j1", UserID: "u1", ConversationID: "c1"})

	if _, err := store.Get(ctx, summaryKey("u1", "c1", L3)); err != kv.ErrNotFound {
		t.Fatal("L3 summary written for a 3-turn remainder")
	}
	if s, err := store.Get(ctx, summaryKey("u1", "c1", L2)); err != nil || s != "L2摘要内容" {
		t.Fatalf("L2 summary = %q, %v", s, err)
	}
	if s, err := store.Get(ctx, summaryKey("u1", "c1", L1)); err != nil || s != "L1摘要内容" {
		t.Fatalf("L1 summary = %q, %v", s, err)
	}

	// The L1 prompt integrates the L2 summary generated just before it.
	prompts := llm.recorded()
	last := prompts[len(prompts)-1]
	if !strings.Contains(last, "（L1层）") || !strings.Contains(last, "L2摘要内容") {
		t.Fatalf("L1 prompt does not build on the L2 summary:\n%s", last)
	}

	entries, err := store.LRange(ctx, conversationKey("u1", "c1"), 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 10 {
		t.Fatalf("working set has %d turns, want 10", len(entries))
	}
	// Newest-first list: the head is turn 13, the tail is turn 4.
	if !strings.Contains(entries[0], "问题13") || !strings.Contains(entries[9], "问题4") {
		t.Fatalf("unexpected kept window: head=%q tail=%q", entries[0], entries[9])
	}
}

func TestProcessLargeConversationAllLevels(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	llm := &fakeLLM{}
	p := newPool(store, llm, PoolConfig{})

	seedTurns(t, store, "u1", "c1", 20)
	p.process(&Job{ID: "j1", UserID: "u1", ConversationID: "c1"})

	for _, level := range Levels {
		if _, err := store.Get(ctx, summaryKey("u1", "c1", level)); err != nil {
			t.Fatalf("missing %s summary: %v", level, err)
		}
	}
}

func TestSetTTLsAppliesToSummaries(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	p := newPool(store, &fakeLLM{}, PoolConfig{})
	p.SetTTLs(30*time.Millisecond, time.Hour)

	seedTurns(t, store, "u1", "c1", 13)
	p.process(&Job{ID: "j1", UserID: "u1", ConversationID: "c1"})

	if _, err := store.Get(ctx, summaryKey("u1", "c1", L1)); err != nil {
		t.Fatalf("summary not written: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := store.Get(ctx, summaryKey("u1", "c1", L1)); err != kv.ErrNotFound {
		t.Fatalf("summary outlived the configured TTL: %v", err)
	}
	// The turn list carries the separate conversation TTL.
	if entries, _ := store.LRange(ctx, conversationKey("u1", "c1"), 100); len(entries) == 0 {
		t.Fatal("turn list expired with the summary TTL")
	}
}

func TestSetTTLsIgnoresNonPositive(t *testing.T) {
	p := newPool(kv.NewMemory(), &fakeLLM{}, PoolConfig{})
	p.SetTTLs(0, -time.Hour)
	if p.ttl != DefaultSummaryTTL || p.convTTL != DefaultConversationTTL {
		t.Fatalf("defaults overridden: ttl=%v convTTL=%v", p.ttl, p.convTTL)
	}
}

func TestPoolLifecycle(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	p := newPool(store, &fakeLLM{}, PoolConfig{MaxConcurrent: 2, QueueSize: 10})

	seedTurns(t, store, "u1", "c1", 13)
	p.Start()
	defer p.Close(time.Second)

	if !p.Enqueue("u1", "c1", PriorityHigh) {
		t.Fatal("enqueue failed")
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, err := store.Get(ctx, summaryKey("u1", "c1", L1)); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("compression job never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
