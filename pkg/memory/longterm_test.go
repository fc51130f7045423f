package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/LiuHarry1/general-chatbot/pkg/vecstore"
)

func newLongTerm(t *testing.T) (*LongTerm, *vecstore.Memory) {
	t.Helper()
	vec := vecstore.NewMemory()
	lt := NewLongTerm(vec, &fakeEmbedder{}, nightScorer(), nil, discardLogger())
	if err := lt.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return lt, vec
}

// importantMessage clears the storage threshold: personal claims, high
// keywords, and a search intent.
const importantMessage = "我叫张三，我住在北京，我的职业是工程师。这个决定非常重要、关键，必须尽快处理，紧急且优先。"

func TestProcessForStorageBelowThreshold(t *testing.T) {
	lt, _ := newLongTerm(t)

	res, err := lt.ProcessForStorage(context.Background(), "u1", "c1", "你好", "你好！", "greeting", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Stored {
		t.Fatalf("greeting stored with score %v", res.ImportanceScore)
	}
	if !strings.Contains(res.Reason, "below threshold") {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestProcessForStorageAndRecall(t *testing.T) {
	ctx := context.Background()
	lt, _ := newLongTerm(t)

	resp := strings.Repeat("这是一个详细的回答。", 60)
	res, err := lt.ProcessForStorage(ctx, "u1", "c1", importantMessage, resp, "search", []string{"https://example.com"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Stored || res.MemoryID == "" {
		t.Fatalf("important turn not stored: %+v", res)
	}
	if res.ImportanceScore < 0.6 || res.ImportanceScore > 1 {
		t.Fatalf("score %v out of range", res.ImportanceScore)
	}

	entries, err := lt.SearchRelevant(ctx, "u1", "张三是做什么的", 5, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if !strings.HasPrefix(e.Content, "问题：") || !strings.Contains(e.Content, "回答：") {
		t.Fatalf("unexpected content format: %q", e.Content)
	}
	if e.Intent != "search" || len(e.Sources) != 1 {
		t.Fatalf("payload lost fields: %+v", e)
	}
	if e.CompositeScore <= 0 || e.CompositeScore > 1 {
		t.Fatalf("composite score %v out of range", e.CompositeScore)
	}
}

func TestSearchRelevantFiltersByUser(t *testing.T) {
	ctx := context.Background()
	lt, _ := newLongTerm(t)

	resp := strings.Repeat("这是一个详细的回答。", 60)
	if _, err := lt.ProcessForStorage(ctx, "u1", "c1", importantMessage, resp, "search", nil, nil); err != nil {
		t.Fatal(err)
	}

	entries, err := lt.SearchRelevant(ctx, "u2", "张三", 5, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatal("recall leaked another user's memories")
	}
}

func TestSearchRelevantRankingAndDedup(t *testing.T) {
	ctx := context.Background()
	lt, vec := newLongTerm(t)
	emb := &fakeEmbedder{}

	now := time.Now()
	upsert := func(id, content string, importance float64, created time.Time) {
		t.Helper()
		err := vec.Upsert(ctx, SemanticCollection, id, emb.vector(), map[string]any{
			"user_id":          "u1",
			"content":          content,
			"importance_score": importance,
			"created_at":       created.Format(time.RFC3339),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	upsert("m1", "问题：旧记忆\n回答：内容", 0.6, now.AddDate(0, 0, -300))
	upsert("m2", "问题：新记忆\n回答：内容", 0.9, now)
	upsert("m3", "问题：新记忆\n回答：内容", 0.9, now) // duplicate content

	entries, err := lt.SearchRelevant(ctx, "u1", "记忆", 5, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 after dedup", len(entries))
	}
	if entries[0].ImportanceScore != 0.9 {
		t.Fatal("recent high-importance memory should rank first")
	}
	if entries[0].CompositeScore <= entries[1].CompositeScore {
		t.Fatal("composite scores not descending")
	}
}

func TestSearchRelevantMinImportance(t *testing.T) {
	ctx := context.Background()
	lt, vec := newLongTerm(t)
	emb := &fakeEmbedder{}

	err := vec.Upsert(ctx, SemanticCollection, "m1", emb.vector(), map[string]any{
		"user_id":          "u1",
		"content":          "问题：小事\n回答：内容",
		"importance_score": 0.3,
		"created_at":       time.Now().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := lt.SearchRelevant(ctx, "u1", "小事", 5, 0.5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatal("entry below the importance floor returned")
	}
}

func TestFormatRecall(t *testing.T) {
	entries := []MemoryEntry{
		{Content: "问题：第一条\n回答：内容", ImportanceScore: 0.8},
		{Content: strings.Repeat("长", 120), ImportanceScore: 0.7},
		{Content: "第三条", ImportanceScore: 0.65},
		{Content: "第四条", ImportanceScore: 0.6},
	}
	out := FormatRecall(entries, 3)

	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if !strings.HasPrefix(lines[0], "[重要性: 0.80] 问题：第一条 回答：内容") {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "…") || strings.Contains(lines[1], strings.Repeat("长", 101)) {
		t.Fatalf("long content not truncated: %q", lines[1])
	}

	if FormatRecall(nil, 3) != "" {
		t.Fatal("empty recall should format to an empty string")
	}
}
