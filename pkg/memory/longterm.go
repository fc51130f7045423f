package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/LiuHarry1/general-chatbot/pkg/embed"
	"github.com/LiuHarry1/general-chatbot/pkg/vecstore"
	"github.com/google/uuid"
)

// SemanticCollection is the vector collection holding long-term turns.
const SemanticCollection = "semantic_memory"

// Search tuning.
const (
	minSimilarityScore = 0.7

	// Composite ranking weights.
	weightSimilarity = 0.3
	weightImportance = 0.4
	weightRecency    = 0.3
)

// LongTerm stores important turns as embeddings and recalls them by
// semantic similarity.
type LongTerm struct {
	vectors  vecstore.Store
	embedder embed.Embedder
	scorer   *Scorer
	profiles *ProfileService
	log      *slog.Logger

	now func() time.Time
}

// NewLongTerm creates the long-term memory layer. profiles may be nil
// to skip extraction on store.
func NewLongTerm(vectors vecstore.Store, embedder embed.Embedder, scorer *Scorer, profiles *ProfileService, log *slog.Logger) *LongTerm {
	if log == nil {
		log = slog.Default()
	}
	return &LongTerm{
		vectors:  vectors,
		embedder: embedder,
		scorer:   scorer,
		profiles: profiles,
		log:      log,
		now:      time.Now,
	}
}

// Init ensures the semantic collection exists.
func (lt *LongTerm) Init(ctx context.Context) error {
	if err := lt.vectors.EnsureCollection(ctx, SemanticCollection, lt.embedder.Dimension()); err != nil {
		return fmt.Errorf("memory: ensure collection: %w", err)
	}
	return nil
}

// ProcessForStorage scores a finished turn and stores it if it clears
// the importance threshold. Profile extraction runs best-effort on the
// user message regardless of the storage decision.
func (lt *LongTerm) ProcessForStorage(ctx context.Context, userID, conversationID, message, response, intent string, sources []string, sctx *ScoreContext) (*StoreResult, error) {
	// Short identity statements ("我叫张三") rarely clear the importance
	// threshold but must still land in the profile, so extraction is
	// not gated on it.
	if lt.profiles != nil {
		if _, err := lt.profiles.Extract(ctx, userID, message); err != nil {
			lt.log.Warn("profile extraction failed", "user", userID, "err", err)
		}
	}

	score := lt.scorer.Score(message, response, intent, sctx)
	if !lt.scorer.ShouldStore(score) {
		return &StoreResult{
			Stored:          false,
			ImportanceScore: score,
			Reason:          fmt.Sprintf("importance %.2f below threshold %.2f", score, lt.scorer.Threshold),
		}, nil
	}

	content := fmt.Sprintf("问题：%s\n回答：%s", message, response)
	vector, err := lt.embedder.Embed(ctx, content)
	if err != nil || len(vector) == 0 {
		lt.log.Warn("embedding failed, skipping long-term store", "user", userID, "err", err)
		return &StoreResult{
			Stored:          false,
			ImportanceScore: score,
			Reason:          "embedding unavailable",
		}, nil
	}

	id := uuid.NewString()
	payload := map[string]any{
		"user_id":          userID,
		"conversation_id":  conversationID,
		"content":          content,
		"importance_score": score,
		"intent":           intent,
		"sources":          toAnySlice(sources),
		"created_at":       lt.now().Format(time.RFC3339),
		"memory_type":      "semantic",
	}
	if err := lt.vectors.Upsert(ctx, SemanticCollection, id, vector, payload); err != nil {
		lt.log.Warn("long-term upsert failed", "user", userID, "err", err)
		return &StoreResult{
			Stored:          false,
			ImportanceScore: score,
			Reason:          "vector store unavailable",
		}, nil
	}

	lt.log.Info("stored long-term memory", "user", userID, "id", id, "score", score)
	return &StoreResult{Stored: true, MemoryID: id, ImportanceScore: score}, nil
}

// SearchRelevant recalls memories semantically related to a query,
// ranked by a composite of similarity, importance, and recency. Results
// are always filtered to the user.
func (lt *LongTerm) SearchRelevant(ctx context.Context, userID, query string, limit int, minImportance float64, timeRange *[2]time.Time) ([]MemoryEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	vector, err := lt.embedder.Embed(ctx, query)
	if err != nil || len(vector) == 0 {
		return nil, nil
	}

	// Fetch extra candidates; composite ranking reorders below.
	matches, err := lt.vectors.Search(ctx, SemanticCollection, vector, vecstore.SearchParams{
		Limit:    2 * limit,
		MinScore: minSimilarityScore,
		Must:     map[string]string{"user_id": userID},
	})
	if err != nil {
		lt.log.Warn("long-term search failed", "user", userID, "err", err)
		return nil, nil
	}

	entries := make([]MemoryEntry, 0, len(matches))
	seen := make(map[string]struct{})
	for _, m := range matches {
		e := entryFromMatch(m)
		if e.ImportanceScore < minImportance {
			continue
		}
		if timeRange != nil && (e.CreatedAt.Before(timeRange[0]) || e.CreatedAt.After(timeRange[1])) {
			continue
		}
		// Intent match against the query gives no extra fetch here;
		// the composite score below already surfaces such entries
		// because importance dominates.
		if _, dup := seen[e.Content]; dup {
			continue
		}
		seen[e.Content] = struct{}{}
		e.CompositeScore = lt.composite(e)
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CompositeScore > entries[j].CompositeScore
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// composite blends similarity, importance, and recency, plus a small
// access-frequency bonus when tracked.
func (lt *LongTerm) composite(e MemoryEntry) float64 {
	recency := 0.0
	if !e.CreatedAt.IsZero() {
		ageDays := lt.now().Sub(e.CreatedAt).Hours() / 24
		recency = max(0, 1-ageDays/365)
	}
	score := weightSimilarity*e.Similarity +
		weightImportance*e.ImportanceScore +
		weightRecency*recency
	if e.AccessCount > 0 {
		score += min(0.1, float64(e.AccessCount)*0.01)
	}
	return min(score, 1)
}

// Health reports whether the vector backend is reachable.
func (lt *LongTerm) Health(ctx context.Context) error {
	return lt.vectors.Health(ctx)
}

func entryFromMatch(m vecstore.Match) MemoryEntry {
	e := MemoryEntry{
		ID:         m.ID,
		Similarity: float64(m.Score),
	}
	if s, ok := m.Payload["content"].(string); ok {
		e.Content = s
	}
	if f, ok := m.Payload["importance_score"].(float64); ok {
		e.ImportanceScore = f
	}
	if s, ok := m.Payload["intent"].(string); ok {
		e.Intent = s
	}
	if list, ok := m.Payload["sources"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				e.Sources = append(e.Sources, s)
			}
		}
	}
	if s, ok := m.Payload["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			e.CreatedAt = t
		}
	}
	switch n := m.Payload["access_count"].(type) {
	case float64:
		e.AccessCount = int(n)
	case int64:
		e.AccessCount = int(n)
	}
	return e
}

// FormatRecall renders recall entries as the compressed context lines
// used by the façade: "[重要性: 0.82] <first 100 chars>…".
func FormatRecall(entries []MemoryEntry, maxLines int) string {
	if maxLines <= 0 {
		maxLines = 3
	}
	var lines []string
	for _, e := range entries {
		if len(lines) >= maxLines {
			break
		}
		content := e.Content
		if runes := []rune(content); len(runes) > 100 {
			content = string(runes[:100]) + "…"
		}
		content = strings.ReplaceAll(content, "\n", " ")
		lines = append(lines, fmt.Sprintf("[重要性: %.2f] %s", e.ImportanceScore, content))
	}
	return strings.Join(lines, "\n")
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
