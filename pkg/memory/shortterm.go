package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LiuHarry1/general-chatbot/pkg/kv"
)

// Short-term defaults.
const (
	DefaultMaxTurns        = 100
	DefaultConversationTTL = 7 * 24 * time.Hour
	DefaultSummaryTTL      = 30 * 24 * time.Hour
	DefaultMaxTokens       = 3000
	DefaultWarningTokens   = 2500
)

// ShortTermConfig bounds the working set.
type ShortTermConfig struct {
	MaxTurns        int           // turn list cap, default 100
	ConversationTTL time.Duration // default 7d
	SummaryTTL      time.Duration // default 30d
	MaxTokens       int           // high-priority compression trigger, default 3000
	WarningTokens   int           // normal-priority trigger, default 2500
}

func (c ShortTermConfig) withDefaults() ShortTermConfig {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.ConversationTTL <= 0 {
		c.ConversationTTL = DefaultConversationTTL
	}
	if c.SummaryTTL <= 0 {
		c.SummaryTTL = DefaultSummaryTTL
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.WarningTokens <= 0 {
		c.WarningTokens = DefaultWarningTokens
	}
	return c
}

// Enqueuer accepts compression jobs. *Pool satisfies it.
type Enqueuer interface {
	Enqueue(userID, conversationID string, priority Priority) bool
}

// ShortTerm maintains the per-conversation working set: the turn list
// plus its layered summaries.
type ShortTerm struct {
	store   kv.Store
	history HistoryStore
	pool    Enqueuer
	cfg     ShortTermConfig
	log     *slog.Logger

	now func() time.Time
}

// NewShortTerm creates the short-term memory layer. history may be a
// NopHistory; pool may be nil to disable compression scheduling.
func NewShortTerm(store kv.Store, history HistoryStore, pool Enqueuer, cfg ShortTermConfig, log *slog.Logger) *ShortTerm {
	if log == nil {
		log = slog.Default()
	}
	if history == nil {
		history = NopHistory{}
	}
	return &ShortTerm{
		store:   store,
		history: history,
		pool:    pool,
		cfg:     cfg.withDefaults(),
		log:     log,
		now:     time.Now,
	}
}

// GetRecentContext returns the rendered working set for a conversation:
// layer summaries first, then the recent turns. If the KV list is empty
// it hydrates from the persistent conversation store and writes the
// turns back for next time.
func (st *ShortTerm) GetRecentContext(ctx context.Context, userID, conversationID string, limit int) (*ContextResult, error) {
	if limit <= 0 {
		limit = 10
	}

	turns, err := st.loadTurns(ctx, userID, conversationID, limit)
	if err != nil {
		st.log.Warn("short-term read failed", "user", userID, "conv", conversationID, "err", err)
		return &ContextResult{Source: SourceEmpty}, nil
	}
	source := SourceRedis

	if len(turns) == 0 {
		turns, err = st.hydrate(ctx, userID, conversationID, limit)
		if err != nil || len(turns) == 0 {
			return &ContextResult{Source: SourceEmpty}, nil
		}
		source = SourceDatabaseToRedis
	}

	summaries := st.loadSummaries(ctx, userID, conversationID)
	if len(summaries) > 0 && source == SourceRedis {
		source = SourceRedisCompressed
	}

	turns = dedupTurns(turns)

	var b strings.Builder
	for _, level := range []Level{L3, L2, L1} {
		if s, ok := summaries[level]; ok {
			fmt.Fprintf(&b, "[%s摘要] %s\n", level, s)
		}
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString("最近对话:\n")
	b.WriteString(renderTurns(turns))

	return &ContextResult{
		ContextText: b.String(),
		Source:      source,
		RecentTurns: len(turns),
		Compressed:  len(summaries) > 0,
		Turns:       turns,
	}, nil
}

// SmartStore appends a turn and schedules compression when the token
// estimate crosses the configured thresholds. The write succeeds
// regardless of compression scheduling (it is asynchronous).
func (st *ShortTerm) SmartStore(ctx context.Context, userID, conversationID, message, response string, metadata map[string]string) error {
	turn := Turn{
		Message:   message,
		Response:  response,
		Timestamp: st.now(),
		Metadata:  metadata,
	}
	entry, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("memory: encode turn: %w", err)
	}

	key := conversationKey(userID, conversationID)
	if err := st.store.LPush(ctx, key, string(entry)); err != nil {
		return fmt.Errorf("memory: store turn: %w", err)
	}
	if err := st.store.LTrim(ctx, key, int64(st.cfg.MaxTurns)); err != nil {
		st.log.Warn("turn list trim failed", "key", key, "err", err)
	}
	if err := st.store.Expire(ctx, key, st.cfg.ConversationTTL); err != nil {
		st.log.Warn("turn list ttl refresh failed", "key", key, "err", err)
	}

	if st.pool == nil {
		return nil
	}
	turns, err := st.loadTurns(ctx, userID, conversationID, st.cfg.MaxTurns)
	if err != nil {
		return nil
	}
	tokens := EstimateTokens(turns)
	switch {
	case tokens >= st.cfg.MaxTokens:
		st.pool.Enqueue(userID, conversationID, PriorityHigh)
	case tokens >= st.cfg.WarningTokens:
		st.pool.Enqueue(userID, conversationID, PriorityNormal)
	}
	return nil
}

// ConversationStats is the working-set report for one conversation.
type ConversationStats struct {
	Turns              int     `json:"turns"`
	TokenEstimate      int     `json:"token_estimate"`
	NeedsCompression   bool    `json:"needs_compression"`
	CompressionUrgency float64 `json:"compression_urgency"`
}

// Stats reports the size of a conversation's working set and how
// urgently it needs compression.
func (st *ShortTerm) Stats(ctx context.Context, userID, conversationID string) (*ConversationStats, error) {
	turns, err := st.loadTurns(ctx, userID, conversationID, st.cfg.MaxTurns)
	if err != nil {
		return nil, fmt.Errorf("memory: load turns: %w", err)
	}
	tokens := EstimateTokens(turns)
	needs, urgency := CompressionPriority(len(turns), tokens, st.cfg.MaxTokens)
	return &ConversationStats{
		Turns:              len(turns),
		TokenEstimate:      tokens,
		NeedsCompression:   needs,
		CompressionUrgency: urgency,
	}, nil
}

// ClearUser removes every key owned by a user. Maintenance only.
func (st *ShortTerm) ClearUser(ctx context.Context, userID string) error {
	for _, pattern := range userKeyPattern(userID) {
		keys := []string{pattern}
		if strings.ContainsAny(pattern, "*?[") {
			var err error
			keys, err = st.store.Keys(ctx, pattern)
			if err != nil {
				return fmt.Errorf("memory: scan %s: %w", pattern, err)
			}
		}
		if err := st.store.Del(ctx, keys...); err != nil {
			return fmt.Errorf("memory: clear %s: %w", pattern, err)
		}
	}
	return nil
}

// loadTurns reads up to limit turns from the KV list, returned in
// chronological order. Undecodable entries are skipped.
func (st *ShortTerm) loadTurns(ctx context.Context, userID, conversationID string, limit int) ([]Turn, error) {
	entries, err := st.store.LRange(ctx, conversationKey(userID, conversationID), int64(limit))
	if err != nil {
		return nil, err
	}
	// LPUSH stores newest first; reverse to chronological.
	turns := make([]Turn, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		var t Turn
		if err := json.Unmarshal([]byte(entries[i]), &t); err != nil {
			st.log.Warn("skipping undecodable turn", "user", userID, "conv", conversationID, "err", err)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// hydrate pulls turns from the persistent store and writes them back
// into the KV list so the next read is served from there.
func (st *ShortTerm) hydrate(ctx context.Context, userID, conversationID string, limit int) ([]Turn, error) {
	turns, err := st.history.RecentTurns(ctx, userID, conversationID, limit)
	if err != nil || len(turns) == 0 {
		return nil, err
	}

	key := conversationKey(userID, conversationID)
	for _, t := range turns { // chronological order, so LPush leaves newest first
		entry, err := json.Marshal(t)
		if err != nil {
			continue
		}
		if err := st.store.LPush(ctx, key, string(entry)); err != nil {
			st.log.Warn("hydration write-back failed", "key", key, "err", err)
			break
		}
	}
	st.store.Expire(ctx, key, st.cfg.ConversationTTL)
	return turns, nil
}

// loadSummaries reads whichever layer summaries exist.
func (st *ShortTerm) loadSummaries(ctx context.Context, userID, conversationID string) map[Level]string {
	out := make(map[Level]string)
	for _, level := range Levels {
		s, err := st.store.Get(ctx, summaryKey(userID, conversationID, level))
		if err == nil && s != "" {
			out[level] = s
		}
	}
	return out
}

// dedupTurns drops repeated (message, response) pairs, keeping the
// first occurrence in chronological order.
func dedupTurns(turns []Turn) []Turn {
	seen := make(map[string]struct{}, len(turns))
	out := turns[:0:0]
	for _, t := range turns {
		k := t.Message + "\x00" + t.Response
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}
