// Package memory implements the tiered conversation memory system:
//
//   - Short-term: a per-conversation working set in the KV store, with
//     hierarchical L1/L2/L3 summaries maintained by a background
//     compression worker pool.
//   - Long-term: importance-scored turns embedded into a vector
//     collection, plus an LLM-extracted user profile.
//   - Façade: [Manager] is the single public surface the chat
//     orchestrator reads context from and writes finished turns to.
//
// Each subsystem is constructed once at process start with its
// dependencies wired explicitly; there are no package-level instances.
package memory

import (
	"context"

	"github.com/LiuHarry1/general-chatbot/pkg/qwen"
)

// LLM is the subset of the generation client the memory layers need.
// *qwen.Client satisfies it; tests substitute a fake.
type LLM interface {
	Generate(ctx context.Context, messages []qwen.Message, params *qwen.Params) (string, error)
}

// HistoryStore is the persistent conversation store collaborator (the
// authoritative view of turns, typically a SQL database upstream of
// this module). The working set lazily hydrates from it when the KV
// list is empty, and compression reads from it before summarizing.
type HistoryStore interface {
	// RecentTurns returns up to limit turns for a conversation in
	// chronological order.
	RecentTurns(ctx context.Context, userID, conversationID string, limit int) ([]Turn, error)
}

// NopHistory is a HistoryStore with no data, for deployments where the
// KV store is the only source of turns.
type NopHistory struct{}

func (NopHistory) RecentTurns(context.Context, string, string, int) ([]Turn, error) {
	return nil, nil
}
