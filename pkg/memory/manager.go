package memory

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/LiuHarry1/general-chatbot/pkg/kv"
	"golang.org/x/sync/errgroup"
)

// ManagerConfig carries the per-tier enable flags.
type ManagerConfig struct {
	ShortTermEnabled bool
	LongTermEnabled  bool
}

// TierStatus reports one tier's outcome within a façade call.
type TierStatus struct {
	Enabled bool
	OK      bool
	Err     string
}

// ConversationContext is the façade read result.
type ConversationContext struct {
	FullContext string

	ShortTerm TierStatus
	LongTerm  TierStatus
	Profile   TierStatus

	// ShortTermResult carries the raw short-term read, including turns
	// for intent classification.
	ShortTermResult *ContextResult
}

// ProcessResult is the façade write result.
type ProcessResult struct {
	Success   bool
	ShortTerm TierStatus
	LongTerm  TierStatus
	Stored    *StoreResult
}

// Manager is the unified memory façade: the single surface the chat
// orchestrator reads context from and writes finished turns to. All
// tier calls fan out in parallel and tolerate partial failure.
type Manager struct {
	shortTerm *ShortTerm
	longTerm  *LongTerm
	profiles  *ProfileService
	store     kv.Store
	cfg       ManagerConfig
	log       *slog.Logger
}

// NewManager wires the façade. Any tier may be nil when disabled.
func NewManager(shortTerm *ShortTerm, longTerm *LongTerm, profiles *ProfileService, store kv.Store, cfg ManagerConfig, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		shortTerm: shortTerm,
		longTerm:  longTerm,
		profiles:  profiles,
		store:     store,
		cfg:       cfg,
		log:       log,
	}
}

// GetConversationContext assembles the full prompt context for the
// current message: profile preamble, long-term recall, short-term
// working set. A failed tier contributes nothing but never fails the
// call.
func (m *Manager) GetConversationContext(ctx context.Context, userID, conversationID, currentMessage string, limit int) *ConversationContext {
	out := &ConversationContext{}

	var (
		shortBlock   string
		recallBlock  string
		profileBlock string
	)

	g, gctx := errgroup.WithContext(ctx)

	if m.cfg.ShortTermEnabled && m.shortTerm != nil {
		out.ShortTerm.Enabled = true
		g.Go(func() error {
			res, err := m.shortTerm.GetRecentContext(gctx, userID, conversationID, 10)
			if err != nil {
				out.ShortTerm.Err = err.Error()
				return nil
			}
			out.ShortTerm.OK = true
			out.ShortTermResult = res
			if res.Source != SourceEmpty {
				shortBlock = res.ContextText
			}
			return nil
		})
	}

	if m.cfg.LongTermEnabled && m.longTerm != nil {
		out.LongTerm.Enabled = true
		g.Go(func() error {
			entries, err := m.longTerm.SearchRelevant(gctx, userID, currentMessage, limit, 0, nil)
			if err != nil {
				out.LongTerm.Err = err.Error()
				return nil
			}
			out.LongTerm.OK = true
			recallBlock = FormatRecall(entries, 3)
			return nil
		})
	}

	if m.cfg.LongTermEnabled && m.profiles != nil {
		out.Profile.Enabled = true
		g.Go(func() error {
			profileBlock = m.profiles.BuildContextualPrompt(gctx, userID)
			out.Profile.OK = true
			return nil
		})
	}

	g.Wait() // tier goroutines only record errors, never return them

	var b strings.Builder
	if profileBlock != "" {
		b.WriteString(profileBlock)
	}
	if recallBlock != "" {
		b.WriteString("\n相关历史记忆:\n")
		b.WriteString(recallBlock)
	}
	if shortBlock != "" {
		// The short-term block carries its own 最近对话 header.
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(shortBlock)
	}
	out.FullContext = b.String()
	return out
}

// ProcessConversation records a finished turn in both tiers,
// best-effort and in parallel. Called after the response has been
// streamed to the client.
func (m *Manager) ProcessConversation(ctx context.Context, userID, conversationID, message, response, intent string, sources []string) *ProcessResult {
	out := &ProcessResult{}

	g, gctx := errgroup.WithContext(ctx)

	if m.cfg.ShortTermEnabled && m.shortTerm != nil {
		out.ShortTerm.Enabled = true
		g.Go(func() error {
			meta := map[string]string{"intent": intent}
			if err := m.shortTerm.SmartStore(gctx, userID, conversationID, message, response, meta); err != nil {
				out.ShortTerm.Err = err.Error()
				m.log.Warn("short-term store failed", "user", userID, "err", err)
				return nil
			}
			out.ShortTerm.OK = true
			return nil
		})
	}

	if m.cfg.LongTermEnabled && m.longTerm != nil {
		out.LongTerm.Enabled = true
		g.Go(func() error {
			res, err := m.longTerm.ProcessForStorage(gctx, userID, conversationID, message, response, intent, sources, nil)
			if err != nil {
				out.LongTerm.Err = err.Error()
				m.log.Warn("long-term store failed", "user", userID, "err", err)
				return nil
			}
			out.LongTerm.OK = true
			out.Stored = res
			return nil
		})
	}

	g.Wait()
	out.Success = (!out.ShortTerm.Enabled || out.ShortTerm.OK) &&
		(!out.LongTerm.Enabled || out.LongTerm.OK)
	return out
}

// Health aggregates backend reachability across the tiers.
func (m *Manager) Health(ctx context.Context) map[string]string {
	out := make(map[string]string)
	if m.store != nil {
		if err := m.store.Ping(ctx); err != nil {
			out["kv"] = err.Error()
		} else {
			out["kv"] = "ok"
		}
	}
	if m.longTerm != nil {
		if err := m.longTerm.Health(ctx); err != nil {
			out["vectors"] = err.Error()
		} else {
			out["vectors"] = "ok"
		}
	}
	return out
}

// ErrTierDisabled is returned by maintenance operations when the tier
// they need is not wired.
var ErrTierDisabled = errors.New("memory: tier not enabled")

// UserInsights reports profile completeness metrics for a user.
func (m *Manager) UserInsights(ctx context.Context, userID string) (*Insights, error) {
	if m.profiles == nil {
		return nil, ErrTierDisabled
	}
	return m.profiles.Insights(ctx, userID)
}

// ConversationStats reports the short-term working-set size and
// compression urgency for one conversation.
func (m *Manager) ConversationStats(ctx context.Context, userID, conversationID string) (*ConversationStats, error) {
	if m.shortTerm == nil {
		return nil, ErrTierDisabled
	}
	return m.shortTerm.Stats(ctx, userID, conversationID)
}

// ClearUserData removes the profile, turn lists, and summaries owned
// by a user. Long-term vectors are not touched; the vector backend
// has no per-user scan.
func (m *Manager) ClearUserData(ctx context.Context, userID string) error {
	if m.shortTerm == nil {
		return ErrTierDisabled
	}
	if err := m.shortTerm.ClearUser(ctx, userID); err != nil {
		return err
	}
	m.log.Info("cleared user data", "user", userID)
	return nil
}
