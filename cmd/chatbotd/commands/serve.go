package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LiuHarry1/general-chatbot/pkg/chat"
	"github.com/LiuHarry1/general-chatbot/pkg/config"
	"github.com/LiuHarry1/general-chatbot/pkg/embed"
	"github.com/LiuHarry1/general-chatbot/pkg/intent"
	"github.com/LiuHarry1/general-chatbot/pkg/kv"
	"github.com/LiuHarry1/general-chatbot/pkg/memory"
	"github.com/LiuHarry1/general-chatbot/pkg/qwen"
	"github.com/LiuHarry1/general-chatbot/pkg/vecstore"
	"github.com/LiuHarry1/general-chatbot/pkg/webfetch"
	"github.com/LiuHarry1/general-chatbot/pkg/websearch"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "HTTP listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.Server.Addr = flagAddr
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Upstream clients.
	llmOpts := []qwen.Option{qwen.WithTimeout(cfg.DashScope.Timeout())}
	if cfg.DashScope.ChatModel != "" {
		llmOpts = append(llmOpts, qwen.WithModel(cfg.DashScope.ChatModel))
	}
	if cfg.DashScope.BaseURL != "" {
		llmOpts = append(llmOpts, qwen.WithBaseURL(cfg.DashScope.BaseURL))
	}
	llm := qwen.NewClient(cfg.DashScope.APIKey, llmOpts...)

	kvStore := kv.NewRedis(kv.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer kvStore.Close()
	if err := kvStore.Ping(ctx); err != nil {
		logger.Warn("redis unreachable at startup, memory will degrade", "err", err)
	}

	// Memory tiers.
	scorer := memory.NewScorer()
	scorer.Threshold = cfg.Memory.MinImportanceScore
	profiles := memory.NewProfileService(kvStore, llm, logger)

	pool := memory.NewPool(kvStore, nil, memory.NewSummarizer(llm), memory.PoolConfig{
		MaxConcurrent: cfg.Memory.CompressionMaxConcurrent,
		QueueSize:     cfg.Memory.CompressionQueueSize,
	}, logger)
	pool.SetTTLs(cfg.Memory.SummaryTTL(), cfg.Memory.ConversationTTL())
	pool.Start()
	defer pool.Close(shutdownTimeout)

	shortTerm := memory.NewShortTerm(kvStore, nil, pool, memory.ShortTermConfig{
		ConversationTTL: cfg.Memory.ConversationTTL(),
		SummaryTTL:      cfg.Memory.SummaryTTL(),
		MaxTokens:       cfg.Memory.MaxTokens,
		WarningTokens:   cfg.Memory.WarningTokens,
	}, logger)

	var longTerm *memory.LongTerm
	if cfg.Memory.LongTermEnabled {
		vectors, err := vecstore.NewQdrant(vecstore.QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.UseTLS,
		})
		if err != nil {
			return fmt.Errorf("connect qdrant: %w", err)
		}
		defer vectors.Close()

		var embedOpts []embed.Option
		if cfg.DashScope.EmbedModel != "" {
			embedOpts = append(embedOpts, embed.WithModel(cfg.DashScope.EmbedModel))
		}
		embedder := embed.NewDashScope(cfg.DashScope.APIKey, embedOpts...)

		longTerm = memory.NewLongTerm(vectors, embedder, scorer, profiles, logger)
		if err := longTerm.Init(ctx); err != nil {
			return fmt.Errorf("init long-term memory: %w", err)
		}
	}

	mgr := memory.NewManager(shortTerm, longTerm, profiles, kvStore, memory.ManagerConfig{
		ShortTermEnabled: cfg.Memory.ShortTermEnabled,
		LongTermEnabled:  cfg.Memory.LongTermEnabled,
	}, logger)

	// Intent pipeline.
	searcher := websearch.New(cfg.Tavily.APIKey)
	if !searcher.Configured() {
		logger.Info("tavily key not set, search intent will degrade to normal")
	}
	classifier := intent.NewClassifier(llm, webfetch.New(), searcher, logger)

	svc := chat.NewService(llm, classifier, mgr, nil, nil, logger)
	defer svc.Close(shutdownTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", handleChat(svc, logger))
	mux.HandleFunc("GET /healthz", handleHealth(mgr))
	mux.HandleFunc("GET /api/memory/insights/{user}", handleInsights(mgr))
	mux.HandleFunc("GET /api/memory/stats/{user}/{conversation}", handleMemoryStats(mgr))
	mux.HandleFunc("DELETE /api/memory/profile/{user}", handleClearUser(mgr, logger))

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
		// No WriteTimeout: responses are long-lived SSE streams.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "err", err)
	}
	return nil
}

func handleChat(svc *chat.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chat.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		// Reject before the SSE stream is opened; once streaming starts
		// the status code is already committed.
		if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
			http.Error(w, "message is required", http.StatusBadRequest)
			return
		}
		logger.Debug("chat request", "user", req.UserID, "conversation", req.ConversationID)
		svc.Respond(r.Context(), req, chat.NewEventWriter(w))
	}
}

func handleInsights(mgr *memory.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		insights, err := mgr.UserInsights(r.Context(), r.PathValue("user"))
		writeMaintenanceResult(w, insights, err)
	}
}

func handleMemoryStats(mgr *memory.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := mgr.ConversationStats(r.Context(), r.PathValue("user"), r.PathValue("conversation"))
		writeMaintenanceResult(w, stats, err)
	}
}

func handleClearUser(mgr *memory.Manager, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.PathValue("user")
		if err := mgr.ClearUserData(r.Context(), user); err != nil {
			writeMaintenanceResult(w, nil, err)
			return
		}
		logger.Info("user data cleared", "user", user)
		writeMaintenanceResult(w, map[string]string{"status": "cleared", "user_id": user}, nil)
	}
}

func writeMaintenanceResult(w http.ResponseWriter, v any, err error) {
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, memory.ErrTierDisabled) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func handleHealth(mgr *memory.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		status := mgr.Health(ctx)
		code := http.StatusOK
		for _, v := range status {
			if v != "ok" {
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}
}
