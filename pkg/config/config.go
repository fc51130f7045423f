// Package config loads the server configuration from an optional YAML
// file with environment-variable overrides. A .env file in the working
// directory is folded into the environment first, so local development
// needs no shell exports.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config is the full server configuration.
type Config struct {
	Server    Server    `yaml:"server"`
	DashScope DashScope `yaml:"dashscope"`
	Redis     Redis     `yaml:"redis"`
	Qdrant    Qdrant    `yaml:"qdrant"`
	Tavily    Tavily    `yaml:"tavily"`
	Memory    Memory    `yaml:"memory"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr string `yaml:"addr"`
}

// DashScope configures the LLM and embedding clients.
type DashScope struct {
	APIKey         string `yaml:"api_key"`
	ChatModel      string `yaml:"chat_model"`
	EmbedModel     string `yaml:"embed_model"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-call LLM deadline.
func (d DashScope) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// Redis configures the key/value store.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Qdrant configures the vector store.
type Qdrant struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// Tavily configures web search. An empty key disables the search
// intent gracefully.
type Tavily struct {
	APIKey string `yaml:"api_key"`
}

// Memory configures the two memory tiers and the compression pool.
type Memory struct {
	ShortTermEnabled         bool    `yaml:"short_term_enabled"`
	LongTermEnabled          bool    `yaml:"long_term_enabled"`
	MinImportanceScore       float64 `yaml:"min_importance_score"`
	MaxTokens                int     `yaml:"max_tokens"`
	WarningTokens            int     `yaml:"warning_tokens"`
	CompressionMaxConcurrent int     `yaml:"compression_max_concurrent"`
	CompressionQueueSize     int     `yaml:"compression_queue_size"`
	ConversationTTLSeconds   int     `yaml:"conversation_ttl_seconds"`
	SummaryTTLSeconds        int     `yaml:"summary_ttl_seconds"`
}

// ConversationTTL returns the turn-list TTL.
func (m Memory) ConversationTTL() time.Duration {
	return time.Duration(m.ConversationTTLSeconds) * time.Second
}

// SummaryTTL returns the layer-summary TTL.
func (m Memory) SummaryTTL() time.Duration {
	return time.Duration(m.SummaryTTLSeconds) * time.Second
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: Server{Addr: ":8080"},
		DashScope: DashScope{
			ChatModel:      "qwen-plus",
			TimeoutSeconds: 60,
		},
		Redis:  Redis{Addr: "localhost:6379"},
		Qdrant: Qdrant{Host: "localhost", Port: 6334},
		Memory: Memory{
			ShortTermEnabled:         true,
			LongTermEnabled:          true,
			MinImportanceScore:       0.6,
			MaxTokens:                3000,
			WarningTokens:            2500,
			CompressionMaxConcurrent: 3,
			CompressionQueueSize:     100,
			ConversationTTLSeconds:   7 * 24 * 3600,
			SummaryTTLSeconds:        30 * 24 * 3600,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file (if path
// is non-empty), then environment variables. A .env file is loaded
// into the environment first when present.
func Load(path string) (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "SERVER_ADDR")

	setString(&c.DashScope.APIKey, "DASHSCOPE_API_KEY")
	setString(&c.DashScope.ChatModel, "DASHSCOPE_CHAT_MODEL")
	setString(&c.DashScope.EmbedModel, "DASHSCOPE_EMBED_MODEL")
	setString(&c.DashScope.BaseURL, "DASHSCOPE_BASE_URL")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.Qdrant.Host, "QDRANT_HOST")
	setString(&c.Qdrant.APIKey, "QDRANT_API_KEY")
	setString(&c.Tavily.APIKey, "TAVILY_API_KEY")

	var err error
	setInt(&c.DashScope.TimeoutSeconds, "QWEN_TIMEOUT_SECONDS", &err)
	setInt(&c.Redis.DB, "REDIS_DB", &err)
	setInt(&c.Qdrant.Port, "QDRANT_PORT", &err)
	setInt(&c.Memory.MaxTokens, "MEMORY_MAX_TOKENS", &err)
	setInt(&c.Memory.WarningTokens, "MEMORY_WARNING_TOKENS", &err)
	setInt(&c.Memory.CompressionMaxConcurrent, "COMPRESSION_MAX_CONCURRENT", &err)
	setInt(&c.Memory.CompressionQueueSize, "COMPRESSION_QUEUE_SIZE", &err)
	setInt(&c.Memory.ConversationTTLSeconds, "CONVERSATION_TTL_SECONDS", &err)
	setInt(&c.Memory.SummaryTTLSeconds, "SUMMARY_TTL_SECONDS", &err)
	setBool(&c.Memory.ShortTermEnabled, "SHORT_TERM_MEMORY_ENABLED", &err)
	setBool(&c.Memory.LongTermEnabled, "LONG_TERM_MEMORY_ENABLED", &err)
	setBool(&c.Qdrant.UseTLS, "QDRANT_USE_TLS", &err)
	setFloat(&c.Memory.MinImportanceScore, "LTM_MIN_IMPORTANCE_SCORE", &err)
	return err
}

// Validate checks the fields without which the server cannot start.
func (c *Config) Validate() error {
	if c.DashScope.APIKey == "" {
		return fmt.Errorf("config: DASHSCOPE_API_KEY is required")
	}
	if c.Memory.WarningTokens > c.Memory.MaxTokens {
		return fmt.Errorf("config: MEMORY_WARNING_TOKENS (%d) exceeds MEMORY_MAX_TOKENS (%d)",
			c.Memory.WarningTokens, c.Memory.MaxTokens)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string, errOut *error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" || *errOut != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errOut = fmt.Errorf("config: %s: %w", key, err)
		return
	}
	*dst = n
}

func setFloat(dst *float64, key string, errOut *error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" || *errOut != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errOut = fmt.Errorf("config: %s: %w", key, err)
		return
	}
	*dst = f
}

func setBool(dst *bool, key string, errOut *error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" || *errOut != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errOut = fmt.Errorf("config: %s: %w", key, err)
		return
	}
	*dst = b
}
