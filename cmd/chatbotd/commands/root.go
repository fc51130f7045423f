// Package commands implements the chatbotd command tree.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chatbotd",
	Short: "Conversational AI server with layered memory",
	Long: `chatbotd - a chat server wrapping a Qwen LLM with layered memory.

The server keeps a Redis-backed short-term working set per conversation
(with L1/L2/L3 incremental summaries maintained by a background pool)
and a Qdrant-backed long-term store of importance-scored turns plus an
extracted user profile. Each request is intent-classified (file, web,
search, code, normal) and answered over SSE.

Configuration comes from environment variables (a .env file is picked
up automatically), optionally layered over a YAML file:

  chatbotd serve
  chatbotd serve --addr :9090 --config /etc/chatbotd/config.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
}
