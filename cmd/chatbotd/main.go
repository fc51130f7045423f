// Package main is the entry point for the chatbotd server.
//
// Usage:
//
//	chatbotd serve [--addr :8080] [--config config.yaml]
//
// Commands:
//
//	serve      - Run the chat server (SSE endpoint + memory tiers)
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/LiuHarry1/general-chatbot/cmd/chatbotd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
