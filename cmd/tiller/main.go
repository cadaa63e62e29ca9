// Package main provides the CLI entry point for Tiller, a multi-provider
// streaming agent runtime.
//
// Tiller drives an LLM (Anthropic, OpenAI, Google, or a local server) through
// an iterative tool-calling loop with loop prevention and automatic history
// compaction.
//
// # Basic Usage
//
// Run a task:
//
//	tiller chat "summarize the files in this directory"
//
// List the available models:
//
//	tiller models
//
// # Environment Variables
//
//   - TILLER_CONFIG: Path to configuration file (default: tiller.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - GEMINI_API_KEY / GOOGLE_API_KEY: Google API key for Gemini models
//   - OLLAMA_HOST: Base URL of the local model server
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tiller",
		Short: "Tiller - multi-provider streaming agent runtime",
		Long: `Tiller drives an LLM through an iterative tool-calling loop:
the model streams its response, requested tools are executed, and results
are fed back until the model signals completion or a guard rail stops it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildModelsCmd(),
		buildVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("TILLER_CONFIG"); env != "" {
		return env
	}
	return "tiller.yaml"
}
