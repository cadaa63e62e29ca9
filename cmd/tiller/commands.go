package main

import (
	"github.com/spf13/cobra"
)

// buildChatCmd creates the "chat" command that runs one agent task.
func buildChatCmd() *cobra.Command {
	var (
		configPath    string
		modelID       string
		system        string
		maxIterations int
		debug         bool
	)

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Run an agent task",
		Long: `Run a single agent task. The model streams its answer, may call the
built-in tools (listDirectory, readFile), and finishes when it signals
completion or a guard rail stops the loop.`,
		Example: `  # Run with the default model
  tiller chat "list the Go files here and summarize the largest one"

  # Pick a model and raise the iteration bound
  tiller chat --model gpt-4o --max-iterations 50 "audit this directory"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), chatOptions{
				configPath:    resolveConfigPath(configPath),
				modelID:       modelID,
				system:        system,
				prompt:        args[0],
				maxIterations: maxIterations,
				debug:         debug,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&modelID, "model", "m", "", "Model to use (default from config or catalog)")
	cmd.Flags().StringVar(&system, "system", "", "System prompt to prepend")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Override the loop iteration bound")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// buildModelsCmd creates the "models" command that lists the catalog.
func buildModelsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(resolveConfigPath(configPath))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	return cmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("tiller %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
