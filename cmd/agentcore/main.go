// Package main is the CLI entry point for the agent core.
//
// The agent core runs permission-gated, tool-calling conversations against
// a streaming model backend.
//
// # Basic Usage
//
// Start an interactive chat:
//
//	agentcore chat --config agentcore.yaml --role teacher
//
// Send a single message:
//
//	agentcore chat --role admin "show me this month's activity statistics"
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentcore",
		Short:        "Permission-gated LLM agent loop",
		Long:         "agentcore runs tool-calling conversations against a streaming model backend,\nwith role-based permission checks, audited denials, and live progress reporting.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
	)
	return rootCmd
}

func buildChatCmd() *cobra.Command {
	var (
		configPath string
		role       string
		userID     string
		convID     string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the agent",
		Long: `Run a turn loop for one message, or start an interactive session when no
message is given. Progress and tool step events stream to stderr; the final
response prints to stdout.`,
		Example: `  # One-shot
  agentcore chat --role admin "create a notification for tomorrow's field trip"

  # Interactive
  agentcore chat --role teacher`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}
			var message string
			if len(args) > 0 {
				message = args[0]
			}
			return runChat(cmd.Context(), chatOptions{
				configPath:     configPath,
				role:           role,
				userID:         userID,
				conversationID: convID,
				message:        message,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&role, "role", "parent", "Caller role (admin, principal, teacher, parent)")
	cmd.Flags().StringVar(&userID, "user", "local", "Caller user id")
	cmd.Flags().StringVar(&convID, "conversation", "", "Conversation id to continue")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}
