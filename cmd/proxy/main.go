package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/itshen/AI-message-hook/internal/config"
)

// For testing
var (
	osExit = os.Exit
)

// newRootCmd assembles the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "message-hook",
		Short:         "Credential-substituting forwarding proxy for chat completion APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("manage-api-base-url",
		config.EnvOrDefault("MANAGE_API_BASE_URL", "http://localhost:8080"), "Base URL for the management API")

	root.AddCommand(newServerCmd())
	root.AddCommand(newPolicyCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newChatCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}
