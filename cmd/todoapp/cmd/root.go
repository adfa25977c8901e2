package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "todoapp",
	Short: "Authentication and security core for the todo application",
	Long: `The authentication and security core of the todo application:
signing-key rotation, session and one-time tokens, MFA, audit logging,
anomaly detection, and the SIEM dashboard.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
