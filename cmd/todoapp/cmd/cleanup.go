package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/patrickcsouzadev/todo-app/audit"
	"github.com/patrickcsouzadev/todo-app/config"
	"github.com/patrickcsouzadev/todo-app/keystore"
	"github.com/patrickcsouzadev/todo-app/token"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run the retention sweep",
	Long: `Deletes audit logs and login attempts past retention, resolved
security events past retention, expired one-time tokens, and expired
signing keys. Unresolved security events are kept regardless of age.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		logger := newLogger(cfg)

		ctx := cmd.Context()
		repo, closeRepo, err := openRepository(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		auditLog := audit.NewLogger(repo, logger.With("component", "audit"))
		report, err := auditLog.CleanupOldLogs(ctx, cleanupDays)
		if err != nil {
			return err
		}

		keys := keystore.NewService(repo, logger.With("component", "keystore"))
		keysDeleted, err := keys.CleanupExpired(ctx)
		if err != nil {
			return err
		}

		tokens := token.NewService(keys, repo, logger.With("component", "token"))
		tokensDeleted, err := tokens.CleanupExpired(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("cleanup: %d audit logs, %d login attempts, %d resolved events, %d tokens, %d keys removed\n",
			report.AuditLogsDeleted, report.LoginAttemptsDeleted, report.SecurityEventsDeleted,
			tokensDeleted, keysDeleted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention window in days (default 90)")
}
