package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/patrickcsouzadev/todo-app/config"
	"github.com/patrickcsouzadev/todo-app/keystore"
)

var rotateForce bool

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Run the scheduled signing-key rotation",
	Long: `Rotates the session signing key when the current one is missing or
within the rotation threshold of expiry, then removes expired keys.
With --force a rotation happens regardless of the current key's age.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		logger := newLogger(cfg)

		ctx := cmd.Context()
		repo, closeRepo, err := openRepository(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		keys := keystore.NewService(repo, logger.With("component", "keystore"))

		if rotateForce {
			key, err := keys.Rotate(ctx)
			if err != nil {
				return err
			}
			deleted, err := keys.CleanupExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("rotated: new key %s, %d expired keys removed\n", key.KeyID, deleted)
			return nil
		}

		report, err := keys.ScheduledRotation(ctx)
		if err != nil {
			return err
		}
		if report.Rotated {
			fmt.Printf("rotated: new key %s, %d expired keys removed\n", report.CurrentKeyID, report.Deleted)
		} else {
			fmt.Printf("no rotation needed: current key %s\n", report.CurrentKeyID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rotateCmd)
	rotateCmd.Flags().BoolVar(&rotateForce, "force", false, "Rotate even if the current key is fresh")
}
