package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"temuan/internal/router"
)

// routerOptions builds the request options shared by commands.
func routerOptions(session, user, thinking string) router.Options {
	return router.Options{
		SessionID:    session,
		UserID:       user,
		ThinkingMode: thinking,
	}
}

// cleanupCmd runs one expired-mapping sweep. A scheduler (cron, Cloud
// Scheduler) invokes this daily in production.
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired pseudonym mappings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		n, err := a.pseudo.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		logger.Info("expired mappings deleted", zap.Int64("count", n))
		return nil
	},
}
