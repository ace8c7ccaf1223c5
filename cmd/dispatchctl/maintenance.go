package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notifyhub/villa-dispatch/internal/config"
	"github.com/notifyhub/villa-dispatch/internal/db"
	"github.com/notifyhub/villa-dispatch/internal/dedup"
	"github.com/notifyhub/villa-dispatch/internal/ratelimiter"
	"github.com/notifyhub/villa-dispatch/internal/worker"
)

func newMigrateCmd(logger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithoutAuth()
			if err != nil {
				return err
			}
			if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
				return err
			}
			logger().Info("database migrations applied", zap.String("path", cfg.MigrationsPath))
			return nil
		},
	}
}

func newSweepCmd(logger func() *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired fingerprints and stale rate windows once",
		Long: `Runs a single sweeper pass against the database. The server sweeps on
SWEEP_INTERVAL already; this is for maintenance windows and cron.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWithoutAuth()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.Connect(ctx, cfg)
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer pool.Close()

			dd, err := dedup.New(dedup.NewPgStore(pool), cfg.DedupTTL)
			if err != nil {
				return err
			}
			recipients := ratelimiter.NewRecipientLimiter(
				ratelimiter.NewPgCounterStore(pool), cfg.RecipientRateLimit, cfg.RecipientRateWindow)

			out := cmd.OutOrStdout()
			return worker.NewSweeper(dd, recipients, cfg.SweepInterval, logger(), func(kind string, n int64) {
				fmt.Fprintf(out, "%s: %d removed\n", kind, n)
			}).Sweep(ctx)
		},
	}
}
