package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zapfluxo/zapfluxo/internal/action"
	"github.com/zapfluxo/zapfluxo/internal/audit"
	"github.com/zapfluxo/zapfluxo/internal/config"
	"github.com/zapfluxo/zapfluxo/internal/metrics"
	"github.com/zapfluxo/zapfluxo/internal/pending"
	"github.com/zapfluxo/zapfluxo/internal/storage"
)

var sweepForceChat string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry sweep over pending confirmations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := storage.Open(cfg.Paths.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		auditLog, err := audit.NewLog(db)
		if err != nil {
			return err
		}
		reg := metrics.New()
		runner := &action.Runner{Audit: auditLog, Metrics: reg}
		store, err := pending.NewStore(db, runner, auditLog, reg, cfg.PendingTTL())
		if err != nil {
			return err
		}

		ctx := context.Background()
		if sweepForceChat != "" {
			if err := store.ExpireNow(ctx, sweepForceChat); err != nil {
				return fmt.Errorf("failed to force expiry for %s: %w", sweepForceChat, err)
			}
		}

		removed, err := pending.NewCleaner(store).SweepOnce(ctx, nil)
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Println("nothing to expire")
			return nil
		}
		for _, c := range removed {
			fmt.Printf("expired %s (%s)\n", c.ChatID, c.Action.Type)
		}
		color.Green("%d confirmation(s) expired", len(removed))
		return nil
	},
}

func init() {
	sweepCmd.Flags().StringVar(&sweepForceChat, "force", "", "expire this chat's pending confirmation before sweeping")
}
