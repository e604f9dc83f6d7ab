package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rfvault/rfvault/pkg/retention"
	"github.com/rfvault/rfvault/pkg/storage"
	"github.com/rfvault/rfvault/pkg/store"
)

// reconcileGrace separates the two one-shot reconciliation passes.
const reconcileGrace = 30 * time.Second

var sweepReconcile bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention sweep and exit",
	Long: `Purge every run past its project's retention window, then optionally
reconcile orphaned storage objects. Useful from cron or for manual
cleanup when the background sweeper is disabled.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepReconcile, "reconcile", false,
		"also remove orphaned storage objects")

	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Store stop error")
		}
	}()

	backend, err := storage.New(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("initializing storage backend: %w", err)
	}

	engine := retention.NewEngine(log, st, backend)

	purged, err := engine.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sweeping expired runs: %w", err)
	}

	log.WithField("purged_runs", purged).Info("Retention sweep completed")

	if sweepReconcile {
		// The engine only deletes objects seen unreferenced by two
		// consecutive passes, so a one-shot sweep runs both, with a
		// pause in between long enough for an in-flight upload to
		// commit its file row.
		if _, err := engine.Reconcile(ctx); err != nil {
			return fmt.Errorf("reconciling storage: %w", err)
		}

		time.Sleep(reconcileGrace)

		removed, err := engine.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("reconciling storage: %w", err)
		}

		log.WithField("orphans_removed", removed).
			Info("Orphan reconciliation completed")
	}

	return nil
}
