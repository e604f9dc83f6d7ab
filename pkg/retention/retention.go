// Package retention expires runs past their project's retention window,
// removes their artifacts, and enforces workspace quotas.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rfvault/rfvault/pkg/storage"
	"github.com/rfvault/rfvault/pkg/store"
)

// deleteConcurrency bounds parallel object deletes during a purge.
const deleteConcurrency = 4

// Cutoff returns the creation-time cutoff for the project's retention
// window at the given instant. Runs created strictly before the cutoff
// are expired. The second return is false when retention is disabled
// (retention_days == 0 keeps runs forever).
func Cutoff(p *store.Project, now time.Time) (time.Time, bool) {
	if p.RetentionDays <= 0 {
		return time.Time{}, false
	}

	return now.Add(-time.Duration(p.RetentionDays) * 24 * time.Hour), true
}

// Expired reports whether a run created at createdAt has outlived the
// project's retention window at the given instant.
func Expired(p *store.Project, createdAt, now time.Time) bool {
	cutoff, ok := Cutoff(p, now)
	if !ok {
		return false
	}

	return createdAt.Before(cutoff)
}

// Engine purges expired runs and enforces workspace quotas.
type Engine struct {
	log     logrus.FieldLogger
	store   store.Store
	backend storage.Backend

	// orphanCandidates carries unreferenced object keys seen by the
	// previous reconciliation pass. A key is only deleted once two
	// consecutive passes have seen it unreferenced, so objects written
	// ahead of their file row survive reconciliation.
	orphanCandidates map[string]struct{}
}

// NewEngine creates a retention Engine.
func NewEngine(
	log logrus.FieldLogger,
	st store.Store,
	backend storage.Backend,
) *Engine {
	return &Engine{
		log:              log.WithField("component", "retention"),
		store:            st,
		backend:          backend,
		orphanCandidates: make(map[string]struct{}),
	}
}

// Purge deletes the run's rows and its storage objects. Purging a run
// that no longer exists is a no-op, so concurrent sweeps and
// user-triggered deletes of the same run cannot fail each other.
func (e *Engine) Purge(ctx context.Context, runID string) error {
	paths, err := e.store.DeleteRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("purging run %s: %w", runID, err)
	}

	if err := e.deleteObjects(ctx, paths); err != nil {
		// The rows are gone; leftover objects are unreferenced and
		// will be removed by reconciliation.
		return fmt.Errorf("purging run %s: %w", runID, err)
	}

	return nil
}

func (e *Engine) deleteObjects(ctx context.Context, paths []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)

	for _, path := range paths {
		path := path
		g.Go(func() error {
			return e.backend.Delete(gctx, path)
		})
	}

	return g.Wait()
}

// SweepExpired runs one retention pass: for every project with a
// nonzero retention window, purge the runs already expired at the time
// the pass started. Returns the number of purged runs.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	projects, err := e.store.ProjectsWithRetention(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired runs: %w", err)
	}

	purged := 0

	for i := range projects {
		p := &projects[i]

		cutoff, ok := Cutoff(p, now)
		if !ok {
			continue
		}

		runIDs, err := e.store.RunsCreatedBefore(ctx, p.ID, cutoff)
		if err != nil {
			return purged, fmt.Errorf("sweeping expired runs: %w", err)
		}

		for _, runID := range runIDs {
			if err := e.Purge(ctx, runID); err != nil {
				e.log.WithError(err).
					WithField("run", runID).
					Warn("Failed to purge expired run")

				continue
			}

			purged++
		}
	}

	return purged, nil
}

// Reconcile removes storage objects that no file row references.
// Objects are only deleted after two consecutive passes have seen them
// unreferenced: an upload writes its object before its row, and a
// single-pass check would delete it in that window.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	referenced, err := e.store.ListObjectPaths(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconciling storage: %w", err)
	}

	refSet := make(map[string]struct{}, len(referenced))
	for _, p := range referenced {
		refSet[p] = struct{}{}
	}

	keys, err := e.backend.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("reconciling storage: %w", err)
	}

	next := make(map[string]struct{})
	deleted := 0

	for _, key := range keys {
		if _, ok := refSet[key]; ok {
			continue
		}

		if _, seen := e.orphanCandidates[key]; !seen {
			next[key] = struct{}{}

			continue
		}

		if err := e.backend.Delete(ctx, key); err != nil {
			e.log.WithError(err).
				WithField("key", key).
				Warn("Failed to delete orphaned object")

			next[key] = struct{}{}

			continue
		}

		deleted++
	}

	e.orphanCandidates = next

	return deleted, nil
}

// EnforceStorageLimit rejects an ingestion of incomingBytes when it
// would push the workspace past its storage quota.
func (e *Engine) EnforceStorageLimit(
	ctx context.Context, ws *store.Workspace, incomingBytes int64,
) error {
	used, err := e.store.WorkspaceStorageUsage(ctx, ws.ID)
	if err != nil {
		return fmt.Errorf("enforcing storage limit: %w", err)
	}

	if ws.StorageLimitBytes > 0 && used+incomingBytes > ws.StorageLimitBytes {
		return fmt.Errorf(
			"enforcing storage limit: %w: %d of %d bytes used",
			store.ErrCapacityExceeded, used, ws.StorageLimitBytes,
		)
	}

	return nil
}

// EnforceProjectLimit rejects creating another project when the
// workspace is at its active-projects quota.
func (e *Engine) EnforceProjectLimit(
	ctx context.Context, ws *store.Workspace,
) error {
	count, err := e.store.ActiveProjectCount(ctx, ws.ID)
	if err != nil {
		return fmt.Errorf("enforcing project limit: %w", err)
	}

	if ws.ActiveProjectsLimit > 0 && count >= ws.ActiveProjectsLimit {
		return fmt.Errorf(
			"enforcing project limit: %w: %d of %d projects",
			store.ErrCapacityExceeded, count, ws.ActiveProjectsLimit,
		)
	}

	return nil
}
