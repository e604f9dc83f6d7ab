// Package artifact coordinates run ingestion: creating runs, attaching
// uploaded artifacts to storage and the database in a consistent order,
// and recording parsed results.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rfvault/rfvault/pkg/ids"
	"github.com/rfvault/rfvault/pkg/retention"
	"github.com/rfvault/rfvault/pkg/storage"
	"github.com/rfvault/rfvault/pkg/store"
)

// Results carries the parsed outcome of a finished run as submitted by
// an uploader.
type Results struct {
	TotalTests      int
	Passed          int
	Failed          int
	Skipped         int
	StartTime       *time.Time
	EndTime         *time.Time
	FailedTestNames []string
	Timings         []store.TimingEntry
}

// Coordinator owns the ingestion path.
type Coordinator struct {
	log     logrus.FieldLogger
	store   store.Store
	backend storage.Backend
	engine  *retention.Engine
}

// NewCoordinator creates an artifact Coordinator.
func NewCoordinator(
	log logrus.FieldLogger,
	st store.Store,
	backend storage.Backend,
	engine *retention.Engine,
) *Coordinator {
	return &Coordinator{
		log:     log.WithField("component", "artifact"),
		store:   st,
		backend: backend,
		engine:  engine,
	}
}

// ComputeVerdict derives a run verdict from its failure count.
func ComputeVerdict(failed int) string {
	if failed > 0 {
		return store.VerdictFail
	}

	return store.VerdictPass
}

// ParseIngestTag splits an uploader-supplied tag of the form
// "key:value". A bare key carries the value "true".
func ParseIngestTag(raw string) (key, value string) {
	key, value, found := strings.Cut(raw, ":")
	if !found {
		return key, "true"
	}

	return key, value
}

// CreateRun starts a run in the project. The owning workspace must not
// be past its expiry date. Tags are uploader-supplied "key:value"
// strings and are validated up front so a bad tag never leaves a
// half-tagged run behind. The run inherits the project's public_access.
func (c *Coordinator) CreateRun(
	ctx context.Context, projectID string, rawTags []string,
) (*store.Run, error) {
	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	ws, err := c.store.GetWorkspace(ctx, project.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	if ws.ExpiresAt != nil && ws.ExpiresAt.Before(time.Now().UTC()) {
		return nil, fmt.Errorf(
			"creating run: %w: workspace subscription expired",
			store.ErrUnauthorized,
		)
	}

	type kv struct{ key, value string }

	parsed := make([]kv, 0, len(rawTags))

	for _, raw := range rawTags {
		key, value := ParseIngestTag(raw)
		if err := store.ValidateTag(key, value); err != nil {
			return nil, fmt.Errorf("creating run: %w", err)
		}

		parsed = append(parsed, kv{key: key, value: value})
	}

	run := &store.Run{
		ProjectID:    project.ID,
		PublicAccess: project.PublicAccess,
	}

	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	for _, tag := range parsed {
		if err := c.store.SetTag(ctx, run.ID, tag.key, tag.value); err != nil {
			return nil, fmt.Errorf("creating run: %w", err)
		}
	}

	c.log.WithFields(logrus.Fields{
		"run":     run.ID,
		"project": project.ID,
		"tags":    len(parsed),
	}).Info("Run created")

	return run, nil
}

// AttachFile stores an uploaded artifact. The object is written before
// the file row: a crash in between leaves an unreferenced object for
// the reconciliation sweep, never a row pointing at missing bytes.
// declaredSize is the caller-announced length used for the quota
// pre-check; the persisted row carries the bytes actually written.
// A duplicate name within the run is a conflict; the loser's object is
// removed.
func (c *Coordinator) AttachFile(
	ctx context.Context, runID, name string, declaredSize int64,
	body io.Reader,
) (*store.File, error) {
	run, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("attaching file: %w", err)
	}

	project, err := c.store.GetProject(ctx, run.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("attaching file: %w", err)
	}

	ws, err := c.store.GetWorkspace(ctx, project.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("attaching file: %w", err)
	}

	if err := c.engine.EnforceStorageLimit(ctx, ws, declaredSize); err != nil {
		return nil, fmt.Errorf("attaching file: %w", err)
	}

	// Friendly rejection before any bytes move.
	if _, err := c.store.GetFileByName(ctx, runID, name); err == nil {
		return nil, fmt.Errorf(
			"attaching file: %w: file %q already exists", store.ErrConflict, name,
		)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("attaching file: %w", err)
	}

	// Each file gets its own object key, so a duplicate-name race can
	// clean up its object without touching the winner's.
	f := &store.File{
		ID:    ids.New(),
		RunID: runID,
		Name:  name,
	}
	f.Path = runID + "/" + f.ID + "/" + name

	if err := storage.ValidateKey(f.Path); err != nil {
		return nil, fmt.Errorf(
			"attaching file: %w: %s", store.ErrValidation, err,
		)
	}

	// The row records the bytes the backend actually wrote, not the
	// caller-declared size, so a truncated upload never inflates usage
	// accounting.
	written, err := c.backend.Put(ctx, f.Path, body)
	if err != nil {
		return nil, fmt.Errorf(
			"attaching file: %w: %s", store.ErrStorageUnavailable, err,
		)
	}

	f.Size = written

	if err := c.store.CreateFile(ctx, f); err != nil {
		if delErr := c.backend.Delete(ctx, f.Path); delErr != nil {
			c.log.WithError(delErr).
				WithField("key", f.Path).
				Warn("Failed to remove orphaned object after conflict")
		}

		return nil, fmt.Errorf("attaching file: %w", err)
	}

	return f, nil
}

// OpenFile opens a stored artifact by name for download.
// Returns store.ErrNotFound when the row exists but the object is gone,
// which should only happen mid-purge.
func (c *Coordinator) OpenFile(
	ctx context.Context, runID, name string,
) (*store.File, io.ReadCloser, error) {
	f, err := c.store.GetFileByName(ctx, runID, name)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}

	rc, _, err := c.backend.Get(ctx, f.Path)
	if err != nil {
		return nil, nil, fmt.Errorf(
			"opening file: %w: %s", store.ErrStorageUnavailable, err,
		)
	}

	if rc == nil {
		return nil, nil, fmt.Errorf("opening file: %w", store.ErrNotFound)
	}

	return f, rc, nil
}

// DeleteRun removes a run on user request. Unlike the sweep, deleting
// an unknown run is reported so the caller can answer not-found.
func (c *Coordinator) DeleteRun(ctx context.Context, runID string) error {
	if _, err := c.store.GetRun(ctx, runID); err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}

	return c.engine.Purge(ctx, runID)
}

// RecordResults stores the run's aggregate counters, the verdict
// derived from them, the failed test names, and any timing entries.
func (c *Coordinator) RecordResults(
	ctx context.Context, runID string, res *Results,
) error {
	update := &store.RunResults{
		TotalTests:      res.TotalTests,
		Passed:          res.Passed,
		Failed:          res.Failed,
		Skipped:         res.Skipped,
		Verdict:         ComputeVerdict(res.Failed),
		StartTime:       res.StartTime,
		EndTime:         res.EndTime,
		FailedTestNames: res.FailedTestNames,
	}

	if err := c.store.UpdateRunResults(ctx, runID, update); err != nil {
		return fmt.Errorf("recording results: %w", err)
	}

	if len(res.Timings) > 0 {
		if err := c.store.RecordTimings(ctx, runID, res.Timings); err != nil {
			return fmt.Errorf("recording results: %w", err)
		}
	}

	return nil
}
