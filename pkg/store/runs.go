package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rfvault/rfvault/pkg/ids"
)

// RunFilter narrows a run listing. Tag filters are exact key/value
// matches; Verdict matches case-insensitively.
type RunFilter struct {
	Tags    map[string]string
	Verdict string
	Limit   int
	Offset  int
}

// DefaultRunPageSize bounds unpaginated run listings.
const DefaultRunPageSize = 10

// RunResults carries the parsed outcome of a finished run.
type RunResults struct {
	TotalTests      int
	Passed          int
	Failed          int
	Skipped         int
	Verdict         string
	StartTime       *time.Time
	EndTime         *time.Time
	FailedTestNames []string
}

func (s *store) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = ids.New()
	}

	return translate(
		s.db.WithContext(ctx).Create(run).Error,
		"creating run",
	)
}

func (s *store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		First(&run, "id = ?", id).Error; err != nil {
		return nil, translate(err, "getting run")
	}

	return &run, nil
}

// ListRuns returns one page of a project's runs, newest first, along
// with the total count matching the filter.
func (s *store) ListRuns(
	ctx context.Context, projectID string, f RunFilter,
) ([]Run, int64, error) {
	q := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("runs.project_id = ?", projectID)

	for key, value := range f.Tags {
		q = q.Where(
			"runs.id IN (SELECT run_id FROM run_tags WHERE key = ? AND value = ?)",
			key, value,
		)
	}

	if f.Verdict != "" {
		q = q.Where("LOWER(runs.verdict) = LOWER(?)", f.Verdict)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translate(err, "counting runs")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultRunPageSize
	}

	var runs []Run
	if err := q.Order("runs.created_at DESC").
		Limit(limit).
		Offset(f.Offset).
		Find(&runs).Error; err != nil {
		return nil, 0, translate(err, "listing runs")
	}

	return runs, total, nil
}

// UpdateRunResults stores the aggregate counters and verdict. The
// counter sum must match; a mismatch is rejected, never corrected.
func (s *store) UpdateRunResults(
	ctx context.Context, runID string, res *RunResults,
) error {
	if res.TotalTests != res.Passed+res.Failed+res.Skipped {
		return fmt.Errorf(
			"updating run results: %w: total_tests %d != passed %d + failed %d + skipped %d",
			ErrValidation, res.TotalTests, res.Passed, res.Failed, res.Skipped,
		)
	}

	updates := map[string]any{
		"total_tests":       res.TotalTests,
		"passed":            res.Passed,
		"failed":            res.Failed,
		"skipped":           res.Skipped,
		"verdict":           res.Verdict,
		"start_time":        res.StartTime,
		"end_time":          res.EndTime,
		"failed_test_names": datatypes.NewJSONSlice(res.FailedTestNames),
	}

	result := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ?", runID).
		Updates(updates)
	if result.Error != nil {
		return translate(result.Error, "updating run results")
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("updating run results: %w", ErrNotFound)
	}

	return nil
}

// DeleteRun removes the run and its files, tags, and timings in one
// transaction, bottom-up. It returns the storage paths of the deleted
// file rows. Deleting an absent run is ErrNotFound; purge callers treat
// that as already-done.
func (s *store) DeleteRun(ctx context.Context, id string) ([]string, error) {
	var paths []string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SELECT FOR UPDATE on the run row makes the purge mutually
		// exclusive with in-flight mutations of the same run: writers
		// lock the row the same way, so they either finish before the
		// cascade below or find the run already gone.
		var run Run
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&run, "id = ?", id).Error; err != nil {
			return err
		}

		if err := tx.Model(&File{}).
			Where("run_id = ?", id).
			Pluck("path", &paths).Error; err != nil {
			return err
		}

		if err := tx.Where("run_id = ?", id).
			Delete(&ExecutionTiming{}).Error; err != nil {
			return err
		}

		if err := tx.Where("run_id = ?", id).
			Delete(&RunTag{}).Error; err != nil {
			return err
		}

		if err := tx.Where("run_id = ?", id).
			Delete(&File{}).Error; err != nil {
			return err
		}

		return tx.Delete(&Run{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, translate(err, "deleting run")
	}

	return paths, nil
}

// RunsCreatedBefore returns the ids of the project's runs created
// strictly before cutoff. Used by the retention sweep; the query only
// matches runs already expired at call time.
func (s *store) RunsCreatedBefore(
	ctx context.Context, projectID string, cutoff time.Time,
) ([]string, error) {
	var runIDs []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("project_id = ? AND created_at < ?", projectID, cutoff).
		Pluck("id", &runIDs).Error; err != nil {
		return nil, translate(err, "listing expired runs")
	}

	return runIDs, nil
}

// ProjectsWithRetention returns every project with a nonzero retention
// window. Projects with retention_days = 0 keep runs forever.
func (s *store) ProjectsWithRetention(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := s.db.WithContext(ctx).
		Where("retention_days > 0").
		Find(&projects).Error; err != nil {
		return nil, translate(err, "listing projects with retention")
	}

	return projects, nil
}

// --- Files ---

func (s *store) CreateFile(ctx context.Context, f *File) error {
	if f.ID == "" {
		f.ID = ids.New()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the run row so the insert cannot race a purge of the
		// same run: either the purge waits for this commit, or the run
		// is already gone and the insert fails with not-found instead
		// of leaving an orphaned row.
		var run Run
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&run, "id = ?", f.RunID).Error; err != nil {
			return err
		}

		return tx.Create(f).Error
	})

	return translate(err, "creating file")
}

func (s *store) GetFileByName(
	ctx context.Context, runID, name string,
) (*File, error) {
	var f File
	if err := s.db.WithContext(ctx).
		Where("run_id = ? AND name = ?", runID, name).
		First(&f).Error; err != nil {
		return nil, translate(err, "getting file by name")
	}

	return &f, nil
}

func (s *store) ListFiles(ctx context.Context, runID string) ([]File, error) {
	var files []File
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("name ASC").
		Find(&files).Error; err != nil {
		return nil, translate(err, "listing files")
	}

	return files, nil
}

func (s *store) DeleteFile(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&File{}, "id = ?", id)
	if result.Error != nil {
		return translate(result.Error, "deleting file")
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("deleting file: %w", ErrNotFound)
	}

	return nil
}

// ListObjectPaths returns every storage path referenced by a file row.
// The orphan reconciliation sweep diffs this against the objects
// actually present in the backend.
func (s *store) ListObjectPaths(ctx context.Context) ([]string, error) {
	var paths []string
	if err := s.db.WithContext(ctx).
		Model(&File{}).
		Pluck("path", &paths).Error; err != nil {
		return nil, translate(err, "listing object paths")
	}

	return paths, nil
}
