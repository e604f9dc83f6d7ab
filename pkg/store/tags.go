package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tag validation rules. Keys must start with a letter; values allow a
// slightly wider character set including whitespace and slashes.
var (
	tagKeyPattern   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]{0,49}$`)
	tagValuePattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-/\s]{1,100}$`)
)

// reservedTagKeys collide with run listing query parameters and cannot
// be used as tag keys.
var reservedTagKeys = map[string]struct{}{
	"limit":   {},
	"offset":  {},
	"verdict": {},
}

// ValidateTag checks a tag key and value against the naming rules.
func ValidateTag(key, value string) error {
	if _, reserved := reservedTagKeys[strings.ToLower(key)]; reserved {
		return fmt.Errorf(
			"%w: %q is a reserved tag key", ErrValidation, key,
		)
	}

	if !tagKeyPattern.MatchString(key) {
		return fmt.Errorf(
			"%w: invalid tag key %q: must start with a letter, 1-50 chars of letters, digits, '_', '-', '.'",
			ErrValidation, key,
		)
	}

	if !tagValuePattern.MatchString(value) {
		return fmt.Errorf(
			"%w: invalid tag value %q: 1-100 chars of letters, digits, whitespace, '_', '-', '.', '/'",
			ErrValidation, value,
		)
	}

	return nil
}

// SetTag inserts or updates a tag on a run. Keys are unique per run
// case-insensitively: setting "Env" when "env" exists is a conflict,
// while setting "Env" when "Env" exists updates the value in place.
func (s *store) SetTag(ctx context.Context, runID, key, value string) error {
	if err := ValidateTag(key, value); err != nil {
		return fmt.Errorf("setting tag: %w", err)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the run row so the tag write cannot race a purge of the
		// run.
		var run Run
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&run, "id = ?", runID).Error; err != nil {
			return err
		}

		fold := strings.ToLower(key)

		var existing RunTag

		err := tx.Where("run_id = ? AND key_fold = ?", runID, fold).
			First(&existing).Error

		switch {
		case err == nil && existing.Key == key:
			return tx.Model(&RunTag{}).
				Where("run_id = ? AND key = ?", runID, key).
				Update("value", value).Error
		case err == nil:
			// Same key under a different case. The case-sensitive
			// primary key would admit the insert, so reject here.
			return fmt.Errorf(
				"%w: tag key %q already set as %q", ErrConflict,
				key, existing.Key,
			)
		case errors.Is(err, gorm.ErrRecordNotFound):
			// A concurrent writer can still beat this insert; the fold
			// index turns that race into a duplicated-key error.
			return tx.Create(&RunTag{
				RunID:   runID,
				Key:     key,
				KeyFold: fold,
				Value:   value,
			}).Error
		default:
			return err
		}
	})

	return translate(err, "setting tag")
}

// ListTags returns the run's tags ordered by key.
func (s *store) ListTags(ctx context.Context, runID string) ([]RunTag, error) {
	var tags []RunTag
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("key ASC").
		Find(&tags).Error; err != nil {
		return nil, translate(err, "listing tags")
	}

	return tags, nil
}

// QueryRunsByTag returns the ids of runs carrying an exact (key, value)
// tag, newest first.
func (s *store) QueryRunsByTag(
	ctx context.Context, key, value string,
) ([]string, error) {
	var runIDs []string
	if err := s.db.WithContext(ctx).
		Model(&RunTag{}).
		Joins("JOIN runs ON runs.id = run_tags.run_id").
		Where("run_tags.key = ? AND run_tags.value = ?", key, value).
		Order("runs.created_at DESC").
		Pluck("run_tags.run_id", &runIDs).Error; err != nil {
		return nil, translate(err, "querying runs by tag")
	}

	return runIDs, nil
}

// ProjectTagSummary returns every distinct tag key used in the project
// mapped to its sorted distinct values, plus the pseudo-key "verdict"
// with the lowercased verdicts present.
func (s *store) ProjectTagSummary(
	ctx context.Context, projectID string,
) (map[string][]string, error) {
	type kv struct {
		Key   string
		Value string
	}

	var rows []kv
	if err := s.db.WithContext(ctx).
		Model(&RunTag{}).
		Select("DISTINCT run_tags.key, run_tags.value").
		Joins("JOIN runs ON runs.id = run_tags.run_id").
		Where("runs.project_id = ?", projectID).
		Order("run_tags.key ASC, run_tags.value ASC").
		Scan(&rows).Error; err != nil {
		return nil, translate(err, "summarizing project tags")
	}

	var verdicts []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Distinct("LOWER(verdict)").
		Where("project_id = ? AND verdict <> ''", projectID).
		Order("LOWER(verdict) ASC").
		Pluck("LOWER(verdict)", &verdicts).Error; err != nil {
		return nil, translate(err, "summarizing run verdicts")
	}

	summary := make(map[string][]string, len(rows)+1)
	summary["verdict"] = verdicts

	for _, row := range rows {
		summary[row.Key] = append(summary[row.Key], row.Value)
	}

	return summary, nil
}
