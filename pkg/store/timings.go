package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TimingEntry is one element's pre-aggregated timing metrics as parsed
// from a submitted result. The averages and deviations are computed
// upstream from raw samples; the store treats them as opaque.
type TimingEntry struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	TotalTime    float64 `json:"total_time"`
	CallCount    int64   `json:"call_count"`
	AverageTime  float64 `json:"average_time"`
	MedianTime   float64 `json:"median_time"`
	StdDeviation float64 `json:"std_deviation"`
}

// TimingStat is a stored timing row joined back to its element.
type TimingStat struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	TotalTime    float64 `json:"total_time"`
	CallCount    int64   `json:"call_count"`
	AverageTime  float64 `json:"average_time"`
	MedianTime   float64 `json:"median_time"`
	StdDeviation float64 `json:"std_deviation"`
}

func validTimingEntry(e *TimingEntry) error {
	switch e.Type {
	case ElementSuite, ElementTest, ElementKeyword:
	default:
		return fmt.Errorf(
			"%w: unknown element type %q", ErrValidation, e.Type,
		)
	}

	if e.Name == "" {
		return fmt.Errorf("%w: element name is required", ErrValidation)
	}

	if e.TotalTime < 0 || e.CallCount < 0 {
		return fmt.Errorf(
			"%w: total_time and call_count must not be negative",
			ErrValidation,
		)
	}

	return nil
}

// RecordTimings resolves or creates the execution element for each entry
// and writes the run's timing row. Element creation is a conditional
// insert under the (name, type) unique constraint followed by a fetch,
// so two concurrent submissions of the same element resolve to a single
// row without poisoning the surrounding transaction.
func (s *store) RecordTimings(
	ctx context.Context, runID string, entries []TimingEntry,
) error {
	for i := range entries {
		if err := validTimingEntry(&entries[i]); err != nil {
			return fmt.Errorf("recording timings: %w", err)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the run row so the timing writes cannot race a purge of
		// the run.
		var run Run
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&run, "id = ?", runID).Error; err != nil {
			return err
		}

		for i := range entries {
			e := &entries[i]

			elem := ExecutionElement{Name: e.Name, Type: e.Type}

			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "name"}, {Name: "type"},
				},
				DoNothing: true,
			}).Create(&elem).Error; err != nil {
				return fmt.Errorf("creating execution element: %w", err)
			}

			if elem.ID == 0 {
				// Lost the insert race or the row predates us;
				// fetch the winner.
				if err := tx.Where("name = ? AND type = ?", e.Name, e.Type).
					First(&elem).Error; err != nil {
					return fmt.Errorf("fetching execution element: %w", err)
				}
			}

			timing := ExecutionTiming{
				RunID:        runID,
				ElementID:    elem.ID,
				TotalTime:    e.TotalTime,
				CallCount:    e.CallCount,
				AverageTime:  e.AverageTime,
				MedianTime:   e.MedianTime,
				StdDeviation: e.StdDeviation,
			}

			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "run_id"}, {Name: "element_id"},
				},
				UpdateAll: true,
			}).Create(&timing).Error; err != nil {
				return fmt.Errorf("writing execution timing: %w", err)
			}
		}

		return nil
	})

	return translate(err, "recording timings")
}

// StatsForRun joins the run's timing rows to their elements, ordered by
// type then name.
func (s *store) StatsForRun(
	ctx context.Context, runID string,
) ([]TimingStat, error) {
	var stats []TimingStat
	if err := s.db.WithContext(ctx).
		Model(&ExecutionTiming{}).
		Select(`execution_elements.name, execution_elements.type,
			execution_timings.total_time, execution_timings.call_count,
			execution_timings.average_time, execution_timings.median_time,
			execution_timings.std_deviation`).
		Joins("JOIN execution_elements ON execution_elements.id = execution_timings.element_id").
		Where("execution_timings.run_id = ?", runID).
		Order("execution_elements.type ASC, execution_elements.name ASC").
		Scan(&stats).Error; err != nil {
		return nil, translate(err, "loading run statistics")
	}

	return stats, nil
}
