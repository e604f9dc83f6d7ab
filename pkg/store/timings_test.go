package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfvault/rfvault/pkg/store"
)

func TestRecordTimings_DeduplicatesElements(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	run1 := seedRun(t, s, p.ID)
	run2 := seedRun(t, s, p.ID)

	entries := []store.TimingEntry{
		{
			Name: "Login Suite", Type: store.ElementSuite,
			TotalTime: 12.5, CallCount: 1, AverageTime: 12.5,
		},
		{
			Name: "Login Succeeds", Type: store.ElementTest,
			TotalTime: 3.2, CallCount: 1, AverageTime: 3.2,
		},
	}

	require.NoError(t, s.RecordTimings(ctx, run1.ID, entries))
	require.NoError(t, s.RecordTimings(ctx, run2.ID, entries))

	// Both runs share the same element rows.
	stats1, err := s.StatsForRun(ctx, run1.ID)
	require.NoError(t, err)
	stats2, err := s.StatsForRun(ctx, run2.ID)
	require.NoError(t, err)
	require.Len(t, stats1, 2)
	require.Len(t, stats2, 2)
	assert.Equal(t, stats1, stats2)
}

func TestRecordTimings_UpsertsPerRun(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	run := seedRun(t, s, p.ID)

	entry := store.TimingEntry{
		Name: "Checkout", Type: store.ElementKeyword,
		TotalTime: 1.0, CallCount: 2, AverageTime: 0.5,
	}
	require.NoError(t, s.RecordTimings(ctx, run.ID, []store.TimingEntry{entry}))

	// Resubmitting the same element replaces the metrics instead of
	// adding a second row.
	entry.TotalTime = 4.0
	entry.CallCount = 8
	entry.AverageTime = 0.5
	require.NoError(t, s.RecordTimings(ctx, run.ID, []store.TimingEntry{entry}))

	stats, err := s.StatsForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "Checkout", stats[0].Name)
	assert.EqualValues(t, 4.0, stats[0].TotalTime)
	assert.EqualValues(t, 8, stats[0].CallCount)
}

func TestRecordTimings_Validation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	run := seedRun(t, s, p.ID)

	tests := []struct {
		name  string
		entry store.TimingEntry
	}{
		{
			name:  "unknown type",
			entry: store.TimingEntry{Name: "x", Type: "step", TotalTime: 1, CallCount: 1},
		},
		{
			name:  "missing name",
			entry: store.TimingEntry{Type: store.ElementTest, TotalTime: 1, CallCount: 1},
		},
		{
			name:  "negative total",
			entry: store.TimingEntry{Name: "x", Type: store.ElementTest, TotalTime: -1, CallCount: 1},
		},
		{
			name:  "negative count",
			entry: store.TimingEntry{Name: "x", Type: store.ElementTest, TotalTime: 1, CallCount: -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.RecordTimings(ctx, run.ID, []store.TimingEntry{tt.entry})
			require.ErrorIs(t, err, store.ErrValidation)
		})
	}

	// Nothing is written when any entry is invalid.
	stats, err := s.StatsForRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestRecordTimings_UnknownRun(t *testing.T) {
	s := setupTestStore(t)

	err := s.RecordTimings(
		context.Background(), "eeeeeeeeeeeeeeeeeeeeee",
		[]store.TimingEntry{
			{Name: "x", Type: store.ElementTest, TotalTime: 1, CallCount: 1},
		},
	)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStatsForRun_Ordering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p := seedProject(t, s)
	run := seedRun(t, s, p.ID)

	require.NoError(t, s.RecordTimings(ctx, run.ID, []store.TimingEntry{
		{Name: "Zeta", Type: store.ElementTest, TotalTime: 1, CallCount: 1},
		{Name: "Alpha", Type: store.ElementTest, TotalTime: 1, CallCount: 1},
		{Name: "Root", Type: store.ElementSuite, TotalTime: 2, CallCount: 1},
	}))

	stats, err := s.StatsForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, stats, 3)

	// Ordered by type, then name.
	assert.Equal(t, store.ElementSuite, stats[0].Type)
	assert.Equal(t, "Alpha", stats[1].Name)
	assert.Equal(t, "Zeta", stats[2].Name)
}
