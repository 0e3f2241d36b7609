package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gapfill/models"
	"gapfill/utils"
)

func newTestLogger() *utils.Logger { return utils.NewLogger(false) }

func newTestStore(t *testing.T) *ReportStore {
	t.Helper()
	s, err := NewReportStore(t.TempDir(), newTestLogger())
	require.NoError(t, err)
	return s
}

func report(runDate string, totalCost string, newListings int, results int) *models.ExpansionReport {
	entries := make([]models.ScrapeResult, results)
	for i := range entries {
		entries[i] = models.ScrapeResult{
			CitySlug: "austin-tx",
			Category: "plumbers",
			Status:   models.StatusCompleted,
			Cost:     decimal.Zero,
		}
	}
	return &models.ExpansionReport{
		RunDate:         runDate,
		RunIDs:          []uuid.UUID{uuid.New()},
		TotalCost:       decimal.RequireFromString(totalCost),
		CitiesProcessed: results,
		TotalResults:    results * 10,
		NewListings:     newListings,
		Results:         entries,
		GeneratedAt:     time.Now().UTC(),
	}
}

func TestReportStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	r := report("2026-08-31", "12.5", 7, 3)

	require.NoError(t, s.Save(r))

	loaded, err := s.Load("2026-08-31")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "2026-08-31", loaded.RunDate)
	assert.True(t, loaded.TotalCost.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, 7, loaded.NewListings)
	assert.Len(t, loaded.Results, 3)
}

func TestReportStoreLoadMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	loaded, err := s.Load("1999-01-01")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestReportStoreMergesSameDayRuns(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(report("2026-08-31", "10", 3, 2)))
	require.NoError(t, s.Save(report("2026-08-31", "4", 1, 1)))

	merged, err := s.Load("2026-08-31")
	require.NoError(t, err)
	require.NotNil(t, merged)

	assert.True(t, merged.TotalCost.Equal(decimal.RequireFromString("14")),
		"TotalCost = %s", merged.TotalCost)
	assert.Equal(t, 4, merged.NewListings)
	assert.Equal(t, 3, merged.CitiesProcessed)
	assert.Equal(t, 30, merged.TotalResults)
	assert.Len(t, merged.Results, 3, "results arrays must be concatenated")
	assert.Len(t, merged.RunIDs, 2, "every contributing run keeps its id")
}

func TestReportStoreDifferentDaysStaySeparate(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save(report("2026-08-30", "10", 3, 2)))
	require.NoError(t, s.Save(report("2026-08-31", "4", 1, 1)))

	first, err := s.Load("2026-08-30")
	require.NoError(t, err)
	assert.Len(t, first.Results, 2)

	second, err := s.Load("2026-08-31")
	require.NoError(t, err)
	assert.Len(t, second.Results, 1)
}

func TestReportStoreReleasesLock(t *testing.T) {
	dir := t.TempDir()
	s, err := NewReportStore(dir, newTestLogger())
	require.NoError(t, err)

	require.NoError(t, s.Save(report("2026-08-31", "1", 0, 0)))

	_, err = os.Stat(filepath.Join(dir, "expansion-2026-08-31.json.lock"))
	assert.True(t, os.IsNotExist(err), "lock file must be removed after Save")

	// A second save must be able to take the lock again.
	require.NoError(t, s.Save(report("2026-08-31", "1", 0, 0)))
}
