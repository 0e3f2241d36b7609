package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"gapfill/models"
	"gapfill/utils"
)

const (
	lockRetries  = 50
	lockInterval = 100 * time.Millisecond
)

// ReportStore persists expansion reports as one JSON file per UTC calendar
// day. Saving merges into any existing same-day artifact under an exclusive
// lock file, so two runs landing on the same date cannot clobber each other.
type ReportStore struct {
	dir    string
	logger *utils.Logger
}

// NewReportStore creates the reports directory if needed.
func NewReportStore(dir string, logger *utils.Logger) (*ReportStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("reports: create dir %q: %w", dir, err)
	}
	return &ReportStore{dir: dir, logger: logger}, nil
}

func (s *ReportStore) path(runDate string) string {
	return filepath.Join(s.dir, "expansion-"+runDate+".json")
}

// Load reads the artifact for runDate (UTC, YYYY-MM-DD). Returns nil with
// no error when the artifact does not exist.
func (s *ReportStore) Load(runDate string) (*models.ExpansionReport, error) {
	raw, err := os.ReadFile(s.path(runDate))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reports: read %s: %w", runDate, err)
	}

	var report models.ExpansionReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("reports: parse %s: %w", runDate, err)
	}
	return &report, nil
}

// Save merges report into the same-day artifact (if any) and overwrites it.
// The read-modify-write happens under a lock file so a second writer blocks
// instead of racing.
func (s *ReportStore) Save(report *models.ExpansionReport) error {
	unlock, err := s.lock(report.RunDate)
	if err != nil {
		return err
	}
	defer unlock()

	existing, err := s.Load(report.RunDate)
	if err != nil {
		return err
	}

	merged := report
	if existing != nil {
		merged = mergeReports(existing, report)
		s.logger.Info("[reports] merged into existing %s artifact (%d total results)",
			report.RunDate, len(merged.Results))
	}

	raw, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("reports: encode %s: %w", report.RunDate, err)
	}

	tmp := s.path(report.RunDate) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("reports: write %s: %w", report.RunDate, err)
	}
	if err := os.Rename(tmp, s.path(report.RunDate)); err != nil {
		return fmt.Errorf("reports: replace %s: %w", report.RunDate, err)
	}
	return nil
}

// lock acquires an exclusive lock file for the date, retrying for a bounded
// interval, and returns the release function.
func (s *ReportStore) lock(runDate string) (func(), error) {
	lockPath := s.path(runDate) + ".lock"
	for i := 0; i < lockRetries; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("reports: lock %s: %w", runDate, err)
		}
		time.Sleep(lockInterval)
	}
	return nil, fmt.Errorf("reports: lock %s: held by another writer", runDate)
}

// mergeReports concatenates the new run's results onto the old artifact and
// sums every numeric aggregate. The config snapshot and top-gaps section
// reflect the latest run.
func mergeReports(old, latest *models.ExpansionReport) *models.ExpansionReport {
	return &models.ExpansionReport{
		RunDate:         old.RunDate,
		RunIDs:          append(append([]uuid.UUID{}, old.RunIDs...), latest.RunIDs...),
		Config:          latest.Config,
		TotalCost:       old.TotalCost.Add(latest.TotalCost),
		CitiesProcessed: old.CitiesProcessed + latest.CitiesProcessed,
		TotalResults:    old.TotalResults + latest.TotalResults,
		NewListings:     old.NewListings + latest.NewListings,
		Errors:          old.Errors + latest.Errors,
		Results:         append(append([]models.ScrapeResult{}, old.Results...), latest.Results...),
		TopGaps:         latest.TopGaps,
		GeneratedAt:     latest.GeneratedAt,
	}
}
