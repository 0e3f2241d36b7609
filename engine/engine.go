// Package engine drives one expansion run: analyze coverage, select gaps
// under the budget window, acquire/dedup/normalize/persist each selected
// gap strictly sequentially, then save the merged daily report.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gapfill/analyzer"
	"gapfill/models"
	"gapfill/selector"
	"gapfill/services"
	"gapfill/storage"
	"gapfill/utils"
)

// topGapsSnapshotSize bounds the top-gaps-considered section of the report.
const topGapsSnapshotSize = 10

// CategoryAuto selects every category instead of a single slug.
const CategoryAuto = "auto"

// Config carries one run's knobs.
type Config struct {
	DryRun         bool
	MaxBudget      decimal.Decimal
	MaxCities      int
	Category       string // category slug, or CategoryAuto for all
	DaysThreshold  int
	ResultsPerCity int
	PerResultPrice decimal.Decimal
	Strategy       selector.Strategy
	Source         string // provenance label for acquired listings
	CSVPath        string // empty disables the CSV snapshot
}

// Searcher issues one provider query and returns raw records plus the
// actual cost of the call.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]models.RawPlace, decimal.Decimal, error)
}

// Engine owns all run-scoped mutable state: the dedup set, the slug
// reservations and the running actual cost. Construct one per run.
type Engine struct {
	cfg     Config
	store   storage.Gateway
	reports *storage.ReportStore
	search  Searcher
	logger  *utils.Logger

	cities     []models.LocationReference
	categories []models.CategoryDefinition

	now func() time.Time
}

// New wires an Engine. The reference lists are loaded once by the caller.
func New(cfg Config, store storage.Gateway, reports *storage.ReportStore, search Searcher,
	cities []models.LocationReference, categories []models.CategoryDefinition,
	logger *utils.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      store,
		reports:    reports,
		search:     search,
		cities:     cities,
		categories: categories,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes the full pipeline and returns the run's report. Individual
// gap failures are isolated into their ScrapeResult entries; only startup
// faults (reference data, store reads) return an error.
func (e *Engine) Run(ctx context.Context) (*models.ExpansionReport, error) {
	start := e.now()

	categories, err := e.filterCategories()
	if err != nil {
		return nil, err
	}

	counts, err := e.store.ListingCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: load listing counts: %w", err)
	}
	tracked, err := e.store.LastScraped(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: load tracking: %w", err)
	}

	gaps := analyzer.New(e.logger, e.cfg.DaysThreshold, e.cfg.ResultsPerCity, e.cfg.PerResultPrice).
		Analyze(analyzer.Inputs{
			Cities:        e.cities,
			Categories:    categories,
			ListingCounts: counts,
			LastScraped:   tracked,
		}, start)

	selected, estimated := selector.New(e.logger, e.cfg.Strategy, e.cfg.MaxBudget, e.cfg.MaxCities).
		Select(gaps)

	report := e.newReport(start, gaps)

	if e.cfg.DryRun {
		e.logger.Info("[engine] dry run — no provider or store calls will be made")
		e.printPlan(selected, estimated)
		e.printSummary(report, estimated)
		return report, nil
	}

	sourceIDs, err := e.store.ActiveSourceIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: load source ids: %w", err)
	}
	dedup := services.NewDeduplicator(e.logger, sourceIDs)
	norm := services.NewNormalizer(e.logger, e.store, e.cfg.Source)

	runningCost := decimal.Zero
	var snapshot []*models.Listing
	for _, gap := range selected {
		result, inserted := e.processGap(ctx, gap, dedup, norm, &runningCost)
		snapshot = append(snapshot, inserted...)
		report.Results = append(report.Results, result)

		switch result.Status {
		case models.StatusCompleted:
			report.CitiesProcessed++
			report.TotalResults += result.ResultsCount
			report.NewListings += result.NewListings
		case models.StatusError:
			report.Errors++
			report.TotalResults += result.ResultsCount
		}
		report.TotalCost = report.TotalCost.Add(result.Cost)
	}

	if err := e.store.RecalculateCounts(ctx); err != nil {
		// Best-effort: stale counts are corrected by the next run.
		e.logger.Warn("[engine] listing count recalculation failed: %v", err)
	}

	if err := e.reports.Save(report); err != nil {
		e.logger.Error("[engine] report save failed: %v", err)
	}

	e.writeCSVSnapshot(snapshot)
	e.printSummary(report, estimated)
	return report, nil
}

// processGap runs acquisition through persistence for one gap and returns
// the outcome plus the listings it inserted. Every failure is folded into
// the returned ScrapeResult; the caller's loop always continues.
func (e *Engine) processGap(ctx context.Context, gap models.CoverageGap,
	dedup *services.Deduplicator, norm *services.Normalizer,
	runningCost *decimal.Decimal) (models.ScrapeResult, []*models.Listing) {

	started := e.now()
	result := models.ScrapeResult{
		CitySlug: gap.CitySlug,
		City:     gap.City,
		State:    gap.State,
		Category: gap.Category,
		Cost:     decimal.Zero,
	}

	// Budget re-check with the estimate: actual spend so far may differ
	// from the selection-time estimate.
	if runningCost.Add(gap.EstimatedCost).GreaterThan(e.cfg.MaxBudget) {
		e.logger.Warn("[engine] %s/%s skipped: budget exhausted ($%s spent, $%s estimated next)",
			gap.CitySlug, gap.Category, runningCost.StringFixed(2), gap.EstimatedCost.StringFixed(2))
		result.Status = models.StatusSkipped
		result.Error = "budget exceeded"
		result.DurationMs = e.now().Sub(started).Milliseconds()
		return result, nil
	}

	query := buildQuery(e.categoryPhrase(gap.Category), gap.City, gap.State)
	e.logger.Info("[engine] %s/%s — query %q", gap.CitySlug, gap.Category, query)

	places, cost, err := e.search.Search(ctx, query, e.cfg.ResultsPerCity)
	if err != nil {
		e.logger.Error("[engine] %s/%s acquisition failed: %v", gap.CitySlug, gap.Category, err)
		result.Status = models.StatusError
		result.Error = err.Error()
		result.DurationMs = e.now().Sub(started).Milliseconds()
		e.recordScrape(ctx, gap, result)
		return result, nil
	}

	*runningCost = runningCost.Add(cost)
	result.Cost = cost
	result.ResultsCount = len(places)

	if err := e.store.EnsureLocation(ctx, models.Location{
		Slug:             gap.CitySlug,
		City:             gap.City,
		State:            gap.State,
		Population:       gap.Population,
		EnrichmentStatus: "pending",
	}); err != nil {
		result.Status = models.StatusError
		result.Error = err.Error()
		result.DurationMs = e.now().Sub(started).Milliseconds()
		e.recordScrape(ctx, gap, result)
		return result, nil
	}

	candidates := make([]*models.Listing, 0, len(places))
	for i := range places {
		p := &places[i]
		if !dedup.Admit(p) {
			continue
		}
		listing, err := norm.Normalize(ctx, p, gap)
		if err != nil {
			e.logger.Warn("[engine] %s/%s normalize %q failed: %v",
				gap.CitySlug, gap.Category, p.Name, err)
			continue
		}
		candidates = append(candidates, listing)
	}

	inserted, err := e.store.InsertListings(ctx, candidates)
	if err != nil {
		result.Status = models.StatusError
		result.Error = err.Error()
		result.NewListings = inserted
		result.DurationMs = e.now().Sub(started).Milliseconds()
		e.recordScrape(ctx, gap, result)
		return result, nil
	}

	result.Status = models.StatusCompleted
	result.NewListings = inserted
	result.DurationMs = e.now().Sub(started).Milliseconds()
	e.recordScrape(ctx, gap, result)

	e.logger.Info("[engine] %s/%s done: %d results, %d new listings, $%s",
		gap.CitySlug, gap.Category, result.ResultsCount, inserted, cost.StringFixed(4))
	return result, candidates
}

// recordScrape updates the gap's tracking record, including for errored
// gaps so the recency threshold still applies to them.
func (e *Engine) recordScrape(ctx context.Context, gap models.CoverageGap, result models.ScrapeResult) {
	outcome, err := e.store.RecordScrape(ctx, models.TrackingRecord{
		CitySlug:         gap.CitySlug,
		Category:         gap.Category,
		LastScrapedAt:    e.now(),
		ResultsCount:     result.ResultsCount,
		NewListingsCount: result.NewListings,
		APICost:          result.Cost,
		Status:           result.Status,
		ErrorMessage:     result.Error,
	})
	if err != nil {
		e.logger.Error("[engine] %s/%s tracking upsert failed: %v", gap.CitySlug, gap.Category, err)
		return
	}
	e.logger.Debug("[engine] %s/%s tracking upsert via %s path", gap.CitySlug, gap.Category, outcome)
}

func (e *Engine) filterCategories() ([]models.CategoryDefinition, error) {
	if e.cfg.Category == "" || e.cfg.Category == CategoryAuto {
		return e.categories, nil
	}
	for _, c := range e.categories {
		if c.Slug == e.cfg.Category {
			return []models.CategoryDefinition{c}, nil
		}
	}
	return nil, fmt.Errorf("engine: unknown category %q", e.cfg.Category)
}

func (e *Engine) categoryPhrase(slug string) string {
	for _, c := range e.categories {
		if c.Slug == slug {
			return c.PrimaryPhrase()
		}
	}
	return slug
}

func (e *Engine) newReport(start time.Time, gaps []models.CoverageGap) *models.ExpansionReport {
	return &models.ExpansionReport{
		RunDate: start.UTC().Format("2006-01-02"),
		RunIDs:  []uuid.UUID{uuid.New()},
		Config: models.ReportConfig{
			MaxBudget:      e.cfg.MaxBudget,
			MaxCities:      e.cfg.MaxCities,
			Category:       e.cfg.Category,
			DaysThreshold:  e.cfg.DaysThreshold,
			ResultsPerCity: e.cfg.ResultsPerCity,
		},
		TotalCost:   decimal.Zero,
		Results:     []models.ScrapeResult{},
		TopGaps:     topGaps(gaps, topGapsSnapshotSize),
		GeneratedAt: start.UTC(),
	}
}

func topGaps(gaps []models.CoverageGap, n int) []models.GapSnapshot {
	ranked := make([]models.CoverageGap, len(gaps))
	copy(ranked, gaps)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].CoverageScore > ranked[j].CoverageScore
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}

	snapshot := make([]models.GapSnapshot, len(ranked))
	for i, g := range ranked {
		snapshot[i] = models.GapSnapshot{
			CitySlug:        g.CitySlug,
			Category:        g.Category,
			Population:      g.Population,
			CurrentListings: g.CurrentListings,
			CoverageScore:   g.CoverageScore,
		}
	}
	return snapshot
}

// writeCSVSnapshot is informational only; errors never fail the run.
func (e *Engine) writeCSVSnapshot(listings []*models.Listing) {
	if e.cfg.CSVPath == "" || len(listings) == 0 {
		return
	}
	w, err := storage.NewCSVWriter(e.cfg.CSVPath)
	if err != nil {
		e.logger.Warn("[engine] csv snapshot: %v", err)
		return
	}
	defer w.Close()
	if err := w.WriteListings(listings); err != nil {
		e.logger.Warn("[engine] csv snapshot: %v", err)
		return
	}
	e.logger.Info("[engine] csv snapshot: %d listings written to %s", len(listings), e.cfg.CSVPath)
}

func buildQuery(phrase, city, state string) string {
	return fmt.Sprintf("%s in %s, %s", phrase, city, state)
}

func (e *Engine) printPlan(selected []models.CoverageGap, estimated decimal.Decimal) {
	thin := strings.Repeat("─", 64)
	fmt.Printf("\n\033[1;33m  Planned selection (dry run)\033[0m\n")
	fmt.Printf("  %s\n", thin)
	for i, gap := range selected {
		fmt.Printf("  \033[1m%2d.\033[0m %-28s %-14s score %12.0f  $%s\n",
			i+1, gap.CitySlug, gap.Category, gap.CoverageScore, gap.EstimatedCost.StringFixed(2))
	}
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Estimated total: \033[1;32m$%s\033[0m of $%s budget\n\n",
		estimated.StringFixed(2), e.cfg.MaxBudget.StringFixed(2))
}

// printSummary renders the always-printed end-of-run block.
func (e *Engine) printSummary(r *models.ExpansionReport, estimated decimal.Decimal) {
	sep := strings.Repeat("═", 64)
	thin := strings.Repeat("─", 64)

	fmt.Printf("\n\033[1;35m%s\033[0m\n", sep)
	fmt.Printf("\033[1;35m  COVERAGE EXPANSION — RUN SUMMARY (%s)\033[0m\n", r.RunDate)
	fmt.Printf("\033[1;35m%s\033[0m\n\n", sep)

	fmt.Printf("\033[1;33m  Totals\033[0m\n")
	fmt.Printf("  %s\n", thin)
	fmt.Printf("  Cities processed : \033[1m%d\033[0m\n", r.CitiesProcessed)
	fmt.Printf("  Results returned : \033[1m%d\033[0m\n", r.TotalResults)
	fmt.Printf("  New listings     : \033[1m%d\033[0m\n", r.NewListings)
	fmt.Printf("  Errors           : \033[1m%d\033[0m\n", r.Errors)
	fmt.Printf("  Actual cost      : \033[1;32m$%s\033[0m (estimated $%s, budget $%s)\n",
		r.TotalCost.StringFixed(2), estimated.StringFixed(2), e.cfg.MaxBudget.StringFixed(2))
	fmt.Println()

	if len(r.TopGaps) > 0 {
		fmt.Printf("\033[1;33m  Top gaps considered\033[0m\n")
		fmt.Printf("  %s\n", thin)
		for i, g := range r.TopGaps {
			fmt.Printf("  \033[1m%2d.\033[0m %-28s %-14s score %12.0f (%d listings)\n",
				i+1, g.CitySlug, g.Category, g.CoverageScore, g.CurrentListings)
		}
	}

	fmt.Printf("\n\033[1;35m%s\033[0m\n\n", sep)
}
