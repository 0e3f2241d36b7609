package main

import (
	"context"
	"flag"
	"os"

	"github.com/shopspring/decimal"

	"gapfill/config"
	"gapfill/engine"
	"gapfill/provider/places"
	"gapfill/refdata"
	"gapfill/selector"
	"gapfill/storage"
	"gapfill/utils"
)

func main() {
	cfg := config.Load()

	maxBudget, _ := cfg.MaxBudget.Float64()
	var (
		dryRun         = flag.Bool("dry-run", false, "Analyze and select gaps without calling the provider or writing anything")
		maxCost        = flag.Float64("max-cost", maxBudget, "Hard ceiling on total acquisition cost for this run")
		maxCities      = flag.Int("max-cities", cfg.MaxCities, "Hard ceiling on the number of gaps filled this run")
		category       = flag.String("category", engine.CategoryAuto, "Category slug to expand, or 'auto' for all")
		daysThreshold  = flag.Int("days-threshold", cfg.DaysThreshold, "Minimum days since a pair was last scraped")
		resultsPerCity = flag.Int("results-per-city", cfg.ResultsPerCity, "Results requested from the provider per gap")
		strategy       = flag.String("strategy", string(selector.GreedyByScore), "Allocation strategy: 'score' or 'density'")
	)
	flag.Parse()

	logger := utils.NewLogger(cfg.Verbose)
	logger.Info("=== Coverage-Gap Expansion Engine starting ===")

	if err := cfg.Validate(); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	if !selector.Strategy(*strategy).Valid() {
		logger.Error("invalid --strategy %q (want 'score' or 'density')", *strategy)
		os.Exit(1)
	}

	cities, err := refdata.LoadCities(cfg.RefdataDir)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	categories, err := refdata.LoadCategories(cfg.RefdataDir)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
	logger.Info("Reference data loaded — %d cities × %d categories", len(cities), len(categories))

	store, err := storage.NewPostgres(cfg.DSN(), logger)
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	reports, err := storage.NewReportStore(cfg.ReportsDir, logger)
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}

	client := places.New(cfg.PlacesAPIURL, cfg.PlacesAPIKey, cfg.Language, cfg.Region,
		cfg.PerResultPrice, logger)

	runCfg := engine.Config{
		DryRun:         *dryRun,
		MaxBudget:      decimal.NewFromFloat(*maxCost),
		MaxCities:      *maxCities,
		Category:       *category,
		DaysThreshold:  *daysThreshold,
		ResultsPerCity: *resultsPerCity,
		PerResultPrice: cfg.PerResultPrice,
		Strategy:       selector.Strategy(*strategy),
		Source:         places.Source,
		CSVPath:        cfg.CSVOutputPath,
	}
	logger.Info("Run config — budget: $%s | cities: %d | category: %s | threshold: %dd | results/city: %d | dry-run: %v",
		runCfg.MaxBudget.StringFixed(2), runCfg.MaxCities, runCfg.Category,
		runCfg.DaysThreshold, runCfg.ResultsPerCity, runCfg.DryRun)

	eng := engine.New(runCfg, store, reports, client, cities, categories, logger)
	if _, err := eng.Run(context.Background()); err != nil {
		logger.Error("Run aborted: %v", err)
		os.Exit(1)
	}
}
