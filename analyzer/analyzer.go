// Package analyzer computes coverage scores for every (city, category) pair
// and filters out pairs scraped too recently.
package analyzer

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"gapfill/models"
	"gapfill/utils"
)

// NeverScraped is the days-since sentinel for pairs with no tracking record.
// Any recency threshold passes against it.
const NeverScraped = math.MaxInt32

// Inputs carries everything Analyze reads: the static reference lists, the
// current listing counts keyed by models.CountKey, and the last-scraped
// timestamps keyed by models.TrackKey.
type Inputs struct {
	Cities        []models.LocationReference
	Categories    []models.CategoryDefinition
	ListingCounts map[string]int
	LastScraped   map[string]time.Time
}

// Analyzer derives eligible coverage gaps from reference data and corpus
// state. It is pure: no side effects, no stored state between calls.
type Analyzer struct {
	logger         *utils.Logger
	recencyDays    int
	resultsPerCity int
	perResultPrice decimal.Decimal
}

// New creates an Analyzer with the given eligibility and cost parameters.
func New(logger *utils.Logger, recencyDays, resultsPerCity int, perResultPrice decimal.Decimal) *Analyzer {
	return &Analyzer{
		logger:         logger,
		recencyDays:    recencyDays,
		resultsPerCity: resultsPerCity,
		perResultPrice: perResultPrice,
	}
}

// Analyze walks the cities × categories cross-product and returns every
// eligible gap, unsorted. Ties on equal coverage score keep the iteration
// order of the reference lists; no further tie-break is applied.
func (a *Analyzer) Analyze(in Inputs, now time.Time) []models.CoverageGap {
	estimatedCost := a.perResultPrice.Mul(decimal.NewFromInt(int64(a.resultsPerCity)))

	gaps := make([]models.CoverageGap, 0, len(in.Cities)*len(in.Categories))
	skippedRecent := 0

	for _, city := range in.Cities {
		for _, cat := range in.Categories {
			days := a.daysSince(in.LastScraped, city.Slug, cat.Slug, now)
			if days < a.recencyDays {
				skippedRecent++
				continue
			}

			current := in.ListingCounts[models.CountKey(city.City, city.State, cat.Slug)]
			gaps = append(gaps, models.CoverageGap{
				CitySlug:            city.Slug,
				City:                city.City,
				State:               city.State,
				Population:          city.Population,
				Category:            cat.Slug,
				CurrentListings:     current,
				CoverageScore:       Score(city.Population, current),
				DaysSinceLastScrape: days,
				EstimatedCost:       estimatedCost,
				Latitude:            city.Latitude,
				Longitude:           city.Longitude,
			})
		}
	}

	a.logger.Info("[analyzer] %d eligible gaps (%d pairs skipped: scraped within %d days)",
		len(gaps), skippedRecent, a.recencyDays)
	return gaps
}

// Score is population / (currentListings + 1). The +1 keeps the score
// finite for uncovered pairs and strictly decreasing as coverage grows.
func Score(population, currentListings int) float64 {
	return float64(population) / float64(currentListings+1)
}

func (a *Analyzer) daysSince(tracked map[string]time.Time, citySlug, category string, now time.Time) int {
	last, ok := tracked[models.TrackKey(citySlug, category)]
	if !ok {
		return NeverScraped
	}
	return int(now.Sub(last).Hours() / 24)
}
