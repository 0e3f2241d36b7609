package analyzer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gapfill/models"
	"gapfill/utils"
)

func newTestLogger() *utils.Logger { return utils.NewLogger(false) }

func refCity(slug, city, state string, population int) models.LocationReference {
	return models.LocationReference{Slug: slug, City: city, State: state, Population: population}
}

func refCategory(slug string) models.CategoryDefinition {
	return models.CategoryDefinition{Slug: slug, Name: slug, SearchPhrases: []string{slug}}
}

func TestScore(t *testing.T) {
	tests := []struct {
		population int
		listings   int
		want       float64
	}{
		{500000, 0, 500000},
		{500000, 4, 100000},
		{961855, 0, 961855},
		{100, 99, 1},
		{1, 0, 1},
	}

	for _, tt := range tests {
		got := Score(tt.population, tt.listings)
		if got != tt.want {
			t.Errorf("Score(%d, %d) = %f; want %f", tt.population, tt.listings, got, tt.want)
		}
		if got <= 0 {
			t.Errorf("Score(%d, %d) = %f; want strictly positive", tt.population, tt.listings, got)
		}
	}
}

func TestAnalyzeComputesScoreAndCost(t *testing.T) {
	a := New(newTestLogger(), 30, 20, decimal.RequireFromString("0.002"))

	in := Inputs{
		Cities:     []models.LocationReference{refCity("austin-tx", "Austin", "TX", 961855)},
		Categories: []models.CategoryDefinition{refCategory("plumbers")},
		ListingCounts: map[string]int{
			models.CountKey("Austin", "TX", "plumbers"): 9,
		},
		LastScraped: map[string]time.Time{},
	}

	gaps := a.Analyze(in, time.Now())
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(gaps))
	}

	gap := gaps[0]
	if gap.CurrentListings != 9 {
		t.Errorf("CurrentListings = %d; want 9", gap.CurrentListings)
	}
	if want := 961855.0 / 10.0; gap.CoverageScore != want {
		t.Errorf("CoverageScore = %f; want %f", gap.CoverageScore, want)
	}
	if want := decimal.RequireFromString("0.04"); !gap.EstimatedCost.Equal(want) {
		t.Errorf("EstimatedCost = %s; want %s", gap.EstimatedCost, want)
	}
	if gap.DaysSinceLastScrape != NeverScraped {
		t.Errorf("DaysSinceLastScrape = %d; want NeverScraped sentinel", gap.DaysSinceLastScrape)
	}
}

func TestAnalyzeCountKeyIsCaseInsensitive(t *testing.T) {
	a := New(newTestLogger(), 0, 10, decimal.RequireFromString("0.002"))

	in := Inputs{
		Cities:     []models.LocationReference{refCity("austin-tx", "Austin", "TX", 100000)},
		Categories: []models.CategoryDefinition{refCategory("plumbers")},
		ListingCounts: map[string]int{
			models.CountKey("AUSTIN", "tx", "Plumbers"): 4,
		},
	}

	gaps := a.Analyze(in, time.Now())
	if len(gaps) != 1 {
		t.Fatalf("expected 1 gap, got %d", len(gaps))
	}
	if gaps[0].CurrentListings != 4 {
		t.Errorf("CurrentListings = %d; want 4 (case-insensitive count lookup)", gaps[0].CurrentListings)
	}
}

func TestAnalyzeRecencyThreshold(t *testing.T) {
	now := time.Date(2026, time.August, 31, 12, 0, 0, 0, time.UTC)
	a := New(newTestLogger(), 30, 10, decimal.RequireFromString("0.002"))

	cities := []models.LocationReference{
		refCity("recent-city", "Recent", "TX", 100000),
		refCity("stale-city", "Stale", "TX", 100000),
		refCity("fresh-city", "Fresh", "TX", 100000),
	}

	in := Inputs{
		Cities:     cities,
		Categories: []models.CategoryDefinition{refCategory("plumbers")},
		LastScraped: map[string]time.Time{
			models.TrackKey("recent-city", "plumbers"): now.AddDate(0, 0, -5),
			models.TrackKey("stale-city", "plumbers"):  now.AddDate(0, 0, -45),
		},
	}

	gaps := a.Analyze(in, now)
	if len(gaps) != 2 {
		t.Fatalf("expected 2 eligible gaps, got %d", len(gaps))
	}
	for _, gap := range gaps {
		if gap.CitySlug == "recent-city" {
			t.Errorf("gap %s/%s scraped 5 days ago must not be eligible with a 30-day threshold",
				gap.CitySlug, gap.Category)
		}
		if gap.DaysSinceLastScrape < 30 {
			t.Errorf("gap %s/%s has DaysSinceLastScrape=%d below threshold",
				gap.CitySlug, gap.Category, gap.DaysSinceLastScrape)
		}
	}
}

func TestAnalyzeCrossProduct(t *testing.T) {
	a := New(newTestLogger(), 0, 10, decimal.RequireFromString("0.002"))

	in := Inputs{
		Cities: []models.LocationReference{
			refCity("a-tx", "A", "TX", 1000),
			refCity("b-tx", "B", "TX", 2000),
		},
		Categories: []models.CategoryDefinition{
			refCategory("plumbers"),
			refCategory("electricians"),
			refCategory("hvac"),
		},
	}

	gaps := a.Analyze(in, time.Now())
	if len(gaps) != 6 {
		t.Fatalf("expected 2×3 = 6 gaps, got %d", len(gaps))
	}
}
