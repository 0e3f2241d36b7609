package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CategoryDefinition is static reference data describing one directory
// category. Loaded once at startup, never mutated.
type CategoryDefinition struct {
	Slug          string   `yaml:"slug"`
	Name          string   `yaml:"name"`
	SearchPhrases []string `yaml:"search_phrases"`
	DefaultTags   []string `yaml:"default_tags"`
}

// PrimaryPhrase returns the first configured search phrase, falling back to
// the display name when none is configured.
func (c CategoryDefinition) PrimaryPhrase() string {
	if len(c.SearchPhrases) > 0 {
		return c.SearchPhrases[0]
	}
	return c.Name
}

// LocationReference is static reference data describing one city.
type LocationReference struct {
	Slug       string  `yaml:"slug"`
	City       string  `yaml:"city"`
	State      string  `yaml:"state"`
	Population int     `yaml:"population"`
	Latitude   float64 `yaml:"lat"`
	Longitude  float64 `yaml:"lng"`
}

// CoverageGap is a derived, per-run record for one (city, category) pair
// that is eligible for expansion. Never persisted.
type CoverageGap struct {
	CitySlug            string
	City                string
	State               string
	Population          int
	Category            string
	CurrentListings     int
	CoverageScore       float64
	DaysSinceLastScrape int
	EstimatedCost       decimal.Decimal
	Latitude            float64
	Longitude           float64
}

// TrackingRecord is the persisted scrape history for one (citySlug, category)
// pair. Exactly one row per pair; upserted on every scrape.
type TrackingRecord struct {
	CitySlug         string
	Category         string
	LastScrapedAt    time.Time
	ResultsCount     int
	NewListingsCount int
	APICost          decimal.Decimal
	Status           string
	ErrorMessage     string
}

// Location is the persisted city row. Created once, the first time any gap
// for the city is selected. ListingCount is recomputed by an aggregate pass,
// never incremented by hand.
type Location struct {
	Slug             string
	City             string
	State            string
	Population       int
	ListingCount     int
	EnrichmentStatus string
}

// Listing is the canonical persisted business record.
type Listing struct {
	Slug             string
	Name             string
	Category         string
	CitySlug         string
	Street           string
	City             string
	State            string
	Zip              string
	Latitude         float64
	Longitude        float64
	Phone            string
	Website          string
	Rating           float64
	ReviewCount      int
	WorkingHours     string
	Subtypes         []string
	BusinessStatus   string
	Source           string
	SourceID         string // empty when the provider returned no identifier
	IsActive         bool
	IsFeatured       bool
	EnrichmentStatus string
}

// RawPlace is the unprocessed record shape returned by the places search
// provider, before deduplication and normalization.
type RawPlace struct {
	Name           string   `json:"name"`
	FullAddress    string   `json:"full_address"`
	Latitude       float64  `json:"latitude"`
	Longitude      float64  `json:"longitude"`
	Website        string   `json:"site"`
	Phone          string   `json:"phone"`
	Rating         float64  `json:"rating"`
	ReviewCount    int      `json:"reviews"`
	WorkingHours   string   `json:"working_hours"`
	Subtypes       []string `json:"subtypes"`
	BusinessStatus string   `json:"business_status"`
	PlaceID        string   `json:"place_id"`
	GoogleID       string   `json:"google_id"`
}

// ExternalID returns the provider's unique identifier for the underlying
// business, preferring the place ID over the google ID. Empty when the
// provider returned neither.
func (p *RawPlace) ExternalID() string {
	if p.PlaceID != "" {
		return p.PlaceID
	}
	return p.GoogleID
}

// Per-gap outcome statuses recorded in ScrapeResult and TrackingRecord.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusSkipped   = "skipped"
)

// ScrapeResult is the per-gap outcome entry in an ExpansionReport.
type ScrapeResult struct {
	CitySlug     string          `json:"city_slug"`
	City         string          `json:"city"`
	State        string          `json:"state"`
	Category     string          `json:"category"`
	Status       string          `json:"status"`
	ResultsCount int             `json:"results_count"`
	NewListings  int             `json:"new_listings"`
	Cost         decimal.Decimal `json:"cost"`
	Error        string          `json:"error,omitempty"`
	DurationMs   int64           `json:"duration_ms"`
}

// GapSnapshot is the slimmed-down gap shape recorded in a report's
// top-gaps-considered section.
type GapSnapshot struct {
	CitySlug        string  `json:"city_slug"`
	Category        string  `json:"category"`
	Population      int     `json:"population"`
	CurrentListings int     `json:"current_listings"`
	CoverageScore   float64 `json:"coverage_score"`
}

// ReportConfig is the snapshot of the run's budget knobs stored in a report.
type ReportConfig struct {
	MaxBudget      decimal.Decimal `json:"max_budget"`
	MaxCities      int             `json:"max_cities"`
	Category       string          `json:"category"`
	DaysThreshold  int             `json:"days_threshold"`
	ResultsPerCity int             `json:"results_per_city"`
}

// ExpansionReport is the persisted run artifact. Exactly one per UTC
// calendar day; same-day runs are merged into the existing artifact.
type ExpansionReport struct {
	RunDate         string          `json:"run_date"` // UTC, YYYY-MM-DD
	RunIDs          []uuid.UUID     `json:"run_ids"`
	Config          ReportConfig    `json:"config"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	CitiesProcessed int             `json:"cities_processed"`
	TotalResults    int             `json:"total_results"`
	NewListings     int             `json:"new_listings"`
	Errors          int             `json:"errors"`
	Results         []ScrapeResult  `json:"results"`
	TopGaps         []GapSnapshot   `json:"top_gaps"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// CountKey builds the case-insensitive (city, state, category) key used for
// current listing counts.
func CountKey(city, state, category string) string {
	return strings.ToLower(strings.TrimSpace(city)) + "|" +
		strings.ToLower(strings.TrimSpace(state)) + "|" +
		strings.ToLower(strings.TrimSpace(category))
}

// TrackKey builds the (citySlug, category) key used for tracking lookups.
func TrackKey(citySlug, category string) string {
	return citySlug + "|" + category
}
