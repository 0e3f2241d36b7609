package storage

import (
	"context"
	"time"

	"gapfill/models"
)

// UpsertOutcome tags which tracking-upsert path succeeded. The atomic SQL
// function may not exist in every deployment; the fallback is a plain
// last-write-wins upsert. Both paths are intentional and reported
// explicitly rather than swallowed.
type UpsertOutcome int

const (
	UpsertFailed UpsertOutcome = iota
	AtomicUpsertOk
	FallbackUpsertOk
)

func (o UpsertOutcome) String() string {
	switch o {
	case AtomicUpsertOk:
		return "atomic"
	case FallbackUpsertOk:
		return "fallback"
	default:
		return "failed"
	}
}

// Gateway is the persistence surface the engine runs against.
type Gateway interface {
	// ActiveSourceIDs returns the provider identifiers of all active
	// listings, used to seed the run's dedup set.
	ActiveSourceIDs(ctx context.Context) ([]string, error)

	// ListingCounts returns active listing counts keyed by models.CountKey.
	ListingCounts(ctx context.Context) (map[string]int, error)

	// LastScraped returns last-scraped timestamps keyed by models.TrackKey.
	LastScraped(ctx context.Context) (map[string]time.Time, error)

	// ListingSlugExists reports whether a listing with the slug exists.
	ListingSlugExists(ctx context.Context, slug string) (bool, error)

	// EnsureLocation inserts the location if absent. It never mutates an
	// existing row's identity fields; calling it twice is a no-op.
	EnsureLocation(ctx context.Context, loc models.Location) error

	// InsertListings bulk-inserts the candidates and returns how many rows
	// were actually created.
	InsertListings(ctx context.Context, listings []*models.Listing) (int, error)

	// RecordScrape upserts the tracking record for (citySlug, category).
	RecordScrape(ctx context.Context, rec models.TrackingRecord) (UpsertOutcome, error)

	// RecalculateCounts recomputes every location's listing count from the
	// listing rows. Best-effort; failures are non-fatal to the run.
	RecalculateCounts(ctx context.Context) error

	Close() error
}
