package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"gapfill/models"
	"gapfill/utils"
)

// Postgres implements Gateway over a PostgreSQL database.
type Postgres struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewPostgres opens a connection, waits for the database with a bounded
// ping-retry, runs schema migrations and returns a ready gateway.
func NewPostgres(dsn string, logger *utils.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	retry := &utils.RetryConfig{MaxAttempts: 5, BaseDelay: 2 * time.Second, Logger: logger}
	if err := retry.Do("postgres ping", db.Ping); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	p := &Postgres{db: db, logger: logger}
	if err := p.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return p, nil
}

// migrate creates the tables. The atomic record_scrape function is
// deliberately NOT created here: it is deployment-provided, and RecordScrape
// must keep working without it.
func (p *Postgres) migrate() error {
	_, err := p.db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			id                SERIAL PRIMARY KEY,
			slug              TEXT         UNIQUE NOT NULL,
			name              TEXT         NOT NULL,
			category          VARCHAR(100) NOT NULL,
			city_slug         TEXT         NOT NULL,
			street            TEXT         NOT NULL DEFAULT '',
			city              TEXT         NOT NULL DEFAULT '',
			state             TEXT         NOT NULL DEFAULT '',
			zip               TEXT         NOT NULL DEFAULT '',
			latitude          DOUBLE PRECISION NOT NULL DEFAULT 0,
			longitude         DOUBLE PRECISION NOT NULL DEFAULT 0,
			phone             TEXT         NOT NULL DEFAULT '',
			website           TEXT         NOT NULL DEFAULT '',
			rating            NUMERIC(4,2) NOT NULL DEFAULT 0,
			review_count      INTEGER      NOT NULL DEFAULT 0,
			working_hours     TEXT         NOT NULL DEFAULT '',
			subtypes          TEXT[]       NOT NULL DEFAULT '{}',
			business_status   TEXT         NOT NULL DEFAULT '',
			source            TEXT         NOT NULL,
			source_id         TEXT,
			is_active         BOOLEAN      NOT NULL DEFAULT TRUE,
			is_featured       BOOLEAN      NOT NULL DEFAULT FALSE,
			enrichment_status TEXT         NOT NULL DEFAULT 'raw',
			created_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_listings_city_slug ON listings(city_slug);
		CREATE INDEX IF NOT EXISTS idx_listings_category  ON listings(category);
		CREATE INDEX IF NOT EXISTS idx_listings_source_id ON listings(source_id) WHERE source_id IS NOT NULL;

		CREATE TABLE IF NOT EXISTS locations (
			id                SERIAL PRIMARY KEY,
			slug              TEXT        UNIQUE NOT NULL,
			city              TEXT        NOT NULL,
			state             TEXT        NOT NULL,
			population        INTEGER     NOT NULL DEFAULT 0,
			listing_count     INTEGER     NOT NULL DEFAULT 0,
			enrichment_status TEXT        NOT NULL DEFAULT 'pending',
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS tracking_records (
			id                 SERIAL PRIMARY KEY,
			city_slug          TEXT          NOT NULL,
			category           VARCHAR(100)  NOT NULL,
			last_scraped_at    TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			results_count      INTEGER       NOT NULL DEFAULT 0,
			new_listings_count INTEGER       NOT NULL DEFAULT 0,
			api_cost           NUMERIC(10,4) NOT NULL DEFAULT 0,
			status             TEXT          NOT NULL DEFAULT '',
			error_message      TEXT          NOT NULL DEFAULT '',
			UNIQUE (city_slug, category)
		);
	`)
	return err
}

func (p *Postgres) ActiveSourceIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT source_id FROM listings
		WHERE is_active AND source_id IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: active source ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan source id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) ListingCounts(ctx context.Context) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT city, state, category, COUNT(*)
		FROM listings
		WHERE is_active
		GROUP BY city, state, category
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var city, state, category string
		var n int
		if err := rows.Scan(&city, &state, &category, &n); err != nil {
			return nil, fmt.Errorf("postgres: scan count: %w", err)
		}
		// CountKey lowercases, so differently-cased rows fold together.
		counts[models.CountKey(city, state, category)] += n
	}
	return counts, rows.Err()
}

func (p *Postgres) LastScraped(ctx context.Context) (map[string]time.Time, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT city_slug, category, last_scraped_at FROM tracking_records
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: last scraped: %w", err)
	}
	defer rows.Close()

	tracked := make(map[string]time.Time)
	for rows.Next() {
		var citySlug, category string
		var at time.Time
		if err := rows.Scan(&citySlug, &category, &at); err != nil {
			return nil, fmt.Errorf("postgres: scan tracking: %w", err)
		}
		tracked[models.TrackKey(citySlug, category)] = at
	}
	return tracked, rows.Err()
}

func (p *Postgres) ListingSlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM listings WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: slug exists: %w", err)
	}
	return exists, nil
}

func (p *Postgres) EnsureLocation(ctx context.Context, loc models.Location) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO locations (slug, city, state, population, listing_count, enrichment_status)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (slug) DO NOTHING
	`, loc.Slug, loc.City, loc.State, loc.Population, loc.EnrichmentStatus)
	if err != nil {
		return fmt.Errorf("postgres: ensure location %q: %w", loc.Slug, err)
	}
	return nil
}

func (p *Postgres) InsertListings(ctx context.Context, listings []*models.Listing) (int, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	const batchSize = 50
	inserted := 0
	for i := 0; i < len(listings); i += batchSize {
		end := i + batchSize
		if end > len(listings) {
			end = len(listings)
		}
		n, err := p.insertBatch(ctx, listings[i:end])
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

func (p *Postgres) insertBatch(ctx context.Context, batch []*models.Listing) (int, error) {
	const cols = 22
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*cols)

	for idx, l := range batch {
		base := idx * cols
		placeholders := make([]string, cols)
		for j := 0; j < cols; j++ {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")

		var sourceID sql.NullString
		if l.SourceID != "" {
			sourceID = sql.NullString{String: l.SourceID, Valid: true}
		}
		subtypes := l.Subtypes
		if subtypes == nil {
			subtypes = []string{}
		}
		valueArgs = append(valueArgs,
			l.Slug, l.Name, l.Category, l.CitySlug, l.Street, l.City, l.State, l.Zip,
			l.Latitude, l.Longitude, l.Phone, l.Website, l.Rating, l.ReviewCount,
			l.WorkingHours, pq.Array(subtypes), l.BusinessStatus, l.Source,
			sourceID, l.IsActive, l.IsFeatured, l.EnrichmentStatus)
	}

	query := fmt.Sprintf(`
		INSERT INTO listings (
			slug, name, category, city_slug, street, city, state, zip,
			latitude, longitude, phone, website, rating, review_count,
			working_hours, subtypes, business_status, source,
			source_id, is_active, is_featured, enrichment_status
		)
		VALUES %s
		ON CONFLICT (slug) DO NOTHING
	`, strings.Join(valueStrings, ","))

	res, err := p.db.ExecContext(ctx, query, valueArgs...)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert listings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: insert listings rows affected: %w", err)
	}
	return int(n), nil
}

// RecordScrape upserts the tracking record. The primary path is the
// deployment-provided record_scrape SQL function, which increments the
// cumulative cost atomically. When the function is absent (undefined
// function, SQLSTATE 42883) a plain last-write-wins upsert takes over.
func (p *Postgres) RecordScrape(ctx context.Context, rec models.TrackingRecord) (UpsertOutcome, error) {
	_, err := p.db.ExecContext(ctx,
		`SELECT record_scrape($1, $2, $3, $4, $5, $6, $7)`,
		rec.CitySlug, rec.Category, rec.LastScrapedAt, rec.ResultsCount,
		rec.NewListingsCount, rec.APICost, rec.Status)
	if err == nil {
		return AtomicUpsertOk, nil
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "42883" {
		return UpsertFailed, fmt.Errorf("postgres: record scrape %s/%s: %w",
			rec.CitySlug, rec.Category, err)
	}

	p.logger.Debug("[postgres] record_scrape function missing — using fallback upsert")
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO tracking_records (
			city_slug, category, last_scraped_at, results_count,
			new_listings_count, api_cost, status, error_message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (city_slug, category) DO UPDATE SET
			last_scraped_at    = EXCLUDED.last_scraped_at,
			results_count      = EXCLUDED.results_count,
			new_listings_count = EXCLUDED.new_listings_count,
			api_cost           = EXCLUDED.api_cost,
			status             = EXCLUDED.status,
			error_message      = EXCLUDED.error_message
	`, rec.CitySlug, rec.Category, rec.LastScrapedAt, rec.ResultsCount,
		rec.NewListingsCount, rec.APICost, rec.Status, rec.ErrorMessage)
	if err != nil {
		return UpsertFailed, fmt.Errorf("postgres: record scrape fallback %s/%s: %w",
			rec.CitySlug, rec.Category, err)
	}
	return FallbackUpsertOk, nil
}

func (p *Postgres) RecalculateCounts(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE locations SET listing_count = (
			SELECT COUNT(*) FROM listings
			WHERE listings.city_slug = locations.slug AND listings.is_active
		)
	`)
	if err != nil {
		return fmt.Errorf("postgres: recalculate counts: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
