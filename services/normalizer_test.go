package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"gapfill/models"
)

// fakeSlugChecker reports slugs from a fixed taken set.
type fakeSlugChecker struct {
	taken map[string]bool
	calls int
}

func (f *fakeSlugChecker) ListingSlugExists(_ context.Context, slug string) (bool, error) {
	f.calls++
	return f.taken[slug], nil
}

func testGap() models.CoverageGap {
	return models.CoverageGap{
		CitySlug: "austin-tx",
		City:     "Austin",
		State:    "TX",
		Category: "plumbers",
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		full   string
		street string
		city   string
		state  string
		zip    string
		ok     bool
	}{
		{"123 Main St, Austin, TX 78701, United States", "123 Main St", "Austin", "TX", "78701", true},
		{"Suite 4, 99 Elm Ave, Fresno, CA 93711, US", "Suite 4, 99 Elm Ave", "Fresno", "CA", "93711", true},
		{"Austin, TX 78701, US", "", "Austin", "TX", "78701", true},
		{"Nashville, TN, United States", "", "Nashville", "TN", "", true},
		{"just a street name", "", "", "", "", false},
		{"one, two", "", "", "", "", false},
		{"", "", "", "", "", false},
	}

	for _, tt := range tests {
		street, city, state, zip, ok := ParseAddress(tt.full)
		if ok != tt.ok {
			t.Errorf("ParseAddress(%q) ok = %v; want %v", tt.full, ok, tt.ok)
			continue
		}
		if street != tt.street || city != tt.city || state != tt.state || zip != tt.zip {
			t.Errorf("ParseAddress(%q) = (%q, %q, %q, %q); want (%q, %q, %q, %q)",
				tt.full, street, city, state, zip, tt.street, tt.city, tt.state, tt.zip)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Coffee", "acme-coffee"},
		{"  Bob's Plumbing & Heating  ", "bob-s-plumbing-heating"},
		{"ALL CAPS LLC.", "all-caps-llc"},
		{"café corner", "café-corner"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeBuildsCanonicalListing(t *testing.T) {
	checker := &fakeSlugChecker{taken: map[string]bool{}}
	n := NewNormalizer(newTestLogger(), checker, "places")

	place := &models.RawPlace{
		Name:        "Acme Coffee",
		FullAddress: "123 Main St, Austin, TX 78701, United States",
		Latitude:    30.26,
		Longitude:   -97.74,
		Phone:       "+1 512-555-0101",
		Website:     "https://acme.example",
		Rating:      4.6,
		ReviewCount: 212,
		PlaceID:     "place-1",
	}

	listing, err := n.Normalize(context.Background(), place, testGap())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if listing.Slug != "acme-coffee-austin-tx" {
		t.Errorf("Slug = %q; want acme-coffee-austin-tx", listing.Slug)
	}
	if listing.City != "Austin" || listing.State != "TX" || listing.Zip != "78701" {
		t.Errorf("address = %q/%q/%q; want Austin/TX/78701", listing.City, listing.State, listing.Zip)
	}
	if listing.EnrichmentStatus != "raw" {
		t.Errorf("EnrichmentStatus = %q; want raw", listing.EnrichmentStatus)
	}
	if !listing.IsActive || listing.IsFeatured {
		t.Errorf("IsActive=%v IsFeatured=%v; want true/false", listing.IsActive, listing.IsFeatured)
	}
	if listing.Source != "places" || listing.SourceID != "place-1" {
		t.Errorf("Source=%q SourceID=%q; want places/place-1", listing.Source, listing.SourceID)
	}
	if listing.CitySlug != "austin-tx" {
		t.Errorf("CitySlug = %q; want austin-tx", listing.CitySlug)
	}
}

func TestNormalizeFallsBackToGapCityState(t *testing.T) {
	n := NewNormalizer(newTestLogger(), &fakeSlugChecker{taken: map[string]bool{}}, "places")

	place := &models.RawPlace{Name: "Mystery Shop", FullAddress: "no commas here"}
	listing, err := n.Normalize(context.Background(), place, testGap())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if listing.City != "Austin" || listing.State != "TX" {
		t.Errorf("fallback city/state = %q/%q; want Austin/TX", listing.City, listing.State)
	}
	if listing.Street != "no commas here" {
		t.Errorf("Street = %q; want the raw address preserved", listing.Street)
	}
}

func TestNormalizeResolvesSlugCollisions(t *testing.T) {
	checker := &fakeSlugChecker{taken: map[string]bool{"acme-coffee-austin-tx": true}}
	n := NewNormalizer(newTestLogger(), checker, "places")

	place := func(id string) *models.RawPlace {
		return &models.RawPlace{
			Name:        "Acme Coffee",
			FullAddress: "123 Main St, Austin, TX 78701, United States",
			PlaceID:     id,
		}
	}

	first, err := n.Normalize(context.Background(), place("p-1"), testGap())
	if err != nil {
		t.Fatalf("first Normalize: %v", err)
	}
	if first.Slug != "acme-coffee-austin-tx-1" {
		t.Errorf("first collision slug = %q; want acme-coffee-austin-tx-1", first.Slug)
	}

	// Second colliding record in the same run: -1 is only reserved in
	// memory, not yet visible in the store.
	second, err := n.Normalize(context.Background(), place("p-2"), testGap())
	if err != nil {
		t.Fatalf("second Normalize: %v", err)
	}
	if second.Slug != "acme-coffee-austin-tx-2" {
		t.Errorf("second collision slug = %q; want acme-coffee-austin-tx-2", second.Slug)
	}
}

func TestNormalizeTimestampFallbackTerminates(t *testing.T) {
	taken := map[string]bool{}
	checker := &fakeSlugChecker{taken: taken}
	n := NewNormalizer(newTestLogger(), checker, "places")
	n.now = func() time.Time { return time.UnixMilli(1756600000000) }

	base := "acme-coffee-austin-tx"
	taken[base] = true
	for i := 1; i <= maxSlugAttempts; i++ {
		taken[base+"-"+string(rune('0'+i))] = true
	}

	place := &models.RawPlace{
		Name:        "Acme Coffee",
		FullAddress: "123 Main St, Austin, TX 78701, United States",
	}
	listing, err := n.Normalize(context.Background(), place, testGap())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if listing.Slug != base+"-1756600000000" {
		t.Errorf("fallback slug = %q; want %q", listing.Slug, base+"-1756600000000")
	}
	if !strings.HasPrefix(listing.Slug, base+"-") {
		t.Errorf("fallback slug %q must extend the base", listing.Slug)
	}
}
