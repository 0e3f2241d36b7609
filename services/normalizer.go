package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gapfill/models"
	"gapfill/utils"
)

// maxSlugAttempts bounds the numeric-suffix retry loop before the
// timestamp fallback kicks in.
const maxSlugAttempts = 5

// SlugChecker tells the normalizer whether a listing slug is already taken
// in the persistent store.
type SlugChecker interface {
	ListingSlugExists(ctx context.Context, slug string) (bool, error)
}

// Normalizer maps raw provider records into canonical listings. It is
// run-scoped: the reserved set tracks slugs handed out during this run that
// the store cannot see yet, closing intra-batch collisions.
type Normalizer struct {
	logger   *utils.Logger
	slugs    SlugChecker
	source   string
	reserved map[string]struct{}
	now      func() time.Time
}

// NewNormalizer creates a Normalizer recording source as every listing's
// provenance.
func NewNormalizer(logger *utils.Logger, slugs SlugChecker, source string) *Normalizer {
	return &Normalizer{
		logger:   logger,
		slugs:    slugs,
		source:   source,
		reserved: make(map[string]struct{}),
		now:      time.Now,
	}
}

// Normalize converts one raw record into a Listing candidate for the given
// gap. The address is parsed best-effort; on failure the gap's own city and
// state are used. The resulting slug is guaranteed unique against both the
// store and every slug already issued this run.
func (n *Normalizer) Normalize(ctx context.Context, p *models.RawPlace, gap models.CoverageGap) (*models.Listing, error) {
	street, city, state, zip, ok := ParseAddress(p.FullAddress)
	if !ok {
		n.logger.Debug("[normalizer] unparseable address %q — using gap city/state", p.FullAddress)
		street = strings.TrimSpace(p.FullAddress)
		city = gap.City
		state = gap.State
		zip = ""
	}

	slug, err := n.resolveSlug(ctx, Slugify(p.Name)+"-"+Slugify(city)+"-"+Slugify(state))
	if err != nil {
		return nil, err
	}

	return &models.Listing{
		Slug:             slug,
		Name:             strings.TrimSpace(p.Name),
		Category:         gap.Category,
		CitySlug:         gap.CitySlug,
		Street:           street,
		City:             city,
		State:            state,
		Zip:              zip,
		Latitude:         p.Latitude,
		Longitude:        p.Longitude,
		Phone:            strings.TrimSpace(p.Phone),
		Website:          strings.TrimSpace(p.Website),
		Rating:           p.Rating,
		ReviewCount:      p.ReviewCount,
		WorkingHours:     p.WorkingHours,
		Subtypes:         p.Subtypes,
		BusinessStatus:   p.BusinessStatus,
		Source:           n.source,
		SourceID:         p.ExternalID(),
		IsActive:         true,
		IsFeatured:       false,
		EnrichmentStatus: "raw",
	}, nil
}

// resolveSlug finds a free slug starting from base, appending -1, -2, … on
// collision. When the bounded attempts are exhausted a timestamp suffix
// guarantees termination.
func (n *Normalizer) resolveSlug(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 0; i <= maxSlugAttempts; i++ {
		if i > 0 {
			candidate = base + "-" + strconv.Itoa(i)
		}
		taken, err := n.taken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("normalizer: check slug %q: %w", candidate, err)
		}
		if !taken {
			n.reserved[candidate] = struct{}{}
			return candidate, nil
		}
	}

	fallback := base + "-" + strconv.FormatInt(n.now().UnixMilli(), 10)
	n.logger.Warn("[normalizer] slug %q exhausted %d attempts — falling back to %q",
		base, maxSlugAttempts, fallback)
	n.reserved[fallback] = struct{}{}
	return fallback, nil
}

func (n *Normalizer) taken(ctx context.Context, slug string) (bool, error) {
	if _, held := n.reserved[slug]; held {
		return true, nil
	}
	return n.slugs.ListingSlugExists(ctx, slug)
}

// ParseAddress splits a free-text address on commas, reading the last three
// segments as city, state+zip and country. Anything before them is the
// street. ok is false when there are too few segments to trust the split.
func ParseAddress(full string) (street, city, state, zip string, ok bool) {
	parts := strings.Split(full, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) < 3 || parts[len(parts)-3] == "" {
		return "", "", "", "", false
	}

	city = parts[len(parts)-3]
	street = strings.Join(parts[:len(parts)-3], ", ")

	stateZip := strings.Fields(parts[len(parts)-2])
	if len(stateZip) == 0 {
		return "", "", "", "", false
	}
	state = stateZip[0]
	if len(stateZip) > 1 {
		zip = stateZip[1]
	}
	return street, city, state, zip, true
}

// Slugify lowercases s and collapses every non-alphanumeric run into a
// single hyphen.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
