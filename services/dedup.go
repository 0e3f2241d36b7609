package services

import (
	"gapfill/models"
	"gapfill/utils"
)

// Deduplicator tracks provider identifiers already present among active
// listings plus every identifier admitted during the current run. It is
// run-scoped: construct one per run and discard it, so state never leaks
// between runs.
type Deduplicator struct {
	logger *utils.Logger
	seen   map[string]struct{}
}

// NewDeduplicator seeds the set with the sourceIds of all active listings.
func NewDeduplicator(logger *utils.Logger, existing []string) *Deduplicator {
	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		if id != "" {
			seen[id] = struct{}{}
		}
	}
	logger.Info("[dedup] seeded with %d known source ids", len(seen))
	return &Deduplicator{logger: logger, seen: seen}
}

// Admit reports whether the record should be normalized and persisted.
// Records without an external identifier are always admitted. A known
// identifier is rejected; a new one is remembered immediately — before
// persistence — so the same business surfacing under a second gap within
// the run is rejected too.
func (d *Deduplicator) Admit(p *models.RawPlace) bool {
	id := p.ExternalID()
	if id == "" {
		return true
	}
	if _, dup := d.seen[id]; dup {
		d.logger.Debug("[dedup] duplicate source id skipped: %s (%s)", id, p.Name)
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

// Size returns the number of identifiers currently tracked.
func (d *Deduplicator) Size() int {
	return len(d.seen)
}
