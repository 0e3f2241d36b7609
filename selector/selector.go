// Package selector picks the subset of coverage gaps to fill within a run's
// budget window (max total cost, max gap count).
package selector

import (
	"sort"

	"github.com/shopspring/decimal"

	"gapfill/models"
	"gapfill/utils"
)

// Strategy names the ranking applied before the greedy pass.
type Strategy string

const (
	// GreedyByScore ranks gaps by raw coverage score: fill the largest gaps
	// first, regardless of what each costs.
	GreedyByScore Strategy = "score"
	// GreedyByValueDensity ranks gaps by score per unit of estimated cost,
	// trading gap size for budget efficiency.
	GreedyByValueDensity Strategy = "density"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s == GreedyByScore || s == GreedyByValueDensity
}

// Selector applies a greedy single-pass selection under the budget window.
// It is an approximation, not a knapsack solve: a rejected gap is skipped
// and the scan continues, so a cheaper gap further down the ranking can
// still be taken.
type Selector struct {
	logger    *utils.Logger
	strategy  Strategy
	maxBudget decimal.Decimal
	maxCities int
}

// New creates a Selector for the given strategy and ceilings.
func New(logger *utils.Logger, strategy Strategy, maxBudget decimal.Decimal, maxCities int) *Selector {
	return &Selector{
		logger:    logger,
		strategy:  strategy,
		maxBudget: maxBudget,
		maxCities: maxCities,
	}
}

// Select returns the chosen gaps in ranking order plus their summed
// estimated cost. The input slice is not modified.
func (s *Selector) Select(gaps []models.CoverageGap) ([]models.CoverageGap, decimal.Decimal) {
	ranked := make([]models.CoverageGap, len(gaps))
	copy(ranked, gaps)
	sort.SliceStable(ranked, func(i, j int) bool {
		return s.rank(ranked[i]) > s.rank(ranked[j])
	})

	selected := make([]models.CoverageGap, 0, s.maxCities)
	running := decimal.Zero

	for _, gap := range ranked {
		if len(selected) >= s.maxCities {
			break
		}
		next := running.Add(gap.EstimatedCost)
		if next.GreaterThan(s.maxBudget) {
			// Keep scanning: a cheaper gap below may still fit.
			s.logger.Debug("[selector] %s/%s over budget ($%s + $%s > $%s) — skipping",
				gap.CitySlug, gap.Category, running.StringFixed(2),
				gap.EstimatedCost.StringFixed(2), s.maxBudget.StringFixed(2))
			continue
		}
		selected = append(selected, gap)
		running = next
	}

	s.logger.Info("[selector] strategy=%s selected %d/%d gaps, estimated cost $%s (budget $%s)",
		s.strategy, len(selected), len(gaps), running.StringFixed(2), s.maxBudget.StringFixed(2))
	return selected, running
}

func (s *Selector) rank(gap models.CoverageGap) float64 {
	if s.strategy == GreedyByValueDensity {
		cost, _ := gap.EstimatedCost.Float64()
		if cost > 0 {
			return gap.CoverageScore / cost
		}
	}
	return gap.CoverageScore
}
