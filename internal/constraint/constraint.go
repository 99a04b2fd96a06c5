// Package constraint implements convex trading constraints and their
// composition. Each constraint turns the current snapshot and portfolio into
// a solver region over non-cash trade weights z; a Set is the intersection
// of its members' regions. Structural contradiction between constraints is
// not detected up front; an empty intersection surfaces as an infeasible
// solver status at solve time.
package constraint

import (
	"foliosim/internal/domain"
	"foliosim/internal/solver"
)

// Constraint describes one convex feasible set over trades or post-trade
// weights.
type Constraint interface {
	// Name identifies the constraint in config and logs.
	Name() string

	// Region materializes the constraint for one period. w-shaped
	// constraints shift themselves by the current weights so the region
	// acts on the trade variable directly.
	Region(snap *domain.Snapshot, p domain.Portfolio) solver.Region
}

// Set is the conjunction of constraints.
type Set []Constraint

// Regions materializes every member for one period.
func (s Set) Regions(snap *domain.Snapshot, p domain.Portfolio) []solver.Region {
	out := make([]solver.Region, 0, len(s))
	for _, c := range s {
		out = append(out, c.Region(snap, p))
	}
	return out
}

// Compile-time interface checks.
var (
	_ Constraint = LongOnly{}
	_ Constraint = LeverageLimit{}
	_ Constraint = TurnoverLimit{}
	_ Constraint = MaxWeights{}
	_ Constraint = MinWeights{}
	_ Constraint = DollarNeutral{}
	_ Constraint = ParticipationRateLimit{}
	_ Constraint = MinCash{}
)

// LongOnly requires all post-trade holdings to be non-negative.
type LongOnly struct{}

func (LongOnly) Name() string { return "long_only" }

func (LongOnly) Region(_ *domain.Snapshot, p domain.Portfolio) solver.Region {
	w := p.Weights()
	lo := make([]float64, len(w))
	for i := range w {
		lo[i] = -w[i]
	}
	return solver.Box{Lo: lo}
}

// LeverageLimit bounds the L1 norm of post-trade non-cash weights.
type LeverageLimit struct {
	Limit float64
}

func (LeverageLimit) Name() string { return "leverage_limit" }

func (c LeverageLimit) Region(_ *domain.Snapshot, p domain.Portfolio) solver.Region {
	w := p.Weights()
	offset := make([]float64, len(w))
	for i := range w {
		offset[i] = -w[i]
	}
	return solver.L1Ball{Radius: c.Limit, Offset: offset}
}

// TurnoverLimit bounds half the L1 norm of the trade vector as a fraction
// of portfolio value.
type TurnoverLimit struct {
	Delta float64
}

func (TurnoverLimit) Name() string { return "turnover_limit" }

func (c TurnoverLimit) Region(_ *domain.Snapshot, _ domain.Portfolio) solver.Region {
	return solver.L1Ball{Radius: 2 * c.Delta}
}

// MaxWeights caps each post-trade weight. PerAsset overrides Limit when
// non-nil.
type MaxWeights struct {
	Limit    float64
	PerAsset []float64
}

func (MaxWeights) Name() string { return "max_weights" }

func (c MaxWeights) Region(_ *domain.Snapshot, p domain.Portfolio) solver.Region {
	w := p.Weights()
	hi := make([]float64, len(w))
	for i := range w {
		limit := c.Limit
		if c.PerAsset != nil {
			limit = c.PerAsset[i]
		}
		hi[i] = limit - w[i]
	}
	return solver.Box{Hi: hi}
}

// MinWeights floors each post-trade weight. PerAsset overrides Limit when
// non-nil.
type MinWeights struct {
	Limit    float64
	PerAsset []float64
}

func (MinWeights) Name() string { return "min_weights" }

func (c MinWeights) Region(_ *domain.Snapshot, p domain.Portfolio) solver.Region {
	w := p.Weights()
	lo := make([]float64, len(w))
	for i := range w {
		limit := c.Limit
		if c.PerAsset != nil {
			limit = c.PerAsset[i]
		}
		lo[i] = limit - w[i]
	}
	return solver.Box{Lo: lo}
}

// DollarNeutral forces the post-trade non-cash weights to sum to zero, so
// the book is all cash with offsetting long and short legs.
type DollarNeutral struct{}

func (DollarNeutral) Name() string { return "dollar_neutral" }

func (DollarNeutral) Region(_ *domain.Snapshot, p domain.Portfolio) solver.Region {
	w := p.Weights()
	ones := make([]float64, len(w))
	var sum float64
	for i := range w {
		ones[i] = 1
		sum += w[i]
	}
	return solver.Hyperplane{A: ones, B: -sum}
}

// ParticipationRateLimit caps each asset's trade at a fraction of its
// observed market volume.
type ParticipationRateLimit struct {
	MaxFraction float64
}

func (ParticipationRateLimit) Name() string { return "participation_rate" }

func (c ParticipationRateLimit) Region(snap *domain.Snapshot, p domain.Portfolio) solver.Region {
	n := len(snap.Universe)
	v := p.Value()
	lo := make([]float64, n)
	hi := make([]float64, n)
	for i := 0; i < n; i++ {
		bound := 0.0
		if snap.Volumes != nil && v > 0 {
			bound = snap.Volumes[i] * c.MaxFraction / v
		}
		lo[i] = -bound
		hi[i] = bound
	}
	return solver.Box{Lo: lo, Hi: hi}
}

// MinCash keeps the post-trade cash balance above a currency floor.
type MinCash struct {
	Floor float64
}

func (MinCash) Name() string { return "min_cash" }

func (c MinCash) Region(_ *domain.Snapshot, p domain.Portfolio) solver.Region {
	w := p.Weights()
	v := p.Value()
	ones := make([]float64, len(w))
	var sum float64
	for i := range w {
		ones[i] = 1
		sum += w[i]
	}
	rhs := 1.0
	if v > 0 {
		rhs = 1 - c.Floor/v
	}
	return solver.Halfspace{A: ones, B: rhs - sum}
}

// LongCash requires non-negative post-trade cash.
func LongCash() MinCash { return MinCash{Floor: 0} }
