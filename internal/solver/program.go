// Package solver defines the convex-program representation used by
// optimization policies and a swappable Solver interface for maximizing it.
//
// A program's variable is a flat []float64 (trade weights for single-period
// policies, stacked per-step weights for multi-period ones). Objective terms
// contribute value and gradient; constraints contribute Euclidean
// projections, which the solver composes with Dykstra's alternating
// projection scheme. Policies depend only on these interfaces, so alternative
// convex-program backends can be substituted without touching the engine.
package solver

import (
	"context"

	"foliosim/internal/domain"
)

// Term is one additive piece of a program objective. Terms must be concave
// in the variable (the solver maximizes), which for cost terms means they
// are added pre-negated.
type Term interface {
	// Value evaluates the term at z.
	Value(z []float64) float64

	// AddGrad accumulates the term's gradient at z into grad. For nonsmooth
	// terms a subgradient (or smoothed gradient) is acceptable.
	AddGrad(z []float64, grad []float64)
}

// Region is a convex feasible set described by its Euclidean projection.
type Region interface {
	// Project writes the Euclidean projection of z onto the region into out.
	// z and out may alias.
	Project(z []float64, out []float64)

	// Violation returns a non-negative measure of constraint violation at z,
	// zero when z is feasible.
	Violation(z []float64) float64
}

// Program is a convex program: maximize the sum of Terms over the
// intersection of Regions.
type Program struct {
	N       int
	Terms   []Term
	Regions []Region
}

// Objective evaluates the full objective at z.
func (p *Program) Objective(z []float64) float64 {
	var v float64
	for _, t := range p.Terms {
		v += t.Value(z)
	}
	return v
}

// Gradient writes the full objective gradient at z into grad.
func (p *Program) Gradient(z []float64, grad []float64) {
	for i := range grad {
		grad[i] = 0
	}
	for _, t := range p.Terms {
		t.AddGrad(z, grad)
	}
}

// MaxViolation returns the largest constraint violation at z across all
// regions.
func (p *Program) MaxViolation(z []float64) float64 {
	var worst float64
	for _, r := range p.Regions {
		if v := r.Violation(z); v > worst {
			worst = v
		}
	}
	return worst
}

// Solution is the outcome of one solve.
type Solution struct {
	Z         []float64
	Status    domain.Status
	Objective float64
	Iters     int
}

// Solver solves convex programs. Implementations must be deterministic for
// identical inputs so that backtests replay byte-identically.
type Solver interface {
	Solve(ctx context.Context, p *Program) (*Solution, error)
}
