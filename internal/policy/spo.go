package policy

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"foliosim/internal/constraint"
	"foliosim/internal/cost"
	"foliosim/internal/domain"
	"foliosim/internal/forecast"
	"foliosim/internal/risk"
	"foliosim/internal/solver"
)

// defaultRiskScale sizes the identity fallback risk estimate; it is a
// generous daily variance so the fallback stays conservative.
const defaultRiskScale = 1e-3

// SinglePeriodOpt is the single-period optimization policy. Each period it
// maximizes
//
//	rhat'(w+z) + cash_return * cash_weight
//	  - gamma_risk   * (w+z)' Sigma (w+z)
//	  - gamma_trade  * transaction costs(z)
//	  - gamma_hold   * holding costs(w+z)
//	  - gamma_fcast  * delta'|w+z|
//
// over non-cash trade weights z, subject to the constraint set. The budget
// holds by construction: cash is the residual 1 - sum(w+z), so every traded
// unit is financed from the cash account.
type SinglePeriodOpt struct {
	Forecast    forecast.Forecaster
	Risk        risk.Estimator
	RiskWindow  int
	GammaRisk   float64
	GammaTrade  float64
	GammaHold   float64
	GammaFcast  float64
	Costs       []cost.Model
	Constraints constraint.Set
	Solver      solver.Solver
}

// Compile-time interface check.
var _ Policy = (*SinglePeriodOpt)(nil)

func (*SinglePeriodOpt) Name() string { return "single_period_opt" }

// Decide builds and solves the period's convex program. A rejected risk
// window downgrades to the default risk estimate and marks the decision; a
// non-optimal solver status is passed through untouched for the simulator
// to handle.
func (s *SinglePeriodOpt) Decide(ctx context.Context, p domain.Portfolio, snap *domain.Snapshot) (*Decision, error) {
	n := len(snap.Universe)
	if len(p.Holdings) != n {
		return nil, domain.ErrUniverseMismatch
	}
	v := p.Value()
	if v <= 0 {
		return nil, fmt.Errorf("policy: non-positive portfolio value %g", v)
	}
	w := p.Weights()

	sigma, riskFallback, err := s.estimateRisk(snap, n)
	if err != nil {
		return nil, err
	}

	prog := &solver.Program{N: n}
	prog.Terms = append(prog.Terms, s.returnTerms(snap, p, w)...)
	if s.GammaRisk > 0 {
		prog.Terms = append(prog.Terms, solver.Quadratic{P: sigma, Center: w, Gamma: s.GammaRisk})
	}
	for _, m := range s.Costs {
		gamma := s.costGamma(m)
		if gamma == 0 {
			continue
		}
		prog.Terms = append(prog.Terms, solver.Weighted{Term: m.Term(snap, p), W: gamma})
	}
	if s.GammaFcast > 0 {
		prog.Terms = append(prog.Terms, forecastErrorTerm(snap, w, s.RiskWindow, s.GammaFcast))
	}
	prog.Regions = s.Constraints.Regions(snap, p)

	sol, err := s.Solver.Solve(ctx, prog)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("policy: solve: %w", err)
	}
	if sol == nil {
		sol = &solver.Solution{Status: domain.StatusSolverError}
	}

	trades := make([]float64, n)
	if sol.Status == domain.StatusOptimal {
		for i := 0; i < n; i++ {
			trades[i] = sol.Z[i] * v
		}
	}
	return &Decision{
		Trades:       trades,
		Status:       sol.Status,
		RiskFallback: riskFallback,
		Objective:    sol.Objective,
		Iters:        sol.Iters,
	}, nil
}

// estimateRisk runs the configured estimator over the snapshot's window,
// substituting the identity default when the window is rejected.
func (s *SinglePeriodOpt) estimateRisk(snap *domain.Snapshot, n int) (*mat.SymDense, bool, error) {
	if s.GammaRisk == 0 || s.Risk == nil {
		return risk.Default(n, defaultRiskScale), false, nil
	}
	sigma, err := s.Risk.Estimate(snap.PastReturnsWindow(s.RiskWindow))
	if err == nil {
		return sigma, false, nil
	}
	if errors.Is(err, risk.ErrWindowTooShort) {
		return risk.Default(n, defaultRiskScale), true, nil
	}
	return nil, false, fmt.Errorf("policy: risk estimate: %w", err)
}

// returnTerms builds the expected-return pieces of the objective: forecast
// returns on post-trade risky weights plus the cash return on the residual
// cash weight.
func (s *SinglePeriodOpt) returnTerms(snap *domain.Snapshot, p domain.Portfolio, w []float64) []solver.Term {
	n := len(w)
	rhat := make([]float64, n)
	if s.Forecast != nil {
		rhat = s.Forecast.Expected(snap)
	}
	var rw float64
	for i := range w {
		rw += rhat[i] * w[i]
	}
	terms := []solver.Term{solver.Linear{C: rhat, Const: rw}}

	if snap.CashReturn != 0 {
		// cash weight after trading: (1 - sum(w)) - sum(z)
		c := make([]float64, n)
		var sw float64
		for i := range w {
			c[i] = -snap.CashReturn
			sw += w[i]
		}
		terms = append(terms, solver.Linear{C: c, Const: snap.CashReturn * (1 - sw)})
	}
	return terms
}

// costGamma picks the multiplier for a cost model's objective term. A zero
// multiplier drops the term; unknown models enter at unit weight.
func (s *SinglePeriodOpt) costGamma(m cost.Model) float64 {
	switch m.(type) {
	case *cost.Transaction:
		return s.GammaTrade
	case *cost.Holding:
		return s.GammaHold
	default:
		return 1
	}
}

// forecastErrorTerm penalizes post-trade exposure by the standard error of
// the mean-return forecast: -gamma * delta'|w+z|.
func forecastErrorTerm(snap *domain.Snapshot, w []float64, window int, gamma float64) solver.Term {
	delta := forecast.MeanError(snap, window)
	return solver.FuncTerm{
		V: func(z []float64) float64 {
			var s float64
			for i := range z {
				s += delta[i] * solver.SmoothAbs(w[i]+z[i])
			}
			return -gamma * s
		},
		G: func(z []float64, grad []float64) {
			for i := range z {
				grad[i] -= gamma * delta[i] * solver.SmoothAbsGrad(w[i]+z[i])
			}
		},
	}
}
