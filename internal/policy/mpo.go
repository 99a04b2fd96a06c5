package policy

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"foliosim/internal/constraint"
	"foliosim/internal/cost"
	"foliosim/internal/domain"
	"foliosim/internal/forecast"
	"foliosim/internal/risk"
	"foliosim/internal/solver"
)

// MultiPeriodOpt plans Horizon periods ahead over stacked post-trade weight
// blocks [w_1 ... w_H] and executes only the first period's trades. Forecast
// returns decay geometrically across planning steps; transaction costs are
// charged on the differences between consecutive blocks.
type MultiPeriodOpt struct {
	Horizon     int
	Decay       float64
	Forecast    forecast.Forecaster
	Risk        risk.Estimator
	RiskWindow  int
	GammaRisk   float64
	GammaTrade  float64
	GammaHold   float64
	Costs       []cost.Model
	Constraints constraint.Set
	Solver      solver.Solver
}

var _ Policy = (*MultiPeriodOpt)(nil)

func (*MultiPeriodOpt) Name() string { return "multi_period_opt" }

// NewMultiPeriodOpt validates the planning parameters and rejects
// constraints that have no lifted form over stacked weight blocks.
func NewMultiPeriodOpt(m MultiPeriodOpt) (*MultiPeriodOpt, error) {
	if m.Horizon < 1 {
		return nil, domain.NewConfigError("horizon", fmt.Errorf("must be at least 1, got %d", m.Horizon))
	}
	if m.Decay <= 0 || m.Decay > 1 {
		return nil, domain.NewConfigError("decay", fmt.Errorf("must be in (0, 1], got %g", m.Decay))
	}
	for _, c := range m.Constraints {
		if !liftable(c) {
			return nil, domain.NewConfigError("constraints",
				fmt.Errorf("%s has no multi-period form", c.Name()))
		}
	}
	return &m, nil
}

// liftable reports whether a constraint can be applied per planning step.
// Turnover needs the paired block projection; the rest apply blockwise.
func liftable(c constraint.Constraint) bool {
	switch c.(type) {
	case constraint.LongOnly, constraint.LeverageLimit, constraint.TurnoverLimit,
		constraint.MaxWeights, constraint.MinWeights, constraint.DollarNeutral,
		constraint.MinCash:
		return true
	default:
		return false
	}
}

// Decide solves the stacked program. The variable is the concatenation of H
// post-trade weight deviations from the current weights; block k holds
// w_{k+1} - w.
func (m *MultiPeriodOpt) Decide(ctx context.Context, p domain.Portfolio, snap *domain.Snapshot) (*Decision, error) {
	n := len(snap.Universe)
	if len(p.Holdings) != n {
		return nil, domain.ErrUniverseMismatch
	}
	v := p.Value()
	if v <= 0 {
		return nil, fmt.Errorf("policy: non-positive portfolio value %g", v)
	}
	w := p.Weights()

	sigma, riskFallback, err := m.estimateRisk(snap, n)
	if err != nil {
		return nil, err
	}

	rhat := make([]float64, n)
	if m.Forecast != nil {
		rhat = m.Forecast.Expected(snap)
	}

	prog := &solver.Program{N: n * m.Horizon}
	for k := 0; k < m.Horizon; k++ {
		prog.Terms = append(prog.Terms, m.stepTerms(snap, p, w, rhat, sigma, k)...)
		prog.Regions = append(prog.Regions, m.stepRegions(snap, p, k)...)
	}
	prog.Terms = append(prog.Terms, m.tradeTerms(snap, p)...)

	sol, err := m.Solver.Solve(ctx, prog)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("policy: solve: %w", err)
	}
	if sol == nil {
		sol = &solver.Solution{Status: domain.StatusSolverError}
	}

	trades := make([]float64, n)
	if sol.Status == domain.StatusOptimal {
		// Execute only the first planning step.
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

func (m *MultiPeriodOpt) estimateRisk(snap *domain.Snapshot, n int) (*mat.SymDense, bool, error) {
	if m.GammaRisk == 0 || m.Risk == nil {
		return risk.Default(n, defaultRiskScale), false, nil
	}
	sigma, err := m.Risk.Estimate(snap.PastReturnsWindow(m.RiskWindow))
	if err == nil {
		return sigma, false, nil
	}
	if errors.Is(err, risk.ErrWindowTooShort) {
		return risk.Default(n, defaultRiskScale), true, nil
	}
	return nil, false, fmt.Errorf("policy: risk estimate: %w", err)
}

// stepTerms builds the return, risk, and holding-cost terms for planning
// step k, lifted onto that step's block of the stacked variable.
func (m *MultiPeriodOpt) stepTerms(snap *domain.Snapshot, p domain.Portfolio, w, rhat []float64, sigma *mat.SymDense, k int) []solver.Term {
	n := len(w)
	decay := math.Pow(m.Decay, float64(k))

	rk := make([]float64, n)
	var rw float64
	for i := range rhat {
		rk[i] = decay * rhat[i]
		rw += rk[i] * w[i]
	}
	terms := []solver.Term{
		solver.SubTerm{Start: k * n, Len: n, Inner: solver.Linear{C: rk, Const: rw}},
	}

	if snap.CashReturn != 0 {
		c := make([]float64, n)
		var sw float64
		for i := range w {
			c[i] = -decay * snap.CashReturn
			sw += w[i]
		}
		terms = append(terms, solver.SubTerm{
			Start: k * n, Len: n,
			Inner: solver.Linear{C: c, Const: decay * snap.CashReturn * (1 - sw)},
		})
	}
	if m.GammaRisk > 0 {
		terms = append(terms, solver.SubTerm{
			Start: k * n, Len: n,
			Inner: solver.Quadratic{P: sigma, Center: w, Gamma: m.GammaRisk},
		})
	}
	if m.GammaHold > 0 {
		for _, cm := range m.Costs {
			if _, ok := cm.(*cost.Holding); !ok {
				continue
			}
			terms = append(terms, solver.SubTerm{
				Start: k * n, Len: n,
				Inner: solver.Weighted{Term: cm.Term(snap, p), W: m.GammaHold},
			})
		}
	}
	return terms
}

// tradeTerms charges transaction costs on the block differences: step 0
// trades from the current weights, later steps trade between consecutive
// planned blocks.
func (m *MultiPeriodOpt) tradeTerms(snap *domain.Snapshot, p domain.Portfolio) []solver.Term {
	if m.GammaTrade == 0 {
		return nil
	}
	n := len(p.Holdings)
	var terms []solver.Term
	for _, cm := range m.Costs {
		if _, ok := cm.(*cost.Transaction); !ok {
			continue
		}
		inner := solver.Weighted{Term: cm.Term(snap, p), W: m.GammaTrade}
		for k := 0; k < m.Horizon; k++ {
			dt := solver.DiffTerm{J: k * n, Len: n, Inner: inner}
			if k == 0 {
				dt.I = -1
				dt.Base = make([]float64, n)
			} else {
				dt.I = (k - 1) * n
			}
			terms = append(terms, dt)
		}
	}
	return terms
}

// stepRegions lifts the constraint set onto planning step k. Turnover at
// step k limits the L1 distance between block k and its predecessor, which
// the paired block ball expresses exactly for later steps.
func (m *MultiPeriodOpt) stepRegions(snap *domain.Snapshot, p domain.Portfolio, k int) []solver.Region {
	n := len(p.Holdings)
	var regions []solver.Region
	for _, c := range m.Constraints {
		if t, ok := c.(constraint.TurnoverLimit); ok {
			if k == 0 {
				regions = append(regions, solver.SubRegion{
					Start: 0, Len: n, Inner: t.Region(snap, p),
				})
			} else {
				regions = append(regions, solver.BlockL1Ball{
					I: (k - 1) * n, J: k * n, Len: n, Radius: 2 * t.Delta,
				})
			}
			continue
		}
		regions = append(regions, solver.SubRegion{
			Start: k * n, Len: n, Inner: c.Region(snap, p),
		})
	}
	return regions
}
