// Package cost implements the transaction and holding cost models. Every
// model is usable two ways: embedded into a policy's convex program as a
// function of the trade vector, and evaluated by the simulator as a realized
// currency amount. The two evaluations agree at the solution point, which
// keeps the optimizer's view of costs honest with the accounting.
package cost

import (
	"math"

	"foliosim/internal/domain"
	"foliosim/internal/solver"
)

// Model is one convex cost model.
type Model interface {
	// Name identifies the model in result logs.
	Name() string

	// Term returns the model's contribution to a policy objective as a
	// concave term (minus the cost) over non-cash trade weights z, given
	// the snapshot and the pre-trade portfolio.
	Term(snap *domain.Snapshot, p domain.Portfolio) solver.Term

	// Simulate returns the realized currency cost of executing trades
	// (currency, non-cash) given the snapshot and the post-trade holdings.
	Simulate(snap *domain.Snapshot, trades []float64, holdingsPlus []float64) float64
}

// Simulate evaluates and sums all models.
func Simulate(models []Model, snap *domain.Snapshot, trades, holdingsPlus []float64) float64 {
	var total float64
	for _, m := range models {
		total += m.Simulate(snap, trades, holdingsPlus)
	}
	return total
}

// ---------------------------------------------------------------------------
// Transaction cost
// ---------------------------------------------------------------------------

// Transaction models trading friction as a half-spread cost linear in trade
// size plus a superlinear market-impact cost scaled by trailing volatility
// and inversely by market volume:
//
//	cost(u) = sum_i  spread_i |u_i|  +  C sigma_i |u_i|^P / V_i^(P-1)
//
// With the default P = 1.5 the impact term is the usual 3/2-power model.
type Transaction struct {
	// HalfSpreads overrides the snapshot's per-asset half spreads when
	// non-nil.
	HalfSpreads []float64

	// NonlinCoeff scales the impact term. Zero disables it.
	NonlinCoeff float64

	// Power is the impact exponent; 0 means the default 1.5.
	Power float64
}

// Compile-time interface check.
var _ Model = (*Transaction)(nil)

func (t *Transaction) Name() string { return "transaction" }

func (t *Transaction) power() float64 {
	if t.Power > 0 {
		return t.Power
	}
	return 1.5
}

func (t *Transaction) spreads(snap *domain.Snapshot) []float64 {
	if t.HalfSpreads != nil {
		return t.HalfSpreads
	}
	return snap.Spreads
}

// impactCoeffs returns the per-asset weight-space impact coefficients
// C sigma_i (v/V_i)^(P-1). Assets with no observable volume get zero
// impact rather than a singular coefficient.
func (t *Transaction) impactCoeffs(snap *domain.Snapshot, value float64) []float64 {
	n := len(snap.Universe)
	out := make([]float64, n)
	if t.NonlinCoeff == 0 || snap.Volumes == nil || value <= 0 {
		return out
	}
	p := t.power()
	for i := 0; i < n; i++ {
		vol := snap.Volumes[i]
		if vol <= 0 {
			continue
		}
		sigma := 0.0
		if snap.Sigmas != nil {
			sigma = snap.Sigmas[i]
		}
		out[i] = t.NonlinCoeff * sigma * math.Pow(value/vol, p-1)
	}
	return out
}

func (t *Transaction) Term(snap *domain.Snapshot, p domain.Portfolio) solver.Term {
	spreads := t.spreads(snap)
	coeffs := t.impactCoeffs(snap, p.Value())
	power := t.power()

	return solver.FuncTerm{
		V: func(z []float64) float64 {
			var c float64
			for i := range z {
				a := solver.SmoothAbs(z[i])
				c += spreads[i] * a
				if coeffs[i] > 0 {
					c += coeffs[i] * math.Pow(a, power)
				}
			}
			return -c
		},
		G: func(z []float64, grad []float64) {
			for i := range z {
				s := solver.SmoothAbsGrad(z[i])
				g := spreads[i] * s
				if coeffs[i] > 0 {
					g += coeffs[i] * power * math.Pow(solver.SmoothAbs(z[i]), power-1) * s
				}
				grad[i] -= g
			}
		},
	}
}

func (t *Transaction) Simulate(snap *domain.Snapshot, trades []float64, _ []float64) float64 {
	spreads := t.spreads(snap)
	power := t.power()
	var c float64
	for i, u := range trades {
		a := math.Abs(u)
		c += spreads[i] * a
		if t.NonlinCoeff > 0 && snap.Volumes != nil && snap.Volumes[i] > 0 {
			sigma := 0.0
			if snap.Sigmas != nil {
				sigma = snap.Sigmas[i]
			}
			c += t.NonlinCoeff * sigma * math.Pow(a, power) / math.Pow(snap.Volumes[i], power-1)
		}
	}
	return c
}

// ---------------------------------------------------------------------------
// Holding cost
// ---------------------------------------------------------------------------

// Holding models the per-period carry of the post-trade book: a borrow fee
// charged on short positions minus dividends earned on long exposure.
type Holding struct {
	// BorrowCosts overrides the snapshot's per-asset borrow fees when
	// non-nil.
	BorrowCosts []float64

	// Dividends are per-asset per-period dividend yields. Optional.
	Dividends []float64
}

// Compile-time interface check.
var _ Model = (*Holding)(nil)

func (h *Holding) Name() string { return "holding" }

func (h *Holding) borrow(snap *domain.Snapshot) []float64 {
	if h.BorrowCosts != nil {
		return h.BorrowCosts
	}
	return snap.BorrowCosts
}

func (h *Holding) Term(snap *domain.Snapshot, p domain.Portfolio) solver.Term {
	borrow := h.borrow(snap)
	w := p.Weights()

	return solver.FuncTerm{
		V: func(z []float64) float64 {
			var c float64
			for i := range z {
				wp := w[i] + z[i]
				c += borrow[i] * smoothNeg(wp)
				if h.Dividends != nil {
					c -= h.Dividends[i] * wp
				}
			}
			return -c
		},
		G: func(z []float64, grad []float64) {
			for i := range z {
				wp := w[i] + z[i]
				g := borrow[i] * smoothNegGrad(wp)
				if h.Dividends != nil {
					g -= h.Dividends[i]
				}
				grad[i] -= g
			}
		},
	}
}

func (h *Holding) Simulate(snap *domain.Snapshot, _ []float64, holdingsPlus []float64) float64 {
	borrow := h.borrow(snap)
	var c float64
	for i, hp := range holdingsPlus {
		if hp < 0 {
			c += borrow[i] * -hp
		}
		if h.Dividends != nil {
			c -= h.Dividends[i] * hp
		}
	}
	return c
}

// smoothNeg is a smooth approximation of max(-x, 0), convex in x.
func smoothNeg(x float64) float64 {
	return (solver.SmoothAbs(x) - x) / 2
}

// smoothNegGrad is its derivative: -1 for x << 0, 0 for x >> 0.
func smoothNegGrad(x float64) float64 {
	return (solver.SmoothAbsGrad(x) - 1) / 2
}
