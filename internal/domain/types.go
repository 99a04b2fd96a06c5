// Package domain holds the core value types shared across the backtesting
// engine: asset universes, portfolio state, market snapshots, and the status
// taxonomy for period outcomes.
package domain

import (
	"fmt"
	"time"
)

// Universe is an ordered set of asset names, fixed for the duration of one
// backtest. It defines the dimensionality and ordering of every holdings,
// trade, and market-data vector. Cash is not part of the universe; it is
// tracked separately on the Portfolio.
type Universe []string

// Index returns the position of the named asset, or -1 if it is not in the
// universe.
func (u Universe) Index(name string) int {
	for i, a := range u {
		if a == name {
			return i
		}
	}
	return -1
}

// Equal reports whether two universes contain the same assets in the same
// order.
func (u Universe) Equal(other Universe) bool {
	if len(u) != len(other) {
		return false
	}
	for i := range u {
		if u[i] != other[i] {
			return false
		}
	}
	return true
}

// Portfolio is the simulator-owned ledger: per-asset holdings in currency,
// aligned to the universe, plus a cash balance. It is mutated only by the
// simulator at period boundaries.
type Portfolio struct {
	Holdings []float64
	Cash     float64
}

// NewPortfolio creates a portfolio of n zero holdings and the given cash.
func NewPortfolio(n int, cash float64) Portfolio {
	return Portfolio{Holdings: make([]float64, n), Cash: cash}
}

// Value returns total portfolio value: sum of holdings plus cash.
func (p Portfolio) Value() float64 {
	v := p.Cash
	for _, h := range p.Holdings {
		v += h
	}
	return v
}

// Weights returns the non-cash holdings as fractions of total value. The
// cash weight is 1 minus their sum.
func (p Portfolio) Weights() []float64 {
	v := p.Value()
	w := make([]float64, len(p.Holdings))
	if v == 0 {
		return w
	}
	for i, h := range p.Holdings {
		w[i] = h / v
	}
	return w
}

// Copy returns a deep copy of the portfolio.
func (p Portfolio) Copy() Portfolio {
	h := make([]float64, len(p.Holdings))
	copy(h, p.Holdings)
	return Portfolio{Holdings: h, Cash: p.Cash}
}

// Snapshot is an immutable view of market data observable at the open of
// period t. It never contains information from later periods: PastReturns
// ends strictly before t, and Volumes/Sigmas are trailing estimates.
//
// All vectors are aligned to the universe. PastReturns has one row per past
// period and len(universe)+1 columns, with the cash (risk-free) return in
// the last column.
type Snapshot struct {
	Time     time.Time
	Universe Universe

	// Prices are per-asset open prices at t.
	Prices []float64

	// Volumes are trailing estimates of per-period market volume in
	// currency (most recent observed value before t).
	Volumes []float64

	// PastReturns holds realized per-period returns for periods strictly
	// before t, oldest first. Cash returns occupy the last column.
	PastReturns [][]float64

	// Sigmas are trailing per-asset return volatilities.
	Sigmas []float64

	// Spreads are per-asset half bid-ask spreads as return fractions.
	Spreads []float64

	// BorrowCosts are per-period borrow fees charged on short positions.
	BorrowCosts []float64

	// CashReturn is the most recent observed per-period risk-free return.
	CashReturn float64
}

// PastReturnsWindow returns the last n rows of PastReturns (all rows when
// fewer are available), restricted to non-cash columns.
func (s *Snapshot) PastReturnsWindow(n int) [][]float64 {
	rows := s.PastReturns
	if n > 0 && len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = r[:len(s.Universe)]
	}
	return out
}

// Status classifies the outcome of one period's trade decision.
type Status int

const (
	// StatusOptimal means the policy produced an optimal trade.
	StatusOptimal Status = iota
	// StatusInfeasible means the solver found the feasible set empty.
	StatusInfeasible
	// StatusUnbounded means the program had no finite optimum.
	StatusUnbounded
	// StatusSolverError means the solver failed numerically or timed out.
	StatusSolverError
)

var statusNames = [...]string{"optimal", "infeasible", "unbounded", "solver_error"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}
