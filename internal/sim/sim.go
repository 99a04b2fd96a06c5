// Package sim runs backtests: it advances a portfolio ledger over a market
// provider's period grid, asking a policy for trades each period, charging
// costs, and accruing realized returns. The simulator owns the ledger and
// all accounting; policies only ever see an immutable snapshot and a copy
// of the portfolio.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"foliosim/internal/cost"
	"foliosim/internal/domain"
	"foliosim/internal/market"
	"foliosim/internal/policy"
	"foliosim/internal/result"
)

// Ordering selects the intra-period order of trading and return accrual.
type Ordering int

const (
	// TradeThenAccrue executes the period's trades at the open, then
	// applies the period's returns to the post-trade positions.
	TradeThenAccrue Ordering = iota

	// AccrueThenTrade applies the period's returns first and trades on
	// the grown positions.
	AccrueThenTrade
)

// Options tune a Simulator's accounting behavior.
type Options struct {
	Ordering Ordering

	// ValueTolerance bounds the relative accounting drift allowed per
	// period before the run aborts; 0 means 1e-8.
	ValueTolerance float64

	// MarginThreshold aborts the run when portfolio value falls below
	// this fraction of its initial value; 0 disables the check.
	MarginThreshold float64

	// PeriodsPerYear annualizes result statistics; 0 means 252.
	PeriodsPerYear float64
}

func (o Options) valueTolerance() float64 {
	if o.ValueTolerance > 0 {
		return o.ValueTolerance
	}
	return 1e-8
}

// Simulator drives one backtest configuration. It is safe to run many
// simulators concurrently against the same provider.
type Simulator struct {
	Provider market.Provider
	Policy   policy.Policy
	Costs    []cost.Model
	Options  Options

	Logger *slog.Logger
}

func (s *Simulator) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default().With("component", "sim")
}

// Run backtests the policy from start to end (inclusive) beginning with the
// given portfolio. Periods outside the provider's grid are skipped. The
// context is honored at period boundaries: on cancellation Run returns the
// truncated result together with the context's error.
func (s *Simulator) Run(ctx context.Context, initial domain.Portfolio, start, end time.Time) (*result.Result, error) {
	universe := s.Provider.Universe()
	if len(initial.Holdings) != len(universe) {
		return nil, fmt.Errorf("initial holdings have %d assets, universe has %d: %w",
			len(initial.Holdings), len(universe), domain.ErrUniverseMismatch)
	}

	times := periodsBetween(s.Provider.Times(), start, end)
	if len(times) == 0 {
		return nil, fmt.Errorf("no tradeable periods in [%s, %s]: %w",
			start.Format("2006-01-02"), end.Format("2006-01-02"), domain.ErrEmptyTimeRange)
	}

	p := initial.Copy()
	initialValue := p.Value()
	if initialValue <= 0 {
		return nil, domain.NewConfigError("initial", fmt.Errorf("non-positive starting value %g", initialValue))
	}

	res := result.New(universe, initialValue)
	res.PeriodsPerYear = s.Options.PeriodsPerYear
	log := s.logger()
	log.Info("backtest starting",
		"policy", s.Policy.Name(),
		"periods", len(times),
		"start", times[0],
		"end", times[len(times)-1],
		"value", initialValue)

	for _, t := range times {
		if err := ctx.Err(); err != nil {
			log.Warn("backtest canceled", "time", t, "periods_done", len(res.Entries))
			res.FinalValue = p.Value()
			return res, err
		}
		entry, err := s.step(ctx, &p, t)
		if err != nil {
			res.FinalValue = p.Value()
			return res, err
		}
		res.Append(*entry)

		v := p.Value()
		if s.Options.MarginThreshold > 0 && v < s.Options.MarginThreshold*initialValue {
			res.FinalValue = v
			return res, &domain.AccountingError{
				Time:     t,
				Value:    v,
				Expected: s.Options.MarginThreshold * initialValue,
				Reason:   "portfolio value breached margin threshold",
			}
		}
	}

	res.FinalValue = p.Value()
	log.Info("backtest finished",
		"policy", s.Policy.Name(),
		"periods", len(res.Entries),
		"final_value", res.FinalValue,
		"profit", res.Profit())
	return res, nil
}

// step advances the ledger by one period and returns its record.
func (s *Simulator) step(ctx context.Context, p *domain.Portfolio, t time.Time) (*result.Entry, error) {
	simStart := time.Now()
	log := s.logger()

	snap, err := s.Provider.Snapshot(t)
	if err != nil {
		return nil, fmt.Errorf("snapshot at %s: %w", t.Format("2006-01-02"), err)
	}

	valueBefore := p.Value()

	policyStart := time.Now()
	decision, err := s.Policy.Decide(ctx, p.Copy(), snap)
	policyDur := time.Since(policyStart)
	if err != nil {
		if domain.IsFatal(err) {
			return nil, fmt.Errorf("policy at %s: %w", t.Format("2006-01-02"), err)
		}
		log.Warn("policy failed, using fallback trade", "time", t, "err", err)
		decision = &policy.Decision{
			Trades: make([]float64, len(p.Holdings)),
			Status: domain.StatusSolverError,
		}
	}

	trades := decision.Trades
	fallback := false
	if decision.Status != domain.StatusOptimal {
		log.Warn("solve not optimal, using fallback trade", "time", t, "status", decision.Status)
		trades = make([]float64, len(p.Holdings))
		fallback = true
	}

	returns, cashReturn, err := s.Provider.Realized(t)
	if err != nil {
		return nil, fmt.Errorf("realized returns at %s: %w", t.Format("2006-01-02"), err)
	}

	// The accrual base is whatever positions the period's returns act on:
	// the pre-trade ledger when accruing first, the post-trade ledger
	// otherwise.
	var costCharged, accrual float64
	var postHoldings []float64
	var postCash float64
	if s.Options.Ordering == AccrueThenTrade {
		accrual = accrualOn(p.Holdings, p.Cash, returns, cashReturn)
		accrue(p, returns, cashReturn)
		costCharged = execute(p, snap, s.Costs, trades)
		postHoldings, postCash = copySlice(p.Holdings), p.Cash
	} else {
		costCharged = execute(p, snap, s.Costs, trades)
		postHoldings, postCash = copySlice(p.Holdings), p.Cash
		accrual = accrualOn(p.Holdings, p.Cash, returns, cashReturn)
		accrue(p, returns, cashReturn)
	}

	valueAfter := p.Value()
	expected := valueBefore - costCharged + accrual
	if math.Abs(valueAfter-expected) > s.Options.valueTolerance()*math.Max(1, math.Abs(expected)) {
		return nil, &domain.AccountingError{
			Time:     t,
			Value:    valueAfter,
			Expected: expected,
			Reason:   "period value not conserved",
		}
	}

	entry := &result.Entry{
		Time:         t,
		Value:        valueBefore,
		Cost:         costCharged,
		CashReturn:   cashReturn,
		Trades:       trades,
		Holdings:     postHoldings,
		Cash:         postCash,
		Status:       decision.Status,
		Fallback:     fallback,
		RiskFallback: decision.RiskFallback,
		PolicyDur:    policyDur,
	}
	if valueBefore > 0 {
		entry.Return = (valueAfter - valueBefore) / valueBefore
	}
	entry.SimDur = time.Since(simStart) - policyDur
	return entry, nil
}

// accrualOn is the currency gain the period's returns produce on the given
// positions.
func accrualOn(holdings []float64, cashAmt float64, returns []float64, cashReturn float64) float64 {
	var a float64
	for i, r := range returns {
		a += holdings[i] * r
	}
	return a + cashAmt*cashReturn
}

// execute applies trades to the ledger and charges costs against cash. It
// returns the total cost in currency.
func execute(p *domain.Portfolio, snap *domain.Snapshot, models []cost.Model, trades []float64) float64 {
	var traded float64
	for i, u := range trades {
		p.Holdings[i] += u
		traded += u
	}
	c := cost.Simulate(models, snap, trades, p.Holdings)
	p.Cash -= traded + c
	return c
}

// accrue grows positions by the period's realized returns and cash by the
// risk-free rate.
func accrue(p *domain.Portfolio, returns []float64, cashReturn float64) {
	for i, r := range returns {
		p.Holdings[i] *= 1 + r
	}
	p.Cash *= 1 + cashReturn
}

// periodsBetween selects grid times within [start, end].
func periodsBetween(times []time.Time, start, end time.Time) []time.Time {
	var out []time.Time
	for _, t := range times {
		if t.Before(start) || t.After(end) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func copySlice(xs []float64) []float64 {
	out := make([]float64, len(xs))
	copy(out, xs)
	return out
}
