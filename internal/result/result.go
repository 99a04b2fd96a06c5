// Package result accumulates the per-period record of a backtest and
// derives summary statistics from it. The record is flat: one entry per
// simulated period, exportable as CSV or Parquet for analysis elsewhere.
package result

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"foliosim/internal/domain"
)

// Entry is the record of one simulated period.
type Entry struct {
	// Time is the period's decision time.
	Time time.Time

	// Value is the portfolio value at the start of the period, before
	// trading.
	Value float64

	// Return is the portfolio's realized return over the period, net of
	// costs.
	Return float64

	// Cost is the total transaction and holding cost charged this period,
	// in currency.
	Cost float64

	// CashReturn is the risk-free rate applied to cash this period.
	CashReturn float64

	// Trades holds the executed currency trades per non-cash asset.
	Trades []float64

	// Holdings and Cash are the post-trade positions, before accrual.
	Holdings []float64
	Cash     float64

	// Status is the policy's solve status for the period.
	Status domain.Status

	// Fallback is set when a non-optimal status caused the simulator to
	// substitute the fallback (zero) trade.
	Fallback bool

	// RiskFallback is set when the policy's risk estimator rejected its
	// window and the default estimate was used.
	RiskFallback bool

	// PolicyDur and SimDur time the policy call and the rest of the
	// period's bookkeeping.
	PolicyDur time.Duration
	SimDur    time.Duration
}

// Result is the full record of one backtest.
type Result struct {
	Universe     domain.Universe
	InitialValue float64
	FinalValue   float64

	// PeriodsPerYear annualizes rate statistics; 0 means 252.
	PeriodsPerYear float64

	Entries []Entry
}

// New creates an empty Result for the given universe and starting value.
func New(universe domain.Universe, initialValue float64) *Result {
	return &Result{
		Universe:     universe,
		InitialValue: initialValue,
		FinalValue:   initialValue,
	}
}

// Append records one period.
func (r *Result) Append(e Entry) {
	r.Entries = append(r.Entries, e)
}

func (r *Result) ppy() float64 {
	if r.PeriodsPerYear > 0 {
		return r.PeriodsPerYear
	}
	return 252
}

// ---------------------------------------------------------------------------
// Summary statistics
// ---------------------------------------------------------------------------

// Profit is the total currency gain over the backtest.
func (r *Result) Profit() float64 { return r.FinalValue - r.InitialValue }

// Returns lists the per-period net portfolio returns.
func (r *Result) Returns() []float64 {
	out := make([]float64, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Return
	}
	return out
}

// AnnualizedReturn is the mean period return scaled to a yearly rate.
func (r *Result) AnnualizedReturn() float64 {
	return mean(r.Returns()) * r.ppy()
}

// Volatility is the annualized standard deviation of period returns.
func (r *Result) Volatility() float64 {
	return std(r.Returns()) * math.Sqrt(r.ppy())
}

// Sharpe is the annualized ratio of mean excess return over cash to the
// standard deviation of excess returns. Zero when returns do not vary.
func (r *Result) Sharpe() float64 {
	excess := make([]float64, len(r.Entries))
	for i, e := range r.Entries {
		excess[i] = e.Return - e.CashReturn
	}
	sd := std(excess)
	if sd == 0 {
		return 0
	}
	return math.Sqrt(r.ppy()) * mean(excess) / sd
}

// MaxDrawdown is the largest peak-to-trough fractional decline of the
// portfolio value path, reported as a non-negative number.
func (r *Result) MaxDrawdown() float64 {
	peak := r.InitialValue
	var worst float64
	v := r.InitialValue
	for _, e := range r.Entries {
		v = e.Value * (1 + e.Return)
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// AvgTurnover is the mean per-period turnover, half the traded L1 norm as a
// fraction of portfolio value.
func (r *Result) AvgTurnover() float64 {
	if len(r.Entries) == 0 {
		return 0
	}
	var total float64
	for _, e := range r.Entries {
		if e.Value <= 0 {
			continue
		}
		var l1 float64
		for _, u := range e.Trades {
			l1 += math.Abs(u)
		}
		total += l1 / (2 * e.Value)
	}
	return total / float64(len(r.Entries))
}

// AvgLeverage is the mean gross exposure of the post-trade positions as a
// fraction of portfolio value.
func (r *Result) AvgLeverage() float64 {
	if len(r.Entries) == 0 {
		return 0
	}
	var total float64
	for _, e := range r.Entries {
		v := e.Cash
		var gross float64
		for _, h := range e.Holdings {
			v += h
			gross += math.Abs(h)
		}
		if v > 0 {
			total += gross / v
		}
	}
	return total / float64(len(r.Entries))
}

// FallbackCount reports how many periods substituted the fallback trade,
// broken down by solve status.
func (r *Result) FallbackCount() map[domain.Status]int {
	counts := make(map[domain.Status]int)
	for _, e := range r.Entries {
		if e.Fallback {
			counts[e.Status]++
		}
	}
	return counts
}

// String renders a human-readable summary.
func (r *Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "periods:            %d\n", len(r.Entries))
	if len(r.Entries) > 0 {
		first := r.Entries[0].Time
		last := r.Entries[len(r.Entries)-1].Time
		fmt.Fprintf(&b, "range:              %s to %s\n",
			first.Format("2006-01-02"), last.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "initial value:      %.2f\n", r.InitialValue)
	fmt.Fprintf(&b, "final value:        %.2f\n", r.FinalValue)
	fmt.Fprintf(&b, "profit:             %.2f\n", r.Profit())
	fmt.Fprintf(&b, "annualized return:  %.2f%%\n", 100*r.AnnualizedReturn())
	fmt.Fprintf(&b, "volatility:         %.2f%%\n", 100*r.Volatility())
	fmt.Fprintf(&b, "sharpe:             %.2f\n", r.Sharpe())
	fmt.Fprintf(&b, "max drawdown:       %.2f%%\n", 100*r.MaxDrawdown())
	fmt.Fprintf(&b, "avg turnover:       %.2f%%\n", 100*r.AvgTurnover())
	fmt.Fprintf(&b, "avg leverage:       %.2f\n", r.AvgLeverage())
	if fb := r.FallbackCount(); len(fb) > 0 {
		statuses := make([]string, 0, len(fb))
		for st, n := range fb {
			statuses = append(statuses, fmt.Sprintf("%s=%d", st, n))
		}
		sort.Strings(statuses)
		fmt.Fprintf(&b, "fallback periods:   %s\n", strings.Join(statuses, " "))
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Flat export
// ---------------------------------------------------------------------------

// Header lists the flat table's column names: fixed scalar columns followed
// by one trade and one holding column per asset.
func (r *Result) Header() []string {
	cols := []string{
		"time", "value", "return", "cost", "cash_return", "cash",
		"status", "fallback", "risk_fallback", "policy_us", "sim_us",
	}
	for _, sym := range r.Universe {
		cols = append(cols, "trade_"+sym)
	}
	for _, sym := range r.Universe {
		cols = append(cols, "holding_"+sym)
	}
	return cols
}

// Table renders all entries as rows matching Header. Output is
// deterministic: rows follow entry order and floats use the shortest exact
// representation.
func (r *Result) Table() [][]string {
	rows := make([][]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		row := []string{
			e.Time.UTC().Format(time.RFC3339),
			f64(e.Value), f64(e.Return), f64(e.Cost), f64(e.CashReturn), f64(e.Cash),
			e.Status.String(),
			strconv.FormatBool(e.Fallback),
			strconv.FormatBool(e.RiskFallback),
			strconv.FormatInt(e.PolicyDur.Microseconds(), 10),
			strconv.FormatInt(e.SimDur.Microseconds(), 10),
		}
		for _, u := range e.Trades {
			row = append(row, f64(u))
		}
		for _, h := range e.Holdings {
			row = append(row, f64(h))
		}
		rows = append(rows, row)
	}
	return rows
}

func f64(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteCSV writes the flat table, header first.
func (r *Result) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Header()); err != nil {
		return err
	}
	if err := cw.WriteAll(r.Table()); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// periodRecord is the Parquet schema for per-period scalars.
type periodRecord struct {
	Timestamp    int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Value        float64 `parquet:"value"`
	Return       float64 `parquet:"return"`
	Cost         float64 `parquet:"cost"`
	CashReturn   float64 `parquet:"cash_return"`
	Cash         float64 `parquet:"cash"`
	Status       string  `parquet:"status"`
	Fallback     bool    `parquet:"fallback"`
	RiskFallback bool    `parquet:"risk_fallback"`
	PolicyUs     int64   `parquet:"policy_us"`
	SimUs        int64   `parquet:"sim_us"`
}

// positionRecord is the Parquet schema for per-period per-asset positions.
type positionRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Symbol    string  `parquet:"symbol"`
	Trade     float64 `parquet:"trade"`
	Holding   float64 `parquet:"holding"`
}

// WriteParquet writes two Parquet files under dir: periods.parquet with the
// per-period scalars and positions.parquet with the per-asset long table.
func (r *Result) WriteParquet(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	periods := make([]periodRecord, 0, len(r.Entries))
	positions := make([]positionRecord, 0, len(r.Entries)*len(r.Universe))
	for _, e := range r.Entries {
		ts := e.Time.UnixMilli()
		periods = append(periods, periodRecord{
			Timestamp:    ts,
			Value:        e.Value,
			Return:       e.Return,
			Cost:         e.Cost,
			CashReturn:   e.CashReturn,
			Cash:         e.Cash,
			Status:       e.Status.String(),
			Fallback:     e.Fallback,
			RiskFallback: e.RiskFallback,
			PolicyUs:     e.PolicyDur.Microseconds(),
			SimUs:        e.SimDur.Microseconds(),
		})
		for i, sym := range r.Universe {
			positions = append(positions, positionRecord{
				Timestamp: ts,
				Symbol:    sym,
				Trade:     e.Trades[i],
				Holding:   e.Holdings[i],
			})
		}
	}

	if err := parquet.WriteFile(filepath.Join(dir, "periods.parquet"), periods); err != nil {
		return fmt.Errorf("writing periods: %w", err)
	}
	if err := parquet.WriteFile(filepath.Join(dir, "positions.parquet"), positions); err != nil {
		return fmt.Errorf("writing positions: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func std(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		d := x - m
		s += d * d
	}
	return math.Sqrt(s / float64(len(xs)-1))
}
