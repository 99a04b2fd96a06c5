package market

import (
	"fmt"
	"math"
	"sort"
	"time"

	"foliosim/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*InMemory)(nil)

// sigmaWindow is the trailing window used for per-asset volatility
// estimates served on snapshots.
const sigmaWindow = 250

// Series holds aligned per-period market data for one universe. Returns has
// one row per period with the cash (risk-free) return in the last column;
// Prices and Volumes have one row per period with len(universe) columns.
// Volumes, Spreads, and BorrowCosts are optional.
type Series struct {
	Universe domain.Universe
	Times    []time.Time

	// Returns[i] is the return realized over period Times[i],
	// len(Universe)+1 wide with cash last.
	Returns [][]float64

	// Prices[i] are open prices at Times[i]. Optional.
	Prices [][]float64

	// Volumes[i] are currency volumes traded during period Times[i].
	// Optional.
	Volumes [][]float64

	// Spreads are constant per-asset half bid-ask spreads. Optional.
	Spreads []float64

	// BorrowCosts are constant per-asset per-period borrow fees. Optional.
	BorrowCosts []float64
}

// InMemory is a Provider backed by in-memory series. It is read-only after
// construction and safe for concurrent use.
type InMemory struct {
	series Series
	index  map[time.Time]int
}

// NewInMemory validates alignment of the series and builds a provider from
// it. Misaligned data is a fatal configuration error.
func NewInMemory(s Series) (*InMemory, error) {
	n := len(s.Universe)
	if n == 0 {
		return nil, domain.NewConfigError("universe", fmt.Errorf("empty universe"))
	}
	if len(s.Times) == 0 {
		return nil, domain.NewConfigError("times", domain.ErrEmptyTimeRange)
	}
	if len(s.Returns) != len(s.Times) {
		return nil, domain.NewConfigError("returns",
			fmt.Errorf("have %d rows for %d periods", len(s.Returns), len(s.Times)))
	}
	for i, row := range s.Returns {
		if len(row) != n+1 {
			return nil, domain.NewConfigError("returns",
				fmt.Errorf("row %d has %d columns, want %d (universe + cash)", i, len(row), n+1))
		}
	}
	if s.Prices != nil && len(s.Prices) != len(s.Times) {
		return nil, domain.NewConfigError("prices",
			fmt.Errorf("have %d rows for %d periods", len(s.Prices), len(s.Times)))
	}
	if s.Volumes != nil && len(s.Volumes) != len(s.Times) {
		return nil, domain.NewConfigError("volumes",
			fmt.Errorf("have %d rows for %d periods", len(s.Volumes), len(s.Times)))
	}
	if !sort.SliceIsSorted(s.Times, func(i, j int) bool { return s.Times[i].Before(s.Times[j]) }) {
		return nil, domain.NewConfigError("times", fmt.Errorf("periods not in ascending order"))
	}

	idx := make(map[time.Time]int, len(s.Times))
	for i, t := range s.Times {
		idx[t] = i
	}
	return &InMemory{series: s, index: idx}, nil
}

// Universe returns the provider's asset universe.
func (m *InMemory) Universe() domain.Universe { return m.series.Universe }

// Times returns a copy of the period grid.
func (m *InMemory) Times() []time.Time {
	out := make([]time.Time, len(m.series.Times))
	copy(out, m.series.Times)
	return out
}

// Snapshot builds the view observable at the open of period t. Everything
// derived from returns or volumes uses rows strictly before t.
func (m *InMemory) Snapshot(t time.Time) (*domain.Snapshot, error) {
	i, ok := m.index[t]
	if !ok {
		return nil, fmt.Errorf("market: no period at %s", t.Format(time.RFC3339))
	}
	n := len(m.series.Universe)

	snap := &domain.Snapshot{
		Time:     t,
		Universe: m.series.Universe,
	}

	// Past returns: rows strictly before t, copied so callers cannot reach
	// the provider's backing arrays.
	snap.PastReturns = make([][]float64, i)
	for k := 0; k < i; k++ {
		row := make([]float64, n+1)
		copy(row, m.series.Returns[k])
		snap.PastReturns[k] = row
	}

	if m.series.Prices != nil {
		snap.Prices = append([]float64(nil), m.series.Prices[i]...)
	}

	// Trailing volume estimate: last observed volume before t. The opening
	// period has no prior observation and gets zeros, like Sigmas.
	if m.series.Volumes != nil {
		if i > 0 {
			snap.Volumes = append([]float64(nil), m.series.Volumes[i-1]...)
		} else {
			snap.Volumes = make([]float64, n)
		}
	}

	snap.Sigmas = trailingSigmas(snap.PastReturns, n, sigmaWindow)

	if m.series.Spreads != nil {
		snap.Spreads = append([]float64(nil), m.series.Spreads...)
	} else {
		snap.Spreads = make([]float64, n)
	}
	if m.series.BorrowCosts != nil {
		snap.BorrowCosts = append([]float64(nil), m.series.BorrowCosts...)
	} else {
		snap.BorrowCosts = make([]float64, n)
	}

	if i > 0 {
		snap.CashReturn = m.series.Returns[i-1][n]
	}
	return snap, nil
}

// Realized returns the returns realized over period t.
func (m *InMemory) Realized(t time.Time) ([]float64, float64, error) {
	i, ok := m.index[t]
	if !ok {
		return nil, 0, fmt.Errorf("market: no period at %s", t.Format(time.RFC3339))
	}
	n := len(m.series.Universe)
	row := m.series.Returns[i]
	return append([]float64(nil), row[:n]...), row[n], nil
}

// trailingSigmas computes per-asset standard deviations over the last
// window rows of past returns. Assets with fewer than two observations get
// zero.
func trailingSigmas(past [][]float64, n, window int) []float64 {
	rows := past
	if len(rows) > window {
		rows = rows[len(rows)-window:]
	}
	out := make([]float64, n)
	if len(rows) < 2 {
		return out
	}
	for j := 0; j < n; j++ {
		var sum float64
		for _, row := range rows {
			sum += row[j]
		}
		mean := sum / float64(len(rows))
		var ss float64
		for _, row := range rows {
			d := row[j] - mean
			ss += d * d
		}
		out[j] = math.Sqrt(ss / float64(len(rows)-1))
	}
	return out
}
