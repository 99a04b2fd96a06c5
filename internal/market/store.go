package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	"foliosim/internal/domain"
	"foliosim/internal/store"
)

// StoreOptions tune the series built from stored bars.
type StoreOptions struct {
	// CashRate is the constant per-period risk-free return. Optional.
	CashRate float64

	// Spreads and BorrowCosts are constant per-asset vectors aligned to
	// the universe. Optional; zero when nil.
	Spreads     []float64
	BorrowCosts []float64
}

// NewFromStore builds an in-memory provider from daily bars in a BarStore.
// Returns are close to close, prices are the period's open, and volumes
// are the bar's traded currency value. Only dates where every asset in the
// universe has a bar enter the grid; the first common date seeds the return
// computation and is not itself tradeable.
func NewFromStore(ctx context.Context, bs store.BarStore, universe domain.Universe, start, end time.Time, opts StoreOptions) (*InMemory, error) {
	n := len(universe)
	if n == 0 {
		return nil, domain.NewConfigError("universe", fmt.Errorf("empty universe"))
	}

	// Bars per symbol, keyed by date.
	bySymbol := make([]map[time.Time]domain.Bar, n)
	for i, sym := range universe {
		bars, err := bs.ReadBars(ctx, sym, start, end)
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s: %w", sym, err)
		}
		if len(bars) == 0 {
			return nil, domain.NewConfigError("universe", fmt.Errorf("no bars for %s in range", sym))
		}
		m := make(map[time.Time]domain.Bar, len(bars))
		for _, b := range bars {
			m[b.Timestamp.UTC().Truncate(24*time.Hour)] = b
		}
		bySymbol[i] = m
	}

	// Dates where every symbol traded.
	var dates []time.Time
	for d := range bySymbol[0] {
		all := true
		for i := 1; i < n; i++ {
			if _, ok := bySymbol[i][d]; !ok {
				all = false
				break
			}
		}
		if all {
			dates = append(dates, d)
		}
	}
	if len(dates) < 2 {
		return nil, domain.NewConfigError("times",
			fmt.Errorf("only %d common dates for the universe", len(dates)))
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	s := Series{
		Universe:    universe,
		Spreads:     opts.Spreads,
		BorrowCosts: opts.BorrowCosts,
	}
	for k := 1; k < len(dates); k++ {
		d := dates[k]
		prev := dates[k-1]

		row := make([]float64, n+1)
		prices := make([]float64, n)
		volumes := make([]float64, n)
		for i := range universe {
			bar := bySymbol[i][d]
			prevBar := bySymbol[i][prev]
			if prevBar.Close <= 0 {
				return nil, domain.NewConfigError("bars",
					fmt.Errorf("non-positive close for %s at %s", universe[i], prev.Format("2006-01-02")))
			}
			row[i] = bar.Close/prevBar.Close - 1
			prices[i] = bar.Open
			if prices[i] == 0 {
				prices[i] = bar.Close
			}
			volumes[i] = bar.DollarVolume()
		}
		row[n] = opts.CashRate

		s.Times = append(s.Times, d)
		s.Returns = append(s.Returns, row)
		s.Prices = append(s.Prices, prices)
		s.Volumes = append(s.Volumes, volumes)
	}

	return NewInMemory(s)
}
