// Package market supplies read-only, time-indexed views of market data to
// the simulator and its policies. The central contract is that a snapshot
// for period t never exposes information from later periods.
package market

import (
	"time"

	"foliosim/internal/domain"
)

// Provider serves market data for one asset universe. Implementations must
// be immutable after construction so a single provider can back many
// concurrent backtests.
type Provider interface {
	// Universe returns the ordered asset universe the provider serves.
	Universe() domain.Universe

	// Times returns the ordered grid of tradeable periods.
	Times() []time.Time

	// Snapshot returns the market view observable at the open of period t:
	// prices at t, returns strictly before t, and trailing volume and
	// volatility estimates. Both policies and cost models consume it.
	Snapshot(t time.Time) (*domain.Snapshot, error)

	// Realized returns the per-asset returns and the cash return realized
	// over period t. Only the simulator may call it, strictly after the
	// period's trade decision has been finalized.
	Realized(t time.Time) (returns []float64, cashReturn float64, err error)
}
