// Package forecast produces per-asset return forecasts for optimization
// policies. The baseline estimates are fitted from past returns served on
// the market snapshot, so they can never embed future information.
package forecast

import (
	"math"

	"foliosim/internal/domain"
)

// Forecaster maps a snapshot to expected per-period returns for the
// non-cash assets.
type Forecaster interface {
	Expected(snap *domain.Snapshot) []float64
}

// Compile-time interface checks.
var _ Forecaster = (*MeanReturns)(nil)
var _ Forecaster = Static(nil)

// MeanReturns forecasts each asset's return as the mean of its past
// returns, optionally over a rolling window (0 means full history).
type MeanReturns struct {
	Window int
}

func (m *MeanReturns) Expected(snap *domain.Snapshot) []float64 {
	rows := snap.PastReturnsWindow(m.Window)
	n := len(snap.Universe)
	out := make([]float64, n)
	if len(rows) == 0 {
		return out
	}
	for _, row := range rows {
		for j := 0; j < n; j++ {
			out[j] += row[j]
		}
	}
	for j := range out {
		out[j] /= float64(len(rows))
	}
	return out
}

// Static serves user-supplied constant forecasts, e.g. from an external
// alpha model.
type Static []float64

func (s Static) Expected(_ *domain.Snapshot) []float64 {
	return append([]float64(nil), s...)
}

// MeanError estimates the standard error of the historical-mean forecast,
// used as the per-asset coefficient of the forecast-error penalty.
func MeanError(snap *domain.Snapshot, window int) []float64 {
	rows := snap.PastReturnsWindow(window)
	n := len(snap.Universe)
	out := make([]float64, n)
	if len(rows) < 2 {
		return out
	}
	T := float64(len(rows))
	for j := 0; j < n; j++ {
		var sum float64
		for _, row := range rows {
			sum += row[j]
		}
		mean := sum / T
		var ss float64
		for _, row := range rows {
			d := row[j] - mean
			ss += d * d
		}
		out[j] = math.Sqrt(ss/(T-1)) / math.Sqrt(T)
	}
	return out
}
