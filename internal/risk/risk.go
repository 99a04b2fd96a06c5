// Package risk estimates return covariance for use as the quadratic penalty
// inside optimization policies. All estimators share one contract: a window
// of past returns in, a symmetric positive semidefinite matrix out, and a
// diagnosable error when the window is too short to be meaningful.
package risk

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrWindowTooShort is returned when fewer past periods are available than
// the estimator's minimum. Policies handle it by falling back to a default
// identity-scaled estimate instead of failing the period.
var ErrWindowTooShort = errors.New("risk: return window shorter than minimum")

// Estimator turns a window of past returns (rows are periods, columns are
// non-cash assets) into a covariance estimate.
type Estimator interface {
	Estimate(pastReturns [][]float64) (*mat.SymDense, error)
}

// Default returns the fallback estimate used when an estimator rejects its
// window: scale times the identity.
func Default(n int, scale float64) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, scale)
	}
	return m
}

// ---------------------------------------------------------------------------
// Full sample covariance
// ---------------------------------------------------------------------------

// FullCovariance is the rolling-window sample covariance, optionally shrunk
// toward its own diagonal (Shrinkage in [0,1], 0 means none).
type FullCovariance struct {
	Window    int // most recent rows used; 0 means all
	MinWindow int
	Shrinkage float64
}

// NewFullCovariance creates a sample covariance estimator over the given
// rolling window.
func NewFullCovariance(window int) *FullCovariance {
	return &FullCovariance{Window: window, MinWindow: minWindowFor(window)}
}

func (f *FullCovariance) Estimate(pastReturns [][]float64) (*mat.SymDense, error) {
	rows, n, err := checkWindow(pastReturns, f.MinWindow)
	if err != nil {
		return nil, err
	}
	rows = tail(rows, f.Window)

	means := columnMeans(rows, n)
	T := float64(len(rows) - 1)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var s float64
			for _, row := range rows {
				s += (row[i] - means[i]) * (row[j] - means[j])
			}
			cov.SetSym(i, j, s/T)
		}
	}

	if f.Shrinkage > 0 {
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				cov.SetSym(i, j, (1-f.Shrinkage)*cov.At(i, j))
			}
		}
	}
	return cov, nil
}

// ---------------------------------------------------------------------------
// Diagonal covariance
// ---------------------------------------------------------------------------

// DiagonalCovariance keeps only per-asset variances, ignoring correlations.
type DiagonalCovariance struct {
	Window    int
	MinWindow int
}

// NewDiagonalCovariance creates a diagonal variance estimator over the
// given rolling window.
func NewDiagonalCovariance(window int) *DiagonalCovariance {
	return &DiagonalCovariance{Window: window, MinWindow: minWindowFor(window)}
}

func (d *DiagonalCovariance) Estimate(pastReturns [][]float64) (*mat.SymDense, error) {
	rows, n, err := checkWindow(pastReturns, d.MinWindow)
	if err != nil {
		return nil, err
	}
	rows = tail(rows, d.Window)

	means := columnMeans(rows, n)
	T := float64(len(rows) - 1)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		var s float64
		for _, row := range rows {
			dv := row[i] - means[i]
			s += dv * dv
		}
		cov.SetSym(i, i, s/T)
	}
	return cov, nil
}

// ---------------------------------------------------------------------------
// Low-rank factor model
// ---------------------------------------------------------------------------

// FactorModel approximates the sample covariance with its top NumFactors
// principal components plus a diagonal residual, via SVD of the centered
// return window. This is the usual low-rank-plus-diagonal risk model.
type FactorModel struct {
	Window     int
	MinWindow  int
	NumFactors int
}

// NewFactorModel creates a k-factor risk model over the given rolling
// window.
func NewFactorModel(window, numFactors int) *FactorModel {
	return &FactorModel{Window: window, MinWindow: minWindowFor(window), NumFactors: numFactors}
}

func (f *FactorModel) Estimate(pastReturns [][]float64) (*mat.SymDense, error) {
	rows, n, err := checkWindow(pastReturns, f.MinWindow)
	if err != nil {
		return nil, err
	}
	rows = tail(rows, f.Window)
	k := f.NumFactors
	if k <= 0 || k >= n {
		return nil, fmt.Errorf("risk: factor count %d out of range for %d assets", k, n)
	}

	T := len(rows)
	means := columnMeans(rows, n)
	centered := mat.NewDense(T, n, nil)
	for i, row := range rows {
		for j := 0; j < n; j++ {
			centered.Set(i, j, row[j]-means[j])
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, fmt.Errorf("risk: SVD of return window failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	sigmas := svd.Values(nil)

	// Top-k principal components of the covariance X'X/(T-1).
	denom := float64(T - 1)
	lowRank := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var s float64
			for c := 0; c < k; c++ {
				s += sigmas[c] * sigmas[c] / denom * v.At(i, c) * v.At(j, c)
			}
			lowRank.SetSym(i, j, s)
		}
	}

	// Diagonal residual keeps total per-asset variance.
	for i := 0; i < n; i++ {
		var full float64
		for _, row := range rows {
			d := row[i] - means[i]
			full += d * d
		}
		full /= denom
		resid := full - lowRank.At(i, i)
		if resid < 0 {
			resid = 0
		}
		lowRank.SetSym(i, i, lowRank.At(i, i)+resid)
	}
	return lowRank, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func minWindowFor(window int) int {
	if window > 0 && window < 20 {
		return window
	}
	return 20
}

func checkWindow(rows [][]float64, minRows int) ([][]float64, int, error) {
	if minRows < 2 {
		minRows = 2
	}
	if len(rows) < minRows {
		return nil, 0, fmt.Errorf("%w: have %d periods, need %d", ErrWindowTooShort, len(rows), minRows)
	}
	return rows, len(rows[0]), nil
}

func tail(rows [][]float64, window int) [][]float64 {
	if window > 0 && len(rows) > window {
		return rows[len(rows)-window:]
	}
	return rows
}

func columnMeans(rows [][]float64, n int) []float64 {
	means := make([]float64, n)
	for _, row := range rows {
		for j := 0; j < n; j++ {
			means[j] += row[j]
		}
	}
	for j := range means {
		means[j] /= float64(len(rows))
	}
	return means
}
