package risk

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func returnsWindow(rows int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, rows)
	for i := range out {
		common := 0.01 * rng.NormFloat64()
		out[i] = []float64{
			common + 0.005*rng.NormFloat64(),
			common + 0.005*rng.NormFloat64(),
			0.008 * rng.NormFloat64(),
		}
	}
	return out
}

func TestDefault(t *testing.T) {
	m := Default(3, 0.5)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 0.5
			}
			if m.At(i, j) != want {
				t.Errorf("At(%d,%d) = %g, want %g", i, j, m.At(i, j), want)
			}
		}
	}
}

func TestFullCovarianceKnownValues(t *testing.T) {
	// Perfectly anti-correlated pair with variance 1e-4 each.
	rows := [][]float64{
		{0.01, -0.01},
		{-0.01, 0.01},
		{0.01, -0.01},
		{-0.01, 0.01},
	}
	f := &FullCovariance{Window: 4, MinWindow: 2}
	cov, err := f.Estimate(rows)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	wantVar := 4 * 0.01 * 0.01 / 3
	if math.Abs(cov.At(0, 0)-wantVar) > 1e-12 {
		t.Errorf("var = %g, want %g", cov.At(0, 0), wantVar)
	}
	if math.Abs(cov.At(0, 1)+wantVar) > 1e-12 {
		t.Errorf("cov = %g, want %g", cov.At(0, 1), -wantVar)
	}
}

func TestFullCovarianceWindowTooShort(t *testing.T) {
	f := NewFullCovariance(30)
	_, err := f.Estimate(returnsWindow(5, 1))
	if !errors.Is(err, ErrWindowTooShort) {
		t.Fatalf("err = %v, want ErrWindowTooShort", err)
	}
}

func TestFullCovarianceShrinkage(t *testing.T) {
	rows := returnsWindow(50, 2)
	plain, err := (&FullCovariance{MinWindow: 2}).Estimate(rows)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	shrunk, err := (&FullCovariance{MinWindow: 2, Shrinkage: 0.5}).Estimate(rows)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if math.Abs(shrunk.At(0, 1)-0.5*plain.At(0, 1)) > 1e-15 {
		t.Errorf("shrunk off-diagonal %g, want %g", shrunk.At(0, 1), 0.5*plain.At(0, 1))
	}
	if shrunk.At(0, 0) != plain.At(0, 0) {
		t.Error("shrinkage changed the diagonal")
	}
}

func TestDiagonalCovariance(t *testing.T) {
	rows := returnsWindow(50, 3)
	full, err := (&FullCovariance{MinWindow: 2}).Estimate(rows)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	diag, err := (&DiagonalCovariance{MinWindow: 2}).Estimate(rows)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	for i := 0; i < 3; i++ {
		if math.Abs(diag.At(i, i)-full.At(i, i)) > 1e-15 {
			t.Errorf("diagonal variance %d differs: %g vs %g", i, diag.At(i, i), full.At(i, i))
		}
		for j := 0; j < 3; j++ {
			if i != j && diag.At(i, j) != 0 {
				t.Errorf("off-diagonal (%d,%d) = %g, want 0", i, j, diag.At(i, j))
			}
		}
	}
}

func TestFactorModelPreservesVariances(t *testing.T) {
	rows := returnsWindow(100, 4)
	full, err := (&FullCovariance{MinWindow: 2}).Estimate(rows)
	if err != nil {
		t.Fatalf("full: %v", err)
	}
	fm := NewFactorModel(100, 1)
	low, err := fm.Estimate(rows)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	for i := 0; i < 3; i++ {
		if math.Abs(low.At(i, i)-full.At(i, i)) > 1e-10 {
			t.Errorf("variance %d: %g vs sample %g", i, low.At(i, i), full.At(i, i))
		}
	}
}

func TestFactorModelRejectsBadFactorCount(t *testing.T) {
	rows := returnsWindow(50, 5)
	for _, k := range []int{0, 3, 7} {
		fm := &FactorModel{MinWindow: 2, NumFactors: k}
		if _, err := fm.Estimate(rows); err == nil {
			t.Errorf("factor count %d accepted for 3 assets", k)
		}
	}
}

func TestEstimatesPositiveSemidefinite(t *testing.T) {
	rows := returnsWindow(80, 6)
	estimators := map[string]Estimator{
		"full":     NewFullCovariance(80),
		"diagonal": NewDiagonalCovariance(80),
		"factor":   NewFactorModel(80, 1),
	}
	for name, e := range estimators {
		t.Run(name, func(t *testing.T) {
			cov, err := e.Estimate(rows)
			if err != nil {
				t.Fatalf("Estimate: %v", err)
			}
			var ev mat.EigenSym
			if ok := ev.Factorize(cov, false); !ok {
				t.Fatal("eigendecomposition failed")
			}
			for _, v := range ev.Values(nil) {
				if v < -1e-12 {
					t.Errorf("negative eigenvalue %g", v)
				}
			}
		})
	}
}

func TestRollingWindowUsesRecentRows(t *testing.T) {
	// Old rows are wild; the recent window is calm. A windowed estimate
	// must reflect only the calm regime.
	var rows [][]float64
	for i := 0; i < 30; i++ {
		rows = append(rows, []float64{0.2, -0.2})
	}
	for i := 0; i < 30; i++ {
		r := 0.001
		if i%2 == 0 {
			r = -0.001
		}
		rows = append(rows, []float64{r, r})
	}
	f := NewFullCovariance(30)
	cov, err := f.Estimate(rows)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if cov.At(0, 0) > 1e-5 {
		t.Errorf("windowed variance %g includes stale regime", cov.At(0, 0))
	}
}
