package solver

import (
	"context"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"foliosim/internal/domain"
)

func absDiff(a, b []float64) float64 {
	var worst float64
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > worst {
			worst = d
		}
	}
	return worst
}

func TestPGSUnconstrainedQuadratic(t *testing.T) {
	// maximize c'z - 1/2 ||z||^2  =>  z* = c
	c := []float64{0.3, -1.2, 0.75}
	p := &Program{
		N: 3,
		Terms: []Term{
			Linear{C: c},
			Quadratic{P: mat.NewSymDense(3, []float64{
				0.5, 0, 0,
				0, 0.5, 0,
				0, 0, 0.5,
			}), Gamma: 1},
		},
	}

	sol, err := NewPGS().Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if sol.Status != domain.StatusOptimal {
		t.Fatalf("status = %v, want optimal", sol.Status)
	}
	if d := absDiff(sol.Z, c); d > 1e-5 {
		t.Errorf("solution off by %g: got %v want %v", d, sol.Z, c)
	}
}

func TestPGSBoxConstrained(t *testing.T) {
	// maximize c'z - 1/2||z||^2 with 0 <= z <= 0.5: clip of c into the box.
	c := []float64{0.3, -1.2, 0.75}
	want := []float64{0.3, 0, 0.5}
	p := &Program{
		N: 3,
		Terms: []Term{
			Linear{C: c},
			Quadratic{P: eye(3, 0.5), Gamma: 1},
		},
		Regions: []Region{Box{
			Lo: []float64{0, 0, 0},
			Hi: []float64{0.5, 0.5, 0.5},
		}},
	}

	sol, err := NewPGS().Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if sol.Status != domain.StatusOptimal {
		t.Fatalf("status = %v, want optimal", sol.Status)
	}
	if d := absDiff(sol.Z, want); d > 1e-5 {
		t.Errorf("solution off by %g: got %v want %v", d, sol.Z, want)
	}
}

func TestPGSHyperplaneProjection(t *testing.T) {
	// maximize -1/2||z - a||^2 s.t. sum(z) = 0: a minus its mean.
	a := []float64{1, 2, 3, 4}
	want := []float64{-1.5, -0.5, 0.5, 1.5}
	p := &Program{
		N: 4,
		Terms: []Term{
			Quadratic{P: eye(4, 0.5), Gamma: 1, Center: neg(a)},
		},
		Regions: []Region{Hyperplane{A: []float64{1, 1, 1, 1}, B: 0}},
	}

	sol, err := NewPGS().Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if sol.Status != domain.StatusOptimal {
		t.Fatalf("status = %v, want optimal", sol.Status)
	}
	if d := absDiff(sol.Z, want); d > 1e-5 {
		t.Errorf("solution off by %g: got %v want %v", d, sol.Z, want)
	}
}

func TestPGSInfeasible(t *testing.T) {
	p := &Program{
		N:     2,
		Terms: []Term{Linear{C: []float64{1, 1}}},
		Regions: []Region{
			Box{Lo: []float64{1, 1}},
			Box{Hi: []float64{0, 0}},
		},
	}

	sol, err := NewPGS().Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if sol.Status != domain.StatusInfeasible {
		t.Fatalf("status = %v, want infeasible", sol.Status)
	}
}

func TestPGSUnbounded(t *testing.T) {
	p := &Program{
		N:     2,
		Terms: []Term{Linear{C: []float64{1, 0}}},
	}

	sol, err := NewPGS().Solve(context.Background(), p)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if sol.Status != domain.StatusUnbounded {
		t.Fatalf("status = %v, want unbounded", sol.Status)
	}
}

func TestPGSDeterministic(t *testing.T) {
	build := func() *Program {
		return &Program{
			N: 3,
			Terms: []Term{
				Linear{C: []float64{0.1, 0.2, -0.05}},
				Quadratic{P: mat.NewSymDense(3, []float64{
					1, 0.2, 0.1,
					0.2, 1, 0.3,
					0.1, 0.3, 1,
				}), Gamma: 0.5},
			},
			Regions: []Region{
				Box{Lo: []float64{-1, -1, -1}, Hi: []float64{1, 1, 1}},
				Halfspace{A: []float64{1, 1, 1}, B: 0.5},
			},
		}
	}

	s := NewPGS()
	first, err := s.Solve(context.Background(), build())
	if err != nil {
		t.Fatalf("first solve: %v", err)
	}
	second, err := s.Solve(context.Background(), build())
	if err != nil {
		t.Fatalf("second solve: %v", err)
	}
	for i := range first.Z {
		if first.Z[i] != second.Z[i] {
			t.Fatalf("solution not deterministic at %d: %v vs %v", i, first.Z, second.Z)
		}
	}
	if first.Iters != second.Iters {
		t.Errorf("iteration counts differ: %d vs %d", first.Iters, second.Iters)
	}
}

func TestL1BallProjection(t *testing.T) {
	tests := []struct {
		name   string
		radius float64
		in     []float64
		want   []float64
	}{
		{"inside untouched", 5, []float64{1, -1}, []float64{1, -1}},
		{"shrinks uniformly", 1, []float64{1, 1}, []float64{0.5, 0.5}},
		{"keeps signs", 1, []float64{-2, 0}, []float64{-1, 0}},
		{"thresholds small coords", 1, []float64{1, 0.1}, []float64{0.95, 0.05}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := make([]float64, len(tc.in))
			L1Ball{Radius: tc.radius}.Project(tc.in, out)
			if d := absDiff(out, tc.want); d > 1e-9 {
				t.Errorf("projection off by %g: got %v want %v", d, out, tc.want)
			}
		})
	}
}

func TestBlockL1BallKeepsSums(t *testing.T) {
	z := []float64{0.9, 0.1, 0.1, 0.9} // two blocks of two
	b := BlockL1Ball{I: 0, J: 2, Len: 2, Radius: 0.4}
	out := make([]float64, 4)
	b.Project(z, out)

	if v := b.Violation(out); v > 1e-9 {
		t.Errorf("projection still violates by %g: %v", v, out)
	}
	for k := 0; k < 2; k++ {
		sumIn := z[k] + z[2+k]
		sumOut := out[k] + out[2+k]
		if math.Abs(sumIn-sumOut) > 1e-9 {
			t.Errorf("coordinate %d sum changed: %g -> %g", k, sumIn, sumOut)
		}
	}
}

func eye(n int, scale float64) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, scale)
	}
	return m
}

func neg(a []float64) []float64 {
	out := make([]float64, len(a))
	for i, x := range a {
		out[i] = -x
	}
	return out
}
