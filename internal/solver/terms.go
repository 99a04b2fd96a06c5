package solver

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// smoothEps is the smoothing width used for |x| gradients. Nonsmooth convex
// terms (spread costs, L1 penalties) are differentiated through
// sqrt(x^2+eps^2), which changes their value by at most eps per coordinate.
const smoothEps = 1e-10

// SmoothAbs returns a smooth approximation of |x|.
func SmoothAbs(x float64) float64 {
	return math.Sqrt(x*x + smoothEps*smoothEps)
}

// SmoothAbsGrad returns d/dx SmoothAbs(x).
func SmoothAbsGrad(x float64) float64 {
	return x / SmoothAbs(x)
}

// Linear is the term C·z (+ Const).
type Linear struct {
	C     []float64
	Const float64
}

func (t Linear) Value(z []float64) float64 {
	return dot(t.C, z) + t.Const
}

func (t Linear) AddGrad(_ []float64, grad []float64) {
	for i := range grad {
		grad[i] += t.C[i]
	}
}

// Quadratic is the term -Gamma * (z+Center)' P (z+Center), a concave
// penalty for positive semidefinite P. Center shifts the variable so that
// risk terms can act on post-trade weights w+z while the program variable
// stays the trade z.
type Quadratic struct {
	P      mat.Symmetric
	Center []float64
	Gamma  float64
}

func (t Quadratic) Value(z []float64) float64 {
	n := len(z)
	x := make([]float64, n)
	for i := range x {
		x[i] = z[i]
		if t.Center != nil {
			x[i] += t.Center[i]
		}
	}
	v := mat.NewVecDense(n, x)
	var px mat.VecDense
	px.MulVec(t.P, v)
	return -t.Gamma * mat.Dot(v, &px)
}

func (t Quadratic) AddGrad(z []float64, grad []float64) {
	n := len(z)
	x := make([]float64, n)
	for i := range x {
		x[i] = z[i]
		if t.Center != nil {
			x[i] += t.Center[i]
		}
	}
	v := mat.NewVecDense(n, x)
	var px mat.VecDense
	px.MulVec(t.P, v)
	for i := 0; i < n; i++ {
		grad[i] += -2 * t.Gamma * px.AtVec(i)
	}
}

// Weighted scales an inner term by a constant multiplier.
type Weighted struct {
	Term Term
	W    float64
}

func (t Weighted) Value(z []float64) float64 {
	return t.W * t.Term.Value(z)
}

func (t Weighted) AddGrad(z []float64, grad []float64) {
	tmp := make([]float64, len(grad))
	t.Term.AddGrad(z, tmp)
	for i := range grad {
		grad[i] += t.W * tmp[i]
	}
}

// SubTerm evaluates an inner term on one contiguous block of a stacked
// variable. Used by multi-period policies.
type SubTerm struct {
	Start int
	Len   int
	Inner Term
}

func (t SubTerm) Value(z []float64) float64 {
	return t.Inner.Value(z[t.Start : t.Start+t.Len])
}

func (t SubTerm) AddGrad(z []float64, grad []float64) {
	t.Inner.AddGrad(z[t.Start:t.Start+t.Len], grad[t.Start:t.Start+t.Len])
}

// DiffTerm evaluates an inner term on the difference between two blocks of
// a stacked variable: z = block(J) - block(I). When I is negative the
// subtrahend is the fixed Base vector instead. Multi-period policies use it
// to charge trade costs on consecutive weight steps.
type DiffTerm struct {
	I, J  int
	Len   int
	Base  []float64
	Inner Term
}

func (t DiffTerm) diff(z []float64) []float64 {
	d := make([]float64, t.Len)
	for k := 0; k < t.Len; k++ {
		d[k] = z[t.J+k]
		if t.I >= 0 {
			d[k] -= z[t.I+k]
		} else {
			d[k] -= t.Base[k]
		}
	}
	return d
}

func (t DiffTerm) Value(z []float64) float64 {
	return t.Inner.Value(t.diff(z))
}

func (t DiffTerm) AddGrad(z []float64, grad []float64) {
	d := t.diff(z)
	g := make([]float64, t.Len)
	t.Inner.AddGrad(d, g)
	for k := 0; k < t.Len; k++ {
		grad[t.J+k] += g[k]
		if t.I >= 0 {
			grad[t.I+k] -= g[k]
		}
	}
}

// FuncTerm adapts plain closures to the Term interface.
type FuncTerm struct {
	V func(z []float64) float64
	G func(z []float64, grad []float64)
}

func (t FuncTerm) Value(z []float64) float64 { return t.V(z) }

func (t FuncTerm) AddGrad(z, grad []float64) { t.G(z, grad) }
