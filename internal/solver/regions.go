package solver

import (
	"math"
	"sort"
)

// ---------------------------------------------------------------------------
// Box
// ---------------------------------------------------------------------------

// Box is the region {z : Lo <= z <= Hi} elementwise. A nil Lo or Hi leaves
// that side unbounded; NaN entries leave a single coordinate unbounded.
type Box struct {
	Lo []float64
	Hi []float64
}

func (b Box) Project(z []float64, out []float64) {
	copy(out, z)
	for i := range out {
		if b.Lo != nil && !math.IsNaN(b.Lo[i]) && out[i] < b.Lo[i] {
			out[i] = b.Lo[i]
		}
		if b.Hi != nil && !math.IsNaN(b.Hi[i]) && out[i] > b.Hi[i] {
			out[i] = b.Hi[i]
		}
	}
}

func (b Box) Violation(z []float64) float64 {
	var worst float64
	for i := range z {
		if b.Lo != nil && !math.IsNaN(b.Lo[i]) {
			if v := b.Lo[i] - z[i]; v > worst {
				worst = v
			}
		}
		if b.Hi != nil && !math.IsNaN(b.Hi[i]) {
			if v := z[i] - b.Hi[i]; v > worst {
				worst = v
			}
		}
	}
	return worst
}

// ---------------------------------------------------------------------------
// Halfspace and Hyperplane
// ---------------------------------------------------------------------------

// Halfspace is the region {z : A·z <= B}.
type Halfspace struct {
	A []float64
	B float64
}

func (h Halfspace) Project(z []float64, out []float64) {
	d := dot(h.A, z) - h.B
	copy(out, z)
	if d <= 0 {
		return
	}
	nn := dot(h.A, h.A)
	if nn == 0 {
		return
	}
	s := d / nn
	for i := range out {
		out[i] -= s * h.A[i]
	}
}

func (h Halfspace) Violation(z []float64) float64 {
	return math.Max(0, dot(h.A, z)-h.B)
}

// Hyperplane is the region {z : A·z == B}.
type Hyperplane struct {
	A []float64
	B float64
}

func (h Hyperplane) Project(z []float64, out []float64) {
	copy(out, z)
	nn := dot(h.A, h.A)
	if nn == 0 {
		return
	}
	s := (dot(h.A, z) - h.B) / nn
	for i := range out {
		out[i] -= s * h.A[i]
	}
}

func (h Hyperplane) Violation(z []float64) float64 {
	return math.Abs(dot(h.A, z) - h.B)
}

// ---------------------------------------------------------------------------
// L1 ball
// ---------------------------------------------------------------------------

// L1Ball is the region {z : sum_i |z_i - Offset_i| <= Radius}. A nil Offset
// centers the ball at the origin.
type L1Ball struct {
	Radius float64
	Offset []float64
}

func (b L1Ball) Project(z []float64, out []float64) {
	v := make([]float64, len(z))
	for i := range z {
		v[i] = z[i]
		if b.Offset != nil {
			v[i] -= b.Offset[i]
		}
	}
	projectL1(v, b.Radius)
	for i := range out {
		out[i] = v[i]
		if b.Offset != nil {
			out[i] += b.Offset[i]
		}
	}
}

func (b L1Ball) Violation(z []float64) float64 {
	var s float64
	for i := range z {
		d := z[i]
		if b.Offset != nil {
			d -= b.Offset[i]
		}
		s += math.Abs(d)
	}
	return math.Max(0, s-b.Radius)
}

// BlockL1Ball constrains the L1 norm of the difference between two
// equal-length index blocks of the variable: sum |z[J]-z[I]| <= Radius.
// Used by multi-period policies for per-step turnover limits on stacked
// weight variables. The projection keeps block sums fixed and shrinks the
// difference, which is exact because (sum, difference) is an orthogonal
// change of coordinates.
type BlockL1Ball struct {
	I, J   int // block start offsets
	Len    int
	Radius float64
}

func (b BlockL1Ball) Project(z []float64, out []float64) {
	copy(out, z)
	d := make([]float64, b.Len)
	for k := 0; k < b.Len; k++ {
		d[k] = (z[b.J+k] - z[b.I+k]) / math.Sqrt2
	}
	projectL1(d, b.Radius/math.Sqrt2)
	for k := 0; k < b.Len; k++ {
		m := (z[b.I+k] + z[b.J+k]) / 2
		half := d[k] * math.Sqrt2 / 2
		out[b.I+k] = m - half
		out[b.J+k] = m + half
	}
}

func (b BlockL1Ball) Violation(z []float64) float64 {
	var s float64
	for k := 0; k < b.Len; k++ {
		s += math.Abs(z[b.J+k] - z[b.I+k])
	}
	return math.Max(0, s-b.Radius)
}

// SubRegion applies an inner region to one contiguous block of the variable,
// leaving other coordinates untouched. Used to lift per-step constraints
// onto stacked multi-period variables.
type SubRegion struct {
	Start int
	Len   int
	Inner Region
}

func (s SubRegion) Project(z []float64, out []float64) {
	copy(out, z)
	block := make([]float64, s.Len)
	copy(block, z[s.Start:s.Start+s.Len])
	s.Inner.Project(block, block)
	copy(out[s.Start:s.Start+s.Len], block)
}

func (s SubRegion) Violation(z []float64) float64 {
	block := z[s.Start : s.Start+s.Len]
	return s.Inner.Violation(block)
}

// projectL1 projects v in place onto the L1 ball of the given radius
// centered at the origin, using the sort-and-threshold algorithm.
func projectL1(v []float64, radius float64) {
	if radius < 0 {
		radius = 0
	}
	var norm float64
	for _, x := range v {
		norm += math.Abs(x)
	}
	if norm <= radius {
		return
	}
	abs := make([]float64, len(v))
	for i, x := range v {
		abs[i] = math.Abs(x)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(abs)))
	var cum float64
	var theta float64
	for i, a := range abs {
		cum += a
		t := (cum - radius) / float64(i+1)
		if i == len(abs)-1 || abs[i+1] <= t {
			theta = t
			break
		}
	}
	for i, x := range v {
		a := math.Abs(x) - theta
		if a < 0 {
			a = 0
		}
		if x < 0 {
			a = -a
		}
		v[i] = a
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
