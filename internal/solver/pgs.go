package solver

import (
	"context"
	"math"

	"foliosim/internal/domain"
)

// Compile-time interface check.
var _ Solver = (*PGS)(nil)

// PGS maximizes a program by projected gradient ascent with backtracking
// line search, composing constraint projections with Dykstra's alternating
// projection scheme. It is fully deterministic.
//
// Infeasibility is reported when the alternating projections cannot reach a
// point whose worst violation is below FeasTol. Unboundedness is reported
// when the iterates diverge past DivergeLimit.
type PGS struct {
	MaxIters     int
	ProjIters    int
	Tol          float64
	FeasTol      float64
	InitialStep  float64
	DivergeLimit float64
}

// NewPGS returns a solver with defaults sized for portfolio-scale programs
// (tens to hundreds of variables).
func NewPGS() *PGS {
	return &PGS{
		MaxIters:     4000,
		ProjIters:    400,
		Tol:          1e-9,
		FeasTol:      1e-7,
		InitialStep:  1.0,
		DivergeLimit: 1e7,
	}
}

// Solve maximizes p over the intersection of its regions.
func (s *PGS) Solve(ctx context.Context, p *Program) (*Solution, error) {
	if p == nil || p.N <= 0 {
		return &Solution{Status: domain.StatusSolverError}, nil
	}

	z := make([]float64, p.N)
	z, ok := s.project(p, z)
	if !ok {
		return &Solution{Status: domain.StatusInfeasible}, nil
	}

	grad := make([]float64, p.N)
	cand := make([]float64, p.N)
	step := s.InitialStep
	obj := p.Objective(z)
	converged := false
	iters := 0

	for ; iters < s.MaxIters; iters++ {
		if iters%64 == 0 {
			select {
			case <-ctx.Done():
				return &Solution{Z: z, Status: domain.StatusSolverError, Objective: obj, Iters: iters}, ctx.Err()
			default:
			}
		}

		p.Gradient(z, grad)

		// Backtracking: shrink the step until the projected ascent point
		// satisfies the sufficient-increase condition.
		accepted := false
		for step >= 1e-14 {
			for i := range cand {
				cand[i] = z[i] + step*grad[i]
			}
			proj, ok := s.project(p, cand)
			if !ok {
				return &Solution{Z: z, Status: domain.StatusInfeasible, Objective: obj, Iters: iters}, nil
			}
			candObj := p.Objective(proj)
			var moved, lin float64
			for i := range proj {
				d := proj[i] - z[i]
				moved += d * d
				lin += grad[i] * d
			}
			if candObj >= obj+lin-moved/(2*step) || moved == 0 {
				copy(cand, proj)
				accepted = true
				if s.done(z, cand, obj, candObj) {
					copy(z, cand)
					obj = candObj
					converged = true
				} else {
					copy(z, cand)
					obj = candObj
				}
				break
			}
			step *= 0.5
		}
		if !accepted || converged {
			if accepted {
				iters++
			}
			break
		}
		if s.diverged(z) {
			return &Solution{Z: z, Status: domain.StatusUnbounded, Objective: obj, Iters: iters}, nil
		}
		// Allow the step to recover after successful iterations.
		step *= 1.25
		if step > 1e6 {
			step = 1e6
		}
	}

	if !converged && !s.nearStationary(p, z) {
		return &Solution{Z: z, Status: domain.StatusSolverError, Objective: obj, Iters: iters}, nil
	}
	return &Solution{Z: z, Status: domain.StatusOptimal, Objective: obj, Iters: iters}, nil
}

// done reports convergence from one accepted iteration.
func (s *PGS) done(z, next []float64, obj, nextObj float64) bool {
	var dz, nz float64
	for i := range z {
		if d := math.Abs(next[i] - z[i]); d > dz {
			dz = d
		}
		if a := math.Abs(z[i]); a > nz {
			nz = a
		}
	}
	if dz > s.Tol*(1+nz) {
		return false
	}
	return math.Abs(nextObj-obj) <= s.Tol*(1+math.Abs(obj))
}

// nearStationary re-checks optimality at the iteration cap: one more
// projected gradient step must not move the point materially.
func (s *PGS) nearStationary(p *Program, z []float64) bool {
	grad := make([]float64, p.N)
	p.Gradient(z, grad)
	cand := make([]float64, p.N)
	small := 1e-6
	for i := range cand {
		cand[i] = z[i] + small*grad[i]
	}
	proj, ok := s.project(p, cand)
	if !ok {
		return false
	}
	var dz float64
	for i := range z {
		if d := math.Abs(proj[i] - z[i]); d > dz {
			dz = d
		}
	}
	return dz <= 1e-4
}

func (s *PGS) diverged(z []float64) bool {
	for _, x := range z {
		if math.Abs(x) > s.DivergeLimit || math.IsNaN(x) || math.IsInf(x, 0) {
			return true
		}
	}
	return false
}

// project returns the Euclidean projection of z onto the intersection of the
// program's regions, or ok=false when the intersection appears empty.
func (s *PGS) project(p *Program, z []float64) ([]float64, bool) {
	out := make([]float64, len(z))
	switch len(p.Regions) {
	case 0:
		copy(out, z)
		return out, true
	case 1:
		p.Regions[0].Project(z, out)
		return out, true
	}

	// Dykstra's algorithm.
	x := make([]float64, len(z))
	copy(x, z)
	incr := make([][]float64, len(p.Regions))
	for i := range incr {
		incr[i] = make([]float64, len(z))
	}
	tmp := make([]float64, len(z))
	for it := 0; it < s.ProjIters; it++ {
		for r, region := range p.Regions {
			for i := range x {
				tmp[i] = x[i] + incr[r][i]
			}
			region.Project(tmp, out)
			for i := range x {
				incr[r][i] = tmp[i] - out[i]
				x[i] = out[i]
			}
		}
		if p.MaxViolation(x) <= s.FeasTol {
			copy(out, x)
			return out, true
		}
	}
	if p.MaxViolation(x) <= math.Sqrt(s.FeasTol) {
		// Accept mildly inexact intersections rather than failing the solve.
		copy(out, x)
		return out, true
	}
	return nil, false
}
