// Package policy implements trading policies: the per-period decision rules
// that map portfolio state and a market snapshot to a trade vector. The
// optimization policies build a convex program and delegate to a solver;
// simple policies (hold, rebalance) decide in closed form. Policies never
// retry failed solves; fallback behavior on a non-optimal status belongs to
// the simulator.
package policy

import (
	"context"
	"sort"
	"time"

	"foliosim/internal/domain"
)

// Decision is the outcome of one period's policy invocation.
type Decision struct {
	// Trades is the currency amount to buy (+) or sell (-) per non-cash
	// asset this period.
	Trades []float64

	// Status reports how the trade was obtained.
	Status domain.Status

	// RiskFallback is set when the risk estimator rejected its window and
	// the policy substituted the default identity-scaled estimate.
	RiskFallback bool

	// Objective and Iters carry solver diagnostics for optimization
	// policies; zero otherwise.
	Objective float64
	Iters     int
}

// Policy decides one period's trades. Implementations must not mutate the
// portfolio or the snapshot.
type Policy interface {
	Name() string
	Decide(ctx context.Context, p domain.Portfolio, snap *domain.Snapshot) (*Decision, error)
}

// ---------------------------------------------------------------------------
// Simple policies
// ---------------------------------------------------------------------------

// Compile-time interface checks.
var _ Policy = Hold{}
var _ Policy = (*FixedWeights)(nil)

// Hold trades nothing, ever. It is also the simulator's default fallback.
type Hold struct{}

func (Hold) Name() string { return "hold" }

func (Hold) Decide(_ context.Context, p domain.Portfolio, _ *domain.Snapshot) (*Decision, error) {
	return &Decision{
		Trades: make([]float64, len(p.Holdings)),
		Status: domain.StatusOptimal,
	}, nil
}

// FixedWeights rebalances the portfolio toward constant target weights,
// optionally only every Every periods (0 or 1 means every period). The
// rebalance cadence restarts whenever the snapshot clock does not advance,
// so reusing the policy for another backtest replays the same schedule.
type FixedWeights struct {
	Targets []float64
	Every   int

	periods int
	last    time.Time
}

func (*FixedWeights) Name() string { return "fixed_weights" }

func (f *FixedWeights) Decide(_ context.Context, p domain.Portfolio, snap *domain.Snapshot) (*Decision, error) {
	n := len(p.Holdings)
	trades := make([]float64, n)
	if !f.last.IsZero() && !snap.Time.After(f.last) {
		f.periods = 0
	}
	f.last = snap.Time
	f.periods++
	if f.Every > 1 && (f.periods-1)%f.Every != 0 {
		return &Decision{Trades: trades, Status: domain.StatusOptimal}, nil
	}
	v := p.Value()
	for i := 0; i < n; i++ {
		trades[i] = f.Targets[i]*v - p.Holdings[i]
	}
	return &Decision{Trades: trades, Status: domain.StatusOptimal}, nil
}

// Uniform returns a FixedWeights policy that splits value equally across
// the n assets of the universe.
func Uniform(n int) *FixedWeights {
	targets := make([]float64, n)
	for i := range targets {
		targets[i] = 1 / float64(n)
	}
	return &FixedWeights{Targets: targets}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds a named collection of policies for lookup and enumeration.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry creates an empty policy Registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]Policy)}
}

// Register adds a policy to the registry, keyed by its Name().
func (r *Registry) Register(p Policy) {
	r.policies[p.Name()] = p
}

// Get retrieves a policy by name. The second return value indicates whether
// the policy was found.
func (r *Registry) Get(name string) (Policy, bool) {
	p, ok := r.policies[name]
	return p, ok
}

// List returns a sorted slice of all registered policy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
