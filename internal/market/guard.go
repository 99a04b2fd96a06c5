package market

import (
	"fmt"
	"sync"
	"time"

	"foliosim/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*Guarded)(nil)

// Guarded wraps a Provider and fails any query for a time later than an
// externally advanced clock. Tests use it to prove the simulator never
// looks ahead: a correct backtest never trips the guard.
type Guarded struct {
	inner Provider

	mu  sync.Mutex
	now time.Time
}

// NewGuarded wraps inner with the clock unset; every query fails until the
// first Advance.
func NewGuarded(inner Provider) *Guarded {
	return &Guarded{inner: inner}
}

// Advance moves the guard clock forward to t. Moving it backward is ignored.
func (g *Guarded) Advance(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.After(g.now) {
		g.now = t
	}
}

func (g *Guarded) check(t time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.now.IsZero() || t.After(g.now) {
		return fmt.Errorf("market guard: query for %s but clock is at %s",
			t.Format(time.RFC3339), g.now.Format(time.RFC3339))
	}
	return nil
}

func (g *Guarded) Universe() domain.Universe { return g.inner.Universe() }

func (g *Guarded) Times() []time.Time { return g.inner.Times() }

func (g *Guarded) Snapshot(t time.Time) (*domain.Snapshot, error) {
	if err := g.check(t); err != nil {
		return nil, err
	}
	return g.inner.Snapshot(t)
}

func (g *Guarded) Realized(t time.Time) ([]float64, float64, error) {
	if err := g.check(t); err != nil {
		return nil, 0, err
	}
	return g.inner.Realized(t)
}
