package sim

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"foliosim/internal/cost"
	"foliosim/internal/domain"
	"foliosim/internal/market"
	"foliosim/internal/policy"
	"foliosim/internal/result"
)

// Spec is one backtest configuration in a sweep: a named policy variant
// with its own costs and options, run over a shared provider and window.
type Spec struct {
	Name    string
	Policy  policy.Policy
	Costs   []cost.Model
	Options Options
}

// SweepResult pairs a Spec's name with its backtest outcome.
type SweepResult struct {
	Name   string
	Result *result.Result
}

// Sweep runs independent backtests for each spec concurrently, at most
// workers at a time (0 means one per spec). Backtests share the provider
// read-only; each gets its own simulator and ledger. The first fatal error
// cancels the remaining runs. Results keep spec order.
func Sweep(ctx context.Context, provider market.Provider, specs []Spec, initial domain.Portfolio, start, end time.Time, workers int) ([]SweepResult, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	if workers <= 0 {
		workers = len(specs)
	}

	out := make([]SweepResult, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, spec := range specs {
		g.Go(func() error {
			s := &Simulator{
				Provider: provider,
				Policy:   spec.Policy,
				Costs:    spec.Costs,
				Options:  spec.Options,
			}
			res, err := s.Run(gctx, initial.Copy(), start, end)
			if err != nil {
				return fmt.Errorf("backtest %q: %w", spec.Name, err)
			}
			out[i] = SweepResult{Name: spec.Name, Result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
