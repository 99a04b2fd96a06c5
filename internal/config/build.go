package config

import (
	"context"
	"fmt"

	"foliosim/internal/constraint"
	"foliosim/internal/cost"
	"foliosim/internal/domain"
	"foliosim/internal/forecast"
	"foliosim/internal/market"
	"foliosim/internal/policy"
	"foliosim/internal/risk"
	"foliosim/internal/sim"
	"foliosim/internal/solver"
	"foliosim/internal/store"
)

// NewStore opens the bar store selected by the data section. The caller
// owns closing it.
func (cfg *Config) NewStore() (store.BarStore, error) {
	switch cfg.Data.Source {
	case "sqlite":
		return store.NewSQLiteStore(cfg.Data.SQLitePath)
	case "parquet":
		return store.NewParquetStore(cfg.Data.DataDir), nil
	}
	return nil, domain.NewConfigError("data.source", fmt.Errorf("unknown source %q", cfg.Data.Source))
}

// NewProvider loads the configured universe and range from the bar store
// into an in-memory market data provider. The store is only needed during
// the load.
func (cfg *Config) NewProvider(ctx context.Context, bs store.BarStore) (*market.InMemory, error) {
	start, end, err := cfg.Backtest.Range()
	if err != nil {
		return nil, err
	}
	return market.NewFromStore(ctx, bs, domain.Universe(cfg.Data.Universe), start, end, market.StoreOptions{
		CashRate:    cfg.Data.CashRate,
		Spreads:     cfg.Data.Spreads,
		BorrowCosts: cfg.Data.BorrowCosts,
	})
}

// NewInitialPortfolio builds the starting book.
func (cfg *Config) NewInitialPortfolio() domain.Portfolio {
	n := len(cfg.Data.Universe)
	p := domain.NewPortfolio(n, cfg.Backtest.InitialCash)
	if cfg.Backtest.InitialHoldings != nil {
		copy(p.Holdings, cfg.Backtest.InitialHoldings)
	}
	return p
}

// NewCosts builds the enabled cost models.
func (cfg *Config) NewCosts() []cost.Model {
	var models []cost.Model
	if cfg.Costs.Transaction.Enabled {
		models = append(models, &cost.Transaction{
			HalfSpreads: cfg.Costs.Transaction.HalfSpreads,
			NonlinCoeff: cfg.Costs.Transaction.NonlinCoeff,
			Power:       cfg.Costs.Transaction.Power,
		})
	}
	if cfg.Costs.Holding.Enabled {
		models = append(models, &cost.Holding{
			BorrowCosts: cfg.Costs.Holding.BorrowCosts,
			Dividends:   cfg.Costs.Holding.Dividends,
		})
	}
	return models
}

// NewRisk builds the configured covariance estimator; nil when the risk
// section is absent, letting the policy fall back to its default.
func (cfg *Config) NewRisk() risk.Estimator {
	switch cfg.Risk.Model {
	case "full":
		return risk.NewFullCovariance(cfg.Risk.Window)
	case "diagonal":
		return risk.NewDiagonalCovariance(cfg.Risk.Window)
	case "factor":
		return risk.NewFactorModel(cfg.Risk.Window, cfg.Risk.NumFactors)
	}
	return nil
}

// NewConstraints builds the constraint set in list order.
func (cfg *Config) NewConstraints() constraint.Set {
	var set constraint.Set
	for _, cc := range cfg.Constraints {
		switch cc.Name {
		case "long_only":
			set = append(set, constraint.LongOnly{})
		case "long_cash":
			set = append(set, constraint.LongCash())
		case "leverage_limit":
			set = append(set, constraint.LeverageLimit{Limit: cc.Limit})
		case "turnover_limit":
			set = append(set, constraint.TurnoverLimit{Delta: cc.Delta})
		case "max_weights":
			set = append(set, constraint.MaxWeights{Limit: cc.Limit, PerAsset: cc.PerAsset})
		case "min_weights":
			set = append(set, constraint.MinWeights{Limit: cc.Limit, PerAsset: cc.PerAsset})
		case "dollar_neutral":
			set = append(set, constraint.DollarNeutral{})
		case "participation_rate":
			set = append(set, constraint.ParticipationRateLimit{MaxFraction: cc.MaxFraction})
		case "min_cash":
			set = append(set, constraint.MinCash{Floor: cc.Floor})
		}
	}
	return set
}

// NewSolver builds the solver with configured overrides on top of the
// defaults.
func (cfg *Config) NewSolver() *solver.PGS {
	s := solver.NewPGS()
	if cfg.Solver.MaxIters > 0 {
		s.MaxIters = cfg.Solver.MaxIters
	}
	if cfg.Solver.ProjIters > 0 {
		s.ProjIters = cfg.Solver.ProjIters
	}
	if cfg.Solver.Tol > 0 {
		s.Tol = cfg.Solver.Tol
	}
	if cfg.Solver.FeasTol > 0 {
		s.FeasTol = cfg.Solver.FeasTol
	}
	if cfg.Solver.InitialStep > 0 {
		s.InitialStep = cfg.Solver.InitialStep
	}
	return s
}

// NewPolicy builds the policy named by pc, sharing the configured costs,
// risk estimator, constraints, and solver.
func (cfg *Config) NewPolicy(pc PolicyConfig) (policy.Policy, error) {
	switch pc.Name {
	case "hold":
		return policy.Hold{}, nil
	case "fixed_weights":
		return &policy.FixedWeights{
			Targets: pc.Targets,
			Every:   pc.RebalanceEvery,
		}, nil
	case "single_period_opt":
		return &policy.SinglePeriodOpt{
			Forecast:    &forecast.MeanReturns{Window: pc.ForecastWindow},
			Risk:        cfg.NewRisk(),
			RiskWindow:  cfg.Risk.Window,
			GammaRisk:   pc.GammaRisk,
			GammaTrade:  pc.GammaTrade,
			GammaHold:   pc.GammaHold,
			GammaFcast:  pc.GammaFcast,
			Costs:       cfg.NewCosts(),
			Constraints: cfg.NewConstraints(),
			Solver:      cfg.NewSolver(),
		}, nil
	case "multi_period_opt":
		decay := pc.Decay
		if decay == 0 {
			decay = 1
		}
		return policy.NewMultiPeriodOpt(policy.MultiPeriodOpt{
			Horizon:     pc.Horizon,
			Decay:       decay,
			Forecast:    &forecast.MeanReturns{Window: pc.ForecastWindow},
			Risk:        cfg.NewRisk(),
			RiskWindow:  cfg.Risk.Window,
			GammaRisk:   pc.GammaRisk,
			GammaTrade:  pc.GammaTrade,
			GammaHold:   pc.GammaHold,
			Costs:       cfg.NewCosts(),
			Constraints: cfg.NewConstraints(),
			Solver:      cfg.NewSolver(),
		})
	}
	return nil, domain.NewConfigError("policy.name", fmt.Errorf("unknown policy %q", pc.Name))
}

// NewOptions builds the simulator's accounting options.
func (cfg *Config) NewOptions() sim.Options {
	ordering := sim.TradeThenAccrue
	if cfg.Backtest.Ordering == "accrue_then_trade" {
		ordering = sim.AccrueThenTrade
	}
	return sim.Options{
		Ordering:        ordering,
		ValueTolerance:  cfg.Backtest.ValueTolerance,
		MarginThreshold: cfg.Backtest.MarginThreshold,
		PeriodsPerYear:  cfg.Backtest.PeriodsPerYear,
	}
}

// NewSweepSpecs builds one backtest spec per sweep entry. Costs and
// options are shared; each spec brings its own policy.
func (cfg *Config) NewSweepSpecs() ([]sim.Spec, error) {
	specs := make([]sim.Spec, 0, len(cfg.Sweep.Specs))
	for _, sc := range cfg.Sweep.Specs {
		p, err := cfg.NewPolicy(sc.Policy)
		if err != nil {
			return nil, fmt.Errorf("sweep spec %q: %w", sc.Name, err)
		}
		specs = append(specs, sim.Spec{
			Name:    sc.Name,
			Policy:  p,
			Costs:   cfg.NewCosts(),
			Options: cfg.NewOptions(),
		})
	}
	return specs, nil
}
