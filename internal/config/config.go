package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"foliosim/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for a foliosim run.
type Config struct {
	Data        Data               `yaml:"data"`
	Backtest    Backtest           `yaml:"backtest"`
	Policy      PolicyConfig       `yaml:"policy"`
	Costs       CostsConfig        `yaml:"costs"`
	Risk        RiskConfig         `yaml:"risk"`
	Constraints []ConstraintConfig `yaml:"constraints"`
	Solver      SolverConfig       `yaml:"solver"`
	Sweep       SweepConfig        `yaml:"sweep"`
	Alpaca      Alpaca             `yaml:"alpaca"`
	Gather      GatherConfig       `yaml:"gather"`
	Logging     Logging            `yaml:"logging"`
}

// Data selects the bar store backing the market data provider.
type Data struct {
	// Source is "sqlite" or "parquet".
	Source     string `yaml:"source"`
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`

	Universe []string `yaml:"universe"`

	// CashRate is the constant per-period risk-free return.
	CashRate float64 `yaml:"cash_rate"`

	// Spreads and BorrowCosts are per-asset vectors aligned to the
	// universe; empty means zero.
	Spreads     []float64 `yaml:"spreads"`
	BorrowCosts []float64 `yaml:"borrow_costs"`
}

// Backtest holds the simulation range, the starting book, and accounting
// options.
type Backtest struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`

	InitialCash     float64   `yaml:"initial_cash"`
	InitialHoldings []float64 `yaml:"initial_holdings"`

	// Ordering is "trade_then_accrue" (default) or "accrue_then_trade".
	Ordering string `yaml:"ordering"`

	ValueTolerance  float64 `yaml:"value_tolerance"`
	MarginThreshold float64 `yaml:"margin_threshold"`
	PeriodsPerYear  float64 `yaml:"periods_per_year"`

	// Output paths; empty disables the corresponding writer.
	CSVPath    string `yaml:"csv_path"`
	ParquetDir string `yaml:"parquet_dir"`
}

// PolicyConfig selects and parameterizes the trading policy.
type PolicyConfig struct {
	// Name is "hold", "fixed_weights", "single_period_opt", or
	// "multi_period_opt".
	Name string `yaml:"name"`

	// fixed_weights
	Targets        []float64 `yaml:"targets"`
	RebalanceEvery int       `yaml:"rebalance_every"`

	// optimization policies
	GammaRisk      float64 `yaml:"gamma_risk"`
	GammaTrade     float64 `yaml:"gamma_trade"`
	GammaHold      float64 `yaml:"gamma_hold"`
	GammaFcast     float64 `yaml:"gamma_fcast"`
	ForecastWindow int     `yaml:"forecast_window"`

	// multi_period_opt
	Horizon int     `yaml:"horizon"`
	Decay   float64 `yaml:"decay"`
}

// CostsConfig enables and tunes the cost models applied both inside the
// policy objective and by the simulator's accounting.
type CostsConfig struct {
	Transaction TransactionCostConfig `yaml:"transaction"`
	Holding     HoldingCostConfig     `yaml:"holding"`
}

// TransactionCostConfig tunes the spread-plus-impact trading cost.
type TransactionCostConfig struct {
	Enabled     bool      `yaml:"enabled"`
	HalfSpreads []float64 `yaml:"half_spreads"`
	NonlinCoeff float64   `yaml:"nonlin_coeff"`
	Power       float64   `yaml:"power"`
}

// HoldingCostConfig tunes the borrow-minus-dividend carry cost.
type HoldingCostConfig struct {
	Enabled     bool      `yaml:"enabled"`
	BorrowCosts []float64 `yaml:"borrow_costs"`
	Dividends   []float64 `yaml:"dividends"`
}

// RiskConfig selects the covariance estimator used by optimization
// policies.
type RiskConfig struct {
	// Model is "full", "diagonal", or "factor".
	Model      string `yaml:"model"`
	Window     int    `yaml:"window"`
	NumFactors int    `yaml:"num_factors"`
}

// ConstraintConfig is one entry of the constraint list. Name selects the
// constraint; the remaining fields parameterize it and are ignored when
// they do not apply.
type ConstraintConfig struct {
	Name        string    `yaml:"name"`
	Limit       float64   `yaml:"limit"`
	Delta       float64   `yaml:"delta"`
	PerAsset    []float64 `yaml:"per_asset"`
	MaxFraction float64   `yaml:"max_fraction"`
	Floor       float64   `yaml:"floor"`
}

// SolverConfig tunes the numerical solver; zero fields keep defaults.
type SolverConfig struct {
	MaxIters    int     `yaml:"max_iters"`
	ProjIters   int     `yaml:"proj_iters"`
	Tol         float64 `yaml:"tol"`
	FeasTol     float64 `yaml:"feas_tol"`
	InitialStep float64 `yaml:"initial_step"`
}

// SweepConfig runs several policy variants against the same data in
// parallel. Each spec reuses the shared costs and backtest options and
// supplies its own policy parameters.
type SweepConfig struct {
	Workers int         `yaml:"workers"`
	Specs   []SweepSpec `yaml:"specs"`
}

// SweepSpec names one backtest variant of a sweep.
type SweepSpec struct {
	Name   string       `yaml:"name"`
	Policy PolicyConfig `yaml:"policy"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// GatherConfig controls the daily-bar gathering job.
type GatherConfig struct {
	StartDate       string `yaml:"start_date"`
	BatchSize       int    `yaml:"batch_size"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Data.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Data.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Range parses the backtest's start and end dates.
func (b Backtest) Range() (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", b.Start)
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewConfigError("backtest.start", err)
	}
	end, err := time.Parse("2006-01-02", b.End)
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewConfigError("backtest.end", err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, domain.NewConfigError("backtest.end",
			fmt.Errorf("%s is before start %s", b.End, b.Start))
	}
	return start, end, nil
}

// Validate checks the configuration for structural problems before any
// component is built from it.
func (cfg *Config) Validate() error {
	switch cfg.Data.Source {
	case "sqlite", "parquet":
	default:
		return domain.NewConfigError("data.source",
			fmt.Errorf("unknown source %q, want sqlite or parquet", cfg.Data.Source))
	}
	if cfg.Data.Source == "sqlite" && cfg.Data.SQLitePath == "" {
		return domain.NewConfigError("data.sqlite_path", fmt.Errorf("required for sqlite source"))
	}
	if cfg.Data.Source == "parquet" && cfg.Data.DataDir == "" {
		return domain.NewConfigError("data.data_dir", fmt.Errorf("required for parquet source"))
	}

	n := len(cfg.Data.Universe)
	if n == 0 {
		return domain.NewConfigError("data.universe", fmt.Errorf("must name at least one symbol"))
	}
	if cfg.Data.Spreads != nil && len(cfg.Data.Spreads) != n {
		return domain.NewConfigError("data.spreads",
			fmt.Errorf("got %d values for %d symbols", len(cfg.Data.Spreads), n))
	}
	if cfg.Data.BorrowCosts != nil && len(cfg.Data.BorrowCosts) != n {
		return domain.NewConfigError("data.borrow_costs",
			fmt.Errorf("got %d values for %d symbols", len(cfg.Data.BorrowCosts), n))
	}

	if _, _, err := cfg.Backtest.Range(); err != nil {
		return err
	}
	if cfg.Backtest.InitialCash <= 0 && len(cfg.Backtest.InitialHoldings) == 0 {
		return domain.NewConfigError("backtest.initial_cash", fmt.Errorf("starting book is empty"))
	}
	if cfg.Backtest.InitialHoldings != nil && len(cfg.Backtest.InitialHoldings) != n {
		return domain.NewConfigError("backtest.initial_holdings",
			fmt.Errorf("got %d values for %d symbols", len(cfg.Backtest.InitialHoldings), n))
	}
	switch cfg.Backtest.Ordering {
	case "", "trade_then_accrue", "accrue_then_trade":
	default:
		return domain.NewConfigError("backtest.ordering",
			fmt.Errorf("unknown ordering %q", cfg.Backtest.Ordering))
	}

	if err := cfg.Policy.validate(n); err != nil {
		return err
	}
	for i, spec := range cfg.Sweep.Specs {
		if spec.Name == "" {
			return domain.NewConfigError(fmt.Sprintf("sweep.specs[%d].name", i),
				fmt.Errorf("required"))
		}
		if err := spec.Policy.validate(n); err != nil {
			return fmt.Errorf("sweep spec %q: %w", spec.Name, err)
		}
	}

	switch cfg.Risk.Model {
	case "", "full", "diagonal", "factor":
	default:
		return domain.NewConfigError("risk.model",
			fmt.Errorf("unknown model %q, want full, diagonal, or factor", cfg.Risk.Model))
	}
	if cfg.Risk.Model == "factor" && cfg.Risk.NumFactors < 1 {
		return domain.NewConfigError("risk.num_factors", fmt.Errorf("must be at least 1"))
	}

	for i, cc := range cfg.Constraints {
		if !knownConstraint(cc.Name) {
			return domain.NewConfigError(fmt.Sprintf("constraints[%d].name", i),
				fmt.Errorf("unknown constraint %q", cc.Name))
		}
	}

	return nil
}

func (pc PolicyConfig) validate(n int) error {
	switch pc.Name {
	case "hold":
	case "fixed_weights":
		if len(pc.Targets) != n {
			return domain.NewConfigError("policy.targets",
				fmt.Errorf("got %d values for %d symbols", len(pc.Targets), n))
		}
	case "single_period_opt":
	case "multi_period_opt":
		if pc.Horizon < 1 {
			return domain.NewConfigError("policy.horizon", fmt.Errorf("must be at least 1"))
		}
	default:
		return domain.NewConfigError("policy.name", fmt.Errorf("unknown policy %q", pc.Name))
	}
	return nil
}

func knownConstraint(name string) bool {
	switch name {
	case "long_only", "long_cash", "leverage_limit", "turnover_limit",
		"max_weights", "min_weights", "dollar_neutral",
		"participation_rate", "min_cash":
		return true
	}
	return false
}
