package sim

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"foliosim/internal/constraint"
	"foliosim/internal/cost"
	"foliosim/internal/domain"
	"foliosim/internal/forecast"
	"foliosim/internal/market"
	"foliosim/internal/policy"
	"foliosim/internal/risk"
	"foliosim/internal/solver"
)

// testSeries builds a deterministic two-asset return series of the given
// length, seeded so repeated builds are identical.
func testSeries(t *testing.T, periods int, seed int64) *market.InMemory {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	s := market.Series{
		Universe:    domain.Universe{"AAA", "BBB"},
		Spreads:     []float64{0.0005, 0.0005},
		BorrowCosts: []float64{0.0001, 0.0001},
	}
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	pa, pb := 100.0, 50.0
	for i := 0; i < periods; i++ {
		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, 1)
		}
		ra := 0.01 * rng.NormFloat64()
		rb := 0.01 * rng.NormFloat64()
		s.Times = append(s.Times, day)
		s.Returns = append(s.Returns, []float64{ra, rb, 0.0001})
		s.Prices = append(s.Prices, []float64{pa, pb})
		s.Volumes = append(s.Volumes, []float64{5e6, 3e6})
		pa *= 1 + ra
		pb *= 1 + rb
		day = day.AddDate(0, 0, 1)
	}

	m, err := market.NewInMemory(s)
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	return m
}

func fullRange(m market.Provider) (time.Time, time.Time) {
	ts := m.Times()
	return ts[0], ts[len(ts)-1]
}

func optPolicy() *policy.SinglePeriodOpt {
	return &policy.SinglePeriodOpt{
		Forecast:   &forecast.MeanReturns{Window: 20},
		Risk:       risk.NewFullCovariance(30),
		RiskWindow: 30,
		GammaRisk:  5,
		GammaTrade: 1,
		Costs:      []cost.Model{&cost.Transaction{}},
		Constraints: constraint.Set{
			constraint.LongOnly{},
			constraint.LeverageLimit{Limit: 1},
		},
		Solver: solver.NewPGS(),
	}
}

func TestValueConservation(t *testing.T) {
	m := testSeries(t, 60, 1)
	s := &Simulator{
		Provider: m,
		Policy:   policy.Uniform(2),
		Costs:    []cost.Model{&cost.Transaction{NonlinCoeff: 1}, &cost.Holding{}},
	}
	start, end := fullRange(m)
	res, err := s.Run(context.Background(), domain.NewPortfolio(2, 10000), start, end)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Entries) != 60 {
		t.Fatalf("got %d periods, want 60", len(res.Entries))
	}

	for k, e := range res.Entries {
		returns, cashReturn, err := m.Realized(e.Time)
		if err != nil {
			t.Fatalf("Realized(%s): %v", e.Time, err)
		}
		accrual := cashReturn * e.Cash
		for i, r := range returns {
			accrual += e.Holdings[i] * r
		}
		next := res.FinalValue
		if k+1 < len(res.Entries) {
			next = res.Entries[k+1].Value
		}
		want := e.Value - e.Cost + accrual
		if math.Abs(next-want) > 1e-8*math.Abs(want) {
			t.Errorf("period %d: value %g, want %g", k, next, want)
		}
	}
}

// advancingGuard moves the guard clock to each snapshot time before
// serving it, so any query beyond the period being simulated fails.
type advancingGuard struct {
	*market.Guarded
}

func (a advancingGuard) Snapshot(t time.Time) (*domain.Snapshot, error) {
	a.Advance(t)
	return a.Guarded.Snapshot(t)
}

func TestNoLookAhead(t *testing.T) {
	m := testSeries(t, 50, 2)
	s := &Simulator{
		Provider: advancingGuard{market.NewGuarded(m)},
		Policy:   optPolicy(),
		Costs:    []cost.Model{&cost.Transaction{}},
	}
	start, end := fullRange(m)
	if _, err := s.Run(context.Background(), domain.NewPortfolio(2, 10000), start, end); err != nil {
		t.Fatalf("guarded run tripped: %v", err)
	}
}

func TestLongOnlyHoldingsNeverNegative(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		m := testSeries(t, 40, seed)
		s := &Simulator{
			Provider: m,
			Policy:   optPolicy(),
			Costs:    []cost.Model{&cost.Transaction{}},
		}
		start, end := fullRange(m)
		res, err := s.Run(context.Background(), domain.NewPortfolio(2, 10000), start, end)
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		for k, e := range res.Entries {
			for i, h := range e.Holdings {
				if h < -1e-4 {
					t.Errorf("seed %d period %d: holding[%d] = %g", seed, k, i, h)
				}
			}
		}
	}
}

func TestZeroCostHoldKeepsValueConstant(t *testing.T) {
	s := market.Series{
		Universe: domain.Universe{"AAA", "BBB"},
	}
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		s.Times = append(s.Times, day.AddDate(0, 0, i))
		s.Returns = append(s.Returns, []float64{0.02, -0.01, 0})
	}
	m, err := market.NewInMemory(s)
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	sim := &Simulator{Provider: m, Policy: policy.Hold{}}
	start, end := fullRange(m)
	res, err := sim.Run(context.Background(), domain.NewPortfolio(2, 100), start, end)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for k, e := range res.Entries {
		if e.Cost != 0 {
			t.Errorf("period %d: cost %g, want 0", k, e.Cost)
		}
		if math.Abs(e.Value-100) > 1e-12 {
			t.Errorf("period %d: value %g, want 100", k, e.Value)
		}
	}
	if math.Abs(res.FinalValue-100) > 1e-12 {
		t.Errorf("final value %g, want 100", res.FinalValue)
	}
}

// alwaysInfeasible reports every solve as infeasible.
type alwaysInfeasible struct{ n int }

func (alwaysInfeasible) Name() string { return "always_infeasible" }

func (a alwaysInfeasible) Decide(context.Context, domain.Portfolio, *domain.Snapshot) (*policy.Decision, error) {
	trades := make([]float64, a.n)
	for i := range trades {
		trades[i] = 100
	}
	return &policy.Decision{Trades: trades, Status: domain.StatusInfeasible}, nil
}

func TestSolverFailureFallback(t *testing.T) {
	m := testSeries(t, 20, 3)
	s := &Simulator{Provider: m, Policy: alwaysInfeasible{n: 2}}
	start, end := fullRange(m)
	res, err := s.Run(context.Background(), domain.NewPortfolio(2, 1000), start, end)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for k, e := range res.Entries {
		if !e.Fallback {
			t.Errorf("period %d not marked fallback", k)
		}
		if e.Status != domain.StatusInfeasible {
			t.Errorf("period %d status = %v", k, e.Status)
		}
		for i, u := range e.Trades {
			if u != 0 {
				t.Errorf("period %d: trade[%d] = %g, want fallback zero", k, i, u)
			}
		}
		if e.Holdings[0] != 0 || e.Holdings[1] != 0 {
			t.Errorf("period %d: holdings moved under fallback: %v", k, e.Holdings)
		}
	}
}

func TestDeterministicReplay(t *testing.T) {
	render := func() []byte {
		m := testSeries(t, 40, 4)
		s := &Simulator{
			Provider: m,
			Policy:   optPolicy(),
			Costs:    []cost.Model{&cost.Transaction{NonlinCoeff: 1}, &cost.Holding{}},
		}
		start, end := fullRange(m)
		res, err := s.Run(context.Background(), domain.NewPortfolio(2, 10000), start, end)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		var buf bytes.Buffer
		// Durations vary between runs; zero them before rendering.
		for i := range res.Entries {
			res.Entries[i].PolicyDur = 0
			res.Entries[i].SimDur = 0
		}
		if err := res.WriteCSV(&buf); err != nil {
			t.Fatalf("WriteCSV: %v", err)
		}
		return buf.Bytes()
	}
	if !bytes.Equal(render(), render()) {
		t.Fatal("two identical backtests rendered different results")
	}
}

func TestPolicyReuseReplaysSchedule(t *testing.T) {
	m := testSeries(t, 10, 7)
	shared := &policy.FixedWeights{Targets: []float64{0.5, 0.5}, Every: 3}
	render := func() []byte {
		s := &Simulator{Provider: m, Policy: shared}
		start, end := fullRange(m)
		res, err := s.Run(context.Background(), domain.NewPortfolio(2, 10000), start, end)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		for i := range res.Entries {
			res.Entries[i].PolicyDur = 0
			res.Entries[i].SimDur = 0
		}
		var buf bytes.Buffer
		if err := res.WriteCSV(&buf); err != nil {
			t.Fatalf("WriteCSV: %v", err)
		}
		return buf.Bytes()
	}
	if !bytes.Equal(render(), render()) {
		t.Fatal("reusing the policy shifted the rebalance schedule")
	}
}

func TestInvestThenHoldScenario(t *testing.T) {
	s := market.Series{
		Universe: domain.Universe{"A", "B"},
		Times: []time.Time{
			time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		},
		Returns: [][]float64{{0, 0, 0}, {0, 0, 0}},
	}
	m, err := market.NewInMemory(s)
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	sim := &Simulator{Provider: m, Policy: policy.Uniform(2)}
	res, err := sim.Run(context.Background(), domain.NewPortfolio(2, 100), s.Times[0], s.Times[1])
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("got %d periods, want 2", len(res.Entries))
	}

	for k, e := range res.Entries {
		if math.Abs(e.Holdings[0]-50) > 1e-9 || math.Abs(e.Holdings[1]-50) > 1e-9 {
			t.Errorf("period %d holdings = %v, want {50, 50}", k, e.Holdings)
		}
		if math.Abs(e.Cash) > 1e-9 {
			t.Errorf("period %d cash = %g, want 0", k, e.Cash)
		}
		if math.Abs(e.Value-100) > 1e-9 {
			t.Errorf("period %d value = %g, want 100", k, e.Value)
		}
	}
	if math.Abs(res.FinalValue-100) > 1e-9 {
		t.Errorf("final value = %g, want 100", res.FinalValue)
	}
}

// cancelAfter cancels the shared context after n decisions.
type cancelAfter struct {
	inner  policy.Policy
	cancel context.CancelFunc
	n      int
	seen   int
}

func (c *cancelAfter) Name() string { return c.inner.Name() }

func (c *cancelAfter) Decide(ctx context.Context, p domain.Portfolio, snap *domain.Snapshot) (*policy.Decision, error) {
	c.seen++
	if c.seen == c.n {
		c.cancel()
	}
	return c.inner.Decide(ctx, p, snap)
}

func TestCancellationAtPeriodBoundary(t *testing.T) {
	m := testSeries(t, 30, 5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Simulator{
		Provider: m,
		Policy:   &cancelAfter{inner: policy.Hold{}, cancel: cancel, n: 7},
	}
	start, end := fullRange(m)
	res, err := s.Run(ctx, domain.NewPortfolio(2, 1000), start, end)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil {
		t.Fatal("canceled run returned no result")
	}
	if len(res.Entries) != 7 {
		t.Errorf("got %d committed periods, want 7", len(res.Entries))
	}
}

func TestRunRejectsBadInputs(t *testing.T) {
	m := testSeries(t, 10, 6)
	start, end := fullRange(m)

	s := &Simulator{Provider: m, Policy: policy.Hold{}}
	if _, err := s.Run(context.Background(), domain.NewPortfolio(3, 100), start, end); !errors.Is(err, domain.ErrUniverseMismatch) {
		t.Errorf("universe mismatch: err = %v", err)
	}
	if _, err := s.Run(context.Background(), domain.NewPortfolio(2, 100), end.AddDate(1, 0, 0), end.AddDate(2, 0, 0)); !errors.Is(err, domain.ErrEmptyTimeRange) {
		t.Errorf("empty range: err = %v", err)
	}
}

func TestMarginThresholdAborts(t *testing.T) {
	s := market.Series{
		Universe: domain.Universe{"AAA", "BBB"},
	}
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		s.Times = append(s.Times, day.AddDate(0, 0, i))
		s.Returns = append(s.Returns, []float64{-0.5, -0.5, 0})
	}
	m, err := market.NewInMemory(s)
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}

	sim := &Simulator{
		Provider: m,
		Policy:   policy.Uniform(2),
		Options:  Options{MarginThreshold: 0.5},
	}
	start, end := fullRange(m)
	_, err = sim.Run(context.Background(), domain.NewPortfolio(2, 100), start, end)
	var ae *domain.AccountingError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want AccountingError", err)
	}
}

func TestAccrueThenTradeOrdering(t *testing.T) {
	m := testSeries(t, 30, 7)
	s := &Simulator{
		Provider: m,
		Policy:   policy.Uniform(2),
		Costs:    []cost.Model{&cost.Transaction{}},
		Options:  Options{Ordering: AccrueThenTrade},
	}
	start, end := fullRange(m)
	res, err := s.Run(context.Background(), domain.NewPortfolio(2, 10000), start, end)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.FinalValue <= 0 {
		t.Errorf("final value = %g", res.FinalValue)
	}
}

func TestSweepRunsAllSpecs(t *testing.T) {
	m := testSeries(t, 30, 8)
	specs := []Spec{
		{Name: "hold", Policy: policy.Hold{}},
		{Name: "uniform", Policy: policy.Uniform(2), Costs: []cost.Model{&cost.Transaction{}}},
		{Name: "opt", Policy: optPolicy(), Costs: []cost.Model{&cost.Transaction{}}},
	}
	start, end := fullRange(m)
	results, err := Sweep(context.Background(), m, specs, domain.NewPortfolio(2, 10000), start, end, 2)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(results) != len(specs) {
		t.Fatalf("got %d results, want %d", len(results), len(specs))
	}
	for i, r := range results {
		if r.Name != specs[i].Name {
			t.Errorf("result %d name = %q, want %q", i, r.Name, specs[i].Name)
		}
		if r.Result == nil || len(r.Result.Entries) != 30 {
			t.Errorf("result %d incomplete", i)
		}
	}
}

func TestSweepPropagatesFailure(t *testing.T) {
	m := testSeries(t, 10, 9)
	specs := []Spec{
		{Name: "ok", Policy: policy.Hold{}},
		{Name: "bad", Policy: policy.Uniform(2), Options: Options{MarginThreshold: 1e9}},
	}
	start, end := fullRange(m)
	if _, err := Sweep(context.Background(), m, specs, domain.NewPortfolio(2, 100), start, end, 2); err == nil {
		t.Fatal("expected sweep to surface the failing backtest")
	}
}