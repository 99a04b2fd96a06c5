// Package gather fetches historical market data and persists it into a bar
// store, from which backtests build their in-memory data provider.
package gather

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"foliosim/internal/domain"
	"foliosim/internal/store"
	"foliosim/internal/util"
)

// Gatherer is a data gathering job.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run fetches data until done or ctx is cancelled.
	Run(ctx context.Context) error
}

// Compile-time interface check.
var _ Gatherer = (*BarGatherer)(nil)

// BarGatherer fetches daily OHLCV bars for a fixed universe of US equities
// from the Alpaca market-data API and writes them to a bar store. Re-running
// it is idempotent: bars are keyed by symbol and timestamp, so overlapping
// fetches simply rewrite the same rows.
type BarGatherer struct {
	client    *marketdata.Client
	store     store.BarStore
	universe  domain.Universe
	startDate string
	batchSize int
	limiter   *util.RateLimiter
	log       *slog.Logger
}

// Options configure a BarGatherer; zero fields take defaults.
type Options struct {
	APIKey    string
	APISecret string
	DataURL   string

	// StartDate is the first day to fetch, formatted 2006-01-02.
	StartDate string

	// BatchSize is the number of symbols per API call; 0 means 200.
	BatchSize int

	// RateLimitPerMin caps API calls per minute; 0 means 200.
	RateLimitPerMin int
}

// NewBarGatherer creates a gatherer that fetches the given universe into s.
func NewBarGatherer(s store.BarStore, universe domain.Universe, opts Options) *BarGatherer {
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	perMin := opts.RateLimitPerMin
	if perMin <= 0 {
		perMin = 200
	}

	return &BarGatherer{
		client:    marketdata.NewClient(clientOpts),
		store:     s,
		universe:  universe,
		startDate: opts.StartDate,
		batchSize: batchSize,
		limiter:   util.NewRateLimiter(perMin),
		log:       slog.Default().With("gatherer", "daily-bars"),
	}
}

// Name returns the gatherer identifier.
func (g *BarGatherer) Name() string { return "daily-bars" }

// Run fetches daily bars for every symbol in the universe from the start
// date through the last finished trading day and writes them to the store.
func (g *BarGatherer) Run(ctx context.Context) error {
	start, err := time.Parse("2006-01-02", g.startDate)
	if err != nil {
		return fmt.Errorf("parsing start date %q: %w", g.startDate, err)
	}
	end := lastFinishedTradingDay(time.Now().UTC())

	symbols := make([]string, len(g.universe))
	for i, sym := range g.universe {
		symbols[i] = strings.ToUpper(sym)
	}

	totalBatches := (len(symbols) + g.batchSize - 1) / g.batchSize
	g.log.Info("starting daily-bars",
		"symbols", len(symbols),
		"batches", totalBatches,
		"start", g.startDate,
		"end", end.Format("2006-01-02"),
	)

	runStart := time.Now()
	var totalBars int
	for i := 0; i < len(symbols); i += g.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := symbols[i:min(i+g.batchSize, len(symbols))]

		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		var bars []domain.Bar
		err := util.Retry(ctx, 3, time.Second, func() error {
			var fetchErr error
			bars, fetchErr = g.fetchBatch(batch, start, end)
			return fetchErr
		})
		if err != nil {
			return fmt.Errorf("fetching batch %d/%d: %w", i/g.batchSize+1, totalBatches, err)
		}

		if len(bars) > 0 {
			if err := g.store.WriteBars(ctx, bars); err != nil {
				return fmt.Errorf("writing bars: %w", err)
			}
		}
		totalBars += len(bars)

		g.log.Info("batch done",
			"batch", fmt.Sprintf("%d/%d", i/g.batchSize+1, totalBatches),
			"bars", len(bars),
			"elapsed", time.Since(runStart).Round(time.Second),
		)
	}

	g.log.Info("complete", "bars", totalBars, "elapsed", time.Since(runStart).Round(time.Second))
	return nil
}

// fetchBatch fetches daily bars for a batch of symbols in one API call.
func (g *BarGatherer) fetchBatch(symbols []string, start, end time.Time) ([]domain.Bar, error) {
	multiBars, err := g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      "sip",
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:    strings.ToUpper(symbol),
				Timestamp: ab.Timestamp,
				Open:      ab.Open,
				High:      ab.High,
				Low:       ab.Low,
				Close:     ab.Close,
				Volume:    int64(ab.Volume),
				VWAP:      ab.VWAP,
			})
		}
	}
	return bars, nil
}

// lastFinishedTradingDay returns the most recent weekday whose session has
// certainly closed by now, so partial bars never enter the store.
func lastFinishedTradingDay(now time.Time) time.Time {
	d := now.Truncate(24 * time.Hour)
	// Same-day bars may still be forming; step back one day minimum.
	d = d.Add(-24 * time.Hour)
	for !util.IsTradingDay(d) {
		d = d.Add(-24 * time.Hour)
	}
	return d
}
