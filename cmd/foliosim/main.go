package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"foliosim/internal/config"
	"foliosim/internal/sim"
	"foliosim/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/foliosim.yaml", "path to YAML configuration")
	flag.Parse()
	if p := os.Getenv("FOLIOSIM_CONFIG"); p != "" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bs, err := cfg.NewStore()
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	provider, err := cfg.NewProvider(ctx, bs)
	if c, ok := bs.(io.Closer); ok {
		c.Close()
	}
	if err != nil {
		log.Fatalf("loading market data: %v", err)
	}

	start, end, err := cfg.Backtest.Range()
	if err != nil {
		log.Fatalf("invalid range: %v", err)
	}
	initial := cfg.NewInitialPortfolio()

	if len(cfg.Sweep.Specs) > 0 {
		specs, err := cfg.NewSweepSpecs()
		if err != nil {
			log.Fatalf("building sweep: %v", err)
		}
		results, err := sim.Sweep(ctx, provider, specs, initial, start, end, cfg.Sweep.Workers)
		if err != nil {
			log.Fatalf("sweep: %v", err)
		}
		for _, sr := range results {
			fmt.Printf("==== %s ====\n%s\n", sr.Name, sr.Result)
		}
		return
	}

	p, err := cfg.NewPolicy(cfg.Policy)
	if err != nil {
		log.Fatalf("building policy: %v", err)
	}

	simulator := &sim.Simulator{
		Provider: provider,
		Policy:   p,
		Costs:    cfg.NewCosts(),
		Options:  cfg.NewOptions(),
		Logger:   logger.With("component", "sim"),
	}

	res, err := simulator.Run(ctx, initial, start, end)
	if err != nil {
		log.Fatalf("backtest: %v", err)
	}

	fmt.Println(res)

	if path := cfg.Backtest.CSVPath; path != "" {
		f, err := os.Create(path)
		if err != nil {
			log.Fatalf("creating %s: %v", path, err)
		}
		if err := res.WriteCSV(f); err != nil {
			log.Fatalf("writing csv: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("closing %s: %v", path, err)
		}
	}
	if dir := cfg.Backtest.ParquetDir; dir != "" {
		if err := res.WriteParquet(dir); err != nil {
			log.Fatalf("writing parquet: %v", err)
		}
	}
}
