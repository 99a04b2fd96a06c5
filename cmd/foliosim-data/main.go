package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"foliosim/internal/config"
	"foliosim/internal/domain"
	"foliosim/internal/gather"
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

	util.SetDefault(util.NewLogger(cfg.Logging.Level))

	bs, err := cfg.NewStore()
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer func() {
		if c, ok := bs.(io.Closer); ok {
			c.Close()
		}
	}()

	g := gather.NewBarGatherer(bs, domain.Universe(cfg.Data.Universe), gather.Options{
		APIKey:          cfg.Alpaca.APIKey,
		APISecret:       cfg.Alpaca.APISecret,
		DataURL:         cfg.Alpaca.DataURL,
		StartDate:       cfg.Gather.StartDate,
		BatchSize:       cfg.Gather.BatchSize,
		RateLimitPerMin: cfg.Gather.RateLimitPerMin,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := g.Run(ctx); err != nil {
		log.Fatalf("gatherer: %v", err)
	}
}
