// Package store persists gathered daily bars and serves them back to the
// provider layer. Two backends exist: SQLite for a single-file local
// database and Parquet for a year-partitioned columnar layout.
package store

import (
	"context"
	"time"

	"foliosim/internal/domain"
)

// BarStore persists and retrieves daily bar data.
type BarStore interface {
	// WriteBars persists a batch of bars. Re-writing a (symbol, timestamp)
	// pair replaces the stored bar.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns the stored bars for one symbol within [start, end],
	// ordered by timestamp.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with stored bars, sorted.
	ListSymbols(ctx context.Context) ([]string, error)
}
