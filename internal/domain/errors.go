package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for fatal pre-loop validation failures.
var (
	// ErrUniverseMismatch means the market data provider and the portfolio
	// disagree on the asset universe.
	ErrUniverseMismatch = errors.New("universe mismatch between provider and portfolio")

	// ErrEmptyTimeRange means the requested backtest range contains no
	// tradeable periods.
	ErrEmptyTimeRange = errors.New("empty backtest time range")
)

// ConfigError wraps a fatal configuration problem detected before the
// simulation loop starts. It is never produced mid-backtest.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error [%s]: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a ConfigError for the given field.
func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{Field: field, Err: err}
}

// AccountingError reports a value-conservation violation or a margin breach.
// These indicate a bug in cost or trade computation, not a market condition,
// so the simulator aborts with full period context.
type AccountingError struct {
	Time     time.Time
	Value    float64
	Expected float64
	Reason   string
}

func (e *AccountingError) Error() string {
	return fmt.Sprintf("accounting violation at %s: %s (value=%.6f expected=%.6f)",
		e.Time.Format(time.RFC3339), e.Reason, e.Value, e.Expected)
}

// IsFatal reports whether err must abort a backtest rather than be handled
// by a per-period fallback.
func IsFatal(err error) bool {
	var ce *ConfigError
	var ae *AccountingError
	return errors.As(err, &ce) || errors.As(err, &ae) ||
		errors.Is(err, ErrUniverseMismatch) || errors.Is(err, ErrEmptyTimeRange)
}
