package util

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3
	persistent := errors.New("persistent error")

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return persistent
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if !errors.Is(err, persistent) {
		t.Errorf("Retry error %v does not wrap the last failure", err)
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRateLimiterFirstCallImmediate(t *testing.T) {
	rl := NewRateLimiter(1)
	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("first Wait should not block")
	}
}

func TestRateLimiterSpacesCalls(t *testing.T) {
	rl := NewRateLimiter(60000) // 1ms interval
	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 4*time.Millisecond {
		t.Errorf("5 calls took %v, want at least 4ms of spacing", elapsed)
	}
}

func TestRateLimiterHonorsCancellation(t *testing.T) {
	rl := NewRateLimiter(1) // 1 minute interval
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := parseLevel(c.in); got != c.want {
			t.Errorf("parseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestIsTradingDay(t *testing.T) {
	cases := []struct {
		day  time.Time
		want bool
	}{
		{time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), true},  // Friday
		{time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), false}, // Saturday
		{time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), false}, // Sunday
		{time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), true},  // Monday
	}
	for _, c := range cases {
		if got := IsTradingDay(c.day); got != c.want {
			t.Errorf("IsTradingDay(%s) = %v, want %v", c.day.Weekday(), got, c.want)
		}
	}
}

func TestNextTradingDaySkipsWeekend(t *testing.T) {
	friday := time.Date(2024, 1, 5, 15, 30, 0, 0, time.UTC)
	got := NextTradingDay(friday)
	want := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextTradingDay = %v, want %v", got, want)
	}
}

func TestTradingDays(t *testing.T) {
	start := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC) // Thursday
	end := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)   // Tuesday
	days := TradingDays(start, end)
	if len(days) != 4 {
		t.Fatalf("TradingDays returned %d days, want 4", len(days))
	}
	for _, d := range days {
		if !IsTradingDay(d) {
			t.Errorf("TradingDays included weekend day %v", d)
		}
	}
	if !days[0].Equal(start) {
		t.Errorf("first day = %v, want %v", days[0], start)
	}
}
