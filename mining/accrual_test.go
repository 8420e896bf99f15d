package mining

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var (
	t0       = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	quarter  = decimal.RequireFromString("0.25")
	window24 = 24 * time.Hour
)

func TestEarnedTokensZeroAtStart(t *testing.T) {
	if !EarnedTokens(t0, quarter, t0).IsZero() {
		t.Fatal("tokens at start must be zero")
	}
}

func TestEarnedTokensNegativeElapsed(t *testing.T) {
	if !EarnedTokens(t0, quarter, t0.Add(-time.Hour)).IsZero() {
		t.Fatal("accrual must never be negative")
	}
}

func TestEarnedTokensTwoHours(t *testing.T) {
	got := EarnedTokens(t0, quarter, t0.Add(2*time.Hour))
	if !got.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("2h at 0.25/h = 0.5, got %s", got)
	}
}

func TestEarnedTokensFullWindow(t *testing.T) {
	got := EarnedTokens(t0, quarter, t0.Add(window24))
	if !got.Equal(decimal.RequireFromString("6")) {
		t.Fatalf("24h at 0.25/h = 6, got %s", got)
	}
}

func TestEarnedTokensMonotonic(t *testing.T) {
	prev := decimal.Zero
	for _, d := range []time.Duration{0, time.Minute, time.Hour, 5 * time.Hour, window24, 30 * time.Hour} {
		cur := EarnedTokens(t0, quarter, t0.Add(d))
		if cur.LessThan(prev) {
			t.Fatalf("accrual decreased at +%s: %s < %s", d, cur, prev)
		}
		prev = cur
	}
}

func TestEarnedTokensFractionalPrecision(t *testing.T) {
	// 90 seconds at 0.1/h = 0.0025, a figure a float-naive path could
	// mangle.
	got := EarnedTokens(t0, decimal.RequireFromString("0.1"), t0.Add(90*time.Second))
	if !got.Equal(decimal.RequireFromString("0.0025")) {
		t.Fatalf("want 0.0025, got %s", got)
	}
}

func TestFinalCutoff(t *testing.T) {
	end := t0.Add(window24)
	if got := FinalCutoff(t0.Add(2*time.Hour), end); !got.Equal(t0.Add(2 * time.Hour)) {
		t.Fatal("early stop finalizes at now")
	}
	if got := FinalCutoff(t0.Add(25*time.Hour), end); !got.Equal(end) {
		t.Fatal("late finalize clamps to scheduled end")
	}
	if got := FinalCutoff(end, end); !got.Equal(end) {
		t.Fatal("exactly at end finalizes at end")
	}
}

func TestRemainingHours(t *testing.T) {
	end := t0.Add(window24)
	if got := RemainingHours(t0.Add(2*time.Hour), end); !got.Equal(decimal.RequireFromString("22")) {
		t.Fatalf("want 22, got %s", got)
	}
	if !RemainingHours(t0.Add(25*time.Hour), end).IsZero() {
		t.Fatal("remaining hours floors at zero")
	}
}
