package cronexpr

import (
	"testing"
	"time"
)

func TestParseRejectsWrongFieldCount(t *testing.T) {
	if _, err := Parse("* * * *"); err == nil {
		t.Fatal("expected cron.invalid for 4-field expression")
	}
}

func TestParseRejectsRangesAndSteps(t *testing.T) {
	cases := []string{"*/5 * * * *", "1-5 * * * *", "1,2,3 * * * *"}
	for _, expr := range cases {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q) expected error (ranges/steps unsupported), got nil", expr)
		}
	}
}

func TestParseRejectsOutOfRangeLiteral(t *testing.T) {
	if _, err := Parse("60 * * * *"); err == nil {
		t.Fatal("expected error for minute=60 (out of [0,59])")
	}
}

func TestParseAcceptsStarAndLiterals(t *testing.T) {
	if _, err := Parse("0 9 * * *"); err != nil {
		t.Fatalf("Parse(\"0 9 * * *\"): %v", err)
	}
}

func TestNextIsStrictlyAfterNowAtExactBoundary(t *testing.T) {
	e, err := Parse("0 9 * * *")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	next := e.Next(now)
	want := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v (strict '>', spec §8)", now, next, want)
	}
}
