package quota

import (
	"testing"
	"time"
)

func TestPeriodKey(t *testing.T) {
	at := time.Date(2026, 8, 30, 15, 4, 5, 0, time.UTC)
	if got := PeriodKey(at); got != "2026-08" {
		t.Errorf("PeriodKey = %q, want 2026-08", got)
	}
}

func TestPeriodKeyUsesUTC(t *testing.T) {
	// 23:30 local on Aug 31 in UTC+5 is already September in UTC? No:
	// 2026-08-31 23:30 +05:00 is 18:30 UTC, still August. But
	// 2026-09-01 02:00 +05:00 is Aug 31 21:00 UTC.
	loc := time.FixedZone("UTC+5", 5*3600)
	at := time.Date(2026, 9, 1, 2, 0, 0, 0, loc)
	if got := PeriodKey(at); got != "2026-08" {
		t.Errorf("PeriodKey = %q, want 2026-08 (UTC governs the period)", got)
	}
}

func TestPeriodEnd(t *testing.T) {
	end := PeriodEnd("2026-08")
	want := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	if !end.Equal(want) {
		t.Errorf("PeriodEnd = %v, want %v", end, want)
	}
}

func TestPeriodEndYearRollover(t *testing.T) {
	end := PeriodEnd("2026-12")
	want := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	if !end.Equal(want) {
		t.Errorf("PeriodEnd = %v, want %v", end, want)
	}
}

func TestPeriodEndMalformed(t *testing.T) {
	if !PeriodEnd("garbage").IsZero() {
		t.Error("malformed period should yield zero time")
	}
}
