package store

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dukerupert/reelsmith/internal/database"
)

func setupUsageTestDB(t *testing.T) (*UsageStore, *UserStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewUsageStore(db), NewUserStore(db)
}

func TestReserveIfBelowAllowsUnderLimit(t *testing.T) {
	us, users := setupUsageTestDB(t)
	u, _ := users.Create("alice@example.com")

	allowed, count, err := us.ReserveIfBelow(u.ID, "generation", "2026-08", 10)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !allowed {
		t.Error("expected first reserve to be allowed")
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestReserveIfBelowDeniesAtLimit(t *testing.T) {
	us, users := setupUsageTestDB(t)
	u, _ := users.Create("alice@example.com")

	for i := 0; i < 3; i++ {
		if allowed, _, err := us.ReserveIfBelow(u.ID, "video", "2026-08", 3); err != nil || !allowed {
			t.Fatalf("reserve %d: allowed=%v err=%v", i, allowed, err)
		}
	}

	allowed, count, err := us.ReserveIfBelow(u.ID, "video", "2026-08", 3)
	if err != nil {
		t.Fatalf("reserve at limit: %v", err)
	}
	if allowed {
		t.Error("expected denial at limit")
	}
	if count != 3 {
		t.Errorf("count after denial = %d, want 3 (denial must not increment)", count)
	}
}

func TestReserveIfBelowUnlimitedStillCounts(t *testing.T) {
	us, users := setupUsageTestDB(t)
	u, _ := users.Create("alice@example.com")

	for i := 1; i <= 5; i++ {
		allowed, count, err := us.ReserveIfBelow(u.ID, "generation", "2026-08", -1)
		if err != nil {
			t.Fatalf("reserve %d: %v", i, err)
		}
		if !allowed {
			t.Errorf("reserve %d: unlimited must always allow", i)
		}
		if count != i {
			t.Errorf("count = %d, want %d (unlimited still increments)", count, i)
		}
	}
}

func TestReserveIfBelowPeriodsAreIndependent(t *testing.T) {
	us, users := setupUsageTestDB(t)
	u, _ := users.Create("alice@example.com")

	for i := 0; i < 2; i++ {
		us.ReserveIfBelow(u.ID, "generation", "2026-08", 2)
	}
	if allowed, _, _ := us.ReserveIfBelow(u.ID, "generation", "2026-08", 2); allowed {
		t.Error("expected denial in exhausted period")
	}

	// A new period starts a fresh counter
	allowed, count, err := us.ReserveIfBelow(u.ID, "generation", "2026-09", 2)
	if err != nil {
		t.Fatalf("reserve new period: %v", err)
	}
	if !allowed || count != 1 {
		t.Errorf("new period = (%v, %d), want (true, 1)", allowed, count)
	}
}

func TestReserveIfBelowResourcesAreIndependent(t *testing.T) {
	us, users := setupUsageTestDB(t)
	u, _ := users.Create("alice@example.com")

	us.ReserveIfBelow(u.ID, "generation", "2026-08", 1)
	if allowed, _, _ := us.ReserveIfBelow(u.ID, "generation", "2026-08", 1); allowed {
		t.Error("expected generation denial")
	}

	allowed, _, err := us.ReserveIfBelow(u.ID, "video", "2026-08", 1)
	if err != nil {
		t.Fatalf("reserve video: %v", err)
	}
	if !allowed {
		t.Error("video quota must be independent of generation quota")
	}
}

// TestReserveIfBelowConcurrent drives N concurrent reservations at a limit
// of L and requires exactly L to succeed: the conditional UPDATE must never
// let two callers both observe count < limit and both pass.
func TestReserveIfBelowConcurrent(t *testing.T) {
	// File-backed db: concurrent access needs a shared database across
	// pooled connections
	db, err := database.Open(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	us := NewUsageStore(db)
	users := NewUserStore(db)
	u, _ := users.Create("alice@example.com")

	const n = 40
	const limit = 7

	var allowedCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, err := us.ReserveIfBelow(u.ID, "generation", "2026-08", limit)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if allowed {
				allowedCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowedCount.Load(); got != limit {
		t.Errorf("allowed = %d, want exactly %d", got, limit)
	}

	counter, err := us.Get(u.ID, "generation", "2026-08")
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if counter.Count != limit {
		t.Errorf("final count = %d, want %d", counter.Count, limit)
	}
}

func TestGetMissingCounterIsZero(t *testing.T) {
	us, users := setupUsageTestDB(t)
	u, _ := users.Create("alice@example.com")

	c, err := us.Get(u.ID, "generation", "2026-08")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Count != 0 {
		t.Errorf("count = %d, want 0 for fresh period", c.Count)
	}
}

func TestResetRecordsAudit(t *testing.T) {
	us, users := setupUsageTestDB(t)
	u, _ := users.Create("alice@example.com")

	for i := 0; i < 4; i++ {
		us.ReserveIfBelow(u.ID, "generation", "2026-08", 10)
	}

	if err := us.Reset(u.ID, "generation", "2026-08", "admin@example.com"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	c, _ := us.Get(u.ID, "generation", "2026-08")
	if c.Count != 0 {
		t.Errorf("count after reset = %d, want 0", c.Count)
	}

	resets, err := us.ListResets(u.ID)
	if err != nil {
		t.Fatalf("list resets: %v", err)
	}
	if len(resets) != 1 {
		t.Fatalf("resets = %d, want 1", len(resets))
	}
	if resets[0].PriorCount != 4 {
		t.Errorf("prior_count = %d, want 4", resets[0].PriorCount)
	}
	if resets[0].ResetBy != "admin@example.com" {
		t.Errorf("reset_by = %q, want admin email", resets[0].ResetBy)
	}
}

func TestResetMissingCounter(t *testing.T) {
	us, users := setupUsageTestDB(t)
	u, _ := users.Create("alice@example.com")

	if err := us.Reset(u.ID, "video", "2026-08", "admin@example.com"); err != nil {
		t.Fatalf("reset fresh counter: %v", err)
	}

	resets, _ := us.ListResets(u.ID)
	if len(resets) != 1 || resets[0].PriorCount != 0 {
		t.Errorf("expected one audit row with prior_count 0, got %+v", resets)
	}
}

func TestListForPeriod(t *testing.T) {
	us, users := setupUsageTestDB(t)
	alice, _ := users.Create("alice@example.com")
	bob, _ := users.Create("bob@example.com")

	us.ReserveIfBelow(alice.ID, "generation", "2026-08", 10)
	us.ReserveIfBelow(bob.ID, "video", "2026-08", 10)
	us.ReserveIfBelow(alice.ID, "generation", "2026-07", 10)

	counters, err := us.ListForPeriod("2026-08")
	if err != nil {
		t.Fatalf("list for period: %v", err)
	}
	if len(counters) != 2 {
		t.Errorf("counters = %d, want 2", len(counters))
	}
	for _, c := range counters {
		if c.Period != "2026-08" {
			t.Errorf("period = %q, want 2026-08", c.Period)
		}
	}
}
