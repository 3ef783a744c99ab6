package store

import (
	"testing"

	"github.com/dukerupert/reelsmith/internal/database"
)

func setupMagicLinkTestDB(t *testing.T) *MagicLinkStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewMagicLinkStore(db)
}

func TestMagicLinkCreate(t *testing.T) {
	ms := setupMagicLinkTestDB(t)

	ml, err := ms.Create("alice@example.com")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(ml.Token) != 6 {
		t.Errorf("code length = %d, want 6", len(ml.Token))
	}
	if ml.UsedAt != nil {
		t.Error("fresh code should be unused")
	}
}

func TestMagicLinkCreateInvalidatesPrevious(t *testing.T) {
	ms := setupMagicLinkTestDB(t)

	first, _ := ms.Create("alice@example.com")
	second, _ := ms.Create("alice@example.com")

	if ml, _ := ms.GetByEmailAndCode("alice@example.com", first.Token); ml != nil {
		t.Error("previous code should be invalidated")
	}
	if ml, _ := ms.GetByEmailAndCode("alice@example.com", second.Token); ml == nil {
		t.Error("latest code should be valid")
	}
}

func TestMagicLinkWrongCode(t *testing.T) {
	ms := setupMagicLinkTestDB(t)
	ms.Create("alice@example.com")

	ml, err := ms.GetByEmailAndCode("alice@example.com", "000000")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ml != nil {
		t.Error("expected nil for wrong code")
	}
}

func TestMagicLinkMarkUsed(t *testing.T) {
	ms := setupMagicLinkTestDB(t)
	created, _ := ms.Create("alice@example.com")

	if err := ms.MarkUsed(created.ID); err != nil {
		t.Fatalf("mark used: %v", err)
	}

	if ml, _ := ms.GetByEmailAndCode("alice@example.com", created.Token); ml != nil {
		t.Error("used code should not validate")
	}
}

func TestMagicLinkIncrementAttempts(t *testing.T) {
	ms := setupMagicLinkTestDB(t)
	created, _ := ms.Create("alice@example.com")

	for want := 1; want <= 3; want++ {
		got, err := ms.IncrementAttempts(created.ID)
		if err != nil {
			t.Fatalf("increment attempts: %v", err)
		}
		if got != want {
			t.Errorf("attempts = %d, want %d", got, want)
		}
	}
}
