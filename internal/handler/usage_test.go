package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/reelsmith/internal/database"
	"github.com/dukerupert/reelsmith/internal/plan"
	"github.com/dukerupert/reelsmith/internal/quota"
	"github.com/dukerupert/reelsmith/internal/store"
)

func setupUsageHandler(t *testing.T) (*UsageHandler, *store.UserStore, *store.EntitlementStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	es := store.NewEntitlementStore(db)
	us := store.NewUserStore(db)
	ledger := quota.NewLedger(es, store.NewUsageStore(db), nil, logger)
	h := NewUsageHandler(ledger, us, []string{"admin@example.com"}, logger)
	return h, us, es
}

func authedRequest(t *testing.T, method, target, body string, userID int64) *http.Request {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	return req.WithContext(WithUserID(req.Context(), userID))
}

func TestReserve(t *testing.T) {
	h, users, _ := setupUsageHandler(t)
	u, _ := users.Create("alice@example.com")

	rec := httptest.NewRecorder()
	h.Reserve(rec, authedRequest(t, "POST", "/api/usage/reserve", `{"resource":"generation"}`, u.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusOK, rec.Body)
	}

	var d quota.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !d.Allowed || d.Used != 1 {
		t.Errorf("decision = %+v, want allowed with used=1", d)
	}
}

func TestReserveDenialReturns429WithUsage(t *testing.T) {
	h, users, es := setupUsageHandler(t)
	u, _ := users.Create("alice@example.com")
	if err := es.SetPlan(u.ID, string(plan.TierFree), 1, 1, nil, nil); err != nil {
		t.Fatalf("set plan: %v", err)
	}

	rec := httptest.NewRecorder()
	h.Reserve(rec, authedRequest(t, "POST", "/api/usage/reserve", `{"resource":"generation"}`, u.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("first reserve: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Reserve(rec, authedRequest(t, "POST", "/api/usage/reserve", `{"resource":"generation"}`, u.ID))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}

	var d quota.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Allowed || d.Used != 1 || d.Limit != 1 {
		t.Errorf("decision = %+v, want denied 1/1", d)
	}
}

func TestReserveRejectsUnknownResource(t *testing.T) {
	h, users, _ := setupUsageHandler(t)
	u, _ := users.Create("alice@example.com")

	rec := httptest.NewRecorder()
	h.Reserve(rec, authedRequest(t, "POST", "/api/usage/reserve", `{"resource":"teleport"}`, u.ID))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestReserveRequiresAuth(t *testing.T) {
	h, _, _ := setupUsageHandler(t)

	req := httptest.NewRequest("POST", "/api/usage/reserve", strings.NewReader(`{"resource":"generation"}`))
	rec := httptest.NewRecorder()
	h.Reserve(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestCurrent(t *testing.T) {
	h, users, _ := setupUsageHandler(t)
	u, _ := users.Create("alice@example.com")

	rec := httptest.NewRecorder()
	h.Reserve(rec, authedRequest(t, "POST", "/api/usage/reserve", `{"resource":"video"}`, u.ID))

	rec = httptest.NewRecorder()
	h.Current(rec, authedRequest(t, "GET", "/api/usage?resource=video", "", u.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", rec.Code, rec.Body)
	}

	var d quota.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Used != 1 {
		t.Errorf("used = %d, want 1", d.Used)
	}
	want := plan.LimitsFor(plan.TierFree).VideosPerMonth
	if d.Limit != want {
		t.Errorf("limit = %d, want %d", d.Limit, want)
	}
}

func TestResetRequiresAdmin(t *testing.T) {
	h, users, _ := setupUsageHandler(t)
	u, _ := users.Create("alice@example.com")

	rec := httptest.NewRecorder()
	h.Reset(rec, authedRequest(t, "POST", "/api/admin/usage/reset", `{"user_id":1,"resource":"generation"}`, u.ID))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestResetByAdmin(t *testing.T) {
	h, users, _ := setupUsageHandler(t)
	admin, _ := users.Create("admin@example.com")
	target, _ := users.Create("alice@example.com")

	rec := httptest.NewRecorder()
	h.Reserve(rec, authedRequest(t, "POST", "/api/usage/reserve", `{"resource":"generation"}`, target.ID))

	rec = httptest.NewRecorder()
	body := `{"user_id":` + jsonInt(target.ID) + `,"resource":"generation"}`
	h.Reset(rec, authedRequest(t, "POST", "/api/admin/usage/reset", body, admin.ID))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, http.StatusNoContent, rec.Body)
	}

	rec = httptest.NewRecorder()
	h.Current(rec, authedRequest(t, "GET", "/api/usage?resource=generation", "", target.ID))
	var d quota.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Used != 0 {
		t.Errorf("used = %d after reset, want 0", d.Used)
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
