package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/reelsmith/internal/quota"
	"github.com/dukerupert/reelsmith/internal/store"
)

type UsageHandler struct {
	ledger      *quota.Ledger
	users       *store.UserStore
	adminEmails map[string]bool
	logger      *slog.Logger
}

func NewUsageHandler(ledger *quota.Ledger, us *store.UserStore, adminEmails []string, logger *slog.Logger) *UsageHandler {
	admins := make(map[string]bool, len(adminEmails))
	for _, e := range adminEmails {
		if e != "" {
			admins[e] = true
		}
	}
	return &UsageHandler{
		ledger:      ledger,
		users:       us,
		adminEmails: admins,
		logger:      logger,
	}
}

// Reserve consumes one unit of the requested resource, or reports the
// used/limit pair on denial.
func (h *UsageHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication_required", "sign in to continue")
		return
	}

	var req struct {
		Resource string `json:"resource"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	resource, ok := quota.ParseResource(req.Resource)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "unknown resource type")
		return
	}

	decision, err := h.ledger.CheckAndReserve(userID, resource)
	if err != nil {
		// Fail closed: a store problem denies, it never grants
		h.logger.Error("check and reserve", "user_id", userID, "resource", resource, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusTooManyRequests, decision)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// Current reports used/limit/period-end for the requested resource.
func (h *UsageHandler) Current(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication_required", "sign in to continue")
		return
	}

	resource, ok := quota.ParseResource(r.URL.Query().Get("resource"))
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "unknown resource type")
		return
	}

	decision, err := h.ledger.CurrentUsage(userID, resource)
	if err != nil {
		h.logger.Error("current usage", "user_id", userID, "resource", resource, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// Reset zeroes another user's counter for the current period. Admin only;
// the acting admin's email lands in the audit trail.
func (h *UsageHandler) Reset(w http.ResponseWriter, r *http.Request) {
	callerID := UserIDFromContext(r.Context())
	if callerID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication_required", "sign in to continue")
		return
	}

	caller, err := h.users.GetByID(callerID)
	if err != nil || caller == nil {
		writeError(w, http.StatusUnauthorized, "authentication_required", "sign in to continue")
		return
	}
	if !h.adminEmails[caller.Email] {
		writeError(w, http.StatusForbidden, "forbidden", "admin access required")
		return
	}

	var req struct {
		UserID   int64  `json:"user_id"`
		Resource string `json:"resource"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request body")
		return
	}
	resource, ok := quota.ParseResource(req.Resource)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "unknown resource type")
		return
	}

	if err := h.ledger.Reset(req.UserID, resource, caller.Email); err != nil {
		h.logger.Error("reset usage", "user_id", req.UserID, "resource", resource, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
