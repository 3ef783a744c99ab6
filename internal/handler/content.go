package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/reelsmith/internal/quota"
	"github.com/dukerupert/reelsmith/internal/store"
)

type ContentHandler struct {
	items    *store.ContentItemStore
	rewrites *quota.Rewrites
	logger   *slog.Logger
}

func NewContentHandler(is *store.ContentItemStore, rw *quota.Rewrites, logger *slog.Logger) *ContentHandler {
	return &ContentHandler{
		items:    is,
		rewrites: rw,
		logger:   logger,
	}
}

func itemIDFromPath(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// Create stores a new content item with a zero rewrite counter.
func (h *ContentHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication_required", "sign in to continue")
		return
	}

	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "title is required")
		return
	}

	item, err := h.items.Create(userID, req.Title, req.Body)
	if err != nil {
		h.logger.Error("create content item", "user_id", userID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// List returns the caller's content items.
func (h *ContentHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication_required", "sign in to continue")
		return
	}

	items, err := h.items.ListByUser(userID)
	if err != nil {
		h.logger.Error("list content items", "user_id", userID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Rewrite consumes one rewrite of the item under the owner's current plan
// cap.
func (h *ContentHandler) Rewrite(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication_required", "sign in to continue")
		return
	}
	itemID, ok := itemIDFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid item id")
		return
	}

	decision, err := h.rewrites.CheckAndReserve(itemID, userID)
	if errors.Is(err, quota.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "item not found")
		return
	}
	if errors.Is(err, quota.ErrNotItemOwner) {
		writeError(w, http.StatusForbidden, "forbidden", "not your item")
		return
	}
	if err != nil {
		h.logger.Error("rewrite item", "item_id", itemID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusTooManyRequests, decision)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// Duplicate copies the item into a new one with a fresh rewrite counter.
func (h *ContentHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if userID == 0 {
		writeError(w, http.StatusUnauthorized, "authentication_required", "sign in to continue")
		return
	}
	itemID, ok := itemIDFromPath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid item id")
		return
	}

	item, err := h.items.GetByID(itemID)
	if err != nil {
		h.logger.Error("get content item", "item_id", itemID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "not_found", "item not found")
		return
	}
	if item.UserID != userID {
		writeError(w, http.StatusForbidden, "forbidden", "not your item")
		return
	}

	dup, err := h.items.Duplicate(itemID)
	if err != nil || dup == nil {
		h.logger.Error("duplicate content item", "item_id", itemID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "please try again")
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}
