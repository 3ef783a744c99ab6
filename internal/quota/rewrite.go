package quota

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/reelsmith/internal/events"
	"github.com/dukerupert/reelsmith/internal/plan"
	"github.com/dukerupert/reelsmith/internal/store"
)

// ErrItemNotFound is returned when a rewrite targets a content item that
// does not exist.
var ErrItemNotFound = errors.New("content item not found")

// ErrNotItemOwner is returned when the caller does not own the item.
var ErrNotItemOwner = errors.New("not the item owner")

// Rewrites enforces the per-item rewrite budget. Unlike the monthly ledger
// the counter is scoped to a single content item and never resets on a
// schedule; duplicating the item is the only way to start over. The cap is
// read from the owner's plan at attempt time, so a plan change applies to
// existing items immediately.
type Rewrites struct {
	items        *store.ContentItemStore
	entitlements *store.EntitlementStore
	hub          *events.Hub
	logger       *slog.Logger
}

func NewRewrites(is *store.ContentItemStore, es *store.EntitlementStore, hub *events.Hub, logger *slog.Logger) *Rewrites {
	return &Rewrites{
		items:        is,
		entitlements: es,
		hub:          hub,
		logger:       logger,
	}
}

// CheckAndReserve consumes one rewrite of the item if its counter is below
// the owner's current plan cap, with the same single-statement guard as the
// usage ledger. callerID must own the item.
func (r *Rewrites) CheckAndReserve(itemID, callerID int64) (Decision, error) {
	item, err := r.items.GetByID(itemID)
	if err != nil {
		return Decision{}, fmt.Errorf("check and reserve rewrite: %w", err)
	}
	if item == nil {
		return Decision{}, ErrItemNotFound
	}
	if item.UserID != callerID {
		return Decision{}, ErrNotItemOwner
	}

	ent, err := r.entitlements.Get(item.UserID)
	if err != nil {
		return Decision{}, fmt.Errorf("check and reserve rewrite: %w", err)
	}

	tier := plan.TierFree
	if ent != nil {
		tier = plan.ParseTier(ent.Plan)
	}
	limit := plan.LimitsFor(tier).RewritesPerItem

	allowed, used, err := r.items.ReserveRewriteIfBelow(itemID, limit)
	if err != nil {
		return Decision{}, fmt.Errorf("check and reserve rewrite: %w", err)
	}

	if !allowed {
		r.logger.Info("rewrite denied",
			"item_id", itemID, "user_id", item.UserID, "used", used, "limit", limit)
		r.hub.Publish(events.Event{
			Type:     events.TypeQuotaDenied,
			UserID:   item.UserID,
			Resource: "rewrite",
			Used:     used,
			Limit:    limit,
		})
	}
	return Decision{Allowed: allowed, Used: used, Limit: limit}, nil
}
