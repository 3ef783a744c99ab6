// Package reconcile recomputes a user's local entitlement from Stripe's
// current subscription state. Stripe is the source of truth for payment
// state; the local store is the source of truth for quota consumption, and
// reconciliation never touches usage counters.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/reelsmith/internal/events"
	"github.com/dukerupert/reelsmith/internal/model"
	"github.com/dukerupert/reelsmith/internal/plan"
	"github.com/dukerupert/reelsmith/internal/store"

	billingstripe "github.com/dukerupert/reelsmith/internal/billing/stripe"
)

// Provider is the slice of the billing provider the reconciler consumes.
// *billingstripe.Client satisfies it; tests use a fake.
type Provider interface {
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
	ActiveSubscriptions(ctx context.Context, customerID string) ([]billingstripe.ActiveSubscription, error)
}

type Reconciler struct {
	provider     Provider
	catalog      *plan.Catalog
	users        *store.UserStore
	entitlements *store.EntitlementStore
	metadata     *store.BillingMetadataStore
	hub          *events.Hub
	logger       *slog.Logger
}

func New(
	provider Provider,
	catalog *plan.Catalog,
	us *store.UserStore,
	es *store.EntitlementStore,
	ms *store.BillingMetadataStore,
	hub *events.Hub,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		provider:     provider,
		catalog:      catalog,
		users:        us,
		entitlements: es,
		metadata:     ms,
		hub:          hub,
		logger:       logger,
	}
}

// Reconcile recomputes the user's entitlement from the provider's state.
// The target state is a function only of what the provider returns, so
// concurrent runs for the same user converge: last writer wins with an
// identical value. On any provider error the entitlement is left untouched
// (fail closed — no upgrade is ever granted on uncertainty).
func (r *Reconciler) Reconcile(ctx context.Context, userID int64) (*model.Entitlement, error) {
	user, err := r.users.GetByID(userID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("reconcile: user %d not found", userID)
	}

	customerID, err := r.resolveCustomerID(ctx, userID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if customerID == "" {
		// Never paid: free tier with catalog defaults
		return r.applyFree(userID)
	}

	subs, err := r.provider.ActiveSubscriptions(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	sub := pickSubscription(subs, r.catalog)
	if sub == nil {
		ent, err := r.applyFree(userID)
		if err != nil {
			return nil, err
		}
		r.upsertMetadata(userID, customerID, "")
		return ent, nil
	}

	tier, known := r.catalog.TierForPrice(sub.PriceID)
	if !known {
		// Unmapped product: resolve to free and flag, never fail the request
		r.logger.Warn("unmapped stripe price",
			"user_id", userID, "price_id", sub.PriceID, "subscription_id", sub.ID)
	}

	ent, err := r.apply(userID, tier, &sub.StartedAt, &sub.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}

	// Metadata is bookkeeping, written independently of the entitlement; a
	// failure here must not undo the plan the user is entitled to.
	r.upsertMetadata(userID, customerID, sub.ID)
	return ent, nil
}

// resolveCustomerID prefers the stored customer ID and falls back to a
// provider lookup by email. A customer found by lookup is not persisted
// here; the metadata upsert at the end of reconciliation records it.
func (r *Reconciler) resolveCustomerID(ctx context.Context, userID int64, email string) (string, error) {
	meta, err := r.metadata.Get(userID)
	if err != nil {
		return "", err
	}
	if meta != nil && meta.StripeCustomerID != "" {
		return meta.StripeCustomerID, nil
	}
	return r.provider.FindCustomerByEmail(ctx, email)
}

// pickSubscription chooses deterministically when a customer holds several
// active subscriptions: most recently started wins, ties go to the higher
// tier so an overlapping pair never under-grants.
func pickSubscription(subs []billingstripe.ActiveSubscription, catalog *plan.Catalog) *billingstripe.ActiveSubscription {
	var best *billingstripe.ActiveSubscription
	for i := range subs {
		sub := &subs[i]
		if best == nil {
			best = sub
			continue
		}
		if sub.StartedAt.After(best.StartedAt) {
			best = sub
			continue
		}
		if sub.StartedAt.Equal(best.StartedAt) {
			subTier, _ := catalog.TierForPrice(sub.PriceID)
			bestTier, _ := catalog.TierForPrice(best.PriceID)
			if plan.Higher(subTier, bestTier) {
				best = sub
			}
		}
	}
	return best
}

// apply writes plan and limits atomically, skipping the write when the row
// already matches so repeated reconciliation is a no-op.
func (r *Reconciler) apply(userID int64, tier plan.Tier, startedAt, expiresAt *time.Time) (*model.Entitlement, error) {
	limits := plan.LimitsFor(tier)

	current, err := r.entitlements.Get(userID)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if entitlementMatches(current, tier, limits, startedAt, expiresAt) {
		return current, nil
	}

	err = r.entitlements.SetPlan(userID, string(tier), limits.GenerationsPerMonth, limits.VideosPerMonth, startedAt, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	r.logger.Info("entitlement updated", "user_id", userID, "plan", tier)
	r.hub.Publish(events.Event{
		Type:   events.TypePlanChanged,
		UserID: userID,
		Plan:   string(tier),
	})
	return r.entitlements.Get(userID)
}

func (r *Reconciler) applyFree(userID int64) (*model.Entitlement, error) {
	return r.apply(userID, plan.TierFree, nil, nil)
}

func (r *Reconciler) upsertMetadata(userID int64, customerID, subscriptionID string) {
	if err := r.metadata.Upsert(userID, customerID, subscriptionID); err != nil {
		r.logger.Error("upsert billing metadata", "user_id", userID, "error", err)
	}
}

func entitlementMatches(ent *model.Entitlement, tier plan.Tier, limits plan.Limits, startedAt, expiresAt *time.Time) bool {
	if ent == nil {
		return false
	}
	if ent.Plan != string(tier) ||
		ent.GenerationLimit != limits.GenerationsPerMonth ||
		ent.VideoLimit != limits.VideosPerMonth {
		return false
	}
	return timesEqual(ent.PlanStartedAt, startedAt) && timesEqual(ent.PlanExpiresAt, expiresAt)
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
