// Package quota is the usage accounting core: monthly resource quotas and
// per-item rewrite budgets, checked and consumed atomically against the
// store. Every failure path denies; a store outage never grants quota.
package quota

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/reelsmith/internal/events"
	"github.com/dukerupert/reelsmith/internal/model"
	"github.com/dukerupert/reelsmith/internal/plan"
	"github.com/dukerupert/reelsmith/internal/store"
)

type Resource string

const (
	ResourceGeneration Resource = "generation"
	ResourceVideo      Resource = "video"
)

// ParseResource validates a caller-supplied resource name.
func ParseResource(s string) (Resource, bool) {
	switch Resource(s) {
	case ResourceGeneration, ResourceVideo:
		return Resource(s), true
	default:
		return "", false
	}
}

// Decision is the outcome of a reservation attempt. Used and Limit are
// always populated so a denial can render "N of M used".
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	PeriodEnd time.Time `json:"period_end"`
}

// Ledger enforces monthly usage quotas. Limits come from the user's
// entitlement row (denormalized at last reconciliation); users who have
// never been reconciled get free-tier limits.
type Ledger struct {
	entitlements *store.EntitlementStore
	usage        *store.UsageStore
	hub          *events.Hub
	logger       *slog.Logger
	now          func() time.Time
}

func NewLedger(es *store.EntitlementStore, us *store.UsageStore, hub *events.Hub, logger *slog.Logger) *Ledger {
	return &Ledger{
		entitlements: es,
		usage:        us,
		hub:          hub,
		logger:       logger,
		now:          time.Now,
	}
}

// SetNow overrides the clock, for tests that cross period boundaries.
func (l *Ledger) SetNow(now func() time.Time) {
	l.now = now
}

func (l *Ledger) limitFor(ent *model.Entitlement, resource Resource) int {
	if ent == nil {
		limits := plan.LimitsFor(plan.TierFree)
		if resource == ResourceVideo {
			return limits.VideosPerMonth
		}
		return limits.GenerationsPerMonth
	}
	if resource == ResourceVideo {
		return ent.VideoLimit
	}
	return ent.GenerationLimit
}

func (l *Ledger) planFor(ent *model.Entitlement) string {
	if ent == nil {
		return string(plan.TierFree)
	}
	return ent.Plan
}

// CheckAndReserve consumes one unit of the resource if the user is under
// their limit. The check and the increment are a single conditional UPDATE
// in the store, so concurrent calls cannot both slip past the cap. Any store
// error fails closed: the caller gets the error and no quota is granted.
func (l *Ledger) CheckAndReserve(userID int64, resource Resource) (Decision, error) {
	ent, err := l.entitlements.Get(userID)
	if err != nil {
		return Decision{}, fmt.Errorf("check and reserve: %w", err)
	}

	limit := l.limitFor(ent, resource)
	period := PeriodKey(l.now())

	allowed, used, err := l.usage.ReserveIfBelow(userID, string(resource), period, limit)
	if err != nil {
		return Decision{}, fmt.Errorf("check and reserve: %w", err)
	}

	d := Decision{Allowed: allowed, Used: used, Limit: limit, PeriodEnd: PeriodEnd(period)}
	if allowed {
		l.hub.Publish(events.Event{
			Type:     events.TypeUsageReserved,
			UserID:   userID,
			Resource: string(resource),
			Used:     used,
			Limit:    limit,
		})
	} else {
		l.logger.Info("quota denied",
			"user_id", userID, "resource", resource, "used", used, "limit", limit)
		l.hub.Publish(events.Event{
			Type:     events.TypeQuotaDenied,
			UserID:   userID,
			Resource: string(resource),
			Used:     used,
			Limit:    limit,
		})
	}
	return d, nil
}

// CurrentUsage reports used/limit/period-end for display without consuming
// anything.
func (l *Ledger) CurrentUsage(userID int64, resource Resource) (Decision, error) {
	ent, err := l.entitlements.Get(userID)
	if err != nil {
		return Decision{}, fmt.Errorf("current usage: %w", err)
	}

	period := PeriodKey(l.now())
	counter, err := l.usage.Get(userID, string(resource), period)
	if err != nil {
		return Decision{}, fmt.Errorf("current usage: %w", err)
	}

	limit := l.limitFor(ent, resource)
	return Decision{
		Allowed:   limit < 0 || counter.Count < limit,
		Used:      counter.Count,
		Limit:     limit,
		PeriodEnd: PeriodEnd(period),
	}, nil
}

// Reset zeroes the current period's counter as an audited admin action. The
// user's plan is untouched.
func (l *Ledger) Reset(userID int64, resource Resource, resetBy string) error {
	period := PeriodKey(l.now())
	if err := l.usage.Reset(userID, string(resource), period, resetBy); err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}

	l.logger.Info("usage reset", "user_id", userID, "resource", resource, "reset_by", resetBy)
	ent, err := l.entitlements.Get(userID)
	if err != nil {
		// Reset already committed; the event is advisory only
		ent = nil
	}
	l.hub.Publish(events.Event{
		Type:     events.TypeUsageReset,
		UserID:   userID,
		Resource: string(resource),
		Plan:     l.planFor(ent),
		Limit:    l.limitFor(ent, resource),
	})
	return nil
}
