package model

import "time"

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entitlement is the quota contract for one user: the plan tier plus the
// denormalized limits that were in the catalog at the last reconciliation.
// Plan and limits always change together in a single write.
type Entitlement struct {
	UserID          int64      `json:"user_id"`
	Plan            string     `json:"plan"`
	GenerationLimit int        `json:"generation_limit"`
	VideoLimit      int        `json:"video_limit"`
	PlanStartedAt   *time.Time `json:"plan_started_at"`
	PlanExpiresAt   *time.Time `json:"plan_expires_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// UsageCounter accumulates consumption for one user, resource, and
// calendar-month period. Count only moves up, except through an audited
// admin reset.
type UsageCounter struct {
	UserID    int64     `json:"user_id"`
	Resource  string    `json:"resource"`
	Period    string    `json:"period"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageReset is the audit record for an admin counter reset.
type UsageReset struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Resource   string    `json:"resource"`
	Period     string    `json:"period"`
	PriorCount int       `json:"prior_count"`
	ResetBy    string    `json:"reset_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// ContentItem carries its own rewrite counter. The counter never resets on a
// schedule; duplicating the item starts a new item with a fresh counter.
type ContentItem struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	RewriteCount   int       `json:"rewrite_count"`
	DuplicatedFrom *int64    `json:"duplicated_from,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BillingMetadata holds the Stripe identifiers for a user. It is written by
// reconciliation and read only by billing code paths, never by quota checks.
type BillingMetadata struct {
	UserID               int64     `json:"user_id"`
	StripeCustomerID     string    `json:"stripe_customer_id"`
	StripeSubscriptionID *string   `json:"stripe_subscription_id"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type MagicLink struct {
	ID        int64      `json:"id"`
	Token     string     `json:"token"`
	Email     string     `json:"email"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
}
