// Package checkout issues Stripe checkout and billing portal sessions.
// Price IDs are validated against the plan catalog before anything reaches
// Stripe; arbitrary caller-supplied identifiers are never forwarded.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/dukerupert/reelsmith/internal/plan"
	"github.com/dukerupert/reelsmith/internal/store"

	billingstripe "github.com/dukerupert/reelsmith/internal/billing/stripe"
)

var (
	// ErrInvalidPrice covers malformed and unknown price IDs alike; the
	// caller only learns the ID was not accepted.
	ErrInvalidPrice = errors.New("invalid price id")

	// ErrInvalidMode is returned for a checkout mode other than redirect or
	// embedded.
	ErrInvalidMode = errors.New("invalid checkout mode")

	// ErrNoBillingAccount is returned when a portal session is requested for
	// a user who has never had a Stripe customer.
	ErrNoBillingAccount = errors.New("no billing account")
)

var priceIDPattern = regexp.MustCompile(`^price_[A-Za-z0-9]{8,64}$`)

// Provider is the slice of the billing provider checkout consumes.
// *billingstripe.Client satisfies it; tests use a fake.
type Provider interface {
	FindCustomerByEmail(ctx context.Context, email string) (string, error)
	CreateCustomer(ctx context.Context, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID, priceID, mode string) (*billingstripe.SessionHandle, error)
	CreateBillingPortalSession(ctx context.Context, customerID string) (*billingstripe.SessionHandle, error)
}

type Issuer struct {
	provider Provider
	catalog  *plan.Catalog
	users    *store.UserStore
	metadata *store.BillingMetadataStore
	logger   *slog.Logger
}

func NewIssuer(provider Provider, catalog *plan.Catalog, us *store.UserStore, ms *store.BillingMetadataStore, logger *slog.Logger) *Issuer {
	return &Issuer{
		provider: provider,
		catalog:  catalog,
		users:    us,
		metadata: ms,
		logger:   logger,
	}
}

// CreateSession validates the requested price, resolves or creates the
// user's Stripe customer, and opens a checkout session in the requested
// mode ("redirect" or "embedded").
func (i *Issuer) CreateSession(ctx context.Context, userID int64, priceID, mode string) (*billingstripe.SessionHandle, error) {
	if !priceIDPattern.MatchString(priceID) {
		return nil, ErrInvalidPrice
	}
	if !i.catalog.KnownPrice(priceID) {
		i.logger.Warn("checkout requested for unknown price", "user_id", userID, "price_id", priceID)
		return nil, ErrInvalidPrice
	}
	if mode != "redirect" && mode != "embedded" {
		return nil, ErrInvalidMode
	}

	customerID, err := i.ensureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}

	handle, err := i.provider.CreateCheckoutSession(ctx, customerID, priceID, mode)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return handle, nil
}

// BillingPortal opens a billing portal session for a user who already has a
// Stripe customer.
func (i *Issuer) BillingPortal(ctx context.Context, userID int64) (*billingstripe.SessionHandle, error) {
	meta, err := i.metadata.Get(userID)
	if err != nil {
		return nil, fmt.Errorf("billing portal: %w", err)
	}
	if meta == nil || meta.StripeCustomerID == "" {
		return nil, ErrNoBillingAccount
	}

	handle, err := i.provider.CreateBillingPortalSession(ctx, meta.StripeCustomerID)
	if err != nil {
		return nil, fmt.Errorf("create billing portal session: %w", err)
	}
	return handle, nil
}

// ensureCustomer resolves the user's Stripe customer, looking up by stored
// ID, then by email, creating one only as a last resort so repeated calls
// never mint duplicate customers.
func (i *Issuer) ensureCustomer(ctx context.Context, userID int64) (string, error) {
	meta, err := i.metadata.Get(userID)
	if err != nil {
		return "", fmt.Errorf("ensure customer: %w", err)
	}
	if meta != nil && meta.StripeCustomerID != "" {
		return meta.StripeCustomerID, nil
	}

	user, err := i.users.GetByID(userID)
	if err != nil {
		return "", fmt.Errorf("ensure customer: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("ensure customer: user %d not found", userID)
	}

	customerID, err := i.provider.FindCustomerByEmail(ctx, user.Email)
	if err != nil {
		return "", fmt.Errorf("ensure customer: %w", err)
	}
	if customerID == "" {
		customerID, err = i.provider.CreateCustomer(ctx, user.Email)
		if err != nil {
			return "", fmt.Errorf("ensure customer: %w", err)
		}
	}

	if err := i.metadata.Upsert(userID, customerID, ""); err != nil {
		// Session issuance can proceed; the next reconciliation records it
		i.logger.Error("persist stripe customer id", "user_id", userID, "error", err)
	}
	return customerID, nil
}
