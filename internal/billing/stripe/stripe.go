// Package stripe wraps the Stripe SDK behind the narrow surface the engine
// consumes: customer lookup/creation, active subscriptions, checkout, and
// billing portal sessions. All calls carry a bounded timeout; raw Stripe
// errors never leave the billing packages.
package stripe

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v84"
	portalsession "github.com/stripe/stripe-go/v84/billingportal/session"
	checksession "github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/subscription"
)

type Config struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
	ReturnURL  string
	Timeout    time.Duration
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// ActiveSubscription is the slice of a Stripe subscription the reconciler
// cares about.
type ActiveSubscription struct {
	ID               string
	PriceID          string
	StartedAt        time.Time
	CurrentPeriodEnd time.Time
}

// SessionHandle is the transient reference to a checkout or portal session
// returned to the caller; nothing about it is persisted locally.
type SessionHandle struct {
	SessionID    string `json:"session_id,omitempty"`
	URL          string `json:"url,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// FindCustomerByEmail returns the ID of the first Stripe customer with the
// given email, or "" if none exists.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := customer.List(params)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("list customers by email: %w", err)
	}
	return "", nil
}

// CreateCustomer creates a Stripe customer and returns the customer ID.
func (c *Client) CreateCustomer(ctx context.Context, email string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx

	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// ActiveSubscriptions lists the customer's subscriptions with status
// "active".
func (c *Client) ActiveSubscriptions(ctx context.Context, customerID string) ([]ActiveSubscription, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx

	var subs []ActiveSubscription
	iter := subscription.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		if sub.Items == nil || len(sub.Items.Data) == 0 {
			continue
		}
		item := sub.Items.Data[0]
		if item.Price == nil {
			continue
		}
		subs = append(subs, ActiveSubscription{
			ID:               sub.ID,
			PriceID:          item.Price.ID,
			StartedAt:        time.Unix(sub.StartDate, 0).UTC(),
			CurrentPeriodEnd: time.Unix(item.CurrentPeriodEnd, 0).UTC(),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}
	return subs, nil
}

// CreateCheckoutSession creates a subscription checkout session. In
// "embedded" mode the handle carries the client secret; otherwise it carries
// the redirect URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, customerID, priceID, mode string) (*SessionHandle, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		AllowPromotionCodes: stripe.Bool(true),
	}
	params.Context = ctx

	if mode == "embedded" {
		params.UIMode = stripe.String(string(stripe.CheckoutSessionUIModeEmbedded))
		params.ReturnURL = stripe.String(c.cfg.ReturnURL)
	} else {
		params.SuccessURL = stripe.String(c.cfg.SuccessURL)
		params.CancelURL = stripe.String(c.cfg.CancelURL)
	}

	sess, err := checksession.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &SessionHandle{
		SessionID:    sess.ID,
		URL:          sess.URL,
		ClientSecret: sess.ClientSecret,
	}, nil
}

// CreateBillingPortalSession creates a Stripe billing portal session and
// returns its URL.
func (c *Client) CreateBillingPortalSession(ctx context.Context, customerID string) (*SessionHandle, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(c.cfg.ReturnURL),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("create billing portal session: %w", err)
	}
	return &SessionHandle{SessionID: sess.ID, URL: sess.URL}, nil
}
