package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/reelsmith/internal/model"
)

// BillingMetadataStore holds the Stripe identifiers per user. Quota-checking
// code never touches this table; only reconciliation and billing-portal
// issuance read it.
type BillingMetadataStore struct {
	db *sql.DB
}

func NewBillingMetadataStore(db *sql.DB) *BillingMetadataStore {
	return &BillingMetadataStore{db: db}
}

func scanBillingMetadata(scanner interface{ Scan(...any) error }) (*model.BillingMetadata, error) {
	var m model.BillingMetadata
	var subID sql.NullString
	err := scanner.Scan(&m.UserID, &m.StripeCustomerID, &subID, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if subID.Valid {
		m.StripeSubscriptionID = &subID.String
	}
	return &m, nil
}

const billingMetadataCols = `user_id, stripe_customer_id, stripe_subscription_id, updated_at`

func (s *BillingMetadataStore) Get(userID int64) (*model.BillingMetadata, error) {
	row := s.db.QueryRow(`SELECT `+billingMetadataCols+` FROM billing_metadata WHERE user_id = ?`, userID)
	m, err := scanBillingMetadata(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get billing metadata: %w", err)
	}
	return m, nil
}

// Upsert writes the customer and subscription IDs for a user. Passing an
// empty subscription ID clears it (no active subscription).
func (s *BillingMetadataStore) Upsert(userID int64, customerID, subscriptionID string) error {
	var subID sql.NullString
	if subscriptionID != "" {
		subID = sql.NullString{String: subscriptionID, Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO billing_metadata (user_id, stripe_customer_id, stripe_subscription_id, updated_at)
		 VALUES (?, ?, ?, datetime('now'))
		 ON CONFLICT(user_id) DO UPDATE SET
		   stripe_customer_id = excluded.stripe_customer_id,
		   stripe_subscription_id = excluded.stripe_subscription_id,
		   updated_at = datetime('now')`,
		userID, customerID, subID,
	)
	if err != nil {
		return fmt.Errorf("upsert billing metadata: %w", err)
	}
	return nil
}
