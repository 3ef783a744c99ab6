package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/reelsmith/internal/model"
)

type EntitlementStore struct {
	db *sql.DB
}

func NewEntitlementStore(db *sql.DB) *EntitlementStore {
	return &EntitlementStore{db: db}
}

func scanEntitlement(scanner interface{ Scan(...any) error }) (*model.Entitlement, error) {
	var e model.Entitlement
	var startedAt, expiresAt sql.NullTime
	err := scanner.Scan(
		&e.UserID, &e.Plan, &e.GenerationLimit, &e.VideoLimit,
		&startedAt, &expiresAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		e.PlanStartedAt = &startedAt.Time
	}
	if expiresAt.Valid {
		e.PlanExpiresAt = &expiresAt.Time
	}
	return &e, nil
}

const entitlementCols = `user_id, plan, generation_limit, video_limit, plan_started_at, plan_expires_at, updated_at`

// Get returns the user's entitlement, or nil if the user has never been
// reconciled.
func (s *EntitlementStore) Get(userID int64) (*model.Entitlement, error) {
	row := s.db.QueryRow(`SELECT `+entitlementCols+` FROM entitlements WHERE user_id = ?`, userID)
	e, err := scanEntitlement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entitlement: %w", err)
	}
	return e, nil
}

// SetPlan writes plan plus limits in a single upsert so the row is never
// observed with a plan and limits from different catalog versions. Usage
// counters are untouched.
func (s *EntitlementStore) SetPlan(userID int64, plan string, generationLimit, videoLimit int, startedAt, expiresAt *time.Time) error {
	var started, expires sql.NullTime
	if startedAt != nil {
		started = sql.NullTime{Time: *startedAt, Valid: true}
	}
	if expiresAt != nil {
		expires = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO entitlements (user_id, plan, generation_limit, video_limit, plan_started_at, plan_expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(user_id) DO UPDATE SET
		   plan = excluded.plan,
		   generation_limit = excluded.generation_limit,
		   video_limit = excluded.video_limit,
		   plan_started_at = excluded.plan_started_at,
		   plan_expires_at = excluded.plan_expires_at,
		   updated_at = datetime('now')`,
		userID, plan, generationLimit, videoLimit, started, expires,
	)
	if err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	return nil
}
