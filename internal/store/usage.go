package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/reelsmith/internal/model"
)

type UsageStore struct {
	db *sql.DB
}

func NewUsageStore(db *sql.DB) *UsageStore {
	return &UsageStore{db: db}
}

func scanUsageCounter(scanner interface{ Scan(...any) error }) (*model.UsageCounter, error) {
	var c model.UsageCounter
	err := scanner.Scan(&c.UserID, &c.Resource, &c.Period, &c.Count, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const usageCols = `user_id, resource, period, count, updated_at`

// ensureRow creates the counter at zero on first use of a period.
func (s *UsageStore) ensureRow(userID int64, resource, period string) error {
	_, err := s.db.Exec(
		`INSERT INTO usage_counters (user_id, resource, period) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, resource, period) DO NOTHING`,
		userID, resource, period,
	)
	if err != nil {
		return fmt.Errorf("ensure usage counter: %w", err)
	}
	return nil
}

// ReserveIfBelow atomically increments the counter if count < limit and
// reports whether the increment happened, along with the count after the
// attempt. The guard lives in the UPDATE's WHERE clause, so two concurrent
// calls can never both pass a nearly-full limit: SQLite serializes the
// writes and the second one sees the incremented count. A negative limit
// means unlimited; the counter still increments for reporting.
func (s *UsageStore) ReserveIfBelow(userID int64, resource, period string, limit int) (bool, int, error) {
	if err := s.ensureRow(userID, resource, period); err != nil {
		return false, 0, err
	}

	var result sql.Result
	var err error
	if limit < 0 {
		result, err = s.db.Exec(
			`UPDATE usage_counters SET count = count + 1, updated_at = datetime('now')
			 WHERE user_id = ? AND resource = ? AND period = ?`,
			userID, resource, period,
		)
	} else {
		result, err = s.db.Exec(
			`UPDATE usage_counters SET count = count + 1, updated_at = datetime('now')
			 WHERE user_id = ? AND resource = ? AND period = ? AND count < ?`,
			userID, resource, period, limit,
		)
	}
	if err != nil {
		return false, 0, fmt.Errorf("reserve usage: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("rows affected: %w", err)
	}

	count, err := s.count(userID, resource, period)
	if err != nil {
		return false, 0, err
	}
	return affected == 1, count, nil
}

func (s *UsageStore) count(userID int64, resource, period string) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT count FROM usage_counters WHERE user_id = ? AND resource = ? AND period = ?`,
		userID, resource, period,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read usage count: %w", err)
	}
	return count, nil
}

// Get returns the counter for the key, or a zero-count counter if no row
// exists yet (a fresh period).
func (s *UsageStore) Get(userID int64, resource, period string) (*model.UsageCounter, error) {
	row := s.db.QueryRow(
		`SELECT `+usageCols+` FROM usage_counters WHERE user_id = ? AND resource = ? AND period = ?`,
		userID, resource, period,
	)
	c, err := scanUsageCounter(row)
	if err == sql.ErrNoRows {
		return &model.UsageCounter{UserID: userID, Resource: resource, Period: period}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get usage counter: %w", err)
	}
	return c, nil
}

// Reset zeroes the counter for the current period and records an audit row
// with the prior count, in one transaction. The counter row itself survives;
// reset is an explicit event, not a deletion.
func (s *UsageStore) Reset(userID int64, resource, period, resetBy string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	var prior int
	err = tx.QueryRow(
		`SELECT count FROM usage_counters WHERE user_id = ? AND resource = ? AND period = ?`,
		userID, resource, period,
	).Scan(&prior)
	if err == sql.ErrNoRows {
		prior = 0
	} else if err != nil {
		return fmt.Errorf("read prior count: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO usage_counters (user_id, resource, period, count, updated_at)
		 VALUES (?, ?, ?, 0, datetime('now'))
		 ON CONFLICT(user_id, resource, period) DO UPDATE SET count = 0, updated_at = datetime('now')`,
		userID, resource, period,
	)
	if err != nil {
		return fmt.Errorf("reset usage counter: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO usage_resets (user_id, resource, period, prior_count, reset_by) VALUES (?, ?, ?, ?, ?)`,
		userID, resource, period, prior, resetBy,
	)
	if err != nil {
		return fmt.Errorf("insert usage reset audit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

// ListForPeriod returns all counters for a period, for reporting and export.
func (s *UsageStore) ListForPeriod(period string) ([]model.UsageCounter, error) {
	rows, err := s.db.Query(
		`SELECT `+usageCols+` FROM usage_counters WHERE period = ? ORDER BY user_id, resource`,
		period,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage for period: %w", err)
	}
	defer rows.Close()

	var counters []model.UsageCounter
	for rows.Next() {
		c, err := scanUsageCounter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan usage counter: %w", err)
		}
		counters = append(counters, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage counters: %w", err)
	}
	return counters, nil
}

// ListResets returns the audit trail for a user's counter resets.
func (s *UsageStore) ListResets(userID int64) ([]model.UsageReset, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, resource, period, prior_count, reset_by, created_at
		 FROM usage_resets WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage resets: %w", err)
	}
	defer rows.Close()

	var resets []model.UsageReset
	for rows.Next() {
		var r model.UsageReset
		if err := rows.Scan(&r.ID, &r.UserID, &r.Resource, &r.Period, &r.PriorCount, &r.ResetBy, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage reset: %w", err)
		}
		resets = append(resets, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage resets: %w", err)
	}
	return resets, nil
}
