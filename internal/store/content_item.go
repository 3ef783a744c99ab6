package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/reelsmith/internal/model"
)

type ContentItemStore struct {
	db *sql.DB
}

func NewContentItemStore(db *sql.DB) *ContentItemStore {
	return &ContentItemStore{db: db}
}

func scanContentItem(scanner interface{ Scan(...any) error }) (*model.ContentItem, error) {
	var item model.ContentItem
	var duplicatedFrom sql.NullInt64
	err := scanner.Scan(
		&item.ID, &item.UserID, &item.Title, &item.Body,
		&item.RewriteCount, &duplicatedFrom, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if duplicatedFrom.Valid {
		item.DuplicatedFrom = &duplicatedFrom.Int64
	}
	return &item, nil
}

const contentItemCols = `id, user_id, title, body, rewrite_count, duplicated_from, created_at, updated_at`

func (s *ContentItemStore) Create(userID int64, title, body string) (*model.ContentItem, error) {
	result, err := s.db.Exec(
		`INSERT INTO content_items (user_id, title, body) VALUES (?, ?, ?)`,
		userID, title, body,
	)
	if err != nil {
		return nil, fmt.Errorf("insert content item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ContentItemStore) GetByID(id int64) (*model.ContentItem, error) {
	row := s.db.QueryRow(`SELECT `+contentItemCols+` FROM content_items WHERE id = ?`, id)
	item, err := scanContentItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get content item: %w", err)
	}
	return item, nil
}

func (s *ContentItemStore) ListByUser(userID int64) ([]model.ContentItem, error) {
	rows, err := s.db.Query(
		`SELECT `+contentItemCols+` FROM content_items WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list content items: %w", err)
	}
	defer rows.Close()

	var items []model.ContentItem
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content items: %w", err)
	}
	return items, nil
}

// ReserveRewriteIfBelow atomically increments the item's rewrite counter if
// it is below limit, with the same WHERE-clause guard as the usage ledger.
// Returns whether the increment happened and the count after the attempt.
func (s *ContentItemStore) ReserveRewriteIfBelow(itemID int64, limit int) (bool, int, error) {
	result, err := s.db.Exec(
		`UPDATE content_items SET rewrite_count = rewrite_count + 1, updated_at = datetime('now')
		 WHERE id = ? AND rewrite_count < ?`,
		itemID, limit,
	)
	if err != nil {
		return false, 0, fmt.Errorf("reserve rewrite: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("rows affected: %w", err)
	}

	var count int
	err = s.db.QueryRow(`SELECT rewrite_count FROM content_items WHERE id = ?`, itemID).Scan(&count)
	if err != nil {
		return false, 0, fmt.Errorf("read rewrite count: %w", err)
	}
	return affected == 1, count, nil
}

// Duplicate copies an item into a new row with a zero rewrite counter. This
// is the only way an item's rewrite budget starts over.
func (s *ContentItemStore) Duplicate(itemID int64) (*model.ContentItem, error) {
	result, err := s.db.Exec(
		`INSERT INTO content_items (user_id, title, body, duplicated_from)
		 SELECT user_id, title, body, id FROM content_items WHERE id = ?`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("duplicate content item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}
