package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/google/uuid"
)

const itemColumns = `id, group_id, name, is_completed, icon, category, created_at`

// ListItems returns every item in a group, newest first.
func (db *DB) ListItems(ctx context.Context, groupID string) ([]schema.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE group_id = ? ORDER BY created_at DESC, id`
	rows, err := db.conn.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items for group %s: %w", groupID, err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// GetItem returns a single item by ID, or ErrNotFound.
func (db *DB) GetItem(ctx context.Context, id string) (schema.Item, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return schema.Item{}, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return item, nil
}

// CreateItem inserts a new item into a group. The database assigns the ID
// and creation timestamp.
func (db *DB) CreateItem(ctx context.Context, groupID, name, icon, category string) (schema.Item, error) {
	if err := schema.ValidateName(name); err != nil {
		return schema.Item{}, fmt.Errorf("invalid item: %w", err)
	}
	if _, err := db.GetGroup(ctx, groupID); err != nil {
		return schema.Item{}, err
	}

	item := schema.Item{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Name:      strings.TrimSpace(name),
		Icon:      icon,
		Category:  category,
		CreatedAt: schema.Timestamp(db.now()),
	}
	if err := db.UpsertItem(ctx, &item); err != nil {
		return schema.Item{}, err
	}
	return item, nil
}

// UpsertItem inserts or replaces an item, preserving its ID and timestamp.
// Used by CreateItem and by imports. An existing row is only replaced when
// it belongs to the same group; otherwise ErrItemInOtherGroup is returned.
func (db *DB) UpsertItem(ctx context.Context, item *schema.Item) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	query := `
	INSERT INTO items (` + itemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		is_completed = excluded.is_completed,
		icon = excluded.icon,
		category = excluded.category,
		created_at = excluded.created_at
	WHERE items.group_id = excluded.group_id
	`
	res, err := db.conn.ExecContext(ctx, query,
		item.ID,
		item.GroupID,
		item.Name,
		item.Completed,
		item.Icon,
		item.Category,
		formatTime(item.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrItemInOtherGroup, item.ID)
	}
	return nil
}

// SetItemCompleted sets the completion flag and returns the updated row.
func (db *DB) SetItemCompleted(ctx context.Context, id string, completed bool) (schema.Item, error) {
	res, err := db.conn.ExecContext(ctx, `UPDATE items SET is_completed = ? WHERE id = ?`, completed, id)
	if err != nil {
		return schema.Item{}, fmt.Errorf("failed to update item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return schema.Item{}, fmt.Errorf("failed to update item %s: %w", id, err)
	}
	if n == 0 {
		return schema.Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return db.GetItem(ctx, id)
}

// DeleteItem removes an item and returns the deleted row.
// Returns (nil, nil) if the item doesn't exist (idempotent).
func (db *DB) DeleteItem(ctx context.Context, id string) (*schema.Item, error) {
	item, err := db.GetItem(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if _, err := db.conn.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return &item, nil
}

// DeleteItems removes items from a group and returns the removed IDs.
// With completedOnly set only completed items are removed.
func (db *DB) DeleteItems(ctx context.Context, groupID string, completedOnly bool) ([]string, error) {
	where := `group_id = ?`
	if completedOnly {
		where += ` AND is_completed = 1`
	}

	var ids []string
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM items WHERE `+where, groupID)
		if err != nil {
			return fmt.Errorf("failed to select items: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan item id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("error iterating items: %w", err)
		}
		rows.Close()

		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE `+where, groupID); err != nil {
			return fmt.Errorf("failed to delete items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clear group %s: %w", groupID, err)
	}
	return ids, nil
}

// CountItems returns the total and incomplete item counts for a group.
func (db *DB) CountItems(ctx context.Context, groupID string) (total, active int, err error) {
	query := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_completed = 0 THEN 1 ELSE 0 END), 0)
		FROM items WHERE group_id = ?`
	if err := db.conn.QueryRowContext(ctx, query, groupID).Scan(&total, &active); err != nil {
		return 0, 0, fmt.Errorf("failed to count items: %w", err)
	}
	return total, active, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (schema.Item, error) {
	var (
		item      schema.Item
		createdAt string
	)
	if err := row.Scan(
		&item.ID,
		&item.GroupID,
		&item.Name,
		&item.Completed,
		&item.Icon,
		&item.Category,
		&createdAt,
	); err != nil {
		return schema.Item{}, err
	}

	t, err := parseTime(createdAt)
	if err != nil {
		return schema.Item{}, err
	}
	item.CreatedAt = t
	return item, nil
}

func scanItems(rows *sql.Rows) ([]schema.Item, error) {
	items := []schema.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}
