package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cartsync/cart/internal/cart/schema"
	"github.com/google/uuid"
)

// CreateGroup creates a group owned by ownerID and enrolls the owner as
// its first member.
func (db *DB) CreateGroup(ctx context.Context, name, ownerID string) (schema.Group, error) {
	now := schema.Timestamp(db.now())
	group := schema.Group{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		OwnerUserID: ownerID,
		CreatedAt:   now,
	}
	if err := group.Validate(); err != nil {
		return schema.Group{}, fmt.Errorf("invalid group: %w", err)
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO groups (id, name, owner_user_id, created_at) VALUES (?, ?, ?, ?)`,
			group.ID, group.Name, group.OwnerUserID, formatTime(now),
		); err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}
		return insertMember(ctx, tx, group.ID, ownerID, schema.RoleOwner, now)
	})
	if err != nil {
		return schema.Group{}, err
	}
	return group, nil
}

// GetGroup returns a group by ID, or ErrGroupNotFound.
func (db *DB) GetGroup(ctx context.Context, id string) (schema.Group, error) {
	var (
		g         schema.Group
		createdAt string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, owner_user_id, created_at FROM groups WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.OwnerUserID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Group{}, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	if err != nil {
		return schema.Group{}, fmt.Errorf("failed to get group %s: %w", id, err)
	}
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return schema.Group{}, err
	}
	return g, nil
}

// ListUserGroups returns the groups userID belongs to, newest first.
func (db *DB) ListUserGroups(ctx context.Context, userID string) ([]schema.Group, error) {
	query := `
	SELECT g.id, g.name, g.owner_user_id, g.created_at
	FROM groups g
	JOIN group_members m ON m.group_id = g.id
	WHERE m.user_id = ?
	ORDER BY g.created_at DESC, g.id
	`
	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	groups := []schema.Group{}
	for rows.Next() {
		var (
			g         schema.Group
			createdAt string
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.OwnerUserID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		if g.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating groups: %w", err)
	}
	return groups, nil
}

// AddMember enrolls userID in a group with the given role.
func (db *DB) AddMember(ctx context.Context, groupID, userID string, role schema.Role) (schema.Member, error) {
	if !role.IsValid() {
		return schema.Member{}, fmt.Errorf("invalid role: %q", role)
	}
	if _, err := db.GetGroup(ctx, groupID); err != nil {
		return schema.Member{}, err
	}

	ok, err := db.IsMember(ctx, groupID, userID)
	if err != nil {
		return schema.Member{}, err
	}
	if ok {
		return schema.Member{}, fmt.Errorf("%w: %s in %s", ErrAlreadyMember, userID, groupID)
	}

	now := schema.Timestamp(db.now())
	var member schema.Member
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertMember(ctx, tx, groupID, userID, role, now); err != nil {
			return err
		}
		m, err := scanMember(tx.QueryRowContext(ctx,
			`SELECT id, group_id, user_id, role, created_at FROM group_members WHERE group_id = ? AND user_id = ?`,
			groupID, userID))
		member = m
		return err
	})
	if err != nil {
		return schema.Member{}, err
	}
	return member, nil
}

// IsMember reports whether userID belongs to groupID.
func (db *DB) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return n > 0, nil
}

// ListMembers returns a group's members, owner first.
func (db *DB) ListMembers(ctx context.Context, groupID string) ([]schema.Member, error) {
	query := `
	SELECT id, group_id, user_id, role, created_at FROM group_members
	WHERE group_id = ?
	ORDER BY CASE role WHEN 'owner' THEN 0 ELSE 1 END, created_at, user_id
	`
	rows, err := db.conn.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []schema.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating members: %w", err)
	}
	return members, nil
}

// RemoveMember removes userID from a group. The owner cannot be removed.
func (db *DB) RemoveMember(ctx context.Context, groupID, userID string) error {
	group, err := db.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.OwnerUserID == userID {
		return ErrOwnerRemoval
	}

	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s in %s", ErrNotMember, userID, groupID)
	}
	return nil
}

func insertMember(ctx context.Context, tx *sql.Tx, groupID, userID string, role schema.Role, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO group_members (id, group_id, user_id, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), groupID, userID, string(role), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}
	return nil
}

func scanMember(row rowScanner) (schema.Member, error) {
	var (
		m         schema.Member
		role      string
		createdAt string
	)
	if err := row.Scan(&m.ID, &m.GroupID, &m.UserID, &role, &createdAt); err != nil {
		return schema.Member{}, fmt.Errorf("failed to scan member: %w", err)
	}
	m.Role = schema.Role(role)
	t, err := parseTime(createdAt)
	if err != nil {
		return schema.Member{}, err
	}
	m.CreatedAt = t
	return m, nil
}
