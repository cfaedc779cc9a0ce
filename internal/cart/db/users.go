package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/cartsync/cart/internal/cart/schema"
)

// ErrUserNotFound is returned when no profile matches a lookup.
var ErrUserNotFound = errors.New("user not found")

// UpsertUserProfile creates or updates a user's directory entry.
func (db *DB) UpsertUserProfile(ctx context.Context, p schema.UserProfile) error {
	if p.ID == "" {
		return fmt.Errorf("invalid user: id is required")
	}
	if !strings.Contains(p.Email, "@") {
		return fmt.Errorf("invalid user: email %q is not valid", p.Email)
	}

	query := `
	INSERT INTO user_profiles (id, email, full_name) VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		email = excluded.email,
		full_name = excluded.full_name
	`
	if _, err := db.conn.ExecContext(ctx, query, p.ID, strings.ToLower(p.Email), nullString(p.FullName)); err != nil {
		return fmt.Errorf("failed to upsert user %s: %w", p.ID, err)
	}
	return nil
}

// ListUsers returns all profiles ordered by email.
func (db *DB) ListUsers(ctx context.Context) ([]schema.UserProfile, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, email, full_name FROM user_profiles ORDER BY email`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []schema.UserProfile{}
	for rows.Next() {
		var (
			u    schema.UserProfile
			full sql.NullString
		)
		if err := rows.Scan(&u.ID, &u.Email, &full); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.FullName = full.String
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// FindUserByEmail looks a profile up by email (case-insensitive).
func (db *DB) FindUserByEmail(ctx context.Context, email string) (schema.UserProfile, error) {
	var (
		u    schema.UserProfile
		full sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, email, full_name FROM user_profiles WHERE email = ?`, strings.ToLower(email),
	).Scan(&u.ID, &u.Email, &full)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.UserProfile{}, fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	if err != nil {
		return schema.UserProfile{}, fmt.Errorf("failed to find user: %w", err)
	}
	u.FullName = full.String
	return u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
