package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mailchimp/Firebase/internal/identity"
)

// CreateUser inserts or replaces an identity record.
func (s *Store) CreateUser(ctx context.Context, u identity.User) error {
	if u.UID == "" {
		return fmt.Errorf("create user: empty uid")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (uid, email, display_name)
		VALUES (?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name
	`, u.UID, u.Email, u.DisplayName)
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.UID, err)
	}
	return nil
}

// DeleteUser removes a user and returns the deleted record. found is false
// when no such user existed.
func (s *Store) DeleteUser(ctx context.Context, uid string) (u identity.User, found bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT uid, email, display_name FROM users WHERE uid = ?
		`, uid).Scan(&u.UID, &u.Email, &u.DisplayName)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get user %s: %w", uid, err)
		}
		found = true
		if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE uid = ?`, uid); err != nil {
			return fmt.Errorf("delete user %s: %w", uid, err)
		}
		return nil
	})
	return u, found, err
}

// ListUsers returns one page of users ordered by uid. pageToken is the
// token returned by the previous page, or "" for the first page. The
// returned token is "" after the last page.
func (s *Store) ListUsers(ctx context.Context, pageSize int, pageToken string) ([]identity.User, string, error) {
	if pageSize <= 0 {
		return nil, "", fmt.Errorf("list users: page size must be positive")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, email, display_name
		FROM users
		WHERE uid > ?
		ORDER BY uid COLLATE BINARY ASC
		LIMIT ?
	`, pageToken, pageSize+1)
	if err != nil {
		return nil, "", fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []identity.User
	for rows.Next() {
		var u identity.User
		if err := rows.Scan(&u.UID, &u.Email, &u.DisplayName); err != nil {
			return nil, "", fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate users: %w", err)
	}

	var next string
	if len(users) > pageSize {
		users = users[:pageSize]
		next = users[pageSize-1].UID
	}
	return users, next, nil
}
