// ABOUTME: User listing, search, admin-bit and whois session store methods
// ABOUTME: Backs the pass-through administrative operations of the admin API

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"maunium.net/go/mautrix/id"
)

// userColumns is the select list shared by the user queries.
const userColumns = `user_id, display_name, admin, deactivated, created_at`

// validUserOrders are the columns GetUsersPaginate accepts for ORDER BY.
// The order value is interpolated into SQL, so it must be allow-listed.
var validUserOrders = map[string]bool{
	"user_id":    true,
	"created_at": true,
}

// UpsertUser creates or updates a local user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (user_id, display_name, admin, deactivated, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = excluded.display_name,
			admin = excluded.admin,
			deactivated = excluded.deactivated
	`

	_, err := s.db.ExecContext(ctx, query,
		string(u.ID),
		u.DisplayName,
		u.Admin,
		u.Deactivated,
		u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}

	return nil
}

// scanUser scans one user row.
func scanUser(scanner interface{ Scan(dest ...any) error }) (*User, error) {
	var u User
	var userID string
	var displayName sql.NullString
	var createdAtStr string

	if err := scanner.Scan(&userID, &displayName, &u.Admin, &u.Deactivated, &createdAtStr); err != nil {
		return nil, err
	}

	u.ID = id.UserID(userID)
	u.DisplayName = displayName.String

	var err error
	u.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &u, nil
}

// queryUsers executes a user select and scans all rows.
func (s *SQLiteStore) queryUsers(ctx context.Context, query string, args ...any) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}

	return users, nil
}

// GetUsers returns every local user, oldest account first.
func (s *SQLiteStore) GetUsers(ctx context.Context) ([]*User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC`)
}

// GetUsersPaginate returns one page of users ordered by the given column,
// along with the total user count.
func (s *SQLiteStore) GetUsersPaginate(ctx context.Context, order string, start, limit int) (*UsersPage, error) {
	if !validUserOrders[order] {
		return nil, fmt.Errorf("invalid order column %q", order)
	}
	if limit <= 0 {
		limit = 100
	}
	if start < 0 {
		start = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY ` + order + ` ASC LIMIT ? OFFSET ?`
	users, err := s.queryUsers(ctx, query, limit, start)
	if err != nil {
		return nil, err
	}

	return &UsersPage{Users: users, Total: total}, nil
}

// SearchUsers returns users whose ID or display name contains the term.
func (s *SQLiteStore) SearchUsers(ctx context.Context, term string) ([]*User, error) {
	pattern := "%" + term + "%"
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE user_id LIKE ? OR display_name LIKE ?
		ORDER BY user_id ASC
	`
	return s.queryUsers(ctx, query, pattern, pattern)
}

// IsServerAdmin reports whether the user carries the server admin bit.
func (s *SQLiteStore) IsServerAdmin(ctx context.Context, userID id.UserID) (bool, error) {
	var admin bool
	err := s.db.QueryRowContext(ctx,
		`SELECT admin FROM users WHERE user_id = ?`, string(userID),
	).Scan(&admin)

	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("querying admin bit: %w", err)
	}
	return admin, nil
}

// SetServerAdmin sets or clears the server admin bit on a user.
func (s *SQLiteStore) SetServerAdmin(ctx context.Context, userID id.UserID, admin bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET admin = ? WHERE user_id = ?`, admin, string(userID),
	)
	if err != nil {
		return fmt.Errorf("updating admin bit: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	s.logger.Info("set server admin bit", "user_id", userID, "admin", admin)
	return nil
}

// RecordUserSession records or refreshes one (ip, user agent) sighting.
func (s *SQLiteStore) RecordUserSession(ctx context.Context, userID id.UserID, ip, userAgent string, seenAt time.Time) error {
	query := `
		INSERT INTO user_ips (user_id, ip, user_agent, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, ip, user_agent) DO UPDATE SET last_seen = excluded.last_seen
	`

	_, err := s.db.ExecContext(ctx, query,
		string(userID), ip, userAgent, seenAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording user session: %w", err)
	}
	return nil
}

// GetUserIPAndAgents returns the sessions seen for a user, most recent first.
func (s *SQLiteStore) GetUserIPAndAgents(ctx context.Context, userID id.UserID) ([]*UserSession, error) {
	query := `
		SELECT ip, user_agent, last_seen
		FROM user_ips
		WHERE user_id = ?
		ORDER BY last_seen DESC
	`

	rows, err := s.db.QueryContext(ctx, query, string(userID))
	if err != nil {
		return nil, fmt.Errorf("querying user sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*UserSession
	for rows.Next() {
		var sess UserSession
		var lastSeenStr string
		if err := rows.Scan(&sess.IP, &sess.UserAgent, &lastSeenStr); err != nil {
			return nil, fmt.Errorf("scanning user session: %w", err)
		}
		sess.LastSeen, err = time.Parse(time.RFC3339, lastSeenStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		sessions = append(sessions, &sess)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user sessions: %w", err)
	}

	return sessions, nil
}
