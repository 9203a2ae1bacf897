// ABOUTME: Admin token and permission ruleset store methods
// ABOUTME: Tokens are opaque random strings mapped to endpoint/action allow rules

package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// generateTokenValue returns a new opaque token value: 32 random bytes,
// base64url without padding.
func generateTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateAdminToken issues a new admin token valid until the given time.
// The token value is generated here; callers only choose lifetime and
// bookkeeping metadata.
func (s *SQLiteStore) CreateAdminToken(ctx context.Context, validUntil time.Time, creator, description string) (string, error) {
	token, err := generateTokenValue()
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO admin_tokens (token, creator, description, valid_until, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		token,
		creator,
		description,
		validUntil.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("inserting admin token: %w", err)
	}

	s.logger.Info("created admin token", "creator", creator, "valid_until", validUntil.UTC())
	return token, nil
}

// GetPermissionsForToken resolves the permission ruleset for a token value.
// Unknown and expired tokens both yield a ruleset in TokenStateNonExistent;
// the caller never needs to distinguish the two.
func (s *SQLiteStore) GetPermissionsForToken(ctx context.Context, token string) (*PermissionRuleset, error) {
	var validUntilStr string
	err := s.db.QueryRowContext(ctx,
		`SELECT valid_until FROM admin_tokens WHERE token = ?`, token,
	).Scan(&validUntilStr)

	if errors.Is(err, sql.ErrNoRows) {
		return &PermissionRuleset{State: TokenStateNonExistent}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying admin token: %w", err)
	}

	validUntil, err := time.Parse(time.RFC3339, validUntilStr)
	if err != nil {
		return nil, fmt.Errorf("parsing valid_until: %w", err)
	}
	if !validUntil.After(time.Now()) {
		return &PermissionRuleset{State: TokenStateNonExistent}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint, action, allowed FROM admin_token_permissions WHERE token = ?`, token,
	)
	if err != nil {
		return nil, fmt.Errorf("querying token permissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ruleset := &PermissionRuleset{
		State:       TokenStateExists,
		Permissions: make(map[string]map[string]bool),
	}

	for rows.Next() {
		var endpoint, action string
		var allowed bool
		if err := rows.Scan(&endpoint, &action, &allowed); err != nil {
			return nil, fmt.Errorf("scanning token permission: %w", err)
		}
		if ruleset.Permissions[endpoint] == nil {
			ruleset.Permissions[endpoint] = make(map[string]bool)
		}
		ruleset.Permissions[endpoint][action] = allowed
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating token permissions: %w", err)
	}

	return ruleset, nil
}

// SetPermissionForToken upserts one (endpoint, action) rule for a token.
// Returns false without writing when the token does not exist.
func (s *SQLiteStore) SetPermissionForToken(ctx context.Context, token, endpoint, action string, allowed bool) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admin_tokens WHERE token = ?`, token,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking admin token: %w", err)
	}
	if exists == 0 {
		return false, nil
	}

	query := `
		INSERT INTO admin_token_permissions (token, endpoint, action, allowed)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (token, endpoint, action) DO UPDATE SET allowed = excluded.allowed
	`

	if _, err := s.db.ExecContext(ctx, query, token, endpoint, action, allowed); err != nil {
		return false, fmt.Errorf("upserting token permission: %w", err)
	}

	s.logger.Debug("set token permission", "endpoint", endpoint, "action", action, "allowed", allowed)
	return true, nil
}

// ListAdminTokens returns all issued tokens, oldest first.
func (s *SQLiteStore) ListAdminTokens(ctx context.Context) ([]*AdminToken, error) {
	query := `
		SELECT token, creator, description, valid_until, created_at
		FROM admin_tokens
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying admin tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []*AdminToken
	for rows.Next() {
		var t AdminToken
		var validUntilStr, createdAtStr string
		if err := rows.Scan(&t.Token, &t.Creator, &t.Description, &validUntilStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning admin token: %w", err)
		}
		t.ValidUntil, err = time.Parse(time.RFC3339, validUntilStr)
		if err != nil {
			return nil, fmt.Errorf("parsing valid_until: %w", err)
		}
		t.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		tokens = append(tokens, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating admin tokens: %w", err)
	}

	return tokens, nil
}

// DeleteAdminToken revokes a token. Its permission rows cascade away.
func (s *SQLiteStore) DeleteAdminToken(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM admin_tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("deleting admin token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTokenNotFound
	}

	s.logger.Info("deleted admin token")
	return nil
}
