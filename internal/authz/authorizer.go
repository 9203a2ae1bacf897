// ABOUTME: Token-scoped authorization gate for administrative endpoints
// ABOUTME: Validates bearer credentials against per-token permission rulesets

package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hearthchat/hearth-admin/internal/store"
)

// Authorization errors. Store failures propagate unwrapped; everything the
// gate decides itself is one of these sentinels.
var (
	// ErrMissingCredential covers absent, duplicate and malformed
	// Authorization headers.
	ErrMissingCredential = errors.New("missing credential")

	// ErrForbidden covers valid credentials lacking permission, and
	// endpoints that declare no permission code at all.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidAction is returned for actions outside GET/PUT/POST/DELETE.
	ErrInvalidAction = errors.New("invalid action")
)

// validActions are the HTTP-style actions a permission rule may cover.
var validActions = map[string]bool{
	http.MethodGet:    true,
	http.MethodPut:    true,
	http.MethodPost:   true,
	http.MethodDelete: true,
}

// PermissionStore is the slice of the store the authorizer needs.
type PermissionStore interface {
	GetPermissionsForToken(ctx context.Context, token string) (*store.PermissionRuleset, error)
	SetPermissionForToken(ctx context.Context, token, endpoint, action string, allowed bool) (bool, error)
	CreateAdminToken(ctx context.Context, validUntil time.Time, creator, description string) (string, error)
}

// Authorizer decides whether a bearer credential may perform an action on an
// administrative endpoint. It is stateless and safe for concurrent use.
type Authorizer struct {
	store  PermissionStore
	logger *slog.Logger
}

// New creates an Authorizer over the given permission store.
func New(permissions PermissionStore, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{
		store:  permissions,
		logger: logger.With("component", "authz"),
	}
}

// extractBearerToken pulls the token out of the request headers. The header
// must appear exactly once and match "Bearer <token>" with exactly two
// space-separated parts.
func extractBearerToken(headers http.Header) (string, error) {
	values := headers.Values("Authorization")
	if len(values) == 0 {
		return "", fmt.Errorf("%w: missing Authorization header", ErrMissingCredential)
	}
	if len(values) > 1 {
		return "", fmt.Errorf("%w: too many Authorization headers", ErrMissingCredential)
	}

	parts := strings.Split(values[0], " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("%w: invalid Authorization header", ErrMissingCredential)
	}
	return parts[1], nil
}

// Validate checks that the request carries an admin token allowed to perform
// action on the endpoint identified by permissionCode.
//
// Endpoints without a permission code are never reachable via token
// authorization and fail with ErrForbidden regardless of the credential.
// A token unknown to the store returns (false, nil) when raiseIfMissing is
// false, so callers can treat "no admin access" as a non-error; otherwise it
// is denied with ErrForbidden. An unknown token is never granted access.
func (a *Authorizer) Validate(ctx context.Context, permissionCode string, headers http.Header, action string, raiseIfMissing bool) (bool, error) {
	if permissionCode == "" {
		return false, fmt.Errorf("%w: endpoint has no permission code", ErrForbidden)
	}

	token, err := extractBearerToken(headers)
	if err != nil {
		return false, err
	}

	ruleset, err := a.store.GetPermissionsForToken(ctx, token)
	if err != nil {
		return false, err
	}

	if ruleset.State == store.TokenStateNonExistent {
		if !raiseIfMissing {
			return false, nil
		}
		a.logger.Debug("denied unknown admin token", "endpoint", permissionCode, "action", action)
		return false, ErrForbidden
	}

	if ruleset.Allows(permissionCode, action) {
		return true, nil
	}

	a.logger.Debug("denied admin token", "endpoint", permissionCode, "action", action)
	return false, ErrForbidden
}

// GetPermissions returns the permission ruleset for a token value. No
// validation of the token's shape is performed.
func (a *Authorizer) GetPermissions(ctx context.Context, token string) (*store.PermissionRuleset, error) {
	return a.store.GetPermissionsForToken(ctx, token)
}

// SetPermission updates one (endpoint, action) rule on a token. Actions
// outside GET/PUT/POST/DELETE fail before the store is touched.
func (a *Authorizer) SetPermission(ctx context.Context, adminToken, endpoint, action string, allowed bool) (bool, error) {
	if !validActions[action] {
		return false, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	return a.store.SetPermissionForToken(ctx, adminToken, endpoint, action, allowed)
}

// CreateToken issues a new admin token. Token generation is the store's
// concern.
func (a *Authorizer) CreateToken(ctx context.Context, validUntil time.Time, creator, description string) (string, error) {
	return a.store.CreateAdminToken(ctx, validUntil, creator, description)
}
