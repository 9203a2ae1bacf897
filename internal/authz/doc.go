// Package authz gates admin operations behind opaque bearer tokens with
// per-endpoint, per-action permission rulesets.
//
// # Validation
//
// Validate extracts the token from the Authorization header (exactly one
// header, "Bearer <token>" form) and checks the token's ruleset against the
// requesting servlet's permission code and HTTP method:
//
//	ok, err := authorizer.Validate(ctx, "users", r.Header, r.Method, true)
//
// Failure modes map onto sentinel errors:
//
//   - ErrMissingCredential: No usable Authorization header was supplied
//   - ErrForbidden: Token unknown, expired, or its ruleset denies the action
//   - ErrInvalidAction: Action outside GET, PUT, POST, DELETE
//
// With raiseIfMissing=false an unknown token is reported as (false, nil)
// instead of ErrForbidden, letting callers fall through to other credential
// checks.
//
// # Token Lifecycle
//
// CreateToken mints a random opaque token with an expiry; SetPermission
// grants or revokes one (endpoint, action) cell in its ruleset. Tokens carry
// no embedded claims: the store is the single source of truth, so revocation
// is immediate.
package authz
