// Package adminapi exposes the administrative HTTP API.
//
// # Routes
//
// All routes except GET /health live under /_hearth/admin/v1 and are gated
// by the token authorizer. Each servlet declares a permission code (users,
// whois, server_admin, export, tokens) and the request method is the
// action, so a ruleset can grant read access to a resource while denying
// writes.
//
// # Error Mapping
//
// Authorization failures map onto HTTP statuses:
//
//   - 401: No usable Authorization header
//   - 403: Token unknown, expired, or denied for this code/method
//   - 404: Target user or token does not exist
//   - 400: Malformed body or invalid action
//
// Response bodies are always JSON.
package adminapi
