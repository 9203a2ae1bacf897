// ABOUTME: HTTP admin API server with permission-coded servlets
// ABOUTME: Every route is gated by the token authorizer before its handler runs

package adminapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hearthchat/hearth-admin/internal/authz"
	"github.com/hearthchat/hearth-admin/internal/export"
	"github.com/hearthchat/hearth-admin/internal/store"
)

// Permission codes declared by the admin servlets. A route without a code
// can never be reached with a token, whatever its ruleset says.
const (
	PermissionUsers       = "users"
	PermissionWhois       = "whois"
	PermissionServerAdmin = "server_admin"
	PermissionExport      = "export"
	PermissionTokens      = "tokens"
)

// Server exposes the administrative HTTP API.
type Server struct {
	authorizer *authz.Authorizer
	users      store.UserStore
	tokens     store.TokenStore
	exporter   *export.Exporter
	exportDir  string
	logger     *slog.Logger
}

// NewServer creates the admin API server.
func NewServer(authorizer *authz.Authorizer, users store.UserStore, tokens store.TokenStore, exporter *export.Exporter, exportDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		authorizer: authorizer,
		users:      users,
		tokens:     tokens,
		exporter:   exporter,
		exportDir:  exportDir,
		logger:     logger.With("component", "adminapi"),
	}
}

// Routes returns the request mux for the admin API.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// User administration
	mux.HandleFunc("GET /_hearth/admin/v1/users", s.requireTokenAuth(PermissionUsers, s.handleGetUsers))
	mux.HandleFunc("GET /_hearth/admin/v1/users/paginate", s.requireTokenAuth(PermissionUsers, s.handleGetUsersPaginate))
	mux.HandleFunc("GET /_hearth/admin/v1/users/search", s.requireTokenAuth(PermissionUsers, s.handleSearchUsers))
	mux.HandleFunc("GET /_hearth/admin/v1/whois/{userID}", s.requireTokenAuth(PermissionWhois, s.handleWhois))
	mux.HandleFunc("GET /_hearth/admin/v1/users/{userID}/admin", s.requireTokenAuth(PermissionServerAdmin, s.handleGetUserAdmin))
	mux.HandleFunc("PUT /_hearth/admin/v1/users/{userID}/admin", s.requireTokenAuth(PermissionServerAdmin, s.handlePutUserAdmin))
	mux.HandleFunc("POST /_hearth/admin/v1/users/{userID}/export", s.requireTokenAuth(PermissionExport, s.handleExportUser))

	// Token administration
	mux.HandleFunc("POST /_hearth/admin/v1/tokens", s.requireTokenAuth(PermissionTokens, s.handleCreateToken))
	mux.HandleFunc("GET /_hearth/admin/v1/tokens/{token}/permissions", s.requireTokenAuth(PermissionTokens, s.handleGetTokenPermissions))
	mux.HandleFunc("PUT /_hearth/admin/v1/tokens/{token}/permissions", s.requireTokenAuth(PermissionTokens, s.handlePutTokenPermission))
	mux.HandleFunc("DELETE /_hearth/admin/v1/tokens/{token}", s.requireTokenAuth(PermissionTokens, s.handleDeleteToken))

	return mux
}

// requireTokenAuth wraps a handler with the authorization gate, using the
// request method as the action.
func (s *Server) requireTokenAuth(permissionCode string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.authorizer.Validate(r.Context(), permissionCode, r.Header, r.Method, true)
		if err != nil || !ok {
			s.writeAuthError(w, r, permissionCode, err)
			return
		}
		next(w, r)
	}
}

// writeAuthError maps authorization failures onto HTTP status codes.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, permissionCode string, err error) {
	status := http.StatusForbidden
	message := "forbidden"

	switch {
	case errors.Is(err, authz.ErrMissingCredential):
		status = http.StatusUnauthorized
		message = "missing credential"
	case errors.Is(err, authz.ErrForbidden):
		// defaults
	case err != nil:
		status = http.StatusInternalServerError
		message = "internal error"
		s.logger.Error("authorization check failed", "path", r.URL.Path, "error", err)
	}

	s.logger.Debug("rejected admin request",
		"path", r.URL.Path,
		"method", r.Method,
		"permission_code", permissionCode,
		"status", status,
	)
	writeError(w, status, message)
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth reports liveness. Unauthenticated by design.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
