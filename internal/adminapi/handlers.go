// ABOUTME: Handlers for the admin API servlets
// ABOUTME: User listing, whois, admin-bit, token management and user export

package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"maunium.net/go/mautrix/id"

	"github.com/hearthchat/hearth-admin/internal/authz"
	"github.com/hearthchat/hearth-admin/internal/export"
	"github.com/hearthchat/hearth-admin/internal/store"
)

// userJSON is the wire shape of a user record.
type userJSON struct {
	UserID      id.UserID `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Admin       bool      `json:"admin"`
	Deactivated bool      `json:"deactivated"`
	CreatedAt   time.Time `json:"created_at"`
}

func toUserJSON(u *store.User) userJSON {
	return userJSON{
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		Admin:       u.Admin,
		Deactivated: u.Deactivated,
		CreatedAt:   u.CreatedAt,
	}
}

func toUserList(users []*store.User) []userJSON {
	out := make([]userJSON, 0, len(users))
	for _, u := range users {
		out = append(out, toUserJSON(u))
	}
	return out
}

func (s *Server) handleGetUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.GetUsers(r.Context())
	if err != nil {
		s.logger.Error("listing users failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": toUserList(users)})
}

func (s *Server) handleGetUsersPaginate(w http.ResponseWriter, r *http.Request) {
	order := r.URL.Query().Get("order_by")
	if order == "" {
		order = "user_id"
	}
	start, _ := strconv.Atoi(r.URL.Query().Get("from"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	page, err := s.users.GetUsersPaginate(r.Context(), order, start, limit)
	if err != nil {
		s.logger.Error("paginating users failed", "error", err)
		writeError(w, http.StatusBadRequest, "invalid pagination parameters")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": toUserList(page.Users),
		"total": page.Total,
	})
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("term")
	if term == "" {
		writeError(w, http.StatusBadRequest, "term is required")
		return
	}

	users, err := s.users.SearchUsers(r.Context(), term)
	if err != nil {
		s.logger.Error("searching users failed", "term", term, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": toUserList(users)})
}

// whoisConnection is one session entry in a whois response.
type whoisConnection struct {
	IP        string    `json:"ip"`
	LastSeen  time.Time `json:"last_seen"`
	UserAgent string    `json:"user_agent"`
}

func (s *Server) handleWhois(w http.ResponseWriter, r *http.Request) {
	userID := id.UserID(r.PathValue("userID"))

	sessions, err := s.users.GetUserIPAndAgents(r.Context(), userID)
	if err != nil {
		s.logger.Error("whois lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	connections := make([]whoisConnection, 0, len(sessions))
	for _, sess := range sessions {
		connections = append(connections, whoisConnection{
			IP:        sess.IP,
			LastSeen:  sess.LastSeen,
			UserAgent: sess.UserAgent,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"devices": map[string]any{
			"": map[string]any{
				"sessions": []map[string]any{
					{"connections": connections},
				},
			},
		},
	})
}

func (s *Server) handleGetUserAdmin(w http.ResponseWriter, r *http.Request) {
	userID := id.UserID(r.PathValue("userID"))

	admin, err := s.users.IsServerAdmin(r.Context(), userID)
	if errors.Is(err, store.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.logger.Error("admin bit lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"admin": admin})
}

func (s *Server) handlePutUserAdmin(w http.ResponseWriter, r *http.Request) {
	userID := id.UserID(r.PathValue("userID"))

	var body struct {
		Admin *bool `json:"admin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Admin == nil {
		writeError(w, http.StatusBadRequest, "admin boolean is required")
		return
	}

	err := s.users.SetServerAdmin(r.Context(), userID, *body.Admin)
	if errors.Is(err, store.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.logger.Error("setting admin bit failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"admin": *body.Admin})
}

func (s *Server) handleExportUser(w http.ResponseWriter, r *http.Request) {
	userID := id.UserID(r.PathValue("userID"))

	root := filepath.Join(s.exportDir, uuid.New().String())
	sink, err := export.NewDirSink(root, s.logger)
	if err != nil {
		s.logger.Error("creating export sink failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	result, err := s.exporter.Export(r.Context(), userID, sink)
	if err != nil {
		// The sink holds a valid but incomplete prefix; surface the failure
		// and let the caller decide whether to keep it.
		s.logger.Error("export failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"export_path": result,
	})
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Creator     string `json:"creator"`
		Description string `json:"description"`
		TTLSeconds  int64  `json:"ttl_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.TTLSeconds <= 0 {
		writeError(w, http.StatusBadRequest, "ttl_seconds must be positive")
		return
	}

	validUntil := time.Now().Add(time.Duration(body.TTLSeconds) * time.Second).UTC()
	token, err := s.authorizer.CreateToken(r.Context(), validUntil, body.Creator, body.Description)
	if err != nil {
		s.logger.Error("creating token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":       token,
		"valid_until": validUntil.Format(time.RFC3339),
	})
}

func (s *Server) handleGetTokenPermissions(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	ruleset, err := s.authorizer.GetPermissions(r.Context(), token)
	if err != nil {
		s.logger.Error("permissions lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if ruleset.State == store.TokenStateNonExistent {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"permissions": ruleset.Permissions})
}

func (s *Server) handlePutTokenPermission(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	var body struct {
		Endpoint string `json:"endpoint"`
		Action   string `json:"action"`
		Allowed  *bool  `json:"allowed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Endpoint == "" || body.Allowed == nil {
		writeError(w, http.StatusBadRequest, "endpoint, action and allowed are required")
		return
	}

	ok, err := s.authorizer.SetPermission(r.Context(), token, body.Endpoint, body.Action, *body.Allowed)
	if errors.Is(err, authz.ErrInvalidAction) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("setting permission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	err := s.tokens.DeleteAdminToken(r.Context(), token)
	if errors.Is(err, store.ErrTokenNotFound) {
		writeError(w, http.StatusNotFound, "token not found")
		return
	}
	if err != nil {
		s.logger.Error("deleting token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
