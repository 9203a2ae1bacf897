// ABOUTME: Tests for the admin HTTP API over a real SQLite store
// ABOUTME: Covers authorization status mapping and the servlet handlers

package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/hearthchat/hearth-admin/internal/authz"
	"github.com/hearthchat/hearth-admin/internal/export"
	"github.com/hearthchat/hearth-admin/internal/store"
	"github.com/hearthchat/hearth-admin/internal/visibility"
)

type testServer struct {
	mux        *http.ServeMux
	store      *store.SQLiteStore
	authorizer *authz.Authorizer
	exportDir  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tmpDir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	authorizer := authz.New(s, nil)
	filter := visibility.New(nil)
	exporter := export.New(s, s, s, filter, nil)
	exportDir := filepath.Join(tmpDir, "exports")

	server := NewServer(authorizer, s, s, exporter, exportDir, nil)
	return &testServer{
		mux:        server.Routes(),
		store:      s,
		authorizer: authorizer,
		exportDir:  exportDir,
	}
}

// issueToken creates a token granted the given actions per permission code.
func (ts *testServer) issueToken(t *testing.T, grants map[string][]string) string {
	t.Helper()

	token, err := ts.authorizer.CreateToken(context.Background(), time.Now().Add(time.Hour), "test", "")
	require.NoError(t, err)

	for code, actions := range grants {
		for _, action := range actions {
			ok, err := ts.authorizer.SetPermission(context.Background(), token, code, action, true)
			require.NoError(t, err)
			require.True(t, ok)
		}
	}
	return token
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth_Unauthenticated(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	readOnly := ts.issueToken(t, map[string][]string{
		PermissionUsers: {http.MethodGet},
	})

	// No credential at all.
	rec := ts.request(t, http.MethodGet, "/_hearth/admin/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Unknown token.
	rec = ts.request(t, http.MethodGet, "/_hearth/admin/v1/users", "bogus", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Known token without the servlet's permission code.
	rec = ts.request(t, http.MethodGet, "/_hearth/admin/v1/whois/@alice:x", readOnly, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Known token, right code, allowed action.
	rec = ts.request(t, http.MethodGet, "/_hearth/admin/v1/users", readOnly, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetUsers(t *testing.T) {
	ts := newTestServer(t)
	token := ts.issueToken(t, map[string][]string{PermissionUsers: {http.MethodGet}})

	require.NoError(t, ts.store.UpsertUser(context.Background(), &store.User{
		ID:          "@alice:example.org",
		DisplayName: "Alice",
	}))

	rec := ts.request(t, http.MethodGet, "/_hearth/admin/v1/users", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	users := body["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, "@alice:example.org", users[0].(map[string]any)["user_id"])
}

func TestGetUsersPaginate(t *testing.T) {
	ts := newTestServer(t)
	token := ts.issueToken(t, map[string][]string{PermissionUsers: {http.MethodGet}})

	for _, uid := range []string{"@a:x", "@b:x", "@c:x"} {
		require.NoError(t, ts.store.UpsertUser(context.Background(), &store.User{ID: id.UserID(uid)}))
	}

	rec := ts.request(t, http.MethodGet, "/_hearth/admin/v1/users/paginate?from=1&limit=1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(3), body["total"])
	users := body["users"].([]any)
	require.Len(t, users, 1)
	assert.Equal(t, "@b:x", users[0].(map[string]any)["user_id"])
}

func TestSearchUsers_RequiresTerm(t *testing.T) {
	ts := newTestServer(t)
	token := ts.issueToken(t, map[string][]string{PermissionUsers: {http.MethodGet}})

	rec := ts.request(t, http.MethodGet, "/_hearth/admin/v1/users/search", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, http.MethodGet, "/_hearth/admin/v1/users/search?term=ali", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWhois(t *testing.T) {
	ts := newTestServer(t)
	token := ts.issueToken(t, map[string][]string{PermissionWhois: {http.MethodGet}})

	seen := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, ts.store.RecordUserSession(context.Background(), "@alice:x", "10.0.0.1", "curl/8.0", seen))

	rec := ts.request(t, http.MethodGet, "/_hearth/admin/v1/whois/@alice:x", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "@alice:x", body["user_id"])

	devices := body["devices"].(map[string]any)
	sessions := devices[""].(map[string]any)["sessions"].([]any)
	connections := sessions[0].(map[string]any)["connections"].([]any)
	require.Len(t, connections, 1)
	assert.Equal(t, "10.0.0.1", connections[0].(map[string]any)["ip"])
}

func TestAdminBit(t *testing.T) {
	ts := newTestServer(t)
	token := ts.issueToken(t, map[string][]string{
		PermissionServerAdmin: {http.MethodGet, http.MethodPut},
	})

	// Unknown user is a 404, not a 500.
	rec := ts.request(t, http.MethodGet, "/_hearth/admin/v1/users/@ghost:x/admin", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, ts.store.UpsertUser(context.Background(), &store.User{ID: "@alice:x"}))

	rec = ts.request(t, http.MethodPut, "/_hearth/admin/v1/users/@alice:x/admin", token,
		map[string]any{"admin": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/_hearth/admin/v1/users/@alice:x/admin", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["admin"])
}

func TestAdminBit_RequiresBody(t *testing.T) {
	ts := newTestServer(t)
	token := ts.issueToken(t, map[string][]string{PermissionServerAdmin: {http.MethodPut}})

	rec := ts.request(t, http.MethodPut, "/_hearth/admin/v1/users/@alice:x/admin", token,
		map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenLifecycle(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.issueToken(t, map[string][]string{
		PermissionTokens: {http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete},
	})

	// Mint a token over the API.
	rec := ts.request(t, http.MethodPost, "/_hearth/admin/v1/tokens", admin,
		map[string]any{"creator": "alice", "ttl_seconds": 3600})
	require.Equal(t, http.StatusOK, rec.Code)
	minted := decodeBody(t, rec)["token"].(string)
	require.NotEmpty(t, minted)

	// Grant it a rule and read it back.
	rec = ts.request(t, http.MethodPut, "/_hearth/admin/v1/tokens/"+minted+"/permissions", admin,
		map[string]any{"endpoint": "users", "action": "GET", "allowed": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/_hearth/admin/v1/tokens/"+minted+"/permissions", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	perms := decodeBody(t, rec)["permissions"].(map[string]any)
	assert.Equal(t, true, perms["users"].(map[string]any)["GET"])

	// The minted token now works against the users servlet.
	rec = ts.request(t, http.MethodGet, "/_hearth/admin/v1/users", minted, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Revoke it.
	rec = ts.request(t, http.MethodDelete, "/_hearth/admin/v1/tokens/"+minted, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.request(t, http.MethodGet, "/_hearth/admin/v1/users", minted, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTokenEndpoints_Invalid(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.issueToken(t, map[string][]string{
		PermissionTokens: {http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete},
	})

	// Actions outside GET/PUT/POST/DELETE are rejected.
	rec := ts.request(t, http.MethodPut, "/_hearth/admin/v1/tokens/whatever/permissions", admin,
		map[string]any{"endpoint": "users", "action": "PATCH", "allowed": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown token targets are 404s.
	rec = ts.request(t, http.MethodPut, "/_hearth/admin/v1/tokens/bogus/permissions", admin,
		map[string]any{"endpoint": "users", "action": "GET", "allowed": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.request(t, http.MethodGet, "/_hearth/admin/v1/tokens/bogus/permissions", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.request(t, http.MethodDelete, "/_hearth/admin/v1/tokens/bogus", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Nonpositive TTL is rejected.
	rec = ts.request(t, http.MethodPost, "/_hearth/admin/v1/tokens", admin,
		map[string]any{"creator": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportUser(t *testing.T) {
	ts := newTestServer(t)
	token := ts.issueToken(t, map[string][]string{PermissionExport: {http.MethodPost}})
	ctx := context.Background()

	require.NoError(t, ts.store.InsertEvent(ctx, &store.Event{
		ID:             "$e1",
		RoomID:         "!room:x",
		Sender:         "@alice:x",
		Type:           "m.room.message",
		StreamOrdering: 1,
	}))
	require.NoError(t, ts.store.SetMembership(ctx, &store.RoomMembership{
		UserID:         "@alice:x",
		RoomID:         "!room:x",
		Membership:     event.MembershipJoin,
		EventID:        "$e1",
		StreamOrdering: 1,
	}))

	rec := ts.request(t, http.MethodPost, "/_hearth/admin/v1/users/@alice:x/export", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "@alice:x", body["user_id"])

	exportPath := body["export_path"].(string)
	require.NotEmpty(t, exportPath)

	// The export landed on disk with a manifest.
	_, err := os.Stat(filepath.Join(exportPath, "manifest.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(exportPath, "rooms", "!room:x", "events.jsonl"))
	assert.NoError(t, err)
}
