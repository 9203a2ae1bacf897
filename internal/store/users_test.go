// ABOUTME: Tests for user listing, search, admin-bit and whois session methods
// ABOUTME: Covers pagination windows, order allow-listing and session refresh

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"maunium.net/go/mautrix/id"
)

func seedUsers(t *testing.T, s *SQLiteStore, userIDs ...string) {
	t.Helper()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, uid := range userIDs {
		err := s.UpsertUser(context.Background(), &User{
			ID:        id.UserID(uid),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("UpsertUser %s failed: %v", uid, err)
		}
	}
}

func TestUpsertAndGetUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpsertUser(ctx, &User{
		ID:          "@alice:example.org",
		DisplayName: "Alice",
		Admin:       true,
	})
	if err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	// Second upsert updates in place.
	err = s.UpsertUser(ctx, &User{
		ID:          "@alice:example.org",
		DisplayName: "Alice A.",
	})
	if err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	users, err := s.GetUsers(ctx)
	if err != nil {
		t.Fatalf("GetUsers failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].DisplayName != "Alice A." {
		t.Errorf("DisplayName mismatch: got %q", users[0].DisplayName)
	}
	if users[0].Admin {
		t.Error("expected admin bit cleared by second upsert")
	}
}

func TestGetUsersPaginate(t *testing.T) {
	s := newTestStore(t)
	seedUsers(t, s, "@a:x", "@b:x", "@c:x", "@d:x", "@e:x")

	page, err := s.GetUsersPaginate(context.Background(), "user_id", 1, 2)
	if err != nil {
		t.Fatalf("GetUsersPaginate failed: %v", err)
	}
	if page.Total != 5 {
		t.Errorf("Total mismatch: got %d, want 5", page.Total)
	}
	if len(page.Users) != 2 {
		t.Fatalf("expected 2 users in page, got %d", len(page.Users))
	}
	if page.Users[0].ID != "@b:x" || page.Users[1].ID != "@c:x" {
		t.Errorf("page window mismatch: got %v, %v", page.Users[0].ID, page.Users[1].ID)
	}
}

func TestGetUsersPaginate_InvalidOrder(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetUsersPaginate(context.Background(), "admin; DROP TABLE users", 0, 10)
	if err == nil {
		t.Fatal("expected error for non-allow-listed order column")
	}
}

func TestSearchUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedUsers(t, s, "@alice:example.org", "@bob:example.org")
	err := s.UpsertUser(ctx, &User{ID: "@carol:example.org", DisplayName: "Alison"})
	if err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	users, err := s.SearchUsers(ctx, "ali")
	if err != nil {
		t.Fatalf("SearchUsers failed: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(users))
	}
	// Matches on ID and display name, ordered by user ID.
	if users[0].ID != "@alice:example.org" || users[1].ID != "@carol:example.org" {
		t.Errorf("match order mismatch: got %v, %v", users[0].ID, users[1].ID)
	}
}

func TestServerAdminBit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, "@alice:example.org")

	admin, err := s.IsServerAdmin(ctx, "@alice:example.org")
	if err != nil {
		t.Fatalf("IsServerAdmin failed: %v", err)
	}
	if admin {
		t.Error("expected fresh user to not be admin")
	}

	if err := s.SetServerAdmin(ctx, "@alice:example.org", true); err != nil {
		t.Fatalf("SetServerAdmin failed: %v", err)
	}

	admin, err = s.IsServerAdmin(ctx, "@alice:example.org")
	if err != nil {
		t.Fatalf("IsServerAdmin failed: %v", err)
	}
	if !admin {
		t.Error("expected admin bit set")
	}
}

func TestServerAdminBit_UnknownUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.IsServerAdmin(ctx, "@ghost:example.org")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("IsServerAdmin: expected ErrUserNotFound, got %v", err)
	}

	err = s.SetServerAdmin(ctx, "@ghost:example.org", true)
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SetServerAdmin: expected ErrUserNotFound, got %v", err)
	}
}

func TestUserSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	early := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	if err := s.RecordUserSession(ctx, "@alice:example.org", "10.0.0.1", "curl/8.0", early); err != nil {
		t.Fatalf("RecordUserSession failed: %v", err)
	}
	if err := s.RecordUserSession(ctx, "@alice:example.org", "10.0.0.2", "hearth-web", late); err != nil {
		t.Fatalf("RecordUserSession failed: %v", err)
	}

	// Same (ip, agent) pair refreshes last_seen instead of duplicating.
	refreshed := late.Add(time.Hour)
	if err := s.RecordUserSession(ctx, "@alice:example.org", "10.0.0.1", "curl/8.0", refreshed); err != nil {
		t.Fatalf("RecordUserSession failed: %v", err)
	}

	sessions, err := s.GetUserIPAndAgents(ctx, "@alice:example.org")
	if err != nil {
		t.Fatalf("GetUserIPAndAgents failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	// Most recent first.
	if sessions[0].IP != "10.0.0.1" || !sessions[0].LastSeen.Equal(refreshed) {
		t.Errorf("first session mismatch: %+v", sessions[0])
	}
	if sessions[1].IP != "10.0.0.2" {
		t.Errorf("second session mismatch: %+v", sessions[1])
	}
}
