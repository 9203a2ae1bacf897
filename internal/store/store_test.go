// ABOUTME: Tests for store data types and shared helpers
// ABOUTME: Covers stream tokens, permission rulesets and unsigned event metadata

package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStreamToken_String(t *testing.T) {
	topological := StreamToken{Topological: 3, Stream: 42}
	if got := topological.String(); got != "t3-42" {
		t.Errorf("topological token: got %q, want %q", got, "t3-42")
	}

	streamOnly := StreamToken{Topological: UnboundedTopological, Stream: 7}
	if got := streamOnly.String(); got != "s7" {
		t.Errorf("stream-only token: got %q, want %q", got, "s7")
	}
}

func TestPermissionRuleset_Allows(t *testing.T) {
	ruleset := &PermissionRuleset{
		State: TokenStateExists,
		Permissions: map[string]map[string]bool{
			"users": {"GET": true, "PUT": false},
		},
	}

	if !ruleset.Allows("users", "GET") {
		t.Error("expected GET users to be allowed")
	}
	if ruleset.Allows("users", "PUT") {
		t.Error("expected PUT users to be denied")
	}
	if ruleset.Allows("users", "DELETE") {
		t.Error("expected unmentioned action to be denied")
	}
	if ruleset.Allows("tokens", "GET") {
		t.Error("expected unmentioned endpoint to be denied")
	}

	var nilRuleset *PermissionRuleset
	if nilRuleset.Allows("users", "GET") {
		t.Error("expected nil ruleset to deny everything")
	}
}

func TestEvent_InviteRoomState(t *testing.T) {
	ev := &Event{
		ID: "$invite",
		Unsigned: json.RawMessage(`{
			"invite_room_state": [
				{"type": "m.room.name", "state_key": "", "sender": "@alice:example.org", "content": {"name": "Ops"}}
			]
		}`),
	}

	state, err := ev.InviteRoomState()
	if err != nil {
		t.Fatalf("InviteRoomState failed: %v", err)
	}
	if len(state) != 1 {
		t.Fatalf("expected 1 stripped event, got %d", len(state))
	}
	if state[0].Type != "m.room.name" {
		t.Errorf("Type mismatch: got %q", state[0].Type)
	}
	if state[0].Sender != "@alice:example.org" {
		t.Errorf("Sender mismatch: got %q", state[0].Sender)
	}
}

func TestEvent_InviteRoomState_Empty(t *testing.T) {
	ev := &Event{ID: "$bare"}

	state, err := ev.InviteRoomState()
	if err != nil {
		t.Fatalf("InviteRoomState failed: %v", err)
	}
	if state != nil {
		t.Errorf("expected nil state, got %v", state)
	}
}

func TestEvent_SoftFailed(t *testing.T) {
	soft := &Event{Unsigned: json.RawMessage(`{"soft_failed": true}`)}
	if !soft.SoftFailed() {
		t.Error("expected soft_failed event to report true")
	}

	normal := &Event{Unsigned: json.RawMessage(`{}`)}
	if normal.SoftFailed() {
		t.Error("expected normal event to report false")
	}

	bare := &Event{}
	if bare.SoftFailed() {
		t.Error("expected event without unsigned to report false")
	}
}
