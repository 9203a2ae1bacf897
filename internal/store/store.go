// ABOUTME: Store interfaces and data types for the hearth admin surface
// ABOUTME: Defines events, memberships, admin tokens and permission rulesets

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ErrEventNotFound is returned when a requested event does not exist.
var ErrEventNotFound = errors.New("event not found")

// ErrUserNotFound is returned when a requested user does not exist.
var ErrUserNotFound = errors.New("user not found")

// ErrTokenNotFound is returned when a requested admin token does not exist.
var ErrTokenNotFound = errors.New("admin token not found")

// UnboundedTopological marks a stream token with no topological component,
// i.e. a pure stream position.
const UnboundedTopological int64 = -1

// StreamToken marks a position in a room's event timeline. Pagination windows
// are half-open over the stream component: (from, to].
type StreamToken struct {
	Topological int64 // UnboundedTopological when the token is stream-only
	Stream      int64
}

// String renders the token in the homeserver's wire shape: "t<topo>-<stream>"
// for topological tokens, "s<stream>" otherwise.
func (t StreamToken) String() string {
	if t.Topological == UnboundedTopological {
		return fmt.Sprintf("s%d", t.Stream)
	}
	return fmt.Sprintf("t%d-%d", t.Topological, t.Stream)
}

// Event is a single event in a room's causal graph. Events are immutable
// once stored; PrevEventIDs point at the event's direct predecessors.
type Event struct {
	ID             id.EventID
	RoomID         id.RoomID
	Sender         id.UserID
	Type           string
	StateKey       *string
	PrevEventIDs   []id.EventID
	StreamOrdering int64
	Content        json.RawMessage
	Unsigned       json.RawMessage
	Rejected       bool
}

// StrippedState is the reduced form of a state event carried on invites,
// holding only the keys a prospective member is allowed to see.
type StrippedState struct {
	Type     string          `json:"type"`
	StateKey string          `json:"state_key"`
	Sender   id.UserID       `json:"sender"`
	Content  json.RawMessage `json:"content"`
}

// eventUnsigned is the subset of unsigned metadata the admin surface reads.
type eventUnsigned struct {
	InviteRoomState []StrippedState `json:"invite_room_state"`
	SoftFailed      bool            `json:"soft_failed"`
}

// InviteRoomState extracts the invite_room_state from the event's unsigned
// metadata. Returns nil when the event carries none.
func (e *Event) InviteRoomState() ([]StrippedState, error) {
	if len(e.Unsigned) == 0 {
		return nil, nil
	}
	var u eventUnsigned
	if err := json.Unmarshal(e.Unsigned, &u); err != nil {
		return nil, fmt.Errorf("parsing unsigned metadata of %s: %w", e.ID, err)
	}
	return u.InviteRoomState, nil
}

// SoftFailed reports whether the event was soft-failed by the homeserver.
func (e *Event) SoftFailed() bool {
	if len(e.Unsigned) == 0 {
		return false
	}
	var u eventUnsigned
	if err := json.Unmarshal(e.Unsigned, &u); err != nil {
		return false
	}
	return u.SoftFailed
}

// StateTuple identifies a piece of room state by event type and state key.
type StateTuple struct {
	EventType string
	StateKey  string
}

// StateMap is the state of a room at some event, keyed by (type, state_key).
type StateMap map[StateTuple]*Event

// RoomMembership records one membership transition of a user in a room.
// The row with the highest stream ordering per (user, room) is the user's
// current membership.
type RoomMembership struct {
	RoomID         id.RoomID
	UserID         id.UserID
	Membership     event.Membership
	EventID        id.EventID
	StreamOrdering int64
}

// TokenState distinguishes "token unknown" from "token known but denied".
type TokenState string

const (
	TokenStateExists      TokenState = "exists"
	TokenStateNonExistent TokenState = "nonexistent"
)

// PermissionRuleset is the per-token endpoint/action allow map consulted by
// the authorization gate. Owned by the store; readers never mutate it.
type PermissionRuleset struct {
	State       TokenState
	Permissions map[string]map[string]bool // endpoint -> action -> allowed
}

// Allows reports whether the ruleset grants the given action on the endpoint.
func (r *PermissionRuleset) Allows(endpoint, action string) bool {
	if r == nil {
		return false
	}
	return r.Permissions[endpoint][action]
}

// AdminToken is an issued admin credential. Tokens are immutable once
// created; revocation is a delete at the store.
type AdminToken struct {
	Token       string
	Creator     string
	Description string
	ValidUntil  time.Time
	CreatedAt   time.Time
}

// User is a local account on the homeserver.
type User struct {
	ID          id.UserID
	DisplayName string
	Admin       bool
	Deactivated bool
	CreatedAt   time.Time
}

// UserSession is one (ip, user agent) pair seen for a user, for whois.
type UserSession struct {
	IP        string
	UserAgent string
	LastSeen  time.Time
}

// UsersPage is one page of a paginated user listing plus the total count.
type UsersPage struct {
	Users []*User
	Total int
}

// TokenStore persists admin tokens and their permission rulesets.
type TokenStore interface {
	CreateAdminToken(ctx context.Context, validUntil time.Time, creator, description string) (string, error)
	GetPermissionsForToken(ctx context.Context, token string) (*PermissionRuleset, error)
	SetPermissionForToken(ctx context.Context, token, endpoint, action string, allowed bool) (bool, error)
	ListAdminTokens(ctx context.Context) ([]*AdminToken, error)
	DeleteAdminToken(ctx context.Context, token string) error
}

// UserStore answers user listing, search, admin-bit and whois lookups.
type UserStore interface {
	UpsertUser(ctx context.Context, u *User) error
	GetUsers(ctx context.Context) ([]*User, error)
	GetUsersPaginate(ctx context.Context, order string, start, limit int) (*UsersPage, error)
	SearchUsers(ctx context.Context, term string) ([]*User, error)
	IsServerAdmin(ctx context.Context, userID id.UserID) (bool, error)
	SetServerAdmin(ctx context.Context, userID id.UserID, admin bool) error
	RecordUserSession(ctx context.Context, userID id.UserID, ip, userAgent string, seenAt time.Time) error
	GetUserIPAndAgents(ctx context.Context, userID id.UserID) ([]*UserSession, error)
}

// RoomStore holds room timelines, state snapshots and membership records.
// The admin surface only reads; the write methods exist for the homeserver
// side of the deployment and for test fixtures.
type RoomStore interface {
	InsertEvent(ctx context.Context, ev *Event) error
	GetEvent(ctx context.Context, eventID id.EventID) (*Event, error)
	PaginateRoomEvents(ctx context.Context, roomID id.RoomID, from, to StreamToken, limit int) ([]*Event, StreamToken, error)
	RoomMaxStreamOrdering(ctx context.Context) (int64, error)
	SetStateForEvent(ctx context.Context, eventID id.EventID, stateEventIDs []id.EventID) error
	StateForEvent(ctx context.Context, eventID id.EventID) (StateMap, error)
	SetMembership(ctx context.Context, m *RoomMembership) error
	RoomsForUserWhereMembershipIs(ctx context.Context, userID id.UserID, memberships []event.Membership) ([]*RoomMembership, error)
	RoomsUserHasBeenIn(ctx context.Context, userID id.UserID) (map[id.RoomID]struct{}, error)
	SetForgotten(ctx context.Context, userID id.UserID, roomID id.RoomID) error
	DidForget(ctx context.Context, userID id.UserID, roomID id.RoomID) (bool, error)
}
