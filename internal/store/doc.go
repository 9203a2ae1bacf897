// Package store provides persistent storage for hearth-admin using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with specialized
// interfaces:
//
//   - TokenStore: Admin token lifecycle and per-endpoint permission rulesets
//   - UserStore: User records, server-admin bits, and session/IP history
//   - RoomStore: Room events, state snapshots, and membership history
//
// SQLiteStore implements all interfaces in a single struct, allowing easy
// composition while maintaining clear interface boundaries.
//
// # Data Models
//
// Token models:
//
//   - AdminToken: Opaque bearer token with creator, description, and expiry
//   - PermissionRuleset: endpoint -> action -> allowed map plus token state
//
// User models:
//
//   - User: Account record with display name, admin bit, deactivation flag
//   - UserSession: One (IP, user agent) pair with first/last seen timestamps
//
// Room models:
//
//   - Event: Room event with prev-event links and stream ordering
//   - StateMap: (event type, state key) -> state event snapshot
//   - RoomMembership: Append-only membership change log entries
//   - StreamToken: Position in a room's event stream for pagination
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrTokenNotFound: Admin token does not exist
//   - ErrUserNotFound: User record does not exist
//   - ErrEventNotFound: Room event does not exist
//
// Unknown and expired tokens are not distinguished: both yield a
// PermissionRuleset whose State is TokenStateNonExistent.
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore with a t.TempDir() path for tests; schema creation is
// automatic on open.
package store
