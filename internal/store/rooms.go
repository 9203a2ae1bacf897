// ABOUTME: Room timeline, state snapshot and membership store methods
// ABOUTME: Backs the user-history exporter's pagination and state lookups

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// eventColumns is the select list shared by the event queries.
const eventColumns = `event_id, room_id, sender, type, state_key, prev_event_ids, stream_ordering, content, unsigned, rejected`

// InsertEvent stores a new room event. PrevEventIDs are persisted as a JSON
// array; content defaults to {} when empty.
func (s *SQLiteStore) InsertEvent(ctx context.Context, ev *Event) error {
	prevJSON, err := json.Marshal(ev.PrevEventIDs)
	if err != nil {
		return fmt.Errorf("marshaling prev_event_ids: %w", err)
	}

	content := ev.Content
	if len(content) == 0 {
		content = json.RawMessage(`{}`)
	}

	var unsigned *string
	if len(ev.Unsigned) > 0 {
		str := string(ev.Unsigned)
		unsigned = &str
	}

	query := `
		INSERT INTO room_events (event_id, room_id, sender, type, state_key, prev_event_ids, stream_ordering, content, unsigned, rejected)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		string(ev.ID),
		string(ev.RoomID),
		string(ev.Sender),
		ev.Type,
		ev.StateKey,
		string(prevJSON),
		ev.StreamOrdering,
		string(content),
		unsigned,
		ev.Rejected,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("inserted event", "event_id", ev.ID, "room_id", ev.RoomID, "stream_ordering", ev.StreamOrdering)
	return nil
}

// scanEvent scans one event row.
func scanEvent(scanner interface{ Scan(dest ...any) error }) (*Event, error) {
	var ev Event
	var eventID, roomID, sender, prevJSON, content string
	var unsigned sql.NullString

	if err := scanner.Scan(
		&eventID,
		&roomID,
		&sender,
		&ev.Type,
		&ev.StateKey,
		&prevJSON,
		&ev.StreamOrdering,
		&content,
		&unsigned,
		&ev.Rejected,
	); err != nil {
		return nil, err
	}

	ev.ID = id.EventID(eventID)
	ev.RoomID = id.RoomID(roomID)
	ev.Sender = id.UserID(sender)
	ev.Content = json.RawMessage(content)
	if unsigned.Valid {
		ev.Unsigned = json.RawMessage(unsigned.String)
	}

	if err := json.Unmarshal([]byte(prevJSON), &ev.PrevEventIDs); err != nil {
		return nil, fmt.Errorf("unmarshaling prev_event_ids: %w", err)
	}

	return &ev, nil
}

// GetEvent retrieves a single event by ID.
func (s *SQLiteStore) GetEvent(ctx context.Context, eventID id.EventID) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM room_events WHERE event_id = ?`

	row := s.db.QueryRowContext(ctx, query, string(eventID))
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}
	return ev, nil
}

// PaginateRoomEvents returns up to limit events in (from, to] by stream
// ordering, oldest first, plus the cursor just past the last returned event.
// An empty page returns the from token unchanged.
func (s *SQLiteStore) PaginateRoomEvents(ctx context.Context, roomID id.RoomID, from, to StreamToken, limit int) ([]*Event, StreamToken, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + eventColumns + `
		FROM room_events
		WHERE room_id = ? AND stream_ordering > ? AND stream_ordering <= ?
		ORDER BY stream_ordering ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, string(roomID), from.Stream, to.Stream, limit)
	if err != nil {
		return nil, from, fmt.Errorf("querying room events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, from, fmt.Errorf("scanning room event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, from, fmt.Errorf("iterating room events: %w", err)
	}

	next := from
	if len(events) > 0 {
		next = StreamToken{Topological: from.Topological, Stream: events[len(events)-1].StreamOrdering}
	}
	return events, next, nil
}

// RoomMaxStreamOrdering returns the highest stream ordering across all rooms,
// zero when no events exist.
func (s *SQLiteStore) RoomMaxStreamOrdering(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(stream_ordering) FROM room_events`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying max stream ordering: %w", err)
	}
	return max.Int64, nil
}

// SetStateForEvent records the room state at an event as a set of state
// event IDs. The referenced events must already be stored.
func (s *SQLiteStore) SetStateForEvent(ctx context.Context, eventID id.EventID, stateEventIDs []id.EventID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_state WHERE event_id = ?`, string(eventID)); err != nil {
		return fmt.Errorf("clearing event state: %w", err)
	}

	for _, stateEventID := range stateEventIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO event_state (event_id, state_event_id) VALUES (?, ?)`,
			string(eventID), string(stateEventID),
		)
		if err != nil {
			return fmt.Errorf("inserting event state row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing event state: %w", err)
	}
	return nil
}

// StateForEvent reconstructs the room state at the given event, keyed by
// (event type, state key).
func (s *SQLiteStore) StateForEvent(ctx context.Context, eventID id.EventID) (StateMap, error) {
	query := `
		SELECT ` + prefixColumns(eventColumns, "e.") + `
		FROM event_state s
		JOIN room_events e ON e.event_id = s.state_event_id
		WHERE s.event_id = ?
		ORDER BY e.stream_ordering ASC
	`

	rows, err := s.db.QueryContext(ctx, query, string(eventID))
	if err != nil {
		return nil, fmt.Errorf("querying event state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	state := make(StateMap)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning state event: %w", err)
		}
		stateKey := ""
		if ev.StateKey != nil {
			stateKey = *ev.StateKey
		}
		state[StateTuple{EventType: ev.Type, StateKey: stateKey}] = ev
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state events: %w", err)
	}

	return state, nil
}

// prefixColumns qualifies each column in a comma-separated list with a table
// alias, for use in joins.
func prefixColumns(columns, prefix string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}

// SetMembership appends one membership transition for a user in a room.
func (s *SQLiteStore) SetMembership(ctx context.Context, m *RoomMembership) error {
	query := `
		INSERT INTO room_memberships (user_id, room_id, membership, event_id, stream_ordering)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		string(m.UserID),
		string(m.RoomID),
		string(m.Membership),
		string(m.EventID),
		m.StreamOrdering,
	)
	if err != nil {
		return fmt.Errorf("inserting membership: %w", err)
	}
	return nil
}

// RoomsForUserWhereMembershipIs returns the user's current membership record
// for each room where that membership is in the given list. The current
// record per room is the one with the highest stream ordering.
func (s *SQLiteStore) RoomsForUserWhereMembershipIs(ctx context.Context, userID id.UserID, memberships []event.Membership) ([]*RoomMembership, error) {
	if len(memberships) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?, ", len(memberships))
	placeholders = placeholders[:len(placeholders)-2]

	query := `
		SELECT m.user_id, m.room_id, m.membership, m.event_id, m.stream_ordering
		FROM room_memberships m
		JOIN (
			SELECT room_id, MAX(stream_ordering) AS max_stream
			FROM room_memberships
			WHERE user_id = ?
			GROUP BY room_id
		) latest ON latest.room_id = m.room_id AND latest.max_stream = m.stream_ordering
		WHERE m.user_id = ? AND m.membership IN (` + placeholders + `)
		ORDER BY m.room_id ASC
	`

	args := []any{string(userID), string(userID)}
	for _, membership := range memberships {
		args = append(args, string(membership))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*RoomMembership
	for rows.Next() {
		var m RoomMembership
		var uid, roomID, membership, eventID string
		if err := rows.Scan(&uid, &roomID, &membership, &eventID, &m.StreamOrdering); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		m.UserID = id.UserID(uid)
		m.RoomID = id.RoomID(roomID)
		m.Membership = event.Membership(membership)
		m.EventID = id.EventID(eventID)
		records = append(records, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memberships: %w", err)
	}

	return records, nil
}

// RoomsUserHasBeenIn returns the set of rooms the user has ever joined.
// Invite-only rooms the user never entered are not included.
func (s *SQLiteStore) RoomsUserHasBeenIn(ctx context.Context, userID id.UserID) (map[id.RoomID]struct{}, error) {
	query := `
		SELECT DISTINCT room_id
		FROM room_memberships
		WHERE user_id = ? AND membership = ?
	`

	rows, err := s.db.QueryContext(ctx, query, string(userID), string(event.MembershipJoin))
	if err != nil {
		return nil, fmt.Errorf("querying joined rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	rooms := make(map[id.RoomID]struct{})
	for rows.Next() {
		var roomID string
		if err := rows.Scan(&roomID); err != nil {
			return nil, fmt.Errorf("scanning room id: %w", err)
		}
		rooms[id.RoomID(roomID)] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating joined rooms: %w", err)
	}

	return rooms, nil
}

// SetForgotten marks a room as forgotten by the user.
func (s *SQLiteStore) SetForgotten(ctx context.Context, userID id.UserID, roomID id.RoomID) error {
	query := `
		INSERT INTO room_forgotten (user_id, room_id)
		VALUES (?, ?)
		ON CONFLICT (user_id, room_id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, string(userID), string(roomID)); err != nil {
		return fmt.Errorf("marking room forgotten: %w", err)
	}
	return nil
}

// DidForget reports whether the user has forgotten the room.
func (s *SQLiteStore) DidForget(ctx context.Context, userID id.UserID, roomID id.RoomID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_forgotten WHERE user_id = ? AND room_id = ?`,
		string(userID), string(roomID),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("querying forgotten room: %w", err)
	}
	return count > 0, nil
}
