// ABOUTME: User-history exporter walking each room's event timeline
// ABOUTME: Streams filtered events to a sink and emits state at extremities

package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/hearthchat/hearth-admin/internal/store"
)

// defaultPageSize is the timeline pagination window per fetch.
const defaultPageSize = 100

// exportMemberships are the membership states that make a room part of a
// user's export.
var exportMemberships = []event.Membership{
	event.MembershipJoin,
	event.MembershipLeave,
	event.MembershipBan,
	event.MembershipInvite,
}

// Sink receives the exported data. Calls for a room's events always precede
// that room's state calls; rooms follow membership-record order. A partial
// export is a valid prefix: the exporter never retracts a delivered call.
type Sink interface {
	// WriteEvents delivers a batch of timeline events for a room.
	WriteEvents(roomID id.RoomID, events []*store.Event) error

	// WriteState delivers the room state at one backward extremity. It is
	// only called for extremities, never per event.
	WriteState(roomID id.RoomID, eventID id.EventID, state store.StateMap) error

	// WriteInvite delivers an invite the user never acted on, with the
	// stripped state that came with it.
	WriteInvite(roomID id.RoomID, invite *store.Event, state []store.StrippedState) error

	// Finished is called once all rooms are processed. Its result becomes
	// the export's result.
	Finished() (any, error)
}

// MembershipSource answers which rooms a user has touched and how.
type MembershipSource interface {
	RoomsForUserWhereMembershipIs(ctx context.Context, userID id.UserID, memberships []event.Membership) ([]*store.RoomMembership, error)
	RoomsUserHasBeenIn(ctx context.Context, userID id.UserID) (map[id.RoomID]struct{}, error)
	DidForget(ctx context.Context, userID id.UserID, roomID id.RoomID) (bool, error)
}

// TimelineSource provides paginated event retrieval per room.
type TimelineSource interface {
	GetEvent(ctx context.Context, eventID id.EventID) (*store.Event, error)
	RoomMaxStreamOrdering(ctx context.Context) (int64, error)
	PaginateRoomEvents(ctx context.Context, roomID id.RoomID, from, to store.StreamToken, limit int) ([]*store.Event, store.StreamToken, error)
}

// StateSource reconstructs room state at a given event.
type StateSource interface {
	StateForEvent(ctx context.Context, eventID id.EventID) (store.StateMap, error)
}

// VisibilityFilter reduces a batch of events to the subset a user may see.
type VisibilityFilter interface {
	FilterEventsForClient(ctx context.Context, userID id.UserID, events []*store.Event) ([]*store.Event, error)
}

// Exporter drives a complete export of everything a user is entitled to see.
// Rooms are processed strictly sequentially, one fully before the next, so
// all mutable state stays call-local and sink ordering is deterministic.
type Exporter struct {
	memberships MembershipSource
	timeline    TimelineSource
	state       StateSource
	filter      VisibilityFilter
	logger      *slog.Logger
	pageSize    int
}

// New creates an Exporter over the given sources.
func New(memberships MembershipSource, timeline TimelineSource, state StateSource, filter VisibilityFilter, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		memberships: memberships,
		timeline:    timeline,
		state:       state,
		filter:      filter,
		logger:      logger.With("component", "export"),
		pageSize:    defaultPageSize,
	}
}

// Export writes all data held on the user to the sink and returns whatever
// the sink's Finished returns. A failure partway through leaves the sink
// with a valid but incomplete prefix; there is no rollback.
func (e *Exporter) Export(ctx context.Context, userID id.UserID, sink Sink) (any, error) {
	rooms, err := e.memberships.RoomsForUserWhereMembershipIs(ctx, userID, exportMemberships)
	if err != nil {
		return nil, fmt.Errorf("fetching memberships for %s: %w", userID, err)
	}

	// Timeline pagination only yields anything for rooms the user actually
	// entered; bare invites are handled separately below.
	beenIn, err := e.memberships.RoomsUserHasBeenIn(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetching joined rooms for %s: %w", userID, err)
	}

	for index, room := range rooms {
		e.logger.Info("handling room",
			"user_id", userID,
			"room_id", room.RoomID,
			"room", index+1,
			"total", len(rooms),
		)

		forgotten, err := e.memberships.DidForget(ctx, userID, room.RoomID)
		if err != nil {
			return nil, fmt.Errorf("checking forgotten room %s: %w", room.RoomID, err)
		}
		if forgotten {
			e.logger.Info("user forgot room, ignoring", "user_id", userID, "room_id", room.RoomID)
			continue
		}

		if _, ok := beenIn[room.RoomID]; !ok {
			if room.Membership == event.MembershipInvite {
				if err := e.exportInvite(ctx, room, sink); err != nil {
					return nil, err
				}
			}
			// A leave or ban without ever joining leaves nothing to export.
			continue
		}

		if err := e.exportRoom(ctx, userID, room, sink); err != nil {
			return nil, err
		}
	}

	return sink.Finished()
}

// exportInvite writes a pending invite with its stripped room state. A
// missing invite event is skipped silently.
func (e *Exporter) exportInvite(ctx context.Context, room *store.RoomMembership, sink Sink) error {
	invite, err := e.timeline.GetEvent(ctx, room.EventID)
	if errors.Is(err, store.ErrEventNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching invite event %s: %w", room.EventID, err)
	}

	invitedState, err := invite.InviteRoomState()
	if err != nil {
		return err
	}
	if err := sink.WriteInvite(room.RoomID, invite, invitedState); err != nil {
		return fmt.Errorf("writing invite for %s: %w", room.RoomID, err)
	}
	return nil
}

// exportRoom paginates one room's timeline, streams visible events to the
// sink and finally emits state at every backward extremity.
func (e *Exporter) exportRoom(ctx context.Context, userID id.UserID, room *store.RoomMembership, sink Sink) error {
	// Only fetch events up to the point the user last had access. A current
	// join exports up to "now"; any other membership stops at the stream
	// position where access was lost.
	var bound int64
	if room.Membership == event.MembershipJoin {
		var err error
		bound, err = e.timeline.RoomMaxStreamOrdering(ctx)
		if err != nil {
			return fmt.Errorf("fetching max stream ordering: %w", err)
		}
	} else {
		bound = room.StreamOrdering
	}

	from := store.StreamToken{Topological: 0, Stream: 0}
	to := store.StreamToken{Topological: store.UnboundedTopological, Stream: bound}

	tracker := newExtremityTracker()

	// Fetch all events in the window and filter afterwards. Pagination
	// exhaustion is the sole termination signal.
	for {
		page, next, err := e.timeline.PaginateRoomEvents(ctx, room.RoomID, from, to, e.pageSize)
		if err != nil {
			return fmt.Errorf("paginating room %s: %w", room.RoomID, err)
		}
		if len(page) == 0 {
			break
		}

		// Advance past the last unfiltered event so the next fetch makes
		// progress regardless of how much the filter drops.
		from = next

		visible, err := e.filter.FilterEventsForClient(ctx, userID, page)
		if err != nil {
			return fmt.Errorf("filtering events in %s: %w", room.RoomID, err)
		}

		if err := sink.WriteEvents(room.RoomID, visible); err != nil {
			return fmt.Errorf("writing events for %s: %w", room.RoomID, err)
		}

		for _, ev := range visible {
			tracker.observe(ev)
		}

		e.logger.Info("written events", "room_id", room.RoomID, "count", tracker.writtenCount())
	}

	// Extremities are events with at least one prev the sink never saw,
	// whether outside the window or dropped by the visibility filter. Emit
	// the room state at each so history can be reconstructed there.
	for _, eventID := range tracker.extremities() {
		state, err := e.state.StateForEvent(ctx, eventID)
		if err != nil {
			return fmt.Errorf("fetching state at %s: %w", eventID, err)
		}
		if err := sink.WriteState(room.RoomID, eventID, state); err != nil {
			return fmt.Errorf("writing state for %s: %w", room.RoomID, err)
		}
	}

	return nil
}
