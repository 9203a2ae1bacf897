// ABOUTME: Directory-backed export sink writing JSONL events and JSON state
// ABOUTME: Produces one subdirectory per room plus a manifest on completion

package export

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"maunium.net/go/mautrix/id"

	"github.com/hearthchat/hearth-admin/internal/store"
)

// eventJSON is the serialized form of an exported event.
type eventJSON struct {
	EventID        id.EventID      `json:"event_id"`
	RoomID         id.RoomID       `json:"room_id"`
	Sender         id.UserID       `json:"sender"`
	Type           string          `json:"type"`
	StateKey       *string         `json:"state_key,omitempty"`
	PrevEventIDs   []id.EventID    `json:"prev_events"`
	StreamOrdering int64           `json:"stream_ordering"`
	Content        json.RawMessage `json:"content"`
	Unsigned       json.RawMessage `json:"unsigned,omitempty"`
}

func toEventJSON(ev *store.Event) eventJSON {
	return eventJSON{
		EventID:        ev.ID,
		RoomID:         ev.RoomID,
		Sender:         ev.Sender,
		Type:           ev.Type,
		StateKey:       ev.StateKey,
		PrevEventIDs:   ev.PrevEventIDs,
		StreamOrdering: ev.StreamOrdering,
		Content:        ev.Content,
		Unsigned:       ev.Unsigned,
	}
}

// inviteJSON is the serialized form of an exported invite.
type inviteJSON struct {
	Event eventJSON             `json:"event"`
	State []store.StrippedState `json:"invite_room_state"`
}

// manifestJSON summarizes a completed export.
type manifestJSON struct {
	Rooms   int `json:"rooms"`
	Events  int `json:"events"`
	States  int `json:"state_snapshots"`
	Invites int `json:"invites"`
}

// DirSink writes an export under a root directory: one subdirectory per room
// holding events.jsonl, state_<event_id>.json snapshots and invite.json.
// Finished writes manifest.json and returns the root path.
type DirSink struct {
	root   string
	logger *slog.Logger

	rooms   map[id.RoomID]struct{}
	events  int
	states  int
	invites int
}

var _ Sink = (*DirSink)(nil)

// NewDirSink creates the root directory and returns a sink writing into it.
func NewDirSink(root string, logger *slog.Logger) (*DirSink, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSink{
		root:   root,
		logger: logger.With("component", "export-sink"),
		rooms:  make(map[id.RoomID]struct{}),
	}, nil
}

// sanitizePathComponent makes a Matrix identifier safe as a file name.
func sanitizePathComponent(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(s)
}

// roomDir returns (and creates) the directory for a room.
func (d *DirSink) roomDir(roomID id.RoomID) (string, error) {
	dir := filepath.Join(d.root, "rooms", sanitizePathComponent(string(roomID)))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating room directory: %w", err)
	}
	d.rooms[roomID] = struct{}{}
	return dir, nil
}

// WriteEvents appends the batch to the room's events.jsonl, one event per line.
func (d *DirSink) WriteEvents(roomID id.RoomID, events []*store.Event) error {
	if len(events) == 0 {
		return nil
	}

	dir, err := d.roomDir(roomID)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening events file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, ev := range events {
		if err := enc.Encode(toEventJSON(ev)); err != nil {
			return fmt.Errorf("encoding event %s: %w", ev.ID, err)
		}
	}

	d.events += len(events)
	return nil
}

// WriteState writes one extremity state snapshot, events sorted by
// (type, state key) for stable output.
func (d *DirSink) WriteState(roomID id.RoomID, eventID id.EventID, state store.StateMap) error {
	dir, err := d.roomDir(roomID)
	if err != nil {
		return err
	}

	tuples := make([]store.StateTuple, 0, len(state))
	for tuple := range state {
		tuples = append(tuples, tuple)
	}
	sort.Slice(tuples, func(i, j int) bool {
		if tuples[i].EventType != tuples[j].EventType {
			return tuples[i].EventType < tuples[j].EventType
		}
		return tuples[i].StateKey < tuples[j].StateKey
	})

	serialized := make([]eventJSON, 0, len(tuples))
	for _, tuple := range tuples {
		serialized = append(serialized, toEventJSON(state[tuple]))
	}

	data, err := json.MarshalIndent(serialized, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state at %s: %w", eventID, err)
	}

	name := fmt.Sprintf("state_%s.json", sanitizePathComponent(string(eventID)))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}

	d.states++
	return nil
}

// WriteInvite writes the invite event and its stripped state as invite.json.
func (d *DirSink) WriteInvite(roomID id.RoomID, invite *store.Event, state []store.StrippedState) error {
	dir, err := d.roomDir(roomID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(inviteJSON{Event: toEventJSON(invite), State: state}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding invite for %s: %w", roomID, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "invite.json"), data, 0644); err != nil {
		return fmt.Errorf("writing invite file: %w", err)
	}

	d.invites++
	return nil
}

// Finished writes the manifest and returns the export root path.
func (d *DirSink) Finished() (any, error) {
	manifest := manifestJSON{
		Rooms:   len(d.rooms),
		Events:  d.events,
		States:  d.states,
		Invites: d.invites,
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.root, "manifest.json"), data, 0644); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	d.logger.Info("export finished",
		"root", d.root,
		"rooms", manifest.Rooms,
		"events", manifest.Events,
		"state_snapshots", manifest.States,
		"invites", manifest.Invites,
	)
	return d.root, nil
}
