// Package export walks everything the server holds on a user and streams it
// into a Sink.
//
// # Walk Order
//
// For each room the user has ever been in, the exporter pages forward
// through the room's event stream up to the point the user left (or the
// room's current maximum, for joined rooms), filters each page through the
// visibility predicate, and hands visible events to the sink in stream
// order. Rooms the user was only invited to produce the invite event and
// its stripped room state instead of a timeline. Forgotten rooms are
// skipped entirely.
//
// # Backward Extremities
//
// While writing the timeline the exporter tracks events that reference a
// prev event the sink never received, whether because the server never had
// it or because the filter withheld it. After the timeline, the room state
// as of each such extremity is written so the export consumer can make
// sense of the gap. Extremities are emitted in event ID order.
//
// # Sinks
//
// DirSink writes a directory tree: one events.jsonl per room, one state
// file per extremity, invite.json for invite-only rooms, and a manifest
// with counts. Sink is an interface so alternative encodings can be wired
// in without touching the walk.
package export
