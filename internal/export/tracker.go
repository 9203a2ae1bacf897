// ABOUTME: Backward-extremity tracking over a room's causal event graph
// ABOUTME: Two-map dependency resolution between events and their unseen prevs

package export

import (
	"sort"

	"maunium.net/go/mautrix/id"

	"github.com/hearthchat/hearth-admin/internal/store"
)

// extremityTracker records which delivered events still reference
// predecessors that were never delivered. It is created fresh per room and
// discarded once the room's extremities have been emitted.
//
// Invariant: u is in unseenPrevs[e] exactly when e is in unseenToChildren[u].
type extremityTracker struct {
	written          map[id.EventID]struct{}
	unseenPrevs      map[id.EventID]map[id.EventID]struct{}
	unseenToChildren map[id.EventID]map[id.EventID]struct{}
}

func newExtremityTracker() *extremityTracker {
	return &extremityTracker{
		written:          make(map[id.EventID]struct{}),
		unseenPrevs:      make(map[id.EventID]map[id.EventID]struct{}),
		unseenToChildren: make(map[id.EventID]map[id.EventID]struct{}),
	}
}

// observe processes one delivered event, in delivery order: records which of
// its predecessors are still unseen, then resolves any events that were
// waiting on this one.
func (t *extremityTracker) observe(ev *store.Event) {
	var unseen map[id.EventID]struct{}
	for _, prev := range ev.PrevEventIDs {
		if _, ok := t.written[prev]; ok {
			continue
		}
		if unseen == nil {
			unseen = make(map[id.EventID]struct{})
		}
		unseen[prev] = struct{}{}
	}

	if len(unseen) > 0 {
		t.unseenPrevs[ev.ID] = unseen
		for prev := range unseen {
			children := t.unseenToChildren[prev]
			if children == nil {
				children = make(map[id.EventID]struct{})
				t.unseenToChildren[prev] = children
			}
			children[ev.ID] = struct{}{}
		}
	}

	// This event may itself be an unseen prev of earlier-delivered events;
	// resolve those now.
	for child := range t.unseenToChildren[ev.ID] {
		delete(t.unseenPrevs[child], ev.ID)
	}
	delete(t.unseenToChildren, ev.ID)

	t.written[ev.ID] = struct{}{}
}

// writtenCount returns how many events have been observed.
func (t *extremityTracker) writtenCount() int {
	return len(t.written)
}

// extremities returns the events that still reference at least one
// predecessor never delivered to the sink, sorted by event ID so emission
// order is deterministic.
func (t *extremityTracker) extremities() []id.EventID {
	var out []id.EventID
	for eventID, unseen := range t.unseenPrevs {
		if len(unseen) > 0 {
			out = append(out, eventID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
