// ABOUTME: Default event visibility predicate for the admin surface
// ABOUTME: Drops rejected and soft-failed events from export batches

package visibility

import (
	"context"
	"log/slog"

	"maunium.net/go/mautrix/id"

	"github.com/hearthchat/hearth-admin/internal/store"
)

// Filter is the visibility predicate the server wires into the exporter.
// It drops events the homeserver rejected or soft-failed; the full per-user
// history-visibility rules live on the homeserver side and are out of scope
// here, which is why the exporter takes the predicate as an interface.
type Filter struct {
	logger *slog.Logger
}

// New creates a Filter.
func New(logger *slog.Logger) *Filter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{logger: logger.With("component", "visibility")}
}

// FilterEventsForClient returns the subset of events the user may see,
// preserving order.
func (f *Filter) FilterEventsForClient(ctx context.Context, userID id.UserID, events []*store.Event) ([]*store.Event, error) {
	visible := make([]*store.Event, 0, len(events))
	for _, ev := range events {
		if ev.Rejected || ev.SoftFailed() {
			f.logger.Debug("dropping event", "event_id", ev.ID, "user_id", userID)
			continue
		}
		visible = append(visible, ev)
	}
	return visible, nil
}
