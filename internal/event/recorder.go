// Package event builds the notifications emitted by the billing engine and
// the sweep, and records them: notifications are written to the
// activity.Store, then published to the in-process event bus for downstream
// consumers.
package event

import (
	"context"

	"github.com/matthewbaird/rentroll/internal/activity"
	"github.com/matthewbaird/rentroll/internal/types"
)

// Publisher sends notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, n types.Notification)
}

// ActivityRecorder is the billing engine's notification sink. It writes each
// notification to the activity store and, if a Publisher is set, publishes
// it after the write succeeds.
type ActivityRecorder struct {
	store activity.Store
	bus   Publisher
}

// NewActivityRecorder creates a new ActivityRecorder backed by the given store.
func NewActivityRecorder(store activity.Store) *ActivityRecorder {
	return &ActivityRecorder{store: store}
}

// SetPublisher attaches an event bus. Notifications are published after store writes.
func (r *ActivityRecorder) SetPublisher(p Publisher) {
	r.bus = p
}

// Notify persists and publishes a notification.
func (r *ActivityRecorder) Notify(ctx context.Context, n types.Notification) error {
	if err := r.store.Write(ctx, n); err != nil {
		return err
	}
	if r.bus != nil {
		r.bus.Publish(ctx, n)
	}
	return nil
}
