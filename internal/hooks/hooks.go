// Package hooks implements the lifecycle notification points consumed by the
// versioning engine. Handlers can veto the operation that triggered them by
// returning ErrCancel before any row is touched.
package hooks

import (
	"context"
	"errors"

	"github.com/rpattn/verstore/internal/domain"
)

// Event identifies a lifecycle notification point.
type Event string

const (
	// Saving fires before any save work, for every save path.
	Saving Event = "saving"
	// Updating fires before a chain-extending save opens its transaction.
	Updating Event = "updating"
	// Updated fires after a chain-extending save commits.
	Updated Event = "updated"
	// Creating fires before an archived snapshot row is inserted. A veto at
	// this point rolls back the whole transaction.
	Creating Event = "creating"
)

// ErrCancel is returned by a handler to veto the triggering operation.
var ErrCancel = errors.New("operation cancelled by hook")

// Hook observes one lifecycle event for one record.
type Hook func(ctx context.Context, rec *domain.Record) error

// Registry dispatches lifecycle events to registered handlers. It is not
// safe for concurrent registration; register everything during wiring.
type Registry struct {
	handlers map[Event][]Hook
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Event][]Hook)}
}

// On registers a handler for an event. Handlers run in registration order.
func (r *Registry) On(event Event, hook Hook) {
	r.handlers[event] = append(r.handlers[event], hook)
}

// Notify runs every handler for the event, stopping at the first error.
func (r *Registry) Notify(ctx context.Context, event Event, rec *domain.Record) error {
	if r == nil {
		return nil
	}
	for _, hook := range r.handlers[event] {
		if err := hook(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
