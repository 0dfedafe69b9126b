package controller

import "context"

// EventType describes what happened to a watched object.
type EventType string

// Watch event types.
const (
	Added    EventType = "Added"
	Modified EventType = "Modified"
	Deleted  EventType = "Deleted"
)

// Event is a single change observed on a watched collection. The controller
// core only reads Key; Object is carried for mappers.
type Event[T any] struct {
	Type   EventType
	Key    Key
	Object T
}

// Source produces a live stream of change events for one resource collection.
//
// Run delivers events through send until the stream ends. A nil return means
// graceful termination (context cancelled or source exhausted); a non-nil
// return is a fatal transport failure and stops the whole controller. Run is
// called at most once.
type Source[T any] interface {
	Run(ctx context.Context, send func(Event[T])) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc[T any] func(ctx context.Context, send func(Event[T])) error

// Run implements Source.
func (f SourceFunc[T]) Run(ctx context.Context, send func(Event[T])) error {
	return f(ctx, send)
}

// MapFunc relates a secondary object to the primary object it targets. It
// must be pure and non-blocking: it runs inline on the watch path. Returning
// ok = false drops the event silently; malformed or missing references are
// not errors.
type MapFunc[S any] func(obj S) (Key, bool)
