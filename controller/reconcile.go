package controller

import (
	"context"
	"time"
)

// Result is the outcome of a successful reconcile invocation. The zero value
// means the object has converged and nothing further is scheduled.
type Result struct {
	// Requeue re-enqueues the key immediately, subject to queue fairness.
	Requeue bool

	// RequeueAfter schedules another reconciliation of the same key no
	// sooner than this duration from now. Takes precedence over Requeue.
	RequeueAfter time.Duration
}

// Reconciler converges one object toward its desired state. Implementations
// must be idempotent: the same key may be reconciled any number of times
// against current state, independent of which event triggered it.
//
// Reconciliations for distinct keys may run concurrently; for a single key
// they never overlap.
type Reconciler[T any] interface {
	Reconcile(ctx context.Context, key Key, obj T) (Result, error)
}

// Func adapts a function to the Reconciler interface.
type Func[T any] func(ctx context.Context, key Key, obj T) (Result, error)

// Reconcile implements Reconciler.
func (f Func[T]) Reconcile(ctx context.Context, key Key, obj T) (Result, error) {
	return f(ctx, key, obj)
}

// Reader fetches a fresh snapshot of an object by key. found = false means
// the object no longer exists, which the executor treats as "nothing to do",
// not as an error.
type Reader[T any] interface {
	Get(ctx context.Context, key Key) (obj T, found bool, err error)
}
