package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

// fakeObj stands in for a watched cluster object.
type fakeObj struct {
	Name string
	Spec string
}

// chanSource replays events from a channel until the channel closes or the
// context ends.
type chanSource[T any] struct {
	ch chan Event[T]
}

func newChanSource[T any]() *chanSource[T] {
	return &chanSource[T]{ch: make(chan Event[T], 16)}
}

func (s *chanSource[T]) Run(ctx context.Context, send func(Event[T])) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.ch:
			if !ok {
				return nil
			}

			send(ev)
		}
	}
}

// mapReader serves object snapshots from an in-memory table.
type mapReader[T any] struct {
	mu   sync.Mutex
	objs map[Key]T
}

func newMapReader[T any]() *mapReader[T] {
	return &mapReader[T]{objs: make(map[Key]T)}
}

func (r *mapReader[T]) set(key Key, obj T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.objs[key] = obj
}

func (r *mapReader[T]) delete(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.objs, key)
}

func (r *mapReader[T]) Get(_ context.Context, key Key) (T, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj, ok := r.objs[key]

	return obj, ok, nil
}

func deploymentKey(name string) Key {
	return Key{Kind: "Deployment", Namespace: "default", Name: name}
}

func runController[T any](t *testing.T, c *Controller[T]) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- c.Run(ctx) }()

	return func() {
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("controller did not stop")
		}
	}
}

func TestReconcilesPrimaryEvents(t *testing.T) {
	t.Parallel()

	primary := newChanSource[*fakeObj]()
	reader := newMapReader[*fakeObj]()

	keyA := deploymentKey("a")
	keyB := deploymentKey("b")
	reader.set(keyA, &fakeObj{Name: "a", Spec: "current-a"})
	reader.set(keyB, &fakeObj{Name: "b", Spec: "current-b"})

	var (
		mu   sync.Mutex
		seen = make(map[Key]string)
	)

	reconciler := Func[*fakeObj](func(_ context.Context, key Key, obj *fakeObj) (Result, error) {
		mu.Lock()
		seen[key] = obj.Spec
		mu.Unlock()

		return Result{}, nil
	})

	c := New[*fakeObj](primary, reader, reconciler, Options{Workers: 2})
	stop := runController(t, c)

	defer stop()

	// The stale event payload must never reach the reconciler; only the
	// reader's current snapshot may.
	primary.ch <- Event[*fakeObj]{Type: Added, Key: keyA, Object: &fakeObj{Name: "a", Spec: "stale"}}
	primary.ch <- Event[*fakeObj]{Type: Modified, Key: keyB, Object: &fakeObj{Name: "b", Spec: "stale"}}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(seen) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "current-a", seen[keyA])
	assert.Equal(t, "current-b", seen[keyB])
}

func TestDeletedObjectIsDroppedWithoutReschedule(t *testing.T) {
	t.Parallel()

	primary := newChanSource[*fakeObj]()
	reader := newMapReader[*fakeObj]()
	key := deploymentKey("gone")

	var calls atomic.Int64

	reconciler := Func[*fakeObj](func(context.Context, Key, *fakeObj) (Result, error) {
		calls.Add(1)

		return Result{}, nil
	})

	c := New[*fakeObj](primary, reader, reconciler, Options{})
	stop := runController(t, c)

	defer stop()

	primary.ch <- Event[*fakeObj]{Type: Deleted, Key: key, Object: nil}

	require.Eventually(t, func() bool { return c.queue.Len() == 0 }, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
	assert.Zero(t, c.queue.NumRequeues(key))
}

func TestRequeueAfterRedeliversExactlyOnce(t *testing.T) {
	t.Parallel()

	fc := testingclock.NewFakeClock(time.Now())
	primary := newChanSource[*fakeObj]()
	reader := newMapReader[*fakeObj]()
	key := deploymentKey("a")
	reader.set(key, &fakeObj{Name: "a"})

	invocations := make(chan time.Time, 8)

	var calls int

	var mu sync.Mutex

	reconciler := Func[*fakeObj](func(context.Context, Key, *fakeObj) (Result, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()

		invocations <- time.Now()

		if first {
			return Result{RequeueAfter: 5 * time.Second}, nil
		}

		return Result{}, nil
	})

	c := New[*fakeObj](primary, reader, reconciler, Options{Clock: fc})
	stop := runController(t, c)

	defer stop()

	primary.ch <- Event[*fakeObj]{Type: Added, Key: key, Object: nil}

	select {
	case <-invocations:
	case <-time.After(5 * time.Second):
		t.Fatal("first reconcile never happened")
	}

	// Held for 5 fake seconds: no redelivery while the clock stands still.
	select {
	case <-invocations:
		t.Fatal("key redelivered before RequeueAfter elapsed")
	case <-time.After(100 * time.Millisecond):
	}

	require.Eventually(t, fc.HasWaiters, time.Second, 5*time.Millisecond)
	fc.Step(5 * time.Second)

	select {
	case <-invocations:
	case <-time.After(5 * time.Second):
		t.Fatal("key not redelivered after RequeueAfter elapsed")
	}

	// Exactly once.
	select {
	case <-invocations:
		t.Fatal("key delivered a third time")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestErrorPolicyRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	primary := newChanSource[*fakeObj]()
	reader := newMapReader[*fakeObj]()
	key := deploymentKey("flaky")
	reader.set(key, &fakeObj{Name: "flaky"})

	var (
		mu       sync.Mutex
		calls    int
		attempts []int
	)

	policy := func(_ Key, _ error, attempt int) time.Duration {
		mu.Lock()
		attempts = append(attempts, attempt)
		mu.Unlock()

		return time.Millisecond
	}

	succeeded := make(chan struct{})

	reconciler := Func[*fakeObj](func(context.Context, Key, *fakeObj) (Result, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		if n <= 3 {
			return Result{}, errors.New("transient failure")
		}

		close(succeeded)

		return Result{}, nil
	})

	c := New[*fakeObj](primary, reader, reconciler, Options{ErrorPolicy: policy})
	stop := runController(t, c)

	defer stop()

	primary.ch <- Event[*fakeObj]{Type: Added, Key: key, Object: nil}

	select {
	case <-succeeded:
	case <-time.After(5 * time.Second):
		t.Fatal("reconcile never succeeded")
	}

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	mu.Unlock()

	// The streak resets on the failure-to-success transition.
	require.Eventually(t, func() bool {
		return c.queue.NumRequeues(key) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSecondaryEventsMapToPrimaryKeys(t *testing.T) {
	t.Parallel()

	type scaler struct {
		Namespace  string
		TargetKind string
		TargetName string
	}

	primary := newChanSource[*fakeObj]()
	secondary := newChanSource[*scaler]()
	reader := newMapReader[*fakeObj]()

	key := deploymentKey("web")
	reader.set(key, &fakeObj{Name: "web", Spec: "fresh"})

	reconciled := make(chan *fakeObj, 8)

	reconciler := Func[*fakeObj](func(_ context.Context, _ Key, obj *fakeObj) (Result, error) {
		reconciled <- obj

		return Result{}, nil
	})

	c := New[*fakeObj](primary, reader, reconciler, Options{})

	Watch(c, "scaler", secondary, func(s *scaler) (Key, bool) {
		if s.TargetKind != "Deployment" {
			return Key{}, false
		}

		return Key{Kind: "Deployment", Namespace: s.Namespace, Name: s.TargetName}, true
	})

	stop := runController(t, c)
	defer stop()

	// Mismatched target kind: silently dropped.
	secondary.ch <- Event[*scaler]{
		Type:   Modified,
		Key:    Key{Kind: "Scaler", Namespace: "default", Name: "cron"},
		Object: &scaler{Namespace: "default", TargetKind: "StatefulSet", TargetName: "db"},
	}

	// Matching reference: reconciles the primary, fetched fresh.
	secondary.ch <- Event[*scaler]{
		Type:   Modified,
		Key:    Key{Kind: "Scaler", Namespace: "default", Name: "web-scaler"},
		Object: &scaler{Namespace: "default", TargetKind: "Deployment", TargetName: "web"},
	}

	select {
	case obj := <-reconciled:
		assert.Equal(t, "web", obj.Name)
		assert.Equal(t, "fresh", obj.Spec)
	case <-time.After(5 * time.Second):
		t.Fatal("mapped secondary event never triggered reconcile")
	}

	select {
	case obj := <-reconciled:
		t.Fatalf("unexpected reconcile of %q", obj.Name)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSourceFailureIsFatal(t *testing.T) {
	t.Parallel()

	primary := SourceFunc[*fakeObj](func(context.Context, func(Event[*fakeObj])) error {
		return errors.New("watch connection lost")
	})

	reconciler := Func[*fakeObj](func(context.Context, Key, *fakeObj) (Result, error) {
		return Result{}, nil
	})

	c := New[*fakeObj](primary, newMapReader[*fakeObj](), reconciler, Options{})

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch source")
	assert.Contains(t, err.Error(), "watch connection lost")
}

func TestContextCancelStopsGracefully(t *testing.T) {
	t.Parallel()

	primary := newChanSource[*fakeObj]()
	reconciler := Func[*fakeObj](func(context.Context, Key, *fakeObj) (Result, error) {
		return Result{}, nil
	})

	c := New[*fakeObj](primary, newMapReader[*fakeObj](), reconciler, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop on cancel")
	}
}

func TestNoOverlappingReconcilesPerKey(t *testing.T) {
	t.Parallel()

	primary := newChanSource[*fakeObj]()
	reader := newMapReader[*fakeObj]()

	keys := []Key{deploymentKey("a"), deploymentKey("b"), deploymentKey("c")}
	for _, k := range keys {
		reader.set(k, &fakeObj{Name: k.Name})
	}

	var (
		mu      sync.Mutex
		running = make(map[Key]bool)
		total   int
	)

	reconciler := Func[*fakeObj](func(_ context.Context, key Key, _ *fakeObj) (Result, error) {
		mu.Lock()
		require.False(t, running[key], "overlapping reconcile for %s", key)
		running[key] = true
		total++
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		running[key] = false
		mu.Unlock()

		return Result{}, nil
	})

	c := New[*fakeObj](primary, reader, reconciler, Options{Workers: 6})
	stop := runController(t, c)

	defer stop()

	for range 30 {
		for _, k := range keys {
			primary.ch <- Event[*fakeObj]{Type: Modified, Key: k, Object: nil}
		}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return total >= 3 && c.queue.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}
