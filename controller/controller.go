package controller

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/convergekit/convergekit/metrics"
	"github.com/convergekit/convergekit/workqueue"
)

// PrimarySourceName labels enqueues produced by the primary watch stream.
const PrimarySourceName = "primary"

// Options configures a Controller.
type Options struct {
	// Workers is the reconcile worker pool size. Defaults to 1.
	Workers int

	// ErrorPolicy maps reconcile failures to retry delays. Defaults to
	// ConstantDelay(DefaultRetryDelay).
	ErrorPolicy ErrorPolicy

	// Logger receives controller lifecycle and failure logs. Defaults to
	// logr.Discard().
	Logger logr.Logger

	// Metrics receives instrumentation callbacks. Defaults to metrics.NewNoopCollector().
	Metrics metrics.Collector

	// Clock drives the work queue's delay timer. Defaults to the wall
	// clock; tests inject a fake.
	Clock clock.WithDelayedExecution
}

// keySource is a watch stream reduced to the keys it wants reconciled.
type keySource struct {
	name string
	run  func(ctx context.Context, enqueue func(Key)) error
}

// Controller keeps one class of primary objects converged by invoking a
// Reconciler for every key that needs attention. Keys come from the primary
// watch stream, from mapped secondary streams registered with Watch, and from
// the executor's own requeue decisions; the work queue deduplicates and
// rate-limits them.
type Controller[T any] struct {
	reader      Reader[T]
	reconciler  Reconciler[T]
	queue       *workqueue.Queue[Key]
	sources     []keySource
	workers     int
	errorPolicy ErrorPolicy
	logger      logr.Logger
	metrics     metrics.Collector
}

// New wires a controller from the primary watch source, an object reader and
// the application's reconciler.
func New[T any](primary Source[T], reader Reader[T], reconciler Reconciler[T], opts Options) *Controller[T] {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	if opts.ErrorPolicy == nil {
		opts.ErrorPolicy = ConstantDelay(DefaultRetryDelay)
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopCollector()
	}

	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	c := &Controller[T]{
		reader:      reader,
		reconciler:  reconciler,
		queue:       workqueue.NewWithClock[Key](opts.Clock),
		workers:     opts.Workers,
		errorPolicy: opts.ErrorPolicy,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}

	c.sources = append(c.sources, keySource{
		name: PrimarySourceName,
		run: func(ctx context.Context, enqueue func(Key)) error {
			return primary.Run(ctx, func(ev Event[T]) {
				enqueue(ev.Key)
			})
		},
	})

	return c
}

// Watch registers a secondary watch source whose events are related to
// primary keys through mapper. Events the mapper declines are dropped
// silently. Must be called before Run.
func Watch[T, S any](c *Controller[T], name string, src Source[S], mapper MapFunc[S]) {
	c.sources = append(c.sources, keySource{
		name: name,
		run: func(ctx context.Context, enqueue func(Key)) error {
			return src.Run(ctx, func(ev Event[S]) {
				if key, ok := mapper(ev.Object); ok {
					enqueue(key)
				}
			})
		},
	})
}

// Run starts the watch producers and the worker pool and blocks until all
// sources have terminated and in-flight reconciliations have finished.
//
// A source returning an error is fatal: the remaining sources are cancelled,
// the queue is shut down, and the error is returned once the workers have
// drained. Cancelling ctx stops the sources gracefully and returns nil.
func (c *Controller[T]) Run(ctx context.Context) error {
	defer c.queue.ShutDown()

	c.logger.Info("starting controller", "workers", c.workers, "sources", len(c.sources))

	group, sourceCtx := errgroup.WithContext(ctx)

	for _, src := range c.sources {
		group.Go(func() error {
			err := src.run(sourceCtx, func(key Key) { c.enqueue(sourceCtx, src.name, key) })
			if err != nil {
				return errors.Wrapf(err, "watch source %q failed", src.name)
			}

			return nil
		})
	}

	var workers sync.WaitGroup

	for range c.workers {
		workers.Add(1)

		go func() {
			defer workers.Done()

			c.runWorker(ctx)
		}()
	}

	err := group.Wait()

	c.queue.ShutDown()
	workers.Wait()

	c.logger.Info("controller stopped")

	return err
}

func (c *Controller[T]) enqueue(ctx context.Context, source string, key Key) {
	c.queue.Add(key)
	c.metrics.RecordEnqueue(ctx, source)
	c.metrics.SetQueueDepth(ctx, c.queue.Len())
}

func (c *Controller[T]) runWorker(ctx context.Context) {
	for {
		key, shutdown := c.queue.Get()
		if shutdown {
			return
		}

		c.process(ctx, key)
		c.metrics.SetQueueDepth(ctx, c.queue.Len())
	}
}

// process drives one dequeued key through fetch, reconcile and outcome
// handling. The queue's in-flight marker guarantees no other worker holds
// this key until Done.
func (c *Controller[T]) process(ctx context.Context, key Key) {
	logger := c.logger.WithValues("key", key.String())
	start := time.Now()

	obj, found, err := c.reader.Get(ctx, key)
	if err != nil {
		c.metrics.RecordReconcile(ctx, metrics.StatusError, time.Since(start))
		c.retry(ctx, key, errors.Wrap(err, "failed to fetch object"))

		return
	}

	if !found {
		// Deleted between enqueue and dequeue: nothing to converge.
		c.queue.Forget(key)
		c.queue.Done(key)
		c.metrics.RecordReconcile(ctx, metrics.StatusNotFound, time.Since(start))
		logger.V(1).Info("object gone, dropping key")

		return
	}

	result, err := c.reconciler.Reconcile(ctx, key, obj)
	if err != nil {
		c.metrics.RecordReconcile(ctx, metrics.StatusError, time.Since(start))
		c.retry(ctx, key, err)

		return
	}

	c.queue.Forget(key)
	c.queue.Done(key)
	c.metrics.RecordReconcile(ctx, metrics.StatusSuccess, time.Since(start))

	switch {
	case result.RequeueAfter > 0:
		c.queue.AddAfter(key, result.RequeueAfter)
	case result.Requeue:
		c.queue.Add(key)
	}
}

// retry reschedules a failed key after the delay the error policy dictates.
func (c *Controller[T]) retry(ctx context.Context, key Key, err error) {
	attempt := c.queue.Fail(key)
	delay := c.errorPolicy(key, err, attempt)

	c.queue.Done(key)
	c.queue.AddAfter(key, delay)
	c.metrics.RecordRetry(ctx, metrics.ClassifyError(err))

	c.logger.Error(err, "reconcile failed, retrying",
		"key", key.String(),
		"attempt", attempt,
		"retryAfter", delay,
	)
}
