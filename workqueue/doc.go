// Package workqueue implements a deduplicating, delay-capable work queue for
// level-triggered controllers.
//
// The queue holds opaque comparable items (typically object keys) and
// guarantees:
//
//   - One live entry per item: re-adding a queued item merges into the
//     existing entry instead of duplicating it, keeping the earlier due time.
//   - One in-flight delivery per item: an item handed out by Get is not
//     delivered again until Done is called for it. An Add that arrives while
//     the item is in flight marks it dirty, producing exactly one follow-up
//     delivery after Done.
//   - Delayed visibility: AddAfter holds an item until its due time. Held
//     items wake the queue through a single timer armed for the earliest due
//     time; nothing busy-polls.
//
// Delivery order among due items is earliest-due-first, ties broken by
// insertion order. Failure bookkeeping (Fail, NumRequeues, Forget) tracks the
// consecutive-failure streak per item so callers can derive retry delays; the
// queue itself attaches no meaning to the counter.
//
// # Shutdown
//
// ShutDown closes the queue: subsequent adds are ignored, items already due
// keep draining to Get callers, items still held for the future are discarded,
// and once the queue is empty every blocked Get returns shutdown = true.
// In-flight work is not interrupted.
package workqueue
