// Package controller implements the scheduling substrate of a level-triggered
// reconciliation loop: it turns unbounded, out-of-order watch events from a
// primary resource collection and any number of related secondary collections
// into a deduplicated, delay-capable, retried sequence of reconcile
// invocations.
//
// The moving parts:
//
//   - A primary Source streams change events for the managed objects; each
//     event enqueues that object's Key.
//   - Secondary Sources registered with Watch stream events for related
//     objects; a pure MapFunc relates each event to at most one primary Key.
//   - The work queue (package workqueue) merges all of these, guaranteeing
//     one live entry and one in-flight reconciliation per key.
//   - A fixed pool of workers pulls keys, fetches a fresh object snapshot
//     through the Reader, and invokes the application's Reconciler. The
//     triggering event's payload is never reconciled against; only current
//     state is.
//   - Failures are retried indefinitely with a delay chosen by the
//     ErrorPolicy; the per-key attempt counter resets on the first success.
//
// The package owns no transport and no serialization: sources and readers are
// collaborators supplied by the embedding application (see package kube for
// client-go backed implementations).
//
// A minimal wiring:
//
//	ctrl := controller.New(deployments, reader, controller.Func[*appsv1.Deployment](reconcile), controller.Options{
//		Workers: 2,
//	})
//	controller.Watch(ctrl, "hpa", autoscalers, kube.ScaleTargetMapper("Deployment"))
//	if err := ctrl.Run(ctx); err != nil {
//		// a watch source failed fatally
//	}
package controller
