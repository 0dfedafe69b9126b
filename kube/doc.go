// Package kube provides client-go backed implementations of the controller
// package's external collaborators: a watch Source fed by a shared informer,
// a Reader that serves fresh snapshots from the informer's store, and the
// relation mapper for HorizontalPodAutoscaler scale target references.
//
// The informer's resync period doubles as the periodic, event-independent
// re-enqueue of all known keys; configure it on the informer factory.
package kube
