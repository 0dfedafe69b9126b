package kube

import (
	"context"

	"github.com/cockroachdb/errors"
	"k8s.io/client-go/tools/cache"

	"github.com/convergekit/convergekit/controller"
)

// StoreReader serves object snapshots from an informer store. The store is
// kept current by the informer's watch, so a read reflects the latest
// observed state rather than the payload of whichever event triggered the
// reconcile.
type StoreReader[T any] struct {
	store cache.Store
}

// NewStoreReader wraps a store whose keys follow the namespace/name
// convention of cache.MetaNamespaceKeyFunc.
func NewStoreReader[T any](store cache.Store) *StoreReader[T] {
	return &StoreReader[T]{store: store}
}

// Get implements controller.Reader. A missing object is reported as
// found = false, not as an error.
func (r *StoreReader[T]) Get(_ context.Context, key controller.Key) (T, bool, error) {
	var zero T

	storeKey := key.Name
	if key.Namespace != "" {
		storeKey = key.Namespace + "/" + key.Name
	}

	obj, exists, err := r.store.GetByKey(storeKey)
	if err != nil {
		return zero, false, errors.Wrapf(err, "failed to read store for %s", key)
	}

	if !exists {
		return zero, false, nil
	}

	typed, ok := obj.(T)
	if !ok {
		return zero, false, errors.Newf("unexpected object type %T in store for %s", obj, key)
	}

	return typed, true, nil
}
