package kube

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/cache"

	"github.com/convergekit/convergekit/controller"
)

// Source adapts a shared informer into a controller watch source. Run owns
// the informer's lifecycle: it starts it, waits for the initial cache sync,
// and streams handler callbacks as change events until the context ends.
type Source[T runtime.Object] struct {
	informer cache.SharedIndexInformer
	kind     string
	logger   logr.Logger
}

// NewSource wraps informer as a watch source for objects of the given kind.
// The kind becomes the Kind field of every emitted key.
func NewSource[T runtime.Object](informer cache.SharedIndexInformer, kind string, logger logr.Logger) *Source[T] {
	return &Source[T]{
		informer: informer,
		kind:     kind,
		logger:   logger,
	}
}

// Store exposes the informer's backing store, suitable for NewStoreReader.
func (s *Source[T]) Store() cache.Store {
	return s.informer.GetStore()
}

// Run implements controller.Source. It returns nil when ctx is cancelled and
// an error when the watch cache cannot be established, which the controller
// treats as fatal.
func (s *Source[T]) Run(ctx context.Context, send func(controller.Event[T])) error {
	registration, err := s.informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc: func(obj any) {
			s.emit(send, controller.Added, obj)
		},
		UpdateFunc: func(_, newObj any) {
			s.emit(send, controller.Modified, newObj)
		},
		DeleteFunc: func(obj any) {
			s.emit(send, controller.Deleted, obj)
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to register event handler")
	}

	defer func() {
		_ = s.informer.RemoveEventHandler(registration)
	}()

	go s.informer.Run(ctx.Done())

	if !cache.WaitForCacheSync(ctx.Done(), s.informer.HasSynced) {
		if ctx.Err() != nil {
			return nil
		}

		return errors.Newf("failed to sync watch cache for %s", s.kind)
	}

	s.logger.V(1).Info("watch cache synced", "kind", s.kind)

	<-ctx.Done()

	return nil
}

// emit converts an informer callback into a typed change event. Objects of an
// unexpected type are dropped with a log line rather than propagated.
func (s *Source[T]) emit(send func(controller.Event[T]), eventType controller.EventType, obj any) {
	if tombstone, ok := obj.(cache.DeletedFinalStateUnknown); ok {
		obj = tombstone.Obj
	}

	typed, ok := obj.(T)
	if !ok {
		s.logger.Info("dropping event for unexpected object type", "kind", s.kind, "type", fmt.Sprintf("%T", obj))

		return
	}

	accessor, err := meta.Accessor(typed)
	if err != nil {
		s.logger.Error(err, "dropping event for object without metadata", "kind", s.kind)

		return
	}

	send(controller.Event[T]{
		Type: eventType,
		Key: controller.Key{
			Kind:      s.kind,
			Namespace: accessor.GetNamespace(),
			Name:      accessor.GetName(),
		},
		Object: typed,
	})
}
