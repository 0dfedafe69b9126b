package kube

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/cache"

	"github.com/convergekit/convergekit/controller"
)

func TestStoreReaderGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := cache.NewStore(cache.MetaNamespaceKeyFunc)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "web",
			Namespace: "default",
		},
	}
	require.NoError(t, store.Add(deployment))

	reader := NewStoreReader[*appsv1.Deployment](store)

	obj, found, err := reader.Get(ctx, controller.Key{Kind: "Deployment", Namespace: "default", Name: "web"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "web", obj.Name)
}

func TestStoreReaderMissIsNotAnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := cache.NewStore(cache.MetaNamespaceKeyFunc)
	reader := NewStoreReader[*appsv1.Deployment](store)

	obj, found, err := reader.Get(ctx, controller.Key{Kind: "Deployment", Namespace: "default", Name: "gone"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, obj)
}

func TestStoreReaderClusterScopedKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := cache.NewStore(cache.MetaNamespaceKeyFunc)

	node := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "worker-1"},
	}
	require.NoError(t, store.Add(node))

	reader := NewStoreReader[*corev1.Node](store)

	obj, found, err := reader.Get(ctx, controller.Key{Kind: "Node", Name: "worker-1"})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "worker-1", obj.Name)
}

func TestStoreReaderWrongType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := cache.NewStore(cache.MetaNamespaceKeyFunc)

	require.NoError(t, store.Add(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"},
	}))

	reader := NewStoreReader[*appsv1.Deployment](store)

	_, found, err := reader.Get(ctx, controller.Key{Kind: "Deployment", Namespace: "default", Name: "web"})
	require.Error(t, err)
	assert.False(t, found)
	assert.Contains(t, err.Error(), "unexpected object type")
}
