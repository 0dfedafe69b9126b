package app

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/convergekit/convergekit/controller"
)

func TestDeploymentReconcilerSchedulesPeriodicRequeue(t *testing.T) {
	t.Parallel()

	replicas := int32(3)
	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"},
		Spec:       appsv1.DeploymentSpec{Replicas: &replicas},
	}

	r := newDeploymentReconciler(logr.Discard(), time.Hour)

	result, err := r.Reconcile(context.Background(), controller.Key{
		Kind:      "Deployment",
		Namespace: "default",
		Name:      "web",
	}, deploy)

	require.NoError(t, err)
	assert.Equal(t, time.Hour, result.RequeueAfter)
}

func TestDeploymentReconcilerToleratesNilReplicas(t *testing.T) {
	t.Parallel()

	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"},
	}

	r := newDeploymentReconciler(logr.Discard(), time.Minute)

	result, err := r.Reconcile(context.Background(), controller.Key{
		Kind:      "Deployment",
		Namespace: "default",
		Name:      "web",
	}, deploy)

	require.NoError(t, err)
	assert.Equal(t, time.Minute, result.RequeueAfter)
}
