package app

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"

	"github.com/convergekit/convergekit/controller"
)

// deploymentReconciler observes Deployments and schedules a periodic
// re-reconcile. It carries no external state and serves as the default
// reconciler for the demo binary.
type deploymentReconciler struct {
	logger          logr.Logger
	requeueInterval time.Duration
}

func newDeploymentReconciler(logger logr.Logger, requeueInterval time.Duration) *deploymentReconciler {
	return &deploymentReconciler{
		logger:          logger,
		requeueInterval: requeueInterval,
	}
}

func (r *deploymentReconciler) Reconcile(
	_ context.Context,
	key controller.Key,
	obj *appsv1.Deployment,
) (controller.Result, error) {
	var replicas int32
	if obj.Spec.Replicas != nil {
		replicas = *obj.Spec.Replicas
	}

	r.logger.Info("reconciling deployment",
		"key", key.String(),
		"replicas", replicas,
		"readyReplicas", obj.Status.ReadyReplicas,
	)

	return controller.Result{RequeueAfter: r.requeueInterval}, nil
}
