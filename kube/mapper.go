package kube

import (
	autoscalingv2 "k8s.io/api/autoscaling/v2"

	"github.com/convergekit/convergekit/controller"
)

// ScaleTargetMapper relates a HorizontalPodAutoscaler to the workload named
// by its scale target reference. Autoscalers targeting a different kind, or
// carrying an incomplete reference, map to nothing; the mapper never fails.
//
// The emitted key takes its namespace from the autoscaler itself, since scale
// target references are always namespace-local.
func ScaleTargetMapper(primaryKind string) controller.MapFunc[*autoscalingv2.HorizontalPodAutoscaler] {
	return func(hpa *autoscalingv2.HorizontalPodAutoscaler) (controller.Key, bool) {
		if hpa == nil {
			return controller.Key{}, false
		}

		ref := hpa.Spec.ScaleTargetRef
		if ref.Kind != primaryKind || ref.Name == "" {
			return controller.Key{}, false
		}

		return controller.Key{
			Kind:      primaryKind,
			Namespace: hpa.Namespace,
			Name:      ref.Name,
		}, true
	}
}
