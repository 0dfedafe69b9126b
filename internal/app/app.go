// Package app wires the reconciliation core to a Kubernetes cluster.
// It builds the client, informers, and metrics endpoint, then runs a
// controller that reconciles Deployments and re-enqueues them when a
// HorizontalPodAutoscaler pointing at them changes.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	"k8s.io/client-go/informers"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/convergekit/convergekit/controller"
	"github.com/convergekit/convergekit/kube"
	"github.com/convergekit/convergekit/metrics"
)

const (
	primaryKind   = "Deployment"
	secondaryKind = "HorizontalPodAutoscaler"

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Config holds all configuration options for the controller.
// Values are typically populated from CLI flags or environment variables.
type Config struct {
	// Kubeconfig is the path to a kubeconfig file. If empty, in-cluster
	// configuration is tried first, then the default loading rules.
	Kubeconfig string

	// Namespace restricts watches to a single namespace.
	// Empty means all namespaces.
	Namespace string

	// Workers is the number of concurrent reconcile workers.
	Workers int

	// RetryDelay is the fixed delay before a failed reconcile is retried.
	RetryDelay time.Duration

	// RequeueInterval is the interval at which converged objects are
	// reconciled again.
	RequeueInterval time.Duration

	// Resync is the informer resync period. Zero disables periodic resync.
	Resync time.Duration

	// MetricsAddr is the address for the Prometheus metrics endpoint.
	MetricsAddr string
}

// Run initializes and starts the controller with the provided configuration.
// It blocks until the context is cancelled or a watch source fails.
//
// The function performs the following steps:
//  1. Builds the Kubernetes client from kubeconfig or in-cluster config
//  2. Creates shared informers for Deployments and HorizontalPodAutoscalers
//  3. Starts the Prometheus metrics endpoint
//  4. Runs the controller until shutdown
//
//nolint:funlen,noinlineerr // controller setup requires multiple steps
func Run(ctx context.Context, cfg *Config) error {
	logger := logr.FromContextOrDiscard(ctx).WithName("app")
	logger.Info("initializing controller")

	restCfg, err := buildRESTConfig(cfg.Kubeconfig)
	if err != nil {
		return err
	}

	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return errors.Wrap(err, "failed to create kubernetes client")
	}

	factory := informers.NewSharedInformerFactoryWithOptions(client, cfg.Resync,
		informers.WithNamespace(cfg.Namespace))

	deployments := kube.NewSource[*appsv1.Deployment](
		factory.Apps().V1().Deployments().Informer(),
		primaryKind,
		logger.WithName("source"),
	)
	autoscalers := kube.NewSource[*autoscalingv2.HorizontalPodAutoscaler](
		factory.Autoscaling().V2().HorizontalPodAutoscalers().Informer(),
		secondaryKind,
		logger.WithName("source"),
	)

	reader := kube.NewStoreReader[*appsv1.Deployment](deployments.Store())

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	metricsServer := startMetricsServer(cfg.MetricsAddr, registry, logger)
	defer stopMetricsServer(metricsServer, logger)

	reconciler := newDeploymentReconciler(logger.WithName("reconciler"), cfg.RequeueInterval)

	ctrl := controller.New[*appsv1.Deployment](deployments, reader, reconciler, controller.Options{
		Workers:     cfg.Workers,
		ErrorPolicy: controller.ConstantDelay(cfg.RetryDelay),
		Logger:      logger.WithName("controller"),
		Metrics:     collector,
	})
	controller.Watch(ctrl, "autoscalers", autoscalers, kube.ScaleTargetMapper(primaryKind))

	logger.Info("starting controller",
		"workers", cfg.Workers,
		"namespace", cfg.Namespace,
		"requeueInterval", cfg.RequeueInterval,
	)

	if err := ctrl.Run(ctx); err != nil {
		return errors.Wrap(err, "controller exited")
	}

	return nil
}

// buildRESTConfig resolves client configuration. An explicit kubeconfig path
// wins, then in-cluster config, then the default loading rules.
func buildRESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load kubeconfig")
		}

		return cfg, nil
	}

	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()

	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load client configuration")
	}

	return cfg, nil
}

func startMetricsServer(addr string, registry *prometheus.Registry, logger logr.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "metrics server failed")
		}
	}()

	return server
}

func stopMetricsServer(server *http.Server, logger logr.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error(err, "failed to shut down metrics server")
	}
}
