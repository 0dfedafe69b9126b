package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/convergekit/convergekit/controller"
	"github.com/convergekit/convergekit/internal/app"
)

//nolint:gochecknoglobals // set by SetVersion from main
var (
	version = "development"
	gitsha  = "development"
)

func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

//nolint:gochecknoglobals // cobra command pattern
var rootCmd = &cobra.Command{
	Use:   "scaletarget-controller",
	Short: "Kubernetes controller that reconciles Deployments targeted by autoscalers",
	Long: `A Kubernetes controller that reconciles Deployments and re-triggers
reconciliation whenever a HorizontalPodAutoscaler whose scaleTargetRef points
at a Deployment changes.`,
	RunE:          runController,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	rootCmd.Flags().String("kubeconfig", "", "Path to kubeconfig (defaults to in-cluster config)")
	rootCmd.Flags().String("namespace", "", "Namespace to watch (empty for all namespaces)")
	rootCmd.Flags().Int("workers", 1, "Number of concurrent reconcile workers")
	rootCmd.Flags().Duration("retry-delay", controller.DefaultRetryDelay, "Delay before retrying a failed reconcile")
	rootCmd.Flags().Duration("requeue-interval", time.Hour, "Interval between periodic reconciles of converged objects")
	rootCmd.Flags().Duration("resync", 0, "Informer resync period (0 disables periodic resync)")
	rootCmd.Flags().String("metrics-addr", ":8080", "Address for metrics endpoint")

	_ = viper.BindPFlags(rootCmd.Flags())
	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetEnvPrefix("STC")
	viper.AutomaticEnv()

	viper.SetDefault("workers", 1)
	viper.SetDefault("retry-delay", controller.DefaultRetryDelay)
	viper.SetDefault("requeue-interval", time.Hour)
	viper.SetDefault("resync", time.Duration(0))
	viper.SetDefault("metrics-addr", ":8080")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "json")
}

func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo

	switch viper.GetString("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if viper.GetString("log-format") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

//nolint:noinlineerr // inline error handling is fine here
func runController(_ *cobra.Command, _ []string) error {
	logger := setupLogger()
	slog.SetDefault(logger)

	log := logr.FromSlogHandler(logger.Handler())

	logger.Info("starting scaletarget-controller",
		"version", version,
		"gitsha", gitsha,
	)

	workers := viper.GetInt("workers")
	if workers < 1 {
		return errors.Newf("workers must be at least 1, got %d", workers)
	}

	cfg := app.Config{
		Kubeconfig:      viper.GetString("kubeconfig"),
		Namespace:       viper.GetString("namespace"),
		Workers:         workers,
		RetryDelay:      viper.GetDuration("retry-delay"),
		RequeueInterval: viper.GetDuration("requeue-interval"),
		Resync:          viper.GetDuration("resync"),
		MetricsAddr:     viper.GetString("metrics-addr"),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx = logr.NewContext(ctx, log)

	if err := app.Run(ctx, &cfg); err != nil {
		return errors.Wrap(err, "failed to run controller")
	}

	return nil
}
