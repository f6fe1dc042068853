package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aura-ops/aura-deploy/internal/config"
	"github.com/aura-ops/aura-deploy/internal/controlplane"
	"github.com/aura-ops/aura-deploy/internal/deployment"
	"github.com/aura-ops/aura-deploy/internal/logging"
	"github.com/aura-ops/aura-deploy/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aura-deploy",
	Short: "Reconcile aura services onto their container clusters",
	Long: `aura-deploy converges one declared service shape (backend, frontend or
fullstack) onto the environment's container cluster: it renders the task
definition, registers a new revision, creates or updates the service, and
optionally waits until the rollout stabilizes.

Runs are idempotent: re-running with the same image tag converges to the
same cluster state.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	flagLogLevel    string
	flagLogJSON     bool
	flagInfraDir    string
	flagMetricsAddr string
)

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"aura-deploy version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "emit JSON logs instead of console output")
	rootCmd.PersistentFlags().StringVar(&flagInfraDir, "infra-dir", "", "directory holding infrastructure descriptors")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statusCmd)
}

// app is the shared wiring every subcommand starts from. Flags override
// environment configuration when set.
type app struct {
	cfg     config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON = flagLogJSON
	}
	if cmd.Flags().Changed("infra-dir") {
		cfg.InfraDir = flagInfraDir
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = flagMetricsAddr
	}

	return &app{
		cfg:     cfg,
		logger:  logging.New(cfg.LogLevel, cfg.LogJSON),
		metrics: metrics.New(),
	}, nil
}

func (a *app) environment(name string) (config.Environment, error) {
	envName, err := config.ParseEnvironmentName(name)
	if err != nil {
		return config.Environment{}, err
	}
	return config.LoadEnvironment(a.cfg.InfraDir, envName)
}

func (a *app) client(ctx context.Context, env config.Environment) (controlplane.Client, error) {
	return controlplane.NewECSClient(ctx, env.Region, a.logger)
}

// serveMetrics exposes /metrics until ctx is cancelled. A bind failure is
// logged, not fatal: a deploy must not die because the scrape port is busy.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	server := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		a.logger.Info().Str("addr", a.cfg.MetricsAddr).Msg("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
}

// waitBudgetFor resolves the stabilization budget for one service: the
// overrides file wins over the built-in default.
func (a *app) waitBudgetFor(spec deployment.ServiceSpec) (time.Duration, error) {
	overrides, err := config.LoadWaitOverrides(a.cfg.WaitOverridesPath)
	if err != nil {
		return 0, err
	}
	if budget, ok := overrides[spec.ServiceName]; ok {
		return budget, nil
	}
	return spec.WaitBudget, nil
}
