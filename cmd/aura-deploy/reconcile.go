package main

import (
	"context"
	"errors"
	"time"

	"github.com/aura-ops/aura-deploy/internal/cleanup"
	"github.com/aura-ops/aura-deploy/internal/config"
	"github.com/aura-ops/aura-deploy/internal/conflict"
	"github.com/aura-ops/aura-deploy/internal/controlplane"
	"github.com/aura-ops/aura-deploy/internal/deployment"
	"github.com/aura-ops/aura-deploy/internal/notify"
	"github.com/aura-ops/aura-deploy/internal/reconciler"
	"github.com/spf13/cobra"
)

var (
	flagImageTag    string
	flagForce       bool
	flagNoWait      bool
	flagCleanup     bool
	flagWaitTimeout time.Duration
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <environment> <kind>",
	Short: "Deploy one service kind into an environment",
	Long: `Reconcile renders the kind's task definition with the given image tag,
registers it as a new revision and creates or updates the service.

Deploying a kind while services of another kind are active is blocked.
Pass --cleanup to drain and remove the conflicting services first, or
--force to deploy alongside them.`,
	Args: cobra.ExactArgs(2),
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&flagImageTag, "image-tag", "", "image tag to deploy (required)")
	reconcileCmd.Flags().BoolVar(&flagForce, "force", false, "skip the conflict gate")
	reconcileCmd.Flags().BoolVar(&flagNoWait, "no-wait", false, "do not wait for the service to stabilize")
	reconcileCmd.Flags().BoolVar(&flagCleanup, "cleanup", false, "drain and remove conflicting services, then prune old revisions")
	reconcileCmd.Flags().DurationVar(&flagWaitTimeout, "wait-timeout", 0, "override the stabilization wait budget")
	_ = reconcileCmd.MarkFlagRequired("image-tag")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	app.serveMetrics(ctx)

	env, err := app.environment(args[0])
	if err != nil {
		return err
	}
	kind, err := deployment.ParseKind(args[1])
	if err != nil {
		return err
	}
	spec, err := deployment.SpecFor(kind)
	if err != nil {
		return err
	}

	budget := flagWaitTimeout
	if budget <= 0 {
		if budget, err = app.waitBudgetFor(spec); err != nil {
			return err
		}
	}

	client, err := app.client(ctx, env)
	if err != nil {
		return err
	}

	rec := reconciler.New(client, env, app.logger,
		reconciler.WithMetrics(app.metrics),
		reconciler.WithPollInterval(app.cfg.PollInterval),
	)
	opts := reconciler.Options{
		ImageTag:      flagImageTag,
		Force:         flagForce,
		WaitForStable: !flagNoWait,
		WaitBudget:    budget,
	}

	result, err := rec.Reconcile(ctx, kind, opts)
	if errors.Is(err, conflict.ErrConflictDetected) && flagCleanup {
		if err := cleanupConflicting(ctx, app, client, env.ClusterName, kind); err != nil {
			return err
		}
		result, err = rec.Reconcile(ctx, kind, opts)
	}

	notifyResult(ctx, app, env, result)
	if err != nil {
		return err
	}

	app.logger.Info().
		Str("service", result.ServiceName).
		Str("outcome", string(result.Outcome)).
		Int("revision", result.Revision).
		Str("address", result.PublicAddress).
		Msg("reconcile finished")

	if flagCleanup {
		eng := cleanup.New(client, app.logger,
			cleanup.WithPollInterval(app.cfg.PollInterval),
			cleanup.WithMetrics(app.metrics),
		)
		if err := eng.PruneTaskDefinitions(ctx, deployment.TaskFamilies(), cleanup.RetainedRevisions); err != nil {
			return err
		}
	}

	// A stabilization timeout surfaces after the rollout was submitted and
	// notified; the exit code still has to tell CI the watch gave up.
	if result.Err != nil {
		return result.Err
	}
	return nil
}

func cleanupConflicting(ctx context.Context, app *app, client controlplane.Client, cluster string, kind deployment.Kind) error {
	detector := conflict.New(client, app.logger)
	conflicting, _, err := detector.Detect(ctx, cluster, kind)
	if err != nil {
		return err
	}
	if len(conflicting) == 0 {
		return nil
	}

	app.logger.Info().Strs("services", conflicting).Msg("removing conflicting services")
	eng := cleanup.New(client, app.logger,
		cleanup.WithPollInterval(app.cfg.PollInterval),
		cleanup.WithMetrics(app.metrics),
	)
	return eng.Cleanup(ctx, cluster, conflicting)
}

func notifyResult(ctx context.Context, app *app, env config.Environment, result reconciler.Result) {
	notifier := notify.NewSlackNotifier(app.logger, app.cfg.SlackWebhookURL)
	event := notify.Event{
		Environment:      string(env.Name),
		Kind:             result.Kind,
		ServiceName:      result.ServiceName,
		Outcome:          result.Outcome,
		Revision:         result.Revision,
		PreviousRevision: result.PreviousRevision,
		PublicAddress:    result.PublicAddress,
		Err:              result.Err,
	}
	if err := notifier.Notify(ctx, event); err != nil {
		app.logger.Warn().Err(err).Msg("notification failed")
	}
}
