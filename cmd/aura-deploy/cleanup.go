package main

import (
	"github.com/aura-ops/aura-deploy/internal/cleanup"
	"github.com/aura-ops/aura-deploy/internal/deployment"
	"github.com/spf13/cobra"
)

var flagPruneOnly bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <environment> <kind>",
	Short: "Remove services of other kinds and prune old task-definition revisions",
	Long: `Cleanup converges the cluster onto a single kind: every service that does
not belong to <kind> is scaled to zero, drained, and deleted. Old
task-definition revisions beyond the newest three are deregistered for
every family.

Cleanup is safe to re-run: an interrupted run resumes where it stopped.`,
	Args: cobra.ExactArgs(2),
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&flagPruneOnly, "prune-only", false, "only prune task-definition revisions, leave services alone")
}

func runCleanup(cmd *cobra.Command, args []string) error {
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
	keep, err := deployment.SpecFor(kind)
	if err != nil {
		return err
	}

	client, err := app.client(ctx, env)
	if err != nil {
		return err
	}
	eng := cleanup.New(client, app.logger,
		cleanup.WithPollInterval(app.cfg.PollInterval),
		cleanup.WithMetrics(app.metrics),
	)

	if !flagPruneOnly {
		var doomed []string
		for _, name := range deployment.ServiceNames() {
			if name != keep.ServiceName {
				doomed = append(doomed, name)
			}
		}
		app.logger.Info().Strs("services", doomed).Str("keep", keep.ServiceName).Msg("cleaning up cluster")
		if err := eng.Cleanup(ctx, env.ClusterName, doomed); err != nil {
			return err
		}
	}

	return eng.PruneTaskDefinitions(ctx, deployment.TaskFamilies(), cleanup.RetainedRevisions)
}
