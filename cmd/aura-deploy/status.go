package main

import (
	"errors"
	"fmt"

	"github.com/aura-ops/aura-deploy/internal/controlplane"
	"github.com/aura-ops/aura-deploy/internal/deployment"
	"github.com/aura-ops/aura-deploy/internal/status"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <environment> <kind>",
	Short: "Show a deployed service's state and probe its health paths",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	app, err := newApp(cmd)
	if err != nil {
		return err
	}

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

	client, err := app.client(ctx, env)
	if err != nil {
		return err
	}

	state, err := client.DescribeService(ctx, env.ClusterName, spec.ServiceName)
	if errors.Is(err, controlplane.ErrServiceNotFound) {
		fmt.Printf("%s: not deployed\n", spec.ServiceName)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s (%d/%d running, %d pending)\n",
		state.ServiceName, state.Status, state.RunningCount, state.DesiredCount, state.PendingCount)

	report, err := status.New(client, app.logger).Report(ctx, env.ClusterName, spec.ServiceName, spec.ContainerPort, spec.HealthPaths)
	if err != nil {
		return err
	}
	if report.Address == "" {
		fmt.Println("public address: none yet")
		return nil
	}

	fmt.Printf("public address: %s\n", report.Address)
	for _, path := range spec.HealthPaths {
		mark := "FAIL"
		if report.Paths[path] {
			mark = "ok"
		}
		fmt.Printf("  %s %s\n", mark, fmt.Sprintf("http://%s:%d%s", report.Address, spec.ContainerPort, path))
	}
	if !report.Healthy() {
		return fmt.Errorf("service %s is not healthy", spec.ServiceName)
	}
	return nil
}
