// Package cleanup drains and removes conflicting services and prunes stale
// task-definition revisions. Both paths converge to the same end state no
// matter how far along a previous interrupted run got.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aura-ops/aura-deploy/internal/controlplane"
	"github.com/aura-ops/aura-deploy/internal/deployment"
	"github.com/aura-ops/aura-deploy/internal/metrics"
	"github.com/aura-ops/aura-deploy/internal/waiter"
	"github.com/rs/zerolog"
)

const (
	defaultPollInterval = 10 * time.Second

	// Drain waits are unbounded by default. Deletion has no fixed SLA, so
	// only caller cancellation stops the wait unless WithDrainBudget caps it.
	defaultDrainBudget = 0

	// RetainedRevisions is how many of the newest active revisions survive
	// a prune, per family.
	RetainedRevisions = 3
)

// Engine removes services and stale task-definition revisions.
type Engine struct {
	client       controlplane.Client
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	pollInterval time.Duration
	drainBudget  time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPollInterval sets the state re-check interval for drain waits.
func WithPollInterval(interval time.Duration) Option {
	return func(e *Engine) {
		if interval > 0 {
			e.pollInterval = interval
		}
	}
}

// WithDrainBudget caps how long Cleanup waits for one service to drain.
func WithDrainBudget(budget time.Duration) Option {
	return func(e *Engine) {
		if budget > 0 {
			e.drainBudget = budget
		}
	}
}

// WithMetrics wires cleanup counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New constructs an Engine.
func New(client controlplane.Client, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		client:       client,
		logger:       logger.With().Str("component", "cleanup").Logger(),
		pollInterval: defaultPollInterval,
		drainBudget:  defaultDrainBudget,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cleanup removes the named services from the cluster. Each service is
// scaled to zero, waited on until no tasks remain, deleted, and waited on
// until the control plane reports it gone or inactive. Services already past
// a step are not pushed through it again.
func (e *Engine) Cleanup(ctx context.Context, cluster string, names []string) error {
	for _, name := range names {
		if err := e.cleanupService(ctx, cluster, name); err != nil {
			return fmt.Errorf("cleanup %s: %w", name, err)
		}
	}
	return nil
}

func (e *Engine) cleanupService(ctx context.Context, cluster, name string) error {
	logger := e.logger.With().Str("service", name).Logger()
	if kind, ok := deployment.KindForService(name); ok {
		logger = logger.With().Str("kind", string(kind)).Logger()
	}

	state, err := e.client.DescribeService(ctx, cluster, name)
	if errors.Is(err, controlplane.ErrServiceNotFound) {
		logger.Debug().Msg("service already gone")
		return nil
	}
	if err != nil {
		return err
	}

	switch state.Status {
	case controlplane.StatusInactive:
		logger.Debug().Msg("service already inactive")
		return nil
	case controlplane.StatusDraining, controlplane.StatusPending:
		// An interrupted run already issued the scale-down. Re-issuing it
		// would reset the drain, so only wait.
		logger.Info().Str("status", string(state.Status)).Msg("resuming drain wait")
	default:
		if state.DesiredCount > 0 {
			logger.Info().Int("desired", state.DesiredCount).Msg("scaling service to zero")
			if err := e.client.ScaleService(ctx, cluster, name, 0); err != nil {
				return err
			}
		}
	}

	if err := e.waitDrained(ctx, cluster, name); err != nil {
		return err
	}

	logger.Info().Msg("deleting drained service")
	if err := e.client.DeleteService(ctx, cluster, name); err != nil && !errors.Is(err, controlplane.ErrServiceNotFound) {
		return err
	}

	if err := e.waitGone(ctx, cluster, name); err != nil {
		return err
	}

	e.metrics.IncServicesCleaned()
	logger.Info().Msg("service removed")
	return nil
}

func (e *Engine) waitDrained(ctx context.Context, cluster, name string) error {
	return waiter.Wait(ctx, e.pollInterval, e.drainBudget, func(ctx context.Context) (bool, error) {
		state, err := e.client.DescribeService(ctx, cluster, name)
		if errors.Is(err, controlplane.ErrServiceNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return state.RunningCount == 0 && state.PendingCount == 0, nil
	})
}

func (e *Engine) waitGone(ctx context.Context, cluster, name string) error {
	return waiter.Wait(ctx, e.pollInterval, e.drainBudget, func(ctx context.Context) (bool, error) {
		state, err := e.client.DescribeService(ctx, cluster, name)
		if errors.Is(err, controlplane.ErrServiceNotFound) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return state.Status == controlplane.StatusInactive, nil
	})
}

// PruneTaskDefinitions retires all but the newest keep active revisions of
// each family. A keep of zero or less falls back to RetainedRevisions. A
// failed deregistration is logged and skipped so one stuck revision cannot
// block the rest.
func (e *Engine) PruneTaskDefinitions(ctx context.Context, families []string, keep int) error {
	if keep <= 0 {
		keep = RetainedRevisions
	}
	for _, family := range families {
		if err := e.pruneFamily(ctx, family, keep); err != nil {
			return fmt.Errorf("prune %s: %w", family, err)
		}
	}
	return nil
}

func (e *Engine) pruneFamily(ctx context.Context, family string, keep int) error {
	revisions, err := e.client.ListTaskDefinitionRevisions(ctx, family)
	if err != nil {
		return err
	}
	if len(revisions) <= keep {
		e.logger.Debug().Str("family", family).Int("revisions", len(revisions)).Msg("nothing to prune")
		return nil
	}

	pruned := 0
	for _, revision := range revisions[keep:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.client.DeregisterTaskDefinition(ctx, revision.ARN); err != nil {
			e.logger.Warn().Err(err).Str("arn", revision.ARN).Msg("deregister failed, skipping revision")
			continue
		}
		pruned++
	}

	e.metrics.AddPrunedRevisions(pruned)
	e.logger.Info().Str("family", family).Int("pruned", pruned).Int("kept", keep).Msg("pruned task definitions")
	return nil
}
