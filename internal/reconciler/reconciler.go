// Package reconciler drives one service kind from its declared shape to a
// running deployment. A run is a single convergence pass: register the
// rendered task definition, create or update the service, and optionally
// wait for the control plane to report it stable.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aura-ops/aura-deploy/internal/conflict"
	"github.com/aura-ops/aura-deploy/internal/config"
	"github.com/aura-ops/aura-deploy/internal/controlplane"
	"github.com/aura-ops/aura-deploy/internal/deployment"
	"github.com/aura-ops/aura-deploy/internal/metrics"
	"github.com/aura-ops/aura-deploy/internal/taskdef"
	"github.com/aura-ops/aura-deploy/internal/waiter"
	"github.com/rs/zerolog"
)

// ErrStabilizationTimeout reports that the deployment was submitted but the
// service did not settle within its wait budget. The rollout keeps
// progressing remotely; the error only means this run stopped watching.
var ErrStabilizationTimeout = errors.New("service did not stabilize within wait budget")

const defaultPollInterval = 10 * time.Second

// Outcome is the terminal classification of one reconcile run.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Options tune a single reconcile run.
type Options struct {
	// ImageTag selects the image revision substituted into the template.
	ImageTag string
	// Force skips the conflict gate.
	Force bool
	// WaitForStable blocks until the service settles or the budget runs out.
	WaitForStable bool
	// WaitBudget overrides the service's default stabilization budget when
	// positive.
	WaitBudget time.Duration
}

// Result is what one reconcile run produced. Err carries soft failures such
// as a stabilization timeout that do not invalidate the submitted rollout.
type Result struct {
	ServiceName      string
	Kind             deployment.Kind
	Outcome          Outcome
	Revision         int
	PreviousRevision int
	TaskDefinition   string
	PublicAddress    string
	Err              error
}

// TemplateLoader reads a task-definition template body.
type TemplateLoader func(path string) ([]byte, error)

// Reconciler converges one service kind onto the cluster.
type Reconciler struct {
	client       controlplane.Client
	env          config.Environment
	detector     *conflict.Detector
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	loadTemplate TemplateLoader
	pollInterval time.Duration
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithTemplateLoader replaces the filesystem template loader.
func WithTemplateLoader(loader TemplateLoader) Option {
	return func(r *Reconciler) {
		if loader != nil {
			r.loadTemplate = loader
		}
	}
}

// WithPollInterval sets the stabilization re-check interval.
func WithPollInterval(interval time.Duration) Option {
	return func(r *Reconciler) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

// WithMetrics wires reconcile metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// New constructs a Reconciler bound to one environment.
func New(client controlplane.Client, env config.Environment, logger zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		client:       client,
		env:          env,
		detector:     conflict.New(client, logger),
		logger:       logger.With().Str("component", "reconciler").Logger(),
		loadTemplate: os.ReadFile,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one convergence pass for the given kind. The conflict gate
// runs before any mutating call, so a conflicting cluster is left untouched.
func (r *Reconciler) Reconcile(ctx context.Context, kind deployment.Kind, opts Options) (Result, error) {
	started := time.Now()
	result, err := r.reconcile(ctx, kind, opts)
	r.metrics.ObserveReconcileDuration(time.Since(started))
	r.metrics.IncOutcome(kind.String(), string(result.Outcome))
	if err != nil {
		err = fmt.Errorf("reconcile %s: %w", kind, err)
		result.Err = err
	}
	return result, err
}

func (r *Reconciler) reconcile(ctx context.Context, kind deployment.Kind, opts Options) (Result, error) {
	spec, err := deployment.SpecFor(kind)
	if err != nil {
		return Result{Kind: kind, Outcome: OutcomeFailed, Err: err}, err
	}

	result := Result{ServiceName: spec.ServiceName, Kind: kind, Outcome: OutcomeFailed}
	logger := r.logger.With().Str("service", spec.ServiceName).Str("image_tag", opts.ImageTag).Logger()

	if opts.Force {
		logger.Warn().Msg("conflict gate skipped by force")
	} else {
		conflicting, _, err := r.detector.Detect(ctx, r.env.ClusterName, kind)
		if err != nil {
			return r.failRemote(result, fmt.Errorf("conflict detection: %w", err))
		}
		if len(conflicting) > 0 {
			result.Outcome = OutcomeSkipped
			result.Err = conflict.GateError(kind, conflicting)
			return result, result.Err
		}
	}

	body, err := r.loadTemplate(spec.TemplatePath)
	if err != nil {
		return fail(result, fmt.Errorf("load template %s: %w", spec.TemplatePath, err))
	}

	rendered, err := taskdef.Render(body, taskdef.Vars{
		AccountID: r.env.AccountID,
		Region:    r.env.Region,
		ImageTag:  opts.ImageTag,
	})
	if err != nil {
		return fail(result, err)
	}

	def, err := taskdef.Parse(rendered)
	if err != nil {
		return fail(result, fmt.Errorf("parse rendered template %s: %w", spec.TemplatePath, err))
	}
	if def.Family != spec.TaskFamily {
		return fail(result, fmt.Errorf("template %s declares family %q, want %q", spec.TemplatePath, def.Family, spec.TaskFamily))
	}

	if previous, err := r.client.ListTaskDefinitionRevisions(ctx, spec.TaskFamily); err != nil {
		logger.Warn().Err(err).Msg("could not resolve previous revision")
	} else if len(previous) > 0 {
		result.PreviousRevision = previous[0].Revision
	}

	revision, err := r.client.RegisterTaskDefinition(ctx, def)
	if err != nil {
		return r.failRemote(result, fmt.Errorf("register task definition: %w", err))
	}
	result.Revision = revision.Revision
	result.TaskDefinition = revision.ARN
	logger.Info().Int("revision", revision.Revision).Msg("registered task definition")

	outcome, err := r.applyService(ctx, spec, revision.ARN, logger)
	if err != nil {
		return r.failRemote(result, err)
	}
	result.Outcome = outcome

	if opts.WaitForStable {
		budget := spec.WaitBudget
		if opts.WaitBudget > 0 {
			budget = opts.WaitBudget
		}
		if err := r.waitStable(ctx, spec, budget); err != nil {
			if errors.Is(err, waiter.ErrBudgetExceeded) {
				logger.Warn().Dur("budget", budget).Msg("stabilization budget exceeded, rollout continues remotely")
				result.Outcome = OutcomeFailed
				result.Err = ErrStabilizationTimeout
				return result, nil
			}
			return r.failRemote(result, err)
		}
		logger.Info().Msg("service stable")
	}

	if address, err := r.client.ResolveTaskPublicAddress(ctx, r.env.ClusterName, spec.ServiceName); err != nil {
		logger.Warn().Err(err).Msg("could not resolve public address")
	} else {
		result.PublicAddress = address
	}

	return result, nil
}

// applyService creates the service when it does not exist and otherwise
// points the existing one at the new revision.
func (r *Reconciler) applyService(ctx context.Context, spec deployment.ServiceSpec, arn string, logger zerolog.Logger) (Outcome, error) {
	state, err := r.client.DescribeService(ctx, r.env.ClusterName, spec.ServiceName)
	switch {
	case errors.Is(err, controlplane.ErrServiceNotFound):
		state = controlplane.ServiceState{Status: controlplane.StatusMissing}
	case err != nil:
		return OutcomeFailed, fmt.Errorf("describe %s: %w", spec.ServiceName, err)
	}

	if state.Status == controlplane.StatusMissing || state.Status == controlplane.StatusInactive {
		logger.Info().Msg("creating service")
		err := r.client.CreateService(ctx, r.env.ClusterName, controlplane.CreateServiceInput{
			ServiceName:       spec.ServiceName,
			TaskDefinitionARN: arn,
			DesiredCount:      spec.DesiredCount,
			Network: controlplane.NetworkConfig{
				Subnets:        r.env.PublicSubnetIDs,
				SecurityGroups: []string{r.env.SecurityGroupID},
				AssignPublicIP: true,
			},
		})
		if err != nil {
			return OutcomeFailed, fmt.Errorf("create service: %w", err)
		}
		return OutcomeCreated, nil
	}

	logger.Info().Msg("updating service")
	if err := r.client.UpdateService(ctx, r.env.ClusterName, spec.ServiceName, arn); err != nil {
		return OutcomeFailed, fmt.Errorf("update service: %w", err)
	}
	return OutcomeUpdated, nil
}

func (r *Reconciler) waitStable(ctx context.Context, spec deployment.ServiceSpec, budget time.Duration) error {
	return waiter.Wait(ctx, r.pollInterval, budget, func(ctx context.Context) (bool, error) {
		state, err := r.client.DescribeService(ctx, r.env.ClusterName, spec.ServiceName)
		if err != nil {
			return false, err
		}
		stable := state.Status == controlplane.StatusActive &&
			state.RunningCount == state.DesiredCount
		return stable, nil
	})
}

// fail marks a run failed without touching control-plane error counters.
func fail(result Result, err error) (Result, error) {
	result.Outcome = OutcomeFailed
	result.Err = err
	return result, err
}

// failRemote is fail plus the control-plane error counter. Cancellations are
// not counted as remote faults.
func (r *Reconciler) failRemote(result Result, err error) (Result, error) {
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		r.metrics.IncControlPlaneErrors()
	}
	return fail(result, err)
}
