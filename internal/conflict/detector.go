// Package conflict guards against two deployment kinds coexisting on one
// cluster. The kinds share ports and public subnets, so an ACTIVE service of
// another kind means this run would collide with it.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aura-ops/aura-deploy/internal/controlplane"
	"github.com/aura-ops/aura-deploy/internal/deployment"
	"github.com/rs/zerolog"
)

// ErrConflictDetected is the deliberate safety gate: services of a different
// kind are ACTIVE on the cluster. Non-retryable unless the caller forces.
var ErrConflictDetected = errors.New("conflicting services active on cluster")

// Detector classifies the fixed universe of service names against one
// requested kind.
type Detector struct {
	client controlplane.Client
	logger zerolog.Logger
}

// New constructs a Detector.
func New(client controlplane.Client, logger zerolog.Logger) *Detector {
	return &Detector{
		client: client,
		logger: logger.With().Str("component", "conflict").Logger(),
	}
}

// Detect enumerates every known service name across all kinds and reports
// which ACTIVE services belong to a different kind, plus whether the
// requested kind's own service is already ACTIVE (an update, not a create).
func (d *Detector) Detect(ctx context.Context, cluster string, kind deployment.Kind) (conflicting []string, targetExisting bool, err error) {
	target, err := deployment.SpecFor(kind)
	if err != nil {
		return nil, false, err
	}

	for _, spec := range deployment.Specs() {
		state, err := d.client.DescribeService(ctx, cluster, spec.ServiceName)
		if errors.Is(err, controlplane.ErrServiceNotFound) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("describe %s: %w", spec.ServiceName, err)
		}
		if state.Status != controlplane.StatusActive {
			continue
		}

		if spec.ServiceName == target.ServiceName {
			targetExisting = true
			continue
		}
		conflicting = append(conflicting, spec.ServiceName)
	}

	sort.Strings(conflicting)

	d.logger.Debug().
		Str("cluster", cluster).
		Str("kind", kind.String()).
		Strs("conflicting", conflicting).
		Bool("target_existing", targetExisting).
		Msg("classified cluster services")

	return conflicting, targetExisting, nil
}

// GateError builds the error returned when conflicts block an unforced run.
func GateError(kind deployment.Kind, conflicting []string) error {
	return fmt.Errorf("%w: kind %s blocked by %v", ErrConflictDetected, kind, conflicting)
}
