// Package notify delivers deployment outcomes to external systems.
package notify

import (
	"context"

	"github.com/aura-ops/aura-deploy/internal/deployment"
	"github.com/aura-ops/aura-deploy/internal/reconciler"
)

// Event describes one finished reconcile run.
type Event struct {
	Environment      string
	Kind             deployment.Kind
	ServiceName      string
	Outcome          reconciler.Outcome
	Revision         int
	PreviousRevision int
	PublicAddress    string
	Err              error
}

// Notifier delivers deployment events to an external system.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}
