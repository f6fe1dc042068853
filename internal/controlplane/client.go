// Package controlplane is the typed surface over the remote cluster control
// plane. It holds no local state: every read is a fresh snapshot and every
// side effect lands remotely.
package controlplane

import (
	"context"
	"time"

	"github.com/aura-ops/aura-deploy/internal/taskdef"
)

// ServiceStatus is the observed lifecycle state of a service.
type ServiceStatus string

const (
	StatusActive   ServiceStatus = "ACTIVE"
	StatusDraining ServiceStatus = "DRAINING"
	StatusPending  ServiceStatus = "PENDING"
	StatusInactive ServiceStatus = "INACTIVE"
	StatusMissing  ServiceStatus = "MISSING"
)

// ServiceState is a point-in-time snapshot of one service. Snapshots must
// never be cached across a wait loop; poll loops re-fetch before every
// decision.
type ServiceState struct {
	ServiceName  string
	Status       ServiceStatus
	DesiredCount int
	RunningCount int
	PendingCount int
}

// TaskDefinitionRevision identifies one registered revision in an append-only
// family chain. Deregistering a revision never affects running tasks that
// reference it.
type TaskDefinitionRevision struct {
	Family       string
	ARN          string
	Revision     int
	RegisteredAt time.Time
}

// NetworkConfig is the awsvpc-style network placement for a new service.
type NetworkConfig struct {
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP bool
}

// CreateServiceInput carries everything needed to create a service.
type CreateServiceInput struct {
	ServiceName       string
	TaskDefinitionARN string
	DesiredCount      int
	Network           NetworkConfig
}

// Client is the control-plane call surface. Implementations retry transient
// transport errors internally with bounded exponential backoff; all other
// errors propagate to the caller unmodified.
type Client interface {
	// DescribeService returns a fresh snapshot, or ErrServiceNotFound.
	DescribeService(ctx context.Context, cluster, name string) (ServiceState, error)

	// ListServices returns the names of all services on the cluster.
	ListServices(ctx context.Context, cluster string) ([]string, error)

	// RegisterTaskDefinition registers a new revision. The family chain is
	// append-only: re-registering identical content is safe but wasteful.
	RegisterTaskDefinition(ctx context.Context, def taskdef.Definition) (TaskDefinitionRevision, error)

	// CreateService creates a service with the given placement.
	CreateService(ctx context.Context, cluster string, in CreateServiceInput) error

	// UpdateService points an existing service at a new task definition.
	// The control plane performs its own rolling replacement.
	UpdateService(ctx context.Context, cluster, name, taskDefinitionARN string) error

	// ScaleService sets the desired task count.
	ScaleService(ctx context.Context, cluster, name string, desired int) error

	// DeleteService deletes a drained service.
	DeleteService(ctx context.Context, cluster, name string) error

	// ListTaskDefinitionRevisions returns the active revisions of a family,
	// newest first.
	ListTaskDefinitionRevisions(ctx context.Context, family string) ([]TaskDefinitionRevision, error)

	// DeregisterTaskDefinition retires one revision.
	DeregisterTaskDefinition(ctx context.Context, arn string) error

	// ResolveTaskPublicAddress returns the public address of the first
	// running task, or "" (with nil error) when no task is running yet or
	// the task has no public address.
	ResolveTaskPublicAddress(ctx context.Context, cluster, serviceName string) (string, error)
}
