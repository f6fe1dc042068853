package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aura-ops/aura-deploy/internal/conflict"
	"github.com/aura-ops/aura-deploy/internal/config"
	"github.com/aura-ops/aura-deploy/internal/controlplane"
	"github.com/aura-ops/aura-deploy/internal/deployment"
	"github.com/rs/zerolog"
)

const backendTemplate = `{
  "family": "aura-backend",
  "cpu": "256",
  "memory": "512",
  "networkMode": "awsvpc",
  "executionRoleArn": "arn:aws:iam::{{ACCOUNT_ID}}:role/aura-execution-role",
  "containerDefinitions": [
    {
      "name": "backend",
      "image": "{{ACCOUNT_ID}}.dkr.ecr.{{REGION}}.amazonaws.com/aura-backend:{{IMAGE_TAG}}",
      "essential": true,
      "portMappings": [{"containerPort": 8000}]
    }
  ]
}`

var testEnv = config.Environment{
	Name:            config.EnvDev,
	Region:          "us-east-1",
	AccountID:       "123456789012",
	ClusterName:     "aura-cluster",
	VPCID:           "vpc-0abc",
	PublicSubnetIDs: []string{"subnet-1", "subnet-2"},
	SecurityGroupID: "sg-0abc",
	LogGroup:        "/ecs/aura",
}

func templateFor(family string) TemplateLoader {
	return func(string) ([]byte, error) {
		return []byte(strings.ReplaceAll(backendTemplate, "aura-backend", family)), nil
	}
}

func newTestReconciler(fake *controlplane.Fake, kind deployment.Kind) *Reconciler {
	spec, _ := deployment.SpecFor(kind)
	return New(fake, testEnv, zerolog.Nop(),
		WithTemplateLoader(templateFor(spec.TaskFamily)),
		WithPollInterval(time.Millisecond),
	)
}

func TestReconcileCreatesMissingService(t *testing.T) {
	fake := controlplane.NewFake()
	rec := newTestReconciler(fake, deployment.KindBackend)

	result, err := rec.Reconcile(context.Background(), deployment.KindBackend, Options{ImageTag: "v1"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Outcome != OutcomeCreated {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeCreated)
	}
	if result.Revision != 1 || result.PreviousRevision != 0 {
		t.Errorf("revisions = %d/%d, want 1/0", result.Revision, result.PreviousRevision)
	}
	if got := fake.ServiceTaskDefinition("aura-backend-service"); got != result.TaskDefinition {
		t.Errorf("service points at %q, want %q", got, result.TaskDefinition)
	}
}

func TestReconcileUpdatesExistingService(t *testing.T) {
	fake := controlplane.NewFake()
	rec := newTestReconciler(fake, deployment.KindBackend)

	if _, err := rec.Reconcile(context.Background(), deployment.KindBackend, Options{ImageTag: "v1"}); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}

	result, err := rec.Reconcile(context.Background(), deployment.KindBackend, Options{ImageTag: "v2"})
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if result.Outcome != OutcomeUpdated {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeUpdated)
	}
	if result.Revision != 2 || result.PreviousRevision != 1 {
		t.Errorf("revisions = %d/%d, want 2/1", result.Revision, result.PreviousRevision)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	fake := controlplane.NewFake()
	rec := newTestReconciler(fake, deployment.KindFrontend)
	opts := Options{ImageTag: "v1"}

	first, err := rec.Reconcile(context.Background(), deployment.KindFrontend, opts)
	if err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	second, err := rec.Reconcile(context.Background(), deployment.KindFrontend, opts)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}

	if first.Outcome != OutcomeCreated {
		t.Errorf("first outcome = %q, want %q", first.Outcome, OutcomeCreated)
	}
	if second.Outcome != OutcomeUpdated {
		t.Errorf("second outcome = %q, want %q", second.Outcome, OutcomeUpdated)
	}
	// Same inputs register a new revision in the append-only chain but leave
	// the service shape unchanged.
	if second.Revision != first.Revision+1 {
		t.Errorf("second revision = %d, want %d", second.Revision, first.Revision+1)
	}
	state, err := fake.DescribeService(context.Background(), "aura-cluster", "aura-frontend-service")
	if err != nil {
		t.Fatalf("DescribeService: %v", err)
	}
	if state.DesiredCount != 1 {
		t.Errorf("desired count = %d, want 1", state.DesiredCount)
	}
}

func TestReconcileConflictLeavesClusterUntouched(t *testing.T) {
	fake := controlplane.NewFake()
	fake.AddService(controlplane.ServiceState{
		ServiceName:  "aura-fullstack-service",
		Status:       controlplane.StatusActive,
		DesiredCount: 1,
		RunningCount: 1,
	})

	rec := newTestReconciler(fake, deployment.KindBackend)
	result, err := rec.Reconcile(context.Background(), deployment.KindBackend, Options{ImageTag: "v1"})
	if !errors.Is(err, conflict.ErrConflictDetected) {
		t.Fatalf("error = %v, want ErrConflictDetected", err)
	}
	if result.Outcome != OutcomeSkipped {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeSkipped)
	}
	if got := fake.MutationCalls(); got != 0 {
		t.Errorf("mutation calls = %d, want 0 on conflict", got)
	}
}

func TestReconcileForceBypassesConflictGate(t *testing.T) {
	fake := controlplane.NewFake()
	fake.AddService(controlplane.ServiceState{
		ServiceName:  "aura-fullstack-service",
		Status:       controlplane.StatusActive,
		DesiredCount: 1,
		RunningCount: 1,
	})

	rec := newTestReconciler(fake, deployment.KindBackend)
	result, err := rec.Reconcile(context.Background(), deployment.KindBackend, Options{ImageTag: "v1", Force: true})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Outcome != OutcomeCreated {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeCreated)
	}
}

func TestReconcileWaitsForStability(t *testing.T) {
	fake := controlplane.NewFake()
	fake.SetSettleAfter(3)
	fake.SetAddress("aura-backend-service", "203.0.113.10")

	rec := newTestReconciler(fake, deployment.KindBackend)
	result, err := rec.Reconcile(context.Background(), deployment.KindBackend, Options{
		ImageTag:      "v1",
		WaitForStable: true,
		WaitBudget:    time.Second,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Err != nil {
		t.Fatalf("result.Err = %v, want nil", result.Err)
	}
	if result.PublicAddress != "203.0.113.10" {
		t.Errorf("public address = %q, want 203.0.113.10", result.PublicAddress)
	}
}

func TestStabilityIgnoresPendingReplacementTasks(t *testing.T) {
	// Rolling updates briefly run a pending task alongside the full desired
	// count. That state already satisfies running == desired and must not be
	// held against the wait budget.
	fake := controlplane.NewFake()
	fake.SetSettleAfter(1000000)
	fake.AddService(controlplane.ServiceState{
		ServiceName:  "aura-backend-service",
		Status:       controlplane.StatusActive,
		DesiredCount: 1,
		RunningCount: 1,
		PendingCount: 1,
	})

	rec := newTestReconciler(fake, deployment.KindBackend)
	result, err := rec.Reconcile(context.Background(), deployment.KindBackend, Options{
		ImageTag:      "v2",
		WaitForStable: true,
		WaitBudget:    50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Err != nil {
		t.Fatalf("result.Err = %v, want nil", result.Err)
	}
	if result.Outcome != OutcomeUpdated {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeUpdated)
	}
}

func TestReconcileReportsStabilizationTimeout(t *testing.T) {
	fake := controlplane.NewFake()
	fake.SetSettleAfter(1000000)

	rec := newTestReconciler(fake, deployment.KindBackend)
	result, err := rec.Reconcile(context.Background(), deployment.KindBackend, Options{
		ImageTag:      "v1",
		WaitForStable: true,
		WaitBudget:    20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v, want nil for a soft timeout", err)
	}
	if !errors.Is(result.Err, ErrStabilizationTimeout) {
		t.Fatalf("result.Err = %v, want ErrStabilizationTimeout", result.Err)
	}
	if result.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeFailed)
	}
	// The rollout itself was submitted before the watch gave up.
	if result.Revision != 1 {
		t.Errorf("revision = %d, want 1", result.Revision)
	}
}

func TestReconcileRejectsForeignFamily(t *testing.T) {
	fake := controlplane.NewFake()
	rec := New(fake, testEnv, zerolog.Nop(), WithTemplateLoader(templateFor("some-other-family")))

	_, err := rec.Reconcile(context.Background(), deployment.KindBackend, Options{ImageTag: "v1"})
	if err == nil || !strings.Contains(err.Error(), "family") {
		t.Fatalf("error = %v, want family mismatch", err)
	}
	if got := fake.MutationCalls(); got != 0 {
		t.Errorf("mutation calls = %d, want 0", got)
	}
}

func TestReconcileFailsWithoutImageTag(t *testing.T) {
	fake := controlplane.NewFake()
	rec := newTestReconciler(fake, deployment.KindBackend)

	result, err := rec.Reconcile(context.Background(), deployment.KindBackend, Options{})
	if err == nil {
		t.Fatal("expected render error for empty image tag")
	}
	if result.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeFailed)
	}
	if got := fake.MutationCalls(); got != 0 {
		t.Errorf("mutation calls = %d, want 0", got)
	}
}

func TestReconcileCancellation(t *testing.T) {
	fake := controlplane.NewFake()
	fake.SetSettleAfter(1000000)

	rec := newTestReconciler(fake, deployment.KindBackend)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, err = rec.Reconcile(ctx, deployment.KindBackend, Options{
			ImageTag:      "v1",
			WaitForStable: true,
		})
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Reconcile did not return after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestReconcileSurfacesRegisterFailure(t *testing.T) {
	fake := controlplane.NewFake()
	fake.FailWith("RegisterTaskDefinition", fmt.Errorf("quota exceeded"))

	rec := newTestReconciler(fake, deployment.KindBackend)
	result, err := rec.Reconcile(context.Background(), deployment.KindBackend, Options{ImageTag: "v1"})
	if err == nil {
		t.Fatal("expected register failure")
	}
	if result.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q, want %q", result.Outcome, OutcomeFailed)
	}
	if got := fake.CallsTo("CreateService") + fake.CallsTo("UpdateService"); got != 0 {
		t.Errorf("service mutations after failed register = %d, want 0", got)
	}
}
