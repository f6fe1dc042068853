package controlplane

import (
	"context"
	"errors"
	"testing"

	"github.com/aura-ops/aura-deploy/internal/taskdef"
)

func testDefinition(family string) taskdef.Definition {
	return taskdef.Definition{
		Family: family,
		ContainerDefinitions: []taskdef.ContainerDefinition{
			{Name: family, Image: "example/" + family + ":v1", Essential: true},
		},
	}
}

func TestFakeDescribeMissingService(t *testing.T) {
	fake := NewFake()

	_, err := fake.DescribeService(context.Background(), "cluster", "nope")
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}

func TestFakeServiceConvergence(t *testing.T) {
	fake := NewFake()
	fake.SetSettleAfter(2)
	fake.AddService(ServiceState{
		ServiceName:  "svc",
		Status:       StatusActive,
		DesiredCount: 1,
		RunningCount: 0,
		PendingCount: 1,
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		state, err := fake.DescribeService(ctx, "cluster", "svc")
		if err != nil {
			t.Fatal(err)
		}
		if state.RunningCount == state.DesiredCount {
			t.Fatalf("poll %d: service settled too early", i)
		}
	}

	state, err := fake.DescribeService(ctx, "cluster", "svc")
	if err != nil {
		t.Fatal(err)
	}
	if state.RunningCount != 1 || state.Status != StatusActive || state.PendingCount != 0 {
		t.Fatalf("service did not settle: %+v", state)
	}
}

func TestFakeRevisionChainIsAppendOnly(t *testing.T) {
	fake := NewFake()
	ctx := context.Background()

	first, err := fake.RegisterTaskDefinition(ctx, testDefinition("aura-backend"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := fake.RegisterTaskDefinition(ctx, testDefinition("aura-backend"))
	if err != nil {
		t.Fatal(err)
	}

	if first.Revision != 1 || second.Revision != 2 {
		t.Fatalf("revisions = %d, %d; want 1, 2", first.Revision, second.Revision)
	}
	if !second.RegisteredAt.After(first.RegisteredAt) {
		t.Fatal("registration times must be increasing")
	}

	revisions, err := fake.ListTaskDefinitionRevisions(ctx, "aura-backend")
	if err != nil {
		t.Fatal(err)
	}
	if len(revisions) != 2 || revisions[0].Revision != 2 {
		t.Fatalf("expected newest-first listing, got %+v", revisions)
	}

	// Deregistering the old revision never disturbs the chain numbering.
	if err := fake.DeregisterTaskDefinition(ctx, first.ARN); err != nil {
		t.Fatal(err)
	}
	third, err := fake.RegisterTaskDefinition(ctx, testDefinition("aura-backend"))
	if err != nil {
		t.Fatal(err)
	}
	if third.Revision != 3 {
		t.Fatalf("revision after deregister = %d, want 3", third.Revision)
	}
}

func TestFakeDeleteRequiresDrain(t *testing.T) {
	fake := NewFake()
	fake.AddService(ServiceState{ServiceName: "svc", Status: StatusActive, DesiredCount: 1, RunningCount: 1})
	ctx := context.Background()

	var rejected *RejectedError
	if err := fake.DeleteService(ctx, "cluster", "svc"); !errors.As(err, &rejected) {
		t.Fatalf("expected rejection for undrained service, got %v", err)
	}

	if err := fake.ScaleService(ctx, "cluster", "svc", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := fake.DescribeService(ctx, "cluster", "svc"); err != nil {
		t.Fatal(err)
	}
	if err := fake.DeleteService(ctx, "cluster", "svc"); err != nil {
		t.Fatalf("delete after drain: %v", err)
	}

	state, err := fake.DescribeService(ctx, "cluster", "svc")
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != StatusInactive {
		t.Fatalf("status after delete = %v, want INACTIVE", state.Status)
	}
}

func TestFakeCallRecording(t *testing.T) {
	fake := NewFake()
	ctx := context.Background()

	_, _ = fake.DescribeService(ctx, "cluster", "svc")
	_, _ = fake.RegisterTaskDefinition(ctx, testDefinition("fam"))
	_ = fake.CreateService(ctx, "cluster", CreateServiceInput{ServiceName: "svc", DesiredCount: 1})

	if got := fake.CallsTo("DescribeService"); got != 1 {
		t.Errorf("DescribeService calls = %d", got)
	}
	if got := fake.MutationCalls(); got != 2 {
		t.Errorf("mutation calls = %d, want 2", got)
	}
}

func TestFakeErrorInjection(t *testing.T) {
	fake := NewFake()
	boom := errors.New("boom")
	fake.FailWith("ListServices", boom)

	if _, err := fake.ListServices(context.Background(), "cluster"); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
}
