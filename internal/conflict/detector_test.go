package conflict

import (
	"context"
	"errors"
	"testing"

	"github.com/aura-ops/aura-deploy/internal/controlplane"
	"github.com/aura-ops/aura-deploy/internal/deployment"
	"github.com/rs/zerolog"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name          string
		active        []string
		draining      []string
		kind          deployment.Kind
		wantConflicts []string
		wantExisting  bool
	}{
		{
			name: "empty cluster",
			kind: deployment.KindBackend,
		},
		{
			name:         "only target active",
			active:       []string{"aura-backend-service"},
			kind:         deployment.KindBackend,
			wantExisting: true,
		},
		{
			name:          "other kind active",
			active:        []string{"aura-fullstack-service"},
			kind:          deployment.KindBackend,
			wantConflicts: []string{"aura-fullstack-service"},
		},
		{
			name:          "mixed active and target",
			active:        []string{"aura-backend-service", "aura-frontend-service", "aura-fullstack-service"},
			kind:          deployment.KindFrontend,
			wantConflicts: []string{"aura-backend-service", "aura-fullstack-service"},
			wantExisting:  true,
		},
		{
			name:     "draining services do not conflict",
			draining: []string{"aura-backend-service"},
			kind:     deployment.KindFullstack,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := controlplane.NewFake()
			for _, name := range tc.active {
				fake.AddService(controlplane.ServiceState{
					ServiceName:  name,
					Status:       controlplane.StatusActive,
					DesiredCount: 1,
					RunningCount: 1,
				})
			}
			for _, name := range tc.draining {
				fake.AddService(controlplane.ServiceState{
					ServiceName: name,
					Status:      controlplane.StatusDraining,
				})
			}

			det := New(fake, zerolog.Nop())
			conflicting, existing, err := det.Detect(context.Background(), "aura-cluster", tc.kind)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if existing != tc.wantExisting {
				t.Errorf("targetExisting = %v, want %v", existing, tc.wantExisting)
			}
			if len(conflicting) != len(tc.wantConflicts) {
				t.Fatalf("conflicting = %v, want %v", conflicting, tc.wantConflicts)
			}
			for i, want := range tc.wantConflicts {
				if conflicting[i] != want {
					t.Errorf("conflicting[%d] = %q, want %q", i, conflicting[i], want)
				}
			}
		})
	}
}

func TestDetectPropagatesErrors(t *testing.T) {
	fake := controlplane.NewFake()
	fake.AddService(controlplane.ServiceState{
		ServiceName:  "aura-backend-service",
		Status:       controlplane.StatusActive,
		DesiredCount: 1,
		RunningCount: 1,
	})
	fake.FailWith("DescribeService", errors.New("boom"))

	det := New(fake, zerolog.Nop())
	if _, _, err := det.Detect(context.Background(), "aura-cluster", deployment.KindBackend); err == nil {
		t.Fatal("expected error from failing control plane")
	}
}

func TestGateError(t *testing.T) {
	err := GateError(deployment.KindBackend, []string{"aura-fullstack-service"})
	if !errors.Is(err, ErrConflictDetected) {
		t.Fatalf("error %v does not wrap ErrConflictDetected", err)
	}
}
