package controlplane

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aura-ops/aura-deploy/internal/taskdef"
)

// Fake is an in-memory Client for tests. It records every call, simulates
// the control plane's gradual convergence (a service settles after a
// configurable number of DescribeService polls), and supports per-operation
// error injection.
type Fake struct {
	mu           sync.Mutex
	clock        time.Time
	settleAfter  int
	services     map[string]*fakeService
	revisions    map[string][]TaskDefinitionRevision
	nextRevision map[string]int
	deregistered []string
	addresses    map[string]string
	calls        []string
	errs         map[string]error
}

type fakeService struct {
	state            ServiceState
	taskDefinition   string
	pollsUntilSettle int
}

var mutatingOps = map[string]bool{
	"RegisterTaskDefinition":   true,
	"CreateService":            true,
	"UpdateService":            true,
	"ScaleService":             true,
	"DeleteService":            true,
	"DeregisterTaskDefinition": true,
}

// NewFake returns an empty fake cluster that settles services immediately.
func NewFake() *Fake {
	return &Fake{
		clock:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		services:     make(map[string]*fakeService),
		revisions:    make(map[string][]TaskDefinitionRevision),
		nextRevision: make(map[string]int),
		addresses:    make(map[string]string),
		errs:         make(map[string]error),
	}
}

// SetSettleAfter makes every subsequent transition take n DescribeService
// polls before the service converges.
func (f *Fake) SetSettleAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settleAfter = n
}

// AddService seeds a service snapshot.
func (f *Fake) AddService(state ServiceState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[state.ServiceName] = &fakeService{state: state, pollsUntilSettle: f.settleAfter}
}

// SetAddress assigns the public address reported for a service's task.
func (f *Fake) SetAddress(serviceName, address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addresses[serviceName] = address
}

// FailWith makes the named operation return err on every call.
func (f *Fake) FailWith(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

// Calls returns the recorded operation names in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsTo counts calls to one operation.
func (f *Fake) CallsTo(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if call == op {
			count++
		}
	}
	return count
}

// MutationCalls counts calls to mutating operations.
func (f *Fake) MutationCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if mutatingOps[call] {
			count++
		}
	}
	return count
}

// ActiveRevisions returns the active revisions of a family, newest first.
func (f *Fake) ActiveRevisions(family string) []TaskDefinitionRevision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeRevisionsLocked(family)
}

// Deregistered returns the ARNs retired so far, in order.
func (f *Fake) Deregistered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deregistered...)
}

// ServiceTaskDefinition returns the task-definition ARN a service points at.
func (f *Fake) ServiceTaskDefinition(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if svc, ok := f.services[name]; ok {
		return svc.taskDefinition
	}
	return ""
}

func (f *Fake) begin(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.errs[op]
}

// DescribeService implements Client. Each poll advances the simulated
// convergence by one step.
func (f *Fake) DescribeService(_ context.Context, _ string, name string) (ServiceState, error) {
	if err := f.begin("DescribeService"); err != nil {
		return ServiceState{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	svc, ok := f.services[name]
	if !ok {
		return ServiceState{}, ErrServiceNotFound
	}

	if svc.pollsUntilSettle > 0 {
		svc.pollsUntilSettle--
	} else {
		f.settleLocked(svc)
	}

	return svc.state, nil
}

func (f *Fake) settleLocked(svc *fakeService) {
	state := &svc.state
	if state.Status == StatusInactive {
		return
	}
	state.PendingCount = 0
	state.RunningCount = state.DesiredCount
	if state.DesiredCount > 0 {
		state.Status = StatusActive
	}
}

// ListServices implements Client.
func (f *Fake) ListServices(_ context.Context, _ string) ([]string, error) {
	if err := f.begin("ListServices"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, 0, len(f.services))
	for name, svc := range f.services {
		if svc.state.Status == StatusInactive {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RegisterTaskDefinition implements Client.
func (f *Fake) RegisterTaskDefinition(_ context.Context, def taskdef.Definition) (TaskDefinitionRevision, error) {
	if err := f.begin("RegisterTaskDefinition"); err != nil {
		return TaskDefinitionRevision{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextRevision[def.Family]++
	f.clock = f.clock.Add(time.Second)

	revision := TaskDefinitionRevision{
		Family:       def.Family,
		Revision:     f.nextRevision[def.Family],
		ARN:          fmt.Sprintf("arn:aws:ecs:us-east-1:123456789012:task-definition/%s:%d", def.Family, f.nextRevision[def.Family]),
		RegisteredAt: f.clock,
	}
	f.revisions[def.Family] = append(f.revisions[def.Family], revision)
	return revision, nil
}

// CreateService implements Client.
func (f *Fake) CreateService(_ context.Context, _ string, in CreateServiceInput) error {
	if err := f.begin("CreateService"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.services[in.ServiceName]; ok && existing.state.Status != StatusInactive {
		return &RejectedError{err: fmt.Errorf("service %s already exists", in.ServiceName)}
	}

	f.services[in.ServiceName] = &fakeService{
		state: ServiceState{
			ServiceName:  in.ServiceName,
			Status:       StatusActive,
			DesiredCount: in.DesiredCount,
			PendingCount: in.DesiredCount,
		},
		taskDefinition:   in.TaskDefinitionARN,
		pollsUntilSettle: f.settleAfter,
	}
	return nil
}

// UpdateService implements Client.
func (f *Fake) UpdateService(_ context.Context, _ string, name, taskDefinitionARN string) error {
	if err := f.begin("UpdateService"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	svc, ok := f.services[name]
	if !ok || svc.state.Status == StatusInactive {
		return ErrServiceNotFound
	}
	svc.taskDefinition = taskDefinitionARN
	svc.pollsUntilSettle = f.settleAfter
	return nil
}

// ScaleService implements Client.
func (f *Fake) ScaleService(_ context.Context, _ string, name string, desired int) error {
	if err := f.begin("ScaleService"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	svc, ok := f.services[name]
	if !ok || svc.state.Status == StatusInactive {
		return ErrServiceNotFound
	}
	svc.state.DesiredCount = desired
	if desired == 0 {
		svc.state.Status = StatusDraining
	} else {
		svc.state.Status = StatusActive
	}
	svc.pollsUntilSettle = f.settleAfter
	return nil
}

// DeleteService implements Client. Deletion requires a drained service, as
// the real control plane does without force.
func (f *Fake) DeleteService(_ context.Context, _ string, name string) error {
	if err := f.begin("DeleteService"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	svc, ok := f.services[name]
	if !ok {
		return ErrServiceNotFound
	}
	if svc.state.DesiredCount > 0 {
		return &RejectedError{err: fmt.Errorf("service %s still has desired count %d", name, svc.state.DesiredCount)}
	}
	svc.state.Status = StatusInactive
	svc.state.RunningCount = 0
	svc.state.PendingCount = 0
	return nil
}

// ListTaskDefinitionRevisions implements Client.
func (f *Fake) ListTaskDefinitionRevisions(_ context.Context, family string) ([]TaskDefinitionRevision, error) {
	if err := f.begin("ListTaskDefinitionRevisions"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeRevisionsLocked(family), nil
}

func (f *Fake) activeRevisionsLocked(family string) []TaskDefinitionRevision {
	active := f.revisions[family]
	out := make([]TaskDefinitionRevision, 0, len(active))
	for i := len(active) - 1; i >= 0; i-- {
		out = append(out, active[i])
	}
	return out
}

// DeregisterTaskDefinition implements Client.
func (f *Fake) DeregisterTaskDefinition(_ context.Context, arn string) error {
	if err := f.begin("DeregisterTaskDefinition"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for family, revisions := range f.revisions {
		for i, revision := range revisions {
			if revision.ARN == arn {
				f.revisions[family] = append(revisions[:i:i], revisions[i+1:]...)
				f.deregistered = append(f.deregistered, arn)
				return nil
			}
		}
	}
	return &RejectedError{err: fmt.Errorf("unknown task definition %s", arn)}
}

// ResolveTaskPublicAddress implements Client.
func (f *Fake) ResolveTaskPublicAddress(_ context.Context, _ string, serviceName string) (string, error) {
	if err := f.begin("ResolveTaskPublicAddress"); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	svc, ok := f.services[serviceName]
	if !ok || svc.state.RunningCount == 0 {
		return "", nil
	}
	return f.addresses[serviceName], nil
}
