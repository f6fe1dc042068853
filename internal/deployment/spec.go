package deployment

import (
	"fmt"
	"time"
)

// ServiceSpec is the static description of one deployable service. The table
// below is the single source of truth for which service names can exist on a
// cluster; nothing else derives service names at runtime.
type ServiceSpec struct {
	ServiceName   string
	TaskFamily    string
	TemplatePath  string
	DesiredCount  int
	ContainerPort int
	HealthPaths   []string
	// WaitBudget is the default stabilization budget for this service.
	// The fullstack image runs nginx plus two backend processes under
	// supervisord and needs a longer start period than the single-process
	// images.
	WaitBudget time.Duration
}

var specs = map[Kind]ServiceSpec{
	KindBackend: {
		ServiceName:   "aura-backend-service",
		TaskFamily:    "aura-backend",
		TemplatePath:  "deploy/task-definition-backend.json",
		DesiredCount:  1,
		ContainerPort: 8000,
		HealthPaths:   []string{"/health", "/docs"},
		WaitBudget:    5 * time.Minute,
	},
	KindFrontend: {
		ServiceName:   "aura-frontend-service",
		TaskFamily:    "aura-frontend",
		TemplatePath:  "deploy/task-definition-frontend.json",
		DesiredCount:  1,
		ContainerPort: 80,
		HealthPaths:   []string{"/"},
		WaitBudget:    5 * time.Minute,
	},
	KindFullstack: {
		ServiceName:   "aura-fullstack-service",
		TaskFamily:    "aura-fullstack",
		TemplatePath:  "deploy/task-definition-fullstack.json",
		DesiredCount:  1,
		ContainerPort: 80,
		HealthPaths:   []string{"/", "/api/health"},
		WaitBudget:    10 * time.Minute,
	},
}

// SpecFor returns the ServiceSpec for a kind.
func SpecFor(kind Kind) (ServiceSpec, error) {
	spec, ok := specs[kind]
	if !ok {
		return ServiceSpec{}, fmt.Errorf("no service spec for kind %q", kind)
	}
	return spec, nil
}

// Specs returns every ServiceSpec keyed by kind, in Kinds() order.
func Specs() []ServiceSpec {
	out := make([]ServiceSpec, 0, len(specs))
	for _, kind := range Kinds() {
		out = append(out, specs[kind])
	}
	return out
}

// ServiceNames returns the fixed universe of service names across all kinds.
func ServiceNames() []string {
	names := make([]string, 0, len(specs))
	for _, spec := range Specs() {
		names = append(names, spec.ServiceName)
	}
	return names
}

// TaskFamilies returns every known task-definition family.
func TaskFamilies() []string {
	families := make([]string, 0, len(specs))
	for _, spec := range Specs() {
		families = append(families, spec.TaskFamily)
	}
	return families
}

// KindForService resolves a service name back to its kind.
func KindForService(serviceName string) (Kind, bool) {
	for _, kind := range Kinds() {
		if specs[kind].ServiceName == serviceName {
			return kind, true
		}
	}
	return "", false
}
