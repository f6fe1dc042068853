package deployment

import "fmt"

// Kind selects which service a deployment run targets. Kinds are mutually
// exclusive on a cluster: the services of one kind bind the same ports and
// public subnets as the others, so only one kind may be active at a time.
type Kind string

const (
	KindBackend   Kind = "backend"
	KindFrontend  Kind = "frontend"
	KindFullstack Kind = "fullstack"
)

// Kinds returns all deployment kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindBackend, KindFrontend, KindFullstack}
}

// ParseKind validates a kind name from user input.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindBackend, KindFrontend, KindFullstack:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown deployment kind %q (expected backend, frontend, or fullstack)", s)
}

// String satisfies fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}
