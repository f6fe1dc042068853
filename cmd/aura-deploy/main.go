package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aura-ops/aura-deploy/internal/conflict"
	"github.com/aura-ops/aura-deploy/internal/controlplane"
	"github.com/aura-ops/aura-deploy/internal/reconciler"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Exit codes let CI pipelines branch on the failure class without parsing
// log output.
const (
	exitOK            = 0
	exitFailure       = 1
	exitConflict      = 2
	exitStabilization = 3
	exitControlPlane  = 4
	exitCancelled     = 5
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		os.Exit(exitOK)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var transient *controlplane.TransientError
	var rejected *controlplane.RejectedError

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return exitCancelled
	case errors.Is(err, conflict.ErrConflictDetected):
		return exitConflict
	case errors.Is(err, reconciler.ErrStabilizationTimeout):
		return exitStabilization
	case errors.As(err, &transient), errors.As(err, &rejected), errors.Is(err, controlplane.ErrServiceNotFound):
		return exitControlPlane
	default:
		return exitFailure
	}
}
