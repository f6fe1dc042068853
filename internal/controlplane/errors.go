package controlplane

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
)

// ErrServiceNotFound means the named service does not exist on the cluster.
// Callers treat this as "create instead of update", never as a failure.
var ErrServiceNotFound = errors.New("service not found")

// TransientError marks a control-plane failure worth retrying: throttling,
// server faults, network-level errors.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return "transient control-plane error: " + e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// RejectedError marks a request the control plane refused outright, such as
// a malformed task definition. Retrying cannot help.
type RejectedError struct {
	err error
}

func (e *RejectedError) Error() string {
	return "control plane rejected request: " + e.err.Error()
}

func (e *RejectedError) Unwrap() error {
	return e.err
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// transientAPICodes are client-fault codes that are still worth retrying.
var transientAPICodes = map[string]bool{
	"ThrottlingException":         true,
	"RequestLimitExceeded":        true,
	"TooManyRequestsException":    true,
	"ServiceUnavailableException": true,
	"InternalServerException":     true,
}

// classify wraps an SDK error as transient or rejected. Context errors pass
// through untouched so cancellation is never retried.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrServiceNotFound) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientAPICodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return &TransientError{err: err}
		}
		return &RejectedError{err: err}
	}

	// No API-level response at all: connection resets, DNS failures.
	return &TransientError{err: err}
}
