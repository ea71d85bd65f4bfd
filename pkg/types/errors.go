package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the manager and agent. Wrap with
// fmt.Errorf("...: %w", err) so callers can classify with errors.Is.
var (
	// ErrNotFound covers missing files, jobs, and unknown nodes.
	ErrNotFound = errors.New("not found")

	// ErrAuthFailed is a missing or mismatched bearer token.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrTimeout is an exceeded operation-class or inner deadline.
	ErrTimeout = errors.New("operation timeout")

	// ErrConfigInvalid is a structural error found at config load.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrPostcondition marks a sequence whose steps succeeded but whose
	// final verification did not (service not active).
	ErrPostcondition = errors.New("postcondition failed")
)

// BusyError rejects a new operation while the same target has one in
// flight, on either tier. The message names the active kind so an
// operator can tell what is blocking.
type BusyError struct {
	Target string
	Kind   OperationKind
	Since  time.Time
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("target %s is busy: %s in progress for %s",
		e.Target, e.Kind, time.Since(e.Since).Round(time.Second))
}

// IsBusy reports whether err is a BusyError anywhere in its chain.
func IsBusy(err error) bool {
	var be *BusyError
	return errors.As(err, &be)
}
