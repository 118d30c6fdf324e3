package probez

import (
	"errors"
	"fmt"
)

// Declaration-time errors.
var (
	ErrUnknownType     = errors.New("unknown argument type")
	ErrTooManyArgs     = errors.New("too many arguments")
	ErrDuplicateName   = errors.New("probe already exists with a different signature")
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidIdentity = errors.New("invalid provider identity")
)

// Platform errors. ErrPlatformUnsupported never reaches callers of
// NewProvider; it only drives the fallback to the no-op backend.
var (
	ErrPlatformUnsupported = errors.New("tracing facility unavailable")
	ErrRegistrationFailed  = errors.New("backend registration failed")
)

// Fire-time errors.
var (
	ErrCoercion      = errors.New("argument type mismatch")
	ErrArityMismatch = errors.New("more values than the probe declares")
	ErrNoSuchProbe   = errors.New("probe does not exist")
	ErrProbeRemoved  = errors.New("probe has been removed")
)

// ErrDestroyed is returned by any Provider operation after Close.
var ErrDestroyed = errors.New("provider is closed")

// ArgError describes a value a producer returned that could not be placed
// into its slot. Index is -1 for arity errors.
type ArgError struct {
	Err   error
	Probe string
	Index int
}

func (e *ArgError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("probe %q: %v", e.Probe, e.Err)
	}
	return fmt.Sprintf("probe %q: argument %d: %v", e.Probe, e.Index, e.Err)
}

func (e *ArgError) Unwrap() error {
	return e.Err
}
