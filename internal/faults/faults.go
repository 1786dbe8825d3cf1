// Package faults defines the error taxonomy shared by the station proxy, the
// poller, the recorder and the sequencer. Every error that ends a procedure
// run carries exactly one Kind.
package faults

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind string

const (
	KindUnknown            Kind = "unknown"
	KindHardware           Kind = "hardware-fault"
	KindPositionOutOfRange Kind = "position-out-of-range"
	KindConvergenceTimeout Kind = "convergence-timeout"
	KindConfiguration      Kind = "configuration-error"
	KindRecorderIO         Kind = "recorder-io-error"
	KindAborted            Kind = "aborted"
)

// Sentinels for errors.Is matching. A *Error matches the sentinel of its Kind.
var (
	ErrHardwareFault      = errors.New("hardware fault")
	ErrPositionOutOfRange = errors.New("position out of range")
	ErrConvergenceTimeout = errors.New("convergence timeout")
	ErrConfiguration      = errors.New("configuration error")
	ErrRecorderIO         = errors.New("recorder io error")
	ErrAborted            = errors.New("aborted by operator")
)

var sentinels = map[Kind]error{
	KindHardware:           ErrHardwareFault,
	KindPositionOutOfRange: ErrPositionOutOfRange,
	KindConvergenceTimeout: ErrConvergenceTimeout,
	KindConfiguration:      ErrConfiguration,
	KindRecorderIO:         ErrRecorderIO,
	KindAborted:            ErrAborted,
}

// Error is a categorised failure. Op names the operation that failed
// (a station command, a recorder write, a recipe field).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's Kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && target == sentinel
}

// New builds a categorised error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a categorised error with a formatted cause.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Hardware wraps a driver failure. Errors that already carry a Kind are
// returned unchanged so a PositionOutOfRange raised below the proxy is not
// relabelled.
func Hardware(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	return New(KindHardware, op, err)
}

// Configuration builds a ConfigurationError.
func Configuration(op string, format string, args ...any) *Error {
	return Newf(KindConfiguration, op, format, args...)
}

// RecorderIO wraps a persistence failure.
func RecorderIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return New(KindRecorderIO, op, err)
}

// KindOf returns the Kind carried by err. Context cancellation maps to
// KindAborted; anything uncategorised is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if IsCancellation(err) {
		return KindAborted
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
