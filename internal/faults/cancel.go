package faults

import (
	"context"
	"errors"
)

// IsCancellation reports whether err stems from a cancelled or expired context.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Aborted converts a context error into an Aborted fault naming the point at
// which the abort was observed.
func Aborted(op string, err error) error {
	if err == nil {
		return nil
	}
	return New(KindAborted, op, err)
}
