package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/vialflow/internal/faults"
	"github.com/kingrea/vialflow/internal/procedure"
)

// Exit codes.
const (
	ExitOK               = 0
	ExitFailed           = 1
	ExitUsage            = 2
	ExitConfig           = 3
	ExitAborted          = 4
	ExitUnknownProcedure = 5
)

// usageError is a command line the operator got wrong. Its command's usage
// is printed with the error.
type usageError struct {
	cmd *cobra.Command
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

// exactArgs is cobra.ExactArgs reporting a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &usageError{cmd: cmd, err: fmt.Errorf("accepts %d arg(s), received %d", n, len(args))}
		}
		return nil
	}
}

func minimumArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return &usageError{cmd: cmd, err: fmt.Errorf("requires at least %d arg(s), received %d", n, len(args))}
		}
		return nil
	}
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, procedure.ErrUnknownProcedure) {
		return ExitUnknownProcedure
	}
	var usage *usageError
	if errors.As(err, &usage) || errors.Is(err, procedure.ErrBadArgument) {
		return ExitUsage
	}
	switch faults.KindOf(err) {
	case faults.KindConfiguration:
		return ExitConfig
	case faults.KindAborted:
		return ExitAborted
	}
	return ExitFailed
}
