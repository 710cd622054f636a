// Package errors provides error handling for chronodrive.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Add hints for users
//	return errors.WithHint(err, "check the mappings file")
//
//	// Check errors
//	if errors.Is(err, errors.ErrCircuitOpen) {
//	    // handle cooldown
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithSecondaryError = crdb.WithSecondaryError
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	GetAllHints        = crdb.GetAllHints
	GetAllDetails      = crdb.GetAllDetails
	FlattenHints       = crdb.FlattenHints
	FlattenDetails     = crdb.FlattenDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors for use across chronodrive.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrAlreadyRunning indicates a run was started while a previous run on
	// the same controller is still Running, Paused, or Stopping.
	ErrAlreadyRunning = New("run already in progress")

	// ErrCircuitOpen indicates a call was shed because the circuit breaker
	// is open and its cooldown has not elapsed. The wrapped operation was
	// never invoked.
	ErrCircuitOpen = New("circuit breaker open")

	// ErrUnmappedAccount indicates a row referenced an account code with no
	// entry in the mapping table.
	ErrUnmappedAccount = New("unmapped account code")

	// ErrUnmappedProject indicates a row referenced a project code with no
	// entry under its account.
	ErrUnmappedProject = New("unmapped project code")

	// ErrTaskNotFound indicates the requested scheduled task does not exist.
	ErrTaskNotFound = New("scheduled task not found")

	// ErrInvalidSchedule indicates a schedule definition failed validation.
	ErrInvalidSchedule = New("invalid schedule")
)

// IsRowFailure reports whether err is one of the per-row error kinds that
// fail a single row without aborting the run.
func IsRowFailure(err error) bool {
	return err != nil && IsAny(err, ErrCircuitOpen, ErrUnmappedAccount, ErrUnmappedProject)
}

// IsTaskNotFound checks if an error is or wraps ErrTaskNotFound.
func IsTaskNotFound(err error) bool {
	return err != nil && Is(err, ErrTaskNotFound)
}

// NewUnmappedAccount creates an unmapped-account error naming the code.
func NewUnmappedAccount(code string) error {
	return Wrapf(ErrUnmappedAccount, "account %q", code)
}

// NewUnmappedProject creates an unmapped-project error naming the pair.
func NewUnmappedProject(code, project string) error {
	return Wrapf(ErrUnmappedProject, "project %q under account %q", project, code)
}
