package protocol

import (
	"errors"
	"fmt"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// MayHaveSucceeded returns true if the Error was triggered by a command that might have been
	// executed. For example, if the client stops waiting for a peripheral's answer, then it
	// cannot tell if the peripheral acted on the command.
	MayHaveSucceeded() bool

	// Temporary returns true if the Error might be the result of a transient condition, such as
	// a peripheral drifting out of range.
	Temporary() bool
}

var (
	// ErrLocalTimeout indicates the dongle did not acknowledge a command. This usually points to
	// a transport or hardware fault rather than a problem with the peripheral.
	ErrLocalTimeout = NewError("dongle did not acknowledge command", true, false)
	// ErrRemoteTimeout indicates the peripheral did not answer in time. It may be disconnected,
	// out of range, or busy. Callers may retry the whole procedure.
	ErrRemoteTimeout = NewError("peripheral did not respond", true, true)
	// ErrNotConnected indicates there is no connection to the peripheral, or that the reader
	// servicing the dongle has stopped.
	ErrNotConnected = NewError("peripheral not connected", false, false)
	// ErrAlreadyConnected indicates a second connection was requested while one is active.
	ErrAlreadyConnected = NewError("a peripheral is already connected", false, false)
	ErrBadResponse      = errors.New("invalid response")
)

type CommandError struct {
	Err               error
	PossibleSuccess   bool
	PossibleTemporary bool
}

func NewError(message string, mayHaveSucceeded bool, temporary bool) error {
	return &CommandError{Err: errors.New(message), PossibleSuccess: mayHaveSucceeded, PossibleTemporary: temporary}
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) MayHaveSucceeded() bool {
	return e.PossibleSuccess
}

func (e *CommandError) Temporary() bool {
	return e.PossibleTemporary
}

// ProcedureError indicates the peripheral (or the dongle on its behalf) answered a command with a
// non-zero result code.
type ProcedureError struct {
	Operation string
	Code      uint16
}

func (e *ProcedureError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Operation, Reason(e.Code))
}

func (e *ProcedureError) MayHaveSucceeded() bool {
	return false
}

func (e *ProcedureError) Temporary() bool {
	return false
}

// Reason returns the human-readable explanation of e's result code.
func (e *ProcedureError) Reason() string {
	return Reason(e.Code)
}

// CheckResult returns a ProcedureError if code is non-zero.
func CheckResult(operation string, code uint16) error {
	if code == 0 {
		return nil
	}
	return &ProcedureError{Operation: operation, Code: code}
}

// MayHaveSucceeded returns true if err indicates the command may have been executed but the
// client did not receive a confirmation.
func MayHaveSucceeded(err error) bool {
	var e Error
	if errors.As(err, &e) && e.MayHaveSucceeded() {
		return true
	}
	return false
}

// Temporary returns true if err indicates the command failed due to possibly transient conditions
// that do not require user action to resolve.
func Temporary(err error) bool {
	var e Error
	if errors.As(err, &e) && e.Temporary() {
		return true
	}
	return false
}

// ShouldRetry returns true if the client should retry the command that triggered an error. Nothing
// in this module retries on its own.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var e Error
	if errors.As(err, &e) {
		if e.MayHaveSucceeded() {
			return false
		}
		if e.Temporary() {
			return true
		}
	}
	return false
}
