/*
	Error classes shared by the controller and the satellite.

	Validation and access errors are returned to the immediate caller.
	Persistence errors travel up to whoever opened the transaction.
	Implementation errors mean the process is broken, not the request,
	and carry a stack trace so they stand out in the logs.
*/

package apierr

import (
	"fmt"

	"github.com/pkg/errors"
)

type ValidationError struct {
	Field string
	Value string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Msg)
}

func NewValidation(field, value, msg string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Msg: msg}
}

type AccessDeniedError struct {
	Identity  string
	Requested string
	Object    string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied: identity %q requires %s access to %s", e.Identity, e.Requested, e.Object)
}

type AlreadyExistsError struct {
	Object string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists", e.Object)
}

type NotFoundError struct {
	Object string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Object)
}

// PersistenceError is recoverable. The in-memory changes of the failed
// transaction have already been rolled back when it is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type ImplementationError struct {
	Msg string
	Err error
}

func (e *ImplementationError) Error() string {
	if e.Err == nil {
		return "implementation error: " + e.Msg
	}
	return fmt.Sprintf("implementation error: %s: %v", e.Msg, e.Err)
}

func (e *ImplementationError) Unwrap() error {
	return e.Err
}

// Implementation builds an implementation error whose cause carries the
// stack of the call site. Log it with %+v to print the stack.
func Implementation(msg string, cause error) error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return errors.WithStack(&ImplementationError{Msg: msg, Err: cause})
}

func IsImplementation(err error) bool {
	var ie *ImplementationError
	return errors.As(err, &ie)
}

func IsAccessDenied(err error) bool {
	var ad *AccessDeniedError
	return errors.As(err, &ad)
}

func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsAlreadyExists(err error) bool {
	var ae *AlreadyExistsError
	return errors.As(err, &ae)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
