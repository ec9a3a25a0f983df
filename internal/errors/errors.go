package errors

import (
	"errors"
	"fmt"
)

// Basic error check functions from standard library
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// StateData describes a rejected lifecycle transition.
type StateData struct {
	Current   string
	Attempted string
}

func (d StateData) String() string {
	return fmt.Sprintf("current=%s attempted=%s", d.Current, d.Attempted)
}

type appError struct {
	code    ErrorCode
	message string
	err     error
	data    any
}

func (e *appError) Error() string {
	msg := e.message
	if msg == "" {
		msg = GetErrorMessage(e.code)
	}

	if e.data != nil {
		return fmt.Sprintf("%s: %v", msg, e.data)
	}

	if e.err != nil {
		return fmt.Sprintf("%s: %v", msg, e.err)
	}

	return msg
}

func (e *appError) Code() ErrorCode {
	return e.code
}

func (e *appError) Kind() Kind {
	return KindOfCode(e.code)
}

func (e *appError) WithMessage(msg string) Error {
	return &appError{
		code:    e.code,
		message: msg,
		err:     e.err,
		data:    e.data,
	}
}

func (e *appError) WithData(data any) Error {
	return &appError{
		code:    e.code,
		message: e.message,
		err:     e.err,
		data:    data,
	}
}

func (e *appError) GetData() any {
	return e.data
}

func (e *appError) Unwrap() error {
	return e.err
}

type defaultFactory struct{}

func (*defaultFactory) New(code ErrorCode) Error {
	return &appError{
		code: code,
	}
}

func (*defaultFactory) Wrap(code ErrorCode, err error) Error {
	return &appError{
		code: code,
		err:  err,
	}
}

func (*defaultFactory) WithMessage(code ErrorCode, msg string) Error {
	return &appError{
		code:    code,
		message: msg,
	}
}

func (*defaultFactory) WithData(code ErrorCode, data any) Error {
	return &appError{
		code: code,
		data: data,
	}
}

// New creates a Factory instance for error creation
func New() Factory {
	return &defaultFactory{}
}

// StateTransition builds the error returned for an illegal lifecycle transition.
func StateTransition(current, attempted string) Error {
	return New().WithData(ErrInvalidTransition, StateData{Current: current, Attempted: attempted})
}

// CodeOf returns the code of the first application error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var appErr Error
	if As(err, &appErr) {
		return appErr.Code(), true
	}
	return "", false
}

// KindOf returns the kind of the first application error in err's chain.
// Errors that carry no code are internal.
func KindOf(err error) Kind {
	if code, ok := CodeOf(err); ok {
		return KindOfCode(code)
	}
	return KindInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	got, ok := CodeOf(err)
	return ok && got == code
}

func IsValidation(err error) bool { return err != nil && KindOf(err) == KindValidation }
func IsState(err error) bool      { return err != nil && KindOf(err) == KindState }
func IsNotFound(err error) bool   { return err != nil && KindOf(err) == KindNotFound }
func IsDependency(err error) bool { return err != nil && KindOf(err) == KindDependency }
func IsConflict(err error) bool   { return err != nil && KindOf(err) == KindConflict }
