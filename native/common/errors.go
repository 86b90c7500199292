package common

import "fmt"

// Class groups ledger failures into the categories callers react to.
type Class string

const (
	ClassAuthorization Class = "authorization"
	ClassReplay        Class = "replay"
	ClassExpiry        Class = "expiry"
	ClassSignature     Class = "signature"
	ClassState         Class = "state"
	ClassValue         Class = "value"
	ClassTransfer      Class = "transfer"
	ClassReentrancy    Class = "reentrancy"
	ClassInvalid       Class = "invalid"
)

// Error is a classified sentinel. Two errors match under errors.Is when they
// are the same sentinel, or when the target is a bare class marker.
type Error struct {
	class  Class
	module string
	code   string
	msg    string
}

// NewError declares a sentinel for module with a stable machine-readable code.
func NewError(class Class, module, code, msg string) *Error {
	return &Error{class: class, module: module, code: code, msg: msg}
}

func (e *Error) Error() string {
	if e.module == "" {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.module, e.msg)
}

// Class reports the error category.
func (e *Error) Class() Class { return e.class }

// Code is the stable identifier surfaced to API clients.
func (e *Error) Code() string { return e.code }

// Is lets errors.Is(err, ErrClassState) match every state error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.code == "" && t.module == "" {
		return t.class == e.class
	}
	return t == e
}

var (
	ErrClassAuthorization = &Error{class: ClassAuthorization, msg: "authorization error"}
	ErrClassReplay        = &Error{class: ClassReplay, msg: "replay error"}
	ErrClassExpiry        = &Error{class: ClassExpiry, msg: "expiry error"}
	ErrClassSignature     = &Error{class: ClassSignature, msg: "signature error"}
	ErrClassState         = &Error{class: ClassState, msg: "state error"}
	ErrClassValue         = &Error{class: ClassValue, msg: "value error"}
	ErrClassTransfer      = &Error{class: ClassTransfer, msg: "transfer error"}
	ErrClassReentrancy    = &Error{class: ClassReentrancy, msg: "reentrancy error"}
	ErrClassInvalid       = &Error{class: ClassInvalid, msg: "invalid request"}
)

// ClassOf extracts the class of err, walking wrapped errors. Unclassified
// errors report an empty class.
func ClassOf(err error) Class {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.class
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = unwrapper.Unwrap()
	}
	return ""
}

// CodeOf returns the stable code of the first classified error in the chain.
func CodeOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.code
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = unwrapper.Unwrap()
	}
	return ""
}
