package stack

import (
	"errors"
	"fmt"
)

// Error kinds reported by stack operations. Every error returned by this
// package wraps exactly one of them.
var (
	ErrTypeMismatch          = errors.New("type mismatch")
	ErrStackUnderflow        = errors.New("stack underflow")
	ErrStackOverflow         = errors.New("stack overflow")
	ErrInvalidHandle         = errors.New("invalid handle")
	ErrInvalidStackReference = errors.New("invalid stack reference")
)

// Error describes a failed stack operation.
type Error struct {
	Op     string // operation that failed, e.g. "CopyDown"
	Detail string
	Err    error // one of the Err* kinds above
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s (%v)", e.Op, e.Detail, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func fail(op string, kind error, detail string) error {
	return &Error{Op: op, Detail: detail, Err: kind}
}

func mismatch(op string) error {
	return fail(op, ErrTypeMismatch, "")
}

func badReference(op string) error {
	return fail(op, ErrInvalidStackReference, "illegal stack reference")
}
