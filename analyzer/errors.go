package analyzer

import (
	"errors"
	"fmt"
	"math"
)

// ErrAnalysis matches every *Error.
var ErrAnalysis = errors.New("script analysis failed")

// ErrVariableType is returned when a variable is given two different types.
var ErrVariableType = errors.New("variable type mismatch")

// NoStackIndex marks an Error that does not refer to a stack cell.
const NoStackIndex = math.MinInt32

// Error is a structured analysis failure at a program address.
type Error struct {
	PC         uint32
	StackIndex int
	What       string
	Specific   string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("PC=%08X: %s", e.PC, e.What)
	if e.Specific != "" {
		msg += " (" + e.Specific + ")"
	}
	if e.StackIndex != NoStackIndex {
		msg += fmt.Sprintf(" [stack index %d]", e.StackIndex)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == ErrAnalysis }

func (e *Error) Unwrap() error { return e.Err }

func scriptError(pc uint32, what string) *Error {
	return &Error{PC: pc, StackIndex: NoStackIndex, What: what}
}

func scriptErrorf(pc uint32, index int, what, format string, args ...any) *Error {
	return &Error{PC: pc, StackIndex: index, What: what, Specific: fmt.Sprintf(format, args...)}
}

// wrapError attaches a program address to err unless it already has one.
func wrapError(pc uint32, err error) error {
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{PC: pc, StackIndex: NoStackIndex, What: "analysis failed", Err: err}
}
