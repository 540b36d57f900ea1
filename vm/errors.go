package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedInstruction is returned for an opcode/type combination
	// the dispatcher does not implement.
	ErrUnsupportedInstruction = errors.New("unsupported instruction")

	// ErrRecursionLimit is returned when nested invocations exceed
	// MaxRecursion.
	ErrRecursionLimit = errors.New("script VM reached maximum recursion limit")

	// ErrInstructionBudget is returned when a call tree executes more than
	// the instruction limit.
	ErrInstructionBudget = errors.New("too many script instructions")

	// ErrTrivialInfiniteLoop is returned for a jump or call to itself.
	ErrTrivialInfiniteLoop = errors.New("trivial infinite loop")

	// ErrArithmeticFault is returned for division by zero and quotient
	// overflow.
	ErrArithmeticFault = errors.New("arithmetic fault")

	// ErrAborted is returned when the abort flag is found set.
	ErrAborted = errors.New("script program execution abortively terminated")

	// ErrStackMismatch is returned when a script leaves the stack at an
	// unexpected height.
	ErrStackMismatch = errors.New("script StartSP / EndSP mismatch")

	// ErrEntryParameters is returned when the entry point parameters cannot
	// be pushed with static types.
	ErrEntryParameters = errors.New("bad script entry point parameters")

	// ErrEngineStructure is returned when the host cannot create an engine
	// structure.
	ErrEngineStructure = errors.New("failed to create engine structure")

	// ErrAction is returned when the host reports a failed action call.
	ErrAction = errors.New("action call failed")
)

// ExecError locates a failure in a script.
type ExecError struct {
	Script string
	PC     uint32
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: PC=%08X: %v", e.Script, e.PC, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

func unsupported(op string, t byte) error {
	return fmt.Errorf("%w: %s.%02X", ErrUnsupportedInstruction, op, t)
}
