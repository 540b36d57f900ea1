package analyzer

import (
	"fmt"

	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/pkg/stack"
)

// SubroutineFlag describes how a subroutine is entered.
type SubroutineFlag uint32

const (
	// ScriptSituation marks a resume point captured by STORE_STATE.
	ScriptSituation SubroutineFlag = 1 << iota
	// SavesState marks a subroutine that executes STORE_STATE.
	SavesState
)

const (
	maxParameterSize = 4 * 1024 * 1024
	maxReturnSize    = 4 * 1024 * 1024
)

// Subroutine is a JSR target, the entry point, #globals or a script
// situation. Sizes are in bytes.
type Subroutine struct {
	address uint32
	flags   SubroutineFlag
	symbol  string

	returnTypes []bytecode.ActionType
	parameters  []bytecode.ActionType
	paramSize   int32
	returnSize  int32

	analyzed     bool
	typeAnalyzed bool

	flows           flowSet
	branchTargets   []*Label
	analyzeBranches []*Label

	locals     []*Variable
	paramVars  []*Variable
	returnVars []*Variable

	err error
}

func newSubroutine(addr uint32, flags SubroutineFlag) *Subroutine {
	return &Subroutine{address: addr, flags: flags}
}

// Address returns the subroutine's first instruction.
func (s *Subroutine) Address() uint32 { return s.address }

// Flags returns the subroutine flags.
func (s *Subroutine) Flags() SubroutineFlag { return s.flags }

// IsSituation reports whether s is a script situation.
func (s *Subroutine) IsSituation() bool { return s.flags&ScriptSituation != 0 }

// Symbol returns the subroutine name, if known.
func (s *Subroutine) Symbol() string { return s.symbol }

// ReturnSize returns the size of the return value in bytes.
func (s *Subroutine) ReturnSize() int { return int(s.returnSize) }

// ParameterSize returns the size of the parameters in bytes.
func (s *Subroutine) ParameterSize() int { return int(s.paramSize) }

// Parameters returns one type per parameter cell, first parameter (top of
// stack) first. Unresolved cells are ActionVoid.
func (s *Subroutine) Parameters() []bytecode.ActionType { return s.parameters }

// ReturnTypes returns one type per return cell.
func (s *Subroutine) ReturnTypes() []bytecode.ActionType { return s.returnTypes }

// Analyzed reports whether structure discovery reached a RETN.
func (s *Subroutine) Analyzed() bool { return s.analyzed }

// Err returns the error that stopped analysis of s, if any.
func (s *Subroutine) Err() error { return s.err }

// Flows returns the control flows in address order.
func (s *Subroutine) Flows() []*ControlFlow { return s.flows.ordered() }

// Flow returns the flow containing pc, or nil.
func (s *Subroutine) Flow(pc uint32) *ControlFlow { return s.flows.lookup(pc) }

// Locals returns every variable created while generating the IR.
func (s *Subroutine) Locals() []*Variable { return s.locals }

// BranchTargets returns the labels discovered in s.
func (s *Subroutine) BranchTargets() []*Label { return s.branchTargets }

// ParameterVariable returns the variable of parameter cell i.
func (s *Subroutine) ParameterVariable(i int) (*Variable, error) {
	if i < 0 || i >= len(s.paramVars) {
		return nil, fmt.Errorf("out of range parameter %d to subroutine %08X", i, s.address)
	}
	return s.paramVars[i], nil
}

// ReturnValueVariable returns the variable of return cell i.
func (s *Subroutine) ReturnValueVariable(i int) (*Variable, error) {
	if i < 0 || i >= len(s.returnVars) {
		return nil, fmt.Errorf("out of range return value %d to subroutine %08X", i, s.address)
	}
	return s.returnVars[i], nil
}

func (s *Subroutine) addReturnType(t bytecode.ActionType) error {
	switch t {
	case bytecode.ActionVector:
		s.returnTypes = append(s.returnTypes, bytecode.ActionFloat, bytecode.ActionFloat, bytecode.ActionFloat)
	case bytecode.ActionAction:
		return fmt.Errorf("action cannot be returned")
	default:
		s.returnTypes = append(s.returnTypes, t)
	}
	return nil
}

func (s *Subroutine) setReturnSize(n int32) error {
	s.returnSize = n
	if n > maxReturnSize || n < 0 {
		return fmt.Errorf("subroutine maximum return size exceeded")
	}
	return nil
}

// updateReturnSize widens the return size to cover a write at the given
// entry-relative offset. Writes inside the frame are ignored.
func (s *Subroutine) updateReturnSize(offset int32) error {
	if offset > 0 {
		return nil
	}
	if -offset > s.returnSize {
		return s.setReturnSize(-offset)
	}
	return nil
}

func (s *Subroutine) setParameterSize(n int32) error {
	s.paramSize = n
	if n > maxParameterSize || n < 0 {
		return fmt.Errorf("subroutine maximum parameter size exceeded")
	}
	return nil
}

// createParameterReturnVariables allocates the variables that stand for the
// return and parameter cells, return cells at the bottom of the frame.
func (s *Subroutine) createParameterReturnVariables(a *Analyzer) {
	sp := int32(0)
	for i := int32(0); i < s.returnSize/stack.CellSize; i++ {
		v := a.newVariable(sp, ClassReturnValue, bytecode.ActionVoid)
		s.locals = append(s.locals, v)
		s.returnVars = append(s.returnVars, v)
		sp += stack.CellSize
	}
	for i := int32(0); i < s.paramSize/stack.CellSize; i++ {
		v := a.newVariable(sp, ClassParameter, bytecode.ActionVoid)
		s.locals = append(s.locals, v)
		s.paramVars = append(s.paramVars, v)
		sp += stack.CellSize
	}
}

// newFlow creates and registers a flow starting at pc.
func (s *Subroutine) newFlow(pc uint32, sp int32) *ControlFlow {
	f := newControlFlow(pc, sp)
	s.flows.set(pc, f)
	return f
}

func (s *Subroutine) label(addr uint32) *Label {
	for _, l := range s.branchTargets {
		if l.Address == addr {
			return l
		}
	}
	return nil
}

// fail records err and discards any IR built for s.
func (s *Subroutine) fail(err error) {
	if s.err == nil {
		s.err = err
	}
	for _, f := range s.flows.ordered() {
		f.ir = nil
	}
}
