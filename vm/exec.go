package vm

import (
	"fmt"
	"math"

	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/pkg/stack"
)

const (
	objectSelf    = 0 // CONST.O operand naming the caller's self object
	objectInvalid = 1 // CONST.O operand naming the invalid object
)

// invocation is the state of one Execute or Resume call.
type invocation struct {
	prog          *bytecode.Program
	stk           *stack.Stack
	self          uint32
	invalid       uint32
	params        []string
	defaultReturn int32
	flags         ExecFlags
	situation     bool
	pc            uint32

	needFixup    bool
	fixup        fixupState
	bpNesting    int
	returnDepth  int
	startSP      int32
	expectReturn bool
	noReturn     bool
}

func (x *invocation) fail(pc uint32, err error) error {
	if _, ok := err.(*ExecError); ok {
		return err
	}
	return &ExecError{Script: x.prog.Name, PC: pc, Err: err}
}

// run executes instructions until the entry routine returns or control
// leaves the code.
func (v *VM) run(x *invocation) (int32, error) {
	s := x.stk
	x.fixup = fixupDone
	if x.needFixup {
		x.fixup = fixupWaitingForGlobals
	}
	x.returnDepth = s.ReturnDepth()
	x.startSP = s.SP()

	if !x.situation {
		switch x.prog.PatchState() {
		case bytecode.PatchReturnValue:
			if err := s.PushInt(0); err != nil {
				return 0, x.fail(0, err)
			}
			fallthrough
		case bytecode.PatchNormal:
			if err := v.pushEntryParameters(x); err != nil {
				return 0, x.fail(0, err)
			}
		}
	}

	code := x.prog.Code
	tracing := v.trace != nil || v.debug >= DebugVerbose || v.breakpointsSet()
	for x.pc < uint32(len(code)) {
		pc := x.pc
		if v.tree.aborted {
			return 0, x.fail(pc, ErrAborted)
		}
		v.tree.instructions++
		if v.tree.instructions > v.maxInstructions {
			v.errorf("%s: Exceeded instruction limit at PC=%08X", x.prog.Name, pc)
			return 0, x.fail(pc, ErrInstructionBudget)
		}

		in, err := bytecode.Decode(code, pc)
		if err != nil {
			return 0, x.fail(pc, fmt.Errorf("%w: %v", ErrUnsupportedInstruction, err))
		}

		if x.fixup == fixupWaitingForEntryReserve {
			if in.Op != bytecode.OpRSAdd {
				x.fixup = fixupDone
				x.noReturn = true
				v.debugf("%s: No return cell reserved, pushing parameters", x.prog.Name)
				if err := v.pushEntryParameters(x); err != nil {
					return 0, x.fail(pc, err)
				}
			} else {
				v.debugf("%s: Waiting for RSADDI", x.prog.Name)
				x.fixup = fixupGotEntryReserve
			}
		}

		if tracing {
			v.traceInstruction(x, in)
		}

		next, returned, err := v.dispatch(x, in)
		if err != nil {
			return 0, x.fail(pc, err)
		}
		if returned {
			break
		}
		x.pc = next
	}
	return v.finish(x)
}

// finish checks the stack height the entry routine left and extracts the
// return value.
func (v *VM) finish(x *invocation) (int32, error) {
	s := x.stk
	end := s.SP()
	top := v.tree.depth == 1
	ignore := x.flags&IgnoreStackMismatch != 0

	if end == x.startSP {
		if top && ignore {
			return x.defaultReturn, nil
		}
		if x.expectReturn {
			v.warningf("%s: WARNING: StartingConditional appears to have not returned a value", x.prog.Name)
		} else if !x.situation && x.prog.PatchState() == bytecode.PatchReturnValue {
			rc, err := s.PopInt()
			if err != nil {
				v.errorf("%s: Failed to retrieve return value (patched): %v", x.prog.Name, err)
				return x.defaultReturn, x.fail(x.pc, err)
			}
			return rc, nil
		}
		return x.defaultReturn, nil
	}

	if end != x.startSP+stack.CellSize {
		if !x.expectReturn && top && ignore {
			return x.defaultReturn, nil
		}
		v.errorf("%s: Script StartSP (%d) / EndSP (%d) mismatch", x.prog.Name, x.startSP, end)
		return x.defaultReturn, x.fail(x.pc, ErrStackMismatch)
	}

	if x.noReturn {
		v.warningf("%s: WARNING: Non-StartingConditional appears to be returning a value", x.prog.Name)
	}
	rc, err := s.PopInt()
	if err != nil {
		v.errorf("%s: Failed to retrieve return value: %v", x.prog.Name, err)
		return x.defaultReturn, x.fail(x.pc, err)
	}
	return rc, nil
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// dispatch executes one instruction and returns the next PC. returned is
// set when the entry routine executed its final RETN.
func (v *VM) dispatch(x *invocation, in bytecode.Instruction) (next uint32, returned bool, err error) {
	s := x.stk
	next = in.Next()

	switch in.Op {
	// --- Stack copies and reservation ---
	case bytecode.OpCPDownSP:
		err = s.CopyDown(in.Offset(), int32(in.Size()), false)

	case bytecode.OpCPTopSP:
		err = s.CopyUp(in.Offset(), int32(in.Size()), false)

	case bytecode.OpCPDownBP:
		err = s.CopyDown(in.Offset(), int32(in.Size()), true)

	case bytecode.OpCPTopBP:
		err = s.CopyUp(in.Offset(), int32(in.Size()), true)

	case bytecode.OpRSAdd:
		err = v.reserve(x, in)

	case bytecode.OpConst:
		err = v.constant(x, in)

	case bytecode.OpMovSP:
		err = s.AddSP(in.Offset())

	case bytecode.OpDestruct:
		size, exclOffset, exclSize := in.Destruct()
		if err = s.CheckGuardZone(s.SP() - int32(size)); err == nil {
			err = s.Destruct(int32(size), int32(exclOffset), int32(exclSize))
		}

	// --- Engine calls ---
	case bytecode.OpAction:
		err = v.action(x, in)

	// --- Logic, bitwise and arithmetic ---
	case bytecode.OpLogAnd, bytecode.OpLogOr, bytecode.OpIncOr, bytecode.OpExcOr, bytecode.OpBoolAnd,
		bytecode.OpShLeft, bytecode.OpShRight, bytecode.OpUShRight:
		err = intBinary(s, in)

	case bytecode.OpEqual, bytecode.OpNEqual:
		err = v.equality(x, in)

	case bytecode.OpGEq, bytecode.OpGT, bytecode.OpLT, bytecode.OpLEq:
		err = compare(s, in)

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
		err = arithmetic(s, in)

	case bytecode.OpNeg, bytecode.OpComp, bytecode.OpNot:
		err = unary(s, in)

	case bytecode.OpDecISP, bytecode.OpIncISP:
		if in.Type != bytecode.TypeInt {
			break
		}
		addr := in.Offset() + s.SP()
		if err = s.CheckGuardZone(addr); err != nil {
			break
		}
		if in.Op == bytecode.OpIncISP {
			_, err = s.IncrementInt(addr)
		} else {
			_, err = s.DecrementInt(addr)
		}

	case bytecode.OpDecIBP, bytecode.OpIncIBP:
		if in.Type != bytecode.TypeInt {
			break
		}
		addr := in.Offset() + s.BP()
		if in.Op == bytecode.OpIncIBP {
			_, err = s.IncrementInt(addr)
		} else {
			_, err = s.DecrementInt(addr)
		}

	// --- Control transfer ---
	case bytecode.OpJmp:
		if in.Jump() == 0 {
			return 0, false, fmt.Errorf("%w (JMP) detected", ErrTrivialInfiniteLoop)
		}
		next = in.Target()

	case bytecode.OpJSR:
		if in.Jump() == 0 {
			return 0, false, fmt.Errorf("%w (JSR) detected", ErrTrivialInfiniteLoop)
		}
		s.SaveProgramCounter(in.Next())
		next = in.Target()

	case bytecode.OpJZ, bytecode.OpJNZ:
		var cond int32
		if cond, err = s.PopInt(); err != nil {
			break
		}
		if (cond == 0) != (in.Op == bytecode.OpJZ) {
			break
		}
		if in.Jump() == 0 {
			return 0, false, fmt.Errorf("%w (%s) detected", ErrTrivialInfiniteLoop, in.Op)
		}
		next = in.Target()

	case bytecode.OpRetn:
		if s.ReturnDepth() == x.returnDepth {
			return next, true, nil
		}
		next, err = s.RestoreProgramCounter()

	// --- Globals frame ---
	case bytecode.OpSaveBP:
		if x.fixup == fixupWaitingForGlobals {
			x.fixup = fixupWaitingForEntryReserve
			v.debugf("%s: Global frame established, waiting for entry reserve", x.prog.Name)
		}
		if err = s.SaveBP(); err == nil {
			x.bpNesting++
		}

	case bytecode.OpRestoreBP:
		if x.needFixup && len(x.params) > 0 && x.fixup == fixupDone && x.bpNesting == 1 &&
			x.flags&IgnoreStackMismatch != 0 {
			if s.IsParameterUnderrunRestoreBP() {
				v.debugf("%s: Removing extra parameters for parameter underrun", x.prog.Name)
			}
			for err == nil && s.IsParameterUnderrunRestoreBP() {
				err = s.AddSP(-stack.CellSize)
			}
			if err != nil {
				break
			}
		}
		if err = s.RestoreBP(); err == nil {
			x.bpNesting--
		}

	// --- Situations ---
	case bytecode.OpStoreState:
		bp, sp := in.StoreState()
		err = v.storeState(x, in, bp, sp)

	case bytecode.OpStoreStateAll:
		err = v.storeState(x, in, s.BP(), s.SP()-s.BP())

	case bytecode.OpNop:

	default:
		err = unsupported(in.Op.String(), byte(in.Type))
	}
	return next, false, err
}

func (v *VM) reserve(x *invocation, in bytecode.Instruction) error {
	s := x.stk
	switch in.Type {
	case bytecode.TypeInt:
		if err := s.PushInt(0); err != nil {
			return err
		}
		if x.fixup == fixupGotEntryReserve {
			v.debugf("%s: RSADDI found for fixup, pushing parameters", x.prog.Name)
			if err := v.pushEntryParameters(x); err != nil {
				return err
			}
			x.fixup = fixupDone
			x.expectReturn = true
		}
		return nil
	case bytecode.TypeFloat:
		return s.PushFloat(0)
	case bytecode.TypeString:
		return s.PushString("")
	case bytecode.TypeObject:
		return s.PushObject(x.invalid)
	}
	if in.Type.IsEngine() {
		return v.pushNewEngine(x, in.Type.EngineOrdinal())
	}
	return unsupported("RSADD", byte(in.Type))
}

func (v *VM) constant(x *invocation, in bytecode.Instruction) error {
	s := x.stk
	switch in.Type {
	case bytecode.TypeInt:
		return s.PushInt(in.IntConst())
	case bytecode.TypeFloat:
		return s.PushFloat(in.FloatConst())
	case bytecode.TypeString:
		return s.PushString(in.StringConst())
	case bytecode.TypeObject:
		id := uint32(in.IntConst())
		switch id {
		case objectSelf:
			return s.PushObject(x.self)
		case objectInvalid:
			return s.PushObject(x.invalid)
		}
		if id != x.invalid {
			v.warningf("%s: @%08X: Hardcoding dangerous object id %08X in CONSTO", x.prog.Name, in.PC, id)
		}
		return s.PushObject(id)
	}
	if in.Type.IsEngine() {
		v.tree.actionSelf = x.self
		return v.pushNewEngine(x, in.Type.EngineOrdinal())
	}
	return unsupported("CONST", byte(in.Type))
}

func (v *VM) pushNewEngine(x *invocation, ordinal uint8) error {
	var es stack.EngineStructure
	if v.actions != nil {
		es = v.actions.CreateEngineStructure(ordinal)
	}
	if es == nil {
		v.errorf("%s: Failed to create engine structure %d", x.prog.Name, ordinal)
		return fmt.Errorf("%w %d", ErrEngineStructure, ordinal)
	}
	return x.stk.PushEngine(es)
}

func (v *VM) action(x *invocation, in bytecode.Instruction) error {
	if v.actions == nil {
		return fmt.Errorf("%w: no action handler for action %d", ErrAction, in.ActionID())
	}
	v.tree.actionSelf = x.self
	if err := v.actions.ExecuteAction(v, x.stk, in.ActionID(), int(in.ArgCount())); err != nil {
		return fmt.Errorf("%w: action %d: %w", ErrAction, in.ActionID(), err)
	}
	if v.tree.aborted {
		return ErrAborted
	}
	return nil
}

func (v *VM) storeState(x *invocation, in bytecode.Instruction, bp, sp int32) error {
	saved, err := x.stk.SaveRange(bp, sp, 0)
	if err != nil {
		return err
	}
	v.tree.saved = &SavedState{
		Stack:   saved,
		Program: x.prog,
		PC:      in.ResumePC(),
		Self:    x.self,
		Invalid: x.invalid,
	}
	return nil
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func popInts(s *stack.Stack) (lhs, rhs int32, err error) {
	if rhs, err = s.PopInt(); err != nil {
		return
	}
	lhs, err = s.PopInt()
	return
}

func popFloats(s *stack.Stack) (lhs, rhs float32, err error) {
	if rhs, err = s.PopFloat(); err != nil {
		return
	}
	lhs, err = s.PopFloat()
	return
}

func pushBool(s *stack.Stack, b bool) error {
	if b {
		return s.PushInt(1)
	}
	return s.PushInt(0)
}

// Shift counts are taken modulo 32.
func shiftCount(n int32) uint32 { return uint32(n) & 31 }

func intBinary(s *stack.Stack, in bytecode.Instruction) error {
	if in.Type != bytecode.TypeIntInt {
		return unsupported(in.Op.String(), byte(in.Type))
	}
	a, b, err := popInts(s)
	if err != nil {
		return err
	}
	switch in.Op {
	case bytecode.OpLogAnd:
		return pushBool(s, a != 0 && b != 0)
	case bytecode.OpLogOr:
		return pushBool(s, a != 0 || b != 0)
	case bytecode.OpIncOr:
		return s.PushInt(a | b)
	case bytecode.OpExcOr:
		return s.PushInt(a ^ b)
	case bytecode.OpBoolAnd:
		return s.PushInt(a & b)
	case bytecode.OpShLeft:
		return s.PushInt(a << shiftCount(b))
	case bytecode.OpShRight:
		if a < 0 {
			return s.PushInt(-((-a) >> shiftCount(b)))
		}
		return s.PushInt(a >> shiftCount(b))
	default:
		// USHRIGHT is an arithmetic shift.
		return s.PushInt(a >> shiftCount(b))
	}
}

func compare(s *stack.Stack, in bytecode.Instruction) error {
	switch in.Type {
	case bytecode.TypeIntInt:
		a, b, err := popInts(s)
		if err != nil {
			return err
		}
		return pushBool(s, ordered(in.Op, a, b))
	case bytecode.TypeFloatFloat:
		a, b, err := popFloats(s)
		if err != nil {
			return err
		}
		return pushBool(s, ordered(in.Op, a, b))
	}
	return unsupported(in.Op.String(), byte(in.Type))
}

func ordered[T int32 | float32](op bytecode.Opcode, a, b T) bool {
	switch op {
	case bytecode.OpGEq:
		return a >= b
	case bytecode.OpGT:
		return a > b
	case bytecode.OpLT:
		return a < b
	}
	return a <= b
}

func (v *VM) equality(x *invocation, in bytecode.Instruction) error {
	s := x.stk
	var equal bool
	switch {
	case in.Type == bytecode.TypeIntInt:
		a, b, err := popInts(s)
		if err != nil {
			return err
		}
		equal = a == b
	case in.Type == bytecode.TypeFloatFloat:
		a, b, err := popFloats(s)
		if err != nil {
			return err
		}
		equal = a == b
	case in.Type == bytecode.TypeObjectObject:
		b, err := s.PopObject()
		if err != nil {
			return err
		}
		a, err := s.PopObject()
		if err != nil {
			return err
		}
		equal = a == b
	case in.Type == bytecode.TypeStringString:
		b, err := s.PopString()
		if err != nil {
			return err
		}
		a, err := s.PopString()
		if err != nil {
			return err
		}
		equal = a == b
	case in.Type == bytecode.TypeStructStruct:
		var err error
		if equal, err = structEqual(s, int32(in.StructSize())); err != nil {
			return err
		}
	case in.Type.IsEngineEngine():
		ordinal := in.Type.EngineOrdinal()
		b, err := s.PopEngine(ordinal)
		if err != nil {
			return err
		}
		a, err := s.PopEngine(ordinal)
		if err != nil {
			return err
		}
		equal = engineEqual(b, a)
	default:
		return unsupported(in.Op.String(), byte(in.Type))
	}
	if in.Op == bytecode.OpNEqual {
		equal = !equal
	}
	return pushBool(s, equal)
}

// structEqual compares the two size-byte aggregates on top of the stack
// cell by cell, typed by the upper aggregate, and removes both. An empty
// aggregate compares unequal.
func structEqual(s *stack.Stack, size int32) (bool, error) {
	if err := s.CheckGuardZone(s.SP() - 2*size); err != nil {
		return false, err
	}
	equal := false
	for off := int32(0); off < size; off += stack.CellSize {
		upper, lower := -size+off, -2*size+off
		t, err := s.TypeAt(s.SP() + upper)
		if err != nil {
			return false, err
		}
		switch {
		case t == stack.BaseInt:
			a, err := s.GetInt(upper)
			if err != nil {
				return false, err
			}
			b, err := s.GetInt(lower)
			if err != nil {
				return false, err
			}
			equal = a == b
		case t == stack.BaseFloat:
			a, err := s.GetFloat(upper)
			if err != nil {
				return false, err
			}
			b, err := s.GetFloat(lower)
			if err != nil {
				return false, err
			}
			equal = a == b
		case t == stack.BaseObject:
			a, err := s.GetObject(upper)
			if err != nil {
				return false, err
			}
			b, err := s.GetObject(lower)
			if err != nil {
				return false, err
			}
			equal = a == b
		case t == stack.BaseString:
			a, err := s.GetString(upper)
			if err != nil {
				return false, err
			}
			b, err := s.GetString(lower)
			if err != nil {
				return false, err
			}
			equal = a == b
		case t.IsEngine():
			a, err := s.GetEngine(upper, t.EngineOrdinal())
			if err != nil {
				return false, err
			}
			b, err := s.GetEngine(lower, t.EngineOrdinal())
			if err != nil {
				return false, err
			}
			equal = engineEqual(a, b)
		default:
			equal = false
		}
		if !equal {
			break
		}
	}
	return equal, s.AddSP(-2 * size)
}

func engineEqual(a, b stack.EngineStructure) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Compare(b)
}

type vector [3]float32

func (a vector) add(b vector) vector { return vector{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func (a vector) sub(b vector) vector { return vector{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func (a vector) scale(f float32) vector {
	return vector{a[0] * f, a[1] * f, a[2] * f}
}

// popMixed pops an int/float pair in the order the type code names them:
// for IF the float is on top, for FI the int is.
func popMixed(s *stack.Stack, t bytecode.TypeCode) (n int32, f float32, err error) {
	if t == bytecode.TypeIntFloat {
		if f, err = s.PopFloat(); err != nil {
			return
		}
		n, err = s.PopInt()
		return
	}
	if n, err = s.PopInt(); err != nil {
		return
	}
	f, err = s.PopFloat()
	return
}

// popVectorFloat pops a vector/float pair for VF (float on top) and FV
// (vector on top).
func popVectorFloat(s *stack.Stack, t bytecode.TypeCode) (vec vector, f float32, err error) {
	var raw [3]float32
	if t == bytecode.TypeVectorFloat {
		if f, err = s.PopFloat(); err != nil {
			return
		}
		raw, err = s.PopVector()
		return vector(raw), f, err
	}
	if raw, err = s.PopVector(); err != nil {
		return
	}
	f, err = s.PopFloat()
	return vector(raw), f, err
}

func popVectors(s *stack.Stack) (lhs, rhs vector, err error) {
	var a, b [3]float32
	if b, err = s.PopVector(); err != nil {
		return
	}
	a, err = s.PopVector()
	return vector(a), vector(b), err
}

func arithmetic(s *stack.Stack, in bytecode.Instruction) error {
	name := in.Op.String() + in.Type.String()
	switch in.Type {
	case bytecode.TypeIntInt:
		a, b, err := popInts(s)
		if err != nil {
			return err
		}
		switch in.Op {
		case bytecode.OpAdd:
			return s.PushInt(a + b)
		case bytecode.OpSub:
			return s.PushInt(a - b)
		case bytecode.OpMul:
			return s.PushInt(a * b)
		}
		q, err := divide(in.Op, a, b)
		if err != nil {
			return err
		}
		return s.PushInt(q)

	case bytecode.TypeFloatFloat:
		if in.Op == bytecode.OpMod {
			break
		}
		a, b, err := popFloats(s)
		if err != nil {
			return err
		}
		return floatResult(s, in.Op, name, a, b)

	case bytecode.TypeIntFloat, bytecode.TypeFloatInt:
		if in.Op == bytecode.OpMod {
			break
		}
		n, f, err := popMixed(s, in.Type)
		if err != nil {
			return err
		}
		if in.Type == bytecode.TypeIntFloat {
			return floatResult(s, in.Op, name, float32(n), f)
		}
		return floatResult(s, in.Op, name, f, float32(n))

	case bytecode.TypeStringString:
		if in.Op != bytecode.OpAdd {
			break
		}
		b, err := s.PopString()
		if err != nil {
			return err
		}
		a, err := s.PopString()
		if err != nil {
			return err
		}
		return s.PushString(a + b)

	case bytecode.TypeVectorVector:
		if in.Op != bytecode.OpAdd && in.Op != bytecode.OpSub {
			break
		}
		a, b, err := popVectors(s)
		if err != nil {
			return err
		}
		if in.Op == bytecode.OpAdd {
			return s.PushVector(a.add(b))
		}
		return s.PushVector(a.sub(b))

	case bytecode.TypeVectorFloat, bytecode.TypeFloatVector:
		if in.Op != bytecode.OpMul && in.Op != bytecode.OpDiv {
			break
		}
		vec, f, err := popVectorFloat(s, in.Type)
		if err != nil {
			return err
		}
		if in.Op == bytecode.OpMul {
			return s.PushVector(vec.scale(f))
		}
		if f == 0 {
			return fmt.Errorf("%w: attempted to %s by zero", ErrArithmeticFault, name)
		}
		return s.PushVector(vec.scale(1 / f))
	}
	return unsupported(in.Op.String(), byte(in.Type))
}

func floatResult(s *stack.Stack, op bytecode.Opcode, name string, a, b float32) error {
	switch op {
	case bytecode.OpAdd:
		return s.PushFloat(a + b)
	case bytecode.OpSub:
		return s.PushFloat(a - b)
	case bytecode.OpMul:
		return s.PushFloat(a * b)
	}
	if b == 0 {
		return fmt.Errorf("%w: attempted to %s by zero", ErrArithmeticFault, name)
	}
	return s.PushFloat(a / b)
}

// divide implements DIVII and MODII. Division by zero and the one
// overflowing quotient fail instead of trapping.
func divide(op bytecode.Opcode, a, b int32) (int32, error) {
	name := "DIVII"
	if op == bytecode.OpMod {
		name = "MODI"
	}
	if b == 0 {
		return 0, fmt.Errorf("%w: attempted to execute %s by zero", ErrArithmeticFault, name)
	}
	if a == math.MinInt32 && b == -1 {
		return 0, fmt.Errorf("%w: quotient overflow in %s", ErrArithmeticFault, name)
	}
	if op == bytecode.OpMod {
		return a % b, nil
	}
	return a / b, nil
}

func unary(s *stack.Stack, in bytecode.Instruction) error {
	switch {
	case in.Op == bytecode.OpNeg && in.Type == bytecode.TypeFloat:
		f, err := s.PopFloat()
		if err != nil {
			return err
		}
		return s.PushFloat(-f)
	case in.Type == bytecode.TypeInt:
		n, err := s.PopInt()
		if err != nil {
			return err
		}
		switch in.Op {
		case bytecode.OpNeg:
			return s.PushInt(-n)
		case bytecode.OpComp:
			return s.PushInt(^n)
		}
		return pushBool(s, n == 0)
	}
	return unsupported(in.Op.String(), byte(in.Type))
}
