package analyzer

import (
	"fmt"
	"slices"

	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/pkg/stack"
)

// abort unwinds IR generation of one subroutine.
type abort struct{ err error }

// codeGen is the IR generation state for one subroutine walk.
type codeGen struct {
	a        *Analyzer
	sub      *Subroutine
	pc       uint32
	sp       int32
	returnSP int32
	stack    []*Variable
	flow     *ControlFlow
}

// ---------------------------------------------------------------------------
// Driver
// ---------------------------------------------------------------------------

// analyzeCode generates IR and types for every subroutine. #globals goes
// first so the global variables exist before anything reads them.
func (a *Analyzer) analyzeCode() {
	if a.globalsPC != InvalidPC {
		a.analyzeSubroutineCode(a.Subroutine(a.globalsPC))
	}
	for _, s := range a.subs {
		if !s.typeAnalyzed {
			a.analyzeSubroutineCode(s)
		}
	}
	for _, s := range a.subs {
		for i, v := range s.paramVars {
			if i < len(s.parameters) {
				s.parameters[i] = v.Type()
			}
		}
		for i, v := range s.returnVars {
			if i < len(s.returnTypes) {
				s.returnTypes[i] = v.Type()
			}
		}
	}
}

func (a *Analyzer) analyzeSubroutineCode(sub *Subroutine) {
	sub.typeAnalyzed = true
	if sub.err != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			ab, ok := r.(abort)
			if !ok {
				panic(r)
			}
			a.log.Debugf("code analysis of %08X failed: %v", sub.address, ab.err)
			sub.fail(ab.err)
		}
	}()

	c := &codeGen{a: a, sub: sub, pc: sub.address}
	for _, v := range sub.returnVars {
		c.push(v)
	}
	c.returnSP = c.sp
	for i := len(sub.paramVars) - 1; i >= 0; i-- {
		c.push(sub.paramVars[i])
	}

	c.flow = sub.flows.lookup(sub.address)
	if c.flow == nil {
		c.failWhat("no control flow at subroutine entry")
	}

	visited := map[uint32]bool{c.pc: true}
	stackMap := make(map[uint32][]*Variable)
	displacement := sub.paramSize + sub.returnSize

	for scanned := 1; ; scanned++ {
		if scanned > a.budget {
			c.failWhat("too many script instructions in AnalyzeSubroutineCode")
		}
		in, err := a.decode(c.pc)
		if err != nil {
			c.fail(err)
		}

		before := len(c.flow.ir)
		c.step(in)
		for i, ir := range c.flow.ir[before:] {
			ir.Seq = uint32(i)
		}

		c.pc = in.Next()
		if c.pc < c.flow.EndPC {
			continue
		}

		if c.flow.Termination != TermTerminate {
			stackMap[c.flow.StartPC] = slices.Clone(c.stack)
		}
		if int32(len(c.stack))*stack.CellSize != c.sp || c.flow.EndPC != c.pc ||
			c.flow.EndSP+displacement != c.sp {
			c.failf(NoStackIndex, "flow end state mismatch", "SP=%08X (FlowPC=%08X, FlowSP=%08X)",
				uint32(c.sp), c.flow.EndPC, uint32(c.flow.EndSP+displacement))
		}
		for _, child := range c.flow.Children {
			if child != nil && child.StartSP+displacement != c.sp {
				c.failf(NoStackIndex, "flow start state mismatch", "SP=%08X (FlowPC=%08X, FlowSP=%08X)",
					uint32(c.sp), child.StartPC, uint32(child.StartSP+displacement))
			}
		}

		// Queue the branch side of a split and continue into the fallthrough.
		var next *ControlFlow
		if c.flow.Termination != TermTerminate {
			fall := c.flow.Children[1]
			if fall != nil {
				branch := c.flow.Children[0]
				if !visited[branch.StartPC] {
					sub.analyzeBranches = append(sub.analyzeBranches,
						&Label{Address: branch.StartPC, SP: c.sp, Flow: branch})
					visited[branch.StartPC] = true
				}
			} else {
				fall = c.flow.Children[0]
			}
			if fall != nil && !visited[fall.StartPC] {
				next = fall
			}
		}
		if next != nil {
			c.pc = next.StartPC
			c.flow = next
			visited[c.pc] = true
			continue
		}

		if len(sub.analyzeBranches) == 0 {
			break
		}
		l := sub.analyzeBranches[len(sub.analyzeBranches)-1]
		sub.analyzeBranches = sub.analyzeBranches[:len(sub.analyzeBranches)-1]
		c.pc, c.sp, c.flow = l.Address, l.SP, l.Flow
		for _, p := range c.flow.parents {
			if saved, ok := stackMap[p.StartPC]; ok {
				c.stack = slices.Clone(saved)
				break
			}
		}
		visited[c.pc] = true
	}

	c.mergeParentStacks(stackMap)
}

// mergeParentStacks folds together variables that different paths into a
// flow created separately for the same stack slot.
func (c *codeGen) mergeParentStacks(stackMap map[uint32][]*Variable) {
	for _, f := range c.sub.flows.ordered() {
		if len(f.parents) < 2 {
			continue
		}
		first := f.parents[0]
		left, ok := stackMap[first.StartPC]
		if !ok {
			c.pc = first.StartPC
			c.failWhat("merging nonexistent variables")
		}
		for _, p := range f.parents[1:] {
			if first.EndSP != p.EndSP {
				c.pc = first.EndPC
				c.failf(NoStackIndex, "flow end state mismatch", "SP=%08X (FlowPC=%08X, FlowSP=%08X)",
					uint32(first.EndSP), p.EndPC, uint32(p.EndSP))
			}
			right, ok := stackMap[p.StartPC]
			if !ok || len(right) < len(left) {
				c.pc = p.StartPC
				c.failWhat("merging nonexistent variables")
			}
			for i := range left {
				l, r := left[i].Head(), right[i].Head()
				if l != r {
					r.SetMergedWith(l)
					l.SetFlag(MultiplyCreated)
				}
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Stack model
// ---------------------------------------------------------------------------

func (c *codeGen) fail(err error) { panic(abort{wrapError(c.pc, err)}) }

func (c *codeGen) failWhat(what string) { c.fail(scriptError(c.pc, what)) }

func (c *codeGen) failf(index int, what, format string, args ...any) {
	c.fail(scriptErrorf(c.pc, index, what, format, args...))
}

func (c *codeGen) setType(v *Variable, t bytecode.ActionType) {
	if err := v.SetType(t); err != nil {
		c.fail(&Error{PC: c.pc, StackIndex: NoStackIndex, What: "conflicting variable type", Specific: v.String(), Err: err})
	}
}

func (c *codeGen) link(v, other *Variable) {
	if err := v.LinkTypes(other); err != nil {
		c.fail(&Error{PC: c.pc, StackIndex: NoStackIndex, What: "conflicting variable type",
			Specific: fmt.Sprintf("%s and %s", v, other), Err: err})
	}
}

func (c *codeGen) checkStack(minSP, offset, size int32) {
	switch {
	case offset&unaligned != 0 || size&unaligned != 0:
		c.failWhat("unaligned stack access")
	case offset+size > 0:
		c.failWhat("positive stack access")
	case offset+c.sp < minSP:
		c.failf(int(c.sp/stack.CellSize+1), "stack access violation",
			"stack offset of %X, effective stack size %X", offset, c.sp-minSP)
	}
}

func (c *codeGen) checkStackSize(minSP, size int32) { c.checkStack(minSP, -size, size) }

func (c *codeGen) checkGlobal(offset, size int32) {
	switch {
	case offset&unaligned != 0 || size&unaligned != 0:
		c.failWhat("unaligned global access")
	case offset+size > 0:
		c.failWhat("positive global access")
	case -offset > int32(len(c.a.globals))*stack.CellSize:
		c.failf(0, "global access violation", "global offset of %X, total global size %X",
			offset, len(c.a.globals)*stack.CellSize)
	}
}

// global returns the global at a BP-relative (negative) offset.
func (c *codeGen) global(offset int32) *Variable {
	idx := int(offset / stack.CellSize)
	if idx >= 0 || -idx > len(c.a.globals) {
		c.failWhat("illegal global variable SP reference")
	}
	return c.a.globals[len(c.a.globals)+idx]
}

// local returns the variable in the cell starting at byte offset sp.
func (c *codeGen) local(sp int32) *Variable {
	idx := int(sp / stack.CellSize)
	if sp < 0 || idx >= len(c.stack) {
		c.failWhat("illegal local variable SP reference")
	}
	return c.stack[idx]
}

func (c *codeGen) push(v *Variable) {
	c.stack = append(c.stack, v)
	c.sp += stack.CellSize
}

func (c *codeGen) newLocal(class Class, t bytecode.ActionType) *Variable {
	v := c.a.newVariable(c.sp, class, t)
	c.sub.locals = append(c.sub.locals, v)
	c.push(v)
	return v
}

// createLocal pushes a new variable and appends its CREATE.
func (c *codeGen) createLocal(t bytecode.ActionType, class Class) *Variable {
	return c.createLocalAt(len(c.flow.ir), t, class)
}

// createLocalAt pushes a new variable with its CREATE placed at IR index at.
func (c *codeGen) createLocalAt(at int, t bytecode.ActionType, class Class) *Variable {
	v := c.newLocal(class, t)
	c.flow.ir = slices.Insert(c.flow.ir, at, newInstruction(c.pc, IRCreate, nil, v, nil))
	return v
}

// deleteTop pops the top variable, with a DELETE when emit is set.
func (c *codeGen) deleteTop(emit bool) *Variable {
	if len(c.stack) == 0 {
		c.failWhat("removing from empty variable stack")
	}
	v := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	c.sp -= stack.CellSize
	if emit {
		c.emit(newInstruction(c.pc, IRDelete, nil, v, nil))
	}
	return v
}

func (c *codeGen) deleteTops(size int32, emit bool) {
	for i := int32(0); i < size; i += stack.CellSize {
		c.deleteTop(emit)
	}
}

func (c *codeGen) emit(in *Instruction) *Instruction {
	c.flow.ir = append(c.flow.ir, in)
	return in
}

// mark returns the IR index the next emitted instruction will take.
func (c *codeGen) mark() int { return len(c.flow.ir) }

// operandTypes maps an instruction type byte to its operand types.
func (c *codeGen) operandTypes(t bytecode.TypeCode) (left, right bytecode.ActionType) {
	switch t {
	case bytecode.TypeInt:
		return bytecode.ActionInt, bytecode.ActionVoid
	case bytecode.TypeFloat:
		return bytecode.ActionFloat, bytecode.ActionVoid
	case bytecode.TypeString:
		return bytecode.ActionString, bytecode.ActionVoid
	case bytecode.TypeObject:
		return bytecode.ActionObject, bytecode.ActionVoid
	case bytecode.TypeIntInt:
		return bytecode.ActionInt, bytecode.ActionInt
	case bytecode.TypeFloatFloat:
		return bytecode.ActionFloat, bytecode.ActionFloat
	case bytecode.TypeStringString:
		return bytecode.ActionString, bytecode.ActionString
	case bytecode.TypeObjectObject:
		return bytecode.ActionObject, bytecode.ActionObject
	case bytecode.TypeIntFloat:
		return bytecode.ActionInt, bytecode.ActionFloat
	case bytecode.TypeFloatInt:
		return bytecode.ActionFloat, bytecode.ActionInt
	case bytecode.TypeVectorVector:
		return bytecode.ActionVector, bytecode.ActionVector
	case bytecode.TypeVectorFloat:
		return bytecode.ActionVector, bytecode.ActionFloat
	case bytecode.TypeFloatVector:
		return bytecode.ActionFloat, bytecode.ActionVector
	}
	if t.IsEngine() || t.IsEngineEngine() {
		e := bytecode.ActionEngine0 + bytecode.ActionType(t.EngineOrdinal())
		return e, e
	}
	c.failf(NoStackIndex, "invalid operand type", "%02X", byte(t))
	return
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

func (c *codeGen) step(in bytecode.Instruction) {
	a := c.a
	pc := c.pc

	switch in.Op {
	case bytecode.OpRetn:
		c.emit(newInstruction(pc, IRRetn, nil, nil, nil))

	case bytecode.OpJSR:
		target := in.Target()
		callee := a.Subroutine(target)
		if callee == nil || callee.err != nil {
			c.failf(NoStackIndex, "call to unanalyzed subroutine", "%08X", target)
		}
		// The VM pushes the entry point's parameters itself, so #globals
		// calls it without them.
		paramSize := callee.paramSize
		if target == a.entryPC && c.sub.address == a.globalsPC {
			paramSize = 0
		}
		c.checkStackSize(c.returnSP, callee.returnSize+paramSize)

		call := c.emit(&Instruction{Address: pc, Op: IRCall, Subroutine: callee,
			Params: make([]*Variable, (callee.returnSize+paramSize)/stack.CellSize)})
		retCells := int(callee.returnSize / stack.CellSize)
		for i := 0; int32(i)*stack.CellSize < paramSize; i++ {
			v := c.deleteTop(true)
			v.SetClass(ClassCallParameter)
			c.link(callee.paramVars[i], v)
			call.Params[i+retCells] = v
		}
		for i, sp := 0, c.sp-callee.returnSize; sp < c.sp; i, sp = i+1, sp+stack.CellSize {
			v := c.local(sp)
			v.SetClass(ClassCallReturnValue)
			c.link(callee.returnVars[i], v)
			call.Params[i] = v
		}

	case bytecode.OpJmp:
		// Flow children carry unconditional transfers.

	case bytecode.OpJZ, bytecode.OpJNZ:
		c.checkStackSize(c.returnSP, stack.CellSize)
		test := c.emit(newInstruction(pc, IRTest, nil, nil, nil))
		v := c.deleteTop(true)
		test.Vars[0] = v
		switch v.Type() {
		case bytecode.ActionVoid:
			c.setType(v, bytecode.ActionInt)
		case bytecode.ActionInt:
		default:
			c.failf(int(c.sp/stack.CellSize), "condition variable not integer", "%s", typeName(v.Type()))
		}
		op := IRJZ
		if in.Op == bytecode.OpJNZ {
			op = IRJNZ
		}
		jump := c.emit(newInstruction(pc, op, nil, nil, nil))
		if jump.Target = c.sub.label(in.Target()); jump.Target == nil {
			c.failf(NoStackIndex, "missing branch target", "%08X", in.Target())
		}

	case bytecode.OpStoreState, bytecode.OpStoreStateAll:
		var globalsSize, localsSize int32
		if in.Op == bytecode.OpStoreState {
			globalsSize, localsSize = in.StoreState()
			c.checkGlobal(-globalsSize, globalsSize)
		} else {
			globalsSize = int32(len(a.globals)) * stack.CellSize
			localsSize = c.sp
		}
		situation := a.Subroutine(in.ResumePC())
		if situation == nil {
			c.failf(NoStackIndex, "unknown script situation", "%08X", in.ResumePC())
		}
		save := c.emit(&Instruction{Address: pc, Op: IRSaveState, Subroutine: situation,
			StateGlobals: int(globalsSize / stack.CellSize)})
		for off := int32(0); off < globalsSize; off += stack.CellSize {
			save.Params = append(save.Params, c.global(-off-stack.CellSize))
		}
		for off := int32(0); off < localsSize; off += stack.CellSize {
			v := c.local(c.sp - off - stack.CellSize)
			pv, err := situation.ParameterVariable(int(off / stack.CellSize))
			if err != nil {
				c.fail(err)
			}
			c.link(pv, v)
			save.Params = append(save.Params, v)
		}
		c.sub.flags |= SavesState

	case bytecode.OpCPDownSP:
		off, size := in.Offset(), int32(in.Size())
		c.checkStack(0, off, size)
		if off+size > -size {
			c.failWhat("CPDOWNSP source/destination overlap")
		}
		for i := int32(0); i < size; i += stack.CellSize {
			dst := c.local(c.sp + off + i)
			src := c.local(c.sp - size + i)
			c.link(dst, src)
			c.emit(newInstruction(pc, IRAssign, dst, src, nil))
		}

	case bytecode.OpRSAdd:
		t, _ := c.operandTypes(in.Type)
		v := c.createLocal(t, ClassLocal)
		c.emit(newInstruction(pc, IRInitialize, v, nil, nil))

	case bytecode.OpCPTopSP:
		off, size := in.Offset(), int32(in.Size())
		c.checkStack(c.returnSP, off, size)
		for i := int32(0); i < size; i += stack.CellSize {
			// SP moves with every push, so the same offset walks the source.
			src := c.local(c.sp + off)
			v := c.createLocal(src.Type(), ClassLocal)
			if src.Type() == bytecode.ActionVoid {
				c.link(v, src)
			}
			c.emit(newInstruction(pc, IRAssign, v, src, nil))
		}

	case bytecode.OpConst:
		t, _ := c.operandTypes(in.Type)
		k := a.newVariable(c.sp, ClassConstant, t)
		c.sub.locals = append(c.sub.locals, k)
		k.value = &Constant{Type: t}
		switch t {
		case bytecode.ActionInt:
			k.value.Int = in.IntConst()
		case bytecode.ActionFloat:
			k.value.Float = in.FloatConst()
		case bytecode.ActionString:
			k.value.String = in.StringConst()
		default:
			k.value.Object = uint32(in.IntConst())
		}
		v := c.createLocal(t, ClassLocal)
		c.emit(newInstruction(pc, IRAssign, v, k, nil))

	case bytecode.OpAction:
		c.action(in)

	case bytecode.OpLogAnd, bytecode.OpLogOr, bytecode.OpIncOr, bytecode.OpExcOr, bytecode.OpBoolAnd:
		c.checkStackSize(c.returnSP, 2*stack.CellSize)
		at := c.mark()
		op := c.emit(newInstruction(pc, irOpcodes[in.Op], nil, nil, nil))
		for i := 0; i < 2; i++ {
			v := c.deleteTop(true)
			c.setType(v, bytecode.ActionInt)
			op.Vars[i] = v
		}
		op.Result = c.createLocalAt(at, bytecode.ActionInt, ClassLocal)

	case bytecode.OpEqual, bytecode.OpNEqual:
		c.compare(in)

	case bytecode.OpGEq, bytecode.OpGT, bytecode.OpLT, bytecode.OpLEq,
		bytecode.OpShLeft, bytecode.OpShRight, bytecode.OpUShRight, bytecode.OpMod:
		c.checkStackSize(c.returnSP, 2*stack.CellSize)
		at := c.mark()
		op := c.emit(newInstruction(pc, irOpcodes[in.Op], nil, nil, nil))
		t, _ := c.operandTypes(in.Type)
		for i := 0; i < 2; i++ {
			v := c.deleteTop(true)
			c.setType(v, t)
			op.Vars[1-i] = v
		}
		op.Result = c.createLocalAt(at, bytecode.ActionInt, ClassLocal)

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv:
		c.arithmetic(in)

	case bytecode.OpNeg, bytecode.OpComp, bytecode.OpNot:
		c.checkStackSize(c.returnSP, stack.CellSize)
		t, _ := c.operandTypes(in.Type)
		at := c.mark()
		op := c.emit(newInstruction(pc, irOpcodes[in.Op], nil, nil, nil))
		src := c.deleteTop(true)
		c.setType(src, t)
		op.Vars[0] = src
		op.Result = c.createLocalAt(at, t, ClassLocal)

	case bytecode.OpMovSP:
		d := in.Offset()
		switch {
		case d&unaligned != 0:
			c.failWhat("unaligned MOVSP")
		case d > 0:
			c.failWhat("positive MOVSP")
		case d+c.sp < 0:
			c.failf(int(c.sp/stack.CellSize), "stack underflow",
				"%X bytes to pop, stack size %X bytes", -d, c.sp)
		}
		c.deleteTops(-d, true)

	case bytecode.OpDestruct:
		s, o, e := in.Destruct()
		size, exclOffset, exclSize := int32(s), int32(o), int32(e)
		c.checkStackSize(c.returnSP, size)
		if exclOffset > size {
			c.failWhat("invalid exclude offset")
		} else if exclSize > size || exclOffset+exclSize > size {
			c.failWhat("too large exclude size")
		}
		for off := int32(0); off < exclSize; off += stack.CellSize {
			src := (c.sp - size + exclOffset + off) / stack.CellSize
			dst := (c.sp - size + off) / stack.CellSize
			c.stack[src], c.stack[dst] = c.stack[dst], c.stack[src]
		}
		c.deleteTops(size-exclSize, true)

	case bytecode.OpDecISP, bytecode.OpIncISP:
		d := in.Offset()
		c.checkStack(0, d, stack.CellSize)
		v := c.local(c.sp + d)
		c.setType(v, bytecode.ActionInt)
		c.emit(newInstruction(pc, irOpcodes[in.Op], v, v, nil))

	case bytecode.OpCPDownBP:
		off, size := in.Offset(), int32(in.Size())
		c.checkStackSize(c.returnSP, size)
		c.checkGlobal(off, size)
		for rel := int32(0); rel < size; rel += stack.CellSize {
			g := c.global(off + rel)
			v := c.local(c.sp + rel - size)
			c.link(g, v)
			c.emit(newInstruction(pc, IRAssign, g, v, nil))
		}

	case bytecode.OpCPTopBP:
		off, size := in.Offset(), int32(in.Size())
		c.checkGlobal(off, size)
		for rel := int32(0); rel < size; rel += stack.CellSize {
			g := c.global(off + rel)
			v := c.createLocal(g.Type(), ClassLocal)
			if g.Type() == bytecode.ActionVoid {
				c.link(v, g)
			}
			c.emit(newInstruction(pc, IRAssign, v, g, nil))
		}

	case bytecode.OpDecIBP, bytecode.OpIncIBP:
		off := in.Offset()
		c.checkGlobal(off, stack.CellSize)
		g := c.global(off)
		switch g.Type() {
		case bytecode.ActionVoid:
			c.setType(g, bytecode.ActionInt)
		case bytecode.ActionInt:
		default:
			c.failf(NoStackIndex, "global variable is not of type int", "offset %d", off)
		}
		c.emit(newInstruction(pc, irOpcodes[in.Op], g, g, nil))

	case bytecode.OpSaveBP:
		// Only #globals builds a global frame; everything on the stack above
		// its own frame becomes a global.
		if c.sub.address != a.globalsPC {
			c.failWhat("SAVEBP used outside #globals")
		}
		if len(a.globals) > 0 {
			c.failWhat("SAVEBP after global creation")
		}
		for _, v := range c.stack[(c.sub.returnSize+c.sub.paramSize)/stack.CellSize:] {
			v.SetClass(ClassGlobal)
			a.globals = append(a.globals, v)
		}
		c.setType(c.newLocal(ClassLocal, bytecode.ActionVoid), TypeSavedBP)

	case bytecode.OpRestoreBP:
		if c.sub.address != a.globalsPC {
			c.failWhat("RESTOREBP used outside #globals")
		}
		if len(c.stack) == 0 {
			c.failWhat("RESTOREBP without global variable frame")
		}
		c.deleteTop(false)

	case bytecode.OpNop:

	default:
		c.failWhat("unrecognized instruction")
	}
}

func (c *codeGen) action(in bytecode.Instruction) {
	def, err := c.a.actionCall(in)
	if err != nil {
		c.fail(err)
	}
	argc := int(in.ArgCount())
	at := c.mark()
	act := c.emit(&Instruction{Address: c.pc, Op: IRAction, ActionID: def.ID, ActionArgc: argc})

	retSize := typeSize(def.Return)
	var total int32
	for _, p := range def.Parameters[:argc] {
		total += typeSize(p)
	}
	c.checkStackSize(c.returnSP, total)
	act.Params = make([]*Variable, (total+retSize)/stack.CellSize)

	cells := def.ParameterCells(argc)
	sp := c.sp
	var offset int32
	for _, p := range def.Parameters[:argc] {
		size := typeSize(p)
		for o := int32(0); o < size; o += stack.CellSize {
			sp -= stack.CellSize
			v := c.local(sp)
			want := cells[(c.sp-sp)/stack.CellSize-1]
			if st := v.Type(); st != bytecode.ActionVoid {
				if st != want {
					c.failf(int(-(offset+o)/stack.CellSize), "argument type mismatch",
						"%s should be %s", typeName(st), typeName(want))
				}
			} else {
				c.setType(v, want)
			}
			v.SetClass(ClassCallParameter)
			act.Params[(retSize+offset+o)/stack.CellSize] = v
		}
		offset += size
	}
	c.deleteTops(offset, true)

	// Return cells are created ahead of the ACTION that writes them.
	if def.Return == bytecode.ActionVector {
		for i := 0; i < 3; i++ {
			act.Params[i] = c.createLocalAt(at+i, bytecode.ActionFloat, ClassCallReturnValue)
		}
	} else if retSize == stack.CellSize {
		act.Params[0] = c.createLocalAt(at, def.Return, ClassCallReturnValue)
	}
}

// compare lowers EQUAL/NEQUAL to one comparison per cell, folding the
// per-cell results with LOGAND (EQUAL) or INCOR (NEQUAL).
func (c *codeGen) compare(in bytecode.Instruction) {
	var size int32
	var t bytecode.ActionType
	if in.Type == bytecode.TypeStructStruct {
		size = int32(in.StructSize())
	} else {
		t, _ = c.operandTypes(in.Type)
		size = typeSize(t)
	}
	c.checkStackSize(c.returnSP, 2*size)

	op := irOpcodes[in.Op]
	merge := IRLogAnd
	if in.Op == bytecode.OpNEqual {
		merge = IRIncOr
	}

	if size == 0 {
		// Empty structures never compare equal; the result is a plain int.
		v := c.createLocal(bytecode.ActionInt, ClassLocal)
		c.emit(newInstruction(c.pc, IRInitialize, v, nil, nil))
		return
	}

	base := c.sp - 2*size
	var prev *Variable
	for off := int32(0); off < size; off += stack.CellSize {
		result := c.createLocal(bytecode.ActionInt, ClassLocal)
		left := c.local(base + off)
		right := c.local(base + size + off)
		if in.Type != bytecode.TypeStructStruct {
			c.setType(left, t)
			c.setType(right, t)
		} else {
			c.link(left, right)
		}
		c.emit(newInstruction(c.pc, op, result, left, right))
		if off == 0 {
			prev = result
			continue
		}
		at := c.mark()
		m := c.emit(newInstruction(c.pc, merge, nil, prev, result))
		c.deleteTops(2*stack.CellSize, true)
		prev = c.createLocalAt(at, bytecode.ActionInt, ClassLocal)
		m.Result = prev
	}

	prev = c.deleteTop(false)
	c.deleteTops(2*size, true)
	c.push(prev)
}

func (c *codeGen) arithmetic(in bytecode.Instruction) {
	lt, rt := c.operandTypes(in.Type)
	ls, rs := typeSize(lt), typeSize(rt)
	c.checkStackSize(c.returnSP, ls+rs)
	op := irOpcodes[in.Op]

	switch in.Type {
	case bytecode.TypeVectorFloat, bytecode.TypeFloatVector, bytecode.TypeVectorVector:
		rightSP := c.sp - rs
		leftSP := rightSP - ls
		var lstride, rstride int32
		if lt == bytecode.ActionVector {
			lstride = stack.CellSize
		}
		if rt == bytecode.ActionVector {
			rstride = stack.CellSize
		}
		for i := int32(0); i < 3; i++ {
			result := c.createLocal(bytecode.ActionFloat, ClassLocal)
			left := c.local(leftSP + lstride*i)
			right := c.local(rightSP + rstride*i)
			c.emit(newInstruction(c.pc, op, result, left, right))
		}
		for off := ls + rs; off > 0; off -= stack.CellSize {
			v := c.local(leftSP + off - stack.CellSize)
			c.emit(newInstruction(c.pc, IRDelete, nil, v, nil))
			c.setType(v, bytecode.ActionFloat)
		}
		// Move the three results down over the operands.
		for i := int32(3); i > 0; i-- {
			v := c.deleteTop(false)
			c.stack[i-1+leftSP/stack.CellSize] = v
		}
		c.deleteTops(ls+rs-3*stack.CellSize, false)

	default:
		at := c.mark()
		instr := c.emit(newInstruction(c.pc, op, nil, nil, nil))
		types := [2]bytecode.ActionType{lt, rt}
		for i := 0; i < 2; i++ {
			v := c.deleteTop(true)
			c.setType(v, types[1-i])
			instr.Vars[1-i] = v
		}
		result := lt
		if in.Type == bytecode.TypeIntFloat {
			result = rt
		}
		instr.Result = c.createLocalAt(at, result, ClassLocal)
	}
}
