package analyzer

import (
	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/pkg/stack"
)

// queueEntry is a pending walk: a flow of sub to continue at pc with the
// virtual stack at sp. An entry with blockedOn set waits for that
// subroutine's parameter size.
type queueEntry struct {
	pc        uint32
	sp        int32
	flow      *ControlFlow
	sub       *Subroutine
	blockedOn *Subroutine
}

const unaligned = stack.CellSize - 1

// ---------------------------------------------------------------------------
// Opcode type validation
// ---------------------------------------------------------------------------

var validOpcodeTypes = func() map[bytecode.Opcode]map[bytecode.TypeCode]bool {
	set := func(types ...bytecode.TypeCode) map[bytecode.TypeCode]bool {
		m := make(map[bytecode.TypeCode]bool, len(types))
		for _, t := range types {
			m[t] = true
		}
		return m
	}
	engines := func() []bytecode.TypeCode {
		var out []bytecode.TypeCode
		for t := bytecode.TypeEngineFirst; t <= bytecode.TypeEngineLast; t++ {
			out = append(out, t)
		}
		return out
	}
	engineEngines := func() []bytecode.TypeCode {
		var out []bytecode.TypeCode
		for t := bytecode.TypeEngineEngineFirst; t <= bytecode.TypeEngineEngineLast; t++ {
			out = append(out, t)
		}
		return out
	}

	const (
		ii = bytecode.TypeIntInt
		ff = bytecode.TypeFloatFloat
		oo = bytecode.TypeObjectObject
		ss = bytecode.TypeStringString
		tt = bytecode.TypeStructStruct
		iF = bytecode.TypeIntFloat
		fi = bytecode.TypeFloatInt
		vv = bytecode.TypeVectorVector
		vf = bytecode.TypeVectorFloat
		fv = bytecode.TypeFloatVector
	)

	m := make(map[bytecode.Opcode]map[bytecode.TypeCode]bool)
	for _, op := range []bytecode.Opcode{bytecode.OpCPDownSP, bytecode.OpCPTopSP,
		bytecode.OpDestruct, bytecode.OpCPDownBP, bytecode.OpCPTopBP} {
		m[op] = set(bytecode.TypeStackOp)
	}
	m[bytecode.OpRSAdd] = set(append([]bytecode.TypeCode{bytecode.TypeInt, bytecode.TypeFloat,
		bytecode.TypeString, bytecode.TypeObject}, engines()...)...)
	m[bytecode.OpConst] = set(bytecode.TypeInt, bytecode.TypeFloat, bytecode.TypeString, bytecode.TypeObject)
	for _, op := range []bytecode.Opcode{bytecode.OpAction, bytecode.OpMovSP, bytecode.OpJmp,
		bytecode.OpJSR, bytecode.OpJZ, bytecode.OpRetn, bytecode.OpJNZ, bytecode.OpSaveBP,
		bytecode.OpRestoreBP, bytecode.OpNop} {
		m[op] = set(bytecode.TypeNone)
	}
	for _, op := range []bytecode.Opcode{bytecode.OpLogAnd, bytecode.OpLogOr, bytecode.OpIncOr,
		bytecode.OpExcOr, bytecode.OpBoolAnd, bytecode.OpShLeft, bytecode.OpShRight,
		bytecode.OpUShRight, bytecode.OpMod} {
		m[op] = set(ii)
	}
	m[bytecode.OpEqual] = set(append([]bytecode.TypeCode{ii, ff, ss, oo, tt}, engineEngines()...)...)
	m[bytecode.OpNEqual] = m[bytecode.OpEqual]
	for _, op := range []bytecode.Opcode{bytecode.OpGEq, bytecode.OpGT, bytecode.OpLT, bytecode.OpLEq} {
		m[op] = set(ii, ff)
	}
	m[bytecode.OpSub] = set(ii, iF, fi, ff, vv)
	m[bytecode.OpAdd] = set(ii, iF, fi, ff, vv, ss)
	m[bytecode.OpDiv] = set(ii, iF, fi, ff, vf)
	m[bytecode.OpMul] = set(ii, iF, fi, ff, vf, fv)
	m[bytecode.OpNeg] = set(bytecode.TypeInt, bytecode.TypeFloat)
	for _, op := range []bytecode.Opcode{bytecode.OpComp, bytecode.OpNot, bytecode.OpDecISP,
		bytecode.OpIncISP, bytecode.OpDecIBP, bytecode.OpIncIBP} {
		m[op] = set(bytecode.TypeInt)
	}
	// Script situations carry the resume distance in the type byte.
	m[bytecode.OpStoreState] = nil
	m[bytecode.OpStoreStateAll] = nil
	return m
}()

func checkOpcodeType(in bytecode.Instruction) error {
	valid, ok := validOpcodeTypes[in.Op]
	if !ok {
		return scriptErrorf(in.PC, NoStackIndex, "unrecognized instruction", "opcode %02X", byte(in.Op))
	}
	if valid == nil || valid[in.Type] {
		return nil
	}
	return scriptErrorf(in.PC, NoStackIndex, "invalid opcode type value",
		"type %02X is not valid for opcode %02X", byte(in.Type), byte(in.Op))
}

// typeSize is the stack footprint of an action parameter or return value.
func typeSize(t bytecode.ActionType) int32 {
	return int32(t.Cells()) * stack.CellSize
}

// ---------------------------------------------------------------------------
// Structure discovery
// ---------------------------------------------------------------------------

// analyzeStructure discovers the flows and sizes of start's subroutine and
// of everything it reaches.
func (a *Analyzer) analyzeStructure(start queueEntry) {
	a.queue = []queueEntry{start}
	scanned := 0

	for len(a.queue) > 0 {
		i := a.nextEntry()
		if i < 0 {
			err := scriptError(a.queue[0].pc, "infinite recursion encountered; analysis aborted")
			for _, e := range a.queue {
				e.sub.fail(err)
			}
			a.queue = nil
			return
		}
		e := a.queue[i]
		a.queue = append(a.queue[:i], a.queue[i+1:]...)

		if e.sub.err != nil {
			continue
		}
		if e.blockedOn != nil && e.blockedOn.err != nil {
			e.sub.fail(scriptErrorf(e.pc, NoStackIndex, "call to failed subroutine",
				"%08X: %v", e.blockedOn.address, e.blockedOn.err))
			a.dropEntries(e.sub)
			continue
		}

		if err := a.walkStructure(e, &scanned); err != nil {
			a.log.Debugf("structure analysis of %08X failed: %v", e.sub.address, err)
			e.sub.fail(wrapError(e.pc, err))
			a.dropEntries(e.sub)
		}
	}
}

// nextEntry returns the index of the first runnable queue entry, or -1.
func (a *Analyzer) nextEntry() int {
	for i, e := range a.queue {
		if e.blockedOn == nil || e.blockedOn.analyzed || e.blockedOn.err != nil {
			return i
		}
	}
	return -1
}

func (a *Analyzer) dropEntries(sub *Subroutine) {
	kept := a.queue[:0]
	for _, e := range a.queue {
		if e.sub != sub {
			kept = append(kept, e)
		}
	}
	a.queue = kept
}

func (a *Analyzer) hasQueueEntry(sub *Subroutine) bool {
	for _, e := range a.queue {
		if e.sub == sub {
			return true
		}
	}
	return false
}

// walkStructure follows one flow until it ends, branches or blocks.
func (a *Analyzer) walkStructure(e queueEntry, scanned *int) error {
	var subseq *ControlFlow
	if e.flow == nil {
		a.log.Debugf("analyzing function @ PC=%08X (SP=%08X)", e.pc, e.sp)
		e.flow = e.sub.newFlow(e.pc, e.sp)
		e.blockedOn = nil
	} else {
		subseq = e.sub.flows.after(e.pc)
	}

	for {
		if subseq != nil && e.pc >= subseq.StartPC {
			if subseq.StartSP != e.sp {
				return scriptErrorf(subseq.StartPC, NoStackIndex, "mismatched stack on control flow",
					"SP=%08X, FlowSP=%08X", uint32(e.sp), uint32(subseq.StartSP))
			}
			e.flow.EndPC = e.pc
			e.flow.EndSP = e.sp
			e.flow.Termination = TermMerge
			e.flow.Children = [2]*ControlFlow{subseq, nil}
			subseq.addParent(e.flow)
			return nil
		}

		if e.pc >= a.prog.Len() {
			return scriptError(e.pc, "reached eof in AnalyzeSubroutineStructure")
		}
		in, err := a.decode(e.pc)
		if err != nil {
			return err
		}
		*scanned++
		if *scanned > a.budget {
			return scriptError(e.pc, "too many script instructions in AnalyzeSubroutineStructure")
		}
		if err := checkOpcodeType(in); err != nil {
			return err
		}

		switch in.Op {
		case bytecode.OpRetn:
			if !e.sub.IsSituation() {
				if !e.sub.analyzed {
					if e.sp > 0 {
						return scriptErrorf(e.pc, NoStackIndex, "illegal virtual SP on return",
							"SP=%08X", uint32(e.sp))
					}
					if err := e.sub.setParameterSize(-e.sp); err != nil {
						return err
					}
				} else if e.sub.paramSize != -e.sp {
					return scriptErrorf(e.pc, NoStackIndex, "unbalanced virtual SP on return",
						"expected %d, actual %d", e.sub.paramSize, -e.sp)
				}
			}
			e.sub.analyzed = true
			e.flow.EndPC = in.Next()
			e.flow.EndSP = e.sp
			e.flow.Termination = TermTerminate
			return nil

		case bytecode.OpJSR, bytecode.OpStoreState, bytecode.OpStoreStateAll:
			var (
				rel      int32
				flags    SubroutineFlag
				saveSize int32
			)
			switch in.Op {
			case bytecode.OpJSR:
				rel = in.Jump()
			case bytecode.OpStoreState:
				rel = int32(in.Type)
				flags = ScriptSituation
				_, saveSize = in.StoreState()
			default:
				rel = int32(in.Type)
				flags = ScriptSituation
				saveSize = e.sp
			}
			if rel == 0 {
				return scriptError(e.pc, "trivial infinite loop (JSR) detected")
			}
			target := uint32(int64(e.pc) + int64(rel))

			sub := a.Subroutine(target)
			if sub == nil {
				sub = newSubroutine(target, flags)
				a.subs = append(a.subs, sub)
				if in.Op == bytecode.OpJSR {
					sub.symbol, _ = a.prog.Symbol(target, false)
				} else {
					_ = sub.setReturnSize(0)
					if err := sub.setParameterSize(saveSize); err != nil {
						return err
					}
				}
			}

			if sub.err != nil {
				return scriptErrorf(e.pc, NoStackIndex, "call to failed subroutine", "%08X", target)
			}

			if !sub.analyzed {
				if !a.hasQueueEntry(sub) && sub != e.sub {
					a.queue = append(a.queue, queueEntry{pc: target, sub: sub})
				}
				if sub.IsSituation() {
					e.pc = in.Next()
					continue
				}
				a.log.Debugf("analysis at PC=%08X blocking on subroutine %08X", e.pc, target)
				e.flow.EndPC = in.Next()
				e.flow.EndSP = InvalidSP
				e.blockedOn = sub
				a.queue = append(a.queue, e)
				return nil
			}

			if in.Op == bytecode.OpJSR {
				e.sp -= sub.paramSize
			}
			e.pc = in.Next()
			continue

		case bytecode.OpJZ, bytecode.OpJNZ, bytecode.OpJmp:
			if in.Jump() == 0 {
				return scriptError(e.pc, "trivial infinite loop detected")
			}
			if in.Op != bytecode.OpJmp {
				e.sp -= stack.CellSize
			}
			e.flow.EndPC = in.Next()
			e.flow.EndSP = e.sp
			if in.Op == bytecode.OpJmp {
				e.flow.Termination = TermTransfer
			} else {
				e.flow.Termination = TermSplit
			}

			branch, newBranch, err := a.prepareNewControlFlow(&e, in.Target())
			if err != nil {
				return err
			}
			var fall *ControlFlow
			var newFall bool
			if in.Op != bytecode.OpJmp {
				if fall, newFall, err = a.prepareNewControlFlow(&e, in.Next()); err != nil {
					return err
				}
			}
			e.flow.Children = [2]*ControlFlow{branch, fall}

			if newBranch {
				a.queue = append(a.queue, queueEntry{pc: branch.StartPC, sp: branch.StartSP, flow: branch, sub: e.sub})
			}
			if newFall {
				a.queue = append(a.queue, queueEntry{pc: fall.StartPC, sp: fall.StartSP, flow: fall, sub: e.sub})
			}
			return nil

		case bytecode.OpCPDownSP:
			if in.Offset()&unaligned != 0 || int32(in.Size())&unaligned != 0 {
				return scriptError(e.pc, "unaligned CPDOWNSP access")
			}
			if err := e.sub.updateReturnSize(e.sp + in.Offset()); err != nil {
				return err
			}

		case bytecode.OpCPTopSP, bytecode.OpCPTopBP:
			if in.Offset()&unaligned != 0 || int32(in.Size())&unaligned != 0 {
				return scriptErrorf(e.pc, NoStackIndex, "unaligned stack access", "%s", in.Op)
			}
			e.sp += int32(in.Size())

		case bytecode.OpRSAdd, bytecode.OpConst, bytecode.OpSaveBP:
			e.sp += stack.CellSize

		case bytecode.OpAction:
			def, err := a.actionCall(in)
			if err != nil {
				return err
			}
			for _, p := range def.Parameters[:in.ArgCount()] {
				e.sp -= typeSize(p)
			}
			e.sp += typeSize(def.Return)

		case bytecode.OpLogAnd, bytecode.OpLogOr, bytecode.OpIncOr, bytecode.OpExcOr,
			bytecode.OpBoolAnd, bytecode.OpGEq, bytecode.OpGT, bytecode.OpLT, bytecode.OpLEq,
			bytecode.OpShLeft, bytecode.OpShRight, bytecode.OpUShRight,
			bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpRestoreBP:
			e.sp -= stack.CellSize

		case bytecode.OpEqual, bytecode.OpNEqual:
			if in.Type == bytecode.TypeStructStruct {
				size := int32(in.StructSize())
				if size&unaligned != 0 {
					return scriptError(e.pc, "unaligned struct/struct comparison")
				}
				e.sp -= 2 * size
				e.sp += stack.CellSize
			} else {
				e.sp -= stack.CellSize
			}

		case bytecode.OpAdd, bytecode.OpSub:
			if in.Type == bytecode.TypeVectorVector {
				e.sp -= 3 * stack.CellSize
			} else {
				e.sp -= stack.CellSize
			}

		case bytecode.OpMovSP:
			d := in.Offset()
			if d&unaligned != 0 {
				return scriptError(e.pc, "unaligned MOVSP")
			}
			if d > 0 {
				return scriptError(e.pc, "positive MOVSP")
			}
			e.sp += d

		case bytecode.OpDestruct:
			size, exclOffset, exclSize := in.Destruct()
			if int32(size)&unaligned != 0 || int32(exclOffset)&unaligned != 0 || int32(exclSize)&unaligned != 0 {
				return scriptError(e.pc, "unaligned DESTRUCT")
			}
			if exclSize > size {
				return scriptError(e.pc, "too large DESTRUCT.ExcludeSize")
			}
			e.sp -= int32(size) - int32(exclSize)

		case bytecode.OpNeg, bytecode.OpComp, bytecode.OpNot, bytecode.OpDecISP,
			bytecode.OpIncISP, bytecode.OpCPDownBP, bytecode.OpDecIBP, bytecode.OpIncIBP,
			bytecode.OpNop:

		default:
			return scriptError(e.pc, "unrecognized instruction")
		}

		e.pc = in.Next()
	}
}

// actionCall validates an ACTION instruction against the action table.
func (a *Analyzer) actionCall(in bytecode.Instruction) (*bytecode.ActionDefinition, error) {
	def, ok := a.actions[in.ActionID()]
	if !ok {
		return nil, scriptErrorf(in.PC, NoStackIndex, "out of range action call", "action %d", in.ActionID())
	}
	argc := int(in.ArgCount())
	if argc < def.MinParameters {
		return nil, scriptErrorf(in.PC, NoStackIndex, "too few parameters for action call", "%s", def.Name)
	}
	if argc > len(def.Parameters) {
		return nil, scriptErrorf(in.PC, NoStackIndex, "too many parameters for action call", "%s", def.Name)
	}
	return def, nil
}

// prepareNewControlFlow returns the flow that starts at pc, splitting an
// existing flow when pc lands inside one. It reports whether the flow is new
// and still needs a walk.
func (a *Analyzer) prepareNewControlFlow(e *queueEntry, pc uint32) (*ControlFlow, bool, error) {
	sub := e.sub
	target := sub.flows.lookup(pc)

	if target == nil {
		target = newControlFlow(pc, e.sp)
		target.addParent(e.flow)
		sub.flows.set(pc, target)
		sub.branchTargets = append(sub.branchTargets, &Label{Address: pc, SP: e.sp, Flow: target})
		return target, true, nil
	}

	if target.StartPC == pc {
		if target.StartSP != e.sp {
			return nil, false, scriptErrorf(pc, NoStackIndex, "mismatched stack on control flow",
				"SP=%08X, FlowSP=%08X", uint32(e.sp), uint32(target.StartSP))
		}
		target.addParent(e.flow)
		return target, false, nil
	}

	// pc lands inside target. The head of target moves to a new flow that
	// merges into target, which now starts at pc; queue entries holding
	// target stay valid.
	a.log.Debugf("splitting flow %X/%X-%X/%X due to branch to %X/%X",
		target.StartPC, target.StartSP, target.EndPC, target.EndSP, pc, e.sp)

	old := target
	head := newControlFlow(old.StartPC, old.StartSP)
	sub.flows.set(old.StartPC, head)
	sub.flows.set(pc, old)
	for _, l := range sub.branchTargets {
		if l.Address == old.StartPC {
			l.Flow = head
			break
		}
	}
	sub.branchTargets = append(sub.branchTargets, &Label{Address: pc, SP: e.sp, Flow: old})

	head.EndPC = pc
	head.EndSP = e.sp
	head.Termination = TermMerge
	head.Children = [2]*ControlFlow{old, nil}

	for _, p := range old.parents {
		for i := range p.Children {
			if p.Children[i] == old {
				p.Children[i] = head
			}
		}
	}
	head.parents, old.parents = old.parents, nil

	old.StartPC = pc
	old.StartSP = e.sp
	old.addParent(head)
	old.addParent(e.flow)
	return old, false, nil
}
