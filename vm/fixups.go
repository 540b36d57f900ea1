package vm

import (
	"fmt"

	"github.com/chazu/nwscript/analyzer"
	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/pkg/stack"
)

// ---------------------------------------------------------------------------
// Entry point calling convention
// ---------------------------------------------------------------------------

// A script whose entry point returns a value starts with a #loader routine
// that reserves the return cell with RSADD.I before calling the entry
// point. Parameters pushed by the VM must sit above that cell, so the
// reservation has to happen first:
//
//   - Without globals the RSADD.I is patched to a NOP and the VM pushes the
//     return cell itself, then the parameters.
//   - With globals the reservation runs after #globals has built the global
//     frame (SAVEBP), so parameter pushing is deferred until the first
//     RSADD.I that follows SAVEBP. If a different instruction comes first
//     the entry point returns nothing and the parameters are pushed there.

type fixupState int

const (
	fixupWaitingForGlobals fixupState = iota
	fixupWaitingForEntryReserve
	fixupGotEntryReserve
	fixupDone
)

// applyFixups decides the program's patch state, patching the code when
// the return cell reservation can be removed up front.
func (v *VM) applyFixups(prog *bytecode.Program, hasParams bool) {
	if !hasParams || prog.Len() == 0 {
		prog.SetPatchState(bytecode.PatchNormal)
		return
	}

	globals := hasGlobals(prog)
	first, err := bytecode.Decode(prog.Code, 0)
	if err != nil {
		prog.SetPatchState(bytecode.PatchNormal)
		return
	}
	v.debugf("%s: Script Opcode=%02X:%02X (HasGlobals %t)", prog.Name, byte(first.Op), byte(first.Type), globals)

	switch {
	case first.Op == bytecode.OpRSAdd && first.Type == bytecode.TypeInt && !globals:
		prog.SetPatchState(bytecode.PatchReturnValue)
		prog.Patch(0, byte(bytecode.OpNop))
		prog.Patch(1, byte(bytecode.TypeNone))
		v.debugf("%s: Patching #loader immediately", prog.Name)
	case globals:
		prog.SetPatchState(bytecode.PatchUsesGlobals)
		v.debugf("%s: Deferring parameter push until after #globals", prog.Name)
	default:
		prog.SetPatchState(bytecode.PatchNormal)
	}
}

// hasGlobals reports whether the program builds a global frame, scanning
// linearly for SAVEBP. Undecodable code ends the scan.
func hasGlobals(prog *bytecode.Program) bool {
	for pc := uint32(0); pc < prog.Len(); {
		in, err := bytecode.Decode(prog.Code, pc)
		if err != nil {
			return false
		}
		if in.Op == bytecode.OpSaveBP {
			return true
		}
		pc = in.Next()
	}
	return false
}

// ---------------------------------------------------------------------------
// Analysis
// ---------------------------------------------------------------------------

// analyze discovers the entry point's parameter and return cell counts and
// caches them on the program. Failures are logged and leave the program
// unanalyzed.
func (v *VM) analyze(prog *bytecode.Program, flags ExecFlags) {
	if len(v.defs) == 0 {
		return
	}

	var af analyzer.Flags
	static := flags&StaticTypeDiscovery != 0
	if !static {
		af |= analyzer.StructureOnly
	}
	a := analyzer.New(v.defs)
	if err := a.Analyze(prog, af); err != nil {
		v.errorf("%s: Exception analyzing script: '%v'", prog.Name, err)
		return
	}
	subs := a.Subroutines()
	if len(subs) == 0 {
		return
	}
	entry := subs[0]

	st := &bytecode.AnalyzeState{
		ReturnCells:    entry.ReturnSize() / stack.CellSize,
		ParameterCells: entry.ParameterSize() / stack.CellSize,
	}
	if static && st.ParameterCells != 0 && a.EntryPC() != analyzer.InvalidPC {
		st.ArgumentTypes = make([]bytecode.ActionType, st.ParameterCells)
		copy(st.ArgumentTypes, entry.Parameters())
	}
	prog.SetAnalyzeState(st)
	v.debugf("%s: Entry point symbol at PC=%08X has ReturnCells=%d, ParameterCells=%d",
		prog.Name, entry.Address(), st.ReturnCells, st.ParameterCells)
}

// pushEntryParameters pushes params in reverse order, so the first
// parameter ends up on top.
func (v *VM) pushEntryParameters(x *invocation) error {
	s := x.stk
	if x.flags&StaticTypeDiscovery == 0 {
		for i := len(x.params) - 1; i >= 0; i-- {
			if err := s.PushDynamicParameter(x.params[i]); err != nil {
				return err
			}
		}
		return nil
	}

	st := x.prog.AnalyzeState()
	switch {
	case st == nil:
		return errEntry("script analysis did not succeed")
	case st.ParameterCells != len(x.params):
		return errEntry("wrong number of script arguments")
	case st.ArgumentTypes == nil && len(x.params) > 0:
		return errEntry("script was not analyzed with type discovery")
	}

	for i := len(x.params) - 1; i >= 0; i-- {
		text := x.params[i]
		var err error
		switch st.ArgumentTypes[i] {
		case bytecode.ActionInt, bytecode.ActionVoid:
			err = s.PushInt(stack.ParseInt(text))
		case bytecode.ActionFloat:
			err = s.PushFloat(stack.ParseFloat(text))
		case bytecode.ActionString:
			err = s.PushString(text)
		case bytecode.ActionObject:
			err = s.PushObject(stack.ParseObject(text, s.InvalidObject()))
		default:
			return errEntry("illegal script entrypoint argument type")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func errEntry(msg string) error {
	return fmt.Errorf("%w: %s", ErrEntryParameters, msg)
}
