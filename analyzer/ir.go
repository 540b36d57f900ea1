package analyzer

import (
	"fmt"

	"github.com/chazu/nwscript/pkg/bytecode"
)

// IROp is an intermediate representation operation.
type IROp uint8

const (
	IRCreate IROp = iota
	IRDelete
	IRInitialize
	IRAssign
	IRJZ
	IRJNZ
	IRJmp
	IRCall
	IRRetn
	IRAction
	IRSaveState
	IRLogAnd
	IRLogOr
	IRIncOr
	IRExcOr
	IRBoolAnd
	IREqual
	IRNEqual
	IRGEq
	IRGT
	IRLT
	IRLEq
	IRShLeft
	IRShRight
	IRUShRight
	IRAdd
	IRSub
	IRMul
	IRDiv
	IRMod
	IRNeg
	IRComp
	IRNot
	IRInc
	IRDec
	IRTest
)

var irOpNames = [...]string{
	"CREATE", "DELETE", "INITIALIZE", "ASSIGN", "JZ", "JNZ", "JMP", "CALL",
	"RETN", "ACTION", "SAVE_STATE", "LOGAND", "LOGOR", "INCOR", "EXCOR",
	"BOOLAND", "EQUAL", "NEQUAL", "GEQ", "GT", "LT", "LEQ", "SHLEFT",
	"SHRIGHT", "USHRIGHT", "ADD", "SUB", "MUL", "DIV", "MOD", "NEG", "COMP",
	"NOT", "INC", "DEC", "TEST",
}

func (op IROp) String() string {
	if int(op) < len(irOpNames) {
		return irOpNames[op]
	}
	return fmt.Sprintf("IROp(%d)", op)
}

// irOpcodes maps bytecode operations to their IR form.
var irOpcodes = map[bytecode.Opcode]IROp{
	bytecode.OpCPDownSP:      IRAssign,
	bytecode.OpCPDownBP:      IRAssign,
	bytecode.OpRSAdd:         IRCreate,
	bytecode.OpAction:        IRAction,
	bytecode.OpLogAnd:        IRLogAnd,
	bytecode.OpLogOr:         IRLogOr,
	bytecode.OpIncOr:         IRIncOr,
	bytecode.OpExcOr:         IRExcOr,
	bytecode.OpBoolAnd:       IRBoolAnd,
	bytecode.OpEqual:         IREqual,
	bytecode.OpNEqual:        IRNEqual,
	bytecode.OpGEq:           IRGEq,
	bytecode.OpGT:            IRGT,
	bytecode.OpLT:            IRLT,
	bytecode.OpLEq:           IRLEq,
	bytecode.OpShLeft:        IRShLeft,
	bytecode.OpShRight:       IRShRight,
	bytecode.OpUShRight:      IRUShRight,
	bytecode.OpAdd:           IRAdd,
	bytecode.OpSub:           IRSub,
	bytecode.OpMul:           IRMul,
	bytecode.OpDiv:           IRDiv,
	bytecode.OpMod:           IRMod,
	bytecode.OpNeg:           IRNeg,
	bytecode.OpComp:          IRComp,
	bytecode.OpStoreStateAll: IRSaveState,
	bytecode.OpStoreState:    IRSaveState,
	bytecode.OpJmp:           IRJmp,
	bytecode.OpJSR:           IRCall,
	bytecode.OpJZ:            IRJZ,
	bytecode.OpRetn:          IRRetn,
	bytecode.OpNot:           IRNot,
	bytecode.OpDecISP:        IRDec,
	bytecode.OpDecIBP:        IRDec,
	bytecode.OpIncISP:        IRInc,
	bytecode.OpIncIBP:        IRInc,
	bytecode.OpJNZ:           IRJNZ,
}

func irOpcode(op bytecode.Opcode) (IROp, error) {
	if ir, ok := irOpcodes[op]; ok {
		return ir, nil
	}
	return 0, fmt.Errorf("no IR form for opcode %s", op)
}

// Instruction is one IR operation. Which operand fields are meaningful
// depends on Op: Vars for unary and binary operations, Result for anything
// that produces a value, Params for calls, actions and saved states (return
// cells first).
type Instruction struct {
	Address uint32
	Seq     uint32
	Op      IROp

	Result *Variable
	Vars   [2]*Variable
	Params []*Variable

	Target     *Label
	Subroutine *Subroutine

	ActionID     uint16
	ActionArgc   int
	StateGlobals int
}

func newInstruction(pc uint32, op IROp, result, first, second *Variable) *Instruction {
	return &Instruction{Address: pc, Op: op, Result: result, Vars: [2]*Variable{first, second}}
}

// ext orders instructions that share a bytecode address.
func (in *Instruction) ext() uint64 {
	return uint64(in.Address)<<32 | uint64(in.Seq)
}

// Condition returns the tested variable of a TEST.
func (in *Instruction) Condition() *Variable { return in.Vars[0] }

// variableLists returns the variables in reads and writes.
func (a *Analyzer) variableLists(in *Instruction) (reads, writes []*Variable) {
	switch in.Op {
	case IRLogAnd, IRLogOr, IRIncOr, IRExcOr, IRBoolAnd, IREqual, IRNEqual,
		IRGEq, IRGT, IRLT, IRLEq, IRShLeft, IRShRight, IRUShRight,
		IRAdd, IRSub, IRMul, IRDiv, IRMod:
		reads = append(reads, in.Vars[1], in.Vars[0])
		writes = append(writes, in.Result)
	case IRAssign, IRNeg, IRComp, IRNot, IRInc, IRDec:
		reads = append(reads, in.Vars[0])
		writes = append(writes, in.Result)
	case IRTest:
		reads = append(reads, in.Vars[0])
	case IRInitialize:
		writes = append(writes, in.Result)
	case IRCall, IRAction:
		var returns int
		if in.Op == IRCall {
			returns = len(in.Subroutine.returnTypes)
		} else if def := a.actions[in.ActionID]; def != nil {
			returns = len(def.ReturnCells())
		}
		if returns > len(in.Params) {
			returns = len(in.Params)
		}
		writes = append(writes, in.Params[:returns]...)
		reads = append(reads, in.Params[returns:]...)
	case IRSaveState:
		reads = append(reads, in.Params...)
	}
	return reads, writes
}
