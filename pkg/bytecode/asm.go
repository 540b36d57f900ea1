package bytecode

import (
	"encoding/binary"
	"math"
)

// Assembler builds NWScript code by hand. It is used by tests and tools that
// need small programs without a compiler.
type Assembler struct {
	Code []byte
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{Code: make([]byte, 0, 64)}
}

// PC returns the offset of the next emitted instruction.
func (a *Assembler) PC() uint32 {
	return uint32(len(a.Code))
}

// Emit appends an instruction with raw operand bytes and returns its PC.
func (a *Assembler) Emit(op Opcode, t TypeCode, operands ...byte) uint32 {
	pc := a.PC()
	a.Code = append(a.Code, byte(op), byte(t))
	a.Code = append(a.Code, operands...)
	return pc
}

func i32(v int32) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(v))
}

func i16(v int16) []byte {
	return binary.BigEndian.AppendUint16(nil, uint16(v))
}

// ConstInt emits CONST.I.
func (a *Assembler) ConstInt(v int32) uint32 { return a.Emit(OpConst, TypeInt, i32(v)...) }

// ConstFloat emits CONST.F.
func (a *Assembler) ConstFloat(v float32) uint32 {
	return a.Emit(OpConst, TypeFloat, binary.BigEndian.AppendUint32(nil, math.Float32bits(v))...)
}

// ConstString emits CONST.S.
func (a *Assembler) ConstString(s string) uint32 {
	return a.Emit(OpConst, TypeString, append(i16(int16(len(s))), s...)...)
}

// ConstObject emits CONST.O.
func (a *Assembler) ConstObject(v uint32) uint32 {
	return a.Emit(OpConst, TypeObject, i32(int32(v))...)
}

// RSAdd emits RSADD of the given unary type.
func (a *Assembler) RSAdd(t TypeCode) uint32 { return a.Emit(OpRSAdd, t) }

// Op emits an operand-less instruction such as ADD.II or RETN.
func (a *Assembler) Op(op Opcode, t TypeCode) uint32 { return a.Emit(op, t) }

// Copy emits CPDOWNSP, CPTOPSP, CPDOWNBP or CPTOPBP.
func (a *Assembler) Copy(op Opcode, offset int32, size int16) uint32 {
	return a.Emit(op, TypeStackOp, append(i32(offset), i16(size)...)...)
}

// MovSP emits MOVSP.
func (a *Assembler) MovSP(d int32) uint32 { return a.Emit(OpMovSP, TypeNone, i32(d)...) }

// IncDec emits DECISP, INCISP, DECIBP or INCIBP of an int.
func (a *Assembler) IncDec(op Opcode, offset int32) uint32 {
	return a.Emit(op, TypeInt, i32(offset)...)
}

// Action emits ACTION.
func (a *Assembler) Action(id uint16, argc uint8) uint32 {
	return a.Emit(OpAction, TypeNone, byte(id>>8), byte(id), argc)
}

// Jump emits a relative transfer to an absolute target.
func (a *Assembler) Jump(op Opcode, target uint32) uint32 {
	pc := a.PC()
	return a.Emit(op, TypeNone, i32(int32(target)-int32(pc))...)
}

// JumpForward emits a relative transfer with a placeholder displacement and
// returns its PC for PatchJump.
func (a *Assembler) JumpForward(op Opcode) uint32 {
	return a.Emit(op, TypeNone, 0, 0, 0, 0)
}

// PatchJump points the transfer at pc to target.
func (a *Assembler) PatchJump(pc, target uint32) {
	binary.BigEndian.PutUint32(a.Code[pc+2:], uint32(int32(target)-int32(pc)))
}

// Destruct emits DESTRUCT.
func (a *Assembler) Destruct(size, exclOffset, exclSize int16) uint32 {
	ops := append(i16(size), i16(exclOffset)...)
	return a.Emit(OpDestruct, TypeStackOp, append(ops, i16(exclSize)...)...)
}

// StoreState emits STORE_STATE with the standard resume delta.
func (a *Assembler) StoreState(bp, sp int32) uint32 {
	return a.Emit(OpStoreState, StoreStateResume, append(i32(bp), i32(sp)...)...)
}

// CompareStruct emits EQUAL.TT or NEQUAL.TT.
func (a *Assembler) CompareStruct(op Opcode, size uint16) uint32 {
	return a.Emit(op, TypeStructStruct, byte(size>>8), byte(size))
}

// Program wraps the assembled code.
func (a *Assembler) Program(name string) *Program {
	code := make([]byte, len(a.Code))
	copy(code, a.Code)
	return NewProgram(name, code)
}
