package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnrecognizedOpcode is returned when the opcode byte is not known.
	ErrUnrecognizedOpcode = errors.New("unrecognized opcode")

	// ErrIllegalInstruction is returned when an opcode is paired with a type
	// code the decoder cannot size.
	ErrIllegalInstruction = errors.New("illegal instruction")

	// ErrTruncated is returned when an instruction runs past the end of code.
	ErrTruncated = errors.New("instruction truncated")
)

// Instruction is one decoded instruction. Operands aliases the code buffer
// and holds everything after the opcode and type bytes.
type Instruction struct {
	PC       uint32
	Op       Opcode
	Type     TypeCode
	Len      uint32
	Operands []byte
}

// InstructionLength returns the encoded length of the instruction at pc
// without bounds checking the operands.
func InstructionLength(code []byte, pc uint32) (uint32, error) {
	if uint64(pc)+2 > uint64(len(code)) {
		return 0, fmt.Errorf("%w at PC=%08X", ErrTruncated, pc)
	}
	op := Opcode(code[pc])
	t := TypeCode(code[pc+1])

	switch op {
	case OpConst:
		switch {
		case t == TypeInt, t == TypeFloat, t == TypeObject, t.IsEngine():
			return 6, nil
		case t == TypeString:
			if uint64(pc)+4 > uint64(len(code)) {
				return 0, fmt.Errorf("%w at PC=%08X", ErrTruncated, pc)
			}
			n := int16(binary.BigEndian.Uint16(code[pc+2:]))
			if n < 0 {
				return 0, fmt.Errorf("%w: CONST.S length %d at PC=%08X", ErrIllegalInstruction, n, pc)
			}
			return 4 + uint32(n), nil
		}
		return 0, fmt.Errorf("%w: CONST.%02X at PC=%08X", ErrIllegalInstruction, byte(t), pc)

	case OpEqual, OpNEqual:
		switch {
		case t >= TypeIntInt && t < TypeStructStruct:
			return 2, nil
		case t == TypeStructStruct:
			return 4, nil
		case t.IsEngineEngine():
			return 2, nil
		}
		return 0, fmt.Errorf("%w: %s.%02X at PC=%08X", ErrIllegalInstruction, op, byte(t), pc)
	}

	info, ok := opcodeInfoTable[op]
	if !ok {
		return 0, fmt.Errorf("%w %02X at PC=%08X", ErrUnrecognizedOpcode, byte(op), pc)
	}
	return uint32(info.Length), nil
}

// Decode decodes the instruction at pc.
func Decode(code []byte, pc uint32) (Instruction, error) {
	n, err := InstructionLength(code, pc)
	if err != nil {
		return Instruction{}, err
	}
	end := uint64(pc) + uint64(n)
	if end > uint64(len(code)) {
		return Instruction{}, fmt.Errorf("%w: %s needs %d bytes at PC=%08X", ErrTruncated, Opcode(code[pc]), n, pc)
	}
	return Instruction{
		PC:       pc,
		Op:       Opcode(code[pc]),
		Type:     TypeCode(code[pc+1]),
		Len:      n,
		Operands: code[pc+2 : end],
	}, nil
}

// Next returns the PC of the instruction that follows.
func (i Instruction) Next() uint32 {
	return i.PC + i.Len
}

func (i Instruction) i32(off int) int32 {
	return int32(binary.BigEndian.Uint32(i.Operands[off:]))
}

func (i Instruction) i16(off int) int16 {
	return int16(binary.BigEndian.Uint16(i.Operands[off:]))
}

// Offset returns the i32 stack offset of CPDOWN*, CPTOP*, MOVSP, DEC*/INC*.
func (i Instruction) Offset() int32 { return i.i32(0) }

// Size returns the i16 byte count of CPDOWN* and CPTOP*.
func (i Instruction) Size() int16 { return i.i16(4) }

// Jump returns the relative displacement of JMP, JSR, JZ and JNZ.
func (i Instruction) Jump() int32 { return i.i32(0) }

// Target returns the absolute destination of a relative transfer.
func (i Instruction) Target() uint32 { return uint32(int64(i.PC) + int64(i.Jump())) }

// ActionID returns the action number of an ACTION instruction.
func (i Instruction) ActionID() uint16 { return binary.BigEndian.Uint16(i.Operands) }

// ArgCount returns the argument count of an ACTION instruction.
func (i Instruction) ArgCount() uint8 { return i.Operands[2] }

// IntConst returns the operand of CONST.I and CONST.O.
func (i Instruction) IntConst() int32 { return i.i32(0) }

// FloatConst returns the operand of CONST.F.
func (i Instruction) FloatConst() float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(i.Operands))
}

// StringConst returns the operand of CONST.S.
func (i Instruction) StringConst() string { return string(i.Operands[2:]) }

// StructSize returns the byte count of EQUAL.TT / NEQUAL.TT.
func (i Instruction) StructSize() uint16 { return binary.BigEndian.Uint16(i.Operands) }

// Destruct returns the operands of DESTRUCT.
func (i Instruction) Destruct() (size, exclOffset, exclSize int16) {
	return i.i16(0), i.i16(2), i.i16(4)
}

// StoreState returns the bp and sp byte counts of STORE_STATE.
func (i Instruction) StoreState() (bp, sp int32) {
	return i.i32(0), i.i32(4)
}

// ResumePC returns where a captured situation resumes.
func (i Instruction) ResumePC() uint32 { return i.PC + uint32(i.Type) }

// String renders the instruction for listings and traces.
func (i Instruction) String() string {
	m := Mnemonic(i.Op, i.Type)
	switch i.Op {
	case OpCPDownSP, OpCPTopSP, OpCPDownBP, OpCPTopBP:
		return fmt.Sprintf("%-14s %d, %d", m, i.Offset(), i.Size())
	case OpMovSP, OpDecISP, OpIncISP, OpDecIBP, OpIncIBP:
		return fmt.Sprintf("%-14s %d", m, i.Offset())
	case OpJmp, OpJSR, OpJZ, OpJNZ:
		return fmt.Sprintf("%-14s %08X", m, i.Target())
	case OpAction:
		return fmt.Sprintf("%-14s %d(%d)", m, i.ActionID(), i.ArgCount())
	case OpDestruct:
		s, eo, es := i.Destruct()
		return fmt.Sprintf("%-14s %d, %d, %d", m, s, eo, es)
	case OpStoreState:
		bp, sp := i.StoreState()
		return fmt.Sprintf("%-14s %d, %d", m, bp, sp)
	case OpEqual, OpNEqual:
		if i.Type == TypeStructStruct {
			return fmt.Sprintf("%-14s %d", m, i.StructSize())
		}
	case OpConst:
		switch {
		case i.Type == TypeInt:
			return fmt.Sprintf("%-14s %d", m, i.IntConst())
		case i.Type == TypeObject:
			return fmt.Sprintf("%-14s %08X", m, uint32(i.IntConst()))
		case i.Type == TypeFloat:
			return fmt.Sprintf("%-14s %g", m, i.FloatConst())
		case i.Type == TypeString:
			return fmt.Sprintf("%-14s %q", m, i.StringConst())
		}
	case OpT:
		size := uint32(i.Type)<<24 | uint32(i.Operands[0])<<16 | uint32(i.Operands[1])<<8 | uint32(i.Operands[2])
		return fmt.Sprintf("%-14s %d", "T", size)
	}
	return m
}
