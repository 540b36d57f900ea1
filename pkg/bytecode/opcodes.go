package bytecode

import "fmt"

// Opcode is the first byte of every NWScript instruction.
type Opcode byte

const (
	// ========================================================================
	// Stack copies and reservation (0x01-0x04)
	// ========================================================================

	OpCPDownSP Opcode = 0x01 // Assign to SP-relative slot: <offset:i32> <size:i16>
	OpRSAdd    Opcode = 0x02 // Reserve a default-valued cell of the given type
	OpCPTopSP  Opcode = 0x03 // Duplicate SP-relative slot: <offset:i32> <size:i16>
	OpConst    Opcode = 0x04 // Push constant: <value:i32|f32|len:i16 bytes>

	// ========================================================================
	// Engine calls (0x05)
	// ========================================================================

	OpAction Opcode = 0x05 // Call engine action: <id:u16> <argc:u8>

	// ========================================================================
	// Logic and bitwise (0x06-0x0A)
	// ========================================================================

	OpLogAnd  Opcode = 0x06 // &&
	OpLogOr   Opcode = 0x07 // ||
	OpIncOr   Opcode = 0x08 // |
	OpExcOr   Opcode = 0x09 // ^
	OpBoolAnd Opcode = 0x0A // &

	// ========================================================================
	// Comparison (0x0B-0x10)
	// ========================================================================

	OpEqual  Opcode = 0x0B // ==, TT form carries <size:u16>
	OpNEqual Opcode = 0x0C // !=, TT form carries <size:u16>
	OpGEq    Opcode = 0x0D
	OpGT     Opcode = 0x0E
	OpLT     Opcode = 0x0F
	OpLEq    Opcode = 0x10

	// ========================================================================
	// Shifts (0x11-0x13)
	// ========================================================================

	OpShLeft   Opcode = 0x11
	OpShRight  Opcode = 0x12
	OpUShRight Opcode = 0x13 // Arithmetic shift despite the name

	// ========================================================================
	// Arithmetic (0x14-0x1A)
	// ========================================================================

	OpAdd  Opcode = 0x14
	OpSub  Opcode = 0x15
	OpMul  Opcode = 0x16
	OpDiv  Opcode = 0x17
	OpMod  Opcode = 0x18
	OpNeg  Opcode = 0x19
	OpComp Opcode = 0x1A // ~

	// ========================================================================
	// Stack and control transfer (0x1B-0x25)
	// ========================================================================

	OpMovSP         Opcode = 0x1B // Deallocate: <displacement:i32>
	OpStoreStateAll Opcode = 0x1C // Capture whole frame; type byte holds resume delta
	OpJmp           Opcode = 0x1D // <rel:i32>
	OpJSR           Opcode = 0x1E // <rel:i32>
	OpJZ            Opcode = 0x1F // <rel:i32>
	OpRetn          Opcode = 0x20
	OpDestruct      Opcode = 0x21 // <size:i16> <exclOffset:i16> <exclSize:i16>
	OpNot           Opcode = 0x22
	OpDecISP        Opcode = 0x23 // <offset:i32>
	OpIncISP        Opcode = 0x24 // <offset:i32>
	OpJNZ           Opcode = 0x25 // <rel:i32>

	// ========================================================================
	// Globals frame (0x26-0x2B)
	// ========================================================================

	OpCPDownBP  Opcode = 0x26 // <offset:i32> <size:i16>
	OpCPTopBP   Opcode = 0x27 // <offset:i32> <size:i16>
	OpDecIBP    Opcode = 0x28 // <offset:i32>
	OpIncIBP    Opcode = 0x29 // <offset:i32>
	OpSaveBP    Opcode = 0x2A
	OpRestoreBP Opcode = 0x2B

	// ========================================================================
	// Situations and padding (0x2C-0x2D)
	// ========================================================================

	OpStoreState Opcode = 0x2C // <bp:i32> <sp:i32>; type byte holds resume delta
	OpNop        Opcode = 0x2D

	// OpT is the file header pseudo-instruction: <size:u32>.
	OpT Opcode = 0x42
)

// MaxOpcode is the highest executable opcode.
const MaxOpcode = OpNop

// TypeCode is the second byte of every instruction, naming the operand types.
type TypeCode byte

const (
	TypeNone     TypeCode = 0x00
	TypeStackOp  TypeCode = 0x01
	TypeReserved TypeCode = 0x02
	TypeInt      TypeCode = 0x03
	TypeFloat    TypeCode = 0x04
	TypeString   TypeCode = 0x05
	TypeObject   TypeCode = 0x06

	TypeEngineFirst TypeCode = 0x10
	TypeEngineLast  TypeCode = 0x19

	TypeIntInt       TypeCode = 0x20
	TypeFloatFloat   TypeCode = 0x21
	TypeObjectObject TypeCode = 0x22
	TypeStringString TypeCode = 0x23
	TypeStructStruct TypeCode = 0x24
	TypeIntFloat     TypeCode = 0x25
	TypeFloatInt     TypeCode = 0x26

	TypeEngineEngineFirst TypeCode = 0x30
	TypeEngineEngineLast  TypeCode = 0x39

	TypeVectorVector TypeCode = 0x3A
	TypeVectorFloat  TypeCode = 0x3B
	TypeFloatVector  TypeCode = 0x3C
)

// StoreStateResume is the type byte emitted on STORE_STATE instructions. It is
// the distance from the instruction to the resume point.
const StoreStateResume TypeCode = 0x10

// IsEngine reports whether t is a unary engine structure type.
func (t TypeCode) IsEngine() bool {
	return t >= TypeEngineFirst && t <= TypeEngineLast
}

// IsEngineEngine reports whether t is a binary engine structure type.
func (t TypeCode) IsEngineEngine() bool {
	return t >= TypeEngineEngineFirst && t <= TypeEngineEngineLast
}

// EngineOrdinal returns the engine structure number for a unary or binary
// engine type code.
func (t TypeCode) EngineOrdinal() uint8 {
	if t.IsEngineEngine() {
		return uint8(t - TypeEngineEngineFirst)
	}
	return uint8(t - TypeEngineFirst)
}

// String returns the mnemonic suffix used in listings ("I", "FF", "E", ...).
func (t TypeCode) String() string {
	switch t {
	case TypeNone, TypeStackOp, TypeReserved:
		return ""
	case TypeInt:
		return "I"
	case TypeFloat:
		return "F"
	case TypeString:
		return "S"
	case TypeObject:
		return "O"
	case TypeIntInt:
		return "II"
	case TypeFloatFloat:
		return "FF"
	case TypeObjectObject:
		return "OO"
	case TypeStringString:
		return "SS"
	case TypeStructStruct:
		return "TT"
	case TypeIntFloat:
		return "IF"
	case TypeFloatInt:
		return "FI"
	case TypeVectorVector:
		return "VV"
	case TypeVectorFloat:
		return "VF"
	case TypeFloatVector:
		return "FV"
	}
	if t.IsEngine() {
		return "E"
	}
	if t.IsEngineEngine() {
		return "EE"
	}
	return "??"
}

// OpcodeInfo describes an opcode for decoding and listings.
type OpcodeInfo struct {
	Name   string // Mnemonic
	Length int    // Total instruction length in bytes; 0 when type dependent
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpCPDownSP: {"CPDOWNSP", 8},
	OpRSAdd:    {"RSADD", 2},
	OpCPTopSP:  {"CPTOPSP", 8},
	OpConst:    {"CONST", 0},
	OpAction:   {"ACTION", 5},

	OpLogAnd:  {"LOGAND", 2},
	OpLogOr:   {"LOGOR", 2},
	OpIncOr:   {"INCOR", 2},
	OpExcOr:   {"EXCOR", 2},
	OpBoolAnd: {"BOOLAND", 2},

	OpEqual:  {"EQUAL", 0},
	OpNEqual: {"NEQUAL", 0},
	OpGEq:    {"GEQ", 2},
	OpGT:     {"GT", 2},
	OpLT:     {"LT", 2},
	OpLEq:    {"LEQ", 2},

	OpShLeft:   {"SHLEFT", 2},
	OpShRight:  {"SHRIGHT", 2},
	OpUShRight: {"USHRIGHT", 2},

	OpAdd:  {"ADD", 2},
	OpSub:  {"SUB", 2},
	OpMul:  {"MUL", 2},
	OpDiv:  {"DIV", 2},
	OpMod:  {"MOD", 2},
	OpNeg:  {"NEG", 2},
	OpComp: {"COMP", 2},

	OpMovSP:         {"MOVSP", 6},
	OpStoreStateAll: {"STORE_STATEALL", 2},
	OpJmp:           {"JMP", 6},
	OpJSR:           {"JSR", 6},
	OpJZ:            {"JZ", 6},
	OpRetn:          {"RETN", 2},
	OpDestruct:      {"DESTRUCT", 8},
	OpNot:           {"NOT", 2},
	OpDecISP:        {"DECISP", 6},
	OpIncISP:        {"INCISP", 6},
	OpJNZ:           {"JNZ", 6},

	OpCPDownBP:  {"CPDOWNBP", 8},
	OpCPTopBP:   {"CPTOPBP", 8},
	OpDecIBP:    {"DECIBP", 6},
	OpIncIBP:    {"INCIBP", 6},
	OpSaveBP:    {"SAVEBP", 2},
	OpRestoreBP: {"RESTOREBP", 2},

	OpStoreState: {"STORE_STATE", 10},
	OpNop:        {"NOP", 2},
	OpT:          {"T", 5},
}

// GetOpcodeInfo returns metadata for an opcode, or a "???" entry if the
// opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: "???"}
}

// Known reports whether op is a recognized opcode.
func (op Opcode) Known() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	if !op.Known() {
		return fmt.Sprintf("???(0x%02X)", byte(op))
	}
	return GetOpcodeInfo(op).Name
}

// IsJump reports whether op is a relative jump (not a call).
func (op Opcode) IsJump() bool {
	return op == OpJmp || op == OpJZ || op == OpJNZ
}

// IsConditionalJump reports whether op pops a condition before jumping.
func (op Opcode) IsConditionalJump() bool {
	return op == OpJZ || op == OpJNZ
}

// IsStoreState reports whether op captures a script situation.
func (op Opcode) IsStoreState() bool {
	return op == OpStoreState || op == OpStoreStateAll
}

// AllOpcodes returns every recognized opcode.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// Mnemonic returns the combined opcode/type mnemonic, e.g. "ADDII".
func Mnemonic(op Opcode, t TypeCode) string {
	return GetOpcodeInfo(op).Name + t.String()
}
