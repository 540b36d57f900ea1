package stack

import "math"

// CellSize is the width of one stack cell in bytes. Stack pointers and
// displacements are always expressed in bytes.
const CellSize = 4

// MaxCells bounds the number of cells a single stack may hold.
const MaxCells = 1 << 20

// Kind identifies what a cell holds. The kind of a cell is authoritative for
// every access; the only reinterpretations allowed are the ones documented on
// the accessors (saved BP as int, dynamic cells converting on demand).
type Kind uint8

const (
	KindReserved Kind = iota // allocated but not yet typed
	KindInt
	KindFloat
	KindString // payload is a string heap handle
	KindObject
	KindDynamic // string heap handle whose type is discovered on use
	KindEngine  // engine heap handle plus engine type ordinal
	KindSavedBP // base pointer pushed by SaveBP, in cells
)

var kindNames = [...]string{"reserved", "int", "float", "string", "object", "dynamic", "engine", "savedbp"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// stringBacked reports whether cells of this kind own a string heap entry.
func (k Kind) stringBacked() bool { return k == KindString || k == KindDynamic }

// engineFlagged reports whether the kind belongs to the engine family. Saved
// BP cells are part of it for type comparison purposes.
func (k Kind) engineFlagged() bool { return k == KindEngine || k == KindSavedBP }

// Member marks a cell as part of a larger aggregate.
type Member uint8

const (
	MemberVector    Member = 1 << iota // first component of a vector
	MemberStructure                    // member of a structure
)

// BaseType is the scalar type of a cell as reported to callers comparing
// stack contents, e.g. structure equality.
type BaseType uint8

const (
	BaseInt BaseType = iota
	BaseFloat
	BaseObject
	BaseString
	BaseEngine0
	BaseEngine9 = BaseEngine0 + 9
)

// IsEngine reports whether t names an engine structure type.
func (t BaseType) IsEngine() bool { return t >= BaseEngine0 && t <= BaseEngine9 }

// EngineOrdinal returns the engine type ordinal of an engine base type.
func (t BaseType) EngineOrdinal() uint8 { return uint8(t - BaseEngine0) }

// EngineStructure is an opaque host value living on the engine heap.
type EngineStructure interface {
	EngineType() uint8
	Compare(other EngineStructure) bool
}

// cell is one stack slot. bits holds the payload for the cell's kind: the
// int or float bits, an object id, a heap handle or a saved BP.
type cell struct {
	kind   Kind
	member Member
	engine uint8
	bits   uint32
}

func intCell(v int32) cell       { return cell{kind: KindInt, bits: uint32(v)} }
func floatCell(v float32) cell   { return cell{kind: KindFloat, bits: math.Float32bits(v)} }
func objectCell(v uint32) cell   { return cell{kind: KindObject, bits: v} }
func (c cell) i32() int32        { return int32(c.bits) }
func (c cell) f32() float32      { return math.Float32frombits(c.bits) }
func (c cell) handle() int       { return int(c.bits) }
func (c cell) plain(k Kind) bool { return c.kind == k && c.member == 0 }

// sameTag reports whether two cells carry the identical tag.
func (c cell) sameTag(o cell) bool {
	return c.kind == o.kind && c.member == o.member && c.engine == o.engine
}

// Legacy type codes, used for trace output and the wire format.
const (
	codeInt       = 0x01
	codeFloat     = 0x02
	codeString    = 0x04
	codeObject    = 0x08
	codeVector    = 0x10
	codeStructure = 0x20
	codeDynamic   = 0x40
	codeEngine    = 0x80
	codeSavedBP   = codeEngine | 0x7F
)

func (c cell) code() uint8 {
	var b uint8
	switch c.kind {
	case KindInt:
		b = codeInt
	case KindFloat:
		b = codeFloat
	case KindString:
		b = codeString
	case KindObject:
		b = codeObject
	case KindDynamic:
		b = codeDynamic
	case KindEngine:
		return codeEngine | c.engine
	case KindSavedBP:
		return codeSavedBP
	}
	if c.member&MemberVector != 0 {
		b |= codeVector
	}
	if c.member&MemberStructure != 0 {
		b |= codeStructure
	}
	return b
}

// Value is a resolved copy of one cell with its heap payload materialized.
type Value struct {
	Kind      Kind
	Member    Member
	Engine    uint8  // engine type ordinal for KindEngine
	Raw       uint32 // payload bits; the heap handle for string, dynamic and engine cells
	Text      string // KindString and KindDynamic
	Structure EngineStructure
}

// Code returns the cell's type in the one-byte encoding used by trace
// listings.
func (v Value) Code() uint8 {
	return cell{kind: v.Kind, member: v.Member, engine: v.Engine}.code()
}

// Int returns the payload of an int or saved BP cell.
func (v Value) Int() int32 { return int32(v.Raw) }

// Float returns the payload of a float cell.
func (v Value) Float() float32 { return math.Float32frombits(v.Raw) }

// Object returns the payload of an object cell.
func (v Value) Object() uint32 { return v.Raw }
