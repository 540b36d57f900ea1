package stack

// Stack is the NWScript execution stack: a sequence of typed cells, a base
// pointer, a return address stack, the string and engine structure heaps
// referenced by cells, and the guard zone watermarks.
//
// Heap entries are created and released in the same order as the cells that
// own them; every release checks that the owning cell refers to the last
// entry.
//
// A Stack is not safe for concurrent use.
type Stack struct {
	cells   []cell
	strings []string
	engines []EngineStructure
	returns []uint32
	guards  []int32
	bp      int32
	invalid uint32
}

// New creates an empty stack. invalid is the object id that failed object
// conversions produce.
func New(invalid uint32) *Stack {
	return &Stack{invalid: invalid}
}

// SetInvalidObject changes the invalid object id.
func (s *Stack) SetInvalidObject(id uint32) { s.invalid = id }

// InvalidObject returns the invalid object id.
func (s *Stack) InvalidObject() uint32 { return s.invalid }

// SP returns the current stack pointer in bytes.
func (s *Stack) SP() int32 { return int32(len(s.cells) * CellSize) }

// BP returns the current base pointer in bytes.
func (s *Stack) BP() int32 { return s.bp }

// Len returns the number of cells on the stack.
func (s *Stack) Len() int { return len(s.cells) }

// Reset discards all contents, including return addresses and guard zones.
func (s *Stack) Reset() {
	s.cells = s.cells[:0]
	s.strings = s.strings[:0]
	s.engines = s.engines[:0]
	s.returns = s.returns[:0]
	s.guards = s.guards[:0]
	s.bp = 0
}

// ---------------------------------------------------------------------------
// Raw push and pop
// ---------------------------------------------------------------------------

func (s *Stack) pushRaw(op string, c cell) error {
	if len(s.cells) >= MaxCells {
		return fail(op, ErrStackOverflow, "maximum stack size exceeded")
	}
	s.cells = append(s.cells, c)
	return nil
}

func (s *Stack) pushText(op string, kind Kind, text string) error {
	s.strings = append(s.strings, text)
	if err := s.pushRaw(op, cell{kind: kind, bits: uint32(len(s.strings) - 1)}); err != nil {
		s.strings = s.strings[:len(s.strings)-1]
		return err
	}
	return nil
}

// pop removes the top cell, which must be compatible with want. Saved BP
// cells and ints are interchangeable, member markers are ignored and a
// dynamic cell converts to any scalar. For a dynamic cell popped as a
// string the returned cell carries the string handle and the caller releases
// the heap entry.
func (s *Stack) pop(op string, want Kind, ordinal uint8) (cell, error) {
	if len(s.cells) == 0 {
		return cell{}, fail(op, ErrStackUnderflow, "attempted to pop entry from empty stack")
	}
	if err := s.CheckGuardZone(s.SP() - CellSize); err != nil {
		return cell{}, err
	}
	top := s.cells[len(s.cells)-1]
	have := top.kind

	if have != want {
		switch {
		case want == KindSavedBP:
			if have != KindEngine {
				want = KindInt
			}
		case want == KindInt || want == KindDynamic:
			if have == KindSavedBP {
				have = KindInt
			}
		}
	}

	if have == want && (have != KindEngine || top.engine == ordinal) {
		s.cells = s.cells[:len(s.cells)-1]
		return top, nil
	}

	if have != KindDynamic || want.engineFlagged() {
		return cell{}, fail(op, ErrTypeMismatch, "attempted to pop entry of wrong type from stack")
	}

	var out cell
	last := len(s.cells) - 1
	switch want {
	case KindInt:
		v, err := s.dynamicInt(op, last)
		if err != nil {
			return cell{}, err
		}
		out = intCell(v)
	case KindFloat:
		v, err := s.dynamicFloat(op, last)
		if err != nil {
			return cell{}, err
		}
		out = floatCell(v)
	case KindString:
		out = top
	case KindObject:
		v, err := s.dynamicObject(op, last)
		if err != nil {
			return cell{}, err
		}
		out = objectCell(v)
	default:
		return cell{}, fail(op, ErrTypeMismatch, "attempted to pop entry of wrong type from stack")
	}

	if want != KindString {
		if top.handle() != len(s.strings)-1 {
			return cell{}, fail(op, ErrInvalidHandle, "invalid string handle")
		}
		s.strings = s.strings[:len(s.strings)-1]
	}
	s.cells = s.cells[:last]
	return out, nil
}

// popAny removes the top cell regardless of type and releases its heap
// entry.
func (s *Stack) popAny(op string) error {
	if len(s.cells) == 0 {
		return fail(op, ErrStackUnderflow, "attempted to pop entry from empty stack")
	}
	if err := s.CheckGuardZone(s.SP() - CellSize); err != nil {
		return err
	}
	top := s.cells[len(s.cells)-1]
	switch {
	case top.kind == KindEngine:
		if top.handle() != len(s.engines)-1 {
			return fail(op, ErrInvalidHandle, "invalid engine structure handle")
		}
		s.engines[len(s.engines)-1] = nil
		s.engines = s.engines[:len(s.engines)-1]
	case top.kind.stringBacked():
		if top.handle() != len(s.strings)-1 {
			return fail(op, ErrInvalidHandle, "invalid string handle")
		}
		s.strings = s.strings[:len(s.strings)-1]
	}
	s.cells = s.cells[:len(s.cells)-1]
	return nil
}

// ---------------------------------------------------------------------------
// Typed push and pop
// ---------------------------------------------------------------------------

// PushInt pushes an int.
func (s *Stack) PushInt(v int32) error { return s.pushRaw("PushInt", intCell(v)) }

// PushFloat pushes a float.
func (s *Stack) PushFloat(v float32) error { return s.pushRaw("PushFloat", floatCell(v)) }

// PushObject pushes an object id.
func (s *Stack) PushObject(v uint32) error { return s.pushRaw("PushObject", objectCell(v)) }

// PushString pushes a string, allocating a string heap entry.
func (s *Stack) PushString(v string) error { return s.pushText("PushString", KindString, v) }

// PushDynamicParameter pushes text whose type is decided by the first
// instruction that reads it.
func (s *Stack) PushDynamicParameter(text string) error {
	return s.pushText("PushDynamicParameter", KindDynamic, text)
}

// PushVector pushes the three components of a vector, x first. The x cell is
// marked as the head of a vector.
func (s *Stack) PushVector(v [3]float32) error {
	head := floatCell(v[0])
	head.member = MemberVector
	if err := s.pushRaw("PushVector", head); err != nil {
		return err
	}
	if err := s.PushFloat(v[1]); err != nil {
		return err
	}
	return s.PushFloat(v[2])
}

// PushEngine pushes an engine structure onto the engine heap.
func (s *Stack) PushEngine(es EngineStructure) error {
	if es == nil {
		return fail("PushEngine", ErrTypeMismatch, "nil engine structure")
	}
	s.engines = append(s.engines, es)
	c := cell{kind: KindEngine, engine: es.EngineType(), bits: uint32(len(s.engines) - 1)}
	if err := s.pushRaw("PushEngine", c); err != nil {
		s.engines = s.engines[:len(s.engines)-1]
		return err
	}
	return nil
}

// PopInt pops an int. A saved BP pops as its cell count.
func (s *Stack) PopInt() (int32, error) {
	c, err := s.pop("PopInt", KindInt, 0)
	return c.i32(), err
}

// PopFloat pops a float or vector component.
func (s *Stack) PopFloat() (float32, error) {
	c, err := s.pop("PopFloat", KindFloat, 0)
	return c.f32(), err
}

// PopObject pops an object id.
func (s *Stack) PopObject() (uint32, error) {
	c, err := s.pop("PopObject", KindObject, 0)
	return c.bits, err
}

// PopString pops a string and releases its heap entry.
func (s *Stack) PopString() (string, error) {
	c, err := s.pop("PopString", KindString, 0)
	if err != nil {
		return "", err
	}
	if c.handle() != len(s.strings)-1 {
		return "", fail("PopString", ErrInvalidHandle, "invalid string handle")
	}
	v := s.strings[len(s.strings)-1]
	s.strings = s.strings[:len(s.strings)-1]
	return v, nil
}

// PopVector pops a vector pushed by PushVector.
func (s *Stack) PopVector() ([3]float32, error) {
	var v [3]float32
	var err error
	if v[2], err = s.PopFloat(); err != nil {
		return v, err
	}
	if v[1], err = s.PopFloat(); err != nil {
		return v, err
	}
	v[0], err = s.PopFloat()
	return v, err
}

// PopEngine pops an engine structure of the given type ordinal.
func (s *Stack) PopEngine(ordinal uint8) (EngineStructure, error) {
	c, err := s.pop("PopEngine", KindEngine, ordinal)
	if err != nil {
		return nil, err
	}
	if c.handle() != len(s.engines)-1 {
		return nil, fail("PopEngine", ErrInvalidHandle, "invalid engine structure handle")
	}
	es := s.engines[len(s.engines)-1]
	s.engines[len(s.engines)-1] = nil
	s.engines = s.engines[:len(s.engines)-1]
	return es, nil
}

// AddSP moves the stack pointer down by -displacement bytes, releasing the
// heap entries of the removed cells.
func (s *Stack) AddSP(displacement int32) error {
	if displacement > 0 {
		return fail("AddSP", ErrInvalidStackReference, "displacement must be negative")
	}
	if displacement%CellSize != 0 {
		return fail("AddSP", ErrInvalidStackReference, "misaligned displacement")
	}
	for n := -displacement / CellSize; n > 0; n-- {
		if err := s.popAny("AddSP"); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Frames and return addresses
// ---------------------------------------------------------------------------

// SaveBP pushes the current base pointer as a saved BP cell and points BP at
// that cell.
func (s *Stack) SaveBP() error {
	if err := s.pushRaw("SaveBP", cell{kind: KindSavedBP, bits: uint32(s.bp / CellSize)}); err != nil {
		return err
	}
	s.bp = s.SP() - CellSize
	return nil
}

// RestoreBP pops a saved base pointer. An int in its place is accepted and
// read as a cell count.
func (s *Stack) RestoreBP() error {
	c, err := s.pop("RestoreBP", KindSavedBP, 0)
	if err != nil {
		return err
	}
	bp := c.i32() * CellSize
	if bp > s.SP() {
		return fail("RestoreBP", ErrInvalidStackReference, "saved BP restored past unwind")
	}
	s.bp = bp
	return nil
}

// SetBP forces the base pointer to an absolute address.
func (s *Stack) SetBP(bp int32) error {
	if bp%CellSize != 0 {
		return fail("SetBP", ErrInvalidStackReference, "stack pointer must be a multiple of the cell size")
	}
	if bp > s.SP() {
		return badReference("SetBP")
	}
	s.bp = bp
	return nil
}

// SaveProgramCounter pushes a return address.
func (s *Stack) SaveProgramCounter(pc uint32) { s.returns = append(s.returns, pc) }

// RestoreProgramCounter pops a return address.
func (s *Stack) RestoreProgramCounter() (uint32, error) {
	if len(s.returns) == 0 {
		return 0, fail("RestoreProgramCounter", ErrInvalidStackReference,
			"mismatched SaveProgramCounter/RestoreProgramCounter")
	}
	pc := s.returns[len(s.returns)-1]
	s.returns = s.returns[:len(s.returns)-1]
	return pc, nil
}

// ReturnDepth returns the number of saved return addresses.
func (s *Stack) ReturnDepth() int { return len(s.returns) }

// ReturnEntry returns the i'th saved return address, oldest first.
func (s *Stack) ReturnEntry(i int) uint32 { return s.returns[i] }

// ---------------------------------------------------------------------------
// Guard zones
// ---------------------------------------------------------------------------

// EstablishGuardZone records the current SP as a watermark. Until it is
// released, no reference at or below the watermark is allowed.
func (s *Stack) EstablishGuardZone() { s.guards = append(s.guards, s.SP()) }

// ReleaseGuardZone removes the most recent watermark.
func (s *Stack) ReleaseGuardZone() error {
	if len(s.guards) == 0 {
		return fail("ReleaseGuardZone", ErrStackUnderflow, "cannot remove non-existent guard zone")
	}
	s.guards = s.guards[:len(s.guards)-1]
	return nil
}

// CheckGuardZone fails if addr lies at or below the current watermark.
func (s *Stack) CheckGuardZone(addr int32) error {
	if len(s.guards) == 0 {
		return nil
	}
	if s.guards[len(s.guards)-1] >= addr {
		return fail("CheckGuardZone", ErrInvalidStackReference, "illegal stack reference beyond guard zone")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// IsParameterUnderrunRestoreBP reports whether the top cell is something
// other than a saved BP, i.e. a RESTOREBP at this point would consume an
// excess entry point parameter.
func (s *Stack) IsParameterUnderrunRestoreBP() bool {
	if len(s.cells) == 0 {
		return false
	}
	return s.cells[len(s.cells)-1].kind != KindSavedBP
}

// TypeAt returns the base type of the cell at an absolute address. Saved BP
// cells report as int.
func (s *Stack) TypeAt(addr int32) (BaseType, error) {
	i := int(addr / CellSize)
	if addr < 0 || i >= len(s.cells) {
		return 0, badReference("TypeAt")
	}
	c := s.cells[i]
	switch c.kind {
	case KindInt, KindSavedBP:
		return BaseInt, nil
	case KindFloat:
		return BaseFloat, nil
	case KindObject:
		return BaseObject, nil
	case KindString, KindDynamic:
		return BaseString, nil
	case KindEngine:
		return BaseEngine0 + BaseType(c.engine), nil
	}
	return 0, fail("TypeAt", ErrTypeMismatch, "illegal base type on stack")
}

// TopType returns the base type of the top cell.
func (s *Stack) TopType() (BaseType, error) { return s.TypeAt(s.SP() - CellSize) }

// Peek returns a resolved copy of the cell at an absolute address.
func (s *Stack) Peek(addr int32) (Value, bool) {
	if addr < 0 || addr%CellSize != 0 || int(addr/CellSize) >= len(s.cells) {
		return Value{}, false
	}
	return s.value(int(addr / CellSize)), true
}

func (s *Stack) value(i int) Value {
	c := s.cells[i]
	v := Value{Kind: c.kind, Member: c.member, Engine: c.engine, Raw: c.bits}
	switch {
	case c.kind.stringBacked() && c.handle() < len(s.strings):
		v.Text = s.strings[c.handle()]
	case c.kind == KindEngine && c.handle() < len(s.engines):
		v.Structure = s.engines[c.handle()]
	}
	return v
}
