package stack

import "math"

// Typed access to cells below the top of stack. Displacements are relative
// to SP and therefore negative. Writing to a reserved cell gives it the
// written type; writing a string or engine structure to a typed cell
// replaces the heap entry the cell refers to.

func (s *Stack) index(op string, displacement int32) (int, error) {
	addr := s.SP() + displacement
	if displacement%CellSize != 0 {
		return 0, fail(op, ErrInvalidStackReference, "misaligned stack reference")
	}
	if addr < 0 || int(addr/CellSize) >= len(s.cells) {
		return 0, badReference(op)
	}
	return int(addr / CellSize), nil
}

// SetInt stores an int. Saved BP cells take the value as a cell count.
func (s *Stack) SetInt(displacement int32, v int32) error {
	const op = "SetInt"
	i, err := s.index(op, displacement)
	if err != nil {
		return err
	}
	c := &s.cells[i]
	switch c.kind {
	case KindSavedBP:
		c.bits = uint32(v)
	case KindDynamic:
		return s.setDynamicText(op, i, FormatInt(v))
	case KindInt:
		c.bits = uint32(v)
	case KindReserved:
		*c = intCell(v)
	default:
		return mismatch(op)
	}
	return nil
}

// GetInt reads an int.
func (s *Stack) GetInt(displacement int32) (int32, error) {
	const op = "GetInt"
	i, err := s.index(op, displacement)
	if err != nil {
		return 0, err
	}
	c := s.cells[i]
	switch c.kind {
	case KindSavedBP, KindInt:
		return c.i32(), nil
	case KindDynamic:
		return s.dynamicInt(op, i)
	}
	return 0, mismatch(op)
}

// SetFloat stores a float.
func (s *Stack) SetFloat(displacement int32, v float32) error {
	const op = "SetFloat"
	i, err := s.index(op, displacement)
	if err != nil {
		return err
	}
	c := &s.cells[i]
	switch c.kind {
	case KindDynamic:
		return s.setDynamicText(op, i, FormatFloat(v))
	case KindFloat:
		c.bits = math.Float32bits(v)
	case KindReserved:
		*c = floatCell(v)
	default:
		return mismatch(op)
	}
	return nil
}

// GetFloat reads a float.
func (s *Stack) GetFloat(displacement int32) (float32, error) {
	const op = "GetFloat"
	i, err := s.index(op, displacement)
	if err != nil {
		return 0, err
	}
	c := s.cells[i]
	switch c.kind {
	case KindFloat:
		return c.f32(), nil
	case KindDynamic:
		return s.dynamicFloat(op, i)
	}
	return 0, mismatch(op)
}

// SetObject stores an object id.
func (s *Stack) SetObject(displacement int32, v uint32) error {
	const op = "SetObject"
	i, err := s.index(op, displacement)
	if err != nil {
		return err
	}
	c := &s.cells[i]
	switch c.kind {
	case KindDynamic:
		return s.setDynamicText(op, i, FormatObject(v))
	case KindObject:
		c.bits = v
	case KindReserved:
		*c = objectCell(v)
	default:
		return mismatch(op)
	}
	return nil
}

// GetObject reads an object id.
func (s *Stack) GetObject(displacement int32) (uint32, error) {
	const op = "GetObject"
	i, err := s.index(op, displacement)
	if err != nil {
		return 0, err
	}
	c := s.cells[i]
	switch c.kind {
	case KindObject:
		return c.bits, nil
	case KindDynamic:
		return s.dynamicObject(op, i)
	}
	return 0, mismatch(op)
}

// SetString stores a string. A reserved cell can only receive a string when
// it is the top of stack, since it needs a fresh heap entry.
func (s *Stack) SetString(displacement int32, v string) error {
	const op = "SetString"
	i, err := s.index(op, displacement)
	if err != nil {
		return err
	}
	c := &s.cells[i]
	switch c.kind {
	case KindDynamic:
		return s.setDynamicText(op, i, v)
	case KindString:
		if c.handle() >= len(s.strings) {
			return fail(op, ErrInvalidHandle, "invalid string handle")
		}
		s.strings[c.handle()] = v
	case KindReserved:
		if i != len(s.cells)-1 {
			return fail(op, ErrInvalidStackReference,
				"strings may only be stored to uninitialized stack at the top of stack")
		}
		s.strings = append(s.strings, v)
		*c = cell{kind: KindString, bits: uint32(len(s.strings) - 1)}
	default:
		return mismatch(op)
	}
	return nil
}

// GetString reads a string, or the text of a dynamic cell.
func (s *Stack) GetString(displacement int32) (string, error) {
	const op = "GetString"
	i, err := s.index(op, displacement)
	if err != nil {
		return "", err
	}
	switch s.cells[i].kind {
	case KindDynamic:
		return s.dynamicText(op, i)
	case KindString:
		h := s.cells[i].handle()
		if h >= len(s.strings) {
			return "", fail(op, ErrInvalidHandle, "invalid string handle")
		}
		return s.strings[h], nil
	}
	return "", mismatch(op)
}

// SetVector stores a vector starting at displacement. The head cell must be
// a float or reserved; the y and z cells are written with SetFloat.
func (s *Stack) SetVector(displacement int32, v [3]float32) error {
	const op = "SetVector"
	i, err := s.index(op, displacement)
	if err != nil {
		return err
	}
	c := &s.cells[i]
	switch c.kind {
	case KindFloat:
		c.bits = math.Float32bits(v[0])
	case KindReserved:
		*c = floatCell(v[0])
		c.member = MemberVector
	default:
		return mismatch(op)
	}
	if err := s.SetFloat(displacement+CellSize, v[1]); err != nil {
		return err
	}
	return s.SetFloat(displacement+2*CellSize, v[2])
}

// GetVector reads a vector starting at displacement.
func (s *Stack) GetVector(displacement int32) ([3]float32, error) {
	const op = "GetVector"
	var v [3]float32
	i, err := s.index(op, displacement)
	if err != nil {
		return v, err
	}
	if s.cells[i].kind != KindFloat {
		return v, mismatch(op)
	}
	v[0] = s.cells[i].f32()
	if v[1], err = s.GetFloat(displacement + CellSize); err != nil {
		return v, err
	}
	v[2], err = s.GetFloat(displacement + 2*CellSize)
	return v, err
}

// SetEngine stores an engine structure. When both the old and new values
// are present their engine types must agree. A reserved cell can only
// receive an engine structure at the top of stack.
func (s *Stack) SetEngine(displacement int32, es EngineStructure) error {
	const op = "SetEngine"
	i, err := s.index(op, displacement)
	if err != nil {
		return err
	}
	c := &s.cells[i]
	switch c.kind {
	case KindEngine:
		h := c.handle()
		if h >= len(s.engines) {
			return fail(op, ErrInvalidHandle, "invalid engine structure handle")
		}
		if es != nil && s.engines[h] != nil && es.EngineType() != c.engine {
			return fail(op, ErrTypeMismatch, "engine type mismatch")
		}
		s.engines[h] = es
	case KindReserved:
		if i != len(s.cells)-1 {
			return fail(op, ErrInvalidStackReference,
				"engine structures may only be stored to uninitialized stack at the top of stack")
		}
		if es == nil {
			return fail(op, ErrTypeMismatch, "nil engine structure")
		}
		s.engines = append(s.engines, es)
		*c = cell{kind: KindEngine, engine: es.EngineType(), bits: uint32(len(s.engines) - 1)}
	default:
		return mismatch(op)
	}
	return nil
}

// GetEngine reads an engine structure of the given type ordinal.
func (s *Stack) GetEngine(displacement int32, ordinal uint8) (EngineStructure, error) {
	const op = "GetEngine"
	i, err := s.index(op, displacement)
	if err != nil {
		return nil, err
	}
	c := s.cells[i]
	if c.kind != KindEngine {
		return nil, mismatch(op)
	}
	if c.engine != ordinal {
		return nil, fail(op, ErrTypeMismatch, "engine type mismatch")
	}
	if c.handle() >= len(s.engines) {
		return nil, fail(op, ErrInvalidHandle, "invalid engine structure handle")
	}
	return s.engines[c.handle()], nil
}

// IncrementInt adds one to the int at an absolute address and returns the
// new value.
func (s *Stack) IncrementInt(addr int32) (int32, error) {
	return s.adjustInt("IncrementInt", addr, 1)
}

// DecrementInt subtracts one from the int at an absolute address and returns
// the new value.
func (s *Stack) DecrementInt(addr int32) (int32, error) {
	return s.adjustInt("DecrementInt", addr, -1)
}

func (s *Stack) adjustInt(op string, addr int32, delta int32) (int32, error) {
	i := int(addr / CellSize)
	if addr < 0 || i >= len(s.cells) {
		return 0, badReference(op)
	}
	c := &s.cells[i]
	switch c.kind {
	case KindDynamic:
		v, err := s.dynamicInt(op, i)
		if err != nil {
			return 0, err
		}
		v += delta
		return v, s.setDynamicText(op, i, FormatInt(v))
	case KindSavedBP, KindInt:
		v := c.i32() + delta
		c.bits = uint32(v)
		return v, nil
	}
	return 0, mismatch(op)
}
