package stack

import "fmt"

// ---------------------------------------------------------------------------
// Bulk assignment and duplication
// ---------------------------------------------------------------------------

func (s *Stack) resolve(op string, offset, bytes int32, useBP bool) (start, count int, err error) {
	if offset%CellSize != 0 || bytes%CellSize != 0 {
		return 0, 0, fail(op, ErrInvalidStackReference, "misaligned stack reference")
	}
	if bytes < 0 {
		return 0, 0, fail(op, ErrInvalidStackReference, "negative size")
	}
	addr := offset
	if useBP {
		addr += s.bp
	} else {
		addr += s.SP()
		if err := s.CheckGuardZone(addr); err != nil {
			return 0, 0, err
		}
	}
	start, count = int(addr/CellSize), int(bytes/CellSize)
	if addr < 0 || start >= len(s.cells) || start+count > len(s.cells) {
		return 0, 0, fail(op, ErrInvalidStackReference, "range exceeds stack bounds")
	}
	return start, count, nil
}

// CopyDown assigns the top bytes of the stack to the cells starting at dest,
// which is relative to SP or, with useBP, to BP. Each destination keeps its
// type: like types copy directly (strings and engine structures copy their
// heap payload), dynamic cells convert in either direction, and saved BP
// and int cells are interchangeable. Anything else is a type mismatch.
func (s *Stack) CopyDown(dest, bytes int32, useBP bool) error {
	const op = "CopyDown"
	dst, n, err := s.resolve(op, dest, bytes, useBP)
	if err != nil {
		return err
	}
	src := len(s.cells) - n
	if src == dst {
		return nil
	}
	for i := 0; i < n; i++ {
		if err := s.assign(op, dst+i, src+i); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stack) assign(op string, di, si int) error {
	d, sc := &s.cells[di], s.cells[si]

	switch {
	case sc.kind == KindDynamic:
		switch {
		case d.plain(KindInt):
			v, err := s.dynamicInt(op, si)
			d.bits = uint32(v)
			return err
		case d.plain(KindFloat):
			v, err := s.dynamicFloat(op, si)
			d.bits = floatCell(v).bits
			return err
		case d.plain(KindString), d.plain(KindDynamic):
			if sc.bits == d.bits {
				return nil
			}
			if d.handle() >= len(s.strings) {
				return fail(op, ErrInvalidHandle, "invalid destination string handle")
			}
			text, err := s.dynamicText(op, si)
			if err != nil {
				return err
			}
			s.strings[d.handle()] = text
			return nil
		case d.plain(KindObject):
			v, err := s.dynamicObject(op, si)
			d.bits = v
			return err
		case d.kind == KindSavedBP:
			v, err := s.dynamicInt(op, si)
			d.bits = uint32(v)
			return err
		}
		return fail(op, ErrTypeMismatch, "attempted to copy illegal type from dynamic typed stack entry")

	case d.kind == KindDynamic:
		switch {
		case sc.plain(KindInt), sc.kind == KindSavedBP:
			return s.setDynamicText(op, di, FormatInt(sc.i32()))
		case sc.plain(KindFloat):
			return s.setDynamicText(op, di, FormatFloat(sc.f32()))
		case sc.plain(KindString):
			if sc.bits == d.bits {
				return nil
			}
			if sc.handle() >= len(s.strings) {
				return fail(op, ErrInvalidHandle, "invalid source string handle")
			}
			return s.setDynamicText(op, di, s.strings[sc.handle()])
		case sc.plain(KindObject):
			return s.setDynamicText(op, di, FormatObject(sc.bits))
		}
		return fail(op, ErrTypeMismatch, "attempted to copy illegal type to dynamic typed stack entry")

	case sc.sameTag(*d) || (!sc.kind.engineFlagged() && !d.kind.engineFlagged() && sc.kind == d.kind):
		switch sc.kind {
		case KindString:
			if sc.handle() >= len(s.strings) || d.handle() >= len(s.strings) {
				return fail(op, ErrInvalidHandle, "invalid string handle")
			}
			if sc.bits != d.bits {
				s.strings[d.handle()] = s.strings[sc.handle()]
			}
		case KindEngine:
			if sc.handle() >= len(s.engines) || d.handle() >= len(s.engines) {
				return fail(op, ErrInvalidHandle, "invalid engine structure handle")
			}
			if sc.bits != d.bits {
				s.engines[d.handle()] = s.engines[sc.handle()]
			}
		default:
			d.bits = sc.bits
		}
		return nil

	case sc.kind == KindSavedBP && d.plain(KindInt), sc.plain(KindInt) && d.kind == KindSavedBP:
		d.bits = sc.bits
		return nil
	}
	return fail(op, ErrTypeMismatch, fmt.Sprintf("cannot assign %s to %s", sc.kind, d.kind))
}

// CopyUp pushes a copy of bytes worth of cells starting at src, which is
// relative to SP or, with useBP, to BP. String and engine payloads are
// duplicated into fresh heap entries.
func (s *Stack) CopyUp(src, bytes int32, useBP bool) error {
	const op = "CopyUp"
	from, n, err := s.resolve(op, src, bytes, useBP)
	if err != nil {
		return err
	}
	if len(s.cells)+n >= MaxCells {
		return fail(op, ErrStackOverflow, "copy exceeds maximum stack size")
	}
	return s.appendTo(op, s, from, n)
}

// appendTo pushes count cells starting at index from onto dst, duplicating
// heap payloads. dst may be s itself as long as the range lies below the
// current top.
func (s *Stack) appendTo(op string, dst *Stack, from, count int) error {
	for i := 0; i < count; i++ {
		c := s.cells[from+i]
		switch {
		case c.kind.stringBacked():
			if c.handle() >= len(s.strings) {
				return fail(op, ErrInvalidHandle, "invalid source string handle")
			}
			dst.strings = append(dst.strings, s.strings[c.handle()])
			c.bits = uint32(len(dst.strings) - 1)
			if err := dst.pushRaw(op, c); err != nil {
				dst.strings = dst.strings[:len(dst.strings)-1]
				return err
			}
		case c.kind == KindEngine:
			if c.handle() >= len(s.engines) {
				return fail(op, ErrInvalidHandle, "invalid source engine handle")
			}
			dst.engines = append(dst.engines, s.engines[c.handle()])
			c.bits = uint32(len(dst.engines) - 1)
			if err := dst.pushRaw(op, c); err != nil {
				dst.engines = dst.engines[:len(dst.engines)-1]
				return err
			}
		default:
			if err := dst.pushRaw(op, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// AppendTo pushes copies of count cells starting at cell index from onto
// dst.
func (s *Stack) AppendTo(dst *Stack, from, count int) error {
	if from < 0 || count < 0 || from+count > len(s.cells) {
		return fail("AppendTo", ErrInvalidStackReference, "range exceeds stack bounds")
	}
	return s.appendTo("AppendTo", dst, from, count)
}

// ---------------------------------------------------------------------------
// Continuations and aggregates
// ---------------------------------------------------------------------------

// SaveRange returns a new stack holding the bpBytes below BP, a fresh saved
// BP cell, and the spBytes ending spOffset bytes from the top. The new stack
// is independent of s.
func (s *Stack) SaveRange(bpBytes, spBytes, spOffset int32) (*Stack, error) {
	const op = "SaveRange"
	if bpBytes%CellSize != 0 || spBytes%CellSize != 0 || spOffset%CellSize != 0 {
		return nil, fail(op, ErrInvalidStackReference, "misaligned stack reference")
	}
	if bpBytes < 0 || spBytes < 0 {
		return nil, fail(op, ErrInvalidStackReference, "negative save count")
	}
	sp, bp := s.SP(), s.bp
	if sp+spOffset < 0 {
		return nil, fail(op, ErrInvalidStackReference, "stack save offset exceeds stack bounds")
	}
	if bpBytes > bp || spBytes > sp+spOffset {
		return nil, fail(op, ErrInvalidStackReference, "stack save range exceeds stack bounds")
	}

	saved := New(s.invalid)
	if err := s.appendTo(op, saved, int((bp-bpBytes)/CellSize), int(bpBytes/CellSize)); err != nil {
		return nil, err
	}
	if err := saved.SaveBP(); err != nil {
		return nil, err
	}
	if err := s.appendTo(op, saved, int((sp+spOffset-spBytes)/CellSize), int(spBytes/CellSize)); err != nil {
		return nil, err
	}
	return saved, nil
}

// Destruct removes the top remove bytes except for the holeBytes starting
// holeOffset bytes into the removed range, which end up on top.
func (s *Stack) Destruct(remove, holeOffset, holeBytes int32) error {
	const op = "Destruct"
	if holeBytes == 0 {
		return s.AddSP(-remove)
	}
	if remove%CellSize != 0 || holeOffset%CellSize != 0 || holeBytes%CellSize != 0 {
		return fail(op, ErrInvalidStackReference, "misaligned stack reference")
	}
	from := s.SP() - remove + holeOffset
	count := int(holeBytes / CellSize)
	if from < 0 || holeBytes < 0 || int(from/CellSize)+count > len(s.cells) {
		return fail(op, ErrInvalidStackReference, "range exceeds stack bounds")
	}

	keep := New(s.invalid)
	if err := s.appendTo(op, keep, int(from/CellSize), count); err != nil {
		return err
	}
	if err := s.AddSP(-remove); err != nil {
		return err
	}
	return keep.appendTo(op, s, 0, len(keep.cells))
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// Cells returns resolved copies of every cell, bottom first.
func (s *Stack) Cells() []Value {
	out := make([]Value, len(s.cells))
	for i := range s.cells {
		out[i] = s.value(i)
	}
	return out
}

// FromCells rebuilds a stack from a snapshot taken with Cells. Heap handles
// in the snapshot are ignored; the payloads are pushed in order.
func FromCells(values []Value, bp int32, invalid uint32) (*Stack, error) {
	const op = "FromCells"
	s := New(invalid)
	for _, v := range values {
		c := cell{kind: v.Kind, member: v.Member, engine: v.Engine, bits: v.Raw}
		switch {
		case v.Kind > KindSavedBP:
			return nil, fail(op, ErrTypeMismatch, fmt.Sprintf("unknown cell kind %d", v.Kind))
		case v.Kind.stringBacked():
			s.strings = append(s.strings, v.Text)
			c.bits = uint32(len(s.strings) - 1)
		case v.Kind == KindEngine:
			if v.Structure != nil && v.Structure.EngineType() != v.Engine {
				return nil, fail(op, ErrTypeMismatch, "engine type mismatch")
			}
			s.engines = append(s.engines, v.Structure)
			c.bits = uint32(len(s.engines) - 1)
		}
		if err := s.pushRaw(op, c); err != nil {
			return nil, err
		}
	}
	if err := s.SetBP(bp); err != nil {
		return nil, err
	}
	return s, nil
}
