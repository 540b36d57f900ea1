package analyzer

import "sort"

// Termination says how a control flow ends.
type Termination uint8

const (
	TermUnknown   Termination = iota
	TermTerminate             // RETN
	TermMerge                 // falls into the next flow
	TermTransfer              // JMP
	TermSplit                 // JZ / JNZ
)

var terminationNames = [...]string{"Unknown", "Terminate", "Merge", "Transfer", "Split"}

func (t Termination) String() string {
	if int(t) < len(terminationNames) {
		return terminationNames[t]
	}
	return "Termination(?)"
}

// ControlFlow is a basic block: a straight run of instructions entered only
// at StartPC. Child 0 is the branch target (or the only successor), child 1
// the fallthrough of a split.
type ControlFlow struct {
	StartPC     uint32
	StartSP     int32
	EndPC       uint32
	EndSP       int32
	Termination Termination
	Children    [2]*ControlFlow

	parents []*ControlFlow
	ir      []*Instruction
}

func newControlFlow(pc uint32, sp int32) *ControlFlow {
	return &ControlFlow{StartPC: pc, StartSP: sp, EndPC: InvalidPC, EndSP: InvalidSP}
}

// Parents returns the flows that continue into f, in discovery order.
func (f *ControlFlow) Parents() []*ControlFlow { return f.parents }

// IR returns the flow's instruction list.
func (f *ControlFlow) IR() []*Instruction { return f.ir }

func (f *ControlFlow) addParent(p *ControlFlow) {
	for _, q := range f.parents {
		if q == p {
			return
		}
	}
	f.parents = append(f.parents, p)
}

func (f *ControlFlow) hasParent(p *ControlFlow) bool {
	for _, q := range f.parents {
		if q == p {
			return true
		}
	}
	return false
}

// next returns the flow execution continues into, preferring the
// fallthrough of a split.
func (f *ControlFlow) next() *ControlFlow {
	if f.Children[1] != nil {
		return f.Children[1]
	}
	return f.Children[0]
}

// Label is a branch target inside a subroutine.
type Label struct {
	Address uint32
	SP      int32
	Flow    *ControlFlow
	Flags   uint32
}

// ---------------------------------------------------------------------------
// Ordered flow set
// ---------------------------------------------------------------------------

// flowSet maps start addresses to flows in address order.
type flowSet struct {
	keys  []uint32
	flows map[uint32]*ControlFlow
}

func (s *flowSet) set(pc uint32, f *ControlFlow) {
	if s.flows == nil {
		s.flows = make(map[uint32]*ControlFlow)
	}
	if _, ok := s.flows[pc]; !ok {
		i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= pc })
		s.keys = append(s.keys, 0)
		copy(s.keys[i+1:], s.keys[i:])
		s.keys[i] = pc
	}
	s.flows[pc] = f
}

// lookup returns the flow starting at pc, or the flow whose finished range
// contains pc.
func (s *flowSet) lookup(pc uint32) *ControlFlow {
	if f, ok := s.flows[pc]; ok {
		return f
	}
	i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] >= pc })
	if i == 0 {
		return nil
	}
	f := s.flows[s.keys[i-1]]
	if f.EndPC != InvalidPC && pc >= s.keys[i-1] && pc < f.EndPC {
		return f
	}
	return nil
}

// after returns the first flow starting above pc.
func (s *flowSet) after(pc uint32) *ControlFlow {
	i := sort.Search(len(s.keys), func(i int) bool { return s.keys[i] > pc })
	if i == len(s.keys) {
		return nil
	}
	return s.flows[s.keys[i]]
}

func (s *flowSet) ordered() []*ControlFlow {
	out := make([]*ControlFlow, len(s.keys))
	for i, k := range s.keys {
		out[i] = s.flows[k]
	}
	return out
}

func (s *flowSet) len() int { return len(s.keys) }
