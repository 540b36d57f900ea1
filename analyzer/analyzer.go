// Package analyzer raises NWScript bytecode into typed control flow graphs.
//
// Analysis runs in two phases. Structure discovery walks every reachable
// subroutine with a work queue, splitting the code into control flows and
// computing each subroutine's parameter and return sizes; a walk that calls
// a subroutine whose sizes are still unknown is parked until they are.
// IR generation then re-walks each subroutine, giving every stack slot a
// Variable, emitting IR into the flows and resolving variable types through
// equivalence classes.
package analyzer

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/pkg/stack"
)

const (
	// InvalidPC marks an absent program address.
	InvalidPC uint32 = 0xFFFFFFFF

	// InvalidSP marks a flow end whose stack height is not yet known.
	InvalidSP int32 = -1

	// MaxInstructions bounds the instructions scanned by one walk.
	MaxInstructions = 10000000
)

// Flags control an analysis run.
type Flags uint32

const (
	// StructureOnly stops after structure discovery: sizes are computed but
	// no IR or types are produced.
	StructureOnly Flags = 1 << iota

	// NoOptimizations skips variable elimination in PostProcessIR.
	NoOptimizations
)

// Analyzer holds the result of analyzing one program. It is not safe for
// concurrent use.
type Analyzer struct {
	actions map[uint16]*bytecode.ActionDefinition
	log     commonlog.Logger
	budget  int

	prog        *bytecode.Program
	loaderPC    uint32
	globalsPC   uint32
	entryPC     uint32
	entryReturn bytecode.ActionType

	subs    []*Subroutine
	globals []*Variable
	queue   []queueEntry

	types typeTable
	vars  []*Variable
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger replaces the "nwscript.analyzer" logger.
func WithLogger(log commonlog.Logger) Option {
	return func(a *Analyzer) { a.log = log }
}

// WithInstructionBudget overrides MaxInstructions.
func WithInstructionBudget(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.budget = n
		}
	}
}

// New creates an analyzer that checks ACTION instructions against actions.
func New(actions []bytecode.ActionDefinition, opts ...Option) *Analyzer {
	a := &Analyzer{
		actions: make(map[uint16]*bytecode.ActionDefinition, len(actions)),
		log:     commonlog.GetLogger("nwscript.analyzer"),
		budget:  MaxInstructions,
	}
	for i := range actions {
		a.actions[actions[i].ID] = &actions[i]
	}
	for _, opt := range opts {
		opt(a)
	}
	a.reset(nil)
	return a
}

func (a *Analyzer) reset(prog *bytecode.Program) {
	a.prog = prog
	a.loaderPC, a.globalsPC, a.entryPC = InvalidPC, InvalidPC, InvalidPC
	a.entryReturn = bytecode.ActionVoid
	a.subs, a.globals, a.queue = nil, nil, nil
	a.types = typeTable{}
	a.vars = nil
}

// Subroutines returns every discovered subroutine. The entry point is first;
// #globals, when present, is second.
func (a *Analyzer) Subroutines() []*Subroutine { return a.subs }

// Subroutine returns the subroutine starting at pc, or nil.
func (a *Analyzer) Subroutine(pc uint32) *Subroutine {
	for _, s := range a.subs {
		if s.address == pc {
			return s
		}
	}
	return nil
}

// Globals returns the global variables, outermost first.
func (a *Analyzer) Globals() []*Variable { return a.globals }

// Variables returns every variable the analysis created.
func (a *Analyzer) Variables() []*Variable { return a.vars }

// LoaderPC returns the address of #loader.
func (a *Analyzer) LoaderPC() uint32 { return a.loaderPC }

// GlobalsPC returns the address of #globals, or InvalidPC.
func (a *Analyzer) GlobalsPC() uint32 { return a.globalsPC }

// EntryPC returns the address of the entry point, or InvalidPC.
func (a *Analyzer) EntryPC() uint32 { return a.entryPC }

// Analyze analyzes prog. Errors confined to some subroutines leave the rest
// analyzed; the returned error joins them. Errors in #loader abort the run.
func (a *Analyzer) Analyze(prog *bytecode.Program, flags Flags) error {
	a.reset(prog)

	if err := a.analyzeLoader(); err != nil {
		return err
	}

	entry := newSubroutine(a.entryPC, 0)
	if a.entryReturn != bytecode.ActionVoid {
		if err := entry.addReturnType(a.entryReturn); err != nil {
			return wrapError(a.entryPC, err)
		}
	}
	a.subs = append(a.subs, entry)
	if name, ok := prog.Symbol(a.entryPC, false); ok {
		entry.symbol = name
	} else if a.entryReturn != bytecode.ActionVoid {
		entry.symbol = "StartingConditional"
	} else {
		entry.symbol = "main"
	}

	if a.globalsPC != InvalidPC {
		globals := newSubroutine(a.globalsPC, 0)
		if a.entryReturn != bytecode.ActionVoid {
			_ = globals.addReturnType(a.entryReturn)
		}
		if name, ok := prog.Symbol(a.globalsPC, false); ok {
			globals.symbol = name
		} else {
			globals.symbol = "#globals"
		}
		a.subs = append(a.subs, globals)

		// #globals calls the entry point; treat it as a finished leaf so the
		// walk does not descend into it.
		entry.analyzed = true
		if a.entryReturn != bytecode.ActionVoid {
			entry.returnSize = stack.CellSize
		}
		a.analyzeStructure(queueEntry{pc: a.globalsPC, sub: globals})
		entry.analyzed = false
		entry.returnSize = 0
		a.log.Debugf("%s: structural analysis for #globals completed", prog.Name)
	}

	a.analyzeStructure(queueEntry{pc: a.entryPC, sub: entry})

	for _, s := range a.subs {
		if s.returnSize <= s.paramSize {
			s.returnSize = 0
		} else {
			s.returnSize -= s.paramSize
		}
		for len(s.returnTypes) < int(s.returnSize/stack.CellSize) {
			s.returnTypes = append(s.returnTypes, bytecode.ActionVoid)
		}
		for len(s.parameters) < int(s.paramSize/stack.CellSize) {
			s.parameters = append(s.parameters, bytecode.ActionVoid)
		}
		s.createParameterReturnVariables(a)
		a.log.Debugf("%s: subroutine %08X%s: %d bytes parameters, %d bytes return value",
			prog.Name, s.address, situationSuffix(s), s.paramSize, s.returnSize)
	}

	if entry.err != nil {
		return a.errors()
	}
	if flags&StructureOnly != 0 {
		return a.errors()
	}

	a.analyzeCode()
	a.PostProcessIR(flags&NoOptimizations == 0)
	return a.errors()
}

// errors joins the failures of every subroutine.
func (a *Analyzer) errors() error {
	var errs []error
	for _, s := range a.subs {
		if s.err != nil {
			errs = append(errs, fmt.Errorf("subroutine %08X: %w", s.address, s.err))
		}
	}
	return errors.Join(errs...)
}

func situationSuffix(s *Subroutine) string {
	if s.IsSituation() {
		return " (script situation)"
	}
	return ""
}

// ---------------------------------------------------------------------------
// #loader
// ---------------------------------------------------------------------------

func (a *Analyzer) decode(pc uint32) (bytecode.Instruction, error) {
	if pc >= a.prog.Len() {
		return bytecode.Instruction{}, scriptError(pc, "reached end of script")
	}
	in, err := bytecode.Decode(a.prog.Code, pc)
	if err != nil {
		return in, &Error{PC: pc, StackIndex: NoStackIndex, What: "unrecognized instruction", Err: err}
	}
	return in, nil
}

// analyzeLoader finds the entry point through the #loader stub and, when
// the program has globals, through #globals.
func (a *Analyzer) analyzeLoader() error {
	a.loaderPC = 0
	in, err := a.decode(0)
	if err != nil {
		return err
	}

	switch in.Op {
	case bytecode.OpRSAdd:
		if in.Type != bytecode.TypeInt {
			return scriptError(0, "#loader returns non-int/non-void type")
		}
		a.entryReturn = bytecode.ActionInt
	case bytecode.OpJSR:
		a.entryReturn = bytecode.ActionVoid
	case bytecode.OpNop:
		if a.prog.PatchState() == bytecode.PatchReturnValue {
			a.entryReturn = bytecode.ActionInt
		}
	default:
		return scriptError(0, "unrecognized instruction pattern for #loader")
	}

	for in.Op != bytecode.OpJSR {
		next := in.Next()
		if next >= a.prog.Len() {
			return scriptError(next, "reached eof while searching #loader control transfer")
		}
		if in, err = a.decode(next); err != nil {
			return err
		}
		if in.Op == bytecode.OpRetn {
			return scriptError(in.PC, "reached RETN while searching #loader control transfer")
		}
	}
	target := in.Target()

	savebp, err := a.FindInstructionInFlow(target, bytecode.OpSaveBP)
	if err != nil {
		return err
	}
	if savebp == InvalidPC {
		a.globalsPC = InvalidPC
		a.entryPC = target
		return nil
	}

	a.globalsPC = target
	jsr, err := a.FindInstructionInFlow(savebp, bytecode.OpJSR)
	if err != nil {
		return err
	}
	if jsr == InvalidPC {
		return scriptError(savebp, "failed to discover JSR to entry point symbol")
	}
	if in, err = a.decode(jsr); err != nil {
		return err
	}
	a.entryPC = in.Target()
	return nil
}

// FindInstructionInFlow scans forward from pc for the first instruction
// with opcode op, following branches and situation resume points but not
// subroutine calls. It returns InvalidPC if the flow returns first.
func (a *Analyzer) FindInstructionInFlow(pc uint32, op bytecode.Opcode) (uint32, error) {
	var pending, visited []uint32
	seen := func(pc uint32) bool {
		for _, v := range visited {
			if v == pc {
				return true
			}
		}
		return false
	}
	pop := func() (uint32, bool) {
		if len(pending) == 0 {
			return 0, false
		}
		pc := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		return pc, true
	}

	for scanned := 1; ; scanned++ {
		if pc >= a.prog.Len() {
			return InvalidPC, scriptError(pc, "reached eof in FindInstructionInFlow")
		}
		if scanned > a.budget {
			return InvalidPC, scriptError(pc, "too many script instructions in FindInstructionInFlow")
		}
		in, err := a.decode(pc)
		if err != nil {
			return InvalidPC, err
		}
		if in.Op == op {
			return pc, nil
		}

		switch in.Op {
		case bytecode.OpRetn:
			next, ok := pop()
			if !ok {
				return InvalidPC, nil
			}
			pc = next
			continue

		case bytecode.OpJZ, bytecode.OpJNZ, bytecode.OpJmp:
			if in.Jump() == 0 {
				return InvalidPC, scriptError(pc, "trivial infinite loop detected")
			}
			target := in.Target()
			if seen(target) {
				if in.Op == bytecode.OpJmp {
					next, ok := pop()
					if !ok {
						return InvalidPC, nil
					}
					pc = next
					continue
				}
				pc = in.Next()
				continue
			}
			visited = append(visited, target)
			if in.Op == bytecode.OpJmp {
				pc = target
			} else {
				pending = append(pending, target)
				pc = in.Next()
			}
			continue

		case bytecode.OpStoreState, bytecode.OpStoreStateAll:
			target := in.ResumePC()
			if !seen(target) {
				visited = append(visited, target)
				pending = append(pending, target)
			}
		}
		pc = in.Next()
	}
}
