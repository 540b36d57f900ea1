package analyzer

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/chazu/nwscript/pkg/bytecode"
)

// Print writes an IR listing of every analyzed subroutine to w.
func (a *Analyzer) Print(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, s := range a.subs {
		a.printSubroutine(bw, s)
	}
	return bw.Flush()
}

func (a *Analyzer) printSubroutine(w *bufio.Writer, s *Subroutine) {
	fmt.Fprintf(w, "Printing IR for function %08X%s (%s)\n", s.address, situationSuffix(s), s.symbol)
	if s.err != nil {
		fmt.Fprintf(w, "  analysis failed: %v\n", s.err)
		return
	}

	for _, f := range s.flows.ordered() {
		fmt.Fprintf(w, "label %08X:\n", f.StartPC)
		for _, in := range f.ir {
			fmt.Fprintf(w, "%08X: %-6s %s\n", in.Address, in.Op, a.operandString(in))
		}
		if next := f.next(); next != nil {
			fmt.Fprintf(w, "          goto   %08X\n", next.StartPC)
		}
	}
	w.WriteString("\n")
}

func (a *Analyzer) operandString(in *Instruction) string {
	var b strings.Builder
	switch in.Op {
	case IRJZ, IRJNZ, IRJmp:
		if in.Target != nil {
			fmt.Fprintf(&b, "%08X", in.Target.Address)
		}
		if in.Op != IRJmp && in.Vars[0] != nil {
			b.WriteString(", ")
			writeVar(&b, in.Vars[0])
		}

	case IRRetn:

	case IRInitialize:
		writeVar(&b, in.Result)

	case IRCreate, IRDelete, IRTest:
		writeVar(&b, in.Vars[0])

	case IRAssign, IRNeg, IRComp, IRNot, IRInc, IRDec:
		writeVar(&b, in.Result)
		b.WriteString(", ")
		writeVar(&b, in.Vars[0])

	case IRCall, IRSaveState:
		if in.Subroutine != nil {
			fmt.Fprintf(&b, "%08X (%s) ", in.Subroutine.address, in.Subroutine.symbol)
		}
		writeParams(&b, in.Params)

	case IRAction:
		name := "?"
		if def := a.actions[in.ActionID]; def != nil {
			name = def.Name
		}
		fmt.Fprintf(&b, "%04X (%s) (%d) ", in.ActionID, name, in.ActionArgc)
		writeParams(&b, in.Params)

	default:
		writeVar(&b, in.Result)
		b.WriteString(", ")
		writeVar(&b, in.Vars[0])
		b.WriteString(", ")
		writeVar(&b, in.Vars[1])
	}
	return strings.TrimRight(b.String(), " ")
}

func writeParams(b *strings.Builder, params []*Variable) {
	for i, v := range params {
		if i > 0 {
			b.WriteString(", ")
		}
		writeVar(b, v)
	}
}

// writeVar renders v as "vN ( flags type )", followed by the literal for
// constants.
func writeVar(b *strings.Builder, v *Variable) {
	if v == nil {
		b.WriteString("<nil>")
		return
	}
	h := v.Head()

	var class string
	switch h.class {
	case ClassGlobal, ClassConstant, ClassParameter, ClassReturnValue:
		class = h.class.String() + " "
	}
	flag := func(f VarFlag, s string) string {
		if h.Has(f) {
			return s
		}
		return ""
	}
	merged := ""
	if v.Has(OptimizerEliminated) {
		merged = "merged "
	}

	fmt.Fprintf(b, "%s ( %s%s%s%s%s%s%s )", h, merged, class,
		flag(MultiplyCreated, "MC "), flag(LocalToFlow, "temp "),
		flag(WriteOnly, "writeonly "), flag(SingleAssignment, "SSA "),
		typeName(h.Type()))

	if h.class != ClassConstant || h.value == nil {
		return
	}
	switch c := h.value; c.Type {
	case bytecode.ActionInt:
		fmt.Fprintf(b, " [%d]", c.Int)
	case bytecode.ActionFloat:
		fmt.Fprintf(b, " [%g]", c.Float)
	case bytecode.ActionString:
		fmt.Fprintf(b, " [%q]", c.String)
	case bytecode.ActionObject:
		fmt.Fprintf(b, " [%08X]", c.Object)
	}
}
