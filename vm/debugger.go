package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/pkg/stack"
)

// ---------------------------------------------------------------------------
// Breakpoints
// ---------------------------------------------------------------------------

// MaxBreakpoints is the size of the breakpoint table.
const MaxBreakpoints = 4

// breakpointNameLen bounds the script name stored in a breakpoint.
const breakpointNameLen = 32

type breakpoint struct {
	script string
	pc     uint32
	active bool
}

// BreakpointHit describes a reached breakpoint.
type BreakpointHit struct {
	Script string
	PC     uint32
	Symbol string
	Dump   string
}

func truncateName(name string) string {
	if len(name) > breakpointNameLen {
		return name[:breakpointNameLen]
	}
	return name
}

// SetBreakpoint arms a breakpoint at pc in the named script. It fails when
// every slot is in use.
func (v *VM) SetBreakpoint(script string, pc uint32) error {
	script = truncateName(script)
	free := -1
	for i, bp := range v.breakpoints {
		if bp.active && bp.script == script && bp.pc == pc {
			return nil
		}
		if !bp.active && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return fmt.Errorf("breakpoint table full (%d entries)", MaxBreakpoints)
	}
	v.breakpoints[free] = breakpoint{script: script, pc: pc, active: true}
	return nil
}

// ClearBreakpoint removes a breakpoint. It reports whether one was set.
func (v *VM) ClearBreakpoint(script string, pc uint32) bool {
	script = truncateName(script)
	for i, bp := range v.breakpoints {
		if bp.active && bp.script == script && bp.pc == pc {
			v.breakpoints[i] = breakpoint{}
			return true
		}
	}
	return false
}

func (v *VM) breakpointsSet() bool {
	for _, bp := range v.breakpoints {
		if bp.active {
			return true
		}
	}
	return false
}

func (v *VM) checkBreakpoint(x *invocation, pc uint32, symbol string) {
	name := truncateName(x.prog.Name)
	for _, bp := range v.breakpoints {
		if !bp.active || bp.pc != pc || bp.script != name {
			continue
		}
		if symbol == "" {
			symbol = "<no symbols>"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "**** Debugger breakpoint reached at %s:%08X (%s)\n", x.prog.Name, pc, symbol)
		fmt.Fprintf(&b, "     PC=%08X SP=%08X BP=%08X\n", pc, uint32(x.stk.SP()), uint32(x.stk.BP()))
		b.WriteString("**** Stack dump: \n")
		dumpStack(&b, x.stk)

		hit := BreakpointHit{Script: x.prog.Name, PC: pc, Symbol: symbol, Dump: b.String()}
		if v.trace != nil {
			fmt.Fprint(v.trace, hit.Dump)
		} else {
			v.log.Error(hit.Dump)
		}
		if v.breakpointHook != nil {
			v.breakpointHook(hit)
		}
		return
	}
}

// dumpStack writes every cell of s, top first.
func dumpStack(b *strings.Builder, s *stack.Stack) {
	b.WriteString("SPOffset Value   .Ty< String Data >\n")
	b.WriteString(strings.Repeat("=", 36) + "\n")
	cells := s.Cells()
	for i := len(cells) - 1; i >= 0; i-- {
		c := cells[i]
		offset := -int32(len(cells)-i) * stack.CellSize
		fmt.Fprintf(b, "%08X %08X.%02X", uint32(offset), c.Raw, c.Code())
		if c.Kind == stack.KindString || c.Kind == stack.KindDynamic {
			fmt.Fprintf(b, "<\"%s\">", c.Text)
		}
		b.WriteString("\n")
	}
}

// ---------------------------------------------------------------------------
// Instruction trace
// ---------------------------------------------------------------------------

const traceDepth = 3

// traceInstruction logs the instruction about to run with the top of the
// stack, then checks the breakpoint table.
func (v *VM) traceInstruction(x *invocation, in bytecode.Instruction) {
	s := x.stk
	symbol, haveSymbol := x.prog.Symbol(in.PC, true)

	if v.trace != nil || v.debug >= DebugVerbose {
		var top strings.Builder
		for i := int32(1); i <= traceDepth; i++ {
			c, ok := s.Peek(s.SP() - i*stack.CellSize)
			if !ok {
				break
			}
			if c.Kind == stack.KindString {
				fmt.Fprintf(&top, "%08X.%02X<\"%s\"> ", c.Raw, c.Code(), c.Text)
			} else {
				fmt.Fprintf(&top, "%08X.%02X ", c.Raw, c.Code())
			}
		}

		where := fmt.Sprintf("PC=%08X", in.PC)
		if haveSymbol {
			where += "(" + symbol + ")"
		}
		line := fmt.Sprintf("%s: %s: %02X.%02X   %s   [SP=%08X BP=%08X]  S=%s",
			x.prog.Name, where, byte(in.Op), byte(in.Type),
			bytecode.Mnemonic(in.Op, in.Type), uint32(s.SP()), uint32(s.BP()), top.String())
		if v.trace != nil {
			fmt.Fprintln(v.trace, line)
		}
		v.debugf("%s", line)
	}

	v.checkBreakpoint(x, in.PC, symbol)
}
