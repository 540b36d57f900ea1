package vm

import (
	"fmt"
	"io"

	"github.com/tliron/commonlog"

	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/pkg/stack"
)

// ---------------------------------------------------------------------------
// Limits and flags
// ---------------------------------------------------------------------------

const (
	// MaxInstructions bounds one top-level invocation, nested calls
	// included.
	MaxInstructions = 100000

	// MaxRecursion bounds the nesting of Execute and Resume calls.
	MaxRecursion = 20
)

// ExecFlags control how an entry point is invoked.
type ExecFlags uint32

const (
	// IgnoreStackMismatch tolerates a top-level script that leaves the
	// stack unbalanced, returning the default code instead of failing.
	IgnoreStackMismatch ExecFlags = 1 << iota

	// RaiseOnFailure makes Execute return execution errors. Without it a
	// failed script yields the default return code and a nil error.
	RaiseOnFailure

	// StaticTypeDiscovery pushes entry point parameters with the types the
	// analyzer discovered instead of as dynamic text.
	StaticTypeDiscovery
)

// DebugLevel filters the VM's diagnostic output.
type DebugLevel int

const (
	DebugNone DebugLevel = iota
	DebugErrors
	DebugCalls
	DebugVerbose
)

var debugLevelNames = map[string]DebugLevel{
	"none":    DebugNone,
	"errors":  DebugErrors,
	"calls":   DebugCalls,
	"verbose": DebugVerbose,
}

// ParseDebugLevel maps a configuration name to a DebugLevel.
func ParseDebugLevel(name string) (DebugLevel, error) {
	if l, ok := debugLevelNames[name]; ok {
		return l, nil
	}
	return DebugNone, fmt.Errorf("unknown debug level %q", name)
}

func (l DebugLevel) String() string {
	for name, v := range debugLevelNames {
		if v == l {
			return name
		}
	}
	return fmt.Sprintf("DebugLevel(%d)", int(l))
}

// ---------------------------------------------------------------------------
// Saved script situations
// ---------------------------------------------------------------------------

// SavedState is a continuation captured by STORE_STATE. It owns its stack;
// once handed to Resume the state is consumed.
type SavedState struct {
	Stack   *stack.Stack
	Program *bytecode.Program
	PC      uint32
	Self    uint32
	Invalid uint32
	Aborted bool
}

// callTree is the ambient state shared by every nested invocation running on
// one VM. It is reset when the outermost invocation returns.
type callTree struct {
	depth        int
	aborted      bool
	instructions int
	saved        *SavedState
	actionSelf   uint32
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// VM executes NWScript programs. A VM runs one call tree at a time and must
// not be shared between goroutines; separate VMs share nothing.
type VM struct {
	actions ActionHandler
	defs    []bytecode.ActionDefinition
	stack   *stack.Stack
	log     commonlog.Logger

	maxInstructions int
	maxRecursion    int
	debug           DebugLevel
	trace           io.Writer

	breakpoints    [MaxBreakpoints]breakpoint
	breakpointHook func(BreakpointHit)

	tree callTree
}

// Option configures a VM.
type Option func(*VM)

// WithLimits overrides the instruction and recursion limits. Non-positive
// values keep the defaults.
func WithLimits(maxInstructions, maxRecursion int) Option {
	return func(v *VM) {
		if maxInstructions > 0 {
			v.maxInstructions = maxInstructions
		}
		if maxRecursion > 0 {
			v.maxRecursion = maxRecursion
		}
	}
}

// WithDebugLevel sets the diagnostic filter. The default is DebugErrors.
func WithDebugLevel(level DebugLevel) Option {
	return func(v *VM) { v.debug = level }
}

// WithTrace writes one line per executed instruction to w.
func WithTrace(w io.Writer) Option {
	return func(v *VM) { v.trace = w }
}

// WithActionDefinitions supplies the action table used to analyze scripts
// before their first run. Without it scripts are never analyzed.
func WithActionDefinitions(defs []bytecode.ActionDefinition) Option {
	return func(v *VM) { v.defs = defs }
}

// WithBreakpointHook calls fn whenever a breakpoint is reached.
func WithBreakpointHook(fn func(BreakpointHit)) Option {
	return func(v *VM) { v.breakpointHook = fn }
}

// New creates a VM that dispatches actions to actions.
func New(actions ActionHandler, opts ...Option) *VM {
	v := &VM{
		actions:         actions,
		stack:           stack.New(0),
		log:             commonlog.GetLogger("nwscript.vm"),
		maxInstructions: MaxInstructions,
		maxRecursion:    MaxRecursion,
		debug:           DebugErrors,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SetDebugLevel changes the diagnostic filter.
func (v *VM) SetDebugLevel(level DebugLevel) { v.debug = level }

// Stack returns the VM's own stack, used by Execute.
func (v *VM) Stack() *stack.Stack { return v.stack }

// Abort stops the running call tree at the next instruction or action
// return. The flag clears when the outermost invocation returns.
func (v *VM) Abort() { v.tree.aborted = true }

// Aborted reports whether the running call tree has been aborted.
func (v *VM) Aborted() bool { return v.tree.aborted }

// Depth returns the current nesting level; zero when idle.
func (v *VM) Depth() int { return v.tree.depth }

// SavedState returns the continuation captured by the most recent
// STORE_STATE, or nil. Action handlers take it during the action call that
// follows the capture; it is discarded when the call tree ends.
func (v *VM) SavedState() *SavedState { return v.tree.saved }

// CurrentActionObject returns the self object of the action being called.
func (v *VM) CurrentActionObject() uint32 { return v.tree.actionSelf }

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Execute runs prog from its entry point with the given parameters. On the
// first run the program is analyzed and patched for parameter passing.
//
// A failure aborts the whole call tree. It is returned when flags include
// RaiseOnFailure; otherwise Execute logs it and returns defaultReturn.
func (v *VM) Execute(prog *bytecode.Program, self, invalid uint32, params []string, defaultReturn int32, flags ExecFlags) (int32, error) {
	if params == nil {
		params = []string{}
	}

	if prog.PatchState() == bytecode.PatchUnknown {
		v.analyze(prog, flags)
		params, flags = v.applyAnalysis(prog, params, flags)
		v.applyFixups(prog, len(params) > 0)
	} else if prog.AnalyzeState() == nil {
		v.analyze(prog, flags)
	}
	params, flags = v.applyAnalysis(prog, params, flags)

	v.stack.SetInvalidObject(invalid)
	x := &invocation{
		prog:          prog,
		stk:           v.stack,
		self:          self,
		invalid:       invalid,
		params:        params,
		defaultReturn: defaultReturn,
		flags:         flags,
		needFixup:     prog.PatchState() == bytecode.PatchUsesGlobals && len(params) > 0,
	}
	return v.invoke(x)
}

// Resume runs a saved script situation from its resume point on the
// situation's own stack. The state is consumed.
func (v *VM) Resume(state *SavedState) error {
	if state == nil || state.Program == nil || state.Stack == nil {
		return fmt.Errorf("%w: empty script situation", ErrEntryParameters)
	}
	x := &invocation{
		prog:      state.Program,
		stk:       state.Stack,
		self:      state.Self,
		invalid:   state.Invalid,
		pc:        state.PC,
		flags:     RaiseOnFailure,
		situation: true,
	}
	_, err := v.invoke(x)
	return err
}

// applyAnalysis sizes params to the analyzed parameter count. Once the
// count is known a stack mismatch is no longer tolerated.
func (v *VM) applyAnalysis(prog *bytecode.Program, params []string, flags ExecFlags) ([]string, ExecFlags) {
	st := prog.AnalyzeState()
	if st == nil {
		return params, flags
	}
	if st.ParameterCells != len(params) {
		resized := make([]string, st.ParameterCells)
		copy(resized, params)
		params = resized
	}
	return params, flags &^ IgnoreStackMismatch
}

func (v *VM) invoke(x *invocation) (int32, error) {
	if v.tree.depth >= v.maxRecursion {
		v.errorf("%s: Maximum recursion level reached, aborting", x.prog.Name)
		v.Abort()
		if x.flags&RaiseOnFailure != 0 {
			return x.defaultReturn, &ExecError{Script: x.prog.Name, PC: x.pc, Err: ErrRecursionLimit}
		}
		return x.defaultReturn, nil
	}
	if v.tree.aborted {
		if x.flags&RaiseOnFailure != 0 {
			return x.defaultReturn, &ExecError{Script: x.prog.Name, PC: x.pc, Err: fmt.Errorf("%w: script is already aborted", ErrAborted)}
		}
		return x.defaultReturn, nil
	}

	v.tree.depth++
	if v.debug >= DebugCalls {
		if x.situation {
			v.log.Infof("%s: Executing script situation (PC = %08X)", x.prog.Name, x.pc)
		} else {
			v.log.Infof("%s: Executing script with %d parameters (recursion level = %d)",
				x.prog.Name, len(x.params), v.tree.depth)
		}
	}

	entryDepth := x.stk.ReturnDepth()
	rc, err := v.run(x)
	if err != nil {
		v.errorf("%s: Error executing script: %v", x.prog.Name, err)
		if v.debug >= DebugErrors {
			for i := x.stk.ReturnDepth() - 1; i >= entryDepth; i-- {
				ret := x.stk.ReturnEntry(i)
				sym, _ := x.prog.Symbol(ret, true)
				v.log.Errorf("%s: ... called from PC=%08X (%s)", x.prog.Name, ret, sym)
			}
		}
		v.Abort()
		if x.flags&RaiseOnFailure != 0 {
			v.exit(x.stk)
			return x.defaultReturn, err
		}
		rc = x.defaultReturn
	}

	if v.debug >= DebugCalls {
		v.log.Infof("%s: Script returned %d", x.prog.Name, rc)
	}
	v.exit(x.stk)
	return rc, nil
}

// exit leaves one nesting level. Leaving the outermost level resets the
// call tree and the stack it ran on.
func (v *VM) exit(s *stack.Stack) {
	v.tree.depth--
	if v.tree.depth > 0 {
		return
	}
	v.tree = callTree{}
	s.Reset()
}

func (v *VM) errorf(format string, args ...any) {
	if v.debug >= DebugErrors {
		v.log.Errorf(format, args...)
	}
}

func (v *VM) warningf(format string, args ...any) {
	if v.debug >= DebugErrors {
		v.log.Warningf(format, args...)
	}
}

func (v *VM) debugf(format string, args ...any) {
	if v.debug >= DebugVerbose {
		v.log.Debugf(format, args...)
	}
}
