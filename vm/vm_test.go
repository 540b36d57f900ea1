package vm

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/pkg/stack"
)

const testInvalid = 0x7f000000

// mockHost dispatches actions to per-id closures.
type mockHost struct {
	handlers map[uint16]func(v *VM, s *stack.Stack, argc int) error
}

func newMockHost() *mockHost {
	return &mockHost{handlers: make(map[uint16]func(*VM, *stack.Stack, int) error)}
}

func (h *mockHost) ExecuteAction(v *VM, s *stack.Stack, id uint16, argc int) error {
	fn, ok := h.handlers[id]
	if !ok {
		return fmt.Errorf("unknown action %d", id)
	}
	return fn(v, s, argc)
}

func (h *mockHost) CreateEngineStructure(uint8) stack.EngineStructure { return nil }

func (h *mockHost) ExecuteActionFromJIT(uint16, int) bool { return false }

func (h *mockHost) ExecuteActionFromJITFast(uint16, int, []FastCommand, []any) bool { return false }

var testDefs = []bytecode.ActionDefinition{
	{Name: "PrintString", ID: 1, MinParameters: 1, Parameters: []bytecode.ActionType{bytecode.ActionString}},
	{Name: "PrintInteger", ID: 4, MinParameters: 1, Parameters: []bytecode.ActionType{bytecode.ActionInt}},
}

func retn(a *bytecode.Assembler) { a.Op(bytecode.OpRetn, bytecode.TypeNone) }

// conditional builds "RSADD.I; JSR main; RETN" followed by main, which
// stores the int left on top by body into the return cell.
func conditional(name string, body func(a *bytecode.Assembler)) *bytecode.Program {
	a := bytecode.NewAssembler()
	a.RSAdd(bytecode.TypeInt)
	jsr := a.JumpForward(bytecode.OpJSR)
	retn(a)
	a.PatchJump(jsr, a.PC())
	body(a)
	a.Copy(bytecode.OpCPDownSP, -8, 4)
	a.MovSP(-4)
	retn(a)
	return a.Program(name)
}

// ============ Arithmetic Tests ============

func TestExecuteAdd(t *testing.T) {
	prog := conditional("add", func(a *bytecode.Assembler) {
		a.ConstInt(2)
		a.ConstInt(3)
		a.Op(bytecode.OpAdd, bytecode.TypeIntInt)
	})
	v := New(newMockHost())
	rc, err := v.Execute(prog, 0, testInvalid, nil, -1, RaiseOnFailure)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rc != 5 {
		t.Errorf("rc = %d, want 5", rc)
	}
	if v.Depth() != 0 || v.Stack().SP() != 0 {
		t.Errorf("VM not idle after run: depth %d, SP %d", v.Depth(), v.Stack().SP())
	}
}

func TestAddPopsOneCell(t *testing.T) {
	s := stack.New(testInvalid)
	_ = s.PushInt(2)
	_ = s.PushInt(3)
	in := bytecode.Instruction{Op: bytecode.OpAdd, Type: bytecode.TypeIntInt}
	if err := arithmetic(s, in); err != nil {
		t.Fatal(err)
	}
	if s.SP() != stack.CellSize {
		t.Errorf("SP = %d, want %d", s.SP(), stack.CellSize)
	}
	if n, err := s.PopInt(); err != nil || n != 5 {
		t.Errorf("top = (%d, %v), want 5", n, err)
	}
}

func TestIntOperators(t *testing.T) {
	cases := []struct {
		op   bytecode.Opcode
		a, b int32
		want int32
	}{
		{bytecode.OpSub, 7, 10, -3},
		{bytecode.OpMul, -4, 6, -24},
		{bytecode.OpDiv, 7, 2, 3},
		{bytecode.OpMod, -7, 3, -1},
		{bytecode.OpShLeft, 1, 33, 2},
		{bytecode.OpShRight, -16, 2, -4},
		{bytecode.OpUShRight, -16, 2, -4},
		{bytecode.OpBoolAnd, 6, 3, 2},
		{bytecode.OpIncOr, 4, 1, 5},
		{bytecode.OpExcOr, 5, 1, 4},
		{bytecode.OpLogAnd, 2, 0, 0},
		{bytecode.OpLogOr, 2, 0, 1},
	}
	for _, c := range cases {
		prog := conditional("op", func(a *bytecode.Assembler) {
			a.ConstInt(c.a)
			a.ConstInt(c.b)
			a.Op(c.op, bytecode.TypeIntInt)
		})
		rc, err := New(newMockHost()).Execute(prog, 0, testInvalid, nil, -1, RaiseOnFailure)
		if err != nil {
			t.Errorf("%s: %v", c.op, err)
			continue
		}
		if rc != c.want {
			t.Errorf("%s(%d, %d) = %d, want %d", c.op, c.a, c.b, rc, c.want)
		}
	}
}

func TestStringConcatenation(t *testing.T) {
	s := stack.New(testInvalid)
	_ = s.PushString("foo")
	_ = s.PushString("bar")
	if err := arithmetic(s, bytecode.Instruction{Op: bytecode.OpAdd, Type: bytecode.TypeStringString}); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.PopString(); got != "foobar" {
		t.Errorf("concatenation = %q, want foobar", got)
	}
}

func TestArithmeticFaults(t *testing.T) {
	cases := []struct {
		name string
		op   bytecode.Opcode
		a, b int32
	}{
		{"div by zero", bytecode.OpDiv, 1, 0},
		{"mod by zero", bytecode.OpMod, 1, 0},
		{"min div -1", bytecode.OpDiv, math.MinInt32, -1},
		{"min mod -1", bytecode.OpMod, math.MinInt32, -1},
	}
	for _, c := range cases {
		prog := conditional(c.name, func(a *bytecode.Assembler) {
			a.ConstInt(c.a)
			a.ConstInt(c.b)
			a.Op(c.op, bytecode.TypeIntInt)
		})
		v := New(newMockHost())
		rc, err := v.Execute(prog, 0, testInvalid, nil, -1, RaiseOnFailure)
		if !errors.Is(err, ErrArithmeticFault) {
			t.Errorf("%s: expected ErrArithmeticFault, got %v", c.name, err)
		}
		if rc != -1 {
			t.Errorf("%s: rc = %d, want default -1", c.name, rc)
		}

		// Without RaiseOnFailure the failure is swallowed.
		rc, err = New(newMockHost()).Execute(prog, 0, testInvalid, nil, -1, 0)
		if err != nil || rc != -1 {
			t.Errorf("%s: swallowed run = (%d, %v), want (-1, nil)", c.name, rc, err)
		}
	}
}

func TestFloatDivideByZero(t *testing.T) {
	s := stack.New(testInvalid)
	_ = s.PushFloat(1)
	_ = s.PushFloat(0)
	err := arithmetic(s, bytecode.Instruction{Op: bytecode.OpDiv, Type: bytecode.TypeFloatFloat})
	if !errors.Is(err, ErrArithmeticFault) {
		t.Errorf("expected ErrArithmeticFault, got %v", err)
	}
}

// ============ Control Flow Tests ============

func TestTrivialInfiniteLoop(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.OpJmp, bytecode.TypeNone, 0, 0, 0, 0)
	_, err := New(newMockHost()).Execute(a.Program("loop"), 0, testInvalid, nil, 0, RaiseOnFailure)
	if !errors.Is(err, ErrTrivialInfiniteLoop) {
		t.Fatalf("expected ErrTrivialInfiniteLoop, got %v", err)
	}
	var ee *ExecError
	if !errors.As(err, &ee) || ee.PC != 0 {
		t.Errorf("error not located at PC 0: %v", err)
	}
}

func TestInstructionBudget(t *testing.T) {
	a := bytecode.NewAssembler()
	top := a.Op(bytecode.OpNop, bytecode.TypeNone)
	a.Jump(bytecode.OpJmp, top)

	v := New(newMockHost(), WithLimits(50, 0))
	_, err := v.Execute(a.Program("spin"), 0, testInvalid, nil, 0, RaiseOnFailure)
	if !errors.Is(err, ErrInstructionBudget) {
		t.Fatalf("expected ErrInstructionBudget, got %v", err)
	}
	if v.Aborted() {
		t.Error("abort flag survived the end of the call tree")
	}
}

func TestRecursionLimit(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Action(9, 0)
	retn(a)
	prog := a.Program("recurse")

	host := newMockHost()
	calls := 0
	host.handlers[9] = func(v *VM, s *stack.Stack, argc int) error {
		calls++
		_, err := v.Execute(prog, 0, testInvalid, nil, 0, RaiseOnFailure)
		return err
	}

	v := New(host, WithLimits(0, 3))
	_, err := v.Execute(prog, 0, testInvalid, nil, 0, RaiseOnFailure)
	if !errors.Is(err, ErrRecursionLimit) {
		t.Fatalf("expected ErrRecursionLimit, got %v", err)
	}
	if calls != 3 {
		t.Errorf("action ran %d times, want 3", calls)
	}
}

func TestAbortFromAction(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Action(9, 0)
	a.Action(10, 0)
	retn(a)

	host := newMockHost()
	ran := false
	host.handlers[9] = func(v *VM, s *stack.Stack, argc int) error {
		v.Abort()
		return nil
	}
	host.handlers[10] = func(v *VM, s *stack.Stack, argc int) error {
		ran = true
		return nil
	}

	_, err := New(host).Execute(a.Program("abort"), 0, testInvalid, nil, 0, RaiseOnFailure)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if ran {
		t.Error("instruction after abort executed")
	}
}

func TestConstObjectSelf(t *testing.T) {
	a := bytecode.NewAssembler()
	a.ConstObject(0)
	a.ConstObject(1)
	a.Action(9, 2)
	retn(a)

	host := newMockHost()
	var self, invalid uint32
	host.handlers[9] = func(v *VM, s *stack.Stack, argc int) error {
		var err error
		if invalid, err = s.PopObject(); err != nil {
			return err
		}
		self, err = s.PopObject()
		return err
	}
	if _, err := New(host).Execute(a.Program("self"), 42, testInvalid, nil, 0, RaiseOnFailure); err != nil {
		t.Fatal(err)
	}
	if self != 42 || invalid != testInvalid {
		t.Errorf("objects = (%X, %X), want (2A, %X)", self, invalid, testInvalid)
	}
}

// ============ Entry Parameter Tests ============

func TestIgnoreStackMismatch(t *testing.T) {
	// main leaves two cells behind.
	a := bytecode.NewAssembler()
	jsr := a.JumpForward(bytecode.OpJSR)
	retn(a)
	a.PatchJump(jsr, a.PC())
	a.ConstInt(1)
	a.ConstInt(2)
	retn(a)
	prog := a.Program("junk")

	rc, err := New(newMockHost()).Execute(prog, 0, testInvalid, nil, 7, IgnoreStackMismatch|RaiseOnFailure)
	if err != nil || rc != 7 {
		t.Errorf("ignored mismatch = (%d, %v), want (7, nil)", rc, err)
	}
	_, err = New(newMockHost()).Execute(prog, 0, testInvalid, nil, 7, RaiseOnFailure)
	if !errors.Is(err, ErrStackMismatch) {
		t.Errorf("expected ErrStackMismatch, got %v", err)
	}
}

func TestMissingParametersReturnDefault(t *testing.T) {
	// void main(int a, int b) {}
	a := bytecode.NewAssembler()
	jsr := a.JumpForward(bytecode.OpJSR)
	retn(a)
	a.PatchJump(jsr, a.PC())
	a.MovSP(-8)
	retn(a)
	prog := a.Program("twoargs")

	v := New(newMockHost(), WithActionDefinitions(testDefs))
	rc, err := v.Execute(prog, 0, testInvalid, nil, 7, IgnoreStackMismatch)
	if err != nil || rc != 7 {
		t.Fatalf("Execute = (%d, %v), want (7, nil)", rc, err)
	}
	st := prog.AnalyzeState()
	if st == nil || st.ParameterCells != 2 {
		t.Fatalf("AnalyzeState = %+v, want 2 parameter cells", st)
	}
}

func TestStaticTypeDiscovery(t *testing.T) {
	// void main(string s, int n) { PrintString(s); PrintInteger(n); }
	a := bytecode.NewAssembler()
	jsr := a.JumpForward(bytecode.OpJSR)
	retn(a)
	a.PatchJump(jsr, a.PC())
	a.Copy(bytecode.OpCPTopSP, -4, 4)
	a.Action(1, 1)
	a.Copy(bytecode.OpCPTopSP, -8, 4)
	a.Action(4, 1)
	a.MovSP(-8)
	retn(a)
	prog := a.Program("typed")

	host := newMockHost()
	var gotString string
	var gotInt int32
	host.handlers[1] = func(v *VM, s *stack.Stack, argc int) error {
		var err error
		gotString, err = s.PopString()
		return err
	}
	host.handlers[4] = func(v *VM, s *stack.Stack, argc int) error {
		var err error
		gotInt, err = s.PopInt()
		return err
	}

	v := New(host, WithActionDefinitions(testDefs))
	if _, err := v.Execute(prog, 0, testInvalid, []string{"hello", "42"}, 0, StaticTypeDiscovery|RaiseOnFailure); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotString != "hello" || gotInt != 42 {
		t.Errorf("actions saw (%q, %d), want (hello, 42)", gotString, gotInt)
	}
	st := prog.AnalyzeState()
	if st == nil || len(st.ArgumentTypes) != 2 ||
		st.ArgumentTypes[0] != bytecode.ActionString || st.ArgumentTypes[1] != bytecode.ActionInt {
		t.Errorf("ArgumentTypes = %+v, want [string int]", st)
	}
}

func TestReturnValueFixup(t *testing.T) {
	// int StartingConditional(int x) { return x + 1; }
	a := bytecode.NewAssembler()
	a.RSAdd(bytecode.TypeInt)
	jsr := a.JumpForward(bytecode.OpJSR)
	retn(a)
	a.PatchJump(jsr, a.PC())
	a.Copy(bytecode.OpCPTopSP, -4, 4)
	a.ConstInt(1)
	a.Op(bytecode.OpAdd, bytecode.TypeIntInt)
	a.Copy(bytecode.OpCPDownSP, -12, 4)
	a.MovSP(-4)
	a.MovSP(-4)
	retn(a)
	prog := a.Program("fixup")

	v := New(newMockHost())
	rc, err := v.Execute(prog, 0, testInvalid, []string{"41"}, -1, RaiseOnFailure)
	if err != nil || rc != 42 {
		t.Fatalf("first run = (%d, %v), want (42, nil)", rc, err)
	}
	if prog.PatchState() != bytecode.PatchReturnValue {
		t.Errorf("PatchState = %s, want %s", prog.PatchState(), bytecode.PatchReturnValue)
	}
	if prog.Code[0] != byte(bytecode.OpNop) {
		t.Errorf("#loader RSADD was not patched: %02X", prog.Code[0])
	}

	rc, err = v.Execute(prog, 0, testInvalid, []string{"1"}, -1, RaiseOnFailure)
	if err != nil || rc != 2 {
		t.Errorf("second run = (%d, %v), want (2, nil)", rc, err)
	}
}

func TestHasGlobals(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Op(bytecode.OpSaveBP, bytecode.TypeNone)
	a.Op(bytecode.OpRestoreBP, bytecode.TypeNone)
	if !hasGlobals(a.Program("g")) {
		t.Error("SAVEBP not found")
	}
	b := bytecode.NewAssembler()
	retn(b)
	if hasGlobals(b.Program("none")) {
		t.Error("found SAVEBP in a program without one")
	}
}

// ============ Script Situation Tests ============

func TestStoreStateResume(t *testing.T) {
	a := bytecode.NewAssembler()
	a.ConstInt(10)
	a.ConstInt(20)
	a.Op(bytecode.OpSaveBP, bytecode.TypeNone)
	a.ConstInt(30)
	a.StoreState(8, 4)
	skip := a.JumpForward(bytecode.OpJmp)
	// Resume point.
	a.Action(20, 0)
	retn(a)
	a.PatchJump(skip, a.PC())
	a.Action(21, 0)
	a.MovSP(-4)
	a.Op(bytecode.OpRestoreBP, bytecode.TypeNone)
	a.MovSP(-8)
	retn(a)
	prog := a.Program("situation")

	var saved *SavedState
	capture := newMockHost()
	capture.handlers[21] = func(v *VM, s *stack.Stack, argc int) error {
		saved = v.SavedState()
		return nil
	}
	if _, err := New(capture).Execute(prog, 0, testInvalid, nil, 0, RaiseOnFailure); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if saved == nil {
		t.Fatal("no saved state captured")
	}

	var cells []stack.Value
	resume := newMockHost()
	resume.handlers[20] = func(v *VM, s *stack.Stack, argc int) error {
		cells = s.Cells()
		return nil
	}
	if err := New(resume).Resume(saved); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if len(cells) != 4 {
		t.Fatalf("resumed stack has %d cells, want 4", len(cells))
	}
	for i, want := range map[int]int32{0: 10, 1: 20, 3: 30} {
		if cells[i].Kind != stack.KindInt || cells[i].Int() != want {
			t.Errorf("cell %d = %s %d, want int %d", i, cells[i].Kind, cells[i].Int(), want)
		}
	}
	if cells[2].Kind != stack.KindSavedBP {
		t.Errorf("cell 2 kind = %s, want savedbp", cells[2].Kind)
	}
}

func TestResumeRejectsEmptyState(t *testing.T) {
	if err := New(newMockHost()).Resume(nil); !errors.Is(err, ErrEntryParameters) {
		t.Errorf("expected ErrEntryParameters, got %v", err)
	}
}

// ============ Debugger Tests ============

func TestTrace(t *testing.T) {
	prog := conditional("traced", func(a *bytecode.Assembler) {
		a.ConstInt(2)
		a.ConstInt(3)
		a.Op(bytecode.OpAdd, bytecode.TypeIntInt)
	})
	var buf bytes.Buffer
	v := New(newMockHost(), WithTrace(&buf))
	if _, err := v.Execute(prog, 0, testInvalid, nil, 0, RaiseOnFailure); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "traced: PC=00000000") {
		t.Errorf("trace missing first instruction:\n%s", out)
	}
	if !strings.Contains(out, "ADDII") {
		t.Errorf("trace missing ADDII:\n%s", out)
	}
}

func TestBreakpoints(t *testing.T) {
	prog := conditional("broken", func(a *bytecode.Assembler) {
		a.ConstInt(2)
	})
	var hits []BreakpointHit
	v := New(newMockHost(), WithBreakpointHook(func(h BreakpointHit) { hits = append(hits, h) }))

	// main starts after RSADD.I (2), JSR (6) and RETN (2).
	if err := v.SetBreakpoint("broken", 10); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Execute(prog, 0, testInvalid, nil, 0, RaiseOnFailure); err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].PC != 10 {
		t.Fatalf("hits = %+v, want one at PC 10", hits)
	}
	if !strings.Contains(hits[0].Dump, "Stack dump") {
		t.Errorf("dump missing stack listing:\n%s", hits[0].Dump)
	}

	if !v.ClearBreakpoint("broken", 10) {
		t.Error("ClearBreakpoint reported no breakpoint")
	}
	for i := 0; i < MaxBreakpoints; i++ {
		if err := v.SetBreakpoint("broken", uint32(i)); err != nil {
			t.Fatalf("breakpoint %d: %v", i, err)
		}
	}
	if err := v.SetBreakpoint("broken", 99); err == nil {
		t.Error("expected a full breakpoint table")
	}
}

// ============ Fast Command Tests ============

func TestRunFastCommands(t *testing.T) {
	s := stack.New(testInvalid)
	var sum int32
	cmds := []FastCommand{FastPushInt, FastPushInt, FastCall, FastPopInt}
	params := []any{int32(2), int32(3), nil, &sum}
	err := RunFastCommands(s, cmds, params, func() error {
		a, b, err := popInts(s)
		if err != nil {
			return err
		}
		return s.PushInt(a + b)
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum != 5 || s.SP() != 0 {
		t.Errorf("sum = %d, SP = %d; want 5, 0", sum, s.SP())
	}

	if err := RunFastCommands(s, cmds, params[:1], nil); !errors.Is(err, ErrEntryParameters) {
		t.Errorf("expected ErrEntryParameters, got %v", err)
	}
	if err := RunFastCommands(s, []FastCommand{FastPushInt}, []any{"x"}, nil); !errors.Is(err, stack.ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
}
