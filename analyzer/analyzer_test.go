package analyzer

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/nwscript/pkg/bytecode"
)

var testActions = []bytecode.ActionDefinition{
	{Name: "Random", ID: 0, MinParameters: 1, Parameters: []bytecode.ActionType{bytecode.ActionInt}, Return: bytecode.ActionInt},
	{Name: "PrintString", ID: 1, MinParameters: 1, Parameters: []bytecode.ActionType{bytecode.ActionString}},
	{Name: "PrintInteger", ID: 4, MinParameters: 1, Parameters: []bytecode.ActionType{bytecode.ActionInt}},
	{Name: "Vector", ID: 142, Parameters: []bytecode.ActionType{bytecode.ActionFloat, bytecode.ActionFloat, bytecode.ActionFloat}, Return: bytecode.ActionVector},
}

// voidLoader emits "JSR main; RETN" and returns the JSR to patch.
func voidLoader(a *bytecode.Assembler) uint32 {
	jsr := a.JumpForward(bytecode.OpJSR)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)
	return jsr
}

func analyze(t *testing.T, prog *bytecode.Program, flags Flags) *Analyzer {
	t.Helper()
	a := New(testActions)
	if err := a.Analyze(prog, flags); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return a
}

// ============ Loader Tests ============

func TestAnalyzeVoidEntry(t *testing.T) {
	a := bytecode.NewAssembler()
	jsr := voidLoader(a)
	main := a.PC()
	a.PatchJump(jsr, main)
	a.ConstInt(2)
	a.ConstInt(3)
	a.Op(bytecode.OpAdd, bytecode.TypeIntInt)
	a.MovSP(-4)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	an := analyze(t, a.Program("add"), 0)

	if an.EntryPC() != main {
		t.Errorf("EntryPC = %08X, want %08X", an.EntryPC(), main)
	}
	if an.GlobalsPC() != InvalidPC {
		t.Errorf("GlobalsPC = %08X, want InvalidPC", an.GlobalsPC())
	}
	subs := an.Subroutines()
	if len(subs) != 1 {
		t.Fatalf("got %d subroutines, want 1", len(subs))
	}
	entry := subs[0]
	if entry.Symbol() != "main" {
		t.Errorf("entry symbol = %q, want main", entry.Symbol())
	}
	if entry.ParameterSize() != 0 || entry.ReturnSize() != 0 {
		t.Errorf("entry sizes = (%d, %d), want (0, 0)", entry.ParameterSize(), entry.ReturnSize())
	}
	if n := len(entry.Flows()); n != 1 {
		t.Errorf("entry has %d flows, want 1", n)
	}
}

func TestAnalyzeConditionalEntry(t *testing.T) {
	a := bytecode.NewAssembler()
	a.RSAdd(bytecode.TypeInt)
	jsr := voidLoader(a)
	main := a.PC()
	a.PatchJump(jsr, main)
	a.ConstInt(1)
	a.Copy(bytecode.OpCPDownSP, -8, 4)
	a.MovSP(-4)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	an := analyze(t, a.Program("cond"), 0)

	entry := an.Subroutine(main)
	if entry == nil {
		t.Fatal("no entry subroutine")
	}
	if entry.Symbol() != "StartingConditional" {
		t.Errorf("entry symbol = %q, want StartingConditional", entry.Symbol())
	}
	if entry.ReturnSize() != 4 {
		t.Errorf("ReturnSize = %d, want 4", entry.ReturnSize())
	}
	rt := entry.ReturnTypes()
	if len(rt) != 1 || rt[0] != bytecode.ActionInt {
		t.Errorf("ReturnTypes = %v, want [int]", rt)
	}
}

func TestAnalyzeSymbolNamesEntry(t *testing.T) {
	a := bytecode.NewAssembler()
	jsr := voidLoader(a)
	main := a.PC()
	a.PatchJump(jsr, main)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	prog := a.Program("named")
	prog.SetSymbol(main, "OnHeartbeat")
	an := analyze(t, prog, 0)
	if got := an.Subroutines()[0].Symbol(); got != "OnHeartbeat" {
		t.Errorf("entry symbol = %q, want OnHeartbeat", got)
	}
}

func TestAnalyzeRejectsBadLoader(t *testing.T) {
	a := bytecode.NewAssembler()
	a.ConstInt(1)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	err := New(testActions).Analyze(a.Program("bad"), 0)
	if !errors.Is(err, ErrAnalysis) {
		t.Fatalf("expected analysis error, got %v", err)
	}
	if !strings.Contains(err.Error(), "#loader") {
		t.Errorf("error %q does not mention #loader", err)
	}
}

// globalsProgram builds a script with one int global that main increments
// through CPTOPBP / CPDOWNBP.
func globalsProgram() (prog *bytecode.Program, globals, savebp, main uint32) {
	a := bytecode.NewAssembler()
	jsr := voidLoader(a)
	globals = a.PC()
	a.PatchJump(jsr, globals)
	a.RSAdd(bytecode.TypeInt)
	a.ConstInt(5)
	a.Copy(bytecode.OpCPDownSP, -8, 4)
	a.MovSP(-4)
	savebp = a.Op(bytecode.OpSaveBP, bytecode.TypeNone)
	call := a.JumpForward(bytecode.OpJSR)
	a.Op(bytecode.OpRestoreBP, bytecode.TypeNone)
	a.MovSP(-4)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	main = a.PC()
	a.PatchJump(call, main)
	a.Copy(bytecode.OpCPTopBP, -4, 4)
	a.ConstInt(1)
	a.Op(bytecode.OpAdd, bytecode.TypeIntInt)
	a.Copy(bytecode.OpCPDownBP, -4, 4)
	a.MovSP(-4)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)
	return a.Program("globals"), globals, savebp, main
}

func TestAnalyzeGlobals(t *testing.T) {
	prog, globalsPC, _, main := globalsProgram()
	an := analyze(t, prog, 0)

	if an.GlobalsPC() != globalsPC {
		t.Errorf("GlobalsPC = %08X, want %08X", an.GlobalsPC(), globalsPC)
	}
	if an.EntryPC() != main {
		t.Errorf("EntryPC = %08X, want %08X", an.EntryPC(), main)
	}
	subs := an.Subroutines()
	if len(subs) != 2 || subs[1].Symbol() != "#globals" {
		t.Fatalf("subroutines = %d, want entry and #globals", len(subs))
	}

	g := an.Globals()
	if len(g) != 1 {
		t.Fatalf("got %d globals, want 1", len(g))
	}
	if g[0].Class() != ClassGlobal {
		t.Errorf("global class = %s", g[0].Class())
	}
	if g[0].Type() != bytecode.ActionInt {
		t.Errorf("global type = %s, want int", g[0].Type())
	}
}

func TestFindInstructionInFlow(t *testing.T) {
	prog, globalsPC, savebp, main := globalsProgram()
	an := New(testActions)
	an.reset(prog)

	pc, err := an.FindInstructionInFlow(globalsPC, bytecode.OpSaveBP)
	if err != nil || pc != savebp {
		t.Errorf("SAVEBP search = (%08X, %v), want %08X", pc, err, savebp)
	}
	pc, err = an.FindInstructionInFlow(main, bytecode.OpSaveBP)
	if err != nil || pc != InvalidPC {
		t.Errorf("SAVEBP search in main = (%08X, %v), want InvalidPC", pc, err)
	}
}

func TestFindInstructionTrivialLoop(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.OpJmp, bytecode.TypeNone, 0, 0, 0, 0)

	an := New(testActions)
	an.reset(a.Program("loop"))
	if _, err := an.FindInstructionInFlow(0, bytecode.OpSaveBP); !errors.Is(err, ErrAnalysis) {
		t.Errorf("expected trivial loop error, got %v", err)
	}
}

// ============ Subroutine Tests ============

func TestParameterTypeFromCaller(t *testing.T) {
	a := bytecode.NewAssembler()
	jsr := voidLoader(a)
	a.PatchJump(jsr, a.PC())
	a.ConstString("hello")
	call := a.JumpForward(bytecode.OpJSR)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	// f ignores its parameter.
	f := a.PC()
	a.PatchJump(call, f)
	a.MovSP(-4)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	an := analyze(t, a.Program("param"), 0)
	sub := an.Subroutine(f)
	if sub == nil {
		t.Fatal("f was not discovered")
	}
	if sub.ParameterSize() != 4 {
		t.Errorf("ParameterSize = %d, want 4", sub.ParameterSize())
	}
	if p := sub.Parameters(); len(p) != 1 || p[0] != bytecode.ActionString {
		t.Errorf("Parameters = %v, want [string]", p)
	}
}

func TestReturnValueType(t *testing.T) {
	a := bytecode.NewAssembler()
	jsr := voidLoader(a)
	a.PatchJump(jsr, a.PC())
	a.RSAdd(bytecode.TypeFloat)
	call := a.JumpForward(bytecode.OpJSR)
	a.MovSP(-4)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	f := a.PC()
	a.PatchJump(call, f)
	a.ConstFloat(7)
	a.Copy(bytecode.OpCPDownSP, -8, 4)
	a.MovSP(-4)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	an := analyze(t, a.Program("ret"), 0)
	sub := an.Subroutine(f)
	if sub.ReturnSize() != 4 || sub.ParameterSize() != 0 {
		t.Errorf("sizes = (%d, %d), want (0, 4)", sub.ParameterSize(), sub.ReturnSize())
	}
	if rt := sub.ReturnTypes(); len(rt) != 1 || rt[0] != bytecode.ActionFloat {
		t.Errorf("ReturnTypes = %v, want [float]", rt)
	}
	rv, err := sub.ReturnValueVariable(0)
	if err != nil {
		t.Fatal(err)
	}
	if rv.Class() != ClassReturnValue {
		t.Errorf("return variable class = %s", rv.Class())
	}
	if _, err := sub.ReturnValueVariable(1); err == nil {
		t.Error("expected out of range error")
	}
}

// recursiveProgram builds f(n) { if (n) f(n - 1); } called as f(3).
func recursiveProgram() (*bytecode.Program, uint32) {
	a := bytecode.NewAssembler()
	jsr := voidLoader(a)
	a.PatchJump(jsr, a.PC())
	a.ConstInt(3)
	call := a.JumpForward(bytecode.OpJSR)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	f := a.PC()
	a.PatchJump(call, f)
	a.Copy(bytecode.OpCPTopSP, -4, 4)
	jz := a.JumpForward(bytecode.OpJZ)
	a.Copy(bytecode.OpCPTopSP, -4, 4)
	a.ConstInt(1)
	a.Op(bytecode.OpSub, bytecode.TypeIntInt)
	a.Jump(bytecode.OpJSR, f)
	a.PatchJump(jz, a.PC())
	a.MovSP(-4)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)
	return a.Program("recurse"), f
}

func TestRecursionConverges(t *testing.T) {
	prog, f := recursiveProgram()
	an := analyze(t, prog, 0)

	sub := an.Subroutine(f)
	if sub.ParameterSize() != 4 {
		t.Errorf("ParameterSize = %d, want 4", sub.ParameterSize())
	}
	if p := sub.Parameters(); len(p) != 1 || p[0] != bytecode.ActionInt {
		t.Errorf("Parameters = %v, want [int]", p)
	}
	if n := len(sub.Flows()); n != 3 {
		t.Errorf("f has %d flows, want 3", n)
	}
	if n := len(sub.BranchTargets()); n != 2 {
		t.Errorf("f has %d branch targets, want 2", n)
	}
	tail := sub.Flows()[2]
	if len(tail.Parents()) != 2 {
		t.Errorf("join flow has %d parents, want 2", len(tail.Parents()))
	}
}

// mutualProgram builds f(n){if(n) g(n-1);} and g(n){if(n) f(n-1);}. main
// calls g first when gFirst is set.
func mutualProgram(gFirst bool) (prog *bytecode.Program, f, g uint32) {
	a := bytecode.NewAssembler()
	jsr := voidLoader(a)
	a.PatchJump(jsr, a.PC())
	a.ConstInt(3)
	call := a.JumpForward(bytecode.OpJSR)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	body := func() (start, other uint32) {
		start = a.PC()
		a.Copy(bytecode.OpCPTopSP, -4, 4)
		jz := a.JumpForward(bytecode.OpJZ)
		a.Copy(bytecode.OpCPTopSP, -4, 4)
		a.ConstInt(1)
		a.Op(bytecode.OpSub, bytecode.TypeIntInt)
		other = a.JumpForward(bytecode.OpJSR)
		a.PatchJump(jz, a.PC())
		a.MovSP(-4)
		a.Op(bytecode.OpRetn, bytecode.TypeNone)
		return start, other
	}
	f, fCall := body()
	g, gCall := body()
	a.PatchJump(fCall, g)
	a.PatchJump(gCall, f)
	if gFirst {
		a.PatchJump(call, g)
	} else {
		a.PatchJump(call, f)
	}
	return a.Program("mutual"), f, g
}

func TestMutualRecursionConverges(t *testing.T) {
	for _, gFirst := range []bool{false, true} {
		prog, f, g := mutualProgram(gFirst)
		an := analyze(t, prog, 0)
		for _, pc := range []uint32{f, g} {
			sub := an.Subroutine(pc)
			if sub == nil {
				t.Fatalf("gFirst=%v: subroutine %08X not discovered", gFirst, pc)
			}
			if sub.Err() != nil {
				t.Errorf("gFirst=%v: %08X failed: %v", gFirst, pc, sub.Err())
			}
			if sub.ParameterSize() != 4 {
				t.Errorf("gFirst=%v: %08X ParameterSize = %d, want 4", gFirst, pc, sub.ParameterSize())
			}
			if sub.ReturnSize() != 0 {
				t.Errorf("gFirst=%v: %08X ReturnSize = %d, want 0", gFirst, pc, sub.ReturnSize())
			}
		}
	}
}

func TestInfiniteRecursionFails(t *testing.T) {
	a := bytecode.NewAssembler()
	jsr := voidLoader(a)
	a.PatchJump(jsr, a.PC())
	call := a.JumpForward(bytecode.OpJSR)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	f := a.PC()
	a.PatchJump(call, f)
	a.Op(bytecode.OpNop, bytecode.TypeNone)
	a.Jump(bytecode.OpJSR, f)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	an := New(testActions)
	err := an.Analyze(a.Program("forever"), 0)
	if !errors.Is(err, ErrAnalysis) {
		t.Fatalf("expected analysis error, got %v", err)
	}
	if !strings.Contains(err.Error(), "infinite recursion") {
		t.Errorf("error %q does not mention infinite recursion", err)
	}
	if an.Subroutine(f).Err() == nil {
		t.Error("f should have failed")
	}
}

func TestErrorsAreScopedToSubroutine(t *testing.T) {
	a := bytecode.NewAssembler()
	jsr := voidLoader(a)
	main := a.PC()
	a.PatchJump(jsr, main)
	call := a.JumpForward(bytecode.OpJSR)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	// g adds a float as an int.
	g := a.PC()
	a.PatchJump(call, g)
	a.ConstInt(1)
	a.ConstFloat(2)
	a.Op(bytecode.OpAdd, bytecode.TypeIntInt)
	a.MovSP(-4)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	an := New(testActions)
	err := an.Analyze(a.Program("scoped"), 0)
	if !errors.Is(err, ErrVariableType) {
		t.Fatalf("expected variable type error, got %v", err)
	}
	if an.Subroutine(main).Err() != nil {
		t.Errorf("main failed: %v", an.Subroutine(main).Err())
	}
	if an.Subroutine(g).Err() == nil {
		t.Error("g should have failed")
	}
}

func TestUnknownActionFails(t *testing.T) {
	a := bytecode.NewAssembler()
	jsr := voidLoader(a)
	a.PatchJump(jsr, a.PC())
	a.Action(999, 0)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	err := New(testActions).Analyze(a.Program("action"), 0)
	if err == nil || !strings.Contains(err.Error(), "out of range action call") {
		t.Errorf("expected out of range action error, got %v", err)
	}
}

func TestScriptSituation(t *testing.T) {
	a := bytecode.NewAssembler()
	jsr := voidLoader(a)
	main := a.PC()
	a.PatchJump(jsr, main)
	store := a.StoreState(0, 0)
	skip := a.JumpForward(bytecode.OpJmp)
	resume := a.PC()
	a.Op(bytecode.OpRetn, bytecode.TypeNone)
	a.PatchJump(skip, a.PC())
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	if resume != store+uint32(bytecode.StoreStateResume) {
		t.Fatalf("resume point %08X does not follow STORE_STATE", resume)
	}

	an := analyze(t, a.Program("situation"), 0)
	sit := an.Subroutine(resume)
	if sit == nil || !sit.IsSituation() {
		t.Fatal("resume point is not a script situation")
	}
	if an.Subroutine(main).Flags()&SavesState == 0 {
		t.Error("main is not marked SavesState")
	}
}

// ============ Flags Tests ============

// printProgram is PrintInteger(5) with the argument copied once.
func printProgram() *bytecode.Program {
	a := bytecode.NewAssembler()
	jsr := voidLoader(a)
	a.PatchJump(jsr, a.PC())
	a.ConstInt(5)
	a.Copy(bytecode.OpCPTopSP, -4, 4)
	a.Action(4, 1)
	a.MovSP(-4)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)
	return a.Program("print")
}

func irOps(f *ControlFlow) []IROp {
	var ops []IROp
	for _, in := range f.IR() {
		ops = append(ops, in.Op)
	}
	return ops
}

func TestStructureOnly(t *testing.T) {
	prog, f := recursiveProgram()
	an := analyze(t, prog, StructureOnly)
	sub := an.Subroutine(f)
	if sub.ParameterSize() != 4 {
		t.Errorf("ParameterSize = %d, want 4", sub.ParameterSize())
	}
	for _, fl := range sub.Flows() {
		if len(fl.IR()) != 0 {
			t.Errorf("flow %08X has IR after structure-only analysis", fl.StartPC)
		}
	}
	if p := sub.Parameters(); len(p) != 1 || p[0] != bytecode.ActionVoid {
		t.Errorf("Parameters = %v, want [void]", p)
	}
}

func TestNoOptimizations(t *testing.T) {
	an := analyze(t, printProgram(), NoOptimizations)
	flow := an.Subroutines()[0].Flows()[0]
	want := []IROp{IRCreate, IRAssign, IRCreate, IRAssign, IRAction, IRDelete, IRDelete, IRRetn}
	got := irOps(flow)
	if len(got) != len(want) {
		t.Fatalf("IR = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("IR = %v, want %v", got, want)
		}
	}
	for _, v := range an.Variables() {
		if v.Has(OptimizerEliminated) {
			t.Errorf("%s was eliminated without optimizations", v)
		}
	}
}

func TestOptimizationFoldsCopies(t *testing.T) {
	an := analyze(t, printProgram(), 0)
	flow := an.Subroutines()[0].Flows()[0]
	for _, in := range flow.IR() {
		switch in.Op {
		case IRCreate, IRAssign, IRDelete:
			t.Errorf("%s survived optimization", in.Op)
		case IRAction:
			if h := in.Params[0].Head(); h.Class() != ClassConstant || h.Value().Int != 5 {
				t.Errorf("action argument = %s (%s), want constant 5", h, h.Class())
			}
		}
	}
}

// ============ Print Tests ============

func TestPrint(t *testing.T) {
	an := analyze(t, printProgram(), NoOptimizations)
	var buf bytes.Buffer
	if err := an.Print(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Printing IR for function 00000008 (main)",
		"label 00000008:",
		"ACTION 0004 (PrintInteger) (1)",
		"const int ) [5]",
		"RETN",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}
