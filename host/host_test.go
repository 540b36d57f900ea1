package host

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chazu/nwscript/manifest"
	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/pkg/stack"
	"github.com/chazu/nwscript/vm"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestHost(t *testing.T, opts ...Option) (*Host, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts = append([]Option{WithOutput(&out), WithSeed(1), WithClock(func() time.Time { return epoch })}, opts...)
	h, err := New(manifest.Default(t.TempDir()), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h, &out
}

func retn(a *bytecode.Assembler) { a.Op(bytecode.OpRetn, bytecode.TypeNone) }

func printString(a *bytecode.Assembler, s string) {
	a.ConstString(s)
	a.Action(ActPrintString, 1)
}

// call runs a library action directly. Arguments are given in parameter
// order and pushed so the first ends up on top.
func call(t *testing.T, h *Host, name string, args ...any) *stack.Stack {
	t.Helper()
	s := stack.New(h.InvalidObject())
	for i := len(args) - 1; i >= 0; i-- {
		var err error
		switch v := args[i].(type) {
		case int:
			err = s.PushInt(int32(v))
		case float32:
			err = s.PushFloat(v)
		case string:
			err = s.PushString(v)
		case uint32:
			err = s.PushObject(v)
		default:
			t.Fatalf("unsupported argument %T", v)
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	fn := library[name]
	if fn == nil {
		t.Fatalf("no action %s", name)
	}
	if err := fn(h, h.VM(), s, len(args)); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return s
}

func popString(t *testing.T, s *stack.Stack) string {
	t.Helper()
	v, err := s.PopString()
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func popInt(t *testing.T, s *stack.Stack) int32 {
	t.Helper()
	v, err := s.PopInt()
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func popFloat(t *testing.T, s *stack.Stack) float32 {
	t.Helper()
	v, err := s.PopFloat()
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// ============ Script Tests ============

func TestRunScriptPrints(t *testing.T) {
	h, out := newTestHost(t)
	a := bytecode.NewAssembler()
	printString(a, "caf\xe9")
	a.ConstInt(12)
	a.Action(ActPrintInteger, 1)
	retn(a)
	h.AddScript(a.Program("hello"))

	if _, err := h.RunScript("hello", 1, nil, 0, vm.RaiseOnFailure); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	want := "PrintString: café\nPrintInteger: 12\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestRunScriptEmptyName(t *testing.T) {
	h, _ := newTestHost(t)
	rc, err := h.RunScript("", 1, nil, 77, 0)
	if err != nil || rc != 77 {
		t.Errorf("RunScript(\"\") = (%d, %v), want (77, nil)", rc, err)
	}
}

func TestExecuteScriptNests(t *testing.T) {
	h, out := newTestHost(t)

	child := bytecode.NewAssembler()
	child.ConstObject(0)
	child.Action(ActPrintObject, 1)
	retn(child)
	h.AddScript(child.Program("child"))

	parent := bytecode.NewAssembler()
	parent.ConstObject(0x42)
	parent.ConstString("CHILD")
	parent.Action(ActExecuteScript, 2)
	parent.ConstObject(0)
	parent.Action(ActPrintObject, 1)
	retn(parent)
	h.AddScript(parent.Program("parent"))

	if _, err := h.RunScript("parent", 7, nil, 0, vm.RaiseOnFailure); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	want := "PrintObject: Object 00000042\nPrintObject: Object 00000007\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if h.CurrentSelf() != h.InvalidObject() {
		t.Errorf("CurrentSelf after run = %08X, want invalid", h.CurrentSelf())
	}
}

func TestUnimplementedActionAborts(t *testing.T) {
	defs := append(BuiltinDefinitions(), bytecode.ActionDefinition{Name: "Frobnicate", ID: 900})
	h, out := newTestHost(t, WithDefinitions(defs))

	a := bytecode.NewAssembler()
	a.Action(900, 0)
	printString(a, "unreachable")
	retn(a)
	h.AddScript(a.Program("frob"))

	_, err := h.RunScript("frob", 1, nil, 0, vm.RaiseOnFailure)
	if !errors.Is(err, vm.ErrAborted) {
		t.Fatalf("expected ErrAborted, got %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("script kept running: %q", out.String())
	}
}

func TestLoadScriptFromDir(t *testing.T) {
	dir := t.TempDir()
	a := bytecode.NewAssembler()
	printString(a, "from disk")
	retn(a)
	if err := os.WriteFile(filepath.Join(dir, "disk.ncs"), a.Program("disk").MarshalNCS(), 0o644); err != nil {
		t.Fatal(err)
	}

	h, out := newTestHost(t, WithScriptDirs(dir))
	prog, err := h.LoadScript("disk")
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if prog.Name != "disk" {
		t.Errorf("Name = %q, want disk", prog.Name)
	}
	if again, err := h.LoadScript("DISK"); err != nil || again != prog {
		t.Errorf("cached lookup = (%p, %v), want %p", again, err, prog)
	}
	if _, err := h.RunScript("disk.ncs", 1, nil, 0, vm.RaiseOnFailure); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if out.String() != "PrintString: from disk\n" {
		t.Errorf("output = %q", out.String())
	}

	if _, err := h.LoadScript("missing"); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("expected ErrScriptNotFound, got %v", err)
	}
}

// ============ Deferred Situation Tests ============

// delayProgram queues "later" behind DelayCommand(2.0) and prints "now".
func delayProgram() *bytecode.Program {
	a := bytecode.NewAssembler()
	a.StoreState(0, 0)
	skip := a.JumpForward(bytecode.OpJmp)
	printString(a, "later")
	retn(a)
	a.PatchJump(skip, a.PC())
	a.ConstFloat(2)
	a.Action(ActDelayCommand, 2)
	printString(a, "now")
	retn(a)
	return a.Program("delay")
}

func TestDelayCommand(t *testing.T) {
	h, out := newTestHost(t)
	h.AddScript(delayProgram())

	if _, err := h.RunScript("delay", 5, nil, 0, vm.RaiseOnFailure); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if out.String() != "PrintString: now\n" {
		t.Fatalf("output = %q", out.String())
	}
	if len(h.Pending()) != 1 {
		t.Fatalf("pending = %d, want 1", len(h.Pending()))
	}
	if got := h.Pending()[0].State.Self; got != 5 {
		t.Errorf("situation self = %08X, want 5", got)
	}

	if !h.InitiatePending() {
		t.Fatal("InitiatePending moved nothing")
	}
	if n := h.RunDue(epoch.Add(time.Second)); n != 0 {
		t.Errorf("ran %d situations before the deadline", n)
	}
	if n := h.RunDue(epoch.Add(2 * time.Second)); n != 1 {
		t.Errorf("ran %d situations at the deadline, want 1", n)
	}
	if !strings.HasSuffix(out.String(), "PrintString: later\n") {
		t.Errorf("output = %q", out.String())
	}
	if len(h.Scheduled()) != 0 {
		t.Errorf("scheduled = %d after run", len(h.Scheduled()))
	}
}

func TestAssignCommand(t *testing.T) {
	h, out := newTestHost(t)
	a := bytecode.NewAssembler()
	a.StoreState(0, 0)
	skip := a.JumpForward(bytecode.OpJmp)
	a.ConstObject(0)
	a.Action(ActPrintObject, 1)
	retn(a)
	a.PatchJump(skip, a.PC())
	a.ConstObject(0x99)
	a.Action(ActAssignCommand, 2)
	retn(a)
	h.AddScript(a.Program("assign"))

	if _, err := h.RunScript("assign", 5, nil, 0, vm.RaiseOnFailure); err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	pending := h.Pending()
	if len(pending) != 1 || pending[0].Period != time.Millisecond {
		t.Fatalf("pending = %+v", pending)
	}
	h.InitiatePending()
	if n := h.RunDue(epoch.Add(time.Millisecond)); n != 1 {
		t.Fatalf("ran %d situations, want 1", n)
	}
	if out.String() != "PrintObject: Object 00000099\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunDueOrder(t *testing.T) {
	h, out := newTestHost(t)
	for _, c := range []struct {
		text string
		due  time.Duration
	}{{"third", 30 * time.Millisecond}, {"first", 10 * time.Millisecond}, {"second", 20 * time.Millisecond}} {
		a := bytecode.NewAssembler()
		printString(a, c.text)
		retn(a)
		state := &vm.SavedState{Program: a.Program(c.text), Stack: stack.New(h.InvalidObject()), Invalid: h.InvalidObject()}
		h.Enqueue(state, c.due)
	}
	h.InitiatePending()
	if n := h.RunDue(epoch.Add(time.Second)); n != 3 {
		t.Fatalf("ran %d, want 3", n)
	}
	want := "PrintString: first\nPrintString: second\nPrintString: third\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestTakeAll(t *testing.T) {
	h, _ := newTestHost(t)
	state := &vm.SavedState{Program: delayProgram(), Stack: stack.New(h.InvalidObject())}
	h.Enqueue(state, 0)
	h.InitiatePending()
	h.Enqueue(state, time.Second)
	if all := h.TakeAll(); len(all) != 2 {
		t.Errorf("TakeAll = %d, want 2", len(all))
	}
	if len(h.Pending())+len(h.Scheduled()) != 0 {
		t.Error("queues not empty after TakeAll")
	}
}

// ============ Library Tests ============

func TestStringActions(t *testing.T) {
	h, _ := newTestHost(t)
	cases := []struct {
		name string
		args []any
		want string
	}{
		{"GetSubString", []any{"hello", 1, 3}, "ell"},
		{"GetSubString", []any{"hello", 1, -1}, "ello"},
		{"GetSubString", []any{"hello", 3, 5}, ""},
		{"GetSubString", []any{"hello", 6, 1}, ""},
		{"GetStringLeft", []any{"hello", 2}, "he"},
		{"GetStringRight", []any{"hello", 10}, "hello"},
		{"GetStringRight", []any{"hello", -1}, ""},
		{"InsertString", []any{"hello", "XX", 2}, "heXXllo"},
		{"InsertString", []any{"hello", "!", 99}, "hello!"},
		{"GetStringUpperCase", []any{"abc\xe9"}, "ABC\xe9"},
		{"GetStringLowerCase", []any{"ABC"}, "abc"},
		{"IntToString", []any{-17}, "-17"},
		{"IntToHexString", []any{255}, "0x000000ff"},
		{"ObjectToString", []any{uint32(0x7f000000)}, "7f000000"},
		{"FloatToString", []any{float32(1.5), 4, 2}, "1.50"},
	}
	for _, c := range cases {
		s := call(t, h, c.name, c.args...)
		if got := popString(t, s); got != c.want {
			t.Errorf("%s%v = %q, want %q", c.name, c.args, got, c.want)
		}
	}
}

func TestFloatToStringDefaults(t *testing.T) {
	h, _ := newTestHost(t)
	got := popString(t, call(t, h, "FloatToString", float32(1.5)))
	if len(got) != 18 || strings.TrimSpace(got) != "1.500000000" {
		t.Errorf("FloatToString(1.5) = %q", got)
	}
}

func TestIntActions(t *testing.T) {
	h, _ := newTestHost(t)
	cases := []struct {
		name string
		args []any
		want int32
	}{
		{"FindSubString", []any{"hello", "l"}, 2},
		{"FindSubString", []any{"hello", "l", 3}, 3},
		{"FindSubString", []any{"hello", "z"}, -1},
		{"FindSubString", []any{"hello", "h", 9}, -1},
		{"GetStringLength", []any{"hello"}, 5},
		{"StringToInt", []any{"42abc"}, 42},
		{"StringToInt", []any{"nope"}, 0},
		{"abs", []any{-3}, 3},
		{"FloatToInt", []any{float32(-2.7)}, -2},
		{"GetIsObjectValid", []any{uint32(5)}, 1},
		{"GetIsObjectValid", []any{h.InvalidObject()}, 0},
		{"Random", []any{0}, 0},
	}
	for _, c := range cases {
		s := call(t, h, c.name, c.args...)
		if got := popInt(t, s); got != c.want {
			t.Errorf("%s%v = %d, want %d", c.name, c.args, got, c.want)
		}
	}
}

func TestRandomRange(t *testing.T) {
	h, _ := newTestHost(t)
	for range 100 {
		n := popInt(t, call(t, h, "Random", 6))
		if n < 0 || n >= 6 {
			t.Fatalf("Random(6) = %d", n)
		}
	}
}

func TestMathActions(t *testing.T) {
	h, _ := newTestHost(t)
	cases := []struct {
		name string
		args []any
		want float32
	}{
		{"sqrt", []any{float32(9)}, 3},
		{"sqrt", []any{float32(-1)}, 0},
		{"pow", []any{float32(2), float32(3)}, 8},
		{"pow", []any{float32(0), float32(3)}, 0},
		{"pow", []any{float32(2), float32(-1)}, 0},
		{"fabs", []any{float32(-1.25)}, 1.25},
		{"IntToFloat", []any{3}, 3},
		{"StringToFloat", []any{"2.5x"}, 2.5},
	}
	for _, c := range cases {
		s := call(t, h, c.name, c.args...)
		if got := popFloat(t, s); got != c.want {
			t.Errorf("%s%v = %g, want %g", c.name, c.args, got, c.want)
		}
	}
}

func TestVectorActions(t *testing.T) {
	h, out := newTestHost(t)
	s := call(t, h, "Vector", float32(3), float32(4))
	vec, err := s.PopVector()
	if err != nil {
		t.Fatal(err)
	}
	if vec != [3]float32{3, 4, 0} {
		t.Errorf("Vector(3, 4) = %v", vec)
	}

	_ = s.PushVector(vec)
	if err := library["VectorMagnitude"](h, h.VM(), s, 1); err != nil {
		t.Fatal(err)
	}
	if m := popFloat(t, s); m != 5 {
		t.Errorf("VectorMagnitude = %g, want 5", m)
	}

	_ = s.PushInt(1)
	_ = s.PushVector(vec)
	if err := library["PrintVector"](h, h.VM(), s, 2); err != nil {
		t.Fatal(err)
	}
	if out.String() != "PRINTVECTOR: [3, 4, 0]\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestPrintFloat(t *testing.T) {
	h, out := newTestHost(t)
	call(t, h, "PrintFloat", float32(0.25), 0, 2)
	if out.String() != "PrintFloat: 0.25\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestTextEncoding(t *testing.T) {
	if got := encodeText("café"); got != "caf\xe9" {
		t.Errorf("encodeText = %q", got)
	}
	if got := decodeText("caf\xe9"); got != "café" {
		t.Errorf("decodeText = %q", got)
	}
}

// ============ Effect Tests ============

func TestEffectDamage(t *testing.T) {
	h, _ := newTestHost(t)
	s := call(t, h, "EffectDamage", 12, 4)
	es, err := s.PopEngine(EngTypeEffect)
	if err != nil {
		t.Fatal(err)
	}
	want := &Effect{Kind: "damage", Amount: 12, DamageType: 4}
	if !want.Compare(es) {
		t.Fatalf("EffectDamage = %v, want %v", es, want)
	}

	codec := EngineCodec()
	data, err := codec.EncodeEngine(es)
	if err != nil {
		t.Fatal(err)
	}
	back, err := codec.DecodeEngine(EngTypeEffect, data)
	if err != nil {
		t.Fatal(err)
	}
	if !want.Compare(back) {
		t.Errorf("decoded effect = %v", back)
	}
	if _, err := codec.DecodeEngine(3, data); err == nil {
		t.Error("expected error for unknown engine type")
	}
}

func TestCreateEngineStructure(t *testing.T) {
	h, _ := newTestHost(t)
	if es := h.CreateEngineStructure(EngTypeEffect); es == nil || es.(*Effect).Kind != "" {
		t.Errorf("CreateEngineStructure(effect) = %v", es)
	}
	if es := h.CreateEngineStructure(5); es != nil {
		t.Errorf("CreateEngineStructure(5) = %v, want nil", es)
	}
}

func TestExecuteActionFromJITFast(t *testing.T) {
	h, out := newTestHost(t)
	cmds := []vm.FastCommand{vm.FastPushString, vm.FastCall}
	if !h.ExecuteActionFromJITFast(ActPrintString, 1, cmds, []any{"fast", nil}) {
		t.Fatal("fast action failed")
	}
	if out.String() != "PrintString: fast\n" {
		t.Errorf("output = %q", out.String())
	}
	if h.ExecuteActionFromJITFast(999, 0, nil, nil) {
		t.Error("unknown fast action succeeded")
	}
}

// ============ Definition Tests ============

func TestParseDefinitions(t *testing.T) {
	data := []byte(`
actions:
  - name: PrintString
    id: 1
    params: [string]
  - name: FloatToString
    id: 3
    params: [float, int, int]
    min_params: 1
    returns: string
  - name: EffectDamage
    id: 79
    params: [int]
    returns: effect
`)
	defs, err := ParseDefinitions(data, "test.yaml")
	if err != nil {
		t.Fatalf("ParseDefinitions: %v", err)
	}
	if len(defs) != 3 {
		t.Fatalf("got %d definitions", len(defs))
	}
	if defs[0].MinParameters != 1 || defs[0].Return != bytecode.ActionVoid {
		t.Errorf("PrintString = %+v", defs[0])
	}
	if defs[1].MinParameters != 1 || len(defs[1].Parameters) != 3 || defs[1].Return != bytecode.ActionString {
		t.Errorf("FloatToString = %+v", defs[1])
	}
	if defs[2].Return != bytecode.ActionEffect {
		t.Errorf("EffectDamage returns %v", defs[2].Return)
	}
}

func TestParseDefinitionsRejects(t *testing.T) {
	cases := map[string]string{
		"empty":     "actions: []",
		"no name":   "actions:\n  - id: 1\n",
		"duplicate": "actions:\n  - {name: A, id: 1}\n  - {name: B, id: 1}\n",
		"bad type":  "actions:\n  - {name: A, id: 1, params: [quaternion]}\n",
		"min range": "actions:\n  - {name: A, id: 1, params: [int], min_params: 2}\n",
		"syntax":    "actions: [",
	}
	for name, doc := range cases {
		if _, err := ParseDefinitions([]byte(doc), "bad.yaml"); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestBuiltinDefinitionsUnique(t *testing.T) {
	seen := make(map[uint16]bool)
	for _, d := range BuiltinDefinitions() {
		if seen[d.ID] {
			t.Errorf("duplicate id %d (%s)", d.ID, d.Name)
		}
		seen[d.ID] = true
		if library[d.Name] == nil {
			t.Errorf("%s has no implementation", d.Name)
		}
	}
}
