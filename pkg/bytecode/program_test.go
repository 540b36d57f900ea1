package bytecode

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleProgram() *Program {
	a := NewAssembler()
	a.RSAdd(TypeInt)
	call := a.JumpForward(OpJSR)
	a.Op(OpRetn, TypeNone)
	main := a.ConstInt(5)
	a.Copy(OpCPDownSP, -8, 4)
	a.MovSP(-4)
	a.Op(OpRetn, TypeNone)
	a.PatchJump(call, main)
	return a.Program("sample")
}

// ============ NCS Tests ============

func TestParseNCS(t *testing.T) {
	p := sampleProgram()
	data := p.MarshalNCS()

	if !bytes.HasPrefix(data, []byte("NCS V1.0B")) {
		t.Fatalf("header = %q", data[:9])
	}

	loaded, err := ParseNCS("sample", data)
	if err != nil {
		t.Fatalf("ParseNCS failed: %v", err)
	}
	if !bytes.Equal(loaded.Code, p.Code) {
		t.Errorf("code mismatch")
	}
	if loaded.PatchState() != PatchUnknown {
		t.Errorf("fresh program patch state = %s", loaded.PatchState())
	}
}

func TestParseNCSErrors(t *testing.T) {
	if _, err := ParseNCS("x", []byte("NCS")); err == nil {
		t.Error("expected error for short file")
	}
	if _, err := ParseNCS("x", []byte("NCX V1.0B\x00\x00\x00\x0D")); err == nil {
		t.Error("expected error for bad signature")
	}
	if _, err := ParseNCS("x", []byte("NCS V1.0B\x00\x00\x00\x20")); err == nil {
		t.Error("expected error for size mismatch")
	}
}

func TestLoadNCS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.ncs")
	if err := os.WriteFile(path, sampleProgram().MarshalNCS(), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadNCS(path)
	if err != nil {
		t.Fatalf("LoadNCS failed: %v", err)
	}
	if p.Name != "hello" {
		t.Errorf("name = %q, want hello", p.Name)
	}
}

// ============ State Tests ============

func TestPatchAndAnalyzeState(t *testing.T) {
	p := sampleProgram()
	p.Patch(0, byte(OpNop))
	p.Patch(1, byte(TypeNone))
	p.SetPatchState(PatchReturnValue)

	if Opcode(p.Code[0]) != OpNop || p.PatchState() != PatchReturnValue {
		t.Errorf("patch not applied")
	}

	types := []ActionType{ActionInt, ActionString}
	p.SetAnalyzeState(&AnalyzeState{ParameterCells: 2, ArgumentTypes: types})
	types[0] = ActionFloat

	as := p.AnalyzeState()
	if as == nil || as.ParameterCells != 2 || as.ArgumentTypes[0] != ActionInt {
		t.Errorf("analyze state not copied: %+v", as)
	}
}

func TestSymbols(t *testing.T) {
	p := sampleProgram()
	p.SetSymbol(0, "#loader")
	p.SetSymbol(8, "main")

	if name, ok := p.Symbol(8, false); !ok || name != "main" {
		t.Errorf("Symbol(8) = %q, %v", name, ok)
	}
	if _, ok := p.Symbol(10, false); ok {
		t.Error("exact lookup should miss inside a routine")
	}
	if name, ok := p.Symbol(14, true); !ok || name != "main+6" {
		t.Errorf("nearest Symbol(14) = %q, %v", name, ok)
	}
}

// ============ Disassembly Tests ============

func TestDisassemble(t *testing.T) {
	p := sampleProgram()
	p.SetSymbol(8, "main")
	out := p.Disassemble()

	for _, want := range []string{"; === sample ===", "RSADDI", "JSR", "main:", "CONSTI", "CPDOWNSP", "-8, 4", "MOVSP", "RETN"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestDisassembleBadCode(t *testing.T) {
	p := NewProgram("bad", []byte{byte(OpNop), 0, 0x7F, 0})
	out := p.Disassemble()
	if !strings.Contains(out, "unrecognized opcode") {
		t.Errorf("listing should report the bad opcode:\n%s", out)
	}
}

// ============ Action Definition Tests ============

func TestActionDefinitionCells(t *testing.T) {
	def := &ActionDefinition{
		Name:       "Sample",
		Parameters: []ActionType{ActionVector, ActionAction, ActionObject},
		Return:     ActionVector,
	}
	cells := def.ParameterCells(3)
	if len(cells) != 4 || cells[3] != ActionObject {
		t.Errorf("ParameterCells = %v", cells)
	}
	if len(def.ReturnCells()) != 3 {
		t.Errorf("ReturnCells = %v", def.ReturnCells())
	}
	if typ, err := ParseActionType("location"); err != nil || typ != ActionLocation {
		t.Errorf("ParseActionType(location) = %v, %v", typ, err)
	}
}
