package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/nwscript/analyzer"
	"github.com/chazu/nwscript/host"
	"github.com/chazu/nwscript/pkg/bytecode"
)

func TestTraceWriterColors(t *testing.T) {
	var buf bytes.Buffer
	w := &traceWriter{w: &buf, color: true}
	line := "test: PC=00000004(main): 04.03   CONSTI   [SP=00000000 BP=00000000]  S=\n"
	if n, err := w.Write([]byte(line)); err != nil || n != len(line) {
		t.Fatalf("Write = (%d, %v)", n, err)
	}
	want := ansiDim + "test: PC=00000004(main): " + ansiReset + ansiBold +
		"04.03   CONSTI   [SP=00000000 BP=00000000]  S=" + ansiReset + "\n"
	if buf.String() != want {
		t.Errorf("colored line = %q, want %q", buf.String(), want)
	}
}

func TestTraceWriterPlain(t *testing.T) {
	var buf bytes.Buffer
	w := &traceWriter{w: &buf}
	w.Write([]byte("**** Stack dump\n"))
	if buf.String() != "**** Stack dump\n" {
		t.Errorf("plain output = %q", buf.String())
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" raise-on-failure, ,static-type-discovery ")
	if strings.Join(got, "|") != "raise-on-failure|static-type-discovery" {
		t.Errorf("splitList = %q", got)
	}
	if splitList("") != nil {
		t.Error("splitList(\"\") should be nil")
	}
}

func TestAnalyzeOne(t *testing.T) {
	a := bytecode.NewAssembler()
	a.RSAdd(bytecode.TypeInt)
	jsr := a.JumpForward(bytecode.OpJSR)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)
	a.PatchJump(jsr, a.PC())
	a.ConstInt(1)
	a.Copy(bytecode.OpCPDownSP, -8, 4)
	a.MovSP(-4)
	a.Op(bytecode.OpRetn, bytecode.TypeNone)

	var out bytes.Buffer
	if !analyzeOne(&out, host.BuiltinDefinitions(), a.Program("cond"), 0, true) {
		t.Fatalf("analysis failed:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "StartingConditional") || !strings.Contains(out.String(), "int()") {
		t.Errorf("summary missing signature:\n%s", out.String())
	}
}

func TestAnalyzeOneFailure(t *testing.T) {
	a := bytecode.NewAssembler()
	a.Emit(bytecode.Opcode(0xFF), bytecode.TypeNone)

	var out bytes.Buffer
	if analyzeOne(&out, nil, a.Program("junk"), analyzer.StructureOnly, false) {
		t.Errorf("junk program analyzed cleanly:\n%s", out.String())
	}
}
