package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chazu/nwscript/analyzer"
	"github.com/chazu/nwscript/host"
	"github.com/chazu/nwscript/manifest"
	"github.com/chazu/nwscript/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// nwscript analyze / nwscript disasm
// ---------------------------------------------------------------------------

func analyzeCommand(m *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	ir := fs.Bool("ir", false, "Print the intermediate representation")
	noOpt := fs.Bool("no-opt", false, "Skip IR optimizations")
	structure := fs.Bool("structure", false, "Stop after structure discovery")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nwscript analyze [options] <script>...\n\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	h, err := host.New(m, host.WithOutput(io.Discard))
	if err != nil {
		return err
	}
	failed := 0
	for _, name := range fs.Args() {
		prog, err := h.LoadScript(name)
		if err != nil {
			return err
		}
		var flags analyzer.Flags
		if *structure {
			flags |= analyzer.StructureOnly
		}
		if *noOpt {
			flags |= analyzer.NoOptimizations
		}
		if !analyzeOne(os.Stdout, h.Definitions(), prog, flags, *ir) {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scripts failed analysis", failed, fs.NArg())
	}
	return nil
}

// analyzeOne prints the subroutine table of prog and, when ir is set, its
// IR listing. It reports whether the analysis succeeded.
func analyzeOne(w io.Writer, defs []bytecode.ActionDefinition, prog *bytecode.Program, flags analyzer.Flags, ir bool) bool {
	a := analyzer.New(defs)
	err := a.Analyze(prog, flags)
	fmt.Fprintf(w, "; === %s ===\n", prog.Name)
	for _, sub := range a.Subroutines() {
		fmt.Fprintf(w, "%08X  %-24s %s\n", sub.Address(), sub.Symbol(), signature(sub))
		if err := sub.Err(); err != nil {
			fmt.Fprintf(w, "          error: %v\n", err)
		}
	}
	if err != nil {
		fmt.Fprintf(w, "analysis failed: %v\n", err)
		return false
	}
	if ir && flags&analyzer.StructureOnly == 0 {
		a.PostProcessIR(flags&analyzer.NoOptimizations == 0)
		fmt.Fprintln(w)
		if err := a.Print(w); err != nil {
			fmt.Fprintf(w, "print failed: %v\n", err)
			return false
		}
	}
	fmt.Fprintln(w)
	return true
}

func signature(sub *analyzer.Subroutine) string {
	ret := "void"
	if rt := sub.ReturnTypes(); len(rt) > 0 {
		names := make([]string, len(rt))
		for i, t := range rt {
			names[i] = t.String()
		}
		ret = strings.Join(names, ", ")
	} else if sub.ReturnSize() > 0 {
		ret = fmt.Sprintf("<%d bytes>", sub.ReturnSize())
	}

	var params string
	if pt := sub.Parameters(); len(pt) > 0 {
		names := make([]string, len(pt))
		for i, t := range pt {
			names[i] = t.String()
		}
		params = strings.Join(names, ", ")
	} else if sub.ParameterSize() > 0 {
		params = fmt.Sprintf("<%d bytes>", sub.ParameterSize())
	}

	sig := fmt.Sprintf("%s(%s)", ret, params)
	if sub.IsSituation() {
		sig += " [situation]"
	}
	return sig
}

func disasmCommand(m *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nwscript disasm <script>...\n")
	}
	fs.Parse(args)
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}
	h, err := host.New(m, host.WithOutput(io.Discard))
	if err != nil {
		return err
	}
	for _, name := range fs.Args() {
		prog, err := h.LoadScript(name)
		if err != nil {
			return err
		}
		fmt.Print(prog.Disassemble())
		fmt.Println()
	}
	return nil
}
