package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/chazu/nwscript/host"
	"github.com/chazu/nwscript/manifest"
	"github.com/chazu/nwscript/store"
	"github.com/chazu/nwscript/vm"
)

// ---------------------------------------------------------------------------
// nwscript run
// ---------------------------------------------------------------------------

func runCommand(m *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	self := fs.Uint("self", uint(m.Host.SelfObject), "Object id the script runs as (accepts 0x hex)")
	defaultReturn := fs.Int("default", -1, "Return code when the script fails")
	flagList := fs.String("flags", strings.Join(m.Engine.Flags, ","), "Comma-separated execution flags")
	trace := fs.Bool("trace", false, "Trace every executed instruction to stderr")
	debug := fs.String("debug", "", "Debug level: none, errors, calls, verbose")
	persist := fs.Bool("persist", false, "Save deferred situations to the store instead of running them")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nwscript run [options] <script> [params...]\n\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	flags, err := manifest.ParseExecFlags(splitList(*flagList))
	if err != nil {
		return err
	}

	var opts []host.Option
	if *trace {
		opts = append(opts, host.WithVMOptions(vm.WithTrace(newTraceWriter(os.Stderr))))
	}
	h, err := host.New(m, opts...)
	if err != nil {
		return err
	}
	if *debug != "" {
		level, err := vm.ParseDebugLevel(*debug)
		if err != nil {
			return err
		}
		h.VM().SetDebugLevel(level)
	}

	script, params := fs.Arg(0), fs.Args()[1:]
	rc, err := h.RunScript(script, uint32(*self), params, int32(*defaultReturn), flags)
	if err != nil {
		return err
	}
	fmt.Printf("%s returned %d\n", script, rc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *persist {
		return persistDeferred(ctx, m, h)
	}
	return h.RunUntilIdle(ctx)
}

// persistDeferred moves every queued situation into the store.
func persistDeferred(ctx context.Context, m *manifest.Manifest, h *host.Host) error {
	queued := h.TakeAll()
	if len(queued) == 0 {
		return nil
	}
	st, err := store.Open(m.StorePath(), host.EngineCodec())
	if err != nil {
		return err
	}
	defer st.Close()
	for _, d := range queued {
		id, err := st.Save(ctx, d.State, d.Period.Milliseconds())
		if err != nil {
			return err
		}
		fmt.Printf("saved situation %s (%s, due in %s)\n", id, d.State.Program.Name, d.Period)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
