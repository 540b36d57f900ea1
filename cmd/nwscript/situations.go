package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/chazu/nwscript/host"
	"github.com/chazu/nwscript/manifest"
	"github.com/chazu/nwscript/store"
)

// situationsCommand processes the `nwscript situations` subcommand.
// Usage:
//
//	nwscript situations list          List persisted situations
//	nwscript situations run [id...]   Resume situations (all when no id is given)
//	nwscript situations delete <id>   Remove a situation
func situationsCommand(m *manifest.Manifest, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: nwscript situations [list|run|delete] ...")
		fmt.Fprintln(os.Stderr, "  list            List persisted situations")
		fmt.Fprintln(os.Stderr, "  run [id...]     Resume situations after their delay (all when no id is given)")
		fmt.Fprintln(os.Stderr, "  delete <id>     Remove a situation")
		os.Exit(2)
	}

	st, err := store.Open(m.StorePath(), host.EngineCodec())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch args[0] {
	case "list":
		return listSituations(ctx, st)
	case "run":
		return runSituations(ctx, m, st, args[1:])
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("usage: nwscript situations delete <id>")
		}
		return st.Delete(ctx, args[1])
	default:
		return fmt.Errorf("unknown situations subcommand: %s", args[0])
	}
}

func listSituations(ctx context.Context, st *store.Store) error {
	entries, err := st.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No stored situations")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-16s  object %08X  due %s\n", e.ID, e.Script, e.Object, time.Duration(e.DueMs)*time.Millisecond)
	}
	return nil
}

// runSituations restores situations into a host's queue, deletes them from
// the store and services the queue until it is idle.
func runSituations(ctx context.Context, m *manifest.Manifest, st *store.Store, ids []string) error {
	if len(ids) == 0 {
		entries, err := st.List(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
	}

	h, err := host.New(m)
	if err != nil {
		return err
	}
	for _, id := range ids {
		state, dueMs, err := st.Load(ctx, id, h.LoadScript)
		if err != nil {
			return err
		}
		h.Enqueue(state, time.Duration(dueMs)*time.Millisecond)
		if err := st.Delete(ctx, id); err != nil {
			return err
		}
	}
	return h.RunUntilIdle(ctx)
}
