package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chazu/nwscript/manifest"
	"github.com/chazu/nwscript/server"
)

// ---------------------------------------------------------------------------
// nwscript serve
// ---------------------------------------------------------------------------

func serveCommand(m *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", m.Server.Addr, "Listen address (host:port or :port)")
	workers := fs.Int("workers", m.Server.Workers, "Number of VM workers")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nwscript serve [options]\n\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	srv, err := server.New(m, server.WithWorkers(*workers))
	if err != nil {
		return err
	}
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(*addr) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}
