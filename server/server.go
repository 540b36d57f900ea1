// Package server exposes script execution and analysis over Connect, with
// messages encoded as CBOR.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/nwscript/host"
	"github.com/chazu/nwscript/manifest"
)

// ScriptServer serves the script service over HTTP. Each worker owns its
// own host and VM.
type ScriptServer struct {
	pool *WorkerPool
	mux  *http.ServeMux
	log  commonlog.Logger
	http *http.Server
}

// ServerOption configures a ScriptServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	workers  int
	hostOpts []host.Option
}

// WithWorkers overrides the manifest's worker count.
func WithWorkers(n int) ServerOption {
	return func(c *serverConfig) { c.workers = n }
}

// WithHostOptions passes options to every worker's host.
func WithHostOptions(opts ...host.Option) ServerOption {
	return func(c *serverConfig) { c.hostOpts = append(c.hostOpts, opts...) }
}

// New creates a ScriptServer with one host per worker, all configured by m.
func New(m *manifest.Manifest, opts ...ServerOption) (*ScriptServer, error) {
	if m == nil {
		m = manifest.Default(".")
	}
	cfg := &serverConfig{workers: m.Server.Workers}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = manifest.DefaultWorkers
	}

	hosts := make([]*host.Host, cfg.workers)
	for i := range hosts {
		hostOpts := append([]host.Option{host.WithOutput(io.Discard)}, cfg.hostOpts...)
		h, err := host.New(m, hostOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating worker %d: %w", i, err)
		}
		hosts[i] = h
	}

	s := &ScriptServer{
		pool: NewWorkerPool(hosts),
		mux:  http.NewServeMux(),
		log:  commonlog.GetLogger("nwscript.server"),
	}

	svc := NewScriptService(s.pool)
	codec := connect.WithCodec(cborCodec{})
	s.mux.Handle(ExecuteProcedure, connect.NewUnaryHandler(ExecuteProcedure, svc.Execute, codec))
	s.mux.Handle(AnalyzeProcedure, connect.NewUnaryHandler(AnalyzeProcedure, svc.Analyze, codec))
	s.mux.Handle(AnalyzeBatchProcedure, connect.NewUnaryHandler(AnalyzeBatchProcedure, svc.AnalyzeBatch, codec))
	s.mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, svc.Disassemble, codec))

	return s, nil
}

// Handler returns the HTTP handler serving every procedure.
func (s *ScriptServer) Handler() http.Handler { return s.mux }

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *ScriptServer) ListenAndServe(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	s.log.Noticef("script service listening on %s (%d workers)", addr, s.pool.Size())
	s.log.Infof("  Connect (CBOR): http://%s%s", addr, ExecuteProcedure)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *ScriptServer) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Stop shuts down the workers.
func (s *ScriptServer) Stop() {
	s.pool.Stop()
}
