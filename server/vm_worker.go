package server

import (
	"context"
	"fmt"

	"github.com/chazu/nwscript/host"
)

// hostRequest represents a unit of work to be executed on a worker goroutine.
type hostRequest struct {
	fn   func(*host.Host) any
	done chan hostResult
}

// hostResult holds the return value from a host operation.
type hostResult struct {
	value any
	err   error
}

// HostWorker serializes access to one host. A VM is single-threaded;
// every request that touches it goes through its worker.
type HostWorker struct {
	host *host.Host
}

// WorkerPool runs requests on a fixed set of workers, each owning an
// independent host and VM. A request goes to whichever worker is free.
type WorkerPool struct {
	workers  []*HostWorker
	requests chan hostRequest
	quit     chan struct{}
}

// NewWorkerPool starts one goroutine per host.
func NewWorkerPool(hosts []*host.Host) *WorkerPool {
	p := &WorkerPool{
		requests: make(chan hostRequest, 64),
		quit:     make(chan struct{}),
	}
	for _, h := range hosts {
		w := &HostWorker{host: h}
		p.workers = append(p.workers, w)
		go p.loop(w)
	}
	return p
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int { return len(p.workers) }

// loop processes requests sequentially on a dedicated goroutine.
func (p *WorkerPool) loop(w *HostWorker) {
	for {
		select {
		case req := <-p.requests:
			req.done <- w.execute(req.fn)
		case <-p.quit:
			return
		}
	}
}

// execute runs a function on the host, recovering from panics.
func (w *HostWorker) execute(fn func(*host.Host) any) hostResult {
	var result hostResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.host)
	}()
	return result
}

// Do submits a function to the pool and blocks until it completes or ctx
// is done. Returns the result and any error (including panics).
func (p *WorkerPool) Do(ctx context.Context, fn func(*host.Host) any) (any, error) {
	req := hostRequest{
		fn:   fn,
		done: make(chan hostResult, 1),
	}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, fmt.Errorf("worker pool stopped")
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the worker goroutines.
func (p *WorkerPool) Stop() {
	close(p.quit)
}
