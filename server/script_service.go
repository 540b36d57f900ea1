package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"connectrpc.com/connect"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/nwscript/analyzer"
	"github.com/chazu/nwscript/host"
	"github.com/chazu/nwscript/manifest"
	"github.com/chazu/nwscript/pkg/bytecode"
)

// ScriptService implements the script service handlers.
type ScriptService struct {
	pool *WorkerPool
}

// NewScriptService creates a ScriptService.
func NewScriptService(pool *WorkerPool) *ScriptService {
	return &ScriptService{pool: pool}
}

// Execute runs a script and returns its return code and printed output.
// Situations the script defers are counted and dropped so workers carry
// no state between requests.
func (s *ScriptService) Execute(
	ctx context.Context,
	req *connect.Request[ExecuteRequest],
) (*connect.Response[ExecuteResponse], error) {
	msg := req.Msg
	if msg.Script == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("script is required"))
	}
	flags, err := manifest.ParseExecFlags(msg.Flags)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	result, err := s.pool.Do(ctx, func(h *host.Host) any {
		var out bytes.Buffer
		h.SetOutput(&out)
		defer h.SetOutput(io.Discard)

		rc, err := h.RunScript(msg.Script, msg.Self, msg.Params, msg.Default, flags)
		if errors.Is(err, host.ErrScriptNotFound) {
			return err
		}
		resp := &ExecuteResponse{ReturnCode: rc}
		if err != nil {
			resp.Error = err.Error()
		}
		resp.Deferred = len(h.TakeAll())
		resp.Output = splitLines(out.String())
		return resp
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if err, ok := result.(error); ok {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewResponse(result.(*ExecuteResponse)), nil
}

// Analyze runs the static analyzer over a script.
func (s *ScriptService) Analyze(
	ctx context.Context,
	req *connect.Request[AnalyzeRequest],
) (*connect.Response[AnalyzeResponse], error) {
	if req.Msg.Script == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("script is required"))
	}
	resp, err := s.analyze(ctx, req.Msg.Script, req.Msg.IR)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// AnalyzeBatch analyzes several scripts concurrently, at most one per
// worker at a time. Per-script failures are reported in the results.
func (s *ScriptService) AnalyzeBatch(
	ctx context.Context,
	req *connect.Request[AnalyzeBatchRequest],
) (*connect.Response[AnalyzeBatchResponse], error) {
	results := make([]AnalyzeResponse, len(req.Msg.Scripts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.pool.Size(), 1))
	for i, name := range req.Msg.Scripts {
		g.Go(func() error {
			resp, err := s.analyze(gctx, name, false)
			if err != nil {
				var cerr *connect.Error
				if errors.As(err, &cerr) && cerr.Code() == connect.CodeNotFound {
					results[i] = AnalyzeResponse{Script: name, Error: cerr.Message()}
					return nil
				}
				return err
			}
			results[i] = *resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return connect.NewResponse(&AnalyzeBatchResponse{Results: results}), nil
}

// Disassemble returns a listing of a script.
func (s *ScriptService) Disassemble(
	ctx context.Context,
	req *connect.Request[DisassembleRequest],
) (*connect.Response[DisassembleResponse], error) {
	if req.Msg.Script == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("script is required"))
	}
	result, err := s.pool.Do(ctx, func(h *host.Host) any {
		prog, err := h.LoadScript(req.Msg.Script)
		if err != nil {
			return err
		}
		return &DisassembleResponse{Listing: prog.Disassemble()}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if err, ok := result.(error); ok {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewResponse(result.(*DisassembleResponse)), nil
}

func (s *ScriptService) analyze(ctx context.Context, name string, ir bool) (*AnalyzeResponse, error) {
	result, err := s.pool.Do(ctx, func(h *host.Host) any {
		prog, err := h.LoadScript(name)
		if err != nil {
			return err
		}
		return summarize(h, prog, ir)
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if err, ok := result.(error); ok {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	return result.(*AnalyzeResponse), nil
}

// summarize analyzes with the host's action table and collects the
// subroutine signatures, plus the IR listing when ir is set.
func summarize(h *host.Host, prog *bytecode.Program, ir bool) *AnalyzeResponse {
	a := analyzer.New(h.Definitions())
	resp := &AnalyzeResponse{Script: prog.Name}
	if err := a.Analyze(prog, 0); err != nil {
		resp.Error = err.Error()
	}
	for _, sub := range a.Subroutines() {
		sum := SubroutineSummary{
			Address:   sub.Address(),
			Symbol:    sub.Symbol(),
			Situation: sub.IsSituation(),
		}
		for _, t := range sub.Parameters() {
			sum.Parameters = append(sum.Parameters, t.String())
		}
		for _, t := range sub.ReturnTypes() {
			sum.Returns = append(sum.Returns, t.String())
		}
		if err := sub.Err(); err != nil {
			sum.Error = err.Error()
		}
		resp.Subroutines = append(resp.Subroutines, sum)
	}
	if ir && resp.Error == "" {
		a.PostProcessIR(true)
		var buf bytes.Buffer
		if err := a.Print(&buf); err != nil {
			resp.Error = err.Error()
		}
		resp.IR = buf.String()
	}
	return resp
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
