package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a remote script service.
type Client struct {
	execute      *connect.Client[ExecuteRequest, ExecuteResponse]
	analyze      *connect.Client[AnalyzeRequest, AnalyzeResponse]
	analyzeBatch *connect.Client[AnalyzeBatchRequest, AnalyzeBatchResponse]
	disassemble  *connect.Client[DisassembleRequest, DisassembleResponse]
}

// NewClient creates a client for the service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	codec := connect.WithCodec(cborCodec{})
	return &Client{
		execute:      connect.NewClient[ExecuteRequest, ExecuteResponse](httpClient, baseURL+ExecuteProcedure, codec),
		analyze:      connect.NewClient[AnalyzeRequest, AnalyzeResponse](httpClient, baseURL+AnalyzeProcedure, codec),
		analyzeBatch: connect.NewClient[AnalyzeBatchRequest, AnalyzeBatchResponse](httpClient, baseURL+AnalyzeBatchProcedure, codec),
		disassemble:  connect.NewClient[DisassembleRequest, DisassembleResponse](httpClient, baseURL+DisassembleProcedure, codec),
	}
}

func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	resp, err := c.execute.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	resp, err := c.analyze.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) AnalyzeBatch(ctx context.Context, req *AnalyzeBatchRequest) (*AnalyzeBatchResponse, error) {
	resp, err := c.analyzeBatch.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	resp, err := c.disassemble.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
