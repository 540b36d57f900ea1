package server

import (
	"connectrpc.com/connect"

	"github.com/chazu/nwscript/vm/wire"
)

// Procedure paths of the script service.
const (
	ServiceName = "nwscript.v1.ScriptService"

	ExecuteProcedure      = "/" + ServiceName + "/Execute"
	AnalyzeProcedure      = "/" + ServiceName + "/Analyze"
	AnalyzeBatchProcedure = "/" + ServiceName + "/AnalyzeBatch"
	DisassembleProcedure  = "/" + ServiceName + "/Disassemble"
)

// cborCodec carries service messages as canonical CBOR.
type cborCodec struct{}

var _ connect.Codec = cborCodec{}

func (cborCodec) Name() string                    { return "cbor" }
func (cborCodec) Marshal(msg any) ([]byte, error) { return wire.Marshal(msg) }
func (cborCodec) Unmarshal(data []byte, msg any) error {
	return wire.Unmarshal(data, msg)
}

type ExecuteRequest struct {
	Script  string   `cbor:"script"`
	Self    uint32   `cbor:"self"`
	Params  []string `cbor:"params,omitempty"`
	Default int32    `cbor:"default"`
	Flags   []string `cbor:"flags,omitempty"`
}

type ExecuteResponse struct {
	ReturnCode int32    `cbor:"rc"`
	Output     []string `cbor:"output,omitempty"`
	Error      string   `cbor:"error,omitempty"`
	Deferred   int      `cbor:"deferred,omitempty"`
}

type AnalyzeRequest struct {
	Script string `cbor:"script"`
	IR     bool   `cbor:"ir,omitempty"`
}

// SubroutineSummary describes one analyzed subroutine.
type SubroutineSummary struct {
	Address    uint32   `cbor:"address"`
	Symbol     string   `cbor:"symbol,omitempty"`
	Parameters []string `cbor:"params,omitempty"`
	Returns    []string `cbor:"returns,omitempty"`
	Situation  bool     `cbor:"situation,omitempty"`
	Error      string   `cbor:"error,omitempty"`
}

type AnalyzeResponse struct {
	Script      string              `cbor:"script"`
	Subroutines []SubroutineSummary `cbor:"subroutines"`
	IR          string              `cbor:"ir,omitempty"`
	Error       string              `cbor:"error,omitempty"`
}

type AnalyzeBatchRequest struct {
	Scripts []string `cbor:"scripts"`
}

type AnalyzeBatchResponse struct {
	Results []AnalyzeResponse `cbor:"results"`
}

type DisassembleRequest struct {
	Script string `cbor:"script"`
}

type DisassembleResponse struct {
	Listing string `cbor:"listing"`
}
