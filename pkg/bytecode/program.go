package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// NCSSignature opens every compiled script file.
var NCSSignature = []byte("NCS V1.0")

// NCSHeaderSize is the signature plus the T size instruction. Program
// counters are relative to the first byte after the header.
const NCSHeaderSize = 13

// PatchState records what the entry fixup pass decided about a program.
type PatchState uint8

const (
	// PatchUnknown means the program has not been inspected yet.
	PatchUnknown PatchState = iota

	// PatchNormal means parameters are pushed before execution starts.
	PatchNormal

	// PatchReturnValue means the loader's RSADD.I was replaced by a NOP and
	// the VM pushes the return cell itself.
	PatchReturnValue

	// PatchUsesGlobals means parameter pushing is deferred until the loader
	// reserves the return cell after the globals frame is built.
	PatchUsesGlobals
)

func (s PatchState) String() string {
	switch s {
	case PatchUnknown:
		return "unknown"
	case PatchNormal:
		return "normal"
	case PatchReturnValue:
		return "patch-return-value"
	case PatchUsesGlobals:
		return "uses-globals"
	}
	return fmt.Sprintf("PatchState(%d)", s)
}

// AnalyzeState caches the entry point calling convention discovered by the
// analyzer.
type AnalyzeState struct {
	ReturnCells    int
	ParameterCells int
	ArgumentTypes  []ActionType // nil unless static type discovery ran
}

// Program is a loaded script. The code is immutable except through Patch.
// A Program may be shared between a VM and an analyzer.
type Program struct {
	Name string
	Code []byte

	mu         sync.Mutex
	patchState PatchState
	analyzed   *AnalyzeState
	symbols    map[uint32]string
}

// NewProgram wraps raw code (without the NCS header).
func NewProgram(name string, code []byte) *Program {
	return &Program{Name: name, Code: code}
}

// ReadNCS reads a compiled script file.
func ReadNCS(name string, r io.Reader) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", name, err)
	}
	return ParseNCS(name, data)
}

// ParseNCS parses compiled script file contents.
func ParseNCS(name string, data []byte) (*Program, error) {
	if len(data) < NCSHeaderSize {
		return nil, fmt.Errorf("%s: file too short: need at least %d bytes, got %d", name, NCSHeaderSize, len(data))
	}
	if !bytes.Equal(data[:len(NCSSignature)], NCSSignature) {
		return nil, fmt.Errorf("%s: invalid signature %q", name, data[:len(NCSSignature)])
	}
	if Opcode(data[8]) != OpT {
		return nil, fmt.Errorf("%s: expected T instruction at header, got %02X", name, data[8])
	}
	size := binary.BigEndian.Uint32(data[9:])
	if int64(size) != int64(len(data)) {
		return nil, fmt.Errorf("%s: header size %d does not match file size %d", name, size, len(data))
	}
	code := make([]byte, len(data)-NCSHeaderSize)
	copy(code, data[NCSHeaderSize:])
	return NewProgram(name, code), nil
}

// LoadNCS reads a compiled script from disk. The program is named after the
// file's base name without extension.
func LoadNCS(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	defer f.Close()
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ReadNCS(name, f)
}

// MarshalNCS encodes the program as a compiled script file.
func (p *Program) MarshalNCS() []byte {
	buf := make([]byte, 0, NCSHeaderSize+len(p.Code))
	buf = append(buf, NCSSignature...)
	buf = append(buf, byte(OpT))
	buf = binary.BigEndian.AppendUint32(buf, uint32(NCSHeaderSize+len(p.Code)))
	return append(buf, p.Code...)
}

// Patch overwrites one code byte.
func (p *Program) Patch(pc uint32, b byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Code[pc] = b
}

// PatchState returns the fixup decision for this program.
func (p *Program) PatchState() PatchState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.patchState
}

// SetPatchState records the fixup decision for this program.
func (p *Program) SetPatchState(s PatchState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.patchState = s
}

// AnalyzeState returns the cached entry point analysis, or nil.
func (p *Program) AnalyzeState() *AnalyzeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.analyzed
}

// SetAnalyzeState caches a copy of the entry point analysis.
func (p *Program) SetAnalyzeState(s *AnalyzeState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s == nil {
		p.analyzed = nil
		return
	}
	cp := *s
	if s.ArgumentTypes != nil {
		cp.ArgumentTypes = append([]ActionType(nil), s.ArgumentTypes...)
	}
	p.analyzed = &cp
}

// SetSymbol names the code address pc.
func (p *Program) SetSymbol(pc uint32, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.symbols == nil {
		p.symbols = make(map[uint32]string)
	}
	p.symbols[pc] = name
}

// Symbol returns the name for pc. With nearest set, an address inside a
// named routine resolves to "name+offset".
func (p *Program) Symbol(pc uint32, nearest bool) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name, ok := p.symbols[pc]; ok {
		return name, true
	}
	if !nearest || len(p.symbols) == 0 {
		return "", false
	}
	var best uint32
	found := false
	for addr := range p.symbols {
		if addr < pc && (!found || addr > best) {
			best, found = addr, true
		}
	}
	if !found {
		return "", false
	}
	return fmt.Sprintf("%s+%X", p.symbols[best], pc-best), true
}

// Symbols returns the symbol addresses in ascending order.
func (p *Program) Symbols() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	addrs := make([]uint32, 0, len(p.symbols))
	for addr := range p.symbols {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	return addrs
}

// Len returns the code length in bytes.
func (p *Program) Len() uint32 {
	return uint32(len(p.Code))
}
