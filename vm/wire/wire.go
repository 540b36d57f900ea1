// Package wire serializes saved script situations so they can outlive the
// VM that captured them. Snapshots are canonical CBOR.
package wire

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/nwscript/pkg/bytecode"
	"github.com/chazu/nwscript/pkg/stack"
	"github.com/chazu/nwscript/vm"
)

// Version is the snapshot format version.
const Version = 2

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ErrNoEngineCodec is returned when a snapshot holds an engine structure
// and no codec was supplied.
var ErrNoEngineCodec = errors.New("wire: engine structure without codec")

// ErrScriptChanged is returned when the resolved program's code no longer
// hashes to the value recorded at capture time.
var ErrScriptChanged = errors.New("wire: script changed since capture")

// ContentHash is the SHA-256 of a program's code.
func ContentHash(prog *bytecode.Program) [32]byte {
	return sha256.Sum256(prog.Code)
}

// EngineCodec converts host engine structures to and from bytes.
type EngineCodec interface {
	EncodeEngine(es stack.EngineStructure) ([]byte, error)
	DecodeEngine(ordinal uint8, data []byte) (stack.EngineStructure, error)
}

// Cell is one serialized stack cell.
type Cell struct {
	Kind   stack.Kind   `cbor:"1,keyasint"`
	Member stack.Member `cbor:"2,keyasint,omitempty"`
	Engine uint8        `cbor:"3,keyasint,omitempty"`
	Raw    uint32       `cbor:"4,keyasint,omitempty"`
	Text   string       `cbor:"5,keyasint,omitempty"`
	Data   []byte       `cbor:"6,keyasint,omitempty"` // encoded engine structure
}

// Snapshot is the serialized form of a vm.SavedState. The program is stored
// by name and resolved again on decode.
type Snapshot struct {
	Version uint8    `cbor:"1,keyasint"`
	Script  string   `cbor:"2,keyasint"`
	PC      uint32   `cbor:"3,keyasint"`
	Self    uint32   `cbor:"4,keyasint"`
	Invalid uint32   `cbor:"5,keyasint"`
	BP      int32    `cbor:"6,keyasint"`
	Cells   []Cell   `cbor:"7,keyasint"`
	Aborted bool     `cbor:"8,keyasint,omitempty"`
	Hash    [32]byte `cbor:"9,keyasint"`
}

// Encode builds a snapshot of state. codec may be nil when the stack holds
// no engine structures.
func Encode(state *vm.SavedState, codec EngineCodec) (*Snapshot, error) {
	if state == nil || state.Program == nil || state.Stack == nil {
		return nil, fmt.Errorf("wire: incomplete saved state")
	}
	snap := &Snapshot{
		Version: Version,
		Script:  state.Program.Name,
		PC:      state.PC,
		Self:    state.Self,
		Invalid: state.Invalid,
		BP:      state.Stack.BP(),
		Aborted: state.Aborted,
		Hash:    ContentHash(state.Program),
	}
	for i, v := range state.Stack.Cells() {
		c := Cell{Kind: v.Kind, Member: v.Member, Engine: v.Engine, Raw: v.Raw, Text: v.Text}
		switch v.Kind {
		case stack.KindString, stack.KindDynamic:
			c.Raw = 0
		case stack.KindEngine:
			c.Raw = 0
			if v.Structure != nil {
				if codec == nil {
					return nil, fmt.Errorf("%w: cell %d", ErrNoEngineCodec, i)
				}
				data, err := codec.EncodeEngine(v.Structure)
				if err != nil {
					return nil, fmt.Errorf("wire: encode engine cell %d: %w", i, err)
				}
				c.Data = data
			}
		}
		snap.Cells = append(snap.Cells, c)
	}
	return snap, nil
}

// Decode rebuilds a saved state from snap. resolve maps the script name
// back to its program.
func Decode(snap *Snapshot, resolve func(name string) (*bytecode.Program, error), codec EngineCodec) (*vm.SavedState, error) {
	if snap.Version != Version {
		return nil, fmt.Errorf("wire: unsupported snapshot version %d", snap.Version)
	}
	prog, err := resolve(snap.Script)
	if err != nil {
		return nil, fmt.Errorf("wire: resolve %s: %w", snap.Script, err)
	}
	if ContentHash(prog) != snap.Hash {
		return nil, fmt.Errorf("%w: %s", ErrScriptChanged, snap.Script)
	}
	if snap.PC >= prog.Len() {
		return nil, fmt.Errorf("wire: resume PC %08X outside %s", snap.PC, snap.Script)
	}

	values := make([]stack.Value, len(snap.Cells))
	for i, c := range snap.Cells {
		v := stack.Value{Kind: c.Kind, Member: c.Member, Engine: c.Engine, Raw: c.Raw, Text: c.Text}
		if c.Kind == stack.KindEngine && c.Data != nil {
			if codec == nil {
				return nil, fmt.Errorf("%w: cell %d", ErrNoEngineCodec, i)
			}
			es, err := codec.DecodeEngine(c.Engine, c.Data)
			if err != nil {
				return nil, fmt.Errorf("wire: decode engine cell %d: %w", i, err)
			}
			v.Structure = es
		}
		values[i] = v
	}

	s, err := stack.FromCells(values, snap.BP, snap.Invalid)
	if err != nil {
		return nil, fmt.Errorf("wire: rebuild stack: %w", err)
	}
	return &vm.SavedState{
		Stack:   s,
		Program: prog,
		PC:      snap.PC,
		Self:    snap.Self,
		Invalid: snap.Invalid,
		Aborted: snap.Aborted,
	}, nil
}

// MarshalSavedState serializes state to CBOR bytes.
func MarshalSavedState(state *vm.SavedState, codec EngineCodec) ([]byte, error) {
	snap, err := Encode(state, codec)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(snap)
}

// UnmarshalSavedState deserializes a saved state from CBOR bytes.
func UnmarshalSavedState(data []byte, resolve func(name string) (*bytecode.Program, error), codec EngineCodec) (*vm.SavedState, error) {
	snap, err := UnmarshalSnapshot(data)
	if err != nil {
		return nil, err
	}
	return Decode(snap, resolve, codec)
}

// UnmarshalSnapshot deserializes a Snapshot without resolving its program.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("wire: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Marshal serializes any value with the canonical encoding. The server
// codec uses it for request and response messages.
func Marshal(v any) ([]byte, error) { return cborEncMode.Marshal(v) }

// Unmarshal is the counterpart of Marshal.
func Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }
