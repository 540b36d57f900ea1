package host

import (
	"fmt"

	"github.com/chazu/nwscript/pkg/stack"
	"github.com/chazu/nwscript/vm/wire"
)

// Engine structure ordinals.
const (
	EngTypeEffect = 0
)

// Effect is the effect engine structure. A freshly created effect is empty.
type Effect struct {
	Kind       string `cbor:"1,keyasint,omitempty"`
	Amount     int32  `cbor:"2,keyasint,omitempty"`
	DamageType int32  `cbor:"3,keyasint,omitempty"`
	Power      int32  `cbor:"4,keyasint,omitempty"`
}

func (e *Effect) EngineType() uint8 { return EngTypeEffect }

func (e *Effect) Compare(other stack.EngineStructure) bool {
	o, ok := other.(*Effect)
	if !ok {
		return false
	}
	return *e == *o
}

func (e *Effect) String() string {
	if e.Kind == "" {
		return "effect(empty)"
	}
	return fmt.Sprintf("effect(%s %d type=%d power=%d)", e.Kind, e.Amount, e.DamageType, e.Power)
}

// engineCodec serializes the host's engine structures for saved
// situations.
type engineCodec struct{}

// EngineCodec returns the codec for the console host's engine structures.
func EngineCodec() wire.EngineCodec { return engineCodec{} }

func (engineCodec) EncodeEngine(es stack.EngineStructure) ([]byte, error) {
	switch v := es.(type) {
	case *Effect:
		return wire.Marshal(v)
	}
	return nil, fmt.Errorf("host: cannot encode engine structure type %d", es.EngineType())
}

func (engineCodec) DecodeEngine(ordinal uint8, data []byte) (stack.EngineStructure, error) {
	switch ordinal {
	case EngTypeEffect:
		var e Effect
		if err := wire.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("host: decode effect: %w", err)
		}
		return &e, nil
	}
	return nil, fmt.Errorf("host: unknown engine structure type %d", ordinal)
}
