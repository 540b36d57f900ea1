package bytecode

import "fmt"

// ActionType is the base type of an action parameter, return value or
// discovered script variable.
type ActionType uint8

const (
	ActionVoid ActionType = iota
	ActionInt
	ActionFloat
	ActionString
	ActionObject
	ActionVector
	ActionAction
	ActionEngine0 // effect
	ActionEngine1 // event
	ActionEngine2 // location
	ActionEngine3 // talent
	ActionEngine4 // itemproperty
	ActionEngine5
	ActionEngine6
	ActionEngine7
	ActionEngine8
	ActionEngine9

	lastActionType
)

// Named aliases for the engine structures the standard action library uses.
const (
	ActionEffect       = ActionEngine0
	ActionEvent        = ActionEngine1
	ActionLocation     = ActionEngine2
	ActionTalent       = ActionEngine3
	ActionItemProperty = ActionEngine4
)

var actionTypeNames = [...]string{
	ActionVoid:    "void",
	ActionInt:     "int",
	ActionFloat:   "float",
	ActionString:  "string",
	ActionObject:  "object",
	ActionVector:  "vector",
	ActionAction:  "action",
	ActionEngine0: "effect",
	ActionEngine1: "event",
	ActionEngine2: "location",
	ActionEngine3: "talent",
	ActionEngine4: "itemproperty",
	ActionEngine5: "engine5",
	ActionEngine6: "engine6",
	ActionEngine7: "engine7",
	ActionEngine8: "engine8",
	ActionEngine9: "engine9",
}

func (t ActionType) String() string {
	if t < lastActionType {
		return actionTypeNames[t]
	}
	return fmt.Sprintf("ActionType(%d)", t)
}

// ParseActionType maps a type name to its ActionType.
func ParseActionType(name string) (ActionType, error) {
	for i, n := range actionTypeNames {
		if n == name {
			return ActionType(i), nil
		}
	}
	return ActionVoid, fmt.Errorf("unknown action type %q", name)
}

// IsEngine reports whether t is an engine structure type.
func (t ActionType) IsEngine() bool {
	return t >= ActionEngine0 && t <= ActionEngine9
}

// EngineOrdinal returns the engine structure number for an engine type.
func (t ActionType) EngineOrdinal() uint8 {
	return uint8(t - ActionEngine0)
}

// Cells returns the number of stack cells a value of this type occupies.
func (t ActionType) Cells() int {
	switch t {
	case ActionVoid, ActionAction:
		return 0
	case ActionVector:
		return 3
	}
	return 1
}

// ActionDefinition describes one engine action for dispatch and analysis.
type ActionDefinition struct {
	Name          string
	ID            uint16
	MinParameters int
	Parameters    []ActionType
	Return        ActionType
}

// ParameterCells returns the flattened cell types of the first argc
// parameters: vectors expand to three floats, action arguments occupy no
// cells.
func (d *ActionDefinition) ParameterCells(argc int) []ActionType {
	var cells []ActionType
	for i := 0; i < argc && i < len(d.Parameters); i++ {
		switch p := d.Parameters[i]; p {
		case ActionAction:
		case ActionVector:
			cells = append(cells, ActionFloat, ActionFloat, ActionFloat)
		default:
			cells = append(cells, p)
		}
	}
	return cells
}

// ReturnCells returns the flattened cell types of the return value.
func (d *ActionDefinition) ReturnCells() []ActionType {
	switch d.Return {
	case ActionVoid, ActionAction:
		return nil
	case ActionVector:
		return []ActionType{ActionFloat, ActionFloat, ActionFloat}
	}
	return []ActionType{d.Return}
}
