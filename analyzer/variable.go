package analyzer

import (
	"fmt"

	"github.com/chazu/nwscript/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// Class is the storage role of a variable.
type Class uint8

const (
	ClassGlobal Class = iota
	ClassLocal
	ClassCallParameter
	ClassCallReturnValue
	ClassParameter
	ClassReturnValue
	ClassConstant
	ClassUnknown
)

var classNames = [...]string{
	ClassGlobal:          "global",
	ClassLocal:           "local",
	ClassCallParameter:   "callparam",
	ClassCallReturnValue: "callretval",
	ClassParameter:       "param",
	ClassReturnValue:     "retval",
	ClassConstant:        "const",
	ClassUnknown:         "unknown",
}

func (c Class) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("Class(%d)", c)
}

// VarFlag records facts the IR post-processor learned about a variable.
type VarFlag uint8

const (
	LocalToFlow VarFlag = 1 << iota
	SingleAssignment
	OptimizerEliminated
	WriteOnly
	MultiplyCreated
)

// TypeSavedBP is the type given to the cell SAVEBP pushes.
const TypeSavedBP bytecode.ActionType = 0xFF

func typeName(t bytecode.ActionType) string {
	if t == TypeSavedBP {
		return "savedbp"
	}
	return t.String()
}

// Constant is the literal behind a ClassConstant variable.
type Constant struct {
	Type   bytecode.ActionType
	Int    int32
	Float  float32
	String string
	Object uint32
}

// Variable is one stack slot materialized by IR generation. Its type starts
// unknown and is resolved through LinkTypes and SetType.
type Variable struct {
	id     int
	SP     int32
	class  Class
	flags  VarFlag
	merged *Variable
	value  *Constant
	types  *typeTable
}

// ID returns the variable's index in its analyzer.
func (v *Variable) ID() int { return v.id }

// Class returns the storage role.
func (v *Variable) Class() Class { return v.class }

// SetClass changes the storage role.
func (v *Variable) SetClass(c Class) { v.class = c }

// Flags returns the post-processing flags.
func (v *Variable) Flags() VarFlag { return v.flags }

// Has reports whether f is set.
func (v *Variable) Has(f VarFlag) bool { return v.flags&f != 0 }

// SetFlag sets f.
func (v *Variable) SetFlag(f VarFlag) { v.flags |= f }

// Value returns the literal of a constant, or nil.
func (v *Variable) Value() *Constant { return v.value }

// MergedWith returns the variable this one was folded into, or nil.
func (v *Variable) MergedWith() *Variable { return v.merged }

// SetMergedWith folds v into other.
func (v *Variable) SetMergedWith(other *Variable) { v.merged = other }

// Head follows the merge chain to the surviving variable.
func (v *Variable) Head() *Variable {
	h := v
	for h.merged != nil {
		h = h.merged
	}
	return h
}

// Type returns the resolved type, or ActionVoid while unknown.
func (v *Variable) Type() bytecode.ActionType {
	return v.types.typ[v.types.find(v.id)]
}

// SetType resolves v, and every variable linked to it, to t. Void is
// ignored. Giving a resolved variable a different type fails.
func (v *Variable) SetType(t bytecode.ActionType) error {
	if t == bytecode.ActionVoid {
		return nil
	}
	root := v.types.find(v.id)
	cur := v.types.typ[root]
	if cur != bytecode.ActionVoid && cur != t {
		return fmt.Errorf("%w: %s and %s", ErrVariableType, typeName(cur), typeName(t))
	}
	v.types.typ[root] = t
	return nil
}

// LinkTypes records that v and other hold the same type. If either is
// resolved the other takes its type; otherwise their equivalence classes
// are joined and resolve together.
func (v *Variable) LinkTypes(other *Variable) error {
	if t := v.Type(); t != bytecode.ActionVoid {
		return other.SetType(t)
	}
	if t := other.Type(); t != bytecode.ActionVoid {
		return v.SetType(t)
	}
	v.types.union(v.id, other.id)
	return nil
}

// Linked reports whether v and other share an unresolved equivalence class.
func (v *Variable) Linked(other *Variable) bool {
	return v.types == other.types && v.types.find(v.id) == v.types.find(other.id) &&
		v.Type() == bytecode.ActionVoid
}

// RequiresExplicitStorage reports whether v must keep its own slot through
// optimization.
func (v *Variable) RequiresExplicitStorage() bool {
	if v.Has(MultiplyCreated) {
		return true
	}
	switch v.class {
	case ClassGlobal, ClassParameter, ClassReturnValue:
		return true
	}
	return false
}

func (v *Variable) String() string {
	return fmt.Sprintf("v%d", v.id)
}

// ---------------------------------------------------------------------------
// Equivalence classes
// ---------------------------------------------------------------------------

// typeTable is a union-find over variable ids. Each root carries the type of
// its whole class.
type typeTable struct {
	parent []int
	rank   []uint8
	typ    []bytecode.ActionType
}

func (tt *typeTable) add(t bytecode.ActionType) int {
	id := len(tt.parent)
	tt.parent = append(tt.parent, id)
	tt.rank = append(tt.rank, 0)
	tt.typ = append(tt.typ, t)
	return id
}

func (tt *typeTable) find(id int) int {
	for tt.parent[id] != id {
		tt.parent[id] = tt.parent[tt.parent[id]]
		id = tt.parent[id]
	}
	return id
}

func (tt *typeTable) union(a, b int) {
	ra, rb := tt.find(a), tt.find(b)
	if ra == rb {
		return
	}
	if tt.rank[ra] < tt.rank[rb] {
		ra, rb = rb, ra
	}
	tt.parent[rb] = ra
	if tt.rank[ra] == tt.rank[rb] {
		tt.rank[ra]++
	}
	if tt.typ[ra] == bytecode.ActionVoid {
		tt.typ[ra] = tt.typ[rb]
	}
}

// newVariable allocates a variable in the analyzer's type table.
func (a *Analyzer) newVariable(sp int32, class Class, t bytecode.ActionType) *Variable {
	v := &Variable{SP: sp, class: class, types: &a.types}
	v.id = a.types.add(t)
	a.vars = append(a.vars, v)
	return v
}
