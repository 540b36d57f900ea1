package analyzer

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/chazu/nwscript/pkg/bytecode"
)

// ============ Type Equivalence Tests ============

func TestLinkTypesPropagates(t *testing.T) {
	a := New(nil)
	x := a.newVariable(0, ClassLocal, bytecode.ActionVoid)
	y := a.newVariable(4, ClassLocal, bytecode.ActionVoid)
	z := a.newVariable(8, ClassLocal, bytecode.ActionVoid)

	if err := x.LinkTypes(y); err != nil {
		t.Fatal(err)
	}
	if err := y.LinkTypes(z); err != nil {
		t.Fatal(err)
	}
	if !x.Linked(z) {
		t.Error("x and z should share a class")
	}
	if err := z.SetType(bytecode.ActionObject); err != nil {
		t.Fatal(err)
	}
	for _, v := range []*Variable{x, y, z} {
		if v.Type() != bytecode.ActionObject {
			t.Errorf("%s type = %s, want object", v, v.Type())
		}
	}
}

func TestLinkTypesResolvedSide(t *testing.T) {
	a := New(nil)
	x := a.newVariable(0, ClassLocal, bytecode.ActionString)
	y := a.newVariable(4, ClassLocal, bytecode.ActionVoid)
	if err := y.LinkTypes(x); err != nil {
		t.Fatal(err)
	}
	if y.Type() != bytecode.ActionString {
		t.Errorf("y type = %s, want string", y.Type())
	}
}

func TestSetTypeConflict(t *testing.T) {
	a := New(nil)
	x := a.newVariable(0, ClassLocal, bytecode.ActionInt)
	if err := x.SetType(bytecode.ActionInt); err != nil {
		t.Errorf("same type: %v", err)
	}
	if err := x.SetType(bytecode.ActionVoid); err != nil {
		t.Errorf("void is ignored: %v", err)
	}
	if err := x.SetType(bytecode.ActionFloat); !errors.Is(err, ErrVariableType) {
		t.Errorf("expected ErrVariableType, got %v", err)
	}
}

func TestMergeChain(t *testing.T) {
	a := New(nil)
	x := a.newVariable(0, ClassLocal, bytecode.ActionInt)
	y := a.newVariable(4, ClassLocal, bytecode.ActionInt)
	z := a.newVariable(8, ClassGlobal, bytecode.ActionInt)
	x.SetMergedWith(y)
	y.SetMergedWith(z)
	if x.Head() != z {
		t.Errorf("head of x = %s, want %s", x.Head(), z)
	}
	if !z.RequiresExplicitStorage() || x.RequiresExplicitStorage() {
		t.Error("only the global requires explicit storage")
	}
}

func TestPropertyLinkedClassesAgree(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("setting one member types the whole class", prop.ForAll(
		func(links []int, pick int, typ uint8) bool {
			const n = 16
			a := New(nil)
			vars := make([]*Variable, n)
			for i := range vars {
				vars[i] = a.newVariable(int32(i*4), ClassLocal, bytecode.ActionVoid)
			}
			// Chain every linked pair; all variables stay unresolved.
			for i := 0; i+1 < len(links); i += 2 {
				if vars[links[i]].LinkTypes(vars[links[i+1]]) != nil {
					return false
				}
			}
			want := bytecode.ActionInt + bytecode.ActionType(typ%4)
			if vars[pick].SetType(want) != nil {
				return false
			}
			for _, v := range vars {
				linked := a.types.find(v.id) == a.types.find(vars[pick].id)
				if linked != (v.Type() == want) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 15)),
		gen.IntRange(0, 15),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
