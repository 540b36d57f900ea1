package host

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chazu/nwscript/pkg/bytecode"
)

// Action ordinals of the built-in library, numbered as in nwscript.nss.
const (
	ActRandom             = 0
	ActPrintString        = 1
	ActPrintFloat         = 2
	ActFloatToString      = 3
	ActPrintInteger       = 4
	ActPrintObject        = 5
	ActAssignCommand      = 6
	ActDelayCommand       = 7
	ActExecuteScript      = 8
	ActGetIsObjectValid   = 42
	ActGetStringLength    = 59
	ActGetStringUpperCase = 60
	ActGetStringLowerCase = 61
	ActGetStringRight     = 62
	ActGetStringLeft      = 63
	ActInsertString       = 64
	ActGetSubString       = 65
	ActFindSubString      = 66
	ActFabs               = 67
	ActPow                = 75
	ActSqrt               = 76
	ActAbs                = 77
	ActEffectDamage       = 79
	ActIntToString        = 92
	ActVectorMagnitude    = 104
	ActPrintVector        = 141
	ActVector             = 142
	ActIntToFloat         = 230
	ActFloatToInt         = 231
	ActStringToInt        = 232
	ActStringToFloat      = 233
	ActObjectToString     = 272
	ActIntToHexString     = 294
)

// DefinitionFile is the YAML layout of an action definition file.
type DefinitionFile struct {
	Actions []DefinitionEntry `yaml:"actions"`
}

// DefinitionEntry is one action in a definition file.
type DefinitionEntry struct {
	Name       string   `yaml:"name"`
	ID         uint16   `yaml:"id"`
	MinParams  *int     `yaml:"min_params,omitempty"`
	Parameters []string `yaml:"params,omitempty"`
	Return     string   `yaml:"returns,omitempty"`
}

func def(name string, id uint16, ret bytecode.ActionType, minParams int, params ...bytecode.ActionType) bytecode.ActionDefinition {
	return bytecode.ActionDefinition{Name: name, ID: id, MinParameters: minParams, Parameters: params, Return: ret}
}

const (
	tVoid   = bytecode.ActionVoid
	tInt    = bytecode.ActionInt
	tFloat  = bytecode.ActionFloat
	tString = bytecode.ActionString
	tObject = bytecode.ActionObject
	tVector = bytecode.ActionVector
	tAction = bytecode.ActionAction
	tEffect = bytecode.ActionEffect
)

// BuiltinDefinitions returns the definitions of the built-in action library.
func BuiltinDefinitions() []bytecode.ActionDefinition {
	return []bytecode.ActionDefinition{
		def("Random", ActRandom, tInt, 1, tInt),
		def("PrintString", ActPrintString, tVoid, 1, tString),
		def("PrintFloat", ActPrintFloat, tVoid, 1, tFloat, tInt, tInt),
		def("FloatToString", ActFloatToString, tString, 1, tFloat, tInt, tInt),
		def("PrintInteger", ActPrintInteger, tVoid, 1, tInt),
		def("PrintObject", ActPrintObject, tVoid, 1, tObject),
		def("AssignCommand", ActAssignCommand, tVoid, 2, tObject, tAction),
		def("DelayCommand", ActDelayCommand, tVoid, 2, tFloat, tAction),
		def("ExecuteScript", ActExecuteScript, tVoid, 2, tString, tObject),
		def("GetIsObjectValid", ActGetIsObjectValid, tInt, 1, tObject),
		def("GetStringLength", ActGetStringLength, tInt, 1, tString),
		def("GetStringUpperCase", ActGetStringUpperCase, tString, 1, tString),
		def("GetStringLowerCase", ActGetStringLowerCase, tString, 1, tString),
		def("GetStringRight", ActGetStringRight, tString, 2, tString, tInt),
		def("GetStringLeft", ActGetStringLeft, tString, 2, tString, tInt),
		def("InsertString", ActInsertString, tString, 3, tString, tString, tInt),
		def("GetSubString", ActGetSubString, tString, 3, tString, tInt, tInt),
		def("FindSubString", ActFindSubString, tInt, 2, tString, tString, tInt),
		def("fabs", ActFabs, tFloat, 1, tFloat),
		def("pow", ActPow, tFloat, 2, tFloat, tFloat),
		def("sqrt", ActSqrt, tFloat, 1, tFloat),
		def("abs", ActAbs, tInt, 1, tInt),
		def("EffectDamage", ActEffectDamage, tEffect, 1, tInt, tInt, tInt),
		def("IntToString", ActIntToString, tString, 1, tInt),
		def("VectorMagnitude", ActVectorMagnitude, tFloat, 1, tVector),
		def("PrintVector", ActPrintVector, tVoid, 1, tVector, tInt),
		def("Vector", ActVector, tVector, 0, tFloat, tFloat, tFloat),
		def("IntToFloat", ActIntToFloat, tFloat, 1, tInt),
		def("FloatToInt", ActFloatToInt, tInt, 1, tFloat),
		def("StringToInt", ActStringToInt, tInt, 1, tString),
		def("StringToFloat", ActStringToFloat, tFloat, 1, tString),
		def("ObjectToString", ActObjectToString, tString, 1, tObject),
		def("IntToHexString", ActIntToHexString, tString, 1, tInt),
	}
}

// LoadDefinitions reads an action definition file.
func LoadDefinitions(path string) ([]bytecode.ActionDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading action definitions %s: %w", path, err)
	}
	return ParseDefinitions(data, path)
}

// ParseDefinitions parses action definition YAML. The path argument is used
// only for error messages.
func ParseDefinitions(data []byte, path string) ([]bytecode.ActionDefinition, error) {
	var file DefinitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(file.Actions) == 0 {
		return nil, fmt.Errorf("%s: no actions defined", path)
	}

	seen := make(map[uint16]string)
	defs := make([]bytecode.ActionDefinition, 0, len(file.Actions))
	for i, e := range file.Actions {
		if e.Name == "" {
			return nil, fmt.Errorf("%s: actions[%d]: name is required", path, i)
		}
		if prev, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("%s: actions[%d]: id %d already used by %s", path, i, e.ID, prev)
		}
		seen[e.ID] = e.Name

		d := bytecode.ActionDefinition{Name: e.Name, ID: e.ID, MinParameters: len(e.Parameters)}
		for _, p := range e.Parameters {
			t, err := bytecode.ParseActionType(p)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", path, e.Name, err)
			}
			d.Parameters = append(d.Parameters, t)
		}
		if e.Return != "" {
			t, err := bytecode.ParseActionType(e.Return)
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", path, e.Name, err)
			}
			d.Return = t
		}
		if e.MinParams != nil {
			if *e.MinParams < 0 || *e.MinParams > len(d.Parameters) {
				return nil, fmt.Errorf("%s: %s: min_params %d out of range", path, e.Name, *e.MinParams)
			}
			d.MinParameters = *e.MinParams
		}
		defs = append(defs, d)
	}
	return defs, nil
}
