package vm

import "github.com/chazu/nwscript/pkg/stack"

// ActionHandler is the capability a host supplies to run engine actions.
//
// ExecuteAction pops argc arguments from s and pushes the action's return
// value, if any. The handler may re-enter the VM through Execute; nested
// invocations share the VM's recursion and instruction limits.
type ActionHandler interface {
	ExecuteAction(vm *VM, s *stack.Stack, id uint16, argc int) error

	// CreateEngineStructure returns a default value of the given engine type,
	// or nil if the type is not supported.
	CreateEngineStructure(ordinal uint8) stack.EngineStructure

	// ExecuteActionFromJIT runs an action against the host's own parameter
	// marshaling. It reports false on failure.
	ExecuteActionFromJIT(id uint16, argc int) bool

	// ExecuteActionFromJITFast runs an action whose scalar arguments and
	// results are described by cmds. params supplies one entry per command:
	// a value for each push, a pointer for each pop.
	ExecuteActionFromJITFast(id uint16, argc int, cmds []FastCommand, params []any) bool
}

// FastCommand is one step of a fast action call.
type FastCommand uint8

const (
	FastPushInt FastCommand = iota
	FastPopInt
	FastPushFloat
	FastPopFloat
	FastPushObject
	FastPopObject
	FastPushString
	FastPopString
	FastCall
)

var fastCommandNames = [...]string{
	FastPushInt:    "PUSHINT",
	FastPopInt:     "POPINT",
	FastPushFloat:  "PUSHFLOAT",
	FastPopFloat:   "POPFLOAT",
	FastPushObject: "PUSHOBJECTID",
	FastPopObject:  "POPOBJECTID",
	FastPushString: "PUSHSTRING",
	FastPopString:  "POPSTRING",
	FastCall:       "CALL",
}

func (c FastCommand) String() string {
	if int(c) < len(fastCommandNames) {
		return fastCommandNames[c]
	}
	return "UNKNOWN"
}

// RunFastCommands interprets a fast command list against s, calling call
// at each FastCall. Push commands take their value from params, pop
// commands store through the pointer in params. Hosts use it to implement
// ExecuteActionFromJITFast on top of their stack-based handlers.
func RunFastCommands(s *stack.Stack, cmds []FastCommand, params []any, call func() error) error {
	if len(params) != len(cmds) {
		return ErrEntryParameters
	}
	for i, cmd := range cmds {
		var err error
		switch cmd {
		case FastPushInt:
			v, ok := params[i].(int32)
			if !ok {
				return stack.ErrTypeMismatch
			}
			err = s.PushInt(v)
		case FastPopInt:
			p, ok := params[i].(*int32)
			if !ok {
				return stack.ErrTypeMismatch
			}
			*p, err = s.PopInt()
		case FastPushFloat:
			v, ok := params[i].(float32)
			if !ok {
				return stack.ErrTypeMismatch
			}
			err = s.PushFloat(v)
		case FastPopFloat:
			p, ok := params[i].(*float32)
			if !ok {
				return stack.ErrTypeMismatch
			}
			*p, err = s.PopFloat()
		case FastPushObject:
			v, ok := params[i].(uint32)
			if !ok {
				return stack.ErrTypeMismatch
			}
			err = s.PushObject(v)
		case FastPopObject:
			p, ok := params[i].(*uint32)
			if !ok {
				return stack.ErrTypeMismatch
			}
			*p, err = s.PopObject()
		case FastPushString:
			v, ok := params[i].(string)
			if !ok {
				return stack.ErrTypeMismatch
			}
			err = s.PushString(v)
		case FastPopString:
			p, ok := params[i].(*string)
			if !ok {
				return stack.ErrTypeMismatch
			}
			*p, err = s.PopString()
		case FastCall:
			err = call()
		default:
			return ErrUnsupportedInstruction
		}
		if err != nil {
			return err
		}
	}
	return nil
}
