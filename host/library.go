package host

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/chazu/nwscript/pkg/stack"
	"github.com/chazu/nwscript/vm"
)

// library maps action names to their implementations. Handlers pop their
// arguments, first parameter first, and push the return value.
var library = map[string]handler{
	"Random":             actRandom,
	"PrintString":        actPrintString,
	"PrintFloat":         actPrintFloat,
	"FloatToString":      actFloatToString,
	"PrintInteger":       actPrintInteger,
	"PrintObject":        actPrintObject,
	"AssignCommand":      actAssignCommand,
	"DelayCommand":       actDelayCommand,
	"ExecuteScript":      actExecuteScript,
	"GetIsObjectValid":   actGetIsObjectValid,
	"GetStringLength":    actGetStringLength,
	"GetStringUpperCase": actGetStringUpperCase,
	"GetStringLowerCase": actGetStringLowerCase,
	"GetStringRight":     actGetStringRight,
	"GetStringLeft":      actGetStringLeft,
	"InsertString":       actInsertString,
	"GetSubString":       actGetSubString,
	"FindSubString":      actFindSubString,
	"fabs":               actFabs,
	"pow":                actPow,
	"sqrt":               actSqrt,
	"abs":                actAbs,
	"EffectDamage":       actEffectDamage,
	"IntToString":        actIntToString,
	"VectorMagnitude":    actVectorMagnitude,
	"PrintVector":        actPrintVector,
	"Vector":             actVector,
	"IntToFloat":         actIntToFloat,
	"FloatToInt":         actFloatToInt,
	"StringToInt":        actStringToInt,
	"StringToFloat":      actStringToFloat,
	"ObjectToString":     actObjectToString,
	"IntToHexString":     actIntToHexString,
}

// Script strings are Windows-1252 bytes.

func decodeText(s string) string {
	out, err := charmap.Windows1252.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

func encodeText(s string) string {
	out, err := charmap.Windows1252.NewEncoder().String(s)
	if err != nil {
		return s
	}
	return out
}

func (h *Host) printf(format string, args ...any) {
	fmt.Fprint(h.out, decodeText(fmt.Sprintf(format, args...)))
}

// optInt pops an optional int parameter.
func optInt(s *stack.Stack, argc, index int, def int32) (int32, error) {
	if argc > index {
		return s.PopInt()
	}
	return def, nil
}

func clamp(v, lo, hi int32) int32 { return min(max(v, lo), hi) }

// ============ Output ============

func actPrintString(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	str, err := s.PopString()
	if err != nil {
		return err
	}
	h.printf("PrintString: %s\n", str)
	return nil
}

// floatFormat pops the optional width and decimals of PrintFloat and
// FloatToString.
func floatFormat(s *stack.Stack, argc int) (f float32, width, decimals int32, err error) {
	if f, err = s.PopFloat(); err != nil {
		return
	}
	if width, err = optInt(s, argc, 1, 18); err != nil {
		return
	}
	if decimals, err = optInt(s, argc, 2, 9); err != nil {
		return
	}
	return f, clamp(width, 0, 18), clamp(decimals, 0, 9), nil
}

func actPrintFloat(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	f, width, decimals, err := floatFormat(s, argc)
	if err != nil {
		return err
	}
	h.printf("PrintFloat: %*.*f\n", width, decimals, f)
	return nil
}

func actFloatToString(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	f, width, decimals, err := floatFormat(s, argc)
	if err != nil {
		return err
	}
	return s.PushString(fmt.Sprintf("%*.*f", width, decimals, f))
}

func actPrintInteger(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	n, err := s.PopInt()
	if err != nil {
		return err
	}
	h.printf("PrintInteger: %d\n", n)
	return nil
}

func actPrintObject(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	id, err := s.PopObject()
	if err != nil {
		return err
	}
	h.printf("PrintObject: Object %08X\n", id)
	return nil
}

func actPrintVector(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	vec, err := s.PopVector()
	if err != nil {
		return err
	}
	prepend, err := optInt(s, argc, 1, 0)
	if err != nil {
		return err
	}
	prefix := ""
	if prepend != 0 {
		prefix = "PRINTVECTOR: "
	}
	h.printf("%s[%.6g, %.6g, %.6g]\n", prefix, vec[0], vec[1], vec[2])
	return nil
}

// ============ Actions and Situations ============

func actAssignCommand(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	object, err := s.PopObject()
	if err != nil {
		return err
	}
	return h.deferSituation(v, object, 0)
}

func actDelayCommand(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	seconds, err := s.PopFloat()
	if err != nil {
		return err
	}
	due := time.Duration(seconds*1000) * time.Millisecond
	return h.deferSituation(v, v.CurrentActionObject(), due)
}

func actExecuteScript(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	name, err := s.PopString()
	if err != nil {
		return err
	}
	target, err := s.PopObject()
	if err != nil {
		return err
	}
	_, _ = h.RunScript(name, target, nil, 0, 0)
	return nil
}

// ============ Objects ============

func actGetIsObjectValid(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	id, err := s.PopObject()
	if err != nil {
		return err
	}
	return s.PushInt(boolInt(id != h.invalid))
}

func actObjectToString(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	id, err := s.PopObject()
	if err != nil {
		return err
	}
	return s.PushString(fmt.Sprintf("%08x", id))
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// ============ Conversions ============

func actIntToString(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	n, err := s.PopInt()
	if err != nil {
		return err
	}
	return s.PushString(stack.FormatInt(n))
}

func actIntToHexString(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	n, err := s.PopInt()
	if err != nil {
		return err
	}
	return s.PushString(fmt.Sprintf("0x%08x", uint32(n)))
}

func actIntToFloat(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	n, err := s.PopInt()
	if err != nil {
		return err
	}
	return s.PushFloat(float32(n))
}

func actFloatToInt(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	f, err := s.PopFloat()
	if err != nil {
		return err
	}
	if math.IsNaN(float64(f)) || f >= math.MaxInt32 || f <= math.MinInt32 {
		return s.PushInt(math.MinInt32)
	}
	return s.PushInt(int32(f))
}

func actStringToInt(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	str, err := s.PopString()
	if err != nil {
		return err
	}
	return s.PushInt(stack.ParseInt(str))
}

func actStringToFloat(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	str, err := s.PopString()
	if err != nil {
		return err
	}
	return s.PushFloat(stack.ParseFloat(str))
}

// ============ Strings ============

func actGetStringLength(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	str, err := s.PopString()
	if err != nil {
		return err
	}
	return s.PushInt(int32(len(str)))
}

// mapASCII changes the case of ASCII letters only; other bytes are code
// page characters and pass through.
func mapASCII(str string, upper bool) string {
	b := []byte(str)
	for i, c := range b {
		switch {
		case upper && c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
		case !upper && c >= 'A' && c <= 'Z':
			b[i] = c - 'A' + 'a'
		}
	}
	return string(b)
}

func actGetStringUpperCase(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	str, err := s.PopString()
	if err != nil {
		return err
	}
	return s.PushString(mapASCII(str, true))
}

func actGetStringLowerCase(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	str, err := s.PopString()
	if err != nil {
		return err
	}
	return s.PushString(mapASCII(str, false))
}

func popStringInt(s *stack.Stack) (string, int32, error) {
	str, err := s.PopString()
	if err != nil {
		return "", 0, err
	}
	n, err := s.PopInt()
	return str, n, err
}

func actGetStringRight(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	str, n, err := popStringInt(s)
	if err != nil {
		return err
	}
	if n <= 0 {
		return s.PushString("")
	}
	n = min(n, int32(len(str)))
	return s.PushString(str[len(str)-int(n):])
}

func actGetStringLeft(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	str, n, err := popStringInt(s)
	if err != nil {
		return err
	}
	if n <= 0 {
		return s.PushString("")
	}
	n = min(n, int32(len(str)))
	return s.PushString(str[:n])
}

func actInsertString(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	dest, err := s.PopString()
	if err != nil {
		return err
	}
	str, err := s.PopString()
	if err != nil {
		return err
	}
	pos, err := s.PopInt()
	if err != nil {
		return err
	}
	pos = clamp(pos, 0, int32(len(dest)))
	return s.PushString(dest[:pos] + str + dest[pos:])
}

// actGetSubString takes a negative count to mean the rest of the string;
// a count running past the end yields "".
func actGetSubString(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	str, start, err := popStringInt(s)
	if err != nil {
		return err
	}
	count, err := s.PopInt()
	if err != nil {
		return err
	}
	size := int64(len(str))
	if start < 0 || int64(start) > size {
		return s.PushString("")
	}
	n := int64(count)
	if n < 0 {
		n = size - int64(start)
	}
	if n <= 0 || int64(start)+n > size {
		return s.PushString("")
	}
	return s.PushString(str[start : int64(start)+n])
}

func actFindSubString(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	str, err := s.PopString()
	if err != nil {
		return err
	}
	sub, err := s.PopString()
	if err != nil {
		return err
	}
	start, err := optInt(s, argc, 2, 0)
	if err != nil {
		return err
	}
	if start < 0 || int(start) >= len(str) {
		return s.PushInt(-1)
	}
	i := strings.Index(str[start:], sub)
	if i < 0 {
		return s.PushInt(-1)
	}
	return s.PushInt(start + int32(i))
}

// ============ Math ============

func actRandom(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	n, err := s.PopInt()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.PushInt(0)
	}
	r := int32(h.rng.Uint32() >> 2)
	return s.PushInt(r % n)
}

func actAbs(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	n, err := s.PopInt()
	if err != nil {
		return err
	}
	if n < 0 {
		n = -n
	}
	return s.PushInt(n)
}

func actFabs(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	f, err := s.PopFloat()
	if err != nil {
		return err
	}
	return s.PushFloat(float32(math.Abs(float64(f))))
}

func actSqrt(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	f, err := s.PopFloat()
	if err != nil {
		return err
	}
	if f < 0 {
		return s.PushFloat(0)
	}
	return s.PushFloat(float32(math.Sqrt(float64(f))))
}

func actPow(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	base, err := s.PopFloat()
	if err != nil {
		return err
	}
	exp, err := s.PopFloat()
	if err != nil {
		return err
	}
	if base == 0 || exp < 0 {
		return s.PushFloat(0)
	}
	return s.PushFloat(float32(math.Pow(float64(base), float64(exp))))
}

func actVector(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	var vec [3]float32
	for i := 0; i < argc && i < 3; i++ {
		f, err := s.PopFloat()
		if err != nil {
			return err
		}
		vec[i] = f
	}
	return s.PushVector(vec)
}

func actVectorMagnitude(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	vec, err := s.PopVector()
	if err != nil {
		return err
	}
	x, y, z := float64(vec[0]), float64(vec[1]), float64(vec[2])
	return s.PushFloat(float32(math.Sqrt(x*x + y*y + z*z)))
}

// ============ Effects ============

func actEffectDamage(h *Host, v *vm.VM, s *stack.Stack, argc int) error {
	amount, err := s.PopInt()
	if err != nil {
		return err
	}
	damageType, err := optInt(s, argc, 1, 0)
	if err != nil {
		return err
	}
	power, err := optInt(s, argc, 2, 0)
	if err != nil {
		return err
	}
	return s.PushEngine(&Effect{Kind: "damage", Amount: amount, DamageType: damageType, Power: power})
}
