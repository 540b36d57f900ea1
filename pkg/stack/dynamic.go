package stack

import (
	"math"
	"strconv"
	"strings"
)

// Dynamic cells hold text pushed by PushDynamicParameter. Their type is only
// known once an instruction reads them, at which point the text is
// converted. The conversions follow the C runtime: atoi and atof accept a
// leading numeric prefix, object ids must be a complete base-10 number.

// FormatInt renders an int the way dynamic cells store it.
func FormatInt(v int32) string { return strconv.FormatInt(int64(v), 10) }

// FormatFloat renders a float the way dynamic cells store it (printf %g).
func FormatFloat(v float32) string {
	f := float64(v)
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	return strconv.FormatFloat(f, 'g', 6, 64)
}

// FormatObject renders an object id as its signed decimal value.
func FormatObject(v uint32) string { return strconv.FormatInt(int64(int32(v)), 10) }

// ParseInt converts text with atoi semantics: optional leading space and
// sign, then as many digits as are present. Out of range values saturate.
func ParseInt(text string) int32 {
	s := strings.TrimLeft(text, " \t\n\v\f\r")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	var n int64
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int64(s[i]-'0')
		if n > math.MaxInt32+1 {
			n = math.MaxInt32 + 1
		}
	}
	if neg {
		n = -n
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return int32(n)
}

// ParseFloat converts text with atof semantics, reading the longest numeric
// prefix and returning zero if there is none.
func ParseFloat(text string) float32 {
	s := strings.TrimLeft(text, " \t\n\v\f\r")
	end := floatPrefix(s)
	if end == 0 {
		return 0
	}
	f, err := strconv.ParseFloat(s[:end], 32)
	if err != nil && f == 0 {
		return 0
	}
	return float32(f)
}

// floatPrefix returns the length of the longest decimal floating point
// literal at the start of s.
func floatPrefix(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		k := j
		for k < len(s) && s[k] >= '0' && s[k] <= '9' {
			k++
		}
		if k > j {
			i = k
		}
	}
	return i
}

// ParseObject converts text to an object id. Empty text, text that is not
// entirely a base-10 number, or no digits at all yield invalid.
func ParseObject(text string, invalid uint32) uint32 {
	if text == "" {
		return invalid
	}
	s := strings.TrimLeft(text, " \t\n\v\f\r")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	if s == "" {
		return invalid
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return invalid
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		n = math.MaxUint64
	}
	if neg {
		n = -n
	}
	return uint32(n)
}

// dynamic heap access; the cell at i must be string backed.

func (s *Stack) dynamicText(op string, i int) (string, error) {
	h := s.cells[i].handle()
	if h >= len(s.strings) {
		return "", fail(op, ErrInvalidHandle, "illegal dynamic string stack handle")
	}
	return s.strings[h], nil
}

func (s *Stack) setDynamicText(op string, i int, text string) error {
	h := s.cells[i].handle()
	if h >= len(s.strings) {
		return fail(op, ErrInvalidHandle, "illegal dynamic string stack handle")
	}
	s.strings[h] = text
	return nil
}

func (s *Stack) dynamicInt(op string, i int) (int32, error) {
	t, err := s.dynamicText(op, i)
	return ParseInt(t), err
}

func (s *Stack) dynamicFloat(op string, i int) (float32, error) {
	t, err := s.dynamicText(op, i)
	return ParseFloat(t), err
}

func (s *Stack) dynamicObject(op string, i int) (uint32, error) {
	t, err := s.dynamicText(op, i)
	if err != nil {
		return 0, err
	}
	return ParseObject(t, s.invalid), nil
}
