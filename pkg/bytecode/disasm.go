package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	var sb strings.Builder

	if p.Name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", p.Name))
	}
	sb.WriteString(fmt.Sprintf("; %d bytes, patch state %s\n", len(p.Code), p.PatchState()))
	if as := p.AnalyzeState(); as != nil {
		sb.WriteString(fmt.Sprintf("; entry: %d parameter cells, %d return cells", as.ParameterCells, as.ReturnCells))
		if len(as.ArgumentTypes) > 0 {
			names := make([]string, len(as.ArgumentTypes))
			for i, t := range as.ArgumentTypes {
				names[i] = t.String()
			}
			sb.WriteString(" (" + strings.Join(names, ", ") + ")")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	pc := uint32(0)
	for pc < p.Len() {
		if name, ok := p.Symbol(pc, false); ok {
			sb.WriteString(fmt.Sprintf("%s:\n", name))
		}
		ins, err := Decode(p.Code, pc)
		if err != nil {
			sb.WriteString(fmt.Sprintf("%08X  ; %v\n", pc, err))
			break
		}
		sb.WriteString(fmt.Sprintf("%08X  %02X %02X  %s\n", pc, byte(ins.Op), byte(ins.Type), ins.String()))
		pc = ins.Next()
	}

	return sb.String()
}
