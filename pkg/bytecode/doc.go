// Package bytecode describes the NWScript instruction set and compiled
// script programs.
//
// Every instruction is encoded as
//
//	<opcode:u8> <type:u8> <operands...>
//
// with big-endian multi-byte operands. Most opcodes have a fixed length;
// CONST (string form) and EQUAL/NEQUAL (structure form) are sized by their
// type code and operands.
//
// # Components
//
//   - Opcodes and type codes: the instruction and operand-type tables with
//     their mnemonics.
//
//   - Decoder: Decode maps the bytes at a program counter to an
//     Instruction with typed operand accessors.
//
//   - Program: a compiled script (NCS file body), its entry fixup state and
//     cached analysis results. Programs are shared by pointer between the
//     virtual machine and the analyzer.
//
//   - Assembler: builds small programs by hand for tests and tools.
//
//   - Action definitions: the engine action table format shared by the host,
//     the virtual machine and the analyzer.
//
// # File format
//
// An NCS file starts with the signature "NCS V1.0" followed by a T
// instruction carrying the total file size. Program counters are relative to
// the first byte after this 13 byte header.
package bytecode
