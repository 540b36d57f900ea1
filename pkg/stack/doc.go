// Package stack implements the NWScript execution stack.
//
// The stack is addressed in bytes, one cell being CellSize bytes wide. Each
// cell has a Kind; strings, dynamic parameters and engine structures keep
// their payload in per-stack heaps indexed by a handle stored in the cell.
// Heap entries are always released in the reverse order of their creation,
// so removing cells from the top of the stack releases the matching heap
// tops.
//
// Besides the data cells a stack carries the base pointer used by the
// BP-relative instructions, a return address stack for subroutine calls and
// a list of guard zone watermarks that fence off the frames of callers
// during reentrant execution.
//
// All failures are reported as *Error values wrapping one of the Err*
// kinds, so callers can test them with errors.Is.
package stack
