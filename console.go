package spuctrl

import (
	"fmt"
	"math"
)

// ConsoleWriter is the console-output collaborator spec.md §1 lists as out
// of scope for this core (writeChar/writeInteger/writeLong/writeDouble are
// supplied by the surrounding VM). mode for WriteInt/WriteLong follows
// spec.md §4.5's CONSOLE_WRITE_INT*/LONG* encoding: 0 decimal, 1 both, 2
// hex.
type ConsoleWriter interface {
	WriteChar(workerIdx int, ch uint32)
	WriteInt(workerIdx int, val uint32, mode int)
	WriteLong(workerIdx int, val uint64, mode int)
	WriteDouble(workerIdx int, bits uint64, postDecimalDigits uint32)
}

// stdoutConsole is the default ConsoleWriter used when a caller doesn't
// supply its own; it is a convenience, not a reproduction of the VM's own
// console primitives.
type stdoutConsole struct{}

func (stdoutConsole) WriteChar(workerIdx int, ch uint32) {
	fmt.Printf("%c", rune(ch))
}

func (stdoutConsole) WriteInt(workerIdx int, val uint32, mode int) {
	switch mode {
	case 0:
		fmt.Printf("%d", int32(val))
	case 2:
		fmt.Printf("%x", val)
	default:
		fmt.Printf("%d (0x%x)", int32(val), val)
	}
}

func (stdoutConsole) WriteLong(workerIdx int, val uint64, mode int) {
	switch mode {
	case 0:
		fmt.Printf("%d", int64(val))
	case 2:
		fmt.Printf("%x", val)
	default:
		fmt.Printf("%d (0x%x)", int64(val), val)
	}
}

func (stdoutConsole) WriteDouble(workerIdx int, bits uint64, postDecimalDigits uint32) {
	fmt.Printf("%.*f", postDecimalDigits, math.Float64frombits(bits))
}
