package devices

import (
	"fmt"
	"math"

	"github.com/axemt/mipsr3000emu/emu/bytesutil"
	"github.com/axemt/mipsr3000emu/emu/cpuerr"
)

func cpuerrUnknownMode(mode byte) error {
	return cpuerr.NewMappedDeviceError(fmt.Sprintf("Console: Unknown print mode %d", mode))
}

// Console print modes, selected by the byte written at lo+4.
const (
	ConsoleModeU32 = iota
	ConsoleModeF32
	ConsoleModeF64
	ConsoleModeString
)

// ConsoleRangeLo and ConsoleRangeHi bound the console's memory-mapped range.
const (
	ConsoleRangeLo = 0x80000000
	ConsoleRangeHi = 0x80000007
)

// Console is a write-only device: writes to the low 4 bytes of its range
// print formatted output per the current mode; writing the byte at +4 sets
// the mode. Reads always fail.
type Console struct {
	mode byte
}

// NewConsole builds a Console mapped at [0x80000000, 0x80000007].
func NewConsole() *Console {
	return &Console{}
}

func (c *Console) Range() (lo, hi uint32) { return ConsoleRangeLo, ConsoleRangeHi }

func (c *Console) Read(addr uint32, size int) ([]byte, error) {
	return nil, rangeErr("Console", addr)
}

func (c *Console) Write(addr uint32, size int, contents []byte) error {
	if addr+uint32(size)-1 <= ConsoleRangeLo+3 {
		traceWrite("console", addr, contents)
		switch c.mode {
		case ConsoleModeU32:
			fmt.Printf("[CON]:%d\n", bytesutil.FromWord(contents))
		case ConsoleModeF32:
			bits := bytesutil.FromWord(contents)
			fmt.Printf("[CON]:%g\n", math.Float32frombits(bits))
		case ConsoleModeF64:
			var bits uint64
			for _, b := range contents[:8] {
				bits = bits<<8 | uint64(b)
			}
			fmt.Printf("[CON]:%g\n", math.Float64frombits(bits))
		case ConsoleModeString:
			fmt.Printf("[CON]:%s\n", string(contents))
		default:
			return cpuerrUnknownMode(c.mode)
		}
		return nil
	}
	c.mode = contents[0]
	traceMode("console", c.mode)
	return nil
}
