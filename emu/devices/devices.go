// Package devices implements the memory-mapped peripherals: a write-only
// console, a read-only keyboard and an asynchronous clock interruptor.
package devices

import (
	"log/slog"
	"strings"

	"github.com/axemt/mipsr3000emu/emu/cpuerr"
	hexfmt "github.com/axemt/mipsr3000emu/util/hex"
)

// MemoryMapped is the contract memory.Memory dispatches to for addresses
// falling inside a device's mapped range. The full address and access size
// are passed through; the device, not the byte store, is authoritative for
// that range.
type MemoryMapped interface {
	// Read returns `size` bytes for a load at address addr.
	Read(addr uint32, size int) ([]byte, error)
	// Write accepts a store of `size` bytes at address addr.
	Write(addr uint32, size int, contents []byte) error
	// Range returns the inclusive [lo, hi] address range this device occupies.
	Range() (lo, hi uint32)
}

func rangeErr(device string, addr uint32) error {
	var b strings.Builder
	hexfmt.FormatWord(&b, []uint32{addr})
	return cpuerr.NewMappedDeviceError(
		"Tried to access non-supported address 0x" + strings.TrimSpace(b.String()) + " in device '" + device + "'")
}

// traceWrite logs a device write at Debug level, formatting the payload as
// whole bytes and, for halfword-sized writes, as a packed half too.
func traceWrite(device string, addr uint32, contents []byte) {
	var b strings.Builder
	hexfmt.FormatBytes(&b, true, contents)
	if len(contents) == 2 {
		b.WriteString("half=")
		hexfmt.FormatHalf(&b, true, []uint16{uint16(contents[0])<<8 | uint16(contents[1])})
	}
	slog.Debug(device+" write", "addr", addr, "trace", strings.TrimSpace(b.String()))
}

// traceMode logs a device mode-select byte at Debug level, both as a full
// byte and as its low nibble.
func traceMode(device string, mode byte) {
	var b strings.Builder
	hexfmt.FormatByte(&b, mode)
	b.WriteString(" lo=")
	hexfmt.FormatDigit(&b, mode&0xf)
	slog.Debug(device+" mode set", "trace", b.String())
}
