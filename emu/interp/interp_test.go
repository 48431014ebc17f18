package interp

import (
	"testing"

	"github.com/axemt/mipsr3000emu/emu/arch"
	"github.com/axemt/mipsr3000emu/emu/cpuerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCPU(t *testing.T) *CPU {
	t.Helper()
	return New(0)
}

func TestUnprivilegedRFEFails(t *testing.T) {
	c := newTestCPU(t)
	require.NoError(t, c.Mem.Store(0x0FFF, 4, []byte{0x42, 0x00, 0x00, 0x01}))
	c.PC = 0x0FFF
	_, err := c.Step()
	var execErr *cpuerr.ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestUnprivilegedHLTFails(t *testing.T) {
	c := newTestCPU(t)
	require.NoError(t, c.Mem.Store(0x0FFF, 4, []byte{0x42, 0x00, 0x00, 0x10}))
	c.PC = 0x0FFF
	_, err := c.Step()
	var execErr *cpuerr.ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestBackwardsJumpThroughHalt(t *testing.T) {
	c := newTestCPU(t)
	c.Mem.SetPrivileged(true)
	c.setFlag(arch.ModeFlag)
	require.NoError(t, c.Mem.Store(0x10, 4, []byte{0x42, 0x00, 0x00, 0x10})) // hlt
	require.NoError(t, c.Mem.Store(0x14, 4, []byte{0x08, 0x00, 0x00, 0x01})) // j 0x4
	c.PC = 0x10

	done, err := c.Step()
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, uint64(1), c.Stats.Instructions)
}

func TestSyscallExit(t *testing.T) {
	c := newTestCPU(t)
	c.Mem.SetPrivileged(true)
	c.setFlag(arch.ModeFlag)
	// addiu V0, ZERO, 10
	require.NoError(t, c.Mem.Store(0xFF0F8, 4, []byte{0x20, 0x02, 0x00, 0x0A}))
	// syscall
	require.NoError(t, c.Mem.Store(0xFF0FC, 4, []byte{0x68, 0x00, 0x00, 0x00}))
	c.PC = 0xFF0F8
	c.clearFlag(arch.ModeFlag)

	for i := 0; i < 200; i++ {
		done, err := c.Step()
		require.NoError(t, err)
		if done {
			assert.True(t, c.flagSet(arch.FinFlag))
			return
		}
	}
	t.Fatal("program did not terminate within step budget")
}

func TestRegZeroAlwaysZero(t *testing.T) {
	c := newTestCPU(t)
	// addiu $0, $0, 5 -- should be silently dropped
	require.NoError(t, c.Mem.Store(0x400000, 4, []byte{0x20, 0x00, 0x00, 0x05}))
	c.PC = 0x400000
	_, err := c.Step()
	require.NoError(t, err)
	v, err := c.reg(arch.ZERO)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v)
}

func TestAddiuWritesRegister(t *testing.T) {
	c := newTestCPU(t)
	// addiu $t0, $0, 42
	code := uint32(arch.OpADDIU)<<26 | uint32(arch.ZERO)<<21 | uint32(arch.T0)<<16 | 42
	require.NoError(t, c.Mem.Store(0x400000, 4, toBE(code)))
	c.PC = 0x400000
	_, err := c.Step()
	require.NoError(t, err)
	v, err := c.reg(arch.T0)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)
}

func toBE(w uint32) []byte {
	return []byte{byte(w >> 24), byte(w >> 16), byte(w >> 8), byte(w)}
}
