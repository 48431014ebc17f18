package registers

import (
	"testing"

	"github.com/axemt/mipsr3000emu/emu/arch"
	"github.com/axemt/mipsr3000emu/emu/cpuerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnedAccess(t *testing.T) {
	r := New()
	id := 0xB00B1E5
	reg := uint32(arch.T4)
	contents := uint32(2022)

	_, err := r.LockForWrite(reg, id)
	require.NoError(t, err)

	err = r.WriteAndUnlock(reg, contents, id)
	require.NoError(t, err)

	got, err := r.Fetch(reg)
	require.NoError(t, err)
	assert.Equal(t, contents, got.Value)
}

func TestLockContentionReturnsLockedWithHandle(t *testing.T) {
	r := New()
	id := 0xAB00BA
	reg := uint32(arch.S0)

	_, err := r.LockForWrite(reg, id)
	require.NoError(t, err)

	_, err = r.LockForWrite(reg, 0xBEEEF)
	var regErr *cpuerr.RegisterError
	require.ErrorAs(t, err, &regErr)
	assert.False(t, regErr.IsNotOwned())
	assert.Equal(t, id, regErr.Owner())
}

func TestWriteByNonOwnerFails(t *testing.T) {
	r := New()
	id := 0xBAF
	reg := uint32(arch.RA)

	_, err := r.LockForWrite(reg, id)
	require.NoError(t, err)

	err = r.WriteAndUnlock(reg, 995599, 0xB0F)
	var regErr *cpuerr.RegisterError
	require.ErrorAs(t, err, &regErr)
	assert.True(t, regErr.IsNotOwned())
}

func TestRegisterZeroNoOp(t *testing.T) {
	r := New()
	_, err := r.LockForWrite(arch.ZERO, 111)
	require.NoError(t, err)
	require.NoError(t, r.WriteAndUnlock(arch.ZERO, 0xDEAD, 111))
	got, err := r.Fetch(arch.ZERO)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), got.Value)
}

func TestQueuedOwnerTransfersOnUnlock(t *testing.T) {
	r := New()
	reg := uint32(arch.T2)

	_, err := r.LockForWrite(reg, 1)
	require.NoError(t, err)

	_, err = r.LockForWrite(reg, 2)
	require.Error(t, err) // queued behind 1

	require.NoError(t, r.WriteAndUnlock(reg, 10, 1))

	// instruction 2 now owns it; a third locker should be queued, not granted
	_, err = r.LockForWrite(reg, 3)
	require.Error(t, err)

	require.NoError(t, r.WriteAndUnlock(reg, 20, 2))

	// instruction 3 was queued behind 2, so it now holds the lock
	_, err = r.Fetch(reg)
	var regErr *cpuerr.RegisterError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, 3, regErr.Owner())

	require.NoError(t, r.WriteAndUnlock(reg, 30, 3))
	got, err := r.Fetch(reg)
	require.NoError(t, err)
	assert.Equal(t, uint32(30), got.Value)
}

func TestHILOAddressable(t *testing.T) {
	r := New()
	_, err := r.LockForWrite(arch.HIIdent, 5)
	require.NoError(t, err)
	require.NoError(t, r.WriteAndUnlock(arch.HIIdent, 0x1234, 5))
	got, err := r.Fetch(arch.HIIdent)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1234), got.Value)
}
