// Package registers implements the scoreboarded register file: 32
// general-purpose registers plus the HI/LO auxiliary pair, each carrying a
// lock bit and an owning instruction handle.
package registers

import (
	"log/slog"

	"github.com/axemt/mipsr3000emu/emu/arch"
	"github.com/axemt/mipsr3000emu/emu/cpuerr"
)

type register struct {
	value  uint32
	locked bool
	owner  int // meaningful only when locked
}

// Available is the successful result of Fetch: the register's current value.
type Available struct {
	Value uint32
}

// SuccessfulOwn is the successful result of LockForWrite: confirmation the
// caller now owns the register.
type SuccessfulOwn struct {
	RegisterNumber uint32
}

// Registers is the 32-GPR + HI/LO scoreboarded register file.
type Registers struct {
	regOwnerQueue [arch.LOIdent + 1][]int
	reg           [32]register
	hi, lo        register
}

// New builds a fresh register file with every register unlocked and zeroed.
func New() *Registers {
	return &Registers{}
}

func (r *Registers) slot(regno uint32) *register {
	switch regno {
	case arch.HIIdent:
		return &r.hi
	case arch.LOIdent:
		return &r.lo
	default:
		return &r.reg[regno]
	}
}

// Fetch reads a register's value, or reports it Locked if currently owned
// by another in-flight instruction. Register 0 always returns Available(0).
func (r *Registers) Fetch(regno uint32) (Available, error) {
	if regno == arch.ZERO {
		return Available{Value: 0}, nil
	}
	reg := r.slot(regno)
	if !reg.locked {
		return Available{Value: reg.value}, nil
	}
	return Available{}, cpuerr.NewLockedWithHandle(reg.owner, regno)
}

// LockForWrite attempts to acquire the write lock on regno under the given
// instruction handle. On contention the requester is enqueued as a pending
// owner (FIFO); when the current owner unlocks, the longest-waiting
// requester transparently acquires the lock. Register 0's lock is always a
// successful no-op.
func (r *Registers) LockForWrite(regno uint32, handle int) (SuccessfulOwn, error) {
	if regno == arch.ZERO {
		return SuccessfulOwn{RegisterNumber: 0}, nil
	}
	reg := r.slot(regno)
	if reg.locked {
		r.regOwnerQueue[regno] = append(r.regOwnerQueue[regno], handle)
		slog.Debug("register locked, enqueuing waiter", "regno", regno, "owner", reg.owner, "waiter", handle)
		return SuccessfulOwn{}, cpuerr.NewLockedWithHandle(reg.owner, regno)
	}
	reg.locked = true
	reg.owner = handle
	slog.Debug("register locked", "regno", regno, "handle", handle)
	return SuccessfulOwn{RegisterNumber: regno}, nil
}

// IsOwner reports whether handle currently holds the write lock on regno.
// Used by the pipeline to notice a queued waiter's ownership transfer
// without requiring the broadcast bus to patch every in-flight latch.
func (r *Registers) IsOwner(regno uint32, handle int) bool {
	if regno == arch.ZERO {
		return true
	}
	reg := r.slot(regno)
	return reg.locked && reg.owner == handle
}

// WriteAndUnlock writes contents to regno and releases the lock, provided
// handle is the current owner. If a waiter is queued, ownership transfers
// to it instead of clearing the lock. Writes to register 0 are silently
// dropped and always succeed.
func (r *Registers) WriteAndUnlock(regno uint32, contents uint32, handle int) error {
	if regno == arch.ZERO {
		return nil
	}
	reg := r.slot(regno)
	if !reg.locked || reg.owner != handle {
		return cpuerr.NewNotOwned(reg.owner, regno)
	}

	queue := r.regOwnerQueue[regno]
	if len(queue) == 0 {
		reg.value = contents
		reg.locked = false
		reg.owner = 0
		return nil
	}
	nextOwner := queue[0]
	r.regOwnerQueue[regno] = queue[1:]
	reg.value = contents
	reg.locked = true
	reg.owner = nextOwner
	slog.Debug("register unlocked, transferred to waiter", "regno", regno, "new owner", nextOwner)
	return nil
}
