// Package cpuerr holds the tagged error taxonomy of the emulator: header
// (loader), memory, execution and register-scoreboard failures. Each type
// implements error and, where the original wraps another failure, Unwrap
// so callers can use errors.As/errors.Is.
package cpuerr

import "fmt"

// HeaderError variants — loader-side failures.

// ErrMagic is returned when the ELF-like magic number is not found.
var ErrMagic = &HeaderError{kind: "magic"}

// ErrArch is returned when the file's class or machine field is incompatible.
var ErrArch = &HeaderError{kind: "arch"}

// HeaderError reports a failure while parsing or validating the executable
// header.
type HeaderError struct {
	kind string
	msg  string
	err  error
}

func (e *HeaderError) Error() string {
	switch e.kind {
	case "magic":
		return "ELF Magic Number not found"
	case "arch":
		return "This file's Architecture is not compatible with the machine"
	case "perm":
		return e.msg
	case "io":
		return e.msg
	default:
		return "header error"
	}
}

func (e *HeaderError) Unwrap() error { return e.err }

// NewPermExecError reports a segment whose flags/type do not match the
// expected permissions (e.g. a text segment that is not R+X).
func NewPermExecError(msg string) *HeaderError {
	return &HeaderError{kind: "perm", msg: msg}
}

// NewHeaderIOError wraps an I/O failure encountered while reading the
// executable file.
func NewHeaderIOError(err error) *HeaderError {
	return &HeaderError{kind: "io", msg: fmt.Sprintf("Propagated io.Error: %v", err), err: err}
}

// MemError reports a memory-access failure: either a protection violation
// or a failure surfaced by a memory-mapped device.
type MemError struct {
	// Protection violation fields; zero value when Device is set instead.
	RangeLo, RangeHi Word
	Addr             Word
	isProtection     bool

	Device string // populated for MappedDeviceError
}

// Word avoids importing bytesutil just for a type alias cycle; it mirrors
// bytesutil.Word's underlying representation.
type Word = uint32

func (e *MemError) Error() string {
	if e.isProtection {
		return fmt.Sprintf("Tried to access protected region range [0x%08x..0x%08x] at address 0x%08x",
			e.RangeLo, e.RangeHi, e.Addr)
	}
	return e.Device
}

// NewProtectionError builds a MemError for an access to a protected range.
func NewProtectionError(rangeLo, rangeHi, addr Word) *MemError {
	return &MemError{RangeLo: rangeLo, RangeHi: rangeHi, Addr: addr, isProtection: true}
}

// NewMappedDeviceError builds a MemError for a device-side failure.
func NewMappedDeviceError(msg string) *MemError {
	return &MemError{Device: msg}
}

// ExecutionError reports a failure from the instruction execution engine
// (interpreter or pipeline stage).
type ExecutionError struct {
	kind string
	msg  string
	err  error
}

func (e *ExecutionError) Error() string { return e.msg }

func (e *ExecutionError) Unwrap() error { return e.err }

// NewPrivilegeError reports use of a privileged instruction while MODE is
// clear. iname names the offending instruction (e.g. "RFE", "HLT").
func NewPrivilegeError(iname string) *ExecutionError {
	return &ExecutionError{
		kind: "privilege",
		msg:  fmt.Sprintf("Tried to use privileged instruction %s but the mode bitflag was not set", iname),
	}
}

// NewUnrecognizedOPError reports a function/opcode field with no defined
// instruction.
func NewUnrecognizedOPError(msg string) *ExecutionError {
	return &ExecutionError{kind: "unrecognized-op", msg: msg}
}

// WrapMemError lifts a MemError into an ExecutionError, as the original's
// `impl From<MemError> for ExecutionError` does.
func WrapMemError(e *MemError) *ExecutionError {
	return &ExecutionError{
		kind: "mem",
		msg:  fmt.Sprintf("Propagated MemError: %v", e),
		err:  e,
	}
}

// WrapRegisterError lifts a RegisterError into an ExecutionError.
func WrapRegisterError(e *RegisterError) *ExecutionError {
	return &ExecutionError{
		kind: "register",
		msg:  fmt.Sprintf("Propagated RegisterError: %v", e),
		err:  e,
	}
}

// RegisterError reports a scoreboard contention or violation. LockedWithHandle
// is the pipeline's in-flight "busy" signal, not a program bug; NotOwned
// reaching Write-Back is always a pipeline bug.
type RegisterError struct {
	ownerOrHandle int
	regno         uint32
	notOwned      bool
}

func (e *RegisterError) Error() string {
	if e.notOwned {
		return fmt.Sprintf("The instruction tried to write to register %d, which is owned by the instruction with timestamp %d", e.regno, e.ownerOrHandle)
	}
	return fmt.Sprintf("The register %d is locked by owner instruction with timestamp %d", e.regno, e.ownerOrHandle)
}

// NewLockedWithHandle reports a read/lock of a register currently owned by
// another in-flight instruction.
func NewLockedWithHandle(owner int, regno uint32) *RegisterError {
	return &RegisterError{ownerOrHandle: owner, regno: regno}
}

// NewNotOwned reports a write attempt by an instruction that does not hold
// the lock.
func NewNotOwned(currentOwner int, regno uint32) *RegisterError {
	return &RegisterError{ownerOrHandle: currentOwner, regno: regno, notOwned: true}
}

// Owner returns the owning/locking instruction handle carried by the error.
func (e *RegisterError) Owner() int { return e.ownerOrHandle }

// Regno returns the register number the error concerns.
func (e *RegisterError) Regno() uint32 { return e.regno }

// IsNotOwned reports whether this is the NotOwned variant.
func (e *RegisterError) IsNotOwned() bool { return e.notOwned }

// IsProtection reports whether a MemError is the protection-violation variant.
func (e *MemError) IsProtection() bool { return e.isProtection }
