package cpuerr

import (
	"errors"
	"testing"
)

func TestHeaderErrorMessages(t *testing.T) {
	if ErrMagic.Error() == "" {
		t.Error("ErrMagic should have a message")
	}
	if ErrArch.Error() == "" {
		t.Error("ErrArch should have a message")
	}
	if got := NewPermExecError("bad flags").Error(); got != "bad flags" {
		t.Errorf("got %q", got)
	}
}

func TestMemErrorProtectionMessage(t *testing.T) {
	e := NewProtectionError(0x1000, 0x2000, 0x1500)
	want := "Tried to access protected region range [0x00001000..0x00002000] at address 0x00001500"
	if e.Error() != want {
		t.Errorf("got %q want %q", e.Error(), want)
	}
	if !e.IsProtection() {
		t.Error("expected IsProtection true")
	}
}

func TestExecutionErrorWrapsMemError(t *testing.T) {
	mem := NewProtectionError(0, 1, 2)
	exec := WrapMemError(mem)
	if !errors.As(exec, new(*MemError)) {
		t.Error("expected errors.As to find the wrapped *MemError")
	}
}

func TestRegisterErrorVariants(t *testing.T) {
	locked := NewLockedWithHandle(7, 12)
	if locked.IsNotOwned() {
		t.Error("LockedWithHandle should not be NotOwned")
	}
	notOwned := NewNotOwned(7, 12)
	if !notOwned.IsNotOwned() {
		t.Error("NotOwned should report true")
	}
	if notOwned.Owner() != 7 || notOwned.Regno() != 12 {
		t.Errorf("got owner=%d regno=%d", notOwned.Owner(), notOwned.Regno())
	}
}
