package devices

import (
	"strings"
	"testing"
	"time"
)

func TestConsoleIntegrity(t *testing.T) {
	c := NewConsole()
	lo, hi := c.Range()
	if hi <= lo {
		t.Errorf("expected hi > lo, got lo=%#x hi=%#x", lo, hi)
	}
}

func TestConsoleWriteModes(t *testing.T) {
	c := NewConsole()
	if err := c.Write(ConsoleRangeLo+4, 1, []byte{ConsoleModeString}); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if err := c.Write(ConsoleRangeLo, 4, []byte("abcd")); err != nil {
		t.Fatalf("write string: %v", err)
	}
	if err := c.Write(ConsoleRangeLo+4, 1, []byte{ConsoleModeF32}); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if err := c.Write(ConsoleRangeLo, 4, []byte{0x41, 0x45, 0x70, 0xa4}); err != nil {
		t.Fatalf("write float: %v", err)
	}
}

func TestConsoleReadFails(t *testing.T) {
	c := NewConsole()
	if _, err := c.Read(ConsoleRangeLo, 4); err == nil {
		t.Error("expected read to fail on write-only device")
	}
}

func TestKeyboardIntegrity(t *testing.T) {
	k := NewKeyboard(strings.NewReader(""))
	lo, hi := k.Range()
	if hi <= lo {
		t.Errorf("expected hi > lo, got lo=%#x hi=%#x", lo, hi)
	}
}

func TestKeyboardReadDropsNewline(t *testing.T) {
	k := NewKeyboard(strings.NewReader("hi\n"))
	got, err := k.Read(KeyboardRangeLo, 4)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got[0] != 'h' || got[1] != 'i' {
		t.Errorf("got %v", got)
	}
}

func TestKeyboardWriteMode(t *testing.T) {
	k := NewKeyboard(strings.NewReader(""))
	if err := k.Write(KeyboardRangeLo+4, 1, []byte{1}); err != nil {
		t.Fatalf("write mode: %v", err)
	}
}

func TestKeyboardWriteOutsideModeFails(t *testing.T) {
	k := NewKeyboard(strings.NewReader(""))
	if err := k.Write(KeyboardRangeLo, 4, []byte{0}); err == nil {
		t.Error("expected write to fail outside mode byte")
	}
}

func TestInterruptorFiresAndStops(t *testing.T) {
	interruptor, ch := NewInterruptor(5*time.Millisecond, nil)
	go interruptor.Start()
	defer interruptor.Stop()

	select {
	case <-ch:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected at least one pulse")
	}
}

func TestInterruptorPredicateSuppression(t *testing.T) {
	interruptor, ch := NewInterruptor(5*time.Millisecond, func() bool { return false })
	go interruptor.Start()
	defer interruptor.Stop()

	select {
	case <-ch:
		t.Fatal("predicate returning false should suppress pulses")
	case <-time.After(50 * time.Millisecond):
	}
}
