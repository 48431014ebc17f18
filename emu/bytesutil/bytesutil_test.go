package bytesutil

import "testing"

func TestWordRoundTrip(t *testing.T) {
	cases := [][]Byte{
		{0x00, 0x00, 0x00, 0x00},
		{0xDE, 0xAD, 0xBE, 0xEF},
		{0xFF, 0xFF, 0xFF, 0xFF},
	}
	for _, b := range cases {
		got := ToBEBytes4(FromWord(b))
		for i := range b {
			if got[i] != b[i] {
				t.Fatalf("round trip mismatch for %v: got %v", b, got)
			}
		}
	}
}

func TestHalfRoundTrip(t *testing.T) {
	b := []Byte{0x12, 0x34}
	got := ToBEBytes2(FromHalf(b))
	if got[0] != b[0] || got[1] != b[1] {
		t.Fatalf("half round trip mismatch: got %v", got)
	}
}

func TestByteRoundTrip(t *testing.T) {
	b := []Byte{0x42}
	got := ToBEBytes1(FromByte(b))
	if got[0] != b[0] {
		t.Fatalf("byte round trip mismatch: got %v", got)
	}
}

func TestToSignedNegative(t *testing.T) {
	// bit 15 set: 0x8000 as a 16-bit value is -32768
	got := ToSigned(0x8000, 16)
	if got != -32768 {
		t.Errorf("ToSigned(0x8000, 16) = %d, want -32768", got)
	}
}

func TestToSignedPositive(t *testing.T) {
	got := ToSigned(0x0001, 16)
	if got != 1 {
		t.Errorf("ToSigned(0x0001, 16) = %d, want 1", got)
	}
}

func TestSignExtend16(t *testing.T) {
	if got := SignExtend16(0xFFFF); got != 0xFFFFFFFF {
		t.Errorf("SignExtend16(0xFFFF) = %#x, want 0xFFFFFFFF", got)
	}
	if got := SignExtend16(0x7FFF); got != 0x00007FFF {
		t.Errorf("SignExtend16(0x7FFF) = %#x, want 0x7FFF", got)
	}
}
