package memory

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/axemt/mipsr3000emu/emu/cpuerr"
	"github.com/axemt/mipsr3000emu/emu/devices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicStoreLoad(t *testing.T) {
	m := New()
	m.SetPrivileged(true)
	require.NoError(t, m.Store(0x00020000, 4, []byte{0, 1, 0, 0}))
	got, err := m.Load(0x00020000, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1}, got)
}

func TestUnprivilegedProtectedWriteFails(t *testing.T) {
	m := New()
	m.Protect(0, 0x0000fC00)
	err := m.Store(0x00005000, 4, []byte{1, 2, 3, 4})
	var memErr *cpuerr.MemError
	require.ErrorAs(t, err, &memErr)
	assert.True(t, memErr.IsProtection())
}

func TestPrivilegedBypassesProtection(t *testing.T) {
	m := New()
	m.Protect(0, 0x0000fC00)
	m.SetPrivileged(true)
	require.NoError(t, m.Store(0x100, 4, []byte{0x69, 0x69, 0x69, 0x66}))
	got, err := m.Load(0x100, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x69, 0x69, 0x69, 0x66}, got)
}

func TestProtectIdempotent(t *testing.T) {
	m1 := New()
	m1.Protect(0x10, 0x20)
	err1 := m1.Store(0x15, 1, []byte{1})

	m2 := New()
	m2.Protect(0x10, 0x20)
	m2.Protect(0x10, 0x20)
	err2 := m2.Store(0x15, 1, []byte{1})

	assert.Equal(t, err1 != nil, err2 != nil)
}

func TestDeviceRoutingTakesPrecedence(t *testing.T) {
	m := New()
	con := devices.NewConsole()
	lo, hi := con.Range()
	m.MapDevice(lo, hi, con)

	err := m.Store(lo+4, 1, []byte{devices.ConsoleModeString})
	require.NoError(t, err)
	err = m.Store(lo, 4, []byte("abcd"))
	require.NoError(t, err)
}

func TestSWStoresCorrectByteOrder(t *testing.T) {
	// Regression for the `(B & 0xff000000 >> 24)` operator-precedence bug:
	// storing 0xDEADBEEF as a word must read back [DE, AD, BE, EF].
	m := New()
	m.SetPrivileged(true)
	require.NoError(t, m.StoreWord(0x200, 4, 0xDEADBEEF))
	got, err := m.Load(0x200, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, got)
}

func writeBE32(b []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(b[off:off+4], v)
}

func buildTestExecutable(t *testing.T, entry, textPAddr uint32, text []byte, dataPAddr uint32, data []byte) string {
	t.Helper()
	header := make([]byte, fileHeaderSize)
	writeBE32(header, 0, magicWant)
	header[4] = classWant
	binary.BigEndian.PutUint16(header[16:18], etypeWant)
	binary.BigEndian.PutUint16(header[18:20], emachWant)
	writeBE32(header, 24, entry)

	textHdr := make([]byte, progHeaderSize)
	writeBE32(textHdr, 0, ptypeLoad)
	writeBE32(textHdr, 4, 0) // p_offset placeholder, filled below
	writeBE32(textHdr, 12, textPAddr)
	writeBE32(textHdr, 20, uint32(len(text)))
	writeBE32(textHdr, 24, flagsTextRX)

	dataHdr := make([]byte, progHeaderSize)
	writeBE32(dataHdr, 0, ptypeLoad)
	writeBE32(dataHdr, 12, dataPAddr)
	writeBE32(dataHdr, 20, uint32(len(data)))
	writeBE32(dataHdr, 24, flagsDataRW)

	// Text segment raw bytes start at fileHeaderSize + p_offset; with both
	// program headers preceding the text bytes in the file, p_offset is
	// the combined size of the two 32-byte program headers.
	textPOffset := uint32(2 * progHeaderSize)
	writeBE32(textHdr, 4, textPOffset)

	buf := append([]byte{}, header...)
	buf = append(buf, textHdr...)
	buf = append(buf, dataHdr...)
	buf = append(buf, text...)

	if len(data) > 0 {
		// Data raw offset is 52 + p_offset + p_offset (preserved quirk).
		// Choose p_offset so that 52+p_offset+p_offset lands exactly after
		// the text bytes we just appended.
		pOffset := uint32(len(buf)-fileHeaderSize) / 2
		writeBE32(dataHdr, 4, pOffset)
		// rebuild buf with the updated data header
		buf = append([]byte{}, header...)
		buf = append(buf, textHdr...)
		buf = append(buf, dataHdr...)
		buf = append(buf, text...)
		want := fileHeaderSize + pOffset + pOffset
		for uint32(len(buf)) < want {
			buf = append(buf, 0)
		}
		buf = append(buf, data...)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "test.relf")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestLoadExecutableEntryAndSegments(t *testing.T) {
	text := []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	data := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	path := buildTestExecutable(t, 0x00400000, 0x00400000, text, 0x10010000, data)

	m := New()
	entry, err := m.LoadExecutable(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00400000), entry)

	gotText, err := m.Load(0x00400000, uint32Len(text))
	require.NoError(t, err)
	assert.Equal(t, text, gotText)

	gotData, err := m.Load(0x10010000, uint32Len(data))
	require.NoError(t, err)
	assert.Equal(t, data, gotData)
}

func uint32Len(b []byte) int { return len(b) }

func TestLoadExecutableRejectsBadMagic(t *testing.T) {
	path := buildTestExecutable(t, 0, 0, []byte{0, 0, 0, 0}, 0, nil)
	raw, _ := os.ReadFile(path)
	raw[0] = 0
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	m := New()
	_, err := m.LoadExecutable(path)
	assert.ErrorIs(t, err, cpuerr.ErrMagic)
}
