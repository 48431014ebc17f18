// Package memory implements the flat byte-addressable store with lazy
// growth, privileged-mode protected ranges, per-range memory-mapped device
// dispatch, and the ELF-like executable loader.
package memory

import (
	"log/slog"
	"os"

	"github.com/axemt/mipsr3000emu/emu/bytesutil"
	"github.com/axemt/mipsr3000emu/emu/cpuerr"
	"github.com/axemt/mipsr3000emu/emu/devices"
)

type protectedRange struct {
	lo, hi uint32 // half-open [lo, hi)
}

type deviceRange struct {
	lo, hi uint32 // inclusive [lo, hi]
	dev    devices.MemoryMapped
}

// Memory is the machine's byte-addressable store.
type Memory struct {
	bytes      []byte
	privileged bool
	protected  []protectedRange
	devs       []deviceRange
}

// New builds an empty Memory with no protected ranges or device mappings.
func New() *Memory {
	return &Memory{}
}

// Protect appends [lo, hi) to the set of protected ranges. Append-only:
// there is no corresponding Unprotect. Protecting the same interval twice
// is idempotent in effect (both entries simply match the same accesses).
func (m *Memory) Protect(lo, hi uint32) {
	slog.Debug("memory: protecting range", "lo", lo, "hi", hi)
	m.protected = append(m.protected, protectedRange{lo: lo, hi: hi})
}

// SetPrivileged toggles whether protected-range checks are bypassed.
func (m *Memory) SetPrivileged(p bool) {
	m.privileged = p
}

// MapDevice appends a device mapping covering the inclusive range [lo, hi].
// Append-only. The first matching mapping wins.
func (m *Memory) MapDevice(lo, hi uint32, dev devices.MemoryMapped) {
	slog.Debug("memory: mapping device", "lo", lo, "hi", hi)
	m.devs = append(m.devs, deviceRange{lo: lo, hi: hi, dev: dev})
}

func (m *Memory) checkProtection(addr uint32) error {
	for _, pr := range m.protected {
		if addr >= pr.lo && addr < pr.hi && !m.privileged {
			return cpuerr.NewProtectionError(pr.lo, pr.hi, addr)
		}
	}
	return nil
}

func (m *Memory) deviceFor(addr uint32) devices.MemoryMapped {
	for _, dr := range m.devs {
		if addr >= dr.lo && addr <= dr.hi {
			return dr.dev
		}
	}
	return nil
}

func (m *Memory) extend(minSize int) {
	if minSize <= len(m.bytes) {
		return
	}
	grow := minSize - len(m.bytes)
	if grow < 4 {
		grow = 4
	}
	m.bytes = append(m.bytes, make([]byte, grow)...)
	slog.Debug("memory: extended", "new size", len(m.bytes))
}

// Load reads size bytes at addr. Protected ranges are checked first; device
// ranges are consulted only if the access is allowed, taking precedence
// over the underlying byte store.
func (m *Memory) Load(addr uint32, size int) ([]byte, error) {
	if err := m.checkProtection(addr); err != nil {
		return nil, err
	}
	if dev := m.deviceFor(addr); dev != nil {
		return dev.Read(addr, size)
	}
	m.extend(int(addr) + size)
	out := make([]byte, size)
	copy(out, m.bytes[addr:int(addr)+size])
	return out, nil
}

// Store writes size bytes of contents at addr, following the same
// protection/device precedence as Load.
func (m *Memory) Store(addr uint32, size int, contents []byte) error {
	if err := m.checkProtection(addr); err != nil {
		return err
	}
	if dev := m.deviceFor(addr); dev != nil {
		return dev.Write(addr, size, contents)
	}
	m.extend(int(addr) + size)
	for i := 0; i < size; i++ {
		if i < len(contents) {
			m.bytes[int(addr)+i] = contents[i]
		} else {
			m.bytes[int(addr)+i] = 0
		}
	}
	return nil
}

// LoadWord widens a 1/2/4-byte load at addr to a full Word.
func (m *Memory) LoadWord(addr uint32, size int) (uint32, error) {
	b, err := m.Load(addr, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return bytesutil.FromByte(b), nil
	case 2:
		return bytesutil.FromHalf(b), nil
	case 4:
		return bytesutil.FromWord(b), nil
	default:
		return 0, cpuerr.NewMappedDeviceError("unsupported load size")
	}
}

// StoreWord narrows a Word and stores its low size bytes, big-endian, at addr.
func (m *Memory) StoreWord(addr uint32, size int, value uint32) error {
	switch size {
	case 1:
		return m.Store(addr, 1, bytesutil.ToBEBytes1(value))
	case 2:
		return m.Store(addr, 2, bytesutil.ToBEBytes2(value))
	case 4:
		return m.Store(addr, 4, bytesutil.ToBEBytes4(value))
	default:
		return cpuerr.NewMappedDeviceError("unsupported store size")
	}
}

// LoadBinary reads a raw file into addresses 0..len(file), bypassing
// protected ranges and replacing whatever was there (including any
// pre-installed default handler). Used for raw binaries paired with an
// explicit --entry.
func (m *Memory) LoadBinary(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return cpuerr.NewHeaderIOError(err)
	}
	m.bytes = make([]byte, len(data))
	copy(m.bytes, data)
	return nil
}

const (
	fileHeaderSize = 52
	progHeaderSize = 32

	magicWant   = 0x7F454C46
	classWant   = 0x01
	etypeWant   = 0x0002
	emachWant   = 0x0008
	flagsTextRX = 0x05000000
	flagsDataRW = 0x06000000
	ptypeLoad   = 0x1
)

type programHeader struct {
	pType, pOffset, pVAddr, pPAddr, pFilesz, pMemsz, pFlags, pAlign uint32
}

func readProgramHeader(b []byte) programHeader {
	return programHeader{
		pType:   bytesutil.FromWord(b[0:4]),
		pOffset: bytesutil.FromWord(b[4:8]),
		pVAddr:  bytesutil.FromWord(b[8:12]),
		pPAddr:  bytesutil.FromWord(b[12:16]),
		pFilesz: bytesutil.FromWord(b[16:20]),
		pMemsz:  bytesutil.FromWord(b[20:24]),
		pFlags:  bytesutil.FromWord(b[24:28]),
		pAlign:  bytesutil.FromWord(b[28:32]),
	}
}

// LoadExecutable parses the ELF-like header described in the external
// interfaces, validates it, copies the text and data segments to their
// physical addresses (growing memory as needed, never via the fast-replace
// path so the pre-installed default handler survives), and returns the
// entry PC.
func (m *Memory) LoadExecutable(path string) (uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, cpuerr.NewHeaderIOError(err)
	}
	if len(data) < fileHeaderSize+2*progHeaderSize {
		return 0, cpuerr.NewPermExecError("file too small to contain a full header")
	}

	magic := bytesutil.FromWord(data[0:4])
	if magic != magicWant {
		return 0, cpuerr.ErrMagic
	}
	class := data[4]
	if class != classWant {
		return 0, cpuerr.ErrArch
	}
	etype := bytesutil.FromHalf(data[16:18])
	emach := bytesutil.FromHalf(data[18:20])
	if emach != emachWant {
		return 0, cpuerr.ErrArch
	}
	if etype != etypeWant {
		return 0, cpuerr.NewPermExecError("the file is not an executable")
	}
	entry := bytesutil.FromWord(data[24:28])

	textHdr := readProgramHeader(data[fileHeaderSize : fileHeaderSize+progHeaderSize])
	if textHdr.pFlags != flagsTextRX {
		return 0, cpuerr.NewPermExecError("text segment is not Readable and Executable")
	}
	if textHdr.pType != ptypeLoad {
		return 0, cpuerr.NewPermExecError("text segment is not Loadable")
	}

	dataHdrOff := fileHeaderSize + progHeaderSize
	dataHdr := readProgramHeader(data[dataHdrOff : dataHdrOff+progHeaderSize])
	if dataHdr.pFlags != flagsDataRW {
		return 0, cpuerr.NewPermExecError("data segment is not Readable and Writeable")
	}
	if dataHdr.pType != ptypeLoad {
		return 0, cpuerr.NewPermExecError("data segment is not Loadable")
	}

	var dataRaw []byte
	if dataHdr.pMemsz > 0 {
		// Preserves the source's non-standard data offset formula
		// (52 + p_offset + p_offset) rather than the standard ELF
		// file-offset interpretation; see DESIGN.md.
		off := fileHeaderSize + dataHdr.pOffset + dataHdr.pOffset
		dataRaw = data[off:]
	} else {
		dataRaw = []byte{0}
	}

	codeStart := fileHeaderSize + textHdr.pOffset
	codeEnd := codeStart + textHdr.pMemsz
	codeRaw := data[codeStart:codeEnd]

	toAlloc := max(textHdr.pPAddr+textHdr.pMemsz, dataHdr.pPAddr+uint32(len(dataRaw)))
	m.extend(int(toAlloc))

	copy(m.bytes[textHdr.pPAddr:], codeRaw)
	copy(m.bytes[dataHdr.pPAddr:], dataRaw)

	return entry, nil
}
