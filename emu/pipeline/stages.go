package pipeline

import (
	"github.com/axemt/mipsr3000emu/emu/arch"
	"github.com/axemt/mipsr3000emu/emu/bytesutil"
	"github.com/axemt/mipsr3000emu/emu/cpuerr"
	"github.com/axemt/mipsr3000emu/emu/memory"
	"github.com/axemt/mipsr3000emu/emu/registers"
)

// instKind tags what decoded carries, since R/I/J/Special instructions
// populate different subsets of its fields.
type instKind int

const (
	kindNOP instKind = iota
	kindR
	kindI
	kindJ
	kindSyscall
	kindRFE
	kindHLT
)

// decoded is ID's control_out_EXOP: everything EX needs to execute one
// instruction, independent of operand availability (carried separately in
// latch_out_A/B).
type decoded struct {
	valid bool
	kind  instKind
	fn    uint32 // R-type func field, or I/J-type primary opcode
	sham  uint32
	rt    uint32
	imm   uint32
	jTarget uint32
	isJAL bool
	pc    uint32 // address this instruction was fetched from
}

// ---- Instruction Fetch ----

type ifStage struct {
	pc uint32

	controlInStall bool
	latchInCond    bool
	latchInNewPC   uint32

	latchOutIR    uint32
	latchOutNewPC uint32
}

func (s *ifStage) tick(mem *memory.Memory, privileged bool) error {
	mem.SetPrivileged(privileged)
	if s.controlInStall {
		s.controlInStall = false
		return nil
	}
	if s.latchInCond {
		s.pc = s.latchInNewPC
		s.latchInCond = false
	}
	raw, err := mem.Load(s.pc, 4)
	if err != nil {
		return cpuerr.WrapMemError(err.(*cpuerr.MemError))
	}
	s.latchOutIR = bytesutil.FromWord(raw)
	s.latchOutNewPC = s.pc + 4
	s.pc += 4
	return nil
}

// ---- Instruction Decode ----

type idStage struct {
	regs      *registers.Registers
	timestamp int

	latchInNewPC       uint32
	latchInIR          uint32
	latchInWBContents  exOut
	latchInRDest       destResult
	latchInInstrID     int

	controlInStall bool

	latchOutA, latchOutB   operand
	latchOutRDest          destResult
	latchOutNewPC          uint32
	latchOutInstrID        int
	controlOutEXOP         decoded
	controlOutReleaseBcast releaseBcast
}

func (s *idStage) tick() error {
	s.controlOutReleaseBcast = releaseBcast{}
	if err := s.applyWriteback(); err != nil {
		return err
	}

	if s.controlInStall {
		s.controlInStall = false
		return nil
	}

	s.timestamp++
	id := s.timestamp
	code := s.latchInIR

	d := decoded{valid: true, pc: s.latchInNewPC - 4}

	switch {
	case code == arch.OpSYSCALL:
		d.kind = kindSyscall
	case code == arch.OpRFE:
		d.kind = kindRFE
	case code == arch.OpHLT:
		d.kind = kindHLT
	case code>>26 == 0:
		d.kind = kindR
		d.fn = code & 0x3f
		d.sham = (code >> 6) & 0x1f
	case code>>26 == arch.OpJ || code>>26 == arch.OpJAL:
		d.kind = kindJ
		d.fn = code >> 26
		d.jTarget = (code & 0x03FFFFFF) << 2
		d.isJAL = code>>26 == arch.OpJAL
	default:
		d.kind = kindI
		d.fn = code >> 26
		d.imm = code & 0xffff
	}

	rs := (code >> 21) & 0x1f
	rt := (code >> 16) & 0x1f
	rd := (code >> 11) & 0x1f
	d.rt = rt

	s.controlOutEXOP = d
	s.latchOutNewPC = s.latchInNewPC
	s.latchOutInstrID = id

	switch d.kind {
	case kindR:
		s.latchOutA = s.fetchOperand(rs, id)
		s.latchOutB = s.fetchOperand(rt, id)
		switch {
		case d.fn == arch.FnJR:
			s.latchOutRDest = destResult{}
		case isDoubleDest(d.fn):
			s.latchOutRDest = s.lockDest(0, id, true)
		case d.fn == arch.FnMTHI:
			s.latchOutRDest = s.lockDest(arch.HIIdent, id, false)
		case d.fn == arch.FnMTLO:
			s.latchOutRDest = s.lockDest(arch.LOIdent, id, false)
		default:
			s.latchOutRDest = s.lockDest(rd, id, false)
		}
	case kindI:
		s.latchOutA = s.fetchOperand(rs, id)
		if isBranchOp(d.fn) {
			s.latchOutB = s.fetchOperand(rt, id)
			s.latchOutRDest = destResult{}
		} else if isStoreOp(d.fn) {
			s.latchOutB = s.fetchOperand(rt, id)
			s.latchOutRDest = destResult{}
		} else {
			s.latchOutB = operand{}
			s.latchOutRDest = s.lockDest(rt, id, false)
		}
	case kindJ:
		s.latchOutA = operand{}
		s.latchOutB = operand{}
		if d.isJAL {
			s.latchOutRDest = s.lockDest(arch.RA, id, false)
		} else {
			s.latchOutRDest = destResult{}
		}
	default: // syscall, rfe, hlt, nop
		s.latchOutA = operand{}
		s.latchOutB = operand{}
		s.latchOutRDest = destResult{}
	}

	return nil
}

func (s *idStage) fetchOperand(regno uint32, id int) operand {
	v, err := s.regs.Fetch(regno)
	if err != nil {
		re := err.(*cpuerr.RegisterError)
		return operand{present: true, owned: false, owner: re.Owner(), regno: regno}
	}
	return operand{present: true, owned: true, value: v.Value, regno: regno}
}

func (s *idStage) lockDest(regno uint32, id int, double bool) destResult {
	if double {
		_, errHi := s.regs.LockForWrite(arch.HIIdent, id)
		_, errLo := s.regs.LockForWrite(arch.LOIdent, id)
		if errHi != nil || errLo != nil {
			blocker := errHi
			if blocker == nil {
				blocker = errLo
			}
			re := blocker.(*cpuerr.RegisterError)
			return destResult{present: true, owned: false, owner: re.Owner(), double: true}
		}
		return destResult{present: true, owned: true, double: true}
	}
	_, err := s.regs.LockForWrite(regno, id)
	if err != nil {
		re := err.(*cpuerr.RegisterError)
		return destResult{present: true, owned: false, owner: re.Owner(), regno: regno}
	}
	return destResult{present: true, owned: true, regno: regno}
}

// applyWriteback performs the actual register mutation for the instruction
// retiring this cycle (the one whose result just arrived from WB) and
// computes the release broadcast the orchestrator uses to patch any
// in-flight latch still waiting on that instruction's locks.
func (s *idStage) applyWriteback() error {
	d := s.latchInRDest
	wb := s.latchInWBContents
	id := s.latchInInstrID

	if !d.present {
		return nil
	}
	if !d.owned {
		if d.double {
			if s.regs.IsOwner(arch.HIIdent, id) && s.regs.IsOwner(arch.LOIdent, id) {
				d.owned = true
			}
		} else if s.regs.IsOwner(d.regno, id) {
			d.owned = true
		}
		if !d.owned {
			return nil
		}
	}

	switch wb.kind {
	case exValue, exDoJumpWithRA:
		if err := writeReg(s.regs, d.regno, wb.value, id); err != nil {
			return err
		}
		s.controlOutReleaseBcast = releaseBcast{kind: bcastFreedWithContent, id: id, regno: d.regno, value: wb.value}
	case exDoubleValue:
		if err := writeReg(s.regs, arch.HIIdent, wb.hi, id); err != nil {
			return err
		}
		if err := writeReg(s.regs, arch.LOIdent, wb.lo, id); err != nil {
			return err
		}
		s.controlOutReleaseBcast = releaseBcast{kind: bcastFreedWithContentDouble, id: id, hi: wb.hi, lo: wb.lo}
	case exMove:
		v, err := s.regs.Fetch(wb.moveSrc)
		if err != nil {
			return cpuerr.WrapRegisterError(err.(*cpuerr.RegisterError))
		}
		if err := writeReg(s.regs, d.regno, v.Value, id); err != nil {
			return err
		}
		s.controlOutReleaseBcast = releaseBcast{kind: bcastFreedWithContent, id: id, regno: d.regno, value: v.Value}
	default:
		// NoOutput/Abort/DoJump with a present dest: the instruction
		// carries no result. Only a content-less Freed broadcast is
		// emitted; the register itself is neither written nor unlocked.
		s.controlOutReleaseBcast = releaseBcast{kind: bcastFreed, id: id, regno: d.regno}
	}
	return nil
}

func writeReg(regs *registers.Registers, regno, value uint32, handle int) error {
	if err := regs.WriteAndUnlock(regno, value, handle); err != nil {
		return cpuerr.WrapRegisterError(err.(*cpuerr.RegisterError))
	}
	return nil
}

func isDoubleDest(fn uint32) bool {
	switch fn {
	case arch.FnDIV, arch.FnDIVU, arch.FnMULT, arch.FnMULTU:
		return true
	}
	return false
}

func isBranchOp(op uint32) bool {
	switch op {
	case arch.OpBEQ, arch.OpBNE, arch.OpBGTZ, arch.OpBLEZ:
		return true
	}
	return false
}

func isStoreOp(op uint32) bool {
	switch op {
	case arch.OpSB, arch.OpSH, arch.OpSW:
		return true
	}
	return false
}

// ---- Execute ----

type exStage struct {
	epc            uint32
	irqHandlerAddr uint32
	isPrivileged   bool

	latchInA, latchInB operand
	latchInRDest       destResult
	latchInNewPC       uint32
	latchInInstrID     int
	controlInEXOP      decoded
	controlInStall     bool

	latchOutEXOUT       exOut
	latchOutRDest       destResult
	latchOutInstrID     int
	latchOutNewPC       uint32 // jump target for IF
	latchOutCond        bool
	controlOutTermination bool
}

func (s *exStage) tick() error {
	s.latchOutCond = false
	d := s.controlInEXOP
	if !d.valid {
		s.latchOutEXOUT = exOut{kind: exNoOutput}
		s.latchOutRDest = destResult{}
		s.latchOutInstrID = s.latchInInstrID
		return nil
	}

	if (s.latchInA.present && !s.latchInA.owned) || (s.latchInB.present && !s.latchInB.owned) {
		s.latchOutEXOUT = exOut{kind: exAwaitingLock, awaitingA: s.latchInA, awaitingB: s.latchInB}
		s.latchOutInstrID = s.latchInInstrID
		return nil
	}

	a := s.latchInA.value
	b := s.latchInB.value

	switch d.kind {
	case kindSyscall:
		s.epc = d.pc
		s.isPrivileged = true
		s.latchOutEXOUT = exOut{kind: exDoJump, target: s.irqHandlerAddr}
		s.latchOutCond = true
	case kindRFE:
		if !s.isPrivileged {
			return cpuerr.NewPrivilegeError("RFE")
		}
		s.isPrivileged = false
		s.latchOutEXOUT = exOut{kind: exDoJump, target: s.epc}
		s.latchOutCond = true
	case kindHLT:
		if !s.isPrivileged {
			return cpuerr.NewPrivilegeError("HLT")
		}
		s.controlOutTermination = true
		s.latchOutEXOUT = exOut{kind: exAbort}
	case kindJ:
		target := d.jTarget
		if d.isJAL {
			s.latchOutEXOUT = exOut{kind: exDoJumpWithRA, target: target, value: d.pc + 4}
		} else {
			s.latchOutEXOUT = exOut{kind: exDoJump, target: target}
		}
		s.latchOutCond = true
	case kindR:
		out, err := s.execR(d, a, b)
		if err != nil {
			return err
		}
		s.latchOutEXOUT = out
	case kindI:
		out, cond, target, err := s.execI(d, a, b)
		if err != nil {
			return err
		}
		s.latchOutEXOUT = out
		if cond {
			s.latchOutCond = true
			s.latchOutEXOUT.target = target
		}
	default:
		s.latchOutEXOUT = exOut{kind: exNoOutput}
	}

	s.latchOutRDest = s.latchInRDest
	s.latchOutInstrID = s.latchInInstrID
	if s.latchOutCond {
		s.latchOutNewPC = s.latchOutEXOUT.target
	}
	return nil
}

func (s *exStage) execR(d decoded, a, b uint32) (exOut, error) {
	switch d.fn {
	case arch.FnADD, arch.FnADDU:
		return exOut{kind: exValue, value: a + b}, nil
	case arch.FnSUB, arch.FnSUBU:
		return exOut{kind: exValue, value: a - b}, nil
	case arch.FnAND:
		return exOut{kind: exValue, value: a & b}, nil
	case arch.FnOR:
		return exOut{kind: exValue, value: a | b}, nil
	case arch.FnXOR:
		return exOut{kind: exValue, value: a ^ b}, nil
	case arch.FnNOR:
		return exOut{kind: exValue, value: ^(a | b)}, nil
	case arch.FnSLT:
		if int32(a) < int32(b) {
			return exOut{kind: exValue, value: 1}, nil
		}
		return exOut{kind: exValue, value: 0}, nil
	case arch.FnSLTU:
		if a < b {
			return exOut{kind: exValue, value: 1}, nil
		}
		return exOut{kind: exValue, value: 0}, nil
	case arch.FnSLL:
		return exOut{kind: exValue, value: b << d.sham}, nil
	case arch.FnSRA:
		return exOut{kind: exValue, value: uint32(int32(b) >> d.sham)}, nil
	case arch.FnSRAV:
		return exOut{kind: exValue, value: uint32(int32(b) >> (a & 0x1f))}, nil
	case arch.FnSRLV:
		return exOut{kind: exValue, value: b >> (a & 0x1f)}, nil
	case arch.FnDIV, arch.FnDIVU:
		ia, ib := int32(a), int32(b)
		var quot, rem uint32
		if ib == 0 {
			quot, rem = 0, uint32(ia)
		} else if d.fn == arch.FnDIV {
			quot, rem = uint32(ia/ib), uint32(ia%ib)
		} else {
			quot, rem = a/b, a%b
		}
		return exOut{kind: exDoubleValue, hi: rem, lo: quot}, nil
	case arch.FnMULT, arch.FnMULTU:
		var product uint64
		if d.fn == arch.FnMULT {
			product = uint64(int64(int32(a)) * int64(int32(b)))
		} else {
			product = uint64(a) * uint64(b)
		}
		return exOut{kind: exDoubleValue, hi: uint32(product >> 32), lo: uint32(product)}, nil
	case arch.FnJR:
		return exOut{kind: exDoJump, target: a}, nil
	case arch.FnJALR:
		return exOut{kind: exDoJumpWithRA, target: a, value: d.pc + 4}, nil
	case arch.FnMFHI:
		return exOut{kind: exMove, moveSrc: arch.HIIdent}, nil
	case arch.FnMFLO:
		return exOut{kind: exMove, moveSrc: arch.LOIdent}, nil
	case arch.FnMTHI, arch.FnMTLO:
		return exOut{kind: exValue, value: a}, nil
	default:
		return exOut{}, cpuerr.NewUnrecognizedOPError(hexFn(d.fn))
	}
}

func (s *exStage) execI(d decoded, a, b uint32) (exOut, bool, uint32, error) {
	imm := d.imm
	switch d.fn {
	case arch.OpADDI, arch.OpADDIU:
		return exOut{kind: exValue, value: a + sext(imm)}, false, 0, nil
	case arch.OpANDI:
		return exOut{kind: exValue, value: a & imm}, false, 0, nil
	case arch.OpORI:
		return exOut{kind: exValue, value: a | imm}, false, 0, nil
	case arch.OpXORI:
		return exOut{kind: exValue, value: a ^ imm}, false, 0, nil
	case arch.OpSLTI:
		if int32(a) < int32(imm) {
			return exOut{kind: exValue, value: 1}, false, 0, nil
		}
		return exOut{kind: exValue, value: 0}, false, 0, nil
	case arch.OpSLTIU:
		if a < imm {
			return exOut{kind: exValue, value: 1}, false, 0, nil
		}
		return exOut{kind: exValue, value: 0}, false, 0, nil
	case arch.OpLHI:
		return exOut{kind: exValue, value: imm << 16}, false, 0, nil
	case arch.OpLLO:
		return exOut{kind: exValue, value: imm}, false, 0, nil
	case arch.OpBEQ, arch.OpBNE:
		taken := (d.fn == arch.OpBEQ && a == b) || (d.fn == arch.OpBNE && a != b)
		if taken {
			return exOut{kind: exNoOutput}, true, branchTarget(d.pc, imm), nil
		}
		return exOut{kind: exNoOutput}, false, 0, nil
	case arch.OpBGTZ:
		if a > 0 {
			return exOut{kind: exNoOutput}, true, branchTarget(d.pc, imm), nil
		}
		return exOut{kind: exNoOutput}, false, 0, nil
	case arch.OpBLEZ:
		if a <= b {
			return exOut{kind: exNoOutput}, true, branchTarget(d.pc, imm), nil
		}
		return exOut{kind: exNoOutput}, false, 0, nil
	case arch.OpLB, arch.OpLBU, arch.OpLH, arch.OpLHU, arch.OpLW:
		size := loadSize(d.fn)
		return exOut{kind: exLoadFrom, addr: a + sext(imm), size: size}, false, 0, nil
	case arch.OpSB, arch.OpSH, arch.OpSW:
		size := storeSize(d.fn)
		return exOut{kind: exStoreValue, addr: a + sext(imm), size: size, storeVal: b}, false, 0, nil
	default:
		return exOut{}, false, 0, cpuerr.NewUnrecognizedOPError(hexFn(d.fn))
	}
}

func branchTarget(pc uint32, imm uint32) uint32 {
	return pc + 4 + (sext(imm) << 2)
}

func sext(imm uint32) uint32 { return bytesutil.SignExtend16(imm) }

func loadSize(op uint32) int {
	switch op {
	case arch.OpLB, arch.OpLBU:
		return 1
	case arch.OpLH, arch.OpLHU:
		return 2
	default:
		return 4
	}
}

func storeSize(op uint32) int {
	switch op {
	case arch.OpSB:
		return 1
	case arch.OpSH:
		return 2
	default:
		return 4
	}
}

func hexFn(v uint32) string {
	const digits = "0123456789abcdef"
	buf := make([]byte, 0, 8)
	started := false
	for shift := 28; shift >= 0; shift -= 4 {
		d := digits[(v>>uint(shift))&0xf]
		if d != '0' || started || shift == 0 {
			buf = append(buf, d)
			started = true
		}
	}
	return "0x" + string(buf)
}

// ---- Memory ----

type memStage struct {
	isPrivileged bool

	latchInEXOUT   exOut
	latchInRDest   destResult
	latchInInstrID int

	latchOutWB      exOut
	latchOutRDest   destResult
	latchOutInstrID int
}

func (s *memStage) tick(mem *memory.Memory) error {
	mem.SetPrivileged(s.isPrivileged)
	switch s.latchInEXOUT.kind {
	case exLoadFrom:
		v, err := mem.LoadWord(s.latchInEXOUT.addr, s.latchInEXOUT.size)
		if err != nil {
			return cpuerr.WrapMemError(err.(*cpuerr.MemError))
		}
		s.latchOutWB = exOut{kind: exValue, value: v}
	case exStoreValue:
		if err := mem.StoreWord(s.latchInEXOUT.addr, s.latchInEXOUT.size, s.latchInEXOUT.storeVal); err != nil {
			return cpuerr.WrapMemError(err.(*cpuerr.MemError))
		}
		s.latchOutWB = exOut{kind: exNoOutput}
	default:
		s.latchOutWB = s.latchInEXOUT
	}
	s.latchOutRDest = s.latchInRDest
	s.latchOutInstrID = s.latchInInstrID
	return nil
}

// ---- Write-Back ----

type wbStage struct {
	latchInWB      exOut
	latchInRDest   destResult
	latchInInstrID int

	latchOutWBContents exOut
	latchOutRDest      destResult
	latchOutInstrID    int
}

func (s *wbStage) tick() error {
	if s.latchInRDest.present && !s.latchInRDest.owned {
		// The decode/bcast step should have resolved this before the
		// instruction reached WB; a still-Locked dest here is a pipeline
		// bug, not a program bug.
		panic("register reached write-back still locked, not owned")
	}
	s.latchOutWBContents = s.latchInWB
	s.latchOutRDest = s.latchInRDest
	s.latchOutInstrID = s.latchInInstrID
	return nil
}
