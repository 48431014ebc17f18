// Package interp implements the single-cycle interpreter core: the
// fetch-decode-execute-retire loop sharing architectural state, memory and
// trap semantics with the pipeline core.
package interp

import (
	"log/slog"

	"github.com/axemt/mipsr3000emu/emu/arch"
	"github.com/axemt/mipsr3000emu/emu/bytesutil"
	"github.com/axemt/mipsr3000emu/emu/cpuerr"
	"github.com/axemt/mipsr3000emu/emu/devices"
	"github.com/axemt/mipsr3000emu/emu/memory"
	"github.com/axemt/mipsr3000emu/emu/registers"
)

// Stats counts externally observable progress, used to check the pipeline
// and interpreter agree on instruction counts for non-timing-sensitive programs.
type Stats struct {
	Cycles       uint64
	Instructions uint64
}

// CPU is the single-cycle interpreter's full architectural state.
type CPU struct {
	Regs *registers.Registers
	Mem  *memory.Memory

	PC             uint32
	EPC            uint32
	Flags          uint32
	IRQHandlerAddr uint32

	Stats Stats

	pulses         <-chan devices.Pulse
	prevWasRFE     bool
	rfeDeferActive bool

	interruptor *devices.Interruptor
}

// New builds a CPU with a fresh memory and register file, installs the
// default trap handler at irqHandlerAddr (default 0) and reserves the
// stack immediately after it, matching the architectural startup sequence.
func New(irqHandlerAddr uint32) *CPU {
	c := &CPU{
		Regs:           registers.New(),
		Mem:            memory.New(),
		IRQHandlerAddr: irqHandlerAddr,
	}
	c.installDefaultHandler()
	return c
}

func (c *CPU) installDefaultHandler() {
	c.Mem.SetPrivileged(true)
	blob := arch.DefaultIRQH[:]
	_ = c.Mem.Store(c.IRQHandlerAddr, len(blob), blob)
	stackBase := c.IRQHandlerAddr + uint32(len(blob)) + 8
	c.Mem.Protect(c.IRQHandlerAddr, stackBase-4)

	slog.Debug("interp: reserving stack", "base", stackBase, "size", arch.STACKSIZE)
	c.Mem.Protect(stackBase, stackBase+arch.STACKSIZE)

	_, _ = c.Regs.LockForWrite(arch.SP, 0)
	_ = c.Regs.WriteAndUnlock(arch.SP, stackBase, 0)
	c.Mem.SetPrivileged(false)

	console := devices.NewConsole()
	lo, hi := console.Range()
	c.Mem.MapDevice(lo, hi, console)
}

// AttachInterruptSource wires a pulse channel consumed non-blockingly at
// the end of every retired instruction, and the Interruptor owning it (so
// HLT can request its shutdown).
func (c *CPU) AttachInterruptSource(pulses <-chan devices.Pulse, src *devices.Interruptor) {
	c.pulses = pulses
	c.interruptor = src
}

func (c *CPU) flagSet(bit uint32) bool  { return c.Flags&bit != 0 }
func (c *CPU) setFlag(bit uint32)       { c.Flags |= bit }
func (c *CPU) clearFlag(bit uint32)     { c.Flags &^= bit }
func (c *CPU) updateZS(result uint32) {
	if result == 0 {
		c.setFlag(arch.ZFlag)
	} else {
		c.clearFlag(arch.ZFlag)
	}
	if int32(result) < 0 {
		c.setFlag(arch.SFlag)
	} else {
		c.clearFlag(arch.SFlag)
	}
}

// Run executes instructions until FIN is set or an unrecovered error occurs.
func (c *CPU) Run() error {
	for {
		done, err := c.Step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// Step executes exactly one retirement of the main loop described in the
// component design: fetch, decode+execute, advance PC, handle
// RFE-deferral and pending interrupts. Returns done=true once FIN is set.
func (c *CPU) Step() (done bool, err error) {
	raw, err := c.Mem.Load(c.PC, 4)
	if err != nil {
		return false, cpuerr.WrapMemError(err.(*cpuerr.MemError))
	}
	code := bytesutil.FromWord(raw)

	wasRFE := code == arch.OpRFE

	if err := c.execute(code); err != nil {
		return false, err
	}

	c.PC += 4
	_ = c.Regs.WriteAndUnlock(arch.ZERO, 0, 0) // defensive reset, always a no-op

	c.Stats.Cycles++
	c.Stats.Instructions++

	if c.flagSet(arch.FinFlag) {
		return true, nil
	}

	if c.rfeDeferActive {
		c.setFlag(arch.IEnableFlag)
		c.rfeDeferActive = false
	}
	if wasRFE {
		c.rfeDeferActive = true
	}

	if c.flagSet(arch.IEnableFlag) && !c.flagSet(arch.ModeFlag) {
		select {
		case <-c.pulses:
			c.setFlag(arch.InterrFlag)
			c.PC -= 4
			c.interrupt()
		default:
		}
	}

	return false, nil
}

// interrupt is the trap-entry sequence used by the clock interrupt. SYSCALL
// performs the same steps inline in execute.
func (c *CPU) interrupt() {
	c.setFlag(arch.ModeFlag)
	c.Mem.SetPrivileged(true)
	c.clearFlag(arch.IEnableFlag)
	c.EPC = c.PC
	c.PC = c.IRQHandlerAddr - 4
}

func (c *CPU) doRFE() error {
	if !c.flagSet(arch.ModeFlag) {
		return cpuerr.NewPrivilegeError("RFE")
	}
	c.PC = c.EPC - 4 // compensate for the +4 applied after execute
	c.clearFlag(arch.ModeFlag)
	c.clearFlag(arch.InterrFlag)
	c.Mem.SetPrivileged(false)
	return nil
}

func (c *CPU) doHLT() error {
	if !c.flagSet(arch.ModeFlag) {
		return cpuerr.NewPrivilegeError("HLT")
	}
	if c.interruptor != nil {
		c.interruptor.Stop()
	}
	c.clearFlag(arch.ModeFlag)
	c.setFlag(arch.FinFlag)
	return nil
}

func sext(imm uint32) uint32 { return bytesutil.SignExtend16(imm) }

func (c *CPU) reg(n uint32) (uint32, error) {
	v, err := c.Regs.Fetch(n)
	return v.Value, err
}

func (c *CPU) execute(code uint32) error {
	switch code {
	case arch.OpNOP:
		return nil
	case arch.OpSYSCALL:
		c.EPC = c.PC
		c.setFlag(arch.ModeFlag)
		c.Mem.SetPrivileged(true)
		c.clearFlag(arch.IEnableFlag)
		c.PC = c.IRQHandlerAddr - 4
		return nil
	case arch.OpRFE:
		return c.doRFE()
	case arch.OpHLT:
		return c.doHLT()
	}

	maskOP := code >> 26
	switch {
	case maskOP == 0:
		return c.execR(code)
	case maskOP == arch.OpJ || maskOP == arch.OpJAL:
		return c.execJ(code, maskOP)
	default:
		return c.execI(code, maskOP)
	}
}

func (c *CPU) execR(code uint32) error {
	rs := (code >> 21) & 0x1f
	rt := (code >> 16) & 0x1f
	rd := (code >> 11) & 0x1f
	sham := (code >> 6) & 0x1f
	fn := code & 0x3f

	a, err := c.reg(rs)
	if err != nil {
		return cpuerr.WrapRegisterError(err.(*cpuerr.RegisterError))
	}
	b, err := c.reg(rt)
	if err != nil {
		return cpuerr.WrapRegisterError(err.(*cpuerr.RegisterError))
	}

	var result uint32
	updateFlags := true
	writeTo := rd

	switch fn {
	case arch.FnADD, arch.FnADDU:
		// ADD/ADDU: rd := rs + rt (wrapping); the source idiosyncratically
		// branches on the sign of rt to pick add vs. subtract-the-negation,
		// which is numerically identical to plain wrapping addition.
		result = a + b
	case arch.FnSUB, arch.FnSUBU:
		result = a - b
	case arch.FnAND:
		result = a & b
	case arch.FnOR:
		result = a | b
	case arch.FnXOR:
		result = a ^ b
	case arch.FnNOR:
		result = ^(a | b)
	case arch.FnSLT:
		if int32(a) < int32(b) {
			result = 1
		}
	case arch.FnSLTU:
		if a < b {
			result = 1
		}
	case arch.FnSLL:
		result = b << sham
	case arch.FnSRA:
		result = uint32(int32(b) >> sham)
	case arch.FnSRAV:
		result = uint32(int32(b) >> (a & 0x1f))
	case arch.FnSRLV:
		result = b >> (a & 0x1f)
	case arch.FnDIV:
		updateFlags = false
		return c.execDiv(int32(a), int32(b), true)
	case arch.FnDIVU:
		updateFlags = false
		return c.execDiv(int32(a), int32(b), false)
	case arch.FnMULT:
		updateFlags = false
		return c.execMul(a, b, true)
	case arch.FnMULTU:
		updateFlags = false
		return c.execMul(a, b, false)
	case arch.FnJR:
		updateFlags = false
		c.PC = a - 4
		if a == 0 {
			c.PC = 0
		}
		return nil
	case arch.FnJALR:
		updateFlags = false
		ret := c.PC + 4
		if err := c.writeReg(arch.RA, ret); err != nil {
			return err
		}
		c.PC = a - 4
		if a == 0 {
			c.PC = 0
		}
		return nil
	case arch.FnMFHI:
		updateFlags = false
		hi, err := c.reg(arch.HIIdent)
		if err != nil {
			return cpuerr.WrapRegisterError(err.(*cpuerr.RegisterError))
		}
		return c.writeReg(rd, hi)
	case arch.FnMFLO:
		updateFlags = false
		lo, err := c.reg(arch.LOIdent)
		if err != nil {
			return cpuerr.WrapRegisterError(err.(*cpuerr.RegisterError))
		}
		return c.writeReg(rd, lo)
	case arch.FnMTHI:
		updateFlags = false
		return c.writeReg(arch.HIIdent, a)
	case arch.FnMTLO:
		updateFlags = false
		return c.writeReg(arch.LOIdent, a)
	default:
		return cpuerr.NewUnrecognizedOPError(hexFn(fn))
	}

	if updateFlags {
		c.updateZS(result)
	}
	return c.writeReg(writeTo, result)
}

func (c *CPU) execDiv(a, b int32, signed bool) error {
	var quot, rem uint32
	if b == 0 {
		// Divide-by-zero policy decision (spec.md raises this as an open
		// question): LO/HI take the conventional hardware-undefined
		// values of 0 and the dividend, rather than trapping.
		quot, rem = 0, uint32(a)
	} else if signed {
		quot, rem = uint32(a/b), uint32(a%b)
	} else {
		quot, rem = uint32(uint32(a)/uint32(b)), uint32(uint32(a)%uint32(b))
	}
	if err := c.writeReg(arch.LOIdent, quot); err != nil {
		return err
	}
	return c.writeReg(arch.HIIdent, rem)
}

func (c *CPU) execMul(a, b uint32, signed bool) error {
	var product uint64
	if signed {
		product = uint64(int64(int32(a)) * int64(int32(b)))
	} else {
		product = uint64(a) * uint64(b)
	}
	if err := c.writeReg(arch.HIIdent, uint32(product>>32)); err != nil {
		return err
	}
	return c.writeReg(arch.LOIdent, uint32(product))
}

func (c *CPU) execJ(code uint32, maskOP uint32) error {
	target := (code & 0x03FFFFFF) << 2
	if maskOP == arch.OpJAL {
		if err := c.writeReg(arch.RA, c.PC+4); err != nil {
			return err
		}
	}
	c.PC = target - 4
	if target == 0 {
		c.PC = 0
	}
	return nil
}

func (c *CPU) execI(code uint32, op uint32) error {
	rs := (code >> 21) & 0x1f
	rt := (code >> 16) & 0x1f
	imm := code & 0xffff

	a, err := c.reg(rs)
	if err != nil {
		return cpuerr.WrapRegisterError(err.(*cpuerr.RegisterError))
	}

	switch op {
	case arch.OpADDI, arch.OpADDIU:
		return c.writeReg(rt, a+sext(imm))
	case arch.OpANDI:
		return c.writeReg(rt, a&imm)
	case arch.OpORI:
		return c.writeReg(rt, a|imm)
	case arch.OpXORI:
		return c.writeReg(rt, a^imm)
	case arch.OpSLTI:
		if int32(a) < int32(imm) {
			return c.writeReg(rt, 1)
		}
		return c.writeReg(rt, 0)
	case arch.OpSLTIU:
		if a < imm {
			return c.writeReg(rt, 1)
		}
		return c.writeReg(rt, 0)
	case arch.OpLHI:
		return c.writeReg(rt, imm<<16)
	case arch.OpLLO:
		return c.writeReg(rt, imm)
	case arch.OpBEQ, arch.OpBNE:
		b, err := c.reg(rt)
		if err != nil {
			return cpuerr.WrapRegisterError(err.(*cpuerr.RegisterError))
		}
		taken := (op == arch.OpBEQ && a == b) || (op == arch.OpBNE && a != b)
		if taken {
			c.branch(imm)
		}
		return nil
	case arch.OpBGTZ:
		// Preserved as an unsigned compare per the open question in
		// DESIGN.md: the source never reinterprets rs as signed here.
		if a > 0 {
			c.branch(imm)
		}
		return nil
	case arch.OpBLEZ:
		b, err := c.reg(rt)
		if err != nil {
			return cpuerr.WrapRegisterError(err.(*cpuerr.RegisterError))
		}
		if a <= b {
			c.branch(imm)
		}
		return nil
	case arch.OpLB, arch.OpLBU, arch.OpLH, arch.OpLHU, arch.OpLW:
		size := map[uint32]int{arch.OpLB: 1, arch.OpLBU: 1, arch.OpLH: 2, arch.OpLHU: 2, arch.OpLW: 4}[op]
		addr := a + sext(imm)
		v, err := c.Mem.LoadWord(addr, size)
		if err != nil {
			return cpuerr.WrapMemError(err.(*cpuerr.MemError))
		}
		return c.writeReg(rt, v)
	case arch.OpSB, arch.OpSH, arch.OpSW:
		size := map[uint32]int{arch.OpSB: 1, arch.OpSH: 2, arch.OpSW: 4}[op]
		addr := a + sext(imm)
		b, err := c.reg(rt)
		if err != nil {
			return cpuerr.WrapRegisterError(err.(*cpuerr.RegisterError))
		}
		if err := c.Mem.StoreWord(addr, size, b); err != nil {
			return cpuerr.WrapMemError(err.(*cpuerr.MemError))
		}
		return nil
	default:
		return cpuerr.NewUnrecognizedOPError(hexFn(op))
	}
}

func (c *CPU) branch(imm uint32) {
	// Taken branches follow the same minus-4 pre-decrement convention as
	// jumps: the target is the address after the branch plus the
	// displacement, and the retire step (PC += 4) restores it.
	disp := sext(imm) << 2
	target := c.PC + 4 + disp
	c.PC = target - 4
}

func (c *CPU) writeReg(n uint32, v uint32) error {
	if _, err := c.Regs.LockForWrite(n, 0); err != nil {
		return cpuerr.WrapRegisterError(err.(*cpuerr.RegisterError))
	}
	if err := c.Regs.WriteAndUnlock(n, v, 0); err != nil {
		return cpuerr.WrapRegisterError(err.(*cpuerr.RegisterError))
	}
	return nil
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
