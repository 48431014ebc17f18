// Package arch holds the fixed architectural constants of the emulated
// machine: opcode encodings, register aliases, flag bit positions, the
// default trap handler bytecode and the stack reservation size.
package arch

// Flag bits. Only these positions of the 32-bit flags word are defined;
// the remainder are reserved.
//
//	0 1 2 3 4 5 ...
//	Z|S|INTERR|IENABLE|MODE|FIN|
const (
	ZFlag       = 1 << 0
	SFlag       = 1 << 1
	InterrFlag  = 1 << 2
	IEnableFlag = 1 << 3
	ModeFlag    = 1 << 4
	FinFlag     = 1 << 5
)

// STACKSIZE is the size in bytes of the protected stack region reserved
// immediately after the default trap handler blob.
const STACKSIZE = 512

// HIIdent and LOIdent are the scoreboard register numbers used to address
// the HI/LO auxiliary registers.
const (
	HIIdent = 33
	LOIdent = 34
)

// Register name aliases, in prose order.
const (
	ZERO = 0
	AT   = 1
	V0   = 2
	V1   = 3
	A0   = 4
	A1   = 5
	A2   = 6
	A3   = 7
	T0   = 8
	T1   = 9
	T2   = 10
	T3   = 11
	T4   = 12
	T5   = 13
	T6   = 14
	T7   = 15
	S0   = 16
	S1   = 17
	S2   = 18
	S3   = 19
	S4   = 20
	S5   = 21
	S6   = 22
	S7   = 23
	S8   = 24
	S9   = 25
	K0   = 26
	K1   = 27
	GP   = 28
	SP   = 29
	FP   = 30
	RA   = 31
)

// Full-instruction constants for operations with no register operands of
// interest at dispatch time.
const (
	OpNOP     = 0x00000000
	OpRFE     = 0x42000001
	OpHLT     = 0x42000010
	OpSYSCALL = 0x68000000
)

// R-type function-field opcodes (code[5:0]).
const (
	FnADD   = 0b100000
	FnADDU  = 0b100001
	FnAND   = 0b100100
	FnNOR   = 0b100111
	FnOR    = 0b100101
	FnSUB   = 0b100010
	FnSUBU  = 0b100011
	FnXOR   = 0b100110
	FnSLT   = 0b101010
	FnSLTU  = 0b101001
	FnDIV   = 0b011010
	FnDIVU  = 0b011011
	FnMULT  = 0b011000
	FnMULTU = 0b011001
	FnSLL   = 0b000000
	FnSRA   = 0b000011
	FnSRAV  = 0b000111
	FnSRLV  = 0b000110
	FnJALR  = 0b001001
	FnJR    = 0b001000
	FnMFHI  = 0b010000
	FnMFLO  = 0b010010
	FnMTHI  = 0b010001
	FnMTLO  = 0b010011
)

// I-type primary opcodes (code[31:26]).
const (
	OpADDI  = 0b001000
	OpADDIU = 0b001001
	OpANDI  = 0b001100
	OpORI   = 0b001101
	OpXORI  = 0b001110
	OpSLTI  = 0b001010
	OpSLTIU = 0b001011
	OpLHI   = 0b011001
	OpLLO   = 0b011000
	OpBEQ   = 0b000100
	OpBNE   = 0b000101
	OpBGTZ  = 0b000111
	OpBLEZ  = 0b000110
	OpLB    = 0b100000
	OpLBU   = 0b100100
	OpLH    = 0b100001
	OpLHU   = 0b100101
	OpLW    = 0b100011
	OpSB    = 0b101000
	OpSH    = 0b101001
	OpSW    = 0b101011
)

// J-type primary opcodes (code[31:26]).
const (
	OpJ   = 0b000010
	OpJAL = 0b000011
)

// DefaultIRQH is the fixed default trap handler blob installed at
// irq_handler_addr (address 0) at startup. It dispatches syscall codes in
// V0 to the console device (print int/float/double/string, exit, read) and
// returns via RFE. Byte-identical to the original machine's handler.
var DefaultIRQH = [172]byte{
	0x24, 0x1a, 0x00, 0x01, // addiu 26, 0, 1
	0x10, 0x5a, 0x00, 0x0a, // beq 2, 26, printint
	0x24, 0x1a, 0x00, 0x02, // addiu 26, 0, 2
	0x10, 0x5a, 0x00, 0x0d, // beq 2, 26, printfloat
	0x24, 0x1a, 0x00, 0x03, // addiu 26, 0, 3
	0x10, 0x5a, 0x00, 0x11, // beq 2, 26, printdouble
	0x24, 0x1a, 0x00, 0x04, // addiu 26, 0, 4
	0x10, 0x5a, 0x00, 0x15, // beq 2, 26, printstring
	0x24, 0x1a, 0x00, 0x0a, // addiu 26, 0, 10
	0x10, 0x5a, 0x00, 0x20, // beq 2, 26, stop
	0x24, 0x1a, 0x00, 0x0b, // addiu 26, 0, 11
	0x10, 0x5a, 0x00, 0x11, // beq 2, 26, printstring
	0x24, 0x01, 0x80, 0x00, // addiu 1, 0, 32768
	0x00, 0x01, 0x0c, 0x00, // sll 1, 1, 16
	0x34, 0x3a, 0x00, 0x00, // ori 26, 1, 0
	0xa3, 0x40, 0x00, 0x04, // sb 0, 4(26)
	0x08, 0x00, 0x00, 0x23, // j print
	0x24, 0x01, 0x80, 0x00, // addiu 1, 0, 32768
	0x00, 0x01, 0x0c, 0x00, // sll 1, 1, 16
	0x34, 0x3a, 0x00, 0x00, // ori 26, 1, 0
	0x24, 0x1b, 0x00, 0x01, // addiu 27, 0, 1
	0xa3, 0x5b, 0x00, 0x04, // sb 27, 4(26)
	0x08, 0x00, 0x00, 0x23, // j print
	0x24, 0x01, 0x80, 0x00, // addiu 1, 0, 32768
	0x00, 0x01, 0x0c, 0x00, // sll 1, 1, 16
	0x34, 0x3a, 0x00, 0x00, // ori 26, 1, 0
	0x24, 0x1b, 0x00, 0x02, // addiu 27, 0, 2
	0xa3, 0x5b, 0x00, 0x04, // sb 27, 4(26)
	0x08, 0x00, 0x00, 0x23, // j print
	0x24, 0x01, 0x80, 0x00, // addiu 1, 0, 32768
	0x00, 0x01, 0x0c, 0x00, // sll 1, 1, 16
	0x34, 0x3a, 0x00, 0x00, // ori 26, 1, 0
	0x24, 0x1b, 0x00, 0x03, // addiu 27, 0, 3
	0xa3, 0x5b, 0x00, 0x04, // sb 27, 4(26)
	0x08, 0x00, 0x00, 0x23, // j print
	0x24, 0x01, 0x80, 0x00, // addiu 1, 0, 32768
	0x00, 0x01, 0x0c, 0x00, // sll 1, 1, 16
	0x34, 0x3a, 0x00, 0x00, // ori 26, 1, 0
	0x8c, 0x9b, 0x00, 0x00, // lw 27, 0(4)
	0xaf, 0x5b, 0x00, 0x00, // sw 27, 0(26)
	0x08, 0x00, 0x00, 0x29, // j exitirq
	0x42, 0x00, 0x00, 0x01, // rfe
	0x42, 0x00, 0x00, 0x10, // hlt
}
