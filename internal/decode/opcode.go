// Package decode translates a flash byte image into a random-access table
// of pre-decoded instruction records. Decoding happens once, at load time
// (DecodeFlash), not per step, so the execution engine never re-parses a
// word it has already visited.
package decode

// ID selects an opcode handler. Handlers live in internal/core, indexed by
// ID; the record only ever stores the id, never a function pointer, so
// individual opcodes are trivial to exercise in isolation.
type ID int

const (
	Illegal ID = iota
	Nop
	Syscall

	// zero-operand family
	ICall
	IJmp
	Ret
	Reti
	Lpm
	Elpm
	Sleep
	Wdr
	Spm
	Break
	EICall
	EIJmp
	ESpm

	// two-register ALU family
	Adc
	Add
	And
	Cp
	Cpc
	Cpse
	Eor
	Mov
	Mul
	Or
	Sbc
	Sub
	Lsl
	Rol
	Clr
	Tst

	// single-register family
	Asr
	Com
	Dec
	ElpmZ
	ElpmZInc
	Inc
	Lds
	LdX
	LdXDec
	LdXInc
	LdYDec
	LdYInc
	LdZDec
	LdZInc
	LpmZ
	LpmZInc
	Lsr
	Neg
	Pop
	Push
	Ror
	Sts
	StX
	StXDec
	StXInc
	StYDec
	StYInc
	StZDec
	StZInc
	Swap

	// register + 8-bit constant family
	Cpi
	Sbci
	Subi
	Ori
	Andi
	Ldi

	// bit-indexed register ops
	Bld
	Bst
	Sbrc
	Sbrs

	// conditional branch
	Brbs
	Brbc

	// displacement LDD/STD
	LddY
	LddZ
	StdY
	StdZ

	// 22-bit absolute
	Jmp
	Call

	// SREG bit set/clear, DES
	Bset
	Bclr
	Des

	// word-pair immediate
	Adiw
	Sbiw

	// 5-bit I/O, bit-indexed
	Cbi
	Sbi
	Sbic
	Sbis

	// 6-bit I/O, register
	In
	Out

	// 12-bit relative
	Rcall
	Rjmp

	// 4-bit/3-bit register family
	Movw
	Muls
	Mulsu
	Fmul
	Fmuls
	Fmulsu

	numOpcodes
)

// Record is one pre-decoded flash slot. Operand1/Operand2 hold whatever the
// opcode's handler needs: register numbers, bit masks, signed offsets, or
// (for JMP/CALL/LDS/STS) the 16-bit extension word fetched from the
// following flash slot.
type Record struct {
	Op       ID
	Operand1 byte
	Operand2 uint16
	Words    byte // 1 or 2; decides how far PC advances for a straight-line fetch
}

// Info carries the static word count and cycle cost consulted by the
// execution engine before a handler runs; some opcodes charge an
// additional cycle conditionally (skip-taken, branch-taken, CALL/RET on a
// 22-bit-PC part) inside their handler.
type Info struct {
	Words  byte
	Cycles byte
}

// infoTable mirrors the source's opcode_func_array: cycle counts and word
// sizes kept in a parallel read-only table, not embedded in the enum.
var infoTable = [numOpcodes]Info{
	Illegal: {1, 1},
	Nop:     {1, 1},
	Syscall: {2, 1},

	ICall: {1, 3}, IJmp: {1, 2}, Ret: {1, 4}, Reti: {1, 4},
	Lpm: {1, 3}, Elpm: {1, 3}, Sleep: {1, 1}, Wdr: {1, 1},
	Spm: {1, 1}, Break: {1, 1}, EICall: {1, 3}, EIJmp: {1, 2}, ESpm: {1, 1},

	Adc: {1, 1}, Add: {1, 1}, And: {1, 1}, Cp: {1, 1}, Cpc: {1, 1},
	Cpse: {1, 1}, Eor: {1, 1}, Mov: {1, 1}, Mul: {1, 2}, Or: {1, 1},
	Sbc: {1, 1}, Sub: {1, 1}, Lsl: {1, 1}, Rol: {1, 1}, Clr: {1, 1}, Tst: {1, 1},

	Asr: {1, 1}, Com: {1, 1}, Dec: {1, 1}, ElpmZ: {1, 3}, ElpmZInc: {1, 3},
	Inc: {1, 1}, Lds: {2, 2}, LdX: {1, 2}, LdXDec: {1, 2}, LdXInc: {1, 2},
	LdYDec: {1, 2}, LdYInc: {1, 2}, LdZDec: {1, 2}, LdZInc: {1, 2},
	LpmZ: {1, 3}, LpmZInc: {1, 3}, Lsr: {1, 1}, Neg: {1, 1}, Pop: {1, 2}, Push: {1, 2},
	Ror: {1, 1}, Sts: {2, 2}, StX: {1, 2}, StXDec: {1, 2}, StXInc: {1, 2},
	StYDec: {1, 2}, StYInc: {1, 2}, StZDec: {1, 2}, StZInc: {1, 2}, Swap: {1, 1},

	Cpi: {1, 1}, Sbci: {1, 1}, Subi: {1, 1}, Ori: {1, 1}, Andi: {1, 1}, Ldi: {1, 1},

	Bld: {1, 1}, Bst: {1, 1}, Sbrc: {1, 1}, Sbrs: {1, 1},

	Brbs: {1, 1}, Brbc: {1, 1},

	LddY: {1, 2}, LddZ: {1, 2}, StdY: {1, 2}, StdZ: {1, 2},

	Jmp: {2, 3}, Call: {2, 4},

	Bset: {1, 1}, Bclr: {1, 1}, Des: {1, 1},

	Adiw: {1, 2}, Sbiw: {1, 2},

	Cbi: {1, 2}, Sbi: {1, 2}, Sbic: {1, 1}, Sbis: {1, 1},

	In: {1, 1}, Out: {1, 1},

	Rcall: {1, 3}, Rjmp: {1, 2},

	Movw: {1, 1}, Muls: {1, 2}, Mulsu: {1, 2}, Fmul: {1, 2}, Fmuls: {1, 2}, Fmulsu: {1, 2},
}

// InfoOf returns the static word count and cycle cost for id.
func InfoOf(id ID) Info { return infoTable[id] }
