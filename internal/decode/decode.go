package decode

import "avrtest/internal/bitfield"

// zeroOperand is the dense table for step 2 of the classification ladder:
// 16-bit opcodes that take no operand fields at all.
var zeroOperand = map[uint16]ID{
	0x9509: ICall,
	0x9409: IJmp,
	0x9508: Ret,
	0x9518: Reti,
	0x95C8: Lpm,
	0x95D8: Elpm,
	0x9588: Sleep,
	0x95A8: Wdr,
	0x95E8: Spm,
	0x9598: Break,
	0x9519: EICall,
	0x9419: EIJmp,
	0x95F8: ESpm,
}

// twoRegisterFamily maps the 6-bit opcode prefix (bits 15..10) of a
// two-register ALU instruction to its id.
var twoRegisterFamily = map[uint16]ID{
	0b000111: Adc,
	0b000011: Add,
	0b001000: And,
	0b000101: Cp,
	0b000001: Cpc,
	0b000100: Cpse,
	0b001001: Eor,
	0b001011: Mov,
	0b100111: Mul,
	0b001010: Or,
	0b000010: Sbc,
	0b000110: Sub,
}

// DecodeFlash decodes every instruction word in flash[codeStart:codeEnd)
// into a table indexed by word address (byte offset / 2). Slots outside
// [codeStart, codeEnd) hold Illegal; the extension word of a 32-bit
// instruction is decoded as an instruction of its own.
func DecodeFlash(flash []byte, codeStart, codeEnd int) []Record {
	records := make([]Record, len(flash)/2)
	for i := codeStart; i+1 < codeEnd; i += 2 {
		w1 := uint16(flash[i]) | uint16(flash[i+1])<<8
		var w2 uint16
		if i+3 < len(flash) {
			w2 = uint16(flash[i+2]) | uint16(flash[i+3])<<8
		}
		records[i/2] = decodeOne(w1, w2)
	}
	return records
}

func decodeOne(w1, w2 uint16) Record {
	if w1 == 0x0000 {
		return Record{Op: Nop, Words: 1}
	}

	if id, ok := zeroOperand[w1]; ok {
		return Record{Op: id, Words: 1}
	}

	if id, ok := twoRegisterFamily[bitfield.Bits(w1, 10, 15)]; ok {
		d := byte(bitfield.Bits(w1, 4, 8))
		r := byte(bitfield.Bits(w1, 0, 3)) | byte(bitfield.Bit(w1, 9)<<4)

		// CPSE Rd,Rd followed by the reserved invalid opcode is the
		// in-band SYSCALL contract.
		if id == Cpse && d == r && w2 == 0xFFFF {
			return Record{Op: Syscall, Operand1: d, Words: 2}
		}

		switch {
		case id == Add && d == r:
			id = Lsl
		case id == Adc && d == r:
			id = Rol
		case id == Eor && d == r:
			id = Clr
		case id == And && d == r:
			id = Tst
		}
		return Record{Op: id, Operand1: d, Operand2: uint16(r), Words: 1}
	}

	if rec, ok := decodeSingleRegister(w1, w2); ok {
		return rec
	}

	if rec, ok := decodeConstantFamily(w1); ok {
		return rec
	}

	if bitfield.Bits(w1, 11, 15) == 0b11111 {
		d := byte(bitfield.Bits(w1, 4, 8))
		bit := uint16(1) << (w1 & 7)
		switch bitfield.Bits(w1, 9, 10) {
		case 0b00:
			return Record{Op: Bld, Operand1: d, Operand2: bit, Words: 1}
		case 0b01:
			return Record{Op: Bst, Operand1: d, Operand2: bit, Words: 1}
		case 0b10:
			return Record{Op: Sbrc, Operand1: d, Operand2: bit, Words: 1}
		case 0b11:
			return Record{Op: Sbrs, Operand1: d, Operand2: bit, Words: 1}
		}
	}

	if top6 := bitfield.Bits(w1, 10, 15); top6 == 0b111100 || top6 == 0b111101 {
		offset := bitfield.SignExtend(bitfield.Bits(w1, 3, 9), 7)
		bit := byte(w1 & 7)
		if top6 == 0b111100 {
			return Record{Op: Brbs, Operand1: bit, Operand2: uint16(offset), Words: 1}
		}
		return Record{Op: Brbc, Operand1: bit, Operand2: uint16(offset), Words: 1}
	}

	if rec, ok := decodeDisplacement(w1); ok {
		return rec
	}

	if top7 := bitfield.Bits(w1, 9, 15); top7 == 0b1001010 && bitfield.Bits(w1, 2, 3) == 0b11 {
		// kHigh carries k[21:16], split across bit8 (k21), bits7:4 (k20:17)
		// and bit0 (k16) around the fixed "11" at bits3:2. Operand2 (w2)
		// carries k[15:0]. The full word address is (kHigh<<16)|w2.
		kHigh := (bitfield.Bit(w1, 8) << 5) | (bitfield.Bits(w1, 4, 7) << 1) | bitfield.Bit(w1, 0)
		op := Jmp
		if bitfield.Bit(w1, 1) == 1 {
			op = Call
		}
		return Record{Op: op, Operand1: byte(kHigh), Operand2: w2, Words: 2}
	}

	if bitfield.Bits(w1, 8, 15) == 0x94 {
		switch w1 & 0xF {
		case 0b1000:
			bitIdx := byte(bitfield.Bits(w1, 4, 6))
			if bitfield.Bit(w1, 7) == 0 {
				return Record{Op: Bset, Operand1: bitIdx, Words: 1}
			}
			return Record{Op: Bclr, Operand1: bitIdx, Words: 1}
		case 0b1011:
			return Record{Op: Des, Operand1: byte(bitfield.Bits(w1, 4, 7)), Words: 1}
		}
	}

	if top8 := bitfield.Bits(w1, 8, 15); top8 == 0x96 || top8 == 0x97 {
		dd := byte(bitfield.Bits(w1, 4, 5))
		d := 24 + dd*2
		k := byte((bitfield.Bits(w1, 6, 7) << 4) | bitfield.Bits(w1, 0, 3))
		op := Adiw
		if top8 == 0x97 {
			op = Sbiw
		}
		return Record{Op: op, Operand1: d, Operand2: uint16(k), Words: 1}
	}

	if top8 := bitfield.Bits(w1, 8, 15); top8 == 0x98 || top8 == 0x99 || top8 == 0x9A || top8 == 0x9B {
		a := byte(bitfield.Bits(w1, 3, 7))
		bit := byte(w1 & 7)
		var op ID
		switch top8 {
		case 0x98:
			op = Cbi
		case 0x9A:
			op = Sbi
		case 0x99:
			op = Sbic
		case 0x9B:
			op = Sbis
		}
		return Record{Op: op, Operand1: a, Operand2: uint16(bit), Words: 1}
	}

	if bitfield.Bits(w1, 12, 15) == 0b1011 {
		hi2 := bitfield.Bits(w1, 9, 10)
		lo4 := bitfield.Bits(w1, 0, 3)
		a := byte((hi2 << 4) | lo4)
		d := byte(bitfield.Bits(w1, 4, 8))
		op := In
		if bitfield.Bit(w1, 11) == 1 {
			op = Out
		}
		return Record{Op: op, Operand1: d, Operand2: uint16(a), Words: 1}
	}

	if top4 := bitfield.Bits(w1, 12, 15); top4 == 0b1101 || top4 == 0b1100 {
		k12 := bitfield.SignExtend(bitfield.Bits(w1, 0, 11), 12)
		op := Rjmp
		if top4 == 0b1101 {
			op = Rcall
		}
		return Record{Op: op, Operand2: uint16(k12), Words: 1}
	}

	if rec, ok := decodeRegisterPairFamily(w1); ok {
		return rec
	}

	return Record{Op: Illegal, Words: 1}
}

func decodeSingleRegister(w1, w2 uint16) (Record, bool) {
	top7 := bitfield.Bits(w1, 9, 15)
	d := byte(bitfield.Bits(w1, 4, 8))
	low4 := w1 & 0xF

	switch top7 {
	case 0b1001000: // LD family / LDS / POP
		switch low4 {
		case 0x0:
			return Record{Op: Lds, Operand1: d, Operand2: w2, Words: 2}, true
		case 0x1:
			return Record{Op: LdZInc, Operand1: d, Words: 1}, true
		case 0x2:
			return Record{Op: LdZDec, Operand1: d, Words: 1}, true
		case 0x4:
			return Record{Op: LpmZ, Operand1: d, Words: 1}, true
		case 0x5:
			return Record{Op: LpmZInc, Operand1: d, Words: 1}, true
		case 0x6:
			return Record{Op: ElpmZ, Operand1: d, Words: 1}, true
		case 0x7:
			return Record{Op: ElpmZInc, Operand1: d, Words: 1}, true
		case 0x9:
			return Record{Op: LdYInc, Operand1: d, Words: 1}, true
		case 0xA:
			return Record{Op: LdYDec, Operand1: d, Words: 1}, true
		case 0xC:
			return Record{Op: LdX, Operand1: d, Words: 1}, true
		case 0xD:
			return Record{Op: LdXInc, Operand1: d, Words: 1}, true
		case 0xE:
			return Record{Op: LdXDec, Operand1: d, Words: 1}, true
		case 0xF:
			return Record{Op: Pop, Operand1: d, Words: 1}, true
		}
	case 0b1001001: // ST family / STS / PUSH
		switch low4 {
		case 0x0:
			return Record{Op: Sts, Operand1: d, Operand2: w2, Words: 2}, true
		case 0x1:
			return Record{Op: StZInc, Operand1: d, Words: 1}, true
		case 0x2:
			return Record{Op: StZDec, Operand1: d, Words: 1}, true
		case 0x9:
			return Record{Op: StYInc, Operand1: d, Words: 1}, true
		case 0xA:
			return Record{Op: StYDec, Operand1: d, Words: 1}, true
		case 0xC:
			return Record{Op: StX, Operand1: d, Words: 1}, true
		case 0xD:
			return Record{Op: StXInc, Operand1: d, Words: 1}, true
		case 0xE:
			return Record{Op: StXDec, Operand1: d, Words: 1}, true
		case 0xF:
			return Record{Op: Push, Operand1: d, Words: 1}, true
		}
	case 0b1001010: // single-operand ALU (JMP/CALL are carved out by the caller first)
		switch low4 {
		case 0x0:
			return Record{Op: Com, Operand1: d, Words: 1}, true
		case 0x1:
			return Record{Op: Neg, Operand1: d, Words: 1}, true
		case 0x2:
			return Record{Op: Swap, Operand1: d, Words: 1}, true
		case 0x3:
			return Record{Op: Inc, Operand1: d, Words: 1}, true
		case 0x5:
			return Record{Op: Asr, Operand1: d, Words: 1}, true
		case 0x6:
			return Record{Op: Lsr, Operand1: d, Words: 1}, true
		case 0x7:
			return Record{Op: Ror, Operand1: d, Words: 1}, true
		case 0xA:
			return Record{Op: Dec, Operand1: d, Words: 1}, true
		}
	}
	return Record{}, false
}

func decodeConstantFamily(w1 uint16) (Record, bool) {
	top4 := bitfield.Bits(w1, 12, 15)
	var op ID
	switch top4 {
	case 0x3:
		op = Cpi
	case 0x4:
		op = Sbci
	case 0x5:
		op = Subi
	case 0x6:
		op = Ori
	case 0x7:
		op = Andi
	case 0xE:
		op = Ldi
	default:
		return Record{}, false
	}
	d := byte(16 + bitfield.Bits(w1, 4, 7))
	k := byte((bitfield.Bits(w1, 8, 11) << 4) | bitfield.Bits(w1, 0, 3))
	return Record{Op: op, Operand1: d, Operand2: uint16(k), Words: 1}, true
}

func decodeDisplacement(w1 uint16) (Record, bool) {
	// LDD/STD: 10q0 qq_d dddd _qqq, with the store/load bit at position 9
	// and the Y/Z selector at position 3.
	if bitfield.Bits(w1, 14, 15) != 0b10 || bitfield.Bit(w1, 12) != 0 {
		return Record{}, false
	}
	q := (bitfield.Bit(w1, 13) << 5) | (bitfield.Bits(w1, 10, 11) << 3) | bitfield.Bits(w1, 0, 2)
	d := byte(bitfield.Bits(w1, 4, 8))
	isStore := bitfield.Bit(w1, 9) == 1
	isY := bitfield.Bit(w1, 3) == 1

	switch {
	case !isStore && isY:
		return Record{Op: LddY, Operand1: d, Operand2: q, Words: 1}, true
	case !isStore && !isY:
		return Record{Op: LddZ, Operand1: d, Operand2: q, Words: 1}, true
	case isStore && isY:
		return Record{Op: StdY, Operand1: d, Operand2: q, Words: 1}, true
	default:
		return Record{Op: StdZ, Operand1: d, Operand2: q, Words: 1}, true
	}
}

func decodeRegisterPairFamily(w1 uint16) (Record, bool) {
	top8 := bitfield.Bits(w1, 8, 15)
	switch top8 {
	case 0x01:
		d := byte(bitfield.Bits(w1, 4, 7)) * 2
		r := byte(bitfield.Bits(w1, 0, 3)) * 2
		return Record{Op: Movw, Operand1: d, Operand2: uint16(r), Words: 1}, true
	case 0x02:
		d := byte(16 + bitfield.Bits(w1, 4, 7))
		r := byte(16 + bitfield.Bits(w1, 0, 3))
		return Record{Op: Muls, Operand1: d, Operand2: uint16(r), Words: 1}, true
	case 0x03:
		d := byte(16 + bitfield.Bits(w1, 4, 6))
		r := byte(16 + bitfield.Bits(w1, 0, 2))
		dBit := bitfield.Bit(w1, 7)
		rBit := bitfield.Bit(w1, 3)
		var op ID
		switch {
		case dBit == 0 && rBit == 0:
			op = Mulsu
		case dBit == 0 && rBit == 1:
			op = Fmul
		case dBit == 1 && rBit == 0:
			op = Fmuls
		default:
			op = Fmulsu
		}
		return Record{Op: op, Operand1: d, Operand2: uint16(r), Words: 1}, true
	}
	return Record{}, false
}
