package core

import (
	"fmt"

	"avrtest/internal/decode"
	"avrtest/internal/flagtab"
	"avrtest/internal/membus"
)

const (
	regX = 26
	regY = 28
	regZ = 30
)

// dispatch runs the handler for rec. startPC is the word address the
// instruction was fetched from (before PC advanced), needed by relative
// branches/jumps and the call-graph hooks.
func (m *Machine) dispatch(rec decode.Record, startPC uint32) {
	d := rec.Operand1
	r := byte(rec.Operand2)

	switch rec.Op {
	case decode.Nop, decode.Sleep, decode.Wdr:
		// no-op

	case decode.Syscall:
		if t := m.Host.Syscall(d, m); t != nil {
			m.term = &Termination{Status: t.Status, Value: t.Value, Reason: t.Reason}
		}

	case decode.Spm, decode.ESpm, decode.Break, decode.Des:
		m.term = &Termination{Status: "aborted", Reason: fmt.Sprintf("unimplemented opcode %v", rec.Op)}

	case decode.Adc:
		m.add8(d, r, true, false)
	case decode.Add:
		m.add8(d, r, false, false)
	case decode.Lsl:
		m.add8(d, d, false, false)
	case decode.Rol:
		m.add8(d, d, true, false)

	case decode.Sub:
		m.sub8(d, r, false, true)
	case decode.Sbc:
		m.sub8(d, r, true, true)
	case decode.Cp:
		m.sub8(d, r, false, false)
	case decode.Cpc:
		m.sub8(d, r, true, false)

	case decode.And:
		m.logical(d, m.Reg(d)&m.Reg(r), true)
	case decode.Tst:
		m.logical(d, m.Reg(d)&m.Reg(d), true)
	case decode.Or:
		m.logical(d, m.Reg(d)|m.Reg(r), true)
	case decode.Eor:
		m.logical(d, m.Reg(d)^m.Reg(r), true)
	case decode.Clr:
		m.logical(d, 0, true)

	case decode.Com:
		v := byte(0xFF) - m.Reg(d)
		flags := flagtab.Logical[v] | flagtab.FlagC
		m.setFlags(allArith, flags)
		m.SetReg(d, v)

	case decode.Neg:
		orig := m.Reg(d)
		res := uint16(0) - uint16(orig)
		idx := flagtab.Sub8Index(0, orig, res&0x1FF)
		m.setFlags(allArith, flagtab.Sub8[idx])
		m.SetReg(d, byte(res))

	case decode.Inc:
		v := m.Reg(d) + 1
		m.setFlags(flagtab.FlagN|flagtab.FlagV|flagtab.FlagZ|flagtab.FlagS, flagtab.Inc[v])
		m.SetReg(d, v)
	case decode.Dec:
		v := m.Reg(d) - 1
		m.setFlags(flagtab.FlagN|flagtab.FlagV|flagtab.FlagZ|flagtab.FlagS, flagtab.Dec[v])
		m.SetReg(d, v)

	case decode.Asr:
		m.rotate(d, (m.Reg(d)>>7)&1)
	case decode.Lsr:
		m.rotate(d, 0)
	case decode.Ror:
		c := byte(0)
		if m.sreg()&flagtab.FlagC != 0 {
			c = 1
		}
		m.rotate(d, c)

	case decode.Swap:
		v := m.Reg(d)
		m.SetReg(d, (v<<4)|(v>>4))

	case decode.Mov:
		m.SetReg(d, m.Reg(r))
	case decode.Movw:
		m.Bus.PutWordReg(d, m.Bus.GetWordReg(r))
	case decode.Ldi:
		m.SetReg(d, byte(rec.Operand2))

	case decode.Cpi:
		m.sub8Imm(d, byte(rec.Operand2), false, false)
	case decode.Subi:
		m.sub8Imm(d, byte(rec.Operand2), false, true)
	case decode.Sbci:
		m.sub8Imm(d, byte(rec.Operand2), true, true)
	case decode.Ori:
		m.logical(d, m.Reg(d)|byte(rec.Operand2), true)
	case decode.Andi:
		m.logical(d, m.Reg(d)&byte(rec.Operand2), true)

	case decode.In:
		m.SetReg(d, m.ReadByte(membus.IOBase+uint16(rec.Operand2)))
	case decode.Out:
		m.WriteByte(membus.IOBase+uint16(rec.Operand2), m.Reg(d))

	case decode.Push:
		m.Bus.PushByte(m.Reg(d))
		m.lastWasPush = true
		m.checkStackOverflow()
	case decode.Pop:
		m.SetReg(d, m.Bus.PopByte())
		m.lastWasPush = false

	case decode.Lds:
		m.SetReg(d, m.ReadByte(rec.Operand2))
	case decode.Sts:
		m.WriteByte(rec.Operand2, m.Reg(d))

	case decode.LdX:
		m.SetReg(d, m.ReadByte(m.Bus.GetWordReg(regX)))
	case decode.LdXInc:
		addr := m.Bus.GetWordReg(regX)
		m.SetReg(d, m.ReadByte(addr))
		m.Bus.PutWordReg(regX, addr+1)
	case decode.LdXDec:
		addr := m.Bus.GetWordReg(regX) - 1
		m.Bus.PutWordReg(regX, addr)
		m.SetReg(d, m.ReadByte(addr))

	case decode.LdYInc:
		addr := m.Bus.GetWordReg(regY)
		m.SetReg(d, m.ReadByte(addr))
		m.Bus.PutWordReg(regY, addr+1)
	case decode.LdYDec:
		addr := m.Bus.GetWordReg(regY) - 1
		m.Bus.PutWordReg(regY, addr)
		m.SetReg(d, m.ReadByte(addr))

	case decode.LdZInc:
		addr := m.Bus.GetWordReg(regZ)
		m.SetReg(d, m.ReadByte(addr))
		m.Bus.PutWordReg(regZ, addr+1)
	case decode.LdZDec:
		addr := m.Bus.GetWordReg(regZ) - 1
		m.Bus.PutWordReg(regZ, addr)
		m.SetReg(d, m.ReadByte(addr))

	case decode.StX:
		m.WriteByte(m.Bus.GetWordReg(regX), m.Reg(d))
	case decode.StXInc:
		addr := m.Bus.GetWordReg(regX)
		m.WriteByte(addr, m.Reg(d))
		m.Bus.PutWordReg(regX, addr+1)
	case decode.StXDec:
		addr := m.Bus.GetWordReg(regX) - 1
		m.Bus.PutWordReg(regX, addr)
		m.WriteByte(addr, m.Reg(d))

	case decode.StYInc:
		addr := m.Bus.GetWordReg(regY)
		m.WriteByte(addr, m.Reg(d))
		m.Bus.PutWordReg(regY, addr+1)
	case decode.StYDec:
		addr := m.Bus.GetWordReg(regY) - 1
		m.Bus.PutWordReg(regY, addr)
		m.WriteByte(addr, m.Reg(d))

	case decode.StZInc:
		addr := m.Bus.GetWordReg(regZ)
		m.WriteByte(addr, m.Reg(d))
		m.Bus.PutWordReg(regZ, addr+1)
	case decode.StZDec:
		addr := m.Bus.GetWordReg(regZ) - 1
		m.Bus.PutWordReg(regZ, addr)
		m.WriteByte(addr, m.Reg(d))

	case decode.LpmZ:
		m.SetReg(d, m.ReadFlashByte(uint32(m.Bus.GetWordReg(regZ))))
	case decode.LpmZInc:
		addr := m.Bus.GetWordReg(regZ)
		m.SetReg(d, m.ReadFlashByte(uint32(addr)))
		m.Bus.PutWordReg(regZ, addr+1)
	case decode.ElpmZ:
		addr := uint32(m.Bus.RAMPZ())<<16 | uint32(m.Bus.GetWordReg(regZ))
		m.SetReg(d, m.ReadFlashByte(addr))
	case decode.ElpmZInc:
		z := m.Bus.GetWordReg(regZ)
		addr := uint32(m.Bus.RAMPZ())<<16 | uint32(z)
		m.SetReg(d, m.ReadFlashByte(addr))
		m.Bus.PutWordReg(regZ, z+1)
	case decode.Lpm:
		m.SetReg(0, m.ReadFlashByte(uint32(m.Bus.GetWordReg(regZ))))
	case decode.Elpm:
		addr := uint32(m.Bus.RAMPZ())<<16 | uint32(m.Bus.GetWordReg(regZ))
		m.SetReg(0, m.ReadFlashByte(addr))

	case decode.LddY:
		m.SetReg(d, m.ReadByte(m.Bus.GetWordReg(regY)+rec.Operand2))
	case decode.LddZ:
		m.SetReg(d, m.ReadByte(m.Bus.GetWordReg(regZ)+rec.Operand2))
	case decode.StdY:
		m.WriteByte(m.Bus.GetWordReg(regY)+rec.Operand2, m.Reg(d))
	case decode.StdZ:
		m.WriteByte(m.Bus.GetWordReg(regZ)+rec.Operand2, m.Reg(d))

	case decode.Bld:
		mask := byte(rec.Operand2)
		if m.sreg()&flagtab.FlagT != 0 {
			m.SetReg(d, m.Reg(d)|mask)
		} else {
			m.SetReg(d, m.Reg(d)&^mask)
		}
	case decode.Bst:
		mask := byte(rec.Operand2)
		if m.Reg(d)&mask != 0 {
			m.setFlags(flagtab.FlagT, flagtab.FlagT)
		} else {
			m.setFlags(flagtab.FlagT, 0)
		}

	case decode.Sbrc:
		if m.Reg(d)&byte(rec.Operand2) == 0 {
			m.skipNext()
		}
	case decode.Sbrs:
		if m.Reg(d)&byte(rec.Operand2) != 0 {
			m.skipNext()
		}
	case decode.Cpse:
		if m.Reg(d) == m.Reg(r) {
			m.skipNext()
		}

	case decode.Sbic:
		v := m.ReadByte(membus.IOBase + uint16(d))
		if v&(1<<rec.Operand2) == 0 {
			m.skipNext()
		}
	case decode.Sbis:
		v := m.ReadByte(membus.IOBase + uint16(d))
		if v&(1<<rec.Operand2) != 0 {
			m.skipNext()
		}
	case decode.Cbi:
		addr := membus.IOBase + uint16(d)
		m.WriteByte(addr, m.ReadByte(addr)&^(1<<byte(rec.Operand2)))
	case decode.Sbi:
		addr := membus.IOBase + uint16(d)
		m.WriteByte(addr, m.ReadByte(addr)|(1<<byte(rec.Operand2)))

	case decode.Brbs:
		if m.sreg()&(1<<d) != 0 {
			m.branch(startPC, int16(rec.Operand2))
		}
	case decode.Brbc:
		if m.sreg()&(1<<d) == 0 {
			m.branch(startPC, int16(rec.Operand2))
		}

	case decode.Bset:
		m.setFlags(1<<d, 1<<d)
	case decode.Bclr:
		m.setFlags(1<<d, 0)

	case decode.Adiw:
		m.adiw(d, rec.Operand2, false)
	case decode.Sbiw:
		m.adiw(d, rec.Operand2, true)

	case decode.Jmp:
		m.pcWord = (uint32(d) << 16) | uint32(rec.Operand2)
		m.graphCall(m.pcWord, false)
	case decode.Call:
		target := (uint32(d) << 16) | uint32(rec.Operand2)
		m.pushPC(m.pcWord)
		m.pcWord = target
		m.graphCall(m.pcWord, true)
	case decode.Rcall:
		target := uint32(int32(m.pcWord) + int32(int16(rec.Operand2)))
		m.pushPC(m.pcWord)
		m.pcWord = target
		m.graphCall(m.pcWord, true)
	case decode.Rjmp:
		offset := int16(rec.Operand2)
		if offset == -1 {
			m.term = &Termination{Status: "exit", Reason: "infinite loop detected (normal exit)"}
			return
		}
		m.pcWord = uint32(int32(m.pcWord) + int32(offset))
		m.graphCall(m.pcWord, false)
	case decode.Ret:
		m.pcWord = m.popPC()
		m.graphReturn()
	case decode.Reti:
		m.pcWord = m.popPC()
		m.setFlags(flagtab.FlagI, flagtab.FlagI)
		m.graphReturn()
	case decode.ICall:
		target := uint32(m.Bus.GetWordReg(regZ))
		m.pushPC(m.pcWord)
		m.pcWord = target
		m.graphCall(m.pcWord, true)
	case decode.IJmp:
		m.pcWord = uint32(m.Bus.GetWordReg(regZ))
		m.graphCall(m.pcWord, false)
	case decode.EICall:
		target := uint32(m.Bus.EIND())<<16 | uint32(m.Bus.GetWordReg(regZ))
		m.pushPC(m.pcWord)
		m.pcWord = target
		m.graphCall(m.pcWord, true)
	case decode.EIJmp:
		m.pcWord = uint32(m.Bus.EIND())<<16 | uint32(m.Bus.GetWordReg(regZ))
		m.graphCall(m.pcWord, false)

	case decode.Mul:
		m.multiply(d, r, false, false, false)
	case decode.Muls:
		m.multiply(d, r, true, true, false)
	case decode.Mulsu:
		m.multiply(d, r, true, false, false)
	case decode.Fmul:
		m.multiply(d, r, false, false, true)
	case decode.Fmuls:
		m.multiply(d, r, true, true, true)
	case decode.Fmulsu:
		m.multiply(d, r, true, false, true)

	default:
		m.term = &Termination{Status: "aborted", Reason: fmt.Sprintf("illegal opcode id %v", rec.Op)}
	}
}

func (m *Machine) add8(d, r byte, withCarry, _ bool) {
	v1, v2 := m.Reg(d), m.Reg(r)
	carry := uint16(0)
	if withCarry && m.sreg()&flagtab.FlagC != 0 {
		carry = 1
	}
	res := uint16(v1) + uint16(v2) + carry
	idx := flagtab.Add8Index(v1, v2, res)
	m.setFlags(allArith, flagtab.Add8[idx])
	m.SetReg(d, byte(res))
}

func (m *Machine) sub8(d, r byte, withCarry, writeback bool) {
	v1, v2 := m.Reg(d), m.Reg(r)
	carry := uint16(0)
	if withCarry && m.sreg()&flagtab.FlagC != 0 {
		carry = 1
	}
	res := (uint16(v1) - uint16(v2) - carry) & 0x1FF
	idx := flagtab.Sub8Index(v1, v2, res)
	flags := flagtab.Sub8[idx]
	if withCarry {
		wasZero := m.sreg()&flagtab.FlagZ != 0
		newZero := flags&flagtab.FlagZ != 0
		if !(newZero && wasZero) {
			flags &^= flagtab.FlagZ
		}
	}
	m.setFlags(allArith, flags)
	if writeback {
		m.SetReg(d, byte(res))
	}
}

func (m *Machine) sub8Imm(d byte, k byte, withCarry, writeback bool) {
	v1 := m.Reg(d)
	carry := uint16(0)
	if withCarry && m.sreg()&flagtab.FlagC != 0 {
		carry = 1
	}
	res := (uint16(v1) - uint16(k) - carry) & 0x1FF
	idx := flagtab.Sub8Index(v1, k, res)
	flags := flagtab.Sub8[idx]
	if withCarry {
		wasZero := m.sreg()&flagtab.FlagZ != 0
		newZero := flags&flagtab.FlagZ != 0
		if !(newZero && wasZero) {
			flags &^= flagtab.FlagZ
		}
	}
	m.setFlags(allArith, flags)
	if writeback {
		m.SetReg(d, byte(res))
	}
}

func (m *Machine) logical(d byte, result byte, writeback bool) {
	m.setFlags(flagtab.FlagN|flagtab.FlagV|flagtab.FlagZ|flagtab.FlagS, flagtab.Logical[result])
	if writeback {
		m.SetReg(d, result)
	}
}

func (m *Machine) rotate(d byte, injected byte) {
	v := m.Reg(d)
	idx := flagtab.Ror8Index(v, injected)
	flags := flagtab.Ror8[idx]
	result := (injected << 7) | (v >> 1)
	m.setFlags(allArith, flags)
	m.SetReg(d, result)
}

// skipNext advances PC past the following decoded record, whose already-
// resolved Words field tells us whether it is a 1-word or 2-word
// instruction (LDS/STS/JMP/CALL), charging one extra cycle per extra word.
func (m *Machine) skipNext() {
	if int(m.pcWord) >= len(m.Decoded) {
		return
	}
	words := m.Decoded[m.pcWord].Words
	m.pcWord += uint32(words)
	m.cycles += uint64(words)
}

func (m *Machine) branch(startPC uint32, offset int16) {
	m.pcWord = uint32(int32(startPC) + 1 + int32(offset))
	m.cycles++
}

func (m *Machine) adiw(d byte, k uint16, subtract bool) {
	cur := m.Bus.GetWordReg(d)
	currBit15 := (cur>>15)&1 != 0
	var res uint16
	var c, v bool
	if subtract {
		diff := int32(cur) - int32(k)
		res = uint16(diff)
		c = diff < 0
		resBit15 := (res>>15)&1 != 0
		v = currBit15 && !resBit15
	} else {
		sum := uint32(cur) + uint32(k)
		res = uint16(sum)
		c = sum&0x10000 != 0
		resBit15 := (res>>15)&1 != 0
		v = !currBit15 && resBit15
	}
	n := (res>>15)&1 != 0
	z := res == 0
	s := n != v

	var flags byte
	if c {
		flags |= flagtab.FlagC
	}
	if v {
		flags |= flagtab.FlagV
	}
	if n {
		flags |= flagtab.FlagN
	}
	if z {
		flags |= flagtab.FlagZ
	}
	if s {
		flags |= flagtab.FlagS
	}
	m.setFlags(flagtab.FlagC|flagtab.FlagV|flagtab.FlagN|flagtab.FlagZ|flagtab.FlagS, flags)
	m.Bus.PutWordReg(d, res)
}

func (m *Machine) multiply(d, r byte, dSigned, rSigned, fractional bool) {
	var a, b int32
	if dSigned {
		a = int32(int8(m.Reg(d)))
	} else {
		a = int32(m.Reg(d))
	}
	if rSigned {
		b = int32(int8(m.Reg(r)))
	} else {
		b = int32(m.Reg(r))
	}
	product := a * b
	c := (uint32(product)>>15)&1 != 0
	if fractional {
		product <<= 1
	}
	result := uint16(product)

	var flags byte
	if c {
		flags |= flagtab.FlagC
	}
	if result == 0 {
		flags |= flagtab.FlagZ
	}
	m.setFlags(flagtab.FlagC|flagtab.FlagZ, flags)
	m.Bus.PutWordReg(0, result)
}

// graphCall/graphReturn feed the call-graph accountant when enabled.
func (m *Machine) graphCall(target uint32, isCall bool) {
	if m.Graph == nil || !m.NeedCallDepth {
		return
	}
	if isCall {
		m.callDepth++
		m.Graph.OnCall(target, m.Bus.SP(), 1, false)
	} else {
		m.Graph.OnCall(target, m.Bus.SP(), 0, false)
	}
}

func (m *Machine) graphReturn() {
	if m.Graph == nil || !m.NeedCallDepth {
		return
	}
	precededByPush := m.lastWasPush
	m.lastWasPush = false
	if !precededByPush && m.callDepth > 0 {
		m.callDepth--
	}
	m.Graph.OnCall(m.pcWord, m.Bus.SP(), -1, precededByPush)
}
