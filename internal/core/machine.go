// Package core implements the single-stepping execution engine: advancing
// the program counter, charging cycles, dispatching to a per-opcode
// handler, and updating SREG via the precomputed flag tables. It plays the
// same role the teacher's Cpu does over mem.Bus — a smart layer that
// intercepts special addresses before falling through to the plain array
// store — generalized from six 6502 addressing modes to the AVR's flat
// register-file-in-RAM model.
package core

import (
	"fmt"

	"avrtest/internal/callgraph"
	"avrtest/internal/decode"
	"avrtest/internal/flagtab"
	"avrtest/internal/host"
	"avrtest/internal/membus"
)

// Magic port addresses in the I/O window (IOBase + offset, matching the
// guest-facing avrtest.h numbering).
const (
	ticksAddr = membus.IOBase + 0x24
	abortAddr = membus.IOBase + 0x29
	logAddr   = membus.IOBase + 0x2A
	exitAddr  = membus.IOBase + 0x2F
	stdioAddr = membus.IOBase + 0x32
)

// Termination describes why the run stopped.
type Termination struct {
	Status string // "exit", "aborted", "timeout", "hostio"
	Value  byte
	Reason string
}

func (t *Termination) String() string {
	if t.Reason != "" {
		return fmt.Sprintf("%s (%s) value=%d", t.Status, t.Reason, t.Value)
	}
	return fmt.Sprintf("%s value=%d", t.Status, t.Value)
}

// Machine owns the whole simulated process: memory, decoded flash, the
// program counter, cycle/instruction counters, and the optional call-graph
// and perf-meter accounting hooks.
type Machine struct {
	Bus     *membus.Bus
	Decoded []decode.Record
	Host    *host.Bridge
	Graph   *callgraph.Graph

	pcWord    uint32 // word address
	cycles    uint64
	instrs    uint64
	PC22      bool // large-memory part: push/pop 3 bytes for CALL/RET
	MaxInstrs uint64

	NeedCallDepth bool
	callDepth     int

	spGlitch     int
	lastWasPush  bool
	lastTicksSub byte
	term         *Termination
}

// NewMachine wires a decoded program onto a freshly allocated bus.
func NewMachine(bus *membus.Bus, decoded []decode.Record, h *host.Bridge, g *callgraph.Graph) *Machine {
	return &Machine{Bus: bus, Decoded: decoded, Host: h, Graph: g}
}

// --- host.GuestView ---

func (m *Machine) Reg(n byte) byte        { return m.Bus.GetReg(n) }
func (m *Machine) SetReg(n byte, v byte)  { m.Bus.PutReg(n, v) }
func (m *Machine) RegPair(n byte) uint16  { return m.Bus.GetWordReg(n) }
func (m *Machine) ReadFlashByte(a uint32) byte {
	if int(a) >= len(m.Bus.Flash) {
		return 0
	}
	return m.Bus.Flash[a]
}
func (m *Machine) Cycles() uint64       { return m.cycles }
func (m *Machine) Instructions() uint64 { return m.instrs }
func (m *Machine) CallDepth() int       { return m.callDepth }
func (m *Machine) SP() uint16           { return m.Bus.SP() }
func (m *Machine) PC() uint32           { return m.pcWord }

// ReadByte serves a guest read, intercepting the magic input ports before
// falling through to the dumb RAM array.
func (m *Machine) ReadByte(addr uint16) byte {
	switch {
	case addr == stdioAddr:
		return m.Host.ReadIn()
	case addr >= ticksAddr && addr < ticksAddr+4:
		val := m.Host.ReadTicks(m.lastTicksSub, m)
		shift := (addr - ticksAddr) * 8
		return byte(val >> shift)
	default:
		return m.Bus.ReadByte(addr)
	}
}

// WriteByte serves a guest write, intercepting the magic output ports.
func (m *Machine) WriteByte(addr uint16, v byte) {
	switch addr {
	case stdioAddr:
		m.Host.WriteOut(v)
	case exitAddr:
		status := "exit"
		if v != 0 {
			status = "aborted"
		}
		m.term = &Termination{Status: status, Value: v}
	case abortAddr:
		m.term = &Termination{Status: "aborted", Reason: "abort port"}
	case logAddr:
		m.Host.HandleLog(v, m)
	case ticksAddr:
		m.lastTicksSub = v
	case membus.SPLAddr, membus.SPHAddr:
		m.Bus.WriteByte(addr, v)
		m.spGlitch = 4
	default:
		m.Bus.WriteByte(addr, v)
	}
}

func (m *Machine) sreg() byte     { return m.Bus.SREG() }
func (m *Machine) setSREG(v byte) { m.Bus.SetSREG(v) }

func (m *Machine) setFlags(mask, value byte) {
	s := m.sreg()
	s = (s &^ mask) | (value & mask)
	m.setSREG(s)
}

const allArith = flagtab.FlagC | flagtab.FlagZ | flagtab.FlagN | flagtab.FlagV | flagtab.FlagS | flagtab.FlagH

// checkStackOverflow terminates the run if SP has fallen below the
// reserved register/I-O area.
func (m *Machine) checkStackOverflow() {
	if m.Bus.SP() < membus.ReservedBoundary && m.term == nil {
		m.term = &Termination{Status: "aborted", Reason: "stack pointer overflow"}
	}
}

// pushPC pushes the return address (word address pc), 2 bytes on a
// 16-bit-PC part or 3 on a 22-bit-PC part.
func (m *Machine) pushPC(pc uint32) {
	if m.PC22 {
		m.Bus.PushByte(byte(pc >> 16))
		m.cycles++ // extra byte pushed on a 22-bit-PC part
	}
	m.Bus.PushByte(byte(pc >> 8))
	m.Bus.PushByte(byte(pc))
	m.checkStackOverflow()
}

func (m *Machine) popPC() uint32 {
	lo := m.Bus.PopByte()
	hi := m.Bus.PopByte()
	pc := uint32(lo) | uint32(hi)<<8
	if m.PC22 {
		top := m.Bus.PopByte()
		pc |= uint32(top) << 16
		m.cycles++ // extra byte popped on a 22-bit-PC part
	}
	return pc
}

// Step executes one instruction: fetch the decoded record, advance PC,
// charge static cycles, dispatch, update counters. Returns non-nil once
// the run has ended.
func (m *Machine) Step() *Termination {
	if int(m.pcWord) >= len(m.Decoded) {
		return &Termination{Status: "aborted", Reason: "program counter out of program space"}
	}
	rec := m.Decoded[m.pcWord]
	if rec.Op == decode.Illegal {
		return &Termination{Status: "aborted", Reason: fmt.Sprintf("illegal opcode at 0x%x", m.pcWord*2)}
	}

	startPC := m.pcWord
	info := decode.InfoOf(rec.Op)
	m.pcWord += uint32(rec.Words)
	m.cycles += uint64(info.Cycles)

	m.term = nil
	m.dispatch(rec, startPC)
	m.lastWasPush = rec.Op == decode.Push
	m.instrs++

	if m.Graph != nil && m.NeedCallDepth {
		m.Graph.AccrueCycles(uint64(info.Cycles))
	}

	if m.spGlitch > 0 {
		m.spGlitch--
	}

	if m.term != nil {
		return m.term
	}
	if m.MaxInstrs != 0 && m.instrs >= m.MaxInstrs {
		return &Termination{Status: "timeout", Reason: "instruction count limit reached"}
	}
	return nil
}

// Run executes until termination, returning the terminal condition.
func (m *Machine) Run() *Termination {
	for {
		if t := m.Step(); t != nil {
			return t
		}
	}
}
