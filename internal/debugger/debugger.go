// Package debugger implements an interactive single-step TUI over a
// core.Machine, adapted from the teacher's 6502 bubbletea debugger: instead
// of a hex page table keyed on a shared PC/data array, it shows a window of
// decoded AVR records around the program counter, the register file, SREG,
// and call-stack depth.
package debugger

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"

	"avrtest/internal/core"
	"avrtest/internal/flagtab"
)

type model struct {
	m      *core.Machine
	prevPC uint32
	term   *core.Termination
}

// Init performs no setup; the machine is already loaded by the caller.
func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case " ", "j":
			if m.term != nil {
				return m, nil
			}
			m.prevPC = m.m.PC()
			m.term = m.m.Step()
			if m.term != nil {
				return m, nil
			}
		}
	}
	return m, nil
}

func (m model) window() string {
	const span = 8
	pc := int(m.m.PC())
	lo := pc - span
	if lo < 0 {
		lo = 0
	}
	hi := pc + span
	if hi > len(m.m.Decoded) {
		hi = len(m.m.Decoded)
	}
	var lines []string
	for i := lo; i < hi; i++ {
		marker := "   "
		if i == pc {
			marker = ">> "
		}
		rec := m.m.Decoded[i]
		lines = append(lines, fmt.Sprintf("%s%04x | %v", marker, i*2, rec.Op))
	}
	return strings.Join(lines, "\n")
}

func (m model) flagString() string {
	s := m.m.Bus.SREG()
	bits := []struct {
		name string
		mask byte
	}{
		{"I", flagtab.FlagI}, {"T", flagtab.FlagT}, {"H", flagtab.FlagH},
		{"S", flagtab.FlagS}, {"V", flagtab.FlagV}, {"N", flagtab.FlagN},
		{"Z", flagtab.FlagZ}, {"C", flagtab.FlagC},
	}
	var sb strings.Builder
	for _, b := range bits {
		if s&b.mask != 0 {
			sb.WriteString(strings.ToUpper(b.name))
		} else {
			sb.WriteString(strings.ToLower(b.name))
		}
		sb.WriteByte(' ')
	}
	return sb.String()
}

func (m model) status() string {
	var regs strings.Builder
	for i := byte(0); i < 32; i++ {
		fmt.Fprintf(&regs, "r%-2d=%02x ", i, m.m.Reg(i))
		if i%8 == 7 {
			regs.WriteByte('\n')
		}
	}
	status := "running"
	if m.term != nil {
		status = m.term.String()
	}
	return fmt.Sprintf(
		"PC: 0x%04x (prev 0x%04x)\nSP: 0x%04x  cycles: %d  insns: %d  depth: %d\nSREG: %s\nstatus: %s\n\n%s",
		m.m.PC()*2, m.prevPC*2, m.m.SP(), m.m.Cycles(), m.m.Instructions(), m.m.CallDepth(),
		m.flagString(), status, regs.String(),
	)
}

func (m model) View() string {
	current := "(program counter past the end of flash)"
	if int(m.m.PC()) < len(m.m.Decoded) {
		current = spew.Sdump(m.m.Decoded[m.m.PC()])
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, m.window(), "   ", m.status()),
		"",
		current,
		"\n(space/j: step, q: quit)",
	)
}

// Run starts the interactive TUI over an already-loaded Machine and returns
// its final termination, or nil if quit before the guest terminated.
func Run(mach *core.Machine) (*core.Termination, error) {
	p := tea.NewProgram(model{m: mach})
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	return final.(model).term, nil
}
