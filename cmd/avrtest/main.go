// Command avrtest loads an AVR ELF or raw-binary image, decodes it once,
// and single-steps it to completion, printing a termination summary and
// (optionally) a DOT call graph and perf-meter dump.
package main

import (
	"debug/elf"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"avrtest/internal/callgraph"
	"avrtest/internal/core"
	"avrtest/internal/debugger"
	"avrtest/internal/decode"
	"avrtest/internal/elfload"
	"avrtest/internal/host"
	"avrtest/internal/membus"
)

// Fixed non-zero exit codes for conditions that aren't the guest's own exit
// value, per spec.md section 7.
const (
	exitAborted = 1
	exitTimeout = 2
	exitFile    = 3
	exitUsage   = 4
	exitFatal   = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("avrtest", flag.ContinueOnError)

	var (
		initData   = fs.Bool("d", false, "initialize SRAM from .data")
		entry      = fs.String("e", "", "override entry point (byte address)")
		pm         = fs.String("pm", "", "flash-in-RAM offset (0x4000 or 0x8000)")
		maxInstr   = fs.String("m", "", "instruction budget, accepts k/M/e suffix")
		flashSize  = fs.String("s", "", "flash size, power of two >= 512, accepts K")
		mmcu       = fs.String("mmcu", "", "arch profile, e.g. avr5")
		noLog      = fs.Bool("no-log", false, "disable the LOG syscall stream")
		noStdin    = fs.Bool("no-stdin", false, "disable STDIN reads")
		noStdout   = fs.Bool("no-stdout", false, "disable STDOUT writes")
		noStderr   = fs.Bool("no-stderr", false, "disable STDERR writes")
		quiet      = fs.Bool("q", false, "suppress the termination summary")
		showRuntime = fs.Bool("runtime", false, "print wall-clock run time")
		flush      = fs.Bool("flush", false, "flush host streams after each write")
		sandbox    = fs.String("sbox", ".", "sandbox directory for syscall 26 file I/O")
		graph      = fs.String("graph", "", "emit a DOT call graph to FILE ('-' for stdout)")
		graphAll   = fs.Bool("graph-all", false, "accepted for compatibility; no effect (every symbol is always emitted)")
		graphBase  = fs.String("graph-base", "main", "base/anchor symbol name")
		graphRes   = fs.Bool("graph-reserved", false, "accepted for compatibility; no effect (reserved symbols are always emitted, greyed)")
		graphLeaf  = fs.String("graph-leaf", "", "comma-separated leaf symbol names")
		graphSub   = fs.String("graph-sub", "", "comma-separated substituted symbol names")
		graphSkip  = fs.String("graph-skip", "", "comma-separated skipped symbol names")
		tui        = fs.Bool("tui", false, "launch the interactive single-step debugger")
	)

	argsCut := len(args)
	var guestArgs []string
	for i, a := range args {
		if a == "-args" {
			argsCut = i
			guestArgs = append([]string{}, args[i+1:]...)
			break
		}
	}

	if err := fs.Parse(args[:argsCut]); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: avrtest [flags] <image.elf|image.bin>")
		return exitUsage
	}
	path := fs.Arg(0)

	budget, err := parseCount(*maxInstr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "avrtest: -m: %v\n", err)
		return exitUsage
	}
	fsize, err := parseSize(*flashSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "avrtest: -s: %v\n", err)
		return exitUsage
	}

	img, err := loadImage(path, fsize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "avrtest: %v\n", err)
		return exitFile
	}

	bus := membus.NewBus(len(img.Flash))
	copy(bus.Flash, img.Flash)
	if *initData {
		for addr, v := range img.RAMInit {
			bus.RAM[addr] = v
		}
	}
	copy(bus.EEPROM[:], img.EEPROM)

	if *entry != "" {
		v, err := strconv.ParseUint(strings.TrimPrefix(*entry, "0x"), 0, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "avrtest: -e: %v\n", err)
			return exitUsage
		}
		img.Entry = uint32(v)
	}
	_ = pm // -pm is accepted for CLI compatibility and ignored: flash is not
	// mapped into the RAM address space.

	records := decode.DecodeFlash(bus.Flash, img.CodeStart, img.CodeEnd)

	cfg := host.Config{
		NoLog: *noLog, NoStdin: *noStdin, NoStdout: *noStdout, NoStderr: *noStderr,
		Quiet: *quiet, Flush: *flush, SandboxDir: *sandbox,
	}
	bridge := host.New(cfg, os.Stdin, os.Stdout, os.Stderr)

	var g *callgraph.Graph
	needGraph := *graph != ""
	if needGraph {
		g = callgraph.New(graphBaseName(*graphBase))
		for _, s := range img.Symbols {
			g.AddSymbol(s.Name, s.WordAddr, s.IsFunc)
		}
		applyGraphFlags(g, *graphLeaf, *graphSub, *graphSkip)
		_ = graphAll
		_ = graphRes
	}

	// GET_ARGS (LOG_SET -3) has no wired argv channel yet; guestArgs is
	// parsed from the command line for forward compatibility only.
	_ = guestArgs

	m := core.NewMachine(bus, records, bridge, g)
	m.PC22 = isLargeMemory(*mmcu, len(bus.Flash))
	m.MaxInstrs = budget
	m.NeedCallDepth = needGraph
	m.Bus.SetSP(uint16(len(bus.RAM) - 1))

	if *tui {
		return runTUI(m)
	}

	start := time.Now()
	term := m.Run()
	elapsed := time.Since(start)

	if g != nil {
		g.Finish(m.PC())
		writeGraph(*graph, g)
	}

	if !*quiet {
		fmt.Fprintf(os.Stderr, "avrtest: %s\n", term.String())
	}
	if *showRuntime {
		fmt.Fprintf(os.Stderr, "avrtest: runtime %s\n", elapsed)
	}

	switch term.Status {
	case "exit":
		return int(term.Value)
	case "timeout":
		return exitTimeout
	case "hostio", "aborted":
		return exitAborted
	default:
		return exitFatal
	}
}

func runTUI(m *core.Machine) int {
	term, err := debugger.Run(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "avrtest: debugger: %v\n", err)
		return exitFatal
	}
	if term == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "avrtest: %s\n", term.String())
	if term.Status == "exit" {
		return int(term.Value)
	}
	return exitAborted
}

func loadImage(path string, minFlash int) (*elfload.Image, error) {
	f, err := elf.Open(path)
	if err == nil {
		defer f.Close()
		return elfload.Load(f, minFlash)
	}

	raw, rerr := os.ReadFile(path)
	if rerr != nil {
		return nil, fmt.Errorf("opening %s: not an ELF (%v) and not readable as raw binary (%w)", path, err, rerr)
	}
	size := minFlash
	for size < len(raw) {
		size *= 2
	}
	flash := make([]byte, size)
	copy(flash, raw)
	return &elfload.Image{Flash: flash, RAMInit: map[uint16]byte{}, CodeStart: 0, CodeEnd: len(flash)}, nil
}

func parseCount(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	mult := uint64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1000
		s = s[:len(s)-1]
	case 'M':
		mult = 1000 * 1000
		s = s[:len(s)-1]
	case 'e':
		mult = 1000 * 1000 * 1000
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}

func parseSize(s string) (int, error) {
	if s == "" {
		return 8192, nil
	}
	mult := 1
	if strings.HasSuffix(s, "K") || strings.HasSuffix(s, "k") {
		mult = 1024
		s = s[:len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	n *= mult
	if n < 512 || n&(n-1) != 0 {
		return 0, fmt.Errorf("flash size must be a power of two >= 512, got %d", n)
	}
	return n, nil
}

// isLargeMemory decides whether CALL/RET push a 3-byte return address: true
// for the avr6/avrxmega6/avrxmega7 families or any flash larger than 64KiB.
func isLargeMemory(mmcu string, flashBytes int) bool {
	if flashBytes > 0x10000 {
		return true
	}
	switch mmcu {
	case "avr6", "avrxmega6", "avrxmega7":
		return true
	}
	return false
}

func graphBaseName(v string) string {
	if strings.HasPrefix(v, "0x") {
		return v
	}
	return v
}

func applyGraphFlags(g *callgraph.Graph, leaf, sub, skip string) {
	mark := func(csv string, set func(*callgraph.Symbol)) {
		if csv == "" {
			return
		}
		for _, name := range strings.Split(csv, ",") {
			if id, ok := lookupByName(g, name); ok {
				set(g.Symbol(id))
			}
		}
	}
	mark(leaf, func(s *callgraph.Symbol) { s.IsLeaf = true })
	mark(sub, func(s *callgraph.Symbol) { s.IsSub = true })
	mark(skip, func(s *callgraph.Symbol) { s.IsSkip = true })
}

func lookupByName(g *callgraph.Graph, name string) (callgraph.SymbolID, bool) {
	for i := callgraph.SymbolID(0); ; i++ {
		s := g.Symbol(i)
		if s == nil {
			return 0, false
		}
		if s.Name == name {
			return i, true
		}
	}
}

func writeGraph(dest string, g *callgraph.Graph) {
	var sb strings.Builder
	g.WriteDOT(&sb)
	if dest == "-" {
		fmt.Fprint(os.Stdout, sb.String())
		return
	}
	if err := os.WriteFile(dest, []byte(sb.String()), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "avrtest: writing graph: %v\n", err)
	}
}
