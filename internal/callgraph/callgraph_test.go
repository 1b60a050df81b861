package callgraph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSymbolDedupesByName(t *testing.T) {
	g := New("main")
	a := g.AddSymbol("main", 0x10, true)
	b := g.AddSymbol("main", 0x10, true)
	assert.Equal(t, a, b)
	assert.True(t, g.Symbol(a).IsBase)
}

func TestStraightLineCallAndReturn(t *testing.T) {
	g := New("main")
	main := g.AddSymbol("main", 0x00, true)
	foo := g.AddSymbol("foo", 0x10, true)

	g.OnCall(0x00, 0x610, DeltaCall, false) // entry into main
	require.Equal(t, main, g.currentSymbol())

	g.OnCall(0x10, 0x5ff, DeltaCall, false) // main calls foo
	require.Equal(t, foo, g.currentSymbol())

	g.OnCall(0x00, 0x600, DeltaRet, false) // foo returns to main
	assert.Equal(t, main, g.currentSymbol())

	e := g.edge(main, foo)
	assert.Equal(t, uint32(1), e.Calls)
}

func TestOnCallIgnoresUnknownTarget(t *testing.T) {
	g := New("main")
	g.AddSymbol("main", 0x00, true)
	g.OnCall(0xFFFF, 0x5ff, DeltaCall, false)
	assert.Equal(t, NoSymbol, g.currentSymbol())
}

func TestLongjmpUnwindsPastRecordedFrames(t *testing.T) {
	g := New("main")
	main := g.AddSymbol("main", 0x00, true)
	setjmpCaller := g.AddSymbol("outer", 0x10, true)
	deep := g.AddSymbol("inner", 0x20, true)
	_ = main

	g.OnCall(0x10, 0x5f0, DeltaCall, false)
	g.OnCall(0x20, 0x5e0, DeltaCall, false)
	require.Equal(t, deep, g.currentSymbol())

	// longjmp back into outer: current SP (0x5f0) is above inner's
	// recorded SP (0x5e0) but equal to outer's own, so only inner's
	// frame unwinds and outer remains on the shadow stack.
	g.OnLongjmp(0x5f0, 0x10)
	assert.Equal(t, setjmpCaller, g.currentSymbol())

	e := g.edge(setjmpCaller, setjmpCaller)
	assert.True(t, e.BackEdge)
	assert.Equal(t, uint32(1), e.Calls)
}

func TestAccrueCyclesAttributesToNonLeafFrame(t *testing.T) {
	g := New("main")
	main := g.AddSymbol("main", 0x00, true)
	leaf := g.AddSymbol("memcpy", 0x20, true)
	g.Symbol(leaf).IsLeaf = true

	g.OnCall(0x00, 0x610, DeltaCall, false) // entry into main
	g.OnCall(0x20, 0x5f0, DeltaCall, false) // call the leaf
	g.AccrueCycles(100)
	g.OnCall(0x00, 0x600, DeltaRet, false) // return from the leaf

	assert.Equal(t, uint64(100), g.Symbol(main).OwnCycles)
}

func TestFinishAddsTerminalNodeAndWritesDOT(t *testing.T) {
	g := New("main")
	g.AddSymbol("main", 0x00, true)
	g.Finish(0x40)

	var sb strings.Builder
	g.WriteDOT(&sb)
	out := sb.String()

	assert.True(t, strings.HasPrefix(out, "digraph callgraph {"))
	assert.Contains(t, out, "Program Stop")
	assert.Contains(t, out, "main")
	assert.True(t, strings.HasSuffix(out, "}\n"))
}
