package bitfield

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	w := uint16(0b1010_1100_0011_0101)
	assert.Equal(t, uint16(0b0101), Bits(w, 0, 3))
	assert.Equal(t, uint16(0b1010), Bits(w, 12, 15))
}

func TestBitAndIsSet(t *testing.T) {
	w := uint16(0b0000_0000_0000_0100)
	assert.Equal(t, uint16(1), Bit(w, 2))
	assert.True(t, IsSet(w, 2))
	assert.False(t, IsSet(w, 3))
}

func TestSignExtend(t *testing.T) {
	assert.Equal(t, int16(-1), SignExtend(0x7F, 7))
	assert.Equal(t, int16(63), SignExtend(0x3F, 7))
	assert.Equal(t, int16(-64), SignExtend(0x40, 7))
}

func TestPack(t *testing.T) {
	v := Pack([2]uint16{0b11, 2}, [2]uint16{0b1, 1})
	assert.Equal(t, uint16(0b111), v)
}

func TestPopCount(t *testing.T) {
	assert.Equal(t, 4, PopCount(0b1111))
	assert.Equal(t, 0, PopCount(0))
}
