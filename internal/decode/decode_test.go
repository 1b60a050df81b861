package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// asm assembles a tiny flash image from little-endian 16-bit opcode words.
func asm(words ...uint16) []byte {
	buf := make([]byte, len(words)*2)
	for i, w := range words {
		buf[i*2] = byte(w)
		buf[i*2+1] = byte(w >> 8)
	}
	return buf
}

func TestDecodeNopAndZeroOperand(t *testing.T) {
	flash := asm(0x0000, 0x9508, 0x9409)
	recs := DecodeFlash(flash, 0, len(flash))
	assert.Equal(t, Nop, recs[0].Op)
	assert.Equal(t, Ret, recs[1].Op)
	assert.Equal(t, IJmp, recs[2].Op)
}

func TestDecodeTwoRegisterFamilyAndAliases(t *testing.T) {
	// ADD r1, r2  -> 0000 11rd dddd rrrr, d=1 r=2
	addWord := uint16(0b0000_11_0_00001_0010)
	// ADD r3, r3  -> collapses to LSL
	lslWord := uint16(0b0000_11_0_00011_0011)
	flash := asm(addWord, lslWord)
	recs := DecodeFlash(flash, 0, len(flash))

	assert.Equal(t, Add, recs[0].Op)
	assert.Equal(t, byte(1), recs[0].Operand1)
	assert.Equal(t, uint16(2), recs[0].Operand2)

	assert.Equal(t, Lsl, recs[1].Op)
	assert.Equal(t, byte(3), recs[1].Operand1)
}

func TestDecodeMov(t *testing.T) {
	// MOV r17, r3 : 0010 11rd dddd rrrr, d=17 r=3
	word := uint16(0b0010_11_0_10001_0011)
	flash := asm(word)
	recs := DecodeFlash(flash, 0, len(flash))
	assert.Equal(t, Mov, recs[0].Op)
	assert.Equal(t, byte(17), recs[0].Operand1)
	assert.Equal(t, uint16(3), recs[0].Operand2)
}

func TestDecodeCpseFollowedByInvalidIsSyscall(t *testing.T) {
	// CPSE r5, r5 : 0001 00rd dddd rrrr, d=r=5
	cpse := uint16(0b0001_00_0_00101_0101)
	flash := asm(cpse, 0xFFFF)
	recs := DecodeFlash(flash, 0, len(flash))
	assert.Equal(t, Syscall, recs[0].Op)
	assert.Equal(t, byte(5), recs[0].Operand1)
}

func TestDecodeLdi(t *testing.T) {
	// LDI r20, 0xAB : 1110 KKKK ddddKKKK, d=16+4=20, K=0xAB
	word := uint16(0b1110_1010_0100_1011)
	flash := asm(word)
	recs := DecodeFlash(flash, 0, len(flash))
	assert.Equal(t, Ldi, recs[0].Op)
	assert.Equal(t, byte(20), recs[0].Operand1)
	assert.Equal(t, uint16(0xAB), recs[0].Operand2)
}

func TestDecodeJmpTwoWord(t *testing.T) {
	// JMP: 1001 010k kkkk 110k, with k=0 in the first word (kHigh=0) so the
	// 22-bit target reduces to the second word alone.
	word1 := uint16(0x940C)
	word2 := uint16(0x1000)
	flash := asm(word1, word2, 0x0000)
	recs := DecodeFlash(flash, 0, len(flash))
	assert.Equal(t, Jmp, recs[0].Op)
	assert.Equal(t, byte(2), recs[0].Words)
	target := (uint32(recs[0].Operand1) << 16) | uint32(recs[0].Operand2)
	assert.Equal(t, uint32(0x1000), target)
}

func TestDecodeBranch(t *testing.T) {
	// BRBS 1, +4 : 1111 00kk kkkk k001
	word := uint16(0b1111_00_0000100_001)
	flash := asm(word)
	recs := DecodeFlash(flash, 0, len(flash))
	assert.Equal(t, Brbs, recs[0].Op)
	assert.Equal(t, byte(1), recs[0].Operand1)
	assert.Equal(t, uint16(4), recs[0].Operand2)
}
