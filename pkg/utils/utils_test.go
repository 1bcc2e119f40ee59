package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllOnes(t *testing.T) {
	assert.Equal(t, uint64(0xF), AllOnes[uint64](4))
	assert.Equal(t, uint64(0xFF), AllOnes[uint64](8))
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), AllOnes[uint64](64))
	assert.Equal(t, uint16(0x7FFF), AllOnes[uint16](15))
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.False(t, IsPowerOfTwo(uint64(0)))
	assert.True(t, IsPowerOfTwo(uint64(1)))
	assert.True(t, IsPowerOfTwo(uint64(16)))
	assert.False(t, IsPowerOfTwo(uint64(24)))
}

func TestAlignTo(t *testing.T) {
	assert.Equal(t, uint64(0), AlignTo(uint64(0), 16))
	assert.Equal(t, uint64(16), AlignTo(uint64(1), 16))
	assert.Equal(t, uint64(16), AlignTo(uint64(16), 16))
	assert.Equal(t, uint64(7), AlignTo(uint64(7), 1))
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
}

func TestMakeError(t *testing.T) {
	base := assert.AnError
	err := MakeError(base, "context %d", 42)
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "context 42")
}

func TestFormatUintHex(t *testing.T) {
	assert.Equal(t, "0x0100", FormatUintHex(0x100, 4))
}
