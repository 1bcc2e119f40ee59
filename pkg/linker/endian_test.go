package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeWordLittleEndian(t *testing.T) {
	assert.Equal(t, uint64(0x12), DecodeWord([]byte{0x12}, LittleEndian))
	assert.Equal(t, uint64(0x3412), DecodeWord([]byte{0x12, 0x34}, LittleEndian))
	assert.Equal(t, uint64(0x563412), DecodeWord([]byte{0x12, 0x34, 0x56}, LittleEndian))
	assert.Equal(t, uint64(0x78563412), DecodeWord([]byte{0x12, 0x34, 0x56, 0x78}, LittleEndian))
	assert.Equal(t, uint64(0xF1DEBC9A78563412), DecodeWord([]byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0xF1}, LittleEndian))
}

func TestDecodeWordBigEndian(t *testing.T) {
	assert.Equal(t, uint64(0x12), DecodeWord([]byte{0x12}, BigEndian))
	assert.Equal(t, uint64(0x1234), DecodeWord([]byte{0x12, 0x34}, BigEndian))
	assert.Equal(t, uint64(0x123456), DecodeWord([]byte{0x12, 0x34, 0x56}, BigEndian))
	assert.Equal(t, uint64(0x12345678), DecodeWord([]byte{0x12, 0x34, 0x56, 0x78}, BigEndian))
}

func TestDecodeWordPDP11(t *testing.T) {
	// 16-bit words are little endian, the most significant word comes first
	assert.Equal(t, uint64(0x12), DecodeWord([]byte{0x12}, PDP11Endian))
	assert.Equal(t, uint64(0x3412), DecodeWord([]byte{0x12, 0x34}, PDP11Endian))
	assert.Equal(t, uint64(0x34127856), DecodeWord([]byte{0x12, 0x34, 0x56, 0x78}, PDP11Endian))
}

func TestDecodeWordAntiPDP11(t *testing.T) {
	assert.Equal(t, uint64(0x12), DecodeWord([]byte{0x12}, AntiPDP11Endian))
	assert.Equal(t, uint64(0x1234), DecodeWord([]byte{0x12, 0x34}, AntiPDP11Endian))
	assert.Equal(t, uint64(0x56781234), DecodeWord([]byte{0x12, 0x34, 0x56, 0x78}, AntiPDP11Endian))
}

func TestDecodeWordSigned(t *testing.T) {
	assert.Equal(t, int64(0x12), DecodeWordSigned([]byte{0x12}, LittleEndian))
	assert.Equal(t, int64(-0x100|0x89), DecodeWordSigned([]byte{0x89}, LittleEndian))
	assert.Equal(t, int64(0x3412), DecodeWordSigned([]byte{0x12, 0x34}, LittleEndian))
	assert.Equal(t, int64(-0x10000|0x8912), DecodeWordSigned([]byte{0x12, 0x89}, LittleEndian))
}

func TestEndianRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0x7F, 0x80, 0x1234, 0xFFFF, 0x12345678, 0xFEDCBA9876543210}
	for _, endian := range []Endian{LittleEndian, BigEndian, PDP11Endian} {
		for _, width := range []int{1, 2, 4, 8} {
			if endian == PDP11Endian && width == 8 {
				continue
			}
			for _, value := range values {
				buf := make([]byte, width)
				EncodeWord(buf, value, endian)
				mask := ^uint64(0)
				if width < 8 {
					mask = 1<<(8*width) - 1
				}
				assert.Equal(t, value&mask, DecodeWord(buf, endian),
					"width %d endian %v value %#x", width, endian, value)
			}
		}
	}
}
