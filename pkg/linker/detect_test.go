package linker

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detect(t *testing.T, image []byte) []FormatDescription {
	t.Helper()
	rd := NewReader(UndefinedEndian, bytes.NewReader(image))
	require.NoError(t, rd.Err())
	return DetectFormats(rd)
}

func TestDetectPlainMZ(t *testing.T) {
	image := make([]byte, 64)
	copy(image, "MZ")
	descriptions := detect(t, image)
	require.Len(t, descriptions, 1)
	assert.Equal(t, FormatMZ, descriptions[0].Format)
}

func TestDetectNestedExtender(t *testing.T) {
	// an MZ stub whose new-header field points at an embedded LE image
	image := make([]byte, 0x80)
	copy(image, "MZ")
	EncodeWord(image[2:4], 0x40, LittleEndian)  // bytes in last block
	EncodeWord(image[4:6], 1, LittleEndian)     // 512-byte blocks
	EncodeWord(image[0x3C:0x40], 0x40, LittleEndian)
	copy(image[0x40:], "LE")

	descriptions := detect(t, image)
	require.Len(t, descriptions, 2)
	assert.Equal(t, FormatMZ, descriptions[0].Format)
	assert.Equal(t, FormatLE, descriptions[1].Format)
	assert.Equal(t, uint64(0x40), descriptions[1].Offset)
}

func TestDetectCPM68K(t *testing.T) {
	image := []byte{0x60, 0x1A, 0, 0, 0, 0}
	descriptions := detect(t, image)
	require.Len(t, descriptions, 1)
	assert.Equal(t, Format68K, descriptions[0].Format)
}

func TestDetectO65(t *testing.T) {
	image := append([]byte{0x01, 0x00}, []byte("o65")...)
	image = append(image, make([]byte, 32)...)
	descriptions := detect(t, image)
	require.NotEmpty(t, descriptions)
	assert.Equal(t, FormatO65, descriptions[0].Format)
}

func TestDetectNothing(t *testing.T) {
	descriptions := detect(t, []byte("@@@@@@@@"))
	assert.Empty(t, descriptions)
}
