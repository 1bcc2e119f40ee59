package linker

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentAppendAddresses(t *testing.T) {
	segment := NewSegment(".code", 0x100, nil)

	text := NewSection(".text", Readable|Executable)
	text.AppendData([]byte{1, 2, 3})
	segment.Append(text)
	assert.Equal(t, uint64(0x100), text.StartAddress())
	assert.Same(t, segment, text.Segment)

	data := NewSection(".data", Readable|Writable)
	data.SetAlign(4)
	data.AppendData([]byte{4})
	segment.Append(data)
	assert.Equal(t, uint64(0x104), data.StartAddress())

	assert.Equal(t, uint64(5), segment.DataSize)
	assert.Equal(t, uint64(0x105), segment.EndAddress())
	assert.Equal(t, uint64(4), segment.Align)
}

func TestSegmentNoZeroFilledMiddle(t *testing.T) {
	segment := NewSegment(".code", 0, nil)

	text := NewSection(".text", Readable)
	text.AppendData([]byte{1})
	segment.Append(text)

	bss := NewSection(".bss", Readable|ZeroFilled)
	bss.Expand(8)
	segment.Append(bss)
	assert.Equal(t, uint64(8), segment.ZeroFill)

	// appending data after zero fill materialises the zeros
	tail := NewSection(".tail", Readable)
	tail.AppendData([]byte{2})
	segment.Append(tail)

	assert.Equal(t, uint64(0), segment.ZeroFill)
	assert.Equal(t, uint64(10), segment.DataSize)
	for i, section := range segment.Sections {
		if section.IsZeroFilled() {
			for _, later := range segment.Sections[i+1:] {
				assert.True(t, later.IsZeroFilled(), "data section after zero filled one")
			}
		}
	}
}

func TestSegmentSetStartAddress(t *testing.T) {
	segment := NewSegment(".code", 0x100, nil)
	text := NewSection(".text", Readable)
	text.AppendData([]byte{1, 2})
	segment.Append(text)

	segment.SetStartAddress(0x200)
	assert.Equal(t, uint64(0x200), segment.BaseAddress)
	assert.Equal(t, uint64(0x200), text.StartAddress())
}

func TestSegmentSetEndAddress(t *testing.T) {
	segment := NewSegment(".bss", 0, nil)
	bss := NewSection(".bss", Readable|ZeroFilled)
	bss.Expand(4)
	segment.Append(bss)

	segment.SetEndAddress(0x10)
	assert.Equal(t, uint64(0x10), segment.TotalSize())
	assert.Equal(t, uint64(0x10), segment.ZeroFill)

	// shrinking is ignored
	segment.SetEndAddress(0x8)
	assert.Equal(t, uint64(0x10), segment.TotalSize())
}

func TestSegmentWriteTo(t *testing.T) {
	segment := NewSegment(".code", 0, nil)
	text := NewSection(".text", Readable)
	text.AppendData([]byte{1, 2, 3})
	segment.Append(text)
	bss := NewSection(".bss", Readable|ZeroFilled)
	bss.Expand(16)
	segment.Append(bss)

	var out bytes.Buffer
	written, err := segment.WriteTo(&out, segment.ImageSize(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), written)
	assert.Equal(t, []byte{1, 2, 3}, out.Bytes())
}
