package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// laidOutModule builds a module with one .text section of size bytes placed
// in a .code segment at base, with the bias matching the segment base
func laidOutModule(t *testing.T, size uint64, base uint64) (*Module, *Section, *Segment) {
	t.Helper()
	module := NewModule(nil)
	text := NewSection(".text", Readable|Executable)
	text.Expand(size)
	module.AddSection(text)
	segment := NewSegment(".code", base, nil)
	segment.Append(text)
	text.Bias = int64(text.StartAddress()) - int64(segment.BaseAddress)
	return module, text, segment
}

func TestRelocationMaskAndShift(t *testing.T) {
	module, text, _ := laidOutModule(t, 4, 0)
	text.WriteWord(1, 2, 0xA0, BigEndian)

	// a Z8000 IMM4L style nibble fixup
	relocation := AbsoluteRelocation(1, Location{Section: text, Offset: 2}, LocationTarget(AbsoluteLocation(0x1234)), 0, BigEndian).SetMask(0x0F)

	resolution, ok := relocation.Resolve(module)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1234), resolution.Value)

	relocation.WriteWord(resolution.Value)
	assert.Equal(t, uint64(0xA4), text.ReadUnsignedAt(1, 2, BigEndian))
}

func TestRelocationSelfRelative(t *testing.T) {
	module, text, _ := laidOutModule(t, 0x20, 0)
	source := Location{Section: text, Offset: 4}
	target := Location{Section: text, Offset: 0x10}

	relocation := RelativeRelocation(2, source, LocationTarget(target), 0, LittleEndian)
	assert.True(t, relocation.IsRelative())

	resolution, ok := relocation.Resolve(module)
	require.True(t, ok)
	assert.Equal(t, uint64(0xC), resolution.Value)

	relocation.WriteWord(resolution.Value)
	assert.Equal(t, uint64(0xC), text.ReadUnsignedAt(2, 4, LittleEndian))
}

func TestRelocationSelfRelativeNegative(t *testing.T) {
	module, text, _ := laidOutModule(t, 0x20, 0)
	source := Location{Section: text, Offset: 0x10}
	target := Location{Section: text, Offset: 4}

	relocation := RelativeRelocation(2, source, LocationTarget(target), 0, LittleEndian)
	resolution, ok := relocation.Resolve(module)
	require.True(t, ok)

	relocation.WriteWord(resolution.Value)
	// -0xC modulo 2^16
	assert.Equal(t, uint64(0xFFF4), text.ReadUnsignedAt(2, 0x10, LittleEndian))
}

func TestRelocationParagraph(t *testing.T) {
	module, text, _ := laidOutModule(t, 4, 0x240)

	relocation := ParagraphRelocation(Location{Section: text, Offset: 0}, LocationTarget(Location{Section: text, Offset: 0}), 0)
	resolution, ok := relocation.Resolve(module)
	require.True(t, ok)
	assert.Equal(t, uint64(0x24), resolution.Value)
}

func TestRelocationSegmentIndex(t *testing.T) {
	module, text, _ := laidOutModule(t, 4, 0x30000)

	relocation := SegmentRelocation(2, Location{Section: text, Offset: 0}, LocationTarget(Location{Section: text, Offset: 0}), 0)
	resolution, ok := relocation.Resolve(module)
	require.True(t, ok)
	assert.Equal(t, uint64(3), resolution.Value)
	assert.Equal(t, BigEndian, relocation.Endian)
}

func TestRelocationIdempotence(t *testing.T) {
	module, text, _ := laidOutModule(t, 8, 0)
	text.WriteWord(2, 0, 0, LittleEndian)

	relocation := AbsoluteRelocation(2, Location{Section: text, Offset: 0}, LocationTarget(Location{Section: text, Offset: 6}), 0, LittleEndian)
	resolution, ok := relocation.Resolve(module)
	require.True(t, ok)
	relocation.WriteWord(resolution.Value)
	first := text.ReadUnsignedAt(2, 0, LittleEndian)

	resolution, ok = relocation.Resolve(module)
	require.True(t, ok)
	relocation.WriteWord(resolution.Value)
	assert.Equal(t, first, text.ReadUnsignedAt(2, 0, LittleEndian))
}

func TestRelocationAddCurrentValue(t *testing.T) {
	module, text, _ := laidOutModule(t, 8, 0)
	text.WriteWord(2, 2, 0x10, LittleEndian)

	relocation := AbsoluteRelocation(2, Location{Section: text, Offset: 2}, LocationTarget(Location{Section: text, Offset: 0}), 0, LittleEndian)
	relocation.AddCurrentValue()
	assert.Equal(t, uint64(0x10), relocation.Addend)

	resolution, ok := relocation.Resolve(module)
	require.True(t, ok)
	assert.Equal(t, uint64(0x10), resolution.Value)
}

func TestRelocationUnresolvedSymbol(t *testing.T) {
	module, text, _ := laidOutModule(t, 4, 0)
	relocation := AbsoluteRelocation(2, Location{Section: text, Offset: 0}, SymbolTarget(LocalSymbol("missing")), 0, LittleEndian)
	_, ok := relocation.Resolve(module)
	assert.False(t, ok)
}

func TestRelocationSubtract(t *testing.T) {
	module, text, _ := laidOutModule(t, 8, 0x10)
	relocation := AbsoluteRelocation(2, Location{Section: text, Offset: 0}, LocationTarget(Location{Section: text, Offset: 4}), 0, LittleEndian).SetSubtract()
	resolution, ok := relocation.Resolve(module)
	require.True(t, ok)
	assert.Equal(t, uint64(0xFFFFFFFFFFFFFFEC), resolution.Value)
}

func TestRelocationSegmentOfConsistency(t *testing.T) {
	_, text, segment := laidOutModule(t, 8, 0x100)
	location := Location{Section: text, Offset: 4}
	assert.Equal(t, segment.BaseAddress, location.Position(true).Address)
}

func TestRelocationDisplace(t *testing.T) {
	_, text, _ := laidOutModule(t, 8, 0)
	replacement := NewSection(".text2", Readable)

	relocation := RelativeRelocation(2, Location{Section: text, Offset: 2}, LocationTarget(Location{Section: text, Offset: 4}), 0, LittleEndian)
	displacement := Displacement{text: Location{Section: replacement, Offset: 0x10}}
	assert.True(t, relocation.Displace(displacement))

	assert.Equal(t, Location{Section: replacement, Offset: 0x12}, relocation.Source)
	target, ok := relocation.Target.Location()
	require.True(t, ok)
	assert.Equal(t, Location{Section: replacement, Offset: 0x14}, target)
	// self-relativity survives displacement
	assert.True(t, relocation.IsRelative())
}

func TestRelocationSizeOf(t *testing.T) {
	module, text, _ := laidOutModule(t, 0x28, 0)
	relocation := SizeOfRelocation(2, Location{Section: text, Offset: 0}, LocationTarget(Location{Section: text}), 0, LittleEndian)
	resolution, ok := relocation.Resolve(module)
	require.True(t, ok)
	assert.Equal(t, uint64(0x28), resolution.Value)
}
