package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGOTAndResolve(t *testing.T) {
	module := NewModule(nil)

	text := NewSection(".text", Readable|Executable)
	text.Expand(0x10)
	module.AddSection(text)
	module.AddGlobalSymbol("puts", Location{Section: text, Offset: 8})

	got := NewSection(".got", Readable|Writable)
	module.AddSection(got)

	// two references to the same symbol share one table slot
	module.Relocations = append(module.Relocations,
		GOTEntryOffsetRelocation(4, Location{Section: text, Offset: 0}, LocalSymbol("puts"), 0, LittleEndian),
		GOTEntryOffsetRelocation(4, Location{Section: text, Offset: 4}, LocalSymbol("puts"), 0, LittleEndian))

	module.BuildGOT(got, 4, LittleEndian)
	assert.Equal(t, uint64(4), got.Size())

	entry, found := module.GOTEntryLocation(LocalSymbol("puts"))
	require.True(t, found)
	assert.Equal(t, got, entry.Section)

	// the slot itself got an absolute relocation against the symbol
	slotRelocations := 0
	for _, relocation := range module.Relocations {
		if relocation.Source.Section == got {
			slotRelocations++
		}
	}
	assert.Equal(t, 1, slotRelocations)

	// lay everything out and resolve an offset-from-table reference
	segment := NewSegment(".code", 0, nil)
	segment.Append(text)
	gotSegment := NewSegment(".got", 0x100, nil)
	gotSegment.Append(got)

	resolution, ok := module.Relocations[0].Resolve(module)
	require.True(t, ok)
	// the entry sits at the start of the table
	assert.Equal(t, uint64(0), resolution.Value)
}
