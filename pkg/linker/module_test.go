package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleAppendDisplacesSymbols(t *testing.T) {
	first := NewModule(nil)
	first.CPU = CPUI86
	firstText := NewSection(".text", Readable|Executable)
	firstText.Expand(16)
	firstText.SetZeroFilled(false)
	first.AddSection(firstText)
	first.AddGlobalSymbol("foo", Location{Section: firstText, Offset: 0x8})

	second := NewModule(nil)
	second.CPU = CPUI86
	secondText := NewSection(".text", Readable|Executable)
	secondText.Expand(32)
	secondText.SetZeroFilled(false)
	second.AddSection(secondText)
	second.AddGlobalSymbol("bar", Location{Section: secondText, Offset: 0x10})

	require.NoError(t, first.Append(second))

	foo, found := first.FindGlobalSymbol("foo")
	require.True(t, found)
	assert.Equal(t, Location{Section: firstText, Offset: 0x8}, foo)

	bar, found := first.FindGlobalSymbol("bar")
	require.True(t, found)
	assert.Equal(t, Location{Section: firstText, Offset: 0x18}, bar)

	assert.Equal(t, uint64(48), firstText.Size())
	assert.Len(t, first.Sections(), 1)
}

func TestModuleAppendKeepsFirstGlobal(t *testing.T) {
	first := NewModule(nil)
	text := NewSection(".text", Readable)
	first.AddSection(text)
	first.AddGlobalSymbol("main", Location{Section: text, Offset: 4})

	second := NewModule(nil)
	otherText := NewSection(".text", Readable)
	second.AddSection(otherText)
	second.AddGlobalSymbol("main", Location{Section: otherText, Offset: 8})

	require.NoError(t, first.Append(second))
	main, found := first.FindGlobalSymbol("main")
	require.True(t, found)
	assert.Equal(t, Location{Section: text, Offset: 4}, main)
}

func TestModuleAppendRejectsCPUMismatch(t *testing.T) {
	first := NewModule(nil)
	first.CPU = CPUI86
	second := NewModule(nil)
	second.CPU = CPUM68K
	assert.Error(t, first.Append(second))
}

func TestModuleAppendAdoptsCPU(t *testing.T) {
	first := NewModule(nil)
	second := NewModule(nil)
	second.CPU = CPUZ8K
	require.NoError(t, first.Append(second))
	assert.Equal(t, CPUZ8K, first.CPU)
}

func TestModuleAppendMergesCommons(t *testing.T) {
	first := NewModule(nil)
	first.AddCommonSymbol("buffer", CommonSymbol{Size: 16, Align: 2})
	second := NewModule(nil)
	second.AddCommonSymbol("buffer", CommonSymbol{Size: 8, Align: 8})

	require.NoError(t, first.Append(second))
	first.AllocateCommons()

	location, found := first.FindGlobalSymbol("buffer")
	require.True(t, found)
	require.NotNil(t, location.Section)
	assert.Equal(t, CommonSectionName, location.Section.Name)
	// the larger size and the larger alignment survive
	assert.Equal(t, uint64(16), location.Section.Size())
	assert.Equal(t, uint64(8), location.Section.Align())
}

func TestModuleAppendDeduplicatesImports(t *testing.T) {
	first := NewModule(nil)
	first.AddImportedSymbol(ImportedSymbol("KERNEL", "EXIT"))
	second := NewModule(nil)
	second.AddImportedSymbol(ImportedSymbol("KERNEL", "EXIT"))
	second.AddImportedSymbol(ImportedOrdinal("KERNEL", 23))

	require.NoError(t, first.Append(second))
	assert.Len(t, first.ImportedSymbols(), 2)
}

func TestAllocateCommonSymbols(t *testing.T) {
	module := NewModule(nil)
	module.AddCommonSymbol("c1", CommonSymbol{Size: 4, Align: 4})
	module.AddCommonSymbol("c2", CommonSymbol{Size: 2, Align: 2})

	module.AllocateCommons()

	comm := module.FindSection(CommonSectionName)
	require.NotNil(t, comm)
	assert.Equal(t, uint64(8), comm.Size())

	c1, found := module.FindGlobalSymbol("c1")
	require.True(t, found)
	assert.Equal(t, uint64(0), c1.Offset)

	c2, found := module.FindGlobalSymbol("c2")
	require.True(t, found)
	assert.Equal(t, uint64(4), c2.Offset)

	// allocated commons become globals and leave the common table
	assert.Empty(t, module.CommonSymbols())
}

func TestModuleResolveRelocations(t *testing.T) {
	module := NewModule(nil)
	text := NewSection(".text", Readable)
	text.Expand(8)
	text.SetZeroFilled(false)
	module.AddSection(text)
	module.AddLocalSymbol("loop", Location{Section: text, Offset: 6})

	relocation := AbsoluteRelocation(2, Location{Section: text, Offset: 0}, SymbolTarget(LocalSymbol("loop")), 0, LittleEndian)
	module.Relocations = append(module.Relocations, relocation)

	module.ResolveRelocations()
	location, ok := module.Relocations[0].Target.Location()
	require.True(t, ok)
	assert.Equal(t, Location{Section: text, Offset: 6}, location)
}
