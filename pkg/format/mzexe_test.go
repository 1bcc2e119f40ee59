package format

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrolinker/retrolinker/pkg/linker"
)

func linkMZ(t *testing.T, module *linker.Module) ([]byte, *MZFormat) {
	t.Helper()
	driver := NewMZFormat()
	require.NoError(t, driver.SetOptions(nil, module.Diagnostics()))
	require.NoError(t, driver.ProcessModule(module))
	require.NoError(t, driver.CalculateValues())
	var out bytes.Buffer
	_, err := driver.WriteFile(&out)
	require.NoError(t, err)
	return out.Bytes(), driver
}

func TestMZEmptyExecutable(t *testing.T) {
	module := linker.NewModule(nil)
	module.CPU = linker.CPUI86
	module.AddSection(linker.NewSection(".code", linker.Readable|linker.Executable))

	image, _ := linkMZ(t, module)

	require.Len(t, image, 0x20)
	assert.Equal(t, byte('M'), image[0])
	assert.Equal(t, byte('Z'), image[1])
	assert.Equal(t, uint64(0x20), linker.DecodeWord(image[2:4], linker.LittleEndian), "last block size")
	assert.Equal(t, uint64(1), linker.DecodeWord(image[4:6], linker.LittleEndian), "file size in blocks")
	assert.Equal(t, uint64(0), linker.DecodeWord(image[6:8], linker.LittleEndian), "relocation count")
	assert.Equal(t, uint64(2), linker.DecodeWord(image[8:10], linker.LittleEndian), "header paragraphs")
	assert.Equal(t, uint64(0), linker.DecodeWord(image[10:12], linker.LittleEndian), "min extra paragraphs")
	assert.Equal(t, uint64(0), linker.DecodeWord(image[14:16], linker.LittleEndian), "ss")
	assert.Equal(t, uint64(0), linker.DecodeWord(image[16:18], linker.LittleEndian), "sp")
	assert.Equal(t, uint64(0), linker.DecodeWord(image[20:22], linker.LittleEndian), "ip")
	assert.Equal(t, uint64(0), linker.DecodeWord(image[22:24], linker.LittleEndian), "cs")
}

func TestMZSingleRelocation(t *testing.T) {
	module := linker.NewModule(nil)
	module.CPU = linker.CPUI86
	code := linker.NewSection(".code", linker.Readable|linker.Executable)
	code.AppendData([]byte{0, 0, 0, 0})
	module.AddSection(code)

	module.Relocations = append(module.Relocations, linker.ParagraphRelocation(
		linker.Location{Section: code, Offset: 0},
		linker.LocationTarget(linker.Location{Section: code, Offset: 0}),
		0))

	image, driver := linkMZ(t, module)

	relocations := linker.DecodeWord(image[6:8], linker.LittleEndian)
	assert.Equal(t, uint64(1), relocations)

	relocationOffset := linker.DecodeWord(image[24:26], linker.LittleEndian)
	assert.GreaterOrEqual(t, relocationOffset, uint64(0x1C))

	// the header accommodates the 4-byte relocation table
	headerParas := linker.DecodeWord(image[8:10], linker.LittleEndian)
	assert.GreaterOrEqual(t, headerParas*16, relocationOffset+4)

	entryOffset := linker.DecodeWord(image[relocationOffset:relocationOffset+2], linker.LittleEndian)
	entrySegment := linker.DecodeWord(image[relocationOffset+2:relocationOffset+4], linker.LittleEndian)
	assert.Equal(t, uint64(0), entryOffset)
	assert.Equal(t, uint64(0), entrySegment)

	require.Len(t, driver.relocations, 1)
}

func TestMZEntryAndStack(t *testing.T) {
	module := linker.NewModule(nil)
	module.CPU = linker.CPUI86
	code := linker.NewSection(".code", linker.Readable|linker.Executable)
	code.AppendData(make([]byte, 0x30))
	module.AddSection(code)
	stack := linker.NewSection(".stack", linker.Readable|linker.Writable|linker.ZeroFilled|linker.Stack)
	stack.Expand(0x100)
	module.AddSection(stack)

	module.AddGlobalSymbol(".entry", linker.Location{Section: code, Offset: 0x10})
	module.AddGlobalSymbol(".stack_top", linker.Location{Section: stack, Offset: 0x100})

	image, driver := linkMZ(t, module)

	assert.Equal(t, uint16(0x10), driver.initialIP)
	assert.Equal(t, uint16(0), driver.initialCS)
	// 0x100 of stack behind 0x30 of code
	assert.Equal(t, uint64(0x130), uint64(driver.initialSS)<<4+uint64(driver.initialSP))
	// the zero filled stack needs extra memory beyond the image
	minExtra := linker.DecodeWord(image[10:12], linker.LittleEndian)
	assert.Equal(t, uint64(0x10), minExtra)
}
