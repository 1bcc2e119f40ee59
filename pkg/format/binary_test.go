package format

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrolinker/retrolinker/pkg/linker"
)

func TestBinaryComOutput(t *testing.T) {
	module := linker.NewModule(nil)
	module.CPU = linker.CPUI86
	code := linker.NewSection(".text", linker.Readable|linker.Executable)
	code.AppendData([]byte{0xC3}) // ret
	module.AddSection(code)

	driver := NewBinaryFormat(0x100, ".com")
	require.NoError(t, driver.SetOptions(nil, nil))
	require.NoError(t, driver.ProcessModule(module))
	require.NoError(t, driver.CalculateValues())

	var out bytes.Buffer
	written, err := driver.WriteFile(&out)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), written)
	assert.Equal(t, []byte{0xC3}, out.Bytes())

	// the image is addressed behind the program segment prefix
	assert.Equal(t, uint64(0x100), code.StartAddress())
	assert.Equal(t, int64(0x100), code.Bias)
	assert.Equal(t, "game.com", driver.DefaultExtension("game"))
}

func TestBinaryResolvesInternalReferences(t *testing.T) {
	module := linker.NewModule(nil)
	module.CPU = linker.CPUI86
	code := linker.NewSection(".text", linker.Readable|linker.Executable)
	// a 16-bit address slot followed by the target byte
	code.AppendData([]byte{0, 0, 0x90})
	module.AddSection(code)
	module.AddGlobalSymbol("target", linker.Location{Section: code, Offset: 2})
	module.Relocations = append(module.Relocations, linker.AbsoluteRelocation(2,
		linker.Location{Section: code, Offset: 0},
		linker.SymbolTarget(linker.LocalSymbol("target")), 0, linker.LittleEndian))

	driver := NewBinaryFormat(0x100, ".com")
	require.NoError(t, driver.SetOptions(nil, nil))
	require.NoError(t, driver.ProcessModule(module))

	var out bytes.Buffer
	_, err := driver.WriteFile(&out)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x90}, out.Bytes())
}
