// Package format hosts the executable format backends and object file
// parsers the linker core drives through its OutputFormat and InputFormat
// contracts. Each backend decides what the script's segments mean for its
// file layout and how much of the relocation taxonomy it can express.
package format

import (
	"fmt"
	"strings"

	"github.com/retrolinker/retrolinker/pkg/linker"
)

// ErrUnknownFormat is returned for output format names with no backend
var ErrUnknownFormat = fmt.Errorf("unknown output format")

var (
	_ linker.OutputFormat = (*BinaryFormat)(nil)
	_ linker.OutputFormat = (*MZFormat)(nil)
	_ linker.OutputFormat = (*CPM68KFormat)(nil)
	_ linker.InputFormat  = (*CPM68KObjFormat)(nil)
	_ linker.InputFormat  = (*O65ObjFormat)(nil)
)

type outputFactory struct {
	description string
	create      func(model string) linker.OutputFormat
}

var outputFormats = map[string]outputFactory{
	"com": {
		"CP/M-80 and MS-DOS flat .com executable",
		func(string) linker.OutputFormat { return NewBinaryFormat(0x100, ".com") },
	},
	"flat": {
		"flat unstructured binary image",
		func(string) linker.OutputFormat { return NewBinaryFormat(0, ".bin") },
	},
	"mzexe": {
		"MS-DOS \"MZ\" executable",
		func(string) linker.OutputFormat { return NewMZFormat() },
	},
	"cpm68k": {
		"CP/M-68K contiguous executable",
		func(string) linker.OutputFormat { return NewCPM68KFormat(System68KCPM) },
	},
	"gemdos": {
		"Atari TOS/GEMDOS executable",
		func(string) linker.OutputFormat { return NewCPM68KFormat(System68KGEMDOS) },
	},
	"human68k": {
		"Human68k .z executable",
		func(string) linker.OutputFormat { return NewCPM68KFormat(System68KHuman68k) },
	},
}

// NewOutputFormat resolves a -F argument. Supplementary formats are chained
// with `+`; backends that do not understand a supplement reject it.
func NewOutputFormat(chain string) (linker.OutputFormat, error) {
	parts := strings.Split(chain, "+")
	factory, ok := outputFormats[parts[0]]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, parts[0])
	}
	driver := factory.create(parts[0])
	if len(parts) > 1 {
		supplemented, ok := driver.(interface {
			AddSupplement(name string) error
		})
		if !ok {
			return nil, fmt.Errorf("%w: %s accepts no supplementary formats", ErrUnknownFormat, parts[0])
		}
		for _, supplement := range parts[1:] {
			if err := supplemented.AddSupplement(supplement); err != nil {
				return nil, err
			}
		}
	}
	return driver, nil
}

// OutputFormatNames lists the registered output format identifiers
func OutputFormatNames() map[string]string {
	names := make(map[string]string, len(outputFormats))
	for name, factory := range outputFormats {
		names[name] = factory.description
	}
	return names
}

// NewInputFormat returns a parser for a detected input format, if one ships
func NewInputFormat(description linker.FormatDescription) (linker.InputFormat, bool) {
	switch description.Format {
	case linker.Format68K:
		return NewCPM68KObjFormat(), true
	case linker.FormatO65:
		return NewO65ObjFormat(), true
	default:
		return nil, false
	}
}
