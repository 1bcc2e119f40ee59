package format

import (
	"github.com/retrolinker/retrolinker/pkg/linker"
	"github.com/retrolinker/retrolinker/pkg/utils"
)

// o65 segment IDs used by relocation entries and exported globals
const (
	o65SegUndefined = 0
	o65SegAbsolute  = 1
	o65SegText      = 2
	o65SegData      = 3
	o65SegBSS       = 4
	o65SegZero      = 5
)

// o65 relocation type bits. 0xA0 is a segment byte combined with two
// extra table bytes; 0xC0 is a plain 3-byte segment address.
const (
	o65RelocWord   = 0x80
	o65RelocHigh   = 0x40
	o65RelocLow    = 0x20
	o65RelocSeg    = 0xA0
	o65RelocSegAdr = 0xC0
)

const (
	o65Mode65816 = 0x8000
	o65Mode32Bit = 0x2000
)

// O65ObjFormat parses the 6502 binary relocation format of André Fachat,
// as produced by the xa assembler: a sized header with options, text and
// data images, undefined reference names, per-segment relocation tables
// and an exported globals list.
type O65ObjFormat struct {
	specialChar byte
	output      linker.OutputFormat

	wordSize int

	text *linker.Section
	data *linker.Section
	bss  *linker.Section
	zero *linker.Section

	textBase uint64
	dataBase uint64
	bssBase  uint64
	zeroBase uint64

	undefined []linker.SymbolName
}

func NewO65ObjFormat() *O65ObjFormat {
	return &O65ObjFormat{specialChar: '$', wordSize: 2}
}

func (f *O65ObjFormat) SetupOptions(specialChar byte, output linker.OutputFormat) {
	f.specialChar = specialChar
	f.output = output
}

func (f *O65ObjFormat) newSection(name string, flags linker.SectionFlags) *linker.Section {
	if f.output != nil {
		flags |= f.output.AdditionalSectionFlags(name)
	}
	return linker.NewSection(name, flags)
}

func (f *O65ObjFormat) sectionForSegment(segment int) (*linker.Section, uint64) {
	switch segment {
	case o65SegText:
		return f.text, f.textBase
	case o65SegData:
		return f.data, f.dataBase
	case o65SegBSS:
		return f.bss, f.bssBase
	case o65SegZero:
		return f.zero, f.zeroBase
	default:
		return nil, 0
	}
}

func (f *O65ObjFormat) ReadFile(rd *linker.Reader, module *linker.Module) error {
	rd.Endian = linker.LittleEndian
	marker := make([]byte, 6)
	rd.ReadData(marker)
	if string(marker[:5]) != "\x01\x00o65" {
		return utils.MakeError(linker.ErrFormatParse, "bad o65 marker")
	}
	mode := rd.ReadUnsignedDefault(2)
	if mode&o65Mode32Bit != 0 {
		f.wordSize = 4
	}
	if mode&o65Mode65816 != 0 {
		module.CPU = linker.CPUW65K
	} else {
		module.CPU = linker.CPUMOS6502
	}

	f.textBase = rd.ReadUnsignedDefault(f.wordSize)
	textSize := rd.ReadUnsignedDefault(f.wordSize)
	f.dataBase = rd.ReadUnsignedDefault(f.wordSize)
	dataSize := rd.ReadUnsignedDefault(f.wordSize)
	f.bssBase = rd.ReadUnsignedDefault(f.wordSize)
	bssSize := rd.ReadUnsignedDefault(f.wordSize)
	f.zeroBase = rd.ReadUnsignedDefault(f.wordSize)
	zeroSize := rd.ReadUnsignedDefault(f.wordSize)
	rd.ReadUnsignedDefault(f.wordSize) // stack size
	if err := rd.Err(); err != nil {
		return err
	}

	// header options: length byte (including itself), type byte, payload
	for {
		length := rd.ReadUnsignedDefault(1)
		if length == 0 {
			break
		}
		if length >= 2 {
			rd.Skip(length - 1)
		}
		if err := rd.Err(); err != nil {
			return err
		}
	}

	f.text = f.newSection(".text", linker.Readable|linker.Executable)
	f.data = f.newSection(".data", linker.Readable|linker.Writable)
	f.bss = f.newSection(".bss", linker.Readable|linker.Writable|linker.ZeroFilled)
	f.zero = f.newSection(".zero", linker.Readable|linker.Writable|linker.ZeroFilled)
	f.bss.Expand(bssSize)
	f.zero.Expand(zeroSize)

	if err := f.text.ReadFrom(readerAt(rd, rd.Tell()), textSize); err != nil {
		return err
	}
	if err := f.data.ReadFrom(readerAt(rd, rd.Tell()), dataSize); err != nil {
		return err
	}
	module.AddSection(f.text)
	module.AddSection(f.data)
	module.AddSection(f.bss)
	module.AddSection(f.zero)

	// undefined references
	count := rd.ReadUnsignedDefault(f.wordSize)
	for i := uint64(0); i < count; i++ {
		name := rd.ReadZeroTerminated(256)
		symbol := linker.LocalSymbol(name)
		f.undefined = append(f.undefined, symbol)
		module.AddImportedSymbol(symbol)
	}
	if err := rd.Err(); err != nil {
		return err
	}

	if err := f.readRelocationTable(rd, module, f.text); err != nil {
		return err
	}
	if err := f.readRelocationTable(rd, module, f.data); err != nil {
		return err
	}

	// exported globals
	count = rd.ReadUnsignedDefault(f.wordSize)
	for i := uint64(0); i < count; i++ {
		name := rd.ReadZeroTerminated(256)
		segment := int(rd.ReadUnsignedDefault(1))
		value := rd.ReadUnsignedDefault(f.wordSize)
		section, base := f.sectionForSegment(segment)
		if section == nil {
			module.AddGlobalSymbol(name, linker.AbsoluteLocation(value))
			continue
		}
		module.AddGlobalSymbol(name, linker.Location{Section: section, Offset: value - base})
	}
	return rd.Err()
}

// readRelocationTable walks one per-segment relocation table. Entries
// advance a cursor through the image: an offset byte of 255 skips 254
// bytes, anything else advances by that much and describes a fixup there.
func (f *O65ObjFormat) readRelocationTable(rd *linker.Reader, module *linker.Module, section *linker.Section) error {
	cursor := int64(-1)
	for {
		offset := rd.ReadUnsignedDefault(1)
		if err := rd.Err(); err != nil {
			return err
		}
		if offset == 0 {
			return nil
		}
		if offset == 255 {
			cursor += 254
			continue
		}
		cursor += int64(offset)
		typeByte := rd.ReadUnsignedDefault(1)
		relocType := int(typeByte & 0xE0)
		segment := int(typeByte & 0x1F)

		source := linker.Location{Section: section, Offset: uint64(cursor)}
		var target linker.Target
		var base uint64
		if segment == o65SegUndefined {
			index := rd.ReadUnsignedDefault(f.wordSize)
			if index >= uint64(len(f.undefined)) {
				return utils.MakeError(linker.ErrFormatParse, "relocation names undefined symbol %d of %d", index, len(f.undefined))
			}
			target = linker.SymbolTarget(f.undefined[index])
		} else {
			targetSection, sectionBase := f.sectionForSegment(segment)
			if targetSection == nil {
				return utils.MakeError(linker.ErrFormatParse, "relocation names invalid segment %d", segment)
			}
			target = linker.LocationTarget(linker.Location{Section: targetSection})
			base = sectionBase
		}

		var relocation linker.Relocation
		switch relocType {
		case o65RelocWord:
			relocation = linker.AbsoluteRelocation(2, source, target, -base, linker.LittleEndian)
			relocation.AddCurrentValue()
		case o65RelocLow:
			relocation = linker.AbsoluteRelocation(1, source, target, -base, linker.LittleEndian)
			relocation.AddCurrentValue()
		case o65RelocHigh:
			lowByte := rd.ReadUnsignedDefault(1)
			high := section.ReadUnsignedAt(1, uint64(cursor), linker.LittleEndian)
			relocation = linker.AbsoluteRelocation(1, source, target, (high<<8|lowByte)-base, linker.LittleEndian).SetShift(8)
		case o65RelocSegAdr:
			relocation = linker.AbsoluteRelocation(3, source, target, -base, linker.LittleEndian)
			relocation.AddCurrentValue()
		case o65RelocSeg:
			lowBytes := rd.ReadUnsignedDefault(2)
			high := section.ReadUnsignedAt(1, uint64(cursor), linker.LittleEndian)
			relocation = linker.AbsoluteRelocation(1, source, target, (high<<16|lowBytes)-base, linker.LittleEndian).SetShift(16)
		default:
			return utils.MakeError(linker.ErrFormatParse, "unknown relocation type %#x", relocType)
		}
		module.Relocations = append(module.Relocations, relocation)
	}
}
