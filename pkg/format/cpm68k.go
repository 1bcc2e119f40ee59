package format

import (
	"io"
	"strings"

	"github.com/retrolinker/retrolinker/pkg/linker"
	"github.com/retrolinker/retrolinker/pkg/utils"
)

// System68K selects the operating system family a 68000 contiguous
// executable targets; they share the 0x601A header but disagree on
// relocation storage and load conventions.
type System68K int

const (
	System68KCPM System68K = iota
	System68KGEMDOS
	System68KHuman68k
)

const (
	magic68KContiguous    = 0x601A
	magic68KNoncontiguous = 0x601B
	header68KSize         = 28
	symbol68KEntrySize    = 14
)

// Relocation word values of the CP/M-68K per-word relocation stream
const (
	reloc68KAbsolute  = 0
	reloc68KData      = 1
	reloc68KText      = 2
	reloc68KBSS       = 3
	reloc68KUndefined = 4
	reloc68KLongword  = 5
	reloc68KPCRel     = 6
	reloc68KInstr     = 7
)

// Symbol type flags of the CP/M-68K symbol table
const (
	symbol68KDefined  = 0x8000
	symbol68KEquated  = 0x4000
	symbol68KGlobal   = 0x2000
	symbol68KExternal = 0x0800
	symbol68KData     = 0x0400
	symbol68KText     = 0x0200
	symbol68KBSS      = 0x0100
)

type reloc68K struct {
	size    int
	segment uint16
}

// CPM68KFormat generates contiguous 68000 executables for CP/M-68K, GEMDOS
// and Human68k: a 28-byte header, the text and data images, a symbol table
// and the relocation information.
type CPM68KFormat struct {
	linker.SegmentManager

	system System68K

	code *linker.Segment
	data *linker.Segment
	bss  *linker.Segment

	relocations map[uint64]reloc68K

	relocationsSuppressed bool

	codeSize    uint64
	dataSize    uint64
	bssSize     uint64
	codeAddress uint64

	diag *linker.Diagnostics
}

func NewCPM68KFormat(system System68K) *CPM68KFormat {
	return &CPM68KFormat{system: system, relocations: make(map[uint64]reloc68K)}
}

func (f *CPM68KFormat) SetOptions(options map[string]string, diag *linker.Diagnostics) error {
	f.diag = diag
	for key := range options {
		switch key {
		case "noreloc":
			f.relocationsSuppressed = true
		default:
			diag.Warnf("unknown option `%s`, ignoring", key)
		}
	}
	return nil
}

func (f *CPM68KFormat) DefaultScript(module *linker.Module) string {
	return `
".code"
{
	at ?code_base_address?;
	all not write align 4;
	align 4;
};

".data"
{
	at max(here, ?data_base_address?);
	all not zero align 4;
	align 4;
};

".bss"
{
	at max(here, ?bss_base_address?);
	all align 4;
	align 4;
};
`
}

func (f *CPM68KFormat) OnNewSegment(segment *linker.Segment) {
	switch segment.Name {
	case ".code":
		if f.code != nil {
			f.diag.Errorf("duplicate `.code` segment, ignoring")
			return
		}
		if f.data != nil || f.bss != nil {
			f.diag.Warnf("wrong order for `.code` segment")
		}
		f.code = segment
	case ".data":
		if f.data != nil {
			f.diag.Errorf("duplicate `.data` segment, ignoring")
			return
		}
		if f.bss != nil {
			f.diag.Warnf("wrong order for `.data` segment")
		}
		f.data = segment
	case ".bss":
		if f.bss != nil {
			f.diag.Errorf("duplicate `.bss` segment, ignoring")
			return
		}
		f.bss = segment
	default:
		f.diag.Errorf("unknown segment `%s` for format, expected one of `.code`, `.data`, `.bss`, ignoring", segment.Name)
	}
}

func (f *CPM68KFormat) SupportsSegmentation() bool {
	return false
}

func (f *CPM68KFormat) Is16Bit() bool {
	return false
}

func (f *CPM68KFormat) AdditionalSectionFlags(name string) linker.SectionFlags {
	return 0
}

func (f *CPM68KFormat) segmentNumber(segment *linker.Segment) uint16 {
	switch segment {
	case f.code:
		return reloc68KText
	case f.data:
		return reloc68KData
	case f.bss:
		return reloc68KBSS
	default:
		return reloc68KAbsolute
	}
}

func (f *CPM68KFormat) ProcessModule(module *linker.Module) error {
	if module.CPU != linker.CPUM68K {
		return utils.MakeError(linker.ErrFormatParse, "format only supports Motorola 68000 binaries, got %s", module.CPU)
	}
	if _, present := f.Parameters()["code_base_address"]; !present {
		base := uint64(0x0500)
		if f.system == System68KHuman68k {
			base = 0x0006F800
		}
		f.Parameters()["code_base_address"] = linker.AbsoluteLocation(base)
	}
	if err := f.LinkModule(module, f.DefaultScript(module), f.OnNewSegment); err != nil {
		return err
	}
	diag := module.Diagnostics()
	for i := range module.Relocations {
		relocation := &module.Relocations[i]
		resolution, ok := relocation.Resolve(module)
		if !ok {
			diag.Errorf("unable to resolve relocation: %s, ignoring", relocation)
			continue
		}
		relocation.WriteWord(resolution.Value)
		if resolution.Target == nil {
			continue
		}
		if f.system == System68KHuman68k {
			diag.Warnf("relocation suppressed")
			continue
		}
		if resolution.Reference != nil {
			// inter-segment difference, position independent
			continue
		}
		if f.relocationsSuppressed {
			continue
		}
		if f.system == System68KGEMDOS && relocation.Size != 4 {
			diag.Errorf("format only supports longword relocations: %s, ignoring", relocation)
			continue
		}
		if relocation.Size != 2 && relocation.Size != 4 {
			diag.Errorf("format only supports word and longword relocations: %s, ignoring", relocation)
			continue
		}
		address := relocation.Source.Position(false).Address
		if address&1 != 0 {
			diag.Errorf("misaligned relocation at %#x, ignoring", address)
			continue
		}
		f.relocations[address] = reloc68K{size: relocation.Size, segment: f.segmentNumber(resolution.Target)}
	}

	if _, found := module.FindGlobalSymbol(".stack_top"); found {
		diag.Warnf("setting stack top not supported, ignoring")
	}
	if entry, found := module.FindGlobalSymbol(".entry"); found {
		position := entry.Position(false)
		if f.code == nil || position.Address != f.code.BaseAddress {
			diag.Errorf("entry point must be beginning of .code segment, ignoring")
		}
	}
	return nil
}

func (f *CPM68KFormat) CalculateValues() error {
	if f.code != nil {
		f.codeSize = f.code.ImageSize()
		f.codeAddress = f.code.BaseAddress
	}
	if f.data != nil {
		f.dataSize = f.data.ImageSize()
	}
	if f.bss != nil {
		f.bssSize = f.bss.ZeroFill
	}
	return nil
}

func (f *CPM68KFormat) WriteFile(w io.Writer) (uint64, error) {
	wr := linker.NewWriter(linker.BigEndian)
	wr.WriteWordDefault(2, magic68KContiguous)
	wr.WriteWordDefault(4, f.codeSize)
	wr.WriteWordDefault(4, f.dataSize)
	wr.WriteWordDefault(4, f.bssSize)
	wr.WriteWordDefault(4, 0) // symbol table size
	wr.WriteWordDefault(4, 0) // reserved / stack size
	wr.WriteWordDefault(4, f.codeAddress)
	suppressed := uint64(0)
	if f.relocationsSuppressed || f.system == System68KHuman68k || len(f.relocations) == 0 {
		suppressed = 1
	}
	wr.WriteWordDefault(2, suppressed)
	if f.code != nil {
		if _, err := f.code.WriteTo(wr, f.code.ImageSize(), 0); err != nil {
			return 0, err
		}
	}
	if f.data != nil {
		if _, err := f.data.WriteTo(wr, f.data.ImageSize(), 0); err != nil {
			return 0, err
		}
	}
	if suppressed == 0 {
		f.writeRelocationStream(wr)
	}
	return wr.FlushTo(w)
}

// writeRelocationStream emits one word per word of the text and data
// images: the relocation type of that word, with longword fixups marked on
// their upper word and typed on their lower.
func (f *CPM68KFormat) writeRelocationStream(wr *linker.Writer) {
	imageBase := f.codeAddress
	total := (f.codeSize + f.dataSize) / 2
	words := make([]uint16, total)
	addresses := utils.SortedKeys(f.relocations)
	for _, address := range addresses {
		relocation := f.relocations[address]
		index := (address - imageBase) / 2
		if index >= total {
			continue
		}
		if relocation.size == 4 {
			if index+1 >= total {
				continue
			}
			words[index] = reloc68KLongword
			words[index+1] = relocation.segment
		} else {
			words[index] = relocation.segment
		}
	}
	for _, word := range words {
		wr.WriteWordDefault(2, uint64(word))
	}
}

func (f *CPM68KFormat) DefaultExtension(base string) string {
	switch f.system {
	case System68KGEMDOS:
		return base + ".prg"
	case System68KHuman68k:
		return base + ".z"
	default:
		return base + ".68k"
	}
}

// CPM68KObjFormat parses relocatable CP/M-68K objects: the contiguous
// header followed by the text and data images, the symbol table and the
// per-word relocation stream.
type CPM68KObjFormat struct {
	specialChar byte
	output      linker.OutputFormat
}

func NewCPM68KObjFormat() *CPM68KObjFormat {
	return &CPM68KObjFormat{specialChar: '$'}
}

func (f *CPM68KObjFormat) SetupOptions(specialChar byte, output linker.OutputFormat) {
	f.specialChar = specialChar
	f.output = output
}

// newSection builds a section carrying any extra flags the output format
// attaches to its name
func (f *CPM68KObjFormat) newSection(name string, flags linker.SectionFlags) *linker.Section {
	if f.output != nil {
		flags |= f.output.AdditionalSectionFlags(name)
	}
	return linker.NewSection(name, flags)
}

func (f *CPM68KObjFormat) ReadFile(rd *linker.Reader, module *linker.Module) error {
	rd.Endian = linker.BigEndian
	base := rd.Tell()
	magic := rd.ReadUnsignedDefault(2)
	if magic != magic68KContiguous && magic != magic68KNoncontiguous {
		return utils.MakeError(linker.ErrFormatParse, "bad 68K header magic %#x", magic)
	}
	textSize := rd.ReadUnsignedDefault(4)
	dataSize := rd.ReadUnsignedDefault(4)
	bssSize := rd.ReadUnsignedDefault(4)
	symbolSize := rd.ReadUnsignedDefault(4)
	rd.ReadUnsignedDefault(4) // reserved
	rd.ReadUnsignedDefault(4) // text base
	suppressed := rd.ReadUnsignedDefault(2)
	if err := rd.Err(); err != nil {
		return err
	}

	module.CPU = linker.CPUM68K

	text := f.newSection(".text", linker.Readable|linker.Executable)
	if err := text.ReadFrom(readerAt(rd, base+header68KSize), textSize); err != nil {
		return err
	}
	data := f.newSection(".data", linker.Readable|linker.Writable)
	if err := data.ReadFrom(readerAt(rd, base+header68KSize+textSize), dataSize); err != nil {
		return err
	}
	bss := f.newSection(".bss", linker.Readable|linker.Writable|linker.ZeroFilled)
	bss.Expand(bssSize)
	module.AddSection(text)
	module.AddSection(data)
	module.AddSection(bss)

	sectionFor := func(segment uint16) *linker.Section {
		switch segment {
		case reloc68KText:
			return text
		case reloc68KData:
			return data
		case reloc68KBSS:
			return bss
		default:
			return nil
		}
	}

	// symbol table
	symbolBase := base + header68KSize + textSize + dataSize
	rd.Seek(symbolBase)
	var externals []linker.SymbolName
	for read := uint64(0); read+symbol68KEntrySize <= symbolSize; read += symbol68KEntrySize {
		nameBytes := make([]byte, 8)
		rd.ReadData(nameBytes)
		name := strings.TrimRight(string(nameBytes), "\x00 ")
		flags := uint16(rd.ReadUnsignedDefault(2))
		value := rd.ReadUnsignedDefault(4)
		if err := rd.Err(); err != nil {
			return err
		}
		switch {
		case flags&symbol68KExternal != 0:
			symbol := linker.LocalSymbol(name)
			externals = append(externals, symbol)
			module.AddImportedSymbol(symbol)
		case flags&symbol68KDefined != 0:
			var location linker.Location
			switch {
			case flags&symbol68KText != 0:
				location = linker.Location{Section: text, Offset: value}
			case flags&symbol68KData != 0:
				location = linker.Location{Section: data, Offset: value - textSize}
			case flags&symbol68KBSS != 0:
				location = linker.Location{Section: bss, Offset: value - textSize - dataSize}
			default:
				location = linker.AbsoluteLocation(value)
			}
			if flags&symbol68KGlobal != 0 {
				module.AddGlobalSymbol(name, location)
			} else {
				module.AddLocalSymbol(name, location)
			}
		}
	}

	if suppressed != 0 {
		return rd.Err()
	}

	// relocation stream, one word per image word
	rd.Seek(symbolBase + symbolSize)
	imageWords := (textSize + dataSize) / 2
	sectionAt := func(offset uint64) (*linker.Section, uint64) {
		if offset < textSize {
			return text, offset
		}
		return data, offset - textSize
	}
	for index := uint64(0); index < imageWords; index++ {
		word := uint16(rd.ReadUnsignedDefault(2))
		if err := rd.Err(); err != nil {
			return err
		}
		offset := index * 2
		switch word {
		case reloc68KAbsolute, reloc68KInstr:
		case reloc68KLongword:
			if index+1 >= imageWords {
				return utils.MakeError(linker.ErrFormatParse, "longword relocation at end of image")
			}
			index++
			lower := uint16(rd.ReadUnsignedDefault(2))
			section, sectionOffset := sectionAt(offset)
			source := linker.Location{Section: section, Offset: sectionOffset}
			if lower == reloc68KUndefined {
				// self-extension: external symbol index in the image word
				continue
			}
			targetSection := sectionFor(lower)
			if targetSection == nil {
				continue
			}
			relocation := linker.AbsoluteRelocation(4, source, linker.LocationTarget(linker.Location{Section: targetSection}), 0, linker.BigEndian)
			relocation.AddCurrentValue()
			adjustSegmentAddend(&relocation, targetSection, textSize, dataSize)
			module.Relocations = append(module.Relocations, relocation)
		case reloc68KData, reloc68KText, reloc68KBSS:
			section, sectionOffset := sectionAt(offset)
			source := linker.Location{Section: section, Offset: sectionOffset}
			targetSection := sectionFor(word)
			relocation := linker.AbsoluteRelocation(2, source, linker.LocationTarget(linker.Location{Section: targetSection}), 0, linker.BigEndian)
			relocation.AddCurrentValue()
			adjustSegmentAddend(&relocation, targetSection, textSize, dataSize)
			module.Relocations = append(module.Relocations, relocation)
		case reloc68KUndefined, reloc68KPCRel:
			// external references carry a symbol index in the image word
			section, sectionOffset := sectionAt(offset)
			source := linker.Location{Section: section, Offset: sectionOffset}
			symbolIndex := section.ReadUnsignedAt(2, sectionOffset, linker.BigEndian)
			if symbolIndex >= uint64(len(externals)) {
				return utils.MakeError(linker.ErrFormatParse, "external relocation names symbol %d of %d", symbolIndex, len(externals))
			}
			section.WriteWord(2, sectionOffset, 0, linker.BigEndian)
			relocation := linker.AbsoluteRelocation(2, source, linker.SymbolTarget(externals[symbolIndex]), 0, linker.BigEndian)
			if word == reloc68KPCRel {
				relocation = linker.RelativeRelocation(2, source, linker.SymbolTarget(externals[symbolIndex]), 0, linker.BigEndian)
			}
			module.Relocations = append(module.Relocations, relocation)
		}
	}
	return rd.Err()
}

// adjustSegmentAddend compensates for image addresses being contiguous
// across text and data: a value pointing into .data stores text size plus
// the offset, but the relocation targets the .data section start
func adjustSegmentAddend(relocation *linker.Relocation, target *linker.Section, textSize, dataSize uint64) {
	switch target.Name {
	case ".data":
		relocation.Addend -= textSize
	case ".bss":
		relocation.Addend -= textSize + dataSize
	}
}

func readerAt(rd *linker.Reader, offset uint64) io.Reader {
	rd.Seek(offset)
	return readerFunc(func(buf []byte) (int, error) {
		count := rd.ReadData(buf)
		if count == 0 {
			return 0, io.EOF
		}
		return count, nil
	})
}

type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(buf []byte) (int, error) {
	return f(buf)
}
