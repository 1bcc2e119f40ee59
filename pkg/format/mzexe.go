package format

import (
	"io"
	"sort"

	"github.com/retrolinker/retrolinker/pkg/linker"
	"github.com/retrolinker/retrolinker/pkg/utils"
)

const (
	mzMagic = 0x5A4D // "MZ"
	zmMagic = 0x4D5A // "ZM"

	mzHeaderFields = 0x1C
	mzBlockSize    = 512
	mzParagraph    = 16

	// the relocation count field is 16 bits and the table must fit the
	// header area
	mzMaxRelocations = 16383
)

// mzRelocation is one entry of the MZ relocation table: the far address of
// a word the loader adds the load segment to
type mzRelocation struct {
	offset  uint16
	segment uint16
}

// MZFormat generates MS-DOS "MZ" executables: a paragraph granular header,
// a relocation table of far pointers to patch, and the load image.
type MZFormat struct {
	linker.SegmentManager

	signature uint16

	code *linker.Segment
	bss  *linker.Segment

	relocations []mzRelocation

	lastBlockSize    uint16
	fileSizeBlocks   uint16
	headerParagraphs uint16
	minExtraParas    uint16
	maxExtraParas    uint16
	initialSS        uint16
	initialSP        uint16
	checksum         uint16
	initialIP        uint16
	initialCS        uint16
	relocationOffset uint16
	overlayNumber    uint16

	diag *linker.Diagnostics
}

func NewMZFormat() *MZFormat {
	return &MZFormat{signature: mzMagic, maxExtraParas: 0xFFFF}
}

func (f *MZFormat) SetOptions(options map[string]string, diag *linker.Diagnostics) error {
	f.diag = diag
	for key, value := range options {
		switch key {
		case "signature":
			if value == "ZM" {
				f.signature = zmMagic
			}
		default:
			diag.Warnf("unknown option `%s`, ignoring", key)
		}
	}
	return nil
}

func (f *MZFormat) DefaultScript(module *linker.Module) string {
	return `
".code"
{
	base here;
	all not zero;
	align 16;
};

".bss"
{
	base here;
	all any;
};
`
}

func (f *MZFormat) OnNewSegment(segment *linker.Segment) {
	switch segment.Name {
	case ".code":
		if f.code != nil {
			f.diag.Errorf("duplicate `.code` segment, ignoring")
			return
		}
		f.code = segment
	case ".bss":
		if f.bss != nil {
			f.diag.Errorf("duplicate `.bss` segment, ignoring")
			return
		}
		f.bss = segment
	default:
		f.diag.Errorf("unknown segment `%s` for format, expected one of `.code`, `.bss`, ignoring", segment.Name)
	}
}

func (f *MZFormat) SupportsSegmentation() bool {
	return true
}

func (f *MZFormat) Is16Bit() bool {
	return true
}

func (f *MZFormat) AdditionalSectionFlags(name string) linker.SectionFlags {
	return 0
}

func (f *MZFormat) ProcessModule(module *linker.Module) error {
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
		if relocation.Kind != linker.ParagraphAddress || relocation.IsRelative() {
			continue
		}
		if _, hasReference := relocation.Reference.Location(); hasReference && resolution.Reference != nil {
			// paragraph differences are position independent
			continue
		}
		if relocation.Size != 2 {
			diag.Errorf("format only supports 16-bit segment relocations: %s, ignoring", relocation)
			continue
		}
		position := relocation.Source.Position(false)
		f.relocations = append(f.relocations, mzRelocation{
			offset:  uint16(position.Address & 0xF),
			segment: uint16(position.Address >> 4),
		})
	}
	sort.Slice(f.relocations, func(i, j int) bool {
		a, b := f.relocations[i], f.relocations[j]
		return uint32(a.segment)<<4+uint32(a.offset) < uint32(b.segment)<<4+uint32(b.offset)
	})

	if entry, found := module.FindGlobalSymbol(".entry"); found {
		position := entry.Position(false)
		base := entry.Position(true)
		f.initialCS = uint16(base.Address >> 4)
		f.initialIP = uint16(position.Address - base.Address)
	}
	if stackTop, found := module.FindGlobalSymbol(".stack_top"); found {
		position := stackTop.Position(false)
		base := stackTop.Position(true)
		f.initialSS = uint16(base.Address >> 4)
		f.initialSP = uint16(position.Address - base.Address)
	}
	return nil
}

func (f *MZFormat) imageSize() uint64 {
	if f.code == nil {
		return 0
	}
	return f.code.ImageSize()
}

func (f *MZFormat) extraSize() uint64 {
	extra := uint64(0)
	if f.code != nil {
		extra += f.code.ZeroFill
	}
	if f.bss != nil {
		extra += f.bss.TotalSize() + f.bss.OptionalExtra
	}
	return extra
}

func (f *MZFormat) CalculateValues() error {
	if len(f.relocations) > mzMaxRelocations {
		return utils.MakeError(linker.ErrOverCapacity, "%d relocations exceed the MZ maximum of %d", len(f.relocations), mzMaxRelocations)
	}
	f.relocationOffset = mzHeaderFields
	headerSize := utils.AlignTo(uint64(mzHeaderFields)+4*uint64(len(f.relocations)), mzParagraph)
	f.headerParagraphs = uint16(headerSize / mzParagraph)
	total := headerSize + f.imageSize()
	f.fileSizeBlocks = uint16((total + mzBlockSize - 1) / mzBlockSize)
	f.lastBlockSize = uint16(total % mzBlockSize)
	f.minExtraParas = uint16((f.extraSize() + mzParagraph - 1) / mzParagraph)
	if f.maxExtraParas < f.minExtraParas {
		f.maxExtraParas = f.minExtraParas
	}
	return nil
}

func (f *MZFormat) WriteFile(w io.Writer) (uint64, error) {
	wr := linker.NewWriter(linker.LittleEndian)
	wr.WriteWordDefault(2, uint64(f.signature))
	wr.WriteWordDefault(2, uint64(f.lastBlockSize))
	wr.WriteWordDefault(2, uint64(f.fileSizeBlocks))
	wr.WriteWordDefault(2, uint64(len(f.relocations)))
	wr.WriteWordDefault(2, uint64(f.headerParagraphs))
	wr.WriteWordDefault(2, uint64(f.minExtraParas))
	wr.WriteWordDefault(2, uint64(f.maxExtraParas))
	wr.WriteWordDefault(2, uint64(f.initialSS))
	wr.WriteWordDefault(2, uint64(f.initialSP))
	wr.WriteWordDefault(2, uint64(f.checksum))
	wr.WriteWordDefault(2, uint64(f.initialIP))
	wr.WriteWordDefault(2, uint64(f.initialCS))
	wr.WriteWordDefault(2, uint64(f.relocationOffset))
	wr.WriteWordDefault(2, uint64(f.overlayNumber))
	for _, relocation := range f.relocations {
		wr.WriteWordDefault(2, uint64(relocation.offset))
		wr.WriteWordDefault(2, uint64(relocation.segment))
	}
	wr.AlignTo(mzParagraph)
	if f.code != nil {
		if _, err := f.code.WriteTo(wr, f.code.ImageSize(), 0); err != nil {
			return 0, err
		}
	}
	return wr.FlushTo(w)
}

func (f *MZFormat) DefaultExtension(base string) string {
	return base + ".exe"
}
