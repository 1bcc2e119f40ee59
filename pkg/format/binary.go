package format

import (
	"io"

	"github.com/retrolinker/retrolinker/pkg/linker"
)

// BinaryFormat generates a flat unstructured binary image, which covers
// CP/M-80 .com files, MS-DOS .com files and raw memory images. The format
// stores no relocations, so everything must resolve at link time.
type BinaryFormat struct {
	linker.SegmentManager

	// BaseAddress is where the loader places the image; 0x100 for .com
	// files loaded behind a program segment prefix
	BaseAddress uint64

	extension string

	image *linker.Segment

	diag *linker.Diagnostics
}

func NewBinaryFormat(baseAddress uint64, extension string) *BinaryFormat {
	return &BinaryFormat{BaseAddress: baseAddress, extension: extension}
}

func (f *BinaryFormat) SetOptions(options map[string]string, diag *linker.Diagnostics) error {
	f.diag = diag
	for key := range options {
		diag.Warnf("unknown option `%s`, ignoring", key)
	}
	return nil
}

func (f *BinaryFormat) DefaultScript(module *linker.Module) string {
	return `
".code"
{
	at ?base_address?;
	base 0;
	all not zero;
	all any;
};
`
}

func (f *BinaryFormat) OnNewSegment(segment *linker.Segment) {
	if f.image != nil {
		f.diag.Errorf("duplicate segment `%s`, ignoring", segment.Name)
		return
	}
	f.image = segment
}

func (f *BinaryFormat) SupportsSegmentation() bool {
	return false
}

func (f *BinaryFormat) Is16Bit() bool {
	return true
}

func (f *BinaryFormat) AdditionalSectionFlags(name string) linker.SectionFlags {
	return 0
}

func (f *BinaryFormat) ProcessModule(module *linker.Module) error {
	if _, present := f.Parameters()["base_address"]; !present {
		f.Parameters()["base_address"] = linker.AbsoluteLocation(f.BaseAddress)
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
		if resolution.Target != nil && resolution.Reference == nil && relocation.Kind != linker.Direct {
			diag.Errorf("format does not support load time relocation: %s, generating image anyway", relocation)
		}
	}
	if entry, found := module.FindGlobalSymbol(".entry"); found {
		position := entry.Position(false)
		if position.Address != f.BaseAddress {
			diag.Warnf("entry point %#x must be the image base %#x, ignoring", position.Address, f.BaseAddress)
		}
	}
	if _, found := module.FindGlobalSymbol(".stack_top"); found {
		diag.Warnf("setting stack top not supported, ignoring")
	}
	return nil
}

func (f *BinaryFormat) CalculateValues() error {
	return nil
}

func (f *BinaryFormat) WriteFile(w io.Writer) (uint64, error) {
	if f.image == nil {
		return 0, nil
	}
	return f.image.WriteTo(w, f.image.ImageSize(), 0)
}

func (f *BinaryFormat) DefaultExtension(base string) string {
	return base + f.extension
}
