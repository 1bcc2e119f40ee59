package linker

import (
	"fmt"
)

// RelocationKind specifies how the target of a relocation is turned into
// the resolved value
type RelocationKind int

const (
	// Direct uses the value of the target
	Direct RelocationKind = iota
	// ParagraphAddress uses the 16-byte paragraph of the value, for real
	// mode x86 platforms
	ParagraphAddress
	// SegmentIndex uses the 8-bit segment number of the value, for
	// segmented Z8000 platforms
	SegmentIndex
	// SelectorIndex stores a protected mode selector referencing the
	// target's segment; the output format allocates the actual selector
	SelectorIndex
	// GOTEntry uses the target's entry in the global offset table instead
	// of the actual value
	GOTEntry
	// PLTEntry uses the target's procedure linkage table entry (reserved)
	PLTEntry
	// SizeOf uses the size of the target's section
	SizeOf
)

func (k RelocationKind) String() string {
	switch k {
	case Direct:
		return "direct"
	case ParagraphAddress:
		return "paragraph"
	case SegmentIndex:
		return "segment index"
	case SelectorIndex:
		return "selector"
	case GOTEntry:
		return "got entry"
	case PLTEntry:
		return "plt entry"
	case SizeOf:
		return "size of"
	default:
		return "unknown"
	}
}

// Relocation is a value within some binary data that has to be fixed up
// once the exact position of certain symbols is known. At its most basic a
// relocation stores the referenced target and the source location where the
// value goes. Self-relative values are represented by a reference frame
// equal to the source; segment-relative offsets by a reference naming the
// segment of the target.
type Relocation struct {
	Kind RelocationKind

	// Size of the stored value in bytes
	Size int

	// Source is where the resolved value is stored
	Source Location

	// Target is the symbol or location the relocation refers to
	Target Target

	// Reference is subtracted from the target's value; the zero Target is
	// the absolute frame
	Reference Target

	Addend uint64

	Endian Endian

	// Shift is the amount the value is shifted right before storing;
	// negative shifts left
	Shift int

	// Mask selects the bits of the word the value lands in
	Mask uint64

	// Subtract negates the resolved value before adding the addend
	Subtract bool
}

// Resolution is the outcome of resolving a relocation: the value together
// with the segments of the target and reference frames, so output formats
// can tell inter-segment fixups apart
type Resolution struct {
	Value     uint64
	Target    *Segment
	Reference *Segment
}

func newRelocation(kind RelocationKind, size int, source Location, target Target, reference Target, addend uint64, endian Endian) Relocation {
	return Relocation{
		Kind:      kind,
		Size:      size,
		Source:    source,
		Target:    target,
		Reference: reference,
		Addend:    addend,
		Endian:    endian,
		Mask:      ^uint64(0),
	}
}

// AbsoluteRelocation references the absolute address of a target
func AbsoluteRelocation(size int, source Location, target Target, addend uint64, endian Endian) Relocation {
	return newRelocation(Direct, size, source, target, Target{}, addend, endian)
}

// OffsetRelocation references the offset of a target within its preferred
// segment (Intel 8086 specific)
func OffsetRelocation(size int, source Location, target Target, addend uint64, endian Endian) Relocation {
	return newRelocation(Direct, size, source, target, target.Segment(), addend, endian)
}

// OffsetFromRelocation references the offset of a target from a specific
// reference point
func OffsetFromRelocation(size int, source Location, target Target, reference Target, addend uint64, endian Endian) Relocation {
	return newRelocation(Direct, size, source, target, reference, addend, endian)
}

// RelativeRelocation references the offset of a target from the source,
// as used for relative branches
func RelativeRelocation(size int, source Location, target Target, addend uint64, endian Endian) Relocation {
	return newRelocation(Direct, size, source, target, LocationTarget(source), addend, endian)
}

// ParagraphRelocation stores the 16-bit paragraph (the address shifted
// right by 4) of the target (Intel 8086 specific)
func ParagraphRelocation(source Location, target Target, addend uint64) Relocation {
	return newRelocation(ParagraphAddress, 2, source, target, Target{}, addend, LittleEndian)
}

// SelectorRelocation stores a 16-bit selector value referencing the target
// (protected mode x86 specific)
func SelectorRelocation(source Location, target Target, addend uint64) Relocation {
	return newRelocation(SelectorIndex, 2, source, target, Target{}, addend, LittleEndian)
}

// SegmentRelocation stores the 8-bit segment number of the target
// (Zilog Z8000 specific)
func SegmentRelocation(size int, source Location, target Target, addend uint64) Relocation {
	return newRelocation(SegmentIndex, size, source, target, Target{}, addend, BigEndian)
}

// ParagraphDifferenceRelocation stores the 16-bit paragraph difference
// between the target and the reference (Intel 8086 specific). Platforms
// with no segment relocations, such as ELKS, use it to set up segment
// registers in an initializing routine.
func ParagraphDifferenceRelocation(source Location, target Target, reference Target, addend uint64) Relocation {
	return newRelocation(ParagraphAddress, 2, source, target, reference, addend, LittleEndian)
}

// GOTEntryAbsoluteRelocation references the absolute address of a global
// offset table entry
func GOTEntryAbsoluteRelocation(size int, source Location, target SymbolName, addend uint64, endian Endian) Relocation {
	return newRelocation(GOTEntry, size, source, SymbolTarget(target), Target{}, addend, endian)
}

// GOTEntryRelativeRelocation references the offset of a global offset
// table entry from the source
func GOTEntryRelativeRelocation(size int, source Location, target SymbolName, addend uint64, endian Endian) Relocation {
	return newRelocation(GOTEntry, size, source, SymbolTarget(target), LocationTarget(source), addend, endian)
}

// GOTEntryOffsetRelocation references the offset of a global offset table
// entry from the start of the table
func GOTEntryOffsetRelocation(size int, source Location, target SymbolName, addend uint64, endian Endian) Relocation {
	return newRelocation(GOTEntry, size, source, SymbolTarget(target), SymbolTarget(GlobalOffsetTableName), addend, endian)
}

// SizeOfRelocation stores the size of the target's section
func SizeOfRelocation(size int, source Location, target Target, addend uint64, endian Endian) Relocation {
	return newRelocation(SizeOf, size, source, target, Target{}, addend, endian)
}

// SetMask restricts the relocation to the masked bits of the word
func (r Relocation) SetMask(mask uint64) Relocation {
	r.Mask = mask
	return r
}

// SetShift records the shift the stored value must undergo to give the
// actual value
func (r Relocation) SetShift(shift int) Relocation {
	r.Shift = shift
	return r
}

// SetSubtract negates the resolved value before adding the addend
func (r Relocation) SetSubtract() Relocation {
	r.Subtract = true
	return r
}

// Displace recalculates the source, target and reference locations after a
// section has moved
func (r *Relocation) Displace(displacement Displacement) bool {
	changedSource := r.Source.Displace(displacement)
	changedTarget := r.Target.Displace(displacement)
	changedReference := r.Reference.Displace(displacement)
	return changedSource || changedTarget || changedReference
}

// IsRelative determines whether the relocation is self-relative, which some
// output formats emit directly as pc-relative fixups
func (r *Relocation) IsRelative() bool {
	frame, ok := r.Reference.Location()
	return ok && !r.Reference.SegmentOf && frame == r.Source
}

// Resolve computes the relocation value together with the address spaces of
// its frames. It reports failure when the target or reference name symbols
// with no definition.
func (r *Relocation) Resolve(module *Module) (Resolution, bool) {
	target := r.Target
	if r.Kind == GOTEntry {
		symbol, ok := r.Target.Symbol()
		if !ok {
			return Resolution{}, false
		}
		entry, found := module.GOTEntryLocation(symbol)
		if !found {
			return Resolution{}, false
		}
		target = LocationTarget(entry)
		target.SegmentOf = r.Target.SegmentOf
	}
	targetPosition, ok := target.Lookup(module)
	if !ok {
		return Resolution{}, false
	}
	referencePosition, ok := r.Reference.Lookup(module)
	if !ok {
		return Resolution{}, false
	}
	value := targetPosition.Address - referencePosition.Address
	if r.Subtract {
		value = -value
	}
	switch r.Kind {
	case ParagraphAddress:
		value >>= 4
	case SegmentIndex:
		value >>= 16
	case SelectorIndex:
		// the output format substitutes the allocated selector; only the
		// addend and the segments survive
		value = 0
	case SizeOf:
		location, isLocation := target.Location()
		if !isLocation || location.Section == nil {
			return Resolution{}, false
		}
		value = location.Section.Size()
	}
	return Resolution{
		Value:     r.Addend + value,
		Target:    targetPosition.Segment,
		Reference: referencePosition.Segment,
	}, true
}

// ReadUnsigned reads the value currently stored at the source, undoing the
// mask and shift
func (r *Relocation) ReadUnsigned() uint64 {
	value := r.Source.Section.ReadUnsignedAt(r.Size, r.Source.Offset, r.Endian)
	value &= r.Mask
	if r.Shift < 0 {
		value >>= -r.Shift
	} else if r.Shift > 0 {
		value <<= r.Shift
	}
	return value
}

// WriteWord stores a resolved value at the source, honoring shift and mask
func (r *Relocation) WriteWord(value uint64) {
	if r.Shift < 0 {
		value <<= -r.Shift
	} else if r.Shift > 0 {
		value >>= r.Shift
	}
	if r.Mask != ^uint64(0) {
		word := r.Source.Section.ReadUnsignedAt(r.Size, r.Source.Offset, r.Endian)
		value = (value & r.Mask) | (word &^ r.Mask)
	}
	r.Source.Section.WriteWord(r.Size, r.Source.Offset, value, r.Endian)
}

// AddCurrentValue folds the word already present at the source into the
// addend. Input formats whose relocations do not store addends in-band
// expect the value in the image to be added to the resolved value.
func (r *Relocation) AddCurrentValue() {
	r.Addend += r.ReadUnsigned()
}

func (r Relocation) String() string {
	text := fmt.Sprintf("%d byte %s relocation(at %s to ", r.Size, r.Kind, r.Source)
	if r.Subtract {
		text += "negated "
	}
	text += r.Target.String() + " relative to " + r.Reference.String()
	if r.Addend != 0 {
		text += fmt.Sprintf(" add %d", int64(r.Addend))
	}
	return text + ")"
}
