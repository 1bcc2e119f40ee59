package linker

import (
	"fmt"
)

// Location is a place within a section, or an absolute address when the
// section is nil
type Location struct {
	Section *Section
	Offset  uint64
}

func AbsoluteLocation(address uint64) Location {
	return Location{Offset: address}
}

// Displacement maps sections that were merged away to their new home: the
// surviving section and the offset the old contents start at. Locations are
// rewritten in bulk through it.
type Displacement map[*Section]Location

// Displace rewrites the location if its section was merged away and reports
// whether anything changed
func (l *Location) Displace(displacement Displacement) bool {
	if l.Section == nil {
		return false
	}
	if moved, ok := displacement[l.Section]; ok {
		l.Section = moved.Section
		l.Offset += moved.Offset
		return true
	}
	return false
}

// Position resolves the location to an address once layout has happened.
// With segmentOf set, the result is the base of the address space the
// section belongs to instead of the addressed byte.
//
// The start of a segment address space and the start of the segment data
// may differ: in a flat .com file the first image byte sits at offset 0x100
// while the segment starts at 0.
func (l Location) Position(segmentOf bool) Position {
	if l.Section == nil {
		if segmentOf {
			return Position{}
		}
		return Position{Address: l.Offset}
	}
	if segmentOf {
		return l.Section.Base()
	}
	position := l.Section.Start()
	position.Address += l.Offset
	return position
}

func (l Location) WithOffset(delta int64) Location {
	l.Offset = uint64(int64(l.Offset) + delta)
	return l
}

func (l Location) String() string {
	if l.Section != nil {
		return fmt.Sprintf("location %s:%#x", l.Section.Name, l.Offset)
	}
	return fmt.Sprintf("location %#x", l.Offset)
}

// Position is an absolute address together with the segment or address
// space it belongs to. Tracking the segment lets relocation resolution tell
// when a target and its reference frame live in different address spaces.
type Position struct {
	Address uint64
	Segment *Segment
}

// SegmentOffset returns the offset from the start of the segment
func (p Position) SegmentOffset() uint64 {
	if p.Segment == nil {
		return p.Address
	}
	return p.Address - p.Segment.BaseAddress
}

func (p Position) String() string {
	if p.Segment != nil {
		return fmt.Sprintf("position %s:%#x", p.Segment.Name, p.Address)
	}
	return fmt.Sprintf("position %#x", p.Address)
}
