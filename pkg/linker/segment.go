package linker

import (
	"fmt"
	"io"

	"github.com/retrolinker/retrolinker/pkg/utils"
)

// Segment is an ordered collection of sections that share one address
// space. The linker script gathers sections into segments; output formats
// then map segments onto their own notions of code, data and bss.
//
// Within a segment all data carrying sections precede all zero filled ones.
// Appending a data section after a zero filled one materialises the zeros.
type Segment struct {
	Name string

	Sections []*Section

	BaseAddress uint64

	// Align is the largest alignment requirement of any contained section
	Align uint64

	// DataSize caches the total size of stored data
	DataSize uint64

	// ZeroFill caches the total size of the trailing zero filled sections
	ZeroFill uint64

	// OptionalExtra is additional memory the loader may allocate on request
	OptionalExtra uint64

	diag *Diagnostics
}

func NewSegment(name string, baseAddress uint64, diag *Diagnostics) *Segment {
	return &Segment{Name: name, BaseAddress: baseAddress, Align: 1, diag: diag}
}

// IsMissing reports whether the segment carries no memory at all
func (g *Segment) IsMissing() bool {
	return g.DataSize == 0 && g.ZeroFill == 0 && g.OptionalExtra == 0
}

// Fill materialises every zero filled section into stored zero bytes
func (g *Segment) Fill() {
	for _, section := range g.Sections {
		if section.IsZeroFilled() {
			section.SetZeroFilled(false)
		}
	}
	g.DataSize += g.ZeroFill
	g.ZeroFill = 0
}

// RealignEnd pads the last section so the segment ends on a multiple of align
func (g *Segment) RealignEnd(align uint64) {
	if len(g.Sections) == 0 {
		return
	}
	tail := g.Sections[len(g.Sections)-1]
	extra := tail.RealignEnd(align)
	if tail.IsZeroFilled() {
		g.ZeroFill += extra
	} else {
		g.DataSize += extra
	}
	if align > g.Align {
		g.Align = align
	}
}

// Append places a section at the current end of the segment, fixing its
// address and recording the segment back-reference. The first section may
// be pre-fixed; later ones must still be movable.
func (g *Segment) Append(section *Section) {
	if section == nil {
		return
	}
	if section.Segment != nil {
		panic("internal error: section " + section.Name + " already placed")
	}
	align := section.Align()
	var address uint64
	if len(g.Sections) > 0 {
		if section.IsFixed() {
			panic("internal error: fixed section " + section.Name + " appended mid-segment")
		}
		g.RealignEnd(section.Align())
		address = g.BaseAddress + g.TotalSize()
	} else {
		address = g.BaseAddress
	}
	section.Segment = g
	section.SetAddress(address)
	if len(g.Sections) > 0 {
		previous := g.Sections[len(g.Sections)-1]
		section.Bias = previous.Bias + int64(previous.Size())
	} else {
		section.Bias = int64(g.BaseAddress)
	}
	if section.IsZeroFilled() {
		g.ZeroFill += section.Size()
	} else {
		if g.ZeroFill != 0 {
			g.diag.Warnf("filling in zero filled sections of segment %s", g.Name)
			g.Fill()
		}
		g.DataSize += section.Size()
	}
	g.Sections = append(g.Sections, section)
	if align > g.Align {
		g.Align = align
	}
}

func (g *Segment) TotalSize() uint64 {
	return g.DataSize + g.ZeroFill
}

// ImageSize returns the size of stored data, excluding zero fill
func (g *Segment) ImageSize() uint64 {
	return g.DataSize
}

func (g *Segment) StartAddress() uint64 {
	return g.BaseAddress
}

func (g *Segment) EndAddress() uint64 {
	return g.BaseAddress + g.TotalSize()
}

// SetEndAddress extends the segment so it ends at address. The extension
// lands in the last section; a trailing zero filled section grows its zero
// extent. Shrinking is ignored.
func (g *Segment) SetEndAddress(address uint64) {
	current := g.EndAddress()
	if current > address {
		g.diag.Debugf("attempting to decrease segment %s size, ignoring", g.Name)
	}
	if current >= address {
		return
	}
	if len(g.Sections) == 0 {
		g.diag.Errorf("no sections present in segment %s to set end address of, ignoring", g.Name)
		return
	}
	tail := g.Sections[len(g.Sections)-1]
	if tail.IsZeroFilled() {
		extra := address - current
		tail.Expand(tail.Size() + extra)
		g.ZeroFill += extra
	} else {
		g.DataSize += tail.Expand(address - tail.StartAddress())
	}
}

// AlignEndAddress pads the segment end to a multiple of align
func (g *Segment) AlignEndAddress(align uint64) {
	g.SetEndAddress(utils.AlignTo(g.EndAddress(), align))
}

// ShiftAddress moves the whole segment by amount, keeping the base aligned.
// Section biases are not altered.
func (g *Segment) ShiftAddress(amount int64) {
	var newBase uint64
	if amount < 0 {
		newBase = (g.BaseAddress + uint64(amount) + g.Align - 1) &^ (g.Align - 1)
	} else {
		newBase = utils.AlignTo(g.BaseAddress+uint64(amount), g.Align)
	}
	amount = int64(newBase - g.BaseAddress)
	g.BaseAddress = newBase
	for _, section := range g.Sections {
		section.ResetAddress(uint64(int64(section.StartAddress()) + amount))
	}
}

// SetStartAddress rebases the segment at address, moving every section
func (g *Segment) SetStartAddress(address uint64) {
	g.ShiftAddress(int64(address - g.BaseAddress))
}

// ReadData fills buf with stored data starting at offset within the
// segment's data image
func (g *Segment) ReadData(buf []byte, offset uint64) int {
	total := 0
	for _, section := range g.Sections {
		if section.IsZeroFilled() {
			continue
		}
		if offset >= section.Size() {
			offset -= section.Size()
			continue
		}
		count := section.ReadData(buf[total:], offset)
		total += count
		offset = 0
		if total >= len(buf) {
			break
		}
	}
	return total
}

// WriteTo writes at most count bytes of stored data starting at offset.
// Zero filled sections are skipped.
func (g *Segment) WriteTo(w io.Writer, count uint64, offset uint64) (uint64, error) {
	var written uint64
	for _, section := range g.Sections {
		if section.IsZeroFilled() {
			continue
		}
		if offset >= section.Size() {
			offset -= section.Size()
			continue
		}
		n, err := section.WriteTo(w, count, offset)
		written += n
		if err != nil {
			return written, err
		}
		offset = 0
		if count <= n {
			break
		}
		count -= n
	}
	return written, nil
}

func (g *Segment) String() string {
	return fmt.Sprintf("segment %s", g.Name)
}
