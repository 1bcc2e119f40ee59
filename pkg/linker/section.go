package linker

import (
	"fmt"
	"io"
	"strings"

	"github.com/retrolinker/retrolinker/pkg/utils"
)

// SectionFlags describe how a section may be used and how it is laid out
type SectionFlags uint32

const (
	// The data in the section can be read at runtime
	Readable SectionFlags = 1 << iota
	// The section can be written to at runtime
	Writable
	// The section data can be used as instruction
	Executable
	// Sections of the same collection with this flag are overlayed instead of appended
	Mergeable
	// The section stores no data, only a zero filled extent
	ZeroFilled
	// The section resides at a fixed address and cannot be moved
	Fixed
	// Section data represents a resource (NE, LE/LX, PE, classic Macintosh)
	Resource
	// Section memory may be left unallocated if the loader runs short
	Optional
	// Stack section
	Stack
	// Heap section
	Heap
	// First format specific flag; further custom flags are higher bits
	CustomFlag
)

func (f SectionFlags) String() string {
	var sb strings.Builder
	for _, entry := range []struct {
		flag SectionFlags
		char byte
	}{
		{Readable, 'R'}, {Writable, 'W'}, {Executable, 'X'},
		{Mergeable, 'M'}, {ZeroFilled, 'Z'}, {Fixed, 'F'},
		{Resource, 'r'}, {Optional, 'o'}, {Stack, 's'}, {Heap, 'h'},
	} {
		if f&entry.flag != 0 {
			sb.WriteByte(entry.char)
		}
	}
	return sb.String()
}

// ResourceIdent is a resource type or identifier, either a string or a
// 16-bit number. Macintosh resources use a 4-character type and a numeric
// ID; the NE format allows either form for both.
type ResourceIdent struct {
	Text     string
	Number   uint16
	IsNumber bool
}

func ResourceText(text string) ResourceIdent {
	return ResourceIdent{Text: text}
}

func ResourceNumber(number uint16) ResourceIdent {
	return ResourceIdent{Number: number, IsNumber: true}
}

func (r ResourceIdent) String() string {
	if r.IsNumber {
		return fmt.Sprintf("#%d", r.Number)
	}
	return fmt.Sprintf("%q", r.Text)
}

// Section is a series of bytes within an object file, executable or memory
// image. For segmented architectures such as the 8086 it also represents a
// segment group at the final stages of linking, where each symbol belonging
// to the same group shares a preferred segment base.
type Section struct {
	Name string

	flags SectionFlags
	data  []byte
	size  uint64 // zero filled extent, only used while ZeroFilled

	address uint64 // only valid while Fixed
	align   uint64 // only valid while not Fixed

	// Bias is the difference between the first byte of the section and the
	// zero address of its segment. The first byte of a .com file sits at
	// address 0x100 of a segment based at 0; this is represented by a bias
	// of 0x100 (start address minus base).
	Bias int64

	ResourceType ResourceIdent
	ResourceID   ResourceIdent

	// Segment is assigned as part of the linking process; the section does
	// not own it
	Segment *Segment

	// CollectionName names the section group this section merges into
	CollectionName string

	diag *Diagnostics
}

func NewSection(name string, flags SectionFlags) *Section {
	section := &Section{
		Name:         name,
		align:        1,
		ResourceType: ResourceText("    "),
		ResourceID:   ResourceNumber(0),
	}
	section.SetFlags(flags)
	return section
}

// SetDiagnostics attaches the sink used for layout warnings
func (s *Section) SetDiagnostics(diag *Diagnostics) {
	s.diag = diag
}

func (s *Section) Flags() SectionFlags {
	return s.flags
}

// SetFlags turns on flags; Mergeable, ZeroFilled and Fixed need special
// handling and are routed through their setters
func (s *Section) SetFlags(flags SectionFlags) {
	s.flags |= flags &^ (Mergeable | ZeroFilled | Fixed)
	if flags&Mergeable != 0 {
		s.SetMergeable(true)
	}
	if flags&ZeroFilled != 0 {
		s.SetZeroFilled(true)
	}
}

func (s *Section) alterFlags(state bool, mask SectionFlags) {
	if state {
		s.flags |= mask
	} else {
		s.flags &^= mask
	}
}

func (s *Section) IsReadable() bool   { return s.flags&Readable != 0 }
func (s *Section) IsWritable() bool   { return s.flags&Writable != 0 }
func (s *Section) IsExecutable() bool { return s.flags&Executable != 0 }
func (s *Section) IsMergeable() bool  { return s.flags&Mergeable != 0 }
func (s *Section) IsZeroFilled() bool { return s.flags&ZeroFilled != 0 }
func (s *Section) IsFixed() bool      { return s.flags&Fixed != 0 }
func (s *Section) IsResource() bool   { return s.flags&Resource != 0 }
func (s *Section) IsOptional() bool   { return s.flags&Optional != 0 }
func (s *Section) IsStack() bool      { return s.flags&Stack != 0 }
func (s *Section) IsHeap() bool       { return s.flags&Heap != 0 }

func (s *Section) SetReadable(state bool)   { s.alterFlags(state, Readable) }
func (s *Section) SetWritable(state bool)   { s.alterFlags(state, Writable) }
func (s *Section) SetExecutable(state bool) { s.alterFlags(state, Executable) }
func (s *Section) SetMergeable(state bool)  { s.alterFlags(state, Mergeable) }

// SetZeroFilled changes whether the section stores data. Dropping the flag
// materialises the zero extent as actual bytes and returns how many bytes
// were materialised; setting it is only legal while no data is stored.
func (s *Section) SetZeroFilled(zeroFilled bool) uint64 {
	var extra uint64
	if zeroFilled {
		if len(s.data) != 0 {
			panic("internal error: zero filling a section holding data")
		}
	} else if s.IsZeroFilled() {
		s.data = make([]byte, s.size)
		s.size = 0
		extra = uint64(len(s.data))
	}
	s.alterFlags(zeroFilled, ZeroFilled)
	return extra
}

// Align returns the alignment requirement; fixed sections report zero
func (s *Section) Align() uint64 {
	if s.IsFixed() {
		return 0
	}
	return s.align
}

// SetAlign raises the alignment requirement to newAlign, which must be a
// power of two. The alignment of a fixed section cannot be changed; an
// incompatible request is diagnosed and ignored.
func (s *Section) SetAlign(newAlign uint64) {
	if !utils.IsPowerOfTwo(newAlign) {
		panic("internal error: section alignment must be a power of two")
	}
	if s.IsFixed() {
		if s.address&(newAlign-1) != 0 {
			s.diag.Errorf("attempting to set alignment of fixed section %s to unsupported value %d", s.Name, newAlign)
		}
	} else if newAlign > s.align {
		s.align = newAlign
	}
}

// StartAddress returns the assigned address of a fixed section, zero otherwise
func (s *Section) StartAddress() uint64 {
	if s.IsFixed() {
		return s.address
	}
	return 0
}

func (s *Section) EndAddress() uint64 {
	return s.StartAddress() + s.Size()
}

// SetAddress fixes the section at newAddress, rounded up to the current
// alignment. A section that is already fixed keeps its address; attempting
// to move it is a warning, not a change.
func (s *Section) SetAddress(newAddress uint64) uint64 {
	if s.IsFixed() {
		if s.address != newAddress {
			s.diag.Warnf("attempting to change address of fixed section %s", s.Name)
		}
	} else {
		s.address = utils.AlignTo(newAddress, s.align)
		s.alterFlags(true, Fixed)
	}
	return s.address
}

// ResetAddress forcibly alters the starting address
func (s *Section) ResetAddress(newAddress uint64) {
	s.alterFlags(true, Fixed)
	s.address = newAddress
}

func (s *Section) Size() uint64 {
	if s.IsZeroFilled() {
		return s.size
	}
	return uint64(len(s.data))
}

func (s *Section) ImageSize() uint64 {
	return s.Size()
}

// Expand grows the section to newSize if larger and returns the number of
// bytes gained. Non zero filled sections gain actual zero bytes.
func (s *Section) Expand(newSize uint64) uint64 {
	if newSize <= s.Size() {
		return 0
	}
	if s.IsZeroFilled() {
		extra := newSize - s.size
		s.size = newSize
		return extra
	}
	extra := newSize - uint64(len(s.data))
	s.data = append(s.data, make([]byte, extra)...)
	return extra
}

// RealignEnd pads the end of the section to a multiple of align and returns
// the number of padding bytes
func (s *Section) RealignEnd(align uint64) uint64 {
	if s.IsFixed() {
		return s.Expand(utils.AlignTo(s.StartAddress()+s.Size(), align) - s.StartAddress())
	}
	s.SetAlign(align)
	return s.Expand(utils.AlignTo(s.Size(), align))
}

// ReadData fills buf starting at offset and returns the count actually
// read. Reads from a zero filled section yield zeros.
func (s *Section) ReadData(buf []byte, offset uint64) int {
	if s.IsZeroFilled() {
		if offset >= s.size {
			return 0
		}
		count := len(buf)
		if offset+uint64(count) > s.size {
			count = int(s.size - offset)
		}
		for i := 0; i < count; i++ {
			buf[i] = 0
		}
		return count
	}
	if offset >= uint64(len(s.data)) {
		return 0
	}
	return copy(buf, s.data[offset:])
}

// WriteData stores bytes at offset, growing the section as needed
func (s *Section) WriteData(buf []byte, offset uint64) {
	if s.IsZeroFilled() {
		panic("internal error: writing data into a zero filled section")
	}
	s.Expand(offset + uint64(len(buf)))
	copy(s.data[offset:], buf)
}

// ReadUnsignedAt reads an unsigned word of the given width
func (s *Section) ReadUnsignedAt(bytes int, offset uint64, endian Endian) uint64 {
	return ReadUnsigned(s, bytes, offset, endian)
}

// ReadSignedAt reads a sign extended word of the given width
func (s *Section) ReadSignedAt(bytes int, offset uint64, endian Endian) int64 {
	return ReadSigned(s, bytes, offset, endian)
}

// WriteWord stores value at offset in the given byte order, growing the
// section as needed. Storing a zero beyond the current extent of a zero
// filled section is a no-op, since the bytes are already zero.
func (s *Section) WriteWord(bytes int, offset uint64, value uint64, endian Endian) {
	if value == 0 && (offset > s.Size() || s.IsZeroFilled()) {
		return
	}
	if s.IsZeroFilled() {
		panic("internal error: writing word into a zero filled section")
	}
	s.Expand(offset + uint64(bytes))
	EncodeWord(s.data[offset:offset+uint64(bytes)], value, endian)
}

// AppendWord stores value at the current end of the section
func (s *Section) AppendWord(bytes int, value uint64, endian Endian) {
	s.WriteWord(bytes, s.Size(), value, endian)
}

// AppendData appends raw bytes at the end of the section and returns the
// offset where they start
func (s *Section) AppendData(buf []byte) uint64 {
	if s.IsZeroFilled() {
		panic("internal error: appending data to a zero filled section")
	}
	offset := s.Size()
	s.data = append(s.data, buf...)
	return offset
}

// Append concatenates another section after realigning the end of this one
// and returns the offset where the other section's bytes start. The other
// section must not be fixed and both must agree on mergeability.
//
// Mergeable sections of the same collection are overlayed rather than
// concatenated: the result is the longer of the two, and the overlapping
// bytes must match.
func (s *Section) Append(other *Section) (uint64, error) {
	if other.CollectionName != "" && other.CollectionName != s.Name {
		return 0, fmt.Errorf("section %s belongs to collection %s, not %s", other.Name, other.CollectionName, s.Name)
	}
	if other.IsFixed() {
		return 0, fmt.Errorf("cannot append fixed section %s", other.Name)
	}
	if s.IsMergeable() != other.IsMergeable() {
		return 0, fmt.Errorf("mergeable flag mismatch between %s and %s", s.Name, other.Name)
	}
	if !s.IsFixed() && s.align < other.align {
		s.align = other.align
	}
	if s.IsMergeable() {
		return 0, s.overlay(other)
	}
	s.RealignEnd(other.align)
	offset := s.Size()
	if s.IsZeroFilled() {
		if !other.IsZeroFilled() {
			s.SetZeroFilled(false)
			s.data = append(s.data, other.data...)
		} else {
			s.size += other.size
		}
	} else if other.IsZeroFilled() {
		s.diag.Warnf("zero filled section %s concatenated to non-zero filled section %s", other.Name, s.Name)
		s.Expand(s.Size() + other.size)
	} else {
		s.data = append(s.data, other.data...)
	}
	return offset, nil
}

// overlay merges a mergeable section over this one. Both extend to the
// larger of the two sizes; bytes defined on both sides must agree.
func (s *Section) overlay(other *Section) error {
	if s.IsZeroFilled() != other.IsZeroFilled() {
		return fmt.Errorf("mergeable sections %s disagree on zero fill", s.Name)
	}
	if s.IsZeroFilled() {
		if other.size > s.size {
			s.size = other.size
		}
		return nil
	}
	common := len(s.data)
	if len(other.data) < common {
		common = len(other.data)
	}
	for i := 0; i < common; i++ {
		if s.data[i] != other.data[i] {
			return fmt.Errorf("mergeable section %s differs at offset %#x", s.Name, i)
		}
	}
	if len(other.data) > len(s.data) {
		s.data = append(s.data, other.data[len(s.data):]...)
	}
	return nil
}

// Start retrieves the address of the first byte of the section
func (s *Section) Start() Position {
	if s.Segment == nil {
		panic("internal error: section " + s.Name + " start requested before layout")
	}
	return Position{Address: s.address, Segment: s.Segment}
}

// Base retrieves the address of the start of the address space the section
// belongs to. On the Intel 8086 the data in a segment does not necessarily
// begin at the base of the hardware segment.
func (s *Section) Base() Position {
	start := s.Start()
	start.Address = uint64(int64(start.Address) - s.Bias)
	return start
}

// ReadFrom overwrites section data with up to size bytes from r, first
// materialising a zero filled section
func (s *Section) ReadFrom(r io.Reader, size uint64) error {
	s.SetZeroFilled(false)
	s.Expand(size)
	if _, err := io.ReadFull(r, s.data[:size]); err != nil {
		return ioError("reading section %s: %v", s.Name, err)
	}
	return nil
}

// WriteTo writes up to count bytes of section data starting at offset.
// Zero filled sections write nothing.
func (s *Section) WriteTo(w io.Writer, count uint64, offset uint64) (uint64, error) {
	if s.IsZeroFilled() || offset >= s.Size() {
		return 0, nil
	}
	end := offset + count
	if end > s.Size() || end < offset {
		end = s.Size()
	}
	n, err := w.Write(s.data[offset:end])
	if err != nil {
		return uint64(n), ioError("writing section %s: %v", s.Name, err)
	}
	return uint64(n), nil
}

// DropInitialZeroes removes up to count leading bytes of a zero filled
// section, shifting its address upwards, and returns the count removed
func (s *Section) DropInitialZeroes(count uint64) uint64 {
	if !s.IsZeroFilled() {
		panic("internal error: dropping initial zeroes of a section holding data")
	}
	if s.size < count {
		count = s.size
	}
	s.ResetAddress(s.address + count)
	s.size -= count
	return count
}

func (s *Section) String() string {
	text := fmt.Sprintf("%s section(%s size %#x", s.flags, s.Name, s.Size())
	if s.Bias != 0 {
		text += fmt.Sprintf(" bias %#x", s.Bias)
	}
	if s.Align() > 1 {
		text += fmt.Sprintf(" align %#x", s.Align())
	}
	if s.StartAddress() != 0 {
		text += fmt.Sprintf(" address %#x", s.StartAddress())
	}
	return text + ")"
}
