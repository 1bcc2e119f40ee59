package linker

import (
	"fmt"

	"github.com/retrolinker/retrolinker/pkg/utils"
)

// CPUType encodes the processor family an object module targets
type CPUType int

const (
	CPUNone CPUType = iota
	CPUI80  // Intel 8080, also Z80
	CPUI86
	CPUI386
	CPUX86_64
	CPUM6800
	CPUM6809
	CPUM68K
	CPUMOS6502
	CPUW65K
	CPUZ8K
	CPUPPC
	CPUPPC64
	CPUARM
	CPUARM64
	CPUPDP11
	CPUMIPS
	CPUSPARC
	CPUSH
)

func (c CPUType) String() string {
	names := map[CPUType]string{
		CPUNone: "none", CPUI80: "i80", CPUI86: "i86", CPUI386: "i386",
		CPUX86_64: "x86-64", CPUM6800: "m6800", CPUM6809: "m6809",
		CPUM68K: "m68k", CPUMOS6502: "mos6502", CPUW65K: "w65k",
		CPUZ8K: "z8k", CPUPPC: "ppc", CPUPPC64: "ppc64", CPUARM: "arm",
		CPUARM64: "arm64", CPUPDP11: "pdp11", CPUMIPS: "mips",
		CPUSPARC: "sparc", CPUSH: "sh",
	}
	if name, ok := names[c]; ok {
		return name
	}
	return "unknown"
}

// Module encodes an object file as a collection of sections, symbols and
// relocations. Input formats populate transient modules which the pipeline
// merges into one; the merged module is what gets laid out and written.
type Module struct {
	CPU CPUType

	sections     []*Section
	sectionNames map[string]*Section

	globals     map[string]Location
	locals      map[string]Location
	unallocated map[string]CommonSymbol
	imports     []SymbolName
	exports     map[ExportedName]Location
	exportOrder []ExportedName

	// Relocations within the module, visited in insertion order
	Relocations []Relocation

	gotEntries map[SymbolName]Location

	diag *Diagnostics
}

func NewModule(diag *Diagnostics) *Module {
	return &Module{
		sectionNames: make(map[string]*Section),
		globals:      make(map[string]Location),
		locals:       make(map[string]Location),
		unallocated:  make(map[string]CommonSymbol),
		exports:      make(map[ExportedName]Location),
		diag:         diag,
	}
}

// Diagnostics returns the sink the module reports to
func (m *Module) Diagnostics() *Diagnostics {
	return m.diag
}

// AddLocalSymbol adds an internal symbol
func (m *Module) AddLocalSymbol(name string, location Location) {
	m.locals[name] = location
}

// AddGlobalSymbol adds a symbol visible to other modules
func (m *Module) AddGlobalSymbol(name string, location Location) {
	m.globals[name] = location
}

// AddCommonSymbol adds an unallocated symbol
func (m *Module) AddCommonSymbol(name string, symbol CommonSymbol) {
	m.unallocated[name] = symbol
}

// AddImportedSymbol records an imported symbol, de-duplicated by equality
func (m *Module) AddImportedSymbol(symbol SymbolName) {
	for _, existing := range m.imports {
		if existing == symbol {
			return
		}
	}
	m.imports = append(m.imports, symbol)
}

// AddExportedSymbol records a symbol announced to dynamic loaders
func (m *Module) AddExportedSymbol(name ExportedName, location Location) {
	if _, present := m.exports[name]; !present {
		m.exportOrder = append(m.exportOrder, name)
	}
	m.exports[name] = location
}

// ImportedSymbols lists all imported symbols in insertion order
func (m *Module) ImportedSymbols() []SymbolName {
	return m.imports
}

// ExportedSymbols lists all exported symbols in insertion order
func (m *Module) ExportedSymbols() []ExportedName {
	return m.exportOrder
}

// ExportedSymbolLocation returns the location of an exported symbol
func (m *Module) ExportedSymbolLocation(name ExportedName) (Location, bool) {
	location, ok := m.exports[name]
	return location, ok
}

// FindLocalSymbol searches the internal symbols
func (m *Module) FindLocalSymbol(name string) (Location, bool) {
	location, ok := m.locals[name]
	return location, ok
}

// FindGlobalSymbol searches the global symbols
func (m *Module) FindGlobalSymbol(name string) (Location, bool) {
	location, ok := m.globals[name]
	return location, ok
}

// GlobalSymbols returns the global symbol names in sorted order
func (m *Module) GlobalSymbols() []string {
	return utils.SortedKeys(m.globals)
}

// CommonSymbols returns the unallocated symbol names in sorted order
func (m *Module) CommonSymbols() []string {
	return utils.SortedKeys(m.unallocated)
}

// AddSection takes ownership of a section
func (m *Module) AddSection(section *Section) {
	section.SetDiagnostics(m.diag)
	m.sections = append(m.sections, section)
	if section.Name != "" {
		if _, taken := m.sectionNames[section.Name]; taken {
			m.diag.Warnf("section of name `%s' already exists", section.Name)
		} else {
			m.sectionNames[section.Name] = section
		}
	}
}

// Sections lists the sections in their order of addition
func (m *Module) Sections() []*Section {
	return m.sections
}

// FindSection searches for a section by name
func (m *Module) FindSection(name string) *Section {
	return m.sectionNames[name]
}

// FetchSection finds or creates a section with the given name and flags
func (m *Module) FetchSection(name string, defaultFlags SectionFlags) *Section {
	if section := m.FindSection(name); section != nil {
		return section
	}
	section := NewSection(name, defaultFlags)
	m.AddSection(section)
	return section
}

// ResolveRelocations rewrites every relocation target or reference naming a
// locally defined symbol into a direct location. Local symbols do not
// survive linking, so this must run while they are still known.
func (m *Module) ResolveRelocations() {
	for i := range m.Relocations {
		m.Relocations[i].Target.ResolveLocals(m)
		m.Relocations[i].Reference.ResolveLocals(m)
	}
}

// AppendSection merges one owned section into another and rewrites every
// symbol and relocation referring to it
func (m *Module) AppendSection(dst, src *Section) error {
	offset, err := dst.Append(src)
	if err != nil {
		return err
	}
	displacement := Displacement{src: Location{Section: dst, Offset: offset}}
	m.displaceSymbols(displacement)
	return nil
}

func (m *Module) displaceSymbols(displacement Displacement) {
	for name, location := range m.globals {
		if location.Displace(displacement) {
			m.globals[name] = location
		}
	}
	for name, location := range m.locals {
		if location.Displace(displacement) {
			m.locals[name] = location
		}
	}
	for name, location := range m.exports {
		if location.Displace(displacement) {
			m.exports[name] = location
		}
	}
	for i := range m.Relocations {
		m.Relocations[i].Displace(displacement)
	}
}

// Append merges another module into this one. Sections of the same name are
// concatenated, symbols are unioned with duplicate detection, commons merge
// by the larger size and alignment, and relocations follow their sections
// through the displacement map.
func (m *Module) Append(other *Module) error {
	if m.CPU == CPUNone {
		m.CPU = other.CPU
	} else if other.CPU != CPUNone && other.CPU != m.CPU {
		return parseError("mixing %s and %s object modules", m.CPU, other.CPU)
	}
	displacement := make(Displacement)
	for _, section := range other.sections {
		existing := m.FindSection(section.Name)
		if existing == nil {
			m.AddSection(section)
			continue
		}
		offset, err := existing.Append(section)
		if err != nil {
			return parseError("merging section %s: %v", section.Name, err)
		}
		displacement[section] = Location{Section: existing, Offset: offset}
	}
	for _, name := range utils.SortedKeys(other.globals) {
		if _, taken := m.globals[name]; taken {
			m.diag.Debugf("symbol %s defined in multiple modules, ignoring repetition", name)
			continue
		}
		location := other.globals[name]
		location.Displace(displacement)
		m.globals[name] = location
	}
	for _, name := range utils.SortedKeys(other.unallocated) {
		symbol := other.unallocated[name]
		existing, present := m.unallocated[name]
		if !present {
			m.unallocated[name] = symbol
			continue
		}
		if existing.Size < symbol.Size {
			existing.Size = symbol.Size
		}
		if existing.Align < symbol.Align {
			existing.Align = symbol.Align
		}
		m.unallocated[name] = existing
	}
	for _, symbol := range other.imports {
		m.AddImportedSymbol(symbol)
	}
	for _, name := range other.exportOrder {
		if _, taken := m.exports[name]; taken {
			m.diag.Debugf("%s defined in multiple modules, ignoring repetition", name)
			continue
		}
		location := other.exports[name]
		location.Displace(displacement)
		m.AddExportedSymbol(name, location)
	}
	for _, relocation := range other.Relocations {
		relocation.Displace(displacement)
		m.Relocations = append(m.Relocations, relocation)
	}
	return nil
}

// AllocateCommonSymbols converts every common symbol that has no global
// definition into a global placed inside section, honoring its alignment.
// The section end is finally padded to the largest alignment seen.
func (m *Module) AllocateCommonSymbols(section *Section) {
	var maxAlign uint64 = 1
	for _, name := range utils.SortedKeys(m.unallocated) {
		if _, defined := m.globals[name]; defined {
			continue
		}
		symbol := m.unallocated[name]
		align := symbol.Align
		if align == 0 {
			align = 1
		}
		section.RealignEnd(align)
		offset := section.Size()
		section.Expand(offset + symbol.Size)
		m.globals[name] = Location{Section: section, Offset: offset}
		m.diag.Debugf("allocating %s in %s at %#x, size %#x", name, section.Name, offset, symbol.Size)
		if align > maxAlign {
			maxAlign = align
		}
	}
	section.RealignEnd(maxAlign)
	m.unallocated = make(map[string]CommonSymbol)
}

// CommonSectionName is where common symbols are allocated unless the output
// format designates another section
const CommonSectionName = ".comm"

// AllocateCommons places all common symbols in the conventional section
func (m *Module) AllocateCommons() {
	m.AllocateCommonSymbols(m.FetchSection(CommonSectionName, Readable|Writable|ZeroFilled))
}

// BuildGOT lays out one pointer sized slot in section for every distinct
// global offset table target among the module's relocations, and defines
// the conventional table base symbol at its start
func (m *Module) BuildGOT(section *Section, slotSize int, endian Endian) {
	m.gotEntries = make(map[SymbolName]Location)
	if name, ok := GlobalOffsetTableName.LocalName(); ok {
		if _, defined := m.globals[name]; !defined {
			m.globals[name] = Location{Section: section}
		}
	}
	for i := range m.Relocations {
		relocation := &m.Relocations[i]
		if relocation.Kind != GOTEntry {
			continue
		}
		symbol, ok := relocation.Target.Symbol()
		if !ok {
			continue
		}
		key := symbol
		key.Addend = 0
		if _, present := m.gotEntries[key]; present {
			continue
		}
		offset := section.Size()
		section.Expand(offset + uint64(slotSize))
		m.gotEntries[key] = Location{Section: section, Offset: offset}
		// the slot itself needs the symbol's absolute address at run time
		m.Relocations = append(m.Relocations, AbsoluteRelocation(slotSize, Location{Section: section, Offset: offset}, SymbolTarget(key), 0, endian))
	}
}

// GOTEntryLocation returns the table slot allocated for a symbol
func (m *Module) GOTEntryLocation(symbol SymbolName) (Location, bool) {
	symbol.Addend = 0
	location, ok := m.gotEntries[symbol]
	return location, ok
}

func (m *Module) String() string {
	return fmt.Sprintf("module(%s, %d sections, %d relocations)", m.CPU, len(m.sections), len(m.Relocations))
}
