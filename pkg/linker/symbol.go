package linker

import (
	"fmt"
)

// SymbolName identifies an internal or imported symbol. A plain string
// suffices for most references, but the NE, LE and PE families also need
// the source library and possibly a 16-bit ordinal or hint.
type SymbolName struct {
	library    string
	hasLibrary bool
	name       string
	hasName    bool
	hint       uint16
	hasHint    bool

	// Addend is an optional value added to the symbol location
	Addend int64
}

// LocalSymbol creates an internal symbol with a name
func LocalSymbol(name string) SymbolName {
	return SymbolName{name: name, hasName: true}
}

// ImportedSymbol creates a symbol imported by name from a library
func ImportedSymbol(library, name string) SymbolName {
	return SymbolName{library: library, hasLibrary: true, name: name, hasName: true}
}

// ImportedSymbolHint creates a symbol imported by name with a hint,
// as used by the PE format
func ImportedSymbolHint(library, name string, hint uint16) SymbolName {
	return SymbolName{library: library, hasLibrary: true, name: name, hasName: true, hint: hint, hasHint: true}
}

// ImportedOrdinal creates a symbol imported by ordinal from a library
func ImportedOrdinal(library string, ordinal uint16) SymbolName {
	return SymbolName{library: library, hasLibrary: true, hint: ordinal, hasHint: true}
}

// GlobalOffsetTableName is the conventional symbol standing for the start
// of the global offset table
var GlobalOffsetTableName = LocalSymbol("_GLOBAL_OFFSET_TABLE_")

func (s SymbolName) WithAddend(addend int64) SymbolName {
	s.Addend = addend
	return s
}

// Name returns the symbol name, if it has one
func (s SymbolName) Name() (string, bool) {
	return s.name, s.hasName
}

// Library returns the library the symbol is imported from, if any
func (s SymbolName) Library() (string, bool) {
	return s.library, s.hasLibrary
}

// OrdinalOrHint returns the ordinal of a symbol imported by ordinal, or
// the hint of a hinted import
func (s SymbolName) OrdinalOrHint() (uint16, bool) {
	return s.hint, s.hasHint
}

// LocalName returns the name of a symbol that is not imported
func (s SymbolName) LocalName() (string, bool) {
	if s.hasLibrary {
		return "", false
	}
	return s.name, s.hasName
}

// ImportedName returns the library, name and hint of a by-name import
func (s SymbolName) ImportedName() (library, name string, hint uint16, ok bool) {
	if !s.hasLibrary || !s.hasName {
		return "", "", 0, false
	}
	return s.library, s.name, s.hint, true
}

// ImportedOrdinal returns the library and ordinal of a by-ordinal import
func (s SymbolName) ImportedOrdinal() (library string, ordinal uint16, ok bool) {
	if !s.hasLibrary || s.hasName || !s.hasHint {
		return "", 0, false
	}
	return s.library, s.hint, true
}

// SameSymbol compares everything but the addend
func (s SymbolName) SameSymbol(other SymbolName) bool {
	s.Addend = 0
	other.Addend = 0
	return s == other
}

func (s SymbolName) String() string {
	text := ""
	switch {
	case !s.hasLibrary:
		text = fmt.Sprintf("symbol %s", s.name)
	case s.hasName && s.hasHint:
		text = fmt.Sprintf("symbol %s!%s (hint %d)", s.library, s.name, s.hint)
	case s.hasName:
		text = fmt.Sprintf("symbol %s!%s", s.library, s.name)
	default:
		text = fmt.Sprintf("symbol %s!#%d", s.library, s.hint)
	}
	if s.Addend != 0 {
		text += fmt.Sprintf("%+d", s.Addend)
	}
	return text
}

// ExportedName identifies a symbol announced to dynamic loaders, either by
// name (with an optional hint) or by ordinal with an associated internal name
type ExportedName struct {
	byOrdinal  bool
	name       string
	ordinal    uint16
	hasOrdinal bool
}

// ExportByName creates a symbol exported by name
func ExportByName(name string) ExportedName {
	return ExportedName{name: name}
}

// ExportByNameHint creates a symbol exported by name with a hint,
// as used by the PE format
func ExportByNameHint(name string, hint uint16) ExportedName {
	return ExportedName{name: name, ordinal: hint, hasOrdinal: true}
}

// ExportByOrdinal creates a symbol exported by ordinal
func ExportByOrdinal(ordinal uint16, internalName string) ExportedName {
	return ExportedName{byOrdinal: true, name: internalName, ordinal: ordinal, hasOrdinal: true}
}

func (e ExportedName) IsExportedByOrdinal() bool {
	return e.byOrdinal
}

// Name returns the exported or internal name
func (e ExportedName) Name() string {
	return e.name
}

// OrdinalOrHint returns the ordinal or hint, if present
func (e ExportedName) OrdinalOrHint() (uint16, bool) {
	return e.ordinal, e.hasOrdinal
}

func (e ExportedName) String() string {
	if e.byOrdinal {
		return fmt.Sprintf("export #%d (%s)", e.ordinal, e.name)
	}
	if e.hasOrdinal {
		return fmt.Sprintf("export %s (hint %d)", e.name, e.ordinal)
	}
	return fmt.Sprintf("export %s", e.name)
}

// CommonSymbol is a symbol declared but not defined, carrying size and
// alignment hints. Commons are merged across modules and allocated into a
// bss-like section before layout.
type CommonSymbol struct {
	Size  uint64
	Align uint64
}
