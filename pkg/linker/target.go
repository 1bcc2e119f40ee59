package linker


// Target is a possible target or reference frame of a relocation: either a
// location (internal or absolute) or a named symbol. With SegmentOf set,
// the target stands for the segment of the location or symbol rather than
// the addressed byte, as needed on segmented platforms.
type Target struct {
	location Location
	symbol   SymbolName
	isSymbol bool

	SegmentOf bool
}

func LocationTarget(location Location) Target {
	return Target{location: location}
}

func SymbolTarget(symbol SymbolName) Target {
	return Target{symbol: symbol, isSymbol: true}
}

// Location returns the underlying location of a non-symbol target
func (t Target) Location() (Location, bool) {
	if t.isSymbol {
		return Location{}, false
	}
	return t.location, true
}

// Symbol returns the underlying symbol of a symbol target
func (t Target) Symbol() (SymbolName, bool) {
	return t.symbol, t.isSymbol
}

// Segment creates a target referencing the segment of this target
func (t Target) Segment() Target {
	t.SegmentOf = true
	return t
}

// Displace rewrites a location target whose section was merged away.
// Symbol targets are left alone.
func (t *Target) Displace(displacement Displacement) bool {
	if t.isSymbol {
		return false
	}
	return t.location.Displace(displacement)
}

// ResolveLocals rewrites a target naming a locally defined symbol into a
// direct location and reports whether it changed. Local symbols do not
// survive linking, so this must happen before layout.
func (t *Target) ResolveLocals(module *Module) bool {
	if !t.isSymbol {
		return false
	}
	name, ok := t.symbol.LocalName()
	if !ok {
		return false
	}
	location, found := module.FindLocalSymbol(name)
	if !found {
		return false
	}
	t.location = location.WithOffset(t.symbol.Addend)
	t.isSymbol = false
	t.symbol = SymbolName{}
	return true
}

// Lookup resolves the target to a position. Targets naming undefined
// symbols report failure.
func (t Target) Lookup(module *Module) (Position, bool) {
	if !t.isSymbol {
		return t.location.Position(t.SegmentOf), true
	}
	name, ok := t.symbol.LocalName()
	if !ok {
		return Position{}, false
	}
	location, found := module.FindGlobalSymbol(name)
	if !found {
		return Position{}, false
	}
	return location.WithOffset(t.symbol.Addend).Position(t.SegmentOf), true
}

func (t Target) Equals(other Target) bool {
	return t == other
}

func (t Target) String() string {
	text := "target "
	if t.SegmentOf {
		text += "segment of "
	}
	if t.isSymbol {
		return text + t.symbol.String()
	}
	return text + t.location.String()
}
