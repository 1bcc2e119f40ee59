package linker

import (
	"io"

	"github.com/retrolinker/retrolinker/pkg/linker/script"
)

// OutputFormat is the contract an executable format backend exposes to the
// core. The pipeline drives it strictly in order: option and model setup,
// script selection, segment delivery during layout, module processing,
// value calculation, file writing.
type OutputFormat interface {
	// SetOptions consumes driver specific -S options; unknown keys are
	// diagnosed, not fatal
	SetOptions(options map[string]string, diag *Diagnostics) error

	// SetModel selects the memory model
	SetModel(model string, diag *Diagnostics)

	// SetLinkScript installs a user script path and -P parameters
	SetLinkScript(path string, parameters map[string]string, diag *Diagnostics)

	// DefaultScript yields the built-in script used when no user script is
	// installed
	DefaultScript(module *Module) string

	// ScriptPath returns the installed user script path, empty for none
	ScriptPath() string

	// Parameters exposes the linker parameters referenced as ?name?
	Parameters() map[string]Location

	// OnNewSegment receives each segment the script produces
	OnNewSegment(segment *Segment)

	// SupportsSegmentation tells input formats whether segment-relative
	// relocation kinds make sense for this output
	SupportsSegmentation() bool

	// Is16Bit tells input formats the natural word width of the output
	Is16Bit() bool

	// AdditionalSectionFlags lets the format attach custom flag bits to
	// sections, keyed by section name
	AdditionalSectionFlags(name string) SectionFlags

	// ProcessModule lays out the module and resolves every relocation into
	// writeable form. Per-relocation problems are diagnosed, never fatal.
	ProcessModule(module *Module) error

	// CalculateValues fills the header fields from the processed state
	CalculateValues() error

	// WriteFile serialises the output image
	WriteFile(w io.Writer) (uint64, error)

	// DefaultExtension derives an output filename from a base name
	DefaultExtension(base string) string
}

// InputFormat is the contract an object file parser exposes to the core
type InputFormat interface {
	// SetupOptions lets the parser query the output format for
	// segmentation support and related properties before reading
	SetupOptions(specialChar byte, output OutputFormat)

	// ReadFile parses the input and populates the module
	ReadFile(rd *Reader, module *Module) error
}

// SegmentManager carries the layout state shared by every output format:
// the installed script, the linker parameters, and the segments produced.
// Formats embed it and override what they need, mirroring how each format
// only cares about a handful of named segments.
type SegmentManager struct {
	LinkScript       string
	LinkerParameters map[string]Location
	Segments         []*Segment
	Model            string
}

func (m *SegmentManager) SetModel(model string, diag *Diagnostics) {
	m.Model = model
}

func (m *SegmentManager) SetLinkScript(path string, parameters map[string]string, diag *Diagnostics) {
	m.LinkScript = path
	for key, value := range parameters {
		if !m.SetLinkerParameter(key, value) {
			diag.Errorf("unable to parse parameter %s=%s, ignoring", key, value)
		}
	}
}

// SetLinkerParameter parses value as a number and stores it under key
func (m *SegmentManager) SetLinkerParameter(key, value string) bool {
	address, ok := parseNumber(value)
	if !ok {
		return false
	}
	if m.LinkerParameters == nil {
		m.LinkerParameters = make(map[string]Location)
	}
	m.LinkerParameters[key] = AbsoluteLocation(address)
	return true
}

func (m *SegmentManager) ScriptPath() string {
	return m.LinkScript
}

func (m *SegmentManager) Parameters() map[string]Location {
	if m.LinkerParameters == nil {
		m.LinkerParameters = make(map[string]Location)
	}
	return m.LinkerParameters
}

// FetchSegment finds a produced segment by name
func (m *SegmentManager) FetchSegment(name string) *Segment {
	for _, segment := range m.Segments {
		if segment.Name == name {
			return segment
		}
	}
	return nil
}

// LinkModule compiles the active script and runs it over the module,
// delivering each finished segment to onSegment
func (m *SegmentManager) LinkModule(module *Module, defaultScript string, onSegment func(*Segment)) error {
	var program *script.Program
	var err error
	if m.LinkScript != "" {
		program, err = script.ParseFile(m.LinkScript)
	} else {
		program, err = script.Parse(defaultScript)
	}
	if err != nil {
		return scriptError("%v", err)
	}
	evaluator := NewScriptEvaluator(m.Parameters(), module.Diagnostics())
	evaluator.OnSegment = func(segment *Segment) {
		m.Segments = append(m.Segments, segment)
		onSegment(segment)
	}
	return evaluator.Run(program, module)
}

func parseNumber(text string) (uint64, bool) {
	if text == "" {
		return 0, false
	}
	negative := false
	if text[0] == '-' {
		negative = true
		text = text[1:]
	}
	base := uint64(10)
	switch {
	case len(text) > 2 && (text[:2] == "0x" || text[:2] == "0X"):
		base = 16
		text = text[2:]
	case len(text) > 1 && text[0] == '0':
		base = 8
		text = text[1:]
	}
	var value uint64
	for i := 0; i < len(text); i++ {
		var digit uint64
		c := text[i]
		switch {
		case c >= '0' && c <= '9':
			digit = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			digit = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			digit = uint64(c-'A') + 10
		default:
			return 0, false
		}
		if digit >= base {
			return 0, false
		}
		value = value*base + digit
	}
	if negative {
		value = -value
	}
	return value, true
}
