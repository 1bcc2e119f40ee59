package linker

import (
	"strings"

	"github.com/retrolinker/retrolinker/pkg/linker/script"
	"github.com/retrolinker/retrolinker/pkg/utils"
)

// ScriptEvaluator runs a parsed linker script over a module, collecting its
// sections into segments. Every finished segment is handed to the output
// format through the OnSegment callback.
type ScriptEvaluator struct {
	// CurrentBase is the address offsets of the latest section are counted
	// from; sections within a segment usually share one segment base
	CurrentBase uint64

	// Segments is the ordered list of finished and in-progress segments
	Segments []*Segment

	// Parameters customize the script; expressions reference them as ?name?
	Parameters map[string]Location

	// OnSegment receives every segment once it is finished
	OnSegment func(*Segment)

	currentAddress uint64
	currentSegment *Segment
	segmentMap     map[string]*Segment
	variables      map[string]uint64

	isTemplate     bool
	isTemplateHead bool
	templateCount  uint64
	templateName   string

	diag *Diagnostics
}

func NewScriptEvaluator(parameters map[string]Location, diag *Diagnostics) *ScriptEvaluator {
	if parameters == nil {
		parameters = make(map[string]Location)
	}
	return &ScriptEvaluator{
		Parameters: parameters,
		segmentMap: make(map[string]*Segment),
		variables:  make(map[string]uint64),
		diag:       diag,
	}
}

// CurrentAddress is where the next section goes
func (e *ScriptEvaluator) CurrentAddress() uint64 {
	if e.currentSegment == nil {
		return e.currentAddress
	}
	return e.currentSegment.EndAddress()
}

// SetCurrentAddress moves the address pointer. With an open segment holding
// data the segment is extended up to the new address.
func (e *ScriptEvaluator) SetCurrentAddress(address uint64) {
	if e.currentSegment == nil {
		e.currentAddress = address
	} else if len(e.currentSegment.Sections) == 0 {
		e.currentSegment.BaseAddress = address
	} else {
		e.currentSegment.SetEndAddress(address)
	}
}

// AlignCurrentAddress aligns the address pointer
func (e *ScriptEvaluator) AlignCurrentAddress(align uint64) {
	e.SetCurrentAddress(utils.AlignTo(e.CurrentAddress(), align))
}

// SetLatestBase records the base the latest section's offsets are counted
// from by adjusting its bias
func (e *ScriptEvaluator) SetLatestBase(base uint64) {
	if e.currentSegment == nil || len(e.currentSegment.Sections) == 0 {
		panic("internal error: no section to set base of")
	}
	section := e.currentSegment.Sections[len(e.currentSegment.Sections)-1]
	section.Bias = int64(section.StartAddress()) - int64(base)
}

// FinishCurrentSegment closes the open segment and reports it
func (e *ScriptEvaluator) FinishCurrentSegment() {
	if e.currentSegment == nil {
		return
	}
	e.currentAddress = e.currentSegment.EndAddress()
	finished := e.currentSegment
	e.currentSegment = nil
	if e.OnSegment != nil {
		e.OnSegment(finished)
	}
}

// AppendSegment closes any open segment and starts a new one at the
// current address
func (e *ScriptEvaluator) AppendSegment(name string) *Segment {
	e.FinishCurrentSegment()
	e.currentSegment = NewSegment(name, e.currentAddress, e.diag)
	e.Segments = append(e.Segments, e.currentSegment)
	e.segmentMap[name] = e.currentSegment
	return e.currentSegment
}

// FetchSegment returns a finished or open segment by name
func (e *ScriptEvaluator) FetchSegment(name string) *Segment {
	return e.segmentMap[name]
}

// AppendSection places a section into the open segment and gives it the
// current base
func (e *ScriptEvaluator) AppendSection(section *Section) {
	e.currentSegment.Append(section)
	e.SetLatestBase(e.CurrentBase)
}

// Run executes a parsed script over the module
func (e *ScriptEvaluator) Run(program *script.Program, module *Module) error {
	for _, statement := range program.Statements {
		switch node := statement.(type) {
		case *script.SegmentBlock:
			e.isTemplate = false
			e.isTemplateHead = false
			e.AppendSegment(node.Name)
			if err := e.runCommands(node.Commands, module); err != nil {
				return err
			}
			if err := e.runPostActions(node.Post, module); err != nil {
				return err
			}
		case *script.TemplateBlock:
			if err := e.runTemplate(node, module); err != nil {
				return err
			}
		case script.Action:
			if err := e.runAction(node, module); err != nil {
				return err
			}
		default:
			return scriptError("invalid top level statement")
		}
	}
	e.FinishCurrentSegment()
	return nil
}

func (e *ScriptEvaluator) runTemplate(node *script.TemplateBlock, module *Module) error {
	e.templateCount = 0
	for _, section := range module.Sections() {
		if section.Segment != nil {
			continue
		}
		e.isTemplate = false
		e.isTemplateHead = true
		e.templateName = section.Name
		match, err := e.checkPredicate(node.Match, section, module)
		if err != nil {
			return err
		}
		if !match {
			continue
		}
		e.isTemplate = true
		e.isTemplateHead = false
		e.AppendSegment(e.templateName)
		if err := e.runCommands(node.Commands, module); err != nil {
			return err
		}
		if err := e.runPostActions(node.Post, module); err != nil {
			return err
		}
		e.templateCount++
	}
	e.isTemplate = false
	e.isTemplateHead = false
	return nil
}

func (e *ScriptEvaluator) runCommands(commands []script.Command, module *Module) error {
	for _, command := range commands {
		switch node := command.(type) {
		case *script.Collect:
			for _, section := range module.Sections() {
				if section.Segment != nil {
					continue
				}
				match, err := e.checkPredicate(node.Match, section, module)
				if err != nil {
					return err
				}
				if !match {
					continue
				}
				for _, action := range node.Actions {
					if err := e.runAction(action, module); err != nil {
						return err
					}
				}
				e.AppendSection(section)
			}
		case script.Action:
			if err := e.runAction(node, module); err != nil {
				return err
			}
		default:
			return scriptError("invalid command")
		}
	}
	return nil
}

func (e *ScriptEvaluator) runAction(action script.Action, module *Module) error {
	switch node := action.(type) {
	case *script.SetCurrentAddress:
		address, err := e.evaluate(node.Address, module)
		if err != nil {
			return err
		}
		e.SetCurrentAddress(address)
	case *script.AlignAddress:
		align, err := e.evaluate(node.Boundary, module)
		if err != nil {
			return err
		}
		e.AlignCurrentAddress(align)
	case *script.SetNextBase:
		base, err := e.evaluate(node.Base, module)
		if err != nil {
			return err
		}
		e.CurrentBase = base
		if e.currentSegment != nil && len(e.currentSegment.Sections) != 0 {
			e.SetLatestBase(base)
		}
	case *script.Assign:
		value, err := e.evaluate(node.Value, module)
		if err != nil {
			return err
		}
		e.variables[node.Name] = value
	default:
		return scriptError("invalid action")
	}
	return nil
}

// runPostActions runs the post block of a segment. An `at` there rebases
// the finished segment retroactively, which is how negative-base layouts
// like the Macintosh .a5world are expressed.
func (e *ScriptEvaluator) runPostActions(actions []script.Action, module *Module) error {
	for _, action := range actions {
		switch node := action.(type) {
		case *script.SetCurrentAddress:
			address, err := e.evaluate(node.Address, module)
			if err != nil {
				return err
			}
			e.Segments[len(e.Segments)-1].SetStartAddress(address)
		case *script.AlignAddress:
			align, err := e.evaluate(node.Boundary, module)
			if err != nil {
				return err
			}
			e.Segments[len(e.Segments)-1].AlignEndAddress(align)
		case *script.SetNextBase:
			return scriptError("invalid use of `base` directive in postprocessing")
		case *script.Assign:
			value, err := e.evaluate(node.Value, module)
			if err != nil {
				return err
			}
			e.variables[node.Name] = value
		default:
			return scriptError("invalid postprocessing action")
		}
	}
	return nil
}

func (e *ScriptEvaluator) checkPredicate(predicate script.Predicate, section *Section, module *Module) (bool, error) {
	switch node := predicate.(type) {
	case *script.MaximumSections:
		limit, err := e.evaluate(node.Limit, module)
		if err != nil {
			return false, err
		}
		if e.templateCount >= limit {
			return false, nil
		}
		return e.checkPredicate(node.Match, section, module)
	case *script.OrPredicate:
		left, err := e.checkPredicate(node.Left, section, module)
		if err != nil || left {
			return left, err
		}
		return e.checkPredicate(node.Right, section, module)
	case *script.AndPredicate:
		left, err := e.checkPredicate(node.Left, section, module)
		if err != nil || !left {
			return false, err
		}
		return e.checkPredicate(node.Right, section, module)
	case *script.NotPredicate:
		match, err := e.checkPredicate(node.Operand, section, module)
		return !match, err
	case *script.MatchAny:
		if e.isTemplate {
			return e.templateName == section.Name, nil
		}
		return true, nil
	case *script.MatchName:
		return section.Name == node.Name, nil
	case *script.MatchSuffix:
		if e.isTemplateHead {
			if strings.HasSuffix(section.Name, node.Suffix) {
				e.templateName = strings.TrimSuffix(section.Name, node.Suffix)
				return true, nil
			}
			return false, nil
		}
		if e.isTemplate {
			return e.templateName+node.Suffix == section.Name, nil
		}
		return strings.HasSuffix(section.Name, node.Suffix), nil
	case *script.MatchFlag:
		switch node.Test {
		case script.TestReadable:
			return section.IsReadable(), nil
		case script.TestWritable:
			return section.IsWritable(), nil
		case script.TestExecutable:
			return section.IsExecutable(), nil
		case script.TestMergeable:
			return section.IsMergeable(), nil
		case script.TestZeroFilled:
			return section.IsZeroFilled(), nil
		case script.TestFixed:
			return section.IsFixed(), nil
		case script.TestResource:
			return section.IsResource(), nil
		case script.TestOptional:
			return section.IsOptional(), nil
		case script.TestStack:
			return section.IsStack(), nil
		case script.TestHeap:
			return section.IsHeap(), nil
		}
		return false, scriptError("invalid flag test")
	case *script.MatchCustomFlag:
		flags, err := e.evaluate(node.Flags, module)
		if err != nil {
			return false, err
		}
		return uint64(section.Flags())&flags != 0, nil
	default:
		return false, scriptError("invalid predicate")
	}
}

func (e *ScriptEvaluator) evaluate(expression script.Expression, module *Module) (uint64, error) {
	switch node := expression.(type) {
	case *script.Integer:
		return uint64(node.Value), nil
	case *script.Parameter:
		if parameter, ok := e.Parameters[node.Name]; ok {
			return parameter.Offset, nil
		}
		return 0, nil
	case *script.Identifier:
		if value, ok := e.variables[node.Name]; ok {
			return value, nil
		}
		return 0, scriptError("unknown identifier `%s`", node.Name)
	case *script.Here:
		return e.CurrentAddress(), nil
	case *script.StartOf:
		segment := e.FetchSegment(node.Name)
		if segment == nil {
			return 0, scriptError("start of unknown segment `%s`", node.Name)
		}
		return segment.BaseAddress, nil
	case *script.SizeOf:
		segment := e.FetchSegment(node.Name)
		if segment == nil {
			return 0, scriptError("size of unknown segment `%s`", node.Name)
		}
		return segment.TotalSize(), nil
	case *script.BaseOf:
		segment := e.FetchSegment(node.Name)
		if segment == nil {
			return 0, scriptError("base of unknown segment `%s`", node.Name)
		}
		return segment.BaseAddress, nil
	case *script.AlignExpr:
		value, err := e.evaluate(node.Value, module)
		if err != nil {
			return 0, err
		}
		boundary, err := e.evaluate(node.Boundary, module)
		if err != nil {
			return 0, err
		}
		return utils.AlignTo(value, boundary), nil
	case *script.Maximum:
		var best uint64
		for _, arg := range node.Args {
			value, err := e.evaluate(arg, module)
			if err != nil {
				return 0, err
			}
			if value > best {
				best = value
			}
		}
		return best, nil
	case *script.Minimum:
		best := ^uint64(0)
		for _, arg := range node.Args {
			value, err := e.evaluate(arg, module)
			if err != nil {
				return 0, err
			}
			if value < best {
				best = value
			}
		}
		return best, nil
	case *script.Unary:
		operand, err := e.evaluate(node.Operand, module)
		if err != nil {
			return 0, err
		}
		if node.Op == '-' {
			return -operand, nil
		}
		return ^operand, nil
	case *script.Binary:
		left, err := e.evaluate(node.Left, module)
		if err != nil {
			return 0, err
		}
		right, err := e.evaluate(node.Right, module)
		if err != nil {
			return 0, err
		}
		switch node.Op {
		case "<<":
			return left << right, nil
		case ">>":
			return left >> right, nil
		case "+":
			return left + right, nil
		case "-":
			return left - right, nil
		case "&":
			return left & right, nil
		case "^":
			return left ^ right, nil
		case "|":
			return left | right, nil
		}
		return 0, scriptError("invalid operator `%s`", node.Op)
	default:
		return 0, scriptError("invalid expression")
	}
}
