package linker

import (
	"os"
	"path/filepath"
	"strings"
)

// LinkJob is one end-to-end link: inputs are parsed and merged, user
// symbols injected, commons allocated, the script laid out, relocations
// resolved and the output image written. Jobs are independent; running
// several in parallel is safe as long as each has its own job value.
type LinkJob struct {
	// Inputs are the object files, merged in command line order
	Inputs []string

	// Output is the output path; empty derives it from the first input and
	// the driver's default extension
	Output string

	// Driver is the selected output format backend
	Driver OutputFormat

	// InputForFormat maps a detected format to a parser, if one ships
	InputForFormat func(description FormatDescription) (InputFormat, bool)

	// Defines are -d command line symbols; a value of the form seg:off is
	// a paragraph qualified address
	Defines map[string]string

	// Options, Model, ScriptPath and Parameters configure the driver
	Options    map[string]string
	Model      string
	ScriptPath string
	Parameters map[string]string

	// SpecialChar is the prefix character input formats use to encode
	// segmentation hints in symbol names
	SpecialChar byte

	Diag *Diagnostics
}

// Run executes the link and returns the path of the written file
func (job *LinkJob) Run() (string, error) {
	if job.SpecialChar == 0 {
		job.SpecialChar = '$'
	}
	if err := job.Driver.SetOptions(job.Options, job.Diag); err != nil {
		return "", err
	}
	job.Driver.SetModel(job.Model, job.Diag)
	job.Driver.SetLinkScript(job.ScriptPath, job.Parameters, job.Diag)

	module := NewModule(job.Diag)
	loaded := 0
	for _, input := range job.Inputs {
		if err := job.loadInput(input, module); err != nil {
			// a bad input aborts just that input
			job.Diag.Errorf("%s: %v", input, err)
			continue
		}
		loaded++
	}
	if loaded == 0 {
		return "", parseError("no usable input files")
	}

	job.applyDefines(module)
	module.AllocateCommons()

	if err := job.Driver.ProcessModule(module); err != nil {
		return "", err
	}
	if err := job.Driver.CalculateValues(); err != nil {
		return "", err
	}

	output := job.Output
	if output == "" {
		base := strings.TrimSuffix(filepath.Base(job.Inputs[0]), filepath.Ext(job.Inputs[0]))
		output = job.Driver.DefaultExtension(base)
	}
	file, err := os.Create(output)
	if err != nil {
		return "", ioError("creating %s: %v", output, err)
	}
	defer file.Close()
	if _, err := job.Driver.WriteFile(file); err != nil {
		return "", err
	}
	return output, nil
}

func (job *LinkJob) loadInput(path string, module *Module) error {
	file, err := os.Open(path)
	if err != nil {
		return ioError("%v", err)
	}
	defer file.Close()

	rd := NewReader(UndefinedEndian, file)
	if err := rd.Err(); err != nil {
		return err
	}
	descriptions := DetectFormats(rd)
	if len(descriptions) == 0 {
		return ErrFormatDetect
	}
	for _, description := range descriptions {
		input, ok := job.InputForFormat(description)
		if !ok {
			continue
		}
		job.Diag.Debugf("%s: parsing as %s", path, description.Description)
		input.SetupOptions(job.SpecialChar, job.Driver)
		rd.Seek(description.Offset)
		partial := NewModule(job.Diag)
		if err := input.ReadFile(rd, partial); err != nil {
			return err
		}
		// local symbols do not survive the merge, so relocations naming
		// them must be rewritten into direct locations first
		partial.ResolveRelocations()
		return module.Append(partial)
	}
	return parseError("unimplemented format %s", descriptions[0].Description)
}

// applyDefines injects -d symbols as absolute globals. The conventional
// names .entry and .stack_top are legal here like any other symbol.
func (job *LinkJob) applyDefines(module *Module) {
	for name, value := range job.Defines {
		if value == "" {
			module.AddGlobalSymbol(name, AbsoluteLocation(0))
			continue
		}
		if segment, offset, found := strings.Cut(value, ":"); found {
			segmentValue, okSegment := parseNumber(segment)
			offsetValue, okOffset := parseNumber(offset)
			if !okSegment || !okOffset {
				job.Diag.Errorf("unable to parse %s=%s, ignoring", name, value)
				continue
			}
			module.AddGlobalSymbol(name, AbsoluteLocation(segmentValue<<4+offsetValue))
			continue
		}
		number, ok := parseNumber(value)
		if !ok {
			job.Diag.Errorf("unable to parse %s=%s, ignoring", name, value)
			continue
		}
		module.AddGlobalSymbol(name, AbsoluteLocation(number))
	}
}
