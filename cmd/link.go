package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/xyproto/env/v2"

	"github.com/retrolinker/retrolinker/pkg/format"
	"github.com/retrolinker/retrolinker/pkg/linker"
)

var linkFlags struct {
	output      string
	formatName  string
	model       string
	scriptPath  string
	parameters  []string
	options     []string
	defines     []string
	specialChar string
}

var linkCmd = &cobra.Command{
	Use:   "link [flags] <inputs...>",
	Short: "Link object files into an executable",
	Long: `Link parses each input object file, merges them into one module, lays the
sections out into segments as the output format's linker script dictates,
resolves all relocations and writes the output image.

The conventional symbols .entry and .stack_top select the program entry
point and the initial stack pointer; both can be injected with -d.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLink,
}

func init() {
	RootCmd.AddCommand(linkCmd)

	flags := linkCmd.Flags()
	flags.StringVarP(&linkFlags.output, "output", "o", "", "output file name (derived from the first input if omitted)")
	flags.StringVarP(&linkFlags.formatName, "format", "F", env.Str("RETROLINKER_FORMAT", "com"), "output format, supplementary formats chained with +")
	flags.StringVarP(&linkFlags.model, "model", "M", "default", "memory model, format dependent")
	flags.StringVarP(&linkFlags.scriptPath, "script", "T", "", "linker script file, overriding the built-in script")
	flags.StringArrayVarP(&linkFlags.parameters, "parameter", "P", nil, "linker script parameter KEY=VALUE, referenced as ?KEY?")
	flags.StringArrayVarP(&linkFlags.options, "option", "S", nil, "format specific option KEY[=VALUE]")
	flags.StringArrayVarP(&linkFlags.defines, "define", "d", nil, "inject symbol NAME[=VALUE|=SEG:OFF]")
	flags.StringVar(&linkFlags.specialChar, "special-char", env.Str("RETROLINKER_SPECIAL_CHAR", "$"), "prefix character for segmentation hints in symbol names")
}

func newDiagnostics() (*linker.Diagnostics, func(), error) {
	cleanup := func() {}
	var logFile *os.File
	if path := viper.GetString("log-file"); path != "" {
		var err error
		logFile, err = os.Create(path)
		if err != nil {
			return nil, cleanup, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { logFile.Close() }
	}
	if logFile != nil {
		return linker.NewDiagnostics(os.Stderr, logFile, viper.GetBool("debug")), cleanup, nil
	}
	return linker.NewDiagnostics(os.Stderr, nil, viper.GetBool("debug")), cleanup, nil
}

func splitPairs(pairs []string) map[string]string {
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		values[key] = value
	}
	return values
}

func runLink(cmd *cobra.Command, args []string) error {
	diag, cleanup, err := newDiagnostics()
	if err != nil {
		return err
	}
	defer cleanup()

	driver, err := format.NewOutputFormat(linkFlags.formatName)
	if err != nil {
		return err
	}

	specialChar := byte('$')
	if linkFlags.specialChar != "" {
		specialChar = linkFlags.specialChar[0]
	}

	job := &linker.LinkJob{
		Inputs:         args,
		Output:         linkFlags.output,
		Driver:         driver,
		InputForFormat: format.NewInputFormat,
		Defines:        splitPairs(linkFlags.defines),
		Options:        splitPairs(linkFlags.options),
		Model:          linkFlags.model,
		ScriptPath:     linkFlags.scriptPath,
		Parameters:     splitPairs(linkFlags.parameters),
		SpecialChar:    specialChar,
		Diag:           diag,
	}
	output, err := job.Run()
	if err != nil {
		return err
	}
	diag.Infof("wrote %s", output)
	return nil
}
