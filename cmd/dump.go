package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/retrolinker/retrolinker/pkg/dump"
)

var dumpFlags struct {
	yaml        bool
	interactive bool
}

var dumpCmd = &cobra.Command{
	Use:   "dump [flags] <input>",
	Short: "Show the structure of a recognised executable file",
	Long: `Dump detects the format of an input file by signature, including images
nested behind MS-DOS stubs, and prints its header fields and tables.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := dump.File(args[0])
		if err != nil {
			return err
		}
		if dumpFlags.interactive {
			return dump.Browse(tree)
		}
		if dumpFlags.yaml {
			return tree.WriteYAML(os.Stdout)
		}
		tree.WriteText(os.Stdout)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().BoolVar(&dumpFlags.yaml, "yaml", false, "emit the dump as YAML")
	dumpCmd.Flags().BoolVar(&dumpFlags.interactive, "interactive", false, "browse the dump in a terminal UI")
}
