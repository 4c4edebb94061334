package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/learnfeed/learnfeed-go/pkg/core"
)

func newExportCmd(g *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <learner-id>",
		Short: "Export a learner's state as JSON",
		Long: `Export every stored record of a learner in the portable learner format.
The output can be fed back with 'learnfeed import', also for another learner.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := g.openEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			data, err := engine.ExportLearnerData(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return g.printJSON(cmd, data)
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}
			defer f.Close()
			return writeJSON(f, data, g.pretty)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func newImportCmd(g *globalFlags) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "import <learner-id>",
		Short: "Import learner state produced by export",
		Long: `Replace a learner's records with the parts present in an export.
Reads stdin unless --input is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, input)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			var data core.LearnerData
			if err := json.Unmarshal(raw, &data); err != nil {
				return fmt.Errorf("parse learner data: %w", err)
			}

			engine, err := g.openEngine(cmd)
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.ImportLearnerData(cmd.Context(), args[0], &data); err != nil {
				return err
			}
			return g.printJSON(cmd, map[string]interface{}{"ok": true, "learner_id": args[0]})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Read from this file instead of stdin")
	return cmd
}
