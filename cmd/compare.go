package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var compareJSON bool

var compareCmd = &cobra.Command{
	Use:   "compare <case-id>",
	Short: "Show the dual-model field comparison for a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		view, err := env.Assembler.RenderComparison(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "compare %s", args[0])
		}

		if compareJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}

		fmt.Printf("Case %s  (%s)\n\n", view.CaseID, view.Session.Status)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FIELD\tMODEL A\tMODEL B\tAGREE\tRESOLUTION\tWORKING VALUE")
		for _, row := range view.Rows {
			a, b := "-", "-"
			if len(row.Comparison.Outputs) > 0 {
				a = fmt.Sprintf("%v", row.Comparison.Outputs[0].Value)
			}
			if len(row.Comparison.Outputs) > 1 {
				b = fmt.Sprintf("%v", row.Comparison.Outputs[1].Value)
			}
			working := "-"
			if row.WorkingValue != nil {
				working = fmt.Sprintf("%v", row.WorkingValue)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n",
				row.Comparison.FieldKey, a, b, row.Comparison.Agree, row.Resolution, working)
		}
		return w.Flush()
	},
}

func init() {
	compareCmd.Flags().BoolVar(&compareJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(compareCmd)
}
