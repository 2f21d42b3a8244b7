package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/settlemetrics/qc-service/internal/registry"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "Print the active field registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := registry.Load(cfg.Registry.FieldsFile)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tLABEL\tTYPE\tOPTIONS")
		for _, f := range fields.Fields {
			options := "-"
			if len(f.EnumOptions) > 0 {
				options = strings.Join(f.EnumOptions, ", ")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Key, f.Label, f.ValueType, options)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(fieldsCmd)
}
