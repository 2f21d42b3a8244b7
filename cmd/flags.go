package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/settlemetrics/qc-service/internal/model"
	"github.com/settlemetrics/qc-service/internal/store"
)

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "Triage user-submitted flag reports",
}

var flagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flag reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		caseID, _ := cmd.Flags().GetString("case")
		limit, _ := cmd.Flags().GetInt("limit")

		flags, err := env.Queue.List(ctx, store.FlagFilter{
			Status: model.FlagStatus(status),
			CaseID: caseID,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "list flags")
		}
		if len(flags) == 0 {
			fmt.Fprintln(os.Stderr, "No flags found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCASE\tTYPE\tSTATUS\tFIELD\tSUBMITTED\tDESCRIPTION")
		for _, f := range flags {
			field := "-"
			if f.FieldContext != nil {
				field = f.FieldContext.FieldName
			}
			submitter := f.SubmittedBy
			if submitter == "" {
				submitter = "anonymous"
			}
			desc := f.Description
			if len(desc) > 60 {
				desc = desc[:57] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				f.ID, f.CaseID, f.FlagType, f.Status, field, submitter, desc)
		}
		return w.Flush()
	},
}

var flagsShowCmd = &cobra.Command{
	Use:   "show <flag-id>",
	Short: "Show one flag report in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := env.Queue.Get(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "get flag %s", args[0])
		}

		fmt.Printf("ID:          %s\n", f.ID)
		fmt.Printf("Case:        %s\n", f.CaseID)
		fmt.Printf("Type:        %s\n", f.FlagType)
		fmt.Printf("Status:      %s\n", f.Status)
		fmt.Printf("Submitted:   %s\n", orDash(f.SubmittedBy))
		fmt.Printf("Created:     %s\n", f.CreatedAt.Format(time.RFC3339))
		if f.FieldContext != nil {
			fmt.Printf("Field:       %s = %s\n", f.FieldContext.FieldName, f.FieldContext.FieldValue)
		}
		fmt.Printf("Description: %s\n", f.Description)
		if f.ResolutionNotes != "" {
			fmt.Printf("Resolution:  %s (by %s)\n", f.ResolutionNotes, f.ResolvedBy)
		}
		return nil
	},
}

var flagsResolveCmd = &cobra.Command{
	Use:   "resolve <flag-id>",
	Short: "Move a flag to a new triage status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		notes, _ := cmd.Flags().GetString("notes")
		actor, _ := cmd.Flags().GetString("actor")

		f, err := env.Queue.UpdateStatus(ctx, args[0], model.FlagStatus(status), actor, notes)
		if err != nil {
			return eris.Wrapf(err, "update flag %s", args[0])
		}

		fmt.Printf("Flag %s is now %s.\n", f.ID, f.Status)
		return nil
	},
}

func init() {
	flagsListCmd.Flags().String("status", "", "filter by flag status")
	flagsListCmd.Flags().String("case", "", "filter by case id")
	flagsListCmd.Flags().Int("limit", 0, "max flags to return")

	flagsResolveCmd.Flags().String("status", string(model.FlagResolved), "target status")
	flagsResolveCmd.Flags().String("notes", "", "resolution notes (required to resolve or reject)")
	flagsResolveCmd.Flags().String("actor", "", "triager id")

	flagsCmd.AddCommand(flagsListCmd)
	flagsCmd.AddCommand(flagsShowCmd)
	flagsCmd.AddCommand(flagsResolveCmd)
	rootCmd.AddCommand(flagsCmd)
}
