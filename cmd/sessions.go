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

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and inspect review sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		status, _ := cmd.Flags().GetString("status")
		reviewer, _ := cmd.Flags().GetString("reviewer")
		staleBefore, _ := cmd.Flags().GetString("claimed-before")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.SessionFilter{
			Status:     model.SessionStatus(status),
			ReviewerID: reviewer,
			Limit:      limit,
		}
		if staleBefore != "" {
			t, err := time.Parse(time.RFC3339, staleBefore)
			if err != nil {
				return eris.Wrap(err, "parse --claimed-before")
			}
			filter.ClaimedBefore = &t
		}

		sessions, err := env.Store.ListSessions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list sessions")
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CASE\tSTATUS\tREVIEWER\tSUPERVISOR\tCHANGES\tSTARTED\tCOMPLETED")
		for _, s := range sessions {
			started, completed := "-", "-"
			if s.StartedAt != nil {
				started = s.StartedAt.Format(time.RFC3339)
			}
			if s.CompletedAt != nil {
				completed = s.CompletedAt.Format(time.RFC3339)
			}
			reviewer := s.ReviewerID
			if reviewer == "" {
				reviewer = "-"
			}
			supervisor := s.SupervisorID
			if supervisor == "" {
				supervisor = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				s.CaseID, s.Status, reviewer, supervisor, len(s.ChangeLog), started, completed)
		}
		return w.Flush()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <case-id>",
	Short: "Show one review session in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		s, err := env.Engine.Session(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "get session %s", args[0])
		}

		fmt.Printf("Case:       %s\n", s.CaseID)
		fmt.Printf("Status:     %s\n", s.Status)
		fmt.Printf("Reviewer:   %s\n", orDash(s.ReviewerID))
		fmt.Printf("Supervisor: %s\n", orDash(s.SupervisorID))
		if s.ReviewNotes != "" {
			fmt.Printf("Notes:      %s\n", s.ReviewNotes)
		}
		if len(s.ChangeLog) > 0 {
			fmt.Println("\nChanges:")
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FIELD\tOLD\tNEW\tBY\tANNOTATION")
			for _, c := range s.ChangeLog {
				fmt.Fprintf(w, "%s\t%v\t%v\t%s\t%s\n",
					c.FieldKey, c.PreviousValue, c.NewValue, c.AuthorID, c.Annotation)
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
		if len(s.Confirmations) > 0 {
			fmt.Println("\nConfirmations:")
			for _, c := range s.Confirmations {
				fmt.Printf("  %s by %s\n", c.FieldKey, c.AuthorID)
			}
		}
		return nil
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	sessionsListCmd.Flags().String("status", "", "filter by session status")
	sessionsListCmd.Flags().String("reviewer", "", "filter by reviewer id")
	sessionsListCmd.Flags().String("claimed-before", "", "only sessions claimed before this RFC3339 time")
	sessionsListCmd.Flags().Int("limit", 0, "max sessions to return")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}
