package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/settlemetrics/qc-service/internal/model"
	"github.com/settlemetrics/qc-service/internal/report"
	"github.com/settlemetrics/qc-service/internal/store"
)

var (
	exportFormat string
	exportOut    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export supervisor-approved case records",
	Long:  "Builds the canonical-record export from fully adjudicated cases. Only SUPERVISOR_APPROVED sessions are included.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sessions, err := env.Store.ListSessions(ctx, store.SessionFilter{
			Status: model.StatusSupervisorApproved,
		})
		if err != nil {
			return eris.Wrap(err, "list approved sessions")
		}
		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No approved cases to export.")
			return nil
		}

		doc, err := report.BuildExport(sessions, cfg.Export)
		if err != nil {
			return eris.Wrap(err, "build export")
		}

		switch strings.ToLower(exportFormat) {
		case "xlsx":
			out := exportOut
			if out == "" {
				out = "qc-export.xlsx"
			}
			if err := doc.WriteXLSX(out); err != nil {
				return eris.Wrap(err, "write xlsx")
			}
			zap.L().Info("export written",
				zap.String("path", out),
				zap.Int("cases", len(doc.Cases)),
			)
		case "csv":
			data, err := doc.WriteCSV()
			if err != nil {
				return eris.Wrap(err, "write csv")
			}
			if exportOut == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(exportOut, data, 0o644); err != nil {
				return eris.Wrap(err, "write csv file")
			}
		case "json":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		default:
			return eris.Errorf("unsupported format: %s", exportFormat)
		}

		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "xlsx", "output format: xlsx, csv, or json")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default qc-export.xlsx, or stdout for csv/json)")
	rootCmd.AddCommand(exportCmd)
}
