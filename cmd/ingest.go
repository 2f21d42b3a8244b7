package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/settlemetrics/qc-service/internal/model"
)

var ingestConcurrency int

var ingestCmd = &cobra.Command{
	Use:   "ingest <outputs.json>",
	Short: "Ingest model outputs from a JSON file",
	Long:  "Reads a JSON array of model outputs and records them, enqueuing new cases for review. Re-ingesting a (case, field, model) tuple is last-writer-wins by produced_at.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("cli"); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read outputs file")
		}
		var outputs []model.ModelOutput
		if err := json.Unmarshal(data, &outputs); err != nil {
			return eris.Wrap(err, "unmarshal outputs file")
		}

		// Outputs for one case must land sequentially so session creation
		// races only across cases, never within one.
		byCase := make(map[string][]model.ModelOutput)
		for _, out := range outputs {
			byCase[out.CaseID] = append(byCase[out.CaseID], out)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(ingestConcurrency)
		for caseID, caseOutputs := range byCase {
			g.Go(func() error {
				for _, out := range caseOutputs {
					if err := env.Engine.RecordOutput(gctx, out); err != nil {
						return eris.Wrapf(err, "record output %s/%s/%s", out.CaseID, out.FieldKey, out.ModelID)
					}
				}
				zap.L().Info("case ingested",
					zap.String("case_id", caseID),
					zap.Int("outputs", len(caseOutputs)),
				)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("ingest complete",
			zap.Int("cases", len(byCase)),
			zap.Int("outputs", len(outputs)),
		)
		return nil
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestConcurrency, "concurrency", 4, "concurrent cases")
	rootCmd.AddCommand(ingestCmd)
}
