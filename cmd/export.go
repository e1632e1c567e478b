package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harrow-realty/listings-cli/internal/export"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <run-id>",
	Short: "Export a run's rankings to an XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		runID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrap(err, "parse run id")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		req, err := st.GetRequirementByTranscript(ctx, run.TranscriptID)
		if err != nil {
			return err
		}
		rankings, err := st.ListRankingsByRun(ctx, runID)
		if err != nil {
			return err
		}
		if len(rankings) == 0 {
			return eris.Errorf("run %d has no rankings to export", runID)
		}

		out := exportOut
		if out == "" {
			out = fmt.Sprintf("run-%d-rankings.xlsx", runID)
		}
		if err := export.WriteRankingsXLSX(out, *req, rankings); err != nil {
			return err
		}

		zap.L().Info("rankings exported",
			zap.Int64("run_id", runID),
			zap.Int("rows", len(rankings)),
			zap.String("file", out),
		)
		fmt.Println(out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file path (default run-<id>-rankings.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
