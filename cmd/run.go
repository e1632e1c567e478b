package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harrow-realty/listings-cli/internal/model"
)

var runTranscriptID int64

var runCmd = &cobra.Command{
	Use:   "run [run-id]",
	Short: "Execute the automated pipeline stages for a run",
	Long:  "Runs ingestion, extraction, search, and ranking in order, resuming from the last completed stage. With --transcript a new run is created first.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		machine, err := initMachine(st)
		if err != nil {
			return err
		}

		var runID int64
		switch {
		case runTranscriptID > 0:
			run, err := machine.StartRun(ctx, runTranscriptID)
			if err != nil {
				return eris.Wrap(err, "start run")
			}
			runID = run.ID
		case len(args) == 1:
			runID, err = strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return eris.Wrap(err, "parse run id")
			}
		default:
			return eris.New("give a run id or --transcript")
		}

		run, err := machine.RunPipeline(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("pipeline stages complete, awaiting review",
			zap.Int64("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.String("current_stage", string(run.CurrentStage)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

var stageCmd = &cobra.Command{
	Use:   "stage <run-id> <stage>",
	Short: "Execute one pipeline stage",
	Long:  "Executes a single automated stage (ingestion, extraction, search, ranking). Re-running a completed stage is a no-op.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		runID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrap(err, "parse run id")
		}
		stage, err := model.ParseStage(args[1])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		machine, err := initMachine(st)
		if err != nil {
			return err
		}

		run, err := machine.RunStage(ctx, runID, stage)
		if err != nil {
			return eris.Wrap(err, "run stage")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runCmd.Flags().Int64Var(&runTranscriptID, "transcript", 0, "create a run for this transcript first")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stageCmd)
}
