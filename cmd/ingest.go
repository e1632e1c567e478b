package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harrow-realty/listings-cli/internal/model"
)

var (
	ingestFile     string
	ingestText     string
	ingestClientID int64
	ingestStart    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Upload a call transcript",
	Long:  "Stores a transcript from a file or pasted text. With --start, also creates a pipeline run for it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		transcript := &model.Transcript{RawText: ingestText, UploadMethod: model.UploadMethodPaste}
		if ingestFile != "" {
			data, err := os.ReadFile(ingestFile)
			if err != nil {
				return eris.Wrap(err, "read transcript file")
			}
			transcript.RawText = string(data)
			transcript.Filename = filepath.Base(ingestFile)
			transcript.UploadMethod = model.UploadMethodFile
		}
		if transcript.RawText == "" {
			return eris.New("one of --file or --text is required")
		}
		if ingestClientID > 0 {
			transcript.ClientID = &ingestClientID
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stored, err := st.CreateTranscript(ctx, transcript)
		if err != nil {
			return eris.Wrap(err, "store transcript")
		}
		zap.L().Info("transcript stored",
			zap.Int64("transcript_id", stored.ID),
			zap.String("upload_method", stored.UploadMethod),
			zap.Int("bytes", len(stored.RawText)),
		)

		out := map[string]any{"transcript": stored}

		if ingestStart {
			machine, err := initMachine(st)
			if err != nil {
				return err
			}
			run, err := machine.StartRun(ctx, stored.ID)
			if err != nil {
				return eris.Wrap(err, "start run")
			}
			out["run"] = run
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to a transcript text file")
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "transcript text pasted inline")
	ingestCmd.Flags().Int64Var(&ingestClientID, "client-id", 0, "existing client to associate")
	ingestCmd.Flags().BoolVar(&ingestStart, "start", false, "create a pipeline run for the transcript")
	rootCmd.AddCommand(ingestCmd)
}
