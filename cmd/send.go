package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sendTo string

var sendCmd = &cobra.Command{
	Use:   "send <run-id>",
	Short: "Email approved listings to the client",
	Long:  "Sends the approved listings for a run to the recipient, at most once per run. Re-running replays the original receipt.",
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

		gate := initGate(st)
		result, err := gate.Send(ctx, runID, sendTo)
		if err != nil {
			return eris.Wrap(err, "send")
		}

		if result.Replayed {
			zap.L().Info("send already completed for this run, receipt replayed",
				zap.Int64("run_id", result.RunID),
				zap.Time("sent_at", result.SentAt),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "recipient email address (required)")
	_ = sendCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(sendCmd)
}
