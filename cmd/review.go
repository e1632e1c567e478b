package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/harrow-realty/listings-cli/internal/model"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review ranked listings before sending",
	Long:  "Harry's gate: list the ranked candidates for a run, then approve or reject them. Only approved listings can be sent.",
}

var reviewListCmd = &cobra.Command{
	Use:   "list <run-id>",
	Short: "List ranked listings awaiting a decision",
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
		rankings, err := gate.Pending(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "review list")
		}

		if len(rankings) == 0 {
			fmt.Fprintln(os.Stderr, "No ranked listings for this run.")
			return nil
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rankings)
		}

		formatRankings(os.Stdout, rankings)
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <run-id> <ranking-id>...",
	Short: "Approve ranked listings for sending",
	Args:  cobra.MinimumNArgs(2),
	RunE:  reviewDecision(true),
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <run-id> <ranking-id>...",
	Short: "Reject ranked listings",
	Args:  cobra.MinimumNArgs(2),
	RunE:  reviewDecision(false),
}

func reviewDecision(approve bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		runID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrap(err, "parse run id")
		}
		rankingIDs := make([]int64, 0, len(args)-1)
		for _, arg := range args[1:] {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return eris.Wrapf(err, "parse ranking id %q", arg)
			}
			rankingIDs = append(rankingIDs, id)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		gate := initGate(st)
		var rankings []model.RankedListing
		if approve {
			rankings, err = gate.Approve(ctx, runID, rankingIDs)
		} else {
			rankings, err = gate.Reject(ctx, runID, rankingIDs)
		}
		if err != nil {
			return eris.Wrap(err, "review decision")
		}

		formatRankings(os.Stdout, rankings)
		return nil
	}
}

func init() {
	reviewListCmd.Flags().Bool("json", false, "print full ranking detail as JSON")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	rootCmd.AddCommand(reviewCmd)
}

// formatRankings writes a tabular ranking overview to w.
func formatRankings(out io.Writer, rankings []model.RankedListing) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tID\tADDRESS\tPRICE\tMUST-HAVES\tSCORE\tDECISION\tSENT")
	_, _ = fmt.Fprintln(w, "----\t--\t-------\t-----\t----------\t-----\t--------\t----")

	for _, r := range rankings {
		address, price := "", ""
		if r.Listing != nil {
			address = r.Listing.Address
			if len(address) > 36 {
				address = address[:33] + "..."
			}
			if r.Listing.Price != nil {
				price = fmt.Sprintf("$%.0f", *r.Listing.Price)
			}
		}

		pass := "fail"
		if r.MustHavePass {
			pass = "pass"
		}
		decision := "undecided"
		if r.ApprovedByHarry != nil {
			if *r.ApprovedByHarry {
				decision = "approved"
			} else {
				decision = "rejected"
			}
		}
		sent := ""
		if r.SentToClient {
			sent = "yes"
		}

		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			r.RankPosition, r.ID, address, price, pass, r.OverallScore, decision, sent)
	}
	_ = w.Flush()
}
