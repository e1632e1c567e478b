package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/harrow-realty/listings-cli/internal/store"
)

var requirementCmd = &cobra.Command{
	Use:   "requirement",
	Short: "Inspect and edit extracted buyer requirements",
}

var requirementShowCmd = &cobra.Command{
	Use:   "show <transcript-id>",
	Short: "Show the requirement extracted from a transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		transcriptID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrap(err, "parse transcript id")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		req, err := st.GetRequirementByTranscript(ctx, transcriptID)
		if err != nil {
			return eris.Wrap(err, "requirement show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(req)
	},
}

var requirementEditCmd = &cobra.Command{
	Use:   "edit <requirement-id>",
	Short: "Manually correct an extracted requirement",
	Long:  "Overrides individual requirement fields. Edited requirements are marked and never overwritten by re-running extraction.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reqID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrap(err, "parse requirement id")
		}

		update := store.RequirementUpdate{}
		flags := cmd.Flags()
		if flags.Changed("client-name") {
			v, _ := flags.GetString("client-name")
			update.ClientName = &v
		}
		if flags.Changed("budget-max") {
			v, _ := flags.GetFloat64("budget-max")
			update.BudgetMax = &v
		}
		if flags.Changed("locations") {
			v, _ := flags.GetString("locations")
			list := splitList(v)
			update.Locations = &list
		}
		if flags.Changed("must-haves") {
			v, _ := flags.GetString("must-haves")
			list := splitList(v)
			update.MustHaves = &list
		}
		if flags.Changed("nice-to-haves") {
			v, _ := flags.GetString("nice-to-haves")
			list := splitList(v)
			update.NiceToHaves = &list
		}
		if flags.Changed("property-type") {
			v, _ := flags.GetString("property-type")
			update.PropertyType = &v
		}
		if flags.Changed("min-beds") {
			v, _ := flags.GetInt("min-beds")
			update.MinBeds = &v
		}
		if flags.Changed("min-baths") {
			v, _ := flags.GetFloat64("min-baths")
			update.MinBaths = &v
		}
		if flags.Changed("min-sqft") {
			v, _ := flags.GetInt("min-sqft")
			update.MinSqft = &v
		}
		if flags.Changed("schools") {
			v, _ := flags.GetString("schools")
			update.SchoolRequirement = &v
		}
		if flags.Changed("timeline") {
			v, _ := flags.GetString("timeline")
			update.Timeline = &v
		}
		if flags.Changed("financing") {
			v, _ := flags.GetString("financing")
			update.FinancingType = &v
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		req, err := st.UpdateRequirement(ctx, reqID, update)
		if err != nil {
			return eris.Wrap(err, "requirement edit")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(req)
	},
}

// splitList parses a semicolon-separated flag value into a clean list.
// Semicolons are the separator because criteria routinely contain commas.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ";") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func init() {
	f := requirementEditCmd.Flags()
	f.String("client-name", "", "buyer's name")
	f.Float64("budget-max", 0, "maximum budget in USD")
	f.String("locations", "", "semicolon-separated locations")
	f.String("must-haves", "", "semicolon-separated must-have criteria")
	f.String("nice-to-haves", "", "semicolon-separated nice-to-have criteria")
	f.String("property-type", "", "house, condo, townhouse, multi-family, or land")
	f.Int("min-beds", 0, "minimum bedrooms")
	f.Float64("min-baths", 0, "minimum bathrooms")
	f.Int("min-sqft", 0, "minimum square footage")
	f.String("schools", "", "school requirement")
	f.String("timeline", "", "move-in timeline")
	f.String("financing", "", "financing type")

	requirementCmd.AddCommand(requirementShowCmd)
	requirementCmd.AddCommand(requirementEditCmd)
	rootCmd.AddCommand(requirementCmd)
}
