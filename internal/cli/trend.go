package cli

import (
	"dqaudit/internal/audit"
	"dqaudit/internal/flags"
	"dqaudit/internal/trend"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	trendRule   string
	trendFormat string
)

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Project the failure percentage of each rule over time",
	Long: `Trend prints, per rule, the failure percentage of every stored batch in
time order. Each point is normalised by the row count recorded with its own
batch. Legacy records without a row count use --reference-total; without
it the command fails.

Examples:
	dqaudit trend
	dqaudit trend --rule duplicate_email --console-format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if trendFormat != "text" && trendFormat != "json" {
			return fmt.Errorf("unsupported --%s: %s (must be one of: text, json)", flags.FlagConsoleFormat, trendFormat)
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		cmd.SetContext(ctx)

		eng := openEngine(cmd)
		defer eng.Close()

		var series []trend.Series
		if trendRule != "" {
			s, err := eng.Trend(ctx, trendRule)
			if err != nil {
				return err
			}
			series = []trend.Series{s}
		} else {
			all, err := eng.Trends(ctx)
			if err != nil {
				return err
			}
			series = all
		}

		if trendFormat == "json" {
			if series == nil {
				series = []trend.Series{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(series)
		}
		return printTrends(cmd.OutOrStdout(), series)
	},
}

func printTrends(w io.Writer, series []trend.Series) error {
	if len(series) == 0 {
		fmt.Fprintln(w, "No audit records.")
		return nil
	}
	bold := color.New(color.Bold)
	for _, s := range series {
		bold.Fprintf(w, "%s\n", s.CheckName)
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, p := range s.Points {
			total := fmt.Sprintf("%d", p.TotalRows)
			if p.Assumed {
				total += "*"
			}
			fmt.Fprintf(tw, "  %s\t%6.2f%%\t%d/%s\n", audit.FormatTimestamp(p.Timestamp), p.PctFailed*100, p.FailedRows, total)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(trendCmd)
	bindDatasetFlags(trendCmd)
	bindSLAFlags(trendCmd)
	trendCmd.Flags().StringVar(&trendRule, flags.FlagRule, "", "Only this rule")
	trendCmd.Flags().StringVar(&trendFormat, flags.FlagConsoleFormat, "text", "Output format: text|json")
}
