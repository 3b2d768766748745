package cli

import (
	"dqaudit/internal/audit"
	"dqaudit/internal/flags"
	"dqaudit/internal/output"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	historyRule    string
	historyCSV     string
	historyLimit   int
	historyBatches bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the audit history",
	Long: `History prints stored audit records, oldest first.

With --batches it lists the most recent batches instead.

Examples:
	# Every record of one rule
	dqaudit history --rule missing_email

	# Export the whole historical table as CSV to stdout
	dqaudit history --csv -

	# The ten most recent batches
	dqaudit history --batches --limit 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit < 0 {
			return fmt.Errorf("--%s must be >= 0", flags.FlagLimit)
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		cmd.SetContext(ctx)

		eng := openEngine(cmd)
		defer eng.Close()

		if historyBatches {
			list, err := eng.Batches(ctx, historyLimit)
			if err != nil {
				return err
			}
			return printBatches(cmd.OutOrStdout(), list)
		}

		records, err := eng.History(ctx, historyRule)
		if err != nil {
			return err
		}
		if historyLimit > 0 && len(records) > historyLimit {
			records = records[len(records)-historyLimit:]
		}

		switch historyCSV {
		case "":
			return printHistory(cmd.OutOrStdout(), records)
		case "-":
			return output.WriteHistoryCSV(cmd.OutOrStdout(), records)
		default:
			f, err := os.Create(historyCSV)
			if err != nil {
				return err
			}
			if err := output.WriteHistoryCSV(f, records); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d records to %s.\n", len(records), historyCSV)
			return nil
		}
	},
}

func printHistory(w io.Writer, records []audit.Record) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No audit records.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tCHECK\tFAILED\tTOTAL\tPCT\tBATCH")
	for _, r := range records {
		total, pct := "-", "-"
		if r.HasTotal() {
			total = strconv.FormatInt(r.TotalRows, 10)
			pct = fmt.Sprintf("%.2f%%", r.PctFailed*100)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			audit.FormatTimestamp(r.CheckTimestamp), r.CheckName, r.FailedRows, total, pct, r.BatchID)
	}
	return tw.Flush()
}

func printBatches(w io.Writer, list []audit.BatchInfo) error {
	if len(list) == 0 {
		fmt.Fprintln(w, "No batches.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tTIMESTAMP\tRECORDS\tERRORS")
	for _, b := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", b.ID, audit.FormatTimestamp(b.Timestamp), b.Records, b.Errors)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(historyCmd)
	bindDatasetFlags(historyCmd)
	bindSLAFlags(historyCmd)
	historyCmd.Flags().StringVar(&historyRule, flags.FlagRule, "", "Only records of this rule")
	historyCmd.Flags().StringVar(&historyCSV, flags.FlagCSV, "", "Write records as CSV to this path (\"-\" for stdout)")
	historyCmd.Flags().IntVar(&historyLimit, flags.FlagLimit, 0, "Keep only the newest N records or batches (0 = all)")
	historyCmd.Flags().BoolVar(&historyBatches, flags.FlagBatches, false, "List batches instead of records")
}
