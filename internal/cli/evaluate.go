package cli

import (
	"dqaudit/internal/flags"
	"os"

	"github.com/spf13/cobra"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate stored audit records against the SLA thresholds",
	Long: `Evaluate reads the audit log without running any rule and reports one
SLA verdict per rule.

Without --batch the latest record of every rule is evaluated. A rule with
no threshold, or no total_rows for a percentage threshold, is UNKNOWN.

Examples:
	dqaudit evaluate
	dqaudit evaluate --batch 5f0c0c8e-8d1b-4b0e-9d7e-3c1f2f4d6a11 --sla-csv sla.csv`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		cmd.SetContext(ctx)

		eng := openEngine(cmd)
		code := eng.RunEvaluate(ctx, cfg)
		_ = eng.Close()
		os.Exit(code)
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	bindDatasetFlags(evaluateCmd)
	bindSLAFlags(evaluateCmd)
	bindOutputFlags(evaluateCmd)
	bindRuntimeFlags(evaluateCmd)
	evaluateCmd.Flags().StringVar(&cfg.SLA.Batch, flags.FlagBatch, "", "Evaluate this batch id instead of the latest record per rule")
}
