package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run data-quality rules and evaluate the batch against the SLA thresholds",
	Long: `Run executes the selected rules against one consistent snapshot of the
dataset, appends the results to the audit log as a single batch, and
evaluates that batch against the SLA thresholds.

Rules are selected with --rules (comma-separated names, default all).
A rule that fails to execute is recorded in the errors table and does not
stop the other rules.

Examples:
	# Run every rule
	dqaudit run

	# Run two rules and write a Markdown report
	dqaudit run --rules missing_email,missing_phone --report report.md

	# Machine-readable output
	dqaudit run --no-console --emit ndjson

Exit codes:
	0  every verdict PASS
	1  at least one verdict FAIL or UNKNOWN
	2  at least one rule could not be evaluated
	3  fatal error (configuration, dataset or audit log unavailable)`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		cmd.SetContext(ctx)

		eng := openEngine(cmd)
		code := eng.Run(ctx, cfg)
		_ = eng.Close()
		os.Exit(code)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	bindDatasetFlags(runCmd)
	bindRuleFlags(runCmd)
	bindSLAFlags(runCmd)
	bindOutputFlags(runCmd)
	bindRuntimeFlags(runCmd)
}
