package cli

import (
	"context"
	"dqaudit/internal/config"
	"dqaudit/internal/engine"
	"dqaudit/internal/flags"
	"dqaudit/internal/logger"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var cfg = config.New()

var rootCmd = &cobra.Command{
	Use:   "dqaudit",
	Short: "Run data-quality rules, keep an audit trail and evaluate SLAs",
	Long: `dqaudit runs named data-quality rules against a snapshot of the customers
dataset, appends every result to an append-only audit log, and evaluates the
latest results against SLA thresholds.

Examples:
	# Load the raw customers CSV into the dataset database
	dqaudit load --csv data/raw/customers_raw.csv

	# Run every rule once and report SLA verdicts
	dqaudit run

	# Re-evaluate the latest audit records without running rules
	dqaudit evaluate

	# Failure-percentage trend per rule
	dqaudit trend

Environment:
	DQAUDIT_DSN        dataset database (when --dsn is not set)
	DQAUDIT_AUDIT_DSN  audit log database (when --audit-dsn is not set)

Output:
	Results go to stdout; progress lines and logs go to stderr.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Init(cfg.Runtime.Verbose, cfg.Runtime.LogFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&cfg.Runtime.Verbose, flags.FlagVerbose, false, "Enable debug logging (prints every SQL statement and full error details)")
	rootCmd.PersistentFlags().StringVar(&cfg.Runtime.LogFormat, flags.FlagLogFormat, "text", "Log format on stderr: text|json")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(engine.ExitCodeFatal)
	}
}

// prepare applies environment fallbacks and validates cfg. Errors are
// configuration errors (exit code 3).
func prepare(cmd *cobra.Command) error {
	explicit := map[string]bool{}
	for _, name := range []string{flags.FlagDSN, flags.FlagAuditDSN} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			explicit[name] = true
		}
	}
	cfg.ApplyEnv(explicit)
	return cfg.Validate()
}

// openEngine validates cfg and opens the engine, exiting with the fatal
// code on failure.
func openEngine(cmd *cobra.Command) *engine.Engine {
	if err := prepare(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(engine.ExitCodeFatal)
	}
	eng, err := engine.Open(cmd.Context(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(engine.ExitCodeFatal)
	}
	return eng
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func bindDatasetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cfg.Dataset.DSN, flags.FlagDSN, config.DefaultDSN, "Dataset database: sqlite://path, path/to/file.db, or postgres://... (env "+config.EnvDSN+")")
	cmd.Flags().StringVar(&cfg.Dataset.Table, flags.FlagTable, cfg.Dataset.Table, "Relation the rules evaluate")
	cmd.Flags().StringVar(&cfg.Audit.DSN, flags.FlagAuditDSN, "", "Audit log database (default: the dataset database; env "+config.EnvAuditDSN+")")
}

func bindRuleFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cfg.Rules.Selector, flags.FlagRules, "", "Comma-separated rule names to run (empty = all rules)")
	cmd.Flags().StringSliceVar(&cfg.Rules.Set, flags.FlagSet, nil, "Per-rule options as rule.option=value (repeatable; comma-separated accepted)")
	cmd.Flags().StringVar(&cfg.Rules.File, flags.FlagRulesFile, "", "YAML file of additional SQL rules")
}

func bindSLAFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cfg.SLA.ThresholdsFile, flags.FlagThresholds, config.DefaultThresholdsFile, "YAML file of SLA thresholds")
	cmd.Flags().Int64Var(&cfg.SLA.ReferenceTotal, flags.FlagReferenceTotal, 0, "Cardinality assumed for legacy audit records without total_rows (0 = none)")
}

func bindOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, "text", "Console output format: text|json|ndjson")
	cmd.Flags().StringSliceVar(&cfg.Output.ConsoleFilterStatus, flags.FlagConsoleFilterStatus, nil, "Filter console output by status (PASS, FAIL, UNKNOWN, ERROR). Comma-separated.")
	cmd.Flags().StringVar(&cfg.Output.Report, flags.FlagReport, "", "Write a Markdown report to this path")
	cmd.Flags().StringVar(&cfg.Output.Out, flags.FlagOut, "", "Write structured output to this path")
	cmd.Flags().StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	cmd.Flags().StringSliceVar(&cfg.Output.Emit, flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	cmd.Flags().BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output and progress lines (use with --emit/--out/--report)")
	cmd.Flags().StringVar(&cfg.Output.SLACSV, flags.FlagSLACSV, "", "Write the SLA evaluation as CSV to this path (overwritten)")
	cmd.Flags().StringVar(&cfg.Output.MetricsTextfile, flags.FlagMetricsTextfile, "", "Write Prometheus metrics to this path after the run")
}

func bindRuntimeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&cfg.Runtime.Concurrency, flags.FlagConcurrency, 1, "Rules evaluated at once (snapshots that serialize queries run one rule at a time)")
	cmd.Flags().DurationVar(&cfg.Runtime.Timeout, flags.FlagTimeout, cfg.Runtime.Timeout, "Timeout for one batch")
	cmd.Flags().DurationVar(&cfg.Runtime.RuleTimeout, flags.FlagRuleTimeout, 0, "Timeout for one rule (0 = none)")
}
