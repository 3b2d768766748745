package flags

// Package flags defines canonical CLI flag names shared across the CLI and engine.
// Keeping these as constants helps avoid drift between Cobra flag wiring and other
// code paths that need to reference flags (e.g. env fallbacks that must not
// override an explicitly set flag).
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.Dataset.DSN, flags.FlagDSN, "", "...")
//	arg := "--" + flags.FlagDSN
const (
	// Dataset and audit log
	FlagDSN      = "dsn"
	FlagTable    = "table"
	FlagAuditDSN = "audit-dsn"
	FlagCSV      = "csv"

	// Rules
	FlagRules     = "rules"
	FlagSet       = "set"
	FlagRulesFile = "rules-file"

	// SLA and trend
	FlagThresholds     = "thresholds"
	FlagReferenceTotal = "reference-total"
	FlagBatch          = "batch"
	FlagRule           = "rule"
	FlagLimit          = "limit"
	FlagBatches        = "batches"

	// Output
	FlagConsoleFormat       = "console-format"
	FlagConsoleFilterStatus = "console-filter-status"
	FlagReport              = "report"
	FlagOut                 = "out"
	FlagOutFormat           = "out-format"
	FlagEmit                = "emit"
	FlagNoConsole           = "no-console"
	FlagSLACSV              = "sla-csv"
	FlagMetricsTextfile     = "metrics-textfile"

	// Runtime
	FlagConcurrency = "concurrency"
	FlagTimeout     = "timeout"
	FlagRuleTimeout = "rule-timeout"
	FlagVerbose     = "verbose"
	FlagLogFormat   = "log-format"

	// Schedule and serve
	FlagCron   = "cron"
	FlagListen = "listen"
)
