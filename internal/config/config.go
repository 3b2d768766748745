package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Environment variables consulted when the matching flag is not set.
const (
	EnvDSN      = "DQAUDIT_DSN"
	EnvAuditDSN = "DQAUDIT_AUDIT_DSN"
)

const (
	DefaultDSN            = "sqlite://data/processed/customers.db"
	DefaultThresholdsFile = "configs/thresholds.yaml"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields that affect run
	// behavior, keep these in sync:
	// - flag names in internal/flags
	// - CLI flag wiring in internal/cli (bindDatasetFlags, bindRuleFlags, bindSLAFlags,
	//   bindOutputFlags, bindRuntimeFlags)
	Dataset Dataset
	Audit   Audit
	Rules   Rules
	SLA     SLA
	Output  Output
	Runtime Runtime
}

type Dataset struct {
	// DSN locates the dataset database (see --dsn, $DQAUDIT_DSN).
	// Accepted: sqlite://path, a bare *.db path, postgres://...
	DSN string

	// Table is the relation rules are evaluated against (see --table).
	Table string
}

type Audit struct {
	// DSN locates the audit log database (see --audit-dsn, $DQAUDIT_AUDIT_DSN).
	// Empty means the dataset database.
	DSN string
}

type Rules struct {
	// Selector selects which rules to run.
	// Empty means all rules; otherwise a comma-separated list of names (see --rules).
	Selector string

	// Set provides per-rule option overrides from the CLI.
	// Entries are of the form rule.option=value (repeatable; comma-separated accepted; see --set).
	Set []string

	// File loads additional SQL rules from a YAML rule file (see --rules-file).
	File string
}

type SLA struct {
	// ThresholdsFile is the YAML threshold registry (see --thresholds).
	ThresholdsFile string

	// ReferenceTotal normalises legacy audit records that carry no total_rows
	// (see --reference-total). 0 disables the assumption.
	ReferenceTotal int64

	// Batch evaluates one stored batch instead of the latest record per rule
	// (see --batch).
	Batch string
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string

	// ConsoleFilterStatus filters console output by verdict status (see --console-filter-status).
	// Allowed values: PASS, FAIL, UNKNOWN, ERROR.
	ConsoleFilterStatus []string

	// Report writes a Markdown report to this path (see --report).
	Report string

	// Out writes structured output to this path (see --out).
	Out string

	// OutFormat selects the format for --out (see --out-format).
	// Allowed values: json, ndjson. If empty, it is inferred from the --out file extension.
	OutFormat string

	// Emit writes an additional structured event stream to stdout (see --emit).
	// Allowed values: json, ndjson.
	Emit []string

	// NoConsole suppresses the console sink and progress lines (see --no-console).
	NoConsole bool

	// SLACSV writes the SLA evaluation export to this path (see --sla-csv).
	SLACSV string

	// MetricsTextfile writes Prometheus metrics after the run (see --metrics-textfile).
	MetricsTextfile string
}

type Runtime struct {
	// Concurrency bounds how many rules evaluate at once (see --concurrency).
	// Must be >= 1. Database snapshots serialize their queries, so rules
	// against them run one at a time whatever the value.
	Concurrency int

	// Timeout bounds the whole batch (see --timeout). Must be > 0.
	Timeout time.Duration

	// RuleTimeout bounds a single rule (see --rule-timeout). 0 means no
	// per-rule limit.
	RuleTimeout time.Duration

	// Verbose enables debug logging and SQL statement logging.
	Verbose bool

	// LogFormat selects the log handler (see --log-format). Allowed: text, json.
	LogFormat string
}

func New() *Config {
	return &Config{
		Dataset: Dataset{
			DSN:   DefaultDSN,
			Table: "customers",
		},
		SLA: SLA{
			ThresholdsFile: DefaultThresholdsFile,
		},
		Output: Output{
			ConsoleFormat: "text",
		},
		Runtime: Runtime{
			Concurrency: 1,
			Timeout:     10 * time.Minute,
			LogFormat:   "text",
		},
	}
}

// ApplyEnv fills DSNs from the environment. Flags the user set explicitly
// win; pass their names in explicit.
func (c *Config) ApplyEnv(explicit map[string]bool) {
	if v := strings.TrimSpace(os.Getenv(EnvDSN)); v != "" && !explicit["dsn"] {
		c.Dataset.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAuditDSN)); v != "" && !explicit["audit-dsn"] {
		c.Audit.DSN = v
	}
}

// AuditDSN returns the audit database DSN, defaulting to the dataset's.
func (c *Config) AuditDSN() string {
	if c.Audit.DSN != "" {
		return c.Audit.DSN
	}
	return c.Dataset.DSN
}

func (c *Config) Validate() error {
	// Normalize comma-delimited list inputs.
	c.Rules.Set = splitCommaList(c.Rules.Set)
	c.Output.ConsoleFilterStatus = splitCommaList(c.Output.ConsoleFilterStatus)
	c.Output.Emit = splitCommaList(c.Output.Emit)

	c.Dataset.DSN = strings.TrimSpace(c.Dataset.DSN)
	c.Audit.DSN = strings.TrimSpace(c.Audit.DSN)
	if c.Dataset.DSN == "" {
		return fmt.Errorf("--dsn must be provided (or set $%s)", EnvDSN)
	}
	c.Dataset.Table = strings.TrimSpace(c.Dataset.Table)
	if c.Dataset.Table == "" {
		return errors.New("--table must not be empty")
	}

	if strings.TrimSpace(c.SLA.ThresholdsFile) == "" {
		return errors.New("--thresholds must be provided")
	}
	if c.SLA.ReferenceTotal < 0 {
		return errors.New("--reference-total must be >= 0")
	}
	c.SLA.Batch = strings.TrimSpace(c.SLA.Batch)

	// Output validation
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return errors.New("--console-format must be one of: text, json, ndjson")
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "json" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}

	for i, st := range c.Output.ConsoleFilterStatus {
		v := strings.ToUpper(strings.TrimSpace(st))
		switch v {
		case "PASS", "FAIL", "UNKNOWN", "ERROR":
			c.Output.ConsoleFilterStatus[i] = v
		default:
			return fmt.Errorf("unsupported --console-filter-status value: %s (must be one of: PASS, FAIL, UNKNOWN, ERROR)", st)
		}
	}

	for i, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", v)
		}
		c.Output.Emit[i] = v
	}

	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			default:
				if ext == "" {
					return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
				}
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	// Runtime validation
	if c.Runtime.Concurrency <= 0 {
		return errors.New("--concurrency must be >= 1")
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}
	if c.Runtime.RuleTimeout < 0 {
		return errors.New("--rule-timeout must be >= 0")
	}
	c.Runtime.LogFormat = normalizeEnumValue(c.Runtime.LogFormat)
	if c.Runtime.LogFormat == "" {
		c.Runtime.LogFormat = "text"
	}
	if c.Runtime.LogFormat != "text" && c.Runtime.LogFormat != "json" {
		return fmt.Errorf("unsupported --log-format: %s (must be one of: text, json)", c.Runtime.LogFormat)
	}

	// Rule option syntax validation (rule.option=value)
	if len(c.Rules.Set) > 0 {
		if _, err := ParseRuleOptionAssignments(c.Rules.Set); err != nil {
			return err
		}
	}

	return nil
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ParseRuleOptionAssignments parses values of the form "rule.option=value".
//
// Notes:
// - Entries may be provided via repeated flags and/or comma-delimited lists.
// - This validates syntax only (no validation of rule names or option names).
// - Empty values are allowed ("rule.option=").
func ParseRuleOptionAssignments(values []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	for _, raw := range splitCommaList(values) {
		left, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --set entry %q: expected rule.option=value", raw)
		}
		value = strings.TrimSpace(value)
		ruleName, opt, ok := strings.Cut(strings.TrimSpace(left), ".")
		if !ok {
			return nil, fmt.Errorf("invalid --set entry %q: expected rule.option=value", raw)
		}
		ruleName = strings.TrimSpace(ruleName)
		opt = strings.TrimSpace(opt)
		if ruleName == "" || opt == "" {
			return nil, fmt.Errorf("invalid --set entry %q: expected non-empty rule and option", raw)
		}
		if _, ok := out[ruleName]; !ok {
			out[ruleName] = make(map[string]string)
		}
		out[ruleName][opt] = value
	}
	return out, nil
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
