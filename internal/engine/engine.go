package engine

import (
	"context"
	"dqaudit/internal/audit"
	"dqaudit/internal/config"
	"dqaudit/internal/dataset"
	"dqaudit/internal/metrics"
	"dqaudit/internal/rules"
	"dqaudit/internal/sla"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

func exitCodeForRun(fatal, partial, wrongs bool) int {
	// Exit code contract:
	// 0 = batch committed, every verdict PASS
	// 1 = at least one verdict FAIL or UNKNOWN
	// 2 = partial run (some rules errored)
	// 3 = fatal error (no audit trail added)
	if fatal {
		return 3
	}
	if partial {
		return 2
	}
	if wrongs {
		return 1
	}
	return 0
}

// ExitCode maps an evaluation onto the exit code contract.
func ExitCode(ev Evaluation) int {
	return exitCodeForRun(false, ev.Summary.Erroring > 0, ev.Summary.Failed+ev.Summary.Unknown > 0)
}

// ExitCodeFatal is returned when no batch could be committed or evaluated.
var ExitCodeFatal = exitCodeForRun(true, false, false)

// Evaluation is the SLA view of one batch (or of the latest record per rule).
type Evaluation struct {
	BatchID   string            `json:"batch_id,omitempty"`
	Timestamp time.Time         `json:"check_timestamp"`
	Verdicts  []sla.Verdict     `json:"verdicts"`
	Errors    []audit.RuleError `json:"errors,omitempty"`
	Summary   sla.Summary       `json:"summary"`
}

// Engine owns the dataset, the audit log and the configured rule and
// threshold registries for the lifetime of a command or server.
type Engine struct {
	Dataset    *dataset.DB
	Store      *audit.Store
	Rules      *rules.Registry
	Thresholds *sla.Registry
	Metrics    *metrics.Metrics
	Executor   *Executor

	// Selector is the default rule selection for Execute.
	Selector string
	// ReferenceTotal is the trend fallback cardinality for legacy records.
	ReferenceTotal int64

	now      func() time.Time
	progress io.Writer
	auditDB  *dataset.DB
	group    singleflight.Group
}

// Open resolves rules and thresholds from cfg, then connects to the dataset
// and audit databases and migrates the audit tables. Any error is a
// configuration or availability error.
func Open(ctx context.Context, cfg *config.Config) (*Engine, error) {
	e := &Engine{
		Metrics:        metrics.New(),
		Selector:       cfg.Rules.Selector,
		ReferenceTotal: cfg.SLA.ReferenceTotal,
		Executor: &Executor{
			Concurrency: cfg.Runtime.Concurrency,
			RuleTimeout: cfg.Runtime.RuleTimeout,
			Verbose:     cfg.Runtime.Verbose,
		},
		now:      time.Now,
		progress: os.Stderr,
	}
	if cfg.Output.NoConsole {
		e.progress = io.Discard
	}

	reg, err := RuleRegistry(cfg)
	if err != nil {
		return nil, err
	}
	e.Rules = reg

	th, err := sla.LoadThresholds(cfg.SLA.ThresholdsFile)
	if err != nil {
		return nil, err
	}
	e.Thresholds = th

	ds, err := dataset.Open(cfg.Dataset.DSN, dataset.WithTable(cfg.Dataset.Table), dataset.WithQueryLog(cfg.Runtime.Verbose))
	if err != nil {
		return nil, err
	}
	e.Dataset = ds

	auditGorm := ds.Gorm
	if dsn := cfg.AuditDSN(); dsn != cfg.Dataset.DSN {
		adb, err := dataset.Open(dsn, dataset.WithQueryLog(cfg.Runtime.Verbose))
		if err != nil {
			_ = ds.Close()
			return nil, fmt.Errorf("audit log: %w", err)
		}
		e.auditDB = adb
		auditGorm = adb.Gorm
	}

	e.Store = audit.NewStore(auditGorm)
	if err := e.Store.Migrate(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// New assembles an Engine from already-open parts.
func New(ds *dataset.DB, store *audit.Store, reg *rules.Registry, th *sla.Registry) *Engine {
	return &Engine{
		Dataset:    ds,
		Store:      store,
		Rules:      reg,
		Thresholds: th,
		Metrics:    metrics.New(),
		Executor:   &Executor{Concurrency: 1},
		now:        time.Now,
		progress:   io.Discard,
	}
}

func (e *Engine) Close() error {
	var errs []error
	if e.auditDB != nil {
		errs = append(errs, e.auditDB.Close())
	}
	if e.Dataset != nil {
		errs = append(errs, e.Dataset.Close())
	}
	return errors.Join(errs...)
}

// RuleRegistry returns the built-in rules plus the rules of
// cfg.Rules.File, with --set options applied.
func RuleRegistry(cfg *config.Config) (*rules.Registry, error) {
	reg := rules.Builtin().Clone()
	if cfg.Rules.File != "" {
		if err := rules.LoadRuleFile(reg, cfg.Rules.File); err != nil {
			return nil, err
		}
	}
	if err := applyRuleOptions(reg, cfg.Rules.Set); err != nil {
		return nil, err
	}
	return reg, nil
}

// applyRuleOptions routes --set rule.option=value entries to the matching
// rule's Configure method. Only rules implementing rules.ConfigurableRule
// accept options, and only the options they declare.
//
// Example:
//
//	dqaudit run --set invalid_email_format.pattern=%@example.com
func applyRuleOptions(reg *rules.Registry, set []string) error {
	if len(set) == 0 {
		return nil
	}

	assignments, err := config.ParseRuleOptionAssignments(set)
	if err != nil {
		return err
	}

	byName := make(map[string]rules.Rule, reg.Len())
	for _, r := range reg.List() {
		byName[r.Name()] = r
	}

	names := make([]string, 0, len(assignments))
	for name := range assignments {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		opts := assignments[name]
		r, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: unknown rule %q", rules.ErrInvalidRuleSet, name)
		}
		cr, ok := r.(rules.ConfigurableRule)
		if !ok {
			return fmt.Errorf("%w: rule %q does not support options", rules.ErrInvalidRuleSet, name)
		}

		allowed := make(map[string]struct{})
		for _, opt := range cr.Options() {
			allowed[opt.Name] = struct{}{}
		}
		for opt := range opts {
			if _, ok := allowed[opt]; !ok {
				return fmt.Errorf("%w: unknown option %q for rule %q", rules.ErrInvalidRuleSet, opt, name)
			}
		}

		if err := cr.Configure(opts); err != nil {
			return fmt.Errorf("configure rule %q: %w", name, err)
		}
	}
	return nil
}

// fingerprint identifies a rule set independent of selection order.
func fingerprint(selected []rules.Rule) string {
	names := make([]string, 0, len(selected))
	for _, r := range selected {
		names = append(names, r.Name())
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// RunBatch takes a snapshot, evaluates selected against it, releases the
// snapshot and appends the batch to the audit log. Concurrent calls for the
// same rule set share one batch.
func (e *Engine) RunBatch(ctx context.Context, selected []rules.Rule) (audit.Batch, error) {
	v, err, shared := e.group.Do(fingerprint(selected), func() (any, error) {
		return e.runBatch(ctx, selected)
	})
	if shared {
		slog.Debug("joined in-flight batch", "rules", len(selected))
	}
	if err != nil {
		return audit.Batch{}, err
	}
	return v.(audit.Batch), nil
}

func (e *Engine) runBatch(ctx context.Context, selected []rules.Rule) (audit.Batch, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		e.Metrics.ObserveBatch(metrics.OutcomeAborted, start, nil)
		return audit.Batch{}, fmt.Errorf("%w: %w", ErrBatchAborted, err)
	}

	snap, err := e.Dataset.Snapshot(ctx)
	if err != nil {
		e.Metrics.ObserveBatch(metrics.OutcomeAborted, start, nil)
		return audit.Batch{}, fmt.Errorf("dataset unavailable: %w", err)
	}
	batch, runErr := e.Executor.RunBatch(ctx, snap, selected, e.now())
	if err := snap.Release(); err != nil {
		slog.Warn("release snapshot", "error", err)
	}
	if runErr != nil {
		e.Metrics.ObserveBatch(metrics.OutcomeAborted, start, nil)
		return audit.Batch{}, runErr
	}
	if err := ctx.Err(); err != nil {
		e.Metrics.ObserveBatch(metrics.OutcomeAborted, start, nil)
		return audit.Batch{}, fmt.Errorf("%w: %w", ErrBatchAborted, err)
	}

	kinds := make([]string, 0, len(batch.Errors))
	for _, re := range batch.Errors {
		kinds = append(kinds, re.Kind)
	}
	if err := e.Store.Append(ctx, batch); err != nil {
		e.Metrics.ObserveBatch(metrics.OutcomeFailed, start, kinds)
		return audit.Batch{}, err
	}
	e.Metrics.ObserveBatch(metrics.OutcomeCommitted, start, kinds)
	slog.Info("batch committed", "batch_id", batch.ID, "records", len(batch.Records), "errors", len(batch.Errors), "total_rows", batch.TotalRows)
	return batch, nil
}

// Execute runs one batch for selector (empty means e.Selector) and evaluates
// the committed batch.
func (e *Engine) Execute(ctx context.Context, selector string) (Evaluation, error) {
	if selector == "" {
		selector = e.Selector
	}
	selected, err := e.Rules.Resolve(selector)
	if err != nil {
		return Evaluation{}, err
	}
	batch, err := e.RunBatch(ctx, selected)
	if err != nil {
		return Evaluation{}, err
	}
	return e.Evaluate(ctx, batch.ID)
}

// Evaluate reads batch batchID back from the audit log, or the latest record
// per rule when batchID is empty, and evaluates it against the thresholds.
//
// With an empty batchID the errors come from the most recent batch, even one
// in which every rule errored. A rule that errored there is reported only as
// an error; its older record does not also produce a verdict.
func (e *Engine) Evaluate(ctx context.Context, batchID string) (Evaluation, error) {
	var (
		ev      = Evaluation{BatchID: batchID}
		records map[string]audit.Record
		err     error
	)
	if batchID == "" {
		records, err = e.Store.LatestPerRule(ctx)
		if err != nil {
			return Evaluation{}, err
		}
		latest, ok, err := e.Store.LatestBatch(ctx)
		if err != nil {
			return Evaluation{}, err
		}
		if ok {
			ev.BatchID = latest.ID
			ev.Timestamp = latest.Timestamp
		}
	} else {
		records, err = e.Store.BatchRecords(ctx, batchID)
		if err != nil {
			return Evaluation{}, err
		}
	}

	if ev.BatchID != "" {
		ev.Errors, err = e.Store.Errors(ctx, ev.BatchID)
		if err != nil {
			return Evaluation{}, err
		}
	}
	for _, re := range ev.Errors {
		delete(records, re.CheckName)
	}
	for _, r := range records {
		if r.CheckTimestamp.After(ev.Timestamp) {
			ev.Timestamp = r.CheckTimestamp
		}
	}

	ev.Verdicts = sla.Evaluate(records, e.Thresholds)
	ev.Summary = sla.Summarize(ev.Verdicts, ev.Errors)
	e.Metrics.SetVerdicts(ev.Verdicts, ev.Timestamp)
	return ev, nil
}
