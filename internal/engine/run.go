package engine

import (
	"context"
	"dqaudit/internal/config"
	"dqaudit/internal/output"
	"fmt"
	"log/slog"
	"os"
)

func setupOutputManager(cfg *config.Config) (*output.Manager, error) {
	outMgr := output.NewManager()

	// Console Sink
	if !cfg.Output.NoConsole {
		if err := outMgr.AddSink(output.NewConsoleSink(nil, cfg.Output.ConsoleFormat, cfg.Output.ConsoleFilterStatus)); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Emit Sinks (additional structured streams)
	for _, emit := range cfg.Output.Emit {
		es, err := output.NewEmitSink(os.Stdout, emit)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(es); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// File Sink
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(fs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// Report Sink
	if cfg.Output.Report != "" {
		rs, err := output.NewReportSink(cfg.Output.Report)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(rs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	// SLA evaluation export
	if cfg.Output.SLACSV != "" {
		cs, err := output.NewCSVSink(cfg.Output.SLACSV)
		if err != nil {
			outMgr.Close()
			return nil, err
		}
		if err := outMgr.AddSink(cs); err != nil {
			outMgr.Close()
			return nil, err
		}
	}

	return outMgr, nil
}

// writeEvaluation streams rule errors, then verdicts in severity order.
func writeEvaluation(outMgr *output.Manager, ev Evaluation) {
	for _, re := range ev.Errors {
		_ = outMgr.Write(re)
	}
	for _, v := range ev.Verdicts {
		_ = outMgr.Write(v)
	}
}

func (e *Engine) finish(cfg *config.Config, outMgr *output.Manager, ev *Evaluation, code int) int {
	fin := output.Event{Type: output.EventRunFinished, ExitCode: code}
	if ev != nil {
		sum := ev.Summary
		fin.BatchID = ev.BatchID
		fin.Summary = &sum
	}
	_ = outMgr.Write(fin)
	if err := outMgr.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
	}

	if cfg.Output.MetricsTextfile != "" {
		if err := e.Metrics.WriteTextfile(cfg.Output.MetricsTextfile); err != nil {
			slog.Warn("metrics textfile", "path", cfg.Output.MetricsTextfile, "error", err)
		}
	}
	return code
}

// Run executes one batch of the configured rules, appends it to the audit
// log, evaluates it against the SLA thresholds and reports to the configured
// sinks. It returns the process exit code.
func (e *Engine) Run(ctx context.Context, cfg *config.Config) int {
	ctx, cancel := context.WithTimeout(ctx, cfg.Runtime.Timeout)
	defer cancel()

	fmt.Fprintln(e.progress, "Resolving rules...")
	selected, err := e.Rules.Resolve(e.Selector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving rules: %v\n", err)
		return ExitCodeFatal
	}
	fmt.Fprintf(e.progress, "Selected %d rules.\n", len(selected))

	outMgr, err := setupOutputManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output sinks: %v\n", err)
		return ExitCodeFatal
	}
	_ = outMgr.Write(output.Event{Type: output.EventRunStarted, Rules: len(selected)})

	fmt.Fprintf(e.progress, "Running batch against %s...\n", e.Dataset.Table())
	batch, err := e.RunBatch(ctx, selected)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running batch: %v\n", err)
		return e.finish(cfg, outMgr, nil, ExitCodeFatal)
	}
	_ = outMgr.Write(output.Event{Type: output.EventBatchCommitted, BatchID: batch.ID, Rules: len(selected), Records: len(batch.Records)})
	fmt.Fprintf(e.progress, "Committed batch %s (%d records, %d errors).\n", batch.ID, len(batch.Records), len(batch.Errors))

	ev, err := e.Evaluate(ctx, batch.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error evaluating batch: %v\n", err)
		return e.finish(cfg, outMgr, nil, ExitCodeFatal)
	}
	writeEvaluation(outMgr, ev)
	return e.finish(cfg, outMgr, &ev, ExitCode(ev))
}

// RunEvaluate evaluates stored audit records without running rules: the
// batch named by cfg.SLA.Batch, or the latest record per rule.
func (e *Engine) RunEvaluate(ctx context.Context, cfg *config.Config) int {
	ctx, cancel := context.WithTimeout(ctx, cfg.Runtime.Timeout)
	defer cancel()

	outMgr, err := setupOutputManager(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output sinks: %v\n", err)
		return ExitCodeFatal
	}

	ev, err := e.Evaluate(ctx, cfg.SLA.Batch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error evaluating audit log: %v\n", err)
		return e.finish(cfg, outMgr, nil, ExitCodeFatal)
	}
	if len(ev.Verdicts) == 0 && len(ev.Errors) == 0 {
		fmt.Fprintln(e.progress, "Audit log is empty.")
	}
	writeEvaluation(outMgr, ev)
	return e.finish(cfg, outMgr, &ev, ExitCode(ev))
}
