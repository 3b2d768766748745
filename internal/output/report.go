package output

import (
	"dqaudit/internal/audit"
	"dqaudit/internal/sla"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ReportSink renders a Markdown run report on Close.
type ReportSink struct {
	path         string
	file         *os.File
	mu           sync.Mutex
	verdicts     []sla.Verdict
	errors       []audit.RuleError
	batchID      string
	summary      *sla.Summary
	exitCode     int
	haveExitCode bool
}

func NewReportSink(path string) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}

	f, err := createFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}

	return &ReportSink{path: path, file: f}, nil
}

func (s *ReportSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch t := v.(type) {
	case sla.Verdict:
		s.verdicts = append(s.verdicts, t)
	case audit.RuleError:
		s.errors = append(s.errors, t)
	case Event:
		if t.BatchID != "" {
			s.batchID = t.BatchID
		}
		if t.Type == EventRunFinished {
			s.exitCode = t.ExitCode
			s.haveExitCode = true
			if t.Summary != nil {
				sum := *t.Summary
				s.summary = &sum
			}
		}
	}
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.file.WriteString(s.render())
	if closeErr := s.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (s *ReportSink) render() string {
	verdicts := make([]sla.Verdict, len(s.verdicts))
	copy(verdicts, s.verdicts)
	sla.SortVerdicts(verdicts)

	summary := sla.Summarize(verdicts, s.errors)
	if s.summary != nil {
		summary = *s.summary
	}

	var b strings.Builder
	b.WriteString("# Data Quality Run Report\n\n")

	if s.batchID != "" {
		fmt.Fprintf(&b, "- **Batch:** `%s`\n", s.batchID)
	}
	if ts := latestTimestamp(verdicts); !ts.IsZero() {
		fmt.Fprintf(&b, "- **Checked at:** %s\n", audit.FormatTimestamp(ts))
	}
	if s.haveExitCode {
		fmt.Fprintf(&b, "- **Exit code:** %d (%s)\n", s.exitCode, exitCodeMeaning(s.exitCode))
	}
	b.WriteString("\n")

	b.WriteString("## Summary\n\n")
	b.WriteString("| Passed | Failed | Unknown | Erroring |\n")
	b.WriteString("| ---: | ---: | ---: | ---: |\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d |\n\n", summary.Passed, summary.Failed, summary.Unknown, summary.Erroring)

	b.WriteString("## SLA Breaches\n\n")
	breaches := filterStatus(verdicts, sla.StatusFail)
	if len(breaches) == 0 {
		b.WriteString("No rule exceeded its threshold.\n\n")
	} else {
		for _, group := range groupBySeverity(breaches) {
			fmt.Fprintf(&b, "**%s**\n", strings.ToUpper(group.Severity.String()))
			for _, v := range group.Verdicts {
				fmt.Fprintf(&b, "- `%s`: %d failed rows, tolerated %s\n", v.CheckName, v.FailedRows, formatMax(v))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Verdicts\n\n")
	if len(verdicts) == 0 {
		b.WriteString("No verdicts.\n\n")
	} else {
		b.WriteString("| Rule | Status | Severity | Failed rows | Max failed rows | Notes |\n")
		b.WriteString("| --- | --- | --- | ---: | ---: | --- |\n")
		for _, v := range verdicts {
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %s | %s |\n",
				mdCell(v.CheckName), v.Status, v.Severity, v.FailedRows, formatMax(v), mdCell(v.Reason))
		}
		b.WriteString("\n")
	}

	if unknown := filterStatus(verdicts, sla.StatusUnknown); len(unknown) > 0 {
		b.WriteString("## Unknown Verdicts\n\n")
		b.WriteString("These rules have no usable threshold. Add them to the thresholds file.\n\n")
		for _, v := range unknown {
			fmt.Fprintf(&b, "- `%s`: %s\n", v.CheckName, v.Reason)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Execution Errors\n\n")
	if len(s.errors) == 0 {
		b.WriteString("No rule errored.\n")
	} else {
		b.WriteString("| Rule | Kind | Message |\n")
		b.WriteString("| --- | --- | --- |\n")
		for _, e := range s.errors {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", mdCell(e.CheckName), e.Kind, mdCell(e.Message))
		}
	}
	return b.String()
}

func latestTimestamp(vs []sla.Verdict) time.Time {
	var ts time.Time
	for _, v := range vs {
		if v.CheckTimestamp.After(ts) {
			ts = v.CheckTimestamp
		}
	}
	return ts
}
