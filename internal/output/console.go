package output

import (
	"dqaudit/internal/audit"
	"dqaudit/internal/sla"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// StatusError is the console status of a rule that could not be evaluated.
const StatusError = "ERROR"

type ConsoleSink struct {
	writer          io.Writer
	format          string // "text", "json", "ndjson"
	mu              sync.Mutex
	verdicts        []sla.Verdict // For JSON array output
	allowedStatuses map[string]bool
}

func NewConsoleSink(w io.Writer, format string, filterStatuses []string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}

	s := &ConsoleSink{
		writer: w,
		format: format,
	}

	if len(filterStatuses) > 0 {
		s.allowedStatuses = make(map[string]bool)
		for _, st := range filterStatuses {
			s.allowedStatuses[strings.ToUpper(st)] = true
		}
	}

	return s
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(v)
}

func (s *ConsoleSink) allowed(v any) bool {
	if len(s.allowedStatuses) == 0 {
		return true
	}
	switch t := v.(type) {
	case sla.Verdict:
		return s.allowedStatuses[string(t.Status)]
	case audit.RuleError:
		return s.allowedStatuses[StatusError]
	}
	return true
}

func (s *ConsoleSink) writeLocked(v any) error {
	if !s.allowed(v) {
		return nil
	}

	switch s.format {
	case "json":
		r, ok := v.(sla.Verdict)
		if !ok {
			// Ignore non-verdict values in JSON console mode.
			return nil
		}
		s.verdicts = append(s.verdicts, r)
		return nil
	case "ndjson":
		e, ok := asEvent(v)
		if !ok {
			return nil
		}
		if err := json.NewEncoder(s.writer).Encode(e); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	case "text":
		var line string
		switch t := v.(type) {
		case sla.Verdict:
			line = formatVerdict(t)
		case audit.RuleError:
			line = fmt.Sprintf("[%s] %s: %s - %s", colorStatus(StatusError), t.CheckName, t.Kind, t.Message)
		case Event:
			if t.Type != EventRunFinished || t.Summary == nil {
				return nil
			}
			line = formatSummary(*t.Summary)
		default:
			return nil
		}
		if _, err := fmt.Fprintln(s.writer, line); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == "json" {
		encoder := json.NewEncoder(s.writer)
		encoder.SetIndent("", "  ")
		out := s.verdicts
		if out == nil {
			out = []sla.Verdict{}
		}
		if err := encoder.Encode(out); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	}
	if s.format != "text" && s.format != "ndjson" {
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
	return nil
}

func colorStatus(status string) string {
	switch status {
	case string(sla.StatusPass):
		return color.GreenString(status)
	case string(sla.StatusFail):
		return color.RedString(status)
	case StatusError:
		return color.MagentaString(status)
	default:
		return color.YellowString(status)
	}
}

func formatVerdict(v sla.Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %d failed rows", colorStatus(string(v.Status)), v.CheckName, v.FailedRows)
	if v.MaxFailedRows != nil {
		fmt.Fprintf(&b, " (max %d", *v.MaxFailedRows)
		if v.MaxFailedPct != nil {
			fmt.Fprintf(&b, " = %s of %d", formatPct(*v.MaxFailedPct), v.TotalRows)
		}
		fmt.Fprintf(&b, ", severity %s)", v.Severity)
	} else if v.Severity != sla.SeverityUnknown {
		fmt.Fprintf(&b, " (severity %s)", v.Severity)
	}
	if v.Reason != "" {
		fmt.Fprintf(&b, " - %s", v.Reason)
	}
	return b.String()
}

func formatSummary(s sla.Summary) string {
	return fmt.Sprintf("Summary: %d passed, %d failed, %d unknown, %d erroring", s.Passed, s.Failed, s.Unknown, s.Erroring)
}

func formatPct(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.4f", f*100), "0"), ".") + "%"
}
