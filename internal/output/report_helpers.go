package output

import (
	"dqaudit/internal/sla"
	"fmt"
	"strings"
)

type severityGroup struct {
	Severity sla.Severity
	Verdicts []sla.Verdict
}

// groupBySeverity expects verdicts already sorted by severity.
func groupBySeverity(vs []sla.Verdict) []severityGroup {
	var out []severityGroup
	for _, v := range vs {
		if n := len(out); n > 0 && out[n-1].Severity == v.Severity {
			out[n-1].Verdicts = append(out[n-1].Verdicts, v)
			continue
		}
		out = append(out, severityGroup{Severity: v.Severity, Verdicts: []sla.Verdict{v}})
	}
	return out
}

func filterStatus(vs []sla.Verdict, status sla.Status) []sla.Verdict {
	var out []sla.Verdict
	for _, v := range vs {
		if v.Status == status {
			out = append(out, v)
		}
	}
	return out
}

func formatMax(v sla.Verdict) string {
	switch {
	case v.MaxFailedRows != nil && v.MaxFailedPct != nil:
		return fmt.Sprintf("%d (%s)", *v.MaxFailedRows, formatPct(*v.MaxFailedPct))
	case v.MaxFailedRows != nil:
		return fmt.Sprintf("%d", *v.MaxFailedRows)
	case v.MaxFailedPct != nil:
		return formatPct(*v.MaxFailedPct)
	default:
		return "-"
	}
}

func exitCodeMeaning(code int) string {
	switch code {
	case 0:
		return "all rules within SLA"
	case 1:
		return "SLA breached or unknown"
	case 2:
		return "partial run, rules errored"
	case 3:
		return "run not completed"
	default:
		return "unexpected"
	}
}

// mdCell keeps a value on one Markdown table row.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
