package output

import (
	"dqaudit/internal/audit"
	"dqaudit/internal/sla"
)

// Lifecycle event types for NDJSON streaming output.
const (
	EventRunStarted     = "run.started"
	EventRuleError      = "rule.error"
	EventBatchCommitted = "batch.committed"
	EventVerdict        = "sla.verdict"
	EventRunFinished    = "run.finished"
)

// Event is a lifecycle record for NDJSON streaming output.
//
// In NDJSON mode, sinks emit Events (one JSON object per line):
// run.started, rule.error, batch.committed, sla.verdict, run.finished.
//
// JSON mode remains an aggregate of sla.Verdict values.
type Event struct {
	Type    string `json:"type"`
	BatchID string `json:"batch_id,omitempty"`
	*sla.Verdict
	Error    *audit.RuleError `json:"error,omitempty"`
	Summary  *sla.Summary     `json:"summary,omitempty"`
	Rules    int              `json:"rules,omitempty"`
	Records  int              `json:"records,omitempty"`
	ExitCode int              `json:"exit_code,omitempty"`
}

func eventFromVerdict(v sla.Verdict) Event {
	return Event{Type: EventVerdict, Verdict: &v}
}

func eventFromRuleError(e audit.RuleError) Event {
	return Event{Type: EventRuleError, Error: &e}
}

// asEvent converts the values sinks accept into their streaming form.
func asEvent(v any) (Event, bool) {
	switch t := v.(type) {
	case Event:
		return t, true
	case sla.Verdict:
		return eventFromVerdict(t), true
	case audit.RuleError:
		return eventFromRuleError(t), true
	default:
		return Event{}, false
	}
}
