package audit

import "time"

// TimestampLayout is the text form of check_timestamp. It is fixed width and
// always UTC, so ordering the column lexically orders it in time.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp reads a check_timestamp column. Legacy rows written with
// SQLite's CURRENT_TIMESTAMP ("2006-01-02 15:04:05") are accepted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{TimestampLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &time.ParseError{Layout: TimestampLayout, Value: s}
}

// Record is one rule's result in one batch. TotalRows is zero when the
// cardinality was not recorded; PctFailed is only meaningful when it was.
type Record struct {
	ID             int64     `json:"id,omitempty"`
	BatchID        string    `json:"batch_id"`
	CheckName      string    `json:"check_name"`
	FailedRows     int64     `json:"failed_rows"`
	TotalRows      int64     `json:"total_rows,omitempty"`
	PctFailed      float64   `json:"pct_failed,omitempty"`
	CheckTimestamp time.Time `json:"check_timestamp"`
}

// HasTotal reports whether the record carries the dataset cardinality.
func (r Record) HasTotal() bool {
	return r.TotalRows > 0
}

// RuleError is the audit outcome of a rule that could not be evaluated.
type RuleError struct {
	CheckName string `json:"check_name"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
}

func (e RuleError) Error() string {
	return e.CheckName + ": " + e.Kind + ": " + e.Message
}

// Batch is one execution of a rule set. Every record and error shares the
// batch id and timestamp.
type Batch struct {
	ID        string      `json:"batch_id"`
	Timestamp time.Time   `json:"check_timestamp"`
	TotalRows int64       `json:"total_rows"`
	Records   []Record    `json:"records"`
	Errors    []RuleError `json:"errors,omitempty"`
}

// BatchInfo summarises a stored batch.
type BatchInfo struct {
	ID        string    `json:"batch_id"`
	Timestamp time.Time `json:"check_timestamp"`
	Records   int       `json:"records"`
	Errors    int       `json:"errors"`
}
