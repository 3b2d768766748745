package output

import (
	"dqaudit/internal/audit"
	"dqaudit/internal/sla"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

// SLAColumns is the header of the SLA evaluation export.
var SLAColumns = []string{"check_name", "failed_rows", "max_failed_rows", "severity", "sla_status", "check_timestamp"}

// CSVSink writes the SLA evaluation export: a full snapshot of the verdict
// set, overwritten on every run.
type CSVSink struct {
	file     *os.File
	mu       sync.Mutex
	verdicts []sla.Verdict
}

func NewCSVSink(path string) (*CSVSink, error) {
	if path == "" {
		return nil, fmt.Errorf("csv path required")
	}
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	return &CSVSink{file: f}, nil
}

func (s *CSVSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := v.(sla.Verdict); ok {
		s.verdicts = append(s.verdicts, r)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := WriteVerdictsCSV(s.file, s.verdicts)
	if closeErr := s.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func WriteVerdictsCSV(w io.Writer, verdicts []sla.Verdict) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SLAColumns); err != nil {
		return err
	}
	for _, v := range verdicts {
		maxRows := ""
		if v.MaxFailedRows != nil {
			maxRows = strconv.FormatInt(*v.MaxFailedRows, 10)
		}
		row := []string{
			v.CheckName,
			strconv.FormatInt(v.FailedRows, 10),
			maxRows,
			v.Severity.String(),
			string(v.Status),
			audit.FormatTimestamp(v.CheckTimestamp),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// HistoryColumns is the header of the historical audit export.
var HistoryColumns = []string{"id", "batch_id", "check_name", "failed_rows", "total_rows", "pct_failed", "check_timestamp"}

// WriteHistoryCSV writes audit records in the historical table's layout.
// Unknown totals are written as empty cells.
func WriteHistoryCSV(w io.Writer, records []audit.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(HistoryColumns); err != nil {
		return err
	}
	for _, r := range records {
		total, pct := "", ""
		if r.HasTotal() {
			total = strconv.FormatInt(r.TotalRows, 10)
			pct = strconv.FormatFloat(r.PctFailed, 'f', -1, 64)
		}
		row := []string{
			strconv.FormatInt(r.ID, 10),
			r.BatchID,
			r.CheckName,
			strconv.FormatInt(r.FailedRows, 10),
			total,
			pct,
			audit.FormatTimestamp(r.CheckTimestamp),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
