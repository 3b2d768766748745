// Package trend derives per-rule failure-percentage series from audit history.
package trend

import (
	"context"
	"dqaudit/internal/audit"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrNoTotal means a record has no recorded cardinality and no reference
// total was supplied to normalise it.
var ErrNoTotal = errors.New("total_rows unknown")

type Point struct {
	Timestamp  time.Time `json:"check_timestamp"`
	BatchID    string    `json:"batch_id,omitempty"`
	FailedRows int64     `json:"failed_rows"`
	TotalRows  int64     `json:"total_rows"`
	PctFailed  float64   `json:"pct_failed"`
	// Assumed is set when TotalRows came from the reference total rather
	// than from the batch itself.
	Assumed bool `json:"assumed_total,omitempty"`
}

type Series struct {
	CheckName string  `json:"check_name"`
	Points    []Point `json:"points"`
}

// Project converts a rule's history into (timestamp, pct_failed) points in
// ascending time order. Each point is normalised by the total_rows recorded
// with its batch. referenceTotal is used only for records that carry no
// total, which assumes the dataset cardinality did not change; pass 0 to
// forbid that assumption.
func Project(history []audit.Record, referenceTotal int64) ([]Point, error) {
	sorted := make([]audit.Record, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CheckTimestamp.Equal(sorted[j].CheckTimestamp) {
			return sorted[i].CheckTimestamp.Before(sorted[j].CheckTimestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})

	points := make([]Point, 0, len(sorted))
	for _, r := range sorted {
		p := Point{Timestamp: r.CheckTimestamp, BatchID: r.BatchID, FailedRows: r.FailedRows, TotalRows: r.TotalRows}
		if !r.HasTotal() {
			if referenceTotal <= 0 {
				return nil, fmt.Errorf("%w: %s at %s", ErrNoTotal, r.CheckName, audit.FormatTimestamp(r.CheckTimestamp))
			}
			p.TotalRows, p.Assumed = referenceTotal, true
		}
		p.PctFailed = float64(p.FailedRows) / float64(p.TotalRows)
		points = append(points, p)
	}
	return points, nil
}

// HistorySource is the read side of the audit log the projector needs.
type HistorySource interface {
	CheckNames(ctx context.Context) ([]string, error)
	History(ctx context.Context, checkName string) ([]audit.Record, error)
}

// ProjectAll returns one series per rule in the audit log, sorted by name.
func ProjectAll(ctx context.Context, src HistorySource, referenceTotal int64) ([]Series, error) {
	names, err := src.CheckNames(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Series, 0, len(names))
	for _, name := range names {
		s, err := ProjectRule(ctx, src, name, referenceTotal)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func ProjectRule(ctx context.Context, src HistorySource, name string, referenceTotal int64) (Series, error) {
	hist, err := src.History(ctx, name)
	if err != nil {
		return Series{}, err
	}
	points, err := Project(hist, referenceTotal)
	if err != nil {
		return Series{}, err
	}
	return Series{CheckName: name, Points: points}, nil
}
