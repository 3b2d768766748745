package sla

import (
	"dqaudit/internal/audit"
	"math"
	"sort"
	"time"
)

type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusUnknown Status = "UNKNOWN"
)

// Verdict is the computed outcome of one audit record against its threshold.
// It is never persisted as a source of truth.
type Verdict struct {
	CheckName      string    `json:"check_name"`
	FailedRows     int64     `json:"failed_rows"`
	TotalRows      int64     `json:"total_rows,omitempty"`
	MaxFailedRows  *int64    `json:"max_failed_rows"`
	MaxFailedPct   *float64  `json:"max_failed_pct,omitempty"`
	Severity       Severity  `json:"severity"`
	Status         Status    `json:"sla_status"`
	CheckTimestamp time.Time `json:"check_timestamp"`
	Defaulted      bool      `json:"defaulted,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

const (
	reasonUnconfigured = "no threshold configured"
	reasonZeroDefault  = "no threshold configured; zero tolerance applied"
	reasonNoTotal      = "fraction threshold needs total_rows, which was not recorded"
)

// Evaluate joins records against reg and returns exactly one verdict per
// record, ordered by severity descending then check name. It has no side
// effects; equal inputs give equal output.
func Evaluate(records map[string]audit.Record, reg *Registry) []Verdict {
	out := make([]Verdict, 0, len(records))
	for _, rec := range records {
		out = append(out, evaluateOne(rec, reg))
	}
	SortVerdicts(out)
	return out
}

func evaluateOne(rec audit.Record, reg *Registry) Verdict {
	v := Verdict{
		CheckName:      rec.CheckName,
		FailedRows:     rec.FailedRows,
		TotalRows:      rec.TotalRows,
		CheckTimestamp: rec.CheckTimestamp,
	}

	t, ok := reg.Lookup(rec.CheckName)
	if !ok {
		if reg.Policy() != PolicyZeroTolerance {
			v.Status, v.Severity, v.Reason = StatusUnknown, SeverityUnknown, reasonUnconfigured
			return v
		}
		t = Threshold{CheckName: rec.CheckName, Kind: KindRows, Severity: reg.DefaultSeverity()}
		v.Defaulted, v.Reason = true, reasonZeroDefault
	}
	v.Severity = t.Severity

	var max int64
	switch t.Kind {
	case KindFraction:
		frac := t.MaxFailedFraction
		v.MaxFailedPct = &frac
		if !rec.HasTotal() {
			v.Status, v.Reason = StatusUnknown, reasonNoTotal
			return v
		}
		// failed/total > frac is equivalent to failed > floor(frac*total).
		max = int64(math.Floor(frac*float64(rec.TotalRows) + 1e-9))
	default:
		max = t.MaxFailedRows
	}
	v.MaxFailedRows = &max

	if rec.FailedRows > max {
		v.Status = StatusFail
	} else {
		v.Status = StatusPass
	}
	return v
}

// SortVerdicts orders verdicts by severity descending, then check name.
func SortVerdicts(vs []Verdict) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Severity != vs[j].Severity {
			return vs[i].Severity > vs[j].Severity
		}
		return vs[i].CheckName < vs[j].CheckName
	})
}

// Summary is the run outcome reported to users.
type Summary struct {
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Unknown  int `json:"unknown"`
	Erroring int `json:"erroring"`
}

// Summarize counts verdicts by status and rule errors by distinct rule.
func Summarize(verdicts []Verdict, errs []audit.RuleError) Summary {
	var s Summary
	for _, v := range verdicts {
		switch v.Status {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		default:
			s.Unknown++
		}
	}
	seen := make(map[string]struct{}, len(errs))
	for _, e := range errs {
		if _, dup := seen[e.CheckName]; dup {
			continue
		}
		seen[e.CheckName] = struct{}{}
		s.Erroring++
	}
	return s
}

// Clean reports whether every verdict passed and nothing errored.
func (s Summary) Clean() bool {
	return s.Failed == 0 && s.Unknown == 0 && s.Erroring == 0
}
