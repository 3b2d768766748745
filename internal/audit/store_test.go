package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	s := NewStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s, db
}

func batch(id string, ts time.Time, total int64, counts map[string]int64) Batch {
	b := Batch{ID: id, Timestamp: ts, TotalRows: total}
	for _, name := range []string{"duplicate_email", "missing_email", "missing_phone"} {
		if n, ok := counts[name]; ok {
			b.Records = append(b.Records, Record{BatchID: id, CheckName: name, FailedRows: n, CheckTimestamp: ts})
		}
	}
	return b
}

func TestAppend_WritesAllTables(t *testing.T) {
	s, db := newStore(t)
	ctx := context.Background()

	b := batch("b1", t0, 5000, map[string]int64{"missing_email": 200, "duplicate_email": 12})
	b.Errors = []RuleError{{CheckName: "broken", Kind: "schema_drift", Message: "no such column: x"}}
	require.NoError(t, s.Append(ctx, b))

	var current []currentRow
	require.NoError(t, db.Order("check_name").Find(&current).Error)
	require.Len(t, current, 2)
	assert.Equal(t, "duplicate_email", current[0].CheckName)
	assert.Equal(t, "2025-03-01T09:00:00.000000Z", current[0].CheckTimestamp)

	hist, err := s.History(ctx, "missing_email")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "b1", hist[0].BatchID)
	assert.EqualValues(t, 5000, hist[0].TotalRows)
	assert.InDelta(t, 0.04, hist[0].PctFailed, 1e-9)
	assert.True(t, hist[0].CheckTimestamp.Equal(t0))

	errs, err := s.Errors(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []RuleError{{CheckName: "broken", Kind: "schema_drift", Message: "no such column: x"}}, errs)

	latest, err := s.LatestPerRule(ctx)
	require.NoError(t, err)
	assert.Len(t, latest, 2)
	assert.NotContains(t, latest, "broken")
}

func TestAppend_RejectsInvalidBatches(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		b    Batch
	}{
		{name: "empty", b: Batch{ID: "x", Timestamp: t0}},
		{name: "no id", b: batch("", t0, 10, map[string]int64{"missing_email": 1})},
		{name: "zero timestamp", b: batch("x", time.Time{}, 10, map[string]int64{"missing_email": 1})},
		{name: "negative count", b: batch("x", t0, 10, map[string]int64{"missing_email": -1})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Append(ctx, tt.b)
			require.ErrorIs(t, err, ErrAppendFailed)
		})
	}
	_, err := s.LatestPerRule(ctx)
	require.NoError(t, err)
	all, err := s.HistoryAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestHistory_IsAppendOnlyPrefix(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	previous := []Record{}
	for i, n := range []int64{480, 510, 600} {
		b := batch(string(rune('a'+i)), t0.Add(time.Duration(i)*time.Hour), 5000, map[string]int64{"missing_phone": n})
		require.NoError(t, s.Append(ctx, b))

		current, err := s.History(ctx, "missing_phone")
		require.NoError(t, err)
		require.Len(t, current, i+1)
		assert.Equal(t, previous, current[:len(previous)], "earlier history must be a prefix")
		previous = current
	}

	assert.Equal(t, []int64{480, 510, 600}, []int64{previous[0].FailedRows, previous[1].FailedRows, previous[2].FailedRows})
}

func TestHistory_OrderedByTimestampNotInsertion(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	// Backfilled batch appended after a newer one.
	require.NoError(t, s.Append(ctx, batch("new", t0.Add(time.Hour), 100, map[string]int64{"missing_email": 2})))
	require.NoError(t, s.Append(ctx, batch("old", t0, 100, map[string]int64{"missing_email": 1})))

	hist, err := s.History(ctx, "missing_email")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "old", hist[0].BatchID)
	assert.Equal(t, "new", hist[1].BatchID)

	latest, err := s.LatestPerRule(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", latest["missing_email"].BatchID)

	empty, err := s.History(ctx, "no_such_rule")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLatestPerRule_SelectsMaxTimestamp(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, batch("b1", t0, 100, map[string]int64{"missing_email": 1, "missing_phone": 5})))
	require.NoError(t, s.Append(ctx, batch("b2", t0.Add(2*time.Hour), 100, map[string]int64{"missing_email": 3})))
	require.NoError(t, s.Append(ctx, batch("b3", t0.Add(time.Hour), 100, map[string]int64{"missing_phone": 7})))

	latest, err := s.LatestPerRule(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 2)

	for name, rec := range latest {
		hist, err := s.History(ctx, name)
		require.NoError(t, err)
		for _, h := range hist {
			assert.False(t, h.CheckTimestamp.After(rec.CheckTimestamp), "%s: %v newer than latest %v", name, h.CheckTimestamp, rec.CheckTimestamp)
		}
	}
	assert.EqualValues(t, 3, latest["missing_email"].FailedRows)
	assert.EqualValues(t, 7, latest["missing_phone"].FailedRows)
}

func TestLatestPerRule_TieBreaksByInsertionOrder(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, batch("first", t0, 100, map[string]int64{"missing_email": 1})))
	require.NoError(t, s.Append(ctx, batch("second", t0, 100, map[string]int64{"missing_email": 9})))

	latest, err := s.LatestPerRule(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", latest["missing_email"].BatchID)
	assert.EqualValues(t, 9, latest["missing_email"].FailedRows)
}

func TestAppend_IsAtomic(t *testing.T) {
	s, db := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, batch("before", t0, 100, map[string]int64{"missing_email": 1, "missing_phone": 2})))

	fail := true
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:interrupt", func(tx *gorm.DB) {
		if fail && tx.Statement.Table == TableHistorical {
			tx.AddError(errors.New("disk I/O error"))
		}
	}))

	err := s.Append(ctx, batch("interrupted", t0.Add(time.Hour), 100, map[string]int64{"missing_email": 50, "missing_phone": 60}))
	require.ErrorIs(t, err, ErrAppendFailed)
	assert.Contains(t, err.Error(), "disk I/O error")

	latest, err := s.LatestPerRule(ctx)
	require.NoError(t, err)
	for name, rec := range latest {
		assert.Equal(t, "before", rec.BatchID, name)
	}

	var n int64
	require.NoError(t, db.Model(&currentRow{}).Count(&n).Error)
	assert.EqualValues(t, 2, n, "current-run rows of the interrupted batch must roll back")

	fail = false
	require.NoError(t, s.Append(ctx, batch("retry", t0.Add(time.Hour), 100, map[string]int64{"missing_email": 50, "missing_phone": 60})))
	latest, err = s.LatestPerRule(ctx)
	require.NoError(t, err)
	for name, rec := range latest {
		assert.Equal(t, "retry", rec.BatchID, name)
	}
}

func TestBatchesAndBatchRecords(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, batch("b1", t0, 100, map[string]int64{"missing_email": 1, "missing_phone": 2})))
	require.NoError(t, s.Append(ctx, batch("b2", t0.Add(time.Hour), 100, map[string]int64{"missing_email": 4})))

	batches, err := s.Batches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "b2", batches[0].ID)
	assert.Equal(t, 1, batches[0].Records)
	assert.Equal(t, "b1", batches[1].ID)
	assert.Equal(t, 2, batches[1].Records)

	limited, err := s.Batches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	recs, err := s.BatchRecords(ctx, "b1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, recs["missing_phone"].FailedRows)

	_, err = s.BatchRecords(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)

	names, err := s.CheckNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"missing_email", "missing_phone"}, names)
}

func TestBatches_IncludesErrorOnlyBatches(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, batch("ok", t0, 100, map[string]int64{"missing_email": 1})))
	drift := Batch{ID: "drift", Timestamp: t0.Add(time.Hour), TotalRows: 100, Errors: []RuleError{
		{CheckName: "missing_email", Kind: "schema_drift", Message: "no such column: email"},
		{CheckName: "missing_phone", Kind: "schema_drift", Message: "no such column: phone_number"},
	}}
	require.NoError(t, s.Append(ctx, drift))

	batches, err := s.Batches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "drift", batches[0].ID)
	assert.Equal(t, 0, batches[0].Records)
	assert.Equal(t, 2, batches[0].Errors)
	assert.True(t, batches[0].Timestamp.Equal(t0.Add(time.Hour)))
	assert.Equal(t, "ok", batches[1].ID)
	assert.Equal(t, 1, batches[1].Records)
	assert.Equal(t, 0, batches[1].Errors)

	latest, ok, err := s.LatestBatch(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "drift", latest.ID)

	recs, err := s.BatchRecords(ctx, "drift")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestLatestBatch_EmptyLog(t *testing.T) {
	s, _ := newStore(t)
	_, ok, err := s.LatestBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrate_NormalizesLegacyTimestamps(t *testing.T) {
	s, db := newStore(t)
	ctx := context.Background()

	// A legacy row late in the day and a current-layout row earlier that day.
	require.NoError(t, s.Append(ctx, batch("morning", t0, 100, map[string]int64{"missing_email": 1})))
	require.NoError(t, db.Create(&historicalRow{BatchID: "legacy", CheckName: "missing_email", FailedRows: 9, CheckTimestamp: "2025-03-01 23:00:00"}).Error)
	require.NoError(t, db.Create(&currentRow{CheckName: "missing_email", FailedRows: 9, CheckTimestamp: "2025-03-01 23:00:00"}).Error)

	require.NoError(t, s.Migrate(ctx))

	latest, err := s.LatestPerRule(ctx)
	require.NoError(t, err)
	assert.Equal(t, "legacy", latest["missing_email"].BatchID)

	hist, err := s.History(ctx, "missing_email")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "morning", hist[0].BatchID)
	assert.Equal(t, "legacy", hist[1].BatchID)

	var stamps []string
	require.NoError(t, db.Model(&currentRow{}).Order("check_timestamp").Pluck("check_timestamp", &stamps).Error)
	assert.Equal(t, []string{"2025-03-01T09:00:00.000000Z", "2025-03-01T23:00:00.000000Z"}, stamps)
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2025-03-01 09:00:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(t0))

	got, err = ParseTimestamp(FormatTimestamp(t0.In(time.FixedZone("X", 3600))))
	require.NoError(t, err)
	assert.True(t, got.Equal(t0))

	_, err = ParseTimestamp("yesterday")
	require.Error(t, err)
}
