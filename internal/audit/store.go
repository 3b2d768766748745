package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrAppendFailed means a batch was not committed. Nothing of it is visible.
	ErrAppendFailed = errors.New("audit append failed")
	ErrEmptyBatch   = errors.New("audit batch is empty")
	ErrNotFound     = errors.New("audit batch not found")
)

// Store is the append-only audit log. It offers no update or delete; a
// correction is a new batch.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the audit tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&currentRow{}, &historicalRow{}, &errorRow{}); err != nil {
		return fmt.Errorf("migrate audit tables: %w", err)
	}
	return s.normalizeTimestamps(ctx)
}

// normalizeTimestamps rewrites check_timestamp values that are not in
// TimestampLayout (rows written with SQLite's CURRENT_TIMESTAMP). Ordering
// compares the text, so every row must share the layout.
func (s *Store) normalizeTimestamps(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{TableCurrent, TableHistorical, TableErrors} {
			var legacy []string
			err := tx.Table(table).
				Where("check_timestamp NOT LIKE ?", "____-__-__T__:__:__.______Z").
				Distinct("check_timestamp").
				Pluck("check_timestamp", &legacy).Error
			if err != nil {
				return fmt.Errorf("scan %s timestamps: %w", table, err)
			}
			for _, old := range legacy {
				ts, err := ParseTimestamp(old)
				if err != nil {
					return fmt.Errorf("%s: %w", table, err)
				}
				err = tx.Table(table).
					Where("check_timestamp = ?", old).
					Update("check_timestamp", FormatTimestamp(ts)).Error
				if err != nil {
					return fmt.Errorf("normalize %s timestamps: %w", table, err)
				}
			}
		}
		return nil
	})
}

// Append commits every record and rule error of b in one transaction. On any
// failure the transaction is rolled back and the returned error wraps
// ErrAppendFailed.
func (s *Store) Append(ctx context.Context, b Batch) error {
	if len(b.Records) == 0 && len(b.Errors) == 0 {
		return fmt.Errorf("%w: %w", ErrAppendFailed, ErrEmptyBatch)
	}
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("%w: batch id is empty", ErrAppendFailed)
	}
	if b.Timestamp.IsZero() {
		return fmt.Errorf("%w: batch timestamp is zero", ErrAppendFailed)
	}

	ts := FormatTimestamp(b.Timestamp)
	current := make([]currentRow, 0, len(b.Records))
	hist := make([]historicalRow, 0, len(b.Records))
	for _, r := range b.Records {
		if r.FailedRows < 0 {
			return fmt.Errorf("%w: %s: negative failed_rows %d", ErrAppendFailed, r.CheckName, r.FailedRows)
		}
		current = append(current, currentRow{CheckName: r.CheckName, FailedRows: r.FailedRows, CheckTimestamp: ts})

		h := historicalRow{BatchID: b.ID, CheckName: r.CheckName, FailedRows: r.FailedRows, CheckTimestamp: ts}
		total := r.TotalRows
		if total == 0 {
			total = b.TotalRows
		}
		if total > 0 {
			h.TotalRows = sql.NullInt64{Int64: total, Valid: true}
			h.PctFailed = sql.NullFloat64{Float64: float64(r.FailedRows) / float64(total), Valid: true}
		}
		hist = append(hist, h)
	}
	errs := make([]errorRow, 0, len(b.Errors))
	for _, e := range b.Errors {
		errs = append(errs, errorRow{BatchID: b.ID, CheckName: e.CheckName, Kind: e.Kind, Message: e.Message, CheckTimestamp: ts})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(current) > 0 {
			if err := tx.Create(&current).Error; err != nil {
				return fmt.Errorf("insert %s: %w", TableCurrent, err)
			}
		}
		if len(hist) > 0 {
			if err := tx.Create(&hist).Error; err != nil {
				return fmt.Errorf("insert %s: %w", TableHistorical, err)
			}
		}
		if len(errs) > 0 {
			if err := tx.Create(&errs).Error; err != nil {
				return fmt.Errorf("insert %s: %w", TableErrors, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: batch %s: %w", ErrAppendFailed, b.ID, err)
	}
	return nil
}

// LatestPerRule returns, per rule, the record with the greatest
// check_timestamp. Records sharing a timestamp are ordered by insertion: the
// highest id wins.
func (s *Store) LatestPerRule(ctx context.Context) (map[string]Record, error) {
	var rows []historicalRow
	err := s.db.WithContext(ctx).Raw(`SELECT h.* FROM ` + TableHistorical + ` h
WHERE h.id = (
	SELECT h2.id FROM ` + TableHistorical + ` h2
	WHERE h2.check_name = h.check_name
	ORDER BY h2.check_timestamp DESC, h2.id DESC
	LIMIT 1
)`).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query latest per rule: %w", err)
	}
	return toMap(rows)
}

// BatchRecords returns the records of one batch keyed by rule name.
func (s *Store) BatchRecords(ctx context.Context, batchID string) (map[string]Record, error) {
	var rows []historicalRow
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query batch %s: %w", batchID, err)
	}
	if len(rows) == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&errorRow{}).Where("batch_id = ?", batchID).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("query batch %s: %w", batchID, err)
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, batchID)
		}
	}
	return toMap(rows)
}

func toMap(rows []historicalRow) (map[string]Record, error) {
	out := make(map[string]Record, len(rows))
	for _, row := range rows {
		r, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", row.ID, err)
		}
		out[r.CheckName] = r
	}
	return out, nil
}

// History returns every record of one rule, ascending by check_timestamp
// then id. An unknown rule yields an empty slice.
func (s *Store) History(ctx context.Context, checkName string) ([]Record, error) {
	return s.history(s.db.WithContext(ctx).Where("check_name = ?", checkName))
}

// HistoryAll returns the whole historical table in the same order.
func (s *Store) HistoryAll(ctx context.Context) ([]Record, error) {
	return s.history(s.db.WithContext(ctx))
}

func (s *Store) history(q *gorm.DB) ([]Record, error) {
	var rows []historicalRow
	if err := q.Order("check_timestamp ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		r, err := row.record()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", row.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// CheckNames lists every rule with at least one record, sorted.
func (s *Store) CheckNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&historicalRow{}).
		Distinct("check_name").
		Order("check_name ASC").
		Pluck("check_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("query check names: %w", err)
	}
	return names, nil
}

// Batches lists the most recent batches first, including batches in which
// every rule errored. limit <= 0 means all.
func (s *Store) Batches(ctx context.Context, limit int) ([]BatchInfo, error) {
	type batchRow struct {
		BatchID        string
		CheckTimestamp string
		Records        int
		Errors         int
	}
	query := `SELECT batch_id, MIN(check_timestamp) AS check_timestamp,
	SUM(is_record) AS records, SUM(is_error) AS errors
FROM (
	SELECT batch_id, check_timestamp, 1 AS is_record, 0 AS is_error FROM ` + TableHistorical + `
	UNION ALL
	SELECT batch_id, check_timestamp, 0 AS is_record, 1 AS is_error FROM ` + TableErrors + `
) AS outcomes
GROUP BY batch_id
ORDER BY MIN(check_timestamp) DESC, batch_id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []batchRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	out := make([]BatchInfo, 0, len(rows))
	for _, row := range rows {
		ts, err := ParseTimestamp(row.CheckTimestamp)
		if err != nil {
			return nil, fmt.Errorf("batch %s: %w", row.BatchID, err)
		}
		out = append(out, BatchInfo{ID: row.BatchID, Timestamp: ts, Records: row.Records, Errors: row.Errors})
	}
	return out, nil
}

// LatestBatch returns the most recent batch, or ok false for an empty log.
func (s *Store) LatestBatch(ctx context.Context) (BatchInfo, bool, error) {
	list, err := s.Batches(ctx, 1)
	if err != nil || len(list) == 0 {
		return BatchInfo{}, false, err
	}
	return list[0], true, nil
}

// Errors returns the rule errors recorded for a batch in insertion order.
func (s *Store) Errors(ctx context.Context, batchID string) ([]RuleError, error) {
	var rows []errorRow
	err := s.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query errors for batch %s: %w", batchID, err)
	}
	out := make([]RuleError, 0, len(rows))
	for _, row := range rows {
		out = append(out, RuleError{CheckName: row.CheckName, Kind: row.Kind, Message: row.Message})
	}
	return out, nil
}
