package audit

import "database/sql"

const (
	TableCurrent    = "dq_audit_log"
	TableHistorical = "dq_audit_log_historical"
	TableErrors     = "dq_execution_errors"
)

// currentRow keeps the three-column shape downstream reporting reads.
type currentRow struct {
	CheckName      string `gorm:"column:check_name;type:text;not null"`
	FailedRows     int64  `gorm:"column:failed_rows;not null"`
	CheckTimestamp string `gorm:"column:check_timestamp;type:text;not null"`
}

func (currentRow) TableName() string { return TableCurrent }

type historicalRow struct {
	ID             int64           `gorm:"column:id;primaryKey;autoIncrement"`
	BatchID        string          `gorm:"column:batch_id;type:text;not null;index"`
	CheckName      string          `gorm:"column:check_name;type:text;not null;index:idx_dq_hist_check_ts,priority:1"`
	FailedRows     int64           `gorm:"column:failed_rows;not null;check:chk_dq_hist_failed_rows,failed_rows >= 0"`
	TotalRows      sql.NullInt64   `gorm:"column:total_rows"`
	PctFailed      sql.NullFloat64 `gorm:"column:pct_failed"`
	CheckTimestamp string          `gorm:"column:check_timestamp;type:text;not null;index:idx_dq_hist_check_ts,priority:2"`
}

func (historicalRow) TableName() string { return TableHistorical }

func (h historicalRow) record() (Record, error) {
	ts, err := ParseTimestamp(h.CheckTimestamp)
	if err != nil {
		return Record{}, err
	}
	r := Record{
		ID:             h.ID,
		BatchID:        h.BatchID,
		CheckName:      h.CheckName,
		FailedRows:     h.FailedRows,
		CheckTimestamp: ts,
	}
	if h.TotalRows.Valid {
		r.TotalRows = h.TotalRows.Int64
	}
	if h.PctFailed.Valid {
		r.PctFailed = h.PctFailed.Float64
	}
	return r, nil
}

type errorRow struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement"`
	BatchID        string `gorm:"column:batch_id;type:text;not null;index"`
	CheckName      string `gorm:"column:check_name;type:text;not null"`
	Kind           string `gorm:"column:kind;type:text;not null"`
	Message        string `gorm:"column:message;type:text"`
	CheckTimestamp string `gorm:"column:check_timestamp;type:text;not null"`
}

func (errorRow) TableName() string { return TableErrors }
