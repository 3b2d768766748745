package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultTable is the relation rules are evaluated against.
const DefaultTable = "customers"

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

var (
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrInvalidTable      = errors.New("invalid table name")
)

var identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Snapshot is a read-only, point-in-time view of the dataset.
// Every query issued through one Snapshot observes the same data.
type Snapshot interface {
	// Table is the validated name of the relation under evaluation.
	Table() string
	// Count runs a single-value aggregate query and returns its result.
	Count(ctx context.Context, query string, args ...any) (int64, error)
	// TotalRows returns the cardinality of Table() within the snapshot.
	TotalRows(ctx context.Context) (int64, error)
}

// Serial is implemented by snapshots that run one query at a time. Callers
// gain nothing from evaluating rules concurrently against them.
type Serial interface {
	Serialized() bool
}

// DB is an opened dataset database.
type DB struct {
	Gorm    *gorm.DB
	Dialect string
	table   string
}

type Option func(*options)

type options struct {
	table   string
	verbose bool
}

// WithTable overrides the evaluated relation (default "customers").
func WithTable(name string) Option {
	return func(o *options) { o.table = name }
}

// WithQueryLog routes SQL statements to the default slog logger at debug level.
func WithQueryLog(enabled bool) Option {
	return func(o *options) { o.verbose = enabled }
}

// Open connects to the database named by dsn.
//
// Accepted forms:
//   - sqlite://path/to/file.db, file:..., or a bare path ending in .db/.sqlite
//   - postgres://... or postgresql://...
func Open(dsn string, opts ...Option) (*DB, error) {
	o := options{table: DefaultTable}
	for _, opt := range opts {
		opt(&o)
	}
	if !identRegex.MatchString(o.table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, o.table)
	}

	dialect, dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if o.verbose {
		gormCfg.Logger = logger.New(
			slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug),
			logger.Config{SlowThreshold: 2 * time.Second, LogLevel: logger.Info, IgnoreRecordNotFoundError: true},
		)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	return &DB{Gorm: db, Dialect: dialect, table: o.table}, nil
}

// Wrap adapts an existing gorm handle (tests, shared connections).
func Wrap(db *gorm.DB, table string) (*DB, error) {
	if db == nil {
		return nil, errors.New("gorm handle is nil")
	}
	if table == "" {
		table = DefaultTable
	}
	if !identRegex.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return &DB{Gorm: db, Dialect: db.Dialector.Name(), table: table}, nil
}

func dialectorFor(dsn string) (string, gorm.Dialector, error) {
	dsn = strings.TrimSpace(dsn)
	lower := strings.ToLower(dsn)
	switch {
	case dsn == "":
		return "", nil, fmt.Errorf("%w: empty DSN", ErrUnsupportedDriver)
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, postgres.Open(dsn), nil
	case strings.HasPrefix(lower, "sqlite://"):
		return DialectSQLite, sqlite.Open(sqlitePath(dsn[len("sqlite://"):])), nil
	case strings.HasPrefix(lower, "file:"), lower == ":memory:",
		strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return DialectSQLite, sqlite.Open(sqlitePath(dsn)), nil
	default:
		scheme, _, _ := strings.Cut(dsn, "://")
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, scheme)
	}
}

// sqlitePath adds a busy timeout so a reader and the audit writer sharing a
// file wait for each other instead of failing with SQLITE_BUSY.
func sqlitePath(p string) string {
	if strings.Contains(p, "_busy_timeout") {
		return p
	}
	if strings.Contains(p, "?") {
		return p + "&_busy_timeout=5000"
	}
	return p + "?_busy_timeout=5000"
}

func (d *DB) Table() string {
	return d.table
}

// Snapshot starts a read-only transaction. Callers must Release it.
// On Postgres the transaction runs at REPEATABLE READ so all rule queries see
// one snapshot; SQLite read transactions are snapshot-consistent already.
func (d *DB) Snapshot(ctx context.Context) (*TxSnapshot, error) {
	if d == nil || d.Gorm == nil {
		return nil, errors.New("dataset is not open")
	}
	var txOpts *sql.TxOptions
	if d.Dialect == DialectPostgres {
		txOpts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx := d.Gorm.WithContext(ctx).Begin(txOpts)
	if tx.Error != nil {
		return nil, fmt.Errorf("begin snapshot: %w", tx.Error)
	}
	return &TxSnapshot{tx: tx, table: d.table, savepoints: d.Dialect == DialectPostgres}, nil
}

func (d *DB) Close() error {
	if d == nil || d.Gorm == nil {
		return nil
	}
	sqlDB, err := d.Gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// TxSnapshot is a Snapshot backed by a database transaction. Queries are
// serialized because a transaction is bound to one connection.
type TxSnapshot struct {
	mu         sync.Mutex
	tx         *gorm.DB
	table      string
	savepoints bool
	seq        int
}

func (s *TxSnapshot) Table() string {
	return s.table
}

// Serialized reports true: the transaction is bound to one connection.
func (s *TxSnapshot) Serialized() bool {
	return true
}

func (s *TxSnapshot) Count(ctx context.Context, query string, args ...any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return 0, errors.New("snapshot released")
	}

	var n sql.NullInt64
	err := s.guard(func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Raw(query, args...).Scan(&n).Error
	})
	if err != nil {
		return 0, err
	}
	return n.Int64, nil
}

func (s *TxSnapshot) TotalRows(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return 0, errors.New("snapshot released")
	}

	var n int64
	err := s.guard(func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Table(s.table).Count(&n).Error
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// guard runs fn inside a savepoint on Postgres, where a failed statement
// otherwise aborts the whole transaction and every later rule with it.
func (s *TxSnapshot) guard(fn func(tx *gorm.DB) error) error {
	if !s.savepoints {
		return fn(s.tx)
	}
	s.seq++
	name := fmt.Sprintf("dq_rule_%d", s.seq)
	if err := s.tx.Session(&gorm.Session{}).SavePoint(name).Error; err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(s.tx); err != nil {
		if rbErr := s.tx.Session(&gorm.Session{}).RollbackTo(name).Error; rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		return err
	}
	return nil
}

// Release ends the read transaction. The snapshot never writes, so it is
// always rolled back.
func (s *TxSnapshot) Release() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback().Error
	s.tx = nil
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
