// Package storage persists the fleet registry, counter samples, tray
// snapshots, refills and execution reports in SQLite or PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"printmaster/telemetry/common/config"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // Pure Go SQLite driver (no CGO required)
)

const schemaVersion = 1

// execer is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries holds every data operation. Store runs them on the pool, Session
// on a single dedicated connection.
type queries struct {
	ex      execer
	dialect Dialect
}

func (q *queries) query(s string) string {
	if q.dialect.Name() == "postgres" {
		return ConvertPlaceholders(s)
	}
	return s
}

func (q *queries) execContext(ctx context.Context, s string, args ...interface{}) (sql.Result, error) {
	return q.ex.ExecContext(ctx, q.query(s), args...)
}

func (q *queries) queryContext(ctx context.Context, s string, args ...interface{}) (*sql.Rows, error) {
	return q.ex.QueryContext(ctx, q.query(s), args...)
}

func (q *queries) queryRowContext(ctx context.Context, s string, args ...interface{}) *sql.Row {
	return q.ex.QueryRowContext(ctx, q.query(s), args...)
}

// Store is the persistence collaborator backed by a connection pool.
type Store struct {
	queries
	db   *sql.DB
	path string
}

// Session is a persistence handle owned by one worker task. It pins a
// single pooled connection until Close.
type Session struct {
	queries
	conn *sql.Conn
}

// NewStore opens the store selected by the database configuration.
func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	if cfg == nil {
		cfg = &config.DatabaseConfig{}
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch {
	case cfg.IsPostgres():
		return NewPostgresStore(cfg)
	case driver == "", driver == "sqlite", driver == "sqlite3", driver == "modernc":
		return NewSQLiteStore(cfg.BuildDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %q (supported: sqlite, postgres)", cfg.Driver)
	}
}

// NewSQLiteStore opens (creating if needed) a SQLite database file.
func NewSQLiteStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	memory := dbPath == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	connStr := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
	if !memory {
		connStr += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{queries: queries{ex: db, dialect: &SQLiteDialect{}}, db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	logDebug("Opened SQLite database", "path", dbPath)
	return store, nil
}

// NewPostgresStore connects to PostgreSQL through the pgx stdlib driver.
func NewPostgresStore(cfg *config.DatabaseConfig) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config required")
	}
	dsn := cfg.BuildDSN()
	if dsn == "" || dsn == ":memory:" {
		return nil, fmt.Errorf("invalid database configuration: postgres requires a DSN")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &Store{queries: queries{ex: db, dialect: &PostgresDialect{}}, db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize postgres schema: %w", err)
	}
	logInfo("Opened PostgreSQL database")
	return store, nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Path returns the SQLite file path (empty for PostgreSQL).
func (s *Store) Path() string {
	return s.path
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Session pins a dedicated connection for one worker task.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	return &Session{queries: queries{ex: conn, dialect: s.dialect}, conn: conn}, nil
}

// Close returns the connection to the pool.
func (s *Session) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Tx groups a task's writes so they land together or not at all.
type Tx struct {
	queries
	tx *sql.Tx
}

// Begin starts a transaction on the session's connection.
func (s *Session) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{queries: queries{ex: tx, dialect: s.dialect}, tx: tx}, nil
}

// Commit makes the transaction's writes visible.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback discards the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// initSchema creates tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w\n%s", err, stmt)
		}
	}
	var count int
	if err := s.queryRowContext(ctx, `SELECT COUNT(*) FROM schema_version WHERE version = ?`, schemaVersion).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if _, err := s.execContext(ctx, `INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`, schemaVersion, time.Now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

func schemaStatements(d Dialect) []string {
	id := d.AutoIncrement(true)
	ts := d.TimestampType()
	b := d.BoolType()
	txt := d.TextType()
	big := d.IntegerType(true)
	integer := d.IntegerType(false)

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS schema_version (
			version %s PRIMARY KEY,
			applied_at %s NOT NULL
		)`, integer, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS devices (
			id %[1]s,
			serial %[2]s NOT NULL DEFAULT '',
			ip %[2]s NOT NULL,
			model %[2]s NOT NULL DEFAULT '',
			profile %[2]s NOT NULL DEFAULT '',
			community %[2]s NOT NULL DEFAULT '',
			v3_username %[2]s NOT NULL DEFAULT '',
			v3_auth_protocol %[2]s NOT NULL DEFAULT '',
			v3_auth_password %[2]s NOT NULL DEFAULT '',
			v3_priv_protocol %[2]s NOT NULL DEFAULT '',
			v3_priv_password %[2]s NOT NULL DEFAULT '',
			v3_context %[2]s NOT NULL DEFAULT '',
			is_color %[3]s NOT NULL DEFAULT FALSE,
			tray_based %[3]s NOT NULL DEFAULT FALSE,
			tray_capacity %[4]s NOT NULL DEFAULT 0,
			refill_threshold %[4]s NOT NULL DEFAULT 0,
			initial_mono %[5]s NOT NULL DEFAULT 0,
			initial_color %[5]s NOT NULL DEFAULT 0,
			initial_total %[5]s NOT NULL DEFAULT 0,
			active %[3]s NOT NULL DEFAULT TRUE,
			updated_at %[6]s
		)`, id, txt, b, integer, big, ts),
		`CREATE INDEX IF NOT EXISTS idx_devices_serial ON devices(serial)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS counter_samples (
			id %[1]s,
			device_id %[2]s NOT NULL,
			period %[3]s NOT NULL,
			recorded_at %[4]s NOT NULL,
			mono %[2]s NOT NULL DEFAULT 0,
			color %[2]s NOT NULL DEFAULT 0,
			total %[2]s NOT NULL DEFAULT 0,
			mono_delta %[2]s NOT NULL DEFAULT 0,
			color_delta %[2]s NOT NULL DEFAULT 0,
			total_delta %[2]s NOT NULL DEFAULT 0,
			method %[3]s NOT NULL,
			profile %[3]s NOT NULL DEFAULT '',
			raw_payload %[3]s,
			locked %[5]s NOT NULL DEFAULT FALSE
		)`, id, big, txt, ts, b),
		`CREATE INDEX IF NOT EXISTS idx_samples_device_period ON counter_samples(device_id, period)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS refills (
			id %[1]s,
			device_id %[2]s NOT NULL,
			tray %[3]s NOT NULL,
			units_loaded %[3]s NOT NULL,
			before_units %[3]s NOT NULL,
			after_units %[3]s NOT NULL,
			printed_from_old %[3]s NOT NULL DEFAULT 0,
			method %[4]s NOT NULL,
			recorded_at %[5]s NOT NULL
		)`, id, big, integer, txt, ts),
		`CREATE INDEX IF NOT EXISTS idx_refills_device ON refills(device_id, tray)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tray_snapshots (
			id %[1]s,
			device_id %[2]s NOT NULL,
			tray %[3]s NOT NULL,
			available %[3]s NOT NULL,
			printed %[3]s NOT NULL DEFAULT 0,
			change_detected %[4]s NOT NULL DEFAULT FALSE,
			recorded_at %[5]s NOT NULL,
			refill_id %[2]s
		)`, id, big, integer, b, ts),
		`CREATE INDEX IF NOT EXISTS idx_snapshots_device_tray ON tray_snapshots(device_id, tray, recorded_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS execution_reports (
			batch_id %[1]s PRIMARY KEY,
			period %[1]s NOT NULL,
			started_at %[2]s NOT NULL,
			finished_at %[2]s NOT NULL,
			processed %[3]s NOT NULL DEFAULT 0,
			succeeded %[3]s NOT NULL DEFAULT 0,
			failed %[3]s NOT NULL DEFAULT 0,
			skipped %[3]s NOT NULL DEFAULT 0,
			records_created %[3]s NOT NULL DEFAULT 0,
			details %[1]s
		)`, txt, ts, integer),
	}
}
