// Package source loads cache values from a SQL table. It backs the coordinator's
// loaders and the scheduled warm-up with either SQLite or PostgreSQL.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"cache-coordinator/internal/cache"
	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
	"cache-coordinator/internal/common/validation"
)

// Dialect selects placeholder syntax and DDL.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3":
		return SQLite, nil
	case "pgx", "postgres":
		return Postgres, nil
	default:
		return SQLite, errors.ConfigError(fmt.Sprintf("unsupported database driver %q", driver))
	}
}

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Record is one row of the source table.
type Record struct {
	Key       string    `json:"key"`
	Payload   string    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SQLSource reads records from a table with columns cache_key, payload and updated_at.
type SQLSource struct {
	db      *sql.DB
	table   string
	dialect Dialect
	logger  logging.Logger
}

// Open connects to the database, verifies the connection and creates the table if needed.
func Open(ctx context.Context, driver, dsn, table string) (*SQLSource, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.ConnectionError("failed to open data source", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to ping data source", err)
	}

	s, err := New(db, driver, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver, table string) (*SQLSource, error) {
	if !validation.IsSQLIdentifier(table) {
		return nil, errors.ConfigError(fmt.Sprintf("invalid source table name %q", table))
	}
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &SQLSource{
		db:      db,
		table:   table,
		dialect: dialect,
		logger:  logging.GetGlobalLogger().WithFields(logging.String("component", "source"), logging.String("table", table)),
	}, nil
}

// Migrate creates the source table and its updated_at index.
func (s *SQLSource) Migrate(ctx context.Context) error {
	timestamp := "DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP"
	if s.dialect == Postgres {
		timestamp = "TIMESTAMPTZ NOT NULL DEFAULT now()"
	}

	queries := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			cache_key TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at %s
		)`, s.table, timestamp),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_updated_at ON %s (updated_at)`, s.table, s.table),
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return errors.InternalError("failed to migrate source table", err)
		}
	}
	return nil
}

// Upsert inserts or replaces a record. A zero UpdatedAt is set to now.
func (s *SQLSource) Upsert(ctx context.Context, r Record) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	q := fmt.Sprintf(`INSERT INTO %s (cache_key, payload, updated_at) VALUES (%s, %s, %s)
		ON CONFLICT (cache_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		s.table, s.dialect.placeholder(1), s.dialect.placeholder(2), s.dialect.placeholder(3))

	if _, err := s.db.ExecContext(ctx, q, r.Key, r.Payload, r.UpdatedAt); err != nil {
		return errors.InternalError("failed to upsert record", err).WithContext("key", r.Key)
	}
	return nil
}

// Delete removes a record. Deleting a missing key is not an error.
func (s *SQLSource) Delete(ctx context.Context, key string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE cache_key = %s`, s.table, s.dialect.placeholder(1))
	if _, err := s.db.ExecContext(ctx, q, key); err != nil {
		return errors.InternalError("failed to delete record", err).WithContext("key", key)
	}
	return nil
}

// Find returns the record for key; found is false when no row exists.
func (s *SQLSource) Find(ctx context.Context, key string) (Record, bool, error) {
	q := fmt.Sprintf(`SELECT cache_key, payload, updated_at FROM %s WHERE cache_key = %s`,
		s.table, s.dialect.placeholder(1))

	var r Record
	err := s.db.QueryRowContext(ctx, q, key).Scan(&r.Key, &r.Payload, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.InternalError("failed to query record", err).WithContext("key", key)
	}
	return r, true, nil
}

// FindMany returns the records that exist among keys.
func (s *SQLSource) FindMany(ctx context.Context, keys []string) (map[string]Record, error) {
	found := make(map[string]Record, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	marks := make([]string, len(keys))
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		marks[i] = s.dialect.placeholder(i + 1)
		args[i] = k
	}
	q := fmt.Sprintf(`SELECT cache_key, payload, updated_at FROM %s WHERE cache_key IN (%s)`,
		s.table, strings.Join(marks, ", "))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.InternalError("failed to query records", err).WithContext("keys", len(keys))
	}
	defer rows.Close()

	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Payload, &r.UpdatedAt); err != nil {
			return nil, errors.InternalError("failed to scan record", err)
		}
		found[r.Key] = r
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("failed to read records", err)
	}
	return found, nil
}

// Recent returns up to limit records, most recently updated first.
func (s *SQLSource) Recent(ctx context.Context, limit int) ([]Record, error) {
	q := fmt.Sprintf(`SELECT cache_key, payload, updated_at FROM %s ORDER BY updated_at DESC, cache_key LIMIT %s`,
		s.table, s.dialect.placeholder(1))

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, errors.InternalError("failed to query recent records", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Payload, &r.UpdatedAt); err != nil {
			return nil, errors.InternalError("failed to scan record", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("failed to read records", err)
	}
	return records, nil
}

// Loader returns a cache loader for one key.
func (s *SQLSource) Loader(key string) cache.Loader[Record] {
	return func(ctx context.Context) (Record, bool, error) {
		return s.Find(ctx, key)
	}
}

// BatchLoader returns a cache batch loader backed by a single IN query.
func (s *SQLSource) BatchLoader() cache.BatchLoader[Record] {
	return s.FindMany
}

// WarmUpTasks builds one task per recently updated record. The rows are read once;
// the tasks hand them to the cache without another query.
func (s *SQLSource) WarmUpTasks(ctx context.Context, limit int, policy ...cache.Policy) ([]cache.WarmUpTask, error) {
	if limit <= 0 {
		return nil, nil
	}
	records, err := s.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}

	tasks := make([]cache.WarmUpTask, 0, len(records))
	for _, r := range records {
		tasks = append(tasks, cache.NewWarmUpTask(r.Key, func(context.Context) (Record, bool, error) {
			return r, true, nil
		}, policy...))
	}
	s.logger.Debug("Built warm-up tasks", logging.Int("count", len(tasks)))
	return tasks, nil
}

// Health pings the database.
func (s *SQLSource) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *SQLSource) Close() error {
	return s.db.Close()
}
