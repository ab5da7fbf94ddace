// Package duckdb stores genomic tracks as row-numbered feature tables in
// DuckDB, builds and persists their block indices, and reads block payloads
// back by row-id range.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"
)

var (
	// ErrTrackNotFound is returned when no track matches a name or uuid.
	ErrTrackNotFound = errors.New("track not found")
	// ErrInvalidIdentifier is returned for table names that cannot be used
	// verbatim in SQL.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// quoteIdent quotes a checked identifier.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

// Store manages a DuckDB database holding sequences, tracks, feature tables
// and block indices.
type Store struct {
	db     *sql.DB
	x      *sqlx.DB
	path   string
	logger *zap.Logger

	// per-table schema facts; feature tables are never altered after import
	valueColumns sync.Map // table -> []string
	redundancy   sync.Map // table -> bool
}

// Open opens or creates a DuckDB database at the given path.
// Use an empty string for an in-memory database.
func Open(path string) (*Store, error) {
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	s := &Store{db: db, x: sqlx.NewDb(db, "duckdb"), path: path, logger: zap.NewNop()}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file, or "" for an in-memory store.
func (s *Store) Path() string {
	return s.path
}

// SetLogger sets the logger used for data-quality warnings.
func (s *Store) SetLogger(l *zap.Logger) {
	s.logger = l
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sequences (
		id BIGINT PRIMARY KEY,
		name VARCHAR UNIQUE,
		length BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS tracks (
		uuid VARCHAR PRIMARY KEY,
		name VARCHAR UNIQUE,
		type VARCHAR,
		table_name VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS track_attributes (
		tracks_uuid VARCHAR,
		key VARCHAR,
		value VARCHAR,
		PRIMARY KEY (tracks_uuid, key)
	)`,
	`CREATE TABLE IF NOT EXISTS block_index (
		tracks_uuid VARCHAR,
		sequences_id BIGINT,
		seqId VARCHAR,
		strand VARCHAR,
		start BIGINT,
		"end" BIGINT,
		length BIGINT,
		table_name VARCHAR,
		first_row_id BIGINT,
		last_row_id BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS block_index_meta (
		tracks_uuid VARCHAR PRIMARY KEY,
		block_size BIGINT,
		row_count BIGINT,
		fingerprint VARCHAR,
		created_at TIMESTAMP
	)`,
}

// ensureSchema creates tables if they don't exist.
func (s *Store) ensureSchema() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// strandRank is the SQL form of block.Strand.Rank for ORDER BY clauses.
func strandRank(col string) string {
	return fmt.Sprintf(`CASE %s WHEN '+' THEN 0 WHEN '-' THEN 1 WHEN '.' THEN 2 ELSE 3 END`, col)
}

// RowCount returns the number of rows in a feature table.
func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+quoteIdent(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", table, err)
	}
	return n, nil
}

// tableColumns lists the columns of a table in ordinal order.
func (s *Store) tableColumns(ctx context.Context, table string) ([]string, error) {
	var cols []string
	err := s.x.SelectContext(ctx, &cols, `SELECT column_name FROM information_schema.columns
		WHERE table_name = ? ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	return cols, nil
}

// matrixColumns returns the value* columns of a segment matrix table.
func (s *Store) matrixColumns(ctx context.Context, table string) ([]string, error) {
	if v, ok := s.valueColumns.Load(table); ok {
		return v.([]string), nil
	}
	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	var values []string
	for _, c := range cols {
		if strings.HasPrefix(c, "value") && len(c) > len("value") {
			values = append(values, c)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("matrix table %s has no value columns", table)
	}
	s.valueColumns.Store(table, values)
	return values, nil
}

// MatrixWidth returns the number of value columns of a segment matrix table.
func (s *Store) MatrixWidth(ctx context.Context, table string) (int, error) {
	cols, err := s.matrixColumns(ctx, table)
	return len(cols), err
}

// hasRedundancy reports whether a peptide table carries a redundancy column.
func (s *Store) hasRedundancy(ctx context.Context, table string) (bool, error) {
	if v, ok := s.redundancy.Load(table); ok {
		return v.(bool), nil
	}
	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return false, err
	}
	has := false
	for _, c := range cols {
		if c == "redundancy" {
			has = true
			break
		}
	}
	s.redundancy.Store(table, has)
	return has, nil
}

// inTx runs fn between BEGIN and COMMIT on conn, rolling back when fn fails.
// Appenders created on conn inside fn take part in the transaction.
func (s *Store) inTx(ctx context.Context, conn *sql.Conn, fn func() error) error {
	if _, err := conn.ExecContext(ctx, `BEGIN TRANSACTION`); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(); err != nil {
		if _, rerr := conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`); rerr != nil {
			s.logger.Warn("rollback failed", zap.Error(rerr))
		}
		return err
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
