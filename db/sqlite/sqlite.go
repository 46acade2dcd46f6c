// Package sqlite provides a small embedded database store backed by the
// pure-Go sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// Common error types for sqlite operations.
var (
	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.New("sqlite: invalid input")

	// ErrInvalidIdentifier indicates a table or column name with
	// characters outside [A-Za-z0-9_].
	ErrInvalidIdentifier = errors.New("sqlite: invalid identifier")
)

// identPattern matches identifiers that are safe to interpolate.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Row is one result row keyed by column name.
type Row map[string]any

// Store is a single sqlite database file.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Option configures the store.
type Option func(*Store)

// WithLogger sets the structured logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if necessary) the database file at path. The
// special path ":memory:" opens an in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", ErrInvalidInput)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}

	store := &Store{db: db, path: path}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	return nil
}

// Drop closes the store and removes the database file. In-memory
// databases are only closed.
func (s *Store) Drop() error {
	if err := s.Close(); err != nil {
		return err
	}
	if s.path == ":memory:" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sqlite: remove %s: %w", s.path, err)
	}
	return nil
}

// CreateTable creates a table if it does not already exist. The columns
// string is the body of the CREATE TABLE statement.
func (s *Store) CreateTable(ctx context.Context, table, columns string) error {
	if err := validIdent(table); err != nil {
		return err
	}
	if strings.TrimSpace(columns) == "" {
		return fmt.Errorf("%w: table needs at least one column", ErrInvalidInput)
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (%s)", table, columns)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("sqlite: create table %s: %w", table, err)
	}

	s.logInfo(ctx, "table created", "table", table, "path", s.path)
	return nil
}

// DropTable removes a table if it exists.
func (s *Store) DropTable(ctx context.Context, table string) error {
	if err := validIdent(table); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %q", table)); err != nil {
		return fmt.Errorf("sqlite: drop table %s: %w", table, err)
	}
	return nil
}

// ListTables returns the user tables in the database.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate tables: %w", err)
	}
	return tables, nil
}

// Insert adds one row built from column/value pairs. Columns are ordered
// deterministically.
func (s *Store) Insert(ctx context.Context, table string, values map[string]any) error {
	if err := validIdent(table); err != nil {
		return err
	}
	if len(values) == 0 {
		return fmt.Errorf("%w: insert needs at least one column", ErrInvalidInput)
	}

	columns := make([]string, 0, len(values))
	for col := range values {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		if err := validIdent(col); err != nil {
			return err
		}
		quoted[i] = fmt.Sprintf("%q", col)
		placeholders[i] = "?"
		args[i] = values[col]
	}

	query := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)",
		table, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: insert into %s: %w", table, err)
	}
	return nil
}

// Query runs an arbitrary SELECT and scans the result into rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlite: read columns: %w", err)
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, fmt.Errorf("sqlite: scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate rows: %w", err)
	}
	return result, nil
}

// Exec runs an arbitrary statement that returns no rows.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	return nil
}

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func (s *Store) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, msg, args...)
	}
}
