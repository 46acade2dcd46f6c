package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CreateTable creates a table in the store's schema if it does not
// already exist. The columns string is the body of the CREATE TABLE
// statement, e.g. "id SERIAL PRIMARY KEY, name TEXT NOT NULL".
func (s *Store) CreateTable(ctx context.Context, table, columns string) error {
	if strings.TrimSpace(columns) == "" {
		return fmt.Errorf("%w: table needs at least one column", ErrInvalidInput)
	}

	ref, err := s.tableRef(table)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", ref, columns)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("relational: create table %s: %w", table, err)
	}

	s.logInfo(ctx, "table created", "table", table, "schema", s.schema)
	return nil
}

// DropTable removes a table if it exists.
func (s *Store) DropTable(ctx context.Context, table string) error {
	ref, err := s.tableRef(table)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", ref)); err != nil {
		return fmt.Errorf("relational: drop table %s: %w", table, err)
	}
	return nil
}

// DropSchema removes the store's schema and everything in it. Postgres
// only.
func (s *Store) DropSchema(ctx context.Context) error {
	if s.engine != EnginePostgres {
		return fmt.Errorf("%w: schemas are a postgres concept", ErrUnsupportedEngine)
	}
	if s.schema == "" {
		return fmt.Errorf("%w: no schema configured", ErrInvalidInput)
	}
	if err := validIdent(s.schema); err != nil {
		return err
	}

	query := fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", s.quoteIdent(s.schema))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("relational: drop schema %s: %w", s.schema, err)
	}

	s.logInfo(ctx, "schema dropped", "schema", s.schema)
	return nil
}

// ListDatabases returns the databases visible to the connection.
func (s *Store) ListDatabases(ctx context.Context) ([]string, error) {
	query := "SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname"
	if s.engine == EngineMySQL {
		query = "SHOW DATABASES"
	}
	return s.listStrings(ctx, query)
}

// ListSchemas returns the schemas in the current database. For mysql
// this is the same as ListDatabases. System schemas are omitted unless
// includeSystem is set.
func (s *Store) ListSchemas(ctx context.Context, includeSystem bool) ([]string, error) {
	var names []string
	var err error
	if s.engine == EngineMySQL {
		names, err = s.ListDatabases(ctx)
	} else {
		names, err = s.listStrings(ctx,
			"SELECT schema_name FROM information_schema.schemata ORDER BY schema_name")
	}
	if err != nil || includeSystem {
		return names, err
	}

	filtered := names[:0]
	for _, name := range names {
		if s.systemSchema(name) {
			continue
		}
		filtered = append(filtered, name)
	}
	return filtered, nil
}

// systemSchema reports whether a schema name belongs to the engine
// rather than an application.
func (s *Store) systemSchema(name string) bool {
	if s.engine == EngineMySQL {
		switch name {
		case "mysql", "information_schema", "performance_schema", "sys":
			return true
		}
		return false
	}
	return name == "information_schema" || strings.HasPrefix(name, "pg_")
}

// ListTables returns the tables in the store's schema.
func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	schema := s.schema
	if s.engine == EngineMySQL {
		schema = s.database
	}
	if schema == "" {
		return nil, fmt.Errorf("%w: no schema configured", ErrInvalidInput)
	}

	query := fmt.Sprintf(
		"SELECT table_name FROM information_schema.tables WHERE table_schema = %s ORDER BY table_name",
		s.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, schema)
	if err != nil {
		return nil, fmt.Errorf("relational: list tables: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ExecFile runs a .sql script statement by statement, or loads a .json
// seed file inserting its rows. The JSON format maps table names to row
// lists.
func (s *Store) ExecFile(ctx context.Context, path string) error {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("relational: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".sql":
		return s.execSQL(ctx, path, string(data))
	case ".json":
		return s.execSeed(ctx, path, data)
	default:
		return fmt.Errorf("%w: unsupported file type %q", ErrInvalidInput, filepath.Ext(path))
	}
}

// Bootstrap provisions a fresh postgres database for an application
// user: the role, the store's schema owned by it, and the grants and
// default privileges the application needs. Statements are idempotent,
// so running it against an already provisioned database is safe. The
// connection must hold owner or superuser rights.
func (s *Store) Bootstrap(ctx context.Context, user string) error {
	if s.engine != EnginePostgres {
		return fmt.Errorf("%w: bootstrap is a postgres concept", ErrUnsupportedEngine)
	}
	if s.schema == "" {
		return fmt.Errorf("%w: no schema configured", ErrInvalidInput)
	}
	if err := validIdent(user); err != nil {
		return err
	}
	if err := validIdent(s.schema); err != nil {
		return err
	}

	role := s.quoteIdent(user)
	schema := s.quoteIdent(s.schema)

	statements := []string{
		fmt.Sprintf("DO $$ BEGIN CREATE ROLE %s LOGIN; EXCEPTION WHEN duplicate_object THEN NULL; END $$", role),
	}
	if s.iamAuth {
		statements = append(statements, fmt.Sprintf("GRANT rds_iam TO %s", role))
	}
	statements = append(statements, "REVOKE CREATE ON SCHEMA public FROM PUBLIC")
	if s.database != "" {
		if err := validIdent(s.database); err != nil {
			return err
		}
		db := s.quoteIdent(s.database)
		statements = append(statements,
			fmt.Sprintf("REVOKE ALL ON DATABASE %s FROM PUBLIC", db),
			fmt.Sprintf("GRANT CONNECT ON DATABASE %s TO %s", db, role),
		)
	}
	statements = append(statements,
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema),
		fmt.Sprintf("ALTER SCHEMA %s OWNER TO %s", schema, role),
		fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", schema, role),
		fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA %s TO %s", schema, role),
		fmt.Sprintf("GRANT USAGE, SELECT, UPDATE ON ALL SEQUENCES IN SCHEMA %s TO %s", schema, role),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA %s GRANT SELECT, INSERT, UPDATE, DELETE ON TABLES TO %s", schema, role),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES IN SCHEMA %s GRANT USAGE, SELECT, UPDATE ON SEQUENCES TO %s", schema, role),
	)

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("relational: bootstrap: %w", err)
		}
	}

	s.logInfo(ctx, "database bootstrapped", "user", user, "schema", s.schema, "iam", s.iamAuth)
	return nil
}

// InitDB provisions the database for appUser via Bootstrap, then runs
// every .sql and .json file under dir in lexical order. An empty
// appUser skips the bootstrap, which is also the only mode mysql
// supports.
func (s *Store) InitDB(ctx context.Context, dir, appUser string) error {
	if appUser != "" {
		if err := s.Bootstrap(ctx, appUser); err != nil {
			return err
		}
	}

	var files []string
	err := s.fs.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".sql", ".json":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("relational: walk %s: %w", dir, err)
	}
	sort.Strings(files)

	for _, file := range files {
		if err := s.ExecFile(ctx, file); err != nil {
			return err
		}
	}

	s.logInfo(ctx, "database initialized", "dir", dir, "files", len(files))
	return nil
}

// execSQL runs each semicolon-separated statement in the script.
func (s *Store) execSQL(ctx context.Context, path, script string) error {
	for _, statement := range strings.Split(script, ";") {
		statement = strings.TrimSpace(statement)
		if statement == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("relational: exec %s: %w", path, err)
		}
	}
	return nil
}

// execSeed inserts the rows of a JSON seed file, table by table.
func (s *Store) execSeed(ctx context.Context, path string, data []byte) error {
	var seed map[string][]map[string]any
	if err := json.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("relational: decode seed %s: %w", path, err)
	}

	tables := make([]string, 0, len(seed))
	for table := range seed {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	for _, table := range tables {
		for _, row := range seed[table] {
			if err := s.Insert(ctx, table, row); err != nil {
				return fmt.Errorf("relational: seed %s: %w", path, err)
			}
		}
	}
	return nil
}

func (s *Store) listStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("relational: list: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("relational: scan name: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relational: iterate names: %w", err)
	}
	return out, nil
}
