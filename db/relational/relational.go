// Package relational manages PostgreSQL and MySQL databases: connection
// and credential handling, schema and table administration, and a small
// structured query layer over database/sql.
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/PyYel/golcloud/fsx"
)

// Engine selects the database driver and SQL dialect.
type Engine string

// Supported database engines.
const (
	EnginePostgres Engine = "postgres"
	EngineMySQL    Engine = "mysql"
)

// Common error types for relational operations.
var (
	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.New("relational: invalid input")

	// ErrUnsupportedEngine indicates an engine other than postgres or
	// mysql.
	ErrUnsupportedEngine = errors.New("relational: unsupported engine")

	// ErrEmptyWhere indicates a mutation without a WHERE clause, which
	// would touch every row.
	ErrEmptyWhere = errors.New("relational: refusing to run without a WHERE clause")

	// ErrInvalidIdentifier indicates a schema, table, or column name with
	// characters outside [A-Za-z0-9_].
	ErrInvalidIdentifier = errors.New("relational: invalid identifier")
)

// identPattern matches identifiers that are safe to interpolate.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// defaultPorts maps engines to their conventional ports.
var defaultPorts = map[Engine]int{
	EnginePostgres: 5432,
	EngineMySQL:    3306,
}

// Store runs SQL against one database, scoped to a schema for postgres.
type Store struct {
	db       *sql.DB
	engine   Engine
	schema   string
	database string
	iamAuth  bool
	fs       *fsx.FS
	logger   *slog.Logger
}

// storeConfig holds the configuration assembled from Options.
type storeConfig struct {
	engine     Engine
	host       string
	port       int
	user       string
	password   string
	database   string
	schema     string
	sslMode    string
	region     string
	secretName string
	secrets    SecretResolver
	fs         *fsx.FS
	logger     *slog.Logger
}

// Option configures the store.
type Option func(*storeConfig)

// WithEngine selects postgres or mysql. Defaults to postgres.
func WithEngine(engine Engine) Option {
	return func(c *storeConfig) {
		c.engine = engine
	}
}

// WithHost sets the database host.
func WithHost(host string) Option {
	return func(c *storeConfig) {
		c.host = host
	}
}

// WithPort sets the database port. Defaults to the engine's conventional
// port.
func WithPort(port int) Option {
	return func(c *storeConfig) {
		c.port = port
	}
}

// WithCredentials sets the database user and password. An empty password
// with a configured region switches postgres connections to IAM
// authentication.
func WithCredentials(user, password string) Option {
	return func(c *storeConfig) {
		c.user = user
		c.password = password
	}
}

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(c *storeConfig) {
		c.database = name
	}
}

// WithSchema sets the postgres schema used as the search path. The name
// is normalized to lowercase with hyphens and spaces replaced by
// underscores.
func WithSchema(schema string) Option {
	return func(c *storeConfig) {
		c.schema = schema
	}
}

// WithSSLMode sets the postgres sslmode. Defaults to disable, or require
// when IAM authentication is active.
func WithSSLMode(mode string) Option {
	return func(c *storeConfig) {
		c.sslMode = mode
	}
}

// WithRegion sets the region used to mint IAM authentication tokens.
func WithRegion(region string) Option {
	return func(c *storeConfig) {
		c.region = region
	}
}

// WithSecret resolves connection credentials from a Secrets Manager
// secret before connecting. Fields present in the secret override the
// configured values.
func WithSecret(resolver SecretResolver, name string) Option {
	return func(c *storeConfig) {
		c.secrets = resolver
		c.secretName = name
	}
}

// WithFilesystem overrides the filesystem used by ExecFile and InitDB.
func WithFilesystem(fs *fsx.FS) Option {
	return func(c *storeConfig) {
		c.fs = fs
	}
}

// WithLogger sets the structured logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// Open connects to the database and verifies the connection. For
// postgres the schema is created if missing and set as the search path.
func Open(ctx context.Context, opts ...Option) (*Store, error) {
	cfg := newStoreConfig(opts)

	if cfg.engine != EnginePostgres && cfg.engine != EngineMySQL {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEngine, cfg.engine)
	}
	if err := resolveCredentials(ctx, cfg); err != nil {
		return nil, err
	}
	if cfg.host == "" || cfg.user == "" || cfg.database == "" {
		return nil, fmt.Errorf("%w: host, user, and database are required", ErrInvalidInput)
	}

	dsn, err := buildDSN(ctx, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(cfg.engine), dsn)
	if err != nil {
		return nil, fmt.Errorf("relational: open %s connection: %w", cfg.engine, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("relational: ping %s at %s: %w", cfg.engine, cfg.host, err)
	}

	store := newStore(db, cfg)
	if store.engine == EnginePostgres && store.schema != "" {
		if err := store.useSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	store.logInfo(ctx, "database connected",
		"engine", cfg.engine, "host", cfg.host, "database", cfg.database, "schema", store.schema)
	return store, nil
}

// NewWithDB wraps an existing database handle. This is primarily used
// for testing with driver mocks.
func NewWithDB(db *sql.DB, engine Engine, opts ...Option) *Store {
	cfg := newStoreConfig(opts)
	cfg.engine = engine
	return newStore(db, cfg)
}

func newStoreConfig(opts []Option) *storeConfig {
	cfg := &storeConfig{engine: EnginePostgres}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.port == 0 {
		cfg.port = defaultPorts[cfg.engine]
	}
	if cfg.fs == nil {
		cfg.fs = fsx.OS()
	}
	return cfg
}

func newStore(db *sql.DB, cfg *storeConfig) *Store {
	return &Store{
		db:       db,
		engine:   cfg.engine,
		schema:   NormalizeSchema(cfg.schema),
		database: cfg.database,
		iamAuth:  cfg.engine == EnginePostgres && cfg.password == "" && cfg.region != "",
		fs:       cfg.fs,
		logger:   cfg.logger,
	}
}

// buildDSN renders the driver connection string. The mysql DSN goes
// through the driver's own config type.
func buildDSN(ctx context.Context, cfg *storeConfig) (string, error) {
	password := cfg.password
	sslMode := cfg.sslMode

	if cfg.engine == EnginePostgres && password == "" && cfg.region != "" {
		token, err := buildIAMToken(ctx, cfg)
		if err != nil {
			return "", err
		}
		password = token
		if sslMode == "" {
			sslMode = "require"
		}
	}

	switch cfg.engine {
	case EnginePostgres:
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.host, cfg.port, cfg.user, password, cfg.database, sslMode), nil
	case EngineMySQL:
		mysqlCfg := mysql.NewConfig()
		mysqlCfg.Net = "tcp"
		mysqlCfg.Addr = fmt.Sprintf("%s:%d", cfg.host, cfg.port)
		mysqlCfg.User = cfg.user
		mysqlCfg.Passwd = password
		mysqlCfg.DBName = cfg.database
		mysqlCfg.ParseTime = true
		return mysqlCfg.FormatDSN(), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEngine, cfg.engine)
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("relational: close connection: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Schema returns the normalized schema the store operates in.
func (s *Store) Schema() string {
	return s.schema
}

// NormalizeSchema lowercases a schema name and replaces hyphens and
// spaces with underscores.
func NormalizeSchema(schema string) string {
	schema = strings.ToLower(strings.TrimSpace(schema))
	schema = strings.ReplaceAll(schema, "-", "_")
	return strings.ReplaceAll(schema, " ", "_")
}

// useSchema creates the schema if missing and sets it as the search
// path. The SET only reaches the pooled connection that serves it, so
// the search path is best-effort; all Store-built statements qualify
// table references with the schema and never rely on it.
func (s *Store) useSchema(ctx context.Context) error {
	if err := validIdent(s.schema); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s.quoteIdent(s.schema))); err != nil {
		return fmt.Errorf("relational: create schema %q: %w", s.schema, err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", s.quoteIdent(s.schema))); err != nil {
		return fmt.Errorf("relational: set search path to %q: %w", s.schema, err)
	}
	return nil
}

// validIdent rejects identifiers that cannot be safely interpolated.
func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// quoteIdent quotes an identifier for the active dialect.
func (s *Store) quoteIdent(name string) string {
	if s.engine == EngineMySQL {
		return "`" + name + "`"
	}
	return `"` + name + `"`
}

// tableRef returns the schema-qualified, quoted table reference.
func (s *Store) tableRef(table string) (string, error) {
	if err := validIdent(table); err != nil {
		return "", err
	}
	if s.engine == EnginePostgres && s.schema != "" {
		return s.quoteIdent(s.schema) + "." + s.quoteIdent(table), nil
	}
	return s.quoteIdent(table), nil
}

// placeholder returns the dialect's bind placeholder for position n
// (1-based).
func (s *Store) placeholder(n int) string {
	if s.engine == EnginePostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *Store) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, msg, args...)
	}
}

func (s *Store) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, args...)
	}
}
