// Package document manages MongoDB document stores: collection
// administration and CRUD over schemaless records.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Common error types for document operations.
var (
	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.New("document: invalid input")

	// ErrNotConnected indicates the store has been disconnected.
	ErrNotConnected = errors.New("document: not connected")
)

// defaultConnectTimeout bounds the initial server selection.
const defaultConnectTimeout = 10 * time.Second

// storeConfig holds the configuration assembled from Options.
type storeConfig struct {
	username string
	password string
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures the store.
type Option func(*storeConfig)

// WithCredentials sets the connection credentials.
func WithCredentials(username, password string) Option {
	return func(c *storeConfig) {
		c.username = username
		c.password = password
	}
}

// WithConnectTimeout bounds the initial connection attempt.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *storeConfig) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithLogger sets the structured logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(c *storeConfig) {
		c.logger = logger
	}
}

// Store is one MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// Connect opens a connection to the server and selects a database. The
// URI is a standard connection string, e.g. mongodb://localhost:27017.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	if uri == "" || database == "" {
		return nil, fmt.Errorf("%w: uri and database are required", ErrInvalidInput)
	}

	cfg := &storeConfig{timeout: defaultConnectTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	clientOpts := options.Client().ApplyURI(uri)
	if cfg.username != "" {
		clientOpts.SetAuth(options.Credential{
			Username: cfg.username,
			Password: cfg.password,
		})
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("document: connect to %s: %w", uri, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("document: ping %s: %w", uri, err)
	}

	store := &Store{
		client: client,
		db:     client.Database(database),
		logger: cfg.logger,
	}
	store.logInfo(ctx, "document store connected", "database", database)
	return store, nil
}

// NewWithDatabase wraps an existing database handle. This is primarily
// used for testing.
func NewWithDatabase(db *mongo.Database, opts ...Option) *Store {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Store{client: db.Client(), db: db, logger: cfg.logger}
}

// Disconnect closes the connection.
func (s *Store) Disconnect(ctx context.Context) error {
	if s.client == nil {
		return ErrNotConnected
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("document: disconnect: %w", err)
	}
	s.client = nil
	return nil
}

// Collections returns the collection names in the database.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("document: list collections: %w", err)
	}
	return names, nil
}

// CreateCollection creates a collection explicitly. Collections are also
// created implicitly on first insert.
func (s *Store) CreateCollection(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidInput)
	}
	if err := s.db.CreateCollection(ctx, name); err != nil {
		return fmt.Errorf("document: create collection %q: %w", name, err)
	}
	s.logInfo(ctx, "collection created", "collection", name)
	return nil
}

// DropCollection removes a collection and all its documents.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidInput)
	}
	if err := s.db.Collection(name).Drop(ctx); err != nil {
		return fmt.Errorf("document: drop collection %q: %w", name, err)
	}
	return nil
}

// Insert adds documents to a collection and returns their IDs.
func (s *Store) Insert(ctx context.Context, collection string, docs []map[string]any) ([]string, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: nothing to insert", ErrInvalidInput)
	}

	payload := make([]any, len(docs))
	for i, doc := range docs {
		payload[i] = bson.M(doc)
	}

	res, err := s.db.Collection(collection).InsertMany(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("document: insert into %q: %w", collection, err)
	}

	ids := make([]string, 0, len(res.InsertedIDs))
	for _, id := range res.InsertedIDs {
		if oid, ok := id.(primitive.ObjectID); ok {
			ids = append(ids, oid.Hex())
		} else {
			ids = append(ids, fmt.Sprintf("%v", id))
		}
	}

	s.logInfo(ctx, "documents inserted", "collection", collection, "count", len(ids))
	return ids, nil
}

// Find returns the documents matching the filter. A nil filter matches
// every document.
func (s *Store) Find(ctx context.Context, collection string, filter map[string]any) ([]map[string]any, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, toFilter(filter))
	if err != nil {
		return nil, fmt.Errorf("document: find in %q: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []map[string]any
	for cursor.Next(ctx) {
		var doc map[string]any
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("document: decode document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("document: iterate cursor: %w", err)
	}
	return docs, nil
}

// Update sets fields on the documents matching the filter and returns
// the number of modified documents. An empty filter is refused.
func (s *Store) Update(ctx context.Context, collection string, filter, set map[string]any) (int64, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("%w: update needs a filter", ErrInvalidInput)
	}
	if len(set) == 0 {
		return 0, fmt.Errorf("%w: update needs fields to set", ErrInvalidInput)
	}

	res, err := s.db.Collection(collection).UpdateMany(ctx,
		bson.M(filter), bson.M{"$set": bson.M(set)})
	if err != nil {
		return 0, fmt.Errorf("document: update %q: %w", collection, err)
	}
	return res.ModifiedCount, nil
}

// DeleteMany removes the documents matching the filter and returns the
// number removed. An empty filter is refused; use DropCollection to
// clear a collection.
func (s *Store) DeleteMany(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("%w: delete needs a filter", ErrInvalidInput)
	}

	res, err := s.db.Collection(collection).DeleteMany(ctx, bson.M(filter))
	if err != nil {
		return 0, fmt.Errorf("document: delete from %q: %w", collection, err)
	}
	return res.DeletedCount, nil
}

func toFilter(filter map[string]any) bson.M {
	if filter == nil {
		return bson.M{}
	}
	return bson.M(filter)
}

func (s *Store) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, msg, args...)
	}
}
