package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// elasticConfig holds the configuration assembled from ElasticOptions.
type elasticConfig struct {
	addresses []string
	username  string
	password  string
	transport http.RoundTripper
	logger    *slog.Logger
}

// ElasticOption configures the Elasticsearch store.
type ElasticOption func(*elasticConfig)

// WithElasticAddresses sets the cluster node addresses.
func WithElasticAddresses(addresses ...string) ElasticOption {
	return func(c *elasticConfig) {
		c.addresses = addresses
	}
}

// WithElasticBasicAuth sets the basic-auth credentials.
func WithElasticBasicAuth(username, password string) ElasticOption {
	return func(c *elasticConfig) {
		c.username = username
		c.password = password
	}
}

// WithElasticTransport overrides the HTTP transport.
func WithElasticTransport(transport http.RoundTripper) ElasticOption {
	return func(c *elasticConfig) {
		c.transport = transport
	}
}

// WithElasticLogger sets the structured logger used by the store.
func WithElasticLogger(logger *slog.Logger) ElasticOption {
	return func(c *elasticConfig) {
		c.logger = logger
	}
}

// ElasticStore runs search operations against an Elasticsearch cluster.
type ElasticStore struct {
	es     *elasticsearch.Client
	logger *slog.Logger
}

// NewElastic connects to an Elasticsearch cluster.
func NewElastic(opts ...ElasticOption) (*ElasticStore, error) {
	cfg := &elasticConfig{addresses: []string{"https://localhost:9200"}}
	for _, opt := range opts {
		opt(cfg)
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.addresses,
		Username:  cfg.username,
		Password:  cfg.password,
		Transport: cfg.transport,
	})
	if err != nil {
		return nil, fmt.Errorf("search: create elasticsearch client: %w", err)
	}

	return &ElasticStore{es: es, logger: cfg.logger}, nil
}

// CreateIndex creates an index with the given mapping unless it already
// exists. Blank spaces in the name are replaced with hyphens.
func (s *ElasticStore) CreateIndex(ctx context.Context, name string, mapping Mapping) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: index name cannot be empty", ErrInvalidInput)
	}
	if normalized := NormalizeIndexName(name); normalized != name {
		s.logWarn(ctx, "index name cannot contain blank spaces, renamed", "from", name, "to", normalized)
		name = normalized
	}

	exists, err := s.es.Indices.Exists([]string{name}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("search: check index %q: %w", name, err)
	}
	drain(exists)
	if exists.StatusCode == http.StatusOK {
		s.logInfo(ctx, "index already exists", "index", name)
		return name, nil
	}

	body, err := encodeBody(indexSettings(mapping))
	if err != nil {
		return "", err
	}
	res, err := s.es.Indices.Create(name,
		s.es.Indices.Create.WithContext(ctx),
		s.es.Indices.Create.WithBody(body),
	)
	if err != nil {
		return "", fmt.Errorf("search: create index %q: %w", name, err)
	}
	if err := checkResponse(res, "create index "+name); err != nil {
		return "", err
	}

	s.logInfo(ctx, "index created", "index", name)
	return name, nil
}

// DropIndex deletes an index and all its documents.
func (s *ElasticStore) DropIndex(ctx context.Context, name string) error {
	res, err := s.es.Indices.Delete([]string{name}, s.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("search: drop index %q: %w", name, err)
	}
	if res.StatusCode == http.StatusNotFound {
		drain(res)
		return fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}
	return checkResponse(res, "drop index "+name)
}

// ListIndexes returns the index names on the cluster. System indexes
// (dot-prefixed) are skipped unless includeSystem is set.
func (s *ElasticStore) ListIndexes(ctx context.Context, includeSystem bool) ([]string, error) {
	res, err := s.es.Cat.Indices(
		s.es.Cat.Indices.WithContext(ctx),
		s.es.Cat.Indices.WithFormat("json"),
	)
	if err != nil {
		return nil, fmt.Errorf("search: list indexes: %w", err)
	}
	body, err := readResponse(res, "list indexes")
	if err != nil {
		return nil, err
	}
	return decodeIndexNames(body, includeSystem)
}

// BulkIndex ingests documents into an index. Failed documents are
// reported individually rather than failing the whole batch.
func (s *ElasticStore) BulkIndex(ctx context.Context, index string, docs []Document) ([]IndexError, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	body, err := buildBulkBody(index, docs)
	if err != nil {
		return nil, err
	}
	res, err := s.es.Bulk(body,
		s.es.Bulk.WithContext(ctx),
		s.es.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return nil, fmt.Errorf("search: bulk index into %q: %w", index, err)
	}
	raw, err := readResponse(res, "bulk index into "+index)
	if err != nil {
		return nil, err
	}

	failures, err := decodeBulkErrors(raw)
	if err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		s.logWarn(ctx, "bulk ingestion had failures", "index", index, "failed", len(failures), "total", len(docs))
	} else {
		s.logInfo(ctx, "documents indexed", "index", index, "count", len(docs))
	}
	return failures, nil
}

// Search returns the documents matching all must terms and at least one
// should term.
func (s *ElasticStore) Search(ctx context.Context, index string, must, should []Term) ([]Hit, error) {
	body, err := encodeBody(map[string]any{
		"size":  scanSize,
		"query": boolQuery(must, should),
	})
	if err != nil {
		return nil, err
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(index),
		s.es.Search.WithBody(body),
	)
	if err != nil {
		return nil, fmt.Errorf("search: query %q: %w", index, err)
	}
	if res.StatusCode == http.StatusNotFound {
		drain(res)
		return nil, fmt.Errorf("%w: %q", ErrIndexNotFound, index)
	}
	raw, err := readResponse(res, "query "+index)
	if err != nil {
		return nil, err
	}
	return decodeHits(raw)
}

// DeleteByQuery removes the documents matching the given field/value
// pairs. Empty pairs remove every document in the index.
func (s *ElasticStore) DeleteByQuery(ctx context.Context, index string, pairs map[string]any) error {
	var query map[string]any
	if len(pairs) == 0 {
		query = map[string]any{"match_all": map[string]any{}}
	} else {
		query = map[string]any{"match": pairs}
	}

	body, err := encodeBody(map[string]any{"query": query})
	if err != nil {
		return err
	}
	res, err := s.es.DeleteByQuery([]string{index}, body, s.es.DeleteByQuery.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("search: delete by query from %q: %w", index, err)
	}
	return checkResponse(res, "delete by query from "+index)
}

// HybridSearch combines vector similarity and fuzzy text matching in one
// weighted query. At least one of vector and text must be provided.
func (s *ElasticStore) HybridSearch(ctx context.Context, index, text string, vector []float64, opts HybridOptions) ([]Hit, error) {
	if text == "" && len(vector) == 0 {
		return nil, fmt.Errorf("%w: hybrid search needs a query vector or query text", ErrInvalidInput)
	}
	opts = applyHybridDefaults(opts, s.logger)

	query := boolQuery(opts.Must, opts.Should)
	boolPart := query["bool"].(map[string]any)
	should := boolPart["should"].([]any)

	if len(vector) > 0 {
		should = append(should, map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"match_all": map[string]any{}},
				"script": map[string]any{
					"source": fmt.Sprintf("knn_score(%s, params.query_vector) * params.weight", opts.VectorField),
					"params": map[string]any{
						"query_vector": vector,
						"weight":       opts.VectorWeight,
					},
				},
			},
		})
	}
	if text != "" {
		should = append(should, map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{
					"match": map[string]any{
						opts.TextField: map[string]any{"query": text, "fuzziness": "AUTO"},
					},
				},
				"script": map[string]any{
					"source": "_score * params.weight",
					"params": map[string]any{"weight": opts.TextWeight},
				},
			},
		})
	}
	boolPart["should"] = should
	if text != "" && len(vector) > 0 {
		boolPart["minimum_should_match"] = 1
	}

	body, err := encodeBody(map[string]any{"size": opts.InitialK, "query": query})
	if err != nil {
		return nil, err
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(index),
		s.es.Search.WithBody(body),
	)
	if err != nil {
		return nil, fmt.Errorf("search: hybrid search on %q: %w", index, err)
	}
	raw, err := readResponse(res, "hybrid search on "+index)
	if err != nil {
		return nil, err
	}

	hits, err := decodeHits(raw)
	if err != nil {
		return nil, err
	}
	if len(hits) > opts.FinalK {
		hits = hits[:opts.FinalK]
	}
	s.logInfo(ctx, "hybrid search completed", "index", index, "hits", len(hits))
	return hits, nil
}

// checkResponse drains the body and converts error statuses.
func checkResponse(res *esapi.Response, op string) error {
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("search: %s: status %d: %s", op, res.StatusCode, string(body))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// readResponse returns the body of a successful response.
func readResponse(res *esapi.Response, op string) ([]byte, error) {
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("search: %s: read response: %w", op, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("search: %s: status %d: %s", op, res.StatusCode, string(body))
	}
	return body, nil
}

// drain closes a response whose body is not needed.
func drain(res *esapi.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

func (s *ElasticStore) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, msg, args...)
	}
}

func (s *ElasticStore) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, args...)
	}
}
