package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	requestsigner "github.com/opensearch-project/opensearch-go/v2/signer/awsv2"
)

// opensearchConfig holds the configuration assembled from
// OpenSearchOptions.
type opensearchConfig struct {
	addresses []string
	username  string
	password  string
	awsRegion string
	transport http.RoundTripper
	logger    *slog.Logger
}

// OpenSearchOption configures the OpenSearch store.
type OpenSearchOption func(*opensearchConfig)

// WithOpenSearchAddresses sets the cluster node addresses.
func WithOpenSearchAddresses(addresses ...string) OpenSearchOption {
	return func(c *opensearchConfig) {
		c.addresses = addresses
	}
}

// WithOpenSearchBasicAuth sets the basic-auth credentials.
func WithOpenSearchBasicAuth(username, password string) OpenSearchOption {
	return func(c *opensearchConfig) {
		c.username = username
		c.password = password
	}
}

// WithOpenSearchIAM switches to AWS IAM request signing for the managed
// OpenSearch Service, replacing basic auth.
func WithOpenSearchIAM(region string) OpenSearchOption {
	return func(c *opensearchConfig) {
		c.awsRegion = region
	}
}

// WithOpenSearchTransport overrides the HTTP transport.
func WithOpenSearchTransport(transport http.RoundTripper) OpenSearchOption {
	return func(c *opensearchConfig) {
		c.transport = transport
	}
}

// WithOpenSearchLogger sets the structured logger used by the store.
func WithOpenSearchLogger(logger *slog.Logger) OpenSearchOption {
	return func(c *opensearchConfig) {
		c.logger = logger
	}
}

// OpenSearchStore runs search operations against an OpenSearch cluster,
// either self-hosted or the managed AWS service.
type OpenSearchStore struct {
	client *opensearch.Client
	logger *slog.Logger
}

// NewOpenSearch connects to an OpenSearch cluster.
func NewOpenSearch(ctx context.Context, opts ...OpenSearchOption) (*OpenSearchStore, error) {
	cfg := &opensearchConfig{addresses: []string{"https://localhost:9200"}}
	for _, opt := range opts {
		opt(cfg)
	}

	clientCfg := opensearch.Config{
		Addresses: cfg.addresses,
		Username:  cfg.username,
		Password:  cfg.password,
		Transport: cfg.transport,
	}

	if cfg.awsRegion != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.awsRegion))
		if err != nil {
			return nil, fmt.Errorf("search: load AWS config for opensearch: %w", err)
		}
		signer, err := requestsigner.NewSignerWithService(awsCfg, "es")
		if err != nil {
			return nil, fmt.Errorf("search: create opensearch request signer: %w", err)
		}
		clientCfg.Signer = signer
		clientCfg.Username = ""
		clientCfg.Password = ""
	}

	client, err := opensearch.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("search: create opensearch client: %w", err)
	}

	return &OpenSearchStore{client: client, logger: cfg.logger}, nil
}

// CreateIndex creates an index with the given mapping unless it already
// exists. Blank spaces in the name are replaced with hyphens.
func (s *OpenSearchStore) CreateIndex(ctx context.Context, name string, mapping Mapping) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: index name cannot be empty", ErrInvalidInput)
	}
	if normalized := NormalizeIndexName(name); normalized != name {
		s.logWarn(ctx, "index name cannot contain blank spaces, renamed", "from", name, "to", normalized)
		name = normalized
	}

	exists, err := opensearchapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, s.client)
	if err != nil {
		return "", fmt.Errorf("search: check index %q: %w", name, err)
	}
	osDrain(exists)
	if exists.StatusCode == http.StatusOK {
		s.logInfo(ctx, "index already exists", "index", name)
		return name, nil
	}

	body, err := encodeBody(indexSettings(mapping))
	if err != nil {
		return "", err
	}
	res, err := opensearchapi.IndicesCreateRequest{Index: name, Body: body}.Do(ctx, s.client)
	if err != nil {
		return "", fmt.Errorf("search: create index %q: %w", name, err)
	}
	if err := osCheckResponse(res, "create index "+name); err != nil {
		return "", err
	}

	s.logInfo(ctx, "index created", "index", name)
	return name, nil
}

// DropIndex deletes an index and all its documents.
func (s *OpenSearchStore) DropIndex(ctx context.Context, name string) error {
	res, err := opensearchapi.IndicesDeleteRequest{Index: []string{name}}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("search: drop index %q: %w", name, err)
	}
	if res.StatusCode == http.StatusNotFound {
		osDrain(res)
		return fmt.Errorf("%w: %q", ErrIndexNotFound, name)
	}
	return osCheckResponse(res, "drop index "+name)
}

// ListIndexes returns the index names on the cluster. System indexes
// (dot-prefixed) are skipped unless includeSystem is set.
func (s *OpenSearchStore) ListIndexes(ctx context.Context, includeSystem bool) ([]string, error) {
	res, err := opensearchapi.CatIndicesRequest{Format: "json"}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("search: list indexes: %w", err)
	}
	body, err := osReadResponse(res, "list indexes")
	if err != nil {
		return nil, err
	}
	return decodeIndexNames(body, includeSystem)
}

// BulkIndex ingests documents into an index. Failed documents are
// reported individually rather than failing the whole batch.
func (s *OpenSearchStore) BulkIndex(ctx context.Context, index string, docs []Document) ([]IndexError, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	body, err := buildBulkBody(index, docs)
	if err != nil {
		return nil, err
	}
	res, err := opensearchapi.BulkRequest{Body: body, Refresh: "true"}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("search: bulk index into %q: %w", index, err)
	}
	raw, err := osReadResponse(res, "bulk index into "+index)
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
func (s *OpenSearchStore) Search(ctx context.Context, index string, must, should []Term) ([]Hit, error) {
	body, err := encodeBody(map[string]any{
		"size":  scanSize,
		"query": boolQuery(must, should),
	})
	if err != nil {
		return nil, err
	}

	res, err := opensearchapi.SearchRequest{Index: []string{index}, Body: body}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("search: query %q: %w", index, err)
	}
	if res.StatusCode == http.StatusNotFound {
		osDrain(res)
		return nil, fmt.Errorf("%w: %q", ErrIndexNotFound, index)
	}
	raw, err := osReadResponse(res, "query "+index)
	if err != nil {
		return nil, err
	}
	return decodeHits(raw)
}

// DeleteByQuery removes the documents matching the given field/value
// pairs. Empty pairs remove every document in the index.
func (s *OpenSearchStore) DeleteByQuery(ctx context.Context, index string, pairs map[string]any) error {
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
	res, err := opensearchapi.DeleteByQueryRequest{Index: []string{index}, Body: body}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("search: delete by query from %q: %w", index, err)
	}
	return osCheckResponse(res, "delete by query from "+index)
}

// SimilaritySearch runs a k-NN vector search. Plain vector queries use
// the native knn clause; queries with term conditions fall back to a
// script-scored bool query over the cosine similarity space.
func (s *OpenSearchStore) SimilaritySearch(ctx context.Context, index, vectorField string, vector []float64, k int, must, should []Term) ([]Hit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: similarity search needs a query vector", ErrInvalidInput)
	}
	if k <= 0 {
		k = 5
	}
	if vectorField == "" {
		vectorField = "chunk_vector"
	}
	var query map[string]any
	if len(must) == 0 && len(should) == 0 {
		query = map[string]any{
			"knn": map[string]any{
				vectorField: map[string]any{"vector": vector, "k": k},
			},
		}
	} else {
		query = map[string]any{
			"script_score": map[string]any{
				"query": boolQuery(must, should),
				"script": map[string]any{
					"source": "knn_score",
					"lang":   "knn",
					"params": map[string]any{
						"field":       vectorField,
						"query_value": vector,
						"space_type":  "cosinesimil",
					},
				},
			},
		}
	}

	body, err := encodeBody(map[string]any{"size": k, "query": query})
	if err != nil {
		return nil, err
	}

	res, err := opensearchapi.SearchRequest{Index: []string{index}, Body: body}.Do(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("search: similarity search on %q: %w", index, err)
	}
	raw, err := osReadResponse(res, "similarity search on "+index)
	if err != nil {
		return nil, err
	}

	hits, err := decodeHits(raw)
	if err != nil {
		return nil, err
	}
	s.logInfo(ctx, "similarity search completed", "index", index, "hits", len(hits))
	return hits, nil
}

// osCheckResponse drains the body and converts error statuses.
func osCheckResponse(res *opensearchapi.Response, op string) error {
	defer res.Body.Close()
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("search: %s: status %d: %s", op, res.StatusCode, string(body))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

// osReadResponse returns the body of a successful response.
func osReadResponse(res *opensearchapi.Response, op string) ([]byte, error) {
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

// osDrain closes a response whose body is not needed.
func osDrain(res *opensearchapi.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

func (s *OpenSearchStore) logInfo(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, msg, args...)
	}
}

func (s *OpenSearchStore) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, msg, args...)
	}
}
