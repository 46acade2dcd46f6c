// Package search manages full-text and vector search clusters. It speaks
// to Elasticsearch and OpenSearch through one surface: index management,
// bulk document ingestion, boolean term queries, and hybrid
// vector-plus-text similarity search.
//
// Naming follows the usual mapping onto SQL: a cluster is the database,
// an index is a table, documents are rows, and fields are columns.
package search

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Common error types for search operations.
var (
	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.New("search: invalid input")

	// ErrIndexNotFound indicates the index does not exist.
	ErrIndexNotFound = errors.New("search: index not found")
)

// scanSize is the page size used when querying documents.
const scanSize = 1000

// Term is one field/value condition matched as an exact term.
type Term map[string]any

// Document is one record to index. An empty ID lets the cluster assign
// one.
type Document struct {
	ID     string
	Source map[string]any
}

// Hit is one search result.
type Hit struct {
	ID     string
	Score  float64
	Source map[string]any
}

// IndexError reports one document that a bulk ingestion failed to index.
type IndexError struct {
	ID     string
	Status int
	Reason string
}

// Mapping describes an index's schema. Properties follows the cluster's
// mapping format: {"field": {"type": "keyword"}}.
type Mapping struct {
	Properties map[string]any
	Shards     int
	Replicas   int
}

// HybridOptions tunes HybridSearch.
type HybridOptions struct {
	// VectorField is the document field holding embeddings.
	VectorField string
	// TextField is the document field matched by fuzzy text search.
	TextField string
	// VectorWeight scales the vector similarity component.
	VectorWeight float64
	// TextWeight scales the text matching component.
	TextWeight float64
	// InitialK is the search width before reranking.
	InitialK int
	// FinalK is the number of top hits returned.
	FinalK int
	// Must lists conditions every hit has to match.
	Must []Term
	// Should lists conditions of which at least one has to match.
	Should []Term
}

// defaultHybridOptions returns the baseline hybrid-search tuning.
func defaultHybridOptions() HybridOptions {
	return HybridOptions{
		VectorField:  "chunk_vector",
		TextField:    "chunk_content",
		VectorWeight: 0.7,
		TextWeight:   0.3,
		InitialK:     20,
		FinalK:       5,
	}
}

// applyHybridDefaults fills zero fields and clamps FinalK to InitialK.
func applyHybridDefaults(opts HybridOptions, logger *slog.Logger) HybridOptions {
	defaults := defaultHybridOptions()
	if opts.VectorField == "" {
		opts.VectorField = defaults.VectorField
	}
	if opts.TextField == "" {
		opts.TextField = defaults.TextField
	}
	if opts.VectorWeight == 0 {
		opts.VectorWeight = defaults.VectorWeight
	}
	if opts.TextWeight == 0 {
		opts.TextWeight = defaults.TextWeight
	}
	if opts.InitialK == 0 {
		opts.InitialK = defaults.InitialK
	}
	if opts.FinalK == 0 {
		opts.FinalK = defaults.FinalK
	}
	if opts.FinalK > opts.InitialK {
		if logger != nil {
			logger.Warn("hybrid search final_k larger than initial_k, clamping",
				"final_k", opts.FinalK, "initial_k", opts.InitialK)
		}
		opts.FinalK = opts.InitialK
	}
	return opts
}

// NormalizeIndexName replaces blank spaces with hyphens. Cluster index
// names cannot contain spaces.
func NormalizeIndexName(name string) string {
	return strings.ReplaceAll(name, " ", "-")
}

// boolQuery builds a bool query from must and should terms. At least one
// should condition has to match when any is present.
func boolQuery(must, should []Term) map[string]any {
	mustConditions := make([]any, 0, len(must))
	for _, term := range must {
		mustConditions = append(mustConditions, map[string]any{"term": term})
	}
	shouldConditions := make([]any, 0, len(should))
	for _, term := range should {
		shouldConditions = append(shouldConditions, map[string]any{"term": term})
	}

	minimumShouldMatch := 0
	if len(shouldConditions) > 0 {
		minimumShouldMatch = 1
	}

	return map[string]any{
		"bool": map[string]any{
			"must":                 mustConditions,
			"should":               shouldConditions,
			"minimum_should_match": minimumShouldMatch,
		},
	}
}

// indexSettings renders the index creation body.
func indexSettings(mapping Mapping) map[string]any {
	shards := mapping.Shards
	if shards == 0 {
		shards = 1
	}
	replicas := mapping.Replicas
	if replicas == 0 {
		replicas = 1
	}
	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   shards,
			"number_of_replicas": replicas,
		},
		"mappings": map[string]any{"properties": mapping.Properties},
	}
}

// encodeBody marshals a query body into a reader.
func encodeBody(body map[string]any) (*bytes.Reader, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("search: encode body: %w", err)
	}
	return bytes.NewReader(data), nil
}

// buildBulkBody renders the newline-delimited bulk payload.
func buildBulkBody(index string, docs []Document) (*bytes.Reader, error) {
	var buf bytes.Buffer
	for _, doc := range docs {
		action := map[string]any{"index": map[string]any{"_index": index}}
		if doc.ID != "" {
			action["index"].(map[string]any)["_id"] = doc.ID
		}
		if err := json.NewEncoder(&buf).Encode(action); err != nil {
			return nil, fmt.Errorf("search: encode bulk action: %w", err)
		}
		if err := json.NewEncoder(&buf).Encode(doc.Source); err != nil {
			return nil, fmt.Errorf("search: encode bulk document: %w", err)
		}
	}
	return bytes.NewReader(buf.Bytes()), nil
}

// searchResponse is the wire shape of a search result.
type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string         `json:"_id"`
			Score  float64        `json:"_score"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// decodeHits converts a raw search response body into hits.
func decodeHits(body []byte) ([]Hit, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}
	hits := make([]Hit, len(resp.Hits.Hits))
	for i, hit := range resp.Hits.Hits {
		hits[i] = Hit{ID: hit.ID, Score: hit.Score, Source: hit.Source}
	}
	return hits, nil
}

// bulkResponse is the wire shape of a bulk ingestion result.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// decodeBulkErrors extracts the per-document failures of a bulk result.
func decodeBulkErrors(body []byte) ([]IndexError, error) {
	var resp bulkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("search: decode bulk response: %w", err)
	}
	if !resp.Errors {
		return nil, nil
	}

	var failures []IndexError
	for _, item := range resp.Items {
		for _, result := range item {
			if result.Error == nil {
				continue
			}
			failures = append(failures, IndexError{
				ID:     result.ID,
				Status: result.Status,
				Reason: result.Error.Reason,
			})
		}
	}
	return failures, nil
}

// catIndexEntry is one row of a cat indices listing.
type catIndexEntry struct {
	Index string `json:"index"`
}

// decodeIndexNames extracts index names, optionally dropping the
// dot-prefixed system indexes.
func decodeIndexNames(body []byte, includeSystem bool) ([]string, error) {
	var entries []catIndexEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("search: decode index listing: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !includeSystem && strings.HasPrefix(entry.Index, ".") {
			continue
		}
		names = append(names, entry.Index)
	}
	return names, nil
}
