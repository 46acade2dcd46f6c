package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// inferenceConfig holds the configuration assembled from InferenceOptions.
type inferenceConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// InferenceOption configures the inference-server provider.
type InferenceOption func(*inferenceConfig)

// WithInferenceHTTPClient provides a custom HTTP client.
func WithInferenceHTTPClient(client *http.Client) InferenceOption {
	return func(c *inferenceConfig) {
		c.httpClient = client
	}
}

// WithInferenceLogger sets the structured logger used by the provider.
func WithInferenceLogger(logger *slog.Logger) InferenceOption {
	return func(c *inferenceConfig) {
		c.logger = logger
	}
}

// InferenceProvider generates text through a self-hosted inference server
// exposing the /infer/generate endpoint.
type InferenceProvider struct {
	host       string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Generator = (*InferenceProvider)(nil)

// NewInference creates a provider for a self-hosted inference server. The
// host is the server base URL, e.g. http://localhost:8000.
func NewInference(host string, opts ...InferenceOption) (*InferenceProvider, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: host cannot be empty", ErrInvalidInput)
	}

	cfg := &inferenceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 300 * time.Second}
	}

	return &InferenceProvider{
		host:       strings.TrimSuffix(host, "/"),
		httpClient: httpClient,
		logger:     cfg.logger,
	}, nil
}

// inferenceResponse is the server's response envelope.
type inferenceResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Response []string `json:"response"`
	} `json:"data"`
}

// Generate sends the prompt to the inference server and joins the returned
// response parts. System prompts and history are not supported by the
// server and are ignored.
func (p *InferenceProvider) Generate(ctx context.Context, prompt string, opts ...GenerateOption) (*GenerateResult, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt cannot be empty", ErrInvalidInput)
	}

	endpoint := fmt.Sprintf("%s/infer/generate?message=%s", p.host, url.QueryEscape(prompt))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("llm: build inference request: %w", err)
	}

	httpResp, err := p.httpClient.Do(req)
	if err != nil {
		p.logError(ctx, "inference request failed", "host", p.host, "error", err)
		return nil, fmt.Errorf("llm: inference request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read inference response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: inference server returned status %d", httpResp.StatusCode)
	}

	var resp inferenceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("llm: decode inference response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("llm: inference server error: %s", resp.Message)
	}

	return &GenerateResult{Text: strings.Join(resp.Data.Response, "")}, nil
}

func (p *InferenceProvider) logError(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.ErrorContext(ctx, msg, args...)
	}
}
