package llm

import (
	"bytes"
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

// defaultAzureAPIVersion is the chat-completions API version requested when
// none is configured.
const defaultAzureAPIVersion = "2024-02-01"

// azureConfig holds the configuration assembled from AzureOptions.
type azureConfig struct {
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

// AzureOption configures the Azure provider.
type AzureOption func(*azureConfig)

// WithAzureAPIVersion overrides the chat-completions API version.
func WithAzureAPIVersion(version string) AzureOption {
	return func(c *azureConfig) {
		c.apiVersion = version
	}
}

// WithAzureHTTPClient provides a custom HTTP client.
func WithAzureHTTPClient(client *http.Client) AzureOption {
	return func(c *azureConfig) {
		c.httpClient = client
	}
}

// WithAzureLogger sets the structured logger used by the provider.
func WithAzureLogger(logger *slog.Logger) AzureOption {
	return func(c *azureConfig) {
		c.logger = logger
	}
}

// AzureProvider generates text through an Azure OpenAI deployment.
type AzureProvider struct {
	endpoint   string
	deployment string
	apiKey     string
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Generator = (*AzureProvider)(nil)

// NewAzure creates a provider for a chat deployment. The endpoint is the
// resource base URL, e.g. https://my-resource.openai.azure.com.
func NewAzure(endpoint, deployment, apiKey string, opts ...AzureOption) (*AzureProvider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint cannot be empty", ErrInvalidInput)
	}
	if deployment == "" {
		return nil, fmt.Errorf("%w: deployment cannot be empty", ErrInvalidInput)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: api key cannot be empty", ErrInvalidInput)
	}

	cfg := &azureConfig{apiVersion: defaultAzureAPIVersion}
	for _, opt := range opts {
		opt(cfg)
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	return &AzureProvider{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		deployment: deployment,
		apiKey:     apiKey,
		apiVersion: cfg.apiVersion,
		httpClient: httpClient,
		logger:     cfg.logger,
	}, nil
}

// azureChatMessage is one turn in the chat-completions payload.
type azureChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// azureChatRequest is the chat-completions payload.
type azureChatRequest struct {
	Messages    []azureChatMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p"`
	MaxTokens   int                `json:"max_tokens"`
}

// azureChatResponse is the chat-completions result payload.
type azureChatResponse struct {
	Choices []struct {
		Message azureChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate runs a chat completion on the deployment.
func (p *AzureProvider) Generate(ctx context.Context, prompt string, opts ...GenerateOption) (*GenerateResult, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt cannot be empty", ErrInvalidInput)
	}

	cfg := newGenerateConfig(opts)

	req := azureChatRequest{
		Temperature: cfg.temperature,
		TopP:        cfg.topP,
		MaxTokens:   cfg.maxTokens,
	}
	if cfg.system != "" {
		req.Messages = append(req.Messages, azureChatMessage{Role: "system", Content: cfg.system})
	}
	for _, msg := range cfg.history {
		req.Messages = append(req.Messages, azureChatMessage{Role: msg.Role, Content: msg.Content})
	}
	req.Messages = append(req.Messages, azureChatMessage{Role: RoleUser, Content: prompt})

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: encode azure request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		p.endpoint, url.PathEscape(p.deployment), url.QueryEscape(p.apiVersion))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build azure request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logError(ctx, "azure request failed", "deployment", p.deployment, "error", err)
		return nil, fmt.Errorf("llm: azure request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm: read azure response: %w", err)
	}

	var resp azureChatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("llm: decode azure response (status %d): %w", httpResp.StatusCode, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("llm: azure error %s: %s", resp.Error.Code, resp.Error.Message)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: azure returned status %d", httpResp.StatusCode)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: azure returned no choices")
	}

	result := &GenerateResult{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	p.logInfo(ctx, "generation completed",
		"deployment", p.deployment,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
	)
	return result, nil
}

func (p *AzureProvider) logInfo(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.InfoContext(ctx, msg, args...)
	}
}

func (p *AzureProvider) logError(ctx context.Context, msg string, args ...any) {
	if p.logger != nil {
		p.logger.ErrorContext(ctx, msg, args...)
	}
}
