// Package secrets wraps AWS Secrets Manager with caching, custom retry
// logic, and JSON payload decoding.
//
// Secret values are never logged; only secret names and operation metadata
// appear in log output. All Client methods are safe for concurrent use.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

// AWS error codes handled explicitly.
const (
	resourceNotFoundException = "ResourceNotFoundException"
	accessDeniedException     = "AccessDeniedException"
)

// ManagerAPI is the Secrets Manager surface used by the client.
type ManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)

	PutSecretValue(
		ctx context.Context,
		params *secretsmanager.PutSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.PutSecretValueOutput, error)

	CreateSecret(
		ctx context.Context,
		params *secretsmanager.CreateSecretInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.CreateSecretOutput, error)

	DescribeSecret(
		ctx context.Context,
		params *secretsmanager.DescribeSecretInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.DescribeSecretOutput, error)
}

// Verify that the SDK client implements our interface
var _ ManagerAPI = (*secretsmanager.Client)(nil)

// Client provides a high-level interface to AWS Secrets Manager.
type Client struct {
	api     ManagerAPI
	logger  *slog.Logger
	cache   Cache
	retryer Retryer
}

// New creates a client using the default AWS credential chain.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	options := &clientOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var loadOpts []func(*config.LoadOptions) error
	if options.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(options.region))
	}
	if r, ok := options.retryer.(aws.Retryer); ok {
		loadOpts = append(loadOpts, config.WithRetryer(func() aws.Retryer { return r }))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to load AWS config: %w", err)
	}

	return &Client{
		api:     secretsmanager.NewFromConfig(cfg),
		logger:  options.logger,
		cache:   options.cache,
		retryer: options.retryer,
	}, nil
}

// NewWithConfig creates a client from a fully built AWS configuration.
func NewWithConfig(cfg aws.Config, opts ...Option) (*Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("secrets: config region cannot be empty: %w", ErrInvalidInput)
	}

	options := &clientOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &Client{
		api:     secretsmanager.NewFromConfig(cfg),
		logger:  options.logger,
		cache:   options.cache,
		retryer: options.retryer,
	}, nil
}

// NewWithLocalStack creates a client pointed at a LocalStack endpoint.
// Intended for integration tests.
func NewWithLocalStack(ctx context.Context, endpointURL string, opts ...Option) (*Client, error) {
	if endpointURL == "" {
		return nil, fmt.Errorf("secrets: endpoint URL cannot be empty: %w", ErrInvalidInput)
	}

	options := &clientOptions{region: "us-east-1"}
	for _, opt := range opts {
		opt(options)
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(options.region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to load AWS config: %w", err)
	}

	api := secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) {
		o.BaseEndpoint = aws.String(endpointURL)
	})

	return &Client{
		api:     api,
		logger:  options.logger,
		cache:   options.cache,
		retryer: options.retryer,
	}, nil
}

// NewWithCache creates a client with an in-memory TTL cache enabled.
func NewWithCache(ctx context.Context, cacheTTL time.Duration, cacheSize int, opts ...Option) (*Client, error) {
	if cacheTTL <= 0 {
		return nil, fmt.Errorf("secrets: cache TTL must be positive: %w", ErrInvalidInput)
	}
	opts = append(opts, WithCache(NewInMemoryCache(cacheTTL, cacheSize)))
	return New(ctx, opts...)
}

// NewWithAPI creates a client over a custom API implementation. This is
// primarily used for testing with mocked clients.
func NewWithAPI(api ManagerAPI, opts ...Option) *Client {
	options := &clientOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return &Client{
		api:     api,
		logger:  options.logger,
		cache:   options.cache,
		retryer: options.retryer,
	}
}

// GetSecret retrieves a secret value. Binary secrets are returned as their
// string representation.
func (c *Client) GetSecret(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secrets: secret name cannot be empty: %w", ErrInvalidInput)
	}

	c.logInfo(ctx, "retrieving secret", "secret_name", name)

	out, err := c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		c.logError(ctx, "failed to retrieve secret", "secret_name", name, "error", err)
		return "", c.wrapError(err, "GetSecret")
	}

	switch {
	case out.SecretString != nil:
		return *out.SecretString, nil
	case out.SecretBinary != nil:
		return string(out.SecretBinary), nil
	default:
		return "", fmt.Errorf("GetSecret: %w", ErrSecretEmpty)
	}
}

// GetSecretJSON retrieves a secret value and unmarshals it into v. The
// secret must hold a JSON document, the common shape for database
// credentials.
func (c *Client) GetSecretJSON(ctx context.Context, name string, v any) error {
	value, err := c.GetSecret(ctx, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return fmt.Errorf("secrets: secret %q is not valid JSON: %w", name, err)
	}
	return nil
}

// PutSecret updates the value of an existing secret.
func (c *Client) PutSecret(ctx context.Context, name, value string) error {
	if name == "" {
		return fmt.Errorf("secrets: secret name cannot be empty: %w", ErrInvalidInput)
	}
	if value == "" {
		return fmt.Errorf("secrets: secret value cannot be empty: %w", ErrInvalidInput)
	}

	c.logInfo(ctx, "updating secret", "secret_name", name)

	_, err := c.api.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(value),
	})
	if err != nil {
		c.logError(ctx, "failed to update secret", "secret_name", name, "error", err)
		return c.wrapError(err, "PutSecret")
	}

	// A stale cache entry would serve the old value until expiry.
	if c.cache != nil {
		c.cache.Delete(name)
	}
	return nil
}

// CreateSecret creates a new secret, optionally encrypted with a
// customer-managed KMS key.
func (c *Client) CreateSecret(ctx context.Context, name, value, kmsKeyID string) error {
	if name == "" {
		return fmt.Errorf("secrets: secret name cannot be empty: %w", ErrInvalidInput)
	}
	if value == "" {
		return fmt.Errorf("secrets: secret value cannot be empty: %w", ErrInvalidInput)
	}

	c.logInfo(ctx, "creating secret", "secret_name", name)

	input := &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(value),
	}
	if kmsKeyID != "" {
		input.KmsKeyId = aws.String(kmsKeyID)
	}

	if _, err := c.api.CreateSecret(ctx, input); err != nil {
		c.logError(ctx, "failed to create secret", "secret_name", name, "error", err)
		return c.wrapError(err, "CreateSecret")
	}
	return nil
}

// DescribeSecret retrieves metadata about a secret without its value.
func (c *Client) DescribeSecret(ctx context.Context, name string) (*secretsmanager.DescribeSecretOutput, error) {
	if name == "" {
		return nil, fmt.Errorf("secrets: secret name cannot be empty: %w", ErrInvalidInput)
	}

	out, err := c.api.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, c.wrapError(err, "DescribeSecret")
	}
	return out, nil
}

// GetSecretCached retrieves a secret, serving cached values while fresh.
// Without a configured cache it behaves like GetSecret.
func (c *Client) GetSecretCached(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secrets: secret name cannot be empty: %w", ErrInvalidInput)
	}
	if c.cache == nil {
		return c.GetSecret(ctx, name)
	}

	if value, ok := c.cache.Get(name); ok {
		c.logInfo(ctx, "cache hit for secret", "secret_name", name)
		return value, nil
	}

	value, err := c.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	c.cache.Set(name, value, 0)
	return value, nil
}

// Invalidate removes a secret from the cache so the next cached read
// fetches a fresh value.
func (c *Client) Invalidate(name string) {
	if c.cache != nil && name != "" {
		c.cache.Delete(name)
	}
}

// ClearCache removes all cached values.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// wrapError maps AWS API errors to sentinels and annotates everything else
// with the failing operation.
func (c *Client) wrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case resourceNotFoundException:
			return fmt.Errorf("%s: %w", operation, ErrSecretNotFound)
		case accessDeniedException:
			return fmt.Errorf("%s: %w", operation, ErrAccessDenied)
		}
		return fmt.Errorf("%s operation failed: %s: %s",
			operation, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}

	return fmt.Errorf("%s operation failed: %w", operation, err)
}

func (c *Client) logInfo(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.InfoContext(ctx, msg, args...)
	}
}

func (c *Client) logError(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.ErrorContext(ctx, msg, args...)
	}
}
