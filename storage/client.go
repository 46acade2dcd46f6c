// Package storage provides simplified object-storage clients over the AWS
// S3 SDK and MinIO, with convenience helpers for batch and directory
// transfers, key management, and content-addressed ids.
package storage

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/PyYel/golcloud/fsx"
	"github.com/PyYel/golcloud/internal/contenthash"
	storageerrors "github.com/PyYel/golcloud/storage/errors"
	"github.com/PyYel/golcloud/storage/internal/s3api"
)

const (
	// defaultConcurrency bounds parallel transfers in batch operations.
	defaultConcurrency = 5

	// defaultPartSize is the multipart upload part size.
	defaultPartSize = 8 * 1024 * 1024

	// defaultMaxRetries is the SDK retry budget.
	defaultMaxRetries = 3
)

// Client is an S3-backed object storage client.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	api    s3api.S3API
	cfg    aws.Config
	logger *slog.Logger
	fs     fsx.Filesystem

	concurrency int
	partSize    int64
}

// compile-time check that Client satisfies the shared store surface.
var _ ObjectStore = (*Client)(nil)

// New creates a new S3-backed storage client with the provided options.
// It loads AWS credentials using the default credential chain and applies
// the specified configuration options.
//
// Example:
//
//	client, err := storage.New(
//	    storage.WithRegion("eu-west-1"),
//	    storage.WithMaxRetries(3),
//	)
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cc := &clientConfig{
		maxRetries:  defaultMaxRetries,
		concurrency: defaultConcurrency,
		partSize:    defaultPartSize,
	}
	for _, opt := range opts {
		opt(cc)
	}

	var cfg aws.Config
	var err error

	if cc.customAWSConfig != nil {
		cfg = *cc.customAWSConfig
	} else {
		cfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, storageerrors.NewError("client initialization", err)
		}
	}

	if cc.region != "" {
		cfg.Region = cc.region
	} else if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cc.maxRetries > 0 {
		cfg.RetryMaxAttempts = cc.maxRetries
	}
	if cc.accessKeyID != "" {
		cfg.Credentials = credentials.NewStaticCredentialsProvider(cc.accessKeyID, cc.secretAccessKey, "")
	}

	var s3Opts []func(*s3.Options)
	if cc.endpoint != "" {
		endpoint := cc.endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cc.forcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	if cc.httpClient != nil {
		httpClient := cc.httpClient
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.HTTPClient = httpClient
		})
	} else if cc.timeout > 0 {
		httpClient := &http.Client{Timeout: cc.timeout}
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.HTTPClient = httpClient
		})
	}

	filesystem := cc.fs
	if filesystem == nil {
		filesystem = fsx.OS()
	}

	return &Client{
		api:         s3.NewFromConfig(cfg, s3Opts...),
		cfg:         cfg,
		logger:      cc.logger,
		fs:          filesystem,
		concurrency: cc.concurrency,
		partSize:    cc.partSize,
	}, nil
}

// NewWithClient creates a storage client with a custom S3 API implementation.
// This is primarily used for testing with mocked clients.
func NewWithClient(api s3api.S3API, opts ...Option) *Client {
	cc := &clientConfig{
		concurrency: defaultConcurrency,
		partSize:    defaultPartSize,
	}
	for _, opt := range opts {
		opt(cc)
	}

	filesystem := cc.fs
	if filesystem == nil {
		filesystem = fsx.OS()
	}

	return &Client{
		api:         api,
		cfg:         aws.Config{Region: cc.region},
		logger:      cc.logger,
		fs:          filesystem,
		concurrency: cc.concurrency,
		partSize:    cc.partSize,
	}
}

// SetFilesystem replaces the filesystem implementation used for file
// operations. Useful when the filesystem must change after construction.
func (c *Client) SetFilesystem(filesystem fsx.Filesystem) {
	c.fs = filesystem
}

// ContentHash derives a deterministic object id from content, optionally
// namespaced by prefixes. The format is "<prefix1>-<prefix2>-<md5hex>".
// Writing identical content under its ContentHash id overwrites the
// previous record instead of duplicating it.
func ContentHash(data []byte, prefixes ...string) string {
	return contenthash.Sum(data, prefixes...)
}

// logInfo logs at Info level when a logger is configured.
func (c *Client) logInfo(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.InfoContext(ctx, msg, args...)
	}
}

// logWarn logs at Warn level when a logger is configured.
func (c *Client) logWarn(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.WarnContext(ctx, msg, args...)
	}
}

// logError logs at Error level when a logger is configured.
func (c *Client) logError(ctx context.Context, msg string, args ...any) {
	if c.logger != nil {
		c.logger.ErrorContext(ctx, msg, args...)
	}
}
