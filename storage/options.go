package storage

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/PyYel/golcloud/fsx"
)

// clientConfig holds the configuration assembled from Options before the
// underlying SDK client is constructed.
type clientConfig struct {
	region         string
	endpoint       string
	forcePathStyle bool
	maxRetries     int
	timeout        time.Duration
	concurrency    int
	partSize       int64

	accessKeyID     string
	secretAccessKey string

	customAWSConfig *aws.Config
	httpClient      *http.Client
	logger          *slog.Logger
	fs              fsx.Filesystem
}

// Option configures the storage client.
type Option func(*clientConfig)

// WithRegion sets the region for storage operations.
// If not specified, uses the default region from the credential chain.
func WithRegion(region string) Option {
	return func(c *clientConfig) {
		c.region = region
	}
}

// WithEndpoint sets a custom endpoint URL.
// This is useful for S3-compatible services or local testing with LocalStack.
func WithEndpoint(endpoint string) Option {
	return func(c *clientConfig) {
		c.endpoint = endpoint
	}
}

// WithForcePathStyle forces path-style URLs instead of virtual-hosted style.
// Required for S3-compatible services that don't support virtual hosting.
func WithForcePathStyle(force bool) Option {
	return func(c *clientConfig) {
		c.forcePathStyle = force
	}
}

// WithStaticCredentials sets static credentials instead of the default
// credential chain. Useful for custom endpoints.
func WithStaticCredentials(accessKeyID, secretAccessKey string) Option {
	return func(c *clientConfig) {
		c.accessKeyID = accessKeyID
		c.secretAccessKey = secretAccessKey
	}
}

// WithMaxRetries sets the maximum number of retry attempts for failed
// operations. Default is 3 retries.
func WithMaxRetries(maxRetries int) Option {
	return func(c *clientConfig) {
		c.maxRetries = maxRetries
	}
}

// WithTimeout sets the timeout for individual operations.
// Default is no timeout (0).
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithConcurrency sets the maximum number of concurrent transfers used by
// batch and multipart operations. Default is 5.
func WithConcurrency(concurrency int) Option {
	return func(c *clientConfig) {
		if concurrency > 0 {
			c.concurrency = concurrency
		}
	}
}

// WithPartSize sets the part size for multipart uploads.
// Default is 8MB. Must be at least 5MB for S3 multipart uploads.
func WithPartSize(partSize int64) Option {
	return func(c *clientConfig) {
		if partSize > 0 {
			c.partSize = partSize
		}
	}
}

// WithAWSConfig provides a fully built AWS configuration, overriding the
// default configuration loading behavior.
func WithAWSConfig(cfg *aws.Config) Option {
	return func(c *clientConfig) {
		c.customAWSConfig = cfg
	}
}

// WithHTTPClient provides a custom HTTP client for full control over HTTP
// behavior including timeouts and proxies.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithLogger sets the structured logger used by the client.
// When no logger is set, operations run silently.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithFilesystem sets a custom filesystem implementation for file
// operations. This allows using in-memory filesystems for testing.
// If not specified, defaults to the OS filesystem.
func WithFilesystem(filesystem fsx.Filesystem) Option {
	return func(c *clientConfig) {
		c.fs = filesystem
	}
}

// uploadConfig holds per-upload settings assembled from UploadOptions.
type uploadConfig struct {
	contentType string
	metadata    map[string]string
	partSize    int64
	concurrency int
}

// UploadOption configures a single upload operation.
type UploadOption func(*uploadConfig)

// WithContentType sets the content type for an upload, bypassing detection.
func WithContentType(contentType string) UploadOption {
	return func(c *uploadConfig) {
		c.contentType = contentType
	}
}

// WithMetadata sets user metadata pairs for an upload.
func WithMetadata(metadata map[string]string) UploadOption {
	return func(c *uploadConfig) {
		if c.metadata == nil {
			c.metadata = make(map[string]string)
		}
		for k, v := range metadata {
			c.metadata[k] = v
		}
	}
}

// WithUploadPartSize overrides the client-level part size for this upload.
func WithUploadPartSize(partSize int64) UploadOption {
	return func(c *uploadConfig) {
		if partSize > 0 {
			c.partSize = partSize
		}
	}
}

// WithUploadConcurrency overrides the client-level concurrency for this upload.
func WithUploadConcurrency(concurrency int) UploadOption {
	return func(c *uploadConfig) {
		if concurrency > 0 {
			c.concurrency = concurrency
		}
	}
}
