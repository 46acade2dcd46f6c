package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	storageerrors "github.com/PyYel/golcloud/storage/errors"
)

// Defaults match a local MinIO started with the stock docker compose setup.
const (
	defaultMinIOEndpoint  = "localhost:9000"
	defaultMinIOAccessKey = "admin"
	defaultMinIOSecretKey = "password"
	defaultMinIORegion    = "eu-west-1"
)

// minioConfig holds the configuration assembled from MinIOOptions.
type minioConfig struct {
	endpoint  string
	accessKey string
	secretKey string
	region    string
	secure    bool
	logger    *slog.Logger
}

// MinIOOption configures the MinIO-backed client.
type MinIOOption func(*minioConfig)

// WithMinIOEndpoint sets the MinIO server endpoint (host:port). A scheme
// prefix is accepted and determines TLS usage: "http://" disables it,
// "https://" enables it.
func WithMinIOEndpoint(endpoint string) MinIOOption {
	return func(c *minioConfig) {
		switch {
		case strings.HasPrefix(endpoint, "https://"):
			c.endpoint = strings.TrimPrefix(endpoint, "https://")
			c.secure = true
		case strings.HasPrefix(endpoint, "http://"):
			c.endpoint = strings.TrimPrefix(endpoint, "http://")
			c.secure = false
		default:
			c.endpoint = endpoint
		}
	}
}

// WithMinIOCredentials sets the access and secret keys.
func WithMinIOCredentials(accessKey, secretKey string) MinIOOption {
	return func(c *minioConfig) {
		c.accessKey = accessKey
		c.secretKey = secretKey
	}
}

// WithMinIORegion sets the region used for bucket operations.
func WithMinIORegion(region string) MinIOOption {
	return func(c *minioConfig) {
		c.region = region
	}
}

// WithMinIOTLS enables or disables TLS on the connection.
func WithMinIOTLS(secure bool) MinIOOption {
	return func(c *minioConfig) {
		c.secure = secure
	}
}

// WithMinIOLogger sets the structured logger used by the client.
func WithMinIOLogger(logger *slog.Logger) MinIOOption {
	return func(c *minioConfig) {
		c.logger = logger
	}
}

// MinIOClient is a MinIO-backed object storage client. It exposes the same
// store surface as the S3-backed Client so callers and the HTTP facade can
// use either interchangeably.
type MinIOClient struct {
	mc     *minio.Client
	region string
	logger *slog.Logger
}

var _ ObjectStore = (*MinIOClient)(nil)

// NewMinIO creates a MinIO-backed storage client. Without options it
// targets a local development server on localhost:9000 with the default
// admin credentials and TLS disabled.
func NewMinIO(opts ...MinIOOption) (*MinIOClient, error) {
	cfg := &minioConfig{
		endpoint:  defaultMinIOEndpoint,
		accessKey: defaultMinIOAccessKey,
		secretKey: defaultMinIOSecretKey,
		region:    defaultMinIORegion,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretKey, ""),
		Secure: cfg.secure,
		Region: cfg.region,
	})
	if err != nil {
		return nil, storageerrors.NewError("minio client initialization", err)
	}

	return &MinIOClient{mc: mc, region: cfg.region, logger: cfg.logger}, nil
}

// Put uploads byte data under the given bucket and key.
func (m *MinIOClient) Put(ctx context.Context, bucket, key string, data []byte, opts ...UploadOption) error {
	if err := validateBucketKey("put", bucket, key); err != nil {
		return err
	}

	cfg := &uploadConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	contentType := cfg.contentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := m.mc.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: cfg.metadata,
	})
	if err != nil {
		return storageerrors.NewObjectError("put", bucket, key, convertMinIOError(err))
	}

	if m.logger != nil {
		m.logger.InfoContext(ctx, "object uploaded", "bucket", bucket, "key", key)
	}
	return nil
}

// Get downloads an object and returns its content.
func (m *MinIOClient) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := validateBucketKey("get", bucket, key); err != nil {
		return nil, err
	}

	obj, err := m.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storageerrors.NewObjectError("get", bucket, key, convertMinIOError(err))
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, storageerrors.NewObjectError("get", bucket, key, convertMinIOError(err))
	}
	return data, nil
}

// Exists reports whether at least one object exists under the given key
// prefix.
func (m *MinIOClient) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if err := validateBucketKey("exists", bucket, key); err != nil {
		return false, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range m.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: key, MaxKeys: 1}) {
		if obj.Err != nil {
			return false, storageerrors.NewObjectError("exists", bucket, key, convertMinIOError(obj.Err))
		}
		return true, nil
	}
	return false, nil
}

// ListKeys returns all keys under the given prefix.
func (m *MinIOClient) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	if bucket == "" {
		return nil, storageerrors.NewBucketError("listKeys", bucket, storageerrors.ErrInvalidInput).
			WithMessage("bucket name cannot be empty")
	}

	var keys []string
	for obj := range m.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, storageerrors.NewBucketError("listKeys", bucket, convertMinIOError(obj.Err))
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// ListBuckets returns the buckets visible to the caller.
func (m *MinIOClient) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	infos, err := m.mc.ListBuckets(ctx)
	if err != nil {
		return nil, storageerrors.NewError("listBuckets", convertMinIOError(err))
	}

	buckets := make([]BucketInfo, 0, len(infos))
	for _, b := range infos {
		buckets = append(buckets, BucketInfo{Name: b.Name, CreatedAt: b.CreationDate})
	}
	return buckets, nil
}

// Delete removes a single object.
func (m *MinIOClient) Delete(ctx context.Context, bucket, key string) error {
	if err := validateBucketKey("delete", bucket, key); err != nil {
		return err
	}

	if err := m.mc.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return storageerrors.NewObjectError("delete", bucket, key, convertMinIOError(err))
	}
	return nil
}

// CreateBucket creates a bucket in the configured region. Creating a bucket
// that already exists and is owned by the caller is not an error.
func (m *MinIOClient) CreateBucket(ctx context.Context, bucket string) error {
	if err := validateBucketName(bucket); err != nil {
		return storageerrors.NewBucketError("createBucket", bucket, storageerrors.ErrInvalidBucketName).
			WithMessage(err.Error())
	}

	err := m.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.region})
	if err != nil {
		exists, probeErr := m.mc.BucketExists(ctx, bucket)
		if probeErr == nil && exists {
			return nil
		}
		return storageerrors.NewBucketError("createBucket", bucket, convertMinIOError(err))
	}
	return nil
}

// DeleteBucket deletes a bucket. The bucket must be empty.
func (m *MinIOClient) DeleteBucket(ctx context.Context, bucket string) error {
	if err := validateBucketName(bucket); err != nil {
		return storageerrors.NewBucketError("deleteBucket", bucket, storageerrors.ErrInvalidBucketName).
			WithMessage(err.Error())
	}

	if err := m.mc.RemoveBucket(ctx, bucket); err != nil {
		return storageerrors.NewBucketError("deleteBucket", bucket, convertMinIOError(err))
	}
	return nil
}

// convertMinIOError maps MinIO response codes to the package sentinel
// errors.
func convertMinIOError(err error) error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey":
		return storageerrors.ErrObjectNotFound
	case "NoSuchBucket":
		return storageerrors.ErrBucketNotFound
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return storageerrors.ErrBucketAlreadyExists
	case "BucketNotEmpty":
		return storageerrors.ErrBucketNotEmpty
	case "AccessDenied":
		return storageerrors.ErrAccessDenied
	case "SlowDown":
		return storageerrors.ErrTooManyRequests
	}
	return err
}
