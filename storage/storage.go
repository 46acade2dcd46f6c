package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	storageerrors "github.com/PyYel/golcloud/storage/errors"
)

// maxKeysPerDelete is the S3 limit on objects per DeleteObjects request.
const maxKeysPerDelete = 1000

// Upload uploads data from an io.Reader.
// Large payloads are split into multipart uploads using the configured part
// size and concurrency.
//
// Errors:
//   - ErrInvalidInput: if bucket or key is empty, or reader is nil
//   - ErrBucketNotFound: if the bucket doesn't exist
//   - SDK errors wrapped in the package Error type
func (c *Client) Upload(ctx context.Context, bucket, key string, reader io.Reader, opts ...UploadOption) error {
	if err := validateBucketKey("upload", bucket, key); err != nil {
		return err
	}
	if reader == nil {
		return storageerrors.NewObjectError("upload", bucket, key, storageerrors.ErrInvalidInput).
			WithMessage("reader cannot be nil")
	}

	cfg := c.uploadConfig(opts)
	contentType := cfg.contentType
	if contentType == "" {
		contentType = c.detectContentType(key)
	}

	uploader := manager.NewUploader(c.api, func(u *manager.Uploader) {
		u.PartSize = cfg.partSize
		u.Concurrency = cfg.concurrency
	})

	input := &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String(contentType),
	}
	if len(cfg.metadata) > 0 {
		input.Metadata = cfg.metadata
	}

	if _, err := uploader.Upload(ctx, input); err != nil {
		c.logError(ctx, "upload failed", "bucket", bucket, "key", key, "error", err)
		return storageerrors.NewObjectError("upload", bucket, key, c.convertAWSError(err))
	}

	c.logInfo(ctx, "object uploaded", "bucket", bucket, "key", key, "content_type", contentType)
	return nil
}

// UploadFile uploads a file from the local filesystem.
// The content type is sniffed from the file content, falling back to the
// extension table when sniffing is inconclusive.
func (c *Client) UploadFile(ctx context.Context, bucket, key, path string, opts ...UploadOption) error {
	if err := validateBucketKey("uploadFile", bucket, key); err != nil {
		return err
	}
	if path == "" {
		return storageerrors.NewObjectError("uploadFile", bucket, key, storageerrors.ErrInvalidInput).
			WithMessage("path cannot be empty")
	}

	info, err := c.fs.Stat(path)
	if err != nil {
		return storageerrors.NewObjectError("uploadFile", bucket, key, err)
	}
	if info.IsDir() {
		return storageerrors.NewObjectError("uploadFile", bucket, key, storageerrors.ErrInvalidInput).
			WithMessage("path points to a directory, not a file")
	}

	file, err := c.fs.Open(path)
	if err != nil {
		return storageerrors.NewObjectError("uploadFile", bucket, key, err)
	}
	defer file.Close()

	if c.uploadConfig(opts).contentType == "" {
		opts = append(opts, WithContentType(c.detectFileContentType(path)))
	}
	return c.Upload(ctx, bucket, key, file, opts...)
}

// Put uploads byte data. This is a convenience method for small amounts of
// data that fit in memory.
func (c *Client) Put(ctx context.Context, bucket, key string, data []byte, opts ...UploadOption) error {
	if err := validateBucketKey("put", bucket, key); err != nil {
		return err
	}
	return c.Upload(ctx, bucket, key, bytes.NewReader(data), opts...)
}

// Download downloads an object and writes it to an io.Writer.
// The object is streamed directly to the writer.
func (c *Client) Download(ctx context.Context, bucket, key string, writer io.Writer) (int64, error) {
	if err := validateBucketKey("download", bucket, key); err != nil {
		return 0, err
	}
	if writer == nil {
		return 0, storageerrors.NewObjectError("download", bucket, key, storageerrors.ErrInvalidInput).
			WithMessage("writer cannot be nil")
	}

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		c.logError(ctx, "download failed", "bucket", bucket, "key", key, "error", err)
		return 0, storageerrors.NewObjectError("download", bucket, key, c.convertAWSError(err))
	}
	defer out.Body.Close()

	n, err := io.Copy(writer, out.Body)
	if err != nil {
		return n, storageerrors.NewObjectError("download", bucket, key, err)
	}

	c.logInfo(ctx, "object downloaded", "bucket", bucket, "key", key, "size", n)
	return n, nil
}

// DownloadFile downloads an object to a local file. The file is created if
// it doesn't exist, or truncated if it does.
func (c *Client) DownloadFile(ctx context.Context, bucket, key, path string) (int64, error) {
	if err := validateBucketKey("downloadFile", bucket, key); err != nil {
		return 0, err
	}
	if path == "" {
		return 0, storageerrors.NewObjectError("downloadFile", bucket, key, storageerrors.ErrInvalidInput).
			WithMessage("path cannot be empty")
	}

	file, err := c.fs.Create(path)
	if err != nil {
		return 0, storageerrors.NewObjectError("downloadFile", bucket, key, err)
	}
	defer file.Close()

	return c.Download(ctx, bucket, key, file)
}

// Get downloads an entire object and returns it as a byte slice.
// Only use this for objects that fit comfortably in memory; for large
// objects, use Download or DownloadFile instead.
func (c *Client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.Download(ctx, bucket, key, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Exists reports whether at least one object exists under the given key,
// treated as a prefix. This matches the behavior of probing a "directory"
// key as well as an exact object key.
func (c *Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	if err := validateBucketKey("exists", bucket, key); err != nil {
		return false, err
	}

	out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, storageerrors.NewObjectError("exists", bucket, key, c.convertAWSError(err))
	}
	return aws.ToInt32(out.KeyCount) > 0, nil
}

// EnsureKeys checks a batch of keys and returns a map from key to whether
// it exists. The first lookup error aborts the check.
func (c *Client) EnsureKeys(ctx context.Context, bucket string, keys []string) (map[string]bool, error) {
	if bucket == "" {
		return nil, storageerrors.NewBucketError("ensureKeys", bucket, storageerrors.ErrInvalidInput).
			WithMessage("bucket name cannot be empty")
	}
	if len(keys) == 0 {
		return nil, storageerrors.NewBucketError("ensureKeys", bucket, storageerrors.ErrInvalidInput).
			WithMessage("keys cannot be empty")
	}

	found := make(map[string]bool, len(keys))
	for _, key := range keys {
		ok, err := c.Exists(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		found[key] = ok
	}
	return found, nil
}

// List returns one page of objects under the given prefix.
// Set maxKeys between 1 and 1000 to control the page size; pass a
// continuation token from a previous truncated result to fetch the next page.
func (c *Client) List(ctx context.Context, bucket, prefix string, maxKeys int32, continuationToken string) (*ListResult, error) {
	if bucket == "" {
		return nil, storageerrors.NewBucketError("list", bucket, storageerrors.ErrInvalidInput).
			WithMessage("bucket name cannot be empty")
	}
	if maxKeys <= 0 || maxKeys > 1000 {
		maxKeys = 1000
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(maxKeys),
	}
	if continuationToken != "" {
		input.ContinuationToken = aws.String(continuationToken)
	}

	out, err := c.api.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, storageerrors.NewBucketError("list", bucket, c.convertAWSError(err))
	}

	result := &ListResult{
		Objects:     make([]ObjectInfo, 0, len(out.Contents)),
		IsTruncated: aws.ToBool(out.IsTruncated),
	}
	if out.NextContinuationToken != nil {
		result.NextContinuationToken = aws.ToString(out.NextContinuationToken)
	}
	for _, obj := range out.Contents {
		result.Objects = append(result.Objects, ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
			ETag:         aws.ToString(obj.ETag),
			StorageClass: string(obj.StorageClass),
		})
	}
	for _, p := range out.CommonPrefixes {
		result.Prefixes = append(result.Prefixes, aws.ToString(p.Prefix))
	}
	return result, nil
}

// ListKeys returns all keys under the given prefix, following pagination to
// the end.
func (c *Client) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	token := ""
	for {
		page, err := c.List(ctx, bucket, prefix, 1000, token)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Objects {
			keys = append(keys, obj.Key)
		}
		if !page.IsTruncated {
			return keys, nil
		}
		token = page.NextContinuationToken
	}
}

// ListAll streams all objects under a prefix through a channel, following
// pagination automatically. The channel is closed when all objects have
// been sent, an error occurs, or the context is cancelled. Always consume
// the channel completely or cancel the context to avoid goroutine leaks.
func (c *Client) ListAll(ctx context.Context, bucket, prefix string) <-chan ObjectInfo {
	objects := make(chan ObjectInfo, 100)

	go func() {
		defer close(objects)

		token := ""
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			page, err := c.List(ctx, bucket, prefix, 1000, token)
			if err != nil {
				c.logError(ctx, "listAll aborted", "bucket", bucket, "prefix", prefix, "error", err)
				return
			}
			for _, obj := range page.Objects {
				select {
				case objects <- obj:
				case <-ctx.Done():
					return
				}
			}
			if !page.IsTruncated {
				return
			}
			token = page.NextContinuationToken
		}
	}()

	return objects
}

// ListBuckets returns the buckets visible to the caller.
func (c *Client) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	out, err := c.api.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, storageerrors.NewError("listBuckets", c.convertAWSError(err))
	}

	buckets := make([]BucketInfo, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		buckets = append(buckets, BucketInfo{
			Name:      aws.ToString(b.Name),
			CreatedAt: aws.ToTime(b.CreationDate),
		})
	}
	return buckets, nil
}

// Delete deletes a single object. Deleting a key that does not exist is not
// an error (S3 semantics).
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	if err := validateBucketKey("delete", bucket, key); err != nil {
		return err
	}

	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return storageerrors.NewObjectError("delete", bucket, key, c.convertAWSError(err))
	}

	c.logInfo(ctx, "object deleted", "bucket", bucket, "key", key)
	return nil
}

// DeleteMany deletes a batch of objects, splitting the request into chunks
// of at most 1000 keys (the S3 per-request limit). Each object deletion
// succeeds or fails independently; per-key failures are reported in the
// returned DeleteResult rather than aborting the batch.
func (c *Client) DeleteMany(ctx context.Context, bucket string, keys []string) (*DeleteResult, error) {
	if bucket == "" {
		return nil, storageerrors.NewBucketError("deleteMany", bucket, storageerrors.ErrInvalidInput).
			WithMessage("bucket name cannot be empty")
	}
	if len(keys) == 0 {
		return nil, storageerrors.NewBucketError("deleteMany", bucket, storageerrors.ErrInvalidInput).
			WithMessage("keys cannot be empty")
	}
	for _, key := range keys {
		if key == "" {
			return nil, storageerrors.NewBucketError("deleteMany", bucket, storageerrors.ErrInvalidInput).
				WithMessage("empty key in keys slice")
		}
	}

	result := &DeleteResult{}
	for start := 0; start < len(keys); start += maxKeysPerDelete {
		end := min(start+maxKeysPerDelete, len(keys))
		chunk := keys[start:end]

		identifiers := make([]types.ObjectIdentifier, 0, len(chunk))
		for _, key := range chunk {
			identifiers = append(identifiers, types.ObjectIdentifier{Key: aws.String(key)})
		}

		out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: identifiers},
		})
		if err != nil {
			return nil, storageerrors.NewBucketError("deleteMany", bucket, c.convertAWSError(err))
		}

		for _, deleted := range out.Deleted {
			result.Deleted = append(result.Deleted, aws.ToString(deleted.Key))
		}
		for _, derr := range out.Errors {
			result.Errors = append(result.Errors, DeleteError{
				Key:     aws.ToString(derr.Key),
				Code:    aws.ToString(derr.Code),
				Message: aws.ToString(derr.Message),
			})
		}
	}

	c.logInfo(ctx, "batch delete finished",
		"bucket", bucket, "deleted", len(result.Deleted), "failed", len(result.Errors))
	return result, nil
}

// GetMetadata retrieves metadata for an object without downloading the
// content.
func (c *Client) GetMetadata(ctx context.Context, bucket, key string) (*ObjectMetadata, error) {
	if err := validateBucketKey("getMetadata", bucket, key); err != nil {
		return nil, err
	}

	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, storageerrors.NewObjectError("getMetadata", bucket, key, c.convertAWSError(err))
	}

	meta := &ObjectMetadata{
		ContentType:   aws.ToString(out.ContentType),
		ContentLength: aws.ToInt64(out.ContentLength),
		LastModified:  aws.ToTime(out.LastModified),
		ETag:          aws.ToString(out.ETag),
	}
	if len(out.Metadata) > 0 {
		meta.Metadata = make(map[string]string, len(out.Metadata))
		for k, v := range out.Metadata {
			meta.Metadata[k] = v
		}
	}
	return meta, nil
}

// Copy copies an object from one location to another within the store.
// This is a server-side copy; no data is transferred to the client.
func (c *Client) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	if err := validateBucketKey("copy", srcBucket, srcKey); err != nil {
		return err
	}
	if err := validateBucketKey("copy", dstBucket, dstKey); err != nil {
		return err
	}
	if srcBucket == dstBucket && srcKey == dstKey {
		return storageerrors.NewObjectError("copy", srcBucket, srcKey, storageerrors.ErrInvalidInput).
			WithMessage("cannot copy object to itself")
	}

	_, err := c.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dstBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(srcBucket + "/" + srcKey),
	})
	if err != nil {
		return storageerrors.NewObjectError("copy", dstBucket, dstKey, c.convertAWSError(err)).
			WithMessage("failed to copy from " + srcBucket + "/" + srcKey)
	}
	return nil
}

// Move moves an object by copying it and then deleting the original.
// If the copy succeeds but the delete fails, the object exists in both
// locations; callers needing atomicity must verify afterwards.
func (c *Client) Move(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	if err := c.Copy(ctx, srcBucket, srcKey, dstBucket, dstKey); err != nil {
		return storageerrors.NewObjectError("move", srcBucket, srcKey, err).
			WithMessage("failed to copy object during move")
	}
	if err := c.Delete(ctx, srcBucket, srcKey); err != nil {
		return storageerrors.NewObjectError("move", srcBucket, srcKey, err).
			WithMessage("failed to delete original object after copy")
	}
	return nil
}

// EditKey renames an object within a bucket by copying it under the new key.
// When keepOriginal is true the source object is left in place, turning the
// rename into a copy.
func (c *Client) EditKey(ctx context.Context, bucket, key, newKey string, keepOriginal bool) error {
	if keepOriginal {
		return c.Copy(ctx, bucket, key, bucket, newKey)
	}
	return c.Move(ctx, bucket, key, bucket, newKey)
}

// CreateBucket creates a new bucket. The region configured on the client is
// sent as the location constraint for regions other than us-east-1, which
// rejects an explicit constraint.
func (c *Client) CreateBucket(ctx context.Context, bucket string) error {
	if err := validateBucketName(bucket); err != nil {
		return storageerrors.NewBucketError("createBucket", bucket, storageerrors.ErrInvalidBucketName).
			WithMessage(err.Error())
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if c.cfg.Region != "" && c.cfg.Region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.cfg.Region),
		}
	}

	if _, err := c.api.CreateBucket(ctx, input); err != nil {
		return storageerrors.NewBucketError("createBucket", bucket, c.convertAWSError(err))
	}

	c.logInfo(ctx, "bucket created", "bucket", bucket)
	return nil
}

// DeleteBucket deletes a bucket. The bucket must be empty.
func (c *Client) DeleteBucket(ctx context.Context, bucket string) error {
	if err := validateBucketName(bucket); err != nil {
		return storageerrors.NewBucketError("deleteBucket", bucket, storageerrors.ErrInvalidBucketName).
			WithMessage(err.Error())
	}

	if _, err := c.api.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return storageerrors.NewBucketError("deleteBucket", bucket, c.convertAWSError(err))
	}

	c.logInfo(ctx, "bucket deleted", "bucket", bucket)
	return nil
}

// uploadConfig assembles per-upload settings with client-level defaults.
func (c *Client) uploadConfig(opts []UploadOption) *uploadConfig {
	cfg := &uploadConfig{
		partSize:    c.partSize,
		concurrency: c.concurrency,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// convertAWSError maps AWS SDK errors to the package sentinel errors.
func (c *Client) convertAWSError(err error) error {
	if err == nil {
		return nil
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return storageerrors.ErrObjectNotFound
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return storageerrors.ErrObjectNotFound
	}
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return storageerrors.ErrBucketNotFound
	}
	var bucketExists *types.BucketAlreadyExists
	if errors.As(err, &bucketExists) {
		return storageerrors.ErrBucketAlreadyExists
	}
	var bucketOwned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &bucketOwned) {
		return storageerrors.ErrBucketAlreadyExists
	}

	// Error codes not surfaced as typed errors by the SDK.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchKey"):
		return storageerrors.ErrObjectNotFound
	case strings.Contains(msg, "NoSuchBucket"):
		return storageerrors.ErrBucketNotFound
	case strings.Contains(msg, "BucketNotEmpty"):
		return storageerrors.ErrBucketNotEmpty
	case strings.Contains(msg, "BucketAlreadyExists"):
		return storageerrors.ErrBucketAlreadyExists
	case strings.Contains(msg, "AccessDenied"):
		return storageerrors.ErrAccessDenied
	case strings.Contains(msg, "SlowDown"), strings.Contains(msg, "TooManyRequests"):
		return storageerrors.ErrTooManyRequests
	}
	return err
}
