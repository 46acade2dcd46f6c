package storage

import (
	"context"
	"time"
)

// ObjectInfo describes a stored object as returned by listing operations.
type ObjectInfo struct {
	// Key is the object key
	Key string

	// Size is the object size in bytes
	Size int64

	// LastModified is the time the object was last written
	LastModified time.Time

	// ETag is the entity tag assigned by the store
	ETag string

	// StorageClass is the storage class the object is stored under
	StorageClass string
}

// ObjectMetadata holds the metadata of a stored object without its content.
type ObjectMetadata struct {
	// ContentType is the MIME type the object was stored with
	ContentType string

	// ContentLength is the object size in bytes
	ContentLength int64

	// LastModified is the time the object was last written
	LastModified time.Time

	// ETag is the entity tag assigned by the store
	ETag string

	// Metadata holds user-defined metadata pairs
	Metadata map[string]string
}

// BucketInfo describes a bucket as returned by ListBuckets.
type BucketInfo struct {
	// Name is the bucket name
	Name string

	// CreatedAt is the bucket creation time
	CreatedAt time.Time
}

// ListResult holds one page of a listing operation.
type ListResult struct {
	// Objects are the objects in this page
	Objects []ObjectInfo

	// Prefixes are the common prefixes when a delimiter was used
	Prefixes []string

	// IsTruncated reports whether more results are available
	IsTruncated bool

	// NextContinuationToken continues the listing when IsTruncated is true
	NextContinuationToken string
}

// TransferResult reports the outcome of a single file in a batch transfer.
// Results are returned in the order of the input slice.
type TransferResult struct {
	// Key is the object key involved in the transfer
	Key string

	// Path is the local path involved in the transfer
	Path string

	// Size is the number of bytes transferred
	Size int64

	// Err is the per-file error, nil on success
	Err error
}

// DeleteError describes a single failed deletion inside a batch delete.
type DeleteError struct {
	// Key is the object key that failed to delete
	Key string

	// Code is the vendor error code
	Code string

	// Message is the vendor error message
	Message string
}

// DeleteResult reports the outcome of a batch delete.
type DeleteResult struct {
	// Deleted lists the keys that were removed
	Deleted []string

	// Errors lists the per-key failures
	Errors []DeleteError
}

// ObjectStore is the surface shared by the S3-backed and MinIO-backed
// clients. The HTTP facade in storage/server is written against this
// interface so either backend can serve it.
type ObjectStore interface {
	// Put uploads byte data under the given bucket and key.
	Put(ctx context.Context, bucket, key string, data []byte, opts ...UploadOption) error

	// Get downloads an object and returns its content.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// Exists reports whether an object with the given key prefix exists.
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// ListKeys returns all keys under the given prefix.
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)

	// ListBuckets returns the buckets visible to the caller.
	ListBuckets(ctx context.Context) ([]BucketInfo, error)

	// Delete removes a single object.
	Delete(ctx context.Context, bucket, key string) error
}
