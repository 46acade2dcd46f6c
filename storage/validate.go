package storage

import (
	"fmt"
	"net"
	"strings"

	storageerrors "github.com/PyYel/golcloud/storage/errors"
)

// validateBucketKey checks the bucket/key pair common to object operations.
func validateBucketKey(op, bucket, key string) error {
	if bucket == "" {
		return storageerrors.NewObjectError(op, bucket, key, storageerrors.ErrInvalidInput).
			WithMessage("bucket name cannot be empty")
	}
	if key == "" {
		return storageerrors.NewObjectError(op, bucket, key, storageerrors.ErrInvalidInput).
			WithMessage("object key cannot be empty")
	}
	if err := validateObjectKey(key); err != nil {
		return storageerrors.NewObjectError(op, bucket, key, storageerrors.ErrInvalidObjectKey).
			WithMessage(err.Error())
	}
	return nil
}

// validateBucketName checks a bucket name against the S3 naming rules.
func validateBucketName(bucket string) error {
	if bucket == "" {
		return fmt.Errorf("bucket name cannot be empty")
	}
	if len(bucket) < 3 || len(bucket) > 63 {
		return fmt.Errorf("bucket name must be between 3 and 63 characters")
	}
	for _, r := range bucket {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '-' && r != '.' {
			return fmt.Errorf("bucket name contains invalid character %q", r)
		}
	}
	if strings.HasPrefix(bucket, "-") || strings.HasSuffix(bucket, "-") ||
		strings.HasPrefix(bucket, ".") || strings.HasSuffix(bucket, ".") {
		return fmt.Errorf("bucket name cannot start or end with a hyphen or period")
	}
	if strings.Contains(bucket, "..") {
		return fmt.Errorf("bucket name cannot contain consecutive periods")
	}
	if net.ParseIP(bucket) != nil {
		return fmt.Errorf("bucket name cannot be formatted as an IP address")
	}
	return nil
}

// validateObjectKey checks an object key for S3 constraints.
func validateObjectKey(key string) error {
	if len(key) > 1024 {
		return fmt.Errorf("object key exceeds the 1024 byte limit")
	}
	if strings.ContainsRune(key, '\x00') {
		return fmt.Errorf("object key cannot contain a null byte")
	}
	return nil
}
