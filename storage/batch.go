package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	storageerrors "github.com/PyYel/golcloud/storage/errors"
)

// FileUpload describes one file in a batch upload.
type FileUpload struct {
	// Path is the local file path to upload
	Path string

	// Key is the destination object key
	Key string
}

// UploadFiles uploads a batch of files concurrently, bounded by the client
// concurrency setting. Each transfer succeeds or fails independently; the
// returned results preserve the order of the input slice.
func (c *Client) UploadFiles(ctx context.Context, bucket string, files []FileUpload, opts ...UploadOption) ([]TransferResult, error) {
	if bucket == "" {
		return nil, storageerrors.NewBucketError("uploadFiles", bucket, storageerrors.ErrInvalidInput).
			WithMessage("bucket name cannot be empty")
	}
	if len(files) == 0 {
		return nil, storageerrors.NewBucketError("uploadFiles", bucket, storageerrors.ErrInvalidInput).
			WithMessage("files cannot be empty")
	}

	results := make([]TransferResult, len(files))
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.concurrency)

	for i, file := range files {
		wg.Add(1)
		go func(i int, file FileUpload) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result := TransferResult{Key: file.Key, Path: file.Path}
			if info, err := c.fs.Stat(file.Path); err == nil {
				result.Size = info.Size()
			}
			result.Err = c.UploadFile(ctx, bucket, file.Key, file.Path, opts...)
			results[i] = result
		}(i, file)
	}
	wg.Wait()

	c.logInfo(ctx, "batch upload finished",
		"bucket", bucket, "total", len(files), "failed", countFailures(results))
	return results, nil
}

// DownloadKeys downloads a batch of objects concurrently into dir. When dir
// is empty a temporary directory is created. The local filename is the base
// of the object key; keys that reduce to an empty base fall back to the
// input index plus the key extension. Results preserve input order.
func (c *Client) DownloadKeys(ctx context.Context, bucket string, keys []string, dir string) ([]TransferResult, error) {
	if bucket == "" {
		return nil, storageerrors.NewBucketError("downloadKeys", bucket, storageerrors.ErrInvalidInput).
			WithMessage("bucket name cannot be empty")
	}
	if len(keys) == 0 {
		return nil, storageerrors.NewBucketError("downloadKeys", bucket, storageerrors.ErrInvalidInput).
			WithMessage("keys cannot be empty")
	}

	if dir == "" {
		dir = filepath.Join(c.fs.TempDir(), fmt.Sprintf("storage-download-%d", time.Now().UnixNano()))
	}
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, storageerrors.NewBucketError("downloadKeys", bucket, err)
	}

	results := make([]TransferResult, len(keys))
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.concurrency)

	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			name := path.Base(key)
			if name == "" || name == "." || name == "/" {
				name = fmt.Sprintf("%d%s", i, path.Ext(key))
			}
			local := filepath.Join(dir, name)

			size, err := c.DownloadFile(ctx, bucket, key, local)
			results[i] = TransferResult{Key: key, Path: local, Size: size, Err: err}
		}(i, key)
	}
	wg.Wait()

	c.logInfo(ctx, "batch download finished",
		"bucket", bucket, "total", len(keys), "failed", countFailures(results))
	return results, nil
}

// UploadDir walks a local directory and uploads every regular file under it.
// Object keys are the file paths relative to dir, joined under prefix with
// forward slashes. Directory structure is preserved.
func (c *Client) UploadDir(ctx context.Context, bucket, prefix, dir string, opts ...UploadOption) ([]TransferResult, error) {
	if bucket == "" {
		return nil, storageerrors.NewBucketError("uploadDir", bucket, storageerrors.ErrInvalidInput).
			WithMessage("bucket name cannot be empty")
	}
	if dir == "" {
		return nil, storageerrors.NewBucketError("uploadDir", bucket, storageerrors.ErrInvalidInput).
			WithMessage("dir cannot be empty")
	}

	var files []FileUpload
	err := c.fs.Walk(dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" {
			key = strings.TrimSuffix(prefix, "/") + "/" + key
		}
		files = append(files, FileUpload{Path: p, Key: key})
		return nil
	})
	if err != nil {
		return nil, storageerrors.NewBucketError("uploadDir", bucket, err)
	}
	if len(files) == 0 {
		return nil, nil
	}

	return c.UploadFiles(ctx, bucket, files, opts...)
}

// DownloadDir downloads every object under prefix into dir, recreating the
// key hierarchy below the prefix as local directories.
func (c *Client) DownloadDir(ctx context.Context, bucket, prefix, dir string) ([]TransferResult, error) {
	if bucket == "" {
		return nil, storageerrors.NewBucketError("downloadDir", bucket, storageerrors.ErrInvalidInput).
			WithMessage("bucket name cannot be empty")
	}
	if dir == "" {
		return nil, storageerrors.NewBucketError("downloadDir", bucket, storageerrors.ErrInvalidInput).
			WithMessage("dir cannot be empty")
	}

	keys, err := c.ListKeys(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	results := make([]TransferResult, len(keys))
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.concurrency)

	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
			if rel == "" {
				rel = path.Base(key)
			}
			local := filepath.Join(dir, filepath.FromSlash(rel))

			if err := c.fs.MkdirAll(filepath.Dir(local), 0o755); err != nil {
				results[i] = TransferResult{Key: key, Path: local, Err: err}
				return
			}
			size, err := c.DownloadFile(ctx, bucket, key, local)
			results[i] = TransferResult{Key: key, Path: local, Size: size, Err: err}
		}(i, key)
	}
	wg.Wait()

	c.logInfo(ctx, "directory download finished",
		"bucket", bucket, "prefix", prefix, "total", len(keys), "failed", countFailures(results))
	return results, nil
}

// countFailures counts the transfers that ended with an error.
func countFailures(results []TransferResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}
