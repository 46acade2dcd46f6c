// Package fsx provides the filesystem seam used by the storage transfer
// helpers. It exposes a small Filesystem interface backed by go-billy so
// directory uploads and downloads can run against the OS filesystem in
// production and an in-memory filesystem in tests.
package fsx

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// File represents an open file handle supporting basic I/O operations.
// Implementations should behave consistently with the standard library.
type File interface {
	Close() error
	Name() string
	Read(p []byte) (n int, err error)
	Seek(offset int64, whence int) (int64, error)
	Write(p []byte) (n int, err error)
}

// Filesystem abstracts the file operations needed by transfer code.
type Filesystem interface {
	// Open opens the named file for reading.
	Open(name string) (File, error)

	// Create creates or truncates the named file for writing.
	Create(name string) (File, error)

	// MkdirAll creates a directory path along with any necessary parents.
	MkdirAll(path string, perm os.FileMode) error

	// Stat returns file info for the named file.
	Stat(name string) (os.FileInfo, error)

	// Walk walks the file tree rooted at root, calling fn for each file
	// or directory.
	Walk(root string, fn filepath.WalkFunc) error

	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(name string, data []byte, perm os.FileMode) error

	// Remove removes the named file or empty directory.
	Remove(name string) error

	// Exists reports whether the named file or directory exists.
	Exists(name string) (bool, error)

	// TempDir returns the default directory for temporary files.
	TempDir() string
}

// FS implements Filesystem on top of a billy.Filesystem.
type FS struct {
	fs      billy.Filesystem
	tempDir string
}

// OS returns a Filesystem rooted at the OS filesystem root.
func OS() *FS {
	return &FS{fs: osfs.New("/"), tempDir: os.TempDir()}
}

// InMemory returns an in-memory Filesystem. Useful for tests.
func InMemory() *FS {
	return &FS{fs: memfs.New(), tempDir: "/tmp"}
}

// FromBilly wraps an existing billy filesystem.
func FromBilly(bfs billy.Filesystem) *FS {
	return &FS{fs: bfs, tempDir: "/tmp"}
}

// Open implements Filesystem.Open.
//
//nolint:ireturn // the File interface is the point of this package.
func (f *FS) Open(name string) (File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("fsx: open %q: %w", name, err)
	}
	return file, nil
}

// Create implements Filesystem.Create.
//
//nolint:ireturn // the File interface is the point of this package.
func (f *FS) Create(name string) (File, error) {
	file, err := f.fs.Create(name)
	if err != nil {
		return nil, fmt.Errorf("fsx: create %q: %w", name, err)
	}
	return file, nil
}

// MkdirAll implements Filesystem.MkdirAll.
func (f *FS) MkdirAll(path string, perm os.FileMode) error {
	if err := f.fs.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("fsx: mkdirall %q: %w", path, err)
	}
	return nil
}

// Stat implements Filesystem.Stat.
func (f *FS) Stat(name string) (os.FileInfo, error) {
	info, err := f.fs.Stat(name)
	if err != nil {
		// Preserve fs.ErrNotExist checks for callers.
		return nil, fmt.Errorf("fsx: stat %q: %w", name, err)
	}
	return info, nil
}

// Walk implements Filesystem.Walk using billy's util.Walk.
func (f *FS) Walk(root string, fn filepath.WalkFunc) error {
	if err := util.Walk(f.fs, root, fn); err != nil {
		return fmt.Errorf("fsx: walk %q: %w", root, err)
	}
	return nil
}

// ReadFile implements Filesystem.ReadFile.
func (f *FS) ReadFile(name string) ([]byte, error) {
	data, err := util.ReadFile(f.fs, name)
	if err != nil {
		return nil, fmt.Errorf("fsx: readfile %q: %w", name, err)
	}
	return data, nil
}

// WriteFile implements Filesystem.WriteFile.
func (f *FS) WriteFile(name string, data []byte, perm os.FileMode) error {
	if dir := filepath.Dir(name); dir != "." && dir != "/" {
		if err := f.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("fsx: mkdirall %q: %w", dir, err)
		}
	}
	if err := util.WriteFile(f.fs, name, data, perm); err != nil {
		return fmt.Errorf("fsx: writefile %q: %w", name, err)
	}
	return nil
}

// Remove implements Filesystem.Remove.
func (f *FS) Remove(name string) error {
	if err := f.fs.Remove(name); err != nil {
		return fmt.Errorf("fsx: remove %q: %w", name, err)
	}
	return nil
}

// Exists implements Filesystem.Exists.
func (f *FS) Exists(name string) (bool, error) {
	_, err := f.fs.Stat(name)
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err) || isNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("fsx: stat %q: %w", name, err)
	}
}

// TempDir implements Filesystem.TempDir.
func (f *FS) TempDir() string {
	return f.tempDir
}

func isNotExist(err error) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return os.IsNotExist(pathErr)
	}
	return errors.Is(err, fs.ErrNotExist)
}
