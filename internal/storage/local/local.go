// Package local implements the filesystem contract over the host's disk. It
// doubles as the fallback transport: the virtual-filesystem dispatcher routes
// any path no other transport claims through it.
package local

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cachefs/cachefs/internal/config"
	"github.com/cachefs/cachefs/internal/filesystem"
)

// FileSystem serves paths on the local disk.
type FileSystem struct{}

// New creates a local filesystem.
func New() *FileSystem { return &FileSystem{} }

// Name implements filesystem.FileSystem.
func (fs *FileSystem) Name() string { return "local" }

// CanHandleFile always claims the path; local is the fallback transport.
func (fs *FileSystem) CanHandleFile(string) bool { return true }

type handle struct {
	file  *os.File
	path  string
	flags filesystem.OpenFlags
}

func (h *handle) Path() string                { return h.path }
func (h *handle) Flags() filesystem.OpenFlags { return h.flags }
func (h *handle) Close() error                { return h.file.Close() }

// Sync flushes the file to stable storage.
func (h *handle) Sync() error { return h.file.Sync() }

// OpenFile implements filesystem.FileSystem.
func (fs *FileSystem) OpenFile(path string, flags filesystem.OpenFlags, _ *config.Opener) (filesystem.FileHandle, error) {
	osFlags := 0
	switch {
	case flags.ForReading() && flags&filesystem.OpenWrite != 0:
		osFlags = os.O_RDWR
	case flags.ForReading():
		osFlags = os.O_RDONLY
	case flags&filesystem.OpenWrite != 0:
		osFlags = os.O_WRONLY
	}
	if flags&filesystem.OpenCreate != 0 {
		osFlags |= os.O_CREATE | os.O_EXCL
	}

	file, err := os.OpenFile(path, osFlags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &handle{file: file, path: path, flags: flags}, nil
}

// Read implements filesystem.FileSystem; it fails unless len(p) bytes are
// available at location.
func (fs *FileSystem) Read(h filesystem.FileHandle, p []byte, location int64) error {
	lh, err := fs.cast(h)
	if err != nil {
		return err
	}
	if _, err := lh.file.ReadAt(p, location); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read %s at %d: %w", h.Path(), location, err)
	}
	return nil
}

// Write writes p at the given location.
func (fs *FileSystem) Write(h filesystem.FileHandle, p []byte, location int64) error {
	lh, err := fs.cast(h)
	if err != nil {
		return err
	}
	if _, err := lh.file.WriteAt(p, location); err != nil {
		return fmt.Errorf("failed to write %s at %d: %w", h.Path(), location, err)
	}
	return nil
}

// FileSize implements filesystem.FileSystem.
func (fs *FileSystem) FileSize(h filesystem.FileHandle) (int64, error) {
	lh, err := fs.cast(h)
	if err != nil {
		return 0, err
	}
	info, err := lh.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", h.Path(), err)
	}
	return info.Size(), nil
}

// LastModifiedTime implements filesystem.FileSystem.
func (fs *FileSystem) LastModifiedTime(h filesystem.FileHandle) (time.Time, error) {
	lh, err := fs.cast(h)
	if err != nil {
		return time.Time{}, err
	}
	info, err := lh.file.Stat()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat %s: %w", h.Path(), err)
	}
	return info.ModTime(), nil
}

// Glob implements filesystem.FileSystem.
func (fs *FileSystem) Glob(pattern string, _ *config.Opener) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob %s: %w", pattern, err)
	}
	return matches, nil
}

// ListFiles implements filesystem.FileSystem.
func (fs *FileSystem) ListFiles(dir string, cb func(name string, isDir bool)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, entry := range entries {
		cb(entry.Name(), entry.IsDir())
	}
	return nil
}

// CreateDirectory implements filesystem.FileSystem.
func (fs *FileSystem) CreateDirectory(path string) error {
	return os.MkdirAll(path, 0o755)
}

// RemoveDirectory implements filesystem.FileSystem.
func (fs *FileSystem) RemoveDirectory(path string) error {
	return os.RemoveAll(path)
}

// RemoveFile implements filesystem.FileSystem.
func (fs *FileSystem) RemoveFile(path string) error {
	return os.Remove(path)
}

// MoveFile implements filesystem.FileSystem. os.Rename is atomic within one
// volume, which is all cache publication needs.
func (fs *FileSystem) MoveFile(src, dst string) error {
	return os.Rename(src, dst)
}

// FileExists implements filesystem.FileSystem.
func (fs *FileSystem) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DirectoryExists implements filesystem.FileSystem.
func (fs *FileSystem) DirectoryExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// AvailableDiskSpace implements filesystem.FileSystem.
func (fs *FileSystem) AvailableDiskSpace(path string) (int64, bool) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, false
	}
	return int64(stat.Bavail) * int64(stat.Bsize), true
}

func (fs *FileSystem) cast(h filesystem.FileHandle) (*handle, error) {
	lh, ok := h.(*handle)
	if !ok {
		return nil, fmt.Errorf("handle for %s does not belong to the local filesystem", h.Path())
	}
	return lh, nil
}
