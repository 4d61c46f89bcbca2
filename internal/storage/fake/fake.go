// Package fake provides an in-memory filesystem for tests. It counts every
// operation, records the exact offsets and sizes of reads so alignment can be
// asserted, and can be told to fail.
package fake

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cachefs/cachefs/internal/config"
	"github.com/cachefs/cachefs/internal/filesystem"
)

// ReadRecord is one observed inner read.
type ReadRecord struct {
	Path     string
	Location int64
	NrBytes  int
}

// FileSystem is an in-memory filesystem with operation accounting.
type FileSystem struct {
	mu    sync.Mutex
	files map[string][]byte

	openCount int
	readCount int
	globCount int
	reads     []ReadRecord

	readErr      error
	nonReusable  bool
	lastModified time.Time
}

// New creates a fake filesystem holding the given files.
func New(files map[string][]byte) *FileSystem {
	copied := make(map[string][]byte, len(files))
	for name, content := range files {
		copied[name] = append([]byte(nil), content...)
	}
	return &FileSystem{files: copied, lastModified: time.Now()}
}

// Name implements filesystem.FileSystem.
func (fs *FileSystem) Name() string { return "fake" }

// CanHandleFile implements filesystem.FileSystem.
func (fs *FileSystem) CanHandleFile(string) bool { return true }

// AddFile inserts or replaces a file.
func (fs *FileSystem) AddFile(name string, content []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[name] = append([]byte(nil), content...)
}

// FailReads makes every subsequent read return err; nil restores normal
// operation.
func (fs *FileSystem) FailReads(err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.readErr = err
}

// SetNonReusable makes handles refuse pooling, simulating a non-seekable
// stream.
func (fs *FileSystem) SetNonReusable(on bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nonReusable = on
}

// OpenCount returns how many opens the filesystem served.
func (fs *FileSystem) OpenCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.openCount
}

// ReadCount returns how many reads the filesystem served.
func (fs *FileSystem) ReadCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.readCount
}

// GlobCount returns how many globs the filesystem served.
func (fs *FileSystem) GlobCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.globCount
}

// Reads returns a copy of the observed read records.
func (fs *FileSystem) Reads() []ReadRecord {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]ReadRecord(nil), fs.reads...)
}

// ResetCounters zeroes the operation accounting.
func (fs *FileSystem) ResetCounters() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.openCount, fs.readCount, fs.globCount = 0, 0, 0
	fs.reads = nil
}

// Handle is the fake's file handle; exported so tests can compare handle
// identity across the file-handle cache.
type Handle struct {
	fs    *FileSystem
	path  string
	flags filesystem.OpenFlags
}

func (h *Handle) Path() string                { return h.path }
func (h *Handle) Flags() filesystem.OpenFlags { return h.flags }
func (h *Handle) Close() error                { return nil }

// Reusable implements filesystem.Reusable.
func (h *Handle) Reusable() bool {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	return !h.fs.nonReusable
}

// OpenFile implements filesystem.FileSystem.
func (fs *FileSystem) OpenFile(p string, flags filesystem.OpenFlags, _ *config.Opener) (filesystem.FileHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.openCount++
	if _, ok := fs.files[p]; !ok {
		return nil, fmt.Errorf("fake file %s does not exist", p)
	}
	return &Handle{fs: fs, path: p, flags: flags}, nil
}

// Read implements filesystem.FileSystem.
func (fs *FileSystem) Read(fh filesystem.FileHandle, p []byte, location int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.readCount++
	fs.reads = append(fs.reads, ReadRecord{Path: fh.Path(), Location: location, NrBytes: len(p)})

	if fs.readErr != nil {
		return fs.readErr
	}
	content, ok := fs.files[fh.Path()]
	if !ok {
		return fmt.Errorf("fake file %s does not exist", fh.Path())
	}
	if location > int64(len(content)) || location+int64(len(p)) > int64(len(content)) {
		return fmt.Errorf("read of %s at %d for %d bytes is out of range", fh.Path(), location, len(p))
	}
	copy(p, content[location:])
	return nil
}

// FileSize implements filesystem.FileSystem.
func (fs *FileSystem) FileSize(fh filesystem.FileHandle) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	content, ok := fs.files[fh.Path()]
	if !ok {
		return 0, fmt.Errorf("fake file %s does not exist", fh.Path())
	}
	return int64(len(content)), nil
}

// LastModifiedTime implements filesystem.FileSystem.
func (fs *FileSystem) LastModifiedTime(filesystem.FileHandle) (time.Time, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.lastModified, nil
}

// Glob implements filesystem.FileSystem with path.Match over stored names.
func (fs *FileSystem) Glob(pattern string, _ *config.Opener) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.globCount++
	var matches []string
	for name := range fs.files {
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if ok || name == pattern {
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// ListFiles implements filesystem.FileSystem over stored names.
func (fs *FileSystem) ListFiles(dir string, cb func(name string, isDir bool)) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	prefix := strings.TrimSuffix(dir, "/") + "/"
	for name := range fs.files {
		if strings.HasPrefix(name, prefix) {
			cb(strings.TrimPrefix(name, prefix), false)
		}
	}
	return nil
}

// CreateDirectory implements filesystem.FileSystem.
func (fs *FileSystem) CreateDirectory(string) error { return nil }

// RemoveDirectory implements filesystem.FileSystem.
func (fs *FileSystem) RemoveDirectory(dir string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for name := range fs.files {
		if strings.HasPrefix(name, prefix) {
			delete(fs.files, name)
		}
	}
	return nil
}

// RemoveFile implements filesystem.FileSystem.
func (fs *FileSystem) RemoveFile(p string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[p]; !ok {
		return fmt.Errorf("fake file %s does not exist", p)
	}
	delete(fs.files, p)
	return nil
}

// MoveFile implements filesystem.FileSystem.
func (fs *FileSystem) MoveFile(src, dst string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	content, ok := fs.files[src]
	if !ok {
		return fmt.Errorf("fake file %s does not exist", src)
	}
	fs.files[dst] = content
	delete(fs.files, src)
	return nil
}

// FileExists implements filesystem.FileSystem.
func (fs *FileSystem) FileExists(p string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.files[p]
	return ok
}

// DirectoryExists implements filesystem.FileSystem.
func (fs *FileSystem) DirectoryExists(string) bool { return true }

// AvailableDiskSpace implements filesystem.FileSystem.
func (fs *FileSystem) AvailableDiskSpace(string) (int64, bool) { return 0, false }
