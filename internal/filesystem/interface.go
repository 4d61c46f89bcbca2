// Package filesystem defines the capability interface every transport
// implements and the cache facade that composes over it. The facade presents
// the same interface as its inner filesystem, so transports and caches stack
// by delegation.
package filesystem

import (
	"errors"
	"time"

	"github.com/cachefs/cachefs/internal/config"
)

// OpenFlags is a bitmask of open modes and modifiers.
type OpenFlags uint32

const (
	// OpenRead opens for reading.
	OpenRead OpenFlags = 1 << iota
	// OpenWrite opens for writing.
	OpenWrite
	// OpenCreate creates the file if missing (write only).
	OpenCreate
	// OpenParallelAccess marks a handle safe for concurrent positional reads
	// from multiple goroutines.
	OpenParallelAccess
)

// ForReading reports whether the flags include read access.
func (f OpenFlags) ForReading() bool { return f&OpenRead != 0 }

// ErrNotSupported is returned by transports for operations their protocol
// cannot express (e.g. glob listing over plain HTTP).
var ErrNotSupported = errors.New("operation not supported by filesystem")

// FileHandle is an open file on some filesystem. Handles support positional
// reads through their owning filesystem and carry no read offset themselves.
type FileHandle interface {
	Path() string
	Flags() OpenFlags
	Close() error
}

// Reusable is implemented by handles that can say whether they may be pooled
// and re-read from offset zero after use. Handles that do not implement it
// are assumed reusable; a streaming handle that cannot rewind must implement
// it and return false so the facade never caches it.
type Reusable interface {
	Reusable() bool
}

// FileSystem is the capability contract consumed by the cache facade. All
// implementations are safe for concurrent use.
type FileSystem interface {
	// Name identifies the filesystem for dispatch and display.
	Name() string

	// CanHandleFile reports whether this filesystem claims the path.
	CanHandleFile(path string) bool

	// OpenFile opens path. The opener carries per-open host settings and may
	// be nil.
	OpenFile(path string, flags OpenFlags, opener *config.Opener) (FileHandle, error)

	// Read fills p from the given byte location. It does not advance any
	// offset and fails if fewer than len(p) bytes are available.
	Read(h FileHandle, p []byte, location int64) error

	// FileSize returns the current size of the open file.
	FileSize(h FileHandle) (int64, error)

	// LastModifiedTime returns the modification time of the open file.
	LastModifiedTime(h FileHandle) (time.Time, error)

	// Glob expands a pattern into matching paths.
	Glob(pattern string, opener *config.Opener) ([]string, error)

	// ListFiles invokes cb for each entry directly under dir.
	ListFiles(dir string, cb func(name string, isDir bool)) error

	CreateDirectory(path string) error
	RemoveDirectory(path string) error
	RemoveFile(path string) error

	// MoveFile renames src to dst. Must be atomic on the local filesystem;
	// on-disk cache publication relies on it.
	MoveFile(src, dst string) error

	FileExists(path string) bool
	DirectoryExists(path string) bool

	// AvailableDiskSpace returns free bytes on the volume holding path, and
	// whether the probe succeeded.
	AvailableDiskSpace(path string) (int64, bool)
}

// HasGlobChars reports whether the pattern contains glob metacharacters.
// Literal paths bypass the glob cache so point lookups do not pollute it.
func HasGlobChars(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', ']':
			return true
		}
	}
	return false
}
