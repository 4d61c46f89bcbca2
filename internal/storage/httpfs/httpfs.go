// Package httpfs implements the filesystem contract over HTTP(S) with Range
// requests. It serves http:// and https:// URLs, including HuggingFace
// resolve endpoints, which are plain HTTPS underneath.
package httpfs

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cachefs/cachefs/internal/config"
	"github.com/cachefs/cachefs/internal/filesystem"
)

// FileSystem serves http:// and https:// paths.
type FileSystem struct {
	client *http.Client
}

// New creates an HTTP filesystem over the given client; nil means
// http.DefaultClient.
func New(client *http.Client) *FileSystem {
	if client == nil {
		client = http.DefaultClient
	}
	return &FileSystem{client: client}
}

// Name implements filesystem.FileSystem.
func (fs *FileSystem) Name() string { return "httpfs" }

// CanHandleFile implements filesystem.FileSystem.
func (fs *FileSystem) CanHandleFile(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

type handle struct {
	url          string
	flags        filesystem.OpenFlags
	size         int64
	lastModified time.Time
	acceptRanges bool
}

func (h *handle) Path() string                { return h.url }
func (h *handle) Flags() filesystem.OpenFlags { return h.flags }
func (h *handle) Close() error                { return nil }

// Reusable reports whether the server honors ranged re-reads; a server
// without range support streams from the start and must not be pooled.
func (h *handle) Reusable() bool { return h.acceptRanges }

// OpenFile implements filesystem.FileSystem with a HEAD request for size and
// range support.
func (fs *FileSystem) OpenFile(url string, flags filesystem.OpenFlags, _ *config.Opener) (filesystem.FileHandle, error) {
	if !flags.ForReading() {
		return nil, fmt.Errorf("http filesystem is read-only: %w", filesystem.ErrNotSupported)
	}

	resp, err := fs.client.Head(url)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", url, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to stat %s: status %s", url, resp.Status)
	}

	h := &handle{
		url:          url,
		flags:        flags,
		size:         resp.ContentLength,
		acceptRanges: strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if parsed, err := http.ParseTime(lm); err == nil {
			h.lastModified = parsed
		}
	}
	return h, nil
}

// Read implements filesystem.FileSystem with a ranged GET.
func (fs *FileSystem) Read(fh filesystem.FileHandle, p []byte, location int64) error {
	h, err := fs.cast(fh)
	if err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}

	req, err := http.NewRequest(http.MethodGet, h.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", location, location+int64(len(p))-1))

	resp, err := fs.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to read %s at %d: %w", h.url, location, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to read %s at %d: status %s", h.url, location, resp.Status)
	}
	if resp.StatusCode == http.StatusOK && location > 0 {
		// The server ignored the range header; skip to the location rather
		// than corrupt the read.
		if _, err := io.CopyN(io.Discard, resp.Body, location); err != nil {
			return fmt.Errorf("failed to skip to %d in %s: %w", location, h.url, err)
		}
	}
	if _, err := io.ReadFull(resp.Body, p); err != nil {
		return fmt.Errorf("short body reading %s at %d: %w", h.url, location, err)
	}
	return nil
}

// FileSize implements filesystem.FileSystem from the open-time stat.
func (fs *FileSystem) FileSize(fh filesystem.FileHandle) (int64, error) {
	h, err := fs.cast(fh)
	if err != nil {
		return 0, err
	}
	return h.size, nil
}

// LastModifiedTime implements filesystem.FileSystem from the open-time stat.
func (fs *FileSystem) LastModifiedTime(fh filesystem.FileHandle) (time.Time, error) {
	h, err := fs.cast(fh)
	if err != nil {
		return time.Time{}, err
	}
	return h.lastModified, nil
}

// Glob implements filesystem.FileSystem. HTTP has no listing; only literal
// URLs resolve, to themselves.
func (fs *FileSystem) Glob(pattern string, _ *config.Opener) ([]string, error) {
	if filesystem.HasGlobChars(pattern) {
		return nil, fmt.Errorf("http filesystem cannot expand %q: %w", pattern, filesystem.ErrNotSupported)
	}
	return []string{pattern}, nil
}

// ListFiles implements filesystem.FileSystem.
func (fs *FileSystem) ListFiles(string, func(string, bool)) error {
	return filesystem.ErrNotSupported
}

// CreateDirectory implements filesystem.FileSystem.
func (fs *FileSystem) CreateDirectory(string) error { return filesystem.ErrNotSupported }

// RemoveDirectory implements filesystem.FileSystem.
func (fs *FileSystem) RemoveDirectory(string) error { return filesystem.ErrNotSupported }

// RemoveFile implements filesystem.FileSystem.
func (fs *FileSystem) RemoveFile(string) error { return filesystem.ErrNotSupported }

// MoveFile implements filesystem.FileSystem.
func (fs *FileSystem) MoveFile(string, string) error { return filesystem.ErrNotSupported }

// FileExists implements filesystem.FileSystem.
func (fs *FileSystem) FileExists(url string) bool {
	resp, err := fs.client.Head(url)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// DirectoryExists implements filesystem.FileSystem.
func (fs *FileSystem) DirectoryExists(string) bool { return false }

// AvailableDiskSpace implements filesystem.FileSystem.
func (fs *FileSystem) AvailableDiskSpace(string) (int64, bool) { return 0, false }

func (fs *FileSystem) cast(fh filesystem.FileHandle) (*handle, error) {
	h, ok := fh.(*handle)
	if !ok {
		return nil, fmt.Errorf("handle for %s does not belong to the http filesystem", fh.Path())
	}
	return h, nil
}
