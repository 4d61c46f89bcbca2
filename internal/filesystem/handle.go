package filesystem

import (
	"sync"

	"github.com/cachefs/cachefs/internal/config"
	"github.com/cachefs/cachefs/internal/metrics"
	"github.com/cachefs/cachefs/internal/reader"
)

// CacheHandle wraps an inner file handle with the state one open needs: the
// configuration snapshot, the cache reader and the profile collector in
// effect when the file was opened. A read in flight therefore never observes
// a reconfiguration.
//
// CacheHandle is the reader.Source for its own sub-requests: the reader
// resolves the inner filesystem through it instead of holding references.
type CacheHandle struct {
	fs    *CacheFileSystem
	inner FileHandle
	flags OpenFlags

	cfg       *config.Config
	rdr       reader.CacheReader
	collector metrics.ProfileCollector

	mu  sync.Mutex
	pos int64
}

// Path implements FileHandle and reader.Source.
func (h *CacheHandle) Path() string { return h.inner.Path() }

// Flags implements FileHandle.
func (h *CacheHandle) Flags() OpenFlags { return h.flags }

// Config implements reader.Source.
func (h *CacheHandle) Config() *config.Config { return h.cfg }

// Collector implements reader.Source.
func (h *CacheHandle) Collector() metrics.ProfileCollector { return h.collector }

// ReadInner implements reader.Source: a positional read against the inner
// filesystem, bypassing every cache.
func (h *CacheHandle) ReadInner(p []byte, location int64) error {
	return h.fs.inner.Read(h.inner, p, location)
}

// Inner exposes the wrapped handle to the owning facade.
func (h *CacheHandle) Inner() FileHandle { return h.inner }

// SeekPosition returns the current streaming offset.
func (h *CacheHandle) SeekPosition() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// Seek sets the streaming offset.
func (h *CacheHandle) Seek(pos int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pos = pos
}

// ReadAt reads up to len(p) bytes from the given location through the cache
// reader, without touching the streaming offset. Reads past end of file
// return 0; reads crossing it are truncated.
func (h *CacheHandle) ReadAt(p []byte, location int64) (int, error) {
	return h.fs.readImpl(h, p, location)
}

// Read reads from the current streaming offset and advances it by the bytes
// read.
func (h *CacheHandle) Read(p []byte) (int, error) {
	pos := h.SeekPosition()
	n, err := h.fs.readImpl(h, p, pos)
	if err != nil {
		return n, err
	}
	h.Seek(pos + int64(n))
	return n, nil
}

// Close releases the handle. Read handles are offered back to the facade's
// file-handle cache instead of being closed, so the next open for the same
// path and flags can skip the inner filesystem; a handle the cache evicts in
// exchange is closed here, outside the cache lock.
func (h *CacheHandle) Close() error {
	if !h.flags.ForReading() {
		return h.inner.Close()
	}
	return h.fs.releaseReadHandle(h)
}
