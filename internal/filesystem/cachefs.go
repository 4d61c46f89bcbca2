package filesystem

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cachefs/cachefs/internal/cache"
	"github.com/cachefs/cachefs/internal/config"
	"github.com/cachefs/cachefs/internal/metrics"
	"github.com/cachefs/cachefs/internal/reader"
)

// FileMetadata is the metadata-cache entry for one path.
type FileMetadata struct {
	FileSize int64
}

// FileHandleKey keys the file-handle cache: handles are interchangeable only
// when both path and open flags match.
type FileHandleKey struct {
	Path  string
	Flags OpenFlags
}

// CacheFileSystem is the read-through cache facade. It implements the same
// FileSystem interface as the filesystem it wraps and delegates everything
// except read, open, size and glob verbatim.
type CacheFileSystem struct {
	inner FileSystem

	// initMu serializes lazy setup at open; past the first open it is taken
	// briefly and finds everything initialized.
	initMu sync.Mutex

	cfg          *config.Config
	collector    metrics.ProfileCollector
	activeReader reader.CacheReader

	metadataCache   *cache.SharedLRU[string, *FileMetadata]
	globCache       *cache.SharedLRU[string, []string]
	fileHandleCache *cache.ExclusiveMultiLRU[FileHandleKey, FileHandle]
}

// New creates a cache filesystem over inner. base supplies the configuration
// before any opener overlays; nil means defaults. The facade is registered
// with the process registry until Close.
func New(inner FileSystem, base *config.Config) *CacheFileSystem {
	if base == nil {
		base = config.Default()
	}
	fs := &CacheFileSystem{
		inner:     inner,
		cfg:       base.Clone(),
		collector: metrics.NewNoopCollector(),
	}
	registerCacheFS(fs)
	return fs
}

// Close invalidates the facade's sub-caches and removes it from the process
// registry. Persisted on-disk block-cache files are left in place.
func (fs *CacheFileSystem) Close() error {
	fs.ClearLocalCaches()
	deregisterCacheFS(fs)
	return nil
}

// Name implements FileSystem.
func (fs *CacheFileSystem) Name() string {
	return fmt.Sprintf("cachefs with %s", fs.inner.Name())
}

// InnerFileSystem returns the wrapped filesystem.
func (fs *CacheFileSystem) InnerFileSystem() FileSystem { return fs.inner }

// Collector returns the facade's current profile collector.
func (fs *CacheFileSystem) Collector() metrics.ProfileCollector {
	fs.initMu.Lock()
	defer fs.initMu.Unlock()
	return fs.collector
}

// Config returns the facade's current configuration snapshot.
func (fs *CacheFileSystem) Config() *config.Config {
	fs.initMu.Lock()
	defer fs.initMu.Unlock()
	return fs.cfg
}

// CanHandleFile implements FileSystem. The facade claims whatever its inner
// filesystem claims, except that a local inner filesystem claims everything:
// local is the dispatcher's fallback, and routing it through the cache is the
// point of wrapping it.
func (fs *CacheFileSystem) CanHandleFile(path string) bool {
	if fs.inner.CanHandleFile(path) {
		return true
	}
	return fs.inner.Name() == "local"
}

// IsManuallySet reports whether the facade outranks automatically registered
// filesystems in the host dispatcher. A cache over local must not, so more
// specific filesystems can win.
func (fs *CacheFileSystem) IsManuallySet() bool {
	return fs.inner.Name() != "local"
}

// initialize reloads configuration from the opener and (re)installs the
// profile collector, cache reader and sub-caches. Runs under initMu on every
// open; reads in flight keep their handle's snapshot.
func (fs *CacheFileSystem) initialize(opener *config.Opener) (*config.Config, reader.CacheReader, metrics.ProfileCollector) {
	fs.initMu.Lock()
	defer fs.initMu.Unlock()

	cfg := config.FromOpener(fs.cfg, opener)
	fs.cfg = cfg

	if cfg.CacheType == config.CacheTypeOnDisk {
		os.MkdirAll(cfg.OnDiskCacheDirectory, 0o755)
	}

	if fs.collector == nil || fs.collector.ProfilerType() != string(cfg.ProfileType) {
		switch cfg.ProfileType {
		case config.ProfileTypeTemp:
			fs.collector = metrics.NewTempCollector()
		case config.ProfileTypePersistent:
			fs.collector = metrics.NewPromCollector()
		default:
			fs.collector = metrics.NewNoopCollector()
		}
	}

	fs.activeReader = reader.DefaultManager().SetActive(cfg)
	fs.collector.SetCacheReaderType(fs.activeReader.ReaderType())

	if !cfg.EnableMetadataCache {
		fs.metadataCache = nil
	} else if fs.metadataCache == nil {
		fs.metadataCache = cache.NewSharedLRU[string, *FileMetadata](cfg.MetadataCacheEntries, cfg.MetadataCacheTimeout)
	}

	if !cfg.EnableGlobCache {
		fs.globCache = nil
	} else if fs.globCache == nil {
		fs.globCache = cache.NewSharedLRU[string, []string](cfg.GlobCacheEntries, cfg.GlobCacheTimeout)
	}

	if !cfg.EnableFileHandleCache {
		fs.dropFileHandleCacheLocked()
	} else if fs.fileHandleCache == nil {
		fs.fileHandleCache = cache.NewExclusiveMultiLRU[FileHandleKey, FileHandle](cfg.FileHandleCacheEntries, cfg.FileHandleCacheTimeout)
	}

	return cfg, fs.activeReader, fs.collector
}

func (fs *CacheFileSystem) dropFileHandleCacheLocked() {
	if fs.fileHandleCache == nil {
		return
	}
	for _, h := range fs.fileHandleCache.ClearAndGetValues() {
		h.Close()
	}
	fs.fileHandleCache = nil
}

func (fs *CacheFileSystem) fileHandleCacheRef() *cache.ExclusiveMultiLRU[FileHandleKey, FileHandle] {
	fs.initMu.Lock()
	defer fs.initMu.Unlock()
	return fs.fileHandleCache
}

// OpenFile implements FileSystem. Read opens consult the file-handle cache;
// other opens wrap the inner handle without caching.
func (fs *CacheFileSystem) OpenFile(path string, flags OpenFlags, opener *config.Opener) (FileHandle, error) {
	cfg, rdr, collector := fs.initialize(opener)

	if flags.ForReading() {
		return fs.openForRead(path, flags, opener, cfg, rdr, collector)
	}

	inner, err := fs.inner.OpenFile(path, flags, opener)
	if err != nil {
		return nil, err
	}
	return &CacheHandle{fs: fs, inner: inner, flags: flags, cfg: cfg, rdr: rdr, collector: collector}, nil
}

func (fs *CacheFileSystem) openForRead(path string, flags OpenFlags, opener *config.Opener,
	cfg *config.Config, rdr reader.CacheReader, collector metrics.ProfileCollector) (FileHandle, error) {

	// Cached handles are opened for parallel access so one handle can serve
	// concurrent sub-requests across checkouts.
	innerFlags := flags | OpenParallelAccess

	if fhc := fs.fileHandleCacheRef(); fhc != nil {
		result := fhc.GetAndPop(FileHandleKey{Path: path, Flags: innerFlags})
		for _, evicted := range result.Evicted {
			evicted.Close()
		}
		if result.OK {
			collector.RecordCacheAccess(metrics.EntityFileHandle, metrics.AccessHit)
			return &CacheHandle{fs: fs, inner: result.Value, flags: flags, cfg: cfg, rdr: rdr, collector: collector}, nil
		}
		collector.RecordCacheAccess(metrics.EntityFileHandle, metrics.AccessMiss)
	}

	operID := collector.GenerateOperID()
	collector.RecordOperationStart(metrics.OperationOpen, operID)
	inner, err := fs.inner.OpenFile(path, innerFlags, opener)
	collector.RecordOperationEnd(metrics.OperationOpen, operID)
	if err != nil {
		return nil, err
	}
	return &CacheHandle{fs: fs, inner: inner, flags: flags, cfg: cfg, rdr: rdr, collector: collector}, nil
}

// releaseReadHandle resets the wrapper's streaming offset and offers the
// inner handle back to the file-handle cache. A handle the cache cannot
// take, or one that cannot be reused, is closed instead.
func (fs *CacheFileSystem) releaseReadHandle(h *CacheHandle) error {
	fhc := fs.fileHandleCacheRef()
	if fhc == nil {
		return h.inner.Close()
	}
	if r, ok := h.inner.(Reusable); ok && !r.Reusable() {
		return h.inner.Close()
	}

	h.Seek(0)
	key := FileHandleKey{Path: h.inner.Path(), Flags: h.inner.Flags()}
	if evicted, ok := fhc.Put(key, h.inner); ok {
		return evicted.Close()
	}
	return nil
}

// Read implements FileSystem: fill p exactly from the given location.
func (fs *CacheFileSystem) Read(h FileHandle, p []byte, location int64) error {
	ch, err := fs.cast(h)
	if err != nil {
		return err
	}
	n, err := fs.readImpl(ch, p, location)
	if err != nil {
		return err
	}
	if n < len(p) {
		return fmt.Errorf("short read of %s at %d: got %d of %d bytes", h.Path(), location, n, len(p))
	}
	return nil
}

// readImpl bounds the request by file size and dispatches to the cache
// reader. A location at or past end of file reads zero bytes without error;
// a request crossing end of file is truncated silently.
func (fs *CacheFileSystem) readImpl(h *CacheHandle, p []byte, location int64) (int, error) {
	fileSize, err := fs.FileSize(h)
	if err != nil {
		return 0, err
	}
	if location >= fileSize {
		return 0, nil
	}

	bytesToRead := min(int64(len(p)), fileSize-location)
	if err := h.rdr.ReadAndCache(h, p, location, bytesToRead, fileSize); err != nil {
		return 0, err
	}

	if h.cfg.VerifyCachedRead {
		if err := fs.verifyRead(h, p[:bytesToRead], location); err != nil {
			return 0, err
		}
	}
	return int(bytesToRead), nil
}

// verifyRead cross-checks cached bytes against the inner filesystem. Debug
// aid, gated by configuration.
func (fs *CacheFileSystem) verifyRead(h *CacheHandle, got []byte, location int64) error {
	want := make([]byte, len(got))
	if err := h.ReadInner(want, location); err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("cached read of %s at %d diverges from inner filesystem", h.Path(), location)
	}
	return nil
}

// FileSize implements FileSystem, serving from the metadata cache when it is
// enabled.
func (fs *CacheFileSystem) FileSize(h FileHandle) (int64, error) {
	ch, err := fs.cast(h)
	if err != nil {
		return 0, err
	}

	mdc := fs.metadataCacheRef()
	if mdc == nil {
		return fs.inner.FileSize(ch.inner)
	}

	hit := true
	meta, err := mdc.GetOrCreate(ch.inner.Path(), func(string) (*FileMetadata, error) {
		hit = false
		size, err := fs.inner.FileSize(ch.inner)
		if err != nil {
			return nil, err
		}
		return &FileMetadata{FileSize: size}, nil
	})

	access := metrics.AccessHit
	if !hit {
		access = metrics.AccessMiss
	}
	ch.collector.RecordCacheAccess(metrics.EntityMetadata, access)
	if err != nil {
		return 0, err
	}
	return meta.FileSize, nil
}

func (fs *CacheFileSystem) metadataCacheRef() *cache.SharedLRU[string, *FileMetadata] {
	fs.initMu.Lock()
	defer fs.initMu.Unlock()
	return fs.metadataCache
}

func (fs *CacheFileSystem) globCacheRef() *cache.SharedLRU[string, []string] {
	fs.initMu.Lock()
	defer fs.initMu.Unlock()
	return fs.globCache
}

// Glob implements FileSystem. Literal paths delegate without caching so
// point queries do not pollute the glob cache; patterns are cached and
// profiled.
func (fs *CacheFileSystem) Glob(pattern string, opener *config.Opener) ([]string, error) {
	_, _, collector := fs.initialize(opener)

	gc := fs.globCacheRef()
	if gc == nil {
		return fs.globTimed(pattern, opener, collector)
	}
	if !HasGlobChars(pattern) {
		return fs.inner.Glob(pattern, opener)
	}

	hit := true
	matches, err := gc.GetOrCreate(pattern, func(string) ([]string, error) {
		hit = false
		return fs.globTimed(pattern, opener, collector)
	})

	access := metrics.AccessHit
	if !hit {
		access = metrics.AccessMiss
	}
	collector.RecordCacheAccess(metrics.EntityGlob, access)
	return matches, err
}

func (fs *CacheFileSystem) globTimed(pattern string, opener *config.Opener, collector metrics.ProfileCollector) ([]string, error) {
	operID := collector.GenerateOperID()
	collector.RecordOperationStart(metrics.OperationGlob, operID)
	matches, err := fs.inner.Glob(pattern, opener)
	collector.RecordOperationEnd(metrics.OperationGlob, operID)
	return matches, err
}

// LastModifiedTime implements FileSystem by delegation.
func (fs *CacheFileSystem) LastModifiedTime(h FileHandle) (time.Time, error) {
	ch, err := fs.cast(h)
	if err != nil {
		return time.Time{}, err
	}
	return fs.inner.LastModifiedTime(ch.inner)
}

// ListFiles implements FileSystem by delegation.
func (fs *CacheFileSystem) ListFiles(dir string, cb func(name string, isDir bool)) error {
	return fs.inner.ListFiles(dir, cb)
}

// CreateDirectory implements FileSystem by delegation.
func (fs *CacheFileSystem) CreateDirectory(path string) error { return fs.inner.CreateDirectory(path) }

// RemoveDirectory implements FileSystem by delegation.
func (fs *CacheFileSystem) RemoveDirectory(path string) error { return fs.inner.RemoveDirectory(path) }

// RemoveFile implements FileSystem by delegation.
func (fs *CacheFileSystem) RemoveFile(path string) error { return fs.inner.RemoveFile(path) }

// MoveFile implements FileSystem by delegation.
func (fs *CacheFileSystem) MoveFile(src, dst string) error { return fs.inner.MoveFile(src, dst) }

// FileExists implements FileSystem by delegation.
func (fs *CacheFileSystem) FileExists(path string) bool { return fs.inner.FileExists(path) }

// DirectoryExists implements FileSystem by delegation.
func (fs *CacheFileSystem) DirectoryExists(path string) bool { return fs.inner.DirectoryExists(path) }

// AvailableDiskSpace implements FileSystem by delegation.
func (fs *CacheFileSystem) AvailableDiskSpace(path string) (int64, bool) {
	return fs.inner.AvailableDiskSpace(path)
}

// ClearLocalCaches invalidates the facade's metadata, glob and file-handle
// caches. Cached file handles are closed outside the cache lock. Persisted
// block-cache files are untouched; clearing those is the reader's job.
func (fs *CacheFileSystem) ClearLocalCaches() {
	fs.initMu.Lock()
	mdc, gc, fhc := fs.metadataCache, fs.globCache, fs.fileHandleCache
	fs.initMu.Unlock()

	if mdc != nil {
		mdc.Clear()
	}
	if gc != nil {
		gc.Clear()
	}
	if fhc != nil {
		for _, h := range fhc.ClearAndGetValues() {
			h.Close()
		}
	}
}

func (fs *CacheFileSystem) cast(h FileHandle) (*CacheHandle, error) {
	ch, ok := h.(*CacheHandle)
	if !ok {
		return nil, fmt.Errorf("handle for %s does not belong to a cache filesystem", h.Path())
	}
	return ch, nil
}
