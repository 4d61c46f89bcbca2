package reader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cachefs/cachefs/internal/fsutil"
	"github.com/cachefs/cachefs/internal/metrics"
)

// DiskReader caches blocks as files on the local disk, one file per block,
// named so the key is recoverable from a directory listing. Publication is
// temp-file-and-rename: a file visible under its canonical name always holds
// complete, correct bytes.
type DiskReader struct {
	mu sync.Mutex
	// cacheDir is the directory of the most recent configuration; used by
	// the enumeration and clearing surface, which has no read in hand.
	cacheDir string
}

// NewDiskReader creates an on-disk cache reader.
func NewDiskReader() *DiskReader { return &DiskReader{} }

// ReaderType implements CacheReader.
func (r *DiskReader) ReaderType() string { return "on_disk" }

// SetCacheDirectory records the directory used by enumeration and clearing.
func (r *DiskReader) SetCacheDirectory(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheDir = dir
}

func (r *DiskReader) cacheDirectory() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cacheDir
}

// ReadAndCache implements CacheReader.
func (r *DiskReader) ReadAndCache(src Source, buf []byte, location, nrBytes, fileSize int64) error {
	cfg := src.Config()
	r.SetCacheDirectory(cfg.OnDiskCacheDirectory)

	chunks := planChunks(buf, location, nrBytes, fileSize, cfg.BlockSize, true)

	var group errgroup.Group
	group.SetLimit(cfg.ThreadCountForSubrequests(len(chunks)))
	for _, ch := range chunks {
		group.Go(func() error {
			return r.readChunk(src, ch)
		})
	}
	return group.Wait()
}

// readChunk serves one sub-request: cached file if present, inner filesystem
// otherwise, publishing the fetched block on the way out.
func (r *DiskReader) readChunk(src Source, ch *readChunk) error {
	cfg := src.Config()
	collector := src.Collector()
	cacheFile := fsutil.CacheFilePath(cfg.OnDiskCacheDirectory, src.Path(), ch.alignedStart, ch.chunkSize)

	if file, err := os.Open(cacheFile); err == nil {
		defer file.Close()
		collector.RecordCacheAccess(metrics.EntityData, metrics.AccessHit)

		// First/last/sole chunks stage; middle chunks read straight into the
		// caller's buffer, saving a copy.
		target := ch.staging
		if target == nil {
			target = ch.dst
		}
		if err := readFull(file, target); err != nil {
			return fmt.Errorf("failed to read cache file %s: %w", cacheFile, err)
		}
		ch.copyToDst()

		// Refresh the file's timestamps so stale-file eviction sees it as
		// live. The mtime is the on-disk LRU ordering.
		now := time.Now()
		if err := os.Chtimes(cacheFile, now, now); err != nil {
			return fmt.Errorf("failed to update timestamps of cache file %s: %w", cacheFile, err)
		}
		return nil
	}

	collector.RecordCacheAccess(metrics.EntityData, metrics.AccessMiss)
	if ch.staging == nil {
		ch.staging = make([]byte, ch.chunkSize)
	}

	operID := collector.GenerateOperID()
	collector.RecordOperationStart(metrics.OperationRead, operID)
	err := src.ReadInner(ch.staging, ch.alignedStart)
	collector.RecordOperationEnd(metrics.OperationRead, operID)
	if err != nil {
		return err
	}

	ch.copyToDst()
	r.cacheLocal(src, ch, cacheFile)
	return nil
}

// cacheLocal publishes the staged block, space permitting. Failures here are
// logged and swallowed: the read already succeeded, and the block can be
// cached again on the next miss.
func (r *DiskReader) cacheLocal(src Source, ch *readChunk, cacheFile string) {
	cfg := src.Config()
	dir := cfg.OnDiskCacheDirectory

	if !fsutil.CanCacheOnDisk(dir, cfg) {
		// Deleted files linger until their last open handle goes away, so a
		// publication retry right after eviction may still find the volume
		// tight. The next miss tries again.
		fsutil.EvictStaleCacheFiles(dir)
		return
	}

	tempFile := filepath.Join(dir,
		fmt.Sprintf("%s.%s%s", filepath.Base(src.Path()), uuid.NewString(), fsutil.TempFileSuffix))
	file, err := os.OpenFile(tempFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		logrus.WithError(err).WithField("file", tempFile).Warn("failed to create cache temp file")
		return
	}
	if _, err := file.Write(ch.staging); err != nil {
		file.Close()
		os.Remove(tempFile)
		logrus.WithError(err).WithField("file", tempFile).Warn("failed to write cache temp file")
		return
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		logrus.WithError(err).WithField("file", tempFile).Warn("failed to sync cache temp file")
		return
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return
	}

	// The rename is the commit point: the canonical name never appears until
	// the bytes are durable. Concurrent producers of the same block race
	// here; both contents are correct, either rename outcome is fine.
	if err := os.Rename(tempFile, cacheFile); err != nil {
		os.Remove(tempFile)
		logrus.WithError(err).WithField("file", cacheFile).Warn("failed to publish cache file")
	}
}

// readFull fills p from the start of file, failing if the file is shorter.
func readFull(file *os.File, p []byte) error {
	n, err := file.ReadAt(p, 0)
	if err != nil && err != io.EOF {
		return err
	}
	if n < len(p) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// CacheEntriesInfo implements CacheReader by listing the cache directory and
// parsing each filename back into its block key.
func (r *DiskReader) CacheEntriesInfo() []DataCacheEntryInfo {
	dir := r.cacheDirectory()
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var info []DataCacheEntryInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		remoteFile, start, end, err := fsutil.ParseCacheFileName(entry.Name())
		if err != nil {
			continue
		}
		info = append(info, DataCacheEntryInfo{
			CacheFilepath:  filepath.Join(dir, entry.Name()),
			RemoteFilename: remoteFile,
			StartOffset:    start,
			EndOffset:      end,
			CacheType:      "on-disk",
		})
	}
	return info
}

// ClearCache implements CacheReader by recreating the cache directory.
func (r *DiskReader) ClearCache() {
	dir := r.cacheDirectory()
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		logrus.WithError(err).WithField("dir", dir).Warn("failed to remove cache directory")
	}
	// Recreate immediately; later reads expect the directory to exist.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logrus.WithError(err).WithField("dir", dir).Warn("failed to recreate cache directory")
	}
}

// ClearCacheForFile implements CacheReader by prefix-matching cache
// filenames.
func (r *DiskReader) ClearCacheForFile(fname string) {
	dir := r.cacheDirectory()
	if dir == "" {
		return
	}
	prefix := fsutil.CacheFilePrefix(fname)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || len(entry.Name()) < len(prefix) || entry.Name()[:len(prefix)] != prefix {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).WithField("file", entry.Name()).Warn("failed to delete cache file")
		}
	}
}
