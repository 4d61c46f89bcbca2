// Package fsutil holds the local-disk helpers behind the on-disk block
// cache: canonical cache-file naming, stale-file eviction and the free-space
// check that gates publication.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/cachefs/cachefs/internal/config"
)

// CacheFileStaleness is how old a cache file's mtime must be before
// stale-file eviction reclaims it.
const CacheFileStaleness = 24 * time.Hour

// diskSpacePercentage is the percentage of the volume that must stay free
// when no explicit reservation is configured.
const diskSpacePercentage = 5

// TempFileSuffix marks in-flight cache publications; a crash can leave them
// behind and stale-file eviction reclaims them by mtime.
const TempFileSuffix = ".httpfs_local_cache"

// CacheFilePath returns the canonical cache filename for one block:
// <dir>/<sha256-of-path>-<basename>-<start>-<size>. Every cache file for a
// remote object shares the hash-basename prefix, so per-file clearing is a
// prefix match and the whole cache enumerates with a directory listing.
func CacheFilePath(cacheDirectory, remotePath string, startOffset, chunkSize int64) string {
	return filepath.Join(cacheDirectory,
		fmt.Sprintf("%s-%s-%d-%d", sha256Hex(remotePath), filepath.Base(remotePath), startOffset, chunkSize))
}

// CacheFilePrefix returns the filename prefix shared by all cache files for
// remotePath.
func CacheFilePrefix(remotePath string) string {
	return fmt.Sprintf("%s-%s-", sha256Hex(remotePath), filepath.Base(remotePath))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ParseCacheFileName recovers (remote basename, start offset, end offset)
// from a canonical cache filename. The basename may itself contain dashes, so
// the numeric fields are taken from the tail.
func ParseCacheFileName(fname string) (remoteFile string, startOffset, endOffset int64, err error) {
	tokens := strings.Split(fname, "-")
	if len(tokens) < 4 {
		return "", 0, 0, fmt.Errorf("malformed cache filename %q", fname)
	}
	start, err := strconv.ParseInt(tokens[len(tokens)-2], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed start offset in cache filename %q: %w", fname, err)
	}
	size, err := strconv.ParseInt(tokens[len(tokens)-1], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed block size in cache filename %q: %w", fname, err)
	}
	remoteFile = strings.Join(tokens[1:len(tokens)-2], "-")
	return remoteFile, start, start + size, nil
}

// CanCacheOnDisk reports whether a new cache file may be written under
// cacheDirectory. The check is advisory: concurrent writers can race past it,
// which is tolerable because the reservation is an order of magnitude larger
// than a block.
func CanCacheOnDisk(cacheDirectory string, cfg *config.Config) bool {
	if config.TestInsufficientDiskSpace() {
		return false
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(cacheDirectory, &stat); err != nil {
		return false
	}
	available := int64(stat.Bavail) * int64(stat.Bsize)
	total := int64(stat.Blocks) * int64(stat.Bsize)

	if available <= cfg.BlockSize {
		return false
	}
	if cfg.MinDiskBytesForCache > 0 {
		return available >= cfg.MinDiskBytesForCache
	}
	return available >= total/100*diskSpacePercentage
}

// EvictStaleCacheFiles deletes every file under cacheDirectory whose mtime is
// older than CacheFileStaleness. Multiple threads may race on the same
// directory; a file vanishing underneath us is fine.
func EvictStaleCacheFiles(cacheDirectory string) {
	now := time.Now()
	entries, err := os.ReadDir(cacheDirectory)
	if err != nil {
		logrus.WithError(err).WithField("dir", cacheDirectory).Warn("failed to list cache directory for eviction")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		full := filepath.Join(cacheDirectory, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < CacheFileStaleness {
			continue
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			logrus.WithError(err).WithField("file", full).Warn("failed to delete stale cache file")
		}
	}
}

// FileCountUnder returns the number of regular files directly under folder.
func FileCountUnder(folder string) int {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			count++
		}
	}
	return count
}

// SortedFilesUnder returns the names of regular files directly under folder,
// sorted.
func SortedFilesUnder(folder string) []string {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names
}

// OnDiskCacheBytes sums the sizes of all files directly under the cache
// directory.
func OnDiskCacheBytes(cacheDirectory string) int64 {
	entries, err := os.ReadDir(cacheDirectory)
	if err != nil {
		return 0
	}
	var total int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	return total
}
