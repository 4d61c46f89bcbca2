// Package api is the thin host-facing surface over the cache machinery: the
// clear, enumerate and profile operations a host may expose as SQL functions
// or CLI commands. Everything here works off the process registry of live
// cache filesystems and the global reader manager.
package api

import (
	"sort"
	"strings"

	"github.com/cachefs/cachefs/internal/config"
	"github.com/cachefs/cachefs/internal/filesystem"
	"github.com/cachefs/cachefs/internal/fsutil"
	"github.com/cachefs/cachefs/internal/metrics"
	"github.com/cachefs/cachefs/internal/reader"
)

// ClearAllCache drops every cached block in every reader and invalidates the
// metadata, glob and file-handle caches of every live cache filesystem.
func ClearAllCache() {
	reader.DefaultManager().ClearAll()
	for _, fs := range filesystem.LiveCacheFileSystems() {
		fs.ClearLocalCaches()
	}
}

// ClearCacheForFile drops the blocks cached for one remote file across all
// readers, and the live facades' local caches with them; a stale size or
// handle for the file must not outlive its data.
func ClearCacheForFile(fname string) {
	reader.DefaultManager().ClearFile(fname)
	for _, fs := range filesystem.LiveCacheFileSystems() {
		fs.ClearLocalCaches()
	}
}

// CacheEntries enumerates cached blocks across all live readers, sorted by
// remote filename then start offset.
func CacheEntries() []reader.DataCacheEntryInfo {
	var all []reader.DataCacheEntryInfo
	for _, r := range reader.DefaultManager().Readers() {
		all = append(all, r.CacheEntriesInfo()...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].RemoteFilename != all[j].RemoteFilename {
			return all[i].RemoteFilename < all[j].RemoteFilename
		}
		return all[i].StartOffset < all[j].StartOffset
	})
	return all
}

// CacheAccessCounts aggregates per-entity hit/miss tallies across all live
// cache filesystems.
func CacheAccessCounts() []metrics.CacheAccessInfo {
	var merged []metrics.CacheAccessInfo
	for _, fs := range filesystem.LiveCacheFileSystems() {
		info := fs.Collector().CacheAccessInfo()
		if merged == nil {
			merged = info
			continue
		}
		for i := range info {
			merged[i].HitCount += info[i].HitCount
			merged[i].MissCount += info[i].MissCount
		}
	}
	return merged
}

// ProfileStats renders the profile of every live cache filesystem.
func ProfileStats() string {
	var parts []string
	for _, fs := range filesystem.LiveCacheFileSystems() {
		stats, _ := fs.Collector().HumanReadableStats()
		parts = append(parts, stats)
	}
	return strings.Join(parts, "\n")
}

// ResetProfile drops the collected profile of every live cache filesystem.
func ResetProfile() {
	for _, fs := range filesystem.LiveCacheFileSystems() {
		fs.Collector().Reset()
	}
}

// OnDiskCacheBytes sums cache-file sizes across the cache directories of the
// live on-disk cache filesystems.
func OnDiskCacheBytes() int64 {
	seen := make(map[string]struct{})
	var total int64
	for _, fs := range filesystem.LiveCacheFileSystems() {
		cfg := fs.Config()
		if cfg.CacheType != config.CacheTypeOnDisk {
			continue
		}
		dir := cfg.OnDiskCacheDirectory
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		total += fsutil.OnDiskCacheBytes(dir)
	}
	return total
}
