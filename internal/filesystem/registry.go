package filesystem

import "sync"

// Process-wide registry of live cache filesystems. The host-facing status
// and clearing surface iterates it; a facade registers on creation and
// leaves on Close.

var (
	registryMu sync.Mutex
	liveCaches = make(map[*CacheFileSystem]struct{})
)

func registerCacheFS(fs *CacheFileSystem) {
	registryMu.Lock()
	defer registryMu.Unlock()
	liveCaches[fs] = struct{}{}
}

func deregisterCacheFS(fs *CacheFileSystem) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(liveCaches, fs)
}

// LiveCacheFileSystems returns the cache filesystems currently registered.
func LiveCacheFileSystems() []*CacheFileSystem {
	registryMu.Lock()
	defer registryMu.Unlock()
	all := make([]*CacheFileSystem, 0, len(liveCaches))
	for fs := range liveCaches {
		all = append(all, fs)
	}
	return all
}
