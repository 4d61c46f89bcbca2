package reader

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cachefs/cachefs/internal/cache"
	"github.com/cachefs/cachefs/internal/metrics"
)

// BlockKey identifies one cached block of a remote file. Two blocks with the
// same triple are interchangeable.
type BlockKey struct {
	Path        string
	StartOffset int64
	BlockSize   int64
}

// InMemReader caches blocks in process memory. The block cache is a
// shared-value LRU; a hit returns the same immutable buffer to every
// concurrent reader, so the hit path copies once and allocates nothing.
type InMemReader struct {
	initOnce sync.Once
	blocks   *cache.SharedLRU[BlockKey, []byte]
}

// NewInMemReader creates an in-memory cache reader. The block cache itself is
// sized lazily from the configuration of the first read.
func NewInMemReader() *InMemReader { return &InMemReader{} }

// ReaderType implements CacheReader.
func (r *InMemReader) ReaderType() string { return "in_mem" }

// ReadAndCache implements CacheReader.
func (r *InMemReader) ReadAndCache(src Source, buf []byte, location, nrBytes, fileSize int64) error {
	cfg := src.Config()
	r.initOnce.Do(func() {
		r.blocks = cache.NewSharedLRU[BlockKey, []byte](cfg.MaxInMemBlockCount, cfg.InMemBlockTimeout)
	})

	// In-memory blocks are shared, so every chunk copies out of the cached
	// buffer; no staging buffers are needed.
	chunks := planChunks(buf, location, nrBytes, fileSize, cfg.BlockSize, false)

	var group errgroup.Group
	group.SetLimit(cfg.ThreadCountForSubrequests(len(chunks)))
	for _, ch := range chunks {
		group.Go(func() error {
			return r.readChunk(src, ch)
		})
	}
	return group.Wait()
}

// readChunk serves one sub-request. Concurrent requests for the same block
// are deduplicated by the cache's creation token: exactly one goroutine
// fetches from the inner filesystem, the rest wait and share the buffer.
func (r *InMemReader) readChunk(src Source, ch *readChunk) error {
	collector := src.Collector()
	key := BlockKey{
		Path:        src.Path(),
		StartOffset: ch.alignedStart,
		BlockSize:   ch.chunkSize,
	}

	hit := true
	block, err := r.blocks.GetOrCreate(key, func(BlockKey) ([]byte, error) {
		hit = false
		content := make([]byte, ch.chunkSize)

		operID := collector.GenerateOperID()
		collector.RecordOperationStart(metrics.OperationRead, operID)
		readErr := src.ReadInner(content, ch.alignedStart)
		collector.RecordOperationEnd(metrics.OperationRead, operID)
		if readErr != nil {
			return nil, readErr
		}
		// Published into the cache as-is; never mutated afterwards.
		return content, nil
	})

	access := metrics.AccessHit
	if !hit {
		access = metrics.AccessMiss
	}
	collector.RecordCacheAccess(metrics.EntityData, access)
	if err != nil {
		return err
	}

	delta := ch.requestedStart - ch.alignedStart
	copy(ch.dst, block[delta:delta+ch.bytesToCopy])
	return nil
}

// CacheEntriesInfo implements CacheReader.
func (r *InMemReader) CacheEntriesInfo() []DataCacheEntryInfo {
	if r.blocks == nil {
		return nil
	}
	keys := r.blocks.Keys()
	info := make([]DataCacheEntryInfo, 0, len(keys))
	for _, key := range keys {
		info = append(info, DataCacheEntryInfo{
			CacheFilepath:  "(no disk cache)",
			RemoteFilename: key.Path,
			StartOffset:    key.StartOffset,
			EndOffset:      key.StartOffset + key.BlockSize,
			CacheType:      "in-mem",
		})
	}
	return info
}

// ClearCache implements CacheReader.
func (r *InMemReader) ClearCache() {
	if r.blocks != nil {
		r.blocks.Clear()
	}
}

// ClearCacheForFile implements CacheReader.
func (r *InMemReader) ClearCacheForFile(fname string) {
	if r.blocks != nil {
		r.blocks.ClearFunc(func(key BlockKey) bool { return key.Path == fname })
	}
}
