package reader

import "github.com/cachefs/cachefs/internal/metrics"

// NoopReader bypasses caching entirely: the logical read is delegated to the
// inner filesystem in a single call.
type NoopReader struct{}

// NewNoopReader creates a reader with no cache.
func NewNoopReader() *NoopReader { return &NoopReader{} }

// ReaderType implements CacheReader.
func (r *NoopReader) ReaderType() string { return "noop" }

// ReadAndCache implements CacheReader.
func (r *NoopReader) ReadAndCache(src Source, buf []byte, location, nrBytes, _ int64) error {
	collector := src.Collector()
	operID := collector.GenerateOperID()
	collector.RecordOperationStart(metrics.OperationRead, operID)
	err := src.ReadInner(buf[:nrBytes], location)
	collector.RecordOperationEnd(metrics.OperationRead, operID)
	return err
}

// CacheEntriesInfo implements CacheReader; there is never anything cached.
func (r *NoopReader) CacheEntriesInfo() []DataCacheEntryInfo { return nil }

// ClearCache implements CacheReader.
func (r *NoopReader) ClearCache() {}

// ClearCacheForFile implements CacheReader.
func (r *NoopReader) ClearCacheForFile(string) {}
