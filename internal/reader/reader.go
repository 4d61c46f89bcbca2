// Package reader implements the cache readers that service logical reads by
// fanning out block-aligned sub-requests: a noop reader that always hits the
// inner filesystem, an in-memory block cache reader, and an on-disk reader
// that persists blocks as local files.
package reader

import (
	"github.com/cachefs/cachefs/internal/config"
	"github.com/cachefs/cachefs/internal/metrics"
)

// Source is one open remote file as seen by a cache reader. The facade hands
// its own handle in, which re-resolves the inner filesystem per sub-request;
// readers never hold filesystem references of their own.
type Source interface {
	// Path is the remote path, used to key cache entries.
	Path() string
	// ReadInner fills p from the inner filesystem at the given location.
	ReadInner(p []byte, location int64) error
	// Config is the configuration snapshot taken when the file was opened.
	Config() *config.Config
	// Collector receives profiling for this source's reads.
	Collector() metrics.ProfileCollector
}

// DataCacheEntryInfo describes one cached block for the status surface.
type DataCacheEntryInfo struct {
	CacheFilepath  string
	RemoteFilename string
	StartOffset    int64
	EndOffset      int64
	CacheType      string
}

// CacheReader services logical reads against one block-cache backend.
type CacheReader interface {
	// ReadAndCache reads nrBytes starting at location into buf, consulting
	// and populating the block cache. buf must hold at least nrBytes.
	// fileSize bounds the last block. The request must already be clamped to
	// the file (location+nrBytes <= fileSize).
	ReadAndCache(src Source, buf []byte, location, nrBytes, fileSize int64) error

	// CacheEntriesInfo enumerates currently cached blocks.
	CacheEntriesInfo() []DataCacheEntryInfo

	// ClearCache drops every cached block.
	ClearCache()

	// ClearCacheForFile drops the blocks cached for one remote file.
	ClearCacheForFile(fname string)

	// ReaderType is the config name of this reader.
	ReaderType() string
}

// readChunk is one block-aligned sub-request of a logical read, together with
// the slice of the caller's buffer it fills.
type readChunk struct {
	// dst is the caller window this chunk copies into.
	dst []byte
	// requestedStart is where the caller's interest in this chunk begins.
	requestedStart int64
	// alignedStart is requestedStart rounded down to a block boundary.
	alignedStart int64
	// chunkSize is the IO size: the block size except for a file's last
	// block.
	chunkSize int64
	// bytesToCopy is how much of the block lands in dst.
	bytesToCopy int64
	// staging holds the full block when dst does not start on the block
	// boundary or does not cover the whole block. Middle chunks leave it nil
	// and read straight into dst on a cache hit; a miss allocates it so the
	// complete block can be published.
	staging []byte
}

// copyToDst moves the caller's window of the staged block into dst. No-op
// when the chunk read directly into dst.
func (ch *readChunk) copyToDst() {
	if ch.staging == nil {
		return
	}
	delta := ch.requestedStart - ch.alignedStart
	copy(ch.dst, ch.staging[delta:delta+ch.bytesToCopy])
}

// planChunks splits a clamped read request into block-aligned sub-requests.
// Middle chunks span exactly one block and the caller's buffer covers them
// fully; the first and last chunk stage through an intermediate buffer when
// withStaging is set, because the requested window does not line up with
// block boundaries.
func planChunks(buf []byte, location, nrBytes, fileSize, blockSize int64, withStaging bool) []*readChunk {
	alignedStart := location / blockSize * blockSize
	alignedLast := (location + nrBytes) / blockSize * blockSize

	var chunks []*readChunk
	written := int64(0)
	requestedStart := location

	for off := alignedStart; off <= alignedLast; off += blockSize {
		ch := &readChunk{
			requestedStart: requestedStart,
			alignedStart:   off,
		}

		switch {
		// Sole chunk: serves as both the first and the last.
		case off == alignedStart && off == alignedLast:
			ch.chunkSize = min(blockSize, fileSize-off)
			ch.bytesToCopy = nrBytes
			if withStaging {
				ch.staging = make([]byte, ch.chunkSize)
			}
		// First of many: the requested start may sit inside the block.
		case off == alignedStart:
			ch.chunkSize = blockSize
			ch.bytesToCopy = blockSize - (location - alignedStart)
			if withStaging {
				ch.staging = make([]byte, blockSize)
			}
		// Last of many: only the remainder is copied.
		case off == alignedLast:
			ch.chunkSize = min(blockSize, fileSize-off)
			ch.bytesToCopy = nrBytes - written
			if withStaging {
				ch.staging = make([]byte, ch.chunkSize)
			}
		// Middle: the block maps 1:1 onto the caller's buffer.
		default:
			ch.chunkSize = blockSize
			ch.bytesToCopy = blockSize
		}

		requestedStart = off + blockSize

		// A request ending exactly on a block boundary plans a trailing
		// zero-size chunk; nothing to read or copy.
		if ch.chunkSize == 0 {
			continue
		}

		ch.dst = buf[written : written+ch.bytesToCopy]
		written += ch.bytesToCopy
		chunks = append(chunks, ch)
	}
	return chunks
}
