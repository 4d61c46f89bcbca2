package reader_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachefs/cachefs/internal/config"
	"github.com/cachefs/cachefs/internal/metrics"
	"github.com/cachefs/cachefs/internal/reader"
	"github.com/cachefs/cachefs/internal/storage/fake"
)

func inMemTestSetup(t *testing.T) (*fake.FileSystem, *config.Config, *reader.InMemReader) {
	t.Helper()
	fs := fake.New(map[string][]byte{"/remote/f": []byte(alphabet)})
	cfg := config.Default()
	cfg.CacheType = config.CacheTypeInMem
	cfg.BlockSize = 5
	return fs, cfg, reader.NewInMemReader()
}

func TestInMemReader_RoundTrip(t *testing.T) {
	fs, cfg, r := inMemTestSetup(t)
	src := newTestSource(t, fs, "/remote/f", cfg)

	buf := make([]byte, 11)
	require.NoError(t, r.ReadAndCache(src, buf, 2, 11, 26))
	assert.Equal(t, "cdefghijklm", string(buf))
	assert.Equal(t, 3, fs.ReadCount())

	fs.ResetCounters()
	buf2 := make([]byte, 11)
	require.NoError(t, r.ReadAndCache(src, buf2, 2, 11, 26))
	assert.Equal(t, "cdefghijklm", string(buf2))
	assert.Zero(t, fs.ReadCount(), "repeated read is served from memory")
}

func TestInMemReader_ConcurrentReadersDeduplicate(t *testing.T) {
	fs, cfg, r := inMemTestSetup(t)
	src := newTestSource(t, fs, "/remote/f", cfg)

	const readers = 200
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 26)
			assert.NoError(t, r.ReadAndCache(src, buf, 0, 26, 26))
			assert.Equal(t, alphabet, string(buf))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, fs.ReadCount(), 6,
		"at most one inner read per block regardless of requester count")
}

func TestInMemReader_HitMissAccounting(t *testing.T) {
	fs, cfg, r := inMemTestSetup(t)
	src := newTestSource(t, fs, "/remote/f", cfg)

	buf := make([]byte, 11)
	require.NoError(t, r.ReadAndCache(src, buf, 2, 11, 26))
	require.NoError(t, r.ReadAndCache(src, buf, 2, 11, 26))

	info := src.Collector().CacheAccessInfo()
	assert.Equal(t, uint64(3), info[metrics.EntityData].MissCount)
	assert.Equal(t, uint64(3), info[metrics.EntityData].HitCount)
}

func TestInMemReader_CapacityBound(t *testing.T) {
	fs, cfg, r := inMemTestSetup(t)
	cfg.MaxInMemBlockCount = 2
	src := newTestSource(t, fs, "/remote/f", cfg)

	buf := make([]byte, 26)
	require.NoError(t, r.ReadAndCache(src, buf, 0, 26, 26))
	assert.LessOrEqual(t, len(r.CacheEntriesInfo()), 2,
		"block count must not exceed the configured maximum")
}

func TestInMemReader_TTLExpiry(t *testing.T) {
	fs, cfg, r := inMemTestSetup(t)
	cfg.InMemBlockTimeout = 20 * time.Millisecond
	src := newTestSource(t, fs, "/remote/f", cfg)

	buf := make([]byte, 5)
	require.NoError(t, r.ReadAndCache(src, buf, 11, 3, 26))
	first := fs.ReadCount()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, r.ReadAndCache(src, buf, 11, 3, 26))
	assert.Greater(t, fs.ReadCount(), first, "expired blocks are fetched again")
}

func TestInMemReader_EnumerateAndClear(t *testing.T) {
	fs, cfg, r := inMemTestSetup(t)
	src := newTestSource(t, fs, "/remote/f", cfg)

	buf := make([]byte, 11)
	require.NoError(t, r.ReadAndCache(src, buf, 2, 11, 26))

	entries := r.CacheEntriesInfo()
	require.Len(t, entries, 3)
	for _, entry := range entries {
		assert.Equal(t, "(no disk cache)", entry.CacheFilepath)
		assert.Equal(t, "/remote/f", entry.RemoteFilename)
		assert.Equal(t, "in-mem", entry.CacheType)
	}

	r.ClearCache()
	assert.Empty(t, r.CacheEntriesInfo())
}

func TestInMemReader_ClearByFile(t *testing.T) {
	fs, cfg, r := inMemTestSetup(t)
	fs.AddFile("/remote/g", []byte(alphabet))
	srcF := newTestSource(t, fs, "/remote/f", cfg)
	srcG := newTestSource(t, fs, "/remote/g", cfg)

	buf := make([]byte, 3)
	require.NoError(t, r.ReadAndCache(srcF, buf, 11, 3, 26))
	require.NoError(t, r.ReadAndCache(srcG, buf, 11, 3, 26))
	require.Len(t, r.CacheEntriesInfo(), 2)

	r.ClearCacheForFile("/remote/f")
	entries := r.CacheEntriesInfo()
	require.Len(t, entries, 1)
	assert.Equal(t, "/remote/g", entries[0].RemoteFilename)
}

func TestInMemReader_SharedBuffersAreStable(t *testing.T) {
	fs, cfg, r := inMemTestSetup(t)
	src := newTestSource(t, fs, "/remote/f", cfg)

	buf := make([]byte, 11)
	require.NoError(t, r.ReadAndCache(src, buf, 2, 11, 26))

	// Scribbling over the returned window must not reach the cached block.
	for i := range buf {
		buf[i] = '#'
	}
	buf2 := make([]byte, 11)
	require.NoError(t, r.ReadAndCache(src, buf2, 2, 11, 26))
	assert.Equal(t, "cdefghijklm", string(buf2))
}
