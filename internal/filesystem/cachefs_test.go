package filesystem_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachefs/cachefs/internal/config"
	"github.com/cachefs/cachefs/internal/filesystem"
	"github.com/cachefs/cachefs/internal/metrics"
	"github.com/cachefs/cachefs/internal/reader"
	"github.com/cachefs/cachefs/internal/storage/fake"
	"github.com/cachefs/cachefs/internal/storage/local"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz"

func newFacade(t *testing.T, cacheType config.CacheType) (*fake.FileSystem, *filesystem.CacheFileSystem) {
	t.Helper()
	inner := fake.New(map[string][]byte{
		"/remote/f":   []byte(alphabet),
		"/remote/g":   []byte("0123456789"),
		"/remote/sub": []byte("xx"),
	})

	cfg := config.Default()
	cfg.CacheType = cacheType
	cfg.BlockSize = 5
	cfg.OnDiskCacheDirectory = t.TempDir()
	cfg.ProfileType = config.ProfileTypeTemp

	fs := filesystem.New(inner, cfg)
	t.Cleanup(func() {
		fs.Close()
		reader.DefaultManager().Reset()
	})
	return inner, fs
}

func openRead(t *testing.T, fs *filesystem.CacheFileSystem, path string) *filesystem.CacheHandle {
	t.Helper()
	h, err := fs.OpenFile(path, filesystem.OpenRead, nil)
	require.NoError(t, err)
	return h.(*filesystem.CacheHandle)
}

func TestCacheFileSystem_PositionalRead(t *testing.T) {
	for _, cacheType := range []config.CacheType{config.CacheTypeNoop, config.CacheTypeOnDisk, config.CacheTypeInMem} {
		t.Run(string(cacheType), func(t *testing.T) {
			_, fs := newFacade(t, cacheType)
			h := openRead(t, fs, "/remote/f")
			defer h.Close()

			buf := make([]byte, 11)
			n, err := h.ReadAt(buf, 2)
			require.NoError(t, err)
			assert.Equal(t, 11, n)
			assert.Equal(t, "cdefghijklm", string(buf))
			assert.Zero(t, h.SeekPosition(), "positional reads do not move the offset")
		})
	}
}

func TestCacheFileSystem_ReadPastEnd(t *testing.T) {
	_, fs := newFacade(t, config.CacheTypeOnDisk)
	h := openRead(t, fs, "/remote/f")
	defer h.Close()

	buf := make([]byte, 10)
	n, err := h.ReadAt(buf, 26)
	require.NoError(t, err)
	assert.Zero(t, n, "reads at or past end of file return zero bytes, no error")

	n, err = h.ReadAt(buf, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Crossing end of file truncates silently.
	n, err = h.ReadAt(buf, 23)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "xyz", string(buf[:n]))
}

func TestCacheFileSystem_StreamingReadAdvances(t *testing.T) {
	_, fs := newFacade(t, config.CacheTypeOnDisk)
	h := openRead(t, fs, "/remote/f")
	defer h.Close()

	buf := make([]byte, 10)
	n, err := h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, alphabet[:10], string(buf))
	assert.Equal(t, int64(10), h.SeekPosition())

	n, err = h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, alphabet[10:20], string(buf))

	n, err = h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 6, n, "the tail read truncates at end of file")
	assert.Equal(t, alphabet[20:], string(buf[:n]))

	n, err = h.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCacheFileSystem_FileHandleReuse(t *testing.T) {
	inner, fs := newFacade(t, config.CacheTypeNoop)

	h1 := openRead(t, fs, "/remote/f")
	firstInner := h1.Inner()
	require.Equal(t, 1, inner.OpenCount())
	require.NoError(t, h1.Close())

	h2 := openRead(t, fs, "/remote/f")
	defer h2.Close()
	assert.Equal(t, 1, inner.OpenCount(), "the cached handle is checked out instead of reopening")
	assert.Same(t, firstInner, h2.Inner(), "the same inner handle object comes back")

	// While h2 owns the handle, another open cannot share it.
	h3 := openRead(t, fs, "/remote/f")
	defer h3.Close()
	assert.Equal(t, 2, inner.OpenCount())
	assert.NotSame(t, firstInner, h3.Inner())
}

func TestCacheFileSystem_ReleaseResetsStreamPosition(t *testing.T) {
	_, fs := newFacade(t, config.CacheTypeNoop)

	h1 := openRead(t, fs, "/remote/f")
	buf := make([]byte, 7)
	_, err := h1.Read(buf)
	require.NoError(t, err)
	require.NoError(t, h1.Close())

	h2 := openRead(t, fs, "/remote/f")
	defer h2.Close()
	assert.Zero(t, h2.SeekPosition(), "a recycled handle starts at offset zero")
}

func TestCacheFileSystem_NonReusableHandleNotCached(t *testing.T) {
	inner, fs := newFacade(t, config.CacheTypeNoop)
	inner.SetNonReusable(true)

	h1 := openRead(t, fs, "/remote/f")
	require.NoError(t, h1.Close())

	h2 := openRead(t, fs, "/remote/f")
	defer h2.Close()
	assert.Equal(t, 2, inner.OpenCount(), "a non-rewindable handle must not be pooled")
}

func TestCacheFileSystem_FileHandleCacheDisabled(t *testing.T) {
	inner, fs := newFacade(t, config.CacheTypeNoop)

	opener := &config.Opener{Options: map[string]string{
		config.OptionEnableFileHandleCache: "false",
	}}
	h1, err := fs.OpenFile("/remote/f", filesystem.OpenRead, opener)
	require.NoError(t, err)
	require.NoError(t, h1.Close())

	h2, err := fs.OpenFile("/remote/f", filesystem.OpenRead, opener)
	require.NoError(t, err)
	defer h2.Close()
	assert.Equal(t, 2, inner.OpenCount())
}

func TestCacheFileSystem_MetadataCache(t *testing.T) {
	inner, fs := newFacade(t, config.CacheTypeNoop)
	h := openRead(t, fs, "/remote/f")
	defer h.Close()

	size, err := fs.FileSize(h)
	require.NoError(t, err)
	assert.Equal(t, int64(26), size)

	// The fake reports a different size now, but the cached one is served
	// until the entry expires or is cleared.
	inner.AddFile("/remote/f", []byte("short"))
	size, err = fs.FileSize(h)
	require.NoError(t, err)
	assert.Equal(t, int64(26), size)

	info := fs.Collector().CacheAccessInfo()
	assert.Equal(t, uint64(1), info[metrics.EntityMetadata].MissCount)
	assert.Equal(t, uint64(1), info[metrics.EntityMetadata].HitCount)

	fs.ClearLocalCaches()
	size, err = fs.FileSize(h)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestCacheFileSystem_MetadataCacheTTL(t *testing.T) {
	inner, fs := newFacade(t, config.CacheTypeNoop)

	opener := &config.Opener{Options: map[string]string{
		config.OptionMetadataCacheTimeout: "20",
	}}
	h, err := fs.OpenFile("/remote/f", filesystem.OpenRead, opener)
	require.NoError(t, err)
	defer h.Close()

	_, err = fs.FileSize(h)
	require.NoError(t, err)
	inner.AddFile("/remote/f", []byte("xyz"))

	time.Sleep(30 * time.Millisecond)
	size, err := fs.FileSize(h)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size, "an expired size entry is re-validated against the inner filesystem")
}

func TestCacheFileSystem_GlobLiteralBypassesCache(t *testing.T) {
	inner, fs := newFacade(t, config.CacheTypeNoop)

	for i := 0; i < 2; i++ {
		matches, err := fs.Glob("/remote/f", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"/remote/f"}, matches)
	}
	assert.Equal(t, 2, inner.GlobCount(), "literal patterns are never cached")

	info := fs.Collector().CacheAccessInfo()
	assert.Zero(t, info[metrics.EntityGlob].HitCount)
	assert.Zero(t, info[metrics.EntityGlob].MissCount)
}

func TestCacheFileSystem_GlobPatternCached(t *testing.T) {
	inner, fs := newFacade(t, config.CacheTypeNoop)

	want := []string{"/remote/f", "/remote/g", "/remote/sub"}
	for i := 0; i < 2; i++ {
		matches, err := fs.Glob("/remote/*", nil)
		require.NoError(t, err)
		assert.Equal(t, want, matches)
	}
	assert.Equal(t, 1, inner.GlobCount(), "the second expansion is a cache hit")

	info := fs.Collector().CacheAccessInfo()
	assert.Equal(t, uint64(1), info[metrics.EntityGlob].MissCount)
	assert.Equal(t, uint64(1), info[metrics.EntityGlob].HitCount)
}

func TestCacheFileSystem_EndToEndConcurrentReads(t *testing.T) {
	inner, fs := newFacade(t, config.CacheTypeInMem)
	h := openRead(t, fs, "/remote/f")
	defer h.Close()

	const readers = 200
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 26)
			n, err := h.ReadAt(buf, 0)
			assert.NoError(t, err)
			assert.Equal(t, 26, n)
			assert.Equal(t, alphabet, string(buf))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, inner.ReadCount(), 6, "one inner read per block")
}

func TestCacheFileSystem_CanHandleFile(t *testing.T) {
	inner := fake.New(map[string][]byte{})
	fs := filesystem.New(inner, config.Default())
	defer fs.Close()

	assert.True(t, fs.CanHandleFile("/anything"))
	assert.True(t, fs.IsManuallySet(), "a non-local inner filesystem outranks automatic ones")

	localFS := filesystem.New(local.New(), config.Default())
	defer localFS.Close()
	assert.True(t, localFS.CanHandleFile("s3://bucket/whatever"),
		"the cache over local claims everything, as the dispatcher fallback")
	assert.False(t, localFS.IsManuallySet())
}

func TestCacheFileSystem_VerifyCachedRead(t *testing.T) {
	_, fs := newFacade(t, config.CacheTypeInMem)
	cfg := fs.Config()
	cfg.VerifyCachedRead = true

	h := openRead(t, fs, "/remote/g")
	defer h.Close()

	buf := make([]byte, 10)
	n, err := h.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "0123456789", string(buf))
}

func TestCacheFileSystem_Delegations(t *testing.T) {
	_, fs := newFacade(t, config.CacheTypeNoop)

	assert.True(t, fs.FileExists("/remote/f"))
	assert.False(t, fs.FileExists("/remote/missing"))

	require.NoError(t, fs.MoveFile("/remote/sub", "/remote/moved"))
	assert.True(t, fs.FileExists("/remote/moved"))

	require.NoError(t, fs.RemoveFile("/remote/moved"))
	assert.False(t, fs.FileExists("/remote/moved"))
}
