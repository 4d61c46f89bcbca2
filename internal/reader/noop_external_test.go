package reader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachefs/cachefs/internal/config"
	"github.com/cachefs/cachefs/internal/filesystem"
	"github.com/cachefs/cachefs/internal/metrics"
	"github.com/cachefs/cachefs/internal/reader"
	"github.com/cachefs/cachefs/internal/storage/fake"
)

// testSource adapts a fake filesystem handle to the Source contract the
// readers consume.
type testSource struct {
	fs        *fake.FileSystem
	handle    filesystem.FileHandle
	cfg       *config.Config
	collector metrics.ProfileCollector
}

func newTestSource(t *testing.T, fs *fake.FileSystem, path string, cfg *config.Config) *testSource {
	t.Helper()
	handle, err := fs.OpenFile(path, filesystem.OpenRead, nil)
	require.NoError(t, err)
	return &testSource{fs: fs, handle: handle, cfg: cfg, collector: metrics.NewTempCollector()}
}

func (s *testSource) Path() string                        { return s.handle.Path() }
func (s *testSource) Config() *config.Config              { return s.cfg }
func (s *testSource) Collector() metrics.ProfileCollector { return s.collector }
func (s *testSource) ReadInner(p []byte, location int64) error {
	return s.fs.Read(s.handle, p, location)
}

func TestNoopReader_DelegatesWholeRequest(t *testing.T) {
	content := []byte("abcdefghijklmnopqrstuvwxyz")
	fs := fake.New(map[string][]byte{"/f": content})
	cfg := config.Default()
	cfg.BlockSize = 5

	src := newTestSource(t, fs, "/f", cfg)
	r := reader.NewNoopReader()

	buf := make([]byte, 11)
	require.NoError(t, r.ReadAndCache(src, buf, 2, 11, 26))
	assert.Equal(t, "cdefghijklm", string(buf))

	reads := fs.Reads()
	require.Len(t, reads, 1, "noop reader issues exactly one inner read")
	assert.Equal(t, int64(2), reads[0].Location)
	assert.Equal(t, 11, reads[0].NrBytes)

	assert.Nil(t, r.CacheEntriesInfo())
}
