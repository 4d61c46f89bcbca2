package reader_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachefs/cachefs/internal/reader"
)

func TestManager_ClearAllAcrossReaders(t *testing.T) {
	m := &reader.Manager{}
	fs, cfg, _ := inMemTestSetup(t)
	cfg.OnDiskCacheDirectory = t.TempDir()

	m.SetActive(cfg) // in_mem
	src := newTestSource(t, fs, "/remote/f", cfg)
	buf := make([]byte, 3)
	require.NoError(t, m.Active().ReadAndCache(src, buf, 11, 3, 26))
	require.NotEmpty(t, m.Readers()[0].CacheEntriesInfo())

	m.ClearAll()
	assert.Empty(t, m.Readers()[0].CacheEntriesInfo())
}
