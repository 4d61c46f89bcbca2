package reader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachefs/cachefs/internal/config"
)

func TestManager_SetActivePerType(t *testing.T) {
	m := &Manager{}

	cfg := config.Default()
	cfg.OnDiskCacheDirectory = t.TempDir()

	cfg.CacheType = config.CacheTypeNoop
	noop := m.SetActive(cfg)
	assert.Equal(t, "noop", noop.ReaderType())

	cfg.CacheType = config.CacheTypeInMem
	inMem := m.SetActive(cfg)
	assert.Equal(t, "in_mem", inMem.ReaderType())

	cfg.CacheType = config.CacheTypeOnDisk
	disk := m.SetActive(cfg)
	assert.Equal(t, "on_disk", disk.ReaderType())
	assert.Same(t, disk, m.Active())

	// Readers are singletons per type.
	cfg.CacheType = config.CacheTypeInMem
	assert.Same(t, inMem, m.SetActive(cfg))
}

func TestManager_ReadersExcludeNoop(t *testing.T) {
	m := &Manager{}
	cfg := config.Default()
	cfg.OnDiskCacheDirectory = t.TempDir()

	cfg.CacheType = config.CacheTypeNoop
	m.SetActive(cfg)
	assert.Empty(t, m.Readers(), "the noop reader holds no cache state")

	cfg.CacheType = config.CacheTypeInMem
	m.SetActive(cfg)
	cfg.CacheType = config.CacheTypeOnDisk
	m.SetActive(cfg)
	require.Len(t, m.Readers(), 2)
}

func TestManager_Reset(t *testing.T) {
	m := &Manager{}
	cfg := config.Default()
	cfg.OnDiskCacheDirectory = t.TempDir()
	m.SetActive(cfg)
	require.NotNil(t, m.Active())

	m.Reset()
	assert.Nil(t, m.Active())
	assert.Empty(t, m.Readers())
}
