package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, CacheTypeOnDisk, cfg.CacheType)
	assert.Equal(t, int64(64*1024), cfg.BlockSize)
	assert.Equal(t, "/tmp/duckdb_cache_httpfs_cache", cfg.OnDiskCacheDirectory)
	assert.Equal(t, 256, cfg.MaxInMemBlockCount)
	assert.Equal(t, ProfileTypeNoop, cfg.ProfileType)
	assert.Zero(t, cfg.MaxFanoutSubrequest, "fanout is unbounded by default")
	assert.True(t, cfg.EnableMetadataCache)
	assert.True(t, cfg.EnableFileHandleCache)
	assert.True(t, cfg.EnableGlobCache)
	assert.Zero(t, cfg.MinDiskBytesForCache, "zero falls back to the percentage rule")
	assert.False(t, cfg.IgnoreSIGPIPE)
}

func TestApply_ValidOptions(t *testing.T) {
	cfg := Default()
	cfg.Apply(&Opener{Options: map[string]string{
		OptionCacheType:            "in_mem",
		OptionCacheBlockSize:       "1024",
		OptionMaxInMemBlockCount:   "16",
		OptionInMemBlockTimeout:    "5000",
		OptionProfileType:          "temp",
		OptionMaxFanoutSubrequest:  "8",
		OptionEnableMetadataCache:  "false",
		OptionEnableGlobCache:      "true",
		OptionGlobCacheEntries:     "32",
		OptionGlobCacheTimeout:     "60000",
	}})

	assert.Equal(t, CacheTypeInMem, cfg.CacheType)
	assert.Equal(t, int64(1024), cfg.BlockSize)
	assert.Equal(t, 16, cfg.MaxInMemBlockCount)
	assert.Equal(t, 5*time.Second, cfg.InMemBlockTimeout)
	assert.Equal(t, ProfileTypeTemp, cfg.ProfileType)
	assert.Equal(t, 8, cfg.MaxFanoutSubrequest)
	assert.False(t, cfg.EnableMetadataCache)
	assert.Equal(t, 32, cfg.GlobCacheEntries)
	assert.Equal(t, time.Minute, cfg.GlobCacheTimeout)
}

func TestApply_InvalidValuesSilentlyIgnored(t *testing.T) {
	cfg := Default()
	cfg.Apply(&Opener{Options: map[string]string{
		OptionCacheType:           "bogus",
		OptionCacheBlockSize:      "-5",
		OptionProfileType:         "whatever",
		OptionMaxFanoutSubrequest: "not-a-number",
	}})

	// The last valid values stay in effect.
	assert.Equal(t, CacheTypeOnDisk, cfg.CacheType)
	assert.Equal(t, int64(64*1024), cfg.BlockSize)
	assert.Equal(t, ProfileTypeNoop, cfg.ProfileType)
	assert.Zero(t, cfg.MaxFanoutSubrequest)
}

func TestApply_DuckdbProfileAlias(t *testing.T) {
	cfg := Default()
	cfg.Apply(&Opener{Options: map[string]string{OptionProfileType: "duckdb"}})
	assert.Equal(t, ProfileTypePersistent, cfg.ProfileType)
}

func TestApply_OnDiskOnlyOptions(t *testing.T) {
	cfg := Default()
	cfg.Apply(&Opener{Options: map[string]string{
		OptionCacheType:            "in_mem",
		OptionCacheDirectory:       "/elsewhere",
		OptionMinDiskBytesForCache: "4096",
	}})

	// Disk knobs are only honored for the on-disk cache type.
	assert.Equal(t, DefaultOnDiskCacheDirectory, cfg.OnDiskCacheDirectory)
	assert.Zero(t, cfg.MinDiskBytesForCache)

	cfg = Default()
	cfg.Apply(&Opener{Options: map[string]string{
		OptionCacheDirectory:       "/elsewhere",
		OptionMinDiskBytesForCache: "4096",
	}})
	assert.Equal(t, "/elsewhere", cfg.OnDiskCacheDirectory)
	assert.Equal(t, int64(4096), cfg.MinDiskBytesForCache)
}

func TestApply_NilOpener(t *testing.T) {
	cfg := Default()
	cfg.Apply(nil)
	assert.Equal(t, Default(), cfg)
}

func TestFromOpener_DoesNotMutateBase(t *testing.T) {
	base := Default()
	derived := FromOpener(base, &Opener{Options: map[string]string{
		OptionCacheType: "noop",
	}})

	assert.Equal(t, CacheTypeNoop, derived.CacheType)
	assert.Equal(t, CacheTypeOnDisk, base.CacheType)
}

func TestTestCacheTypeOverrideWins(t *testing.T) {
	SetTestCacheType(CacheTypeInMem)
	defer SetTestCacheType("")

	cfg := Default()
	cfg.Apply(&Opener{Options: map[string]string{OptionCacheType: "on_disk"}})
	assert.Equal(t, CacheTypeInMem, cfg.CacheType)
}

func TestThreadCountForSubrequests(t *testing.T) {
	cfg := Default()

	cfg.MaxFanoutSubrequest = 0
	assert.Equal(t, 7, cfg.ThreadCountForSubrequests(7), "zero means one worker per sub-request")

	cfg.MaxFanoutSubrequest = 4
	assert.Equal(t, 4, cfg.ThreadCountForSubrequests(7))
	assert.Equal(t, 2, cfg.ThreadCountForSubrequests(2))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cachefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"cache_type: in_mem\nblock_size: 4096\nenable_glob_cache: false\n"), 0o644))

	cfg := Default()
	require.NoError(t, cfg.LoadFromFile(path))
	assert.Equal(t, CacheTypeInMem, cfg.CacheType)
	assert.Equal(t, int64(4096), cfg.BlockSize)
	assert.False(t, cfg.EnableGlobCache)

	assert.Error(t, cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")))
}
