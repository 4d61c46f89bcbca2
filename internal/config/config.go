package config

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v2"
)

// CacheType selects which block cache backs reads.
type CacheType string

const (
	CacheTypeNoop   CacheType = "noop"
	CacheTypeOnDisk CacheType = "on_disk"
	CacheTypeInMem  CacheType = "in_mem"
)

// ProfileType selects the profile collector implementation.
type ProfileType string

const (
	ProfileTypeNoop       ProfileType = "noop"
	ProfileTypeTemp       ProfileType = "temp"
	ProfileTypePersistent ProfileType = "persistent"
)

// Defaults for all knobs. Capacity 0 means unbounded, timeout 0 means never
// expire.
const (
	DefaultCacheBlockSize        = 64 * 1024
	DefaultOnDiskCacheDirectory  = "/tmp/duckdb_cache_httpfs_cache"
	DefaultMaxInMemBlockCount    = 256
	DefaultMaxFanoutSubrequest   = 0
	DefaultMetadataCacheEntries  = 125
	DefaultMetadataCacheTimeout  = 30 * time.Minute
	DefaultFileHandleCacheEntries = 125
	DefaultFileHandleCacheTimeout = 30 * time.Minute
	DefaultGlobCacheEntries      = 64
	DefaultGlobCacheTimeout      = 5 * time.Minute
)

// Config holds every knob the cache filesystem recognizes. A facade captures
// a snapshot at each open; a snapshot is never mutated afterwards, so a read
// in flight keeps the configuration it started with.
type Config struct {
	CacheType            CacheType `yaml:"cache_type"`
	BlockSize            int64     `yaml:"block_size"`
	OnDiskCacheDirectory string    `yaml:"on_disk_cache_directory"`

	MaxInMemBlockCount int           `yaml:"max_in_mem_block_count"`
	InMemBlockTimeout  time.Duration `yaml:"in_mem_block_timeout"`

	ProfileType ProfileType `yaml:"profile_type"`

	// MaxFanoutSubrequest caps parallel sub-requests per logical read;
	// 0 means one worker per sub-request.
	MaxFanoutSubrequest int `yaml:"max_fanout_subrequest"`

	EnableMetadataCache  bool          `yaml:"enable_metadata_cache"`
	MetadataCacheEntries int           `yaml:"metadata_cache_entries"`
	MetadataCacheTimeout time.Duration `yaml:"metadata_cache_timeout"`

	EnableFileHandleCache  bool          `yaml:"enable_file_handle_cache"`
	FileHandleCacheEntries int           `yaml:"file_handle_cache_entries"`
	FileHandleCacheTimeout time.Duration `yaml:"file_handle_cache_timeout"`

	EnableGlobCache  bool          `yaml:"enable_glob_cache"`
	GlobCacheEntries int           `yaml:"glob_cache_entries"`
	GlobCacheTimeout time.Duration `yaml:"glob_cache_timeout"`

	// MinDiskBytesForCache is the reserved free space below which on-disk
	// publication is skipped; 0 falls back to a percentage of the volume.
	MinDiskBytesForCache int64 `yaml:"min_disk_bytes_for_cache"`

	IgnoreSIGPIPE bool `yaml:"ignore_sigpipe"`

	// VerifyCachedRead cross-checks every cached read against the inner
	// filesystem. Debug aid; very slow.
	VerifyCachedRead bool `yaml:"verify_cached_read"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		CacheType:            CacheTypeOnDisk,
		BlockSize:            DefaultCacheBlockSize,
		OnDiskCacheDirectory: DefaultOnDiskCacheDirectory,

		MaxInMemBlockCount: DefaultMaxInMemBlockCount,
		InMemBlockTimeout:  0,

		ProfileType: ProfileTypeNoop,

		MaxFanoutSubrequest: DefaultMaxFanoutSubrequest,

		EnableMetadataCache:  true,
		MetadataCacheEntries: DefaultMetadataCacheEntries,
		MetadataCacheTimeout: DefaultMetadataCacheTimeout,

		EnableFileHandleCache:  true,
		FileHandleCacheEntries: DefaultFileHandleCacheEntries,
		FileHandleCacheTimeout: DefaultFileHandleCacheTimeout,

		EnableGlobCache:  true,
		GlobCacheEntries: DefaultGlobCacheEntries,
		GlobCacheTimeout: DefaultGlobCacheTimeout,
	}
}

// Clone returns a copy the caller may mutate independently.
func (c *Config) Clone() *Config {
	dup := *c
	return &dup
}

// LoadFromFile overlays the yaml file at path onto c.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Option keys recognized from the host opener. The names are wire format;
// hosts set them as-is.
const (
	OptionCacheType                = "cache_httpfs_type"
	OptionCacheDirectory           = "cache_httpfs_cache_directory"
	OptionCacheBlockSize           = "cache_httpfs_cache_block_size"
	OptionMaxInMemBlockCount       = "cache_httpfs_max_in_mem_cache_block_count"
	OptionInMemBlockTimeout        = "cache_httpfs_in_mem_cache_block_timeout_millisec"
	OptionProfileType              = "cache_httpfs_profile_type"
	OptionMaxFanoutSubrequest      = "cache_httpfs_max_fanout_subrequest"
	OptionEnableMetadataCache      = "cache_httpfs_enable_metadata_cache"
	OptionMetadataCacheEntries     = "cache_httpfs_metadata_cache_entry_size"
	OptionMetadataCacheTimeout     = "cache_httpfs_metadata_cache_entry_timeout_millisec"
	OptionEnableFileHandleCache    = "cache_httpfs_enable_file_handle_cache"
	OptionFileHandleCacheEntries   = "cache_httpfs_file_handle_cache_entry_size"
	OptionFileHandleCacheTimeout   = "cache_httpfs_file_handle_cache_entry_timeout_millisec"
	OptionEnableGlobCache          = "cache_httpfs_enable_glob_cache"
	OptionGlobCacheEntries         = "cache_httpfs_glob_cache_entry_size"
	OptionGlobCacheTimeout         = "cache_httpfs_glob_cache_entry_timeout_millisec"
	OptionMinDiskBytesForCache     = "cache_httpfs_min_disk_bytes_for_cache"
	OptionIgnoreSIGPIPE            = "cache_httpfs_ignore_sigpipe"
)

// Opener carries per-open settings from the host, mirroring the opener hook
// the facade receives on every open call.
type Opener struct {
	Options map[string]string
}

// Setting returns the raw option value and whether it was provided.
func (o *Opener) Setting(key string) (string, bool) {
	if o == nil || o.Options == nil {
		return "", false
	}
	val, ok := o.Options[key]
	return val, ok
}

// Apply overlays the opener's options onto c. Unrecognized enum values and
// unparsable numerics are ignored; the last valid value stays in effect.
func (c *Config) Apply(opener *Opener) {
	if val, ok := opener.Setting(OptionCacheType); ok {
		switch CacheType(val) {
		case CacheTypeNoop, CacheTypeOnDisk, CacheTypeInMem:
			c.CacheType = CacheType(val)
		}
	}
	if forced := TestCacheType(); forced != "" {
		c.CacheType = forced
	}

	applyPositiveInt64(opener, OptionCacheBlockSize, &c.BlockSize)

	if val, ok := opener.Setting(OptionProfileType); ok {
		switch val {
		case string(ProfileTypeNoop), string(ProfileTypeTemp), string(ProfileTypePersistent):
			c.ProfileType = ProfileType(val)
		case "duckdb":
			// Legacy alias for the persistent collector.
			c.ProfileType = ProfileTypePersistent
		}
	}

	applyNonNegativeInt(opener, OptionMaxFanoutSubrequest, &c.MaxFanoutSubrequest)

	if val, ok := opener.Setting(OptionIgnoreSIGPIPE); ok {
		if parsed, err := strconv.ParseBool(val); err == nil && parsed {
			c.IgnoreSIGPIPE = true
			ignoreSIGPIPE()
		}
	}

	if c.CacheType == CacheTypeOnDisk {
		if val, ok := opener.Setting(OptionCacheDirectory); ok && val != "" {
			c.OnDiskCacheDirectory = val
		}
		applyPositiveInt64(opener, OptionMinDiskBytesForCache, &c.MinDiskBytesForCache)
	}

	if c.CacheType == CacheTypeInMem {
		applyPositiveInt(opener, OptionMaxInMemBlockCount, &c.MaxInMemBlockCount)
		applyTimeoutMillisec(opener, OptionInMemBlockTimeout, &c.InMemBlockTimeout)
	}

	applyBool(opener, OptionEnableMetadataCache, &c.EnableMetadataCache)
	if c.EnableMetadataCache {
		applyNonNegativeInt(opener, OptionMetadataCacheEntries, &c.MetadataCacheEntries)
		applyTimeoutMillisec(opener, OptionMetadataCacheTimeout, &c.MetadataCacheTimeout)
	}

	applyBool(opener, OptionEnableFileHandleCache, &c.EnableFileHandleCache)
	if c.EnableFileHandleCache {
		applyNonNegativeInt(opener, OptionFileHandleCacheEntries, &c.FileHandleCacheEntries)
		applyTimeoutMillisec(opener, OptionFileHandleCacheTimeout, &c.FileHandleCacheTimeout)
	}

	applyBool(opener, OptionEnableGlobCache, &c.EnableGlobCache)
	if c.EnableGlobCache {
		applyNonNegativeInt(opener, OptionGlobCacheEntries, &c.GlobCacheEntries)
		applyTimeoutMillisec(opener, OptionGlobCacheTimeout, &c.GlobCacheTimeout)
	}
}

// FromOpener clones base and overlays the opener's options.
func FromOpener(base *Config, opener *Opener) *Config {
	cfg := base.Clone()
	cfg.Apply(opener)
	return cfg
}

// ThreadCountForSubrequests returns how many workers to dispatch for the
// given sub-request count under c's fanout cap.
func (c *Config) ThreadCountForSubrequests(subrequestCount int) int {
	if c.MaxFanoutSubrequest == 0 {
		return subrequestCount
	}
	return min(subrequestCount, c.MaxFanoutSubrequest)
}

func applyBool(opener *Opener, key string, dst *bool) {
	if val, ok := opener.Setting(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			*dst = parsed
		}
	}
}

func applyPositiveInt64(opener *Opener, key string, dst *int64) {
	if val, ok := opener.Setting(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil && parsed > 0 {
			*dst = parsed
		}
	}
}

func applyPositiveInt(opener *Opener, key string, dst *int) {
	if val, ok := opener.Setting(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			*dst = parsed
		}
	}
}

func applyNonNegativeInt(opener *Opener, key string, dst *int) {
	if val, ok := opener.Setting(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil && parsed >= 0 {
			*dst = parsed
		}
	}
}

func applyTimeoutMillisec(opener *Opener, key string, dst *time.Duration) {
	if val, ok := opener.Setting(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil && parsed >= 0 {
			*dst = time.Duration(parsed) * time.Millisecond
		}
	}
}

// The SIGPIPE disposition is process-global, so ignoring it is one-way: once
// latched it is never restored.
var sigpipeOnce sync.Once

func ignoreSIGPIPE() {
	sigpipeOnce.Do(func() {
		signal.Ignore(syscall.SIGPIPE)
	})
}
