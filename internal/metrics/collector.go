package metrics

// CacheEntity identifies which cache a hit/miss counter belongs to.
type CacheEntity int

const (
	EntityMetadata CacheEntity = iota
	EntityData
	EntityFileHandle
	EntityGlob

	entityCount
)

// CacheEntityNames maps CacheEntity values to display names.
var CacheEntityNames = [entityCount]string{"metadata", "data", "file handle", "glob"}

// CacheAccess is the outcome of a cache lookup.
type CacheAccess int

const (
	AccessHit CacheAccess = iota
	AccessMiss
)

// IOOperation identifies a timed inner-filesystem operation.
type IOOperation int

const (
	OperationOpen IOOperation = iota
	OperationRead
	OperationGlob

	operationCount
)

// OperationNames maps IOOperation values to display names.
var OperationNames = [operationCount]string{"open", "read", "glob"}

// CacheAccessInfo is a per-entity hit/miss tally, used by the host-facing
// status surface.
type CacheAccessInfo struct {
	CacheType string
	HitCount  uint64
	MissCount uint64
}

// ProfileCollector records per-operation latency and per-entity cache access
// counts for one cache filesystem. Implementations are safe for concurrent
// use; the readers call them from parallel sub-request workers.
type ProfileCollector interface {
	// GenerateOperID returns an id that uniquely identifies one operation
	// between its start and end records.
	GenerateOperID() string
	// RecordOperationStart marks the start of the identified operation.
	RecordOperationStart(op IOOperation, operID string)
	// RecordOperationEnd marks its completion and folds the latency into the
	// per-operation distribution.
	RecordOperationEnd(op IOOperation, operID string)
	// RecordCacheAccess counts one hit or miss against a cache entity.
	RecordCacheAccess(entity CacheEntity, access CacheAccess)
	// CacheAccessInfo returns tallies in CacheEntity order, one per entity.
	CacheAccessInfo() []CacheAccessInfo
	// SetCacheReaderType records which reader the collector profiles, for
	// display purposes.
	SetCacheReaderType(readerType string)
	// ProfilerType returns the config name of this collector implementation.
	ProfilerType() string
	// Reset drops all recorded stats.
	Reset()
	// HumanReadableStats renders the collected stats and returns the
	// timestamp (milliseconds, monotonic-ish) of the latest completed
	// operation.
	HumanReadableStats() (string, uint64)
}
