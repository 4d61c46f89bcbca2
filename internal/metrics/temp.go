package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Latency range for a single IO request; values outside are recorded as
// outliers rather than bucketed.
const (
	minLatencyMillisec = 0
	maxLatencyMillisec = 1000
	latencyBucketCount = 100
)

// TempCollector keeps per-operation latency histograms and per-entity cache
// hit/miss counters in memory. Stats live until reset and are rendered on
// demand; nothing is exported.
type TempCollector struct {
	mu sync.Mutex

	readerType      string
	histograms      [operationCount]*Histogram
	inflight        [operationCount]map[string]time.Time
	cacheAccess     [entityCount * 2]uint64
	latestTimestamp uint64
}

// NewTempCollector creates an in-memory profile collector.
func NewTempCollector() *TempCollector {
	c := &TempCollector{}
	for op := range c.histograms {
		c.histograms[op] = NewHistogram(minLatencyMillisec, maxLatencyMillisec, latencyBucketCount)
		c.histograms[op].SetDistribution("latency", "millisec")
		c.inflight[op] = make(map[string]time.Time)
	}
	return c
}

func (c *TempCollector) GenerateOperID() string {
	return uuid.NewString()
}

func (c *TempCollector) RecordOperationStart(op IOOperation, operID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[op][operID] = time.Now()
}

func (c *TempCollector) RecordOperationEnd(op IOOperation, operID string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	start, ok := c.inflight[op][operID]
	if !ok {
		return
	}
	delete(c.inflight[op], operID)
	c.histograms[op].Add(float64(now.Sub(start)) / float64(time.Millisecond))
	c.latestTimestamp = uint64(now.UnixMilli())
}

func (c *TempCollector) RecordCacheAccess(entity CacheEntity, access CacheAccess) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheAccess[int(entity)*2+int(access)]++
}

func (c *TempCollector) CacheAccessInfo() []CacheAccessInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	info := make([]CacheAccessInfo, entityCount)
	for i := range info {
		info[i] = CacheAccessInfo{
			CacheType: CacheEntityNames[i],
			HitCount:  c.cacheAccess[i*2+int(AccessHit)],
			MissCount: c.cacheAccess[i*2+int(AccessMiss)],
		}
	}
	return info
}

func (c *TempCollector) SetCacheReaderType(readerType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readerType = readerType
}

func (c *TempCollector) ProfilerType() string { return "temp" }

func (c *TempCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for op := range c.histograms {
		c.histograms[op].Reset()
		c.inflight[op] = make(map[string]time.Time)
	}
	for i := range c.cacheAccess {
		c.cacheAccess[i] = 0
	}
	c.latestTimestamp = 0
}

func (c *TempCollector) HumanReadableStats() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "For temp profile collector and stats for %s (unit in milliseconds)\n", c.readerType)

	for i := 0; i < int(entityCount); i++ {
		fmt.Fprintf(&b, "\n%s cache hit count = %d\n%s cache miss count = %d\n",
			CacheEntityNames[i], c.cacheAccess[i*2+int(AccessHit)],
			CacheEntityNames[i], c.cacheAccess[i*2+int(AccessMiss)])
	}

	for op := 0; op < int(operationCount); op++ {
		if c.histograms[op].Count() == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s operation latency is %s", OperationNames[op], c.histograms[op].String())
	}

	return b.String(), c.latestTimestamp
}
