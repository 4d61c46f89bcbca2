package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// PromCollector is the persistent profile collector: every latency sample and
// cache access is both tallied in memory (for the human-readable surface) and
// exported through a private prometheus registry the host can scrape.
type PromCollector struct {
	mu sync.Mutex

	readerType      string
	histograms      [operationCount]*Histogram
	inflight        [operationCount]map[string]time.Time
	cacheAccess     [entityCount * 2]uint64
	latestTimestamp uint64

	registry          *prometheus.Registry
	cacheCounter      *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewPromCollector creates a prometheus-backed profile collector with its own
// registry.
func NewPromCollector() *PromCollector {
	c := &PromCollector{registry: prometheus.NewRegistry()}
	for op := range c.histograms {
		c.histograms[op] = NewHistogram(minLatencyMillisec, maxLatencyMillisec, latencyBucketCount)
		c.histograms[op].SetDistribution("latency", "millisec")
		c.inflight[op] = make(map[string]time.Time)
	}

	c.cacheCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cachefs",
			Name:      "cache_requests_total",
			Help:      "Cache lookups by entity and result",
		},
		[]string{"entity", "result"},
	)
	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cachefs",
			Name:      "io_operation_duration_seconds",
			Help:      "Inner filesystem operation latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"operation"},
	)
	c.registry.MustRegister(c.cacheCounter, c.operationDuration)
	return c
}

// Registry exposes the private registry for the host to scrape.
func (c *PromCollector) Registry() prometheus.Gatherer { return c.registry }

func (c *PromCollector) GenerateOperID() string {
	return uuid.NewString()
}

func (c *PromCollector) RecordOperationStart(op IOOperation, operID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[op][operID] = time.Now()
}

func (c *PromCollector) RecordOperationEnd(op IOOperation, operID string) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	start, ok := c.inflight[op][operID]
	if !ok {
		return
	}
	delete(c.inflight[op], operID)

	elapsed := now.Sub(start)
	c.histograms[op].Add(float64(elapsed) / float64(time.Millisecond))
	c.operationDuration.WithLabelValues(OperationNames[op]).Observe(elapsed.Seconds())
	c.latestTimestamp = uint64(now.UnixMilli())
}

func (c *PromCollector) RecordCacheAccess(entity CacheEntity, access CacheAccess) {
	result := "hit"
	if access == AccessMiss {
		result = "miss"
	}
	c.cacheCounter.WithLabelValues(CacheEntityNames[entity], result).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheAccess[int(entity)*2+int(access)]++
}

func (c *PromCollector) CacheAccessInfo() []CacheAccessInfo {
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

func (c *PromCollector) SetCacheReaderType(readerType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readerType = readerType
}

func (c *PromCollector) ProfilerType() string { return "persistent" }

// Reset drops the in-memory tallies. Prometheus counters are monotonic and
// left alone; scrapers rate() over them.
func (c *PromCollector) Reset() {
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

func (c *PromCollector) HumanReadableStats() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "For persistent profile collector and stats for %s (unit in milliseconds)\n", c.readerType)

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
