package metrics

import (
	"fmt"
	"strings"
)

// Histogram is a fixed-bucket distribution over [min, max). Values outside
// the range are kept verbatim in an outlier list instead of being clamped
// into a boundary bucket. It is not safe for concurrent use; callers hold
// their own lock.
type Histogram struct {
	minVal  float64
	maxVal  float64
	buckets []uint64

	name string
	unit string

	minSeen  float64
	maxSeen  float64
	sum      float64
	count    uint64
	outliers []float64
}

// NewHistogram creates a histogram with numBuckets equal-width buckets over
// [minVal, maxVal). minVal must be less than maxVal and numBuckets positive.
func NewHistogram(minVal, maxVal float64, numBuckets int) *Histogram {
	if minVal >= maxVal {
		panic(fmt.Sprintf("histogram range [%f, %f) is empty", minVal, maxVal))
	}
	if numBuckets <= 0 {
		panic(fmt.Sprintf("histogram bucket count %d is not positive", numBuckets))
	}
	h := &Histogram{
		minVal:  minVal,
		maxVal:  maxVal,
		buckets: make([]uint64, numBuckets),
	}
	h.Reset()
	return h
}

// SetDistribution names the recorded quantity and its unit for formatting.
func (h *Histogram) SetDistribution(name, unit string) {
	h.name = name
	h.unit = unit
}

// Reset clears all recorded values and outliers.
func (h *Histogram) Reset() {
	h.minSeen = h.maxVal
	h.maxSeen = h.minVal
	h.sum = 0
	h.count = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
	h.outliers = h.outliers[:0]
}

func (h *Histogram) bucketIndex(val float64) int {
	frac := (val - h.minVal) / (h.maxVal - h.minVal)
	return int(frac * float64(len(h.buckets)))
}

// Add records val, placing it in the outlier list when it falls outside
// [min, max).
func (h *Histogram) Add(val float64) {
	if val < h.minVal || val >= h.maxVal {
		h.outliers = append(h.outliers, val)
		return
	}
	h.buckets[h.bucketIndex(val)]++
	h.minSeen = min(h.minSeen, val)
	h.maxSeen = max(h.maxSeen, val)
	h.count++
	h.sum += val
}

// Count returns the number of in-range values recorded.
func (h *Histogram) Count() uint64 { return h.count }

// Min returns the smallest in-range value recorded.
func (h *Histogram) Min() float64 { return h.minSeen }

// Max returns the largest in-range value recorded.
func (h *Histogram) Max() float64 { return h.maxSeen }

// Outliers returns the values recorded outside [min, max).
func (h *Histogram) Outliers() []float64 { return h.outliers }

// Mean returns the mean of in-range values, 0 when nothing was recorded.
func (h *Histogram) Mean() float64 {
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// String renders the distribution, skipping empty buckets.
func (h *Histogram) String() string {
	var b strings.Builder

	if len(h.outliers) > 0 {
		parts := make([]string, len(h.outliers))
		for i, v := range h.outliers {
			parts[i] = fmt.Sprintf("%f", v)
		}
		fmt.Fprintf(&b, "Outliers %s with unit %s: %s\n", h.name, h.unit, strings.Join(parts, ", "))
	}

	fmt.Fprintf(&b, "Max %s = %f %s\n", h.name, h.Max(), h.unit)
	fmt.Fprintf(&b, "Min %s = %f %s\n", h.name, h.Min(), h.unit)
	fmt.Fprintf(&b, "Mean %s = %f %s\n", h.name, h.Mean(), h.unit)

	interval := (h.maxVal - h.minVal) / float64(len(h.buckets))
	for i, cnt := range h.buckets {
		if cnt == 0 {
			continue
		}
		lo := h.minVal + interval*float64(i)
		hi := min(lo+interval, h.maxVal)
		pct := float64(cnt) / float64(h.count) * 100
		fmt.Fprintf(&b, "Distribution %s [%f, %f) %s: %f %%\n", h.name, lo, hi, h.unit, pct)
	}
	return b.String()
}
