/*
Package metrics provides profiling for the cache filesystem: fixed-bucket
latency histograms and the ProfileCollector implementations that feed them.

A collector tracks two things per cache filesystem: the latency distribution
of timed inner-filesystem operations (open, read, glob), keyed by operation
id between start and end records, and hit/miss counters per cache entity
(metadata, data, file handle, glob).

Three implementations exist. NoopCollector discards everything and is the
default. TempCollector keeps stats in memory until reset. PromCollector does
the same and additionally exports through a private prometheus registry so a
host that scrapes can keep history across resets.
*/
package metrics
