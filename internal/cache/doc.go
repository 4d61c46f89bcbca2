/*
Package cache provides the LRU primitives the caching filesystem is built on.

Four variants share one design: a doubly linked recency list plus a map from
key to entry. Entries carry the timestamp of their insertion; a configured TTL
is checked on lookup and an expired entry is removed rather than returned.
Capacity 0 means unbounded, TTL 0 means never expire. Timestamps are set at
insert only, not refreshed on access, which bounds staleness to at most one
TTL regardless of traffic.

  - SharedLRU: values are returned as-is and may be held by any number of
    readers concurrently; callers must treat them as immutable. Used for the
    in-memory block cache, the metadata cache and the glob cache.
  - CopiableLRU: values are cheap to copy and returned by value. None of the
    facade's caches uses it; the metadata cache is a SharedLRU.
  - ExclusiveLRU: at most one value per key; a value is either in the cache or
    in the hands of exactly one caller, never both.
  - ExclusiveMultiLRU: a FIFO of values per key; GetAndPop returns the oldest
    fresh value and hands back any stale ones so the caller can release them
    outside the lock. Used for the file-handle cache.

SharedLRU and CopiableLRU additionally offer GetOrCreate, which deduplicates
concurrent creation of the same key: only the first caller runs the factory
(outside the cache lock), later callers block on a creation token and receive
the produced value. A factory error is propagated to every waiter and the
token is dropped, so the next caller retries from scratch.
*/
package cache
