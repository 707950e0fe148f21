package cache

// Stats contains cache statistics.
type Stats struct {
	// Hits is the number of successful cache lookups.
	Hits int64 `json:"hits"`

	// Misses is the number of cache lookups that found no entry.
	Misses int64 `json:"misses"`

	// Evictions is the number of entries removed by the capacity bound,
	// TTL expiry, stale-key purging or invalidation.
	Evictions int64 `json:"evictions"`

	// Size is the current number of entries in the cache.
	Size int64 `json:"size"`

	// Capacity is the maximum number of entries (0 = unbounded).
	Capacity int64 `json:"capacity"`
}

// RequestCount returns the total number of lookups served.
func (s Stats) RequestCount() int64 {
	return s.Hits + s.Misses
}

// HitRate returns the cache hit rate between 0.0 and 1.0.
// Returns 0 if there have been no lookups.
func (s Stats) HitRate() float64 {
	total := s.RequestCount()
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
