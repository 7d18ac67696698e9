package tracker

import (
	"sync"
	"sync/atomic"

	"saferoute/pkg/model"
)

// Tracker tracks usage statistics per provider ("backend", "cache", "edge-tts").
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	CacheHits       int64
	CacheMisses     int64
	APISuccess      int64
	APIFailures     int64
	NetworkFailures int64
	StatusFailures  int64
	DecodeFailures  int64
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ProviderStats),
	}
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

func (t *Tracker) TrackCacheHit(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheHits, 1)
}

func (t *Tracker) TrackCacheMiss(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheMisses, 1)
}

func (t *Tracker) TrackAPISuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).APISuccess, 1)
}

// TrackAPIFailure counts a failure and attributes it to its category.
func (t *Tracker) TrackAPIFailure(provider string, category model.ErrorCategory) {
	s := t.getStats(provider)
	atomic.AddInt64(&s.APIFailures, 1)
	switch category {
	case model.ErrorNetwork:
		atomic.AddInt64(&s.NetworkFailures, 1)
	case model.ErrorBackendStatus:
		atomic.AddInt64(&s.StatusFailures, 1)
	default:
		atomic.AddInt64(&s.DecodeFailures, 1)
	}
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats, len(t.stats))
	for k, v := range t.stats {
		result[k] = ProviderStats{
			CacheHits:       atomic.LoadInt64(&v.CacheHits),
			CacheMisses:     atomic.LoadInt64(&v.CacheMisses),
			APISuccess:      atomic.LoadInt64(&v.APISuccess),
			APIFailures:     atomic.LoadInt64(&v.APIFailures),
			NetworkFailures: atomic.LoadInt64(&v.NetworkFailures),
			StatusFailures:  atomic.LoadInt64(&v.StatusFailures),
			DecodeFailures:  atomic.LoadInt64(&v.DecodeFailures),
		}
	}
	return result
}

// Reset zeroes all counters but keeps known providers listed.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.stats {
		t.stats[k] = &ProviderStats{}
	}
}
