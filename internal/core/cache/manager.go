package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var (
	metricHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pma_hub_cache_hits_total",
		Help: "Cache lookups served from the store.",
	})
	metricMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pma_hub_cache_misses_total",
		Help: "Cache lookups that required an upstream fetch.",
	})
	metricFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pma_hub_cache_upstream_fetches_total",
		Help: "Upstream fetches issued after single-flight coalescing.",
	})
)

// FetchFunc loads a payload from upstream on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Manager owns the cache store and is the sole synchronization point for
// cached reads. Concurrent misses on the same key are coalesced into one
// upstream fetch; every coalesced caller receives the same payload or the
// same error. Backend failures degrade gracefully: a read failure counts
// as a miss, a write failure logs and the uncached result is returned.
type Manager struct {
	store   Store
	backend string
	logger  *logrus.Logger
	group   singleflight.Group

	hits   uint64
	misses uint64
}

// NewManager creates a cache manager over the given backend store.
func NewManager(store Store, backend string, logger *logrus.Logger) *Manager {
	return &Manager{
		store:   store,
		backend: backend,
		logger:  logger,
	}
}

// GetOrFetch returns the cached payload for key, or fetches it upstream,
// caches it for ttl, and returns it. The fetch is single-flighted across
// concurrent callers of the same key.
func (m *Manager) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) ([]byte, error) {
	if payload, ok := m.lookup(ctx, key); ok {
		atomic.AddUint64(&m.hits, 1)
		metricHits.Inc()
		return payload, nil
	}

	atomic.AddUint64(&m.misses, 1)
	metricMisses.Inc()

	ch := m.group.DoChan(key, func() (interface{}, error) {
		// Re-check under the flight: a coalesced caller may arrive after
		// the winner already populated the store.
		if payload, ok := m.lookup(ctx, key); ok {
			return payload, nil
		}

		metricFetches.Inc()
		payload, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		if setErr := m.store.Set(ctx, key, payload, ttl); setErr != nil {
			m.logger.WithError(setErr).WithField("key", key).Warn("Cache write failed, returning uncached result")
		}
		return payload, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		// The flight keeps running for the remaining waiters.
		return nil, ctx.Err()
	}
}

// Get returns the cached payload without fetching.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if payload, ok := m.lookup(ctx, key); ok {
		atomic.AddUint64(&m.hits, 1)
		metricHits.Inc()
		return payload, true
	}
	atomic.AddUint64(&m.misses, 1)
	metricMisses.Inc()
	return nil, false
}

// Set stores a payload directly.
func (m *Manager) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return m.store.Set(ctx, key, payload, ttl)
}

// Invalidate removes a single key or, when the argument contains a glob
// meta-character, every matching key. Returns how many entries were removed.
func (m *Manager) Invalidate(ctx context.Context, keyOrPattern string) (int, error) {
	if strings.ContainsAny(keyOrPattern, "*?[") {
		return m.store.DeletePattern(ctx, keyOrPattern)
	}
	if err := m.store.Delete(ctx, keyOrPattern); err != nil {
		return 0, err
	}
	return 1, nil
}

// Clear drops every entry.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	return m.store.DeletePattern(ctx, "*")
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats(ctx context.Context) Stats {
	size, err := m.store.Len(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("Cache size query failed")
	}

	hits := atomic.LoadUint64(&m.hits)
	misses := atomic.LoadUint64(&m.misses)

	stats := Stats{
		Hits:      hits,
		Misses:    misses,
		Size:      size,
		Evictions: m.store.Evictions(),
		Backend:   m.backend,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

// Close releases the backend.
func (m *Manager) Close() error {
	return m.store.Close()
}

func (m *Manager) lookup(ctx context.Context, key string) ([]byte, bool) {
	payload, ok, err := m.store.Get(ctx, key)
	if err != nil {
		// A failing backend read is a miss, not a query failure.
		m.logger.WithError(err).WithField("key", key).Warn("Cache read failed, treating as miss")
		return nil, false
	}
	return payload, ok
}
