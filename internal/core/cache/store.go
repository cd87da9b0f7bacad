package cache

import (
	"context"
	"time"
)

// Store is the backend contract behind the cache manager. The manager's
// behavior is identical regardless of backend; only persistence and
// cross-instance visibility differ.
type Store interface {
	// Get returns the payload for key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (payload []byte, ok bool, err error)

	// Set stores payload under key for ttl.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// DeletePattern removes all keys matching a glob-style pattern and
	// returns how many were removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)

	// Len returns the number of live entries.
	Len(ctx context.Context) (int, error)

	// Evictions returns the number of entries dropped by capacity pressure.
	Evictions() uint64

	// Close releases backend resources.
	Close() error
}

// Stats is the manager's externally visible counter snapshot.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Size      int     `json:"size"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
	Backend   string  `json:"backend"`
}
