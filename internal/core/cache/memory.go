package cache

import (
	"container/list"
	"context"
	"path"
	"sync"
	"time"
)

// MemoryStore is the in-process backend: a bounded map with per-entry TTL
// and least-recently-used eviction on overflow. A false eviction only costs
// an extra upstream fetch, so LRU is an approximation, not a correctness
// requirement.
type MemoryStore struct {
	mu        sync.Mutex
	capacity  int
	entries   map[string]*list.Element
	order     *list.List // front = most recently used
	evictions uint64
}

type memoryEntry struct {
	key       string
	payload   []byte
	expiresAt time.Time
}

// NewMemoryStore creates a bounded in-process store.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 4096
	}
	return &MemoryStore{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}

	entry := elem.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		// Expired entries are absent, never stale-but-returned.
		s.removeLocked(elem)
		return nil, false, nil
	}

	s.order.MoveToFront(elem)
	return entry.payload, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.payload = payload
		entry.expiresAt = time.Now().Add(ttl)
		s.order.MoveToFront(elem)
		return nil
	}

	elem := s.order.PushFront(&memoryEntry{
		key:       key,
		payload:   payload,
		expiresAt: time.Now().Add(ttl),
	})
	s.entries[key] = elem

	for len(s.entries) > s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest)
		s.evictions++
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		s.removeLocked(elem)
	}
	return nil
}

func (s *MemoryStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, elem := range s.entries {
		if matched, _ := path.Match(pattern, key); matched {
			s.removeLocked(elem)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemoryStore) Evictions() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictions
}

func (s *MemoryStore) Close() error { return nil }

// SweepExpired removes expired entries eagerly and returns how many were
// dropped. Expiry is otherwise enforced lazily on Get; the periodic sweep
// keeps the map from holding dead entries between reads.
func (s *MemoryStore) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, elem := range s.entries {
		if now.After(elem.Value.(*memoryEntry).expiresAt) {
			s.removeLocked(elem)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(s.entries, entry.key)
	s.order.Remove(elem)
}
