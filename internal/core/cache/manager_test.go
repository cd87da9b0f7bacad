package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	m := NewManager(NewMemoryStore(64), "memory", log)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestManagerGetOrFetch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var fetches int32
	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&fetches, 1)
		return []byte("payload"), nil
	}

	payload, err := m.GetOrFetch(ctx, "key", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), payload)

	payload, err = m.GetOrFetch(ctx, "key", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), payload)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches), "second call within TTL must be a hit")

	stats := m.Stats(ctx)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestManagerSingleFlight(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	var fetches int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&fetches, 1)
		<-release
		return []byte("shared"), nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([][]byte, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.GetOrFetch(ctx, "hot-key", time.Minute, fetch)
		}(i)
	}

	// Let every caller reach the flight before the fetch completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches), "concurrent misses must coalesce into one fetch")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("shared"), results[i])
	}
}

func TestManagerFetchErrorNotCached(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	fetchErr := errors.New("upstream down")
	var fetches int32
	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&fetches, 1)
		return nil, fetchErr
	}

	_, err := m.GetOrFetch(ctx, "key", time.Minute, fetch)
	assert.ErrorIs(t, err, fetchErr)

	_, err = m.GetOrFetch(ctx, "key", time.Minute, fetch)
	assert.ErrorIs(t, err, fetchErr)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetches), "errors must not be cached")
}

func TestManagerCallerDeadline(t *testing.T) {
	m := newTestManager(t)

	fetch := func(ctx context.Context) ([]byte, error) {
		time.Sleep(time.Second)
		return []byte("late"), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.GetOrFetch(ctx, "slow", time.Minute, fetch)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManagerInvalidate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "get_all_entities", []byte("v"), time.Minute))
	require.NoError(t, m.Set(ctx, "get_all_entities|domain=light", []byte("v"), time.Minute))
	require.NoError(t, m.Set(ctx, "get_all_areas", []byte("v"), time.Minute))

	// Exact key.
	removed, err := m.Invalidate(ctx, "get_all_areas")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// Glob pattern.
	removed, err = m.Invalidate(ctx, "get_all_entities*")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats := m.Stats(ctx)
	assert.Equal(t, 0, stats.Size)
}

func TestManagerClear(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("v"), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte("v"), time.Minute))

	removed, err := m.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, ok := m.Get(ctx, "a")
	assert.False(t, ok)
}
