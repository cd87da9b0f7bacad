package state

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostdev-ops/pma-hub-go/internal/adapters/homeassistant"
	"github.com/frostdev-ops/pma-hub-go/internal/config"
	"github.com/frostdev-ops/pma-hub-go/internal/core/cache"
	pkgerrors "github.com/frostdev-ops/pma-hub-go/pkg/errors"
)

type fakeTransport struct {
	mu    sync.Mutex
	name  string
	calls map[homeassistant.Operation]int
	fetch func(op homeassistant.Operation, params map[string]interface{}) (json.RawMessage, error)
}

func newFakeTransport(name string, fetch func(op homeassistant.Operation, params map[string]interface{}) (json.RawMessage, error)) *fakeTransport {
	return &fakeTransport{
		name:  name,
		calls: make(map[homeassistant.Operation]int),
		fetch: fetch,
	}
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Fetch(ctx context.Context, op homeassistant.Operation, params map[string]interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
	return f.fetch(op, params)
}

func (f *fakeTransport) callCount(op homeassistant.Operation) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeTransport) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

var (
	statesJSON = json.RawMessage(`[
		{"entity_id": "light.kitchen", "state": "on", "attributes": {"friendly_name": "Kitchen", "brightness": 200}},
		{"entity_id": "sensor.pool_temperature", "state": "27.5", "attributes": {"friendly_name": "Pool Temperature", "device_class": "temperature"}},
		{"entity_id": "sensor.garden_temperature", "state": "19.1", "attributes": {"friendly_name": "Garden Temperature", "device_class": "temperature"}},
		{"entity_id": "sensor.printer_toner", "state": "62", "attributes": {"friendly_name": "Printer Toner"}}
	]`)
	areasJSON = json.RawMessage(`[
		{"area_id": "living_room", "name": "Living Room"},
		{"area_id": "garden", "name": "Garden"}
	]`)
	devicesJSON = json.RawMessage(`[
		{"id": "dev1", "name": "Hue Bridge", "manufacturer": "Signify", "model": "BSB002", "area_id": "living_room"},
		{"id": "dev2", "name": "Pool Controller", "area_id": "garden"}
	]`)
	entityRegistryJSON = json.RawMessage(`[
		{"entity_id": "light.kitchen", "device_id": "dev1", "platform": "hue"},
		{"entity_id": "sensor.pool_temperature", "device_id": "dev2", "area_id": "garden", "platform": "pool"},
		{"entity_id": "sensor.garden_temperature", "area_id": "garden", "platform": "template"}
	]`)
)

// restLikeFetch mimics the REST surface: it serves states and config but
// cannot serve the registries.
func restLikeFetch(op homeassistant.Operation, params map[string]interface{}) (json.RawMessage, error) {
	switch op {
	case homeassistant.OpGetStates:
		return statesJSON, nil
	case homeassistant.OpGetState:
		return json.RawMessage(`{"entity_id": "light.kitchen", "state": "on", "attributes": {"friendly_name": "Kitchen"}}`), nil
	case homeassistant.OpGetConfig:
		return json.RawMessage(`{"location_name": "Home", "version": "2024.6.1", "time_zone": "UTC", "state": "RUNNING"}`), nil
	case homeassistant.OpCallService:
		return json.RawMessage(`[]`), nil
	default:
		return nil, homeassistant.ErrInsufficient
	}
}

func wsLikeFetch(op homeassistant.Operation, params map[string]interface{}) (json.RawMessage, error) {
	switch op {
	case homeassistant.OpAreaRegistry:
		return areasJSON, nil
	case homeassistant.OpDeviceRegistry:
		return devicesJSON, nil
	case homeassistant.OpEntityRegistry:
		return entityRegistryJSON, nil
	case homeassistant.OpGetStates:
		return statesJSON, nil
	default:
		return nil, &homeassistant.TransportError{Kind: homeassistant.KindProtocol, Transport: "websocket", Op: op, Message: "unexpected op"}
	}
}

func newTestService(t *testing.T, rest, ws *fakeTransport) *Service {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := cache.NewMemoryStore(128)
	mgr := cache.NewManager(store, "memory", log)
	t.Cleanup(func() { mgr.Close() })

	cfg := &config.CacheConfig{Backend: "memory", DefaultTTL: "1m"}
	svc := NewService(rest, ws, mgr, cfg, log)
	t.Cleanup(svc.Close)
	return svc
}

func TestGetEntityStateCachedWithinTTL(t *testing.T) {
	rest := newFakeTransport("rest", restLikeFetch)
	ws := newFakeTransport("websocket", wsLikeFetch)
	svc := newTestService(t, rest, ws)

	first, err := svc.GetEntityState(context.Background(), "light.kitchen")
	require.NoError(t, err)
	assert.Equal(t, "light.kitchen", first.EntityID)
	assert.Equal(t, "light", first.Domain)
	assert.Equal(t, "on", first.State)
	assert.Equal(t, "Kitchen", first.FriendlyName)

	second, err := svc.GetEntityState(context.Background(), "light.kitchen")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 1, rest.callCount(homeassistant.OpGetState), "repeat within TTL must not touch the transport")
	assert.Equal(t, 0, ws.totalCalls())
}

func TestGetEntityStateRejectsMalformedID(t *testing.T) {
	rest := newFakeTransport("rest", restLikeFetch)
	ws := newFakeTransport("websocket", wsLikeFetch)
	svc := newTestService(t, rest, ws)

	for _, id := range []string{"", "kitchen", "Light.Kitchen", "light.", ".kitchen", "light.kitchen.extra"} {
		_, err := svc.GetEntityState(context.Background(), id)
		require.Error(t, err, "id %q", id)
		assert.Equal(t, 400, pkgerrors.GetStatusCode(err))
	}
	assert.Equal(t, 0, rest.totalCalls(), "validation must reject before any transport call")
	assert.Equal(t, 0, ws.totalCalls())
}

func TestGetEntitiesByAreaFallsBackToWebSocket(t *testing.T) {
	rest := newFakeTransport("rest", restLikeFetch)
	ws := newFakeTransport("websocket", wsLikeFetch)
	svc := newTestService(t, rest, ws)

	entities, err := svc.GetEntitiesByArea(context.Background(), "garden")
	require.NoError(t, err)

	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.EntityID)
	}
	assert.Equal(t, []string{"sensor.garden_temperature", "sensor.pool_temperature"}, ids)

	// States came from REST; each registry was served by exactly one WS call.
	assert.Equal(t, 1, rest.callCount(homeassistant.OpGetStates))
	assert.Equal(t, 1, ws.callCount(homeassistant.OpDeviceRegistry))
	assert.Equal(t, 1, ws.callCount(homeassistant.OpEntityRegistry))

	// Repeat within TTL: zero transport calls on either leg.
	restBefore, wsBefore := rest.totalCalls(), ws.totalCalls()
	again, err := svc.GetEntitiesByArea(context.Background(), "garden")
	require.NoError(t, err)
	assert.Equal(t, entities, again)
	assert.Equal(t, restBefore, rest.totalCalls())
	assert.Equal(t, wsBefore, ws.totalCalls())
}

func TestGetAllAreasMembership(t *testing.T) {
	rest := newFakeTransport("rest", restLikeFetch)
	ws := newFakeTransport("websocket", wsLikeFetch)
	svc := newTestService(t, rest, ws)

	areas, err := svc.GetAllAreas(context.Background())
	require.NoError(t, err)
	require.Len(t, areas, 2)

	assert.Equal(t, "garden", areas[0].AreaID)
	assert.Equal(t, []string{"dev2"}, areas[0].DeviceIDs)
	assert.Equal(t, []string{"sensor.garden_temperature", "sensor.pool_temperature"}, areas[0].EntityIDs)

	assert.Equal(t, "living_room", areas[1].AreaID)
	assert.Equal(t, []string{"dev1"}, areas[1].DeviceIDs)
	// light.kitchen has no registry area, so it inherits its device's.
	assert.Equal(t, []string{"light.kitchen"}, areas[1].EntityIDs)
}

func TestGetAreaDevices(t *testing.T) {
	rest := newFakeTransport("rest", restLikeFetch)
	ws := newFakeTransport("websocket", wsLikeFetch)
	svc := newTestService(t, rest, ws)

	devices, err := svc.GetAreaDevices(context.Background(), "living_room")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "dev1", devices[0].ID)
	assert.Equal(t, "Hue Bridge", devices[0].Name)
	assert.Equal(t, "Signify", devices[0].Manufacturer)
}

func TestBothTransportsFailing(t *testing.T) {
	restErr := &homeassistant.TransportError{Kind: homeassistant.KindHTTPError, Transport: "rest", Op: homeassistant.OpGetStates, Status: 503, Message: "unavailable"}
	wsErr := &homeassistant.TransportError{Kind: homeassistant.KindDisconnected, Transport: "websocket", Op: homeassistant.OpGetStates, Message: "session down"}

	rest := newFakeTransport("rest", func(op homeassistant.Operation, params map[string]interface{}) (json.RawMessage, error) {
		return nil, restErr
	})
	ws := newFakeTransport("websocket", func(op homeassistant.Operation, params map[string]interface{}) (json.RawMessage, error) {
		return nil, wsErr
	})
	svc := newTestService(t, rest, ws)

	_, err := svc.GetAllEntities(context.Background(), "")
	require.Error(t, err)

	var agg *homeassistant.AggregateError
	require.True(t, errors.As(err, &agg))
	assert.Equal(t, restErr, agg.RESTErr)
	assert.Equal(t, wsErr, agg.WSErr)
	assert.True(t, errors.Is(err, restErr))
	assert.True(t, errors.Is(err, wsErr))
}

func TestGetAllSensorsGrouping(t *testing.T) {
	rest := newFakeTransport("rest", restLikeFetch)
	ws := newFakeTransport("websocket", wsLikeFetch)
	svc := newTestService(t, rest, ws)

	grouped, err := svc.GetAllSensors(context.Background())
	require.NoError(t, err)

	// Every category key is present, even when empty.
	for _, c := range []string{"weather", "pool", "air_quality", "hvac", "energy", "security", "media", "network", "system"} {
		assert.Contains(t, grouped, c)
	}

	require.Len(t, grouped["pool"], 1)
	assert.Equal(t, "sensor.pool_temperature", grouped["pool"][0].EntityID)
	require.Len(t, grouped["weather"], 1)
	assert.Equal(t, "sensor.garden_temperature", grouped["weather"][0].EntityID)
	require.Len(t, grouped["system"], 1)
	assert.Equal(t, "sensor.printer_toner", grouped["system"][0].EntityID)

	// Non-sensor domains are excluded entirely.
	for _, bucket := range grouped {
		for _, e := range bucket {
			assert.NotEqual(t, "light", e.Domain)
		}
	}
}

func TestGetSensorsByCategory(t *testing.T) {
	rest := newFakeTransport("rest", restLikeFetch)
	ws := newFakeTransport("websocket", wsLikeFetch)
	svc := newTestService(t, rest, ws)

	pool, err := svc.GetSensorsByCategory(context.Background(), "pool")
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, "sensor.pool_temperature", pool[0].EntityID)

	_, err = svc.GetSensorsByCategory(context.Background(), "plumbing")
	require.Error(t, err)
	assert.Equal(t, 400, pkgerrors.GetStatusCode(err))
}

func TestCallServiceNeverCached(t *testing.T) {
	var gotData map[string]interface{}
	rest := newFakeTransport("rest", func(op homeassistant.Operation, params map[string]interface{}) (json.RawMessage, error) {
		if op == homeassistant.OpCallService {
			gotData, _ = params["data"].(map[string]interface{})
		}
		return restLikeFetch(op, params)
	})
	ws := newFakeTransport("websocket", wsLikeFetch)
	svc := newTestService(t, rest, ws)

	target := map[string]interface{}{"entity_id": "light.kitchen"}
	data := map[string]interface{}{"brightness_pct": float64(50)}

	result, err := svc.CallService(context.Background(), "light", "turn_on", target, data)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "light", result.Domain)
	assert.Equal(t, "turn_on", result.Service)

	// Percentage parameter is translated to the native scale.
	require.NotNil(t, gotData)
	assert.Equal(t, 128, gotData["brightness"])
	assert.NotContains(t, gotData, "brightness_pct")
	assert.Equal(t, "light.kitchen", gotData["entity_id"])

	_, err = svc.CallService(context.Background(), "light", "turn_on", target, data)
	require.NoError(t, err)
	assert.Equal(t, 2, rest.callCount(homeassistant.OpCallService), "service calls must never be served from cache")
}

func TestCallServiceValidation(t *testing.T) {
	rest := newFakeTransport("rest", restLikeFetch)
	ws := newFakeTransport("websocket", wsLikeFetch)
	svc := newTestService(t, rest, ws)

	cases := []struct {
		name    string
		domain  string
		service string
		target  map[string]interface{}
		data    map[string]interface{}
	}{
		{"bad domain", "Light!", "turn_on", nil, nil},
		{"bad service", "light", "turn on", nil, nil},
		{"bad entity id", "light", "turn_on", map[string]interface{}{"entity_id": "not-an-id"}, nil},
		{"brightness above range", "light", "turn_on", map[string]interface{}{"entity_id": "light.kitchen"}, map[string]interface{}{"brightness_pct": float64(150)}},
		{"brightness below range", "light", "turn_on", map[string]interface{}{"entity_id": "light.kitchen"}, map[string]interface{}{"brightness_pct": float64(-1)}},
		{"brightness not a number", "light", "turn_on", map[string]interface{}{"entity_id": "light.kitchen"}, map[string]interface{}{"brightness_pct": "high"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CallService(context.Background(), tc.domain, tc.service, tc.target, tc.data)
			require.Error(t, err)
			assert.Equal(t, 400, pkgerrors.GetStatusCode(err))
		})
	}
	assert.Equal(t, 0, rest.totalCalls())
	assert.Equal(t, 0, ws.totalCalls())
}

func TestGetHubConfig(t *testing.T) {
	rest := newFakeTransport("rest", restLikeFetch)
	ws := newFakeTransport("websocket", wsLikeFetch)
	svc := newTestService(t, rest, ws)

	cfg, err := svc.GetHubConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Home", cfg.LocationName)
	assert.Equal(t, "2024.6.1", cfg.Version)
}

func TestHandleStateChangedInvalidates(t *testing.T) {
	rest := newFakeTransport("rest", restLikeFetch)
	ws := newFakeTransport("websocket", wsLikeFetch)
	svc := newTestService(t, rest, ws)

	_, err := svc.GetEntityState(context.Background(), "light.kitchen")
	require.NoError(t, err)
	assert.Equal(t, 1, rest.callCount(homeassistant.OpGetState))

	svc.HandleStateChanged(homeassistant.StateChangedEvent{EntityID: "light.kitchen"})

	// Invalidation runs on the background worker; the stale entry is
	// re-fetched shortly after.
	require.Eventually(t, func() bool {
		_, err := svc.GetEntityState(context.Background(), "light.kitchen")
		return err == nil && rest.callCount(homeassistant.OpGetState) >= 2
	}, 2*time.Second, 10*time.Millisecond, "invalidated entry must be re-fetched")
}

// blockingStore wedges deletions until released, simulating a slow backend.
type blockingStore struct {
	cache.Store
	release chan struct{}
}

func (b *blockingStore) Delete(ctx context.Context, key string) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.Store.Delete(ctx, key)
}

func (b *blockingStore) DeletePattern(ctx context.Context, pattern string) (int, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return b.Store.DeletePattern(ctx, pattern)
}

func TestHandleStateChangedDoesNotBlockCaller(t *testing.T) {
	rest := newFakeTransport("rest", restLikeFetch)
	ws := newFakeTransport("websocket", wsLikeFetch)

	log := logrus.New()
	log.SetOutput(io.Discard)

	store := &blockingStore{Store: cache.NewMemoryStore(128), release: make(chan struct{})}
	mgr := cache.NewManager(store, "memory", log)
	t.Cleanup(func() { mgr.Close() })

	svc := NewService(rest, ws, mgr, &config.CacheConfig{Backend: "memory", DefaultTTL: "1m"}, log)
	t.Cleanup(svc.Close)
	t.Cleanup(func() { close(store.release) })

	// With deletions wedged, a burst of events far beyond the queue depth
	// must still return immediately; excess events are dropped.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			svc.HandleStateChanged(homeassistant.StateChangedEvent{EntityID: "light.kitchen"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event handler blocked on cache invalidation")
	}
}

func TestClearCacheAndStats(t *testing.T) {
	rest := newFakeTransport("rest", restLikeFetch)
	ws := newFakeTransport("websocket", wsLikeFetch)
	svc := newTestService(t, rest, ws)

	_, err := svc.GetAllEntities(context.Background(), "")
	require.NoError(t, err)
	_, err = svc.GetAllEntities(context.Background(), "")
	require.NoError(t, err)

	stats := svc.CacheStats(context.Background())
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, "memory", stats.Backend)

	removed, err := svc.ClearCache(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = svc.GetAllEntities(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, rest.callCount(homeassistant.OpGetStates), "cleared cache must re-fetch")
}
