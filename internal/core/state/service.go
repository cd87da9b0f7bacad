package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-hub-go/internal/adapters/homeassistant"
	"github.com/frostdev-ops/pma-hub-go/internal/config"
	"github.com/frostdev-ops/pma-hub-go/internal/core/cache"
	"github.com/frostdev-ops/pma-hub-go/internal/core/sensors"
	"github.com/frostdev-ops/pma-hub-go/internal/core/units"
	pkgerrors "github.com/frostdev-ops/pma-hub-go/pkg/errors"
	"github.com/frostdev-ops/pma-hub-go/pkg/logger"
)

// Operation names. They double as cache-key prefixes and as the lookup
// keys for per-operation TTL overrides.
const (
	OpGetEntityState       = "get_entity_state"
	OpGetAllEntities       = "get_all_entities"
	OpGetEntitiesByArea    = "get_entities_by_area"
	OpGetAllAreas          = "get_all_areas"
	OpGetAreaDevices       = "get_area_devices"
	OpGetAllSensors        = "get_all_sensors"
	OpGetSensorsByCategory = "get_sensors_by_category"
	OpGetHubConfig         = "get_hub_config"
)

// Service is the unified access layer. Every read follows the same path:
// cache lookup, then REST, then WebSocket fallback, then normalize and
// cache the result. Service calls bypass the cache entirely.
type Service struct {
	rest   homeassistant.Transport
	ws     homeassistant.Transport
	cache  *cache.Manager
	ttls   *config.CacheConfig
	logger *logrus.Entry

	events chan homeassistant.StateChangedEvent
	done   chan struct{}
}

// NewService wires the access layer over its transports and cache and
// starts the background invalidation worker.
func NewService(rest, ws homeassistant.Transport, cacheMgr *cache.Manager, cacheCfg *config.CacheConfig, log *logrus.Logger) *Service {
	s := &Service{
		rest:   rest,
		ws:     ws,
		cache:  cacheMgr,
		ttls:   cacheCfg,
		logger: logger.WithComponent(log, "state"),
		events: make(chan homeassistant.StateChangedEvent, 256),
		done:   make(chan struct{}),
	}
	go s.invalidationLoop()
	return s
}

// Close stops the background invalidation worker.
func (s *Service) Close() {
	close(s.done)
}

// GetEntityState returns the current snapshot of one entity.
func (s *Service) GetEntityState(ctx context.Context, entityID string) (*Entity, error) {
	if err := ValidateEntityID(entityID); err != nil {
		return nil, pkgerrors.WithDetails(pkgerrors.ErrBadRequest, err.Error())
	}

	var entity Entity
	params := map[string]interface{}{"entity_id": entityID}
	err := s.cached(ctx, OpGetEntityState, params, func(ctx context.Context) (interface{}, error) {
		raw, err := s.fetchRaw(ctx, homeassistant.OpGetState, params)
		if err != nil {
			return nil, err
		}
		var hs homeassistant.HAState
		if err := json.Unmarshal(raw, &hs); err != nil {
			return nil, fmt.Errorf("decode entity state: %w", err)
		}
		return normalizeState(hs), nil
	}, &entity)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// GetAllEntities returns every entity snapshot, optionally filtered to one
// domain. Pass an empty domain for the full list.
func (s *Service) GetAllEntities(ctx context.Context, domain string) ([]Entity, error) {
	var params map[string]interface{}
	if domain != "" {
		if err := ValidateDomain(domain); err != nil {
			return nil, pkgerrors.WithDetails(pkgerrors.ErrBadRequest, err.Error())
		}
		params = map[string]interface{}{"domain": domain}
	}

	var entities []Entity
	err := s.cached(ctx, OpGetAllEntities, params, func(ctx context.Context) (interface{}, error) {
		states, err := s.fetchStates(ctx)
		if err != nil {
			return nil, err
		}
		all := normalizeStates(states)
		if domain == "" {
			return all, nil
		}
		filtered := make([]Entity, 0, len(all))
		for _, e := range all {
			if e.Domain == domain {
				filtered = append(filtered, e)
			}
		}
		return filtered, nil
	}, &entities)
	return entities, err
}

// GetEntitiesByArea returns the entity snapshots belonging to one area.
// Membership comes from the registries, which only the WebSocket serves;
// state values come from whichever transport answers first.
func (s *Service) GetEntitiesByArea(ctx context.Context, areaID string) ([]Entity, error) {
	if areaID == "" {
		return nil, pkgerrors.WithDetails(pkgerrors.ErrBadRequest, "area id is required")
	}

	var entities []Entity
	params := map[string]interface{}{"area_id": areaID}
	err := s.cached(ctx, OpGetEntitiesByArea, params, func(ctx context.Context) (interface{}, error) {
		devices, err := s.fetchDeviceRegistry(ctx)
		if err != nil {
			return nil, err
		}
		registry, err := s.fetchEntityRegistry(ctx)
		if err != nil {
			return nil, err
		}
		states, err := s.fetchStates(ctx)
		if err != nil {
			return nil, err
		}

		members := make(map[string]bool)
		for _, id := range areaEntityIDs(areaID, devices, registry) {
			members[id] = true
		}

		result := make([]Entity, 0, len(members))
		for _, st := range states {
			if members[st.EntityID] {
				result = append(result, normalizeState(st))
			}
		}
		sort.Slice(result, func(i, j int) bool { return result[i].EntityID < result[j].EntityID })
		return result, nil
	}, &entities)
	return entities, err
}

// GetAllAreas returns every area with its device and entity membership.
func (s *Service) GetAllAreas(ctx context.Context) ([]Area, error) {
	var areas []Area
	err := s.cached(ctx, OpGetAllAreas, nil, func(ctx context.Context) (interface{}, error) {
		areaEntries, err := s.fetchAreaRegistry(ctx)
		if err != nil {
			return nil, err
		}
		devices, err := s.fetchDeviceRegistry(ctx)
		if err != nil {
			return nil, err
		}
		registry, err := s.fetchEntityRegistry(ctx)
		if err != nil {
			return nil, err
		}
		return buildAreas(areaEntries, devices, registry), nil
	}, &areas)
	return areas, err
}

// GetAreaDevices returns the devices assigned to one area.
func (s *Service) GetAreaDevices(ctx context.Context, areaID string) ([]Device, error) {
	if areaID == "" {
		return nil, pkgerrors.WithDetails(pkgerrors.ErrBadRequest, "area id is required")
	}

	var devices []Device
	params := map[string]interface{}{"area_id": areaID}
	err := s.cached(ctx, OpGetAreaDevices, params, func(ctx context.Context) (interface{}, error) {
		entries, err := s.fetchDeviceRegistry(ctx)
		if err != nil {
			return nil, err
		}
		result := make([]Device, 0)
		for _, d := range entries {
			if d.DisabledBy != nil {
				continue
			}
			if d.AreaID != nil && *d.AreaID == areaID {
				result = append(result, normalizeDevice(d))
			}
		}
		sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
		return result, nil
	}, &devices)
	return devices, err
}

// GetAllSensors returns every sensor entity grouped by category. Every
// category key is present even when its bucket is empty.
func (s *Service) GetAllSensors(ctx context.Context) (CategorizedSensors, error) {
	var grouped CategorizedSensors
	err := s.cached(ctx, OpGetAllSensors, nil, func(ctx context.Context) (interface{}, error) {
		states, err := s.fetchStates(ctx)
		if err != nil {
			return nil, err
		}
		return categorize(normalizeStates(states)), nil
	}, &grouped)
	return grouped, err
}

// GetSensorsByCategory returns the sensor entities of one category.
func (s *Service) GetSensorsByCategory(ctx context.Context, category string) ([]Entity, error) {
	if !sensors.Valid(category) {
		return nil, pkgerrors.WithDetails(pkgerrors.ErrBadRequest, fmt.Sprintf("unknown sensor category %q", category))
	}

	var entities []Entity
	params := map[string]interface{}{"category": category}
	err := s.cached(ctx, OpGetSensorsByCategory, params, func(ctx context.Context) (interface{}, error) {
		states, err := s.fetchStates(ctx)
		if err != nil {
			return nil, err
		}
		return categorize(normalizeStates(states))[category], nil
	}, &entities)
	return entities, err
}

// CallService executes a hub service call. Results are never cached.
// Percentage-scale parameters are translated to the hub's native 0-255
// scale before dispatch.
func (s *Service) CallService(ctx context.Context, domain, service string, target, data map[string]interface{}) (*ServiceCallResult, error) {
	result := &ServiceCallResult{Domain: domain, Service: service, Target: target}

	if err := ValidateDomain(domain); err != nil {
		return nil, pkgerrors.WithDetails(pkgerrors.ErrBadRequest, err.Error())
	}
	if err := ValidateDomain(service); err != nil {
		return nil, pkgerrors.WithDetails(pkgerrors.ErrBadRequest, fmt.Sprintf("invalid service %q", service))
	}
	if err := validateTarget(target); err != nil {
		return nil, pkgerrors.WithDetails(pkgerrors.ErrBadRequest, err.Error())
	}

	payload, err := buildServiceData(target, data)
	if err != nil {
		return nil, pkgerrors.WithDetails(pkgerrors.ErrBadRequest, err.Error())
	}

	params := map[string]interface{}{
		"domain":  domain,
		"service": service,
		"data":    payload,
	}
	raw, err := s.fetchRaw(ctx, homeassistant.OpCallService, params)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	result.Success = true
	result.Response = raw
	return result, nil
}

// GetHubConfig returns the hub instance metadata.
func (s *Service) GetHubConfig(ctx context.Context) (*HubConfig, error) {
	var cfg HubConfig
	err := s.cached(ctx, OpGetHubConfig, nil, func(ctx context.Context) (interface{}, error) {
		raw, err := s.fetchRaw(ctx, homeassistant.OpGetConfig, nil)
		if err != nil {
			return nil, err
		}
		var hc homeassistant.HAConfig
		if err := json.Unmarshal(raw, &hc); err != nil {
			return nil, fmt.Errorf("decode hub config: %w", err)
		}
		return HubConfig(hc), nil
	}, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CacheStats reports the cache counters.
func (s *Service) CacheStats(ctx context.Context) cache.Stats {
	return s.cache.Stats(ctx)
}

// ClearCache drops every cached entry and returns how many were removed.
func (s *Service) ClearCache(ctx context.Context) (int, error) {
	return s.cache.Clear(ctx)
}

// HandleStateChanged queues a push notification for cache invalidation.
// Transport receive loops call this inline, so it never blocks: when the
// queue is full the event is dropped and the affected entries age out
// through their TTLs instead.
func (s *Service) HandleStateChanged(event homeassistant.StateChangedEvent) {
	select {
	case s.events <- event:
	default:
		s.logger.WithField("entity_id", event.EntityID).Debug("Invalidation queue full, dropping event")
	}
}

func (s *Service) invalidationLoop() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.events:
			s.invalidateForEvent(event)
		}
	}
}

// invalidateForEvent drops the cache entries a state change makes stale.
// Events are refresh hints only; the next read re-fetches.
func (s *Service) invalidateForEvent(event homeassistant.StateChangedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	targets := []string{
		cache.Key(OpGetEntityState, map[string]interface{}{"entity_id": event.EntityID}),
		cache.OperationPattern(OpGetAllEntities),
		cache.OperationPattern(OpGetAllSensors),
		cache.OperationPattern(OpGetSensorsByCategory),
		cache.OperationPattern(OpGetEntitiesByArea),
	}
	for _, t := range targets {
		if _, err := s.cache.Invalidate(ctx, t); err != nil {
			s.logger.WithError(err).WithField("target", t).Warn("Event-driven invalidation failed")
		}
	}

	s.logger.WithField("entity_id", event.EntityID).Debug("Invalidated cache for state change")
}

// cached runs one read through the standard path: cache key from the
// operation and params, single-flighted load on miss, JSON round-trip so
// hits and misses hand back identical shapes.
func (s *Service) cached(ctx context.Context, operation string, params map[string]interface{}, load func(context.Context) (interface{}, error), out interface{}) error {
	key := cache.Key(operation, params)
	payload, err := s.cache.GetOrFetch(ctx, key, s.ttls.TTLFor(operation), func(ctx context.Context) ([]byte, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}

// fetchRaw applies the transport selection policy: REST first, WebSocket
// when REST cannot serve the operation or fails outright. When both fail
// the caller gets one error carrying both causes.
func (s *Service) fetchRaw(ctx context.Context, op homeassistant.Operation, params map[string]interface{}) (json.RawMessage, error) {
	raw, restErr := s.rest.Fetch(ctx, op, params)
	if restErr == nil {
		return raw, nil
	}
	if !errors.Is(restErr, homeassistant.ErrInsufficient) {
		s.logger.WithError(restErr).WithField("op", string(op)).Warn("REST fetch failed, falling back to WebSocket")
	}

	raw, wsErr := s.ws.Fetch(ctx, op, params)
	if wsErr == nil {
		return raw, nil
	}
	return nil, &homeassistant.AggregateError{Op: op, RESTErr: restErr, WSErr: wsErr}
}

func (s *Service) fetchStates(ctx context.Context) ([]homeassistant.HAState, error) {
	raw, err := s.fetchRaw(ctx, homeassistant.OpGetStates, nil)
	if err != nil {
		return nil, err
	}
	var states []homeassistant.HAState
	if err := json.Unmarshal(raw, &states); err != nil {
		return nil, fmt.Errorf("decode states: %w", err)
	}
	return states, nil
}

func (s *Service) fetchAreaRegistry(ctx context.Context) ([]homeassistant.HAAreaEntry, error) {
	raw, err := s.fetchRaw(ctx, homeassistant.OpAreaRegistry, nil)
	if err != nil {
		return nil, err
	}
	var entries []homeassistant.HAAreaEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode area registry: %w", err)
	}
	return entries, nil
}

func (s *Service) fetchDeviceRegistry(ctx context.Context) ([]homeassistant.HADeviceEntry, error) {
	raw, err := s.fetchRaw(ctx, homeassistant.OpDeviceRegistry, nil)
	if err != nil {
		return nil, err
	}
	var entries []homeassistant.HADeviceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode device registry: %w", err)
	}
	return entries, nil
}

func (s *Service) fetchEntityRegistry(ctx context.Context) ([]homeassistant.HAEntityEntry, error) {
	raw, err := s.fetchRaw(ctx, homeassistant.OpEntityRegistry, nil)
	if err != nil {
		return nil, err
	}
	var entries []homeassistant.HAEntityEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode entity registry: %w", err)
	}
	return entries, nil
}

// categorize buckets sensor entities by category. Non-sensor domains are
// excluded before classification.
func categorize(entities []Entity) CategorizedSensors {
	grouped := make(CategorizedSensors, len(sensors.Categories))
	for _, c := range sensors.Categories {
		grouped[string(c)] = []Entity{}
	}
	for _, e := range entities {
		if !sensors.IsSensorDomain(e.Domain) {
			continue
		}
		deviceClass, _ := e.Attributes["device_class"].(string)
		category := sensors.Classify(sensors.Input{
			EntityID:     e.EntityID,
			Domain:       e.Domain,
			DeviceClass:  deviceClass,
			FriendlyName: e.FriendlyName,
		})
		grouped[string(category)] = append(grouped[string(category)], e)
	}
	return grouped
}

// validateTarget checks any entity ids named by a service call target.
func validateTarget(target map[string]interface{}) error {
	raw, ok := target["entity_id"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return ValidateEntityID(v)
	case []string:
		for _, id := range v {
			if err := ValidateEntityID(id); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, item := range v {
			id, ok := item.(string)
			if !ok {
				return fmt.Errorf("entity_id entries must be strings")
			}
			if err := ValidateEntityID(id); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("entity_id must be a string or list of strings")
	}
	return nil
}

// buildServiceData merges the target into the service data and translates
// percentage-scale parameters to the hub's native range.
func buildServiceData(target, data map[string]interface{}) (map[string]interface{}, error) {
	payload := make(map[string]interface{}, len(target)+len(data))
	for k, v := range data {
		payload[k] = v
	}
	for k, v := range target {
		payload[k] = v
	}

	if err := translatePercent(payload, "brightness_pct", "brightness"); err != nil {
		return nil, err
	}
	if err := translatePercent(payload, "position_pct", "position"); err != nil {
		return nil, err
	}
	return payload, nil
}

func translatePercent(payload map[string]interface{}, from, to string) error {
	raw, ok := payload[from]
	if !ok {
		return nil
	}
	pct, ok := toFloat(raw)
	if !ok {
		return fmt.Errorf("%s must be a number", from)
	}
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%s must be between 0 and 100, got %v", from, raw)
	}
	delete(payload, from)
	payload[to] = units.ToHubScale(pct)
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
