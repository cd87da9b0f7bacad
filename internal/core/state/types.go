// Package state is the unified access layer over the hub: it owns transport
// selection, caching, and normalization so callers see one entity model
// regardless of which wire protocol served the query.
package state

import (
	"encoding/json"
	"time"
)

// Entity is an immutable snapshot of one hub entity. A newer fetch
// supersedes it; it is never mutated in place.
type Entity struct {
	EntityID     string                 `json:"entity_id"`
	Domain       string                 `json:"domain"`
	State        string                 `json:"state"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
	FriendlyName string                 `json:"friendly_name,omitempty"`
	LastUpdated  time.Time              `json:"last_updated"`
}

// Area is a logical grouping of devices and entities, with membership
// resolved from the registry relations.
type Area struct {
	AreaID    string   `json:"area_id"`
	Name      string   `json:"name"`
	DeviceIDs []string `json:"device_ids"`
	EntityIDs []string `json:"entity_ids"`
}

// Device is a physical or virtual device registered with the hub.
type Device struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AreaID       string `json:"area_id,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
}

// ServiceCallResult echoes the requested call alongside the hub's raw
// response or error detail.
type ServiceCallResult struct {
	Success  bool                   `json:"success"`
	Domain   string                 `json:"domain"`
	Service  string                 `json:"service"`
	Target   map[string]interface{} `json:"target,omitempty"`
	Response json.RawMessage        `json:"response,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// HubConfig is the hub instance metadata exposed to callers.
type HubConfig struct {
	LocationName string `json:"location_name"`
	Version      string `json:"version"`
	TimeZone     string `json:"time_zone"`
	State        string `json:"state"`
}

// CategorizedSensors groups sensor entities by category name. Every key is
// a known category; entities appear under exactly one key.
type CategorizedSensors map[string][]Entity
