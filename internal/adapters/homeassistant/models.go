package homeassistant

import (
	"encoding/json"
	"time"
)

// Operation identifies a logical hub query executed over a transport.
type Operation string

const (
	OpGetStates      Operation = "get_states"
	OpGetState       Operation = "get_state"
	OpAreaRegistry   Operation = "area_registry"
	OpDeviceRegistry Operation = "device_registry"
	OpEntityRegistry Operation = "entity_registry"
	OpCallService    Operation = "call_service"
	OpGetConfig      Operation = "get_config"
)

// HAState is the wire shape of a hub entity state as returned by
// GET /api/states and the get_states WebSocket command.
type HAState struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
}

// HAAreaEntry is an area registry record (WebSocket config/area_registry/list).
type HAAreaEntry struct {
	AreaID  string   `json:"area_id"`
	Name    string   `json:"name"`
	Picture *string  `json:"picture"`
	Aliases []string `json:"aliases,omitempty"`
}

// HADeviceEntry is a device registry record (config/device_registry/list).
type HADeviceEntry struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	NameByUser   *string `json:"name_by_user"`
	Manufacturer *string `json:"manufacturer"`
	Model        *string `json:"model"`
	AreaID       *string `json:"area_id"`
	DisabledBy   *string `json:"disabled_by"`
}

// HAEntityEntry is an entity registry record (config/entity_registry/list).
// It carries the entity-to-device and entity-to-area relations that the
// REST surface does not expose.
type HAEntityEntry struct {
	EntityID   string  `json:"entity_id"`
	DeviceID   *string `json:"device_id"`
	AreaID     *string `json:"area_id"`
	Platform   string  `json:"platform"`
	DisabledBy *string `json:"disabled_by"`
}

// HAConfig is the hub instance metadata returned by GET /api/config.
type HAConfig struct {
	LocationName string `json:"location_name"`
	Version      string `json:"version"`
	TimeZone     string `json:"time_zone"`
	State        string `json:"state"`
}

// wsMessage is a JSON frame on the WebSocket session. Request frames carry
// a locally generated id; response frames echo it back.
type wsMessage struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Event   *wsEvent        `json:"event,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// StateChangedEvent is the decoded payload of a state_changed notification,
// delivered by both the WebSocket subscription and the SSE stream.
type StateChangedEvent struct {
	EntityID string   `json:"entity_id"`
	NewState *HAState `json:"new_state"`
	OldState *HAState `json:"old_state"`
}

// EventHandler receives decoded hub notifications. Handlers must not block.
type EventHandler func(event StateChangedEvent)
