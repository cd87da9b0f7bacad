package homeassistant

import (
	"context"
	"encoding/json"
)

// Transport executes a logical hub operation and returns the raw JSON
// payload. Implementations encapsulate their own lifecycle (connection
// management, reconnection, backoff); callers only see this contract.
type Transport interface {
	Name() string
	Fetch(ctx context.Context, op Operation, params map[string]interface{}) (json.RawMessage, error)
}
