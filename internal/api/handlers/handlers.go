package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-hub-go/internal/core/state"
)

// Handlers holds dependencies for all HTTP handlers. They carry no
// business logic; every route delegates to the state access layer.
type Handlers struct {
	state  *state.Service
	logger *logrus.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(stateService *state.Service, logger *logrus.Logger) *Handlers {
	return &Handlers{
		state:  stateService,
		logger: logger,
	}
}
