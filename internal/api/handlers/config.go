package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-hub-go/pkg/utils"
)

// GetHubConfig returns the hub instance metadata.
func (h *Handlers) GetHubConfig(c *gin.Context) {
	cfg, err := h.state.GetHubConfig(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, cfg)
}
