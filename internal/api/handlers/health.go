package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-hub-go/pkg/utils"
	"github.com/frostdev-ops/pma-hub-go/pkg/version"
)

// Health returns the liveness status of the service. It deliberately
// touches neither the hub nor the cache, so it answers even when both
// are down.
func (h *Handlers) Health(c *gin.Context) {
	utils.SendSuccess(c, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "pma-hub-go",
		"version":   version.String(),
	})
}
