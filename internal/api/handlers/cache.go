package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-hub-go/pkg/utils"
)

// GetCacheStats reports hit/miss counters, current size, and evictions.
func (h *Handlers) GetCacheStats(c *gin.Context) {
	utils.SendSuccess(c, h.state.CacheStats(c.Request.Context()))
}

// ClearCache drops every cached entry.
func (h *Handlers) ClearCache(c *gin.Context) {
	removed, err := h.state.ClearCache(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{
		"cleared": true,
		"removed": removed,
	})
}
