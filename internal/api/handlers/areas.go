package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-hub-go/pkg/utils"
)

// GetAllAreas returns every area with its device and entity membership.
func (h *Handlers) GetAllAreas(c *gin.Context) {
	areas, err := h.state.GetAllAreas(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{
		"areas": areas,
		"count": len(areas),
	})
}

// GetAreaDevices returns the devices assigned to one area.
func (h *Handlers) GetAreaDevices(c *gin.Context) {
	devices, err := h.state.GetAreaDevices(c.Request.Context(), c.Param("area_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{
		"area_id": c.Param("area_id"),
		"devices": devices,
		"count":   len(devices),
	})
}
