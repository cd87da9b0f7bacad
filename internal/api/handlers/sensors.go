package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-hub-go/pkg/utils"
)

// GetAllSensors returns every sensor entity grouped by category.
func (h *Handlers) GetAllSensors(c *gin.Context) {
	grouped, err := h.state.GetAllSensors(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	total := 0
	for _, bucket := range grouped {
		total += len(bucket)
	}
	utils.SendSuccess(c, gin.H{
		"sensors": grouped,
		"count":   total,
	})
}

// GetSensorsByCategory returns the sensor entities of one category.
func (h *Handlers) GetSensorsByCategory(c *gin.Context) {
	category := c.Param("category")
	entities, err := h.state.GetSensorsByCategory(c.Request.Context(), category)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{
		"category": category,
		"sensors":  entities,
		"count":    len(entities),
	})
}
