package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-hub-go/pkg/utils"
)

// GetAllEntities returns every entity snapshot, optionally filtered by the
// "domain" query parameter.
func (h *Handlers) GetAllEntities(c *gin.Context) {
	entities, err := h.state.GetAllEntities(c.Request.Context(), c.Query("domain"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{
		"entities": entities,
		"count":    len(entities),
	})
}

// GetEntityState returns the current snapshot of one entity.
func (h *Handlers) GetEntityState(c *gin.Context) {
	entity, err := h.state.GetEntityState(c.Request.Context(), c.Param("entity_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, entity)
}

// GetEntitiesByArea returns the entities belonging to one area.
func (h *Handlers) GetEntitiesByArea(c *gin.Context) {
	entities, err := h.state.GetEntitiesByArea(c.Request.Context(), c.Param("area_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, gin.H{
		"area_id":  c.Param("area_id"),
		"entities": entities,
		"count":    len(entities),
	})
}
