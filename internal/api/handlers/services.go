package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/frostdev-ops/pma-hub-go/pkg/utils"
)

type callServiceRequest struct {
	Target map[string]interface{} `json:"target"`
	Data   map[string]interface{} `json:"data"`
}

// CallService executes a hub service call. The result is never cached.
func (h *Handlers) CallService(c *gin.Context) {
	var req callServiceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.SendError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	result, err := h.state.CallService(c.Request.Context(), c.Param("domain"), c.Param("service"), req.Target, req.Data)
	if err != nil {
		h.respondError(c, err)
		return
	}
	utils.SendSuccess(c, result)
}
