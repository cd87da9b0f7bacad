package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/pma-hub-go/internal/adapters/homeassistant"
	pkgerrors "github.com/frostdev-ops/pma-hub-go/pkg/errors"
	"github.com/frostdev-ops/pma-hub-go/pkg/utils"
)

// respondError maps service and transport failures onto HTTP status codes
// and sends the standardized error body.
func (h *Handlers) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"path":       c.Request.URL.Path,
			"request_id": c.GetString("request_id"),
		}).Error("Request failed")
	}
	utils.SendError(c, status, err.Error())
}

func statusFor(err error) int {
	var appErr *pkgerrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	var te *homeassistant.TransportError
	if errors.As(err, &te) && te.Kind == homeassistant.KindHTTPError && te.Status == http.StatusNotFound {
		return http.StatusNotFound
	}
	if homeassistant.IsTimeout(err) {
		return http.StatusGatewayTimeout
	}

	var agg *homeassistant.AggregateError
	if errors.As(err, &agg) || errors.As(err, &te) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
