package api

import (
	"net/http"

	"gardenhub/internal/telemetry"
	"gardenhub/internal/web/middleware"
	"gardenhub/internal/web/models"

	"github.com/gin-gonic/gin"
)

// RegisterTelemetryRoutes accepts state reports over HTTP from firmware that
// does not speak MQTT. Without a telemetry store the route is not mounted.
func RegisterTelemetryRoutes(r *gin.Engine, mw *middleware.MiddlewareManager, deps Dependencies) {
	if deps.Telemetry == nil {
		return
	}
	r.POST("/telemetry", mw.RequireDevice(), func(c *gin.Context) {
		ctx := c.Request.Context()
		creds := middleware.DeviceFrom(c)

		var state telemetry.State
		if err := c.ShouldBindJSON(&state); err != nil || state == nil {
			badRequest(c, "Body must be a JSON object")
			return
		}
		device, err := resolveReporter(ctx, deps.Registry, creds)
		if err != nil {
			respondError(c, deps, err)
			return
		}
		if err := deps.Registry.Touch(ctx, device); err != nil {
			deps.Logger.Warn().Err(err).Str("device_id", device.ID).Msg("touch device")
		}
		if err := deps.Telemetry.Save(ctx, device.ID, state); err != nil {
			respondError(c, deps, err)
			return
		}
		c.JSON(http.StatusOK, models.TelemetryResponse{DeviceID: device.ID, Received: true})
	})
}
