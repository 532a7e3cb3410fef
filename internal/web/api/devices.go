package api

import (
	"net/http"

	"gardenhub/internal/devices"
	"gardenhub/internal/web/middleware"
	"gardenhub/internal/web/models"

	"github.com/gin-gonic/gin"
)

func RegisterDeviceRoutes(r *gin.Engine, mw *middleware.MiddlewareManager, deps Dependencies) {
	group := r.Group("/devices")
	group.Use(mw.RequireAuth())
	{
		group.POST("", func(c *gin.Context) {
			identity := middleware.IdentityFrom(c)
			var req models.RegisterDeviceRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, "Invalid request body")
				return
			}
			device, err := deps.Registry.Register(c.Request.Context(), identity.UserID, devices.RegisterInput{
				DeviceName: req.DeviceName,
				MACAddress: req.MACAddress,
				DeviceType: req.DeviceType,
				Location:   req.Location,
			})
			if err != nil {
				respondError(c, deps, err)
				return
			}
			c.JSON(http.StatusCreated, models.DeviceResponse{Device: device})
		})

		group.GET("", func(c *gin.Context) {
			identity := middleware.IdentityFrom(c)
			list, err := deps.Registry.ListByOwner(c.Request.Context(), identity.UserID)
			if err != nil {
				respondError(c, deps, err)
				return
			}
			c.JSON(http.StatusOK, models.DevicesResponse{Devices: list})
		})
	}
}
