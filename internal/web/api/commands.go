package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gardenhub/auth"
	"gardenhub/internal/apperr"
	"gardenhub/internal/commands"
	"gardenhub/internal/devices"
	domain "gardenhub/internal/models"
	"gardenhub/internal/web/middleware"
	"gardenhub/internal/web/models"

	"github.com/gin-gonic/gin"
)

var errDeviceAccess = apperr.New(apperr.NotFound, "device not found or access denied")

type commandHandler struct {
	deps Dependencies
}

// RegisterCommandRoutes mounts the submit, history, and poll flows. Each is
// reachable under its short path and under /api/devices/control, which older
// firmware and the dashboard use.
func RegisterCommandRoutes(r *gin.Engine, mw *middleware.MiddlewareManager, deps Dependencies) {
	h := &commandHandler{deps: deps}

	for _, path := range []string{"/commands", "/api/devices/control"} {
		r.POST(path, mw.RequireAuth(), h.submit)
		r.GET(path, mw.RequireAuth(), h.history)
	}
	for _, path := range []string{"/poll", "/api/devices/control"} {
		r.PATCH(path, mw.RequireDevice(), h.poll)
	}
}

func (h *commandHandler) submit(c *gin.Context) {
	identity := middleware.IdentityFrom(c)

	var req models.ControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	// reject bad actions and parameters before anything can be auto-registered
	action, err := commands.ParseAction(strings.TrimSpace(req.Action))
	if err != nil {
		respondError(c, h.deps, err)
		return
	}
	if _, err := commands.ValidateParams(action, req.Parameters); err != nil {
		respondError(c, h.deps, err)
		return
	}
	if req.DeviceID == "" && req.MACAddress == "" {
		badRequest(c, "deviceId or macAddress is required")
		return
	}

	device, err := h.resolveTarget(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.deps, err)
		return
	}
	if !canCommand(identity, device) {
		respondError(c, h.deps, errDeviceAccess)
		return
	}
	if err := h.deps.Registry.Touch(c.Request.Context(), device); err != nil {
		h.deps.Logger.Warn().Err(err).Str("device_id", device.ID).Msg("touch device")
	}

	owner := identity.UserID
	if device.OwnerUserID != nil {
		owner = *device.OwnerUserID
	}
	cmd, dedup, err := h.deps.Queue.Enqueue(c.Request.Context(), device.ID, action, req.Parameters, owner)
	if err != nil {
		respondError(c, h.deps, err)
		return
	}

	c.JSON(http.StatusCreated, models.ControlResponse{
		CommandID:    cmd.ID,
		DeviceID:     cmd.DeviceID,
		Action:       cmd.Action,
		Parameters:   cmd.Parameters,
		Status:       cmd.Status,
		Deduplicated: dedup,
	})
}

// resolveTarget finds the device by id, falling back to the MAC (and
// auto-registration) when the id is malformed or unknown.
func (h *commandHandler) resolveTarget(ctx context.Context, req models.ControlRequest) (*domain.Device, error) {
	if req.DeviceID != "" {
		d, err := h.deps.Registry.FindByID(ctx, req.DeviceID)
		if err == nil {
			return d, nil
		}
		fallback := errors.Is(err, devices.ErrInvalidID) || errors.Is(err, devices.ErrNotFound)
		if !fallback || req.MACAddress == "" {
			return nil, err
		}
	}
	d, _, err := h.deps.Registry.RegisterOrGet(ctx, req.MACAddress)
	return d, err
}

// canCommand allows unowned test devices to anyone
func canCommand(identity auth.Identity, d *domain.Device) bool {
	return d.OwnerUserID == nil || d.OwnedBy(identity.UserID) || identity.IsAdmin()
}

func (h *commandHandler) history(c *gin.Context) {
	identity := middleware.IdentityFrom(c)
	ctx := c.Request.Context()

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(c, "limit must be a positive integer")
			return
		}
		limit = n
	}

	owner := identity.UserID
	deviceID := c.Query("deviceId")
	if deviceID != "" {
		d, err := h.deps.Registry.FindByID(ctx, deviceID)
		if errors.Is(err, devices.ErrNotFound) {
			respondError(c, h.deps, errDeviceAccess)
			return
		}
		if err != nil {
			respondError(c, h.deps, err)
			return
		}
		if !canCommand(identity, d) {
			respondError(c, h.deps, errDeviceAccess)
			return
		}
		if d.OwnerUserID != nil && identity.IsAdmin() {
			owner = *d.OwnerUserID
		}
	}

	cmds, err := h.deps.Queue.History(ctx, owner, deviceID, limit)
	if err != nil {
		respondError(c, h.deps, err)
		return
	}
	c.JSON(http.StatusOK, models.HistoryResponse{Commands: cmds})
}

// poll answers 200 once credentials are present. Failures degrade to an empty
// command list with null deviceId and laserState.
func (h *commandHandler) poll(c *gin.Context) {
	creds := middleware.DeviceFrom(c)
	ctx := c.Request.Context()
	resp := models.PollResponse{Commands: []models.PollCommand{}, Timestamp: time.Now().UTC()}
	lg := h.deps.Logger.With().Str("mac", creds.MAC).Str("header_device_id", creds.DeviceID).Logger()

	device, err := resolveReporter(ctx, h.deps.Registry, creds)
	if err != nil {
		lg.Warn().Err(err).Msg("poll from unresolvable device")
		c.JSON(http.StatusOK, resp)
		return
	}
	if err := h.deps.Registry.Touch(ctx, device); err != nil {
		lg.Warn().Err(err).Str("device_id", device.ID).Msg("touch device")
	}

	cmd, err := h.deps.Queue.ClaimNext(ctx, device.ID)
	if err != nil {
		lg.Warn().Err(err).Str("device_id", device.ID).Msg("claim command")
		c.JSON(http.StatusOK, resp)
		return
	}
	if cmd != nil {
		resp.Commands = append(resp.Commands, models.PollCommand{
			ID:         cmd.ID,
			Action:     cmd.Action,
			Parameters: cmd.Parameters,
			CreatedAt:  cmd.CreatedAt,
		})
	}

	id := device.ID
	resp.DeviceID = &id
	if h.deps.Telemetry != nil {
		laser, err := h.deps.Telemetry.LaserState(ctx, device.ID, device.MACAddress)
		if err != nil {
			lg.Warn().Err(err).Str("device_id", device.ID).Msg("read laser state")
		}
		resp.LaserState = laser
	}
	c.JSON(http.StatusOK, resp)
}

// resolveReporter identifies a device from its headers: the id header wins
// when it names a known device, otherwise the MAC is looked up or
// auto-registered.
func resolveReporter(ctx context.Context, registry *devices.Registry, creds middleware.DeviceCredentials) (*domain.Device, error) {
	if creds.DeviceID != "" {
		if d, err := registry.FindByID(ctx, creds.DeviceID); err == nil {
			return d, nil
		}
	}
	if creds.MAC == "" {
		return nil, apperr.New(apperr.InvalidInput, "X-Device-MAC header is required")
	}
	d, _, err := registry.RegisterOrGet(ctx, creds.MAC)
	return d, err
}
