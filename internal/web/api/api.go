package api

import (
	"context"
	"net/http"

	"gardenhub/internal/apperr"
	"gardenhub/internal/commands"
	"gardenhub/internal/devices"
	"gardenhub/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// StateStore is the telemetry read model. It may be nil when Redis is not
// configured; polls then report no laser state.
type StateStore interface {
	LaserState(ctx context.Context, deviceID, mac string) (*string, error)
	Save(ctx context.Context, key string, state telemetry.State) error
}

// Dependencies are shared by every route group
type Dependencies struct {
	Registry   *devices.Registry
	Queue      *commands.Queue
	Telemetry  StateStore
	Production bool
	Logger     zerolog.Logger
}

// respondError translates err into the JSON error reply for its kind
func respondError(c *gin.Context, deps Dependencies, err error) {
	kind := apperr.KindOf(err)
	status := kind.Status()

	if kind == apperr.Internal {
		deps.Logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		body := gin.H{"error": "Internal server error"}
		if !deps.Production {
			body["details"] = err.Error()
		}
		c.JSON(status, body)
		return
	}

	body := gin.H{"error": err.Error()}
	if hint := apperr.HintFor(err); hint != "" {
		body["hint"] = hint
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// RegisterHealthRoutes exposes a liveness probe
func RegisterHealthRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
