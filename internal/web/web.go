package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"gardenhub/auth"
	"gardenhub/internal/logging"
	"gardenhub/internal/web/api"
	"gardenhub/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

type WebServer struct {
	router *gin.Engine
	srv    *http.Server
	deps   api.Dependencies
}

func NewWebServer(deps api.Dependencies, JWTSecret string) *WebServer {
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinLogger(deps.Logger))

	authModule := auth.NewAuthModule(JWTSecret)
	middlewareManager := middleware.NewMiddlewareManager(authModule, deps.Logger)

	api.RegisterHealthRoutes(router)
	api.RegisterCommandRoutes(router, middlewareManager, deps)
	api.RegisterDeviceRoutes(router, middlewareManager, deps)
	api.RegisterTelemetryRoutes(router, middlewareManager, deps)

	return &WebServer{
		router: router,
		srv:    &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second},
		deps:   deps,
	}
}

// Handler exposes the router, mainly for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until Shutdown is called
func (ws *WebServer) Start(addr string) error {
	ws.srv.Addr = addr
	ws.deps.Logger.Info().Str("listen", addr).Msg("HTTP up")
	if err := ws.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (ws *WebServer) Shutdown(ctx context.Context) error {
	return ws.srv.Shutdown(ctx)
}
