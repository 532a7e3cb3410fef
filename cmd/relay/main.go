package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"gardenhub/internal/logging"
	"gardenhub/internal/relay"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func main() {
	_ = godotenv.Load()
	v := viper.New()
	v.SetDefault("RELAY_ADDR", ":9090")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RELAY_TIMEOUT", "10s")
	v.AutomaticEnv()

	log := logging.New(v.GetString("LOG_LEVEL"))

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinLogger(log))
	relay.NewServer(v.GetDuration("RELAY_TIMEOUT"), log).RegisterRoutes(r)

	addr := v.GetString("RELAY_ADDR")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("listen", addr).Msg("relay up")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("bye")
}
