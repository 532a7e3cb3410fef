package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gardenhub/internal/commands"
	"gardenhub/internal/config"
	"gardenhub/internal/db"
	"gardenhub/internal/devices"
	"gardenhub/internal/discovery"
	"gardenhub/internal/logging"
	"gardenhub/internal/mqtt"
	"gardenhub/internal/relay"
	"gardenhub/internal/scheduler"
	"gardenhub/internal/store/memory"
	"gardenhub/internal/taskqueue"
	"gardenhub/internal/telemetry"
	"gardenhub/internal/web"
	"gardenhub/internal/web/api"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type stores interface {
	devices.Store
	commands.Store
}

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg, log)
	defer closeStore()

	registry := devices.NewRegistry(store, log)
	queueOpts := commands.Options{DedupWindow: cfg.DedupWindow, CommandTTL: cfg.CommandTTL}

	var states api.StateStore
	var stateStore *telemetry.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis connect")
		}
		stateStore = telemetry.NewStore(rdb)
		states = stateStore
	} else {
		log.Warn().Msg("REDIS_ADDR not set, laser state and telemetry disabled")
	}

	if cfg.MQTTBroker != "" {
		mqttClient, err := mqtt.NewMQTTClient(cfg.MQTTBroker, cfg.MQTTClientID, log)
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt connect")
		}
		defer mqttClient.Disconnect(250)
		queueOpts.Notifier = mqtt.NewNotifier(mqttClient)

		if stateStore != nil {
			ingestor := telemetry.NewIngestor(mqttClient, stateStore, log)
			if err := ingestor.Start(); err != nil {
				log.Fatal().Err(err).Msg("telemetry ingest")
			}
			defer ingestor.Stop()
		}
	}

	if cfg.CommandTTL > 0 {
		expiry := taskqueue.NewScheduler(cfg.RedisAddr)
		defer expiry.Close()
		queueOpts.Expiry = expiry
	}
	queue := commands.NewQueue(store, queueOpts, log)
	if cfg.CommandTTL > 0 {
		worker := taskqueue.NewWorker(cfg.RedisAddr, queue, log)
		if err := worker.Start(); err != nil {
			log.Fatal().Err(err).Msg("task workers")
		}
		defer worker.Stop()
	}

	sched := scheduler.NewScheduler(log)
	if _, err := sched.AddOfflineSweep(registry, cfg.OfflineSweepInterval, cfg.OfflineThreshold); err != nil {
		log.Fatal().Err(err).Msg("schedule offline sweep")
	}
	sched.Start()
	defer sched.Stop()

	if cfg.MDNSEnabled {
		responder, err := discovery.Start(cfg.MDNSLocalName, log)
		if err != nil {
			log.Error().Err(err).Msg("mdns disabled")
		} else {
			defer responder.Close()
		}
	}

	webServer := web.NewWebServer(api.Dependencies{
		Registry:   registry,
		Queue:      queue,
		Telemetry:  states,
		Production: cfg.Production(),
		Logger:     log,
	}, cfg.JWTSecret)
	go func() {
		if err := webServer.Start(fmt.Sprintf(":%d", cfg.AppPort)); err != nil {
			log.Fatal().Err(err).Msg("http")
		}
	}()

	if cfg.RemoteAccessEnabled {
		agent := relay.NewAgent(relay.AgentConfig{
			PublicWS:   cfg.RemoteAccessPublicWS,
			LocalURL:   fmt.Sprintf("http://127.0.0.1:%d", cfg.AppPort),
			AgentID:    cfg.AgentID,
			RetryDelay: cfg.RemoteAccessRetryDelay,
		}, log)
		go agent.Run(ctx)
	} else {
		log.Info().Msg("remote access bridge is disabled")
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	log.Info().Msg("shutdown complete")
}

// openStore selects Postgres when DB_URL is set and process memory otherwise
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (stores, func()) {
	if cfg.DBURL == "" {
		log.Warn().Msg("DB_URL not set, using in-memory store")
		return memory.New(), func() {}
	}
	dbConn, err := db.NewDB(ctx, cfg.DBURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := dbConn.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	return dbConn, dbConn.Close
}
