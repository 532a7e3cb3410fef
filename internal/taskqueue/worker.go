package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Expirer is implemented by commands.Queue
type Expirer interface {
	Expire(ctx context.Context, commandID string) (bool, error)
}

// Worker runs the asynq server for command tasks
type Worker struct {
	srv     *asynq.Server
	mux     *asynq.ServeMux
	expirer Expirer
	lg      zerolog.Logger
}

// NewWorker creates a worker consuming from Redis at redisAddr
func NewWorker(redisAddr string, expirer Expirer, lg zerolog.Logger) *Worker {
	w := &Worker{
		srv: asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
			Concurrency: 10,
			Logger:      asynqLogger{lg.With().Str("component", "asynq").Logger()},
		}),
		mux:     asynq.NewServeMux(),
		expirer: expirer,
		lg:      lg.With().Str("component", "taskqueue").Logger(),
	}
	w.mux.HandleFunc(TypeCommandExpire, w.handleExpire)
	return w
}

// Start processes tasks in the background
func (w *Worker) Start() error {
	w.lg.Info().Msg("starting workers")
	return w.srv.Start(w.mux)
}

// Stop waits for in-flight tasks and shuts down
func (w *Worker) Stop() {
	w.srv.Shutdown()
	w.lg.Info().Msg("workers stopped")
}

func (w *Worker) handleExpire(ctx context.Context, t *asynq.Task) error {
	var p expirePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil || p.CommandID == "" {
		return fmt.Errorf("bad %s payload: %v: %w", TypeCommandExpire, err, asynq.SkipRetry)
	}
	expired, err := w.expirer.Expire(ctx, p.CommandID)
	if err != nil {
		return err
	}
	w.lg.Debug().Str("command_id", p.CommandID).Bool("expired", expired).Msg("expiry task done")
	return nil
}

type asynqLogger struct{ lg zerolog.Logger }

func (l asynqLogger) Debug(args ...interface{}) { l.lg.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.lg.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.lg.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.lg.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.lg.Fatal().Msg(fmt.Sprint(args...)) }
