package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TypeCommandExpire retires a command no device claimed within its TTL
const TypeCommandExpire = "command:expire"

type expirePayload struct {
	CommandID string `json:"command_id"`
}

// NewExpireTask builds a command:expire task
func NewExpireTask(commandID string) (*asynq.Task, error) {
	payload, err := json.Marshal(expirePayload{CommandID: commandID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeCommandExpire, payload), nil
}

// Scheduler enqueues delayed expiry tasks. It implements
// commands.ExpiryScheduler.
type Scheduler struct {
	client *asynq.Client
}

func NewScheduler(redisAddr string) *Scheduler {
	return &Scheduler{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

// ScheduleExpiry enqueues command:expire to run after the given delay. The
// task id is derived from the command so a retried submission cannot queue it
// twice.
func (s *Scheduler) ScheduleExpiry(ctx context.Context, commandID string, after time.Duration) error {
	task, err := NewExpireTask(commandID)
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.ProcessIn(after),
		asynq.TaskID("expire:"+commandID),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Second))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue expiry for %s: %w", commandID, err)
	}
	return nil
}

func (s *Scheduler) Close() error {
	return s.client.Close()
}
