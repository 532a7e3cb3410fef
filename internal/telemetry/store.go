// Package telemetry keeps the last state reported by each device in Redis.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateTTL bounds how long a report stays readable after the device goes quiet
const StateTTL = time.Hour

// State is a device report, merged field by field over the previous one
type State map[string]any

// Store is the Redis-backed read model
type Store struct {
	rdb *redis.Client
}

// NewStore wraps a go-redis client
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func stateKey(key string) string {
	return fmt.Sprintf("device:%s", key)
}

// ErrCorruptState marks a cached entry that is not a JSON object
var ErrCorruptState = errors.New("corrupt device state")

// saveAttempts bounds the optimistic retries of Save under contention
const saveAttempts = 50

// Get returns the stored state for key, or nil when none is cached
func (s *Store) Get(ctx context.Context, key string) (State, error) {
	return readState(ctx, s.rdb, key)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readState(ctx context.Context, rdb getter, key string) (State, error) {
	raw, err := rdb.Get(ctx, stateKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get state %s: %w", key, err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode state %s: %w: %v", key, ErrCorruptState, err)
	}
	return st, nil
}

// Save merges state into the last report for key and refreshes its TTL.
// The merge runs under WATCH and is retried when another writer got there
// first. A corrupt entry is replaced; a failed read is returned.
func (s *Store) Save(ctx context.Context, key string, state State) error {
	k := stateKey(key)
	merge := func(tx *redis.Tx) error {
		last, err := readState(ctx, tx, key)
		if errors.Is(err, ErrCorruptState) {
			last = nil
		} else if err != nil {
			return err
		}
		if last == nil {
			last = State{}
		}
		for field, v := range state {
			last[field] = v
		}
		last["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)

		raw, err := json.Marshal(last)
		if err != nil {
			return fmt.Errorf("encode state %s: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, raw, StateTTL)
			return nil
		})
		return err
	}

	for i := 0; i < saveAttempts; i++ {
		err := s.rdb.Watch(ctx, merge, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("save state %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("save state %s: %w", key, redis.TxFailedErr)
}

// LaserState returns "on" or "off" from the latest report under deviceID,
// falling back to mac. Nil means the device never reported its laser.
func (s *Store) LaserState(ctx context.Context, deviceID, mac string) (*string, error) {
	for _, key := range []string{deviceID, mac} {
		if key == "" {
			continue
		}
		st, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if v := st.laser(); v != nil {
			return v, nil
		}
	}
	return nil, nil
}

func (st State) laser() *string {
	for _, field := range []string{"laserState", "laser"} {
		v, ok := st[field]
		if !ok {
			continue
		}
		if on, ok := parseSwitch(v); ok {
			s := "off"
			if on {
				s = "on"
			}
			return &s
		}
	}
	return nil
}

func parseSwitch(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "on", "true", "1":
			return true, true
		case "off", "false", "0":
			return false, true
		}
	}
	return false, false
}
