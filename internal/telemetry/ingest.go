package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gardenhub/internal/devices"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// StateTopic is where devices publish their state
const StateTopic = "devices/+/state"

// Ingestor copies MQTT state reports into the Store
type Ingestor struct {
	client mqtt.Client
	store  *Store
	lg     zerolog.Logger
}

// NewIngestor creates an ingestor. Call Start to subscribe.
func NewIngestor(client mqtt.Client, store *Store, lg zerolog.Logger) *Ingestor {
	return &Ingestor{
		client: client,
		store:  store,
		lg:     lg.With().Str("component", "telemetry").Logger(),
	}
}

// Start subscribes to device state reports
func (i *Ingestor) Start() error {
	token := i.client.Subscribe(StateTopic, 1, i.onMessage)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", StateTopic, token.Error())
	}
	i.lg.Info().Str("topic", StateTopic).Msg("subscribed")
	return nil
}

// Stop unsubscribes
func (i *Ingestor) Stop() {
	i.client.Unsubscribe(StateTopic).WaitTimeout(time.Second)
}

func (i *Ingestor) onMessage(_ mqtt.Client, msg mqtt.Message) {
	key := ReportKey(msg.Topic())
	if key == "" {
		i.lg.Warn().Str("topic", msg.Topic()).Msg("state report without device key")
		return
	}
	var st State
	if err := json.Unmarshal(msg.Payload(), &st); err != nil {
		i.lg.Warn().Err(err).Str("topic", msg.Topic()).Msg("undecodable state report")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := i.store.Save(ctx, key, st); err != nil {
		i.lg.Error().Err(err).Str("key", key).Msg("save state report")
		return
	}
	i.lg.Debug().Str("key", key).Msg("state report saved")
}

// ReportKey extracts the device key from devices/<key>/state. Device ids are
// kept as-is; anything else is treated as a MAC and normalized.
func ReportKey(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "devices" || parts[2] != "state" || parts[1] == "" {
		return ""
	}
	if _, err := uuid.Parse(parts[1]); err == nil {
		return parts[1]
	}
	return devices.NormalizeMAC(parts[1])
}
