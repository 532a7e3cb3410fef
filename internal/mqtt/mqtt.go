package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gardenhub/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// NewMQTTClient creates a connected MQTT client that reconnects on its own
func NewMQTTClient(broker, clientID string, lg zerolog.Logger) (mqtt.Client, error) {
	lg = lg.With().Str("component", "mqtt").Logger()
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			lg.Warn().Err(err).Msg("connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			lg.Info().Str("broker", broker).Msg("connected")
		})
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) {
		return nil, fmt.Errorf("connect %s: timed out", broker)
	}
	if token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}

// Publisher is the subset of mqtt.Client the notifier needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// CommandTopic is where a device listens for wake-up hints
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("devices/%s/commands", deviceID)
}

type commandHint struct {
	CommandID  string          `json:"commandId"`
	Action     string          `json:"action"`
	Parameters json.RawMessage `json:"parameters"`
}

// Notifier tells MQTT-capable firmware that a command is waiting, so it can
// poll right away instead of at its next interval.
type Notifier struct {
	pub Publisher
}

func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub}
}

// CommandQueued implements commands.Notifier
func (n *Notifier) CommandQueued(ctx context.Context, cmd *models.Command) error {
	payload, err := json.Marshal(commandHint{
		CommandID:  cmd.ID,
		Action:     cmd.Action,
		Parameters: cmd.Parameters,
	})
	if err != nil {
		return err
	}
	token := n.pub.Publish(CommandTopic(cmd.DeviceID), 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish %s: timed out", CommandTopic(cmd.DeviceID))
	}
}
