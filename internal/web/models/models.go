package models

import (
	"encoding/json"
	"time"

	domain "gardenhub/internal/models"
)

// ControlRequest is the body of a command submission. Either DeviceID or
// MACAddress must be set.
type ControlRequest struct {
	DeviceID   string          `json:"deviceId"`
	MACAddress string          `json:"macAddress"`
	Action     string          `json:"action"`
	Parameters json.RawMessage `json:"parameters"`
}

type ControlResponse struct {
	CommandID    string               `json:"commandId"`
	DeviceID     string               `json:"deviceId"`
	Action       string               `json:"action"`
	Parameters   json.RawMessage      `json:"parameters"`
	Status       domain.CommandStatus `json:"status"`
	Deduplicated bool                 `json:"deduplicated"`
}

type HistoryResponse struct {
	Commands []domain.Command `json:"commands"`
}

// PollCommand is a command as handed to firmware
type PollCommand struct {
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	Parameters json.RawMessage `json:"parameters"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// PollResponse always carries commands as an array, even when empty
type PollResponse struct {
	Commands   []PollCommand `json:"commands"`
	DeviceID   *string       `json:"deviceId"`
	LaserState *string       `json:"laserState"`
	Timestamp  time.Time     `json:"timestamp"`
}

type RegisterDeviceRequest struct {
	DeviceName string `json:"deviceName"`
	MACAddress string `json:"macAddress"`
	DeviceType string `json:"deviceType"`
	Location   string `json:"location"`
}

type DeviceResponse struct {
	Device *domain.Device `json:"device"`
}

type DevicesResponse struct {
	Devices []domain.Device `json:"devices"`
}

type TelemetryResponse struct {
	DeviceID string `json:"deviceId"`
	Received bool   `json:"received"`
}
