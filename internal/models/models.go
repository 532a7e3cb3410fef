package models

import (
	"encoding/json"
	"time"
)

// Device status values
const (
	DeviceOnline  = "online"
	DeviceOffline = "offline"
)

// Device represents a physical garden controller
type Device struct {
	ID              string     `json:"id"`
	MACAddress      string     `json:"macAddress"`
	DeviceName      string     `json:"deviceName"`
	DeviceType      string     `json:"deviceType"`
	Location        string     `json:"location"`
	Status          string     `json:"status"`
	FirmwareVersion string     `json:"firmwareVersion"`
	LastSeen        *time.Time `json:"lastSeen"`
	IsTestDevice    bool       `json:"isTestDevice"`
	OwnerUserID     *string    `json:"ownerUserId"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// OwnedBy reports whether userID owns the device
func (d *Device) OwnedBy(userID string) bool {
	return d.OwnerUserID != nil && *d.OwnerUserID == userID
}

// CommandStatus is the lifecycle state of a control command
type CommandStatus string

const (
	StatusPending    CommandStatus = "pending"
	StatusSent       CommandStatus = "sent"
	StatusDelivered  CommandStatus = "delivered"
	StatusCompleted  CommandStatus = "completed"
	StatusSuperseded CommandStatus = "superseded"
	StatusExpired    CommandStatus = "expired"
)

// Outstanding reports whether a command can still be claimed by its device
func (s CommandStatus) Outstanding() bool {
	return s == StatusPending || s == StatusSent
}

// Command is one instruction queued for a device
type Command struct {
	ID           string          `json:"id"`
	DeviceID     string          `json:"deviceId"`
	OwnerUserID  string          `json:"ownerUserId"`
	Action       string          `json:"action"`
	Parameters   json.RawMessage `json:"parameters"`
	Status       CommandStatus   `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	SentAt       *time.Time      `json:"sentAt"`
	DeliveredAt  *time.Time      `json:"deliveredAt"`
	CompletedAt  *time.Time      `json:"completedAt"`
	Response     json.RawMessage `json:"response"`
	SupersededBy *string         `json:"supersededBy,omitempty"`
	ExpiredAt    *time.Time      `json:"expiredAt,omitempty"`
}
