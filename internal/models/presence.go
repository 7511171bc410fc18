package models

import (
	"time"

	"github.com/google/uuid"
)

// Presence records when a TV last checked in through /devices/me.
type Presence struct {
	DeviceRef uuid.UUID `json:"device_ref"`
	DeviceID  string    `json:"device_id"`
	Status    string    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)
