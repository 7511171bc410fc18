package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is a logged-in web panel session. It travels sealed inside the
// session cookie and is indexed in Redis so it can be revoked.
type Session struct {
	ID        string    `json:"id"`
	DeviceRef uuid.UUID `json:"device_ref"`
	DeviceID  string    `json:"device_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
