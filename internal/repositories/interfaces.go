package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/m3upanel/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrAlreadyActive = errors.New("already active")
)

type DeviceRepository interface {
	// Create inserts a new device and fills in its ID. Returns ErrAlreadyExists
	// when device_id is taken.
	Create(ctx context.Context, device *models.Device) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Device, error)
	GetByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
	UpdatePlaylist(ctx context.Context, id uuid.UUID, playlistURL, epgURL string, at time.Time) error
	// ExpireTrial flips trial to expired if the trial ended before now. It
	// reports whether a row changed; a device that is not on a lapsed trial is
	// left alone.
	ExpireTrial(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// Activate records the lifetime purchase. The first purchase wins: an
	// already active device is left untouched and ErrAlreadyActive returned.
	Activate(ctx context.Context, id uuid.UUID, paymentReference string, at time.Time) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	ListByDevice(ctx context.Context, deviceRef uuid.UUID) ([]*models.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForDevice(ctx context.Context, deviceRef uuid.UUID) error
}

type PresenceRepository interface {
	SetPresence(ctx context.Context, presence *models.Presence) error
	GetPresence(ctx context.Context, deviceRef uuid.UUID) (*models.Presence, error)
}

// WebhookEventRepository remembers which processor events were already
// applied.
type WebhookEventRepository interface {
	// MarkProcessed returns false if the event id was already marked.
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
	Unmark(ctx context.Context, eventID string) error
}

type RateLimiter interface {
	// Allow counts one hit for key and reports whether it is within limit for
	// the current window, plus the time until the window resets.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
	Reset(ctx context.Context, key string) error
}
