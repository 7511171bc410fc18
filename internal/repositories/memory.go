package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/m3upanel/internal/models"
)

// The in-memory repositories below mirror the Postgres and Redis semantics
// closely enough for service and handler tests.

type MemoryDeviceRepository struct {
	mu      sync.Mutex
	devices map[uuid.UUID]models.Device
}

func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{devices: map[uuid.UUID]models.Device{}}
}

func (r *MemoryDeviceRepository) Create(_ context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.DeviceID == device.DeviceID {
			return ErrAlreadyExists
		}
	}
	device.ID = uuid.New()
	r.devices[device.ID] = *device
	return nil
}

func (r *MemoryDeviceRepository) GetByID(_ context.Context, id uuid.UUID) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (r *MemoryDeviceRepository) GetByDeviceID(_ context.Context, deviceID string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.DeviceID == deviceID {
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryDeviceRepository) UpdatePlaylist(_ context.Context, id uuid.UUID, playlistURL, epgURL string, at time.Time) error {
	return r.update(id, func(d *models.Device) bool {
		d.PlaylistURL = playlistURL
		d.EPGURL = epgURL
		d.LastUpdated = at
		return true
	})
}

func (r *MemoryDeviceRepository) ExpireTrial(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	changed := false
	err := r.update(id, func(d *models.Device) bool {
		if !d.Subscription.TrialLapsed(now) {
			return false
		}
		d.Subscription.Status = models.SubscriptionExpired
		d.LastUpdated = now
		changed = true
		return true
	})
	if err == ErrNotFound {
		return false, nil
	}
	return changed, err
}

func (r *MemoryDeviceRepository) Activate(_ context.Context, id uuid.UUID, paymentReference string, at time.Time) error {
	active := false
	err := r.update(id, func(d *models.Device) bool {
		if d.Subscription.Status == models.SubscriptionActive {
			active = true
			return false
		}
		purchased := at
		d.Subscription.Status = models.SubscriptionActive
		d.Subscription.PurchaseDate = &purchased
		d.Subscription.PaymentReference = nullIfEmpty(paymentReference)
		d.LastUpdated = at
		return true
	})
	if err == nil && active {
		return ErrAlreadyActive
	}
	return err
}

// Count returns the number of stored devices.
func (r *MemoryDeviceRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

func (r *MemoryDeviceRepository) update(id uuid.UUID, fn func(*models.Device) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return ErrNotFound
	}
	if fn(&d) {
		r.devices[id] = d
	}
	return nil
}

type MemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[string]models.Session
}

func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: map[string]models.Session{}}
}

func (r *MemorySessionRepository) Create(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = *session
	return nil
}

func (r *MemorySessionRepository) GetByID(_ context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || time.Now().After(s.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *MemorySessionRepository) ListByDevice(_ context.Context, deviceRef uuid.UUID) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Session
	for _, s := range r.sessions {
		if s.DeviceRef == deviceRef && time.Now().Before(s.ExpiresAt) {
			s := s
			out = append(out, &s)
		}
	}
	return out, nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *MemorySessionRepository) DeleteAllForDevice(_ context.Context, deviceRef uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.DeviceRef == deviceRef {
			delete(r.sessions, id)
		}
	}
	return nil
}

type MemoryPresenceRepository struct {
	mu       sync.Mutex
	presence map[uuid.UUID]models.Presence
}

func NewMemoryPresenceRepository() *MemoryPresenceRepository {
	return &MemoryPresenceRepository{presence: map[uuid.UUID]models.Presence{}}
}

func (r *MemoryPresenceRepository) SetPresence(_ context.Context, presence *models.Presence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	presence.Status = string(models.StatusOnline)
	if presence.LastSeen.IsZero() {
		presence.LastSeen = time.Now()
	}
	r.presence[presence.DeviceRef] = *presence
	return nil
}

func (r *MemoryPresenceRepository) GetPresence(_ context.Context, deviceRef uuid.UUID) (*models.Presence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.presence[deviceRef]
	if !ok {
		return &models.Presence{DeviceRef: deviceRef, Status: string(models.StatusOffline)}, nil
	}
	return &p, nil
}

type MemoryWebhookEventRepository struct {
	mu     sync.Mutex
	events map[string]struct{}
}

func NewMemoryWebhookEventRepository() *MemoryWebhookEventRepository {
	return &MemoryWebhookEventRepository{events: map[string]struct{}{}}
}

func (r *MemoryWebhookEventRepository) MarkProcessed(_ context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[eventID]; ok {
		return false, nil
	}
	r.events[eventID] = struct{}{}
	return true, nil
}

func (r *MemoryWebhookEventRepository) Unmark(_ context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, eventID)
	return nil
}

type memoryWindow struct {
	count   int
	resetAt time.Time
}

type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{windows: map[string]*memoryWindow{}}
}

func (r *MemoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	w, ok := r.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		r.windows[key] = w
	}
	w.count++
	return w.count <= limit, w.resetAt.Sub(now), nil
}

func (r *MemoryRateLimiter) Reset(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, key)
	return nil
}
