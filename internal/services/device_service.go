package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/m3upanel/internal/models"
	"github.com/prudhvinik1/m3upanel/internal/repositories"
	"github.com/prudhvinik1/m3upanel/internal/utils"
)

type DeviceService struct {
	deviceRepo   repositories.DeviceRepository
	presenceRepo repositories.PresenceRepository
	hashCost     int
	now          func() time.Time
}

type RegisterRequest struct {
	DeviceID   string
	AccessKey  string
	MacAddress string
}

func NewDeviceService(
	deviceRepo repositories.DeviceRepository,
	presenceRepo repositories.PresenceRepository,
	hashCost int,
) *DeviceService {
	return &DeviceService{
		deviceRepo:   deviceRepo,
		presenceRepo: presenceRepo,
		hashCost:     hashCost,
		now:          time.Now,
	}
}

// Register creates a device on its first trial. Re-registering an existing
// device_id succeeds without touching the stored record. created reports
// whether a new device was stored.
func (s *DeviceService) Register(ctx context.Context, req RegisterRequest) (created bool, err error) {
	if req.DeviceID == "" || req.AccessKey == "" {
		return false, &ValidationError{Message: "Device ID and access key are required"}
	}

	_, err = s.deviceRepo.GetByDeviceID(ctx, req.DeviceID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return false, fmt.Errorf("failed to check device: %w", err)
	}

	hashedKey, err := utils.HashAccessKey(req.AccessKey, s.hashCost)
	if errors.Is(err, utils.ErrAccessKeyTooLong) {
		return false, &ValidationError{Message: fmt.Sprintf("Access key must be at most %d bytes", utils.MaxAccessKeyLength)}
	}
	if err != nil {
		return false, fmt.Errorf("failed to hash access key: %w", err)
	}

	now := s.now()
	device := &models.Device{
		DeviceID:      req.DeviceID,
		AccessKeyHash: hashedKey,
		Subscription: models.Subscription{
			Status:         models.SubscriptionTrial,
			TrialExpiresAt: now.AddDate(0, models.TrialPeriodMonths, 0),
		},
		CreatedAt:   now,
		LastUpdated: now,
	}
	if req.MacAddress != "" {
		mac := req.MacAddress
		device.MacAddress = &mac
	}

	err = s.deviceRepo.Create(ctx, device)
	if errors.Is(err, repositories.ErrAlreadyExists) {
		// Lost a race with a concurrent registration of the same device.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create device: %w", err)
	}

	slog.InfoContext(ctx, "device registered",
		"device_id", device.DeviceID,
		"device_ref", device.ID.String(),
		"trial_expires_at", device.Subscription.TrialExpiresAt,
	)
	return true, nil
}

// CheckIn is the TV-side fetch: it loads the device by its external id,
// expires a lapsed trial and records the TV as online.
func (s *DeviceService) CheckIn(ctx context.Context, deviceID string) (*models.Device, error) {
	device, err := s.deviceRepo.GetByDeviceID(ctx, deviceID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	device, err = s.applyTrialExpiry(ctx, device)
	if err != nil {
		return nil, err
	}

	presence := &models.Presence{
		DeviceRef: device.ID,
		DeviceID:  device.DeviceID,
		LastSeen:  s.now(),
	}
	if err := s.presenceRepo.SetPresence(ctx, presence); err != nil {
		slog.WarnContext(ctx, "failed to record device presence", "device_id", device.DeviceID, "error", err)
	}

	return device, nil
}

// Get loads a device by internal id for the owner's dashboard.
func (s *DeviceService) Get(ctx context.Context, ref uuid.UUID) (*models.Device, error) {
	device, err := s.deviceRepo.GetByID(ctx, ref)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return s.applyTrialExpiry(ctx, device)
}

func (s *DeviceService) UpdatePlaylist(ctx context.Context, ref uuid.UUID, playlistURL, epgURL string) error {
	if ref == uuid.Nil {
		return ErrDeviceNotFound
	}

	// The session only vouches for who logged in, not that the device is
	// still there.
	if _, err := s.deviceRepo.GetByID(ctx, ref); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return fmt.Errorf("failed to get device: %w", err)
	}

	err := s.deviceRepo.UpdatePlaylist(ctx, ref, playlistURL, epgURL, s.now())
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrDeviceNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}
	return nil
}

func (s *DeviceService) Presence(ctx context.Context, ref uuid.UUID) (*models.Presence, error) {
	presence, err := s.presenceRepo.GetPresence(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get presence: %w", err)
	}
	return presence, nil
}

func (s *DeviceService) applyTrialExpiry(ctx context.Context, device *models.Device) (*models.Device, error) {
	now := s.now()
	if !device.Subscription.TrialLapsed(now) {
		return device, nil
	}

	changed, err := s.deviceRepo.ExpireTrial(ctx, device.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to expire trial: %w", err)
	}
	if changed {
		slog.InfoContext(ctx, "trial expired", "device_id", device.DeviceID)
		device.Subscription.Status = models.SubscriptionExpired
		return device, nil
	}

	// Someone else moved the status first; report what is stored now.
	fresh, err := s.deviceRepo.GetByID(ctx, device.ID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reload device: %w", err)
	}
	return fresh, nil
}
