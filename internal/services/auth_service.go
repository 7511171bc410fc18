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

type AuthService struct {
	deviceRepo  repositories.DeviceRepository
	sessionRepo repositories.SessionRepository
	limiter     repositories.RateLimiter
	sessionTTL  time.Duration
	loginLimit  int
	loginWindow time.Duration
	now         func() time.Time
}

type LoginRequest struct {
	DeviceID  string
	AccessKey string
	ClientIP  string
}

type LoginPolicy struct {
	Limit  int
	Window time.Duration
}

func NewAuthService(
	deviceRepo repositories.DeviceRepository,
	sessionRepo repositories.SessionRepository,
	limiter repositories.RateLimiter,
	sessionTTL time.Duration,
	policy LoginPolicy,
) *AuthService {
	return &AuthService{
		deviceRepo:  deviceRepo,
		sessionRepo: sessionRepo,
		limiter:     limiter,
		sessionTTL:  sessionTTL,
		loginLimit:  policy.Limit,
		loginWindow: policy.Window,
		now:         time.Now,
	}
}

// Login checks the device credentials shown on the TV screen and opens a new
// panel session for that device.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*models.Session, error) {
	// Attempts count against both the client address and the targeted device.
	limitKeys := []string{"login:ip:" + req.ClientIP}
	deviceKey := ""
	if req.DeviceID != "" {
		deviceKey = "login:device:" + req.DeviceID
		limitKeys = append(limitKeys, deviceKey)
	}
	if err := s.checkLoginLimit(ctx, limitKeys, req); err != nil {
		return nil, err
	}

	if req.DeviceID == "" || req.AccessKey == "" {
		return nil, ErrInvalidCredentials
	}

	device, err := s.deviceRepo.GetByDeviceID(ctx, req.DeviceID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	if !utils.CheckAccessKey(device.AccessKeyHash, req.AccessKey) {
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	session := &models.Session{
		ID:        uuid.New().String(),
		DeviceRef: device.ID,
		DeviceID:  device.DeviceID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// Only the device counter is cleared; the client counter keeps running.
	if err := s.limiter.Reset(ctx, deviceKey); err != nil {
		slog.WarnContext(ctx, "failed to reset login rate limit", "error", err)
	}

	slog.InfoContext(ctx, "panel login", "device_id", device.DeviceID, "session_id", session.ID)
	return session, nil
}

func (s *AuthService) checkLoginLimit(ctx context.Context, keys []string, req LoginRequest) error {
	var retryAfter time.Duration
	limited := false
	for _, key := range keys {
		allowed, wait, err := s.limiter.Allow(ctx, key, s.loginLimit, s.loginWindow)
		if err != nil {
			// Fail open when the limiter is unavailable.
			slog.WarnContext(ctx, "login rate limit unavailable", "error", err)
			continue
		}
		if !allowed {
			limited = true
			retryAfter = max(retryAfter, wait)
		}
	}
	if limited {
		slog.WarnContext(ctx, "login rate limited", "client_ip", req.ClientIP, "device_id", req.DeviceID)
		return &RateLimitError{RetryAfter: retryAfter}
	}
	return nil
}

// Authenticate confirms that a session decoded from a cookie is still live
// in the session registry and belongs to the same device.
func (s *AuthService) Authenticate(ctx context.Context, claimed *models.Session) (*models.Session, error) {
	if claimed == nil || claimed.ID == "" {
		return nil, ErrUnauthenticated
	}

	stored, err := s.sessionRepo.GetByID(ctx, claimed.ID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if stored.DeviceRef != claimed.DeviceRef || stored.DeviceID != claimed.DeviceID {
		return nil, ErrUnauthenticated
	}
	return stored, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	err := s.sessionRepo.Delete(ctx, sessionID)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ActiveSessions counts the live panel sessions of a device.
func (s *AuthService) ActiveSessions(ctx context.Context, deviceRef uuid.UUID) (int, error) {
	sessions, err := s.sessionRepo.ListByDevice(ctx, deviceRef)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	return len(sessions), nil
}

// RevokeDevice ends every session opened for a device.
func (s *AuthService) RevokeDevice(ctx context.Context, deviceRef uuid.UUID) error {
	if err := s.sessionRepo.DeleteAllForDevice(ctx, deviceRef); err != nil {
		return fmt.Errorf("failed to revoke device sessions: %w", err)
	}
	return nil
}
