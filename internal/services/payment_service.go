package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/m3upanel/internal/models"
	"github.com/prudhvinik1/m3upanel/internal/payments"
	"github.com/prudhvinik1/m3upanel/internal/repositories"
)

type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, req payments.CheckoutRequest) (string, error)
}

type PaymentService struct {
	deviceRepo    repositories.DeviceRepository
	eventRepo     repositories.WebhookEventRepository
	gateway       CheckoutGateway
	webhookSecret string
	appURL        string
	now           func() time.Time
}

func NewPaymentService(
	deviceRepo repositories.DeviceRepository,
	eventRepo repositories.WebhookEventRepository,
	gateway CheckoutGateway,
	webhookSecret string,
	appURL string,
) *PaymentService {
	return &PaymentService{
		deviceRepo:    deviceRepo,
		eventRepo:     eventRepo,
		gateway:       gateway,
		webhookSecret: webhookSecret,
		appURL:        appURL,
		now:           time.Now,
	}
}

// CreateCheckout starts a lifetime license purchase for the session's device
// and returns the processor's checkout URL.
func (s *PaymentService) CreateCheckout(ctx context.Context, session *models.Session) (string, error) {
	device, err := s.deviceRepo.GetByID(ctx, session.DeviceRef)
	if errors.Is(err, repositories.ErrNotFound) {
		return "", ErrDeviceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get device: %w", err)
	}
	if !device.Subscription.CanPurchase() {
		return "", ErrAlreadyActive
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		DeviceRef:  device.ID,
		DeviceID:   device.DeviceID,
		SuccessURL: s.appURL + "/dashboard?payment_success=true",
		CancelURL:  s.appURL + "/dashboard?payment_canceled=true",
	})
	if err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "checkout session created", "device_id", device.DeviceID)
	return url, nil
}

// HandleWebhook verifies and applies a processor callback. Only a bad
// signature is reported back; failures after that are logged so the
// processor still gets its acknowledgement.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := payments.ParseWebhook(payload, signature, s.webhookSecret)
	if errors.Is(err, payments.ErrInvalidSignature) {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if errors.Is(err, payments.ErrMalformedEvent) {
		slog.ErrorContext(ctx, "signed webhook payload could not be decoded", "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if evt.Type != payments.EventCheckoutCompleted || evt.Completed == nil {
		slog.DebugContext(ctx, "ignoring webhook event", "event_id", evt.ID, "type", evt.Type)
		return nil
	}

	rawRef := evt.Completed.DeviceRef
	if rawRef == "" {
		slog.WarnContext(ctx, "checkout completed without device metadata", "event_id", evt.ID)
		return nil
	}
	deviceRef, err := uuid.Parse(rawRef)
	if err != nil {
		slog.WarnContext(ctx, "checkout completed with malformed device metadata",
			"event_id", evt.ID, "db_device_id", rawRef)
		return nil
	}

	first, err := s.eventRepo.MarkProcessed(ctx, evt.ID)
	if err != nil {
		// Activation is idempotent; apply it anyway.
		slog.WarnContext(ctx, "webhook ledger unavailable", "event_id", evt.ID, "error", err)
		first = true
	}
	if !first {
		slog.InfoContext(ctx, "duplicate webhook event skipped", "event_id", evt.ID)
		return nil
	}

	err = s.deviceRepo.Activate(ctx, deviceRef, evt.Completed.PaymentReference, s.now())
	if errors.Is(err, repositories.ErrAlreadyActive) {
		slog.WarnContext(ctx, "checkout completed for an already licensed device; keeping first purchase",
			"event_id", evt.ID,
			"device_ref", deviceRef.String(),
			"payment_reference", evt.Completed.PaymentReference,
		)
		return nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "DB update failed after Stripe payment",
			"event_id", evt.ID,
			"device_ref", deviceRef.String(),
			"payment_reference", evt.Completed.PaymentReference,
			"error", err,
		)
		if unmarkErr := s.eventRepo.Unmark(ctx, evt.ID); unmarkErr != nil {
			slog.WarnContext(ctx, "failed to release webhook event", "event_id", evt.ID, "error", unmarkErr)
		}
		return nil
	}

	slog.InfoContext(ctx, "lifetime license activated",
		"device_ref", deviceRef.String(),
		"payment_reference", evt.Completed.PaymentReference,
	)
	return nil
}
