// Package handlers exposes the device API, the owner's web panel and the
// Stripe endpoints over HTTP.
package handlers

import (
	"context"

	"github.com/prudhvinik1/m3upanel/internal/services"
	"github.com/prudhvinik1/m3upanel/internal/session"
)

// HealthCheck probes one backing store.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Handler struct {
	devices  *services.DeviceService
	auth     *services.AuthService
	payments *services.PaymentService
	codec    *session.Codec
	checks   []HealthCheck
}

func NewHandler(
	devices *services.DeviceService,
	auth *services.AuthService,
	payments *services.PaymentService,
	codec *session.Codec,
	checks ...HealthCheck,
) *Handler {
	return &Handler{
		devices:  devices,
		auth:     auth,
		payments: payments,
		codec:    codec,
		checks:   checks,
	}
}
