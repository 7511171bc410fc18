package models

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	SubscriptionTrial   SubscriptionStatus = "trial"
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionExpired SubscriptionStatus = "expired"
)

// TrialPeriodMonths is the length of the free window granted on registration.
const TrialPeriodMonths = 1

type Subscription struct {
	Status           SubscriptionStatus `json:"status"`
	TrialExpiresAt   time.Time          `json:"trial_expires_at"`
	PurchaseDate     *time.Time         `json:"purchase_date"`
	PaymentReference *string            `json:"payment_reference"`
}

// TrialLapsed reports whether a trial subscription has run past its expiry.
func (s Subscription) TrialLapsed(now time.Time) bool {
	return s.Status == SubscriptionTrial && now.After(s.TrialExpiresAt)
}

// CanPurchase reports whether a lifetime license may still be bought.
func (s Subscription) CanPurchase() bool {
	return s.Status == SubscriptionTrial || s.Status == SubscriptionExpired
}

type Device struct {
	ID            uuid.UUID    `json:"id"`
	DeviceID      string       `json:"device_id"`
	AccessKeyHash string       `json:"-"`
	MacAddress    *string      `json:"mac_address,omitempty"`
	Subscription  Subscription `json:"subscription"`
	PlaylistURL   string       `json:"playlist_url"`
	EPGURL        string       `json:"epg_url"`
	CreatedAt     time.Time    `json:"created_at"`
	LastUpdated   time.Time    `json:"last_updated"`
}

// DeviceStatus is what the TV app receives from /devices/me. Credentials are
// never part of it.
type DeviceStatus struct {
	DeviceID     string       `json:"device_id"`
	Subscription Subscription `json:"subscription"`
	PlaylistURL  string       `json:"playlist_url"`
	EPGURL       string       `json:"epg_url"`
}

func (d *Device) Status() DeviceStatus {
	return DeviceStatus{
		DeviceID:     d.DeviceID,
		Subscription: d.Subscription,
		PlaylistURL:  d.PlaylistURL,
		EPGURL:       d.EPGURL,
	}
}
