package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	ProductName = "M3U TV Player - Lifetime License"

	// MetadataDeviceRef carries the device's internal id through Checkout so
	// the webhook can find it again.
	MetadataDeviceRef = "db_device_id"

	EventCheckoutCompleted = string(stripe.EventTypeCheckoutSessionCompleted)
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent marks a correctly signed payload that does not decode.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

type CheckoutRequest struct {
	DeviceRef  uuid.UUID
	DeviceID   string
	SuccessURL string
	CancelURL  string
}

type StripeGateway struct {
	api        *client.API
	priceCents int64
	currency   string
}

func NewStripeGateway(secretKey string, priceCents int64, currency string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, priceCents: priceCents, currency: currency}
}

// CreateCheckoutSession opens a one-time payment Checkout session for a
// lifetime license and returns the hosted payment page URL.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(g.currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(ProductName),
						Description: stripe.String(fmt.Sprintf("Lifetime player license for device: %s", req.DeviceID)),
					},
					UnitAmount: stripe.Int64(g.priceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata: map[string]string{
			MetadataDeviceRef: req.DeviceRef.String(),
		},
	}
	params.Context = ctx

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return session.URL, nil
}

// Event is the part of a Stripe webhook event the panel acts on.
type Event struct {
	ID        string
	Type      string
	Completed *CompletedCheckout
}

type CompletedCheckout struct {
	SessionID        string
	DeviceRef        string
	PaymentReference string
}

// ParseWebhook verifies the Stripe-Signature header against secret and
// decodes the event. Events pinned to another API version are accepted since
// only a few stable fields are read.
func ParseWebhook(payload []byte, signatureHeader, secret string) (*Event, error) {
	if err := webhook.ValidatePayload(payload, signatureHeader, secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	// Events from any API version are accepted; only the checkout fields are read.
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if out.Type != EventCheckoutCompleted || evt.Data == nil {
		return out, nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformedEvent, err)
	}

	completed := &CompletedCheckout{
		SessionID: cs.ID,
		DeviceRef: cs.Metadata[MetadataDeviceRef],
	}
	if cs.PaymentIntent != nil {
		completed.PaymentReference = cs.PaymentIntent.ID
	}
	out.Completed = completed
	return out, nil
}
