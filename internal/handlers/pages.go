package handlers

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prudhvinik1/m3upanel/internal/models"
	"github.com/prudhvinik1/m3upanel/internal/services"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

const dateLayout = "Jan 2, 2006"

// dashboardView is everything the dashboard template needs, flattened to
// plain strings and flags.
type dashboardView struct {
	DeviceID         string
	Status           string
	StatusClass      string
	TrialExpiresAt   string
	PurchaseDate     string
	PaymentReference string
	Online           bool
	LastSeen         string
	ActiveSessions   int
	CanPurchase      bool
	PlaylistURL      string
	EPGURL           string
	PaymentSuccess   bool
	PaymentCanceled  bool
}

func newDashboardView(device *models.Device, presence *models.Presence) dashboardView {
	sub := device.Subscription
	view := dashboardView{
		DeviceID:    device.DeviceID,
		Status:      strings.ToUpper(string(sub.Status)),
		StatusClass: "badge-" + string(sub.Status),
		CanPurchase: sub.CanPurchase(),
		PlaylistURL: device.PlaylistURL,
		EPGURL:      device.EPGURL,
		LastSeen:    "Never",
	}
	if sub.Status == models.SubscriptionTrial {
		view.TrialExpiresAt = sub.TrialExpiresAt.Format(dateLayout)
	}
	if sub.PurchaseDate != nil {
		view.PurchaseDate = sub.PurchaseDate.Format(dateLayout)
	}
	if sub.PaymentReference != nil {
		view.PaymentReference = *sub.PaymentReference
	}
	if presence != nil && !presence.LastSeen.IsZero() {
		view.Online = presence.Status == string(models.StatusOnline)
		view.LastSeen = presence.LastSeen.UTC().Format(time.RFC1123)
	}
	return view
}

// LoginPage handles GET /. Owners who are already signed in go straight to
// the dashboard.
func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := SessionFromContext(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
		return
	}
	renderPage(w, r, "login.html", nil)
}

// Dashboard handles GET /dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	s, ok := SessionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	device, err := h.devices.Get(r.Context(), s.DeviceRef)
	if errors.Is(err, services.ErrDeviceNotFound) {
		h.endStaleSession(w, r)
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load dashboard", "device_id", s.DeviceID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	presence, err := h.devices.Presence(r.Context(), device.ID)
	if err != nil {
		slog.WarnContext(r.Context(), "failed to load presence", "device_id", device.DeviceID, "error", err)
	}

	view := newDashboardView(device, presence)
	view.ActiveSessions, err = h.auth.ActiveSessions(r.Context(), device.ID)
	if err != nil {
		slog.WarnContext(r.Context(), "failed to count sessions", "device_id", device.DeviceID, "error", err)
	}
	query := r.URL.Query()
	view.PaymentSuccess = query.Get("payment_success") == "true"
	view.PaymentCanceled = query.Get("payment_canceled") == "true"

	renderPage(w, r, "dashboard.html", view)
}

func renderPage(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.ErrorContext(r.Context(), "failed to render page", "page", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
