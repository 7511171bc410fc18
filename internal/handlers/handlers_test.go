package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/m3upanel/internal/models"
	"github.com/prudhvinik1/m3upanel/internal/payments"
	"github.com/prudhvinik1/m3upanel/internal/repositories"
	"github.com/prudhvinik1/m3upanel/internal/services"
	"github.com/prudhvinik1/m3upanel/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSessionSecret = "0123456789abcdef0123456789abcdef"
	testWebhookSecret = "whsec_test_secret"
)

type stubGateway struct {
	url string
	err error
}

func (g *stubGateway) CreateCheckoutSession(_ context.Context, _ payments.CheckoutRequest) (string, error) {
	return g.url, g.err
}

type testServer struct {
	handler  *Handler
	router   http.Handler
	devices  *repositories.MemoryDeviceRepository
	sessions *repositories.MemorySessionRepository
	codec    *session.Codec
	gateway  *stubGateway
}

func newTestServer(t *testing.T, checks ...HealthCheck) *testServer {
	t.Helper()

	deviceRepo := repositories.NewMemoryDeviceRepository()
	sessionRepo := repositories.NewMemorySessionRepository()
	codec, err := session.NewCodec(testSessionSecret, false)
	require.NoError(t, err)
	gateway := &stubGateway{url: "https://checkout.stripe.test/c/pay/cs_test_1"}

	deviceSvc := services.NewDeviceService(deviceRepo, repositories.NewMemoryPresenceRepository(), bcrypt.MinCost)
	authSvc := services.NewAuthService(deviceRepo, sessionRepo, repositories.NewMemoryRateLimiter(), time.Hour,
		services.LoginPolicy{Limit: 3, Window: time.Minute})
	paymentSvc := services.NewPaymentService(deviceRepo, repositories.NewMemoryWebhookEventRepository(), gateway,
		testWebhookSecret, "https://panel.example.com")

	h := NewHandler(deviceSvc, authSvc, paymentSvc, codec, checks...)
	return &testServer{
		handler:  h,
		router:   NewRouter(h, RouterOptions{CORSOrigins: []string{"*"}}),
		devices:  deviceRepo,
		sessions: sessionRepo,
		codec:    codec,
		gateway:  gateway,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func withHeader(key, value string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (s *testServer) registerAndLogin(t *testing.T) *http.Cookie {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/devices/register", `{"device_id":"tv-1","access_key":"abc"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/auth/login", `{"deviceId":"tv-1","accessKey":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	return cookie
}

func (s *testServer) device(t *testing.T, deviceID string) *models.Device {
	t.Helper()
	d, err := s.devices.GetByDeviceID(context.Background(), deviceID)
	require.NoError(t, err)
	return d
}

func TestEndToEnd_RegisterLoginUpdatePlaylist(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/devices/register", `{"device_id":"tv-1","access_key":"abc"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Device registered successfully", decodeBody(t, rec)["message"])

	rec = s.do(t, http.MethodGet, "/devices/me", "", withHeader("x-device-id", "tv-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeBody(t, rec)
	assert.Equal(t, "tv-1", me["device_id"])
	assert.Equal(t, "", me["playlist_url"])
	assert.Equal(t, "", me["epg_url"])
	sub := me["subscription"].(map[string]any)
	assert.Equal(t, "trial", sub["status"])
	assert.Nil(t, sub["purchase_date"])
	assert.NotContains(t, rec.Body.String(), "access_key")

	rec = s.do(t, http.MethodPost, "/auth/login", `{"deviceId":"tv-1","accessKey":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Login successful", decodeBody(t, rec)["message"])
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	rec = s.do(t, http.MethodPut, "/devices/playlist", `{"playlistUrl":"http://x/list.m3u"}`, withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/devices/me", "", withHeader("x-device-id", "tv-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://x/list.m3u", decodeBody(t, rec)["playlist_url"])
}

func TestRegisterDevice(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/devices/register", `{"device_id":"tv-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Device ID and access key are required", decodeBody(t, rec)["message"])

	rec = s.do(t, http.MethodPost, "/devices/register", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/devices/register", `{"device_id":"tv-1","access_key":"abc","mac_address":"aa:bb"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/devices/register", `{"device_id":"tv-1","access_key":"changed"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Device already registered", decodeBody(t, rec)["message"])

	// The first key still works
	rec = s.do(t, http.MethodPost, "/auth/login", `{"deviceId":"tv-1","accessKey":"abc"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeviceMe_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/devices/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Device ID header missing", decodeBody(t, rec)["message"])

	rec = s.do(t, http.MethodGet, "/devices/me", "", withHeader("x-device-id", "nope"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Device not found", decodeBody(t, rec)["message"])
}

func TestLogin_WrongCredentials(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/devices/register", `{"device_id":"tv-1","access_key":"abc"}`)

	for _, body := range []string{
		`{"deviceId":"tv-1","accessKey":"wrong"}`,
		`{"deviceId":"tv-2","accessKey":"abc"}`,
	} {
		rec := s.do(t, http.MethodPost, "/auth/login", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid credentials", decodeBody(t, rec)["message"])
		assert.Nil(t, sessionCookie(rec))
	}
}

func TestLogin_RateLimited(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := s.do(t, http.MethodPost, "/auth/login", `{"deviceId":"tv-1","accessKey":"wrong"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/auth/login", `{"deviceId":"tv-1","accessKey":"wrong"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestLogin_ForwardedForIgnoredWithoutTrustedProxy(t *testing.T) {
	s := newTestServer(t)

	// Each guess targets a different device so only the client counter can trip.
	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"deviceId":"tv-%d","accessKey":"wrong"}`, i)
		rec := s.do(t, http.MethodPost, "/auth/login", body, withHeader("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i)))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/auth/login", `{"deviceId":"tv-9","accessKey":"wrong"}`,
		withHeader("X-Forwarded-For", "10.0.0.99"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLogin_ForwardedForHonouredBehindTrustedProxy(t *testing.T) {
	s := newTestServer(t)
	s.router = NewRouter(s.handler, RouterOptions{CORSOrigins: []string{"*"}, TrustedProxy: true})

	for i := 0; i < 4; i++ {
		body := fmt.Sprintf(`{"deviceId":"tv-%d","accessKey":"wrong"}`, i)
		rec := s.do(t, http.MethodPost, "/auth/login", body, withHeader("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestLogin_OwnDeviceLoginsDoNotResetGuessing(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/devices/register", `{"device_id":"victim","access_key":"secret"}`)
	s.do(t, http.MethodPost, "/devices/register", `{"device_id":"mine","access_key":"own-key"}`)

	var limited int
	for i := 0; i < 6; i++ {
		rec := s.do(t, http.MethodPost, "/auth/login", `{"deviceId":"victim","accessKey":"guess"}`)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
		s.do(t, http.MethodPost, "/auth/login", `{"deviceId":"mine","accessKey":"own-key"}`)
	}
	assert.Positive(t, limited)

	rec := s.do(t, http.MethodPost, "/auth/login", `{"deviceId":"victim","accessKey":"secret"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestUpdatePlaylist_RequiresSession(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/devices/register", `{"device_id":"tv-1","access_key":"abc"}`)

	rec := s.do(t, http.MethodPut, "/devices/playlist", `{"playlistUrl":"http://x/list.m3u"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authenticated", decodeBody(t, rec)["message"])

	garbage := &http.Cookie{Name: session.CookieName, Value: "garbage"}
	rec = s.do(t, http.MethodPut, "/devices/playlist", `{"playlistUrl":"http://x/list.m3u"}`, withCookie(garbage))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, s.device(t, "tv-1").PlaylistURL)
}

func TestUpdatePlaylist_StaleSession(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	// A registered session whose device is gone
	stale := &models.Session{
		ID:        uuid.NewString(),
		DeviceRef: uuid.New(),
		DeviceID:  "ghost",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.sessions.Create(ctx, stale))
	value, err := s.codec.Seal(stale)
	require.NoError(t, err)

	rec := s.do(t, http.MethodPut, "/devices/playlist", `{"playlistUrl":"http://x/list.m3u"}`,
		withCookie(&http.Cookie{Name: session.CookieName, Value: value}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	_, err = s.sessions.GetByID(ctx, stale.ID)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	assert.Equal(t, 0, s.devices.Count())
}

func TestLogout_RevokesSession(t *testing.T) {
	s := newTestServer(t)
	cookie := s.registerAndLogin(t)

	rec := s.do(t, http.MethodPost, "/auth/logout", "", withCookie(cookie))
	assert.Equal(t, http.StatusOK, rec.Code)
	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	// Replaying the old cookie no longer works
	rec = s.do(t, http.MethodPut, "/devices/playlist", `{"playlistUrl":"http://x/list.m3u"}`, withCookie(cookie))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logging out without a session is still fine
	rec = s.do(t, http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateCheckoutSession(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/stripe/create-checkout-session", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	cookie := s.registerAndLogin(t)
	rec = s.do(t, http.MethodPost, "/stripe/create-checkout-session", "", withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, s.gateway.url, decodeBody(t, rec)["url"])

	s.gateway.err = errors.New("stripe: secret api detail")
	rec = s.do(t, http.MethodPost, "/stripe/create-checkout-session", "", withCookie(cookie))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret api detail")

	require.NoError(t, s.devices.Activate(context.Background(), s.device(t, "tv-1").ID, "pi_1", time.Now()))
	s.gateway.err = nil
	rec = s.do(t, http.MethodPost, "/stripe/create-checkout-session", "", withCookie(cookie))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func signedWebhook(payload, secret string) ([]byte, string) {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func checkoutCompleted(eventID string, deviceRef uuid.UUID) string {
	return fmt.Sprintf(`{"id":%q,"object":"event","type":"checkout.session.completed",`+
		`"data":{"object":{"id":"cs_test_1","object":"checkout.session","payment_intent":"pi_123","metadata":{"db_device_id":%q}}}}`,
		eventID, deviceRef.String())
}

func TestStripeWebhook(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/devices/register", `{"device_id":"tv-1","access_key":"abc"}`)
	ref := s.device(t, "tv-1").ID

	t.Run("invalid signature", func(t *testing.T) {
		payload, header := signedWebhook(checkoutCompleted("evt_bad", ref), "whsec_attacker")
		rec := s.do(t, http.MethodPost, "/stripe/webhook", string(payload), withHeader("Stripe-Signature", header))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, models.SubscriptionTrial, s.device(t, "tv-1").Subscription.Status)

		rec = s.do(t, http.MethodPost, "/stripe/webhook", string(payload))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("checkout completed", func(t *testing.T) {
		payload, header := signedWebhook(checkoutCompleted("evt_1", ref), testWebhookSecret)
		rec := s.do(t, http.MethodPost, "/stripe/webhook", string(payload), withHeader("Stripe-Signature", header))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["received"])

		device := s.device(t, "tv-1")
		assert.Equal(t, models.SubscriptionActive, device.Subscription.Status)
		require.NotNil(t, device.Subscription.PurchaseDate)
		require.NotNil(t, device.Subscription.PaymentReference)
		assert.Equal(t, "pi_123", *device.Subscription.PaymentReference)
	})

	t.Run("unknown device still acknowledged", func(t *testing.T) {
		payload, header := signedWebhook(checkoutCompleted("evt_2", uuid.New()), testWebhookSecret)
		rec := s.do(t, http.MethodPost, "/stripe/webhook", string(payload), withHeader("Stripe-Signature", header))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("signed but undecodable still acknowledged", func(t *testing.T) {
		payload, header := signedWebhook("not json", testWebhookSecret)
		rec := s.do(t, http.MethodPost, "/stripe/webhook", string(payload), withHeader("Stripe-Signature", header))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))

	cookie := s.registerAndLogin(t)
	s.do(t, http.MethodGet, "/devices/me", "", withHeader("x-device-id", "tv-1"))

	rec = s.do(t, http.MethodGet, "/dashboard?payment_success=true", "", withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	body := rec.Body.String()
	assert.Contains(t, body, "tv-1")
	assert.Contains(t, body, "TRIAL")
	assert.Contains(t, body, `id="buy-button"`)
	assert.Contains(t, body, "Payment received")
	assert.NotContains(t, body, "Payment canceled")
	assert.Contains(t, body, ">online<")
	assert.Contains(t, body, "Active panel sessions: 1")

	rec = s.do(t, http.MethodPost, "/auth/login", `{"deviceId":"tv-1","accessKey":"abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/dashboard", "", withCookie(cookie))
	assert.Contains(t, rec.Body.String(), "Active panel sessions: 2")

	require.NoError(t, s.devices.Activate(context.Background(), s.device(t, "tv-1").ID, "pi_1", time.Now()))
	rec = s.do(t, http.MethodGet, "/dashboard", "", withCookie(cookie))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ACTIVE")
	assert.NotContains(t, rec.Body.String(), `id="buy-button"`)
}

func TestLoginPage(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Player Web Panel")

	cookie := s.registerAndLogin(t)
	rec = s.do(t, http.MethodGet, "/", "", withCookie(cookie))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/auth/login"},
		{http.MethodGet, "/devices/register"},
		{http.MethodPost, "/devices/playlist"},
		{http.MethodGet, "/stripe/webhook"},
	} {
		rec := s.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "Method not allowed", decodeBody(t, rec)["message"])
	}
}

func TestDeviceRoutes_CORSPreflight(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodOptions, "/devices/me", "",
		withHeader("Origin", "http://tv.local"),
		withHeader("Access-Control-Request-Method", http.MethodGet),
		withHeader("Access-Control-Request-Headers", "x-device-id"),
	)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, HealthCheck{Name: "ok", Check: func(context.Context) error { return nil }})
	rec := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	s = newTestServer(t, HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("down") }})
	rec = s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
