package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

type RouterOptions struct {
	// CORSOrigins applies to the endpoints the TV application calls.
	CORSOrigins []string
	// TrustedProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Without it the socket address is used.
	TrustedProxy bool
}

// NewRouter wires every route.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.TrustedProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", h.Health)

	tvCORS := cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Device-Id"},
	})

	r.Route("/devices", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(tvCORS.Handler)
			r.Post("/register", h.RegisterDevice)
			r.Get("/me", h.DeviceMe)
			// Preflight requests are answered by the CORS middleware.
			r.Options("/register", http.NotFound)
			r.Options("/me", http.NotFound)
		})
		r.With(h.loadSession, requireSession).Put("/playlist", h.UpdatePlaylist)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Use(h.loadSession)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
	})

	r.Route("/stripe", func(r chi.Router) {
		r.With(h.loadSession, requireSession).Post("/create-checkout-session", h.CreateCheckoutSession)
		r.Post("/webhook", h.StripeWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.loadSession)
		r.Get("/", h.LoginPage)
		r.Get("/dashboard", h.Dashboard)
	})

	return r
}
