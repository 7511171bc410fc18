package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prudhvinik1/m3upanel/internal/models"
	"github.com/prudhvinik1/m3upanel/internal/services"
	"github.com/prudhvinik1/m3upanel/internal/session"
)

type contextKey string

const sessionContextKey contextKey = "session"

// SessionFromContext returns the panel session attached by loadSession.
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*models.Session)
	return s, ok && s != nil
}

func withSession(ctx context.Context, s *models.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// loadSession decodes the session cookie and, when the session is still
// registered, attaches it to the request context. Requests without a usable
// session pass through untouched so pages can decide how to respond.
func (h *Handler) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claimed, err := h.codec.Read(r)
		if err != nil {
			if errors.Is(err, session.ErrInvalidSession) {
				h.codec.Clear(w)
			}
			next.ServeHTTP(w, r)
			return
		}

		s, err := h.auth.Authenticate(r.Context(), claimed)
		switch {
		case errors.Is(err, services.ErrUnauthenticated):
			h.codec.Clear(w)
			next.ServeHTTP(w, r)
			return
		case err != nil:
			slog.WarnContext(r.Context(), "session lookup failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), s)))
	})
}

func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SessionFromContext(r.Context()); !ok {
			writeMessage(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger writes one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			slog.InfoContext(r.Context(), "http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// clientIP strips the port that RemoteAddr keeps when no proxy header was
// present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
