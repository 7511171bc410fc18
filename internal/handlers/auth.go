package handlers

import (
	"log/slog"
	"net/http"

	"github.com/prudhvinik1/m3upanel/internal/services"
)

type loginRequest struct {
	DeviceID  string `json:"deviceId"`
	AccessKey string `json:"accessKey"`
}

// Login handles POST /auth/login with the credentials shown on the TV.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	s, err := h.auth.Login(r.Context(), services.LoginRequest{
		DeviceID:  req.DeviceID,
		AccessKey: req.AccessKey,
		ClientIP:  clientIP(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.codec.Write(w, s); err != nil {
		if logoutErr := h.auth.Logout(r.Context(), s.ID); logoutErr != nil {
			slog.WarnContext(r.Context(), "failed to drop unsent session", "error", logoutErr)
		}
		writeError(w, r, err)
		return
	}

	writeMessage(w, http.StatusOK, "Login successful")
}

// Logout handles POST /auth/logout. It always succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if s, ok := SessionFromContext(r.Context()); ok {
		if err := h.auth.Logout(r.Context(), s.ID); err != nil {
			slog.WarnContext(r.Context(), "failed to revoke session", "error", err)
		}
	}
	h.codec.Clear(w)
	writeMessage(w, http.StatusOK, "Logged out")
}
