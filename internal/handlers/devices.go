package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prudhvinik1/m3upanel/internal/services"
)

const deviceIDHeader = "X-Device-Id"

type registerDeviceRequest struct {
	DeviceID   string `json:"device_id"`
	AccessKey  string `json:"access_key"`
	MacAddress string `json:"mac_address"`
}

// RegisterDevice handles POST /devices/register from the TV application.
func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := h.devices.Register(r.Context(), services.RegisterRequest{
		DeviceID:   req.DeviceID,
		AccessKey:  req.AccessKey,
		MacAddress: req.MacAddress,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	if !created {
		writeMessage(w, http.StatusOK, "Device already registered")
		return
	}
	writeMessage(w, http.StatusCreated, "Device registered successfully")
}

// DeviceMe handles GET /devices/me. The TV identifies itself by header, not
// by session.
func (h *Handler) DeviceMe(w http.ResponseWriter, r *http.Request) {
	deviceID := r.Header.Get(deviceIDHeader)
	if deviceID == "" {
		writeMessage(w, http.StatusUnauthorized, "Device ID header missing")
		return
	}

	device, err := h.devices.CheckIn(r.Context(), deviceID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, device.Status())
}

type updatePlaylistRequest struct {
	PlaylistURL string `json:"playlistUrl"`
	EPGURL      string `json:"epgUrl"`
}

// UpdatePlaylist handles PUT /devices/playlist for the logged in owner.
func (h *Handler) UpdatePlaylist(w http.ResponseWriter, r *http.Request) {
	s, _ := SessionFromContext(r.Context())

	var req updatePlaylistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.devices.UpdatePlaylist(r.Context(), s.DeviceRef, req.PlaylistURL, req.EPGURL)
	if errors.Is(err, services.ErrDeviceNotFound) {
		h.endStaleSession(w, r)
		writeMessage(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.InfoContext(r.Context(), "playlist updated", "device_id", s.DeviceID)
	writeMessage(w, http.StatusOK, "Playlist updated successfully")
}

// endStaleSession revokes the sessions of a device that no longer exists and
// clears the cookie.
func (h *Handler) endStaleSession(w http.ResponseWriter, r *http.Request) {
	s, ok := SessionFromContext(r.Context())
	if ok {
		slog.WarnContext(r.Context(), "session references missing device", "device_id", s.DeviceID)
		if err := h.auth.RevokeDevice(r.Context(), s.DeviceRef); err != nil {
			slog.WarnContext(r.Context(), "failed to revoke stale sessions", "error", err)
		}
	}
	h.codec.Clear(w)
}
