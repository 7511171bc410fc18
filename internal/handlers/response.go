package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/prudhvinik1/m3upanel/internal/services"
)

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Message: message})
}

// writeError maps service errors to a status code and a message that is safe
// to show. Anything unrecognised is logged and reported as a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *services.ValidationError
	var rateErr *services.RateLimitError

	switch {
	case errors.As(err, &validationErr):
		writeMessage(w, http.StatusBadRequest, validationErr.Message)
	case errors.Is(err, services.ErrValidation):
		writeMessage(w, http.StatusBadRequest, "Invalid request")
	case errors.Is(err, services.ErrInvalidSignature):
		writeMessage(w, http.StatusBadRequest, "Invalid signature")
	case errors.Is(err, services.ErrInvalidCredentials):
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, services.ErrUnauthenticated):
		writeMessage(w, http.StatusUnauthorized, "Not authenticated")
	case errors.Is(err, services.ErrDeviceNotFound):
		writeMessage(w, http.StatusNotFound, "Device not found")
	case errors.Is(err, services.ErrAlreadyActive):
		writeMessage(w, http.StatusConflict, "Device already has a lifetime license")
	case errors.As(err, &rateErr):
		seconds := int(math.Ceil(rateErr.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeMessage(w, http.StatusTooManyRequests, "Too many login attempts, please try again later")
	default:
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

const maxBodyBytes = 64 << 10
