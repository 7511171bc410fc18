package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("not authenticated")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrAlreadyActive      = errors.New("device already has a lifetime license")
	ErrRateLimited        = errors.New("too many attempts")
)

// ValidationError carries a message that is safe to show to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RateLimitError tells the caller how long to back off.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
