package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost = 12
	// bcrypt ignores input past 72 bytes; longer keys are rejected rather
	// than silently truncated.
	MaxAccessKeyLength = 72
)

var ErrAccessKeyTooLong = errors.New("access key must be at most 72 bytes")

// HashAccessKey hashes a device access key with the given bcrypt cost.
func HashAccessKey(accessKey string, cost int) (string, error) {
	if len(accessKey) > MaxAccessKeyLength {
		return "", ErrAccessKeyTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(accessKey), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func CheckAccessKey(hashedKey string, accessKey string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedKey), []byte(accessKey))
	return err == nil
}
