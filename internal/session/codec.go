// Package session seals web panel sessions into a single cookie.
//
// The cookie value is an HS256 JWT carrying the session claims, encrypted
// with XChaCha20-Poly1305 so the device identifiers it holds are not readable
// client side. Signing and sealing keys are derived from one server secret
// with HKDF.
package session

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prudhvinik1/m3upanel/internal/models"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const CookieName = "m3u-player-session"

var (
	ErrNoSession      = errors.New("no session cookie")
	ErrInvalidSession = errors.New("invalid session")
)

type claims struct {
	DeviceID string `json:"did"`
	jwt.RegisteredClaims
}

type Codec struct {
	signKey []byte
	aead    cipher.AEAD
	secure  bool
	now     func() time.Time
}

// NewCodec derives the signing and sealing keys from secret. secure sets the
// cookie Secure flag.
func NewCodec(secret string, secure bool) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("session secret is required")
	}

	signKey, err := deriveKey(secret, "m3u-player-session/sign")
	if err != nil {
		return nil, err
	}
	sealKey, err := deriveKey(secret, "m3u-player-session/seal")
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cipher: %w", err)
	}

	return &Codec{signKey: signKey, aead: aead, secure: secure, now: time.Now}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return key, nil
}

// Seal encodes s into an opaque cookie value.
func (c *Codec) Seal(s *models.Session) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		DeviceID: s.DeviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			Subject:   s.DeviceRef.String(),
			IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	})
	signed, err := token.SignedString(c.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(signed)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(signed), nil)

	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Any tampering, a wrong key, or an expired token yields
// ErrInvalidSession.
func (c *Codec) Open(value string) (*models.Session, error) {
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, ErrInvalidSession
	}
	if len(data) < c.aead.NonceSize()+c.aead.Overhead() {
		return nil, ErrInvalidSession
	}

	nonce, ciphertext := data[:c.aead.NonceSize()], data[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidSession
	}

	var cl claims
	_, err = jwt.ParseWithClaims(string(plain), &cl, func(token *jwt.Token) (interface{}, error) {
		return c.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, ErrInvalidSession
	}

	deviceRef, err := uuid.Parse(cl.Subject)
	if err != nil || cl.ID == "" || cl.DeviceID == "" {
		return nil, ErrInvalidSession
	}

	s := &models.Session{
		ID:        cl.ID,
		DeviceRef: deviceRef,
		DeviceID:  cl.DeviceID,
		ExpiresAt: cl.ExpiresAt.Time,
	}
	if cl.IssuedAt != nil {
		s.CreatedAt = cl.IssuedAt.Time
	}
	return s, nil
}

// Write seals s and sets it as the session cookie.
func (c *Codec) Write(w http.ResponseWriter, s *models.Session) error {
	value, err := c.Seal(s)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   int(time.Until(s.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Clear expires the session cookie in the browser.
func (c *Codec) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Read decodes the session cookie on r.
func (c *Codec) Read(r *http.Request) (*models.Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}
	return c.Open(cookie.Value)
}
