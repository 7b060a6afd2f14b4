package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenMalformed = errors.New("invalid token format")
	ErrTokenSignature = errors.New("invalid token signature")
	ErrTokenExpired   = errors.New("token expired")
)

// TokenSigner issues HMAC-signed, expiring tokens bound to a purpose, a subject and an optional
// reference. Tokens minted for one purpose never verify for another.
type TokenSigner struct {
	purpose string
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenSigner constructs a signer with the provided purpose, secret and TTL.
func NewTokenSigner(purpose, secret string, ttl time.Duration) *TokenSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenSigner{
		purpose: purpose,
		secret:  []byte(secret),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Generate returns a token valid for the signer TTL.
func (s *TokenSigner) Generate(subject, ref string) (string, time.Time, error) {
	return s.GenerateUntil(subject, ref, s.now().Add(s.ttl))
}

// GenerateUntil returns a token valid until expiresAt.
func (s *TokenSigner) GenerateUntil(subject, ref string, expiresAt time.Time) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("subject required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	encodedRef := base64.RawURLEncoding.EncodeToString([]byte(ref))
	token := strings.Join([]string{subject, exp, encodedRef, s.sign(subject, exp, encodedRef)}, ".")
	return token, time.Unix(expiresAt.Unix(), 0), nil
}

// Parse validates a token and returns the embedded subject and reference.
func (s *TokenSigner) Parse(token string) (subject, ref string, expiresAt time.Time, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 || parts[0] == "" {
		return "", "", time.Time{}, ErrTokenMalformed
	}
	subject, exp, encodedRef, signature := parts[0], parts[1], parts[2], parts[3]

	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return "", "", time.Time{}, ErrTokenMalformed
	}
	rawRef, err := base64.RawURLEncoding.DecodeString(encodedRef)
	if err != nil {
		return "", "", time.Time{}, ErrTokenMalformed
	}
	if !hmac.Equal([]byte(s.sign(subject, exp, encodedRef)), []byte(signature)) {
		return "", "", time.Time{}, ErrTokenSignature
	}
	expiresAt = time.Unix(expUnix, 0)
	if s.now().After(expiresAt) {
		return "", "", time.Time{}, ErrTokenExpired
	}
	return subject, string(rawRef), expiresAt, nil
}

func (s *TokenSigner) sign(subject, exp, encodedRef string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(s.purpose + "|" + subject + "|" + exp + "|" + encodedRef))
	return hex.EncodeToString(mac.Sum(nil))
}
