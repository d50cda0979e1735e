package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignedURLSigner creates and validates short-lived download tokens binding a
// paper to the viewer the token was issued for.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a token of the form paperID.subject.expiry.signature.
func (s *SignedURLSigner) Generate(paperID, subject string) (string, time.Time, error) {
	if paperID == "" || subject == "" {
		return "", time.Time{}, fmt.Errorf("paperID and subject required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	if strings.Contains(paperID, ".") || strings.Contains(subject, ".") {
		return "", time.Time{}, fmt.Errorf("identifiers must not contain '.'")
	}
	expiresAt := s.now().Add(s.ttl)
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{paperID, subject, exp, s.sign(paperID, subject, exp)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded paper and subject.
func (s *SignedURLSigner) Parse(token string) (paperID, subject string, expiresAt time.Time, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return "", "", time.Time{}, fmt.Errorf("invalid token format")
	}
	paperID, subject = parts[0], parts[1]

	expUnix, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("invalid timestamp")
	}
	expiresAt = time.Unix(expUnix, 0)

	expected := s.sign(paperID, subject, parts[2])
	if !hmac.Equal([]byte(expected), []byte(parts[3])) {
		return "", "", time.Time{}, fmt.Errorf("invalid token signature")
	}
	if s.now().After(expiresAt) {
		return "", "", time.Time{}, fmt.Errorf("token expired")
	}
	return paperID, subject, expiresAt, nil
}

func (s *SignedURLSigner) sign(paperID, subject, exp string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(paperID + "|" + subject + "|" + exp))
	return hex.EncodeToString(mac.Sum(nil))
}
