package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
)

// Claims is the minimal payload carried by a gateway token.
type Claims struct {
	Subject   string    `json:"sub"`
	ExpiresAt time.Time `json:"exp"`
}

// HMACVerifier validates compact payload.signature tokens signed with
// HMAC-SHA256 over the encoded payload.
type HMACVerifier struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewHMACVerifier constructs a verifier for the supplied shared secret and
// clock skew allowance.
func NewHMACVerifier(secret string, leeway time.Duration) (*HMACVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &HMACVerifier{secret: []byte(secret), now: time.Now, leeway: leeway}, nil
}

// Verify parses the token, checks the signature and expiry, and returns the
// subject user id.
func (v *HMACVerifier) Verify(token string) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", errors.New("verifier not initialised")
	}
	token = strings.TrimSpace(token)
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidToken
	}
	signature, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidToken
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(parts[0]))
	if !hmac.Equal(signature, mac.Sum(nil)) {
		return "", ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	if !claims.ExpiresAt.IsZero() && v.now().After(claims.ExpiresAt.Add(v.leeway)) {
		return "", ErrExpiredToken
	}
	return claims.Subject, nil
}

// Sign issues a token for the supplied claims. Servers use it for tests and
// local tooling; production tokens come from the auth service.
func (v *HMACVerifier) Sign(claims Claims) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", errors.New("verifier not initialised")
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(encoded))
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return encoded + "." + signature, nil
}
