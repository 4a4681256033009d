package remote

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL is how long a minted device token remains valid. Tokens are
// re-minted shortly before expiry.
const tokenTTL = 15 * time.Minute

// TokenSource mints short-lived HS256 bearer tokens from a shared device
// secret. The remote ledger validates them with the same secret.
type TokenSource struct {
	mu       sync.Mutex
	secret   []byte
	deviceID string

	cached    string
	expiresAt time.Time
}

// NewTokenSource creates a token source for the given device.
// secret should be a strong random string shared with the ledger service.
func NewTokenSource(secret, deviceID string) *TokenSource {
	return &TokenSource{
		secret:   []byte(secret),
		deviceID: deviceID,
	}
}

// Token returns a valid bearer token, minting a fresh one when the cached
// token is within a minute of expiry.
func (t *TokenSource) Token() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if t.cached != "" && now.Before(t.expiresAt.Add(-time.Minute)) {
		return t.cached, nil
	}

	claims := jwt.RegisteredClaims{
		Subject:   t.deviceID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	t.cached = signed
	t.expiresAt = now.Add(tokenTTL)
	return signed, nil
}
