package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation failure reasons. Handlers map all of them to HTTP 403.
var (
	ErrMissingToken = errors.New("csrf token missing")
	ErrMalformed    = errors.New("csrf token malformed")
	ErrBadSignature = errors.New("csrf token signature invalid")
	ErrExpired      = errors.New("csrf token expired")
)

const DefaultTTL = 1 * time.Hour

type tokenClaims struct {
	IssuedAt int64  `json:"iat"`
	Nonce    string `json:"nonce"`
}

// Guard issues and validates self-verifying anti-forgery tokens. Tokens are
// an HMAC-SHA256 signature over {issuedAt, nonce}, so no server-side
// per-token storage exists and validation never mutates state. A token
// stays valid until its TTL elapses; single-use rotation is intentionally
// not the policy here.
type Guard struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewGuard(secret string, ttl time.Duration) (*Guard, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("secret is required for csrf token guard")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock swaps the time source, used by tests to expire tokens.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

func (g *Guard) TTL() time.Duration {
	return g.ttl
}

// Issue creates a fresh token. Side-effect free: a function of the random
// source and the clock.
func (g *Guard) Issue() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	claims := tokenClaims{
		IssuedAt: g.now().Unix(),
		Nonce:    hex.EncodeToString(nonce),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, g.secret)
	mac.Write(payload)
	sig := mac.Sum(nil)
	token := fmt.Sprintf("%s.%s", base64.RawURLEncoding.EncodeToString(payload), base64.RawURLEncoding.EncodeToString(sig))
	return token, nil
}

// Validate checks a token against the shared secret and the issuance TTL.
func (g *Guard) Validate(token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrMissingToken
	}
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return ErrMalformed
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return ErrMalformed
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ErrMalformed
	}
	mac := hmac.New(sha256.New, g.secret)
	mac.Write(payloadBytes)
	expected := mac.Sum(nil)
	if !hmac.Equal(sigBytes, expected) {
		return ErrBadSignature
	}
	var claims tokenClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return ErrMalformed
	}
	if g.now().Unix() >= claims.IssuedAt+int64(g.ttl.Seconds()) {
		return ErrExpired
	}
	return nil
}
