// Package token reads claims out of JWT strings without verifying their
// signature. The backend is the only party that can verify tokens; on the
// client side the payload is decoded solely to answer "who is this for"
// and "is it still worth sending" — it is not a security boundary.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSkew is subtracted from a token's lifetime when checking expiry so a
// token is treated as expired slightly before the server would reject it.
// Without the buffer a request can be sent with a token that expires mid-flight.
const DefaultSkew = 30 * time.Second

var (
	// ErrMalformedToken indicates the string is not a parseable three-segment JWT.
	ErrMalformedToken = errors.New("token: malformed token")

	// ErrMissingClaims indicates the payload decoded but lacks exp or user_id.
	ErrMissingClaims = errors.New("token: missing required claims")
)

// Payload holds the decoded, unverified claims of an access or refresh token.
// It is derived state: recomputed from the raw token on every check and never
// cached across token rotations.
type Payload struct {
	UserID    int64
	Username  string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Decode splits and base64url-decodes the payload segment of a JWT and
// extracts the claims this package cares about. The signature segment is
// ignored entirely.
func Decode(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Payload{}, ErrMalformedToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Payload{}, ErrMalformedToken
	}

	exp, expOK := numericClaim(claims, "exp")
	userID, userOK := numericClaim(claims, "user_id")
	if !expOK || !userOK {
		return Payload{}, ErrMissingClaims
	}

	payload := Payload{
		UserID:    int64(userID),
		ExpiresAt: time.Unix(int64(exp), 0).UTC(),
	}
	if iat, ok := numericClaim(claims, "iat"); ok {
		payload.IssuedAt = time.Unix(int64(iat), 0).UTC()
	}
	if username, ok := claims["username"].(string); ok {
		payload.Username = username
	}
	return payload, nil
}

// IsExpired reports whether the token should be considered expired when
// checked with the given skew. Any decode failure counts as expired.
func IsExpired(raw string, skew time.Duration) bool {
	return expiredAt(raw, skew, time.Now())
}

func expiredAt(raw string, skew time.Duration, now time.Time) bool {
	payload, err := Decode(raw)
	if err != nil {
		return true
	}
	// Boundary is inclusive: exactly at exp-skew the token is already stale.
	return !now.Add(skew).Before(payload.ExpiresAt)
}

// numericClaim tolerates the numeric encodings encoding/json may produce.
func numericClaim(claims jwt.MapClaims, key string) (float64, bool) {
	v, ok := claims[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
