package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// mintToken signs a minimal HS256 token with the claims the client cares
// about. The signature is irrelevant: the client never verifies it.
func mintToken(t *testing.T, userID int64, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(ttl).Unix(),
		"iat":     time.Now().Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
