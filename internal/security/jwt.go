package security

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// pendingPurpose tags tickets so a pending ticket can never pass for
// anything else.
const pendingPurpose = "2fa"

// PendingClaims are the claims carried by a pending second-factor ticket.
// The ticket binds the identity proven by the first factor to the
// second-factor attempt that follows; it is not a session.
type PendingClaims struct {
	UserID  uint64 `json:"-"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// IssuePendingToken signs a short-lived ticket for a user who passed the
// first factor but still owes a second one.
func IssuePendingToken(secret string, userID uint64, expiry time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("pending token: empty secret")
	}
	now := time.Now().UTC()
	claims := PendingClaims{
		Purpose: pendingPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("pending token: sign: %w", err)
	}
	return signed, nil
}

// ParsePendingToken validates a pending second-factor ticket and returns
// its claims.
func ParsePendingToken(secret, raw string) (*PendingClaims, error) {
	claims := &PendingClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("pending token: parse: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("pending token: invalid")
	}
	if claims.Purpose != pendingPurpose {
		return nil, fmt.Errorf("pending token: wrong purpose")
	}
	userID, errParse := strconv.ParseUint(claims.Subject, 10, 64)
	if errParse != nil {
		return nil, fmt.Errorf("pending token: bad subject: %w", errParse)
	}
	claims.UserID = userID
	return claims, nil
}
