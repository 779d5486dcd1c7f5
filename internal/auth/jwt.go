// ABOUTME: JWT issuance and parsing for Gestor session tokens.
// ABOUTME: Always enforces HS256 algorithm and expiration; never call jwt.Parse directly.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims holds the claims embedded in a session token. The token only
// names the session; roles and the active organization are always read from
// the database so a membership change takes effect without reissuing tokens.
type SessionClaims struct {
	jwt.RegisteredClaims
	// UserID shadows RegisteredClaims.Subject so that "sub" serializes as a
	// UUID string. Go's encoding/json picks the outermost field when embedded
	// struct tags collide.
	UserID uuid.UUID `json:"sub"`
	// SessionID is the sessions.id row this token is bound to.
	SessionID uuid.UUID `json:"sid"`
}

// IssueSessionToken creates a signed HS256 session token.
func IssueSessionToken(secret []byte, userID, sessionID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:    userID,
		SessionID: sessionID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken validates and parses an HS256 session token.
// Returns an error if the token is expired, uses a wrong algorithm, or is invalid.
// WithValidMethods and WithExpirationRequired are mandatory.
func ParseSessionToken(tokenStr string, secret []byte) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if claims.SessionID == uuid.Nil {
		return nil, fmt.Errorf("parse session token: missing sid")
	}
	return claims, nil
}
