// ABOUTME: Invitation token generation and hashing for email invitation links.
// ABOUTME: Tokens are opaque strings (inv_ prefix + random bytes). Only sha256 stored.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// InvitationTokenPrefix is the human-readable prefix on all invitation tokens.
const InvitationTokenPrefix = "inv_"

// GenerateInvitationToken creates a new invitation token. Returns the raw
// token (sent by email only), the sha256 hex hash (stored in DB), and any error.
func GenerateInvitationToken() (rawToken, tokenHash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate invitation token: %w", err)
	}
	rawToken = InvitationTokenPrefix + hex.EncodeToString(b)
	tokenHash = HashInvitationToken(rawToken)
	return rawToken, tokenHash, nil
}

// HashInvitationToken returns the sha256 hex hash of rawToken.
func HashInvitationToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// LooksLikeInvitationToken rejects obviously malformed tokens before a DB lookup.
func LooksLikeInvitationToken(s string) bool {
	return strings.HasPrefix(s, InvitationTokenPrefix) && len(s) == len(InvitationTokenPrefix)+64
}
