// Package identity derives the request-scoped audit context: the actor,
// session, and correlation identifiers attached to every downstream call
// and audit record produced while serving one inbound request.
package identity

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the unverified fields decoded from a bearer token's payload
// segment. Empty fields mean the claim was absent or the token malformed.
type Claims struct {
	Subject string
	Role    string
}

// ParseBearerClaims decodes the subject and role claims from a bearer
// credential without verifying its signature.
//
// This is deliberate, not an oversight: the claims feed audit attribution
// and a role hint only. Authorization is enforced by the data service's
// row-level-security policies against the forwarded credential, which that
// service verifies itself. A token with a wrong segment count, undecodable
// payload, or non-JSON payload yields empty claims; the request proceeds
// as anonymous.
func ParseBearerClaims(credential string) Claims {
	token := stripBearer(credential)
	if token == "" {
		return Claims{}
	}

	payload := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, payload); err != nil {
		return Claims{}
	}

	var c Claims
	if sub, ok := payload["sub"].(string); ok {
		c.Subject = sub
	}
	if role, ok := payload["role"].(string); ok {
		c.Role = role
	}
	return c
}

// stripBearer removes an optional case-insensitive "Bearer " prefix.
func stripBearer(credential string) string {
	cred := strings.TrimSpace(credential)
	if len(cred) > 7 && strings.EqualFold(cred[:7], "bearer ") {
		return strings.TrimSpace(cred[7:])
	}
	return cred
}
