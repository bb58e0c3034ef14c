package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// RoleAnonymous is the actor role when nothing else resolves.
const RoleAnonymous = "anon"

// sessionIDPrefix tags derived and generated session identifiers.
const sessionIDPrefix = "sess_"

// sessionDigestLen is the hex length of the credential digest kept in a
// derived session id.
const sessionDigestLen = 32

// RequestAuditContext is the immutable per-request bundle of actor, session,
// and correlation identifiers. One instance is built per inbound request and
// reused for every downstream call and audit record that request produces.
//
// Empty string means absent for the optional fields. After Resolve,
// RequestID and SessionID are always non-empty and ActorRole is never empty.
type RequestAuditContext struct {
	ActorUserID   string
	ActorRole     string
	SessionID     string
	IP            string
	UserAgent     string
	RequestID     string
	InstitutionID string

	// credential is the raw Authorization header, carried so the
	// per-request data-service channel can forward it. Not propagated in
	// correlation headers and not persisted.
	credential string
}

// Credential returns the raw inbound Authorization header, or "" when the
// caller was anonymous.
func (c *RequestAuditContext) Credential() string {
	return c.credential
}

// BuildBaseContext reads the inbound headers into a partial context.
// SessionID is left empty unless the caller supplied one explicitly;
// deterministic derivation needs the credential and happens in Resolve.
func BuildBaseContext(h http.Header) RequestAuditContext {
	authorization := strings.TrimSpace(h.Get("Authorization"))
	claims := ParseBearerClaims(authorization)

	ip := strings.TrimSpace(h.Get("X-Real-Ip"))
	if ip == "" {
		forwarded := h.Get("X-Forwarded-For")
		ip = strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0])
	}

	requestID := strings.TrimSpace(h.Get("X-Request-Id"))
	if requestID == "" {
		requestID = uuid.New().String()
	}

	return RequestAuditContext{
		ActorUserID:   claims.Subject,
		ActorRole:     claims.Role,
		SessionID:     strings.TrimSpace(h.Get("X-Session-Id")),
		IP:            ip,
		UserAgent:     strings.TrimSpace(h.Get("User-Agent")),
		RequestID:     requestID,
		InstitutionID: strings.TrimSpace(h.Get("X-Institution-Id")),
		credential:    authorization,
	}
}

// DeriveSessionID returns a stable per-credential session identifier:
// a fixed-length hex prefix of the credential's SHA-256 digest, tagged
// sess_. Repeated requests bearing the same credential map to the same
// session id without any server-side session storage. An absent credential
// yields a fresh random id, tagged the same way.
func DeriveSessionID(credential string) string {
	if credential == "" {
		return sessionIDPrefix + uuid.New().String()
	}
	sum := sha256.Sum256([]byte(credential))
	return sessionIDPrefix + hex.EncodeToString(sum[:])[:sessionDigestLen]
}

// PropagationHeaders returns the fixed correlation header set attached to
// every downstream call made on behalf of this request. Missing optional
// actor fields are propagated as empty strings, never omitted; the
// institution header is only present when an institution scope was
// supplied.
func (c *RequestAuditContext) PropagationHeaders() map[string]string {
	h := map[string]string{
		"x-request-id":    c.RequestID,
		"x-session-id":    c.SessionID,
		"x-actor-user-id": c.ActorUserID,
		"x-actor-role":    c.ActorRole,
		"x-real-ip":       c.IP,
		"user-agent":      c.UserAgent,
	}
	if c.InstitutionID != "" {
		h["x-institution-id"] = c.InstitutionID
	}
	return h
}
