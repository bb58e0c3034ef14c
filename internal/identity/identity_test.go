package identity_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teachme-ai/roster/internal/identity"
)

// signlessToken builds a structurally valid JWT with the given payload
// claims and an empty signature segment. Claims are never verified, so
// no key is needed.
func signlessToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}

func TestParseBearerClaims(t *testing.T) {
	token := signlessToken(t, map[string]any{"sub": "user-123", "role": "authenticated"})

	claims := identity.ParseBearerClaims("Bearer " + token)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, "authenticated", claims.Role)

	// Prefix is optional and case-insensitive.
	assert.Equal(t, claims, identity.ParseBearerClaims(token))
	assert.Equal(t, claims, identity.ParseBearerClaims("bearer "+token))
}

func TestParseBearerClaims_Malformed(t *testing.T) {
	cases := map[string]string{
		"empty":            "",
		"bare prefix":      "Bearer ",
		"two segments":     "Bearer abc.def",
		"four segments":    "Bearer a.b.c.d",
		"not base64":       "Bearer !!!.???.___",
		"payload not json": "Bearer e30." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".",
	}
	for name, credential := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, identity.Claims{}, identity.ParseBearerClaims(credential))
		})
	}
}

func TestParseBearerClaims_NonStringClaims(t *testing.T) {
	token := signlessToken(t, map[string]any{"sub": 42, "role": true})
	assert.Equal(t, identity.Claims{}, identity.ParseBearerClaims("Bearer "+token))
}

func TestDeriveSessionID_Deterministic(t *testing.T) {
	a := identity.DeriveSessionID("Bearer token-one")
	b := identity.DeriveSessionID("Bearer token-one")
	c := identity.DeriveSessionID("Bearer token-two")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	require.True(t, strings.HasPrefix(a, "sess_"))
	digest := strings.TrimPrefix(a, "sess_")
	assert.Len(t, digest, 32)
	assert.Regexp(t, "^[0-9a-f]{32}$", digest)
}

func TestDeriveSessionID_NoCredential(t *testing.T) {
	a := identity.DeriveSessionID("")
	b := identity.DeriveSessionID("")

	assert.True(t, strings.HasPrefix(a, "sess_"))
	assert.True(t, strings.HasPrefix(b, "sess_"))
	// Anonymous sessions are random, not shared.
	assert.NotEqual(t, a, b)
}

func TestBuildBaseContext(t *testing.T) {
	token := signlessToken(t, map[string]any{"sub": "user-9", "role": "student"})
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("X-Real-Ip", "203.0.113.9")
	h.Set("User-Agent", "roster-test/1.0")
	h.Set("X-Request-Id", "req-abc")
	h.Set("X-Institution-Id", "inst-1")

	ctx := identity.BuildBaseContext(h)
	assert.Equal(t, "user-9", ctx.ActorUserID)
	assert.Equal(t, "student", ctx.ActorRole)
	assert.Equal(t, "203.0.113.9", ctx.IP)
	assert.Equal(t, "roster-test/1.0", ctx.UserAgent)
	assert.Equal(t, "req-abc", ctx.RequestID)
	assert.Equal(t, "inst-1", ctx.InstitutionID)
	assert.Equal(t, "Bearer "+token, ctx.Credential())
	assert.Empty(t, ctx.SessionID)
}

func TestBuildBaseContext_ForwardedFor(t *testing.T) {
	h := http.Header{}
	h.Set("X-Forwarded-For", " 198.51.100.7 , 10.0.0.1")

	ctx := identity.BuildBaseContext(h)
	assert.Equal(t, "198.51.100.7", ctx.IP)

	// X-Real-Ip wins over X-Forwarded-For.
	h.Set("X-Real-Ip", "203.0.113.1")
	assert.Equal(t, "203.0.113.1", identity.BuildBaseContext(h).IP)
}

func TestBuildBaseContext_GeneratesRequestID(t *testing.T) {
	ctx := identity.BuildBaseContext(http.Header{})
	assert.NotEmpty(t, ctx.RequestID)

	other := identity.BuildBaseContext(http.Header{})
	assert.NotEqual(t, ctx.RequestID, other.RequestID)
}

func TestPropagationHeaders(t *testing.T) {
	ctx := identity.RequestAuditContext{
		ActorUserID: "user-1",
		ActorRole:   "instructor",
		SessionID:   "sess_deadbeef",
		IP:          "203.0.113.9",
		UserAgent:   "roster-test/1.0",
		RequestID:   "req-1",
	}

	h := ctx.PropagationHeaders()
	assert.Equal(t, map[string]string{
		"x-request-id":    "req-1",
		"x-session-id":    "sess_deadbeef",
		"x-actor-user-id": "user-1",
		"x-actor-role":    "instructor",
		"x-real-ip":       "203.0.113.9",
		"user-agent":      "roster-test/1.0",
	}, h)
}

func TestPropagationHeaders_EmptyFieldsKept(t *testing.T) {
	ctx := identity.RequestAuditContext{RequestID: "req-1", SessionID: "sess_x", ActorRole: "anon"}

	h := ctx.PropagationHeaders()
	// Absent actor fields are still present as empty strings.
	for _, key := range []string{"x-actor-user-id", "x-real-ip", "user-agent"} {
		v, ok := h[key]
		assert.True(t, ok, key)
		assert.Empty(t, v)
	}
	// The institution header is the one key that is omitted when unscoped.
	_, ok := h["x-institution-id"]
	assert.False(t, ok)

	ctx.InstitutionID = "inst-2"
	assert.Equal(t, "inst-2", ctx.PropagationHeaders()["x-institution-id"])
}

// stubMemberships is a MembershipStore with canned answers per method.
type stubMemberships struct {
	scoped    string
	scopedErr error
	latest    string
	latestErr error

	scopedCalls int
	latestCalls int
}

func (s *stubMemberships) ScopedRole(_ context.Context, _, _ string) (string, error) {
	s.scopedCalls++
	return s.scoped, s.scopedErr
}

func (s *stubMemberships) LatestRole(_ context.Context, _ string) (string, error) {
	s.latestCalls++
	return s.latest, s.latestErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func TestResolveActorRole_ScopedWins(t *testing.T) {
	store := &stubMemberships{scoped: "instructor", latest: "student"}
	r := identity.NewResolver(store, testLogger())

	role := r.ResolveActorRole(context.Background(), "user-1", "inst-1")
	assert.Equal(t, "instructor", role)
	assert.Equal(t, 0, store.latestCalls)
}

func TestResolveActorRole_FallsBackToLatest(t *testing.T) {
	store := &stubMemberships{latest: "student"}
	r := identity.NewResolver(store, testLogger())

	// No institution scope: skip straight to the most recent membership.
	assert.Equal(t, "student", r.ResolveActorRole(context.Background(), "user-1", ""))
	assert.Equal(t, 0, store.scopedCalls)

	// Scoped lookup misses: fall through.
	store = &stubMemberships{latest: "student"}
	r = identity.NewResolver(store, testLogger())
	assert.Equal(t, "student", r.ResolveActorRole(context.Background(), "user-1", "inst-1"))
	assert.Equal(t, 1, store.scopedCalls)
}

func TestResolveActorRole_Anonymous(t *testing.T) {
	store := &stubMemberships{scoped: "instructor", latest: "student"}
	r := identity.NewResolver(store, testLogger())

	assert.Empty(t, r.ResolveActorRole(context.Background(), "", "inst-1"))
	assert.Equal(t, 0, store.scopedCalls)
	assert.Equal(t, 0, store.latestCalls)
}

func TestResolveActorRole_LookupErrorsSwallowed(t *testing.T) {
	store := &stubMemberships{
		scopedErr: errors.New("scoped down"),
		latestErr: errors.New("latest down"),
	}
	r := identity.NewResolver(store, testLogger())

	assert.Empty(t, r.ResolveActorRole(context.Background(), "user-1", "inst-1"))
}

func TestResolveActorRole_NilStore(t *testing.T) {
	r := identity.NewResolver(nil, testLogger())
	assert.Empty(t, r.ResolveActorRole(context.Background(), "user-1", "inst-1"))
}

func TestResolve_FullPrecedence(t *testing.T) {
	token := signlessToken(t, map[string]any{"sub": "user-1", "role": "authenticated"})

	newReq := func(institution string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/students", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		if institution != "" {
			req.Header.Set("X-Institution-Id", institution)
		}
		return req
	}

	// Membership row beats the token claim.
	r := identity.NewResolver(&stubMemberships{scoped: "admin"}, testLogger())
	ctx := r.Resolve(newReq("inst-1"))
	assert.Equal(t, "admin", ctx.ActorRole)

	// No membership row: token claim survives.
	r = identity.NewResolver(&stubMemberships{}, testLogger())
	ctx = r.Resolve(newReq(""))
	assert.Equal(t, "authenticated", ctx.ActorRole)
}

func TestResolve_AnonymousDefaults(t *testing.T) {
	r := identity.NewResolver(&stubMemberships{}, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/students", nil)

	ctx := r.Resolve(req)
	assert.Equal(t, identity.RoleAnonymous, ctx.ActorRole)
	assert.Empty(t, ctx.ActorUserID)
	assert.NotEmpty(t, ctx.RequestID)
	assert.True(t, strings.HasPrefix(ctx.SessionID, "sess_"))
}

func TestResolve_SessionIDStableAcrossRequests(t *testing.T) {
	token := signlessToken(t, map[string]any{"sub": "user-1"})
	r := identity.NewResolver(nil, testLogger())

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/students", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		return req
	}

	first := r.Resolve(newReq())
	second := r.Resolve(newReq())
	assert.Equal(t, first.SessionID, second.SessionID)
	// Request ids stay distinct even when the session is shared.
	assert.NotEqual(t, first.RequestID, second.RequestID)
}

func TestResolve_ExplicitSessionIDKept(t *testing.T) {
	r := identity.NewResolver(nil, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/students", nil)
	req.Header.Set("X-Session-Id", "sess_client_supplied")

	assert.Equal(t, "sess_client_supplied", r.Resolve(req).SessionID)
}
