package identity

import (
	"context"
	"log/slog"
	"net/http"
)

// MembershipStore looks up a user's role in the external membership
// collaborator. Implementations return ("", nil) when no row matches;
// errors mean the lookup itself failed.
type MembershipStore interface {
	// ScopedRole returns the role of the (user, institution) membership row.
	ScopedRole(ctx context.Context, userID, institutionID string) (string, error)
	// LatestRole returns the role of the user's most recently created
	// membership row.
	LatestRole(ctx context.Context, userID string) (string, error)
}

// Resolver builds the complete audit context for an inbound request,
// firming up the actor role against the membership store.
type Resolver struct {
	memberships MembershipStore
	logger      *slog.Logger
}

// NewResolver creates a Resolver. memberships may be nil, in which case
// role resolution falls through to the token claim.
func NewResolver(memberships MembershipStore, logger *slog.Logger) *Resolver {
	return &Resolver{memberships: memberships, logger: logger}
}

// ResolveActorRole returns the authoritative role for an actor, or "" when
// none resolves. Precedence: institution-scoped membership row, then the
// most recently created membership row. An anonymous caller (empty userID)
// resolves to "" immediately.
//
// Lookup failures are logged and swallowed: role resolution is best-effort
// and must never fail or block the request it serves. The caller falls back
// to the token role claim or RoleAnonymous.
func (r *Resolver) ResolveActorRole(ctx context.Context, userID, institutionID string) string {
	if userID == "" || r.memberships == nil {
		return ""
	}

	if institutionID != "" {
		role, err := r.memberships.ScopedRole(ctx, userID, institutionID)
		if err != nil {
			r.logger.Warn("identity: scoped membership lookup failed",
				"user_id", userID, "institution_id", institutionID, "error", err)
		} else if role != "" {
			return role
		}
	}

	role, err := r.memberships.LatestRole(ctx, userID)
	if err != nil {
		r.logger.Warn("identity: membership lookup failed", "user_id", userID, "error", err)
		return ""
	}
	return role
}

// Resolve builds the complete, immutable audit context for the request:
// base header extraction, session-id derivation, then actor-role
// resolution. Final role precedence: scoped membership > most recent
// membership > token role claim > RoleAnonymous.
func (r *Resolver) Resolve(req *http.Request) RequestAuditContext {
	auditCtx := BuildBaseContext(req.Header)

	if auditCtx.SessionID == "" {
		auditCtx.SessionID = DeriveSessionID(auditCtx.credential)
	}

	if resolved := r.ResolveActorRole(req.Context(), auditCtx.ActorUserID, auditCtx.InstitutionID); resolved != "" {
		auditCtx.ActorRole = resolved
	}
	if auditCtx.ActorRole == "" {
		auditCtx.ActorRole = RoleAnonymous
	}
	return auditCtx
}
