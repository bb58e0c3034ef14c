// Package membership looks up institution membership rows in the external
// data service. It backs actor-role resolution, so lookups run on the
// administrative channel: the rows must be readable regardless of the
// caller's own row-level-security standing.
package membership

import (
	"context"
	"fmt"
	"net/url"

	"github.com/teachme-ai/roster/internal/supabase"
)

const table = "institution_memberships"

// Store reads membership rows over the data service's REST API.
type Store struct {
	admin *supabase.Client
}

// NewStore creates a Store using the given administrative channel.
func NewStore(admin *supabase.Client) *Store {
	return &Store{admin: admin}
}

type roleRow struct {
	Role string `json:"role"`
}

// ScopedRole returns the role of the membership row matching
// (userID, institutionID), or "" when none exists.
func (s *Store) ScopedRole(ctx context.Context, userID, institutionID string) (string, error) {
	q := url.Values{}
	q.Set("select", "role")
	q.Set("user_id", "eq."+userID)
	q.Set("institution_id", "eq."+institutionID)
	q.Set("limit", "1")

	var rows []roleRow
	if err := s.admin.Select(ctx, table, q, &rows); err != nil {
		return "", fmt.Errorf("membership: scoped role: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Role, nil
}

// LatestRole returns the role of the user's most recently created
// membership row, or "" when the user has none.
func (s *Store) LatestRole(ctx context.Context, userID string) (string, error) {
	q := url.Values{}
	q.Set("select", "role")
	q.Set("user_id", "eq."+userID)
	q.Set("order", "created_at.desc")
	q.Set("limit", "1")

	var rows []roleRow
	if err := s.admin.Select(ctx, table, q, &rows); err != nil {
		return "", fmt.Errorf("membership: latest role: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Role, nil
}
