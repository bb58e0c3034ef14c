package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teachme-ai/roster/internal/identity"
)

// PostgresSink appends audit records over a direct database connection,
// bypassing the REST layer. Used when the deployment has the project's
// connection string; the direct path is not subject to row-level security,
// so it fills the same role as the service-role REST channel.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates a PostgresSink on the given pool.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Append inserts one audit row. The correlation headers of the REST channel
// have no direct-connection equivalent; the row itself carries the full
// attribution.
func (s *PostgresSink) Append(ctx context.Context, _ identity.RequestAuditContext, rec Record) error {
	var details []byte
	if rec.Details != nil {
		var err error
		details, err = json.Marshal(rec.Details)
		if err != nil {
			return fmt.Errorf("audit: marshal details: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO app.audit_log (
		     action, target_table, target_id,
		     actor_user_id, actor_role, session_id, ip_address, user_agent,
		     request_id, details, old_values, new_values
		 )
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, NULL, NULL)`,
		rec.Action, rec.TargetTable, rec.TargetID,
		rec.ActorUserID, rec.ActorRole, rec.SessionID, rec.IPAddress, rec.UserAgent,
		rec.RequestID, details,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}
