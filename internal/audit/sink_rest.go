package audit

import (
	"context"
	"fmt"

	"github.com/teachme-ai/roster/internal/identity"
	"github.com/teachme-ai/roster/internal/supabase"
)

// auditTable is passed through to the REST layer verbatim; the audit log
// lives in the app schema, not public.
const auditTable = "app.audit_log"

// RESTSink appends audit records through the data service's REST API on
// the administrative channel, tagging each write with the originating
// request's correlation headers.
type RESTSink struct {
	admin *supabase.Client
}

// NewRESTSink creates a RESTSink on the given administrative channel.
func NewRESTSink(admin *supabase.Client) *RESTSink {
	return &RESTSink{admin: admin}
}

// Append inserts one audit row.
func (s *RESTSink) Append(ctx context.Context, auditCtx identity.RequestAuditContext, rec Record) error {
	channel := s.admin.WithRequest("", auditCtx.PropagationHeaders())
	if err := channel.Insert(ctx, auditTable, rec); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}
