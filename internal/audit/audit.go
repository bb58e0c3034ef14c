// Package audit appends request-attributed audit events to the external
// append-only audit log. Writes go through the administrative channel so
// they succeed even when the caller's own credential could not insert into
// the audit table.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/teachme-ai/roster/internal/identity"
)

// Record is one append-only audit row. OldValues and NewValues are carried
// for schema compatibility and always null here; no diffing happens at this
// layer.
type Record struct {
	Action      string         `json:"action"`
	TargetTable string         `json:"target_table"`
	TargetID    string         `json:"target_id"`
	ActorUserID *string        `json:"actor_user_id"`
	ActorRole   *string        `json:"actor_role"`
	SessionID   *string        `json:"session_id"`
	IPAddress   *string        `json:"ip_address"`
	UserAgent   *string        `json:"user_agent"`
	RequestID   string         `json:"request_id"`
	Details     map[string]any `json:"details"`
	OldValues   any            `json:"old_values"`
	NewValues   any            `json:"new_values"`
}

// Sink persists audit records. Implementations receive the originating
// request's audit context so channel-level correlation headers can be
// attached where the transport supports them.
type Sink interface {
	Append(ctx context.Context, auditCtx identity.RequestAuditContext, rec Record) error
}

// asyncWriteTimeout bounds a detached audit write once it has left the
// request's lifetime.
const asyncWriteTimeout = 5 * time.Second

// Recorder builds audit records from a request's audit context and hands
// them to a sink. Safe for concurrent use.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewRecorder creates a Recorder writing to the given sink.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger}
}

// Emit appends one audit record synchronously. The error is returned for
// callers that want to log it; it must never be turned into a request
// failure.
func (r *Recorder) Emit(ctx context.Context, auditCtx identity.RequestAuditContext, action, targetTable, targetID string, details map[string]any) error {
	rec := Record{
		Action:      action,
		TargetTable: targetTable,
		TargetID:    targetID,
		ActorUserID: nullable(auditCtx.ActorUserID),
		ActorRole:   nullable(auditCtx.ActorRole),
		SessionID:   nullable(auditCtx.SessionID),
		IPAddress:   nullable(auditCtx.IP),
		UserAgent:   nullable(auditCtx.UserAgent),
		RequestID:   auditCtx.RequestID,
		Details:     details,
	}
	return r.sink.Append(ctx, auditCtx, rec)
}

// EmitAsync appends one audit record on a detached goroutine, off the
// response's critical path. Failures and panics are logged, never
// propagated; Drain waits for in-flight writes during shutdown.
func (r *Recorder) EmitAsync(auditCtx identity.RequestAuditContext, action, targetTable, targetID string, details map[string]any) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("audit: write panicked",
					"action", action, "request_id", auditCtx.RequestID, "panic", p)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		defer cancel()

		if err := r.Emit(ctx, auditCtx, action, targetTable, targetID, details); err != nil {
			r.logger.Error("audit: write failed",
				"action", action,
				"target_table", targetTable,
				"target_id", targetID,
				"request_id", auditCtx.RequestID,
				"error", err)
		}
	}()
}

// Drain blocks until all in-flight async writes finish or ctx expires.
func (r *Recorder) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
