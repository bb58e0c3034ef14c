package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teachme-ai/roster/internal/audit"
	"github.com/teachme-ai/roster/internal/identity"
	"github.com/teachme-ai/roster/internal/supabase"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureSink records every append and optionally fails or panics.
type captureSink struct {
	mu      sync.Mutex
	records []audit.Record
	ctxs    []identity.RequestAuditContext
	err     error
	panics  bool
}

func (s *captureSink) Append(_ context.Context, auditCtx identity.RequestAuditContext, rec audit.Record) error {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	s.ctxs = append(s.ctxs, auditCtx)
	return s.err
}

func (s *captureSink) all() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Record(nil), s.records...)
}

func testAuditContext() identity.RequestAuditContext {
	return identity.RequestAuditContext{
		ActorUserID: "user-1",
		ActorRole:   "student",
		SessionID:   "sess_abc",
		IP:          "203.0.113.9",
		UserAgent:   "roster-test/1.0",
		RequestID:   "req-1",
	}
}

func TestEmit_BuildsRecord(t *testing.T) {
	sink := &captureSink{}
	rec := audit.NewRecorder(sink, testLogger())

	err := rec.Emit(context.Background(), testAuditContext(),
		"list_students", "public.users", "all", map[string]any{"count": 3})
	require.NoError(t, err)

	records := sink.all()
	require.Len(t, records, 1)
	got := records[0]
	assert.Equal(t, "list_students", got.Action)
	assert.Equal(t, "public.users", got.TargetTable)
	assert.Equal(t, "all", got.TargetID)
	require.NotNil(t, got.ActorUserID)
	assert.Equal(t, "user-1", *got.ActorUserID)
	require.NotNil(t, got.SessionID)
	assert.Equal(t, "sess_abc", *got.SessionID)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, map[string]any{"count": 3}, got.Details)
	assert.Nil(t, got.OldValues)
	assert.Nil(t, got.NewValues)
}

func TestEmit_AnonymousFieldsNull(t *testing.T) {
	sink := &captureSink{}
	rec := audit.NewRecorder(sink, testLogger())

	auditCtx := identity.RequestAuditContext{
		ActorRole: "anon",
		SessionID: "sess_x",
		RequestID: "req-2",
	}
	require.NoError(t, rec.Emit(context.Background(), auditCtx, "search_students", "public.users", "query", nil))

	got := sink.all()[0]
	assert.Nil(t, got.ActorUserID)
	assert.Nil(t, got.IPAddress)
	assert.Nil(t, got.UserAgent)
	require.NotNil(t, got.ActorRole)
	assert.Equal(t, "anon", *got.ActorRole)

	// Absent optional fields serialize as JSON null, not "".
	encoded, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"actor_user_id":null`)
	assert.Contains(t, string(encoded), `"old_values":null`)
}

func TestEmit_SinkErrorReturned(t *testing.T) {
	sink := &captureSink{err: errors.New("insert denied")}
	rec := audit.NewRecorder(sink, testLogger())

	err := rec.Emit(context.Background(), testAuditContext(), "a", "t", "id", nil)
	assert.Error(t, err)
}

func TestEmitAsync_CompletesViaDrain(t *testing.T) {
	sink := &captureSink{}
	rec := audit.NewRecorder(sink, testLogger())

	rec.EmitAsync(testAuditContext(), "view_student_progress", "public.user_progress", "user-1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rec.Drain(ctx))
	assert.Len(t, sink.all(), 1)
}

func TestEmitAsync_SinkFailureDoesNotPropagate(t *testing.T) {
	sink := &captureSink{err: errors.New("unavailable")}
	rec := audit.NewRecorder(sink, testLogger())

	// Must not panic and must still drain cleanly.
	rec.EmitAsync(testAuditContext(), "a", "t", "id", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rec.Drain(ctx))
}

func TestEmitAsync_SinkPanicRecovered(t *testing.T) {
	sink := &captureSink{panics: true}
	rec := audit.NewRecorder(sink, testLogger())

	rec.EmitAsync(testAuditContext(), "a", "t", "id", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rec.Drain(ctx))
}

func TestDrain_TimesOut(t *testing.T) {
	block := make(chan struct{})
	sink := appendFunc(func(context.Context, identity.RequestAuditContext, audit.Record) error {
		<-block
		return nil
	})
	rec := audit.NewRecorder(sink, testLogger())
	rec.EmitAsync(testAuditContext(), "a", "t", "id", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rec.Drain(ctx), context.DeadlineExceeded)
	close(block)
}

// appendFunc adapts a function to the Sink interface.
type appendFunc func(context.Context, identity.RequestAuditContext, audit.Record) error

func (f appendFunc) Append(ctx context.Context, auditCtx identity.RequestAuditContext, rec audit.Record) error {
	return f(ctx, auditCtx, rec)
}

func TestRESTSink_InsertsWithCorrelationHeaders(t *testing.T) {
	var got *http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	admin, err := supabase.New(supabase.Config{BaseURL: srv.URL, APIKey: "service-key", ServiceRole: true})
	require.NoError(t, err)

	sink := audit.NewRESTSink(admin)
	auditCtx := testAuditContext()
	require.NoError(t, sink.Append(context.Background(), auditCtx, audit.Record{
		Action:      "list_students",
		TargetTable: "public.users",
		TargetID:    "all",
		RequestID:   auditCtx.RequestID,
	}))

	assert.Equal(t, "/rest/v1/app.audit_log", got.URL.Path)
	// The administrative key signs the write; the caller's credential never
	// reaches the audit channel.
	assert.Equal(t, "Bearer service-key", got.Header.Get("Authorization"))
	assert.Equal(t, "true", got.Header.Get("x-service-role"))
	assert.Equal(t, "req-1", got.Header.Get("x-request-id"))
	assert.Equal(t, "sess_abc", got.Header.Get("x-session-id"))
	assert.Equal(t, "user-1", got.Header.Get("x-actor-user-id"))

	var row map[string]any
	require.NoError(t, json.Unmarshal(body, &row))
	assert.Equal(t, "list_students", row["action"])
	assert.Nil(t, row["old_values"])
}

func TestRESTSink_SurfacesInsertFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"code":"42501","message":"permission denied"}`))
	}))
	defer srv.Close()

	admin, err := supabase.New(supabase.Config{BaseURL: srv.URL, APIKey: "service-key", ServiceRole: true})
	require.NoError(t, err)

	sink := audit.NewRESTSink(admin)
	err = sink.Append(context.Background(), testAuditContext(), audit.Record{Action: "a"})
	require.Error(t, err)
	assert.True(t, supabase.IsForbidden(err))
}
