// Package server implements the HTTP API for the roster backend.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/teachme-ai/roster/internal/identity"
	"github.com/teachme-ai/roster/internal/model"
	"github.com/teachme-ai/roster/internal/supabase"
)

type contextKey string

const (
	contextKeyAuditCtx contextKey = "audit_context"
	contextKeyChannels contextKey = "channels"
)

// Channels is the per-request pair of data-service clients: the
// caller-scoped channel forwarding the caller's credential, and the
// administrative channel. Both carry the request's correlation headers
// and share the process-wide transports.
type Channels struct {
	User  *supabase.Client
	Admin *supabase.Client
}

// AuditContextFromContext extracts the resolved audit context.
// Outside the request middleware (tests) the zero value is returned.
func AuditContextFromContext(ctx context.Context) identity.RequestAuditContext {
	if v, ok := ctx.Value(contextKeyAuditCtx).(identity.RequestAuditContext); ok {
		return v
	}
	return identity.RequestAuditContext{}
}

// ChannelsFromContext extracts the per-request channel pair.
func ChannelsFromContext(ctx context.Context) Channels {
	if v, ok := ctx.Value(contextKeyChannels).(Channels); ok {
		return v
	}
	return Channels{}
}

// requestContextMiddleware resolves the audit context for the inbound
// request and builds the per-request channel pair from it. Runs outermost
// so every later stage and every handler sees the same context; role
// resolution inside Resolve is best-effort and cannot fail the request.
func requestContextMiddleware(resolver *identity.Resolver, anon, admin *supabase.Client, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auditCtx := resolver.Resolve(r)
		headers := auditCtx.PropagationHeaders()

		channels := Channels{
			User:  anon.WithRequest(auditCtx.Credential(), headers),
			Admin: admin.WithRequest("", headers),
		}

		ctx := context.WithValue(r.Context(), contextKeyAuditCtx, auditCtx)
		ctx = context.WithValue(ctx, contextKeyChannels, channels)

		w.Header().Set("X-Request-Id", auditCtx.RequestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each request with structured fields.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		auditCtx := AuditContextFromContext(r.Context())
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", auditCtx.RequestID,
			"session_id", auditCtx.SessionID,
			"actor_role", auditCtx.ActorRole,
		}
		if auditCtx.ActorUserID != "" {
			attrs = append(attrs, "actor_user_id", auditCtx.ActorUserID)
		}
		if tid := traceIDFromContext(r.Context()); tid != "" {
			attrs = append(attrs, "trace_id", tid)
		}

		level := slog.LevelInfo
		if wrapped.statusCode >= 500 {
			level = slog.LevelError
		} else if wrapped.statusCode >= 400 {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request", attrs...)
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

var (
	tracer    = otel.Tracer("roster/http")
	httpMeter = otel.GetMeterProvider().Meter("roster/http")
)

// tracingMiddleware creates an OTEL span for each HTTP request
// and records request count and duration metrics.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auditCtx := AuditContextFromContext(r.Context())
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("http.request_id", auditCtx.RequestID),
			),
		)
		defer span.End()

		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", wrapped.statusCode))
		if auditCtx.ActorUserID != "" {
			span.SetAttributes(
				attribute.String("roster.actor_user_id", auditCtx.ActorUserID),
				attribute.String("roster.actor_role", auditCtx.ActorRole),
			)
		}

		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.String("http.status_code", strconv.Itoa(wrapped.statusCode)),
		}

		// Best-effort metrics; instruments are lazily created.
		if counter, err := httpMeter.Int64Counter("http.server.request_count"); err == nil {
			counter.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
		}
		if hist, err := httpMeter.Float64Histogram("http.server.duration",
			otelmetric.WithUnit("ms")); err == nil {
			hist.Record(ctx, float64(time.Since(start).Milliseconds()), otelmetric.WithAttributes(attrs...))
		}
	})
}

// traceIDFromContext extracts the OTEL trace ID from the context, if any.
func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// recoveryMiddleware turns handler panics into 500 responses.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("handler panicked",
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", AuditContextFromContext(r.Context()).RequestID,
					"panic", p,
				)
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// writeData writes a success envelope without a count.
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{Success: true, Data: data})
}

// writeList writes a success envelope with a count, for list endpoints.
func writeList(w http.ResponseWriter, status int, data any, count int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{Success: true, Data: data, Count: &count})
}

// writeError writes the failure envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{Success: false, Message: message})
}

// decodeJSON decodes a JSON request body into the target struct.
func decodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
