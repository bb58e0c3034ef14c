// Package supabase provides a thin HTTP client for a Supabase-style
// Postgres-as-a-service backend (PostgREST data API plus storage buckets).
package supabase

import (
	"errors"
	"fmt"
)

// Error represents an error response from the data service with the HTTP
// status code and the PostgREST error body.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("supabase: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true when a single-object request matched no rows.
// PostgREST signals this as 406 (object negotiation failed) and the
// storage API as 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404 || e.StatusCode == 406
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}

// IsForbidden returns true if the error is a 403 (e.g. a row-level-security
// policy rejected the caller's credential).
func IsForbidden(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 403
	}
	return false
}
