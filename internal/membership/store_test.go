package membership_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teachme-ai/roster/internal/membership"
	"github.com/teachme-ai/roster/internal/supabase"
)

func newStore(t *testing.T, handler http.HandlerFunc) *membership.Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	admin, err := supabase.New(supabase.Config{BaseURL: srv.URL, APIKey: "service-key", ServiceRole: true})
	require.NoError(t, err)
	return membership.NewStore(admin)
}

func TestScopedRole(t *testing.T) {
	var got *http.Request
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_, _ = w.Write([]byte(`[{"role":"instructor"}]`))
	})

	role, err := store.ScopedRole(context.Background(), "user-1", "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "instructor", role)

	assert.Equal(t, "/rest/v1/institution_memberships", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "role", q.Get("select"))
	assert.Equal(t, "eq.user-1", q.Get("user_id"))
	assert.Equal(t, "eq.inst-1", q.Get("institution_id"))
	assert.Equal(t, "1", q.Get("limit"))
}

func TestScopedRole_NoRow(t *testing.T) {
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	role, err := store.ScopedRole(context.Background(), "user-1", "inst-1")
	require.NoError(t, err)
	assert.Empty(t, role)
}

func TestLatestRole_OrdersByCreatedAt(t *testing.T) {
	var got *http.Request
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_, _ = w.Write([]byte(`[{"role":"student"}]`))
	})

	role, err := store.LatestRole(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "student", role)

	q := got.URL.Query()
	assert.Equal(t, "eq.user-1", q.Get("user_id"))
	assert.Equal(t, "created_at.desc", q.Get("order"))
	assert.Equal(t, "1", q.Get("limit"))
}

func TestLookupError(t *testing.T) {
	store := newStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := store.ScopedRole(context.Background(), "user-1", "inst-1")
	assert.Error(t, err)

	_, err = store.LatestRole(context.Background(), "user-1")
	assert.Error(t, err)
}
