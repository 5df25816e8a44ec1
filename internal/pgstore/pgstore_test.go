package pgstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/buildtrack/internal/auth"
	"github.com/vbonduro/buildtrack/internal/docref"
	"github.com/vbonduro/buildtrack/internal/gateway"
)

var _ gateway.Backend = (*Store)(nil)

func TestMigrateURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"postgres://u:p@db:5432/bt?sslmode=disable", "pgx5://u:p@db:5432/bt?sslmode=disable"},
		{"postgresql://db/bt", "pgx5://db/bt"},
		{"pgx5://db/bt", "pgx5://db/bt"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, migrateURL(tt.in))
	}
}

type recordingFeed struct {
	mu    sync.Mutex
	paths []string
}

func (f *recordingFeed) Publish(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return nil
}

// newTestStore needs BUILDTRACK_TEST_PG_DSN to name a role that is neither a
// superuser nor BYPASSRLS, otherwise the policy is not enforced.
func newTestStore(t *testing.T) (*Store, *recordingFeed) {
	t.Helper()
	dsn := os.Getenv("BUILDTRACK_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("BUILDTRACK_TEST_PG_DSN not set")
	}
	require.NoError(t, Migrate(dsn))

	ctx := context.Background()
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	var bypass bool
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT rolsuper OR rolbypassrls FROM pg_roles WHERE rolname = current_user`).Scan(&bypass))
	if bypass {
		t.Skip("test role bypasses row level security")
	}

	feed := &recordingFeed{}
	return New(pool, feed, slog.Default()), feed
}

func as(uid string) context.Context {
	return auth.WithPrincipal(context.Background(), &auth.Principal{UserID: uid})
}

func TestStoreOwnerRoundTrip(t *testing.T) {
	s, feed := newTestStore(t)
	owner := "owner-" + uuid.NewString()
	ctx := as(owner)
	ref := docref.Collection(owner, "projects").Doc("p1")

	require.NoError(t, s.Set(ctx, ref, json.RawMessage(`{"name":"Tower","photos":[]}`)))
	require.NoError(t, s.Update(ctx, ref, func(doc map[string]json.RawMessage) error {
		doc["name"] = json.RawMessage(`"Tower B"`)
		return nil
	}))

	doc, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Tower B","photos":[]}`, string(doc.Data))

	docs, err := s.List(ctx, ref.Parent())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, ref, docs[0].Ref)

	require.NoError(t, s.Delete(ctx, ref))
	_, err = s.Get(ctx, ref)
	assert.ErrorIs(t, err, gateway.ErrNotFound)

	assert.Equal(t, []string{ref.Path(), ref.Path(), ref.Path()}, feed.paths)
}

func TestStoreDeniesOtherUsers(t *testing.T) {
	s, _ := newTestStore(t)
	owner := "owner-" + uuid.NewString()
	ref := docref.Collection(owner, "projects").Doc("p1")
	require.NoError(t, s.Set(as(owner), ref, json.RawMessage(`{"name":"Tower"}`)))

	intruder := as("intruder-" + uuid.NewString())

	_, err := s.Get(intruder, ref)
	assert.ErrorIs(t, err, gateway.ErrPermissionDenied)

	err = s.Update(intruder, ref, func(map[string]json.RawMessage) error { return nil })
	assert.ErrorIs(t, err, gateway.ErrPermissionDenied)

	err = s.Set(intruder, ref, json.RawMessage(`{"name":"mine now"}`))
	assert.ErrorIs(t, err, gateway.ErrPermissionDenied)

	err = s.Delete(intruder, ref)
	assert.ErrorIs(t, err, gateway.ErrPermissionDenied)

	_, err = s.List(intruder, ref.Parent())
	assert.ErrorIs(t, err, gateway.ErrPermissionDenied)

	doc, err := s.Get(as(owner), ref)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Tower"}`, string(doc.Data))
}

func TestStoreAnonymousIsDenied(t *testing.T) {
	s, _ := newTestStore(t)
	ref := docref.Collection("someone", "projects").Doc("p1")
	err := s.Set(context.Background(), ref, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, gateway.ErrPermissionDenied)
}
