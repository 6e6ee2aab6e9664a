package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
)

func TestRoleSatisfies(t *testing.T) {
	cases := []struct {
		required, actor domain.Role
		want            bool
	}{
		{domain.RoleAgent, domain.RoleAgent, true},
		{domain.RoleLawyer, domain.RoleAgent, false},
		{domain.RoleAgent, domain.RoleLawyer, false},
		{domain.RoleLawyer, domain.RoleAdmin, true},
		{domain.RoleAgent, domain.RoleAdmin, true},
		{"", domain.RoleAgent, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RoleSatisfies(tc.required, tc.actor), "%s as %s", tc.actor, tc.required)
	}
}

func TestRequire(t *testing.T) {
	require.NoError(t, Require("deactivate_stage", domain.RoleAdmin, domain.RoleAdmin))

	err := Require("deactivate_stage", domain.RoleAdmin, domain.RoleLawyer)
	require.ErrorIs(t, err, domain.ErrForbidden)
	var pe *domain.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.RoleAdmin, pe.RequiredRole)
	assert.Equal(t, domain.RoleLawyer, pe.Role)
	assert.Equal(t, "deactivate_stage", pe.Op)
}

func newService(t *testing.T) Service {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn, dialect)
	require.NoError(t, err)
	return Service{Repo: repo.Repo{DB: conn, Dialect: dialect}}
}

func TestResolveActor(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	require.NoError(t, s.Repo.UpsertActor(ctx, s.Repo.DB, domain.ActorRecord{ID: "lawyer-1", Role: domain.RoleLawyer, CreatedAt: "2026-03-02T10:00:00Z"}))

	actor, err := s.ResolveActor(ctx, " lawyer-1 ")
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{ID: "lawyer-1", Role: domain.RoleLawyer}, actor)

	_, err = s.ResolveActor(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = s.ResolveActor(ctx, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestResolveAPIKey(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	require.NoError(t, s.Repo.UpsertActor(ctx, s.Repo.DB, domain.ActorRecord{ID: "payments", Role: domain.RoleAdmin, CreatedAt: "2026-03-02T10:00:00Z"}))
	require.NoError(t, s.Repo.InsertAPIKey(ctx, s.Repo.DB, domain.APIKey{
		ID: "k1", ActorID: "payments", KeyHash: repo.HashAPIKey("raw-key"), CreatedAt: "2026-03-02T10:00:00Z",
	}))

	actor, err := s.ResolveAPIKey(ctx, "raw-key")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, actor.Role)
	assert.Equal(t, "payments", actor.ID)

	_, err = s.ResolveAPIKey(ctx, "other-key")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}
