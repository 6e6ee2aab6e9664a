package repo_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
)

const now = "2026-03-02T10:00:00Z"

// forEachStore runs fn against SQLite and, when CF_TEST_POSTGRES_DSN is set, PostgreSQL.
func forEachStore(t *testing.T, fn func(t *testing.T, r repo.Repo)) {
	t.Run("sqlite", func(t *testing.T) {
		conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		_, err = migrate.Migrate(conn, dialect)
		require.NoError(t, err)
		fn(t, repo.Repo{DB: conn, Dialect: dialect})
	})
	t.Run("postgres", func(t *testing.T) {
		dsn := os.Getenv("CF_TEST_POSTGRES_DSN")
		if dsn == "" {
			t.Skip("CF_TEST_POSTGRES_DSN not set")
		}
		conn, dialect, err := db.Open(db.Config{Driver: "postgres", DSN: dsn})
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		_, err = migrate.Migrate(conn, dialect)
		require.NoError(t, err)
		_, err = conn.Exec(`TRUNCATE events, pipeline_actions, pipeline_stages, api_keys, actors CASCADE`)
		require.NoError(t, err)
		fn(t, repo.Repo{DB: conn, Dialect: dialect})
	})
}

func strPtr(s string) *string { return &s }

func newStage(id, entityID string) domain.PipelineStage {
	return domain.PipelineStage{
		ID:           id,
		EntityID:     entityID,
		EntityType:   domain.EntityContact,
		CurrentStage: domain.StageAgentInitial,
		NextAction:   domain.NextAction{Type: strPtr("elevate_to_lawyer"), DueDate: strPtr("2026-03-03T10:00:00Z")},
		IsActive:     true,
		StageSeq:     1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestStageLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repo.Repo) {
		ctx := context.Background()
		st := newStage("s1", "c1")
		st.SituacionMigrante = []byte(`{"country":"VE"}`)
		require.NoError(t, r.InsertStage(ctx, r.DB, st))

		err := r.InsertStage(ctx, r.DB, newStage("s2", "c1"))
		require.Error(t, err)
		assert.True(t, db.IsUniqueViolation(err))

		got, err := r.GetStageForEntity(ctx, r.DB, "c1", domain.EntityContact)
		require.NoError(t, err)
		assert.Equal(t, "s1", got.ID)
		assert.JSONEq(t, `{"country":"VE"}`, string(got.SituacionMigrante))
		assert.Equal(t, "elevate_to_lawyer", *got.NextAction.Type)

		require.NoError(t, r.LockStage(ctx, r.DB, "s1"))
		assert.ErrorIs(t, r.LockStage(ctx, r.DB, "missing"), repo.ErrNotFound)

		require.NoError(t, r.MoveStage(ctx, r.DB, "s1", domain.StageLawyerValidation, 2,
			domain.Provenance{CreatedByAgentID: strPtr("agent-1")}, now))
		require.NoError(t, r.MoveStage(ctx, r.DB, "s1", domain.StageAgentInitial, 3,
			domain.Provenance{CreatedByAgentID: strPtr("agent-2")}, now))
		got, err = r.GetStage(ctx, r.DB, "s1")
		require.NoError(t, err)
		assert.Equal(t, domain.StageAgentInitial, got.CurrentStage)
		assert.Equal(t, 3, got.StageSeq)
		assert.Equal(t, "agent-1", *got.CreatedByAgentID)
		assert.Equal(t, int64(1), got.Version)

		require.NoError(t, r.DeactivateStage(ctx, r.DB, "s1", domain.CloseLost, now))
		assert.ErrorIs(t, r.DeactivateStage(ctx, r.DB, "s1", domain.CloseWon, now), repo.ErrNotFound)
		assert.ErrorIs(t, r.MoveStage(ctx, r.DB, "s1", domain.StageLawyerValidation, 4, domain.Provenance{}, now), repo.ErrNotFound)

		got, err = r.GetStageForEntity(ctx, r.DB, "c1", domain.EntityContact)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		assert.Nil(t, got.NextAction.Type)
		require.NotNil(t, got.ClosedReason)
		assert.Equal(t, domain.CloseLost, *got.ClosedReason)

		// a closed pipeline frees the entity for a new one
		require.NoError(t, r.InsertStage(ctx, r.DB, newStage("s3", "c1")))
		got, err = r.GetStageForEntity(ctx, r.DB, "c1", domain.EntityContact)
		require.NoError(t, err)
		assert.Equal(t, "s3", got.ID)
	})
}

func TestResolveActionWinsOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repo.Repo) {
		ctx := context.Background()
		require.NoError(t, r.InsertStage(ctx, r.DB, newStage("s1", "c1")))
		seq, err := r.NextActionSeq(ctx, r.DB, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, seq)

		require.NoError(t, r.InsertAction(ctx, r.DB, domain.PipelineAction{
			ID:                         "a1",
			PipelineStageID:            "s1",
			Seq:                        seq,
			Stage:                      domain.StageLawyerValidation,
			StageSeq:                   2,
			ActionType:                 "validate_pili_analysis",
			PerformedByID:              "lawyer-1",
			ResponsibleForValidationID: strPtr("lawyer-2"),
			Status:                     domain.StatusPendingValidation,
			IdempotencyKey:             strPtr("k1"),
			CreatedAt:                  now,
			UpdatedAt:                  now,
		}))
		seq, err = r.NextActionSeq(ctx, r.DB, "s1")
		require.NoError(t, err)
		assert.Equal(t, 2, seq)

		ok, err := r.ResolveAction(ctx, r.DB, "a1", domain.StatusValidated, "lawyer-2", strPtr("fine"), now)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = r.ResolveAction(ctx, r.DB, "a1", domain.StatusRejected, "lawyer-2", nil, now)
		require.NoError(t, err)
		assert.False(t, ok)

		a, err := r.GetActionByIdempotencyKey(ctx, r.DB, "s1", "k1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusValidated, a.Status)
		assert.Equal(t, "lawyer-2", *a.ValidatedByID)
		assert.Equal(t, "fine", *a.ValidationNotes)

		n, err := r.CountActions(ctx, r.DB, repo.ActionFilters{StageID: "s1", Status: string(domain.StatusPendingValidation)})
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = r.GetAction(ctx, r.DB, "missing")
		assert.ErrorIs(t, err, repo.ErrNotFound)
	})
}

func TestEventsAfter(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repo.Repo) {
		ctx := context.Background()
		w := events.Writer{Dialect: r.Dialect}
		latest, err := r.LatestEventID(ctx)
		require.NoError(t, err)
		assert.Zero(t, latest)

		require.NoError(t, r.InsertStage(ctx, r.DB, newStage("s1", "c1")))
		for _, typ := range []string{events.StageCreated, events.ActionRecorded, events.StageAdvanced} {
			require.NoError(t, w.Append(ctx, r.DB, typ, "s1", events.EntityStage, "s1", "agent-1", events.EventPayload{"n": 1}))
		}
		all, err := r.EventsAfter(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, events.StageCreated, all[0].Type)

		rest, err := r.EventsAfter(ctx, 10, all[0].ID)
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, events.ActionRecorded, rest[0].Type)

		latest, err = r.LatestEventID(ctx)
		require.NoError(t, err)
		assert.Equal(t, all[2].ID, latest)

		newest, err := r.LatestEvents(ctx, r.DB, repo.EventFilters{StageID: "s1", Limit: 1})
		require.NoError(t, err)
		require.Len(t, newest, 1)
		assert.Equal(t, events.StageAdvanced, newest[0].Type)
	})
}

func TestListActionsOffsetWithoutLimit(t *testing.T) {
	forEachStore(t, func(t *testing.T, r repo.Repo) {
		ctx := context.Background()
		require.NoError(t, r.InsertStage(ctx, r.DB, newStage("s1", "c1")))
		for i, id := range []string{"a1", "a2", "a3"} {
			require.NoError(t, r.InsertAction(ctx, r.DB, domain.PipelineAction{
				ID:              id,
				PipelineStageID: "s1",
				Seq:             i + 1,
				Stage:           domain.StageAgentInitial,
				StageSeq:        1,
				ActionType:      "make_first_call",
				PerformedByID:   "agent-1",
				Status:          domain.StatusCompleted,
				CreatedAt:       now,
				UpdatedAt:       now,
			}))
		}

		rest, err := r.ListActions(ctx, r.DB, repo.ActionFilters{StageID: "s1", Offset: 1})
		require.NoError(t, err)
		require.Len(t, rest, 2)
		assert.Equal(t, "a2", rest[0].ID)

		page, err := r.ListActions(ctx, r.DB, repo.ActionFilters{StageID: "s1", Offset: 1, Limit: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "a2", page[0].ID)
	})
}
