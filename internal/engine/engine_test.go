package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/events"
	"caseflow/internal/migrate"
	"caseflow/internal/registry"
	"caseflow/internal/repo"
)

var (
	agent  = domain.Actor{ID: "agent-1", Role: domain.RoleAgent}
	lawyer = domain.Actor{ID: "lawyer-1", Role: domain.RoleLawyer}
	admin  = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn, dialect)
	require.NoError(t, err)
	reg, err := registry.FromConfig(nil)
	require.NoError(t, err)
	eng := engine.New(conn, dialect, reg, zaptest.NewLogger(t))
	eng.Now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) create(t *testing.T, entityID string) domain.PipelineStage {
	t.Helper()
	st, err := env.Engine.CreateStage(env.Ctx, engine.CreateStageOptions{
		EntityID:   entityID,
		EntityType: domain.EntityContact,
		Actor:      agent,
	})
	require.NoError(t, err)
	return st
}

func (env testEnv) record(t *testing.T, stageID, code string, actor domain.Actor) engine.ActionOutcome {
	t.Helper()
	out, err := env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{StageID: stageID, ActionType: code, Actor: actor})
	require.NoError(t, err)
	return out
}

func (env testEnv) offered(t *testing.T, entityID string, role domain.Role) []string {
	t.Helper()
	offered, _, err := env.Engine.NextActions(env.Ctx, entityID, domain.EntityContact, role)
	require.NoError(t, err)
	out := []string{}
	for _, o := range offered {
		out = append(out, o.ActionCode)
	}
	return out
}

func (env testEnv) countEvents(t *testing.T, stageID, evtType string) int {
	t.Helper()
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, env.Engine.DB, repo.EventFilters{StageID: stageID, Type: evtType, Limit: 500})
	require.NoError(t, err)
	return len(evts)
}

func assertKind(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, kind), "expected %v, got %v", kind, err)
}

func TestCreateStageStartsInAgentInitial(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-1")

	assert.Equal(t, domain.StageAgentInitial, st.CurrentStage)
	assert.True(t, st.IsActive)
	assert.Equal(t, 1, st.StageSeq)
	require.NotNil(t, st.CreatedByAgentID)
	assert.Equal(t, agent.ID, *st.CreatedByAgentID)
	require.NotNil(t, st.NextAction.Type)
	assert.Equal(t, "elevate_to_lawyer", *st.NextAction.Type)
	require.NotNil(t, st.NextAction.DueDate)
	assert.Equal(t, "2026-03-03T10:00:00Z", *st.NextAction.DueDate)

	actions, err := env.Engine.ListActions(env.Ctx, st.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.Equal(t, 1, env.countEvents(t, st.ID, events.StageCreated))
}

func TestCreateStageRejectsSecondActivePipeline(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t, "contact-1")

	_, err := env.Engine.CreateStage(env.Ctx, engine.CreateStageOptions{EntityID: "contact-1", EntityType: domain.EntityContact, Actor: agent})
	assertKind(t, err, domain.ErrAlreadyExists)

	_, err = env.Engine.DeactivateStage(env.Ctx, engine.DeactivateStageOptions{StageID: first.ID, Reason: domain.CloseLost, Actor: admin})
	require.NoError(t, err)
	second := env.create(t, "contact-1")
	assert.NotEqual(t, first.ID, second.ID)

	got, err := env.Engine.GetStage(env.Ctx, "contact-1", domain.EntityContact)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestGetStageFallsBackToLatestClosedPipeline(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "lead-x")
	_, err := env.Engine.DeactivateStage(env.Ctx, engine.DeactivateStageOptions{StageID: st.ID, Reason: domain.CloseWon, Actor: admin})
	require.NoError(t, err)

	got, err := env.Engine.GetStage(env.Ctx, "lead-x", domain.EntityContact)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.ClosedReason)
	assert.Equal(t, domain.CloseWon, *got.ClosedReason)
	assert.Nil(t, got.NextAction.Type)

	_, err = env.Engine.GetStage(env.Ctx, "missing", domain.EntityContact)
	assertKind(t, err, domain.ErrNotFound)
}

func TestHappyPathToExpediente(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-1")

	assert.Equal(t, []string{"elevate_to_lawyer"}, env.offered(t, "contact-1", domain.RoleAgent))

	out := env.record(t, st.ID, "elevate_to_lawyer", agent)
	assert.True(t, out.Advanced)
	assert.Equal(t, domain.StatusCompleted, out.Action.Status)
	assert.Equal(t, domain.StageLawyerValidation, out.Stage.CurrentStage)
	assert.Equal(t, 2, out.Stage.StageSeq)
	assert.Equal(t, []string{"validate_pili_analysis"}, env.offered(t, "contact-1", domain.RoleLawyer))

	pending, err := env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{
		StageID:                    st.ID,
		ActionType:                 "validate_pili_analysis",
		ResponsibleForValidationID: lawyer.ID,
		Actor:                      lawyer,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingValidation, pending.Action.Status)
	assert.False(t, pending.Advanced)
	assert.Empty(t, env.offered(t, "contact-1", domain.RoleLawyer))
	assert.Empty(t, env.offered(t, "contact-1", domain.RoleAdmin))
	require.NotNil(t, pending.Stage.NextAction.ResponsibleID)
	assert.Equal(t, lawyer.ID, *pending.Stage.NextAction.ResponsibleID)
	assert.Equal(t, "validate_pili_analysis", *pending.Stage.NextAction.Type)

	resolved, err := env.Engine.ResolveAction(env.Ctx, engine.ResolveActionOptions{ActionID: pending.Action.ID, Outcome: domain.StatusValidated, Notes: "ok", Actor: lawyer})
	require.NoError(t, err)
	assert.False(t, resolved.Advanced)
	assert.Equal(t, domain.StatusValidated, resolved.Action.Status)
	require.NotNil(t, resolved.Action.ValidatedByID)
	assert.Equal(t, lawyer.ID, *resolved.Action.ValidatedByID)
	assert.Equal(t, []string{"approve_tramite", "reject_tramite"}, env.offered(t, "contact-1", domain.RoleLawyer))

	out = env.record(t, st.ID, "approve_tramite", lawyer)
	assert.True(t, out.Advanced)
	assert.Equal(t, domain.StageAdminContract, out.Stage.CurrentStage)
	require.NotNil(t, out.Stage.ValidatedByLawyerID)
	assert.Equal(t, lawyer.ID, *out.Stage.ValidatedByLawyerID)
	require.NotNil(t, out.Stage.ValidatedAt)

	out = env.record(t, st.ID, "generate_contract", admin)
	assert.Equal(t, domain.StageClientSignature, out.Stage.CurrentStage)
	require.NotNil(t, out.Stage.ContractGeneratedByID)
	assert.Equal(t, admin.ID, *out.Stage.ContractGeneratedByID)

	out, err = env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{
		StageID:    st.ID,
		ActionType: "wait_signature_payment",
		ActionData: json.RawMessage(`{"hiring_code_id":"HC-42"}`),
		Actor:      admin,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StageExpedienteCreated, out.Stage.CurrentStage)
	require.NotNil(t, out.Stage.HiringCodeID)
	assert.Equal(t, "HC-42", *out.Stage.HiringCodeID)

	out = env.record(t, st.ID, "create_expediente", admin)
	assert.False(t, out.Advanced)
	assert.Equal(t, domain.StageExpedienteCreated, out.Stage.CurrentStage)
	assert.Nil(t, out.Stage.NextAction.Type)

	assert.Equal(t, 4, env.countEvents(t, st.ID, events.StageAdvanced))
	status, err := env.Engine.Status(env.Ctx, "contact-1", domain.EntityContact)
	require.NoError(t, err)
	assert.Equal(t, 6, status.ActionsCount)
	assert.Equal(t, 0, status.PendingActionsCount)
}

func TestRejectTramiteStartsFreshAgentVisit(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-2")
	env.record(t, st.ID, "elevate_to_lawyer", agent)
	pending, err := env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{
		StageID: st.ID, ActionType: "validate_pili_analysis", ResponsibleForValidationID: lawyer.ID, Actor: lawyer,
	})
	require.NoError(t, err)
	_, err = env.Engine.ResolveAction(env.Ctx, engine.ResolveActionOptions{ActionID: pending.Action.ID, Outcome: domain.StatusValidated, Actor: lawyer})
	require.NoError(t, err)

	out := env.record(t, st.ID, "reject_tramite", lawyer)
	assert.True(t, out.Advanced)
	assert.Equal(t, domain.StageAgentInitial, out.Stage.CurrentStage)
	assert.Equal(t, 3, out.Stage.StageSeq)

	// The completed elevation from the first visit no longer unlocks anything.
	assert.Equal(t, []string{"elevate_to_lawyer"}, env.offered(t, "contact-2", domain.RoleAgent))

	out = env.record(t, st.ID, "elevate_to_lawyer", agent)
	assert.Equal(t, domain.StageLawyerValidation, out.Stage.CurrentStage)
	assert.Equal(t, []string{"validate_pili_analysis"}, env.offered(t, "contact-2", domain.RoleLawyer))
}

func TestRejectedAnalysisLeavesLawyerWithNothing(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-3")
	env.record(t, st.ID, "elevate_to_lawyer", agent)
	pending, err := env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{
		StageID: st.ID, ActionType: "validate_pili_analysis", ResponsibleForValidationID: lawyer.ID, Actor: lawyer,
	})
	require.NoError(t, err)

	out, err := env.Engine.ResolveAction(env.Ctx, engine.ResolveActionOptions{ActionID: pending.Action.ID, Outcome: domain.StatusRejected, Actor: lawyer})
	require.NoError(t, err)
	assert.False(t, out.Advanced)
	assert.Equal(t, domain.StageLawyerValidation, out.Stage.CurrentStage)
	assert.Empty(t, env.offered(t, "contact-3", domain.RoleLawyer))

	back := env.record(t, st.ID, "reject_tramite", lawyer)
	assert.True(t, back.Advanced)
	assert.Equal(t, domain.StatusCompleted, back.Action.Status)
	assert.Equal(t, domain.StageAgentInitial, back.Stage.CurrentStage)
	assert.Equal(t, []string{"elevate_to_lawyer"}, env.offered(t, "contact-3", domain.RoleAgent))
}

func TestPendingValidationTakesOverReminder(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-13")
	assignee := "agent-7"
	_, err := env.Engine.UpdateNextAction(env.Ctx, engine.UpdateNextActionOptions{StageID: st.ID, ResponsibleID: &assignee, Actor: admin})
	require.NoError(t, err)

	out := env.record(t, st.ID, "elevate_to_lawyer", agent)
	require.NotNil(t, out.Stage.NextAction.Type)
	assert.Equal(t, "validate_pili_analysis", *out.Stage.NextAction.Type)
	assert.Nil(t, out.Stage.NextAction.ResponsibleID, "assignee of the previous stage is not carried over")

	pending, err := env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{
		StageID: st.ID, ActionType: "validate_pili_analysis", ResponsibleForValidationID: "lawyer-9", Actor: lawyer,
	})
	require.NoError(t, err)
	next := pending.Stage.NextAction
	require.NotNil(t, next.ResponsibleID)
	assert.Equal(t, "lawyer-9", *next.ResponsibleID)
	require.NotNil(t, next.DueDate)
	assert.Equal(t, "2026-03-04T10:00:00Z", *next.DueDate)
	require.NotNil(t, next.Description)
	assert.Contains(t, *next.Description, "awaiting lawyer validation")

	// a manual reassignment during the validation survives unrelated work
	other := "lawyer-1"
	_, err = env.Engine.UpdateNextAction(env.Ctx, engine.UpdateNextActionOptions{StageID: st.ID, ResponsibleID: &other, Actor: admin})
	require.NoError(t, err)
	out = env.record(t, st.ID, "general_follow_up", admin)
	require.NotNil(t, out.Stage.NextAction.ResponsibleID)
	assert.Equal(t, other, *out.Stage.NextAction.ResponsibleID)
}

func TestResolveActionExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-4")
	env.record(t, st.ID, "elevate_to_lawyer", agent)
	pending, err := env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{
		StageID: st.ID, ActionType: "validate_pili_analysis", ResponsibleForValidationID: lawyer.ID, Actor: lawyer,
	})
	require.NoError(t, err)

	_, err = env.Engine.ResolveAction(env.Ctx, engine.ResolveActionOptions{ActionID: pending.Action.ID, Outcome: domain.StatusValidated, Actor: agent})
	assertKind(t, err, domain.ErrForbidden)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.ResolveAction(env.Ctx, engine.ResolveActionOptions{ActionID: pending.Action.ID, Outcome: domain.StatusValidated, Actor: lawyer})
		}(i)
	}
	wg.Wait()
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assertKind(t, err, domain.ErrInvalidState)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, env.countEvents(t, st.ID, events.ActionResolved))

	// A resolved action reports InvalidState even to a caller lacking the role.
	_, err = env.Engine.ResolveAction(env.Ctx, engine.ResolveActionOptions{ActionID: pending.Action.ID, Outcome: domain.StatusRejected, Actor: agent})
	assertKind(t, err, domain.ErrInvalidState)
}

func TestConcurrentElevationsTransitionOnce(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-5")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{
				StageID:       st.ID,
				ActionType:    "elevate_to_lawyer",
				ExpectedStage: domain.StageAgentInitial,
				Actor:         agent,
			})
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			assertKind(t, err, domain.ErrInvalidState)
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, 1, env.countEvents(t, st.ID, events.StageAdvanced))
	got, err := env.Engine.GetStageByID(env.Ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StageLawyerValidation, got.CurrentStage)
	assert.Equal(t, 2, got.StageSeq)
}

func TestRecordActionChecks(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-6")

	_, err := env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{StageID: st.ID, ActionType: "generate_contract", Actor: agent})
	assertKind(t, err, domain.ErrForbidden)
	var perr *domain.PipelineError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, domain.RoleAdmin, perr.RequiredRole)

	_, err = env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{StageID: st.ID, ActionType: "no_such_type", Actor: agent})
	assertKind(t, err, domain.ErrNotFound)

	_, err = env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{StageID: "missing", ActionType: "make_first_call", Actor: agent})
	assertKind(t, err, domain.ErrNotFound)

	_, err = env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{StageID: st.ID, ActionType: "reactivate_opportunity", Actor: agent})
	assertKind(t, err, domain.ErrInvalidState)

	_, err = env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{StageID: st.ID, ActionType: "validate_pili_analysis", Actor: lawyer})
	assertKind(t, err, domain.ErrInvalidInput)

	_, err = env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{StageID: st.ID, ActionType: "make_first_call", ActionData: json.RawMessage(`{`), Actor: agent})
	assertKind(t, err, domain.ErrInvalidInput)

	_, err = env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{StageID: st.ID, ActionType: "make_first_call", ExpectedStage: domain.StageAdminContract, Actor: agent})
	assertKind(t, err, domain.ErrInvalidState)

	// Admin satisfies every required role.
	out := env.record(t, st.ID, "elevate_to_lawyer", admin)
	assert.True(t, out.Advanced)
}

func TestNonApplicableActionIsStoredButDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-7")

	out := env.record(t, st.ID, "generate_contract", admin)
	assert.False(t, out.Advanced)
	assert.Equal(t, domain.StageAgentInitial, out.Stage.CurrentStage)
	assert.Equal(t, domain.StatusCompleted, out.Action.Status)
	assert.Equal(t, []string{"elevate_to_lawyer"}, env.offered(t, "contact-7", domain.RoleAgent))
}

func TestIdempotentRecordReplays(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-8")
	opts := engine.RecordActionOptions{StageID: st.ID, ActionType: "make_first_call", IdempotencyKey: "call-1", Actor: agent}

	first, err := env.Engine.RecordAction(env.Ctx, opts)
	require.NoError(t, err)
	second, err := env.Engine.RecordAction(env.Ctx, opts)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Action.ID, second.Action.ID)
	page, err := env.Engine.ListActionsPage(env.Ctx, engine.ActionPageOptions{StageID: st.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
}

func TestDeactivatedStageRejectsMutations(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-9")
	_, err := env.Engine.DeactivateStage(env.Ctx, engine.DeactivateStageOptions{StageID: st.ID, Reason: domain.CloseCancelled, Actor: lawyer})
	assertKind(t, err, domain.ErrForbidden)
	_, err = env.Engine.DeactivateStage(env.Ctx, engine.DeactivateStageOptions{StageID: st.ID, Reason: domain.CloseCancelled, Actor: admin})
	require.NoError(t, err)

	_, err = env.Engine.RecordAction(env.Ctx, engine.RecordActionOptions{StageID: st.ID, ActionType: "make_first_call", Actor: agent})
	assertKind(t, err, domain.ErrInactive)
	_, err = env.Engine.AdvanceStage(env.Ctx, engine.AdvanceStageOptions{StageID: st.ID, To: domain.StageLawyerValidation, Actor: lawyer})
	assertKind(t, err, domain.ErrInactive)
	typ := "make_first_call"
	_, err = env.Engine.UpdateNextAction(env.Ctx, engine.UpdateNextActionOptions{StageID: st.ID, Type: &typ, Actor: agent})
	assertKind(t, err, domain.ErrInactive)
	_, err = env.Engine.DeactivateStage(env.Ctx, engine.DeactivateStageOptions{StageID: st.ID, Reason: domain.CloseLost, Actor: admin})
	assertKind(t, err, domain.ErrInactive)

	offered, _, err := env.Engine.NextActions(env.Ctx, "contact-9", domain.EntityContact, domain.RoleAdmin)
	require.NoError(t, err)
	assert.Empty(t, offered)
}

func TestAdvanceStage(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-10")

	_, err := env.Engine.AdvanceStage(env.Ctx, engine.AdvanceStageOptions{StageID: st.ID, To: domain.StageLawyerValidation, Actor: agent})
	assertKind(t, err, domain.ErrForbidden)

	_, err = env.Engine.AdvanceStage(env.Ctx, engine.AdvanceStageOptions{StageID: st.ID, To: domain.StageClientSignature, Actor: lawyer})
	assertKind(t, err, domain.ErrInvalidTransition)

	moved, err := env.Engine.AdvanceStage(env.Ctx, engine.AdvanceStageOptions{StageID: st.ID, To: domain.StageLawyerValidation, Actor: lawyer})
	require.NoError(t, err)
	assert.Equal(t, domain.StageLawyerValidation, moved.CurrentStage)
	assert.Equal(t, 2, moved.StageSeq)
	require.NotNil(t, moved.NextAction.Type)
	assert.Equal(t, "validate_pili_analysis", *moved.NextAction.Type)
}

func TestManualNextActionSurvivesUntilWorkChanges(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-11")
	assignee := "agent-9"
	due := "2026-03-10T09:00:00+01:00"

	updated, err := env.Engine.UpdateNextAction(env.Ctx, engine.UpdateNextActionOptions{StageID: st.ID, ResponsibleID: &assignee, DueDate: &due, Actor: admin})
	require.NoError(t, err)
	assert.Equal(t, assignee, *updated.NextAction.ResponsibleID)
	assert.Equal(t, "2026-03-10T08:00:00Z", *updated.NextAction.DueDate)
	assert.Equal(t, "elevate_to_lawyer", *updated.NextAction.Type)

	out := env.record(t, st.ID, "make_first_call", agent)
	assert.Equal(t, assignee, *out.Stage.NextAction.ResponsibleID)
	assert.Equal(t, "2026-03-10T08:00:00Z", *out.Stage.NextAction.DueDate)

	bad := "next tuesday"
	_, err = env.Engine.UpdateNextAction(env.Ctx, engine.UpdateNextActionOptions{StageID: st.ID, DueDate: &bad, Actor: admin})
	assertKind(t, err, domain.ErrInvalidInput)

	empty := ""
	cleared, err := env.Engine.UpdateNextAction(env.Ctx, engine.UpdateNextActionOptions{StageID: st.ID, ResponsibleID: &empty, Actor: admin})
	require.NoError(t, err)
	assert.Nil(t, cleared.NextAction.ResponsibleID)
	assert.NotNil(t, cleared.NextAction.Type)
}

func TestListActionsPaging(t *testing.T) {
	env := newTestEnv(t)
	st := env.create(t, "contact-12")
	for i := 0; i < 3; i++ {
		env.record(t, st.ID, "make_first_call", agent)
	}
	env.record(t, st.ID, "elevate_to_lawyer", agent)

	page, err := env.Engine.ListActionsPage(env.Ctx, engine.ActionPageOptions{StageID: st.ID, Skip: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Items[0].Seq)
	assert.Equal(t, 3, page.Items[1].Seq)

	all, err := env.Engine.ListActions(env.Ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "elevate_to_lawyer", all[3].ActionType)
	assert.Equal(t, domain.StageAgentInitial, all[3].Stage)

	_, err = env.Engine.ListActionsPage(env.Ctx, engine.ActionPageOptions{StageID: st.ID, Status: "done"})
	assertKind(t, err, domain.ErrInvalidInput)
	_, err = env.Engine.ListActions(env.Ctx, "missing")
	assertKind(t, err, domain.ErrNotFound)
}

func TestListStagesFilters(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, "contact-a")
	env.create(t, "contact-b")
	env.record(t, a.ID, "elevate_to_lawyer", agent)

	stages, err := env.Engine.ListStages(env.Ctx, repo.StageFilters{CurrentStage: string(domain.StageLawyerValidation)})
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, a.ID, stages[0].ID)

	overdue, err := env.Engine.ListStages(env.Ctx, repo.StageFilters{DueBefore: "2030-01-01T00:00:00Z"})
	require.NoError(t, err)
	assert.Len(t, overdue, 2)

	_, err = env.Engine.ListStages(env.Ctx, repo.StageFilters{CurrentStage: "nowhere"})
	assertKind(t, err, domain.ErrInvalidInput)
}
