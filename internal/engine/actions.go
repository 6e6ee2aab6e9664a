package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"caseflow/internal/domain"
	"caseflow/internal/engine/auth"
	"caseflow/internal/events"
	"caseflow/internal/policy"
	"caseflow/internal/repo"
)

// RecordActionOptions describe an action performed by Actor on a stage.
type RecordActionOptions struct {
	StageID                    string `validate:"required"`
	ActionType                 string `validate:"required"`
	ActionName                 string
	ResponsibleForValidationID string
	ActionData                 json.RawMessage
	Description                string
	// IdempotencyKey makes retries return the action recorded by the first call.
	IdempotencyKey string
	// ExpectedStage rejects the call when the stage moved since the caller read it.
	ExpectedStage domain.Stage
	Actor         domain.Actor `validate:"required"`
}

// ActionOutcome is the result of recording or resolving an action.
type ActionOutcome struct {
	Action   domain.PipelineAction `json:"action"`
	Stage    domain.PipelineStage  `json:"stage"`
	Advanced bool                  `json:"advanced"`
	Replayed bool                  `json:"replayed,omitempty"`
}

// RecordAction appends an action to a stage's log. Actions without a validation role are completed
// on the spot and may move the stage in the same transaction.
func (e Engine) RecordAction(ctx context.Context, opts RecordActionOptions) (out ActionOutcome, err error) {
	ctx, span := tracer.Start(ctx, "engine.RecordAction", trace.WithAttributes(
		attribute.String("stage_id", opts.StageID),
		attribute.String("action_type", opts.ActionType),
		attribute.String("actor_role", string(opts.Actor.Role)),
	))
	defer func() { err = e.finish(span, "record_action", err) }()

	if err := validateOptions("record_action", opts); err != nil {
		return ActionOutcome{}, err
	}
	if len(opts.ActionData) > 0 && !json.Valid(opts.ActionData) {
		return ActionOutcome{}, &domain.PipelineError{Kind: domain.ErrInvalidInput, Op: "record_action", StageID: opts.StageID, Detail: "action_data must be valid JSON"}
	}
	if opts.ExpectedStage != "" && !opts.ExpectedStage.Valid() {
		return ActionOutcome{}, &domain.PipelineError{Kind: domain.ErrInvalidInput, Op: "record_action", StageID: opts.StageID, Detail: "unknown expected_stage " + string(opts.ExpectedStage)}
	}
	at, err := e.Registry.Get(opts.ActionType)
	if err != nil {
		return ActionOutcome{}, err
	}

	err = e.inStageTx(ctx, "record_action", opts.StageID, func(tx *sql.Tx, st *domain.PipelineStage) error {
		if opts.IdempotencyKey != "" {
			prev, err := e.Repo.GetActionByIdempotencyKey(ctx, tx, st.ID, opts.IdempotencyKey)
			if err == nil {
				out = ActionOutcome{Action: prev, Stage: *st, Replayed: true}
				return nil
			}
			if !errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}
		if !st.IsActive {
			return inactive("record_action", *st)
		}
		if opts.ExpectedStage != "" && opts.ExpectedStage != st.CurrentStage {
			return &domain.PipelineError{Kind: domain.ErrInvalidState, Op: "record_action", StageID: st.ID, ActionType: at.Code,
				Stage: st.CurrentStage, TargetStage: opts.ExpectedStage, Detail: "stage moved since it was read"}
		}
		if !at.IsActive {
			return &domain.PipelineError{Kind: domain.ErrInvalidState, Op: "record_action", StageID: st.ID, ActionType: at.Code, Detail: "action type is inactive"}
		}
		if !auth.RoleSatisfies(at.RequiredRole, opts.Actor.Role) {
			return &domain.PipelineError{Kind: domain.ErrForbidden, Op: "record_action", StageID: st.ID, ActionType: at.Code,
				Role: opts.Actor.Role, RequiredRole: at.RequiredRole}
		}
		status := domain.StatusCompleted
		if at.RequiresValidation() {
			status = domain.StatusPendingValidation
			if opts.ResponsibleForValidationID == "" {
				return &domain.PipelineError{Kind: domain.ErrInvalidInput, Op: "record_action", StageID: st.ID, ActionType: at.Code,
					Detail: "responsible_for_validation_id is required for actions that need validation"}
			}
		}
		seq, err := e.Repo.NextActionSeq(ctx, tx, st.ID)
		if err != nil {
			return err
		}
		now := e.now()
		ts := e.nowString()
		a := domain.PipelineAction{
			ID:                         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
			PipelineStageID:            st.ID,
			Seq:                        seq,
			Stage:                      st.CurrentStage,
			StageSeq:                   st.StageSeq,
			ActionType:                 at.Code,
			ActionName:                 opts.ActionName,
			PerformedByID:              opts.Actor.ID,
			ResponsibleForValidationID: optionalString(opts.ResponsibleForValidationID),
			Status:                     status,
			ActionData:                 opts.ActionData,
			Description:                opts.Description,
			IdempotencyKey:             optionalString(opts.IdempotencyKey),
			CreatedAt:                  ts,
			UpdatedAt:                  ts,
		}
		if a.ActionName == "" {
			a.ActionName = at.DisplayName
		}
		if err := e.Repo.InsertAction(ctx, tx, a); err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		if err := e.appendEvent(ctx, tx, events.ActionRecorded, st.ID, events.EntityAction, a.ID, opts.Actor.ID, events.EventPayload{
			"action_type": a.ActionType,
			"status":      a.Status,
			"stage":       a.Stage,
			"stage_seq":   a.StageSeq,
		}); err != nil {
			return err
		}
		advanced, err := e.applyTransition(ctx, tx, st, a, opts.Actor.ID)
		if err != nil {
			return err
		}
		if err := e.refreshReminder(ctx, tx, st, opts.Actor.ID, advanced); err != nil {
			return err
		}
		updated, err := e.Repo.GetStage(ctx, tx, st.ID)
		if err != nil {
			return err
		}
		out = ActionOutcome{Action: a, Stage: updated, Advanced: advanced}
		return nil
	})
	if err != nil {
		return ActionOutcome{}, err
	}
	if !out.Replayed {
		e.logger().Info("action recorded",
			zap.String("action_id", out.Action.ID),
			zap.String("stage_id", out.Action.PipelineStageID),
			zap.String("action_type", out.Action.ActionType),
			zap.String("status", string(out.Action.Status)),
			zap.Bool("advanced", out.Advanced))
	}
	return out, nil
}

type ResolveActionOptions struct {
	ActionID string              `validate:"required"`
	Outcome  domain.ActionStatus `validate:"required,oneof=validated rejected"`
	Notes    string
	Actor    domain.Actor `validate:"required"`
}

// ResolveAction validates or rejects a pending action. Exactly one call succeeds per action;
// later calls fail with InvalidState.
func (e Engine) ResolveAction(ctx context.Context, opts ResolveActionOptions) (out ActionOutcome, err error) {
	ctx, span := tracer.Start(ctx, "engine.ResolveAction", trace.WithAttributes(
		attribute.String("action_id", opts.ActionID),
		attribute.String("outcome", string(opts.Outcome)),
	))
	defer func() { err = e.finish(span, "resolve_action", err) }()

	if err := validateOptions("resolve_action", opts); err != nil {
		return ActionOutcome{}, err
	}
	a, err := e.GetAction(ctx, opts.ActionID)
	if err != nil {
		return ActionOutcome{}, err
	}
	required := domain.RoleAdmin
	if at, err := e.Registry.Get(a.ActionType); err == nil && at.RequiresValidation() {
		required = *at.ValidationRole
	}

	err = e.inStageTx(ctx, "resolve_action", a.PipelineStageID, func(tx *sql.Tx, st *domain.PipelineStage) error {
		if !st.IsActive {
			return inactive("resolve_action", *st)
		}
		cur, err := e.Repo.GetAction(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		if cur.Status != domain.StatusPendingValidation {
			return notPending(cur)
		}
		if !auth.RoleSatisfies(required, opts.Actor.Role) {
			return &domain.PipelineError{Kind: domain.ErrForbidden, Op: "resolve_action", StageID: st.ID, ActionID: cur.ID,
				ActionType: cur.ActionType, Role: opts.Actor.Role, RequiredRole: required}
		}
		ok, err := e.Repo.ResolveAction(ctx, tx, cur.ID, opts.Outcome, opts.Actor.ID, optionalString(opts.Notes), e.nowString())
		if err != nil {
			return fmt.Errorf("resolve action: %w", err)
		}
		if !ok {
			return notPending(cur)
		}
		if err := e.appendEvent(ctx, tx, events.ActionResolved, st.ID, events.EntityAction, cur.ID, opts.Actor.ID, events.EventPayload{
			"action_type": cur.ActionType,
			"outcome":     opts.Outcome,
		}); err != nil {
			return err
		}
		resolved, err := e.Repo.GetAction(ctx, tx, cur.ID)
		if err != nil {
			return err
		}
		advanced, err := e.applyTransition(ctx, tx, st, resolved, opts.Actor.ID)
		if err != nil {
			return err
		}
		if err := e.refreshReminder(ctx, tx, st, opts.Actor.ID, advanced); err != nil {
			return err
		}
		updated, err := e.Repo.GetStage(ctx, tx, st.ID)
		if err != nil {
			return err
		}
		out = ActionOutcome{Action: resolved, Stage: updated, Advanced: advanced}
		return nil
	})
	if err != nil {
		return ActionOutcome{}, err
	}
	e.logger().Info("action resolved",
		zap.String("action_id", out.Action.ID),
		zap.String("outcome", string(opts.Outcome)),
		zap.String("resolver", opts.Actor.ID),
		zap.Bool("advanced", out.Advanced))
	return out, nil
}

func notPending(a domain.PipelineAction) error {
	return &domain.PipelineError{Kind: domain.ErrInvalidState, Op: "resolve_action", StageID: a.PipelineStageID, ActionID: a.ID,
		ActionType: a.ActionType, Detail: fmt.Sprintf("action is %s, not pending_validation", a.Status)}
}

func (e Engine) GetAction(ctx context.Context, id string) (domain.PipelineAction, error) {
	a, err := e.Repo.GetAction(ctx, e.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.PipelineAction{}, &domain.PipelineError{Kind: domain.ErrNotFound, Op: "get_action", ActionID: id}
	}
	return a, err
}

// ListActions returns the full log of a stage in append order.
func (e Engine) ListActions(ctx context.Context, stageID string) ([]domain.PipelineAction, error) {
	page, err := e.ListActionsPage(ctx, ActionPageOptions{StageID: stageID})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

type ActionPageOptions struct {
	StageID string `validate:"required"`
	Status  domain.ActionStatus
	Skip    int `validate:"gte=0"`
	Limit   int `validate:"gte=0,lte=500"`
}

type ActionPage struct {
	Items []domain.PipelineAction `json:"items"`
	Total int                     `json:"total"`
	Skip  int                     `json:"skip"`
	Limit int                     `json:"limit"`
}

func (e Engine) ListActionsPage(ctx context.Context, opts ActionPageOptions) (ActionPage, error) {
	if err := validateOptions("list_actions", opts); err != nil {
		return ActionPage{}, err
	}
	if opts.Status != "" && !opts.Status.Resolved() && opts.Status != domain.StatusPendingValidation {
		return ActionPage{}, &domain.PipelineError{Kind: domain.ErrInvalidInput, Op: "list_actions", StageID: opts.StageID, Detail: "unknown status " + string(opts.Status)}
	}
	if _, err := e.GetStageByID(ctx, opts.StageID); err != nil {
		return ActionPage{}, err
	}
	f := repo.ActionFilters{StageID: opts.StageID, Status: string(opts.Status), Offset: opts.Skip, Limit: opts.Limit}
	items, err := e.Repo.ListActions(ctx, e.DB, f)
	if err != nil {
		return ActionPage{}, err
	}
	total, err := e.Repo.CountActions(ctx, e.DB, f)
	if err != nil {
		return ActionPage{}, err
	}
	return ActionPage{Items: items, Total: total, Skip: opts.Skip, Limit: opts.Limit}, nil
}

// applyTransition moves the stage when a succeeded action of the current visit matches the
// transition table. Actions from earlier visits never move the stage.
func (e Engine) applyTransition(ctx context.Context, tx *sql.Tx, st *domain.PipelineStage, a domain.PipelineAction, actorID string) (bool, error) {
	if !a.Status.Succeeded() || a.StageSeq != st.StageSeq || a.Stage != st.CurrentStage {
		return false, nil
	}
	to, ok := policy.NextStage(st.CurrentStage, a.ActionType)
	if !ok || to == st.CurrentStage {
		return false, nil
	}
	if err := e.move(ctx, tx, st, to, e.provenance(a), actorID, a.ID); err != nil {
		return false, err
	}
	return true, nil
}

// provenance stamps the milestone fields of the transition driven by a.
func (e Engine) provenance(a domain.PipelineAction) domain.Provenance {
	now := e.nowString()
	performer := a.PerformedByID
	switch a.ActionType {
	case policy.ActionElevateToLawyer:
		return domain.Provenance{CreatedByAgentID: &performer}
	case policy.ActionApproveTramite:
		return domain.Provenance{ValidatedByLawyerID: &performer, ValidatedAt: &now}
	case policy.ActionGenerateContract:
		return domain.Provenance{ContractGeneratedByID: &performer, ContractGeneratedAt: &now}
	case policy.ActionWaitSignaturePayment:
		// hiring_code_id is the one action_data key the pipeline reads.
		var data struct {
			HiringCodeID string `json:"hiring_code_id"`
		}
		if len(a.ActionData) > 0 && json.Unmarshal(a.ActionData, &data) == nil && data.HiringCodeID != "" {
			return domain.Provenance{HiringCodeID: &data.HiringCodeID}
		}
	}
	return domain.Provenance{}
}

// move changes the current stage and opens a new visit.
func (e Engine) move(ctx context.Context, tx *sql.Tx, st *domain.PipelineStage, to domain.Stage, prov domain.Provenance, actorID, actionID string) error {
	from := st.CurrentStage
	seq := st.StageSeq + 1
	if err := e.Repo.MoveStage(ctx, tx, st.ID, to, seq, prov, e.nowString()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return inactive("advance_stage", *st)
		}
		return fmt.Errorf("move stage: %w", err)
	}
	payload := events.EventPayload{"from": from, "to": to, "stage_seq": seq}
	if actionID != "" {
		payload["action_id"] = actionID
	}
	if !prov.Empty() {
		payload["provenance"] = prov
	}
	if err := e.appendEvent(ctx, tx, events.StageAdvanced, st.ID, events.EntityStage, st.ID, actorID, payload); err != nil {
		return err
	}
	st.CurrentStage = to
	st.StageSeq = seq
	e.logger().Info("stage advanced",
		zap.String("stage_id", st.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("stage_seq", seq))
	return nil
}

// refreshReminder rewrites the next action when the work changed it: the stage moved, the derived
// type differs, or a pending validation is not yet described by the stored reminder. Manual
// assignments survive everything else. A move starts the new visit with a fresh reminder.
func (e Engine) refreshReminder(ctx context.Context, tx *sql.Tx, st *domain.PipelineStage, actorID string, moved bool) error {
	actions, err := e.Repo.ListActions(ctx, tx, repo.ActionFilters{StageID: st.ID})
	if err != nil {
		return err
	}
	next := policy.Reminder(e.Registry.List(), *st, actions, e.now())
	if !moved && !reminderChanged(st.NextAction, next) {
		return nil
	}
	if !moved && next.Type != nil && next.ResponsibleID == nil {
		next.ResponsibleID = st.NextAction.ResponsibleID
	}
	if err := e.Repo.SetNextAction(ctx, tx, st.ID, next, e.nowString()); err != nil {
		return err
	}
	st.NextAction = next
	return e.appendEvent(ctx, tx, events.StageNextActionSet, st.ID, events.EntityStage, st.ID, actorID, events.EventPayload{
		"next_action": next,
		"source":      "derived",
	})
}

// reminderChanged reports whether derived describes different work than stored. A derived reminder
// with a responsible id is a pending validation.
func reminderChanged(stored, derived domain.NextAction) bool {
	if !sameString(stored.Type, derived.Type) {
		return true
	}
	return derived.ResponsibleID != nil && !sameString(stored.Description, derived.Description)
}
