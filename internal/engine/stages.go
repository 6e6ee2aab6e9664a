package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine/auth"
	"caseflow/internal/events"
	"caseflow/internal/policy"
	"caseflow/internal/repo"
)

// CreateStageOptions are parameters for entering an entity into the pipeline.
type CreateStageOptions struct {
	EntityID          string            `validate:"required"`
	EntityType        domain.EntityType `validate:"required,oneof=contact lead"`
	SituacionMigrante json.RawMessage
	CreatedByAgentID  string
	Notes             string
	Actor             domain.Actor
}

// CreateStage opens a pipeline for an entity in agent_initial with an empty log.
func (e Engine) CreateStage(ctx context.Context, opts CreateStageOptions) (st domain.PipelineStage, err error) {
	ctx, span := tracer.Start(ctx, "engine.CreateStage", trace.WithAttributes(
		attribute.String("entity_id", opts.EntityID),
		attribute.String("entity_type", string(opts.EntityType)),
	))
	defer func() { err = e.finish(span, "create_stage", err) }()

	if err := validateOptions("create_stage", opts); err != nil {
		return domain.PipelineStage{}, err
	}
	if len(opts.SituacionMigrante) > 0 && !json.Valid(opts.SituacionMigrante) {
		return domain.PipelineStage{}, &domain.PipelineError{Kind: domain.ErrInvalidInput, Op: "create_stage", Detail: "situacion_migrante must be valid JSON"}
	}
	createdBy := opts.CreatedByAgentID
	if createdBy == "" && opts.Actor.Role == domain.RoleAgent {
		createdBy = opts.Actor.ID
	}
	now := e.nowString()
	st = domain.PipelineStage{
		ID:                uuid.NewString(),
		EntityID:          opts.EntityID,
		EntityType:        opts.EntityType,
		CurrentStage:      domain.StageAgentInitial,
		SituacionMigrante: opts.SituacionMigrante,
		CreatedByAgentID:  optionalString(createdBy),
		Notes:             opts.Notes,
		IsActive:          true,
		StageSeq:          1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	st.NextAction = policy.Reminder(e.Registry.List(), st, nil, e.now())
	if st.NextAction.Type != nil {
		st.NextAction.ResponsibleID = st.CreatedByAgentID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PipelineStage{}, err
	}
	defer tx.Rollback()

	existing, err := e.Repo.GetStageForEntity(ctx, tx, opts.EntityID, opts.EntityType)
	switch {
	case err == nil && existing.IsActive:
		return domain.PipelineStage{}, alreadyExists(existing)
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return domain.PipelineStage{}, err
	}
	if err := e.Repo.InsertStage(ctx, tx, st); err != nil {
		if db.IsUniqueViolation(err) {
			return domain.PipelineStage{}, &domain.PipelineError{Kind: domain.ErrAlreadyExists, Op: "create_stage", EntityID: opts.EntityID, EntityType: opts.EntityType}
		}
		return domain.PipelineStage{}, fmt.Errorf("insert stage: %w", err)
	}
	if err := e.appendEvent(ctx, tx, events.StageCreated, st.ID, events.EntityStage, st.ID, opts.Actor.ID, events.EventPayload{
		"entity_id":   st.EntityID,
		"entity_type": st.EntityType,
		"stage":       st.CurrentStage,
	}); err != nil {
		return domain.PipelineStage{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PipelineStage{}, err
	}
	e.logger().Info("stage created", zap.String("stage_id", st.ID), zap.String("entity_id", st.EntityID), zap.String("entity_type", string(st.EntityType)))
	return st, nil
}

func alreadyExists(existing domain.PipelineStage) error {
	return &domain.PipelineError{
		Kind:       domain.ErrAlreadyExists,
		Op:         "create_stage",
		StageID:    existing.ID,
		EntityID:   existing.EntityID,
		EntityType: existing.EntityType,
		Stage:      existing.CurrentStage,
		Detail:     "entity already has an active pipeline",
	}
}

// GetStage returns the active stage of an entity, or its latest deactivated one.
func (e Engine) GetStage(ctx context.Context, entityID string, entityType domain.EntityType) (domain.PipelineStage, error) {
	st, err := e.Repo.GetStageForEntity(ctx, e.DB, entityID, entityType)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.PipelineStage{}, &domain.PipelineError{Kind: domain.ErrNotFound, Op: "get_stage", EntityID: entityID, EntityType: entityType}
	}
	return st, err
}

func (e Engine) GetStageByID(ctx context.Context, id string) (domain.PipelineStage, error) {
	st, err := e.Repo.GetStage(ctx, e.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.PipelineStage{}, &domain.PipelineError{Kind: domain.ErrNotFound, Op: "get_stage", StageID: id}
	}
	return st, err
}

func (e Engine) ListStages(ctx context.Context, f repo.StageFilters) ([]domain.PipelineStage, error) {
	if f.EntityType != "" && !domain.EntityType(f.EntityType).Valid() {
		return nil, &domain.PipelineError{Kind: domain.ErrInvalidInput, Op: "list_stages", Detail: "unknown entity_type " + f.EntityType}
	}
	if f.CurrentStage != "" && !domain.Stage(f.CurrentStage).Valid() {
		return nil, &domain.PipelineError{Kind: domain.ErrInvalidInput, Op: "list_stages", Detail: "unknown stage " + f.CurrentStage}
	}
	return e.Repo.ListStages(ctx, e.DB, f)
}

// UpdateNextActionOptions overwrite the reminder. Nil fields keep their value; empty strings clear them.
type UpdateNextActionOptions struct {
	StageID       string `validate:"required"`
	Type          *string
	ResponsibleID *string
	DueDate       *string
	Description   *string
	Actor         domain.Actor
}

// UpdateNextAction overwrites the reminder fields without touching the stage.
func (e Engine) UpdateNextAction(ctx context.Context, opts UpdateNextActionOptions) (st domain.PipelineStage, err error) {
	ctx, span := tracer.Start(ctx, "engine.UpdateNextAction", trace.WithAttributes(attribute.String("stage_id", opts.StageID)))
	defer func() { err = e.finish(span, "update_next_action", err) }()

	if err := validateOptions("update_next_action", opts); err != nil {
		return domain.PipelineStage{}, err
	}
	if opts.DueDate != nil && *opts.DueDate != "" {
		due, err := time.Parse(time.RFC3339, *opts.DueDate)
		if err != nil {
			return domain.PipelineStage{}, &domain.PipelineError{Kind: domain.ErrInvalidInput, Op: "update_next_action", StageID: opts.StageID, Detail: "due_date must be RFC3339"}
		}
		normalized := due.UTC().Format(time.RFC3339)
		opts.DueDate = &normalized
	}
	err = e.inStageTx(ctx, "update_next_action", opts.StageID, func(tx *sql.Tx, cur *domain.PipelineStage) error {
		if !cur.IsActive {
			return inactive("update_next_action", *cur)
		}
		next := cur.NextAction
		merge := func(dst **string, v *string) {
			if v == nil {
				return
			}
			*dst = optionalString(*v)
		}
		merge(&next.Type, opts.Type)
		merge(&next.ResponsibleID, opts.ResponsibleID)
		merge(&next.DueDate, opts.DueDate)
		merge(&next.Description, opts.Description)
		if err := e.Repo.SetNextAction(ctx, tx, cur.ID, next, e.nowString()); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.StageNextActionSet, cur.ID, events.EntityStage, cur.ID, opts.Actor.ID, events.EventPayload{
			"next_action": next,
			"source":      "manual",
		}); err != nil {
			return err
		}
		updated, err := e.Repo.GetStage(ctx, tx, cur.ID)
		if err != nil {
			return err
		}
		st = updated
		return nil
	})
	if err != nil {
		return domain.PipelineStage{}, err
	}
	return st, nil
}

// AdvanceStageOptions move a stage by hand. To must be reachable through the transition table.
type AdvanceStageOptions struct {
	StageID    string       `validate:"required"`
	To         domain.Stage `validate:"required"`
	Provenance domain.Provenance
	Actor      domain.Actor `validate:"required"`
}

// AdvanceStage moves a stage outside the action flow. Only lawyers (and admins) may do it.
func (e Engine) AdvanceStage(ctx context.Context, opts AdvanceStageOptions) (st domain.PipelineStage, err error) {
	ctx, span := tracer.Start(ctx, "engine.AdvanceStage", trace.WithAttributes(
		attribute.String("stage_id", opts.StageID),
		attribute.String("to", string(opts.To)),
	))
	defer func() { err = e.finish(span, "advance_stage", err) }()

	if err := validateOptions("advance_stage", opts); err != nil {
		return domain.PipelineStage{}, err
	}
	if !opts.To.Valid() {
		return domain.PipelineStage{}, &domain.PipelineError{Kind: domain.ErrInvalidInput, Op: "advance_stage", StageID: opts.StageID, Detail: "unknown stage " + string(opts.To)}
	}
	err = e.inStageTx(ctx, "advance_stage", opts.StageID, func(tx *sql.Tx, cur *domain.PipelineStage) error {
		if !cur.IsActive {
			return inactive("advance_stage", *cur)
		}
		if !auth.RoleSatisfies(domain.RoleLawyer, opts.Actor.Role) {
			return &domain.PipelineError{Kind: domain.ErrForbidden, Op: "advance_stage", StageID: cur.ID, Stage: cur.CurrentStage,
				Role: opts.Actor.Role, RequiredRole: domain.RoleLawyer}
		}
		if !policy.Reachable(cur.CurrentStage, opts.To) {
			return &domain.PipelineError{Kind: domain.ErrInvalidTransition, Op: "advance_stage", StageID: cur.ID, Stage: cur.CurrentStage, TargetStage: opts.To}
		}
		if err := e.move(ctx, tx, cur, opts.To, opts.Provenance, opts.Actor.ID, ""); err != nil {
			return err
		}
		if err := e.refreshReminder(ctx, tx, cur, opts.Actor.ID, true); err != nil {
			return err
		}
		updated, err := e.Repo.GetStage(ctx, tx, cur.ID)
		if err != nil {
			return err
		}
		st = updated
		return nil
	})
	if err != nil {
		return domain.PipelineStage{}, err
	}
	return st, nil
}

type DeactivateStageOptions struct {
	StageID string             `validate:"required"`
	Reason  domain.CloseReason `validate:"required,oneof=won lost cancelled"`
	Actor   domain.Actor       `validate:"required"`
}

// DeactivateStage closes a pipeline. It is terminal.
func (e Engine) DeactivateStage(ctx context.Context, opts DeactivateStageOptions) (st domain.PipelineStage, err error) {
	ctx, span := tracer.Start(ctx, "engine.DeactivateStage", trace.WithAttributes(attribute.String("stage_id", opts.StageID)))
	defer func() { err = e.finish(span, "deactivate_stage", err) }()

	if err := validateOptions("deactivate_stage", opts); err != nil {
		return domain.PipelineStage{}, err
	}
	if err := auth.Require("deactivate_stage", domain.RoleAdmin, opts.Actor.Role); err != nil {
		return domain.PipelineStage{}, err
	}
	err = e.inStageTx(ctx, "deactivate_stage", opts.StageID, func(tx *sql.Tx, cur *domain.PipelineStage) error {
		if !cur.IsActive {
			return inactive("deactivate_stage", *cur)
		}
		if err := e.Repo.DeactivateStage(ctx, tx, cur.ID, opts.Reason, e.nowString()); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, events.StageDeactivated, cur.ID, events.EntityStage, cur.ID, opts.Actor.ID, events.EventPayload{
			"reason": opts.Reason,
			"stage":  cur.CurrentStage,
		}); err != nil {
			return err
		}
		updated, err := e.Repo.GetStage(ctx, tx, cur.ID)
		if err != nil {
			return err
		}
		st = updated
		return nil
	})
	if err != nil {
		return domain.PipelineStage{}, err
	}
	e.logger().Info("stage deactivated", zap.String("stage_id", st.ID), zap.String("reason", string(opts.Reason)))
	return st, nil
}

// Status summarizes an entity's pipeline.
func (e Engine) Status(ctx context.Context, entityID string, entityType domain.EntityType) (domain.PipelineStatus, error) {
	st, err := e.GetStage(ctx, entityID, entityType)
	if err != nil {
		return domain.PipelineStatus{}, err
	}
	total, err := e.Repo.CountActions(ctx, e.DB, repo.ActionFilters{StageID: st.ID})
	if err != nil {
		return domain.PipelineStatus{}, err
	}
	pending, err := e.Repo.CountActions(ctx, e.DB, repo.ActionFilters{StageID: st.ID, Status: string(domain.StatusPendingValidation)})
	if err != nil {
		return domain.PipelineStatus{}, err
	}
	return domain.PipelineStatus{
		StageID:             st.ID,
		EntityID:            st.EntityID,
		EntityType:          st.EntityType,
		CurrentStage:        st.CurrentStage,
		NextAction:          st.NextAction,
		ActionsCount:        total,
		PendingActionsCount: pending,
		IsActive:            st.IsActive,
	}, nil
}

// NextActions returns what role may do now for the entity.
func (e Engine) NextActions(ctx context.Context, entityID string, entityType domain.EntityType, role domain.Role) ([]domain.OfferedAction, domain.PipelineStage, error) {
	if !role.Valid() {
		return nil, domain.PipelineStage{}, &domain.PipelineError{Kind: domain.ErrInvalidInput, Op: "next_actions", Detail: "unknown role " + string(role)}
	}
	st, err := e.GetStage(ctx, entityID, entityType)
	if err != nil {
		return nil, domain.PipelineStage{}, err
	}
	actions, err := e.Repo.ListActions(ctx, e.DB, repo.ActionFilters{StageID: st.ID})
	if err != nil {
		return nil, domain.PipelineStage{}, err
	}
	return policy.NextActions(e.Registry.List(), st, actions, role), st, nil
}

// StageEvents returns the ledger of a stage, newest first.
func (e Engine) StageEvents(ctx context.Context, stageID string, limit int, cursor int64) ([]domain.Event, error) {
	if _, err := e.GetStageByID(ctx, stageID); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, e.DB, repo.EventFilters{StageID: stageID, Limit: limit, Cursor: cursor})
}

func inactive(op string, st domain.PipelineStage) error {
	detail := "pipeline is closed"
	if st.ClosedReason != nil {
		detail = fmt.Sprintf("pipeline closed as %s", *st.ClosedReason)
	}
	return &domain.PipelineError{Kind: domain.ErrInactive, Op: op, StageID: st.ID, Stage: st.CurrentStage, Detail: detail}
}
