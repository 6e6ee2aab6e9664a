package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/repo"
)

type stageBody struct {
	Body domain.PipelineStage `json:"body"`
}

func registerStages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-stage",
		Method:        http.MethodPost,
		Path:          "/stages",
		Summary:       "Open a pipeline for an entity",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateStageRequest `json:"body"`
	}) (*stageBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		situacion, err := rawJSON(input.Body.SituacionMigrante)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid situacion_migrante", nil)
		}
		st, err := e.CreateStage(ctx, engine.CreateStageOptions{
			EntityID:          input.Body.EntityID,
			EntityType:        domain.EntityType(input.Body.EntityType),
			SituacionMigrante: situacion,
			CreatedByAgentID:  input.Body.CreatedByAgentID,
			Notes:             input.Body.Notes,
			Actor:             actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &stageBody{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stages",
		Method:      http.MethodGet,
		Path:        "/stages",
		Summary:     "List pipelines",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		EntityType    string `query:"entity_type" enum:"contact,lead"`
		CurrentStage  string `query:"current_stage" enum:"agent_initial,lawyer_validation,admin_contract,client_signature,expediente_created"`
		ResponsibleID string `query:"responsible_id"`
		IsActive      string `query:"is_active" enum:"true,false"`
		CreatedFrom   string `query:"created_from"`
		CreatedTo     string `query:"created_to"`
		DueBefore     string `query:"due_before" doc:"Only pipelines whose next action is due before this RFC3339 time"`
		Limit         int    `query:"limit" default:"50"`
		Cursor        string `query:"cursor"`
	}) (*struct {
		Body StageList `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		f := repo.StageFilters{
			EntityType:      input.EntityType,
			CurrentStage:    input.CurrentStage,
			ResponsibleID:   input.ResponsibleID,
			CreatedFrom:     input.CreatedFrom,
			CreatedTo:       input.CreatedTo,
			DueBefore:       input.DueBefore,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		}
		if input.IsActive != "" {
			active := input.IsActive == "true"
			f.IsActive = &active
		}
		items, err := e.ListStages(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := StageList{Items: items}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			resp.Items = items[:limit]
		}
		return &struct {
			Body StageList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-stage",
		Method:      http.MethodGet,
		Path:        "/stages/{stage_id}",
		Summary:     "Get pipeline by id",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		StageID string `path:"stage_id"`
	}) (*stageBody, error) {
		st, err := e.GetStageByID(ctx, input.StageID)
		if err != nil {
			return nil, handleError(err)
		}
		return &stageBody{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-next-action",
		Method:      http.MethodPatch,
		Path:        "/stages/{stage_id}/next-action",
		Summary:     "Overwrite the next-action reminder",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		StageID string                  `path:"stage_id"`
		Body    UpdateNextActionRequest `json:"body"`
	}) (*stageBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.UpdateNextAction(ctx, engine.UpdateNextActionOptions{
			StageID:       input.StageID,
			Type:          input.Body.Type,
			ResponsibleID: input.Body.ResponsibleID,
			DueDate:       input.Body.DueDate,
			Description:   input.Body.Description,
			Actor:         actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &stageBody{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-stage",
		Method:      http.MethodPost,
		Path:        "/stages/{stage_id}/advance",
		Summary:     "Move a pipeline along the transition table (lawyer or admin)",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		StageID string              `path:"stage_id"`
		Body    AdvanceStageRequest `json:"body"`
	}) (*stageBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.AdvanceStage(ctx, engine.AdvanceStageOptions{
			StageID: input.StageID,
			To:      domain.Stage(input.Body.ToStage),
			Provenance: domain.Provenance{
				ValidatedByLawyerID: input.Body.ValidatedByLawyerID,
				HiringCodeID:        input.Body.HiringCodeID,
			},
			Actor: actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &stageBody{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-stage",
		Method:      http.MethodPost,
		Path:        "/stages/{stage_id}/deactivate",
		Summary:     "Close a pipeline (admin)",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		StageID string                 `path:"stage_id"`
		Body    DeactivateStageRequest `json:"body"`
	}) (*stageBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		st, err := e.DeactivateStage(ctx, engine.DeactivateStageOptions{
			StageID: input.StageID,
			Reason:  domain.CloseReason(input.Body.Reason),
			Actor:   actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &stageBody{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stage-actions",
		Method:      http.MethodGet,
		Path:        "/stages/{stage_id}/actions",
		Summary:     "List a pipeline's action log in append order",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		StageID string `path:"stage_id"`
		Status  string `query:"status" enum:"pending_validation,validated,rejected,completed"`
		Skip    int    `query:"skip" minimum:"0"`
		Limit   int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body engine.ActionPage `json:"body"`
	}, error) {
		page, err := e.ListActionsPage(ctx, engine.ActionPageOptions{
			StageID: input.StageID,
			Status:  domain.ActionStatus(input.Status),
			Skip:    input.Skip,
			Limit:   input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ActionPage `json:"body"`
		}{Body: page}, nil
	})
}

type entityPath struct {
	EntityType string `path:"entity_type" enum:"contact,lead"`
	EntityID   string `path:"entity_id"`
}

func registerEntities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-entity-stage",
		Method:      http.MethodGet,
		Path:        "/entities/{entity_type}/{entity_id}/stage",
		Summary:     "Active pipeline of an entity, or its latest closed one",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *entityPath) (*stageBody, error) {
		st, err := e.GetStage(ctx, input.EntityID, domain.EntityType(input.EntityType))
		if err != nil {
			return nil, handleError(err)
		}
		return &stageBody{Body: st}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-entity-status",
		Method:      http.MethodGet,
		Path:        "/entities/{entity_type}/{entity_id}/status",
		Summary:     "Pipeline status summary",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *entityPath) (*struct {
		Body domain.PipelineStatus `json:"body"`
	}, error) {
		status, err := e.Status(ctx, input.EntityID, domain.EntityType(input.EntityType))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PipelineStatus `json:"body"`
		}{Body: status}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-next-actions",
		Method:      http.MethodGet,
		Path:        "/entities/{entity_type}/{entity_id}/next-actions",
		Summary:     "Actions a role may perform now",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		EntityType string `path:"entity_type" enum:"contact,lead"`
		EntityID   string `path:"entity_id"`
		Role       string `query:"role" enum:"agent,lawyer,admin" doc:"Defaults to the caller's role"`
	}) (*struct {
		Body NextActionsResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role := actor.Role
		if input.Role != "" {
			role = domain.Role(input.Role)
		}
		offered, st, err := e.NextActions(ctx, input.EntityID, domain.EntityType(input.EntityType), role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NextActionsResponse `json:"body"`
		}{Body: NextActionsResponse{
			StageID:      st.ID,
			CurrentStage: st.CurrentStage,
			Role:         role,
			Actions:      offeredResponse(e.Registry.List(), offered),
		}}, nil
	})
}
