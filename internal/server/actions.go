package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
)

type actionOutcomeBody struct {
	Body engine.ActionOutcome `json:"body"`
}

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-action",
		Method:        http.MethodPost,
		Path:          "/actions",
		Summary:       "Record an action on a pipeline",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		IdempotencyKey string              `header:"Idempotency-Key"`
		Body           RecordActionRequest `json:"body"`
	}) (*actionOutcomeBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := sameCaller("performed_by", input.Body.PerformedBy, actor); err != nil {
			return nil, err
		}
		data, err := rawJSON(input.Body.ActionData)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid action_data", nil)
		}
		key := strings.TrimSpace(input.Body.IdempotencyKey)
		if key == "" {
			key = strings.TrimSpace(input.IdempotencyKey)
		}
		out, err := e.RecordAction(ctx, engine.RecordActionOptions{
			StageID:                    input.Body.PipelineStageID,
			ActionType:                 input.Body.ActionType,
			ActionName:                 input.Body.ActionName,
			ResponsibleForValidationID: input.Body.ResponsibleForValidationID,
			ActionData:                 data,
			Description:                input.Body.Description,
			IdempotencyKey:             key,
			ExpectedStage:              domain.Stage(input.Body.ExpectedStage),
			Actor:                      actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &actionOutcomeBody{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-action",
		Method:      http.MethodGet,
		Path:        "/actions/{action_id}",
		Summary:     "Get action",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ActionID string `path:"action_id"`
	}) (*struct {
		Body domain.PipelineAction `json:"body"`
	}, error) {
		a, err := e.GetAction(ctx, input.ActionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PipelineAction `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-action",
		Method:      http.MethodPost,
		Path:        "/actions/{action_id}/resolve",
		Summary:     "Validate or reject a pending action",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ActionID string               `path:"action_id"`
		Body     ResolveActionRequest `json:"body"`
	}) (*actionOutcomeBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := sameCaller("resolver_id", input.Body.ResolverID, actor); err != nil {
			return nil, err
		}
		out, err := e.ResolveAction(ctx, engine.ResolveActionOptions{
			ActionID: input.ActionID,
			Outcome:  domain.ActionStatus(input.Body.Outcome),
			Notes:    input.Body.Notes,
			Actor:    actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &actionOutcomeBody{Body: out}, nil
	})
}
