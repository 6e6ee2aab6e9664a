package server

import (
	"encoding/json"

	"caseflow/internal/domain"
	"caseflow/internal/policy"
)

// Request payloads

type CreateStageRequest struct {
	EntityID          string         `json:"entity_id" minLength:"1"`
	EntityType        string         `json:"entity_type" enum:"contact,lead"`
	SituacionMigrante map[string]any `json:"situacion_migrante,omitempty"`
	CreatedByAgentID  string         `json:"created_by_agent_id,omitempty"`
	Notes             string         `json:"notes,omitempty"`
}

type UpdateNextActionRequest struct {
	Type          *string `json:"type,omitempty"`
	ResponsibleID *string `json:"responsible_id,omitempty"`
	DueDate       *string `json:"due_date,omitempty"`
	Description   *string `json:"description,omitempty"`
}

type AdvanceStageRequest struct {
	ToStage             string  `json:"to_stage" enum:"agent_initial,lawyer_validation,admin_contract,client_signature,expediente_created"`
	ValidatedByLawyerID *string `json:"validated_by_lawyer_id,omitempty"`
	HiringCodeID        *string `json:"hiring_code_id,omitempty"`
}

type DeactivateStageRequest struct {
	Reason string `json:"reason" enum:"won,lost,cancelled"`
}

type RecordActionRequest struct {
	PipelineStageID            string         `json:"pipeline_stage_id" minLength:"1"`
	ActionType                 string         `json:"action_type" minLength:"1"`
	ActionName                 string         `json:"action_name,omitempty"`
	PerformedBy                string         `json:"performed_by,omitempty" doc:"Must be empty or the authenticated actor"`
	ResponsibleForValidationID string         `json:"responsible_for_validation_id,omitempty"`
	ActionData                 map[string]any `json:"action_data,omitempty"`
	Description                string         `json:"description,omitempty"`
	IdempotencyKey             string         `json:"idempotency_key,omitempty"`
	ExpectedStage              string         `json:"expected_stage,omitempty" enum:"agent_initial,lawyer_validation,admin_contract,client_signature,expediente_created"`
}

type ResolveActionRequest struct {
	Outcome    string `json:"outcome" enum:"validated,rejected"`
	ResolverID string `json:"resolver_id,omitempty" doc:"Must be empty or the authenticated actor"`
	Notes      string `json:"notes,omitempty"`
}

// Responses

type ActionTypeList struct {
	Items []domain.ActionType `json:"items"`
}

type TransitionList struct {
	Items []policy.Transition `json:"items"`
}

type StageList struct {
	Items      []domain.PipelineStage `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

type OfferedActionResponse struct {
	ActionCode     string `json:"action_code"`
	DisplayName    string `json:"display_name"`
	DefaultDueDays int    `json:"default_due_days"`
	IsRequired     bool   `json:"is_required"`
	CanModify      bool   `json:"can_modify"`
}

type NextActionsResponse struct {
	StageID      string                  `json:"stage_id"`
	CurrentStage domain.Stage            `json:"current_stage"`
	Role         domain.Role             `json:"role"`
	Actions      []OfferedActionResponse `json:"actions"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	StageID    string         `json:"stage_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	resp := EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		StageID:    evt.StageID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
	}
	if evt.Payload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err == nil {
			resp.Payload = payload
		}
	}
	return resp
}

func offeredResponse(types []domain.ActionType, offered []domain.OfferedAction) []OfferedActionResponse {
	byCode := make(map[string]domain.ActionType, len(types))
	for _, at := range types {
		byCode[at.Code] = at
	}
	out := make([]OfferedActionResponse, 0, len(offered))
	for _, o := range offered {
		at := byCode[o.ActionCode]
		out = append(out, OfferedActionResponse{
			ActionCode:     o.ActionCode,
			DisplayName:    at.DisplayName,
			DefaultDueDays: at.DefaultDueDays,
			IsRequired:     o.IsRequired,
			CanModify:      o.CanModify,
		})
	}
	return out
}

func rawJSON(v map[string]any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
