package policy

import (
	"fmt"
	"time"

	"caseflow/internal/domain"
)

// Reminder derives the "what happens next" fields for a stage.
//
// A pending action in the current visit wins: its validator is responsible and the due date counts from
// when it was recorded. Otherwise the first required action from the admin view is suggested, due
// default_due_days from now. The responsible id is left nil in that case so callers keep whoever is
// assigned. An empty NextAction means nothing is required.
func Reminder(types []domain.ActionType, stage domain.PipelineStage, actions []domain.PipelineAction, now time.Time) domain.NextAction {
	if !stage.IsActive {
		return domain.NextAction{}
	}
	byCode := make(map[string]domain.ActionType, len(types))
	for _, at := range types {
		byCode[at.Code] = at
	}
	visit := CurrentVisit(stage, actions)
	for i := len(visit) - 1; i >= 0; i-- {
		a := visit[i]
		if a.Status != domain.StatusPendingValidation {
			continue
		}
		at := byCode[a.ActionType]
		recorded, err := time.Parse(time.RFC3339, a.CreatedAt)
		if err != nil {
			recorded = now
		}
		role := domain.Role("")
		if at.ValidationRole != nil {
			role = *at.ValidationRole
		}
		name := at.DisplayName
		if name == "" {
			name = a.ActionType
		}
		return domain.NextAction{
			Type:          strPtr(a.ActionType),
			ResponsibleID: a.ResponsibleForValidationID,
			DueDate:       strPtr(dueDate(recorded, at.DefaultDueDays)),
			Description:   strPtr(fmt.Sprintf("awaiting %s validation: %s", role, name)),
		}
	}
	for _, o := range NextActions(types, stage, actions, domain.RoleAdmin) {
		if !o.IsRequired {
			continue
		}
		at := byCode[o.ActionCode]
		desc := at.Description
		if desc == "" {
			desc = at.DisplayName
		}
		return domain.NextAction{
			Type:        strPtr(o.ActionCode),
			DueDate:     strPtr(dueDate(now, at.DefaultDueDays)),
			Description: strPtr(desc),
		}
	}
	return domain.NextAction{}
}

func dueDate(from time.Time, days int) string {
	return from.UTC().AddDate(0, 0, days).Format(time.RFC3339)
}

func strPtr(v string) *string {
	return &v
}
