package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds returned by the pipeline. Match them with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInactive          = errors.New("stage inactive")
	ErrInvalidInput      = errors.New("invalid input")
)

// PipelineError carries the identifiers involved in a rejected call.
type PipelineError struct {
	Kind         error
	Op           string
	StageID      string
	ActionID     string
	ActionType   string
	EntityID     string
	EntityType   EntityType
	Stage        Stage
	TargetStage  Stage
	Role         Role
	RequiredRole Role
	Detail       string
}

func (e *PipelineError) Error() string {
	var parts []string
	if e.StageID != "" {
		parts = append(parts, "stage "+e.StageID)
	}
	if e.ActionID != "" {
		parts = append(parts, "action "+e.ActionID)
	}
	if e.ActionType != "" {
		parts = append(parts, "type "+e.ActionType)
	}
	if e.EntityID != "" {
		parts = append(parts, fmt.Sprintf("entity %s/%s", e.EntityType, e.EntityID))
	}
	msg := e.Op + ": " + e.Kind.Error()
	if len(parts) > 0 {
		msg += " (" + strings.Join(parts, ", ") + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Kind
}

// Fields returns the non-empty identifiers, keyed the way the API reports them.
func (e *PipelineError) Fields() map[string]any {
	out := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("op", e.Op)
	set("stage_id", e.StageID)
	set("action_id", e.ActionID)
	set("action_type", e.ActionType)
	set("entity_id", e.EntityID)
	set("entity_type", string(e.EntityType))
	set("current_stage", string(e.Stage))
	set("target_stage", string(e.TargetStage))
	set("role", string(e.Role))
	set("required_role", string(e.RequiredRole))
	return out
}

// KindName returns the short name of an error kind, or "" if err carries none.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInactive):
		return "stage_inactive"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return ""
}
