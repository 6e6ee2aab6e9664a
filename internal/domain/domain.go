package domain

import "encoding/json"

type Role string

const (
	RoleAgent  Role = "agent"
	RoleLawyer Role = "lawyer"
	RoleAdmin  Role = "admin"
)

// Roles lists every role in declaration order.
var Roles = []Role{RoleAgent, RoleLawyer, RoleAdmin}

func (r Role) Valid() bool {
	switch r {
	case RoleAgent, RoleLawyer, RoleAdmin:
		return true
	}
	return false
}

// RoleSatisfies reports whether actor may act where required is needed. Admin may act anywhere.
func RoleSatisfies(required, actor Role) bool {
	if actor == RoleAdmin {
		return true
	}
	return required != "" && required == actor
}

type Stage string

const (
	StageAgentInitial      Stage = "agent_initial"
	StageLawyerValidation  Stage = "lawyer_validation"
	StageAdminContract     Stage = "admin_contract"
	StageClientSignature   Stage = "client_signature"
	StageExpedienteCreated Stage = "expediente_created"
)

// Stages lists the pipeline in progression order.
var Stages = []Stage{
	StageAgentInitial,
	StageLawyerValidation,
	StageAdminContract,
	StageClientSignature,
	StageExpedienteCreated,
}

func (s Stage) Valid() bool {
	for _, st := range Stages {
		if st == s {
			return true
		}
	}
	return false
}

type EntityType string

const (
	EntityContact EntityType = "contact"
	EntityLead    EntityType = "lead"
)

func (e EntityType) Valid() bool {
	return e == EntityContact || e == EntityLead
}

type ActionStatus string

const (
	StatusPendingValidation ActionStatus = "pending_validation"
	StatusValidated         ActionStatus = "validated"
	StatusRejected          ActionStatus = "rejected"
	StatusCompleted         ActionStatus = "completed"
)

// Resolved reports whether the status is final.
func (s ActionStatus) Resolved() bool {
	return s == StatusValidated || s == StatusRejected || s == StatusCompleted
}

// Succeeded reports whether an action in this status may drive a stage transition.
func (s ActionStatus) Succeeded() bool {
	return s == StatusValidated || s == StatusCompleted
}

type CloseReason string

const (
	CloseWon       CloseReason = "won"
	CloseLost      CloseReason = "lost"
	CloseCancelled CloseReason = "cancelled"
)

func (c CloseReason) Valid() bool {
	return c == CloseWon || c == CloseLost || c == CloseCancelled
}

// Actor is the caller of an engine operation.
type Actor struct {
	ID   string `json:"id" validate:"required"`
	Role Role   `json:"role" validate:"required,oneof=agent lawyer admin"`
}

type ActionType struct {
	Code             string  `json:"action_code"`
	DisplayName      string  `json:"display_name"`
	Description      string  `json:"description,omitempty"`
	RequiredRole     Role    `json:"required_role" enum:"agent,lawyer,admin"`
	ValidationRole   *Role   `json:"validation_role,omitempty" enum:"agent,lawyer,admin"`
	DefaultDueDays   int     `json:"default_due_days" minimum:"0"`
	ApplicableStages []Stage `json:"applicable_stages,omitempty"`
	IsActive         bool    `json:"is_active"`
}

// RequiresValidation reports whether performed actions of this type start pending.
func (a ActionType) RequiresValidation() bool {
	return a.ValidationRole != nil && *a.ValidationRole != ""
}

// AppliesTo reports whether the type may be offered in stage. No declared stages means every stage.
func (a ActionType) AppliesTo(stage Stage) bool {
	if len(a.ApplicableStages) == 0 {
		return true
	}
	for _, s := range a.ApplicableStages {
		if s == stage {
			return true
		}
	}
	return false
}

type NextAction struct {
	Type          *string `json:"type,omitempty"`
	ResponsibleID *string `json:"responsible_id,omitempty"`
	DueDate       *string `json:"due_date,omitempty" format:"date-time"`
	Description   *string `json:"description,omitempty"`
}

type PipelineStage struct {
	ID                    string          `json:"id"`
	EntityID              string          `json:"entity_id"`
	EntityType            EntityType      `json:"entity_type" enum:"contact,lead"`
	CurrentStage          Stage           `json:"current_stage" enum:"agent_initial,lawyer_validation,admin_contract,client_signature,expediente_created"`
	SituacionMigrante     json.RawMessage `json:"situacion_migrante,omitempty"`
	CreatedByAgentID      *string         `json:"created_by_agent_id,omitempty"`
	ValidatedByLawyerID   *string         `json:"validated_by_lawyer_id,omitempty"`
	ValidatedAt           *string         `json:"validated_at,omitempty" format:"date-time"`
	ContractGeneratedByID *string         `json:"contract_generated_by_id,omitempty"`
	ContractGeneratedAt   *string         `json:"contract_generated_at,omitempty" format:"date-time"`
	HiringCodeID          *string         `json:"hiring_code_id,omitempty"`
	NextAction            NextAction      `json:"next_action"`
	Notes                 string          `json:"notes,omitempty"`
	IsActive              bool            `json:"is_active"`
	ClosedReason          *CloseReason    `json:"closed_reason,omitempty" enum:"won,lost,cancelled"`
	ClosedAt              *string         `json:"closed_at,omitempty" format:"date-time"`
	StageSeq              int             `json:"stage_seq"`
	Version               int64           `json:"version"`
	CreatedAt             string          `json:"created_at" format:"date-time"`
	UpdatedAt             string          `json:"updated_at" format:"date-time"`
}

// Provenance carries the milestone breadcrumbs written on a transition. Nil fields are left untouched.
type Provenance struct {
	CreatedByAgentID      *string `json:"created_by_agent_id,omitempty"`
	ValidatedByLawyerID   *string `json:"validated_by_lawyer_id,omitempty"`
	ValidatedAt           *string `json:"validated_at,omitempty"`
	ContractGeneratedByID *string `json:"contract_generated_by_id,omitempty"`
	ContractGeneratedAt   *string `json:"contract_generated_at,omitempty"`
	HiringCodeID          *string `json:"hiring_code_id,omitempty"`
}

func (p Provenance) Empty() bool {
	return p.CreatedByAgentID == nil && p.ValidatedByLawyerID == nil && p.ValidatedAt == nil &&
		p.ContractGeneratedByID == nil && p.ContractGeneratedAt == nil && p.HiringCodeID == nil
}

type PipelineAction struct {
	ID                         string          `json:"id"`
	PipelineStageID            string          `json:"pipeline_stage_id"`
	Seq                        int             `json:"seq"`
	Stage                      Stage           `json:"stage"`
	StageSeq                   int             `json:"stage_seq"`
	ActionType                 string          `json:"action_type"`
	ActionName                 string          `json:"action_name,omitempty"`
	PerformedByID              string          `json:"performed_by_id"`
	ResponsibleForValidationID *string         `json:"responsible_for_validation_id,omitempty"`
	Status                     ActionStatus    `json:"status" enum:"pending_validation,validated,rejected,completed"`
	ActionData                 json.RawMessage `json:"action_data,omitempty"`
	Description                string          `json:"description,omitempty"`
	ValidatedAt                *string         `json:"validated_at,omitempty" format:"date-time"`
	ValidatedByID              *string         `json:"validated_by_id,omitempty"`
	ValidationNotes            *string         `json:"validation_notes,omitempty"`
	IdempotencyKey             *string         `json:"idempotency_key,omitempty"`
	CreatedAt                  string          `json:"created_at" format:"date-time"`
	UpdatedAt                  string          `json:"updated_at" format:"date-time"`
}

type OfferedAction struct {
	ActionCode string `json:"action_code"`
	IsRequired bool   `json:"is_required"`
	CanModify  bool   `json:"can_modify"`
}

type PipelineStatus struct {
	StageID             string     `json:"stage_id"`
	EntityID            string     `json:"entity_id"`
	EntityType          EntityType `json:"entity_type"`
	CurrentStage        Stage      `json:"current_stage"`
	NextAction          NextAction `json:"next_action"`
	ActionsCount        int        `json:"actions_count"`
	PendingActionsCount int        `json:"pending_actions_count"`
	IsActive            bool       `json:"is_active"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	StageID    string `json:"stage_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type ActorRecord struct {
	ID        string `json:"id"`
	Role      Role   `json:"role" enum:"agent,lawyer,admin"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
