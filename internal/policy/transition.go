package policy

import "caseflow/internal/domain"

// Action codes the pipeline itself depends on.
const (
	ActionElevateToLawyer      = "elevate_to_lawyer"
	ActionValidatePiliAnalysis = "validate_pili_analysis"
	ActionApproveTramite       = "approve_tramite"
	ActionRejectTramite        = "reject_tramite"
	ActionGenerateContract     = "generate_contract"
	ActionWaitSignaturePayment = "wait_signature_payment"
	ActionCreateExpediente     = "create_expediente"
)

type transitionKey struct {
	from   domain.Stage
	action string
}

type Transition struct {
	From   domain.Stage `json:"from"`
	Action string       `json:"action_code"`
	To     domain.Stage `json:"to"`
}

var transitionTable = []Transition{
	{domain.StageAgentInitial, ActionElevateToLawyer, domain.StageLawyerValidation},
	{domain.StageLawyerValidation, ActionApproveTramite, domain.StageAdminContract},
	{domain.StageLawyerValidation, ActionRejectTramite, domain.StageAgentInitial},
	{domain.StageAdminContract, ActionGenerateContract, domain.StageClientSignature},
	{domain.StageClientSignature, ActionWaitSignaturePayment, domain.StageExpedienteCreated},
	{domain.StageExpedienteCreated, ActionCreateExpediente, domain.StageExpedienteCreated},
}

var transitions = func() map[transitionKey]domain.Stage {
	m := make(map[transitionKey]domain.Stage, len(transitionTable))
	for _, t := range transitionTable {
		m[transitionKey{t.From, t.Action}] = t.To
	}
	return m
}()

// NextStage maps a resolved action in the given stage to the stage it leads to.
// ok is false when the pair is not in the table; such actions never move the stage.
func NextStage(from domain.Stage, actionCode string) (domain.Stage, bool) {
	to, ok := transitions[transitionKey{from, actionCode}]
	return to, ok
}

// Reachable reports whether some action leads from one stage to the other.
func Reachable(from, to domain.Stage) bool {
	for _, t := range transitionTable {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Transitions returns a copy of the transition table.
func Transitions() []Transition {
	out := make([]Transition, len(transitionTable))
	copy(out, transitionTable)
	return out
}
