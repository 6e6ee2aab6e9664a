package policy

import (
	"sort"

	"caseflow/internal/domain"
)

type followUp struct {
	code     string
	required bool
}

// stagePolicy describes what a stage offers around its governing action.
type stagePolicy struct {
	governing string
	// statuses of the governing action that unlock the follow-ups
	unlockOn []domain.ActionStatus
	// explicit follow-ups; nil offers every other eligible type as optional
	followUps []followUp
	// offer the governing action again when it resolved without unlocking
	retryGoverning bool
}

func (p stagePolicy) unlockedBy(status domain.ActionStatus) bool {
	for _, s := range p.unlockOn {
		if s == status {
			return true
		}
	}
	return false
}

var policies = map[domain.Stage]stagePolicy{
	domain.StageAgentInitial: {
		governing: ActionElevateToLawyer,
		unlockOn:  []domain.ActionStatus{domain.StatusCompleted, domain.StatusValidated, domain.StatusRejected},
	},
	domain.StageLawyerValidation: {
		governing: ActionValidatePiliAnalysis,
		unlockOn:  []domain.ActionStatus{domain.StatusValidated, domain.StatusCompleted},
		followUps: []followUp{
			{code: ActionApproveTramite, required: true},
			{code: ActionRejectTramite, required: false},
		},
	},
	domain.StageAdminContract: {
		governing:      ActionGenerateContract,
		unlockOn:       []domain.ActionStatus{domain.StatusCompleted},
		retryGoverning: true,
	},
	domain.StageClientSignature: {
		governing: ActionWaitSignaturePayment,
		unlockOn:  []domain.ActionStatus{domain.StatusCompleted, domain.StatusValidated, domain.StatusRejected},
	},
	domain.StageExpedienteCreated: {
		governing:      ActionCreateExpediente,
		unlockOn:       []domain.ActionStatus{domain.StatusCompleted},
		retryGoverning: true,
	},
}

// GoverningAction returns the action code that gates the given stage.
func GoverningAction(stage domain.Stage) string {
	return policies[stage].governing
}

// RequiredCodes lists every action code the stage policies and the transition table refer to.
func RequiredCodes() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(code string) {
		if _, ok := seen[code]; ok {
			return
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	for _, st := range domain.Stages {
		p := policies[st]
		add(p.governing)
		for _, f := range p.followUps {
			add(f.code)
		}
	}
	for _, t := range transitionTable {
		add(t.Action)
	}
	return out
}

// CurrentVisit keeps the actions recorded since the stage was last entered.
func CurrentVisit(stage domain.PipelineStage, actions []domain.PipelineAction) []domain.PipelineAction {
	var out []domain.PipelineAction
	for _, a := range actions {
		if a.PipelineStageID != "" && a.PipelineStageID != stage.ID {
			continue
		}
		if a.StageSeq == stage.StageSeq {
			out = append(out, a)
		}
	}
	return out
}

// NextActions computes the actions role may perform now on stage, required ones first.
// types is the catalog in declaration order; actions is the stage's log.
func NextActions(types []domain.ActionType, stage domain.PipelineStage, actions []domain.PipelineAction, role domain.Role) []domain.OfferedAction {
	offered := []domain.OfferedAction{}
	if !stage.IsActive {
		return offered
	}
	p, ok := policies[stage.CurrentStage]
	if !ok {
		return offered
	}
	byCode := make(map[string]domain.ActionType, len(types))
	for _, at := range types {
		byCode[at.Code] = at
	}
	eligible := func(code string) bool {
		at, ok := byCode[code]
		return ok && at.IsActive && domain.RoleSatisfies(at.RequiredRole, role) && at.AppliesTo(stage.CurrentStage)
	}

	var present, pending, unlocked bool
	for _, a := range CurrentVisit(stage, actions) {
		if a.ActionType != p.governing {
			continue
		}
		present = true
		if a.Status == domain.StatusPendingValidation {
			pending = true
		}
		if p.unlockedBy(a.Status) {
			unlocked = true
		}
	}

	governing := func() []domain.OfferedAction {
		if eligible(p.governing) {
			offered = append(offered, domain.OfferedAction{ActionCode: p.governing, IsRequired: true, CanModify: false})
		}
		return offered
	}

	switch {
	case pending:
		return offered
	case unlocked:
		if p.followUps != nil {
			for _, f := range p.followUps {
				if eligible(f.code) {
					offered = append(offered, domain.OfferedAction{ActionCode: f.code, IsRequired: f.required, CanModify: true})
				}
			}
		} else {
			for _, at := range types {
				if at.Code != p.governing && eligible(at.Code) {
					offered = append(offered, domain.OfferedAction{ActionCode: at.Code, IsRequired: false, CanModify: true})
				}
			}
		}
	case !present, p.retryGoverning:
		return governing()
	}
	sort.SliceStable(offered, func(i, j int) bool {
		return offered[i].IsRequired && !offered[j].IsRequired
	})
	return offered
}
