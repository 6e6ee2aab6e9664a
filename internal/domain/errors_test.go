package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("record: %w", &PipelineError{
		Kind:       ErrForbidden,
		Op:         "record_action",
		StageID:    "st-1",
		ActionType: "approve_tramite",
		Role:       RoleAgent,
	})
	require.ErrorIs(t, err, ErrForbidden)
	assert.False(t, errors.Is(err, ErrNotFound))

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "st-1", pe.StageID)
	assert.Equal(t, "forbidden", KindName(err))
	assert.Contains(t, err.Error(), "stage st-1")
	assert.Contains(t, err.Error(), "type approve_tramite")

	fields := pe.Fields()
	assert.Equal(t, "agent", fields["role"])
	assert.NotContains(t, fields, "action_id")
}

func TestActionTypeAppliesTo(t *testing.T) {
	global := ActionType{Code: "add_note"}
	assert.True(t, global.AppliesTo(StageClientSignature))

	scoped := ActionType{Code: "elevate_to_lawyer", ApplicableStages: []Stage{StageAgentInitial}}
	assert.True(t, scoped.AppliesTo(StageAgentInitial))
	assert.False(t, scoped.AppliesTo(StageLawyerValidation))

	empty := Role("")
	assert.False(t, ActionType{ValidationRole: &empty}.RequiresValidation())
}

func TestStatusHelpers(t *testing.T) {
	assert.False(t, StatusPendingValidation.Resolved())
	assert.True(t, StatusRejected.Resolved())
	assert.False(t, StatusRejected.Succeeded())
	assert.True(t, StatusValidated.Succeeded())
	assert.True(t, StatusCompleted.Succeeded())
}

func TestRoleSatisfies(t *testing.T) {
	assert.True(t, RoleSatisfies(RoleLawyer, RoleLawyer))
	assert.True(t, RoleSatisfies(RoleAgent, RoleAdmin))
	assert.True(t, RoleSatisfies("", RoleAdmin))
	assert.False(t, RoleSatisfies(RoleAgent, RoleLawyer))
	assert.False(t, RoleSatisfies("", RoleAgent))
}
