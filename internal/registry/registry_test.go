package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/internal/config"
	"caseflow/internal/domain"
)

func TestGetUnknownCodeIsNotFound(t *testing.T) {
	reg, err := FromConfig(nil)
	require.NoError(t, err)

	_, err = reg.Get("teleport_client")
	require.ErrorIs(t, err, domain.ErrNotFound)

	at, err := reg.Get("approve_tramite")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleLawyer, at.RequiredRole)
}

func TestFilter(t *testing.T) {
	reg, err := FromConfig(config.Default())
	require.NoError(t, err)

	for _, at := range reg.Filter(Filter{Role: domain.RoleAdmin}) {
		assert.Equal(t, domain.RoleAdmin, at.RequiredRole)
	}
	all := reg.Filter(Filter{})
	active := reg.Filter(Filter{ActiveOnly: true})
	assert.Len(t, active, len(all)-1)

	inSignature := reg.Filter(Filter{Stage: domain.StageClientSignature})
	var got []string
	for _, at := range inSignature {
		got = append(got, at.Code)
	}
	assert.Contains(t, got, "wait_signature_payment")
	assert.Contains(t, got, "general_follow_up")
	assert.NotContains(t, got, "generate_contract")
}

func TestNewRejectsIncompleteCatalog(t *testing.T) {
	_, err := New([]domain.ActionType{{Code: "general_follow_up", RequiredRole: domain.RoleAgent}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "elevate_to_lawyer")
}

func TestListIsACopy(t *testing.T) {
	reg, err := FromConfig(nil)
	require.NoError(t, err)
	list := reg.List()
	list[0].Code = "mutated"
	again := reg.List()
	assert.NotEqual(t, "mutated", again[0].Code)
}
