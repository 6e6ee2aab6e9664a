package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/internal/domain"
)

func TestDefaultCatalog(t *testing.T) {
	cfg := Default()
	types := cfg.ToActionTypes()
	require.NotEmpty(t, types)

	byCode := map[string]domain.ActionType{}
	for _, at := range types {
		byCode[at.Code] = at
	}
	validate, ok := byCode["validate_pili_analysis"]
	require.True(t, ok)
	require.NotNil(t, validate.ValidationRole)
	assert.Equal(t, domain.RoleLawyer, *validate.ValidationRole)

	elevate := byCode["elevate_to_lawyer"]
	assert.Nil(t, elevate.ValidationRole)
	assert.Equal(t, []domain.Stage{domain.StageAgentInitial}, elevate.ApplicableStages)
	assert.True(t, elevate.IsActive)

	assert.False(t, byCode["reactivate_opportunity"].IsActive)
	assert.Empty(t, byCode["general_follow_up"].ApplicableStages)
	assert.Equal(t, "make_first_call", types[0].Code, "declaration order is kept")
}

func TestValidateRejectsBadCatalogs(t *testing.T) {
	cases := map[string]string{
		"duplicate": `action_types:
  - {code: a, name: A, required_role: agent}
  - {code: a, name: A2, required_role: agent}
`,
		"bad role": `action_types:
  - {code: a, name: A, required_role: clerk}
`,
		"bad stage": `action_types:
  - {code: a, name: A, required_role: agent, stages: [nowhere]}
`,
		"negative due": `action_types:
  - {code: a, name: A, required_role: agent, default_due_days: -1}
`,
		"bad validation role": `action_types:
  - {code: a, name: A, required_role: agent, validation_role: boss}
`,
		"empty": `action_types: []
`,
		"bad webhook url": `action_types:
  - {code: a, name: A, required_role: agent}
webhooks:
  - {url: not-a-url}
`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestLoadOptionalAndExport(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	data, err := Default().Export()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), data, 0o644))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, len(Default().ActionTypes), len(loaded.ActionTypes))
}

func TestWebhooksParse(t *testing.T) {
	cfg, err := FromYAML([]byte(`action_types:
  - {code: a, name: A, required_role: agent}
webhooks:
  - url: https://crm.example.com/hooks/pipeline
    events: [stage.advanced]
    timeout_seconds: 3
`))
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"stage.advanced"}, cfg.Webhooks[0].Events)
	assert.Equal(t, 3, cfg.Webhooks[0].TimeoutSeconds)
	assert.Nil(t, cfg.Webhooks[0].Enabled)
}
